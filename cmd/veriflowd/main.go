package main

import (
	"context"
	"log"

	"veriflow/internal/config"
	"veriflow/internal/daemonrun"
)

const version = "0.1.0"

func main() {
	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{Version: version}); err != nil {
		log.Fatalf("veriflowd: %v", err)
	}
}
