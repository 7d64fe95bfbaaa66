// Package daemon coordinates the long-running veriflow process.
//
// It wires configuration, the market store, the workflow manager, and the
// HTTP API into a single lifecycle with flock-based locking to prevent
// multiple instances. Keep orchestration logic here: lease, submission, and
// settlement semantics live in their respective packages while the daemon
// focuses on startup, shutdown, and high level coordination.
package daemon
