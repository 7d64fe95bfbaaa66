package config

const (
	defaultDataDir             = "~/.local/share/veriflow"
	defaultLogDir              = "~/.local/share/veriflow/logs"
	defaultAPIBind             = "127.0.0.1:7512"
	defaultTargetWords         = 350
	defaultMinWords            = 300
	defaultMaxWords            = 400
	defaultOverlapWords        = 20
	defaultLeaseMinutes        = 15
	defaultMaxActiveClaims     = 3
	defaultSimilarityMax       = 10.0
	defaultAIMax               = 0.0
	defaultRatePence           = 18
	defaultGBPToStableRate     = "1.27"
	defaultStableDecimals      = 6
	defaultEscrowBufferPercent = 10
	defaultChainRequestTimeout = 30
	defaultChainConfirmTimeout = 180
	defaultConfirmInterval     = 3
	defaultCallbackTimeout     = 10
	defaultSweepInterval       = 60
	defaultSettleInterval      = 300
	defaultErrorRetryInterval  = 30
	defaultPayoutBatchSize     = 25
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Market: Market{
			TargetWords:          defaultTargetWords,
			MinWords:             defaultMinWords,
			MaxWords:             defaultMaxWords,
			OverlapWords:         defaultOverlapWords,
			LeaseMinutes:         defaultLeaseMinutes,
			MaxActiveClaims:      defaultMaxActiveClaims,
			SimilarityMaxPercent: defaultSimilarityMax,
			AIMaxPercent:         defaultAIMax,
		},
		Payout: Payout{
			RatePence:           defaultRatePence,
			GBPToStableRate:     defaultGBPToStableRate,
			StableDecimals:      defaultStableDecimals,
			EscrowBufferPercent: defaultEscrowBufferPercent,
		},
		Chain: Chain{
			Enabled:         false,
			RequestTimeout:  defaultChainRequestTimeout,
			ConfirmTimeout:  defaultChainConfirmTimeout,
			ConfirmInterval: defaultConfirmInterval,
		},
		Callbacks: Callbacks{
			RequestTimeout: defaultCallbackTimeout,
			ChunkDone:      true,
			ChunkNeedsEdit: true,
			LotCompleted:   true,
			Errors:         true,
		},
		Workflow: Workflow{
			SweepInterval:      defaultSweepInterval,
			SettleInterval:     defaultSettleInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			PayoutBatchSize:    defaultPayoutBatchSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
