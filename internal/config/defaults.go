package config

const (
	defaultBackend                    = "redis"
	defaultRedisURL                   = "redis://localhost:6379"
	defaultSQLitePath                 = "~/.local/share/pacer/queue.db"
	defaultConnectTimeoutSeconds      = 2
	defaultPublishTimeoutSeconds      = 2
	defaultPollIntervalMillis         = 1000
	defaultMemoryStrategy             = "block"
	defaultGossipListenAddr           = "/ip4/0.0.0.0/tcp/0"
	defaultGossipRendezvous           = "pacer"
	defaultRawChannel                 = "threat-raw"
	defaultAnalyzedChannel            = "threat-analyzed"
	defaultAnalyzerTimeoutSeconds     = 30
	defaultOrchestratorTimeoutSeconds = 15
	defaultLoopIntervalSeconds        = 2
	defaultJoinTimeoutSeconds         = 5
	defaultLockFile                   = "~/.local/state/pacer/pacer.lock"
	defaultMonitorSource              = "test"
	defaultDemoIntervalSeconds        = 45
	defaultDemoSettleSeconds          = 60
	defaultAPIRateLimit               = 5.0
	defaultAPIBurst                   = 10
	defaultMetricsNamespace           = "pacer"
	defaultLogFormat                  = "auto"
	defaultLogLevel                   = "info"
)

var defaultDemoSources = []string{"horizon3", "bright_data", "test"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Transport: Transport{
			Backend:               defaultBackend,
			URL:                   defaultRedisURL,
			SQLitePath:            defaultSQLitePath,
			ConnectTimeoutSeconds: defaultConnectTimeoutSeconds,
			PublishTimeoutSeconds: defaultPublishTimeoutSeconds,
			PollIntervalMillis:    defaultPollIntervalMillis,
			MemoryStrategy:        defaultMemoryStrategy,
		},
		Gossip: Gossip{
			ListenAddrs: []string{defaultGossipListenAddr},
			Rendezvous:  defaultGossipRendezvous,
			EnableMDNS:  true,
		},
		Channels: Channels{
			Raw:      defaultRawChannel,
			Analyzed: defaultAnalyzedChannel,
		},
		Stages: Stages{
			AnalyzerTimeoutSeconds:     defaultAnalyzerTimeoutSeconds,
			OrchestratorTimeoutSeconds: defaultOrchestratorTimeoutSeconds,
		},
		Coordinator: Coordinator{
			LoopIntervalSeconds: defaultLoopIntervalSeconds,
			JoinTimeoutSeconds:  defaultJoinTimeoutSeconds,
			LockFile:            defaultLockFile,
			MonitorSource:       defaultMonitorSource,
		},
		Demo: Demo{
			Sources:         append([]string(nil), defaultDemoSources...),
			IntervalSeconds: defaultDemoIntervalSeconds,
			SettleSeconds:   defaultDemoSettleSeconds,
		},
		API: API{
			RateLimit: defaultAPIRateLimit,
			Burst:     defaultAPIBurst,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: defaultMetricsNamespace,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
