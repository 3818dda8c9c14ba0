package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultDisconnectionDelay     = 5 * time.Second
	DefaultHeartbeatInterval      = 10 * time.Second
	DefaultConnectBackoff         = 100 * time.Millisecond
	DefaultRecoveryInterval       = 5 * time.Second
	DefaultConnectionName         = "stream-supervisor"
	DefaultRetryThreshold         = 3
	DefaultRetryDelay             = 10 * time.Second
	DefaultGlobalFailureThreshold = 10
	DefaultRemovalTimeout         = 5 * time.Second
	DefaultCheckInterval          = 10 * time.Second
	DefaultBrokerPort             = 5672
	DefaultVHost                  = "/"
	DefaultPrefetch               = 50
	DefaultServerPort             = 9090
	DefaultMetricsPath            = "/metrics"
	DefaultStatusPath             = "/ws/status"
	DefaultJournalTable           = "supervisor_events"
	DefaultJournalBatchSize       = 100
	DefaultJournalBufferSize      = 1024
	DefaultJournalFlushInterval   = 2 * time.Second
	DefaultDBPort                 = 5432
	DefaultDBMaxConns             = 4
)

func (c *Config) applyDefaults() {
	// Broker defaults
	if c.Broker.DisconnectionDelay == 0 {
		c.Broker.DisconnectionDelay = DefaultDisconnectionDelay
	}
	if c.Broker.HeartbeatInterval == 0 {
		c.Broker.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Broker.ConnectBackoff == 0 {
		c.Broker.ConnectBackoff = DefaultConnectBackoff
	}
	if c.Broker.RecoveryInterval == 0 {
		c.Broker.RecoveryInterval = DefaultRecoveryInterval
	}
	if c.Broker.ConnectionName == "" {
		c.Broker.ConnectionName = DefaultConnectionName
	}

	// Admission defaults
	if c.Admission.RetryThreshold == 0 {
		c.Admission.RetryThreshold = DefaultRetryThreshold
	}
	if c.Admission.RetryDelay == 0 {
		c.Admission.RetryDelay = DefaultRetryDelay
	}
	if c.Admission.GlobalFailureThreshold == 0 {
		c.Admission.GlobalFailureThreshold = DefaultGlobalFailureThreshold
	}
	if c.Admission.RemovalTimeout == 0 {
		c.Admission.RemovalTimeout = DefaultRemovalTimeout
	}

	if c.Health.CheckInterval == 0 {
		c.Health.CheckInterval = DefaultCheckInterval
	}

	for i := range c.Consumers {
		applyConsumerDefaults(&c.Consumers[i])
	}

	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = DefaultMetricsPath
	}
	if c.Server.StatusPath == "" {
		c.Server.StatusPath = DefaultStatusPath
	}

	// Journal defaults
	if c.Journal.Table == "" {
		c.Journal.Table = DefaultJournalTable
	}
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultJournalBatchSize
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultJournalFlushInterval
	}
	if c.Journal.Database.Port == 0 {
		c.Journal.Database.Port = DefaultDBPort
	}
	if c.Journal.Database.MaxConns == 0 {
		c.Journal.Database.MaxConns = DefaultDBMaxConns
	}
}

func applyConsumerDefaults(cc *ConsumerConfig) {
	if cc.Port == 0 {
		cc.Port = DefaultBrokerPort
	}
	if cc.VHost == "" {
		cc.VHost = DefaultVHost
	}
	if cc.Prefetch == 0 {
		cc.Prefetch = DefaultPrefetch
	}
}
