package config

import "time"

// Config is the root configuration for a supervisor instance.
type Config struct {
	Instance  InstanceConfig   `yaml:"instance"`
	Broker    BrokerConfig     `yaml:"broker"`
	Admission AdmissionConfig  `yaml:"admission"`
	Health    HealthConfig     `yaml:"health"`
	Consumers []ConsumerConfig `yaml:"consumers"`
	Server    ServerConfig     `yaml:"server"`
	Journal   JournalConfig    `yaml:"journal"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// BrokerConfig holds connection lifecycle settings shared by every consumer.
type BrokerConfig struct {
	AutoReconnect      bool          `yaml:"auto_reconnect"`      // Broker-level recovery + Validating mode on shutdown notices
	DisconnectionDelay time.Duration `yaml:"disconnection_delay"` // Wait before probing a recovering connection
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	ConnectBackoff     time.Duration `yaml:"connect_backoff"`   // Fixed wait between establishment attempts
	RecoveryInterval   time.Duration `yaml:"recovery_interval"` // Redial interval for broker-level recovery
	ConnectionName     string        `yaml:"connection_name"`
}

// AdmissionConfig holds consumer admission failure budgets.
type AdmissionConfig struct {
	RetryThreshold         int           `yaml:"retry_threshold"`
	RetryDelay             time.Duration `yaml:"retry_delay"`
	GlobalFailureThreshold int           `yaml:"global_failure_threshold"`
	RemovalTimeout         time.Duration `yaml:"removal_timeout"`
}

// HealthConfig holds periodic health check settings.
type HealthConfig struct {
	CheckInterval time.Duration `yaml:"check_interval"`
}

// ConsumerConfig describes one queue consumer.
type ConsumerConfig struct {
	ID       string `yaml:"id"`
	Queue    string `yaml:"queue"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	Prefetch int    `yaml:"prefetch"`
}

// ServerConfig holds the HTTP health/metrics server settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
	StatusPath  string `yaml:"status_path"`
}

// JournalConfig controls the optional lifecycle event journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	Table         string        `yaml:"table"`
	BatchSize     int           `yaml:"batch_size"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DBConfig holds a PostgreSQL connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MinConns int    `yaml:"min_conns"`
	MaxConns int    `yaml:"max_conns"`
}
