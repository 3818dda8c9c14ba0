package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Broker.DisconnectionDelay < 0 {
		return errors.New("broker.disconnection_delay must be >= 0")
	}
	if c.Broker.ConnectBackoff <= 0 {
		return errors.New("broker.connect_backoff must be > 0")
	}

	if c.Admission.RetryThreshold < 0 {
		return errors.New("admission.retry_threshold must be >= 0")
	}
	if c.Admission.GlobalFailureThreshold < 1 {
		return errors.New("admission.global_failure_threshold must be >= 1")
	}
	if c.Admission.RemovalTimeout <= 0 {
		return errors.New("admission.removal_timeout must be > 0")
	}

	if c.Health.CheckInterval <= 0 {
		return errors.New("health.check_interval must be > 0")
	}

	seen := make(map[string]struct{}, len(c.Consumers))
	for i := range c.Consumers {
		prefix := fmt.Sprintf("consumers[%d]", i)
		if err := c.Consumers[i].validate(prefix); err != nil {
			return err
		}
		if _, dup := seen[c.Consumers[i].ID]; dup {
			return fmt.Errorf("%s.id %q is duplicated", prefix, c.Consumers[i].ID)
		}
		seen[c.Consumers[i].ID] = struct{}{}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Journal.Enabled {
		if err := c.Journal.validate(); err != nil {
			return err
		}
	}

	return nil
}

func (j *JournalConfig) validate() error {
	if j.Database.Host == "" {
		return errors.New("journal.database.host is required")
	}
	if j.Database.Name == "" {
		return errors.New("journal.database.name is required")
	}
	if j.Database.User == "" {
		return errors.New("journal.database.user is required")
	}
	if j.Database.MinConns < 0 || j.Database.MaxConns < j.Database.MinConns {
		return fmt.Errorf("journal.database: need 0 <= min_conns <= max_conns, got %d and %d",
			j.Database.MinConns, j.Database.MaxConns)
	}
	if j.BatchSize < 1 {
		return errors.New("journal.batch_size must be >= 1")
	}
	if j.FlushInterval <= 0 {
		return errors.New("journal.flush_interval must be > 0")
	}
	return nil
}

func (cc *ConsumerConfig) validate(prefix string) error {
	if cc.ID == "" {
		return fmt.Errorf("%s.id is required", prefix)
	}
	if cc.Queue == "" {
		return fmt.Errorf("%s.queue is required", prefix)
	}
	if cc.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if cc.Port < 1 || cc.Port > 65535 {
		return fmt.Errorf("%s.port must be between 1 and 65535, got %d", prefix, cc.Port)
	}
	if cc.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if cc.Prefetch < 0 {
		return fmt.Errorf("%s.prefetch must be >= 0", prefix)
	}
	return nil
}
