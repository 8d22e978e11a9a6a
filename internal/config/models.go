package config

import (
	"fmt"
	"time"
)

// ClassifierConfig selects the classifier used for every message
type ClassifierConfig struct {
	Type      string
	ModelPath string
}

// ContextConfig represents the configuration of the contextual refiner
type ContextConfig struct {
	Capacity           int
	BusinessHoursStart int
	BusinessHoursEnd   int
	Location           *time.Location
	FrequencyWindow    time.Duration
	FrequencyLimit     int
	RecentWindow       time.Duration
	RecentLimit        int
	Concurrency        int
	ImportantSenders   []string
}

// StorageConfig represents the configuration of the message store
type StorageConfig struct {
	Type             string
	Driver           string
	Path             string
	CleanupFrequency time.Duration
}

// AuditConfig represents the configuration of the audit log
type AuditConfig struct {
	Retention time.Duration
}

// BreakerConfig represents the reputation read circuit breaker
type BreakerConfig struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// ReputationConfig represents the configuration of the reputation store
type ReputationConfig struct {
	Breaker BreakerConfig
}

// PreferencesConfig represents where user preferences come from
type PreferencesConfig struct {
	File             string
	Watch            bool
	FilteringMode    string
	SpamTolerance    string
	ImportantTypes   []string
	FeedbackLearning bool
}

// BatchConfig represents batch classification settings
type BatchConfig struct {
	Concurrency int
}

// GetClassifier returns the classifier configuration
func (c *Config) GetClassifier() ClassifierConfig {
	return ClassifierConfig{
		Type:      c.GetString("classifier.type"),
		ModelPath: c.GetString("classifier.model_path"),
	}
}

// GetContext returns the contextual refiner configuration
func (c *Config) GetContext() (ContextConfig, error) {
	loc, err := time.LoadLocation(c.GetString("context.timezone"))
	if err != nil {
		return ContextConfig{}, fmt.Errorf("invalid context.timezone: %w", err)
	}
	freqWindow, err := c.GetDuration("context.frequency_window")
	if err != nil {
		return ContextConfig{}, err
	}
	recentWindow, err := c.GetDuration("context.recent_window")
	if err != nil {
		return ContextConfig{}, err
	}

	return ContextConfig{
		Capacity:           c.GetInt("context.capacity"),
		BusinessHoursStart: c.GetInt("context.business_hours_start"),
		BusinessHoursEnd:   c.GetInt("context.business_hours_end"),
		Location:           loc,
		FrequencyWindow:    freqWindow,
		FrequencyLimit:     c.GetInt("context.frequency_limit"),
		RecentWindow:       recentWindow,
		RecentLimit:        c.GetInt("context.recent_limit"),
		Concurrency:        c.GetInt("context.concurrency"),
		ImportantSenders:   c.GetStringSlice("context.important_senders"),
	}, nil
}

// GetStorage returns the storage configuration
func (c *Config) GetStorage() (StorageConfig, error) {
	cleanup, err := c.GetDuration("storage.cleanup_frequency")
	if err != nil {
		return StorageConfig{}, err
	}
	return StorageConfig{
		Type:             c.GetString("storage.type"),
		Driver:           c.GetString("storage.driver"),
		Path:             c.GetString("storage.path"),
		CleanupFrequency: cleanup,
	}, nil
}

// GetAudit returns the audit log configuration
func (c *Config) GetAudit() (AuditConfig, error) {
	retention, err := c.GetDuration("audit.retention")
	if err != nil {
		return AuditConfig{}, err
	}
	return AuditConfig{Retention: retention}, nil
}

// GetReputation returns the reputation store configuration
func (c *Config) GetReputation() (ReputationConfig, error) {
	interval, err := c.GetDuration("reputation.breaker.interval")
	if err != nil {
		return ReputationConfig{}, err
	}
	timeout, err := c.GetDuration("reputation.breaker.timeout")
	if err != nil {
		return ReputationConfig{}, err
	}
	return ReputationConfig{
		Breaker: BreakerConfig{
			MaxRequests:         uint32(c.GetInt("reputation.breaker.max_requests")),
			Interval:            interval,
			Timeout:             timeout,
			ConsecutiveFailures: uint32(c.GetInt("reputation.breaker.consecutive_failures")),
		},
	}, nil
}

// GetPreferences returns the preferences configuration
func (c *Config) GetPreferences() PreferencesConfig {
	return PreferencesConfig{
		File:             c.GetString("preferences.file"),
		Watch:            c.GetBool("preferences.watch"),
		FilteringMode:    c.GetString("preferences.filtering_mode"),
		SpamTolerance:    c.GetString("preferences.spam_tolerance"),
		ImportantTypes:   c.GetStringSlice("preferences.important_types"),
		FeedbackLearning: c.GetBool("preferences.feedback_learning"),
	}
}

// GetBatch returns the batch configuration
func (c *Config) GetBatch() BatchConfig {
	return BatchConfig{
		Concurrency: c.GetInt("batch.concurrency"),
	}
}
