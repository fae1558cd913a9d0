package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultIdentityMaxLength = 32
	DefaultUsageBucketSize   = "1h"
	DefaultMigrationSource   = "marzban"
)

type IdentityConfig struct {
	MaxLength int `koanf:"max_length" mapstructure:"max_length"`
}

type UsageConfig struct {
	BucketSize  string `koanf:"bucket_size" mapstructure:"bucket_size"`
	TrackMerges bool   `koanf:"track_merges" mapstructure:"track_merges"`
}

type SecretConfig struct {
	Value     string `koanf:"value" mapstructure:"value"`
	Version   string `koanf:"version" mapstructure:"version"`
	NotBefore string `koanf:"not_before" mapstructure:"not_before"`
	NotAfter  string `koanf:"not_after" mapstructure:"not_after"`
}

type MigrationConfig struct {
	Source           string `koanf:"source" mapstructure:"source"`
	ExistingAccounts string `koanf:"existing_accounts" mapstructure:"existing_accounts"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	Identity    IdentityConfig  `koanf:"identity" mapstructure:"identity"`
	Usage       UsageConfig     `koanf:"usage" mapstructure:"usage"`
	Secrets     []SecretConfig  `koanf:"secrets" mapstructure:"secrets"`
	Migration   MigrationConfig `koanf:"migration" mapstructure:"migration"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "subsync",
		Identity: IdentityConfig{
			MaxLength: DefaultIdentityMaxLength,
		},
		Usage: UsageConfig{
			BucketSize: DefaultUsageBucketSize,
		},
		Migration: MigrationConfig{
			Source:           DefaultMigrationSource,
			ExistingAccounts: string(ExistingAccountRename),
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Identity.MaxLength <= 0 {
		return fmt.Errorf("core: identity.max_length must be positive")
	}
	if _, err := c.BucketDuration(); err != nil {
		return err
	}
	switch ExistingAccountPolicy(strings.TrimSpace(strings.ToLower(c.Migration.ExistingAccounts))) {
	case "", ExistingAccountSkip, ExistingAccountRename, ExistingAccountUpdate:
	default:
		return fmt.Errorf("core: invalid migration.existing_accounts %q", c.Migration.ExistingAccounts)
	}
	if _, err := c.SecretSet(); err != nil {
		return err
	}
	return nil
}

func (c Config) BucketDuration() (time.Duration, error) {
	raw := strings.TrimSpace(c.Usage.BucketSize)
	if raw == "" {
		raw = DefaultUsageBucketSize
	}
	size, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("core: invalid usage.bucket_size %q: %w", c.Usage.BucketSize, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("core: invalid usage.bucket_size %q: must be positive", c.Usage.BucketSize)
	}
	return size, nil
}

func (c Config) ExistingAccountPolicy() ExistingAccountPolicy {
	policy := ExistingAccountPolicy(strings.TrimSpace(strings.ToLower(c.Migration.ExistingAccounts)))
	if policy == "" {
		return ExistingAccountRename
	}
	return policy
}

func (c Config) MigrationSource() string {
	source := strings.TrimSpace(strings.ToLower(c.Migration.Source))
	if source == "" {
		return DefaultMigrationSource
	}
	return source
}

// SecretSet converts the configured secrets into a verification snapshot.
func (c Config) SecretSet() (SecretSet, error) {
	secrets := make([]Secret, 0, len(c.Secrets))
	for i, entry := range c.Secrets {
		if entry.Value == "" {
			return SecretSet{}, fmt.Errorf("core: secrets[%d].value is required", i)
		}
		notBefore, err := parseConfigTime(entry.NotBefore)
		if err != nil {
			return SecretSet{}, fmt.Errorf("core: invalid secrets[%d].not_before: %w", i, err)
		}
		notAfter, err := parseConfigTime(entry.NotAfter)
		if err != nil {
			return SecretSet{}, fmt.Errorf("core: invalid secrets[%d].not_after: %w", i, err)
		}
		if !notBefore.IsZero() && !notAfter.IsZero() && notAfter.Before(notBefore) {
			return SecretSet{}, fmt.Errorf("core: invalid secrets[%d]: not_after precedes not_before", i)
		}
		secrets = append(secrets, Secret{
			Value:   []byte(entry.Value),
			Version: strings.TrimSpace(entry.Version),
			Window: RotationWindow{
				NotBefore: notBefore,
				NotAfter:  notAfter,
			},
		})
	}
	return NewSecretSet(secrets...), nil
}

func parseConfigTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}
