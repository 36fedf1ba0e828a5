package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Concurrency int          `mapstructure:"concurrency"`
	Verbose     bool         `mapstructure:"verbose"`
	Output      string       `mapstructure:"output"`
	Portal      PortalConfig `mapstructure:"portal"`
	Upload      UploadConfig `mapstructure:"upload"`
}

// PortalConfig holds settings for talking to the portal server
type PortalConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// UploadConfig holds upload-specific configuration
type UploadConfig struct {
	Policy         string        `mapstructure:"policy"`
	Checksum       bool          `mapstructure:"checksum"`
	FailFast       bool          `mapstructure:"fail_fast"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
	DirBatchSize   int           `mapstructure:"dir_batch_size"`
	Progress       bool          `mapstructure:"progress"`
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	config := &Config{}

	setDefaults()

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults() {
	// Global defaults
	viper.SetDefault("concurrency", 4)
	viper.SetDefault("verbose", false)
	viper.SetDefault("output", "text")

	// Portal defaults
	viper.SetDefault("portal.timeout", "30s")
	viper.SetDefault("portal.user_agent", "droppush/1.0")

	// Upload defaults
	viper.SetDefault("upload.policy", "")
	viper.SetDefault("upload.checksum", false)
	viper.SetDefault("upload.fail_fast", true)
	viper.SetDefault("upload.sample_interval", "600ms")
	viper.SetDefault("upload.dir_batch_size", 64)
	viper.SetDefault("upload.progress", true)
}

// Validate checks values that viper cannot constrain on its own
func (c *Config) Validate() error {
	switch strings.ToLower(c.Upload.Policy) {
	case "", "overwrite", "autorename":
	default:
		return fmt.Errorf("invalid upload policy %q: must be overwrite or autorename", c.Upload.Policy)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Upload.DirBatchSize < 1 {
		return fmt.Errorf("upload.dir_batch_size must be at least 1, got %d", c.Upload.DirBatchSize)
	}
	if c.Upload.SampleInterval <= 0 {
		return fmt.Errorf("upload.sample_interval must be positive, got %s", c.Upload.SampleInterval)
	}
	return nil
}
