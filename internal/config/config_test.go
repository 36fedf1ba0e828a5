package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, "text", cfg.Output)
	assert.Equal(t, 30*time.Second, cfg.Portal.Timeout)
	assert.Equal(t, "", cfg.Upload.Policy)
	assert.True(t, cfg.Upload.FailFast)
	assert.False(t, cfg.Upload.Checksum)
	assert.True(t, cfg.Upload.Progress)
	assert.Equal(t, 600*time.Millisecond, cfg.Upload.SampleInterval)
	assert.Equal(t, 64, cfg.Upload.DirBatchSize)
}

func TestLoadConfig_Overrides(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("upload.policy", "autorename")
	viper.Set("upload.fail_fast", false)
	viper.Set("portal.timeout", "5s")
	viper.Set("concurrency", 8)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "autorename", cfg.Upload.Policy)
	assert.False(t, cfg.Upload.FailFast)
	assert.Equal(t, 5*time.Second, cfg.Portal.Timeout)
	assert.Equal(t, 8, cfg.Concurrency)
}

func TestValidate(t *testing.T) {
	valid := Config{
		Concurrency: 1,
		Upload:      UploadConfig{SampleInterval: time.Second, DirBatchSize: 1},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown policy", func(c *Config) { c.Upload.Policy = "skip" }},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }},
		{"zero batch", func(c *Config) { c.Upload.DirBatchSize = 0 }},
		{"zero interval", func(c *Config) { c.Upload.SampleInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
