package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)

	assert.Equal(t, "/bin/bash", cfg.Shell.Interpreter)
	assert.Equal(t, 30*time.Second, cfg.Shell.CommandTimeout)

	assert.Equal(t, "xdotool", cfg.Actuator.Tool)
	assert.Equal(t, 1280, cfg.Actuator.ScreenWidth)
	assert.Equal(t, 720, cfg.Actuator.ScreenHeight)

	assert.Equal(t, 32, cfg.Vision.GridSize)
	assert.Equal(t, 12, cfg.Vision.Threshold)
	assert.Equal(t, 8, cfg.Vision.MaxRegions)

	assert.Equal(t, 25, cfg.Loop.MaxSteps)
	assert.Equal(t, 3, cfg.Loop.BreakerThreshold)
	assert.Equal(t, 6, cfg.Loop.RecentActions)
	assert.Equal(t, 1500*time.Millisecond, cfg.Loop.ClickCooldown)
	assert.Equal(t, 2500*time.Millisecond, cfg.Loop.TypeCooldown)
	assert.Equal(t, 1000*time.Millisecond, cfg.Loop.WaitCooldown)

	assert.NoError(t, cfg.Validate())
}

func TestNewConfigFromViperAppliesOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("loop.max_steps", 7)
	v.Set("planner.base_url", "http://planner.internal:9000")

	cfg, err := NewConfigFromViper(v)

	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Loop.MaxSteps)
	assert.Equal(t, "http://planner.internal:9000", cfg.Planner.BaseURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing planner url", func(c *Config) { c.Planner.BaseURL = "" }},
		{"non-positive planner timeout", func(c *Config) { c.Planner.Timeout = 0 }},
		{"missing interpreter", func(c *Config) { c.Shell.Interpreter = "" }},
		{"non-positive command timeout", func(c *Config) { c.Shell.CommandTimeout = -time.Second }},
		{"zero screen width", func(c *Config) { c.Actuator.ScreenWidth = 0 }},
		{"zero grid size", func(c *Config) { c.Vision.GridSize = 0 }},
		{"threshold above byte range", func(c *Config) { c.Vision.Threshold = 300 }},
		{"zero max regions", func(c *Config) { c.Vision.MaxRegions = 0 }},
		{"zero max steps", func(c *Config) { c.Loop.MaxSteps = 0 }},
		{"zero breaker threshold", func(c *Config) { c.Loop.BreakerThreshold = 0 }},
		{"zero recent actions", func(c *Config) { c.Loop.RecentActions = 0 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
