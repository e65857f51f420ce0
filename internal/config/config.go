// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is immutable once
// constructed and passed explicitly into component constructors; there is no
// ambient global configuration state.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Planner  PlannerConfig  `mapstructure:"planner" yaml:"planner"`
	Shell    ShellConfig    `mapstructure:"shell" yaml:"shell"`
	Actuator ActuatorConfig `mapstructure:"actuator" yaml:"actuator"`
	Vision   VisionConfig   `mapstructure:"vision" yaml:"vision"`
	Loop     LoopConfig     `mapstructure:"loop" yaml:"loop"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for each log level in console format.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// PlannerConfig tunes the remote planner/analyzer HTTP client.
type PlannerConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"-"`
	// Timeout bounds a single HTTP round trip; MaxElapsed bounds the whole
	// retry sequence for one logical call.
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxElapsed  time.Duration `mapstructure:"max_elapsed" yaml:"max_elapsed"`
	MaxInterval time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	// RatePerSecond caps outbound planner calls; a recovery prompt and a plan
	// prompt draw from the same budget.
	RatePerSecond float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
}

// ShellConfig configures the persistent PTY-backed command session.
type ShellConfig struct {
	// Interpreter is started with no profile or rc files so the prompt is
	// clean and reproducible.
	Interpreter    string        `mapstructure:"interpreter" yaml:"interpreter"`
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	CwdTimeout     time.Duration `mapstructure:"cwd_timeout" yaml:"cwd_timeout"`
	// PollInterval is the readiness-poll granularity on the PTY descriptor.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// ActuatorConfig configures the synthetic input dispatcher.
type ActuatorConfig struct {
	Tool         string        `mapstructure:"tool" yaml:"tool"`
	ScreenWidth  int           `mapstructure:"screen_width" yaml:"screen_width"`
	ScreenHeight int           `mapstructure:"screen_height" yaml:"screen_height"`
	ClickTimeout time.Duration `mapstructure:"click_timeout" yaml:"click_timeout"`
	TypeTimeout  time.Duration `mapstructure:"type_timeout" yaml:"type_timeout"`
	KeyTimeout   time.Duration `mapstructure:"key_timeout" yaml:"key_timeout"`
	// CaptureCommand produces a PNG of the current screen on stdout. Empty
	// disables the built-in frame source.
	CaptureCommand string        `mapstructure:"capture_command" yaml:"capture_command"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
}

// VisionConfig tunes the grid-based change detector.
type VisionConfig struct {
	GridSize   int `mapstructure:"grid_size" yaml:"grid_size"`
	Threshold  int `mapstructure:"threshold" yaml:"threshold"`
	MaxRegions int `mapstructure:"max_regions" yaml:"max_regions"`
	// MinChangedFraction below which an unchanged screen may skip planning,
	// bounded by MaxIdleCycles so a static screen cannot stall the run.
	MinChangedFraction float64 `mapstructure:"min_changed_fraction" yaml:"min_changed_fraction"`
	MaxIdleCycles      int     `mapstructure:"max_idle_cycles" yaml:"max_idle_cycles"`
}

// LoopConfig governs the control loop's budgets and pacing.
type LoopConfig struct {
	MaxSteps         int `mapstructure:"max_steps" yaml:"max_steps"`
	BreakerThreshold int `mapstructure:"breaker_threshold" yaml:"breaker_threshold"`
	RecentActions    int `mapstructure:"recent_actions" yaml:"recent_actions"`
	// Settle-time cooldowns per action kind. Zero disables pacing (tests).
	ClickCooldown   time.Duration `mapstructure:"click_cooldown" yaml:"click_cooldown"`
	TypeCooldown    time.Duration `mapstructure:"type_cooldown" yaml:"type_cooldown"`
	WaitCooldown    time.Duration `mapstructure:"wait_cooldown" yaml:"wait_cooldown"`
	DefaultCooldown time.Duration `mapstructure:"default_cooldown" yaml:"default_cooldown"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "marionette")
	v.SetDefault("logger.log_file", "marionette.log")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Planner --
	v.SetDefault("planner.base_url", "http://127.0.0.1:8777")
	v.SetDefault("planner.timeout", "30s")
	v.SetDefault("planner.max_elapsed", "90s")
	v.SetDefault("planner.max_interval", "15s")
	v.SetDefault("planner.rate_per_second", 2.0)

	// -- Shell --
	v.SetDefault("shell.interpreter", "/bin/bash")
	v.SetDefault("shell.command_timeout", "30s")
	v.SetDefault("shell.cwd_timeout", "3s")
	v.SetDefault("shell.poll_interval", "50ms")

	// -- Actuator --
	v.SetDefault("actuator.tool", "xdotool")
	v.SetDefault("actuator.screen_width", 1280)
	v.SetDefault("actuator.screen_height", 720)
	v.SetDefault("actuator.click_timeout", "5s")
	v.SetDefault("actuator.type_timeout", "10s")
	v.SetDefault("actuator.key_timeout", "5s")
	v.SetDefault("actuator.capture_command", "import -window root -silent png:-")
	v.SetDefault("actuator.capture_timeout", "10s")

	// -- Vision --
	v.SetDefault("vision.grid_size", 32)
	v.SetDefault("vision.threshold", 12)
	v.SetDefault("vision.max_regions", 8)
	v.SetDefault("vision.min_changed_fraction", 0.002)
	v.SetDefault("vision.max_idle_cycles", 5)

	// -- Loop --
	v.SetDefault("loop.max_steps", 25)
	v.SetDefault("loop.breaker_threshold", 3)
	v.SetDefault("loop.recent_actions", 6)
	v.SetDefault("loop.click_cooldown", "1500ms")
	v.SetDefault("loop.type_cooldown", "2500ms")
	v.SetDefault("loop.wait_cooldown", "1000ms")
	v.SetDefault("loop.default_cooldown", "1500ms")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults must always unmarshal.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.BindEnv("planner.api_key", "MARIONETTE_PLANNER_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Planner.BaseURL == "" {
		return fmt.Errorf("planner.base_url is required")
	}
	if c.Planner.Timeout <= 0 {
		return fmt.Errorf("planner.timeout must be a positive duration")
	}
	if c.Shell.Interpreter == "" {
		return fmt.Errorf("shell.interpreter is required")
	}
	if c.Shell.CommandTimeout <= 0 {
		return fmt.Errorf("shell.command_timeout must be a positive duration")
	}
	if c.Actuator.ScreenWidth <= 0 || c.Actuator.ScreenHeight <= 0 {
		return fmt.Errorf("actuator screen dimensions must be positive, got %dx%d",
			c.Actuator.ScreenWidth, c.Actuator.ScreenHeight)
	}
	if c.Vision.GridSize <= 0 {
		return fmt.Errorf("vision.grid_size must be a positive integer")
	}
	if c.Vision.Threshold < 0 || c.Vision.Threshold > 255 {
		return fmt.Errorf("vision.threshold must be in [0, 255], got %d", c.Vision.Threshold)
	}
	if c.Vision.MaxRegions <= 0 {
		return fmt.Errorf("vision.max_regions must be a positive integer")
	}
	if c.Loop.MaxSteps <= 0 {
		return fmt.Errorf("loop.max_steps must be a positive integer")
	}
	if c.Loop.BreakerThreshold <= 0 {
		return fmt.Errorf("loop.breaker_threshold must be a positive integer")
	}
	if c.Loop.RecentActions <= 0 {
		return fmt.Errorf("loop.recent_actions must be a positive integer")
	}
	return nil
}
