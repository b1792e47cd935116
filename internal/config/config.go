// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger        LoggerConfig        `mapstructure:"logger" yaml:"logger"`
	Database      DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Compositor    CompositorConfig    `mapstructure:"compositor" yaml:"compositor"`
	Constellation ConstellationConfig `mapstructure:"constellation" yaml:"constellation"`
	Script        ScriptConfig        `mapstructure:"script" yaml:"script"`
	Loader        LoaderConfig        `mapstructure:"loader" yaml:"loader"`
	Simulate      SimulateConfig      `mapstructure:"simulate" yaml:"simulate"`
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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the journal database connection details.
// An empty URL disables the propagation journal.
type DatabaseConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	JournalBuffer int    `mapstructure:"journal_buffer" yaml:"journal_buffer"`
}

// CompositorConfig configures the top-level compositing component.
// Every inbox_size in this file is the initial capacity of a component's
// mailbox. Mailboxes grow as needed and never make a sender wait; zero
// starts them empty.
type CompositorConfig struct {
	InboxSize    int     `mapstructure:"inbox_size" yaml:"inbox_size"`
	WindowWidth  uint32  `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight uint32  `mapstructure:"window_height" yaml:"window_height"`
	HiDPIFactor  float32 `mapstructure:"hidpi_factor" yaml:"hidpi_factor"`
	MinPageZoom  float32 `mapstructure:"min_page_zoom" yaml:"min_page_zoom"`
	MaxPageZoom  float32 `mapstructure:"max_page_zoom" yaml:"max_page_zoom"`
	MinPinchZoom float32 `mapstructure:"min_pinch_zoom" yaml:"min_pinch_zoom"`
}

// ConstellationConfig tunes the coordinator.
type ConstellationConfig struct {
	InboxSize int `mapstructure:"inbox_size" yaml:"inbox_size"`
	// MaxSessionHistory is how many history steps away from the active entry a
	// pipeline is kept alive. Zero keeps every pipeline until the tab closes.
	MaxSessionHistory int `mapstructure:"max_session_history" yaml:"max_session_history"`
	// WarningsBuffer is how many handled warnings are kept; zero keeps none.
	WarningsBuffer int `mapstructure:"warnings_buffer" yaml:"warnings_buffer"`
}

// ScriptConfig tunes execution units.
type ScriptConfig struct {
	InboxSize int `mapstructure:"inbox_size" yaml:"inbox_size"`
	// MaxBatch bounds how many queued messages a unit handles before it updates the rendering.
	MaxBatch int `mapstructure:"max_batch" yaml:"max_batch"`
}

// LoaderConfig configures the simulated load collaborator.
type LoaderConfig struct {
	Delay time.Duration `mapstructure:"delay" yaml:"delay"`
}

// SimulateConfig drives the `simulate` command.
type SimulateConfig struct {
	Scenario       string        `mapstructure:"scenario" yaml:"scenario"`
	StepsPerSecond float64       `mapstructure:"steps_per_second" yaml:"steps_per_second"`
	Burst          int           `mapstructure:"burst" yaml:"burst"`
	SettleTime     time.Duration `mapstructure:"settle_time" yaml:"settle_time"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// Load unmarshals the viper state into a Config and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the runtime cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Compositor.HiDPIFactor <= 0 {
		errs = append(errs, fmt.Errorf("compositor.hidpi_factor must be positive, got %v", c.Compositor.HiDPIFactor))
	}
	if c.Compositor.MinPageZoom <= 0 || c.Compositor.MaxPageZoom < c.Compositor.MinPageZoom {
		errs = append(errs, fmt.Errorf("compositor page zoom bounds are invalid: [%v, %v]", c.Compositor.MinPageZoom, c.Compositor.MaxPageZoom))
	}
	if c.Constellation.MaxSessionHistory < 0 {
		errs = append(errs, errors.New("constellation.max_session_history cannot be negative"))
	}
	if c.Constellation.InboxSize < 0 || c.Compositor.InboxSize < 0 || c.Script.InboxSize < 0 {
		errs = append(errs, errors.New("inbox sizes cannot be negative"))
	}
	if c.Constellation.WarningsBuffer < 0 {
		errs = append(errs, errors.New("constellation.warnings_buffer cannot be negative"))
	}
	if c.Script.MaxBatch < 1 {
		errs = append(errs, fmt.Errorf("script.max_batch must be at least 1, got %d", c.Script.MaxBatch))
	}
	if c.Simulate.StepsPerSecond < 0 {
		errs = append(errs, errors.New("simulate.steps_per_second cannot be negative"))
	}
	return errors.Join(errs...)
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "constellation")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Database --
	v.SetDefault("database.url", "")
	v.SetDefault("database.journal_buffer", 256)

	// -- Compositor --
	v.SetDefault("compositor.inbox_size", 64)
	v.SetDefault("compositor.window_width", 1024)
	v.SetDefault("compositor.window_height", 768)
	v.SetDefault("compositor.hidpi_factor", 1.0)
	v.SetDefault("compositor.min_page_zoom", 0.1)
	v.SetDefault("compositor.max_page_zoom", 8.0)
	v.SetDefault("compositor.min_pinch_zoom", 1.0)

	// -- Constellation --
	v.SetDefault("constellation.inbox_size", 256)
	v.SetDefault("constellation.max_session_history", 20)
	v.SetDefault("constellation.warnings_buffer", 32)

	// -- Script --
	v.SetDefault("script.inbox_size", 128)
	v.SetDefault("script.max_batch", 32)

	// -- Loader --
	v.SetDefault("loader.delay", "50ms")

	// -- Simulate --
	v.SetDefault("simulate.steps_per_second", 20.0)
	v.SetDefault("simulate.burst", 1)
	v.SetDefault("simulate.settle_time", "500ms")
}
