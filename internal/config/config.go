package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Data     DataConfig     `mapstructure:"data"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Backtest BacktestConfig `mapstructure:"backtest"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DataConfig locates the market data files
type DataConfig struct {
	Dir string `mapstructure:"dir"` // directory of <TICKER>.csv files
}

// JobsConfig bounds the optimization orchestrator
type JobsConfig struct {
	Workers       int `mapstructure:"workers"`
	MaxBranches   int `mapstructure:"max_branches"`
	MaxActiveJobs int `mapstructure:"max_active_jobs"`
}

// BacktestConfig contains simulation defaults; requests may override
// all of these per run
type BacktestConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	CostBps        float64 `mapstructure:"cost_bps"`
	Timing         string  `mapstructure:"timing"`
	Benchmark      string  `mapstructure:"benchmark"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("QUANTNEXUS")

	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "QuantNexus")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// Data defaults
	v.SetDefault("data.dir", "./data")

	// Jobs defaults
	v.SetDefault("jobs.workers", 4)
	v.SetDefault("jobs.max_branches", 5000)
	v.SetDefault("jobs.max_active_jobs", 2)

	// Backtest defaults
	v.SetDefault("backtest.initial_capital", 10000.0)
	v.SetDefault("backtest.cost_bps", 0.0)
	v.SetDefault("backtest.timing", "closeToClose")
	v.SetDefault("backtest.benchmark", "")
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data directory is required")
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be at least 1, got %d", c.Jobs.Workers)
	}
	if c.Jobs.MaxBranches < 1 {
		return fmt.Errorf("jobs.max_branches must be at least 1, got %d", c.Jobs.MaxBranches)
	}
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be positive, got %f", c.Backtest.InitialCapital)
	}
	if c.Backtest.CostBps < 0 {
		return fmt.Errorf("backtest.cost_bps must not be negative, got %f", c.Backtest.CostBps)
	}
	switch c.Backtest.Timing {
	case "closeToClose", "openToOpen", "closeToOpen", "openToClose":
	default:
		return fmt.Errorf("invalid backtest.timing: %q", c.Backtest.Timing)
	}
	return nil
}
