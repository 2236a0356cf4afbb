package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"server"`
	Portfolio struct {
		Symbols     []string `yaml:"symbols"`
		RefreshCron string   `yaml:"refresh_cron"`
	} `yaml:"portfolio"`
	Providers struct {
		YahooBaseURL       string `yaml:"yahoo_base_url"`
		TefasEndpoint      string `yaml:"tefas_endpoint"`
		SwissquoteBaseURL  string `yaml:"swissquote_base_url"`
		TimeoutSeconds     int    `yaml:"timeout_seconds"`
		FundConcurrency    int    `yaml:"fund_concurrency"`
		GeneralConcurrency int    `yaml:"general_concurrency"`
	} `yaml:"providers"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("PORTFOLIO_SYMBOLS"); v != "" {
		cfg.Portfolio.Symbols = splitSymbols(v)
	}
	if v := os.Getenv("REFRESH_CRON"); v != "" {
		cfg.Portfolio.RefreshCron = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("PROVIDER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Providers.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("FUND_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Providers.FundConcurrency = n
		}
	}
	if v := os.Getenv("GENERAL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Providers.GeneralConcurrency = n
		}
	}

	// Defaults
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Portfolio.RefreshCron == "" {
		cfg.Portfolio.RefreshCron = "0 */5 7-16 * * 1-5"
	}
	if cfg.Providers.TimeoutSeconds == 0 {
		cfg.Providers.TimeoutSeconds = 15
	}
	if cfg.Providers.FundConcurrency == 0 {
		cfg.Providers.FundConcurrency = 1
	}
	if cfg.Providers.GeneralConcurrency == 0 {
		cfg.Providers.GeneralConcurrency = 4
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/portfoliowatch.db"
	}

	return cfg, nil
}

// ProviderTimeout returns the provider HTTP timeout as a duration.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.Providers.TimeoutSeconds) * time.Second
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Providers.TimeoutSeconds <= 0 {
		return fmt.Errorf("providers.timeout_seconds must be positive")
	}
	if c.Providers.FundConcurrency < 1 {
		return fmt.Errorf("providers.fund_concurrency must be at least 1")
	}
	if c.Providers.GeneralConcurrency < 1 {
		return fmt.Errorf("providers.general_concurrency must be at least 1")
	}
	for _, sym := range c.Portfolio.Symbols {
		if sym != strings.ToUpper(sym) {
			return fmt.Errorf("portfolio symbol %q must be upper case", sym)
		}
	}
	return nil
}

func splitSymbols(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
