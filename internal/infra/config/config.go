package config

import (
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// MaxArtifactBytes is the hard global cap on any single download (8 GiB).
	MaxArtifactBytes int64 = 8 << 30

	// DefaultThreads is the chunked-download parallelism when DOWNLOAD_THREADS
	// is unset; MinThreads/MaxThreads are the clamp bounds.
	DefaultThreads = 8
	MinThreads     = 1
	MaxThreads     = 32
)

type Config struct {
	Port          string `mapstructure:"port"`
	DataDir       string `mapstructure:"data_dir"`
	PublicBaseURL string `mapstructure:"public_base_url"`

	// UNSAFE_DANGEROUSLY_DISABLE_HTTPS_REDIRECT, spelled out so nobody sets
	// it by accident.
	DisableHTTPSRedirect bool `mapstructure:"unsafe_dangerously_disable_https_redirect"`

	AutoCleanupDays  int `mapstructure:"auto_cleanup_days"`
	AutoCleanupMaxMB int `mapstructure:"auto_cleanup_max_mb"`
	MaxDownloadMB    int `mapstructure:"max_download_mb"`

	DownloadThreads int `mapstructure:"download_threads"`

	AccessPassword string `mapstructure:"access_password"`

	BuildCommit string `mapstructure:"build_commit"`
	BuildDate   string `mapstructure:"build_date"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from the environment. There is no config file:
// the entire recognized surface is environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Set Defaults
	v.SetDefault("port", "8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("download_threads", DefaultThreads)
	v.SetDefault("log_level", "info")

	// Bind each recognized variable explicitly; AutomaticEnv alone doesn't
	// register keys that have no default.
	for _, key := range []string{
		"port", "data_dir", "public_base_url",
		"unsafe_dangerously_disable_https_redirect",
		"auto_cleanup_days", "auto_cleanup_max_mb", "max_download_mb",
		"download_threads", "access_password", "build_commit", "build_date",
		"log_level",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	// Clamp thread count to [1,32]
	if c.DownloadThreads < MinThreads {
		c.DownloadThreads = MinThreads
	}
	if c.DownloadThreads > MaxThreads {
		c.DownloadThreads = MaxThreads
	}

	if c.AutoCleanupDays < 0 {
		c.AutoCleanupDays = 0
	}
	if c.AutoCleanupMaxMB < 0 {
		c.AutoCleanupMaxMB = 0
	}
	if c.MaxDownloadMB < 0 {
		c.MaxDownloadMB = 0
	}

	if c.PublicBaseURL != "" {
		if _, err := url.Parse(c.PublicBaseURL); err != nil {
			return fmt.Errorf("invalid PUBLIC_BASE_URL: %w", err)
		}
	}

	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return fmt.Errorf("cannot resolve DATA_DIR: %w", err)
	}
	c.DataDir = abs

	return nil
}

// PackagesDir is the root under which every task artifact lives.
func (c *Config) PackagesDir() string {
	return filepath.Join(c.DataDir, "packages")
}

// MaxDownloadBytes returns the operator cap in bytes, 0 when unlimited.
func (c *Config) MaxDownloadBytes() int64 {
	return int64(c.MaxDownloadMB) << 20
}
