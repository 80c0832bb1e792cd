package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	OutputDir string         `mapstructure:"output_dir" yaml:"output_dir"`
	Strict    bool           `mapstructure:"strict" yaml:"strict"`
	Download  DownloadConfig `mapstructure:"download" yaml:"download"`
	Metadata  MetadataConfig `mapstructure:"metadata" yaml:"metadata"`
	API       APIConfig      `mapstructure:"api" yaml:"api"`
	Log       LogConfig      `mapstructure:"log" yaml:"log"`
}

type DownloadConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries       int           `mapstructure:"retries" yaml:"retries"`
}

type MetadataConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type APIConfig struct {
	// Key is the e-Stat application ID. Populated from ESTAT_API_KEY and
	// handed to the metadata client explicitly; nothing else reads the
	// environment for it.
	Key     string  `mapstructure:"key" yaml:"key"`
	BaseURL string  `mapstructure:"base_url" yaml:"base_url"`
	Rate    float64 `mapstructure:"rate" yaml:"rate"`
}

type LogConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Level string `mapstructure:"level" yaml:"level"`
}

// Load reads the optional config file at path, then applies ESTATDL_*
// environment overrides. An empty path means "estatdl.yaml if it exists".
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("output_dir", "tmp_dl")
	v.SetDefault("strict", true)
	v.SetDefault("download.max_concurrent", 4)
	v.SetDefault("download.timeout", "10m")
	v.SetDefault("download.retries", 3)
	v.SetDefault("metadata.max_concurrent", 5)
	v.SetDefault("metadata.timeout", "30s")
	v.SetDefault("api.base_url", "https://api.e-stat.go.jp")
	v.SetDefault("api.rate", 10.0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.path", "")

	switch {
	case path != "":
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	default:
		if _, err := os.Stat("estatdl.yaml"); err == nil {
			v.SetConfigFile("estatdl.yaml")
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file estatdl.yaml: %w", err)
			}
		}
	}

	v.SetEnvPrefix("ESTATDL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The documented key variable predates this tool's env prefix.
	_ = v.BindEnv("api.key", "ESTAT_API_KEY", "ESTATDL_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.OutputDir == "" {
		c.OutputDir = "tmp_dl"
	}
	if c.Download.MaxConcurrent <= 0 {
		c.Download.MaxConcurrent = 4
	}
	if c.Download.Timeout <= 0 {
		c.Download.Timeout = 10 * time.Minute
	}
	if c.Download.Retries < 0 {
		c.Download.Retries = 3
	}
	if c.Metadata.MaxConcurrent <= 0 {
		c.Metadata.MaxConcurrent = 5
	}
	if c.Metadata.Timeout <= 0 {
		c.Metadata.Timeout = 30 * time.Second
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "https://api.e-stat.go.jp"
	}
	if c.API.Rate <= 0 {
		c.API.Rate = 10.0
	}
}
