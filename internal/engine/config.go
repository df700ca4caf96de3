package engine

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FileConfig is the optional TOML configuration for the CLI and server.
// Flags win over the file; the file wins over built-in defaults.
type FileConfig struct {
	Profile         string `toml:"profile"`
	Level           int    `toml:"level"`
	DeadCodeDensity int    `toml:"dead_code_density"`
	Serve           struct {
		Addr          string `toml:"addr"`
		CachePath     string `toml:"cache_path"`
		RatePerMinute int    `toml:"rate_per_minute"`
		RateBurst     int    `toml:"rate_burst"`
		MaxBatch      int    `toml:"max_batch"`
	} `toml:"serve"`
	Palette struct {
		Start  string `toml:"start"`
		Cont   string `toml:"cont"`
		MinLen int    `toml:"min_len"`
		MaxLen int    `toml:"max_len"`
	} `toml:"palette"`
}

// LoadConfig merges a TOML file into opts; only unset option fields are
// filled so explicit flags keep precedence.
func LoadConfig(path string, opts *Options) error {
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("config file not found: %s", path)
		}
		return fmt.Errorf("config: %w", err)
	}
	if opts.Profile == "" {
		opts.Profile = cfg.Profile
	}
	if opts.Level == 0 {
		opts.Level = cfg.Level
	}
	if opts.DeadCodeDensity == 0 {
		opts.DeadCodeDensity = cfg.DeadCodeDensity
	}
	if opts.ServeAddr == "" || opts.ServeAddr == ":8787" {
		if cfg.Serve.Addr != "" {
			opts.ServeAddr = cfg.Serve.Addr
		}
	}
	return nil
}

// LoadServerConfig reads the server-side knobs from the same file.
func LoadServerConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
