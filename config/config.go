// Package config loads offshore settings from an optional file and
// environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Cache backends understood by the registry.
const (
	CacheBackendFile   = "file"
	CacheBackendMemory = "memory"
)

// Config is the full set of settings.
type Config struct {
	Cache CacheConfig `mapstructure:"cache"`
	Log   LogConfig   `mapstructure:"log"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"`
	Dir        string        `mapstructure:"dir"`
	Prefix     string        `mapstructure:"prefix"`
	DefaultTTL time.Duration `mapstructure:"ttl"`
	MemorySize int           `mapstructure:"memory_size"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			Backend:    CacheBackendFile,
			Dir:        os.TempDir(),
			Prefix:     "CACHE_",
			DefaultTTL: time.Hour,
			MemorySize: 1024,
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Load reads the settings. file is optional; when set it must exist and may
// be in any format viper reads. Environment variables named
// <PREFIX>_<SECTION>_<KEY> (e.g. OFFSHORE_CACHE_TTL=10m) take precedence.
func Load(prefix, file string) (Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("cache.backend", def.Cache.Backend)
	v.SetDefault("cache.dir", def.Cache.Dir)
	v.SetDefault("cache.prefix", def.Cache.Prefix)
	v.SetDefault("cache.ttl", def.Cache.DefaultTTL)
	v.SetDefault("cache.memory_size", def.Cache.MemorySize)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.add_source", def.Log.AddSource)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "reading config file %s", file)
		}
	}

	if prefix != "" {
		v.SetEnvPrefix(strings.TrimSuffix(prefix, "_"))
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal config")
	}
	switch cfg.Cache.Backend {
	case CacheBackendFile, CacheBackendMemory:
	default:
		return Config{}, errors.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
	return cfg, nil
}
