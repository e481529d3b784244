package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Admin.Listen == "" {
		return fmt.Errorf("admin.listen is required")
	}
	if cfg.Admin.ReloadHistory < 0 {
		return fmt.Errorf("admin.reload_history must be >= 0")
	}

	if cfg.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if cfg.Store.Debounce < 0 {
		return fmt.Errorf("store.debounce must be >= 0")
	}
	if cfg.Store.Create.Enabled {
		if cfg.Store.Create.Hostname == "" {
			return fmt.Errorf("store.create.hostname is required when create is enabled")
		}
		if cfg.Store.Create.AdminSubdomain == "" {
			return fmt.Errorf("store.create.admin_subdomain is required when create is enabled")
		}
	}

	if cfg.Redis.Enabled {
		if cfg.Redis.Address == "" {
			return fmt.Errorf("redis.address is required when redis is enabled")
		}
		for name, db := range map[string]int{"whitelist_db": cfg.Redis.WhitelistDB, "blacklist_db": cfg.Redis.BlacklistDB} {
			if db < 0 || db > 15 {
				return fmt.Errorf("redis.%s must be between 0 and 15", name)
			}
		}
		if cfg.Redis.WhitelistDB == cfg.Redis.BlacklistDB {
			return fmt.Errorf("redis.whitelist_db and redis.blacklist_db must differ")
		}
	}

	if cfg.Proxy.ReloadURL != "" {
		u, err := url.Parse(cfg.Proxy.ReloadURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("proxy.reload_url must be an absolute URL: %q", cfg.Proxy.ReloadURL)
		}
	}

	if cfg.Logging.Level != "" && !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", cfg.Logging.Level)
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}
