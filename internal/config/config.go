package config

import "time"

// Config is the admin daemon's own configuration.
type Config struct {
	Admin   AdminConfig   `yaml:"admin"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Proxy   ProxyConfig   `yaml:"proxy"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// AdminConfig defines the admin API listener.
type AdminConfig struct {
	Listen       string        `yaml:"listen"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
	// ReloadHistory bounds the number of reload results kept for /api/reload/status.
	ReloadHistory int `yaml:"reload_history"`
}

// StoreConfig defines where the proxy configuration document lives.
type StoreConfig struct {
	Path                string        `yaml:"path"`
	Watch               bool          `yaml:"watch"`
	Debounce            time.Duration `yaml:"debounce"`
	StrictTotalCapacity bool          `yaml:"strict_total_capacity"`
	Create              CreateConfig  `yaml:"create"`
}

// CreateConfig holds the values written when the document does not exist yet.
type CreateConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Hostname       string `yaml:"hostname"`
	AdminSubdomain string `yaml:"admin_subdomain"`
	HTTPS          bool   `yaml:"https"`
	DeveloperMode  bool   `yaml:"developer_mode"`
}

// RedisConfig defines the list state backend. When disabled an in-memory
// store is used.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Address     string        `yaml:"address"`
	Password    string        `yaml:"password"`
	WhitelistDB int           `yaml:"whitelist_db"`
	BlacklistDB int           `yaml:"blacklist_db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ProxyConfig points at the proxy runtime.
type ProxyConfig struct {
	// ReloadURL, when set, receives a POST after every successful reload.
	ReloadURL string        `yaml:"reload_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoggingConfig defines logging output.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// MetricsConfig defines the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Listen:        ":8081",
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  15 * time.Second,
			IdleTimeout:   60 * time.Second,
			ReloadHistory: 50,
		},
		Store: StoreConfig{
			Path:     ".config/proxy.config.json",
			Watch:    true,
			Debounce: 500 * time.Millisecond,
			Create: CreateConfig{
				Enabled:        true,
				Hostname:       "localhost",
				AdminSubdomain: "admin",
			},
		},
		Redis: RedisConfig{
			Address:     "localhost:6379",
			WhitelistDB: 4,
			BlacklistDB: 5,
			DialTimeout: 5 * time.Second,
		},
		Proxy: ProxyConfig{
			Timeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}
