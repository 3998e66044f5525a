package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"time"

	"hashland/pkg/env"
	"hashland/pkg/logger"
	"hashland/pkg/paths"
)

// ProviderConfig describes one upstream stream-index endpoint.
type ProviderConfig struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Config string `json:"config"` // provider-specific filter string, inserted as the first path segment
}

// UserConfig is an account created at startup when it does not exist yet.
type UserConfig struct {
	Username      string
	Password      string
	Role          string
	DisplayName   string
	AuthorityRank int
}

// Default provider filter: quality/size ordering, low quality releases filtered upstream.
const DefaultProviderConfig = "sort=qualitysize|qualityfilter=480p,scr,cam"

// Config holds application configuration
type Config struct {
	Port           int      `json:"port"`
	LogLevel       string   `json:"log_level"`
	AllowedOrigins []string `json:"allowed_origins"`

	// Stream index providers, queried in this order
	Providers []ProviderConfig `json:"providers"`

	// Metadata catalog
	TMDBBaseURL string `json:"tmdb_base_url"`
	TMDBAPIKey  string `json:"-"`

	// Debrid unblocking; an empty key disables unblocking
	DebridBaseURL        string `json:"debrid_base_url"`
	DebridAPIKey         string `json:"-"`
	DebridPollIntervalMS int    `json:"debrid_poll_interval_ms"`
	DebridMaxAttempts    int    `json:"debrid_max_attempts"`

	// Shared playback relay
	RelayPingIntervalSeconds int `json:"relay_ping_interval_seconds"`

	ResolveTimeoutSeconds int `json:"resolve_timeout_seconds"`

	// Auth
	TokenTTLHours int    `json:"token_ttl_hours"`
	AdminUsername string `json:"admin_username"`
	AdminPassword string `json:"-"`

	// Seed accounts from USER_<n>_* (env only, they carry passwords)
	Users []UserConfig `json:"-"`

	// Internal - where was this config loaded from?
	LoadedPath string `json:"-"`
	DataDir    string `json:"-"`
}

// Defaults returns a configuration populated with built-in defaults.
func Defaults() *Config {
	return &Config{
		Port:           8080,
		LogLevel:       "INFO",
		AllowedOrigins: []string{"*"},
		Providers: []ProviderConfig{
			{Name: "torrentio", URL: "https://torrentio.strem.fun", Config: DefaultProviderConfig},
		},
		TMDBBaseURL:              "https://api.themoviedb.org/3",
		DebridBaseURL:            "https://api.real-debrid.com/rest/1.0",
		DebridPollIntervalMS:     2000,
		DebridMaxAttempts:        30,
		RelayPingIntervalSeconds: 30,
		ResolveTimeoutSeconds:    90,
		TokenTTLHours:            7 * 24,
		AdminUsername:            "admin",
		AdminPassword:            "admin",
	}
}

// Load is intended for startup only. It loads configuration from config.json,
// applies environment variable overrides once, then saves the merged config.
// Priority: Environment variables (if not empty) > config.json > defaults
func Load() (*Config, error) {
	dataDir := paths.GetDataDir()
	configPath := filepath.Join(dataDir, "config.json")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		logger.Warn("Failed to create data directory", "dir", dataDir, "err", err)
	}

	cfg := Defaults()
	cfg.LoadedPath = configPath
	cfg.DataDir = dataDir

	if err := cfg.LoadFile(configPath); err != nil {
		if os.IsNotExist(err) {
			logger.Info("No config found, creating new one", "path", configPath)
		} else {
			logger.Warn("Failed to load config, using defaults", "path", configPath, "err", err)
		}
	} else {
		logger.Info("Loaded configuration", "path", configPath)
	}

	overrides, keys := env.ReadConfigOverrides()
	ApplyEnvOverrides(cfg, overrides, keys)
	cfg.normalize()

	if err := cfg.Save(); err != nil {
		logger.Warn("Failed to save config on startup", "err", err)
	} else {
		logger.Info("Saved merged configuration", "path", configPath)
	}

	if cfg.DebridAPIKey == "" {
		logger.Info("DEBRID_API_KEY not set, debrid unblocking disabled")
	}
	if cfg.TMDBAPIKey == "" {
		logger.Warn("TMDB_API_KEY not set, catalog ids cannot be translated")
	}
	if len(cfg.Providers) == 0 {
		logger.Warn("No stream providers configured")
	}

	return cfg, nil
}

// normalize replaces nonsensical values with defaults.
func (c *Config) normalize() {
	d := Defaults()
	if c.Port <= 0 {
		c.Port = d.Port
	}
	if c.DebridPollIntervalMS <= 0 {
		c.DebridPollIntervalMS = d.DebridPollIntervalMS
	}
	if c.DebridMaxAttempts <= 0 {
		c.DebridMaxAttempts = d.DebridMaxAttempts
	}
	if c.RelayPingIntervalSeconds <= 0 {
		c.RelayPingIntervalSeconds = d.RelayPingIntervalSeconds
	}
	if c.ResolveTimeoutSeconds <= 0 {
		c.ResolveTimeoutSeconds = d.ResolveTimeoutSeconds
	}
	if c.TokenTTLHours <= 0 {
		c.TokenTTLHours = d.TokenTTLHours
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = d.AllowedOrigins
	}
}

// LoadFile overrides config with values from a JSON file
func (c *Config) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewDecoder(file).Decode(c)
}

// Save saves the current configuration to the file it was loaded from
func (c *Config) Save() error {
	path := c.LoadedPath
	if path == "" {
		path = "config.json"
	}
	return c.SaveFile(path)
}

// SaveFile saves the current configuration to a JSON file
func (c *Config) SaveFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(c)
}

func (c *Config) DebridPollInterval() time.Duration {
	return time.Duration(c.DebridPollIntervalMS) * time.Millisecond
}

func (c *Config) RelayPingInterval() time.Duration {
	return time.Duration(c.RelayPingIntervalSeconds) * time.Second
}

func (c *Config) ResolveTimeout() time.Duration {
	return time.Duration(c.ResolveTimeoutSeconds) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// ApplyEnvOverrides applies environment-derived overrides to cfg (used at startup only).
// Only fields present in keys are applied, so env vars override file values per setting.
func ApplyEnvOverrides(cfg *Config, o env.ConfigOverrides, keys []string) {
	if slices.Contains(keys, env.KeyPort) {
		cfg.Port = o.Port
	}
	if slices.Contains(keys, env.KeyLogLevel) {
		cfg.LogLevel = o.LogLevel
	}
	if slices.Contains(keys, env.KeyAllowedOrigins) {
		cfg.AllowedOrigins = o.AllowedOrigins
	}
	if slices.Contains(keys, env.KeyTMDBBaseURL) {
		cfg.TMDBBaseURL = o.TMDBBaseURL
	}
	if slices.Contains(keys, env.KeyDebridBaseURL) {
		cfg.DebridBaseURL = o.DebridBaseURL
	}
	if slices.Contains(keys, env.KeyDebridPollIntervalMS) {
		cfg.DebridPollIntervalMS = o.DebridPollIntervalMS
	}
	if slices.Contains(keys, env.KeyDebridMaxAttempts) {
		cfg.DebridMaxAttempts = o.DebridMaxAttempts
	}
	if slices.Contains(keys, env.KeyRelayPingInterval) {
		cfg.RelayPingIntervalSeconds = o.RelayPingInterval
	}
	if slices.Contains(keys, env.KeyResolveTimeout) {
		cfg.ResolveTimeoutSeconds = o.ResolveTimeout
	}
	if slices.Contains(keys, env.KeyTokenTTLHours) {
		cfg.TokenTTLHours = o.TokenTTLHours
	}
	if slices.Contains(keys, env.KeyAdminUsername) {
		cfg.AdminUsername = o.AdminUsername
	}
	if o.TMDBAPIKey != "" {
		cfg.TMDBAPIKey = o.TMDBAPIKey
	}
	if o.DebridAPIKey != "" {
		cfg.DebridAPIKey = o.DebridAPIKey
	}
	if o.AdminPassword != "" {
		cfg.AdminPassword = o.AdminPassword
	}
	for _, u := range o.Users {
		cfg.Users = append(cfg.Users, UserConfig{
			Username:      u.Name,
			Password:      u.Password,
			Role:          u.Role,
			DisplayName:   u.DisplayName,
			AuthorityRank: u.Rank,
		})
	}
	if slices.Contains(keys, env.KeyProviders) {
		cfg.Providers = make([]ProviderConfig, len(o.Providers))
		for i, p := range o.Providers {
			cfg.Providers[i] = ProviderConfig{
				Name:   p.Name,
				URL:    p.URL,
				Config: p.Config,
			}
		}
	}
}

// GetEnvOverrideKeys returns config JSON keys that have environment variable overrides set.
func GetEnvOverrideKeys() []string {
	return env.OverrideKeys()
}
