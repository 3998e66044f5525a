// Package env consolidates all environment variable reading for the application.
// Config overrides are applied only at startup (see config.Load).
package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names (single source of truth)
const (
	Port                 = "PORT"
	LOGLevel             = "LOG_LEVEL"
	AllowedOrigins       = "ALLOWED_ORIGINS"
	TMDBAPIKey           = "TMDB_API_KEY"
	TMDBBaseURL          = "TMDB_BASE_URL"
	DebridAPIKey         = "DEBRID_API_KEY"
	DebridBaseURL        = "DEBRID_BASE_URL"
	DebridPollIntervalMS = "DEBRID_POLL_INTERVAL_MS"
	DebridMaxAttempts    = "DEBRID_MAX_ATTEMPTS"
	RelayPingInterval    = "RELAY_PING_INTERVAL_SECONDS"
	ResolveTimeout       = "RESOLVE_TIMEOUT_SECONDS"
	TokenTTLHours        = "TOKEN_TTL_HOURS"
	AdminUsernameEnv     = "ADMIN_USERNAME"
	AdminPasswordEnv     = "ADMIN_PASSWORD"
	TZVar                = "TZ"
	ProviderPrefix       = "PROVIDER_"
	UserPrefix           = "USER_"
)

// Config JSON keys returned by OverrideKeys
const (
	KeyPort                 = "port"
	KeyLogLevel             = "log_level"
	KeyAllowedOrigins       = "allowed_origins"
	KeyTMDBBaseURL          = "tmdb_base_url"
	KeyDebridBaseURL        = "debrid_base_url"
	KeyDebridPollIntervalMS = "debrid_poll_interval_ms"
	KeyDebridMaxAttempts    = "debrid_max_attempts"
	KeyRelayPingInterval    = "relay_ping_interval_seconds"
	KeyResolveTimeout       = "resolve_timeout_seconds"
	KeyTokenTTLHours        = "token_ttl_hours"
	KeyAdminUsername        = "admin_username"
	KeyProviders            = "providers"
)

// TZ returns the TZ environment variable (e.g. for logger timezone).
func TZ() string {
	return os.Getenv(TZVar)
}

// LogLevel returns LOG_LEVEL with default "INFO" (for early logger init before config).
func LogLevel() string {
	if v := os.Getenv(LOGLevel); v != "" {
		return v
	}
	return "INFO"
}

// Provider mirrors config.ProviderConfig so this package does not depend on config.
type Provider struct {
	Name   string
	URL    string
	Config string
}

// User is an account seeded from USER_<n>_NAME|PASSWORD|ROLE|DISPLAY_NAME|RANK.
type User struct {
	Name        string
	Password    string
	Role        string
	DisplayName string
	Rank        int
}

// ConfigOverrides holds all config values that can be set via environment variables.
// Used at startup by config.Load to apply overrides.
type ConfigOverrides struct {
	Port                 int
	LogLevel             string
	AllowedOrigins       []string
	TMDBAPIKey           string
	TMDBBaseURL          string
	DebridAPIKey         string
	DebridBaseURL        string
	DebridPollIntervalMS int
	DebridMaxAttempts    int
	RelayPingInterval    int
	ResolveTimeout       int
	TokenTTLHours        int
	AdminUsername        string
	AdminPassword        string
	Providers            []Provider
	Users                []User
}

// ReadConfigOverrides reads all relevant environment variables once and returns
// overrides to apply to config plus the list of config JSON keys that were set.
// Secrets (TMDB/debrid keys, admin password) are returned but never listed in keys:
// they are not persisted to config.json.
func ReadConfigOverrides() (ConfigOverrides, []string) {
	var o ConfigOverrides
	var keys []string

	if n, ok := lookupInt(Port); ok {
		o.Port = n
		keys = append(keys, KeyPort)
	}
	if v := os.Getenv(LOGLevel); v != "" {
		o.LogLevel = v
		keys = append(keys, KeyLogLevel)
	}
	if v := os.Getenv(AllowedOrigins); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				o.AllowedOrigins = append(o.AllowedOrigins, origin)
			}
		}
		keys = append(keys, KeyAllowedOrigins)
	}
	if v := os.Getenv(TMDBBaseURL); v != "" {
		o.TMDBBaseURL = v
		keys = append(keys, KeyTMDBBaseURL)
	}
	if v := os.Getenv(DebridBaseURL); v != "" {
		o.DebridBaseURL = v
		keys = append(keys, KeyDebridBaseURL)
	}
	if n, ok := lookupInt(DebridPollIntervalMS); ok {
		o.DebridPollIntervalMS = n
		keys = append(keys, KeyDebridPollIntervalMS)
	}
	if n, ok := lookupInt(DebridMaxAttempts); ok {
		o.DebridMaxAttempts = n
		keys = append(keys, KeyDebridMaxAttempts)
	}
	if n, ok := lookupInt(RelayPingInterval); ok {
		o.RelayPingInterval = n
		keys = append(keys, KeyRelayPingInterval)
	}
	if n, ok := lookupInt(ResolveTimeout); ok {
		o.ResolveTimeout = n
		keys = append(keys, KeyResolveTimeout)
	}
	if n, ok := lookupInt(TokenTTLHours); ok {
		o.TokenTTLHours = n
		keys = append(keys, KeyTokenTTLHours)
	}
	if v := os.Getenv(AdminUsernameEnv); v != "" {
		o.AdminUsername = v
		keys = append(keys, KeyAdminUsername)
	}

	o.TMDBAPIKey = os.Getenv(TMDBAPIKey)
	o.DebridAPIKey = os.Getenv(DebridAPIKey)
	o.AdminPassword = os.Getenv(AdminPasswordEnv)

	o.Users = readUsersFromEnv()
	o.Providers = readProvidersFromEnv()
	if len(o.Providers) > 0 {
		keys = append(keys, KeyProviders)
	}

	return o, keys
}

// OverrideKeys returns the config JSON keys that have environment overrides set.
func OverrideKeys() []string {
	_, keys := ReadConfigOverrides()
	return keys
}

func readProvidersFromEnv() []Provider {
	var list []Provider
	for i := 1; i <= 10; i++ {
		prefix := fmt.Sprintf("%s%d_", ProviderPrefix, i)
		url := os.Getenv(prefix + "URL")
		if url == "" {
			continue
		}
		list = append(list, Provider{
			Name:   getEnv(prefix+"NAME", fmt.Sprintf("provider-%d", i)),
			URL:    url,
			Config: os.Getenv(prefix + "CONFIG"),
		})
	}
	return list
}

// readUsersFromEnv reads seed accounts. Passwords are secrets, so seeds are
// never written to config.json.
func readUsersFromEnv() []User {
	var list []User
	for i := 1; i <= 20; i++ {
		prefix := fmt.Sprintf("%s%d_", UserPrefix, i)
		name := strings.TrimSpace(os.Getenv(prefix + "NAME"))
		password := os.Getenv(prefix + "PASSWORD")
		if name == "" || password == "" {
			continue
		}
		u := User{
			Name:        name,
			Password:    password,
			Role:        strings.ToLower(getEnv(prefix+"ROLE", "viewer")),
			DisplayName: getEnv(prefix+"DISPLAY_NAME", name),
		}
		if n, ok := lookupInt(prefix + "RANK"); ok {
			u.Rank = n
		}
		list = append(list, u)
	}
	return list
}

func lookupInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
