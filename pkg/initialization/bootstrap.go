package initialization

import (
	"fmt"
	"net/http"
	"os"

	"hashland/pkg/auth"
	"hashland/pkg/config"
	"hashland/pkg/debrid"
	"hashland/pkg/library"
	"hashland/pkg/logger"
	"hashland/pkg/persistence"
	"hashland/pkg/presence"
	"hashland/pkg/provider"
	"hashland/pkg/relay"
	"hashland/pkg/resolver"
	"hashland/pkg/server/api"
	"hashland/pkg/tmdb"
)

// InitializedComponents holds all the components initialized during bootstrap
type InitializedComponents struct {
	Config   *config.Config
	State    *persistence.StateManager
	Users    *auth.UserManager
	Library  *library.Store
	Presence *presence.Tracker
	Hub      *relay.Hub
	Resolver *resolver.Resolver
	API      *api.Server
}

// WaitForInputAndExit prints an error and exits. When stdin is a terminal it
// waits for Enter first so a double-clicked binary does not vanish.
func WaitForInputAndExit(err error) {
	fmt.Printf("\nCRITICAL ERROR: %v\n", err)
	if fi, statErr := os.Stdin.Stat(); statErr == nil && fi.Mode()&os.ModeCharDevice != 0 {
		fmt.Println("\nPress Enter to exit...")
		var input string
		fmt.Scanln(&input)
	}
	os.Exit(1)
}

// Bootstrap coordinates the application startup sequence
func Bootstrap() (*InitializedComponents, error) {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	// 2. Persistent state, users and libraries
	state, err := persistence.NewManager(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("state error: %w", err)
	}
	users, err := auth.NewUserManager(state, cfg.TokenTTL(), cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		return nil, fmt.Errorf("user store error: %w", err)
	}
	if err := seedUsers(users, cfg.Users); err != nil {
		return nil, fmt.Errorf("user seed error: %w", err)
	}
	if cfg.AdminPassword == "admin" {
		logger.Warn("!! SECURITY WARNING: ADMIN_PASSWORD is the default. Change it before exposing the server !!")
	}
	lib, err := library.NewStore(state)
	if err != nil {
		return nil, fmt.Errorf("library error: %w", err)
	}

	// 3. Relay and presence
	tracker := presence.NewTracker()
	hub := relay.NewHub(tracker, relay.Options{
		PingInterval:   cfg.RelayPingInterval(),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	// 4. Metadata catalog
	catalog := tmdb.NewClient(cfg.TMDBBaseURL, cfg.TMDBAPIKey)
	if !catalog.Configured() {
		logger.Warn("TMDB_API_KEY not set; catalog proxy and id translation are disabled")
	}

	// 5. Stream indexes
	httpClient := &http.Client{Timeout: provider.DefaultTimeout}
	var providers []provider.Provider
	for _, p := range cfg.Providers {
		if p.URL == "" {
			logger.Warn("Skipping provider without URL", "name", p.Name)
			continue
		}
		providers = append(providers, provider.NewClient(p.Name, p.URL, p.Config, httpClient))
		logger.Info("Initialized stream provider", "name", p.Name, "url", p.URL)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no stream providers configured")
	}

	// 6. Optional debrid unblocking
	var unblocker resolver.Unblocker
	if cfg.DebridAPIKey != "" {
		rd := debrid.NewRealDebrid(cfg.DebridBaseURL, cfg.DebridAPIKey, httpClient)
		unblocker = debrid.NewUnblocker(rd, cfg.DebridPollInterval(), cfg.DebridMaxAttempts)
		logger.Info("Debrid unblocking enabled", "url", cfg.DebridBaseURL)
	} else {
		logger.Info("DEBRID_API_KEY not set; magnets are returned to clients")
	}

	var translator resolver.Translator
	if catalog.Configured() {
		translator = catalog
	}
	res := resolver.New(translator, providers, unblocker)

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Users:    users,
		Resolver: res,
		Library:  lib,
		TMDB:     catalog,
		Hub:      hub,
		Presence: tracker,
	})

	return &InitializedComponents{
		Config:   cfg,
		State:    state,
		Users:    users,
		Library:  lib,
		Presence: tracker,
		Hub:      hub,
		Resolver: res,
		API:      server,
	}, nil
}

// seedUsers creates configured accounts that do not exist yet. A zero rank
// falls back to the role's default.
func seedUsers(users *auth.UserManager, seeds []config.UserConfig) error {
	for _, u := range seeds {
		rank := u.AuthorityRank
		if rank == 0 {
			rank = defaultRank(u.Role)
		}
		created, err := users.EnsureUser(u.Username, u.Password, u.Role, u.DisplayName, rank)
		if err != nil {
			return fmt.Errorf("user %q: %w", u.Username, err)
		}
		if created {
			logger.Info("Created account", "username", u.Username, "role", u.Role)
		}
	}
	return nil
}

func defaultRank(role string) int {
	switch role {
	case auth.RoleAdmin:
		return 100
	case auth.RoleCohost:
		return 50
	}
	return 10
}
