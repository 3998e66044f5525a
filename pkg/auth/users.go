package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"hashland/pkg/logger"
	"hashland/pkg/persistence"
)

const (
	RoleAdmin  = "admin"
	RoleCohost = "cohost"
	RoleViewer = "viewer"

	usersKey = "users"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidUser        = errors.New("invalid user")
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleCohost, RoleViewer:
		return true
	}
	return false
}

// User is a stored account. PasswordHash is a bcrypt hash.
type User struct {
	ID            string `json:"id"`
	PasswordHash  string `json:"password_hash"`
	Role          string `json:"role"`
	DisplayName   string `json:"displayName"`
	AuthorityRank int    `json:"authorityRank"`
}

// Profile is the client-facing view of a user.
type Profile struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	Role          string `json:"role"`
	AuthorityRank int    `json:"authorityRank"`
}

func (u *User) Profile() Profile {
	return Profile{ID: u.ID, DisplayName: u.DisplayName, Role: u.Role, AuthorityRank: u.AuthorityRank}
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type session struct {
	userID    string
	expiresAt time.Time
}

// UserManager handles user storage and bearer tokens. Users persist in the
// state file; tokens live in memory only.
type UserManager struct {
	mu     sync.RWMutex
	users  map[string]*User
	tokens map[string]session
	ttl    time.Duration
	now    func() time.Time
	store  *persistence.StateManager
}

// NewUserManager loads users from store and seeds the admin account when it
// does not exist yet.
func NewUserManager(store *persistence.StateManager, ttl time.Duration, adminUsername, adminPassword string) (*UserManager, error) {
	um := &UserManager{
		users:  make(map[string]*User),
		tokens: make(map[string]session),
		ttl:    ttl,
		now:    time.Now,
		store:  store,
	}

	if _, err := store.Get(usersKey, &um.users); err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	if um.users == nil {
		um.users = make(map[string]*User)
	}

	admin := normalizeID(adminUsername)
	if admin != "" {
		if _, ok := um.users[admin]; !ok {
			if err := um.PutUser(admin, adminPassword, RoleAdmin, adminUsername, 100); err != nil {
				return nil, fmt.Errorf("failed to seed admin: %w", err)
			}
			logger.Info("Created admin account", "username", admin)
		}
	}
	return um, nil
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// PutUser creates or replaces a user.
func (um *UserManager) PutUser(id, password, role, displayName string, rank int) error {
	id = normalizeID(id)
	if id == "" || password == "" {
		return fmt.Errorf("%w: username and password are required", ErrInvalidUser)
	}
	if !ValidRole(role) {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidUser, role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if displayName == "" {
		displayName = id
	}

	um.mu.Lock()
	defer um.mu.Unlock()
	next := um.cloneUsersLocked()
	next[id] = &User{
		ID:            id,
		PasswordHash:  string(hash),
		Role:          role,
		DisplayName:   displayName,
		AuthorityRank: rank,
	}
	if err := um.store.Set(usersKey, next); err != nil {
		return err
	}
	um.users = next
	return nil
}

// DeleteUser removes a user and revokes their tokens. It reports whether the
// user existed.
func (um *UserManager) DeleteUser(id string) (bool, error) {
	id = normalizeID(id)
	um.mu.Lock()
	defer um.mu.Unlock()
	if _, ok := um.users[id]; !ok {
		return false, nil
	}
	next := um.cloneUsersLocked()
	delete(next, id)
	if err := um.store.Set(usersKey, next); err != nil {
		return false, err
	}
	um.users = next
	for tok, s := range um.tokens {
		if s.userID == id {
			delete(um.tokens, tok)
		}
	}
	return true, nil
}

// EnsureUser creates the user when it does not exist yet. Existing accounts
// keep their stored password so changes made at runtime survive restarts.
func (um *UserManager) EnsureUser(id, password, role, displayName string, rank int) (bool, error) {
	if um.Exists(id) {
		return false, nil
	}
	if err := um.PutUser(id, password, role, displayName, rank); err != nil {
		return false, err
	}
	return true, nil
}

func (um *UserManager) cloneUsersLocked() map[string]*User {
	next := make(map[string]*User, len(um.users)+1)
	for k, v := range um.users {
		next[k] = v
	}
	return next
}

// Login checks credentials and issues a bearer token.
func (um *UserManager) Login(username, password string) (string, *User, error) {
	id := normalizeID(username)

	um.mu.RLock()
	u, ok := um.users[id]
	um.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := generateToken()
	if err != nil {
		return "", nil, err
	}

	um.mu.Lock()
	um.tokens[token] = session{userID: id, expiresAt: um.now().Add(um.ttl)}
	um.mu.Unlock()

	cp := *u
	return token, &cp, nil
}

// Verify returns the user owning token. Expired tokens are removed.
func (um *UserManager) Verify(token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	um.mu.Lock()
	defer um.mu.Unlock()

	s, ok := um.tokens[token]
	if !ok {
		return nil, ErrInvalidToken
	}
	if !um.now().Before(s.expiresAt) {
		delete(um.tokens, token)
		return nil, ErrInvalidToken
	}
	u, ok := um.users[s.userID]
	if !ok {
		delete(um.tokens, token)
		return nil, ErrInvalidToken
	}
	cp := *u
	return &cp, nil
}

// Logout revokes token.
func (um *UserManager) Logout(token string) {
	um.mu.Lock()
	delete(um.tokens, token)
	um.mu.Unlock()
}

// Users returns all users sorted by id.
func (um *UserManager) Users() []User {
	um.mu.RLock()
	out := make([]User, 0, len(um.users))
	for _, u := range um.users {
		out = append(out, *u)
	}
	um.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Exists reports whether a user id is known.
func (um *UserManager) Exists(id string) bool {
	um.mu.RLock()
	defer um.mu.RUnlock()
	_, ok := um.users[normalizeID(id)]
	return ok
}

// Cleanup removes expired tokens and returns how many were dropped.
func (um *UserManager) Cleanup() int {
	now := um.now()
	um.mu.Lock()
	defer um.mu.Unlock()
	n := 0
	for tok, s := range um.tokens {
		if !now.Before(s.expiresAt) {
			delete(um.tokens, tok)
			n++
		}
	}
	return n
}

// RunCleanup evicts expired tokens every interval until ctx is done.
func (um *UserManager) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := um.Cleanup(); n > 0 {
				logger.Debug("Evicted expired tokens", "count", n)
			}
		}
	}
}

// generateToken returns 32 random bytes, hex encoded
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
