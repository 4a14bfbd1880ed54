package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync"

	"github.com/oarkflow/smpp-engine/pkg/smpp"
)

// User is an ESME account allowed to bind.
type User struct {
	SystemID     string
	SystemType   string
	Active       bool
	PasswordHash string
	Salt         string
	CreatedAt    time.Time
	LastLogin    time.Time
	LoginCount   int64
}

// DefaultUserAuth checks bind credentials against salted SHA-256 hashes.
// It implements smpp.Authenticator and is safe for concurrent use.
type DefaultUserAuth struct {
	users  *xsync.MapOf[string, *User]
	logger smpp.Logger

	// writes replace whole records; reads are lock free
	mu sync.Mutex
}

// NewDefaultUserAuth creates an authenticator with no users.
func NewDefaultUserAuth(logger smpp.Logger) *DefaultUserAuth {
	return &DefaultUserAuth{
		users:  xsync.NewMapOf[*User](),
		logger: logger,
	}
}

// FromConfig creates an authenticator holding the configured users.
func FromConfig(cfg smpp.AuthConfig, logger smpp.Logger) (*DefaultUserAuth, error) {
	a := NewDefaultUserAuth(logger)
	for _, u := range cfg.Users {
		if err := a.CreateUser(u.SystemID, u.Password, u.SystemType); err != nil {
			return nil, err
		}
		if u.Disabled {
			if err := a.SetActive(u.SystemID, false); err != nil {
				return nil, err
			}
		}
	}
	return a, nil
}

// Authenticate implements smpp.Authenticator.
func (a *DefaultUserAuth) Authenticate(ctx context.Context, systemID, password, systemType string) error {
	user, ok := a.users.Load(systemID)
	if !ok {
		a.warn("Authentication failed: user not found", "system_id", systemID)
		return smpp.ErrInvalidSystemID
	}
	if !user.Active {
		a.warn("Authentication failed: user inactive", "system_id", systemID)
		return smpp.NewStatusError(smpp.StatusBindFail, "account disabled")
	}

	expected := hashPassword(password, user.Salt)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(user.PasswordHash)) != 1 {
		a.warn("Authentication failed: invalid password", "system_id", systemID)
		return smpp.ErrInvalidPassword
	}
	if user.SystemType != "" && user.SystemType != systemType {
		a.warn("Authentication failed: system_type mismatch", "system_id", systemID, "system_type", systemType)
		return smpp.NewStatusError(smpp.StatusInvSysTyp, "system_type not allowed")
	}

	_ = a.update(systemID, func(u *User) {
		u.LastLogin = time.Now()
		u.LoginCount++
	})
	if a.logger != nil {
		a.logger.Info("Authentication successful", "system_id", systemID)
	}
	return nil
}

// CreateUser adds an account. The password is kept only as a salted hash.
func (a *DefaultUserAuth) CreateUser(systemID, password, systemType string) error {
	if systemID == "" {
		return fmt.Errorf("system ID cannot be empty")
	}
	if len(systemID) >= smpp.MaxSystemIDLength {
		return fmt.Errorf("system ID %q longer than %d characters", systemID, smpp.MaxSystemIDLength-1)
	}
	if len(password) >= smpp.MaxPasswordLength {
		return fmt.Errorf("password for %q longer than %d characters", systemID, smpp.MaxPasswordLength-1)
	}

	salt := generateSalt()
	user := &User{
		SystemID:     systemID,
		SystemType:   systemType,
		Active:       true,
		Salt:         salt,
		PasswordHash: hashPassword(password, salt),
		CreatedAt:    time.Now(),
	}
	if _, loaded := a.users.LoadOrStore(systemID, user); loaded {
		return fmt.Errorf("user %q already exists", systemID)
	}
	if a.logger != nil {
		a.logger.Info("User created", "system_id", systemID)
	}
	return nil
}

// SetPassword replaces the password of an existing account.
func (a *DefaultUserAuth) SetPassword(systemID, password string) error {
	return a.update(systemID, func(u *User) {
		u.Salt = generateSalt()
		u.PasswordHash = hashPassword(password, u.Salt)
	})
}

// SetActive enables or disables an account.
func (a *DefaultUserAuth) SetActive(systemID string, active bool) error {
	return a.update(systemID, func(u *User) { u.Active = active })
}

func (a *DefaultUserAuth) update(systemID string, fn func(*User)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users.Load(systemID)
	if !ok {
		return fmt.Errorf("user %q not found", systemID)
	}
	next := *u
	fn(&next)
	a.users.Store(systemID, &next)
	return nil
}

// DeleteUser removes an account.
func (a *DefaultUserAuth) DeleteUser(systemID string) error {
	a.mu.Lock()
	_, ok := a.users.LoadAndDelete(systemID)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("user %q not found", systemID)
	}
	if a.logger != nil {
		a.logger.Info("User deleted", "system_id", systemID)
	}
	return nil
}

// GetUser returns a copy of an account without its secrets.
func (a *DefaultUserAuth) GetUser(systemID string) (*User, error) {
	u, ok := a.users.Load(systemID)
	if !ok {
		return nil, fmt.Errorf("user %q not found", systemID)
	}
	c := *u
	c.PasswordHash = ""
	c.Salt = ""
	return &c, nil
}

// ListUsers returns every account sorted by system_id, without secrets.
func (a *DefaultUserAuth) ListUsers() []*User {
	var out []*User
	a.users.Range(func(_ string, u *User) bool {
		c := *u
		c.PasswordHash = ""
		c.Salt = ""
		out = append(out, &c)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SystemID < out[j].SystemID })
	return out
}

func (a *DefaultUserAuth) warn(msg string, fields ...interface{}) {
	if a.logger != nil {
		a.logger.Warn(msg, fields...)
	}
}

// hashPassword creates a hash of the password with salt
func hashPassword(password, salt string) string {
	h := sha256.New()
	h.Write([]byte(password + salt))
	return hex.EncodeToString(h.Sum(nil))
}

// generateSalt generates a random salt
func generateSalt() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("auth: crypto/rand failed: %v", err))
	}
	return hex.EncodeToString(b)
}
