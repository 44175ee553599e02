package memory

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/cyp0633/calsched/server/auth"
)

// User represents a user in the memory store
type User struct {
	Username string
	Password string // In production this should be hashed
	Address  string
}

// Store implements an in-memory authentication store. Usernames double as
// mailbox ids.
type Store struct {
	mu        sync.RWMutex
	users     map[string]User            // map[username]User
	delegates map[string]map[string]bool // map[mailbox]set of delegate usernames
	logger    *slog.Logger
}

// New creates a new in-memory authentication store
func New(opts ...Option) *Store {
	s := &Store{
		users:     make(map[string]User),
		delegates: make(map[string]map[string]bool),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// AddUser adds a new user to the store
func (s *Store) AddUser(username, password, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		s.logger.Warn("failed to add user: already exists",
			"username", username)
		return fmt.Errorf("user already exists: %s", username)
	}

	s.users[username] = User{
		Username: username,
		Password: password,
		Address:  address,
	}

	s.logger.Info("user added successfully",
		"username", username)

	return nil
}

// Grant makes delegate able to operate on the mailbox of owner
func (s *Store) Grant(owner, delegate string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range []string{owner, delegate} {
		if _, ok := s.users[u]; !ok {
			return fmt.Errorf("user not found: %s", u)
		}
	}
	if s.delegates[owner] == nil {
		s.delegates[owner] = map[string]bool{}
	}
	s.delegates[owner][delegate] = true
	s.logger.Info("delegate granted",
		"owner", owner,
		"delegate", delegate)
	return nil
}

// Authenticate implements auth.Authenticator
func (s *Store) Authenticate(ctx context.Context, creds auth.Credentials) (*auth.Principal, error) {
	s.mu.RLock()
	user, exists := s.users[creds.Username]
	s.mu.RUnlock()

	if !exists {
		s.logger.Info("authentication failed: user not found",
			"username", creds.Username)
		return nil, &auth.Error{
			Type:    auth.ErrInvalidCredentials,
			Message: "invalid username or password",
		}
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(user.Password), []byte(creds.Password)) != 1 {
		s.logger.Info("authentication failed: invalid password",
			"username", creds.Username)
		return nil, &auth.Error{
			Type:    auth.ErrInvalidCredentials,
			Message: "invalid username or password",
		}
	}

	s.logger.Debug("authentication successful",
		"username", creds.Username)

	return &auth.Principal{ID: user.Username, Address: user.Address}, nil
}

// ValidateAccess implements auth.Authenticator
func (s *Store) ValidateAccess(ctx context.Context, principal *auth.Principal, mailboxID string) error {
	if principal == nil {
		s.logger.Info("access validation failed: no principal")
		return &auth.Error{
			Type:    auth.ErrUnauthorized,
			Message: "authentication required",
		}
	}
	if principal.ID == mailboxID {
		return nil
	}

	s.mu.RLock()
	ok := s.delegates[mailboxID][principal.ID]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("access validation failed: forbidden",
			"username", principal.ID,
			"mailbox", mailboxID)
		return &auth.Error{
			Type:    auth.ErrForbidden,
			Message: fmt.Sprintf("access denied to mailbox: %s", mailboxID),
		}
	}

	s.logger.Debug("access validation successful",
		"username", principal.ID,
		"mailbox", mailboxID)
	return nil
}
