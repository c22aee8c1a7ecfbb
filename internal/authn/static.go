package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	dErrors "ticketd/pkg/domain-errors"
	"ticketd/pkg/requestcontext"
)

// User is one account known to the StaticAuthenticator.
type User struct {
	Username     string              `yaml:"username"`
	PasswordHash string              `yaml:"password_hash"`
	Attributes   map[string][]string `yaml:"attributes"`
}

// StaticAuthenticator checks bcrypt password hashes for a fixed set of users.
// It stands in for the identity provider in development and tests.
type StaticAuthenticator struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewStaticAuthenticator(users ...User) *StaticAuthenticator {
	a := &StaticAuthenticator{users: make(map[string]User, len(users))}
	for _, u := range users {
		a.users[strings.ToLower(u.Username)] = u
	}
	return a
}

// Put adds or replaces a user.
func (a *StaticAuthenticator) Put(u User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[strings.ToLower(u.Username)] = u
}

// dummyHash keeps the unknown-user path as slow as the wrong-password path.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z5sJqmVZ6b6iYpVZzKQ8J5Ou")

func (a *StaticAuthenticator) Authenticate(ctx context.Context, creds Credentials) (*Authentication, error) {
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "username and password are required")
	}

	a.mu.RLock()
	user, ok := a.users[strings.ToLower(creds.Username)]
	a.mu.RUnlock()

	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(creds.Password))
		return nil, dErrors.New(dErrors.CodeInvalidGrant, "invalid resource owner credentials")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, dErrors.New(dErrors.CodeInvalidGrant, "invalid resource owner credentials")
		}
		return nil, fmt.Errorf("verify password: %w", err)
	}

	return &Authentication{
		Principal: Principal{
			ID:         user.Username,
			Attributes: cloneAttrs(user.Attributes),
		},
		AuthenticatedAt: requestcontext.Now(ctx),
		Method:          MethodPassword,
	}, nil
}
