package auth

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrEmailTaken is returned by Register when the email is already in use.
	ErrEmailTaken = errors.New("email already registered")

	// ErrBadLogin is returned by Login for an unknown email or wrong password.
	ErrBadLogin = errors.New("invalid email or password")
)

type account struct {
	identity     Identity
	passwordHash string
}

// Accounts is an in-memory account store keyed by email.
type Accounts struct {
	mu       sync.RWMutex
	byEmail  map[string]*account
	byUserID map[string]*account
}

// NewAccounts creates an empty account store.
func NewAccounts() *Accounts {
	return &Accounts{
		byEmail:  make(map[string]*account),
		byUserID: make(map[string]*account),
	}
}

// Register creates a new account and returns its identity.
func (a *Accounts) Register(name, email, password string) (Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := HashPassword(password)
	if err != nil {
		return Identity{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, exists := a.byEmail[email]; exists {
		return Identity{}, ErrEmailTaken
	}
	acct := &account{
		identity:     Identity{ID: uuid.NewString(), Name: name, Email: email},
		passwordHash: hash,
	}
	a.byEmail[email] = acct
	a.byUserID[acct.identity.ID] = acct
	return acct.identity, nil
}

// Login checks the credentials and returns the matching identity.
func (a *Accounts) Login(email, password string) (Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	a.mu.RLock()
	acct, ok := a.byEmail[email]
	a.mu.RUnlock()

	if !ok {
		return Identity{}, ErrBadLogin
	}
	if err := ComparePassword(acct.passwordHash, password); err != nil {
		return Identity{}, ErrBadLogin
	}
	return acct.identity, nil
}

// Find returns the identity for a user ID.
func (a *Accounts) Find(userID string) (Identity, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acct, ok := a.byUserID[userID]
	if !ok {
		return Identity{}, false
	}
	return acct.identity, true
}
