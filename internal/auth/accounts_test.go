package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLogin(t *testing.T) {
	a := NewAccounts()

	id, err := a.Register("alice", "Alice@Example.com", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, id.ID)
	assert.Equal(t, "alice", id.Name)
	assert.Equal(t, "alice@example.com", id.Email, "email is normalized")

	got, err := a.Login("alice@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	a := NewAccounts()

	_, err := a.Register("alice", "alice@example.com", "hunter22")
	require.NoError(t, err)

	_, err = a.Register("impostor", "alice@example.com", "other")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestLoginWrongPassword(t *testing.T) {
	a := NewAccounts()
	_, err := a.Register("alice", "alice@example.com", "hunter22")
	require.NoError(t, err)

	_, err = a.Login("alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrBadLogin)
}

func TestLoginUnknownEmail(t *testing.T) {
	a := NewAccounts()

	_, err := a.Login("nobody@example.com", "pw")
	assert.ErrorIs(t, err, ErrBadLogin)
}

func TestFind(t *testing.T) {
	a := NewAccounts()
	id, err := a.Register("alice", "alice@example.com", "hunter22")
	require.NoError(t, err)

	got, ok := a.Find(id.ID)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = a.Find("missing")
	assert.False(t, ok)
}
