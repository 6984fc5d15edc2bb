package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebferris/parley/internal/auth"
)

func alice() auth.Identity {
	return auth.Identity{ID: "u1", Name: "alice", Email: "alice@example.com"}
}

func bob() auth.Identity {
	return auth.Identity{ID: "u2", Name: "bob", Email: "bob@example.com"}
}

func TestRegisterAndFind(t *testing.T) {
	r := NewRegistry()

	evicted, ok := r.Register("c1", alice())
	assert.False(t, ok)
	assert.Empty(t, evicted)

	connID, found := r.Find("u1")
	require.True(t, found)
	assert.Equal(t, "c1", connID)
	assert.Equal(t, 1, r.Count())
}

func TestRegisterSameIdentityEvictsPrior(t *testing.T) {
	r := NewRegistry()

	r.Register("c1", alice())
	evicted, ok := r.Register("c2", alice())

	require.True(t, ok)
	assert.Equal(t, "c1", evicted)
	assert.Equal(t, 1, r.Count(), "at most one entry per identity")

	connID, found := r.Find("u1")
	require.True(t, found)
	assert.Equal(t, "c2", connID)

	// The evicted connection is gone.
	_, removed := r.Unregister("c1")
	assert.False(t, removed)
}

func TestRegisterSameConnectionIsNoEviction(t *testing.T) {
	r := NewRegistry()

	r.Register("c1", alice())
	_, ok := r.Register("c1", alice())
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", alice())

	id, removed := r.Unregister("c1")
	require.True(t, removed)
	assert.Equal(t, "u1", id.ID)
	assert.Equal(t, 0, r.Count())

	_, found := r.Find("u1")
	assert.False(t, found)
}

func TestUnregisterIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", alice())
	r.Unregister("c1")

	_, removed := r.Unregister("c1")
	assert.False(t, removed, "double disconnect is a no-op")
}

func TestUnregisterEvictedDoesNotClobberReplacement(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", alice())
	r.Register("c2", alice())

	// A late disconnect cleanup for the evicted connection must not remove
	// the replacement's identity index entry.
	_, removed := r.Unregister("c1")
	assert.False(t, removed)

	connID, found := r.Find("u1")
	require.True(t, found)
	assert.Equal(t, "c2", connID)
}

func TestListDisplayNames(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", alice())
	r.Register("c2", bob())

	names := r.ListDisplayNames()
	assert.ElementsMatch(t, []string{"alice", "bob"}, names)
}
