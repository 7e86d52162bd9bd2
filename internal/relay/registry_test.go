package relay

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"confab/internal/domain"
)

func testSession(t *testing.T, name string) *Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	s := newSession(server)
	s.Username = domain.Username(name)
	return s
}

func TestRegistryRejectsDuplicateUsername(t *testing.T) {
	reg := NewRegistry()

	first := testSession(t, "alice")
	require.True(t, reg.Add(first))

	second := testSession(t, "alice")
	assert.False(t, reg.Add(second), "duplicate username must never be inserted")
	assert.Equal(t, 1, reg.Len())

	// The original session is untouched.
	require.True(t, reg.Add(testSession(t, "bob")))
	assert.Equal(t, 2, reg.Len())
}

func TestRegistrySnapshotOnlyAuthenticated(t *testing.T) {
	reg := NewRegistry()

	alice := testSession(t, "alice")
	alice.authenticated.Store(true)
	bob := testSession(t, "bob")

	require.True(t, reg.Add(alice))
	require.True(t, reg.Add(bob))

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	assert.Same(t, alice, snap[0])
	assert.Len(t, reg.All(), 2)
}

func TestRegistryRemoveIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	alice := testSession(t, "alice")
	require.True(t, reg.Add(alice))

	reg.Remove(alice.Username)
	reg.Remove(alice.Username)
	assert.Equal(t, 0, reg.Len())

	// The name is free again.
	require.True(t, reg.Add(testSession(t, "alice")))
}
