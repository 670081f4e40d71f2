// Package identity tests for server-id / asset-key resolution.
package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewfinderco/viewfinder/internal/apperr"
	"github.com/viewfinderco/viewfinder/internal/logging"
	"github.com/viewfinderco/viewfinder/internal/store"
)

func newTestResolver(t *testing.T) (*Resolver, *store.Store) {
	t.Helper()
	st, err := store.Open(t.TempDir(), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewResolver(st, logging.Nop()), st
}

// TestResolveLocalDedup verifies one asset key maps to exactly one
// record, no matter how often it is registered.
func TestResolveLocalDedup(t *testing.T) {
	r, _ := newTestResolver(t)

	p1, created, err := r.ResolveLocal("asset-1")
	require.NoError(t, err)
	assert.True(t, created)

	p2, created, err := r.ResolveLocal("asset-1")
	require.NoError(t, err)
	assert.False(t, created, "second registration resolves, not creates")
	assert.Equal(t, p1.ID, p2.ID)

	_, _, err = r.ResolveLocal("")
	assert.True(t, apperr.Is(err, apperr.ErrInvalid))
}

// TestResolveAdoptsServerID verifies an update matching a local-only
// record by asset key binds the server id to it.
func TestResolveAdoptsServerID(t *testing.T) {
	r, st := newTestResolver(t)

	local, _, err := r.ResolveLocal("asset-1")
	require.NoError(t, err)

	p, created, err := r.Resolve("srv-9", "asset-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, local.ID, p.ID)
	assert.Equal(t, "srv-9", p.ServerID)

	// The server-id index picks it up too.
	got, ok := st.PhotoByServerID("srv-9")
	require.True(t, ok)
	assert.Equal(t, local.ID, got.ID)
}

// TestResolveConsistencyConflict verifies an asset key already bound to
// a different server id rejects the update without mutation.
func TestResolveConsistencyConflict(t *testing.T) {
	r, st := newTestResolver(t)

	p, _, err := r.Resolve("srv-1", "asset-1")
	require.NoError(t, err)

	_, _, err = r.Resolve("srv-2", "asset-1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrConsistency))

	got, ok := st.Photo(p.ID)
	require.True(t, ok)
	assert.Equal(t, "srv-1", got.ServerID, "rejected update must not mutate the record")
}

// TestResolveCreatesPlaceholder verifies an unknown bare server id
// creates a fetch-pending placeholder.
func TestResolveCreatesPlaceholder(t *testing.T) {
	r, _ := newTestResolver(t)

	p, created, err := r.Resolve("srv-5", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, p.NeedsFetch, "placeholder awaits the metadata fetch")
	assert.Equal(t, "srv-5", p.ServerID)

	again, created, err := r.Resolve("srv-5", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, again.ID)

	_, _, err = r.Resolve("", "")
	assert.True(t, apperr.Is(err, apperr.ErrInvalid))
}

// TestResolveEpisodeShell verifies episode shells are created once per
// server id.
func TestResolveEpisodeShell(t *testing.T) {
	r, _ := newTestResolver(t)

	e1, created, err := r.ResolveEpisode("ep-1")
	require.NoError(t, err)
	assert.True(t, created)

	e2, created, err := r.ResolveEpisode("ep-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, e1.ID, e2.ID)
}
