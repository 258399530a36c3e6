package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newMemStore() *Store {
	return NewStore(NewMemoryBackend())
}

// --- Get / Set ---

func TestStore_EmptyByDefault(t *testing.T) {
	s := newMemStore()

	_, ok := s.Get(Identity)
	assert.False(t, ok)

	_, ok = s.Get(Gateway)
	assert.False(t, ok)
}

func TestStore_RoundTrip(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.Set(Identity, "eyJ.identity.sig"))

	got, ok := s.Get(Identity)
	require.True(t, ok)
	assert.Equal(t, "eyJ.identity.sig", got)

	require.NoError(t, s.Clear(Identity))

	_, ok = s.Get(Identity)
	assert.False(t, ok)
}

func TestStore_SetOverwrites(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.Set(Gateway, "old"))
	require.NoError(t, s.Set(Gateway, "new"))

	got, _ := s.Get(Gateway)
	assert.Equal(t, "new", got)
}

func TestStore_KindsAreIndependent(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.Set(Identity, "id"))
	require.NoError(t, s.Set(Gateway, "gw"))

	id, _ := s.Get(Identity)
	gw, _ := s.Get(Gateway)
	assert.Equal(t, "id", id)
	assert.Equal(t, "gw", gw)
}

func TestStore_SetEmptyClears(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.Set(Gateway, "gw"))
	require.NoError(t, s.Set(Gateway, ""))

	_, ok := s.Get(Gateway)
	assert.False(t, ok)
}

// --- Clear ---

func TestStore_ClearIdentityAlsoClearsGateway(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.Set(Identity, "id"))
	require.NoError(t, s.Set(Gateway, "gw"))

	require.NoError(t, s.Clear(Identity))

	_, ok := s.Get(Gateway)
	assert.False(t, ok, "gateway token must not outlive the identity token")
}

func TestStore_ClearGatewayKeepsIdentity(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.Set(Identity, "id"))
	require.NoError(t, s.Set(Gateway, "gw"))

	require.NoError(t, s.Clear(Gateway))

	id, ok := s.Get(Identity)
	assert.True(t, ok)
	assert.Equal(t, "id", id)
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.Clear(Gateway))
	require.NoError(t, s.Clear(Gateway))
	require.NoError(t, s.ClearAll())
	require.NoError(t, s.ClearAll())
}

func TestStore_ClearAll(t *testing.T) {
	s := newMemStore()
	require.NoError(t, s.Set(Identity, "id"))
	require.NoError(t, s.Set(Gateway, "gw"))
	require.NoError(t, s.SetProfile(json.RawMessage(`{"role":"admin"}`)))

	require.NoError(t, s.ClearAll())

	_, ok := s.Get(Identity)
	assert.False(t, ok)
	_, ok = s.Get(Gateway)
	assert.False(t, ok)
	_, ok = s.Profile()
	assert.False(t, ok)
}

// --- Profile ---

func TestStore_ProfileRoundTrip(t *testing.T) {
	s := newMemStore()
	raw := json.RawMessage(`{"username":"rakoto","role":"responsable_rh"}`)
	require.NoError(t, s.SetProfile(raw))

	got, ok := s.Profile()
	require.True(t, ok)
	assert.JSONEq(t, string(raw), string(got))

	require.NoError(t, s.SetProfile(nil))
	_, ok = s.Profile()
	assert.False(t, ok)
}

// --- Backend failures ---

func TestStore_SetPropagatesBackendError(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().Put("gateway_token", "gw").Return(errors.New("disk full"))

	err := NewStore(backend).Set(Gateway, "gw")
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.ErrorContains(t, err, "gateway_token")
}

func TestStore_ClearAllAttemptsEveryKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)

	boom := errors.New("locked")
	gomock.InOrder(
		backend.EXPECT().Delete("gateway_token").Return(boom),
		backend.EXPECT().Delete("identity_token").Return(nil),
		backend.EXPECT().Delete("profile").Return(nil),
	)

	err := NewStore(backend).ClearAll()
	require.ErrorIs(t, err, boom)
}

func TestStore_ClearIdentityStopsOnGatewayError(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().Delete("gateway_token").Return(errors.New("locked"))

	err := NewStore(backend).Clear(Identity)
	require.Error(t, err)
}

func TestStore_GetTreatsEmptyAsAbsent(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := NewMockBackend(ctrl)
	backend.EXPECT().Get("identity_token").Return("", true)

	_, ok := NewStore(backend).Get(Identity)
	assert.False(t, ok)
}

// --- Concurrency ---

func TestStore_ConcurrentWritesLastWriteWins(t *testing.T) {
	s := newMemStore()

	var wg sync.WaitGroup
	values := make(map[string]bool)

	for i := 0; i < 50; i++ {
		v := fmt.Sprintf("token-%02d", i)
		values[v] = true

		wg.Add(1)

		go func() {
			defer wg.Done()
			_ = s.Set(Gateway, v)
			s.Get(Gateway)
		}()
	}

	wg.Wait()

	got, ok := s.Get(Gateway)
	require.True(t, ok)
	assert.True(t, values[got], "final value %q must be one of the written values", got)
}
