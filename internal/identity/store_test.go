package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBindIsStableAcrossCalls(t *testing.T) {
	s := NewMemStore(2, nil)

	a, err := s.Bind("C0:11:22:33:44:55")
	require.NoError(t, err)
	b, err := s.Bind("C0:11:22:33:44:66")
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	// Rebinding must return the original index.
	again, err := s.Bind("C0:11:22:33:44:55")
	require.NoError(t, err)
	require.Equal(t, a, again)
}

func TestBindExhaustsCapacity(t *testing.T) {
	s := NewMemStore(1, nil)

	_, err := s.Bind("C0:11:22:33:44:55")
	require.NoError(t, err)

	_, err = s.Bind("C0:11:22:33:44:66")
	require.ErrorIs(t, err, ErrNoCapacity)
}

func TestSeedAddressesPinIndices(t *testing.T) {
	s := NewMemStore(3, []string{"", "C0:11:22:33:44:66", ""})

	idx, ok := s.Lookup("C0:11:22:33:44:66")
	require.True(t, ok)
	require.Equal(t, 1, idx)

	// A new identity takes the lowest free index, skipping the seeded one.
	idx, err := s.Bind("C0:11:22:33:44:55")
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	idx, err = s.Bind("C0:11:22:33:44:77")
	require.NoError(t, err)
	require.Equal(t, 2, idx)
}

func TestLookupMissing(t *testing.T) {
	s := NewMemStore(1, nil)
	_, ok := s.Lookup("C0:11:22:33:44:55")
	require.False(t, ok)
}

func TestSeedLongerThanCapacityIsTruncated(t *testing.T) {
	s := NewMemStore(1, []string{"C0:11:22:33:44:55", "C0:11:22:33:44:66"})

	_, ok := s.Lookup("C0:11:22:33:44:55")
	require.True(t, ok)
	_, ok = s.Lookup("C0:11:22:33:44:66")
	require.False(t, ok)
}
