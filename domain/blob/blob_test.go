package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreIsEmpty(t *testing.T) {
	s, err := New(KindBids, 1000)
	require.NoError(t, err)

	h := s.Header()
	assert.Equal(t, Magic, h.Magic)
	assert.Equal(t, KindBids, h.Kind)
	assert.Zero(t, s.Capacity())
	assert.Zero(t, s.Used())
	assert.Len(t, s.Bytes(), HeaderLen)
	assert.Equal(t, uint32(1000), s.Headroom())
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New(Kind(9), 10)
	require.ErrorIs(t, err, ErrBadHeader)
}

func TestGrowClampsToStepAndCeiling(t *testing.T) {
	s, err := New(KindEventQueue, 25_000)
	require.NoError(t, err)

	assert.Equal(t, uint32(MaxGrowStep), s.Grow(1<<20))
	assert.Equal(t, uint32(MaxGrowStep), s.Capacity())

	assert.Equal(t, uint32(MaxGrowStep), s.Grow(MaxGrowStep))
	assert.Equal(t, uint32(25_000-2*MaxGrowStep), s.Grow(MaxGrowStep))
	assert.True(t, s.AtCeiling())

	// at the ceiling nothing changes
	assert.Zero(t, s.Grow(1))
	assert.Equal(t, uint32(25_000), s.Capacity())
	assert.Len(t, s.Payload(), 25_000)
}

func TestGrowKeepsPayload(t *testing.T) {
	s, err := New(KindAsks, 4096)
	require.NoError(t, err)
	s.Grow(16)
	copy(s.Payload(), "0123456789abcdef")
	require.NoError(t, s.SetUsed(16))

	s.Grow(100)
	assert.Equal(t, "0123456789abcdef", string(s.Payload()[:16]))
	assert.Equal(t, uint32(16), s.Used())
	assert.Equal(t, uint32(116), s.Capacity())
}

func TestEnsure(t *testing.T) {
	s, err := New(KindBids, 30_000)
	require.NoError(t, err)

	require.NoError(t, s.Ensure(100))
	assert.Equal(t, uint32(100), s.Capacity())
	require.NoError(t, s.Ensure(50), "already satisfied")
	assert.Equal(t, uint32(100), s.Capacity())

	require.ErrorIs(t, s.Ensure(100+MaxGrowStep+1), ErrInvalidCapacity)
	require.ErrorIs(t, s.Ensure(30_001), ErrInvalidCapacity)
	assert.Equal(t, uint32(100), s.Capacity())
}

func TestSetUsedBeyondCapacity(t *testing.T) {
	s, err := New(KindBids, 100)
	require.NoError(t, err)
	s.Grow(10)
	require.ErrorIs(t, s.SetUsed(11), ErrInvalidCapacity)
	require.NoError(t, s.SetUsed(10))
}

func TestLoadRoundTrip(t *testing.T) {
	s, err := New(KindEventQueue, 500)
	require.NoError(t, err)
	s.Grow(64)
	s.Payload()[10] = 0xAB
	require.NoError(t, s.SetUsed(20))

	got, err := Load(s.Bytes(), 500)
	require.NoError(t, err)
	assert.Equal(t, s.Header(), got.Header())
	assert.Equal(t, byte(0xAB), got.Payload()[10])

	// Load copies its input.
	s.Payload()[10] = 0
	assert.Equal(t, byte(0xAB), got.Payload()[10])
}

func TestLoadRejectsBadInput(t *testing.T) {
	s, err := New(KindAsks, 500)
	require.NoError(t, err)
	s.Grow(64)

	_, err = Load(s.Bytes()[:5], 500)
	require.ErrorIs(t, err, ErrBadHeader)

	_, err = Load(s.Bytes()[:HeaderLen+10], 500)
	require.ErrorIs(t, err, ErrBadHeader, "length disagrees with capacity")

	_, err = Load(s.Bytes(), 32)
	require.ErrorIs(t, err, ErrBadHeader, "capacity above ceiling")

	raw := append([]byte(nil), s.Bytes()...)
	raw[0] ^= 0xFF
	_, err = Load(raw, 500)
	require.ErrorIs(t, err, ErrBadHeader)
}

func TestCloneIsIndependent(t *testing.T) {
	s, err := New(KindBids, 100)
	require.NoError(t, err)
	s.Grow(10)
	c := s.Clone()
	c.Grow(10)
	c.Payload()[0] = 1

	assert.Equal(t, uint32(10), s.Capacity())
	assert.Zero(t, s.Payload()[0])
	assert.Equal(t, uint32(20), c.Capacity())
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{KindBids, KindAsks, KindEventQueue} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("nope")
	assert.Error(t, err)
}
