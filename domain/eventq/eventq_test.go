package eventq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"kerdos/domain/blob"
	"kerdos/domain/types"
)

func newQueue(t require.TestingT, slots, max int) *Queue {
	st, err := blob.New(blob.KindEventQueue, uint32(max*EventLen))
	require.NoError(t, err)
	for st.Capacity() < uint32(slots*EventLen) {
		st.Grow(uint32(slots*EventLen) - st.Capacity())
	}
	q, err := Open(st)
	require.NoError(t, err)
	return q
}

func ev(seq uint64) Event {
	var m, k types.OwnerID
	m[0], k[0] = 1, 2
	return Event{Maker: m, Taker: k, Price: 100 + seq, Qty: seq, Seq: seq, TakerSide: types.Side(seq % 2)}
}

func TestAppendAndDrainFIFO(t *testing.T) {
	q := newQueue(t, 4, 4)
	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, q.Append(ev(i)))
	}
	require.ErrorIs(t, q.Append(ev(5)), ErrFull)
	assert.Equal(t, 4, q.Len())

	got := q.Drain(3)
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, ev(uint64(i+1)), e)
	}
	assert.Equal(t, 1, q.Len())

	head, err := q.At(0)
	require.NoError(t, err)
	assert.Equal(t, ev(4), head, "survivor moved to the front")

	require.NoError(t, q.Append(ev(5)))
	assert.Equal(t, []Event{ev(4), ev(5)}, q.Peek(10))
}

func TestDrainMoreThanQueued(t *testing.T) {
	q := newQueue(t, 4, 4)
	require.NoError(t, q.Append(ev(1)))
	assert.Len(t, q.Drain(10), 1)
	assert.True(t, q.Empty())
	assert.Empty(t, q.Drain(1))
}

func TestReserveGrowsWithinCeiling(t *testing.T) {
	q := newQueue(t, 2, 300)
	require.NoError(t, q.Append(ev(1)))
	require.NoError(t, q.Append(ev(2)))

	require.NoError(t, q.Reserve(1))
	assert.Greater(t, q.Cap(), 2)
	assert.LessOrEqual(t, q.Cap()*EventLen-2*EventLen, blob.MaxGrowStep)
	require.NoError(t, q.Append(ev(3)))
	assert.Equal(t, 3, q.Len())
}

func TestReserveAtCeiling(t *testing.T) {
	q := newQueue(t, 2, 2)
	require.NoError(t, q.Append(ev(1)))
	require.NoError(t, q.Append(ev(2)))
	require.ErrorIs(t, q.Reserve(1), ErrFull)
	assert.Equal(t, 2, q.Len())
}

func TestAtOutOfRange(t *testing.T) {
	q := newQueue(t, 2, 2)
	_, err := q.At(0)
	require.ErrorIs(t, err, ErrRange)
}

func TestClearAndReferences(t *testing.T) {
	q := newQueue(t, 4, 4)
	require.NoError(t, q.Append(ev(1)))
	require.NoError(t, q.Append(ev(2)))

	var maker types.OwnerID
	maker[0] = 1
	var stranger types.OwnerID
	stranger[0] = 9
	assert.True(t, q.References(maker))
	assert.False(t, q.References(stranger))

	assert.Equal(t, 2, q.Clear())
	assert.True(t, q.Empty())
	assert.False(t, q.References(maker))
}

func TestOpenRejectsBooks(t *testing.T) {
	st, err := blob.New(blob.KindBids, 100)
	require.NoError(t, err)
	_, err = Open(st)
	require.ErrorIs(t, err, ErrNotFill)
}

func TestBuyerSeller(t *testing.T) {
	e := ev(2) // bid taker
	assert.Equal(t, e.Taker, e.Buyer())
	assert.Equal(t, e.Maker, e.Seller())
	e.TakerSide = types.Ask
	assert.Equal(t, e.Maker, e.Buyer())
	assert.Equal(t, e.Taker, e.Seller())
}

// Whatever the interleaving of appends and drains, events come out in the
// order they went in.
func TestQueueIsFIFO(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := newQueue(t, 1, 256)
		var next, expect uint64 = 1, 1
		for i := rapid.IntRange(1, 100).Draw(t, "ops"); i > 0; i-- {
			if rapid.Bool().Draw(t, "append") {
				n := rapid.IntRange(1, 5).Draw(t, "n")
				if err := q.Reserve(n); err != nil {
					continue
				}
				for j := 0; j < n; j++ {
					if err := q.Append(ev(next)); err != nil {
						t.Fatalf("append after reserve: %v", err)
					}
					next++
				}
				continue
			}
			for _, e := range q.Drain(rapid.IntRange(0, 7).Draw(t, "drain")) {
				if e.Seq != expect {
					t.Fatalf("got seq %d, want %d", e.Seq, expect)
				}
				expect++
			}
		}
		if got := uint64(q.Len()); got != next-expect {
			t.Fatalf("len %d, want %d", got, next-expect)
		}
	})
}
