// Package eventq is the FIFO of fill events written by matching and drained
// by settlement. Records are packed from the start of the blob payload;
// draining compacts the survivors to the front, so growing the region never
// has to move a wrapped tail.
package eventq

import (
	"encoding/binary"
	"errors"
	"fmt"

	"kerdos/domain/blob"
	"kerdos/domain/types"
)

// EventLen is the size of one record:
//
//	[maker:32][taker:32][price:8][qty:8][seq:8][taker_side:1][pad:7]
const EventLen = 96

var (
	ErrFull    = errors.New("event queue full")
	ErrNotFill = errors.New("eventq: blob is not an event queue")
	ErrRange   = errors.New("eventq: index out of range")
)

type Event struct {
	Maker     types.OwnerID
	Taker     types.OwnerID
	Price     uint64
	Qty       uint64
	Seq       uint64
	TakerSide types.Side
}

// Buyer and Seller resolve the maker/taker pair by the taker's side.
func (e Event) Buyer() types.OwnerID {
	if e.TakerSide == types.Bid {
		return e.Taker
	}
	return e.Maker
}

func (e Event) Seller() types.OwnerID {
	if e.TakerSide == types.Bid {
		return e.Maker
	}
	return e.Taker
}

func encode(dst []byte, e Event) {
	_ = dst[EventLen-1]
	copy(dst[0:32], e.Maker[:])
	copy(dst[32:64], e.Taker[:])
	binary.LittleEndian.PutUint64(dst[64:72], e.Price)
	binary.LittleEndian.PutUint64(dst[72:80], e.Qty)
	binary.LittleEndian.PutUint64(dst[80:88], e.Seq)
	dst[88] = byte(e.TakerSide)
	clear(dst[89:EventLen])
}

func decode(src []byte) Event {
	_ = src[EventLen-1]
	var e Event
	copy(e.Maker[:], src[0:32])
	copy(e.Taker[:], src[32:64])
	e.Price = binary.LittleEndian.Uint64(src[64:72])
	e.Qty = binary.LittleEndian.Uint64(src[72:80])
	e.Seq = binary.LittleEndian.Uint64(src[80:88])
	e.TakerSide = types.Side(src[88])
	return e
}

// Queue is a view over an event-queue blob.
type Queue struct {
	store *blob.Store
}

func Open(store *blob.Store) (*Queue, error) {
	if store.Kind() != blob.KindEventQueue {
		return nil, ErrNotFill
	}
	if store.Used()%EventLen != 0 {
		return nil, fmt.Errorf("eventq: used %d is not a multiple of %d", store.Used(), EventLen)
	}
	return &Queue{store: store}, nil
}

// Len is the number of queued events.
func (q *Queue) Len() int { return int(q.store.Used() / EventLen) }

// Cap is the number of event slots the current region can hold.
func (q *Queue) Cap() int { return int(q.store.Capacity() / EventLen) }

// Max is the number of event slots the region can ever hold.
func (q *Queue) Max() int { return int(q.store.Ceiling() / EventLen) }

func (q *Queue) Empty() bool { return q.store.Used() == 0 }

func (q *Queue) slot(i int) []byte {
	off := i * EventLen
	return q.store.Payload()[off : off+EventLen]
}

// Append adds e at the tail. It never grows the region.
func (q *Queue) Append(e Event) error {
	n := q.Len()
	if n >= q.Cap() {
		return fmt.Errorf("%w: %d/%d", ErrFull, n, q.Cap())
	}
	encode(q.slot(n), e)
	return q.store.SetUsed(uint32(n+1) * EventLen)
}

// Reserve makes room for n more events, growing by at most one bounded
// step. It fails with ErrFull when the queue cannot take n more events.
func (q *Queue) Reserve(n int) error {
	want := q.Len() + n
	if want <= q.Cap() {
		return nil
	}
	if want > q.Max() {
		return fmt.Errorf("%w: need %d slots, max %d", ErrFull, want, q.Max())
	}
	// Grow a full step's worth of whole records when possible.
	step := uint32(blob.MaxGrowStep / EventLen * EventLen)
	target := q.store.Capacity() + step
	if need := uint32(want) * EventLen; target < need {
		target = need
	}
	if target > q.store.Ceiling() {
		target = q.store.Ceiling()
	}
	if err := q.store.Ensure(target); err != nil {
		return fmt.Errorf("%w: %v", ErrFull, err)
	}
	return nil
}

func (q *Queue) At(i int) (Event, error) {
	if i < 0 || i >= q.Len() {
		return Event{}, fmt.Errorf("%w: %d of %d", ErrRange, i, q.Len())
	}
	return decode(q.slot(i)), nil
}

// Peek returns up to n events from the head without removing them.
func (q *Queue) Peek(n int) []Event {
	if n > q.Len() {
		n = q.Len()
	}
	out := make([]Event, n)
	for i := range out {
		out[i] = decode(q.slot(i))
	}
	return out
}

// Drain removes up to n events from the head and returns them in order.
func (q *Queue) Drain(n int) []Event {
	out := q.Peek(n)
	if len(out) == 0 {
		return out
	}
	used := int(q.store.Used())
	payload := q.store.Payload()
	cut := len(out) * EventLen
	copy(payload, payload[cut:used])
	clear(payload[used-cut : used])
	_ = q.store.SetUsed(uint32(used - cut))
	return out
}

// Clear drops every queued event.
func (q *Queue) Clear() int {
	n := q.Len()
	clear(q.store.Payload()[:q.store.Used()])
	_ = q.store.SetUsed(0)
	return n
}

// References reports whether any queued event names owner.
func (q *Queue) References(owner types.OwnerID) bool {
	for i := 0; i < q.Len(); i++ {
		e := decode(q.slot(i))
		if e.Maker == owner || e.Taker == owner {
			return true
		}
	}
	return false
}
