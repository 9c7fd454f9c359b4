// Package slab stores resting orders for one side of a book inside a blob
// payload. Slots are fixed-size records addressed by stable uint32 indices;
// reclaimed slots go on an index-linked free list, live slots form a
// red-black tree ordered by price/time priority.
package slab

import (
	"encoding/binary"
	"errors"
	"fmt"

	"kerdos/domain/blob"
	"kerdos/domain/types"
)

var (
	ErrFull         = errors.New("slab: no free slots")
	ErrInvalidNode  = errors.New("slab: invalid node")
	ErrNotFormatted = errors.New("slab: region too small for header")
	ErrCorrupt      = errors.New("slab: corrupt")
)

// header field offsets
const (
	hCap  = 0
	hUsed = 4
	hFree = 8
	hRoot = 12
	hBest = 16
)

// Slab is a view over a bids or asks blob. It holds no state of its own, so
// it stays valid for as long as the store does.
type Slab struct {
	store *blob.Store
	side  types.Side
}

func sideFor(k blob.Kind) (types.Side, error) {
	switch k {
	case blob.KindBids:
		return types.Bid, nil
	case blob.KindAsks:
		return types.Ask, nil
	}
	return 0, fmt.Errorf("%w: blob kind %s is not a book", ErrCorrupt, k)
}

// Format writes an empty slab header and threads every slot that fits in
// the current payload (up to max) onto the free list.
func Format(store *blob.Store, max uint32) (*Slab, error) {
	side, err := sideFor(store.Kind())
	if err != nil {
		return nil, err
	}
	if store.Capacity() < HeaderLen {
		return nil, ErrNotFormatted
	}
	s := &Slab{store: store, side: side}
	encodeHeader(s.buf(), Header{FreeHead: Null, Root: Null, Best: Null})
	s.Extend(max)
	return s, nil
}

// Open attaches to a store that was previously formatted.
func Open(store *blob.Store) (*Slab, error) {
	side, err := sideFor(store.Kind())
	if err != nil {
		return nil, err
	}
	if store.Capacity() < HeaderLen {
		return nil, ErrNotFormatted
	}
	s := &Slab{store: store, side: side}
	h := s.Header()
	if h.Capacity > SlotsFor(store.Capacity()) || h.Used > h.Capacity {
		return nil, fmt.Errorf("%w: header cap=%d used=%d region=%d", ErrCorrupt, h.Capacity, h.Used, store.Capacity())
	}
	return s, nil
}

func (s *Slab) buf() []byte { return s.store.Payload() }

func (s *Slab) Side() types.Side { return s.side }

func (s *Slab) Header() Header { return decodeHeader(s.buf()) }

func (s *Slab) hget(off int) uint32 {
	return binary.LittleEndian.Uint32(s.buf()[off:])
}

func (s *Slab) hset(off int, v uint32) {
	binary.LittleEndian.PutUint32(s.buf()[off:], v)
}

func (s *Slab) Cap() uint32  { return s.hget(hCap) }
func (s *Slab) Len() uint32  { return s.hget(hUsed) }
func (s *Slab) Free() uint32 { return s.Cap() - s.Len() }

// Extend formats the slots made available by blob growth, capped at max.
// It returns how many slots were added.
func (s *Slab) Extend(max uint32) uint32 {
	cur := s.Cap()
	target := SlotsFor(s.store.Capacity())
	if target > max {
		target = max
	}
	if target <= cur {
		return 0
	}
	// Push in reverse so the lowest new index is handed out first.
	free := s.hget(hFree)
	for i := target; i > cur; i-- {
		idx := i - 1
		s.zero(idx)
		s.setU32(idx, offNext, free)
		free = idx
	}
	s.hset(hFree, free)
	s.hset(hCap, target)
	_ = s.store.SetUsed(RegionLen(target))
	return target - cur
}

// ---- raw node access ----

func (s *Slab) u32(i uint32, off int) uint32 {
	return binary.LittleEndian.Uint32(s.buf()[nodeOffset(i)+off:])
}

func (s *Slab) setU32(i uint32, off int, v uint32) {
	binary.LittleEndian.PutUint32(s.buf()[nodeOffset(i)+off:], v)
}

func (s *Slab) u64(i uint32, off int) uint64 {
	return binary.LittleEndian.Uint64(s.buf()[nodeOffset(i)+off:])
}

func (s *Slab) setU64(i uint32, off int, v uint64) {
	binary.LittleEndian.PutUint64(s.buf()[nodeOffset(i)+off:], v)
}

func (s *Slab) zero(i uint32) {
	clear(s.buf()[nodeOffset(i) : nodeOffset(i)+NodeLen])
}

func (s *Slab) live(i uint32) bool {
	return i < s.Cap() && s.buf()[nodeOffset(i)+offFlags]&flagLive != 0
}

func (s *Slab) parent(i uint32) uint32 { return s.u32(i, offParent) }
func (s *Slab) left(i uint32) uint32   { return s.u32(i, offLeft) }
func (s *Slab) right(i uint32) uint32  { return s.u32(i, offRight) }

func (s *Slab) setParent(i, v uint32) { s.setU32(i, offParent, v) }
func (s *Slab) setLeft(i, v uint32)   { s.setU32(i, offLeft, v) }
func (s *Slab) setRight(i, v uint32)  { s.setU32(i, offRight, v) }

// Null counts as black.
func (s *Slab) colorOf(i uint32) color {
	if i == Null {
		return black
	}
	return color(s.buf()[nodeOffset(i)+offColor])
}

func (s *Slab) setColor(i uint32, c color) {
	if i == Null {
		return
	}
	s.buf()[nodeOffset(i)+offColor] = byte(c)
}

func (s *Slab) price(i uint32) uint64 { return s.u64(i, offPrice) }
func (s *Slab) seq(i uint32) uint64   { return s.u64(i, offSeq) }

// before reports whether node a has priority over node b: better price
// first, then lower sequence.
func (s *Slab) before(a, b uint32) bool {
	pa, pb := s.price(a), s.price(b)
	if pa != pb {
		if s.side == types.Ask {
			return pa < pb
		}
		return pa > pb
	}
	return s.seq(a) < s.seq(b)
}

func (s *Slab) readNode(i uint32) Node {
	off := nodeOffset(i)
	b := s.buf()
	var n Node
	copy(n.Owner[:], b[off+offOwner:off+offOwner+types.OwnerIDLen])
	n.Price = binary.LittleEndian.Uint64(b[off+offPrice:])
	n.Qty = binary.LittleEndian.Uint64(b[off+offQty:])
	n.Seq = binary.LittleEndian.Uint64(b[off+offSeq:])
	n.Side = types.Side(b[off+offSide])
	return n
}

// ---- allocation ----

func (s *Slab) alloc() (uint32, error) {
	idx := s.hget(hFree)
	if idx == Null {
		return Null, ErrFull
	}
	s.hset(hFree, s.u32(idx, offNext))
	s.hset(hUsed, s.Len()+1)
	s.zero(idx)
	return idx, nil
}

func (s *Slab) release(idx uint32) {
	s.zero(idx)
	s.setU32(idx, offNext, s.hget(hFree))
	s.hset(hFree, idx)
	s.hset(hUsed, s.Len()-1)
}

// ---- public API ----

// Insert stores a resting order and returns its slot index. seq must be
// unique within the book; it breaks ties between equal prices.
func (s *Slab) Insert(owner types.OwnerID, price, qty, seq uint64) (uint32, error) {
	if qty == 0 {
		return Null, fmt.Errorf("%w: zero quantity", ErrInvalidNode)
	}
	idx, err := s.alloc()
	if err != nil {
		return Null, err
	}
	off := nodeOffset(idx)
	b := s.buf()
	copy(b[off+offOwner:], owner[:])
	s.setU64(idx, offPrice, price)
	s.setU64(idx, offQty, qty)
	s.setU64(idx, offSeq, seq)
	s.setU32(idx, offNext, Null)
	b[off+offSide] = byte(s.side)
	b[off+offFlags] = flagLive

	s.treeInsert(idx)
	if best := s.hget(hBest); best == Null || s.before(idx, best) {
		s.hset(hBest, idx)
	}
	return idx, nil
}

// Remove unlinks a live node and returns its slot to the free list.
func (s *Slab) Remove(idx uint32) error {
	if !s.live(idx) {
		return fmt.Errorf("%w: %d", ErrInvalidNode, idx)
	}
	if s.hget(hBest) == idx {
		s.hset(hBest, s.successor(idx))
	}
	s.treeDelete(idx)
	s.release(idx)
	return nil
}

// PeekBest returns the slot with the highest priority, if any.
func (s *Slab) PeekBest() (uint32, bool) {
	b := s.hget(hBest)
	return b, b != Null
}

func (s *Slab) Get(idx uint32) (Node, error) {
	if !s.live(idx) {
		return Node{}, fmt.Errorf("%w: %d", ErrInvalidNode, idx)
	}
	return s.readNode(idx), nil
}

// Reduce takes qty off a node, removing it when nothing remains.
func (s *Slab) Reduce(idx uint32, qty uint64) (remaining uint64, err error) {
	if !s.live(idx) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidNode, idx)
	}
	have := s.u64(idx, offQty)
	if qty >= have {
		return 0, s.Remove(idx)
	}
	s.setU64(idx, offQty, have-qty)
	return have - qty, nil
}

// Walk visits live nodes in priority order until fn returns false.
func (s *Slab) Walk(fn func(idx uint32, n Node) bool) {
	for i := s.hget(hBest); i != Null; i = s.successor(i) {
		if !fn(i, s.readNode(i)) {
			return
		}
	}
}

// Find returns the first node owned by owner, in priority order.
func (s *Slab) Find(owner types.OwnerID) (uint32, bool) {
	found := Null
	s.Walk(func(idx uint32, n Node) bool {
		if n.Owner == owner {
			found = idx
			return false
		}
		return true
	})
	return found, found != Null
}

// Owned reports whether idx is live and belongs to owner.
func (s *Slab) Owned(idx uint32, owner types.OwnerID) bool {
	if !s.live(idx) {
		return false
	}
	off := nodeOffset(idx)
	return types.OwnerID(s.buf()[off+offOwner:off+offOwner+types.OwnerIDLen]) == owner
}
