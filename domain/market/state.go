// Package market is the matching and settlement engine for one binary
// outcome market: two slab-backed books, an event queue, per-user order
// slots and balances.
//
// Every exported mutator runs against a private copy of the state and only
// swaps it in on success, so a failed call leaves nothing behind.
package market

import (
	"fmt"
	"sort"

	"kerdos/domain/blob"
	"kerdos/domain/eventq"
	"kerdos/domain/slab"
	"kerdos/domain/types"
)

// Market is the header record of a market.
type Market struct {
	Name        string        `json:"name"`
	Authority   types.OwnerID `json:"authority"`
	Params      Params        `json:"params"`
	Paused      bool          `json:"paused"`
	FeesAccrued uint64        `json:"fees_accrued"`
	OrderSeq    uint64        `json:"order_seq"`
	EventSeq    uint64        `json:"event_seq"`
}

type State struct {
	Market Market

	bids   *blob.Store
	asks   *blob.Store
	eventq *blob.Store

	orders   map[types.OwnerID]*OpenOrders
	balances map[types.OwnerID]*UserBalance

	staged bool
}

// New creates a market with boot-sized books and queue. The regions can
// later grow up to the capacities in p.
func New(name string, authority types.OwnerID, p Params) (*State, error) {
	p = p.withDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty market name", ErrInvalidParams)
	}
	s := &State{
		Market:   Market{Name: name, Authority: authority, Params: p},
		orders:   make(map[types.OwnerID]*OpenOrders),
		balances: make(map[types.OwnerID]*UserBalance),
	}

	var err error
	for _, k := range []blob.Kind{blob.KindBids, blob.KindAsks} {
		st, e := blob.New(k, p.Ceiling(k))
		if e != nil {
			return nil, e
		}
		boot := min(uint32(BootNodes), p.MaxSlots(k))
		growTo(st, slab.RegionLen(boot))
		if _, e = slab.Format(st, p.MaxSlots(k)); e != nil {
			return nil, e
		}
		if k == blob.KindBids {
			s.bids = st
		} else {
			s.asks = st
		}
	}
	if s.eventq, err = blob.New(blob.KindEventQueue, p.Ceiling(blob.KindEventQueue)); err != nil {
		return nil, err
	}
	growTo(s.eventq, min(uint32(BootEvents), p.EventQueueCapacity)*eventq.EventLen)
	return s, nil
}

// growTo is only used at creation, where the per-call step limit does not apply.
func growTo(st *blob.Store, want uint32) {
	for st.Capacity() < want {
		if st.Grow(want-st.Capacity()) == 0 {
			return
		}
	}
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := &State{
		Market:   s.Market,
		bids:     s.bids.Clone(),
		asks:     s.asks.Clone(),
		eventq:   s.eventq.Clone(),
		orders:   make(map[types.OwnerID]*OpenOrders, len(s.orders)),
		balances: make(map[types.OwnerID]*UserBalance, len(s.balances)),
	}
	for k, v := range s.orders {
		c.orders[k] = v.clone()
	}
	for k, v := range s.balances {
		b := *v
		c.balances[k] = &b
	}
	return c
}

// Stage returns a private copy for a caller that already keeps the
// original as its rollback point. Operations on a staged copy mutate it in
// place, so after a failed operation the copy must be thrown away.
func (s *State) Stage() *State {
	c := s.Clone()
	c.staged = true
	return c
}

func (s *State) atomically(fn func(tx *State) error) error {
	if s.staged {
		return fn(s)
	}
	tx := s.Clone()
	if err := fn(tx); err != nil {
		return err
	}
	*s = *tx
	return nil
}

func (s *State) store(k blob.Kind) (*blob.Store, error) {
	switch k {
	case blob.KindBids:
		return s.bids, nil
	case blob.KindAsks:
		return s.asks, nil
	case blob.KindEventQueue:
		return s.eventq, nil
	}
	return nil, fmt.Errorf("%w: unknown region %s", ErrInvalidCapacity, k)
}

func bookKind(side types.Side) blob.Kind {
	if side == types.Bid {
		return blob.KindBids
	}
	return blob.KindAsks
}

func (s *State) book(side types.Side) (*slab.Slab, error) {
	st := s.asks
	if side == types.Bid {
		st = s.bids
	}
	b, err := slab.Open(st)
	if err != nil {
		return nil, fmt.Errorf("%w: %s book: %v", ErrCorrupt, side, err)
	}
	return b, nil
}

func (s *State) queue() (*eventq.Queue, error) {
	q, err := eventq.Open(s.eventq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return q, nil
}

// openOrders returns the owner's record, creating an empty one if needed.
func (s *State) openOrders(owner types.OwnerID) *OpenOrders {
	oo, ok := s.orders[owner]
	if !ok {
		oo = &OpenOrders{Owner: owner}
		s.orders[owner] = oo
	}
	return oo
}

func (s *State) balance(owner types.OwnerID) *UserBalance {
	b, ok := s.balances[owner]
	if !ok {
		b = &UserBalance{Owner: owner}
		s.balances[owner] = b
	}
	return b
}

// ---- read side ----

func (s *State) OpenOrders(owner types.OwnerID) (OpenOrders, bool) {
	oo, ok := s.orders[owner]
	if !ok {
		return OpenOrders{}, false
	}
	return *oo.clone(), true
}

func (s *State) Balance(owner types.OwnerID) (UserBalance, bool) {
	b, ok := s.balances[owner]
	if !ok {
		return UserBalance{}, false
	}
	return *b, true
}

// Owners lists every owner with a balance or order record, sorted.
func (s *State) Owners() []types.OwnerID {
	seen := make(map[types.OwnerID]struct{}, len(s.balances))
	for k := range s.balances {
		seen[k] = struct{}{}
	}
	for k := range s.orders {
		seen[k] = struct{}{}
	}
	out := make([]types.OwnerID, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// RegionInfo describes one growable region.
type RegionInfo struct {
	Kind     blob.Kind `json:"kind"`
	Capacity uint32    `json:"capacity"`
	Used     uint32    `json:"used"`
	Ceiling  uint32    `json:"ceiling"`
	Slots    uint32    `json:"slots"`
	Live     uint32    `json:"live"`
}

func (s *State) Region(k blob.Kind) (RegionInfo, error) {
	st, err := s.store(k)
	if err != nil {
		return RegionInfo{}, err
	}
	info := RegionInfo{Kind: k, Capacity: st.Capacity(), Used: st.Used(), Ceiling: st.Ceiling()}
	if k == blob.KindEventQueue {
		q, err := s.queue()
		if err != nil {
			return RegionInfo{}, err
		}
		info.Slots, info.Live = uint32(q.Cap()), uint32(q.Len())
		return info, nil
	}
	b, err := slab.Open(st)
	if err != nil {
		return RegionInfo{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	info.Slots, info.Live = b.Cap(), b.Len()
	return info, nil
}

// PendingEvents returns up to n queued events without consuming them.
func (s *State) PendingEvents(n int) []eventq.Event {
	q, err := s.queue()
	if err != nil {
		return nil
	}
	return q.Peek(n)
}

func (s *State) QueueLen() int {
	q, err := s.queue()
	if err != nil {
		return 0
	}
	return q.Len()
}
