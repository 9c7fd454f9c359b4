package market

import (
	"fmt"

	"kerdos/domain/slab"
	"kerdos/domain/types"
)

// Level is the aggregated resting quantity at one price.
type Level struct {
	Price  uint64 `json:"price"`
	Qty    uint64 `json:"qty"`
	Orders int    `json:"orders"`
}

// Depth returns up to levels price levels of one side, best first.
func (s *State) Depth(side types.Side, levels int) ([]Level, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	b, err := s.book(side)
	if err != nil {
		return nil, err
	}
	var out []Level
	b.Walk(func(_ uint32, n slab.Node) bool {
		if len(out) > 0 && out[len(out)-1].Price == n.Price {
			out[len(out)-1].Qty += n.Qty
			out[len(out)-1].Orders++
			return true
		}
		if levels > 0 && len(out) == levels {
			return false
		}
		out = append(out, Level{Price: n.Price, Qty: n.Qty, Orders: 1})
		return true
	})
	return out, nil
}

// BestPrice returns the top of one side.
func (s *State) BestPrice(side types.Side) (uint64, bool) {
	b, err := s.book(side)
	if err != nil {
		return 0, false
	}
	idx, ok := b.PeekBest()
	if !ok {
		return 0, false
	}
	n, err := b.Get(idx)
	if err != nil {
		return 0, false
	}
	return n.Price, true
}

// Check verifies both books and the queue, and that order records and book
// nodes agree with each other.
func (s *State) Check() error {
	nodes := make(map[types.OwnerID]int)
	for _, side := range []types.Side{types.Bid, types.Ask} {
		b, err := s.book(side)
		if err != nil {
			return err
		}
		if err := b.Check(); err != nil {
			return fmt.Errorf("%s book: %w", side, err)
		}
		var bad error
		b.Walk(func(idx uint32, n slab.Node) bool {
			nodes[n.Owner]++
			oo, ok := s.orders[n.Owner]
			if !ok || !oo.Active() || oo.Resting.Side != side || oo.Resting.Node != idx {
				bad = fmt.Errorf("%w: %s node %d owned by %s has no matching record", ErrCorrupt, side, idx, n.Owner.Short())
				return false
			}
			if oo.Resting.Qty != n.Qty {
				bad = fmt.Errorf("%w: %s node %d qty %d, record says %d", ErrCorrupt, side, idx, n.Qty, oo.Resting.Qty)
				return false
			}
			return true
		})
		if bad != nil {
			return bad
		}
	}
	for owner, oo := range s.orders {
		if oo.Owner != owner {
			return fmt.Errorf("%w: record keyed %s names %s", ErrCorrupt, owner.Short(), oo.Owner.Short())
		}
		if oo.Active() != (oo.Resting != nil) {
			return fmt.Errorf("%w: owner %s status %s with resting=%v", ErrCorrupt, owner.Short(), oo.Status, oo.Resting != nil)
		}
		if oo.Active() && nodes[owner] != 1 {
			return fmt.Errorf("%w: owner %s active with %d book nodes", ErrCorrupt, owner.Short(), nodes[owner])
		}
	}
	if _, err := s.queue(); err != nil {
		return err
	}
	return nil
}
