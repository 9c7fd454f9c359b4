package service

import (
	"sort"

	"github.com/pkg/errors"

	"kerdos/domain/blob"
	"kerdos/domain/eventq"
	"kerdos/domain/market"
	"kerdos/domain/types"
)

// committed returns the current committed state of a market. The result
// is never mutated and can be read without locks.
func (s *MarketService) committed(name string) (*market.State, error) {
	b, err := s.book(name)
	if err != nil {
		return nil, err
	}
	return b.state.Load(), nil
}

// Markets lists the market headers sorted by name.
func (s *MarketService) Markets() []market.Market {
	s.mu.RLock()
	books := make([]*book, 0, len(s.markets))
	for _, b := range s.markets {
		books = append(books, b)
	}
	s.mu.RUnlock()

	out := make([]market.Market, 0, len(books))
	for _, b := range books {
		out = append(out, b.state.Load().Market)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *MarketService) Market(name string) (market.Market, error) {
	st, err := s.committed(name)
	if err != nil {
		return market.Market{}, err
	}
	return st.Market, nil
}

func (s *MarketService) Depth(name string, side types.Side, levels int) ([]market.Level, error) {
	st, err := s.committed(name)
	if err != nil {
		return nil, err
	}
	return st.Depth(side, levels)
}

// Balance returns the owner's balance record, or a zero record if the
// owner never traded in the market.
func (s *MarketService) Balance(name string, owner types.OwnerID) (market.UserBalance, error) {
	st, err := s.committed(name)
	if err != nil {
		return market.UserBalance{}, err
	}
	if b, ok := st.Balance(owner); ok {
		return b, nil
	}
	return market.UserBalance{Owner: owner}, nil
}

func (s *MarketService) OpenOrders(name string, owner types.OwnerID) (market.OpenOrders, error) {
	st, err := s.committed(name)
	if err != nil {
		return market.OpenOrders{}, err
	}
	if oo, ok := st.OpenOrders(owner); ok {
		return oo, nil
	}
	return market.OpenOrders{Owner: owner, Status: market.StatusEmpty}, nil
}

// PendingEvents peeks at up to n unsettled fills from the head of the queue.
func (s *MarketService) PendingEvents(name string, n int) ([]eventq.Event, error) {
	st, err := s.committed(name)
	if err != nil {
		return nil, err
	}
	return st.PendingEvents(n), nil
}

func (s *MarketService) Regions(name string) ([]market.RegionInfo, error) {
	st, err := s.committed(name)
	if err != nil {
		return nil, err
	}
	out := make([]market.RegionInfo, 0, 3)
	for _, k := range []blob.Kind{blob.KindBids, blob.KindAsks, blob.KindEventQueue} {
		info, err := st.Region(k)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Check verifies the structural invariants of every market.
func (s *MarketService) Check() error {
	for _, m := range s.Markets() {
		st, err := s.committed(m.Name)
		if err != nil {
			return err
		}
		if err := st.Check(); err != nil {
			return errors.Wrapf(err, "market %q", m.Name)
		}
	}
	return nil
}
