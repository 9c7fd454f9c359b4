package market

import (
	"fmt"
	"sort"

	"kerdos/domain/blob"
	"kerdos/domain/types"
)

// Image is a flat, serialisable copy of a State.
type Image struct {
	Market     Market
	Bids       []byte
	Asks       []byte
	EventQueue []byte
	Orders     []OpenOrders
	Balances   []UserBalance
}

// Export copies the state into an Image. Records are sorted by owner so
// equal states produce equal images.
func (s *State) Export() Image {
	img := Image{
		Market:     s.Market,
		Bids:       append([]byte(nil), s.bids.Bytes()...),
		Asks:       append([]byte(nil), s.asks.Bytes()...),
		EventQueue: append([]byte(nil), s.eventq.Bytes()...),
		Orders:     make([]OpenOrders, 0, len(s.orders)),
		Balances:   make([]UserBalance, 0, len(s.balances)),
	}
	for _, oo := range s.orders {
		img.Orders = append(img.Orders, *oo.clone())
	}
	for _, b := range s.balances {
		img.Balances = append(img.Balances, *b)
	}
	sort.Slice(img.Orders, func(i, j int) bool { return less(img.Orders[i].Owner, img.Orders[j].Owner) })
	sort.Slice(img.Balances, func(i, j int) bool { return less(img.Balances[i].Owner, img.Balances[j].Owner) })
	return img
}

func less(a, b types.OwnerID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Import rebuilds a State from an Image and verifies it.
func Import(img Image) (*State, error) {
	p := img.Market.Params
	if err := p.Validate(); err != nil {
		return nil, err
	}
	s := &State{
		Market:   img.Market,
		orders:   make(map[types.OwnerID]*OpenOrders, len(img.Orders)),
		balances: make(map[types.OwnerID]*UserBalance, len(img.Balances)),
	}
	var err error
	if s.bids, err = loadRegion(img.Bids, blob.KindBids, p); err != nil {
		return nil, err
	}
	if s.asks, err = loadRegion(img.Asks, blob.KindAsks, p); err != nil {
		return nil, err
	}
	if s.eventq, err = loadRegion(img.EventQueue, blob.KindEventQueue, p); err != nil {
		return nil, err
	}
	for _, oo := range img.Orders {
		s.orders[oo.Owner] = oo.clone()
	}
	for _, b := range img.Balances {
		s.balances[b.Owner] = &b
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return s, nil
}

func loadRegion(raw []byte, k blob.Kind, p Params) (*blob.Store, error) {
	st, err := blob.Load(raw, p.Ceiling(k))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k, err)
	}
	if st.Kind() != k {
		return nil, fmt.Errorf("%w: region %s holds %s", blob.ErrBadHeader, k, st.Kind())
	}
	return st, nil
}
