package market

import (
	"fmt"

	"kerdos/domain/types"
)

type OrderStatus uint8

const (
	StatusEmpty OrderStatus = iota
	StatusActive
	StatusInactive
	// StatusClosed is only reported; a closed record is removed from state.
	StatusClosed
)

func (s OrderStatus) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusActive:
		return "active"
	case StatusInactive:
		return "inactive"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Resting is the book position an active record points at.
type Resting struct {
	Node       uint32     `json:"node"`
	Side       types.Side `json:"side"`
	Price      uint64     `json:"price"`
	Qty        uint64     `json:"qty"`
	Seq        uint64     `json:"seq"`
	Collateral uint64     `json:"collateral"`
}

// OpenOrders is a user's single order slot. Resting is set exactly when the
// status is active.
type OpenOrders struct {
	Owner   types.OwnerID `json:"owner"`
	Status  OrderStatus   `json:"status"`
	Resting *Resting      `json:"resting,omitempty"`
}

func (o *OpenOrders) Active() bool { return o.Status == StatusActive }

// LockedCollateral is what would be refunded if the order left the book now.
func (o *OpenOrders) LockedCollateral() uint64 {
	if o.Resting == nil {
		return 0
	}
	return o.Resting.Collateral
}

func (o *OpenOrders) activate(r Resting) {
	o.Status = StatusActive
	o.Resting = &r
}

// deactivate releases the book position and returns the collateral to refund.
func (o *OpenOrders) deactivate() uint64 {
	refund := o.LockedCollateral()
	o.Status = StatusInactive
	o.Resting = nil
	return refund
}

func (o *OpenOrders) clone() *OpenOrders {
	c := *o
	if o.Resting != nil {
		r := *o.Resting
		c.Resting = &r
	}
	return &c
}

// Leg selects one of the two balance legs.
type Leg uint8

const (
	LegBase Leg = iota
	LegQuote
)

func (l Leg) String() string {
	if l == LegBase {
		return "base"
	}
	return "quote"
}

func ParseLeg(s string) (Leg, error) {
	switch s {
	case "base":
		return LegBase, nil
	case "quote":
		return LegQuote, nil
	}
	return 0, fmt.Errorf("unknown leg %q", s)
}

type UserBalance struct {
	Owner     types.OwnerID `json:"owner"`
	BaseFree  uint64        `json:"base_free"`
	QuoteFree uint64        `json:"quote_free"`
}

func (b *UserBalance) leg(l Leg) *uint64 {
	if l == LegBase {
		return &b.BaseFree
	}
	return &b.QuoteFree
}

func (b *UserBalance) credit(l Leg, amt uint64) error {
	p := b.leg(l)
	if *p+amt < *p {
		return fmt.Errorf("%w: %s credit %d on %d", ErrOverflow, l, amt, *p)
	}
	*p += amt
	return nil
}

func (b *UserBalance) debit(l Leg, amt uint64) error {
	p := b.leg(l)
	if *p < amt {
		return fmt.Errorf("%w: owner %s %s has %d, needs %d", ErrInsufficientBalance, b.Owner.Short(), l, *p, amt)
	}
	*p -= amt
	return nil
}
