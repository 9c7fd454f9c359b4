package market

import (
	"errors"
	"fmt"
	"math/bits"

	"kerdos/domain/eventq"
	"kerdos/domain/slab"
	"kerdos/domain/types"
)

type PlaceOrder struct {
	Owner            types.OwnerID `json:"owner"`
	Side             types.Side    `json:"side"`
	PriceTicks       uint64        `json:"price_ticks"`
	BaseQty          uint64        `json:"base_qty"`
	MaxSlippageTicks uint64        `json:"max_slippage_ticks"`
	Collateral       uint64        `json:"collateral"`
}

// Refund is collateral handed back to a maker whose order left the book.
type Refund struct {
	Owner  types.OwnerID `json:"owner"`
	Amount uint64        `json:"amount"`
}

type PlaceResult struct {
	Fills  []eventq.Event `json:"fills"`
	Filled uint64         `json:"filled"`
	// Rested is set when a remainder was inserted into the book.
	Rested    bool     `json:"rested"`
	Node      uint32   `json:"node"`
	Remaining uint64   `json:"remaining"`
	Locked    uint64   `json:"locked"`
	Refunds   []Refund `json:"refunds,omitempty"`
}

func (s *State) validatePlace(req PlaceOrder) error {
	p := s.Market.Params
	switch {
	case s.Market.Paused:
		return ErrMarketPaused
	case !req.Side.Valid():
		return fmt.Errorf("%w: %d", ErrInvalidSide, req.Side)
	case req.PriceTicks == 0 || req.PriceTicks%p.TickSize != 0:
		return fmt.Errorf("%w: price %d, tick %d", ErrInvalidTick, req.PriceTicks, p.TickSize)
	case req.BaseQty < p.MinBaseQty:
		return fmt.Errorf("%w: %d < %d", ErrQtyTooSmall, req.BaseQty, p.MinBaseQty)
	case req.BaseQty%p.MinBaseQty != 0:
		return fmt.Errorf("%w: %d %% %d", ErrInvalidQtyStep, req.BaseQty, p.MinBaseQty)
	case req.Collateral == 0:
		return fmt.Errorf("%w: zero collateral", ErrInvalidAmount)
	}
	return nil
}

// crosses reports whether a taker limit can trade against a maker price.
func crosses(side types.Side, limit, maker uint64) bool {
	if side == types.Bid {
		return maker <= limit
	}
	return maker >= limit
}

// distance is how far the maker price sits from the taker's limit.
func distance(limit, maker uint64) uint64 {
	if limit > maker {
		return limit - maker
	}
	return maker - limit
}

// Notional is price*qty with overflow detection.
func Notional(price, qty uint64) (uint64, error) {
	hi, lo := bits.Mul64(price, qty)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, price, qty)
	}
	return lo, nil
}

// PlaceOrder matches req against the opposite book in price/time priority,
// writes one fill event per maker touched and rests any remainder.
//
// Matching stops at the first maker outside the taker's limit or outside
// the band of MaxSlippageTicks around it; what is left rests at the limit.
// Collateral is only locked when something rests. A maker that is filled
// completely leaves the book and gets its collateral back in the result.
func (s *State) PlaceOrder(req PlaceOrder) (*PlaceResult, error) {
	var res *PlaceResult
	err := s.atomically(func(tx *State) error {
		r, err := tx.placeOrder(req)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (tx *State) placeOrder(req PlaceOrder) (*PlaceResult, error) {
	if err := tx.validatePlace(req); err != nil {
		return nil, err
	}
	oo := tx.openOrders(req.Owner)
	if oo.Active() {
		return nil, ErrOrderAlreadyActive
	}
	tx.balance(req.Owner)

	opp, err := tx.book(req.Side.Opposite())
	if err != nil {
		return nil, err
	}
	q, err := tx.queue()
	if err != nil {
		return nil, err
	}

	res := &PlaceResult{Node: slab.Null}
	remaining := req.BaseQty
	for remaining > 0 {
		best, ok := opp.PeekBest()
		if !ok {
			break
		}
		maker, err := opp.Get(best)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if !crosses(req.Side, req.PriceTicks, maker.Price) {
			break
		}
		if distance(req.PriceTicks, maker.Price) > req.MaxSlippageTicks {
			break
		}

		fill := min(remaining, maker.Qty)
		if _, err := Notional(maker.Price, fill); err != nil {
			return nil, err
		}
		if err := q.Reserve(1); err != nil {
			return nil, err
		}
		tx.Market.EventSeq++
		ev := eventq.Event{
			Maker:     maker.Owner,
			Taker:     req.Owner,
			Price:     maker.Price,
			Qty:       fill,
			Seq:       tx.Market.EventSeq,
			TakerSide: req.Side,
		}
		if err := q.Append(ev); err != nil {
			return nil, err
		}

		left, err := opp.Reduce(best, fill)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		mo := tx.orders[maker.Owner]
		if mo != nil && mo.Active() && mo.Resting.Node == best && mo.Resting.Side == maker.Side {
			if left == 0 {
				if refund := mo.deactivate(); refund > 0 {
					res.Refunds = append(res.Refunds, Refund{Owner: maker.Owner, Amount: refund})
				}
			} else {
				mo.Resting.Qty = left
			}
		}

		remaining -= fill
		res.Filled += fill
		res.Fills = append(res.Fills, ev)
	}

	if remaining == 0 {
		oo.Status = StatusInactive
		oo.Resting = nil
		return res, nil
	}

	own, err := tx.book(req.Side)
	if err != nil {
		return nil, err
	}
	if err := tx.reserveSlot(own, req.Side); err != nil {
		return nil, err
	}
	tx.Market.OrderSeq++
	idx, err := own.Insert(req.Owner, req.PriceTicks, remaining, tx.Market.OrderSeq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	oo.activate(Resting{
		Node:       idx,
		Side:       req.Side,
		Price:      req.PriceTicks,
		Qty:        remaining,
		Seq:        tx.Market.OrderSeq,
		Collateral: req.Collateral,
	})
	res.Rested = true
	res.Node = idx
	res.Remaining = remaining
	res.Locked = req.Collateral
	return res, nil
}

// reserveSlot makes sure the book has a free slot, extending it by one
// bounded step when it is full.
func (tx *State) reserveSlot(b *slab.Slab, side types.Side) error {
	if b.Free() > 0 {
		return nil
	}
	k := bookKind(side)
	limit := tx.Market.Params.MaxSlots(k)
	if b.Cap() >= limit {
		return fmt.Errorf("%w: %s book full at %d orders", ErrInvalidCapacity, side, limit)
	}
	st, err := tx.store(k)
	if err != nil {
		return err
	}
	target := min(b.Cap()+growNodes, limit)
	if err := st.Ensure(slab.RegionLen(target)); err != nil {
		return err
	}
	if b.Extend(limit) == 0 {
		return fmt.Errorf("%w: %s book did not extend", ErrInvalidCapacity, side)
	}
	return nil
}

// IsDomainError reports whether err is one of the engine's rejection kinds
// rather than an internal failure.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidCapacity, ErrQueueFull, ErrInsufficientBalance, ErrOrderAlreadyActive,
		ErrOrderNotActive, ErrAccountMismatch, ErrUnauthorized, ErrMarketPaused,
		ErrInvalidTick, ErrQtyTooSmall, ErrInvalidQtyStep, ErrInvalidAmount,
		ErrInvalidSide, ErrOverflow, ErrInvalidParams, ErrUnsettledEvents,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
