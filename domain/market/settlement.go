package market

import (
	"fmt"
	"math/bits"

	"kerdos/domain/eventq"
	"kerdos/domain/types"
)

type SettleResult struct {
	Settled   []eventq.Event `json:"settled"`
	Fees      uint64         `json:"fees"`
	Remaining int            `json:"remaining"`
}

// Fee is floor(quote * bps / 10000).
func Fee(quote uint64, bps uint16) uint64 {
	hi, lo := bits.Mul64(quote, uint64(bps))
	q, _ := bits.Div64(hi, lo, BpsDenominator)
	return q
}

// SettleEvents drains up to maxEvents fills from the head of the queue and
// moves balances for each of them. The taker pays the fee on top of the
// quote when buying and has it deducted when selling; the maker always
// trades at the exact quote.
//
// accounts must include both parties of every drained event. Any missing
// party or any balance that would go negative fails the whole call and
// leaves the queue as it was.
func (s *State) SettleEvents(caller types.OwnerID, maxEvents int, accounts []types.OwnerID) (*SettleResult, error) {
	var res *SettleResult
	err := s.atomically(func(tx *State) error {
		if caller != tx.Market.Authority {
			return ErrUnauthorized
		}
		q, err := tx.queue()
		if err != nil {
			return err
		}
		res = &SettleResult{}
		if q.Empty() || maxEvents <= 0 {
			res.Remaining = q.Len()
			return nil
		}

		allowed := make(map[types.OwnerID]struct{}, len(accounts))
		for _, a := range accounts {
			allowed[a] = struct{}{}
		}

		events := q.Drain(maxEvents)
		for _, ev := range events {
			fee, err := tx.settleOne(ev, allowed)
			if err != nil {
				return fmt.Errorf("event %d: %w", ev.Seq, err)
			}
			res.Fees += fee
		}
		if tx.Market.FeesAccrued+res.Fees < tx.Market.FeesAccrued {
			return fmt.Errorf("%w: fees accrued", ErrOverflow)
		}
		tx.Market.FeesAccrued += res.Fees
		res.Settled = events
		res.Remaining = q.Len()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (tx *State) party(owner types.OwnerID, allowed map[types.OwnerID]struct{}) (*UserBalance, error) {
	if _, ok := allowed[owner]; !ok {
		return nil, fmt.Errorf("%w: owner %s not supplied", ErrAccountMismatch, owner.Short())
	}
	if _, ok := tx.orders[owner]; !ok {
		return nil, fmt.Errorf("%w: owner %s has no open orders record", ErrAccountMismatch, owner.Short())
	}
	b, ok := tx.balances[owner]
	if !ok {
		return nil, fmt.Errorf("%w: owner %s has no balance record", ErrAccountMismatch, owner.Short())
	}
	return b, nil
}

func (tx *State) settleOne(ev eventq.Event, allowed map[types.OwnerID]struct{}) (uint64, error) {
	maker, err := tx.party(ev.Maker, allowed)
	if err != nil {
		return 0, err
	}
	taker, err := tx.party(ev.Taker, allowed)
	if err != nil {
		return 0, err
	}
	quote, err := Notional(ev.Price, ev.Qty)
	if err != nil {
		return 0, err
	}
	fee := Fee(quote, tx.Market.Params.FeesBps)

	if ev.TakerSide == types.Bid {
		// taker buys from maker
		if quote+fee < quote {
			return 0, fmt.Errorf("%w: quote plus fee", ErrOverflow)
		}
		if err := taker.debit(LegQuote, quote+fee); err != nil {
			return 0, err
		}
		if err := maker.debit(LegBase, ev.Qty); err != nil {
			return 0, err
		}
		if err := taker.credit(LegBase, ev.Qty); err != nil {
			return 0, err
		}
		if err := maker.credit(LegQuote, quote); err != nil {
			return 0, err
		}
		return fee, nil
	}

	// taker sells to maker
	if err := maker.debit(LegQuote, quote); err != nil {
		return 0, err
	}
	if err := taker.debit(LegBase, ev.Qty); err != nil {
		return 0, err
	}
	if err := maker.credit(LegBase, ev.Qty); err != nil {
		return 0, err
	}
	if err := taker.credit(LegQuote, quote-fee); err != nil {
		return 0, err
	}
	return fee, nil
}
