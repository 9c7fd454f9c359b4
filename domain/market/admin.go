package market

import (
	"fmt"

	"kerdos/domain/blob"
	"kerdos/domain/slab"
	"kerdos/domain/types"
)

// Deposit credits owner's free balance on one leg, creating the record on
// first use. Only the owner may deposit.
func (s *State) Deposit(caller, owner types.OwnerID, leg Leg, amount uint64) (UserBalance, error) {
	var out UserBalance
	err := s.atomically(func(tx *State) error {
		if caller != owner {
			return ErrUnauthorized
		}
		if amount == 0 {
			return fmt.Errorf("%w: zero deposit", ErrInvalidAmount)
		}
		b := tx.balance(owner)
		if err := b.credit(leg, amount); err != nil {
			return err
		}
		out = *b
		return nil
	})
	return out, err
}

// Withdraw debits owner's free balance on one leg.
func (s *State) Withdraw(caller, owner types.OwnerID, leg Leg, amount uint64) (UserBalance, error) {
	var out UserBalance
	err := s.atomically(func(tx *State) error {
		if caller != owner {
			return ErrUnauthorized
		}
		if amount == 0 {
			return fmt.Errorf("%w: zero withdrawal", ErrInvalidAmount)
		}
		b, ok := tx.balances[owner]
		if !ok {
			return fmt.Errorf("%w: owner %s has no balance", ErrInsufficientBalance, owner.Short())
		}
		if err := b.debit(leg, amount); err != nil {
			return err
		}
		out = *b
		return nil
	})
	return out, err
}

// Grow extends one region by up to step bytes (clamped to the per-call
// limit and the region's ceiling). Anyone may call it. Book regions format
// the new slots straight away. At the ceiling it fails with
// ErrInvalidCapacity and changes nothing.
func (s *State) Grow(k blob.Kind, step uint32) (RegionInfo, error) {
	var info RegionInfo
	err := s.atomically(func(tx *State) error {
		if step == 0 {
			return fmt.Errorf("%w: zero step", ErrInvalidCapacity)
		}
		st, err := tx.store(k)
		if err != nil {
			return err
		}
		if st.AtCeiling() {
			return fmt.Errorf("%w: %s already at ceiling %d", ErrInvalidCapacity, k, st.Ceiling())
		}
		st.Grow(step)
		if k != blob.KindEventQueue {
			b, err := slab.Open(st)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCorrupt, err)
			}
			b.Extend(tx.Market.Params.MaxSlots(k))
		}
		info, err = tx.Region(k)
		return err
	})
	return info, err
}

// ClearEventQueue drops every pending event without settling it.
func (s *State) ClearEventQueue(caller types.OwnerID) (int, error) {
	var n int
	err := s.atomically(func(tx *State) error {
		if caller != tx.Market.Authority {
			return ErrUnauthorized
		}
		q, err := tx.queue()
		if err != nil {
			return err
		}
		n = q.Clear()
		return nil
	})
	return n, err
}

func (s *State) SetPaused(caller types.OwnerID, paused bool) error {
	return s.atomically(func(tx *State) error {
		if caller != tx.Market.Authority {
			return ErrUnauthorized
		}
		tx.Market.Paused = paused
		return nil
	})
}
