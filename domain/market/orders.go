package market

import (
	"fmt"

	"kerdos/domain/types"
)

// CancelOrder pulls owner's resting order off the book and returns the
// collateral it had locked. Only the owner may cancel.
func (s *State) CancelOrder(caller, owner types.OwnerID) (uint64, error) {
	var refund uint64
	err := s.atomically(func(tx *State) error {
		if caller != owner {
			return ErrUnauthorized
		}
		oo, ok := tx.orders[owner]
		if !ok || !oo.Active() {
			return ErrOrderNotActive
		}
		b, err := tx.book(oo.Resting.Side)
		if err != nil {
			return err
		}
		idx := oo.Resting.Node
		if !b.Owned(idx, owner) {
			found, ok := b.Find(owner)
			if !ok {
				return fmt.Errorf("%w: owner %s active without a book node", ErrCorrupt, owner.Short())
			}
			idx = found
		}
		if err := b.Remove(idx); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		refund = oo.deactivate()
		return nil
	})
	return refund, err
}

// CloseOrder retires an inactive record for good. Events that still name the
// owner have to be settled first.
func (s *State) CloseOrder(caller, owner types.OwnerID) error {
	return s.atomically(func(tx *State) error {
		if caller != owner {
			return ErrUnauthorized
		}
		oo, ok := tx.orders[owner]
		if !ok {
			return ErrOrderNotActive
		}
		if oo.Active() {
			return ErrOrderAlreadyActive
		}
		q, err := tx.queue()
		if err != nil {
			return err
		}
		if q.References(owner) {
			return ErrUnsettledEvents
		}
		delete(tx.orders, owner)
		return nil
	})
}
