package ledger

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

type balanceKey struct {
	acct  Account
	asset string
}

// Memory is an in-process ledger for development and tests.
type Memory struct {
	mu       sync.Mutex
	balances map[balanceKey]int64
	refs     map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[balanceKey]int64),
		refs:     make(map[string]struct{}),
	}
}

// Volatile is true: nothing survives the process.
func (m *Memory) Volatile() bool { return true }

func (m *Memory) Apply(_ context.Context, batch []Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := make(map[balanceKey]int64)
	get := func(k balanceKey) int64 {
		if v, ok := staged[k]; ok {
			return v
		}
		return m.balances[k]
	}
	seen := make(map[string]struct{}, len(batch))
	for _, t := range batch {
		if err := t.validate(); err != nil {
			return err
		}
		if _, dup := m.refs[t.Ref]; dup {
			continue
		}
		if _, dup := seen[t.Ref]; dup {
			continue
		}
		seen[t.Ref] = struct{}{}
		from := balanceKey{t.From, t.Asset}
		to := balanceKey{t.To, t.Asset}
		amt := int64(t.Amount)
		if t.From.Bounded() && get(from) < amt {
			return errors.Wrapf(ErrInsufficientFunds, "%s: %s has %d %s, needs %d", t.Ref, t.From, get(from), t.Asset, amt)
		}
		staged[from] = get(from) - amt
		staged[to] = get(to) + amt
	}
	for k, v := range staged {
		m.balances[k] = v
	}
	for ref := range seen {
		m.refs[ref] = struct{}{}
	}
	return nil
}

func (m *Memory) Balance(_ context.Context, acct Account, asset string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[balanceKey{acct, asset}], nil
}

func (m *Memory) Close() error { return nil }
