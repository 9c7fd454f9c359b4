// Package ledger is the custody side of the engine: it moves real assets
// between user wallets and the per-market vault and escrow accounts as
// deposits, withdrawals and order collateral are accepted.
//
// Wallets belong to the outside world and are not bounded. Vault and escrow
// accounts never go negative.
package ledger

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"

	"kerdos/domain/types"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidTransfer   = errors.New("ledger: invalid transfer")
)

type AccountKind uint8

const (
	Wallet AccountKind = iota + 1
	Vault
	Escrow
)

// Account is a ledger account. Vault and Escrow are keyed by market name,
// Wallet by owner id.
type Account struct {
	Kind AccountKind
	Name string
}

func WalletOf(owner types.OwnerID) Account { return Account{Kind: Wallet, Name: owner.String()} }
func VaultOf(market string) Account       { return Account{Kind: Vault, Name: market} }
func EscrowOf(market string) Account      { return Account{Kind: Escrow, Name: market} }

func (a Account) String() string {
	switch a.Kind {
	case Wallet:
		return "wallet:" + a.Name
	case Vault:
		return "vault:" + a.Name
	case Escrow:
		return "escrow:" + a.Name
	default:
		return fmt.Sprintf("account(%d):%s", a.Kind, a.Name)
	}
}

// Bounded accounts must cover every debit.
func (a Account) Bounded() bool { return a.Kind != Wallet }

// Transfer moves Amount of Asset from From to To. Ref is unique per
// transfer; a ref that was already applied is skipped.
type Transfer struct {
	Ref    string
	From   Account
	To     Account
	Asset  string
	Amount uint64
}

func (t Transfer) validate() error {
	switch {
	case t.Ref == "":
		return errors.Wrap(ErrInvalidTransfer, "empty ref")
	case t.Asset == "":
		return errors.Wrapf(ErrInvalidTransfer, "%s: empty asset", t.Ref)
	case t.Amount == 0 || t.Amount > math.MaxInt64:
		return errors.Wrapf(ErrInvalidTransfer, "%s: amount %d", t.Ref, t.Amount)
	case t.From == t.To:
		return errors.Wrapf(ErrInvalidTransfer, "%s: self transfer", t.Ref)
	}
	return nil
}

// Ledger applies transfer batches atomically: either every transfer in the
// batch lands or none does.
type Ledger interface {
	Apply(ctx context.Context, batch []Transfer) error
	// Balance is signed because wallets are unbounded.
	Balance(ctx context.Context, acct Account, asset string) (int64, error)
	Close() error
}

// Volatile is implemented by ledgers that start empty on every boot.
// Journal replay does not repeat transfers into them.
type Volatile interface {
	Volatile() bool
}

// IsVolatile reports whether l forgets its balances on restart.
func IsVolatile(l Ledger) bool {
	v, ok := l.(Volatile)
	return ok && v.Volatile()
}

// Open picks an implementation by driver name.
func Open(driver, path string) (Ledger, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, errors.Errorf("ledger: unknown driver %q", driver)
	}
}
