package ledger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kerdos/domain/types"
)

func implementations(t *testing.T) map[string]func() Ledger {
	return map[string]func() Ledger{
		"memory": func() Ledger { return NewMemory() },
		"sqlite": func() Ledger {
			l, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = l.Close() })
			return l
		},
	}
}

func balance(t *testing.T, l Ledger, a Account, asset string) int64 {
	t.Helper()
	v, err := l.Balance(context.Background(), a, asset)
	require.NoError(t, err)
	return v
}

func TestLedger(t *testing.T) {
	ctx := context.Background()
	alice := WalletOf(types.OwnerFromKey("alice"))
	vault := VaultOf("m")
	escrow := EscrowOf("m")

	for name, open := range implementations(t) {
		t.Run(name+"/deposit and withdraw", func(t *testing.T) {
			l := open()
			require.NoError(t, l.Apply(ctx, []Transfer{{Ref: "d1", From: alice, To: vault, Asset: "USDC", Amount: 100}}))
			assert.Equal(t, int64(-100), balance(t, l, alice, "USDC"))
			assert.Equal(t, int64(100), balance(t, l, vault, "USDC"))

			err := l.Apply(ctx, []Transfer{{Ref: "w1", From: vault, To: alice, Asset: "USDC", Amount: 101}})
			require.True(t, errors.Is(err, ErrInsufficientFunds), "got %v", err)

			require.NoError(t, l.Apply(ctx, []Transfer{{Ref: "w2", From: vault, To: alice, Asset: "USDC", Amount: 40}}))
			assert.Equal(t, int64(60), balance(t, l, vault, "USDC"))
		})

		t.Run(name+"/batch is atomic", func(t *testing.T) {
			l := open()
			err := l.Apply(ctx, []Transfer{
				{Ref: "lock", From: alice, To: escrow, Asset: "native", Amount: 5},
				{Ref: "over", From: vault, To: alice, Asset: "USDC", Amount: 1},
			})
			require.True(t, errors.Is(err, ErrInsufficientFunds))
			assert.Zero(t, balance(t, l, escrow, "native"))
			assert.Zero(t, balance(t, l, alice, "native"))

			// The failed batch did not consume its refs.
			require.NoError(t, l.Apply(ctx, []Transfer{{Ref: "lock", From: alice, To: escrow, Asset: "native", Amount: 5}}))
			assert.Equal(t, int64(5), balance(t, l, escrow, "native"))
		})

		t.Run(name+"/refs are idempotent", func(t *testing.T) {
			l := open()
			tr := Transfer{Ref: "once", From: alice, To: vault, Asset: "YES", Amount: 7}
			require.NoError(t, l.Apply(ctx, []Transfer{tr}))
			require.NoError(t, l.Apply(ctx, []Transfer{tr, tr}))
			assert.Equal(t, int64(7), balance(t, l, vault, "YES"))
		})

		t.Run(name+"/repeated ref skips balance check", func(t *testing.T) {
			l := open()
			in := Transfer{Ref: "in", From: alice, To: vault, Asset: "USDC", Amount: 10}
			out := Transfer{Ref: "out", From: vault, To: alice, Asset: "USDC", Amount: 10}
			require.NoError(t, l.Apply(ctx, []Transfer{in}))
			require.NoError(t, l.Apply(ctx, []Transfer{out}))
			require.NoError(t, l.Apply(ctx, []Transfer{out}), "vault is empty but the ref already landed")
			assert.Zero(t, balance(t, l, vault, "USDC"))
			assert.Zero(t, balance(t, l, alice, "USDC"))

			again := Transfer{Ref: "out2", From: vault, To: alice, Asset: "USDC", Amount: 10}
			assert.True(t, errors.Is(l.Apply(ctx, []Transfer{again}), ErrInsufficientFunds))
		})

		t.Run(name+"/rejects invalid", func(t *testing.T) {
			l := open()
			for _, tr := range []Transfer{
				{From: alice, To: vault, Asset: "USDC", Amount: 1},
				{Ref: "x", From: alice, To: vault, Amount: 1},
				{Ref: "x", From: alice, To: vault, Asset: "USDC"},
				{Ref: "x", From: vault, To: vault, Asset: "USDC", Amount: 1},
			} {
				assert.True(t, errors.Is(l.Apply(ctx, []Transfer{tr}), ErrInvalidTransfer))
			}
		})
	}
}

func TestOpenDriver(t *testing.T) {
	l, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, l)
	assert.True(t, IsVolatile(l))

	db, err := Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	assert.False(t, IsVolatile(db))
	require.NoError(t, db.Close())

	_, err = Open("sqlite", "")
	assert.Error(t, err)
	_, err = Open("postgres", "x")
	assert.Error(t, err)
}

func TestAccountString(t *testing.T) {
	assert.Equal(t, "vault:m", VaultOf("m").String())
	assert.Equal(t, "escrow:m", EscrowOf("m").String())
	assert.False(t, WalletOf(types.OwnerID{}).Bounded())
}
