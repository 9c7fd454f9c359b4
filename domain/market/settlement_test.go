package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"kerdos/domain/types"
)

func TestFee(t *testing.T) {
	assert.Equal(t, uint64(1_000), Fee(1_000_000, 10))
	assert.Equal(t, uint64(0), Fee(999, 10), "rounds down")
	assert.Equal(t, uint64(1), Fee(1_000, 10))
	assert.Equal(t, uint64(1<<63), Fee(1<<63, BpsDenominator))
	assert.Equal(t, uint64(18446744073709551), Fee(^uint64(0), 10))
}

func feeMarket(t *testing.T) *State {
	p := testParams()
	p.FeesBps = 10
	s := newMarket(t, p)
	_, err := s.Deposit(alice, alice, LegBase, 1_000)
	require.NoError(t, err)
	_, err = s.Deposit(alice, alice, LegQuote, 5_000_000)
	require.NoError(t, err)
	_, err = s.Deposit(bob, bob, LegBase, 1_000)
	require.NoError(t, err)
	_, err = s.Deposit(bob, bob, LegQuote, 5_000_000)
	require.NoError(t, err)
	return s
}

func TestSettleBidTakerPaysFee(t *testing.T) {
	s := feeMarket(t)
	_, err := s.PlaceOrder(ask(alice, 10_000, 100, 0))
	require.NoError(t, err)
	_, err = s.PlaceOrder(bid(bob, 10_000, 100, 0))
	require.NoError(t, err)

	out, err := s.SettleEvents(admin, 5, []types.OwnerID{alice, bob})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), out.Fees)
	assert.Equal(t, uint64(1_000), s.Market.FeesAccrued)

	a, _ := s.Balance(alice)
	b, _ := s.Balance(bob)
	assert.Equal(t, uint64(900), a.BaseFree)
	assert.Equal(t, uint64(6_000_000), a.QuoteFree, "maker receives the exact quote")
	assert.Equal(t, uint64(1_100), b.BaseFree)
	assert.Equal(t, uint64(3_999_000), b.QuoteFree, "taker pays quote plus fee")
}

func TestSettleAskTakerPaysFee(t *testing.T) {
	s := feeMarket(t)
	_, err := s.PlaceOrder(bid(alice, 10_000, 100, 0))
	require.NoError(t, err)
	_, err = s.PlaceOrder(ask(bob, 10_000, 100, 0))
	require.NoError(t, err)

	out, err := s.SettleEvents(admin, 5, []types.OwnerID{alice, bob})
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), out.Fees)

	a, _ := s.Balance(alice)
	b, _ := s.Balance(bob)
	assert.Equal(t, uint64(1_100), a.BaseFree)
	assert.Equal(t, uint64(4_000_000), a.QuoteFree)
	assert.Equal(t, uint64(900), b.BaseFree)
	assert.Equal(t, uint64(5_999_000), b.QuoteFree, "taker receives quote minus fee")
}

func TestSettleRequiresAuthority(t *testing.T) {
	s := feeMarket(t)
	_, err := s.SettleEvents(alice, 1, nil)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestSettleEmptyQueueIsNoop(t *testing.T) {
	s := feeMarket(t)
	before := s.Export()
	out, err := s.SettleEvents(admin, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Settled)
	assert.Equal(t, before, s.Export())
}

func TestSettleMissingAccountFailsWholeCall(t *testing.T) {
	s := feeMarket(t)
	_, err := s.PlaceOrder(ask(alice, 10_000, 100, 0))
	require.NoError(t, err)
	_, err = s.PlaceOrder(bid(bob, 10_000, 100, 0))
	require.NoError(t, err)

	before := s.Export()
	_, err = s.SettleEvents(admin, 5, []types.OwnerID{bob})
	require.ErrorIs(t, err, ErrAccountMismatch)
	assert.Equal(t, before, s.Export())
	assert.Equal(t, 1, s.QueueLen())
}

func TestSettleInsufficientBalanceIsAtomic(t *testing.T) {
	s := newMarket(t, testParams())
	_, err := s.Deposit(alice, alice, LegBase, 200)
	require.NoError(t, err)
	_, err = s.Deposit(bob, bob, LegQuote, 1_000_000)
	require.NoError(t, err)

	_, err = s.PlaceOrder(ask(alice, 10_000, 200, 0))
	require.NoError(t, err)
	// two fills; the buyer can only pay for the first
	_, err = s.PlaceOrder(bid(bob, 10_000, 100, 0))
	require.NoError(t, err)
	_, err = s.PlaceOrder(bid(bob, 10_000, 100, 0))
	require.NoError(t, err)
	require.Equal(t, 2, s.QueueLen())

	before := s.Export()
	_, err = s.SettleEvents(admin, 2, []types.OwnerID{alice, bob})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, before, s.Export())

	out, err := s.SettleEvents(admin, 1, []types.OwnerID{alice, bob})
	require.NoError(t, err)
	assert.Len(t, out.Settled, 1)
	assert.Equal(t, 1, out.Remaining)
}

func TestSettleBoundedBatches(t *testing.T) {
	s := newMarket(t, testParams())
	_, err := s.Deposit(alice, alice, LegBase, 500)
	require.NoError(t, err)
	_, err = s.Deposit(bob, bob, LegQuote, 10_000_000)
	require.NoError(t, err)
	_, err = s.PlaceOrder(ask(alice, 10_000, 500, 0))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = s.PlaceOrder(bid(bob, 10_000, 100, 0))
		require.NoError(t, err)
	}

	var seqs []uint64
	for s.QueueLen() > 0 {
		out, err := s.SettleEvents(admin, 2, []types.OwnerID{alice, bob})
		require.NoError(t, err)
		require.LessOrEqual(t, len(out.Settled), 2)
		for _, e := range out.Settled {
			seqs = append(seqs, e.Seq)
		}
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)

	// replaying settlement over the drained queue changes nothing
	before := s.Export()
	_, err = s.SettleEvents(admin, 2, []types.OwnerID{alice, bob})
	require.NoError(t, err)
	assert.Equal(t, before, s.Export())
}

// Random order flow between funded users keeps the books consistent and,
// after settlement, conserves base and quote (with the fee going to the
// market).
func TestOrderFlowConservesBalances(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := testParams()
		p.FeesBps = uint16(rapid.IntRange(0, 50).Draw(t, "fees"))
		s := newMarket(t, p)

		users := []types.OwnerID{alice, bob, carol, types.OwnerFromKey("dave")}
		const baseEach, quoteEach = 1 << 40, 1 << 50
		for _, u := range users {
			if _, err := s.Deposit(u, u, LegBase, baseEach); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Deposit(u, u, LegQuote, quoteEach); err != nil {
				t.Fatal(err)
			}
		}

		for i := rapid.IntRange(1, 60).Draw(t, "ops"); i > 0; i-- {
			u := rapid.SampledFrom(users).Draw(t, "user")
			if oo, ok := s.OpenOrders(u); ok && oo.Active() && rapid.Bool().Draw(t, "cancel") {
				if _, err := s.CancelOrder(u, u); err != nil {
					t.Fatalf("cancel: %v", err)
				}
				continue
			}
			req := PlaceOrder{
				Owner:            u,
				Side:             rapid.SampledFrom([]types.Side{types.Bid, types.Ask}).Draw(t, "side"),
				PriceTicks:       uint64(rapid.IntRange(1, 20).Draw(t, "price")) * p.TickSize,
				BaseQty:          uint64(rapid.IntRange(1, 5).Draw(t, "lots")) * p.MinBaseQty,
				MaxSlippageTicks: uint64(rapid.IntRange(0, 20).Draw(t, "slip")) * p.TickSize,
				Collateral:       1,
			}
			res, err := s.PlaceOrder(req)
			if err != nil && err != ErrOrderAlreadyActive {
				t.Fatalf("place: %v", err)
			}
			if err == nil {
				var filled uint64
				for _, f := range res.Fills {
					filled += f.Qty
				}
				if filled+res.Remaining != req.BaseQty {
					t.Fatalf("filled %d + remaining %d != qty %d", filled, res.Remaining, req.BaseQty)
				}
			}
			if err := s.Check(); err != nil {
				t.Fatalf("check: %v", err)
			}
		}

		for s.QueueLen() > 0 {
			if _, err := s.SettleEvents(admin, 7, users); err != nil {
				t.Fatalf("settle: %v", err)
			}
		}

		var base, quote uint64
		for _, u := range users {
			b, _ := s.Balance(u)
			base += b.BaseFree
			quote += b.QuoteFree
		}
		if base != 4*baseEach {
			t.Fatalf("base total %d, want %d", base, 4*baseEach)
		}
		if quote+s.Market.FeesAccrued != 4*quoteEach {
			t.Fatalf("quote %d + fees %d != %d", quote, s.Market.FeesAccrued, 4*quoteEach)
		}
	})
}
