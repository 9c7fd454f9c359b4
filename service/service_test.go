package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kerdos/domain/blob"
	"kerdos/domain/market"
	"kerdos/domain/types"
	"kerdos/infra/ledger"
	"kerdos/infra/metrics"
	entrywal "kerdos/infra/wal/entry"
	exitwal "kerdos/infra/wal/exit"
	"kerdos/logging"
)

const mkt = "election"

var (
	admin = types.OwnerFromKey("authority")
	alice = types.OwnerFromKey("alice")
	bob   = types.OwnerFromKey("bob")
)

func params() market.Params {
	return market.Params{
		BaseAsset:          "YES",
		QuoteAsset:         "USDC",
		BidsCapacity:       256,
		AsksCapacity:       256,
		EventQueueCapacity: 512,
		TickSize:           1_000,
		MinBaseQty:         100,
	}
}

type env struct {
	dir    string
	ledger ledger.Ledger
	outbox *exitwal.Outbox
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	o, err := exitwal.Open(filepath.Join(dir, "outbox"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return &env{dir: dir, ledger: ledger.NewMemory(), outbox: o}
}

func (e *env) open(t *testing.T) *MarketService {
	t.Helper()
	s, err := Open(Config{
		Journal:     entrywal.Config{Dir: filepath.Join(e.dir, "journal"), SegmentSize: 4096},
		SnapshotDir: filepath.Join(e.dir, "snapshots"),
	}, Deps{
		Ledger:  e.ledger,
		Outbox:  e.outbox,
		Metrics: metrics.New(),
		Log:     logging.NewTestLogger(),
	})
	require.NoError(t, err)
	return s
}

func ledgerBalance(t *testing.T, l ledger.Ledger, a ledger.Account, asset string) int64 {
	t.Helper()
	v, err := l.Balance(context.Background(), a, asset)
	require.NoError(t, err)
	return v
}

func outboxCount(t *testing.T, o *exitwal.Outbox) int {
	t.Helper()
	c, err := o.Counts()
	require.NoError(t, err)
	return c[exitwal.StateNew]
}

// trade funds alice and bob, rests an ask from alice and fills it with bob.
func trade(t *testing.T, s *MarketService) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Deposit(ctx, mkt, alice, alice, market.LegBase, 1_000)
	require.NoError(t, err)
	_, err = s.Deposit(ctx, mkt, bob, bob, market.LegQuote, 10_000_000)
	require.NoError(t, err)

	res, err := s.PlaceOrder(ctx, mkt, market.PlaceOrder{
		Owner: alice, Side: types.Ask, PriceTicks: 10_000, BaseQty: 300, Collateral: 500,
	})
	require.NoError(t, err)
	require.True(t, res.Rested)

	res, err = s.PlaceOrder(ctx, mkt, market.PlaceOrder{
		Owner: bob, Side: types.Bid, PriceTicks: 10_000, BaseQty: 300, Collateral: 500,
	})
	require.NoError(t, err)
	require.Len(t, res.Fills, 1)
	require.False(t, res.Rested)
}

func TestPlaceSettleMovesLedgerAndOutbox(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.CreateMarket(ctx, mkt, admin, params())
	require.NoError(t, err)
	trade(t, s)

	vault := ledger.VaultOf(mkt)
	assert.Equal(t, int64(1_000), ledgerBalance(t, e.ledger, vault, "YES"))
	assert.Equal(t, int64(10_000_000), ledgerBalance(t, e.ledger, vault, "USDC"))
	assert.Zero(t, ledgerBalance(t, e.ledger, ledger.EscrowOf(mkt), market.DefaultCollateralAsset),
		"alice's collateral came back when her ask filled")
	assert.Equal(t, 1, outboxCount(t, e.outbox))

	ev, err := s.PendingEvents(mkt, 10)
	require.NoError(t, err)
	require.Len(t, ev, 1)
	assert.Equal(t, alice, ev[0].Maker)

	res, err := s.SettleEvents(ctx, mkt, admin, 10, []types.OwnerID{alice, bob})
	require.NoError(t, err)
	assert.Len(t, res.Settled, 1)

	ab, err := s.Balance(mkt, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(700), ab.BaseFree)
	assert.Equal(t, uint64(3_000_000), ab.QuoteFree)
	bb, err := s.Balance(mkt, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), bb.BaseFree)
	assert.Equal(t, uint64(7_000_000), bb.QuoteFree)

	_, err = s.Withdraw(ctx, mkt, alice, alice, market.LegQuote, 3_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(7_000_000), ledgerBalance(t, e.ledger, vault, "USDC"))
	assert.Equal(t, int64(3_000_000), ledgerBalance(t, e.ledger, ledger.WalletOf(alice), "USDC"))

	require.NoError(t, s.CloseOrder(ctx, mkt, alice, alice))
	require.NoError(t, s.Check())
}

func TestCancelRefundsEscrow(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	defer s.Close()
	ctx := context.Background()
	_, err := s.CreateMarket(ctx, mkt, admin, params())
	require.NoError(t, err)

	_, err = s.PlaceOrder(ctx, mkt, market.PlaceOrder{
		Owner: alice, Side: types.Bid, PriceTicks: 5_000, BaseQty: 100, Collateral: 250,
	})
	require.NoError(t, err)
	escrow := ledger.EscrowOf(mkt)
	assert.Equal(t, int64(250), ledgerBalance(t, e.ledger, escrow, market.DefaultCollateralAsset))

	_, err = s.CancelOrder(ctx, mkt, bob, alice)
	require.True(t, errors.Is(err, market.ErrUnauthorized))

	refund, err := s.CancelOrder(ctx, mkt, alice, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), refund)
	assert.Zero(t, ledgerBalance(t, e.ledger, escrow, market.DefaultCollateralAsset))

	oo, err := s.OpenOrders(mkt, alice)
	require.NoError(t, err)
	assert.Equal(t, market.StatusInactive, oo.Status)
}

func TestRestartReplaysJournal(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	ctx := context.Background()
	_, err := s.CreateMarket(ctx, mkt, admin, params())
	require.NoError(t, err)
	trade(t, s)
	_, err = s.Grow(ctx, mkt, blob.KindEventQueue, 960)
	require.NoError(t, err)
	require.NoError(t, s.SetPaused(ctx, mkt, admin, true))

	before, err := s.committed(mkt)
	require.NoError(t, err)
	seq := s.Seq()
	require.NoError(t, s.Close())

	s = e.open(t)
	defer s.Close()
	after, err := s.committed(mkt)
	require.NoError(t, err)
	assert.Equal(t, before.Export(), after.Export())
	assert.Equal(t, seq, s.Seq())
	assert.Equal(t, 1, outboxCount(t, e.outbox), "replay does not duplicate recorded fills")

	_, err = s.PlaceOrder(ctx, mkt, market.PlaceOrder{
		Owner: alice, Side: types.Ask, PriceTicks: 10_000, BaseQty: 100, Collateral: 1,
	})
	require.True(t, errors.Is(err, market.ErrMarketPaused))
}

func TestReplayReoffersFillsPastWatermark(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	ctx := context.Background()
	_, err := s.CreateMarket(ctx, mkt, admin, params())
	require.NoError(t, err)
	s.outbox = nil // fills are journaled but never reach the outbox
	trade(t, s)
	require.NoError(t, s.Close())
	require.Zero(t, outboxCount(t, e.outbox))

	s = e.open(t)
	defer s.Close()
	assert.Equal(t, 1, outboxCount(t, e.outbox))
}

func TestSnapshotThenReplay(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	ctx := context.Background()
	_, err := s.CreateMarket(ctx, mkt, admin, params())
	require.NoError(t, err)
	_, err = s.Deposit(ctx, mkt, alice, alice, market.LegBase, 1_000)
	require.NoError(t, err)

	snapSeq, err := s.WriteSnapshot()
	require.NoError(t, err)
	assert.Equal(t, s.Seq(), snapSeq)

	trade(t, s)
	_, err = s.WriteSnapshot()
	require.NoError(t, err)
	_, err = s.Deposit(ctx, mkt, bob, bob, market.LegBase, 100)
	require.NoError(t, err)

	before, err := s.committed(mkt)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = e.open(t)
	defer s.Close()
	after, err := s.committed(mkt)
	require.NoError(t, err)
	assert.Equal(t, before.Export(), after.Export())
}

type failingLedger struct {
	ledger.Ledger
	fail bool
}

func (f *failingLedger) Apply(ctx context.Context, batch []ledger.Transfer) error {
	if f.fail {
		return ledger.ErrInsufficientFunds
	}
	return f.Ledger.Apply(ctx, batch)
}

func TestLedgerRefusalIsAborted(t *testing.T) {
	e := newEnv(t)
	fl := &failingLedger{Ledger: e.ledger}
	e.ledger = fl
	s := e.open(t)
	ctx := context.Background()
	_, err := s.CreateMarket(ctx, mkt, admin, params())
	require.NoError(t, err)

	seq := s.Seq()
	fl.fail = true
	_, err = s.Deposit(ctx, mkt, alice, alice, market.LegQuote, 100)
	require.True(t, errors.Is(err, ErrLedger))
	require.True(t, errors.Is(err, ledger.ErrInsufficientFunds))
	assert.Equal(t, seq+2, s.Seq(), "the deposit and its abort are journaled")

	b, err := s.Balance(mkt, alice)
	require.NoError(t, err)
	assert.Zero(t, b.QuoteFree)
	require.NoError(t, s.Close())

	fl.fail = false
	s = e.open(t)
	defer s.Close()
	b, err = s.Balance(mkt, alice)
	require.NoError(t, err)
	assert.Zero(t, b.QuoteFree, "aborted deposit is not replayed")
	assert.Zero(t, ledgerBalance(t, e.ledger, ledger.VaultOf(mkt), "USDC"))

	_, err = s.Deposit(ctx, mkt, alice, alice, market.LegQuote, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), ledgerBalance(t, e.ledger, ledger.VaultOf(mkt), "USDC"))
}

func TestJournalFailureLeavesLedgerUntouched(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	ctx := context.Background()
	_, err := s.CreateMarket(ctx, mkt, admin, params())
	require.NoError(t, err)

	require.NoError(t, s.journal.Close())
	_, err = s.Deposit(ctx, mkt, alice, alice, market.LegQuote, 100)
	require.True(t, errors.Is(err, ErrJournal))
	assert.Zero(t, ledgerBalance(t, e.ledger, ledger.VaultOf(mkt), "USDC"))
	assert.Zero(t, ledgerBalance(t, e.ledger, ledger.WalletOf(alice), "USDC"))

	b, err := s.Balance(mkt, alice)
	require.NoError(t, err)
	assert.Zero(t, b.QuoteFree)

	_, err = s.Deposit(ctx, mkt, alice, alice, market.LegQuote, 100)
	require.True(t, errors.Is(err, ErrJournal), "service stays fail-stopped")
}

func TestDepositRequiresOwner(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	defer s.Close()
	ctx := context.Background()
	_, err := s.CreateMarket(ctx, mkt, admin, params())
	require.NoError(t, err)

	seq := s.Seq()
	_, err = s.Deposit(ctx, mkt, bob, alice, market.LegQuote, 100)
	require.True(t, errors.Is(err, market.ErrUnauthorized))
	assert.Equal(t, seq, s.Seq())
	assert.Zero(t, ledgerBalance(t, e.ledger, ledger.WalletOf(alice), "USDC"))
	assert.Zero(t, ledgerBalance(t, e.ledger, ledger.WalletOf(bob), "USDC"))
}

// crashingLedger panics inside Apply for batches leaving the vault, either
// before or after passing them on, to stop a command between its journal
// append and the end of its ledger step.
type crashingLedger struct {
	ledger.Ledger
	after bool
}

func (c *crashingLedger) Apply(ctx context.Context, batch []ledger.Transfer) error {
	if batch[0].From.Kind != ledger.Vault {
		return c.Ledger.Apply(ctx, batch)
	}
	if c.after {
		if err := c.Ledger.Apply(ctx, batch); err != nil {
			return err
		}
	}
	panic("process killed")
}

func durableEnv(t *testing.T) *env {
	t.Helper()
	e := newEnv(t)
	l, err := ledger.OpenSQLite(filepath.Join(e.dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	e.ledger = l
	return e
}

func TestRestartFinishesInterruptedWithdraw(t *testing.T) {
	for name, after := range map[string]bool{"before transfer": false, "after transfer": true} {
		t.Run(name, func(t *testing.T) {
			e := durableEnv(t)
			durable := e.ledger
			e.ledger = &crashingLedger{Ledger: durable, after: after}
			s := e.open(t)
			ctx := context.Background()
			_, err := s.CreateMarket(ctx, mkt, admin, params())
			require.NoError(t, err)
			_, err = s.Deposit(ctx, mkt, alice, alice, market.LegQuote, 1_000)
			require.NoError(t, err)

			assert.Panics(t, func() {
				_, _ = s.Withdraw(ctx, mkt, alice, alice, market.LegQuote, 1_000)
			})
			require.NoError(t, s.Close())

			e.ledger = durable
			s = e.open(t)
			defer s.Close()
			b, err := s.Balance(mkt, alice)
			require.NoError(t, err)
			assert.Zero(t, b.QuoteFree)
			assert.Zero(t, ledgerBalance(t, durable, ledger.VaultOf(mkt), "USDC"))
			assert.Zero(t, ledgerBalance(t, durable, ledger.WalletOf(alice), "USDC"), "paid out exactly once")

			_, err = s.Withdraw(ctx, mkt, alice, alice, market.LegQuote, 1)
			require.True(t, errors.Is(err, market.ErrInsufficientBalance))
		})
	}
}

func TestRestartDropsCommandTheLedgerRefuses(t *testing.T) {
	e := durableEnv(t)
	durable := e.ledger
	e.ledger = &crashingLedger{Ledger: durable}
	s := e.open(t)
	ctx := context.Background()
	_, err := s.CreateMarket(ctx, mkt, admin, params())
	require.NoError(t, err)
	_, err = s.Deposit(ctx, mkt, alice, alice, market.LegQuote, 1_000)
	require.NoError(t, err)
	assert.Panics(t, func() {
		_, _ = s.Withdraw(ctx, mkt, alice, alice, market.LegQuote, 600)
	})
	seq := s.Seq()
	require.NoError(t, s.Close())

	// the vault is emptied behind the engine's back
	require.NoError(t, durable.Apply(ctx, []ledger.Transfer{{
		Ref: "drain", From: ledger.VaultOf(mkt), To: ledger.WalletOf(bob), Asset: "USDC", Amount: 1_000,
	}}))

	e.ledger = durable
	s = e.open(t)
	b, err := s.Balance(mkt, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), b.QuoteFree, "refused withdraw is dropped")
	assert.Equal(t, seq+1, s.Seq(), "an abort is journaled for it")
	require.NoError(t, s.Close())

	s = e.open(t)
	defer s.Close()
	b, err = s.Balance(mkt, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), b.QuoteFree)
	assert.Equal(t, seq+1, s.Seq())
	assert.Equal(t, int64(-1_000), ledgerBalance(t, durable, ledger.WalletOf(alice), "USDC"))
}

func TestMarketLifecycleErrors(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	defer s.Close()
	ctx := context.Background()

	_, err := s.Deposit(ctx, "nope", alice, alice, market.LegBase, 1)
	require.True(t, errors.Is(err, ErrMarketNotFound))

	_, err = s.CreateMarket(ctx, mkt, admin, params())
	require.NoError(t, err)
	_, err = s.CreateMarket(ctx, mkt, admin, params())
	require.True(t, errors.Is(err, ErrMarketExists))

	created, err := s.EnsureMarket(ctx, mkt, admin, params())
	require.NoError(t, err)
	assert.False(t, created)
	created, err = s.EnsureMarket(ctx, "other", admin, params())
	require.NoError(t, err)
	assert.True(t, created)

	names := []string{}
	for _, m := range s.Markets() {
		names = append(names, m.Name)
	}
	assert.Equal(t, []string{mkt, "other"}, names)

	bad := params()
	bad.TickSize = 0
	_, err = s.CreateMarket(ctx, "broken", admin, bad)
	require.True(t, errors.Is(err, market.ErrInvalidParams))

	_, err = s.ClearEventQueue(ctx, mkt, alice)
	require.True(t, errors.Is(err, market.ErrUnauthorized))
	n, err := s.ClearEventQueue(ctx, mkt, admin)
	require.NoError(t, err)
	assert.Zero(t, n)

	regions, err := s.Regions(mkt)
	require.NoError(t, err)
	assert.Len(t, regions, 3)
}

func TestConcurrentPlacesAndReads(t *testing.T) {
	e := newEnv(t)
	s := e.open(t)
	defer s.Close()
	ctx := context.Background()
	_, err := s.CreateMarket(ctx, mkt, admin, params())
	require.NoError(t, err)

	const writers = 16
	done := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			_, err := s.Depth(mkt, types.Bid, 10)
			assert.NoError(t, err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			owner := types.OwnerFromKey(fmt.Sprintf("writer-%d", i))
			_, err := s.PlaceOrder(ctx, mkt, market.PlaceOrder{
				Owner: owner, Side: types.Bid, PriceTicks: uint64(1+i%4) * 1_000, BaseQty: 100, Collateral: 10,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	close(done)
	readers.Wait()

	levels, err := s.Depth(mkt, types.Bid, 10)
	require.NoError(t, err)
	var qty uint64
	for _, l := range levels {
		qty += l.Qty
	}
	assert.Len(t, levels, 4)
	assert.Equal(t, uint64(writers*100), qty)
	assert.Equal(t, uint64(writers+1), s.Seq(), "one journal record per command plus the create")
	require.NoError(t, s.Check())
}

func TestReason(t *testing.T) {
	assert.Equal(t, "queue_full", Reason(errors.Wrap(market.ErrQueueFull, "x")))
	assert.Equal(t, "market_not_found", Reason(ErrMarketNotFound))
	assert.Equal(t, "internal", Reason(errors.New("boom")))
}
