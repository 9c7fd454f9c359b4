package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"kerdos/domain/blob"
	"kerdos/domain/eventq"
	"kerdos/domain/market"
	"kerdos/domain/types"
	"kerdos/infra/ledger"
	"kerdos/infra/metrics"
	"kerdos/infra/sequence"
	entrywal "kerdos/infra/wal/entry"
	exitwal "kerdos/infra/wal/exit"
	"kerdos/logging"
	"kerdos/snapshot"
)

var (
	ErrMarketNotFound = errors.New("market not found")
	ErrMarketExists   = errors.New("market already exists")
	ErrLedger         = errors.New("ledger rejected transfer")
	ErrJournal        = errors.New("journal unavailable")
)

type Config struct {
	Journal      entrywal.Config
	SnapshotDir  string
	SnapshotKeep int
}

type Deps struct {
	Ledger ledger.Ledger
	// Outbox may be nil, in which case fills are not recorded for broadcast.
	Outbox  *exitwal.Outbox
	Metrics *metrics.Metrics
	Log     *logging.Logger
}

// book holds one market. mu serializes writers; the committed state is
// published through an atomic pointer and never mutated afterwards, so
// queries read it without taking mu.
type book struct {
	mu    sync.Mutex
	state atomic.Pointer[market.State]
}

func newBook(st *market.State) *book {
	b := &book{}
	b.state.Store(st)
	return b
}

type MarketService struct {
	cfg Config

	mu      sync.RWMutex
	markets map[string]*book

	jmu     sync.Mutex
	journal *entrywal.WAL
	seq     *sequence.Sequencer

	// broken is set when a journal append fails part way; the tail of the
	// segment is then unknown and no further command is accepted.
	broken error
	// rotateErr is the rotation failure last reported by the journal.
	rotateErr error

	// lastSnapshot is the seq of the newest snapshot loaded or written.
	lastSnapshot uint64

	ledger    ledger.Ledger
	outbox    *exitwal.Outbox
	metrics   *metrics.Metrics
	log       *logging.Logger
	snapshots *snapshot.Writer
}

// Open restores state from the newest snapshot plus the journal after it
// and starts a fresh journal segment.
func Open(cfg Config, deps Deps) (*MarketService, error) {
	if deps.Ledger == nil {
		return nil, errors.New("service: ledger is required")
	}
	if deps.Log == nil {
		return nil, errors.New("service: logger is required")
	}
	s := &MarketService{
		cfg:       cfg,
		markets:   make(map[string]*book),
		seq:       sequence.New(0),
		ledger:    deps.Ledger,
		outbox:    deps.Outbox,
		metrics:   deps.Metrics,
		log:       deps.Log.Named("service"),
		snapshots: &snapshot.Writer{Dir: cfg.SnapshotDir, Keep: cfg.SnapshotKeep},
	}
	plan, err := s.recover()
	if err != nil {
		return nil, errors.Wrap(err, "recover")
	}
	j, err := entrywal.Open(cfg.Journal)
	if err != nil {
		return nil, err
	}
	if n := j.Trimmed(); n > 0 {
		s.log.Warn("cut torn record off the journal tail", zap.Int64("bytes", n))
	}
	s.journal = j
	for _, a := range plan.dropped {
		if _, err := s.append(entrywal.RecordAbort, a); err != nil {
			_ = j.Close()
			return nil, errors.Wrapf(err, "journal abort of seq %d", a.Seq)
		}
	}
	for _, b := range s.markets {
		s.observe(b.state.Load())
	}
	return s, nil
}

func (s *MarketService) Close() error {
	s.jmu.Lock()
	defer s.jmu.Unlock()
	return s.journal.Close()
}

// Seq is the last journal sequence issued.
func (s *MarketService) Seq() uint64 {
	return s.seq.Current()
}

func (s *MarketService) book(name string) (*book, error) {
	s.mu.RLock()
	b, ok := s.markets[name]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrMarketNotFound, "%q", name)
	}
	return b, nil
}

// change is what a command asks the service to do besides swapping state.
type change struct {
	transfers []ledger.Transfer
	fills     []eventq.Event
}

// command is a journaled market command. apply runs it against st and
// must be deterministic: replay calls it again with the same input.
type command[R any] interface {
	target() string
	kind() entrywal.RecordType
	apply(st *market.State) (R, change, error)
}

// execute runs cmd on a staged copy of its market, journals it, then moves
// the ledger. Ledger refs derive from the journal seq, so replay can repeat
// the transfers of a command that was journaled just before a crash and the
// ledger skips the ones that already landed. A ledger refusal after the
// append is journaled as an abort and the staged state is dropped.
func execute[R any](ctx context.Context, s *MarketService, cmd command[R]) (R, error) {
	var zero R
	name, kind := cmd.target(), cmd.kind()
	b, err := s.book(name)
	if err != nil {
		return zero, err
	}
	defer s.metrics.CommandTimer(name, kind.String())()

	b.mu.Lock()
	defer b.mu.Unlock()

	staged := b.state.Load().Stage()
	res, ch, err := cmd.apply(staged)
	if err != nil {
		s.reject(name, kind, err)
		return zero, err
	}

	seq, err := s.append(kind, cmd)
	if err != nil {
		s.reject(name, kind, err)
		return zero, err
	}

	if err := s.transfer(context.WithoutCancel(ctx), name, seq, ch.transfers); err != nil {
		s.abort(name, seq, err)
		s.reject(name, kind, err)
		return zero, fmt.Errorf("%w: %w", ErrLedger, err)
	}

	b.state.Store(staged)
	s.recordFills(name, seq, ch.fills)
	if len(ch.fills) > 0 {
		s.metrics.Fills(name, len(ch.fills))
		s.log.Debug("fills committed", zap.String("market", name), zap.Uint64("seq", seq), zap.Int("fills", len(ch.fills)))
	}
	s.observe(staged)
	s.metrics.CommandOK(name, kind.String())
	return res, nil
}

// transfer stamps each transfer with a ref derived from the journal record
// and applies the batch.
func (s *MarketService) transfer(ctx context.Context, name string, seq uint64, ts []ledger.Transfer) error {
	if len(ts) == 0 {
		return nil
	}
	for i := range ts {
		ts[i].Ref = transferRef(name, seq, i)
	}
	return s.ledger.Apply(ctx, ts)
}

func transferRef(name string, seq uint64, i int) string {
	return fmt.Sprintf("%s/%d/%d", name, seq, i)
}

// abort journals that record seq of name must not be replayed. If the
// abort itself cannot be written the journal is already marked broken and
// the next boot retries the transfers.
func (s *MarketService) abort(name string, seq uint64, cause error) {
	s.log.Warn("ledger refused journaled command",
		zap.String("market", name), zap.Uint64("seq", seq), zap.Error(cause))
	if _, err := s.append(entrywal.RecordAbort, abortCmd{Market: name, Seq: seq, Reason: cause.Error()}); err != nil {
		s.log.Error("journal abort", zap.String("market", name), zap.Uint64("seq", seq), zap.Error(err))
	}
}

// append journals cmd under a fresh seq.
func (s *MarketService) append(kind entrywal.RecordType, cmd any) (uint64, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return 0, errors.Wrapf(err, "encode %s", kind)
	}
	s.jmu.Lock()
	defer s.jmu.Unlock()
	if s.broken != nil {
		return 0, fmt.Errorf("%w: %w", ErrJournal, s.broken)
	}
	seq := s.seq.Next()
	if err := s.journal.Append(entrywal.NewRecord(kind, seq, data)); err != nil {
		s.broken = err
		s.log.Error("journal append failed, refusing further commands", zap.Uint64("seq", seq), zap.Error(err))
		return 0, fmt.Errorf("%w: %w", ErrJournal, err)
	}
	if rerr := s.journal.RotateErr(); (rerr != nil) != (s.rotateErr != nil) {
		if rerr != nil {
			s.log.Warn("journal rotation failed, appending to the current segment", zap.Error(rerr))
		} else {
			s.log.Info("journal rotation recovered")
		}
		s.rotateErr = rerr
	}
	return seq, nil
}

func fillEntries(name string, journalSeq uint64, fills []eventq.Event) []exitwal.Entry {
	now := time.Now().UnixNano()
	out := make([]exitwal.Entry, len(fills))
	for i, ev := range fills {
		out[i] = exitwal.Entry{
			Market:  name,
			Seq:     ev.Seq,
			Payload: exitwal.NewFillMessage(name, journalSeq, now, ev).Marshal(),
		}
	}
	return out
}

func (s *MarketService) recordFills(name string, journalSeq uint64, fills []eventq.Event) {
	if len(fills) == 0 || s.outbox == nil {
		return
	}
	if err := s.outbox.PutFills(name, journalSeq, fillEntries(name, journalSeq, fills)); err != nil {
		// Replay re-offers them on the next boot since the watermark did not move.
		s.log.Error("record fills", zap.String("market", name), zap.Uint64("seq", journalSeq), zap.Error(err))
	}
}

func (s *MarketService) observe(st *market.State) {
	if s.metrics == nil {
		return
	}
	name := st.Market.Name
	s.metrics.SetQueueDepth(name, st.QueueLen())
	for side, k := range map[types.Side]blob.Kind{types.Bid: blob.KindBids, types.Ask: blob.KindAsks} {
		if info, err := st.Region(k); err == nil {
			s.metrics.SetLiveOrders(name, side.String(), int(info.Live))
		}
	}
}

func (s *MarketService) reject(name string, kind entrywal.RecordType, err error) {
	s.metrics.Rejected(name, kind.String(), Reason(err))
	s.log.Debug("command rejected",
		zap.String("market", name), zap.Stringer("command", kind), zap.Error(err))
}

var reasons = []struct {
	err    error
	reason string
}{
	{market.ErrInvalidCapacity, "invalid_capacity"},
	{market.ErrInsufficientBalance, "insufficient_balance"},
	{market.ErrOrderAlreadyActive, "order_already_active"},
	{market.ErrOrderNotActive, "order_not_active"},
	{market.ErrQueueFull, "queue_full"},
	{market.ErrAccountMismatch, "account_mismatch"},
	{market.ErrUnauthorized, "unauthorized"},
	{market.ErrMarketPaused, "market_paused"},
	{market.ErrInvalidTick, "invalid_tick"},
	{market.ErrQtyTooSmall, "qty_too_small"},
	{market.ErrInvalidQtyStep, "invalid_qty_step"},
	{market.ErrInvalidAmount, "invalid_amount"},
	{market.ErrInvalidSide, "invalid_side"},
	{market.ErrOverflow, "overflow"},
	{market.ErrInvalidParams, "invalid_params"},
	{market.ErrUnsettledEvents, "unsettled_events"},
	{market.ErrCorrupt, "corrupt"},
	{ErrMarketNotFound, "market_not_found"},
	{ErrMarketExists, "market_exists"},
	{ErrLedger, "ledger"},
	{ErrJournal, "journal"},
}

// Reason is a stable label for err, used in metrics and API errors.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}

// CreateMarket journals and registers a new market.
func (s *MarketService) CreateMarket(_ context.Context, name string, authority types.OwnerID, p market.Params) (market.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.markets[name]; ok {
		return market.Market{}, errors.Wrapf(ErrMarketExists, "%q", name)
	}
	cmd := createCmd{Name: name, Authority: authority, Params: p}
	st, err := cmd.build()
	if err != nil {
		return market.Market{}, err
	}
	if _, err := s.append(entrywal.RecordCreateMarket, cmd); err != nil {
		return market.Market{}, err
	}
	s.markets[name] = newBook(st)
	s.observe(st)
	s.log.Info("market created",
		zap.String("market", name),
		zap.String("authority", authority.Short()),
		zap.String("base", st.Market.Params.BaseAsset),
		zap.String("quote", st.Market.Params.QuoteAsset))
	return st.Market, nil
}

// EnsureMarket creates the market unless one with that name exists.
func (s *MarketService) EnsureMarket(ctx context.Context, name string, authority types.OwnerID, p market.Params) (bool, error) {
	if _, err := s.book(name); err == nil {
		return false, nil
	}
	_, err := s.CreateMarket(ctx, name, authority, p)
	if errors.Is(err, ErrMarketExists) {
		return false, nil
	}
	return err == nil, err
}

// lockAll locks every book in name order and returns an unlock func. The
// caller must hold s.mu for reading.
func (s *MarketService) lockAll() ([]*book, func()) {
	names := make([]string, 0, len(s.markets))
	for n := range s.markets {
		names = append(names, n)
	}
	sort.Strings(names)
	books := make([]*book, len(names))
	for i, n := range names {
		books[i] = s.markets[n]
		books[i].mu.Lock()
	}
	return books, func() {
		for _, b := range books {
			b.mu.Unlock()
		}
	}
}
