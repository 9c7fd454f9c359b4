// Package exit is the fill outbox. The service records every fill here after
// the command is journaled; the broadcaster drains it to Kafka and marks
// entries acked. Keys are ordered by market then fill seq, so a scan
// publishes each market's fills in the order they were matched.
package exit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Entry is one outbox row.
type Entry struct {
	Market      string
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const headerLen = 1 + 4 + 8

// value layout: [state:1][retries:4][lastAttempt:8][payload]
func encodeEntry(e Entry) []byte {
	buf := make([]byte, headerLen+len(e.Payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	copy(buf[headerLen:], e.Payload)
	return buf
}

func decodeEntry(key, val []byte) (Entry, error) {
	if len(val) < headerLen {
		return Entry{}, errors.Errorf("outbox: short value for %q", key)
	}
	market, seq, err := parseKey(key)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Market:      market,
		Seq:         seq,
		State:       State(val[0]),
		Retries:     binary.BigEndian.Uint32(val[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(val[5:13])),
		Payload:     append([]byte(nil), val[headerLen:]...),
	}, nil
}

const keyPrefix = "fill/"

func keyFor(market string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", keyPrefix, market, seq))
}

func parseKey(b []byte) (string, uint64, error) {
	rest := bytes.TrimPrefix(b, []byte(keyPrefix))
	i := bytes.LastIndexByte(rest, '/')
	if i < 0 {
		return "", 0, errors.Errorf("outbox: malformed key %q", b)
	}
	seq, err := strconv.ParseUint(string(rest[i+1:]), 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "outbox: malformed key %q", b)
	}
	return string(rest[:i]), seq, nil
}

type Outbox struct {
	mu  sync.Mutex
	db  *pebble.DB
	now func() time.Time
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}
	return &Outbox{db: db, now: time.Now}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

const watermarkPrefix = "meta/watermark/"

func watermarkKey(market string) []byte {
	return []byte(watermarkPrefix + market)
}

// PutFills records the fills that journal record journalSeq produced in
// market and advances the market's watermark in the same batch. Entries
// that already exist are kept as they are. Commands of one market are
// serialized, so each watermark only moves forward.
func (o *Outbox) PutFills(market string, journalSeq uint64, entries []Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	batch := o.db.NewBatch()
	defer batch.Close()
	for _, e := range entries {
		e.Market = market
		key := keyFor(market, e.Seq)
		_, closer, err := o.db.Get(key)
		if err == nil {
			_ = closer.Close()
			continue
		}
		if !errors.Is(err, pebble.ErrNotFound) {
			return err
		}
		e.State, e.Retries, e.LastAttempt = StateNew, 0, 0
		if err := batch.Set(key, encodeEntry(e), nil); err != nil {
			return err
		}
	}
	var wm [8]byte
	binary.BigEndian.PutUint64(wm[:], journalSeq)
	if err := batch.Set(watermarkKey(market), wm[:], nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// Watermark is the last journal seq whose fills were recorded for market.
func (o *Outbox) Watermark(market string) (uint64, error) {
	val, closer, err := o.db.Get(watermarkKey(market))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, errors.New("outbox: bad watermark")
	}
	return binary.BigEndian.Uint64(val), nil
}

func (o *Outbox) Get(market string, seq uint64) (Entry, error) {
	key := keyFor(market, seq)
	val, closer, err := o.db.Get(key)
	if err != nil {
		return Entry{}, err
	}
	defer closer.Close()
	return decodeEntry(key, val)
}

func (o *Outbox) MarkSent(market string, seq uint64) error {
	return o.update(market, seq, func(e *Entry) { e.State = StateSent })
}

func (o *Outbox) MarkAcked(market string, seq uint64) error {
	return o.update(market, seq, func(e *Entry) { e.State = StateAcked })
}

// MarkFailed records a failed publish and bumps the retry count.
func (o *Outbox) MarkFailed(market string, seq uint64) error {
	return o.update(market, seq, func(e *Entry) {
		e.State = StateFailed
		e.Retries++
	})
}

func (o *Outbox) update(market string, seq uint64, fn func(*Entry)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := keyFor(market, seq)
	val, closer, err := o.db.Get(key)
	if err != nil {
		return errors.Wrapf(err, "outbox %s/%d", market, seq)
	}
	e, err := decodeEntry(key, val)
	_ = closer.Close()
	if err != nil {
		return err
	}
	fn(&e)
	e.LastAttempt = o.now().UnixNano()
	return o.db.Set(key, encodeEntry(e), pebble.Sync)
}

// ScanByState calls fn for up to limit entries in state, in key order.
// limit <= 0 scans everything.
func (o *Outbox) ScanByState(state State, limit int, fn func(Entry) error) error {
	return o.scan(limit, func(val []byte) bool {
		return State(val[0]) == state
	}, fn)
}

// ScanPending calls fn for up to limit entries that still need publishing,
// NEW ones and FAILED ones with fewer than maxRetries attempts, in key
// order. A retried fill therefore goes out ahead of newer fills of its
// market.
func (o *Outbox) ScanPending(limit int, maxRetries uint32, fn func(Entry) error) error {
	return o.scan(limit, func(val []byte) bool {
		switch State(val[0]) {
		case StateNew:
			return true
		case StateFailed:
			return binary.BigEndian.Uint32(val[1:5]) < maxRetries
		}
		return false
	}, fn)
}

func (o *Outbox) scan(limit int, keep func(val []byte) bool, fn func(Entry) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte("fill0"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	seen := 0
	for iter.First(); iter.Valid(); iter.Next() {
		val := iter.Value()
		if len(val) < headerLen || !keep(val) {
			continue
		}
		e, err := decodeEntry(iter.Key(), val)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		seen++
		if limit > 0 && seen >= limit {
			break
		}
	}
	return iter.Error()
}

// Requeue moves entries left in SENT by a crash back to NEW.
func (o *Outbox) Requeue() (int, error) {
	var stuck []Entry
	if err := o.ScanByState(StateSent, 0, func(e Entry) error {
		stuck = append(stuck, e)
		return nil
	}); err != nil {
		return 0, err
	}
	for _, e := range stuck {
		if err := o.update(e.Market, e.Seq, func(e *Entry) { e.State = StateNew }); err != nil {
			return 0, err
		}
	}
	return len(stuck), nil
}

// DeleteAcked removes every acked entry in one batch.
func (o *Outbox) DeleteAcked() (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte("fill0"),
	})
	if err != nil {
		return 0, err
	}
	batch := o.db.NewBatch()
	defer batch.Close()
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if val := iter.Value(); len(val) > 0 && State(val[0]) == StateAcked {
			if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
				_ = iter.Close()
				return 0, err
			}
			n++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n, batch.Commit(pebble.Sync)
}

// Counts reports the number of entries per state.
func (o *Outbox) Counts() (map[State]int, error) {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte("fill0"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := make(map[State]int, 4)
	for iter.First(); iter.Valid(); iter.Next() {
		if val := iter.Value(); len(val) > 0 {
			out[State(val[0])]++
		}
	}
	return out, iter.Error()
}
