package service

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"kerdos/domain/market"
	"kerdos/infra/ledger"
	entrywal "kerdos/infra/wal/entry"
	"kerdos/snapshot"
)

// replayPlan is what a first pass over the journal learns before any
// record is applied.
type replayPlan struct {
	// aborted holds commands voided by a later abort record.
	aborted map[uint64]bool
	// tail is the last live command of each market. It is the only one
	// that can have been journaled without its ledger transfers landing.
	tail map[string]uint64
	// dropped are tail commands the ledger refused during replay; Open
	// journals an abort for each.
	dropped    []abortCmd
	watermarks map[string]uint64
}

func planReplay(dir string, after uint64) (*replayPlan, error) {
	plan := &replayPlan{
		aborted:    make(map[uint64]bool),
		tail:       make(map[string]uint64),
		watermarks: make(map[string]uint64),
	}
	_, err := entrywal.Replay(dir, after, func(rec *entrywal.Record) error {
		switch rec.Type {
		case entrywal.RecordCreateMarket:
			return nil
		case entrywal.RecordAbort:
			var a abortCmd
			if err := json.Unmarshal(rec.Data, &a); err != nil {
				return errors.Wrap(err, "decode abort")
			}
			plan.aborted[a.Seq] = true
			if plan.tail[a.Market] == a.Seq {
				delete(plan.tail, a.Market)
			}
			return nil
		}
		var head struct {
			Market string `json:"market"`
		}
		if err := json.Unmarshal(rec.Data, &head); err != nil {
			return errors.Wrapf(err, "decode %s", rec.Type)
		}
		plan.tail[head.Market] = rec.Seq
		return nil
	})
	return plan, err
}

// recover loads the newest snapshot and replays the journal after it. It
// must run before any command is accepted. Each market's last command has
// its ledger transfers applied again unless the ledger is volatile; refs
// that already landed are skipped.
// Fills newer than a market's outbox watermark are offered to the outbox
// again.
func (s *MarketService) recover() (*replayPlan, error) {
	var after uint64
	snap, path, err := snapshot.LoadLatest(s.cfg.SnapshotDir)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		for _, img := range snap.Markets {
			st, err := market.Import(img)
			if err != nil {
				return nil, errors.Wrapf(err, "snapshot %s: market %q", path, img.Market.Name)
			}
			s.markets[st.Market.Name] = newBook(st)
		}
		after = snap.Seq
		s.lastSnapshot = snap.Seq
		s.seq.Observe(snap.Seq)
		s.log.Info("snapshot loaded",
			zap.String("path", path), zap.Uint64("seq", snap.Seq), zap.Int("markets", len(snap.Markets)))
	}

	plan, err := planReplay(s.cfg.Journal.Dir, after)
	if err != nil {
		return nil, err
	}

	applied := 0
	last, err := entrywal.Replay(s.cfg.Journal.Dir, after, func(rec *entrywal.Record) error {
		s.seq.Observe(rec.Seq)
		if rec.Type == entrywal.RecordAbort || plan.aborted[rec.Seq] {
			return nil
		}
		applied++
		return s.replayRecord(rec, plan)
	})
	if err != nil {
		return nil, err
	}
	s.seq.Observe(last)
	s.log.Info("journal replayed",
		zap.Int("records", applied), zap.Int("aborted", len(plan.aborted)), zap.Uint64("seq", s.seq.Current()))
	return plan, nil
}

func (s *MarketService) replayRecord(rec *entrywal.Record, plan *replayPlan) error {
	switch rec.Type {
	case entrywal.RecordCreateMarket:
		var c createCmd
		if err := json.Unmarshal(rec.Data, &c); err != nil {
			return errors.Wrap(err, "decode create_market")
		}
		if _, ok := s.markets[c.Name]; ok {
			return errors.Wrapf(ErrMarketExists, "%q", c.Name)
		}
		st, err := c.build()
		if err != nil {
			return err
		}
		s.markets[c.Name] = newBook(st)
		return nil
	case entrywal.RecordPlace:
		return replayInto[*market.PlaceResult](s, rec, plan, &placeCmd{})
	case entrywal.RecordCancel:
		return replayInto[uint64](s, rec, plan, &cancelCmd{})
	case entrywal.RecordClose:
		return replayInto[struct{}](s, rec, plan, &closeCmd{})
	case entrywal.RecordSettle:
		return replayInto[*market.SettleResult](s, rec, plan, &settleCmd{})
	case entrywal.RecordDeposit:
		return replayInto[market.UserBalance](s, rec, plan, &depositCmd{})
	case entrywal.RecordWithdraw:
		return replayInto[market.UserBalance](s, rec, plan, &withdrawCmd{})
	case entrywal.RecordGrow:
		return replayInto[market.RegionInfo](s, rec, plan, &growCmd{})
	case entrywal.RecordClearQueue:
		return replayInto[int](s, rec, plan, &clearCmd{})
	case entrywal.RecordPause:
		return replayInto[struct{}](s, rec, plan, &pauseCmd{})
	default:
		return errors.Errorf("unknown record type %s", rec.Type)
	}
}

func replayInto[R any](s *MarketService, rec *entrywal.Record, plan *replayPlan, cmd command[R]) error {
	if err := json.Unmarshal(rec.Data, cmd); err != nil {
		return errors.Wrapf(err, "decode %s", rec.Type)
	}
	name := cmd.target()
	b, ok := s.markets[name]
	if !ok {
		return errors.Wrapf(ErrMarketNotFound, "%q", name)
	}

	tail := plan.tail[name] == rec.Seq && !ledger.IsVolatile(s.ledger)
	st := b.state.Load()
	if tail {
		st = st.Stage()
	}
	_, ch, err := cmd.apply(st)
	if err != nil {
		return errors.Wrap(err, "journaled command no longer applies")
	}
	if tail {
		if err := s.transfer(context.Background(), name, rec.Seq, ch.transfers); err != nil {
			if !errors.Is(err, ledger.ErrInsufficientFunds) && !errors.Is(err, ledger.ErrInvalidTransfer) {
				return errors.Wrap(err, "ledger")
			}
			s.log.Warn("dropping journaled command the ledger refuses",
				zap.String("market", name), zap.Uint64("seq", rec.Seq), zap.Stringer("command", rec.Type), zap.Error(err))
			plan.dropped = append(plan.dropped, abortCmd{Market: name, Seq: rec.Seq, Reason: err.Error()})
			return nil
		}
		b.state.Store(st)
	}

	if s.outbox == nil || len(ch.fills) == 0 {
		return nil
	}
	wm, ok := plan.watermarks[name]
	if !ok {
		if wm, err = s.outbox.Watermark(name); err != nil {
			return err
		}
		plan.watermarks[name] = wm
	}
	if rec.Seq <= wm {
		return nil
	}
	return s.outbox.PutFills(name, rec.Seq, fillEntries(name, rec.Seq, ch.fills))
}
