package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kerdos/domain/market"
	"kerdos/snapshot"
)

// Snapshot captures every market as of the current journal sequence. All
// books are locked while exporting, so no command is half way between
// journal and swap.
func (s *MarketService) Snapshot() *snapshot.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	books, unlock := s.lockAll()
	defer unlock()

	snap := &snapshot.Snapshot{
		Seq:     s.seq.Current(),
		Created: time.Now(),
		Markets: make([]market.Image, 0, len(books)),
	}
	for _, b := range books {
		snap.Markets = append(snap.Markets, b.state.Load().Export())
	}
	return snap
}

// WriteSnapshot persists a snapshot and drops the journal segments covered
// by the previous one, so a damaged newest file can still fall back to its
// predecessor plus the journal. It returns the snapshot's sequence.
func (s *MarketService) WriteSnapshot() (uint64, error) {
	snap := s.Snapshot()
	path, err := s.snapshots.Write(snap)
	if err != nil {
		return 0, err
	}
	s.metrics.SnapshotWritten(snap.Created)

	s.jmu.Lock()
	j, prev := s.journal, s.lastSnapshot
	s.lastSnapshot = snap.Seq
	s.jmu.Unlock()
	if prev == 0 {
		s.log.Info("snapshot written", zap.String("path", path), zap.Uint64("seq", snap.Seq))
		return snap.Seq, nil
	}
	removed, err := j.TruncateBefore(prev)
	if err != nil {
		return snap.Seq, err
	}
	s.log.Info("snapshot written",
		zap.String("path", path), zap.Uint64("seq", snap.Seq), zap.Int("segments_removed", removed))
	return snap.Seq, nil
}

// RunSnapshots writes a snapshot every interval until ctx is done, and a
// final one on the way out.
func (s *MarketService) RunSnapshots(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	var last uint64
	for {
		select {
		case <-ctx.Done():
			if s.seq.Current() != last {
				if _, err := s.WriteSnapshot(); err != nil {
					s.log.Error("final snapshot", zap.Error(err))
				}
			}
			return
		case <-t.C:
			if s.seq.Current() == last {
				continue
			}
			seq, err := s.WriteSnapshot()
			if err != nil {
				s.log.Error("snapshot", zap.Error(err))
				continue
			}
			last = seq
		}
	}
}
