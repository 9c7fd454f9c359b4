// Package entry is the command journal. Every accepted market command is
// appended here before it becomes visible, and replayed on boot.
package entry

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

type Config struct {
	Dir         string
	SegmentSize int64
	// SyncEachAppend fsyncs after every record instead of on rotate/close.
	SyncEachAppend bool
}

type WAL struct {
	mu       sync.Mutex
	dir      string
	segSize  int64
	syncEach bool
	current  *segment
	segIndex int
	closed   bool
	trimmed  int64
	// rotateErr is the last failed attempt to start a new segment. The
	// record that triggered it is already on disk.
	rotateErr error
}

var ErrClosed = errors.New("wal: closed")

// Open starts a fresh segment after the highest one on disk. A torn frame
// left at the end of that segment by a crash is cut off first, so it never
// ends up in the middle of the journal.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create wal dir")
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 64 << 20
	}
	segs, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	next := 0
	var trimmed int64
	if len(segs) > 0 {
		tail := segs[len(segs)-1]
		if trimmed, err = trimTornTail(tail.path); err != nil {
			return nil, err
		}
		next = tail.index + 1
	}
	seg, err := openSegment(cfg.Dir, next)
	if err != nil {
		return nil, err
	}
	return &WAL{
		dir:      cfg.Dir,
		segSize:  cfg.SegmentSize,
		syncEach: cfg.SyncEachAppend,
		current:  seg,
		segIndex: next,
		trimmed:  trimmed,
	}, nil
}

// Trimmed is the number of torn bytes Open cut off the previous segment.
func (w *WAL) Trimmed() int64 { return w.trimmed }

// RotateErr reports why the journal is still writing past its segment
// size, or nil.
func (w *WAL) RotateErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateErr
}

// Append returns nil once the record is written. A failure to start the
// next segment afterwards does not undo the record; it is kept in
// RotateErr and retried on the next append.

func (w *WAL) Append(r *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.current.append(encodeFrame(r)); err != nil {
		return errors.Wrapf(err, "append seq %d", r.Seq)
	}
	if w.syncEach {
		if err := w.current.sync(); err != nil {
			return errors.Wrap(err, "sync segment")
		}
	}
	if w.current.offset >= w.segSize {
		w.rotateErr = w.rotate()
	}
	return nil
}

// rotate keeps the current segment open until its successor exists.
func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return errors.Wrap(err, "sync before rotate")
	}
	seg, err := openSegment(w.dir, w.segIndex+1)
	if err != nil {
		return err
	}
	_ = w.current.close()
	w.current = seg
	w.segIndex++
	return nil
}

func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.current.sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.current.sync(); err != nil {
		_ = w.current.close()
		return err
	}
	return w.current.close()
}

func (w *WAL) Dir() string { return w.dir }

// TruncateBefore removes closed segments whose every record has
// seq <= seq. The segment being written is never removed.
func (w *WAL) TruncateBefore(seq uint64) (removed int, err error) {
	w.mu.Lock()
	current := w.current.path
	w.mu.Unlock()

	segs, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}
	for _, s := range segs {
		if s.path == current {
			continue
		}
		maxSeq, err := maxSeqInSegment(s.path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(s.path); err != nil {
				return removed, errors.Wrapf(err, "remove %s", s.path)
			}
			removed++
		}
	}
	return removed, nil
}
