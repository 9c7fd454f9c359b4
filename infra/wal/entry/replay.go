package entry

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

type ReplayHandler func(*Record) error

// Replay feeds every record with seq > after to fn, in journal order, and
// returns the highest seq seen. A partial frame at the very end of the last
// segment is a crash artefact and ends replay cleanly; anywhere else it is
// corruption.
func Replay(dir string, after uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, err
	}
	for i, s := range segs {
		last := i == len(segs)-1
		lastSeq, err = replaySegment(s.path, last, lastSeq, after, fn)
		if err != nil {
			return lastSeq, err
		}
	}
	return lastSeq, nil
}

func replaySegment(path string, last bool, lastSeq, after uint64, fn ReplayHandler) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return lastSeq, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	for {
		rec, err := readFrame(f)
		switch {
		case err == io.EOF:
			return lastSeq, nil
		case err == io.ErrUnexpectedEOF && last:
			return lastSeq, nil
		case err != nil:
			return lastSeq, errors.Wrapf(err, "read %s", path)
		}
		if rec.Seq <= lastSeq {
			return lastSeq, errors.Wrapf(ErrCorrupt, "non-monotonic seq %d after %d", rec.Seq, lastSeq)
		}
		lastSeq = rec.Seq
		if rec.Seq <= after {
			continue
		}
		if err := fn(rec); err != nil {
			return lastSeq, errors.Wrapf(err, "apply seq %d (%s)", rec.Seq, rec.Type)
		}
	}
}
