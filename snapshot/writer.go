package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
)

type Writer struct {
	Dir string
	// Keep is how many snapshot files survive a write. Zero keeps two.
	Keep int
}

// Write stores s atomically: it is encoded to a temp file, synced and
// renamed into place, then older snapshots beyond Keep are removed.
func (w *Writer) Write(s *Snapshot) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}
	if s.Created.IsZero() {
		s.Created = time.Now()
	}

	tmp, err := os.CreateTemp(w.Dir, "snapshot-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if err := gob.NewEncoder(tmp).Encode(s); err != nil {
		_ = tmp.Close()
		return "", errors.Wrap(err, "encode snapshot")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	path := fileName(w.Dir, s.Seq)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", errors.Wrap(err, "publish snapshot")
	}
	return path, w.prune()
}

func (w *Writer) prune() error {
	keep := w.Keep
	if keep <= 0 {
		keep = 2
	}
	paths, err := list(w.Dir)
	if err != nil {
		return err
	}
	for len(paths) > keep {
		if err := os.Remove(paths[0]); err != nil {
			return err
		}
		paths = paths[1:]
	}
	return nil
}

// list returns snapshot files oldest first. Names are zero padded so the
// lexical order is the sequence order.
func list(dir string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, filePattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
