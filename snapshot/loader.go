package snapshot

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
)

// LoadLatest returns the newest snapshot in dir that decodes, or nil when
// there is none. A damaged newest file falls back to the previous one.
func LoadLatest(dir string) (*Snapshot, string, error) {
	paths, err := list(dir)
	if err != nil {
		return nil, "", err
	}
	var firstErr error
	for i := len(paths) - 1; i >= 0; i-- {
		s, err := Load(paths[i])
		if err == nil {
			return s, paths[i], nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, "", firstErr
	}
	return nil, "", nil
}

func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}
	return &s, nil
}
