package snapshot

import (
	"fmt"
	"path/filepath"
	"time"

	"kerdos/domain/market"
)

// Snapshot is the engine state as of journal sequence Seq.
type Snapshot struct {
	Seq     uint64
	Created time.Time
	Markets []market.Image
}

const filePattern = "snapshot-*.bin"

func fileName(dir string, seq uint64) string {
	return filepath.Join(dir, fmt.Sprintf("snapshot-%020d.bin", seq))
}
