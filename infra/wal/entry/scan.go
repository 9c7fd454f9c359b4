package entry

import (
	"encoding/binary"
	"io"
	"os"
)

// maxSeqInSegment returns the highest seq in a segment by reading headers
// only. A torn tail ends the scan. Used for truncation after snapshots.
func maxSeqInSegment(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var top uint64
	header := make([]byte, frameHeaderLen)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return top, nil
			}
			return top, err
		}
		if seq := binary.BigEndian.Uint64(header[1:9]); seq > top {
			top = seq
		}
		n := binary.BigEndian.Uint32(header[17:21])
		if _, err := f.Seek(int64(n)+4, io.SeekCurrent); err != nil {
			return top, err
		}
	}
}
