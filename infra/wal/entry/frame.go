package entry

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"
)

// Frame layout, big-endian:
//
//	[type:1][seq:8][time:8][len:4][payload][crc:4]
//
// The CRC covers header and payload.
const frameHeaderLen = 1 + 8 + 8 + 4

// MaxPayload guards replay against a garbage length field.
const MaxPayload = 16 << 20

var ErrCorrupt = errors.New("wal: corrupt record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

func encodeFrame(r *Record) []byte {
	n := uint32(len(r.Data))
	buf := make([]byte, frameHeaderLen+n+4)
	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], n)
	copy(buf[frameHeaderLen:], r.Data)
	binary.BigEndian.PutUint32(buf[frameHeaderLen+n:], checksum(buf[:frameHeaderLen+n]))
	return buf
}

// readFrame returns io.EOF on a clean end and io.ErrUnexpectedEOF when the
// file stops inside a frame.
func readFrame(r io.Reader) (*Record, error) {
	header := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[17:21])
	if n > MaxPayload {
		return nil, errors.Wrapf(ErrCorrupt, "payload length %d", n)
	}
	body := make([]byte, n+4)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	payload := body[:n]
	sum := binary.BigEndian.Uint32(body[n:])

	crc := crc32.New(castagnoli)
	_, _ = crc.Write(header)
	_, _ = crc.Write(payload)
	if crc.Sum32() != sum {
		return nil, errors.Wrapf(ErrCorrupt, "crc mismatch at seq %d", binary.BigEndian.Uint64(header[1:9]))
	}
	return &Record{
		Type: RecordType(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: payload,
	}, nil
}
