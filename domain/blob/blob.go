// Package blob implements the growable byte region that backs both order
// books and the event queue.
//
// Layout (little-endian):
//
//	[magic:4][kind:1][capacity:4][used:4][payload ...]
//
// capacity and used count payload bytes only, so a fresh store reports
// capacity=0 used=0. The region only ever grows by appending bytes; offsets
// into the payload stay valid across growth.
package blob

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Magic     uint32 = 0x4B455244 // "KERD"
	HeaderLen        = 4 + 1 + 4 + 4

	// MaxGrowStep is the most a single call may extend a region by. The host
	// storage limits how much one operation can reallocate.
	MaxGrowStep = 10_240
)

type Kind uint8

const (
	KindBids       Kind = 1
	KindAsks       Kind = 2
	KindEventQueue Kind = 3
)

func (k Kind) Valid() bool {
	return k >= KindBids && k <= KindEventQueue
}

func (k Kind) String() string {
	switch k {
	case KindBids:
		return "bids"
	case KindAsks:
		return "asks"
	case KindEventQueue:
		return "eventq"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind accepts the names produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "bids":
		return KindBids, nil
	case "asks":
		return KindAsks, nil
	case "eventq", "event_queue":
		return KindEventQueue, nil
	}
	return 0, fmt.Errorf("unknown blob kind %q", s)
}

var (
	ErrInvalidCapacity = errors.New("invalid capacity")
	ErrBadHeader       = errors.New("bad blob header")
)

type Header struct {
	Magic    uint32
	Kind     Kind
	Capacity uint32
	Used     uint32
}

func EncodeHeader(dst []byte, h Header) {
	_ = dst[HeaderLen-1]
	binary.LittleEndian.PutUint32(dst[0:4], h.Magic)
	dst[4] = byte(h.Kind)
	binary.LittleEndian.PutUint32(dst[5:9], h.Capacity)
	binary.LittleEndian.PutUint32(dst[9:13], h.Used)
}

func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderLen {
		return Header{}, ErrBadHeader
	}
	return Header{
		Magic:    binary.LittleEndian.Uint32(src[0:4]),
		Kind:     Kind(src[4]),
		Capacity: binary.LittleEndian.Uint32(src[5:9]),
		Used:     binary.LittleEndian.Uint32(src[9:13]),
	}, nil
}

// Store is a single growable region. The payload length always equals the
// capacity recorded in the header.
type Store struct {
	data    []byte
	ceiling uint32
}

// New allocates an empty store of the given kind. ceiling is the hard
// payload limit fixed at market creation.
func New(kind Kind, ceiling uint32) (*Store, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrBadHeader, kind)
	}
	s := &Store{
		data:    make([]byte, HeaderLen),
		ceiling: ceiling,
	}
	EncodeHeader(s.data, Header{Magic: Magic, Kind: kind})
	return s, nil
}

// Load wraps raw bytes previously obtained from Bytes.
func Load(raw []byte, ceiling uint32) (*Store, error) {
	h, err := DecodeHeader(raw)
	if err != nil {
		return nil, err
	}
	if h.Magic != Magic || !h.Kind.Valid() {
		return nil, ErrBadHeader
	}
	if int(h.Capacity) != len(raw)-HeaderLen || h.Used > h.Capacity || h.Capacity > ceiling {
		return nil, fmt.Errorf("%w: capacity=%d used=%d len=%d ceiling=%d",
			ErrBadHeader, h.Capacity, h.Used, len(raw), ceiling)
	}
	data := make([]byte, len(raw))
	copy(data, raw)
	return &Store{data: data, ceiling: ceiling}, nil
}

func (s *Store) header() Header {
	h, _ := DecodeHeader(s.data)
	return h
}

func (s *Store) Kind() Kind        { return Kind(s.data[4]) }
func (s *Store) Capacity() uint32  { return binary.LittleEndian.Uint32(s.data[5:9]) }
func (s *Store) Used() uint32      { return binary.LittleEndian.Uint32(s.data[9:13]) }
func (s *Store) Ceiling() uint32   { return s.ceiling }
func (s *Store) Headroom() uint32  { return s.ceiling - s.Capacity() }
func (s *Store) Header() Header    { return s.header() }
func (s *Store) Bytes() []byte     { return s.data }
func (s *Store) Payload() []byte   { return s.data[HeaderLen:] }
func (s *Store) AtCeiling() bool   { return s.Capacity() >= s.ceiling }
func (s *Store) setCapacity(c uint32) {
	binary.LittleEndian.PutUint32(s.data[5:9], c)
}

// SetUsed records how many payload bytes are occupied.
func (s *Store) SetUsed(used uint32) error {
	if used > s.Capacity() {
		return fmt.Errorf("%w: used %d > capacity %d", ErrInvalidCapacity, used, s.Capacity())
	}
	binary.LittleEndian.PutUint32(s.data[9:13], used)
	return nil
}

// Grow appends up to step bytes, clamped to MaxGrowStep and to the ceiling.
// It returns the number of bytes added; zero once the ceiling is reached.
func (s *Store) Grow(step uint32) uint32 {
	if step > MaxGrowStep {
		step = MaxGrowStep
	}
	if h := s.Headroom(); step > h {
		step = h
	}
	if step == 0 {
		return 0
	}
	s.data = append(s.data, make([]byte, step)...)
	s.setCapacity(s.Capacity() + step)
	return step
}

// Ensure grows the store so that at least want payload bytes are usable,
// within a single bounded step. Asking for more than the ceiling, or more
// than one step can deliver, fails with ErrInvalidCapacity.
func (s *Store) Ensure(want uint32) error {
	have := s.Capacity()
	if want <= have {
		return nil
	}
	if want > s.ceiling {
		return fmt.Errorf("%w: want %d bytes, ceiling %d", ErrInvalidCapacity, want, s.ceiling)
	}
	if want-have > MaxGrowStep {
		return fmt.Errorf("%w: want %d bytes, have %d, step limit %d", ErrInvalidCapacity, want, have, MaxGrowStep)
	}
	s.Grow(want - have)
	return nil
}

func (s *Store) Clone() *Store {
	data := make([]byte, len(s.data))
	copy(data, s.data)
	return &Store{data: data, ceiling: s.ceiling}
}
