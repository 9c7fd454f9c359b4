// Package types holds the identifiers shared by every domain package:
// order sides and 32-byte owner ids.
package types

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) Valid() bool {
	return s == Bid || s == Ask
}

func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide accepts "bid"/"buy" and "ask"/"sell".
func ParseSide(s string) (Side, error) {
	switch s {
	case "bid", "buy", "BID", "BUY":
		return Bid, nil
	case "ask", "sell", "ASK", "SELL":
		return Ask, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}

// OwnerIDLen is the on-wire width of an owner id.
const OwnerIDLen = 32

// OwnerID identifies a user inside a market. It is fixed width so that it
// can live inside slab nodes and event records.
type OwnerID [OwnerIDLen]byte

var ErrInvalidOwnerID = errors.New("invalid owner id")

// OwnerFromKey derives an owner id from a user's public key string.
func OwnerFromKey(key string) OwnerID {
	return OwnerID(blake3.Sum256([]byte(key)))
}

func ParseOwnerID(s string) (OwnerID, error) {
	var id OwnerID
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != OwnerIDLen {
		return id, ErrInvalidOwnerID
	}
	copy(id[:], b)
	return id, nil
}

func (id OwnerID) IsZero() bool {
	return id == OwnerID{}
}

func (id OwnerID) String() string {
	return hex.EncodeToString(id[:])
}

// Short is the first 8 hex chars, for logs.
func (id OwnerID) Short() string {
	return hex.EncodeToString(id[:4])
}

func (id OwnerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *OwnerID) UnmarshalText(b []byte) error {
	v, err := ParseOwnerID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
