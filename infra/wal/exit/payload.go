package exit

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"kerdos/domain/eventq"
	"kerdos/domain/types"
)

// FillMessage is the broadcast form of one fill. It is encoded as a
// protobuf message so downstream consumers can decode it with:
//
//	message Fill {
//	  string market      = 1;
//	  uint64 seq         = 2;
//	  bytes  maker       = 3;
//	  bytes  taker       = 4;
//	  uint64 price_ticks = 5;
//	  uint64 base_qty    = 6;
//	  uint32 taker_side  = 7;
//	  uint64 journal_seq = 8;
//	  int64  time_unix_nano = 9;
//	}
type FillMessage struct {
	Market     string
	Seq        uint64
	Maker      types.OwnerID
	Taker      types.OwnerID
	PriceTicks uint64
	BaseQty    uint64
	TakerSide  types.Side
	JournalSeq uint64
	Time       int64
}

func NewFillMessage(market string, journalSeq uint64, at int64, ev eventq.Event) FillMessage {
	return FillMessage{
		Market:     market,
		Seq:        ev.Seq,
		Maker:      ev.Maker,
		Taker:      ev.Taker,
		PriceTicks: ev.Price,
		BaseQty:    ev.Qty,
		TakerSide:  ev.TakerSide,
		JournalSeq: journalSeq,
		Time:       at,
	}
}

func (m FillMessage) Marshal() []byte {
	b := make([]byte, 0, 128)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, m.Market)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Seq)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Maker[:])
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Taker[:])
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, m.PriceTicks)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, m.BaseQty)
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.TakerSide))
	b = protowire.AppendTag(b, 8, protowire.VarintType)
	b = protowire.AppendVarint(b, m.JournalSeq)
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Time))
	return b
}

// UnmarshalFill skips unknown fields so older readers tolerate additions.
func UnmarshalFill(b []byte) (FillMessage, error) {
	var m FillMessage
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, errors.Wrap(protowire.ParseError(n), "fill tag")
		}
		b = b[n:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, errors.Wrap(protowire.ParseError(n), "fill market")
			}
			m.Market, b = v, b[n:]
		case (num == 3 || num == 4) && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, errors.Wrap(protowire.ParseError(n), "fill owner")
			}
			if len(v) != types.OwnerIDLen {
				return m, errors.Errorf("fill owner: %d bytes", len(v))
			}
			if num == 3 {
				copy(m.Maker[:], v)
			} else {
				copy(m.Taker[:], v)
			}
			b = b[n:]
		case typ == protowire.VarintType && num >= 2 && num <= 9:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, errors.Wrap(protowire.ParseError(n), "fill varint")
			}
			b = b[n:]
			switch num {
			case 2:
				m.Seq = v
			case 5:
				m.PriceTicks = v
			case 6:
				m.BaseQty = v
			case 7:
				m.TakerSide = types.Side(v)
			case 8:
				m.JournalSeq = v
			case 9:
				m.Time = int64(v)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, errors.Wrap(protowire.ParseError(n), "fill skip")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// Key is the Kafka partition key: fills of one market stay ordered.
func (m FillMessage) Key() []byte {
	return []byte(m.Market)
}
