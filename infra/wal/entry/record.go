package entry

import (
	"fmt"
	"time"
)

// RecordType names the market command a record journals.
type RecordType uint8

const (
	RecordCreateMarket RecordType = iota + 1
	RecordPlace
	RecordCancel
	RecordClose
	RecordSettle
	RecordDeposit
	RecordWithdraw
	RecordGrow
	RecordClearQueue
	RecordPause
	// RecordAbort voids an earlier command whose ledger transfers were
	// refused after it was journaled.
	RecordAbort
)

var recordNames = map[RecordType]string{
	RecordCreateMarket: "create_market",
	RecordPlace:        "place",
	RecordCancel:       "cancel",
	RecordClose:        "close",
	RecordSettle:       "settle",
	RecordDeposit:      "deposit",
	RecordWithdraw:     "withdraw",
	RecordGrow:         "grow",
	RecordClearQueue:   "clear_queue",
	RecordPause:        "pause",
	RecordAbort:        "abort",
}

func (t RecordType) String() string {
	if s, ok := recordNames[t]; ok {
		return s
	}
	return fmt.Sprintf("record(%d)", uint8(t))
}

// Record is one journaled command. Data is the encoded command body.
type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

func NewRecord(t RecordType, seq uint64, data []byte) *Record {
	return &Record{
		Type: t,
		Seq:  seq,
		Time: time.Now().UnixNano(),
		Data: data,
	}
}
