package slab

import (
	"encoding/binary"

	"kerdos/domain/types"
)

// Null marks an absent slot index.
const Null uint32 = 0xFFFF_FFFF

const (
	HeaderLen = 5 * 4
	NodeLen   = 80
)

// Header is the slab header stored right after the blob header.
type Header struct {
	Capacity uint32
	Used     uint32
	FreeHead uint32
	Root     uint32
	Best     uint32
}

func encodeHeader(dst []byte, h Header) {
	_ = dst[HeaderLen-1]
	binary.LittleEndian.PutUint32(dst[0:4], h.Capacity)
	binary.LittleEndian.PutUint32(dst[4:8], h.Used)
	binary.LittleEndian.PutUint32(dst[8:12], h.FreeHead)
	binary.LittleEndian.PutUint32(dst[12:16], h.Root)
	binary.LittleEndian.PutUint32(dst[16:20], h.Best)
}

func decodeHeader(src []byte) Header {
	_ = src[HeaderLen-1]
	return Header{
		Capacity: binary.LittleEndian.Uint32(src[0:4]),
		Used:     binary.LittleEndian.Uint32(src[4:8]),
		FreeHead: binary.LittleEndian.Uint32(src[8:12]),
		Root:     binary.LittleEndian.Uint32(src[12:16]),
		Best:     binary.LittleEndian.Uint32(src[16:20]),
	}
}

// Node record, 80 bytes:
//
//	[owner:32][price:8][qty:8][seq:8][parent:4][left:4][right:4][next:4]
//	[side:1][color:1][flags:1][pad:5]
const (
	offOwner  = 0
	offPrice  = 32
	offQty    = 40
	offSeq    = 48
	offParent = 56
	offLeft   = 60
	offRight  = 64
	offNext   = 68
	offSide   = 72
	offColor  = 73
	offFlags  = 74
)

type color uint8

const (
	red   color = 0
	black color = 1
)

const flagLive uint8 = 1

// Node is the decoded view of a live order record.
type Node struct {
	Owner types.OwnerID
	Price uint64
	Qty   uint64
	Seq   uint64
	Side  types.Side
}

func nodeOffset(i uint32) int {
	return HeaderLen + int(i)*NodeLen
}

// RegionLen is the payload length needed to hold n node slots.
func RegionLen(n uint32) uint32 {
	return HeaderLen + n*NodeLen
}

// SlotsFor is the number of whole node slots that fit in a payload of n bytes.
func SlotsFor(n uint32) uint32 {
	if n < HeaderLen {
		return 0
	}
	return (n - HeaderLen) / NodeLen
}
