// Package mango decodes Mango v3 perp event queue account notifications.
//
// Account layout (little-endian):
//
//	0   metadata  {dataType u8, version u8, isInitialized u8, padding [5]u8}
//	8   head      u64
//	16  count     u64
//	24  seqNum    u64
//	32  events    [N]{200 bytes}
package mango

const (
	// HeaderSize is the byte size of the queue header including account metadata.
	HeaderSize = 32

	// EventSize is the fixed byte size of every slot.
	EventSize = 200

	// DefaultCapacity is the slot count of a perp event queue.
	DefaultCapacity = 256

	dataTypeEventQueue = 8
)

// Header field offsets.
const (
	offDataType      = 0
	offVersion       = 1
	offIsInitialized = 2
	offHead          = 8
	offCount         = 16
	offSeqNum        = 24
)

// Slot field offsets shared by all event kinds.
const (
	offEventType = 0
	offTimestamp = 8
	offEventSeq  = 16
)

// FillEvent offsets.
const (
	offFillTakerSide          = 1
	offFillMakerSlot          = 2
	offFillMakerOut           = 3
	offFillVersion            = 4
	offFillMaker              = 24
	offFillMakerOrderID       = 56
	offFillMakerClientOrderID = 72
	offFillMakerFee           = 80
	offFillBestInitial        = 96
	offFillMakerTimestamp     = 104
	offFillTaker              = 112
	offFillTakerOrderID       = 144
	offFillTakerClientOrderID = 160
	offFillTakerFee           = 168
	offFillPrice              = 184
	offFillQuantity           = 192
)

// OutEvent offsets.
const (
	offOutSide     = 1
	offOutSlot     = 2
	offOutOwner    = 24
	offOutQuantity = 56
)

// LiquidateEvent offsets.
const (
	offLiqLiqee    = 24
	offLiqLiqor    = 56
	offLiqPrice    = 88
	offLiqQuantity = 104
)

// RequiredSize returns the minimum account size for a queue of the given capacity.
func RequiredSize(capacity int) int {
	return HeaderSize + capacity*EventSize
}
