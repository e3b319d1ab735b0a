package domain

// EventType is the tag stored in the first byte of every event queue slot.
type EventType uint8

const (
	EventTypeFill      EventType = 0
	EventTypeOut       EventType = 1
	EventTypeLiquidate EventType = 2
)

func (t EventType) String() string {
	switch t {
	case EventTypeFill:
		return "FILL"
	case EventTypeOut:
		return "OUT"
	case EventTypeLiquidate:
		return "LIQUIDATE"
	default:
		return "UNKNOWN"
	}
}

// Side of the taker in a fill, or of the order removed by an out event.
type Side uint8

const (
	SideBid Side = 0
	SideAsk Side = 1
)

func (s Side) String() string {
	if s == SideAsk {
		return "ASK"
	}
	return "BID"
}

// PublicKey is a raw 32-byte account address.
type PublicKey [32]byte

// I80F48 is a signed 80.48 fixed-point number kept in its raw little-endian form.
type I80F48 [16]byte

// RingBufferHeader describes the live window of the event queue.
// Head is the index of the oldest live slot and Count the number of live slots.
type RingBufferHeader struct {
	SeqNum uint64
	Head   uint32
	Count  uint32
}

// FillEvent is a matched trade between a maker and a taker.
// Price and Quantity are in lots.
type FillEvent struct {
	TakerSide          Side
	MakerSlot          uint8
	MakerOut           bool
	Version            uint8
	Timestamp          uint64
	SeqNum             uint64
	Maker              PublicKey
	MakerOrderID       [16]byte
	MakerClientOrderID uint64
	MakerFee           I80F48
	BestInitial        int64
	MakerTimestamp     uint64
	Taker              PublicKey
	TakerOrderID       [16]byte
	TakerClientOrderID uint64
	TakerFee           I80F48
	Price              uint64
	Quantity           int64
}

// OutEvent is an order leaving the book without a fill.
type OutEvent struct {
	Side      Side
	Slot      uint8
	Timestamp uint64
	SeqNum    uint64
	Owner     PublicKey
	Quantity  int64
}

// LiquidateEvent records a perp position being taken over by a liquidator.
type LiquidateEvent struct {
	Timestamp uint64
	SeqNum    uint64
	Liqee     PublicKey
	Liqor     PublicKey
	Price     I80F48
	Quantity  int64
}

// Event is one decoded slot. Exactly one of Fill, Out and Liquidate is set
// when Type is a known tag; all are nil for unknown tags.
type Event struct {
	Type      EventType
	Fill      *FillEvent
	Out       *OutEvent
	Liquidate *LiquidateEvent
}

// IsFill reports whether the slot holds a fill.
func (e *Event) IsFill() bool {
	return e.Type == EventTypeFill && e.Fill != nil
}

// EventQueue is a decoded snapshot of the ring buffer: the header plus exactly
// Capacity() slots. It is never mutated after decoding.
type EventQueue struct {
	Header RingBufferHeader
	Events []Event
}

// Capacity returns the number of slots N.
func (q *EventQueue) Capacity() int {
	return len(q.Events)
}

// NextWriteSlot returns (head + count) mod N, the slot the queue writes next.
func (q *EventQueue) NextWriteSlot() int {
	n := uint64(len(q.Events))
	if n == 0 {
		return 0
	}
	return int((uint64(q.Header.Head) + uint64(q.Header.Count)) % n)
}
