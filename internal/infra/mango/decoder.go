package mango

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"mango_go/internal/domain"
)

var le = binary.LittleEndian

// Decoder turns base64 account data into an EventQueue of fixed capacity.
type Decoder struct {
	capacity int
}

// NewDecoder creates a decoder for queues with the given slot count.
func NewDecoder(capacity int) (*Decoder, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("invalid event queue capacity: %d", capacity)
	}
	return &Decoder{capacity: capacity}, nil
}

// Capacity returns the slot count the decoder expects.
func (d *Decoder) Capacity() int {
	return d.capacity
}

// Decode base64-decodes payload and interprets it as an event queue.
func (d *Decoder) Decode(payload string) (*domain.EventQueue, error) {
	bp := acquireBuffer(base64.StdEncoding.DecodedLen(len(payload)))
	defer releaseBuffer(bp)

	n, err := base64.StdEncoding.Decode(*bp, []byte(payload))
	if err != nil {
		return nil, &domain.DecodeError{Reason: "invalid base64", Err: err}
	}

	return d.DecodeBytes((*bp)[:n])
}

// DecodeBytes interprets raw account data as an event queue. The returned
// queue does not reference buf.
func (d *Decoder) DecodeBytes(buf []byte) (*domain.EventQueue, error) {
	need := RequiredSize(d.capacity)
	if len(buf) < need {
		return nil, &domain.DecodeError{Need: need, Got: len(buf), Reason: "buffer too short"}
	}

	head := le.Uint64(buf[offHead:])
	count := le.Uint64(buf[offCount:])
	if head >= uint64(d.capacity) {
		return nil, &domain.DecodeError{Reason: fmt.Sprintf("head %d out of range for capacity %d", head, d.capacity)}
	}
	if count > uint64(d.capacity) {
		return nil, &domain.DecodeError{Reason: fmt.Sprintf("count %d exceeds capacity %d", count, d.capacity)}
	}

	q := &domain.EventQueue{
		Header: domain.RingBufferHeader{
			SeqNum: le.Uint64(buf[offSeqNum:]),
			Head:   uint32(head),
			Count:  uint32(count),
		},
		Events: make([]domain.Event, d.capacity),
	}

	for i := 0; i < d.capacity; i++ {
		start := HeaderSize + i*EventSize
		decodeEvent(buf[start:start+EventSize], &q.Events[i])
	}

	return q, nil
}

// decodeEvent fills ev from one slot. slot must be EventSize bytes long.
// Unknown tags leave every payload pointer nil.
func decodeEvent(slot []byte, ev *domain.Event) {
	ev.Type = domain.EventType(slot[offEventType])

	switch ev.Type {
	case domain.EventTypeFill:
		f := &domain.FillEvent{
			TakerSide:          domain.Side(slot[offFillTakerSide]),
			MakerSlot:          slot[offFillMakerSlot],
			MakerOut:           slot[offFillMakerOut] != 0,
			Version:            slot[offFillVersion],
			Timestamp:          le.Uint64(slot[offTimestamp:]),
			SeqNum:             le.Uint64(slot[offEventSeq:]),
			MakerClientOrderID: le.Uint64(slot[offFillMakerClientOrderID:]),
			BestInitial:        int64(le.Uint64(slot[offFillBestInitial:])),
			MakerTimestamp:     le.Uint64(slot[offFillMakerTimestamp:]),
			TakerClientOrderID: le.Uint64(slot[offFillTakerClientOrderID:]),
			Price:              le.Uint64(slot[offFillPrice:]),
			Quantity:           int64(le.Uint64(slot[offFillQuantity:])),
		}
		copy(f.Maker[:], slot[offFillMaker:])
		copy(f.MakerOrderID[:], slot[offFillMakerOrderID:])
		copy(f.MakerFee[:], slot[offFillMakerFee:])
		copy(f.Taker[:], slot[offFillTaker:])
		copy(f.TakerOrderID[:], slot[offFillTakerOrderID:])
		copy(f.TakerFee[:], slot[offFillTakerFee:])
		ev.Fill = f

	case domain.EventTypeOut:
		o := &domain.OutEvent{
			Side:      domain.Side(slot[offOutSide]),
			Slot:      slot[offOutSlot],
			Timestamp: le.Uint64(slot[offTimestamp:]),
			SeqNum:    le.Uint64(slot[offEventSeq:]),
			Quantity:  int64(le.Uint64(slot[offOutQuantity:])),
		}
		copy(o.Owner[:], slot[offOutOwner:])
		ev.Out = o

	case domain.EventTypeLiquidate:
		l := &domain.LiquidateEvent{
			Timestamp: le.Uint64(slot[offTimestamp:]),
			SeqNum:    le.Uint64(slot[offEventSeq:]),
			Quantity:  int64(le.Uint64(slot[offLiqQuantity:])),
		}
		copy(l.Liqee[:], slot[offLiqLiqee:])
		copy(l.Liqor[:], slot[offLiqLiqor:])
		copy(l.Price[:], slot[offLiqPrice:])
		ev.Liquidate = l
	}
}
