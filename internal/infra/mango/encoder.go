package mango

import (
	"encoding/base64"

	"mango_go/internal/domain"
)

// Encode serializes q into account data. It is the inverse of DecodeBytes and
// is used to build fixtures and replay captured queues.
func Encode(q *domain.EventQueue) []byte {
	buf := make([]byte, RequiredSize(len(q.Events)))

	buf[offDataType] = dataTypeEventQueue
	buf[offVersion] = 0
	buf[offIsInitialized] = 1
	le.PutUint64(buf[offHead:], uint64(q.Header.Head))
	le.PutUint64(buf[offCount:], uint64(q.Header.Count))
	le.PutUint64(buf[offSeqNum:], q.Header.SeqNum)

	for i := range q.Events {
		start := HeaderSize + i*EventSize
		encodeEvent(buf[start:start+EventSize], &q.Events[i])
	}
	return buf
}

// EncodeBase64 serializes q the way an RPC node ships account data.
func EncodeBase64(q *domain.EventQueue) string {
	return base64.StdEncoding.EncodeToString(Encode(q))
}

func encodeEvent(slot []byte, ev *domain.Event) {
	slot[offEventType] = byte(ev.Type)

	switch {
	case ev.Fill != nil:
		f := ev.Fill
		slot[offFillTakerSide] = byte(f.TakerSide)
		slot[offFillMakerSlot] = f.MakerSlot
		if f.MakerOut {
			slot[offFillMakerOut] = 1
		}
		slot[offFillVersion] = f.Version
		le.PutUint64(slot[offTimestamp:], f.Timestamp)
		le.PutUint64(slot[offEventSeq:], f.SeqNum)
		copy(slot[offFillMaker:], f.Maker[:])
		copy(slot[offFillMakerOrderID:], f.MakerOrderID[:])
		le.PutUint64(slot[offFillMakerClientOrderID:], f.MakerClientOrderID)
		copy(slot[offFillMakerFee:], f.MakerFee[:])
		le.PutUint64(slot[offFillBestInitial:], uint64(f.BestInitial))
		le.PutUint64(slot[offFillMakerTimestamp:], f.MakerTimestamp)
		copy(slot[offFillTaker:], f.Taker[:])
		copy(slot[offFillTakerOrderID:], f.TakerOrderID[:])
		le.PutUint64(slot[offFillTakerClientOrderID:], f.TakerClientOrderID)
		copy(slot[offFillTakerFee:], f.TakerFee[:])
		le.PutUint64(slot[offFillPrice:], f.Price)
		le.PutUint64(slot[offFillQuantity:], uint64(f.Quantity))

	case ev.Out != nil:
		o := ev.Out
		slot[offOutSide] = byte(o.Side)
		slot[offOutSlot] = o.Slot
		le.PutUint64(slot[offTimestamp:], o.Timestamp)
		le.PutUint64(slot[offEventSeq:], o.SeqNum)
		copy(slot[offOutOwner:], o.Owner[:])
		le.PutUint64(slot[offOutQuantity:], uint64(o.Quantity))

	case ev.Liquidate != nil:
		l := ev.Liquidate
		le.PutUint64(slot[offTimestamp:], l.Timestamp)
		le.PutUint64(slot[offEventSeq:], l.SeqNum)
		copy(slot[offLiqLiqee:], l.Liqee[:])
		copy(slot[offLiqLiqor:], l.Liqor[:])
		copy(slot[offLiqPrice:], l.Price[:])
		le.PutUint64(slot[offLiqQuantity:], uint64(l.Quantity))
	}
}
