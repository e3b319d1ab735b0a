package engine

import (
	"math"

	"mango_go/internal/domain"
)

// UnsetSeqNum marks a scanner that has not observed any queue yet.
// No header can be newer than it, so the first observation only sets the baseline.
const UnsetSeqNum = uint64(math.MaxUint64)

// ScanResult is the outcome of one Scan.
type ScanResult struct {
	// Latest is the most recent fill among the newly written slots, nil if none.
	Latest *domain.FillEvent
	// NextSeqNum is the value to remember for the next scan (always the header's).
	NextSeqNum uint64
	// NewEvents is the number of events appended since the previous scan.
	NewEvents uint64
	// Scanned is the number of slots actually read (NewEvents clamped to capacity).
	Scanned int
	// Lost is the number of new events overwritten before they could be read.
	Lost uint64
	// Fills counts fill slots inside the scanned window.
	Fills int
}

// Scan finds the latest fill written to q since lastSeqNum.
//
// The window is walked from the oldest new slot to the newest, so the fill
// left in Latest is always the chronologically last one. Stale or duplicate
// headers (seqNum <= lastSeqNum) produce no fill. The window never exceeds
// the queue capacity; anything older was overwritten and is reported in Lost.
func Scan(q *domain.EventQueue, lastSeqNum uint64) ScanResult {
	res := ScanResult{NextSeqNum: q.Header.SeqNum}

	n := q.Capacity()
	if n == 0 || q.Header.SeqNum <= lastSeqNum {
		return res
	}

	delta := q.Header.SeqNum - lastSeqNum
	res.NewEvents = delta

	window := delta
	if window > uint64(n) {
		res.Lost = window - uint64(n)
		window = uint64(n)
	}
	res.Scanned = int(window)

	lastSlot := q.NextWriteSlot()
	for offset := int(window); offset > 0; offset-- {
		idx := (lastSlot - offset + n) % n
		ev := &q.Events[idx]
		if !ev.IsFill() {
			continue
		}
		res.Fills++
		res.Latest = ev.Fill
	}

	return res
}
