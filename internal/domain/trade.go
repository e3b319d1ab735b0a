package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable snapshot of the latest fill seen on a market.
// A zero Trade means no fill has been observed yet.
type Trade struct {
	PriceLots    uint64 `json:"price_lots"`
	QuantityLots int64  `json:"quantity_lots"`
	TakerSide    Side   `json:"taker_side"`
	EventSeqNum  uint64 `json:"event_seq_num"`
	Timestamp    uint64 `json:"timestamp"` // unix seconds, as written by the program
	QueueSeqNum  uint64 `json:"queue_seq_num"`
	Slot         uint64 `json:"slot"` // context slot of the notification
}

// NewTradeFromFill builds a snapshot from a decoded fill.
func NewTradeFromFill(fill *FillEvent, queueSeqNum, slot uint64) Trade {
	return Trade{
		PriceLots:    fill.Price,
		QuantityLots: fill.Quantity,
		TakerSide:    fill.TakerSide,
		EventSeqNum:  fill.SeqNum,
		Timestamp:    fill.Timestamp,
		QueueSeqNum:  queueSeqNum,
		Slot:         slot,
	}
}

// TradeRecord is the persisted form of a published trade.
type TradeRecord struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Market       string    `gorm:"index:idx_market_seq" json:"market"`
	QueueSeqNum  uint64    `gorm:"index:idx_market_seq" json:"queue_seq_num"`
	EventSeqNum  uint64    `json:"event_seq_num"`
	Slot         uint64    `json:"slot"`
	PriceLots    uint64    `json:"price_lots"`
	QuantityLots int64     `json:"quantity_lots"`
	Price        string    `json:"price"` // UI price, decimal string
	Quantity     string    `json:"quantity"`
	TakerSide    string    `json:"taker_side"`
	FilledAt     time.Time `json:"filled_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// NewTradeRecord converts a snapshot into a record using the market's lot sizes.
func NewTradeRecord(market *PerpMarket, t Trade) *TradeRecord {
	return &TradeRecord{
		Market:       market.Name,
		QueueSeqNum:  t.QueueSeqNum,
		EventSeqNum:  t.EventSeqNum,
		Slot:         t.Slot,
		PriceLots:    t.PriceLots,
		QuantityLots: t.QuantityLots,
		Price:        market.UIPrice(t.PriceLots).String(),
		Quantity:     market.UIQuantity(t.QuantityLots).String(),
		TakerSide:    t.TakerSide.String(),
		FilledAt:     time.Unix(int64(t.Timestamp), 0).UTC(),
	}
}

// UIPrice parses the stored decimal price.
func (r *TradeRecord) UIPrice() decimal.Decimal {
	d, err := decimal.NewFromString(r.Price)
	if err != nil {
		return decimal.Zero
	}
	return d
}
