package domain

import (
	"context"
)

// MessageHandler receives messages from a Transport, one at a time and in
// delivery order. OnClose is called once when delivery ends.
type MessageHandler interface {
	OnMessage(msg []byte)
	OnClose()
}

// Transport delivers raw text messages for a single account subscription.
type Transport interface {
	Start(ctx context.Context, handler MessageHandler) error
	Stop()
}

// TradeRepository persists published trades.
type TradeRepository interface {
	SaveTrade(record *TradeRecord) error
	LatestTrade(market string) (*TradeRecord, error)
	RecentTrades(market string, limit int) ([]TradeRecord, error)
	CountTrades(market string) (int64, error)
}
