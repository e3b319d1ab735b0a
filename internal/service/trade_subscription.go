package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mango_go/internal/domain"
	"mango_go/internal/engine"
	"mango_go/internal/infra"
	"mango_go/internal/infra/mango"
)

// TradeSubscription keeps the latest fill of one event queue up to date.
//
// The transport calls OnMessage and OnClose from a single goroutine, which is
// the only writer of the subscription state. GetLastTrade may be called from
// any goroutine; it reads an immutable snapshot that is swapped atomically.
type TradeSubscription struct {
	transport domain.Transport
	decoder   *mango.Decoder
	metrics   *infra.Metrics
	logger    *slog.Logger

	lastSeqNum atomic.Uint64
	latest     atomic.Pointer[domain.Trade]

	mu       sync.RWMutex
	onUpdate func(domain.Trade)
	onClose  func()
	onError  func(error)

	started atomic.Bool
	closed  atomic.Bool
}

// NewTradeSubscription creates a subscription with no trade observed yet.
func NewTradeSubscription(transport domain.Transport, decoder *mango.Decoder, metrics *infra.Metrics) *TradeSubscription {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	s := &TradeSubscription{
		transport: transport,
		decoder:   decoder,
		metrics:   metrics,
		logger:    slog.Default().With("module", "trade_subscription"),
	}
	s.lastSeqNum.Store(engine.UnsetSeqNum)
	s.latest.Store(&domain.Trade{})
	return s
}

// RegisterUpdateCallback sets the function called after the latest trade changes.
func (s *TradeSubscription) RegisterUpdateCallback(cb func(domain.Trade)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onUpdate = cb
}

// RegisterCloseCallback sets the function called once when delivery ends.
func (s *TradeSubscription) RegisterCloseCallback(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = cb
}

// RegisterErrorCallback sets the function that receives malformed envelope
// and decode errors. They are logged either way.
func (s *TradeSubscription) RegisterErrorCallback(cb func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = cb
}

// Subscribe starts delivery. Calling it again is a no-op.
func (s *TradeSubscription) Subscribe(ctx context.Context) error {
	if s.closed.Load() {
		return domain.ErrSubscriptionClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.transport.Start(ctx, s); err != nil {
		s.started.Store(false)
		return fmt.Errorf("start transport: %w", err)
	}
	return nil
}

// Stop ends delivery and waits for the transport to finish.
func (s *TradeSubscription) Stop() {
	if s.started.Load() {
		s.transport.Stop()
	}
}

// GetLastTrade returns the most recent trade snapshot. Safe for concurrent use.
func (s *TradeSubscription) GetLastTrade() domain.Trade {
	return *s.latest.Load()
}

// LastSeqNum returns the sequence number of the last decoded queue header.
func (s *TradeSubscription) LastSeqNum() uint64 {
	return s.lastSeqNum.Load()
}

// IsClosed reports whether delivery has ended.
func (s *TradeSubscription) IsClosed() bool {
	return s.closed.Load()
}

// OnMessage implements domain.MessageHandler.
func (s *TradeSubscription) OnMessage(msg []byte) {
	err := s.HandleMessage(msg)
	if err == nil || errors.Is(err, domain.ErrSubscriptionClosed) {
		return
	}

	s.logger.Warn("Notification rejected", slog.Any("error", err))

	s.mu.RLock()
	cb := s.onError
	s.mu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

// OnClose implements domain.MessageHandler.
func (s *TradeSubscription) OnClose() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.metrics.RecordClose()
	s.logger.Info("Subscription closed", slog.Uint64("last_seq_num", s.lastSeqNum.Load()))

	s.mu.RLock()
	cb := s.onClose
	s.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

// HandleMessage runs one message through parse, decode and scan, updating
// state and notifying synchronously. A failed message leaves state unchanged.
func (s *TradeSubscription) HandleMessage(msg []byte) error {
	if s.closed.Load() {
		return domain.ErrSubscriptionClosed
	}
	start := time.Now()

	env, err := mango.ParseEnvelope(msg)
	if err != nil {
		s.metrics.RecordEnvelopeError()
		return err
	}
	if env.Kind == mango.KindAck {
		s.metrics.RecordAck()
		s.logger.Info("Subscription acknowledged", slog.Uint64("subscription", env.SubscriptionID))
		return nil
	}

	q, err := s.decoder.Decode(env.Payload)
	if err != nil {
		s.metrics.RecordDecodeError()
		return fmt.Errorf("slot %d: %w", env.Slot, err)
	}

	res := engine.Scan(q, s.lastSeqNum.Load())
	s.lastSeqNum.Store(res.NextSeqNum)
	s.metrics.RecordScan(res.Fills, res.Lost, res.NextSeqNum)
	s.metrics.RecordNotification(time.Since(start).Nanoseconds())

	if res.Lost > 0 {
		s.logger.Warn("Event queue wrapped between notifications",
			slog.Uint64("lost", res.Lost),
			slog.Uint64("seq_num", res.NextSeqNum),
		)
	}

	if res.Latest == nil {
		return nil
	}

	trade := domain.NewTradeFromFill(res.Latest, res.NextSeqNum, env.Slot)
	s.latest.Store(&trade)
	s.metrics.RecordTradeUpdate()

	s.logger.Debug("Latest trade updated",
		slog.Uint64("price_lots", trade.PriceLots),
		slog.Uint64("seq_num", trade.QueueSeqNum),
		slog.Uint64("slot", trade.Slot),
	)

	s.mu.RLock()
	cb := s.onUpdate
	s.mu.RUnlock()
	if cb != nil {
		cb(trade)
	}
	return nil
}
