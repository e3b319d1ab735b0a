package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"mango_go/internal/domain"
	"mango_go/internal/engine"
	"mango_go/internal/infra"
	"mango_go/internal/infra/mango"
	"mango_go/internal/infra/storage"
	"mango_go/internal/service"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
)

const (
	// DefaultConfigPath is used when no path is given on the command line.
	DefaultConfigPath = "configs/config.yaml"

	subscribeRequestID = 1
	warmupBuffers      = 4
	historyWindow      = 50
)

// History summarizes the trades already stored for the market.
type History struct {
	Stored    int64
	Last      *domain.TradeRecord
	WindowLow decimal.Decimal // lowest price among the recent window
	WindowHi  decimal.Decimal
	Window    int
}

// TransportFactory builds the transport for one subscription attempt.
type TransportFactory func(cfg *infra.Config, subscribeReq []byte, metrics *infra.Metrics) domain.Transport

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage domain.TradeRepository
	Metrics *infra.Metrics
	Alerts  []*domain.PriceAlert
	History History

	// NewTransport defaults to a websocket transport built from Config.
	NewTransport TransportFactory

	// Resubscribe delays after a subscription closes.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	current atomic.Pointer[service.TradeSubscription]
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{
		Metrics:        infra.GlobalMetrics,
		NewTransport:   websocketTransport,
		BackoffInitial: 500 * time.Millisecond,
		BackoffMax:     30 * time.Second,
	}
}

func websocketTransport(cfg *infra.Config, req []byte, metrics *infra.Metrics) domain.Transport {
	return infra.NewWSTransportFromConfig(cfg, req, metrics)
}

// Initialize loads the config, sets up logging and opens trade storage.
func (b *Bootstrap) Initialize(configPath string) error {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping Mango trade feed...", slog.String("event_queue", cfg.EventQueue.Account))

	// 3. Initialize Storage (DB)
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(cfg.Storage.Path)
		if err != nil {
			return err
		}
		b.Storage = store
		slog.Info("✅ Trade history database initialized")

		hist, err := LoadHistory(store, cfg.Market.Name)
		if err != nil {
			return err
		}
		b.History = hist
		logHistory(hist)
	}

	// 4. Price Alerts
	for _, spec := range cfg.Alerts {
		alert, err := domain.NewPriceAlert(cfg.Market.Name, spec)
		if err != nil {
			return err
		}
		b.Alerts = append(b.Alerts, alert)
	}

	// 5. Pre-allocate decode buffers
	mango.Warmup(cfg.EventQueue.Capacity, warmupBuffers)

	return nil
}

// Close releases the trade storage, if it holds any resources.
func (b *Bootstrap) Close() error {
	if c, ok := b.Storage.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// LoadHistory reads the stored trade count, the last trade and the price
// range of the most recent trades of market.
func LoadHistory(repo domain.TradeRepository, market string) (History, error) {
	var h History

	n, err := repo.CountTrades(market)
	if err != nil {
		return h, fmt.Errorf("count trades: %w", err)
	}
	h.Stored = n

	last, err := repo.LatestTrade(market)
	if err != nil {
		return h, fmt.Errorf("latest trade: %w", err)
	}
	h.Last = last

	recent, err := repo.RecentTrades(market, historyWindow)
	if err != nil {
		return h, fmt.Errorf("recent trades: %w", err)
	}
	h.Window = len(recent)
	for i := range recent {
		p := recent[i].UIPrice()
		if i == 0 || p.LessThan(h.WindowLow) {
			h.WindowLow = p
		}
		if i == 0 || p.GreaterThan(h.WindowHi) {
			h.WindowHi = p
		}
	}
	return h, nil
}

func logHistory(h History) {
	if h.Last == nil {
		slog.Info("No stored trades yet")
		return
	}
	slog.Info("Last stored trade",
		slog.String("price", h.Last.UIPrice().String()),
		slog.Uint64("seq_num", h.Last.QueueSeqNum),
		slog.Time("filled_at", h.Last.FilledAt),
		slog.Int64("stored", h.Stored),
		slog.String("window_low", h.WindowLow.String()),
		slog.String("window_high", h.WindowHi.String()),
		slog.Int("window", h.Window),
	)
}

// LatestTrade returns the snapshot of the active subscription.
// The bool is false when no subscription has been started yet.
func (b *Bootstrap) LatestTrade() (domain.Trade, bool) {
	sub := b.current.Load()
	if sub == nil {
		return domain.Trade{}, false
	}
	return sub.GetLastTrade(), true
}

// RunTradeFeed keeps one trade subscription alive until ctx ends.
// Every subscription starts from an unset sequence number, so the first
// notification after a resubscribe only sets the baseline.
func (b *Bootstrap) RunTradeFeed(ctx context.Context) error {
	if b.Config == nil {
		return errors.New("bootstrap not initialized")
	}

	req, err := mango.SubscribeRequest(subscribeRequestID, b.Config.EventQueue.Account, b.Config.RPC.Commitment)
	if err != nil {
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.BackoffInitial
	bo.MaxInterval = b.BackoffMax

	for attempt := 1; ; attempt++ {
		delivered, err := b.runOnce(ctx, req)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			slog.Info("Trade feed stopped")
			return nil
		}
		if delivered {
			bo.Reset()
		}

		delay := bo.NextBackOff()
		slog.Warn("Subscription closed, resubscribing",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			slog.Info("Trade feed stopped")
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce runs a single subscription until it closes or ctx ends.
// It reports whether any notification was processed.
func (b *Bootstrap) runOnce(ctx context.Context, req []byte) (bool, error) {
	decoder, err := mango.NewDecoder(b.Config.EventQueue.Capacity)
	if err != nil {
		return false, fmt.Errorf("create decoder: %w", err)
	}

	sub := service.NewTradeSubscription(b.NewTransport(b.Config, req, b.Metrics), decoder, b.Metrics)
	closed := make(chan struct{})
	sub.RegisterCloseCallback(func() { close(closed) })
	sub.RegisterUpdateCallback(b.publish)

	if err := sub.Subscribe(ctx); err != nil {
		return false, err
	}
	b.current.Store(sub)
	defer sub.Stop()

	select {
	case <-closed:
	case <-ctx.Done():
	}
	return sub.LastSeqNum() != engine.UnsetSeqNum, nil
}

// publish logs a new trade, checks alerts and appends it to the history.
func (b *Bootstrap) publish(t domain.Trade) {
	market := &b.Config.Market
	price := market.UIPrice(t.PriceLots)

	slog.Info("Trade",
		slog.String("price", price.String()),
		slog.String("quantity", market.UIQuantity(t.QuantityLots).String()),
		slog.String("taker", t.TakerSide.String()),
		slog.Uint64("seq_num", t.QueueSeqNum),
	)

	for _, alert := range b.Alerts {
		if alert.Observe(price) {
			slog.Warn("🔔 Price alert",
				slog.String("direction", string(alert.Direction)),
				slog.String("target", alert.Target.String()),
				slog.String("price", price.String()),
			)
			b.Metrics.RecordAlert()
		}
	}

	if b.Storage == nil {
		return
	}
	if err := b.Storage.SaveTrade(domain.NewTradeRecord(market, t)); err != nil {
		slog.Error("Failed to save trade", slog.Any("error", err))
	}
}
