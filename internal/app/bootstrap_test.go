package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mango_go/internal/domain"
	"mango_go/internal/infra"
	"mango_go/internal/infra/mango"
	"mango_go/internal/infra/storage"
)

const testCapacity = 4

// scriptedTransport plays back its messages, then closes unless hold is set.
type scriptedTransport struct {
	msgs [][]byte
	hold bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *scriptedTransport) Start(ctx context.Context, h domain.MessageHandler) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer h.OnClose()
		for _, m := range s.msgs {
			h.OnMessage(m)
		}
		if s.hold {
			<-ctx.Done()
		}
	}()
	return nil
}

func (s *scriptedTransport) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

type memoryRepo struct {
	mu      sync.Mutex
	records []domain.TradeRecord
}

func (r *memoryRepo) SaveTrade(rec *domain.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func (r *memoryRepo) LatestTrade(market string) (*domain.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].Market == market {
			rec := r.records[i]
			return &rec, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) RecentTrades(market string, limit int) ([]domain.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TradeRecord
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		if r.records[i].Market == market {
			out = append(out, r.records[i])
		}
	}
	return out, nil
}

func (r *memoryRepo) CountTrades(market string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, rec := range r.records {
		if rec.Market == market {
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) saved() []domain.TradeRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TradeRecord(nil), r.records...)
}

func testConfig() *infra.Config {
	cfg := &infra.Config{}
	cfg.RPC.WSURL = "ws://localhost:8900"
	cfg.RPC.Commitment = "processed"
	cfg.EventQueue.Account = "7rswj7FVZcMYUKxcTLndZhWBmuVNc2GuxqjuXU8KcPWv"
	cfg.EventQueue.Capacity = testCapacity
	cfg.Market = domain.PerpMarket{Name: "SOL-PERP", BaseDecimals: 9, QuoteDecimals: 6, BaseLotSize: 10000000, QuoteLotSize: 100}
	return cfg
}

func notification(seq uint64, head, count uint32, fills map[int]uint64) []byte {
	q := &domain.EventQueue{
		Header: domain.RingBufferHeader{SeqNum: seq, Head: head, Count: count},
		Events: make([]domain.Event, testCapacity),
	}
	for i := range q.Events {
		q.Events[i] = domain.Event{Type: domain.EventTypeOut, Out: &domain.OutEvent{}}
	}
	for i, price := range fills {
		q.Events[i] = domain.Event{Type: domain.EventTypeFill, Fill: &domain.FillEvent{Price: price, Quantity: 1, TakerSide: domain.SideBid}}
	}
	return []byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","method":"accountNotification","params":{"result":{"context":{"slot":%d},"value":{"data":[%q,"base64"]}},"subscription":7}}`,
		seq, mango.EncodeBase64(q)))
}

func TestRunTradeFeed_ResubscribesAfterClose(t *testing.T) {
	repo := &memoryRepo{}
	b := NewBootstrap()
	b.Config = testConfig()
	b.Storage = repo
	b.Metrics = &infra.Metrics{}
	b.BackoffInitial = time.Millisecond
	b.BackoffMax = 5 * time.Millisecond

	alert, err := domain.NewPriceAlert("SOL-PERP", domain.AlertSpec{Price: "23", Direction: "above"})
	if err != nil {
		t.Fatal(err)
	}
	b.Alerts = []*domain.PriceAlert{alert}

	var mu sync.Mutex
	var requests [][]byte
	second := make(chan struct{})
	b.NewTransport = func(cfg *infra.Config, req []byte, m *infra.Metrics) domain.Transport {
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, req)
		switch len(requests) {
		case 1:
			return &scriptedTransport{msgs: [][]byte{
				[]byte(`{"jsonrpc":"2.0","result":1,"id":1}`),
				notification(10, 0, 0, nil),
				notification(12, 0, 2, map[int]uint64{0: 2300, 1: 2345}),
			}}
		default:
			close(second)
			return &scriptedTransport{hold: true, msgs: [][]byte{
				// new baseline, no trade published
				notification(12, 0, 2, map[int]uint64{0: 2300, 1: 2345}),
			}}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.RunTradeFeed(ctx) }()

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("feed did not resubscribe")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RunTradeFeed returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunTradeFeed did not stop")
	}

	saved := repo.saved()
	if len(saved) != 1 {
		t.Fatalf("expected 1 saved trade, got %d", len(saved))
	}
	if saved[0].PriceLots != 2345 || saved[0].Price != "23.45" {
		t.Errorf("unexpected record: %+v", saved[0])
	}

	mu.Lock()
	if len(requests) != 2 || string(requests[0]) != string(requests[1]) {
		t.Errorf("expected two identical subscribe requests, got %q", requests)
	}
	mu.Unlock()

	if _, ok := b.LatestTrade(); !ok {
		t.Error("LatestTrade should report an active subscription")
	}
	if snap := b.Metrics.Snapshot(); snap.Acks != 1 || snap.TradesUpdated != 1 || snap.Alerts != 1 {
		t.Errorf("unexpected metrics: %+v", snap)
	}
}

func TestRunTradeFeed_NotInitialized(t *testing.T) {
	b := NewBootstrap()
	if err := b.RunTradeFeed(context.Background()); err == nil {
		t.Error("expected error without config")
	}
	if _, ok := b.LatestTrade(); ok {
		t.Error("no subscription expected")
	}
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	yaml := fmt.Sprintf(`
rpc:
  ws_url: ws://localhost:8900
event_queue:
  account: 7rswj7FVZcMYUKxcTLndZhWBmuVNc2GuxqjuXU8KcPWv
market:
  name: SOL-PERP
  base_decimals: 9
  quote_decimals: 6
  base_lot_size: 10000000
  quote_lot_size: 100
storage:
  enabled: true
  path: %s
logging:
  dir: %s
`, filepath.Join(dir, "trades.db"), filepath.Join(dir, "logs"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInitialize_LoadsConfigAndStorage(t *testing.T) {
	b := NewBootstrap()
	if err := b.Initialize(writeConfig(t, t.TempDir())); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer b.Close()

	if b.Storage == nil {
		t.Fatal("storage should be enabled")
	}
	if b.Config.EventQueue.Capacity != 256 {
		t.Errorf("Capacity = %d, want default 256", b.Config.EventQueue.Capacity)
	}
	if b.History.Last != nil || b.History.Stored != 0 {
		t.Errorf("expected empty history, got %+v", b.History)
	}
}

func TestInitialize_ReadsStoredHistoryAndClose(t *testing.T) {
	dir := t.TempDir()
	market := &testConfig().Market

	// 1. Previous run left three trades behind
	store, err := storage.NewStorage(filepath.Join(dir, "trades.db"))
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	for i, lots := range []uint64{2400, 2300, 2345} {
		tr := domain.Trade{PriceLots: lots, QuantityLots: 1, QueueSeqNum: uint64(i + 1), Timestamp: 1700000000}
		if err := store.SaveTrade(domain.NewTradeRecord(market, tr)); err != nil {
			t.Fatalf("SaveTrade failed: %v", err)
		}
	}
	store.Close()

	// 2. Startup reads it back
	b := NewBootstrap()
	if err := b.Initialize(writeConfig(t, dir)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	h := b.History
	if h.Stored != 3 || h.Window != 3 {
		t.Errorf("Stored = %d, Window = %d, want 3 and 3", h.Stored, h.Window)
	}
	if h.Last == nil || h.Last.QueueSeqNum != 3 {
		t.Fatalf("unexpected last trade: %+v", h.Last)
	}
	if h.Last.UIPrice().String() != "23.45" {
		t.Errorf("last price = %s, want 23.45", h.Last.UIPrice())
	}
	if h.WindowLow.String() != "23" || h.WindowHi.String() != "24" {
		t.Errorf("window = [%s, %s], want [23, 24]", h.WindowLow, h.WindowHi)
	}

	// 3. Shutdown closes the database
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Storage.SaveTrade(domain.NewTradeRecord(market, domain.Trade{PriceLots: 1})); err == nil {
		t.Error("SaveTrade should fail after Close")
	}
}

func TestLoadHistory_WindowIsMostRecent(t *testing.T) {
	repo := &memoryRepo{}
	market := &testConfig().Market
	for i := 1; i <= historyWindow+10; i++ {
		// oldest trades carry the extreme prices and fall outside the window
		lots := uint64(2300)
		if i <= 10 {
			lots = uint64(100 * i)
		}
		repo.SaveTrade(domain.NewTradeRecord(market, domain.Trade{PriceLots: lots, QueueSeqNum: uint64(i)}))
	}

	h, err := LoadHistory(repo, market.Name)
	if err != nil {
		t.Fatalf("LoadHistory failed: %v", err)
	}
	if h.Stored != int64(historyWindow+10) || h.Window != historyWindow {
		t.Errorf("Stored = %d, Window = %d", h.Stored, h.Window)
	}
	if !h.WindowLow.Equal(h.WindowHi) || h.WindowLow.String() != "23" {
		t.Errorf("window = [%s, %s], want [23, 23]", h.WindowLow, h.WindowHi)
	}
}

func TestClose_WithoutStorage(t *testing.T) {
	b := NewBootstrap()
	if err := b.Close(); err != nil {
		t.Errorf("Close without storage = %v", err)
	}
}
