package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"testing"

	"mango_go/internal/domain"
	"mango_go/internal/engine"
	"mango_go/internal/infra"
	"mango_go/internal/infra/mango"
)

const testCapacity = 8

// fakeTransport records the handler and lets the test deliver messages synchronously.
type fakeTransport struct {
	handler  domain.MessageHandler
	starts   int
	stops    int
	startErr error
}

func (f *fakeTransport) Start(ctx context.Context, h domain.MessageHandler) error {
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.handler = h
	return nil
}

func (f *fakeTransport) Stop() {
	f.stops++
}

func newTestSubscription(t *testing.T) (*TradeSubscription, *fakeTransport, *infra.Metrics) {
	t.Helper()
	dec, err := mango.NewDecoder(testCapacity)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	ft := &fakeTransport{}
	m := &infra.Metrics{}
	return NewTradeSubscription(ft, dec, m), ft, m
}

func fill(price uint64) domain.Event {
	return domain.Event{Type: domain.EventTypeFill, Fill: &domain.FillEvent{Price: price, Quantity: 1, SeqNum: price}}
}

func out() domain.Event {
	return domain.Event{Type: domain.EventTypeOut, Out: &domain.OutEvent{}}
}

func notificationFor(payload string, slot uint64) []byte {
	return []byte(fmt.Sprintf(
		`{"jsonrpc":"2.0","method":"accountNotification","params":{"result":{"context":{"slot":%d},"value":{"data":[%q,"base64"],"executable":false,"lamports":1,"owner":"x","rentEpoch":1}},"subscription":42}}`,
		slot, payload))
}

func notification(q *domain.EventQueue, slot uint64) []byte {
	return notificationFor(mango.EncodeBase64(q), slot)
}

func queue(seq uint64, head, count uint32, events map[int]domain.Event) *domain.EventQueue {
	q := &domain.EventQueue{
		Header: domain.RingBufferHeader{SeqNum: seq, Head: head, Count: count},
		Events: make([]domain.Event, testCapacity),
	}
	for i := range q.Events {
		q.Events[i] = out()
	}
	for i, ev := range events {
		q.Events[i] = ev
	}
	return q
}

func TestTradeSubscription_InitialState(t *testing.T) {
	sub, _, _ := newTestSubscription(t)

	if sub.GetLastTrade() != (domain.Trade{}) {
		t.Errorf("expected zero trade, got %+v", sub.GetLastTrade())
	}
	if sub.LastSeqNum() != engine.UnsetSeqNum {
		t.Errorf("LastSeqNum = %d, want unset", sub.LastSeqNum())
	}
}

func TestTradeSubscription_Scenario(t *testing.T) {
	sub, ft, m := newTestSubscription(t)

	var updates []domain.Trade
	sub.RegisterUpdateCallback(func(tr domain.Trade) {
		// state must already be updated when the callback runs
		if sub.GetLastTrade() != tr {
			t.Errorf("callback saw stale state")
		}
		updates = append(updates, tr)
	})
	if err := sub.Subscribe(context.Background()); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// baseline at seq 100
	ft.handler.OnMessage(notification(queue(100, 0, 2, nil), 10))
	if len(updates) != 0 {
		t.Fatal("baseline must not notify")
	}
	if sub.LastSeqNum() != 100 {
		t.Fatalf("LastSeqNum = %d, want 100", sub.LastSeqNum())
	}

	// seq 103, head 0, count 5: slots 2,3,4 are new
	q := queue(103, 0, 5, map[int]domain.Event{3: fill(50), 4: fill(55), 1: fill(999)})
	ft.handler.OnMessage(notification(q, 11))

	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	if updates[0].PriceLots != 55 {
		t.Errorf("PriceLots = %d, want 55", updates[0].PriceLots)
	}
	if updates[0].Slot != 11 || updates[0].QueueSeqNum != 103 {
		t.Errorf("unexpected trade metadata: %+v", updates[0])
	}
	if sub.GetLastTrade().PriceLots != 55 {
		t.Errorf("GetLastTrade = %d, want 55", sub.GetLastTrade().PriceLots)
	}
	if sub.LastSeqNum() != 103 {
		t.Errorf("LastSeqNum = %d, want 103", sub.LastSeqNum())
	}

	// duplicate delivery: no callback
	ft.handler.OnMessage(notification(q, 11))
	if len(updates) != 1 {
		t.Errorf("duplicate notification produced an update")
	}

	snap := m.Snapshot()
	if snap.Notifications != 3 || snap.TradesUpdated != 1 || snap.FillsScanned != 2 {
		t.Errorf("unexpected metrics: %+v", snap)
	}
}

func TestTradeSubscription_AckIsIgnored(t *testing.T) {
	sub, ft, m := newTestSubscription(t)
	called := false
	sub.RegisterUpdateCallback(func(domain.Trade) { called = true })
	sub.RegisterErrorCallback(func(error) { t.Error("ack must not be reported as an error") })
	sub.Subscribe(context.Background())

	ft.handler.OnMessage([]byte(`{"jsonrpc":"2.0","result":23784,"id":1}`))

	if called {
		t.Error("ack triggered an update")
	}
	if sub.LastSeqNum() != engine.UnsetSeqNum {
		t.Error("ack changed the sequence number")
	}
	if m.Snapshot().Acks != 1 {
		t.Errorf("Acks = %d, want 1", m.Snapshot().Acks)
	}
}

func TestTradeSubscription_ShortPayload(t *testing.T) {
	sub, ft, m := newTestSubscription(t)
	var gotErr error
	sub.RegisterErrorCallback(func(err error) { gotErr = err })
	sub.Subscribe(context.Background())

	ft.handler.OnMessage(notification(queue(100, 0, 0, nil), 1))

	raw := mango.Encode(queue(105, 0, 5, map[int]domain.Event{4: fill(70)}))
	short := base64.StdEncoding.EncodeToString(raw[:len(raw)-3])
	ft.handler.OnMessage(notificationFor(short, 2))

	if !errors.Is(gotErr, domain.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", gotErr)
	}
	if sub.LastSeqNum() != 100 {
		t.Errorf("LastSeqNum = %d, want 100 (unchanged)", sub.LastSeqNum())
	}
	if sub.GetLastTrade().PriceLots != 0 {
		t.Error("trade must be unchanged after a decode error")
	}
	if m.Snapshot().DecodeErrors != 1 {
		t.Errorf("DecodeErrors = %d, want 1", m.Snapshot().DecodeErrors)
	}
}

func TestTradeSubscription_MalformedEnvelope(t *testing.T) {
	sub, ft, m := newTestSubscription(t)
	var gotErr error
	sub.RegisterErrorCallback(func(err error) { gotErr = err })
	sub.Subscribe(context.Background())

	ft.handler.OnMessage([]byte(`{"jsonrpc":"2.0","method":"accountNotification","params":{"subscription":1}}`))

	if !errors.Is(gotErr, domain.ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", gotErr)
	}
	if m.Snapshot().EnvelopeErrors != 1 {
		t.Errorf("EnvelopeErrors = %d, want 1", m.Snapshot().EnvelopeErrors)
	}

	// the subscription keeps working afterwards
	ft.handler.OnMessage(notification(queue(10, 0, 0, nil), 1))
	ft.handler.OnMessage(notification(queue(11, 0, 1, map[int]domain.Event{0: fill(5)}), 2))
	if sub.GetLastTrade().PriceLots != 5 {
		t.Errorf("PriceLots = %d, want 5", sub.GetLastTrade().PriceLots)
	}
}

func TestTradeSubscription_StaleNotificationOverwritesSeqNum(t *testing.T) {
	sub, ft, _ := newTestSubscription(t)
	updates := 0
	sub.RegisterUpdateCallback(func(domain.Trade) { updates++ })
	sub.Subscribe(context.Background())

	ft.handler.OnMessage(notification(queue(200, 0, 0, nil), 1))
	ft.handler.OnMessage(notification(queue(190, 0, 4, map[int]domain.Event{3: fill(8)}), 2))

	if updates != 0 {
		t.Error("stale notification produced an update")
	}
	if sub.LastSeqNum() != 190 {
		t.Errorf("LastSeqNum = %d, want 190 (latest header seen)", sub.LastSeqNum())
	}
}

func TestTradeSubscription_CloseOnce(t *testing.T) {
	sub, ft, m := newTestSubscription(t)
	closes := 0
	updates := 0
	sub.RegisterCloseCallback(func() { closes++ })
	sub.RegisterUpdateCallback(func(domain.Trade) { updates++ })
	sub.Subscribe(context.Background())

	ft.handler.OnMessage(notification(queue(1, 0, 0, nil), 1))
	ft.handler.OnClose()
	ft.handler.OnClose()

	if closes != 1 {
		t.Errorf("close callback fired %d times, want 1", closes)
	}
	if !sub.IsClosed() {
		t.Error("IsClosed should be true")
	}

	ft.handler.OnMessage(notification(queue(3, 0, 2, map[int]domain.Event{1: fill(9)}), 2))
	if updates != 0 {
		t.Error("messages after close must be ignored")
	}
	if sub.LastSeqNum() != 1 {
		t.Errorf("LastSeqNum = %d, want 1", sub.LastSeqNum())
	}
	if err := sub.HandleMessage(nil); !errors.Is(err, domain.ErrSubscriptionClosed) {
		t.Errorf("expected ErrSubscriptionClosed, got %v", err)
	}
	if err := sub.Subscribe(context.Background()); !errors.Is(err, domain.ErrSubscriptionClosed) {
		t.Errorf("Subscribe after close = %v, want ErrSubscriptionClosed", err)
	}
	if m.Snapshot().Closes != 1 {
		t.Errorf("Closes = %d, want 1", m.Snapshot().Closes)
	}
}

func TestTradeSubscription_SubscribeIdempotent(t *testing.T) {
	sub, ft, _ := newTestSubscription(t)

	for i := 0; i < 3; i++ {
		if err := sub.Subscribe(context.Background()); err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
	}
	if ft.starts != 1 {
		t.Errorf("transport started %d times, want 1", ft.starts)
	}

	sub.Stop()
	if ft.stops != 1 {
		t.Errorf("transport stopped %d times, want 1", ft.stops)
	}
}

func TestTradeSubscription_SubscribeStartError(t *testing.T) {
	dec, _ := mango.NewDecoder(testCapacity)
	ft := &fakeTransport{startErr: errors.New("boom")}
	sub := NewTradeSubscription(ft, dec, &infra.Metrics{})

	if err := sub.Subscribe(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	ft.startErr = nil
	if err := sub.Subscribe(context.Background()); err != nil {
		t.Fatalf("retry after failed start: %v", err)
	}
	if ft.starts != 2 {
		t.Errorf("starts = %d, want 2", ft.starts)
	}
}

func TestTradeSubscription_ConcurrentReads(t *testing.T) {
	sub, ft, _ := newTestSubscription(t)
	sub.Subscribe(context.Background())
	ft.handler.OnMessage(notification(queue(0, 0, 0, nil), 0))

	// pre-encode so the writer loop only runs the pipeline
	msgs := make([][]byte, 0, 200)
	for i := 1; i <= 200; i++ {
		idx := (i - 1) % testCapacity
		q := queue(uint64(i), uint32(i%testCapacity), 0, map[int]domain.Event{idx: fill(uint64(i))})
		msgs = append(msgs, notification(q, uint64(i)))
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var prev uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				tr := sub.GetLastTrade()
				if tr.PriceLots != tr.QueueSeqNum {
					t.Errorf("torn snapshot: %+v", tr)
					return
				}
				if tr.PriceLots < prev {
					t.Errorf("price went backwards: %d < %d", tr.PriceLots, prev)
					return
				}
				prev = tr.PriceLots
			}
		}()
	}

	for _, msg := range msgs {
		ft.handler.OnMessage(msg)
	}
	close(stop)
	wg.Wait()

	if sub.GetLastTrade().PriceLots != 200 {
		t.Errorf("final price = %d, want 200", sub.GetLastTrade().PriceLots)
	}
}
