package infra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mango_go/internal/domain"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

// WSTransport delivers the messages of one RPC account subscription.
//
// Dial failures are retried with exponential backoff. Once connected, the
// subscribe request is sent and every text frame is handed to the handler on
// the read goroutine, in order. When delivery ends for any reason the handler's
// OnClose is called exactly once; the transport does not reconnect by itself.
type WSTransport struct {
	url       string
	subscribe []byte
	metrics   *Metrics

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	ReadTimeout      time.Duration
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	BackoffInitial   time.Duration
	BackoffMax       time.Duration
}

// NewWSTransport creates a transport that sends subscribeReq right after connecting.
func NewWSTransport(url string, subscribeReq []byte, metrics *Metrics) *WSTransport {
	if metrics == nil {
		metrics = GlobalMetrics
	}
	return &WSTransport{
		url:              url,
		subscribe:        subscribeReq,
		metrics:          metrics,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BackoffInitial:   1 * time.Second,
		BackoffMax:       60 * time.Second,
	}
}

// NewWSTransportFromConfig applies the RPC settings of cfg.
func NewWSTransportFromConfig(cfg *Config, subscribeReq []byte, metrics *Metrics) *WSTransport {
	t := NewWSTransport(cfg.RPC.WSURL, subscribeReq, metrics)
	t.ReadTimeout = cfg.RPC.ReadTimeout
	t.PingInterval = cfg.RPC.PingInterval
	t.HandshakeTimeout = cfg.RPC.HandshakeLimit
	return t
}

// Start begins connecting in the background.
func (t *WSTransport) Start(ctx context.Context, handler domain.MessageHandler) error {
	if handler == nil {
		return fmt.Errorf("nil message handler")
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.run(ctx, handler)
	return nil
}

// Stop terminates delivery and waits for the read goroutine to exit.
func (t *WSTransport) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.close()
	t.wg.Wait()
}

func (t *WSTransport) run(ctx context.Context, handler domain.MessageHandler) {
	defer t.wg.Done()
	defer handler.OnClose()

	if err := t.connectWithRetry(ctx); err != nil {
		slog.Info("WS transport stopped before connecting", "url", t.url, "err", err)
		return
	}

	t.metrics.IncrementConnections()
	defer t.metrics.DecrementConnections()

	done := make(chan struct{})
	go t.watchLoop(ctx, done)

	t.readLoop(handler)
	close(done)
}

func (t *WSTransport) connectWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.BackoffInitial
	b.MaxInterval = t.BackoffMax

	for attempt := 0; ; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := t.connect(ctx)
		if err == nil {
			return nil
		}

		delay := b.NextBackOff()
		slog.Warn("WS connection failed", "url", t.url, "err", err, "retry", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (t *WSTransport) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: t.HandshakeTimeout}
	header := make(http.Header)

	conn, _, err := dialer.DialContext(ctx, t.url, header)
	if err != nil {
		return domain.NewNetworkError("dial", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err))
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.ReadTimeout))
	})

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	if len(t.subscribe) > 0 {
		if err := t.Write(websocket.TextMessage, t.subscribe); err != nil {
			t.close()
			return domain.NewNetworkError("subscribe", err)
		}
	}

	slog.Info("WS Connected", "url", t.url)
	return nil
}

func (t *WSTransport) readLoop(handler domain.MessageHandler) {
	for {
		t.mu.RLock()
		c := t.conn
		t.mu.RUnlock()
		if c == nil {
			return
		}

		c.SetReadDeadline(time.Now().Add(t.ReadTimeout))
		msgType, msg, err := c.ReadMessage()
		if err != nil {
			slog.Warn("WS Read error", "url", t.url, "err", err)
			t.close()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		handler.OnMessage(msg)
	}
}

// watchLoop sends keepalive pings and closes the connection when ctx ends.
// It exits when done is closed by the read loop.
func (t *WSTransport) watchLoop(ctx context.Context, done <-chan struct{}) {
	var tick <-chan time.Time
	if t.PingInterval > 0 {
		ticker := time.NewTicker(t.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			t.close()
			return
		case <-tick:
			t.mu.RLock()
			c := t.conn
			t.mu.RUnlock()
			if c == nil {
				return
			}
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				slog.Warn("WS Ping error", "url", t.url, "err", err)
				t.close()
				return
			}
		}
	}
}

// Write sends a frame on the current connection.
func (t *WSTransport) Write(msgType int, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.RLock()
	c := t.conn
	t.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("ws not connected")
	}

	return c.WriteMessage(msgType, data)
}

func (t *WSTransport) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}
