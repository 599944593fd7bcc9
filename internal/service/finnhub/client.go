package finnhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	domrepo "FinAlloc/internal/domain/repository"
	applogger "FinAlloc/pkg/logger"
)

var errNotConnected = errors.New("finnhub stream not connected")

// Stream is a MarketStream over the Finnhub trade websocket.
type Stream struct {
	apiKey         string
	websocketURL   string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	bufferSize     int
	logger         *applogger.Logger

	mu      sync.RWMutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	symbols []string
}

type Option func(*Stream)

func WithReconnectDelay(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.reconnectDelay = d
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(s *Stream) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

func WithBufferSize(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

func NewStream(websocketURL, apiKey string, l *applogger.Logger, opts ...Option) *Stream {
	if l == nil {
		l = applogger.Nop()
	}
	s := &Stream{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		reconnectDelay: 3 * time.Second,
		pingInterval:   20 * time.Second,
		bufferSize:     1024,
		logger:         l.Component("finnhub_stream"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ domrepo.MarketStream = (*Stream)(nil)

func (s *Stream) Connect(ctx context.Context) error {
	u, err := url.Parse(s.websocketURL)
	if err != nil {
		return fmt.Errorf("finnhub url: %w", err)
	}
	if s.apiKey != "" {
		q := u.Query()
		q.Set("token", s.apiKey)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("finnhub connect: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(3 * s.pingInterval))
	})
	_ = conn.SetReadDeadline(time.Now().Add(3 * s.pingInterval))

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.logger.Info("connected", applogger.String("url", s.websocketURL))
	return nil
}

// Subscribe sends one subscribe frame per symbol and remembers the set
// for Reconnect.
func (s *Stream) Subscribe(_ context.Context, symbols []string) error {
	s.mu.Lock()
	s.symbols = append([]string(nil), symbols...)
	s.mu.Unlock()
	return s.sendSubscriptions()
}

func (s *Stream) sendSubscriptions() error {
	conn := s.current()
	if conn == nil {
		return errNotConnected
	}
	s.mu.RLock()
	symbols := s.symbols
	s.mu.RUnlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, sym := range symbols {
		if err := conn.WriteJSON(map[string]string{"type": "subscribe", "symbol": sym}); err != nil {
			return fmt.Errorf("subscribe %s: %w", sym, err)
		}
	}
	s.logger.Info("subscribed", applogger.Int("symbols", len(symbols)))
	return nil
}

type wireTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"` // ms
}

type wireMessage struct {
	Type string      `json:"type"`
	Data []wireTrade `json:"data"`
	Msg  string      `json:"msg"`
}

// Read streams trades until ctx ends or the socket fails. Both channels are
// closed when the reader exits; at most one error is delivered.
func (s *Stream) Read(ctx context.Context) (<-chan *domrepo.Trade, <-chan error) {
	trades := make(chan *domrepo.Trade, s.bufferSize)
	errs := make(chan error, 1)

	conn := s.current()
	if conn == nil {
		errs <- errNotConnected
		close(errs)
		close(trades)
		return trades, errs
	}

	done := make(chan struct{})
	go s.pingLoop(ctx, conn, done)

	go func() {
		defer close(done)
		defer close(trades)
		defer close(errs)

		// unblock ReadMessage on cancellation
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		dropped := 0
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("finnhub read: %w", err)
				}
				return
			}
			var m wireMessage
			if err := json.Unmarshal(b, &m); err != nil {
				continue
			}
			switch m.Type {
			case "trade":
			case "error":
				s.logger.Warn("server error frame", applogger.String("msg", m.Msg))
				continue
			default:
				continue
			}
			for _, d := range m.Data {
				t := &domrepo.Trade{Symbol: d.S, Timestamp: d.T / 1000, Price: d.P, Volume: d.V}
				select {
				case trades <- t:
				default:
					dropped++
					if dropped%1000 == 1 {
						s.logger.Warn("trade buffer full, dropping", applogger.Int("dropped", dropped))
					}
				}
			}
		}
	}()

	return trades, errs
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("ping failed", applogger.Error(err))
			}
		}
	}
}

// Reconnect waits reconnectDelay, dials again and restores subscriptions.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.reconnectDelay):
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.sendSubscriptions()
}

func (s *Stream) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return conn.Close()
}

func (s *Stream) IsConnected() bool { return s.current() != nil }

func (s *Stream) current() *websocket.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}
