package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/neolight/smarttrader/internal/domain"
)

const (
	dialTimeout        = 30 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// QuoteHandler receives live trades pushed by the stream.
type QuoteHandler func(quote domain.Quote)

// StreamClient maintains a websocket subscription to Alpaca's trade stream
// and pushes prices into the quote cache. The polling path stays
// authoritative; the stream only tightens quote freshness between polls.
type StreamClient struct {
	url     string
	config  Config
	symbols []string
	handler QuoteHandler
	log     zerolog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected  bool
	stopped    bool
	stopChan   chan struct{}
}

// NewStreamClient creates a trade stream client for the given symbols.
func NewStreamClient(url string, cfg Config, symbols []string, handler QuoteHandler, log zerolog.Logger) *StreamClient {
	return &StreamClient{
		url:      url,
		config:   cfg,
		symbols:  symbols,
		handler:  handler,
		log:      log.With().Str("component", "alpaca_stream").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start connects and launches the read loop in the background.
func (s *StreamClient) Start() error {
	s.log.Info().Strs("symbols", s.symbols).Msg("Starting trade stream client")

	if err := s.connect(); err != nil {
		s.log.Warn().Err(err).Msg("Initial stream connection failed, will retry in background")
		go s.reconnectLoop()
		return err
	}

	s.mu.Lock()
	ctx := s.connCtx
	s.mu.Unlock()
	go s.readMessages(ctx)

	return nil
}

// Stop gracefully shuts down the stream.
func (s *StreamClient) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopChan)
	return s.disconnect()
}

// connect dials the stream, authenticates and subscribes.
func (s *StreamClient) connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), dialTimeout)
	defer dialCancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial stream: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())

	auth := map[string]string{
		"action": "auth",
		"key":    s.config.APIKey,
		"secret": s.config.APISecret,
	}
	if err := writeJSON(connCtx, conn, auth); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "auth failed")
		return fmt.Errorf("failed to authenticate: %w", err)
	}

	sub := map[string]interface{}{
		"action": "subscribe",
		"trades": s.symbols,
	}
	if err := writeJSON(connCtx, conn, sub); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "subscribe failed")
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	s.conn = conn
	s.connCtx = connCtx
	s.cancelFunc = connCancel
	s.connected = true

	s.log.Info().Msg("Connected to trade stream")
	return nil
}

// disconnect closes the websocket connection.
func (s *StreamClient) disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}

	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}

	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.conn = nil
	s.connCtx = nil
	s.connected = false

	if err != nil {
		return fmt.Errorf("error closing stream: %w", err)
	}
	return nil
}

// streamMessage is one element of the batched stream payload.
type streamMessage struct {
	Type      string    `json:"T"`
	Symbol    string    `json:"S"`
	Price     float64   `json:"p"`
	Timestamp time.Time `json:"t"`
	Message   string    `json:"msg"`
}

// readMessages consumes stream frames until the connection drops.
func (s *StreamClient) readMessages(ctx context.Context) {
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		// Stop() nils the connection from another goroutine, so take a
		// reference under the lock before reading.
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}

			s.log.Warn().Err(err).Msg("Stream read failed, reconnecting")
			_ = s.disconnect()
			go s.reconnectLoop()
			return
		}

		var messages []streamMessage
		if err := json.Unmarshal(data, &messages); err != nil {
			s.log.Warn().Err(err).Msg("Failed to decode stream frame")
			continue
		}

		for _, msg := range messages {
			switch msg.Type {
			case "t":
				if msg.Price <= 0 || s.handler == nil {
					continue
				}
				s.handler(domain.Quote{
					Symbol:    msg.Symbol,
					Price:     msg.Price,
					Source:    SourceName,
					FetchedAt: msg.Timestamp,
				})
			case "error":
				s.log.Error().Str("msg", msg.Message).Msg("Stream error message")
			}
		}
	}
}

// reconnectLoop retries the connection with exponential backoff.
func (s *StreamClient) reconnectLoop() {
	delay := baseReconnectDelay

	for {
		select {
		case <-s.stopChan:
			return
		case <-time.After(delay):
		}

		s.log.Info().Dur("delay", delay).Msg("Attempting stream reconnect")
		if err := s.connect(); err == nil {
			s.mu.Lock()
			ctx := s.connCtx
			s.mu.Unlock()
			go s.readMessages(ctx)
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return conn.Write(writeCtx, websocket.MessageText, data)
}
