// Package alpaca provides the primary market data client.
package alpaca

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
)

// SourceName identifies this client in quote telemetry.
const SourceName = "alpaca"

// Config holds Alpaca API connection details.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string        // Data API base, e.g. https://data.alpaca.markets
	Timeout   time.Duration // Per-request timeout
}

// Client fetches latest trade prices from the Alpaca data API.
type Client struct {
	config Config
	client *http.Client
	log    zerolog.Logger
}

// NewClient creates a new Alpaca data client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("client", "alpaca").Logger(),
	}
}

// Name returns the source identifier.
func (c *Client) Name() string {
	return SourceName
}

// latestTradeResponse mirrors the v2 latest trade payload.
type latestTradeResponse struct {
	Symbol string `json:"symbol"`
	Trade  struct {
		Price     float64   `json:"p"`
		Timestamp time.Time `json:"t"`
	} `json:"trade"`
}

// FetchQuote returns the latest trade price for a symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	url := fmt.Sprintf("%s/v2/stocks/%s/trades/latest", c.config.BaseURL, symbol)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.config.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.config.APISecret)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d for %s", resp.StatusCode, symbol)
	}

	var result latestTradeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Trade.Price <= 0 {
		return nil, fmt.Errorf("invalid price %f for %s", result.Trade.Price, symbol)
	}

	c.log.Debug().
		Str("symbol", symbol).
		Float64("price", result.Trade.Price).
		Msg("Fetched latest trade")

	return &domain.Quote{
		Symbol:    symbol,
		Price:     result.Trade.Price,
		Source:    SourceName,
		FetchedAt: time.Now(),
	}, nil
}
