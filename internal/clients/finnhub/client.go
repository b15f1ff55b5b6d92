// Package finnhub provides the secondary market data client.
package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/neolight/smarttrader/internal/domain"
)

// SourceName identifies this client in quote telemetry.
const SourceName = "finnhub"

// Config holds Finnhub API connection details.
type Config struct {
	APIKey  string
	BaseURL string        // e.g. https://finnhub.io/api/v1
	Timeout time.Duration // Per-request timeout
}

// Client fetches real-time quotes from the Finnhub API.
type Client struct {
	config Config
	client *http.Client
	log    zerolog.Logger
}

// NewClient creates a new Finnhub client.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("client", "finnhub").Logger(),
	}
}

// Name returns the source identifier.
func (c *Client) Name() string {
	return SourceName
}

// quoteResponse mirrors the /quote payload. Finnhub returns c=0 for
// unknown symbols instead of an error status.
type quoteResponse struct {
	Current   float64 `json:"c"`
	Timestamp int64   `json:"t"`
}

// FetchQuote returns the current price for a symbol.
func (c *Client) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	endpoint := fmt.Sprintf("%s/quote?symbol=%s&token=%s",
		c.config.BaseURL, url.QueryEscape(symbol), url.QueryEscape(c.config.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d for %s", resp.StatusCode, symbol)
	}

	var result quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Current <= 0 {
		return nil, fmt.Errorf("no quote available for %s", symbol)
	}

	fetchedAt := time.Now()
	if result.Timestamp > 0 {
		fetchedAt = time.Unix(result.Timestamp, 0)
	}

	c.log.Debug().
		Str("symbol", symbol).
		Float64("price", result.Current).
		Msg("Fetched quote")

	return &domain.Quote{
		Symbol:    symbol,
		Price:     result.Current,
		Source:    SourceName,
		FetchedAt: fetchedAt,
	}, nil
}
