package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"regime-tracker/internal/models"
)

// Client fetches historical candles over HTTP with rate limiting and
// retries. Any sub-range may be re-fetched safely; the store upserts.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	logger     zerolog.Logger
}

// ClientOptions holds options for creating a new Client
type ClientOptions struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	RequestsPerSec int
}

// NewClient creates a new provider client with rate limiting
func NewClient(opts ClientOptions) *Client {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: opts.RequestTimeout,
		},
		limiter: rate.NewLimiter(rate.Every(time.Second), opts.RequestsPerSec),
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		logger:  log.With().Str("component", "provider").Logger(),
	}
}

type candlePayload struct {
	Time            time.Time `json:"time"`
	Open            float64   `json:"open"`
	High            float64   `json:"high"`
	Low             float64   `json:"low"`
	Close           float64   `json:"close"`
	Volume          float64   `json:"volume"`
	OIOpen          float64   `json:"oi_open"`
	OIHigh          float64   `json:"oi_high"`
	OILow           float64   `json:"oi_low"`
	OIClose         float64   `json:"oi_close"`
	TakerBuyVolume  float64   `json:"taker_buy_volume"`
	TakerSellVolume float64   `json:"taker_sell_volume"`
	FundingRate     float64   `json:"funding_rate"`
}

type candleResponse struct {
	Candles []candlePayload `json:"candles"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
}

// Fetch returns candles for the key in [from, to] ascending by time.
func (c *Client) Fetch(ctx context.Context, key models.SyncKey, from, to time.Time) ([]models.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	query := url.Values{}
	query.Set("source", key.Source)
	query.Set("symbol", key.Symbol)
	query.Set("timeframe", key.Timeframe)
	query.Set("kind", key.DataKind)
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("%s/candles?%s", c.baseURL, query.Encode())

	c.logger.Debug().Str("key", key.String()).Str("url", endpoint).Msg("Fetching candles")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	// Use exponential backoff for retries
	var body []byte
	operation := func() error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("HTTP request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("non-200 status code: %d", resp.StatusCode)
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response body: %w", err)
		}
		return nil
	}

	backoffStrategy := backoff.NewExponentialBackOff()
	backoffStrategy.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(backoffStrategy, ctx)); err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}

	var data candleResponse
	if err := json.Unmarshal(body, &data); err != nil {
		c.logger.Error().Err(err).Msg("Error parsing JSON")
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}
	if data.Status == "error" {
		return nil, fmt.Errorf("provider error: %s", data.Message)
	}

	// Sort candles by time (oldest first for proper calculations)
	sort.Slice(data.Candles, func(i, j int) bool {
		return data.Candles[i].Time.Before(data.Candles[j].Time)
	})

	candles := make([]models.Candle, 0, len(data.Candles))
	for _, v := range data.Candles {
		candles = append(candles, models.Candle{
			Source:          key.Source,
			Symbol:          key.Symbol,
			Timeframe:       key.Timeframe,
			Time:            v.Time,
			Open:            v.Open,
			High:            v.High,
			Low:             v.Low,
			Close:           v.Close,
			Volume:          v.Volume,
			OIOpen:          v.OIOpen,
			OIHigh:          v.OIHigh,
			OILow:           v.OILow,
			OIClose:         v.OIClose,
			TakerBuyVolume:  v.TakerBuyVolume,
			TakerSellVolume: v.TakerSellVolume,
			FundingRate:     v.FundingRate,
		})
	}

	c.logger.Debug().Str("key", key.String()).Int("count", len(candles)).Msg("Fetched candles")
	return candles, nil
}
