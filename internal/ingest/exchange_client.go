package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/heliostrading/core/pkg/types"
)

// RawBucket is the wire shape returned by the exchange's public bucket
// endpoint (§6 "GET /public/{pair}/buckets").
type RawBucket struct {
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	StartTime string          `json:"startTime"`
}

// PublicDataClient is the unauthenticated market-data boundary consumed by
// the Candle Poller and Price Stream. Kept separate from the execution
// package's signed order client since no HMAC signing applies here (§6).
type PublicDataClient struct {
	baseURL string
	http    *http.Client
}

// NewPublicDataClient builds a client against baseURL with the 10s REST
// timeout mandated by §5 "Timeouts".
func NewPublicDataClient(baseURL string) *PublicDataClient {
	return &PublicDataClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// RecentBuckets fetches the last `limit` one-minute candles for pair
// (§4.1 step 2, §6).
func (c *PublicDataClient) RecentBuckets(ctx context.Context, pair types.Pair, periodSeconds, limit int) ([]RawBucket, error) {
	u := fmt.Sprintf("%s/public/%s/buckets?periodSeconds=%d&limit=%d",
		c.baseURL, url.PathEscape(string(pair)), periodSeconds, limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building bucket request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting buckets: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("exchange returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange returned %d", resp.StatusCode)
	}

	var buckets []RawBucket
	if err := json.NewDecoder(resp.Body).Decode(&buckets); err != nil {
		return nil, fmt.Errorf("decoding buckets: %w", err)
	}
	return buckets, nil
}

// Close releases the idle HTTP connections held by the client (§4.1
// "Shutdown").
func (c *PublicDataClient) Close() {
	c.http.CloseIdleConnections()
}

// ErrRateLimited is returned when the exchange answers with HTTP 429,
// treated as transient with a minimum 60s backoff (§7).
var ErrRateLimited = fmt.Errorf("exchange rate limit exceeded")
