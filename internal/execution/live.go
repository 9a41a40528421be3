package execution

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/recovery"
	"github.com/heliostrading/core/pkg/types"
)

// OrderProcessedTimeout is how long the live client awaits an
// ORDER_PROCESSED/NEW_TRADE pair over the order websocket before falling
// back to REST (§4.10).
const OrderProcessedTimeout = 10 * time.Second

// orderWSMessage is the exchange's order-channel push shape. Only the
// fields the live client correlates on are modeled; the rest pass through
// as raw JSON for the fill details.
type orderWSMessage struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlationId"`
	OrderID       string          `json:"orderId"`
	FillPrice     decimal.Decimal `json:"fillPrice"`
	Quantity      decimal.Decimal `json:"quantity"`
	Fees          decimal.Decimal `json:"fees"`
}

// LiveClient places authenticated orders against the exchange: WebSocket
// first (correlation-id matched), REST fallback on timeout or error
// (§4.10 "Live client").
type LiveClient struct {
	logger      *zap.Logger
	baseURL     string
	wsURL       string
	apiKey      string
	apiSecret   string
	http        *http.Client
	rateLimiter *recovery.RateLimiter

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan orderWSMessage
}

// NewLiveClient constructs a LiveClient. An empty apiKey/apiSecret means
// no live credentials are configured; the router must fail the order
// rather than silently falling back to paper (§4.9 step 2).
func NewLiveClient(logger *zap.Logger, baseURL, wsURL, apiKey, apiSecret string, requestsPerSec int) *LiveClient {
	return &LiveClient{
		logger:      logger.Named("execution.live"),
		baseURL:     baseURL,
		wsURL:       wsURL,
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		http:        &http.Client{Timeout: 10 * time.Second},
		rateLimiter: recovery.NewRateLimiter(float64(requestsPerSec), requestsPerSec),
		pending:     make(map[string]chan orderWSMessage),
	}
}

// Configured reports whether live credentials are present.
func (c *LiveClient) Configured() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

// PlaceMarketOrder attempts the order over the persistent order websocket
// first, falling back to REST on timeout or transport error.
func (c *LiveClient) PlaceMarketOrder(ctx context.Context, req OrderRequest) (*types.OrderResult, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("live client has no credentials configured")
	}

	start := time.Now()
	correlationID := uuid.NewString()

	result, err := c.placeViaWebSocket(ctx, correlationID, req)
	if err != nil {
		c.logger.Warn("order websocket path failed, falling back to REST", zap.Error(err))
		result, err = c.placeViaREST(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	result.LatencyMS = time.Since(start).Milliseconds()
	result.Mode = types.ModeLive
	return result, nil
}

func (c *LiveClient) placeViaWebSocket(ctx context.Context, correlationID string, req OrderRequest) (*types.OrderResult, error) {
	conn, err := c.wsConn(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan orderWSMessage, 1)
	c.mu.Lock()
	c.pending[correlationID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, correlationID)
		c.mu.Unlock()
	}()

	order := map[string]interface{}{
		"type":          "PLACE_MARKET_ORDER",
		"correlationId": correlationID,
		"pair":          string(req.Pair),
		"side":          string(req.Side),
		"quantity":      req.Quantity.String(),
	}
	if err := conn.WriteJSON(order); err != nil {
		return nil, fmt.Errorf("writing order over websocket: %w", err)
	}

	select {
	case msg := <-ch:
		return &types.OrderResult{
			Success:   true,
			OrderID:   msg.OrderID,
			Pair:      req.Pair,
			Side:      req.Side,
			Quantity:  msg.Quantity,
			FillPrice: msg.FillPrice,
			Fees:      msg.Fees,
			Status:    types.OrderStatusFilled,
			FilledAt:  nowUTC(),
		}, nil
	case <-time.After(OrderProcessedTimeout):
		return nil, fmt.Errorf("order websocket timed out awaiting ORDER_PROCESSED")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *LiveClient) wsConn(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signature := c.sign(timestamp, "GET", "/ws/trade", "")

	header := http.Header{}
	header.Set("X-API-KEY", c.apiKey)
	header.Set("X-SIGNATURE", signature)
	header.Set("X-TIMESTAMP", timestamp)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dialing order websocket: %w", err)
	}
	c.conn = conn
	go c.readLoop(conn)
	return conn, nil
}

// readLoop dispatches incoming ORDER_PROCESSED/NEW_TRADE frames to the
// correlation-id-matched waiter.
func (c *LiveClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("order websocket read error", zap.Error(err))
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}

		var msg orderWSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type != "ORDER_PROCESSED" && msg.Type != "NEW_TRADE" {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.CorrelationID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
	}
}

func (c *LiveClient) placeViaREST(ctx context.Context, req OrderRequest) (*types.OrderResult, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(map[string]string{
		"pair":     string(req.Pair),
		"side":     string(req.Side),
		"quantity": req.Quantity.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding order body: %w", err)
	}

	resp, err := c.signedRequest(ctx, http.MethodPost, "/v1/orders/market", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("live order rejected, status %d: %s", resp.StatusCode, string(data))
	}

	var result types.OrderResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding order response: %w", err)
	}
	result.Status = types.OrderStatusFilled
	return &result, nil
}

// GetBalance always goes through REST (§4.10 "Balance queries always go
// through REST").
func (c *LiveClient) GetBalance(ctx context.Context, currency string) (*types.Balance, error) {
	balances, err := c.GetAllBalances(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range balances {
		if b.Currency == currency {
			return b, nil
		}
	}
	return &types.Balance{Currency: currency, Available: decimal.Zero}, nil
}

// GetAllBalances fetches every balance over signed REST.
func (c *LiveClient) GetAllBalances(ctx context.Context) ([]*types.Balance, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.signedRequest(ctx, http.MethodGet, "/v1/account/balances", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("balance query failed, status %d", resp.StatusCode)
	}

	var balances []*types.Balance
	if err := json.NewDecoder(resp.Body).Decode(&balances); err != nil {
		return nil, fmt.Errorf("decoding balances: %w", err)
	}
	return balances, nil
}

// signedRequest builds and executes an HMAC-SHA512-signed REST call
// (§4.10: signature over timestamp ∥ METHOD ∥ path ∥ body; headers
// X-API-KEY, X-SIGNATURE, X-TIMESTAMP).
func (c *LiveClient) signedRequest(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signature := c.sign(timestamp, method, path, string(body))

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building signed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-SIGNATURE", signature)
	req.Header.Set("X-TIMESTAMP", timestamp)

	return c.http.Do(req)
}

// sign computes the HMAC-SHA512 hex digest over timestamp∥method∥path∥body.
func (c *LiveClient) sign(timestamp, method, path, body string) string {
	h := hmac.New(sha512.New, []byte(c.apiSecret))
	h.Write([]byte(timestamp + method + path + body))
	return hex.EncodeToString(h.Sum(nil))
}

// Close releases resources held by the client.
func (c *LiveClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.http.CloseIdleConnections()
}
