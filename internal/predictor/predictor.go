// Package predictor implements the Tier 2 external boundary (§4.4): given a
// pair, it returns a class/probability/confidence verdict synchronously.
// The predictor reads its own feature vectors server-side; the core never
// supplies features directly.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/recovery"
	"github.com/heliostrading/core/pkg/types"
)

// Timeout bounds the predictor HTTP round trip (§5 "Timeouts").
const Timeout = 10 * time.Second

// predictRequest is the wire request sent to the model service.
type predictRequest struct {
	Pair string `json:"pair"`
}

// predictResponse is the model service's wire response (§3 "Prediction").
type predictResponse struct {
	Class        string                     `json:"class"`
	Probabilities map[string]decimal.Decimal `json:"probabilities"`
	Confidence   decimal.Decimal            `json:"confidence"`
	ModelVersion string                     `json:"model_version"`
	Timestamp    time.Time                  `json:"timestamp"`
}

// Client calls an external prediction service over HTTP (§4.4, §6).
type Client struct {
	logger  *zap.Logger
	baseURL string
	http    *http.Client
	circuit *recovery.TierCircuit
}

// New constructs a predictor Client against baseURL.
func New(logger *zap.Logger, baseURL string) *Client {
	return &Client{
		logger:  logger.Named("predictor"),
		baseURL: baseURL,
		http:    &http.Client{Timeout: Timeout},
		circuit: recovery.NewTierCircuit(logger, "predictor"),
	}
}

// Healthy reports whether the predictor's circuit breaker is currently
// closed, for the Engine's health monitor (§4.13 "Tier health").
func (c *Client) Healthy() bool {
	return c.circuit.Healthy()
}

// Predict returns the model's verdict for pair. confidence is the max of
// the returned class probabilities by convention (§3 "Prediction");
// confidence gating against a threshold is left to the Risk Sizer (§4.4,
// §4.5).
func (c *Client) Predict(ctx context.Context, pair types.Pair) (*types.Prediction, error) {
	body, err := json.Marshal(predictRequest{Pair: string(pair)})
	if err != nil {
		return nil, fmt.Errorf("encoding predict request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.circuit.Execute(ctx, func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("calling predictor: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("predictor returned %d", resp.StatusCode)
		}

		var pr predictResponse
		if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
			return nil, fmt.Errorf("decoding predict response: %w", err)
		}
		return &pr, nil
	})
	if err != nil {
		return nil, err
	}
	pr := *raw.(*predictResponse)

	signal, err := parseSignal(pr.Class)
	if err != nil {
		return nil, err
	}

	return &types.Prediction{
		Pair:         pair,
		ModelVersion: pr.ModelVersion,
		Class:        signal,
		PBuy:         pr.Probabilities["BUY"],
		PSell:        pr.Probabilities["SELL"],
		PHold:        pr.Probabilities["HOLD"],
		Confidence:   pr.Confidence,
		CreatedAt:    pr.Timestamp.UTC(),
	}, nil
}

func parseSignal(class string) (types.SignalClass, error) {
	switch types.SignalClass(class) {
	case types.SignalBuy, types.SignalSell, types.SignalHold:
		return types.SignalClass(class), nil
	default:
		return "", fmt.Errorf("predictor returned unrecognized class %q", class)
	}
}

// Close releases idle connections held by the client.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
