package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"github.com/heliostrading/core/internal/recovery"
	"github.com/heliostrading/core/pkg/types"
)

// tickMessage is the exchange's public ticker push payload.
type tickMessage struct {
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
}

// PriceStream maintains a websocket subscription to per-pair price ticks
// and publishes PRICE_UPDATE events (§4.2). It never blocks the Engine's
// event channel: a full channel causes the update to be dropped and logged
// at debug (§4.2, §5 "Shared resources").
type PriceStream struct {
	logger   *zap.Logger
	url      string
	pairs    []types.Pair
	events   chan<- types.Event
	recovery *recovery.WebSocketRecovery

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewPriceStream constructs a PriceStream against wsURL for the given
// pairs, using recov for reconnection (§4.13).
func NewPriceStream(logger *zap.Logger, wsURL string, pairs []types.Pair, events chan<- types.Event, recov *recovery.WebSocketRecovery) *PriceStream {
	return &PriceStream{
		logger:   logger.Named("pricestream"),
		url:      wsURL,
		pairs:    pairs,
		events:   events,
		recovery: recov,
	}
}

// Run connects and consumes ticks until ctx is cancelled, reconnecting via
// the recovery manager on disconnect.
func (ps *PriceStream) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := ps.connectAndConsume(ctx); err != nil {
			ps.mu.Lock()
			ps.conn = nil
			ps.mu.Unlock()
			ps.logger.Warn("price stream disconnected", zap.Error(err))
			if !ps.recovery.AwaitReconnect(ctx, ps.reconnect) {
				ps.logger.Info("price stream recovery stopped: context cancelled")
				return
			}
		}
	}
}

// subscribeMessage is sent once per connection to select which pairs
// the exchange should stream ticks for.
type subscribeMessage struct {
	Type  string   `json:"type"`
	Pairs []string `json:"pairs"`
}

func (ps *PriceStream) reconnect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, ps.url, nil)
	if err != nil {
		return err
	}

	pairs := make([]string, len(ps.pairs))
	for i, p := range ps.pairs {
		pairs[i] = string(p)
	}
	if err := conn.WriteJSON(subscribeMessage{Type: "SUBSCRIBE", Pairs: pairs}); err != nil {
		conn.Close()
		return err
	}

	ps.mu.Lock()
	ps.conn = conn
	ps.mu.Unlock()
	return nil
}

func (ps *PriceStream) connectAndConsume(ctx context.Context) error {
	if err := ps.reconnect(ctx); err != nil {
		return err
	}
	defer ps.conn.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}

		_, data, err := ps.conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg tickMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			ps.logger.Debug("unparseable tick", zap.Error(err))
			continue
		}

		ts := time.Now().UTC()
		if msg.Timestamp > 0 {
			ts = time.UnixMilli(msg.Timestamp).UTC()
		}

		select {
		case ps.events <- types.Event{
			Type:      types.EventPriceUpdate,
			Pair:      types.Pair(msg.Pair),
			Price:     msg.Price,
			Timestamp: ts,
		}:
		default:
			ps.logger.Debug("event channel full, dropping price update", zap.String("pair", msg.Pair))
		}
	}
}

// Close tears down the active connection, if any (§4.14 "Shutdown").
func (ps *PriceStream) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.conn != nil {
		return ps.conn.Close()
	}
	return nil
}

// Connected reports whether the stream currently holds a live connection,
// used by the health monitor to decide whether a reconnect is needed
// (§4.14 "Health monitor").
func (ps *PriceStream) Connected() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.conn != nil
}
