package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType enumerates the Engine's event-channel message kinds (§4.14).
type EventType string

const (
	EventNewCandle      EventType = "NEW_CANDLE"
	EventPriceUpdate    EventType = "PRICE_UPDATE"
	EventOrderBookUpdate EventType = "ORDERBOOK_UPDATE"
	EventAlert          EventType = "ALERT"
)

// Event is the single message type carried on the Engine's event channel.
// Only the fields relevant to its Type are populated; this mirrors a tagged
// union without needing a type switch over distinct Go types at every call
// site that only cares about routing.
type Event struct {
	Type      EventType
	Pair      Pair
	Timeframe Timeframe // NEW_CANDLE only
	OpenTime  time.Time // NEW_CANDLE only
	Price     decimal.Decimal // PRICE_UPDATE only
	Timestamp time.Time
	Message   string // ALERT only
}
