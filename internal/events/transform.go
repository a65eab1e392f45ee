package events

import (
	"encoding/json"
	"time"
)

// bookData is the downstream data payload for book events.
type bookData struct {
	Market    string       `json:"market,omitempty"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Hash      string       `json:"hash,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
}

// priceChangeData is the downstream data payload for price_change events.
type priceChangeData struct {
	Market       string        `json:"market,omitempty"`
	PriceChanges []PriceChange `json:"price_changes"`
	Timestamp    string        `json:"timestamp,omitempty"`
}

// lastTradeData is the downstream data payload for last_trade_price events.
type lastTradeData struct {
	Market     string `json:"market,omitempty"`
	Price      string `json:"price"`
	Side       string `json:"side,omitempty"`
	Size       string `json:"size,omitempty"`
	FeeRateBps string `json:"fee_rate_bps,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// Transform maps a decoded event to its marshaled downstream frame.
// receivedAt is the local receipt time attached for staleness display; it
// never overwrites the upstream timestamp inside the payload. Unknown
// events produce no output (ok = false), not an error. The frame is
// marshaled once so every fan-out recipient receives identical bytes.
func Transform(evt Event, receivedAt time.Time) (frame []byte, ok bool) {
	ts := receivedAt.Format(time.RFC3339Nano)

	switch e := evt.(type) {
	case *BookEvent:
		return marshalMarket(e.Kind(), e.AssetID, bookData{
			Market:    e.Market,
			Bids:      e.Bids,
			Asks:      e.Asks,
			Hash:      e.Hash,
			Timestamp: e.Timestamp,
		}, ts)

	case *PriceChangeEvent:
		return marshalMarket(e.Kind(), e.AssetID, priceChangeData{
			Market:       e.Market,
			PriceChanges: e.Changes,
			Timestamp:    e.Timestamp,
		}, ts)

	case *LastTradeEvent:
		return marshalMarket(e.Kind(), e.AssetID, lastTradeData{
			Market:     e.Market,
			Price:      e.Price,
			Side:       e.Side,
			Size:       e.Size,
			FeeRateBps: e.FeeRateBps,
			Timestamp:  e.Timestamp,
		}, ts)

	case *CommentEvent:
		out, err := json.Marshal(CommentFrame{
			Type:      string(e.EventKind),
			Payload:   e.Payload,
			Timestamp: ts,
		})
		if err != nil {
			return nil, false
		}
		return out, true

	default:
		return nil, false
	}
}

func marshalMarket(kind Kind, assetID string, data any, ts string) ([]byte, bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	out, err := json.Marshal(MarketFrame{
		Type:      string(kind),
		MarketID:  assetID,
		Data:      raw,
		Timestamp: ts,
	})
	if err != nil {
		return nil, false
	}
	return out, true
}
