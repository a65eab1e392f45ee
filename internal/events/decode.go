package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Split breaks a frame that may carry a JSON array of events into individual
// payloads. The market feed answers a fresh subscription with an array of
// book snapshots; steady-state frames are single objects and come back as a
// one-element slice.
func Split(data []byte) []json.RawMessage {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return []json.RawMessage{data}
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return []json.RawMessage{data}
	}
	return parts
}

// flexString accepts a JSON string or number and stores its text form.
// Number bytes are kept verbatim, so large ids and sub-penny decimals
// survive without a float round-trip.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty value")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if data[0] == 'n' { // null
		*f = ""
		return nil
	}
	// Validate it is a number, then keep the raw text.
	if _, err := strconv.ParseFloat(string(data), 64); err != nil {
		return fmt.Errorf("neither string nor number: %s", data)
	}
	*f = flexString(data)
	return nil
}

// marketEnvelope extracts the kind discriminant, which arrives as
// "event_type" on the market feed but "type" on some variants.
type marketEnvelope struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
}

func (e marketEnvelope) kind() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.Type
}

type priceLevelWire struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookWire struct {
	AssetID   string           `json:"asset_id"`
	Market    string           `json:"market"`
	Bids      []priceLevelWire `json:"bids"`
	Asks      []priceLevelWire `json:"asks"`
	Buys      []priceLevelWire `json:"buys"`
	Sells     []priceLevelWire `json:"sells"`
	Hash      string           `json:"hash"`
	Timestamp flexString       `json:"timestamp"`
}

type priceChangeWire struct {
	Price   string `json:"price"`
	Side    string `json:"side"`
	Size    string `json:"size"`
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

type priceChangeEventWire struct {
	AssetID      string            `json:"asset_id"`
	Market       string            `json:"market"`
	Changes      []priceChangeWire `json:"changes"`
	PriceChanges []priceChangeWire `json:"price_changes"`
	Timestamp    flexString        `json:"timestamp"`
}

type lastTradeWire struct {
	AssetID    string     `json:"asset_id"`
	Market     string     `json:"market"`
	Price      string     `json:"price"`
	Side       string     `json:"side"`
	Size       string     `json:"size"`
	FeeRateBps flexString `json:"fee_rate_bps"`
	Timestamp  flexString `json:"timestamp"`
}

// DecodeMarket decodes one market feed payload into the event union.
// Unrecognized kinds return *UnknownEvent with a nil error; malformed
// payloads of a known kind return an error for the caller to log and drop.
func DecodeMarket(data []byte) (Event, error) {
	var env marketEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("extract event kind: %w", err)
	}

	switch Kind(env.kind()) {
	case KindBook:
		return decodeBook(data)
	case KindPriceChange:
		return decodePriceChange(data)
	case KindLastTrade:
		return decodeLastTrade(data)
	default:
		return &UnknownEvent{EventType: env.kind()}, nil
	}
}

func decodeBook(data []byte) (Event, error) {
	var wire bookWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse book event: %w", err)
	}
	if wire.AssetID == "" {
		return nil, fmt.Errorf("book event missing asset_id")
	}

	// Field naming drifted upstream: older payloads say buys/sells,
	// newer ones bids/asks.
	bids := wire.Bids
	if len(bids) == 0 {
		bids = wire.Buys
	}
	asks := wire.Asks
	if len(asks) == 0 {
		asks = wire.Sells
	}

	return &BookEvent{
		AssetID:   wire.AssetID,
		Market:    wire.Market,
		Bids:      copyLevels(bids),
		Asks:      copyLevels(asks),
		Hash:      wire.Hash,
		Timestamp: string(wire.Timestamp),
	}, nil
}

func decodePriceChange(data []byte) (Event, error) {
	var wire priceChangeEventWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse price_change event: %w", err)
	}
	if wire.AssetID == "" {
		return nil, fmt.Errorf("price_change event missing asset_id")
	}

	raw := wire.PriceChanges
	if len(raw) == 0 {
		raw = wire.Changes
	}

	changes := make([]PriceChange, 0, len(raw))
	for _, c := range raw {
		if c.Price == "" {
			continue
		}
		changes = append(changes, PriceChange{
			Price:   c.Price,
			Side:    c.Side,
			Size:    c.Size,
			BestBid: c.BestBid,
			BestAsk: c.BestAsk,
		})
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("price_change event has no usable changes")
	}

	return &PriceChangeEvent{
		AssetID:   wire.AssetID,
		Market:    wire.Market,
		Changes:   changes,
		Timestamp: string(wire.Timestamp),
	}, nil
}

func decodeLastTrade(data []byte) (Event, error) {
	var wire lastTradeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse last_trade_price event: %w", err)
	}
	if wire.AssetID == "" {
		return nil, fmt.Errorf("last_trade_price event missing asset_id")
	}
	if wire.Price == "" {
		return nil, fmt.Errorf("last_trade_price event missing price")
	}

	return &LastTradeEvent{
		AssetID:    wire.AssetID,
		Market:     wire.Market,
		Price:      wire.Price,
		Side:       wire.Side,
		Size:       wire.Size,
		FeeRateBps: string(wire.FeeRateBps),
		Timestamp:  string(wire.Timestamp),
	}, nil
}

func copyLevels(in []priceLevelWire) []PriceLevel {
	out := make([]PriceLevel, 0, len(in))
	for _, l := range in {
		if l.Price == "" {
			continue
		}
		out = append(out, PriceLevel{Price: l.Price, Size: l.Size})
	}
	return out
}

// commentEnvelope is the live-data feed wrapper.
type commentEnvelope struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// commentPayload lifts only the routing fields; the payload itself is
// passed through untouched.
type commentPayload struct {
	ParentEntityID   flexString `json:"parentEntityID"`
	ParentEntityType string     `json:"parentEntityType"`
}

// DecodeComment decodes one comment feed payload. Frames that are not one
// of the four comment kinds return *UnknownEvent with a nil error.
func DecodeComment(data []byte) (Event, error) {
	var env commentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("extract comment kind: %w", err)
	}

	kind := Kind(env.Type)
	switch kind {
	case KindCommentCreated, KindCommentRemoved, KindReactionCreated, KindReactionRemoved:
	default:
		return &UnknownEvent{EventType: env.Type}, nil
	}

	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%s event missing payload", kind)
	}

	var p commentPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("parse %s payload: %w", kind, err)
	}
	if p.ParentEntityID == "" {
		return nil, fmt.Errorf("%s event missing parentEntityID", kind)
	}

	return &CommentEvent{
		EventKind:        kind,
		ParentEntityID:   string(p.ParentEntityID),
		ParentEntityType: p.ParentEntityType,
		Payload:          env.Payload,
	}, nil
}
