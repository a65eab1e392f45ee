package events

import "encoding/json"

// Kind identifies an upstream event variant.
type Kind string

const (
	KindBook        Kind = "book"
	KindPriceChange Kind = "price_change"
	KindLastTrade   Kind = "last_trade_price"

	KindCommentCreated  Kind = "comment_created"
	KindCommentRemoved  Kind = "comment_removed"
	KindReactionCreated Kind = "reaction_created"
	KindReactionRemoved Kind = "reaction_removed"

	// KindUnknown marks payloads whose discriminant matched no known kind.
	KindUnknown Kind = "unknown"
)

// Event is the decoded upstream event union.
type Event interface {
	// Kind returns the variant tag.
	Kind() Kind

	// Topic returns the fan-out routing key: the asset id for market
	// events, the parent event id for comment events, "" for unknown.
	Topic() string
}

// PriceLevel is one side entry of a book snapshot.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// BookEvent is a full orderbook snapshot for one asset.
type BookEvent struct {
	AssetID   string
	Market    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Hash      string
	Timestamp string
}

func (e *BookEvent) Kind() Kind    { return KindBook }
func (e *BookEvent) Topic() string { return e.AssetID }

// PriceChange is one entry of a price_change event.
type PriceChange struct {
	Price   string `json:"price"`
	Side    string `json:"side,omitempty"`
	Size    string `json:"size,omitempty"`
	BestBid string `json:"best_bid,omitempty"`
	BestAsk string `json:"best_ask,omitempty"`
}

// PriceChangeEvent carries one or more price level changes for an asset.
type PriceChangeEvent struct {
	AssetID   string
	Market    string
	Changes   []PriceChange
	Timestamp string
}

func (e *PriceChangeEvent) Kind() Kind    { return KindPriceChange }
func (e *PriceChangeEvent) Topic() string { return e.AssetID }

// LastTradeEvent is a trade print for an asset.
type LastTradeEvent struct {
	AssetID    string
	Market     string
	Price      string
	Side       string
	Size       string
	FeeRateBps string
	Timestamp  string
}

func (e *LastTradeEvent) Kind() Kind    { return KindLastTrade }
func (e *LastTradeEvent) Topic() string { return e.AssetID }

// CommentEvent is one of the four comment feed kinds. The raw payload is
// carried through untouched for downstream delivery; only the routing
// fields are lifted out.
type CommentEvent struct {
	EventKind        Kind
	ParentEntityID   string
	ParentEntityType string
	Payload          json.RawMessage
}

func (e *CommentEvent) Kind() Kind    { return e.EventKind }
func (e *CommentEvent) Topic() string { return e.ParentEntityID }

// UnknownEvent preserves the discriminant of an unrecognized payload for
// debug logging.
type UnknownEvent struct {
	EventType string
}

func (e *UnknownEvent) Kind() Kind    { return KindUnknown }
func (e *UnknownEvent) Topic() string { return "" }

// MarketFrame is the downstream wire shape for market events.
type MarketFrame struct {
	Type      string          `json:"type"`
	MarketID  string          `json:"marketId"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// CommentFrame is the downstream wire shape for comment events.
type CommentFrame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}
