// Package codec turns raw ring records back into typed market data events.
// Records are NUL-padded JSON; kind sniffing scans the raw bytes before any
// allocation, full decoding goes through encoding/json.
package codec

import (
	"bytes"
	"encoding/json"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
	"github.com/RishiDarkDevil/binance-spot-controller/pkg/scanner"
)

// ErrUnknownPayload is returned when a record matches no known event shape.
var ErrUnknownPayload = errors.New("codec: unknown payload shape")

// BookTop is a best bid/offer update.
type BookTop struct {
	UpdateID uint64          `json:"u"`
	Symbol   string          `json:"s"`
	BidPrice decimal.Decimal `json:"b"`
	BidQty   decimal.Decimal `json:"B"`
	AskPrice decimal.Decimal `json:"a"`
	AskQty   decimal.Decimal `json:"A"`
}

// Trade is a single executed trade.
type Trade struct {
	Event        string          `json:"e"`
	EventTime    int64           `json:"E"`
	Symbol       string          `json:"s"`
	TradeID      uint64          `json:"t"`
	Price        decimal.Decimal `json:"p"`
	Quantity     decimal.Decimal `json:"q"`
	TradeTime    int64           `json:"T"`
	BuyerIsMaker bool            `json:"m"`
}

// AggTrade is an aggregated trade.
type AggTrade struct {
	Event        string          `json:"e"`
	EventTime    int64           `json:"E"`
	Symbol       string          `json:"s"`
	AggTradeID   uint64          `json:"a"`
	Price        decimal.Decimal `json:"p"`
	Quantity     decimal.Decimal `json:"q"`
	FirstTradeID uint64          `json:"f"`
	LastTradeID  uint64          `json:"l"`
	TradeTime    int64           `json:"T"`
	BuyerIsMaker bool            `json:"m"`
}

var (
	keyEvent    = []byte(`"e"`)
	keyUpdateID = []byte(`"u"`)
	evTrade     = []byte("trade")
	evAggTrade  = []byte("aggTrade")
)

// TrimRecord strips the NUL padding a fixed-size ring record carries.
func TrimRecord(record []byte) []byte {
	return bytes.TrimRight(record, "\x00")
}

// DetectKind sniffs the event kind of a raw record without decoding it.
func DetectKind(record []byte) (feed.Kind, bool) {
	payload := TrimRecord(record)
	if event, ok := scanner.ScanStringField(payload, keyEvent); ok {
		switch {
		case bytes.Equal(event, evTrade):
			return feed.KindTrade, true
		case bytes.Equal(event, evAggTrade):
			return feed.KindAggTrade, true
		}
		return 0, false
	}
	// Book top updates have no event tag, only an update ID.
	if _, ok := scanner.ScanUintField(payload, keyUpdateID); ok {
		return feed.KindTop, true
	}
	return 0, false
}

// DecodeBookTop parses a book top record.
func DecodeBookTop(record []byte) (BookTop, error) {
	var top BookTop
	if err := json.Unmarshal(TrimRecord(record), &top); err != nil {
		return BookTop{}, errors.Wrap(err, "codec: decode book top")
	}
	return top, nil
}

// DecodeTrade parses a trade record.
func DecodeTrade(record []byte) (Trade, error) {
	var trade Trade
	if err := json.Unmarshal(TrimRecord(record), &trade); err != nil {
		return Trade{}, errors.Wrap(err, "codec: decode trade")
	}
	return trade, nil
}

// DecodeAggTrade parses an aggregated trade record.
func DecodeAggTrade(record []byte) (AggTrade, error) {
	var agg AggTrade
	if err := json.Unmarshal(TrimRecord(record), &agg); err != nil {
		return AggTrade{}, errors.Wrap(err, "codec: decode agg trade")
	}
	return agg, nil
}

// Event is a decoded record of any kind; exactly one field is set.
type Event struct {
	Kind     feed.Kind
	BookTop  *BookTop
	Trade    *Trade
	AggTrade *AggTrade
}

// Decode sniffs the kind and fully decodes a raw record.
func Decode(record []byte) (Event, error) {
	kind, ok := DetectKind(record)
	if !ok {
		return Event{}, ErrUnknownPayload
	}
	switch kind {
	case feed.KindTop:
		top, err := DecodeBookTop(record)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, BookTop: &top}, nil
	case feed.KindTrade:
		trade, err := DecodeTrade(record)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, Trade: &trade}, nil
	default:
		agg, err := DecodeAggTrade(record)
		if err != nil {
			return Event{}, err
		}
		return Event{Kind: kind, AggTrade: &agg}, nil
	}
}
