package feed

import (
	"fmt"
	"strings"
)

// Kind is the semantic category of market data a feed carries.
type Kind uint8

const (
	_kind_beg Kind = iota
	// KindTop is the best bid/ask of the order book.
	// https://github.com/binance/binance-spot-api-docs/blob/master/web-socket-streams.md#individual-symbol-book-ticker-streams
	KindTop
	// KindTrade is the raw trade stream with distinct buyer and seller.
	// https://github.com/binance/binance-spot-api-docs/blob/master/web-socket-streams.md#trade-streams
	KindTrade
	// KindAggTrade is the trade stream aggregated per taker.
	// https://github.com/binance/binance-spot-api-docs/blob/master/web-socket-streams.md#aggregate-trade-streams
	KindAggTrade
	_kind_end
)

// IsAvailable reports whether the kind is a known feed kind.
func (k Kind) IsAvailable() bool {
	return k > _kind_beg && k < _kind_end
}

func (k Kind) String() string {
	switch k {
	case KindTop:
		return "top"
	case KindTrade:
		return "trade"
	case KindAggTrade:
		return "aggTrade"
	default:
		return "unknown"
	}
}

// TopicSuffix returns the exchange stream suffix for the kind, appended to
// a lowercase symbol as "<symbol>@<suffix>".
func (k Kind) TopicSuffix() string {
	switch k {
	case KindTop:
		return "bookTicker"
	case KindTrade:
		return "trade"
	case KindAggTrade:
		return "aggTrade"
	default:
		return ""
	}
}

// RingPrefix returns the uppercase prefix used in shared ring names.
func (k Kind) RingPrefix() string {
	switch k {
	case KindTop:
		return "TOP"
	case KindTrade:
		return "TRADE"
	case KindAggTrade:
		return "AGGTRADE"
	default:
		return ""
	}
}

// ParseKind maps a config string to a feed kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "top":
		return KindTop, nil
	case "trade":
		return KindTrade, nil
	case "aggtrade":
		return KindAggTrade, nil
	default:
		return 0, fmt.Errorf("feed: unknown feed kind %q", s)
	}
}
