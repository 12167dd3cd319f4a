package ops

import (
	"fmt"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
)

// RingName derives the shared memory region name for one symbol's feed,
// e.g. TOP_0_PS for the book-top feed of symbol 0.
func RingName(kind feed.Kind, id SymbolID) string {
	return fmt.Sprintf("%s_%d_PS", kind.RingPrefix(), id)
}
