package ops

import (
	"fmt"
	"strings"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
	"github.com/RishiDarkDevil/binance-spot-controller/pkg/scanner"
	"github.com/RishiDarkDevil/binance-spot-controller/pkg/shm"
)

var keySymbol = []byte(`"s"`)

// RingPublisher routes fixed-size records to per-symbol rings of one feed
// kind. The symbol is scanned straight out of the raw bytes.
type RingPublisher struct {
	kind  feed.Kind
	rings map[string]*shm.OwnedRing
}

// NewRingPublisher attaches to the ring of every symbol in the registry
// subset given. Rings must already exist.
func NewRingPublisher(kind feed.Kind, registry *Registry, symbols []string, ringSize uint64) (*RingPublisher, error) {
	p := &RingPublisher{
		kind:  kind,
		rings: make(map[string]*shm.OwnedRing, len(symbols)),
	}
	for _, symbol := range symbols {
		id, ok := registry.ID(symbol)
		if !ok {
			p.Close()
			return nil, fmt.Errorf("ops: symbol %q not present in registry", symbol)
		}
		ring, err := shm.AttachPublisher(RingName(kind, id), ringSize, feed.RawMessageSize)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.rings[symbol] = ring
	}
	return p, nil
}

// Publish routes one record to its symbol's ring. Records for unknown
// symbols are rejected.
func (p *RingPublisher) Publish(record []byte) error {
	symbol, ok := scanner.ScanStringField(record, keySymbol)
	if !ok {
		return fmt.Errorf("ops: record carries no symbol field")
	}
	ring, ok := p.rings[strings.ToLower(string(symbol))]
	if !ok {
		return fmt.Errorf("ops: no ring for symbol %q", symbol)
	}
	return ring.Publish(record)
}

// Close unmaps every attached ring.
func (p *RingPublisher) Close() error {
	var firstErr error
	for symbol, ring := range p.rings {
		if err := ring.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("ops: close ring for %q: %w", symbol, err)
		}
	}
	p.rings = nil
	return firstErr
}
