package feed

import (
	"fmt"
	"unicode/utf8"
)

// Parser turns one raw transport payload into one fixed-size record.
// Parse must fill dst completely; len(dst) is the ring record size.
type Parser interface {
	// Name identifies the parser in config mediums.
	Name() string
	Parse(dst []byte, payload []byte) error
}

// ParseError reports a payload the parser could not handle. Workers drop
// the payload and continue; a malformed exchange message never stops a
// live feed.
type ParseError struct {
	Parser string
	Reason string
	Size   int
}

func (e ParseError) Error() string {
	return fmt.Sprintf("feed: parser %q rejected %d-byte payload: %s", e.Parser, e.Size, e.Reason)
}

// DummyParser copies the UTF-8 payload verbatim into the record and
// zero-fills the tail. It is the passthrough medium used while structured
// per-kind records are not wired.
type DummyParser struct{}

// Name implements Parser.
func (DummyParser) Name() string { return "dummy" }

// Parse implements Parser.
func (DummyParser) Parse(dst []byte, payload []byte) error {
	if len(payload) > len(dst) {
		return ParseError{Parser: "dummy", Reason: "payload exceeds record size", Size: len(payload)}
	}
	if !utf8.Valid(payload) {
		return ParseError{Parser: "dummy", Reason: "payload is not valid UTF-8", Size: len(payload)}
	}
	n := copy(dst, payload)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}

// NewParser resolves a config parser name to an implementation.
func NewParser(name string) (Parser, error) {
	switch name {
	case "dummy":
		return DummyParser{}, nil
	default:
		return nil, fmt.Errorf("feed: unknown parser %q", name)
	}
}
