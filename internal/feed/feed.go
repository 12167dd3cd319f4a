// Package feed models one exchange market-data connection: its kind, its
// stream set, the control frames that manage subscriptions, and the parser
// that turns raw payloads into fixed-size ring records.
package feed

// RawMessageSize is the fixed record size written into shared rings.
const RawMessageSize = 512

// Transport is the poll/send capability a feed needs from its network
// connection. Poll must never block: no pending message means (nil, false).
type Transport interface {
	// Poll returns the next received payload if one is ready. The returned
	// slice is only valid until the next Poll.
	Poll() ([]byte, bool, error)
	// Send writes one outbound control frame.
	Send(data []byte) error
	Close() error
}

// Feed is one network connection carrying one feed kind's messages, plus
// the stream set currently subscribed on it. The worker that owns the feed
// is its only mutator.
type Feed struct {
	name      string
	transport Transport
	streams   *StreamSet
	ids       *IDGenerator
}

// New creates a feed around an established transport with an empty
// stream set. Request IDs are issued by a generator owned by the feed's
// connection, starting at 1, so frame IDs are deterministic per session.
func New(name string, kind Kind, transport Transport) *Feed {
	return &Feed{
		name:      name,
		transport: transport,
		streams:   NewStreamSet(kind),
		ids:       NewIDGenerator(1),
	}
}

// Name returns the feed name.
func (f *Feed) Name() string {
	return f.name
}

// Kind returns the feed kind.
func (f *Feed) Kind() Kind {
	return f.streams.kind
}

// Streams returns the feed's stream set.
func (f *Feed) Streams() *StreamSet {
	return f.streams
}

// IDs returns the request ID generator owned by this feed's connection.
func (f *Feed) IDs() *IDGenerator {
	return f.ids
}

// Poll forwards to the transport.
func (f *Feed) Poll() ([]byte, bool, error) {
	return f.transport.Poll()
}

// Send forwards to the transport.
func (f *Feed) Send(data []byte) error {
	return f.transport.Send(data)
}

// Close closes the underlying transport.
func (f *Feed) Close() error {
	return f.transport.Close()
}
