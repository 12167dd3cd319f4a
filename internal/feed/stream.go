package feed

import "sort"

// Stream identifies one market data stream: a feed kind plus a lowercase
// symbol name. Immutable value; identity is the name within a kind.
type Stream struct {
	Kind Kind
	Name string
}

// Topic returns the exchange stream topic, e.g. "btcusdt@bookTicker".
func (s Stream) Topic() string {
	return s.Name + "@" + s.Kind.TopicSuffix()
}

// StreamSet is a set of streams of one feed kind. Only the reconciler
// mutates it, and only after the matching control frame was sent.
type StreamSet struct {
	kind    Kind
	streams map[string]struct{}
}

// NewStreamSet creates an empty set for the given kind.
func NewStreamSet(kind Kind) *StreamSet {
	return &StreamSet{kind: kind, streams: make(map[string]struct{})}
}

// Kind returns the feed kind the set belongs to.
func (s *StreamSet) Kind() Kind {
	return s.kind
}

// Len returns the number of streams in the set.
func (s *StreamSet) Len() int {
	return len(s.streams)
}

// Contains reports whether the set holds a stream by name.
func (s *StreamSet) Contains(name string) bool {
	_, ok := s.streams[name]
	return ok
}

// Insert adds a stream name. Returns true when newly added.
func (s *StreamSet) Insert(name string) bool {
	if _, ok := s.streams[name]; ok {
		return false
	}
	s.streams[name] = struct{}{}
	return true
}

// Remove deletes a stream by name. Returns the removed stream and true
// when it was present.
func (s *StreamSet) Remove(name string) (Stream, bool) {
	if _, ok := s.streams[name]; !ok {
		return Stream{}, false
	}
	delete(s.streams, name)
	return Stream{Kind: s.kind, Name: name}, true
}

// Diff returns the streams present in s but not in other, sorted by name
// so frame construction is deterministic.
func (s *StreamSet) Diff(other *StreamSet) []Stream {
	out := make([]Stream, 0, len(s.streams))
	for name := range s.streams {
		if other == nil || !other.Contains(name) {
			out = append(out, Stream{Kind: s.kind, Name: name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the stream names sorted.
func (s *StreamSet) Names() []string {
	out := make([]string, 0, len(s.streams))
	for name := range s.streams {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the set.
func (s *StreamSet) Clone() *StreamSet {
	out := NewStreamSet(s.kind)
	for name := range s.streams {
		out.streams[name] = struct{}{}
	}
	return out
}
