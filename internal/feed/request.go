package feed

import (
	"encoding/json"
	"fmt"
)

// Control frame methods understood by the exchange stream endpoint.
// https://github.com/binance/binance-spot-api-docs/blob/master/web-socket-streams.md
const (
	MethodSubscribe         = "SUBSCRIBE"
	MethodUnsubscribe       = "UNSUBSCRIBE"
	MethodListSubscriptions = "LIST_SUBSCRIPTIONS"
	MethodSetProperty       = "SET_PROPERTY"
	MethodGetProperty       = "GET_PROPERTY"
)

// MaxRequestIDLen is the exchange limit for string request IDs.
const MaxRequestIDLen = 36

// RequestIDTooLongError reports a string request ID over the limit. The
// oversized ID is rejected at construction, never silently truncated.
type RequestIDTooLongError struct {
	ID  string
	Len int
	Max int
}

func (e RequestIDTooLongError) Error() string {
	return fmt.Sprintf("ws request error: request ID %s length %d exceeds maximum of %d", e.ID, e.Len, e.Max)
}

// RequestID is either an integer or a string of at most 36 characters.
type RequestID struct {
	num      int64
	str      string
	isString bool
}

// IntID builds an integer request ID.
func IntID(v int64) RequestID {
	return RequestID{num: v}
}

// StringID builds a string request ID, rejecting IDs over 36 characters.
func StringID(v string) (RequestID, error) {
	if len(v) > MaxRequestIDLen {
		return RequestID{}, RequestIDTooLongError{ID: v[:MaxRequestIDLen], Len: len(v), Max: MaxRequestIDLen}
	}
	return RequestID{str: v, isString: true}, nil
}

// MarshalJSON emits the bare integer or the quoted string.
func (id RequestID) MarshalJSON() ([]byte, error) {
	if id.isString {
		return json.Marshal(id.str)
	}
	return json.Marshal(id.num)
}

// UnmarshalJSON accepts either shape, enforcing the string length limit.
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := StringID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = IntID(n)
	return nil
}

// Request is one control frame sent over a feed's outbound transport.
type Request struct {
	Method string     `json:"method"`
	Params []any      `json:"params,omitempty"`
	ID     *RequestID `json:"id"`
}

// Marshal serializes the frame to its wire form.
func (r Request) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

func topicParams(topics []string) []any {
	params := make([]any, len(topics))
	for i, t := range topics {
		params[i] = t
	}
	return params
}

// NewSubscribe builds a SUBSCRIBE frame for the given stream topics.
func NewSubscribe(topics []string, id *RequestID) Request {
	return Request{Method: MethodSubscribe, Params: topicParams(topics), ID: id}
}

// NewUnsubscribe builds an UNSUBSCRIBE frame for the given stream topics.
func NewUnsubscribe(topics []string, id *RequestID) Request {
	return Request{Method: MethodUnsubscribe, Params: topicParams(topics), ID: id}
}

// NewListSubscriptions builds a LIST_SUBSCRIPTIONS frame; it carries no
// params field.
func NewListSubscriptions(id *RequestID) Request {
	return Request{Method: MethodListSubscriptions, ID: id}
}

// NewSetProperty builds a SET_PROPERTY frame, e.g. ["combined", true].
func NewSetProperty(params []any, id *RequestID) Request {
	return Request{Method: MethodSetProperty, Params: params, ID: id}
}

// NewGetProperty builds a GET_PROPERTY frame, e.g. ["combined"].
func NewGetProperty(names []string, id *RequestID) Request {
	return Request{Method: MethodGetProperty, Params: topicParams(names), ID: id}
}

// IDGenerator issues sequential integer request IDs for one connection.
// Owned by the session instead of a process-wide counter so tests get
// deterministic IDs.
type IDGenerator struct {
	next int64
}

// NewIDGenerator starts a generator at the given first ID.
func NewIDGenerator(start int64) *IDGenerator {
	return &IDGenerator{next: start}
}

// Next returns the next integer request ID.
func (g *IDGenerator) Next() RequestID {
	id := IntID(g.next)
	g.next++
	return id
}
