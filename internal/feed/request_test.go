package feed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIDBoundary(t *testing.T) {
	ok := strings.Repeat("a", 36)
	id, err := StringID(ok)
	require.NoError(t, err)

	data, err := id.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"`+ok+`"`, string(data))

	_, err = StringID(strings.Repeat("a", 37))
	var tooLong RequestIDTooLongError
	require.ErrorAs(t, err, &tooLong)
	assert.Equal(t, 37, tooLong.Len)
	assert.Equal(t, 36, tooLong.Max)
	assert.Contains(t, err.Error(), "length 37 exceeds maximum of 36")
}

func TestRequestMarshalShapes(t *testing.T) {
	intID := IntID(1)
	strID, err := StringID("my-request-id")
	require.NoError(t, err)

	cases := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "subscribe with int id",
			req:  NewSubscribe([]string{"btcusdt@aggTrade", "btcusdt@trade"}, &intID),
			want: `{"method":"SUBSCRIBE","params":["btcusdt@aggTrade","btcusdt@trade"],"id":1}`,
		},
		{
			name: "subscribe with string id",
			req:  NewSubscribe([]string{"btcusdt@trade"}, &strID),
			want: `{"method":"SUBSCRIBE","params":["btcusdt@trade"],"id":"my-request-id"}`,
		},
		{
			name: "subscribe without id",
			req:  NewSubscribe([]string{"btcusdt@bookTicker"}, nil),
			want: `{"method":"SUBSCRIBE","params":["btcusdt@bookTicker"],"id":null}`,
		},
		{
			name: "unsubscribe",
			req:  NewUnsubscribe([]string{"btcusdt@trade"}, &intID),
			want: `{"method":"UNSUBSCRIBE","params":["btcusdt@trade"],"id":1}`,
		},
		{
			name: "list subscriptions omits params",
			req:  NewListSubscriptions(&intID),
			want: `{"method":"LIST_SUBSCRIPTIONS","id":1}`,
		},
		{
			name: "set property",
			req:  NewSetProperty([]any{"combined", true}, &intID),
			want: `{"method":"SET_PROPERTY","params":["combined",true],"id":1}`,
		},
		{
			name: "get property",
			req:  NewGetProperty([]string{"combined"}, &intID),
			want: `{"method":"GET_PROPERTY","params":["combined"],"id":1}`,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			data, err := c.req.Marshal()
			require.NoError(t, err)
			assert.Equal(t, c.want, string(data))
		})
	}
}

func TestRequestIDUnmarshal(t *testing.T) {
	var id RequestID
	require.NoError(t, id.UnmarshalJSON([]byte(`312`)))
	assert.Equal(t, IntID(312), id)

	require.NoError(t, id.UnmarshalJSON([]byte(`"abc"`)))
	data, err := id.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(data))

	err = id.UnmarshalJSON([]byte(`"` + strings.Repeat("x", 37) + `"`))
	var tooLong RequestIDTooLongError
	require.ErrorAs(t, err, &tooLong)
}

func TestIDGeneratorIsDeterministic(t *testing.T) {
	gen := NewIDGenerator(1)
	for want := int64(1); want <= 3; want++ {
		assert.Equal(t, IntID(want), gen.Next())
	}
}
