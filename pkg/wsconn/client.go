// Package wsconn provides a websocket transport for market data feeds. A
// background reader pumps inbound messages into a bounded queue so the hot
// path can poll without blocking; writes are serialized through a mutex.
package wsconn

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"
)

const (
	// DefaultQueueSize bounds the inbound message queue.
	DefaultQueueSize = 1024

	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultPongWait     = 70 * time.Second
)

// ErrClosed is returned by Poll and Send after Close.
var ErrClosed = errors.New("wsconn: connection closed")

// Option tunes a client. Zero values pick defaults.
type Option struct {
	QueueSize    int
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	PongWait     time.Duration
	Header       http.Header
}

func (o Option) withDefaults() Option {
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = defaultDialTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	return o
}

// Client is a websocket connection with a non-blocking receive side.
type Client struct {
	conn    *websocket.Conn
	opt     Option
	inbound chan []byte

	writeMu sync.Mutex
	closed  atomic.Bool
	readErr atomic.Pointer[error]
	done    chan struct{}

	// dropped counts inbound messages discarded because the queue was full.
	dropped atomic.Uint64
}

// Dial connects to a websocket endpoint and starts the reader pump.
func Dial(ctx context.Context, endpoint string, opt Option) (*Client, error) {
	opt = opt.withDefaults()

	dialer := websocket.Dialer{
		HandshakeTimeout:  opt.DialTimeout,
		EnableCompression: false,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, opt.Header)
	if err != nil {
		return nil, errors.Wrapf(err, "wsconn: dial %s", endpoint)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Client{
		conn:    conn,
		opt:     opt,
		inbound: make(chan []byte, opt.QueueSize),
		done:    make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opt.PongWait))
	})
	conn.SetPingHandler(func(payload string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		deadline := time.Now().Add(opt.WriteTimeout)
		return conn.WriteControl(websocket.PongMessage, []byte(payload), deadline)
	})

	go c.readPump()
	return c, nil
}

func (c *Client) readPump() {
	defer close(c.done)
	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opt.PongWait)); err != nil {
			c.setReadErr(err)
			return
		}
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.setReadErr(err)
			return
		}
		select {
		case c.inbound <- payload:
		default:
			c.dropped.Add(1)
		}
	}
}

func (c *Client) setReadErr(err error) {
	if c.closed.Load() {
		return
	}
	var wrapped error = errors.Wrap(err, "wsconn: read")
	c.readErr.Store(&wrapped)
}

// Poll returns the next inbound message without blocking. ok is false when
// the queue is empty. Once the reader has failed and the queue is drained,
// Poll reports the read error.
func (c *Client) Poll() ([]byte, bool, error) {
	select {
	case payload := <-c.inbound:
		return payload, true, nil
	default:
	}
	if c.closed.Load() {
		return nil, false, ErrClosed
	}
	if errp := c.readErr.Load(); errp != nil {
		return nil, false, *errp
	}
	return nil, false, nil
}

// Send writes one text message. Safe for concurrent use.
func (c *Client) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opt.WriteTimeout)); err != nil {
		return errors.Wrap(err, "wsconn: set write deadline")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "wsconn: write")
	}
	return nil
}

// Dropped reports how many inbound messages were discarded due to a full
// queue.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Close sends a close frame and tears the connection down. Repeated calls
// are no-ops.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.writeMu.Lock()
	deadline := time.Now().Add(c.opt.WriteTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.writeMu.Unlock()

	err := c.conn.Close()

	select {
	case <-c.done:
	case <-time.After(c.opt.WriteTimeout):
	}
	return err
}
