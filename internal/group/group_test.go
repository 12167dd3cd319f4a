package group

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
)

// stubTransport replays queued payloads and records sent frames.
type stubTransport struct {
	mu      sync.Mutex
	inbound [][]byte
	sent    []string
	pollErr error
	sendErr error
}

func (s *stubTransport) push(payload string) {
	s.mu.Lock()
	s.inbound = append(s.inbound, []byte(payload))
	s.mu.Unlock()
}

func (s *stubTransport) Poll() ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollErr != nil {
		return nil, false, s.pollErr
	}
	if len(s.inbound) == 0 {
		return nil, false, nil
	}
	payload := s.inbound[0]
	s.inbound = s.inbound[1:]
	return payload, true, nil
}

func (s *stubTransport) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, string(data))
	return nil
}

func (s *stubTransport) sentFrames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func (s *stubTransport) Close() error { return nil }

// capturePublisher copies published records.
type capturePublisher struct {
	mu      sync.Mutex
	records [][]byte
}

func (p *capturePublisher) Publish(record []byte) error {
	p.mu.Lock()
	p.records = append(p.records, append([]byte(nil), record...))
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func (p *capturePublisher) at(i int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.records[i]
}

func validConfig(feeds ...*feed.Feed) Config {
	return Config{
		Name:                    "TradeFeedGroup",
		Kind:                    feed.KindTrade,
		LcoreIDs:                []int{0},
		Publisher:               &capturePublisher{},
		Parser:                  feed.DummyParser{},
		Feeds:                   feeds,
		CommandChannelCapacity:  16,
		FeedbackChannelCapacity: 16,
	}
}

func tradeFeed(name string) (*feed.Feed, *stubTransport) {
	transport := &stubTransport{}
	return feed.New(name, feed.KindTrade, transport), transport
}

func TestValidatedBuildErrors(t *testing.T) {
	f, _ := tradeFeed("TradeFeed")

	cases := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"empty name", func(c *Config) { c.Name = "" }, ErrEmptyName},
		{"no feeds", func(c *Config) { c.Feeds = nil }, ErrNoFeeds},
		{"no lcores", func(c *Config) { c.LcoreIDs = nil }, ErrNoWorkerLcores},
		{"nil publisher", func(c *Config) { c.Publisher = nil }, ErrNilPublisher},
		{"nil parser", func(c *Config) { c.Parser = nil }, ErrNilParser},
		{"zero command capacity", func(c *Config) { c.CommandChannelCapacity = 0 }, ErrZeroCommandCapacity},
		{"zero feedback capacity", func(c *Config) { c.FeedbackChannelCapacity = 0 }, ErrZeroFeedbackCapacity},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := validConfig(f)
			c.mutate(&cfg)
			_, err := ValidatedBuild(cfg)
			require.ErrorIs(t, err, c.want)
		})
	}

	topFeed := feed.New("TopFeed", feed.KindTop, &stubTransport{})
	_, err := ValidatedBuild(validConfig(topFeed))
	require.ErrorIs(t, err, ErrKindMismatch)

	g, err := ValidatedBuild(validConfig(f))
	require.NoError(t, err)
	require.NotNil(t, g)
}

func TestRunPublishesParsedRecords(t *testing.T) {
	f, transport := tradeFeed("TradeFeed")
	pub := &capturePublisher{}
	cfg := validConfig(f)
	cfg.Publisher = pub

	g, err := ValidatedBuild(cfg)
	require.NoError(t, err)
	h, err := g.Run()
	require.NoError(t, err)
	defer func() {
		h.Stop()
		h.Join()
	}()

	transport.push(`{"e":"trade","s":"BTCUSDT","p":"43000.01"}`)
	transport.push(`{"e":"trade","s":"ETHUSDT","p":"2301.55"}`)

	require.Eventually(t, func() bool { return pub.count() == 2 }, 2*time.Second, time.Millisecond)

	first := pub.at(0)
	require.Len(t, first, feed.RawMessageSize)
	assert.Contains(t, string(first), `"s":"BTCUSDT"`)
	for _, b := range first[len(`{"e":"trade","s":"BTCUSDT","p":"43000.01"}`):] {
		require.Zero(t, b, "record tail must be zero filled")
	}
}

func TestRunTwiceFails(t *testing.T) {
	f, _ := tradeFeed("TradeFeed")
	g, err := ValidatedBuild(validConfig(f))
	require.NoError(t, err)

	h, err := g.Run()
	require.NoError(t, err)
	defer func() {
		h.Stop()
		h.Join()
	}()

	_, err = g.Run()
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func pollOneFeedback(t *testing.T, h *Handle) Feedback {
	t.Helper()
	var out Feedback
	require.Eventually(t, func() bool {
		fbs := h.PollFeedback()
		if len(fbs) == 0 {
			return false
		}
		require.Len(t, fbs, 1)
		out = fbs[0]
		return true
	}, 2*time.Second, time.Millisecond)
	return out
}

func TestAddFeedFeedback(t *testing.T) {
	f, _ := tradeFeed("TradeFeed")
	g, err := ValidatedBuild(validConfig(f))
	require.NoError(t, err)
	h, err := g.Run()
	require.NoError(t, err)
	defer func() {
		h.Stop()
		h.Join()
	}()

	// New name: feedback carries no previous feed.
	fresh, _ := tradeFeed("TradeFeed2")
	require.NoError(t, h.SendCommand(0, AddFeed(fresh)))
	fb := pollOneFeedback(t, h)
	assert.Equal(t, CommandAddFeed, fb.Kind)
	assert.Nil(t, fb.PrevFeed)
	require.NoError(t, fb.Err)

	// Existing name: feedback carries the replaced feed.
	replacement, _ := tradeFeed("TradeFeed")
	require.NoError(t, h.SendCommand(0, AddFeed(replacement)))
	fb = pollOneFeedback(t, h)
	assert.Equal(t, CommandAddFeed, fb.Kind)
	require.NotNil(t, fb.PrevFeed)
	assert.Same(t, f, fb.PrevFeed)
}

func TestRemoveFeedFeedback(t *testing.T) {
	f, _ := tradeFeed("TradeFeed")
	g, err := ValidatedBuild(validConfig(f))
	require.NoError(t, err)
	h, err := g.Run()
	require.NoError(t, err)
	defer func() {
		h.Stop()
		h.Join()
	}()

	require.NoError(t, h.SendCommand(0, RemoveFeed("TradeFeed")))
	fb := pollOneFeedback(t, h)
	require.NotNil(t, fb.RemovedFeed)
	assert.Same(t, f, fb.RemovedFeed)

	require.NoError(t, h.SendCommand(0, RemoveFeed("TradeFeed")))
	fb = pollOneFeedback(t, h)
	assert.Nil(t, fb.RemovedFeed)
}

func TestStreamCommandsReconcile(t *testing.T) {
	f, transport := tradeFeed("TradeFeed")
	g, err := ValidatedBuild(validConfig(f))
	require.NoError(t, err)
	h, err := g.Run()
	require.NoError(t, err)
	defer func() {
		h.Stop()
		h.Join()
	}()

	stream := feed.Stream{Kind: feed.KindTrade, Name: "btcusdt"}

	require.NoError(t, h.SendCommand(0, AddStream("TradeFeed", stream)))
	fb := pollOneFeedback(t, h)
	require.NoError(t, fb.Err)
	assert.True(t, fb.StreamAdded)
	frames := transport.sentFrames()
	require.Len(t, frames, 1)
	assert.Equal(t, `{"method":"SUBSCRIBE","params":["btcusdt@trade"],"id":1}`, frames[0])

	// Adding again: already present, no frame.
	require.NoError(t, h.SendCommand(0, AddStream("TradeFeed", stream)))
	fb = pollOneFeedback(t, h)
	require.NoError(t, fb.Err)
	assert.False(t, fb.StreamAdded)
	assert.Len(t, transport.sentFrames(), 1)

	require.NoError(t, h.SendCommand(0, RemoveStream("TradeFeed", stream)))
	fb = pollOneFeedback(t, h)
	require.NoError(t, fb.Err)
	require.NotNil(t, fb.RemovedStream)
	assert.Equal(t, "btcusdt", fb.RemovedStream.Name)
	frames = transport.sentFrames()
	require.Len(t, frames, 2)
	assert.Equal(t, `{"method":"UNSUBSCRIBE","params":["btcusdt@trade"],"id":2}`, frames[1])

	// Removing a stream that is not present: feedback carries none.
	require.NoError(t, h.SendCommand(0, RemoveStream("TradeFeed", stream)))
	fb = pollOneFeedback(t, h)
	require.NoError(t, fb.Err)
	assert.Nil(t, fb.RemovedStream)
}

func TestCommandQueueBackpressure(t *testing.T) {
	q := newCommandQueue(1)
	require.NoError(t, q.TryPush(RemoveFeed("a")))
	require.ErrorIs(t, q.TryPush(RemoveFeed("b")), ErrCommandQueueFull)
}

func TestSendCommandBadWorker(t *testing.T) {
	f, _ := tradeFeed("TradeFeed")
	g, err := ValidatedBuild(validConfig(f))
	require.NoError(t, err)
	h, err := g.Run()
	require.NoError(t, err)
	defer func() {
		h.Stop()
		h.Join()
	}()

	require.ErrorIs(t, h.SendCommand(5, RemoveFeed("x")), ErrBadWorker)
	require.ErrorIs(t, h.SendCommand(-1, RemoveFeed("x")), ErrBadWorker)
}

func TestWorkerFailureIsIsolated(t *testing.T) {
	broken, brokenTransport := tradeFeed("BrokenFeed")
	healthy, healthyTransport := tradeFeed("HealthyFeed")

	pub := &capturePublisher{}
	cfg := validConfig(broken, healthy)
	cfg.LcoreIDs = []int{0, 0}
	cfg.Publisher = pub

	g, err := ValidatedBuild(cfg)
	require.NoError(t, err)
	h, err := g.Run()
	require.NoError(t, err)
	defer func() {
		h.Stop()
		h.Join()
	}()

	connErr := errors.New("connection reset by peer")
	brokenTransport.mu.Lock()
	brokenTransport.pollErr = connErr
	brokenTransport.mu.Unlock()

	require.Eventually(t, func() bool {
		statuses := h.TryJoin()
		return statuses[0].Done
	}, 2*time.Second, time.Millisecond)

	statuses := h.TryJoin()
	require.True(t, statuses[0].Done)
	require.ErrorIs(t, statuses[0].Err, connErr)
	assert.False(t, statuses[1].Done, "sibling worker must keep running")

	// The healthy worker still moves data.
	healthyTransport.push(`{"e":"trade","s":"SOLUSDT"}`)
	require.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, time.Millisecond)
}

type panicParser struct{}

func (panicParser) Name() string { return "panic" }

func (panicParser) Parse([]byte, []byte) error { panic("boom") }

func TestWorkerPanicSurfacesViaJoin(t *testing.T) {
	f, transport := tradeFeed("TradeFeed")
	cfg := validConfig(f)
	cfg.Parser = panicParser{}

	g, err := ValidatedBuild(cfg)
	require.NoError(t, err)
	h, err := g.Run()
	require.NoError(t, err)

	transport.push(`{"e":"trade"}`)

	errs := h.Join()
	require.Len(t, errs, 1)
	require.Error(t, errs[0])
	assert.Contains(t, errs[0].Error(), "panic")
}

func TestParseFailureDropsAndContinues(t *testing.T) {
	f, transport := tradeFeed("TradeFeed")
	pub := &capturePublisher{}
	cfg := validConfig(f)
	cfg.Publisher = pub

	g, err := ValidatedBuild(cfg)
	require.NoError(t, err)
	h, err := g.Run()
	require.NoError(t, err)
	defer func() {
		h.Stop()
		h.Join()
	}()

	transport.push(string(make([]byte, feed.RawMessageSize+1))) // oversized, dropped
	transport.push(`{"e":"trade","s":"BTCUSDT"}`)

	require.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, time.Millisecond)
	assert.Contains(t, string(pub.at(0)), "BTCUSDT")
	require.Eventually(t, func() bool {
		return g.Metrics().Snapshot().ParseDrops == 1
	}, 2*time.Second, time.Millisecond)
}

func TestFeedDistributionRoundRobin(t *testing.T) {
	a, _ := tradeFeed("A")
	b, _ := tradeFeed("B")
	c, _ := tradeFeed("C")

	cfg := validConfig(a, b, c)
	cfg.LcoreIDs = []int{0, 0}

	g, err := ValidatedBuild(cfg)
	require.NoError(t, err)
	h, err := g.Run()
	require.NoError(t, err)
	defer func() {
		h.Stop()
		h.Join()
	}()

	assert.Equal(t, []int{0, 0}, h.LcoreIDs())
	assert.Equal(t, 2, h.Workers())

	idx, ok := h.Assignment("A")
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	idx, ok = h.Assignment("B")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	idx, ok = h.Assignment("C")
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok = h.Assignment("D")
	assert.False(t, ok)
}

func TestStopTerminatesCleanly(t *testing.T) {
	f, _ := tradeFeed("TradeFeed")
	g, err := ValidatedBuild(validConfig(f))
	require.NoError(t, err)
	h, err := g.Run()
	require.NoError(t, err)

	h.Stop()
	h.Stop() // idempotent
	for _, err := range h.Join() {
		require.NoError(t, err)
	}
	statuses := h.TryJoin()
	for _, s := range statuses {
		assert.True(t, s.Done)
		assert.NoError(t, s.Err)
	}
}
