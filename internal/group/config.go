package group

import (
	"errors"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/obs"
)

// Enumerable construction errors. Every invalid configuration maps to a
// specific sentinel so callers can report exactly what is wrong.
var (
	ErrEmptyName            = errors.New("group: name is empty")
	ErrNoFeeds              = errors.New("group: feed list is empty")
	ErrNoWorkerLcores       = errors.New("group: worker lcore list is empty")
	ErrNilPublisher         = errors.New("group: nil ring publisher")
	ErrNilParser            = errors.New("group: nil parser")
	ErrZeroCommandCapacity  = errors.New("group: command channel capacity is zero")
	ErrZeroFeedbackCapacity = errors.New("group: feedback channel capacity is zero")
	ErrKindMismatch         = errors.New("group: feed kind does not match group kind")
	ErrAlreadyRunning       = errors.New("group: already running")
)

// Publisher is the ring handle a group writes records into.
type Publisher interface {
	Publish(record []byte) error
}

// Config assembles one feed group for a single feed kind.
type Config struct {
	Name string
	Kind feed.Kind
	// LcoreIDs lists the CPU cores to pin worker threads to, one worker
	// per core.
	LcoreIDs []int
	// Publisher is the shared ring the group publishes parsed records to.
	Publisher Publisher
	// Parser turns raw payloads into fixed-size records.
	Parser feed.Parser
	// Feeds are the group's connections, distributed across workers.
	Feeds []*feed.Feed
	// CommandChannelCapacity bounds each worker's command inbox.
	CommandChannelCapacity int
	// FeedbackChannelCapacity bounds each worker's feedback outbox.
	FeedbackChannelCapacity int
	// Metrics is optional; a fresh container is used when nil.
	Metrics *obs.Metrics
}

// ValidatedBuild checks the configuration and returns a runnable group.
func ValidatedBuild(cfg Config) (*FeedGroup, error) {
	switch {
	case cfg.Name == "":
		return nil, ErrEmptyName
	case len(cfg.Feeds) == 0:
		return nil, ErrNoFeeds
	case len(cfg.LcoreIDs) == 0:
		return nil, ErrNoWorkerLcores
	case cfg.Publisher == nil:
		return nil, ErrNilPublisher
	case cfg.Parser == nil:
		return nil, ErrNilParser
	case cfg.CommandChannelCapacity <= 0:
		return nil, ErrZeroCommandCapacity
	case cfg.FeedbackChannelCapacity <= 0:
		return nil, ErrZeroFeedbackCapacity
	}
	for _, f := range cfg.Feeds {
		if f.Kind() != cfg.Kind {
			return nil, ErrKindMismatch
		}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = obs.NewMetrics()
	}
	return &FeedGroup{cfg: cfg}, nil
}
