package group

import (
	"errors"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
)

var (
	// ErrCommandQueueFull is returned when a worker's command queue is at
	// capacity. Enqueue never blocks; drain feedback and retry.
	ErrCommandQueueFull = errors.New("group: command queue full")
	// ErrBadWorker is returned for a command routed to an unknown worker
	// slot.
	ErrBadWorker = errors.New("group: worker index out of range")
)

// CommandKind selects the worker operation.
type CommandKind uint8

const (
	// CommandAddFeed inserts or replaces a feed by name.
	CommandAddFeed CommandKind = iota + 1
	// CommandRemoveFeed removes a feed by name.
	CommandRemoveFeed
	// CommandAddStream adds a stream to a feed's set and reconciles.
	CommandAddStream
	// CommandRemoveStream removes a stream from a feed's set and reconciles.
	CommandRemoveStream
)

func (k CommandKind) String() string {
	switch k {
	case CommandAddFeed:
		return "AddFeed"
	case CommandRemoveFeed:
		return "RemoveFeed"
	case CommandAddStream:
		return "AddStream"
	case CommandRemoveStream:
		return "RemoveStream"
	default:
		return "Unknown"
	}
}

// Command is one live-reconfiguration request for a worker.
type Command struct {
	Kind CommandKind
	// Feed is the feed to insert for AddFeed.
	Feed *feed.Feed
	// FeedName targets a feed by name for RemoveFeed, AddStream and
	// RemoveStream.
	FeedName string
	// Stream is the stream to add or remove.
	Stream feed.Stream
}

// AddFeed builds a command inserting or replacing a feed by name.
func AddFeed(f *feed.Feed) Command {
	return Command{Kind: CommandAddFeed, Feed: f, FeedName: f.Name()}
}

// RemoveFeed builds a command removing a feed by name.
func RemoveFeed(name string) Command {
	return Command{Kind: CommandRemoveFeed, FeedName: name}
}

// AddStream builds a command subscribing a stream on the named feed.
func AddStream(feedName string, s feed.Stream) Command {
	return Command{Kind: CommandAddStream, FeedName: feedName, Stream: s}
}

// RemoveStream builds a command unsubscribing a stream on the named feed.
func RemoveStream(feedName string, s feed.Stream) Command {
	return Command{Kind: CommandRemoveStream, FeedName: feedName, Stream: s}
}

// Feedback acknowledges exactly one command. Workers emit feedback in the
// order they applied commands; interleaving across workers is unordered.
type Feedback struct {
	Kind CommandKind
	// PrevFeed carries the replaced feed for AddFeed, if any.
	PrevFeed *feed.Feed
	// RemovedFeed carries the removed feed for RemoveFeed, if found.
	RemovedFeed *feed.Feed
	// StreamAdded is true when AddStream newly added the stream.
	StreamAdded bool
	// RemovedStream carries the removed stream for RemoveStream, if found.
	RemovedStream *feed.Stream
	// Err reports a failed apply (unknown target feed, reconcile failure).
	Err error
}

// commandQueue is the bounded non-blocking inbox of one worker.
type commandQueue struct {
	ch chan Command
}

func newCommandQueue(capacity int) commandQueue {
	return commandQueue{ch: make(chan Command, capacity)}
}

// TryPush enqueues without blocking.
func (q commandQueue) TryPush(cmd Command) error {
	select {
	case q.ch <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// feedbackQueue carries acknowledgements back to the coordinator.
type feedbackQueue struct {
	ch chan Feedback
}

func newFeedbackQueue(capacity int) feedbackQueue {
	return feedbackQueue{ch: make(chan Feedback, capacity)}
}

// TryPop dequeues without blocking.
func (q feedbackQueue) TryPop() (Feedback, bool) {
	select {
	case fb := <-q.ch:
		return fb, true
	default:
		return Feedback{}, false
	}
}
