package group

import (
	"fmt"
	"runtime"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/feed"
	"github.com/RishiDarkDevil/binance-spot-controller/internal/obs"
)

// spinBudget is the number of consecutive idle iterations before the
// worker yields the core to the runtime.
const spinBudget = 256

// worker drives a subset of the group's feeds on one pinned OS thread.
// It is the sole mutator of its feeds and their stream sets; the only
// external mutation path is the command queue.
type worker struct {
	index      int
	lcore      int
	feeds      []*feed.Feed
	publisher  Publisher
	parser     feed.Parser
	reconciler *feed.Reconciler
	commands   commandQueue
	feedback   feedbackQueue
	stop       <-chan struct{}
	metrics    *obs.Metrics

	record []byte
}

func newWorker(index, lcore int, cfg *Config, stop <-chan struct{}) *worker {
	return &worker{
		index:      index,
		lcore:      lcore,
		publisher:  cfg.Publisher,
		parser:     cfg.Parser,
		reconciler: feed.NewReconciler(),
		commands:   newCommandQueue(cfg.CommandChannelCapacity),
		feedback:   newFeedbackQueue(cfg.FeedbackChannelCapacity),
		stop:       stop,
		metrics:    cfg.Metrics,
		record:     make([]byte, feed.RawMessageSize),
	}
}

// run is the worker body. It locks the goroutine to an OS thread, pins the
// thread to the worker's lcore and loops until stopped or a fatal
// transport error. A panic is recovered into the returned error; only this
// worker dies, siblings keep running.
func (w *worker) run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("group: worker %d panic: %v", w.index, r)
		}
	}()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if pinErr := pinThread(w.lcore); pinErr != nil {
		return fmt.Errorf("group: pin worker %d to lcore %d: %w", w.index, w.lcore, pinErr)
	}

	idle := 0
	for {
		select {
		case <-w.stop:
			return nil
		default:
		}

		busy, err := w.pollFeeds()
		if err != nil {
			return err
		}
		if w.applyCommands() {
			busy = true
		}

		if busy {
			idle = 0
			continue
		}
		if idle++; idle >= spinBudget {
			idle = 0
			runtime.Gosched()
		}
	}
}

// pollFeeds polls every owned feed once. Empty means no data this tick.
// A transport error is fatal for this worker; a parse failure drops the
// payload and continues.
func (w *worker) pollFeeds() (bool, error) {
	busy := false
	for _, f := range w.feeds {
		payload, ok, err := f.Poll()
		if err != nil {
			return busy, fmt.Errorf("group: worker %d poll feed %q: %w", w.index, f.Name(), err)
		}
		if !ok {
			continue
		}
		busy = true

		if err := w.parser.Parse(w.record, payload); err != nil {
			w.metrics.ParseDropped()
			continue
		}
		if err := w.publisher.Publish(w.record); err != nil {
			w.metrics.PublishErrored()
			continue
		}
		w.metrics.RecordPublished()
	}
	return busy, nil
}

// applyCommands drains at most the commands queued at entry and emits
// exactly one feedback per command, in FIFO order.
func (w *worker) applyCommands() bool {
	n := len(w.commands.ch)
	for i := 0; i < n; i++ {
		cmd := <-w.commands.ch
		w.feedback.ch <- w.apply(cmd)
		w.metrics.CommandApplied()
	}
	return n > 0
}

func (w *worker) apply(cmd Command) Feedback {
	switch cmd.Kind {
	case CommandAddFeed:
		return w.addFeed(cmd.Feed)
	case CommandRemoveFeed:
		return w.removeFeed(cmd.FeedName)
	case CommandAddStream:
		return w.addStream(cmd.FeedName, cmd.Stream)
	case CommandRemoveStream:
		return w.removeStream(cmd.FeedName, cmd.Stream)
	default:
		return Feedback{Kind: cmd.Kind, Err: fmt.Errorf("group: unknown command kind %d", cmd.Kind)}
	}
}

func (w *worker) findFeed(name string) *feed.Feed {
	for _, f := range w.feeds {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// addFeed inserts or replaces by name; the feedback carries the previous
// feed when one was replaced.
func (w *worker) addFeed(f *feed.Feed) Feedback {
	if f == nil {
		return Feedback{Kind: CommandAddFeed, Err: fmt.Errorf("group: add nil feed")}
	}
	for i, existing := range w.feeds {
		if existing.Name() == f.Name() {
			w.feeds[i] = f
			return Feedback{Kind: CommandAddFeed, PrevFeed: existing}
		}
	}
	w.feeds = append(w.feeds, f)
	return Feedback{Kind: CommandAddFeed}
}

func (w *worker) removeFeed(name string) Feedback {
	for i, existing := range w.feeds {
		if existing.Name() == name {
			w.feeds = append(w.feeds[:i], w.feeds[i+1:]...)
			return Feedback{Kind: CommandRemoveFeed, RemovedFeed: existing}
		}
	}
	return Feedback{Kind: CommandRemoveFeed}
}

// addStream reconciles the target feed toward its current set plus the
// stream. The set mutates only after the subscribe frame was sent.
func (w *worker) addStream(feedName string, s feed.Stream) Feedback {
	f := w.findFeed(feedName)
	if f == nil {
		return Feedback{Kind: CommandAddStream, Err: fmt.Errorf("group: feed %q not found", feedName)}
	}
	target := f.Streams().Clone()
	if !target.Insert(s.Name) {
		return Feedback{Kind: CommandAddStream, StreamAdded: false}
	}
	if err := w.reconciler.Reconcile(f, target); err != nil {
		return Feedback{Kind: CommandAddStream, Err: err}
	}
	return Feedback{Kind: CommandAddStream, StreamAdded: true}
}

func (w *worker) removeStream(feedName string, s feed.Stream) Feedback {
	f := w.findFeed(feedName)
	if f == nil {
		return Feedback{Kind: CommandRemoveStream, Err: fmt.Errorf("group: feed %q not found", feedName)}
	}
	target := f.Streams().Clone()
	removed, ok := target.Remove(s.Name)
	if !ok {
		return Feedback{Kind: CommandRemoveStream}
	}
	if err := w.reconciler.Reconcile(f, target); err != nil {
		return Feedback{Kind: CommandRemoveStream, Err: err}
	}
	return Feedback{Kind: CommandRemoveStream, RemovedStream: &removed}
}
