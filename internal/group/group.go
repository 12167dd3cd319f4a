// Package group schedules CPU-pinned worker threads for one feed kind.
// Each worker polls its assigned feeds, parses payloads and publishes
// fixed-size records to a shared ring, while a bounded command/feedback
// queue pair per worker allows live reconfiguration without locks.
package group

import (
	"sync"
	"sync/atomic"

	"github.com/RishiDarkDevil/binance-spot-controller/internal/obs"
)

// FeedGroup owns a parser, a ring publisher handle and a set of feeds for
// one feed kind. Run transitions it from idle to active; a group runs
// until stopped or process exit.
type FeedGroup struct {
	cfg     Config
	started atomic.Bool
}

// Name returns the group name.
func (g *FeedGroup) Name() string {
	return g.cfg.Name
}

// Metrics returns the group's counters.
func (g *FeedGroup) Metrics() *obs.Metrics {
	return g.cfg.Metrics
}

// WorkerStatus reports one worker slot from TryJoin.
type WorkerStatus struct {
	Index   int
	LcoreID int
	// Done is true once the worker has exited.
	Done bool
	// Err is the worker's terminal error, nil for a clean stop. Only
	// meaningful when Done.
	Err error
}

// Handle controls a running group: command routing, feedback polling and
// join semantics.
type Handle struct {
	lcores   []int
	workers  []*worker
	done     []chan struct{}
	errs     []error
	stop     chan struct{}
	stopOnce sync.Once

	mu          sync.Mutex
	assignments map[string]int
}

// Run spawns one pinned OS thread per configured lcore and distributes
// the group's feeds round-robin across them. It returns a handle for
// command routing and join; the group itself stays active until Stop or
// process exit.
func (g *FeedGroup) Run() (*Handle, error) {
	if !g.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	stop := make(chan struct{})
	h := &Handle{
		lcores:      append([]int(nil), g.cfg.LcoreIDs...),
		workers:     make([]*worker, len(g.cfg.LcoreIDs)),
		done:        make([]chan struct{}, len(g.cfg.LcoreIDs)),
		errs:        make([]error, len(g.cfg.LcoreIDs)),
		stop:        stop,
		assignments: make(map[string]int, len(g.cfg.Feeds)),
	}

	for i, lcore := range g.cfg.LcoreIDs {
		h.workers[i] = newWorker(i, lcore, &g.cfg, stop)
		h.done[i] = make(chan struct{})
	}

	// One feed per worker while they last, then round-robin.
	for i, f := range g.cfg.Feeds {
		idx := i % len(h.workers)
		h.workers[idx].feeds = append(h.workers[idx].feeds, f)
		h.assignments[f.Name()] = idx
	}

	for i := range h.workers {
		i := i
		go func() {
			h.errs[i] = h.workers[i].run()
			close(h.done[i])
		}()
	}
	return h, nil
}

// LcoreIDs returns the lcores the group's workers are pinned to.
func (h *Handle) LcoreIDs() []int {
	return append([]int(nil), h.lcores...)
}

// Workers returns the number of worker slots.
func (h *Handle) Workers() int {
	return len(h.workers)
}

// Assignment returns the worker index a feed was distributed to at Run.
// Feeds added later live on the worker their AddFeed command was sent to.
func (h *Handle) Assignment(feedName string) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx, ok := h.assignments[feedName]
	return idx, ok
}

// SendCommand enqueues a command on one worker's bounded inbox. It never
// blocks: a full queue returns ErrCommandQueueFull and the caller must
// drain feedback before retrying. Feed add/remove commands update the
// assignment table when accepted.
func (h *Handle) SendCommand(workerIndex int, cmd Command) error {
	if workerIndex < 0 || workerIndex >= len(h.workers) {
		return ErrBadWorker
	}
	if err := h.workers[workerIndex].commands.TryPush(cmd); err != nil {
		return err
	}
	switch cmd.Kind {
	case CommandAddFeed:
		h.mu.Lock()
		h.assignments[cmd.Feed.Name()] = workerIndex
		h.mu.Unlock()
	case CommandRemoveFeed:
		h.mu.Lock()
		delete(h.assignments, cmd.FeedName)
		h.mu.Unlock()
	}
	return nil
}

// PollFeedback drains currently available feedback from every worker
// without blocking. Feedback is FIFO per worker; interleaving across
// workers is unordered.
func (h *Handle) PollFeedback() []Feedback {
	var out []Feedback
	for _, w := range h.workers {
		for {
			fb, ok := w.feedback.TryPop()
			if !ok {
				break
			}
			out = append(out, fb)
		}
	}
	return out
}

// TryJoin reports worker states without blocking. Completed and panicked
// workers surface here while siblings keep running.
func (h *Handle) TryJoin() []WorkerStatus {
	out := make([]WorkerStatus, len(h.workers))
	for i, w := range h.workers {
		status := WorkerStatus{Index: i, LcoreID: w.lcore}
		select {
		case <-h.done[i]:
			status.Done = true
			status.Err = h.errs[i]
		default:
		}
		out[i] = status
	}
	return out
}

// Join blocks until every worker has exited and returns their terminal
// errors by slot.
func (h *Handle) Join() []error {
	for i := range h.done {
		<-h.done[i]
	}
	return append([]error(nil), h.errs...)
}

// Stop signals every worker to exit after its current iteration. Safe to
// call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}
