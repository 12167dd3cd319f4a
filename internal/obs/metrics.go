// Package obs collects lightweight counters for the feed pipeline.
// Counters are plain atomics so the per-record hot path never allocates
// or locks.
package obs

import "sync/atomic"

// Metrics counts pipeline activity for one feed group or consumer.
type Metrics struct {
	recordsPublished uint64
	parseDrops       uint64
	publishErrors    uint64
	commandsApplied  uint64
	emptyPolls       uint64
	lossesAccepted   uint64
	commitRetries    uint64
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	RecordsPublished uint64
	ParseDrops       uint64
	PublishErrors    uint64
	CommandsApplied  uint64
	EmptyPolls       uint64
	LossesAccepted   uint64
	CommitRetries    uint64
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordPublished counts one record written to the ring.
func (m *Metrics) RecordPublished() {
	atomic.AddUint64(&m.recordsPublished, 1)
}

// ParseDropped counts one payload dropped by the parser.
func (m *Metrics) ParseDropped() {
	atomic.AddUint64(&m.parseDrops, 1)
}

// PublishErrored counts one record the ring rejected.
func (m *Metrics) PublishErrored() {
	atomic.AddUint64(&m.publishErrors, 1)
}

// CommandApplied counts one worker command processed.
func (m *Metrics) CommandApplied() {
	atomic.AddUint64(&m.commandsApplied, 1)
}

// EmptyPoll counts one consume attempt that found no data.
func (m *Metrics) EmptyPoll() {
	atomic.AddUint64(&m.emptyPolls, 1)
}

// LossAccepted counts one acknowledged producer lap on the consumer side.
func (m *Metrics) LossAccepted() {
	atomic.AddUint64(&m.lossesAccepted, 1)
}

// CommitRetried counts one consume commit that had to be retried.
func (m *Metrics) CommitRetried() {
	atomic.AddUint64(&m.commitRetries, 1)
}

// Snapshot captures the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		RecordsPublished: atomic.LoadUint64(&m.recordsPublished),
		ParseDrops:       atomic.LoadUint64(&m.parseDrops),
		PublishErrors:    atomic.LoadUint64(&m.publishErrors),
		CommandsApplied:  atomic.LoadUint64(&m.commandsApplied),
		EmptyPolls:       atomic.LoadUint64(&m.emptyPolls),
		LossesAccepted:   atomic.LoadUint64(&m.lossesAccepted),
		CommitRetries:    atomic.LoadUint64(&m.commitRetries),
	}
}
