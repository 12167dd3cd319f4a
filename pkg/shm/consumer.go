package shm

// Status classifies one consume attempt.
type Status uint8

const (
	// StatusEmpty means the cursor has caught up to the producer.
	StatusEmpty Status = iota
	// StatusSuccess means a fully published record was read at the cursor.
	StatusSuccess
	// StatusInFlight means the producer has claimed the cursor's slot but
	// not yet published its marker. Transient; retry the same cursor.
	StatusInFlight
	// StatusSpedPast means the producer lapped the consumer and overwrote
	// records it never read. The guard carries the newer slot content; the
	// consumer must call AcceptLoss to resynchronize.
	StatusSpedPast
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "Empty"
	case StatusSuccess:
		return "Success"
	case StatusInFlight:
		return "InFlight"
	case StatusSpedPast:
		return "SpedPast"
	default:
		return "Unknown"
	}
}

// Consumer reads a ring through a private cursor. Not safe for concurrent
// use; each reader owns its consumer.
type Consumer struct {
	r       *region
	cursor  uint64
	scratch []byte
}

func attachConsumer(r *region) *Consumer {
	return &Consumer{
		r:       r,
		cursor:  loadUint64(r.data, offWriteSeq),
		scratch: make([]byte, r.recordSize),
	}
}

// Cursor returns the next sequence the consumer expects.
func (c *Consumer) Cursor() uint64 {
	return c.cursor
}

// Guard is a transient handle bound to one consume attempt. It is valid
// only until the next ConsumeStart on the same consumer.
type Guard struct {
	c      *Consumer
	seq    uint64
	marker uint64
	status Status
}

// ConsumeStart attempts to read the record at the cursor position.
//
// The payload is copied into the consumer's scratch buffer before the guard
// is returned; TryCommit then revalidates the slot's sequence marker, so a
// committed read is guaranteed tear-free without ever blocking the writer.
func (c *Consumer) ConsumeStart() (Guard, Status) {
	off := c.r.slotOff(c.cursor)
	marker := loadUint64(c.r.data, int(off))

	switch {
	case marker == c.cursor+1:
		copy(c.scratch, c.r.data[off+slotMarkerSize:off+slotMarkerSize+uint64(c.r.recordSize)])
		return Guard{c: c, seq: c.cursor, marker: marker, status: StatusSuccess}, StatusSuccess

	case marker > c.cursor+1:
		// The slot now holds sequence marker-1: the producer wrapped at
		// least once past this cursor. Expose the newer content; the lost
		// range is acknowledged via AcceptLoss, never silently skipped.
		copy(c.scratch, c.r.data[off+slotMarkerSize:off+slotMarkerSize+uint64(c.r.recordSize)])
		return Guard{c: c, seq: marker - 1, marker: marker, status: StatusSpedPast}, StatusSpedPast

	default:
		// Marker is behind the cursor. If the producer already claimed this
		// sequence the payload store is in progress; otherwise nothing new.
		if loadUint64(c.r.data, offWriteSeq) > c.cursor {
			return Guard{c: c, seq: c.cursor, marker: marker, status: StatusInFlight}, StatusInFlight
		}
		return Guard{}, StatusEmpty
	}
}

// Bytes exposes the record read by ConsumeStart. The slice aliases the
// consumer's scratch buffer and is stable only until the next ConsumeStart.
func (g Guard) Bytes() []byte {
	if g.c == nil {
		return nil
	}
	return g.c.scratch
}

// Seq returns the actual sequence of the record behind the guard.
func (g Guard) Seq() uint64 {
	return g.seq
}

// TryCommit re-checks that the slot's marker is unchanged since
// ConsumeStart. If so the read was tear-free: the cursor advances and the
// commit succeeds. If the producer has since overwritten the slot the read
// must be discarded and retried. Only Success guards can commit.
func (g Guard) TryCommit() bool {
	if g.c == nil || g.status != StatusSuccess {
		return false
	}
	off := g.c.r.slotOff(g.seq)
	if loadUint64(g.c.r.data, int(off)) != g.marker {
		return false
	}
	// The marker only moves after a full overwrite, but the overwrite itself
	// starts at the claim. Reject the commit once the producer has claimed
	// the sequence that reuses this slot, so a committed read can never be
	// torn by an in-progress lap.
	if loadUint64(g.c.r.data, offWriteSeq) > g.seq+g.c.r.capacity {
		return false
	}
	g.c.cursor = g.seq + 1
	return true
}

// AcceptLoss acknowledges records lost to a lap and moves the cursor to the
// guard's actual sequence. The next ConsumeStart yields that record as a
// normal Success. Only SpedPast guards carry a loss to accept.
func (g Guard) AcceptLoss() bool {
	if g.c == nil || g.status != StatusSpedPast {
		return false
	}
	g.c.cursor = g.seq
	return true
}
