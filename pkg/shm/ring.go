// Package shm provides a lock-free shared-memory pub/sub ring for fixed-size
// records. One process owns and allocates a named ring; any number of other
// processes attach by name and consume independently. The producer never
// blocks on consumers; slow consumers get lapped and must acknowledge the
// loss explicitly.
package shm

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

var (
	// ErrNotFound is returned by Lookup when no ring of that name exists.
	ErrNotFound = errors.New("shm: ring not found")
	// ErrNilRing is returned when a nil ring receiver is used.
	ErrNilRing = errors.New("shm: nil ring")
)

// CapacityError reports a ring capacity that is not a power of 2.
type CapacityError struct {
	Capacity uint64
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("shm: ring capacity %d must be a power of 2", e.Capacity)
}

// RecordSizeError reports a publish with the wrong record length.
type RecordSizeError struct {
	Want uint32
	Got  int
}

func (e RecordSizeError) Error() string {
	return fmt.Sprintf("shm: record length %d does not match ring record size %d", e.Got, e.Want)
}

// ShapeMismatchError reports a lookup whose expected shape does not match
// the region found under the ring name.
type ShapeMismatchError struct {
	Name  string
	Field string
	Want  uint64
	Got   uint64
}

func (e ShapeMismatchError) Error() string {
	return fmt.Sprintf("shm: ring %q %s mismatch: want %d, got %d", e.Name, e.Field, e.Want, e.Got)
}

const (
	ringMagic   uint64 = 0x5350535f4c544324 // region tag, bumped on layout changes
	ringVersion uint64 = 1

	// Header occupies two cache lines: metadata on the first, the global
	// write sequence alone on the second so producer claims never false-share
	// with consumer metadata reads.
	headerSize = 128

	offMagic      = 0
	offVersion    = 8
	offCapacity   = 16
	offRecordSize = 24
	offWriteSeq   = 64

	slotMarkerSize = 8
	cacheLine      = 64
)

// region is the mapped view shared by owned and attached handles.
type region struct {
	name       string
	data       []byte
	capacity   uint64
	mask       uint64
	recordSize uint32
	stride     uint64
}

// slotStride returns the byte stride of one slot: an 8-byte sequence marker
// plus the payload, rounded up to a cache line.
func slotStride(recordSize uint32) uint64 {
	raw := uint64(slotMarkerSize) + uint64(recordSize)
	return (raw + cacheLine - 1) &^ (cacheLine - 1)
}

func regionSize(capacity uint64, recordSize uint32) int {
	return headerSize + int(capacity*slotStride(recordSize))
}

func ringPath(name string) string {
	return "/dev/shm/" + name
}

func isPowerOfTwo(v uint64) bool {
	return v != 0 && v&(v-1) == 0
}

// slotOff returns the byte offset of the slot holding sequence seq.
func (r *region) slotOff(seq uint64) uint64 {
	return headerSize + (seq&r.mask)*r.stride
}

// OwnedRing is the producer handle. Exactly one per ring name, created by
// the owning process. Publish is single-writer only.
type OwnedRing struct {
	region
	file *os.File
}

// Create allocates a named ring in shared memory. capacity must be a power
// of 2. Any stale region under the same name is truncated: a producer
// restart invalidates the previous contract and consumers must re-attach.
func Create(name string, capacity uint64, recordSize uint32) (*OwnedRing, error) {
	if !isPowerOfTwo(capacity) {
		return nil, CapacityError{Capacity: capacity}
	}
	if recordSize == 0 {
		return nil, RecordSizeError{Want: 1, Got: 0}
	}

	f, err := os.OpenFile(ringPath(name), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shm: create ring %q: %w", name, err)
	}

	size := regionSize(capacity, recordSize)
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: size ring %q: %w", name, err)
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: map ring %q: %w", name, err)
	}

	r := &OwnedRing{
		region: region{
			name:       name,
			data:       data,
			capacity:   capacity,
			mask:       capacity - 1,
			recordSize: recordSize,
			stride:     slotStride(recordSize),
		},
		file: f,
	}

	storeUint64(data, offVersion, ringVersion)
	storeUint64(data, offCapacity, capacity)
	storeUint64(data, offRecordSize, uint64(recordSize))
	storeUint64(data, offWriteSeq, 0)
	// Magic goes last so attachers never observe a half-written header.
	storeUint64(data, offMagic, ringMagic)
	return r, nil
}

// Publish writes one record into the next slot. It never blocks and never
// fails on consumer lag: a full wrap overwrites the oldest slot. The slot's
// sequence marker is stored only after the payload, so a reader observing
// the new marker value is guaranteed to see the full payload.
func (r *OwnedRing) Publish(record []byte) error {
	if r == nil {
		return ErrNilRing
	}
	if len(record) != int(r.recordSize) {
		return RecordSizeError{Want: r.recordSize, Got: len(record)}
	}

	seq := loadUint64(r.data, offWriteSeq)
	// Claim before writing so attached consumers can tell "in flight" from
	// "empty" while the payload store is still in progress.
	storeUint64(r.data, offWriteSeq, seq+1)

	off := r.slotOff(seq)
	copy(r.data[off+slotMarkerSize:off+slotMarkerSize+uint64(r.recordSize)], record)

	// Marker is 1-based: zero means the slot was never written.
	storeUint64(r.data, int(off), seq+1)
	return nil
}

// Seq returns the next sequence the producer will write.
func (r *OwnedRing) Seq() uint64 {
	return loadUint64(r.data, offWriteSeq)
}

// AttachConsumer creates an in-process consumer, mostly for tooling and
// tests. The cursor starts at the current producer sequence.
func (r *OwnedRing) AttachConsumer() *Consumer {
	return attachConsumer(&r.region)
}

// Close unmaps the region. The backing file stays so attached consumers are
// not invalidated mid-read; use Unlink to remove it.
func (r *OwnedRing) Close() error {
	if r == nil {
		return ErrNilRing
	}
	if err := syscall.Munmap(r.data); err != nil {
		return err
	}
	return r.file.Close()
}

// Unlink removes the backing file from /dev/shm.
func (r *OwnedRing) Unlink() error {
	if r == nil {
		return ErrNilRing
	}
	return os.Remove(ringPath(r.name))
}

// AttachedRing is a consumer-side handle created by Lookup in a secondary
// process. It cannot publish.
type AttachedRing struct {
	region
	file *os.File
}

// Lookup attaches to an existing ring by name and validates its shape.
// It fails with ErrNotFound when no ring exists under the name, and with a
// ShapeMismatchError when the region does not carry the expected capacity
// and record size. Both are fatal conditions at startup.
func Lookup(name string, capacity uint64, recordSize uint32) (*AttachedRing, error) {
	if !isPowerOfTwo(capacity) {
		return nil, CapacityError{Capacity: capacity}
	}

	f, err := os.OpenFile(ringPath(name), os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("shm: ring %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("shm: open ring %q: %w", name, err)
	}

	size := regionSize(capacity, recordSize)
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: stat ring %q: %w", name, err)
	}
	if info.Size() != int64(size) {
		f.Close()
		return nil, ShapeMismatchError{Name: name, Field: "size", Want: uint64(size), Got: uint64(info.Size())}
	}

	data, err := syscall.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shm: map ring %q: %w", name, err)
	}

	if got := loadUint64(data, offMagic); got != ringMagic {
		syscall.Munmap(data)
		f.Close()
		return nil, ShapeMismatchError{Name: name, Field: "magic", Want: ringMagic, Got: got}
	}
	if got := loadUint64(data, offCapacity); got != capacity {
		syscall.Munmap(data)
		f.Close()
		return nil, ShapeMismatchError{Name: name, Field: "capacity", Want: capacity, Got: got}
	}
	if got := loadUint64(data, offRecordSize); got != uint64(recordSize) {
		syscall.Munmap(data)
		f.Close()
		return nil, ShapeMismatchError{Name: name, Field: "record size", Want: uint64(recordSize), Got: got}
	}

	return &AttachedRing{
		region: region{
			name:       name,
			data:       data,
			capacity:   capacity,
			mask:       capacity - 1,
			recordSize: recordSize,
			stride:     slotStride(recordSize),
		},
		file: f,
	}, nil
}

// AttachPublisher maps an existing ring for publishing, resuming at the
// region's current write sequence. The single-writer rule still holds: the
// creating process must not publish concurrently.
func AttachPublisher(name string, capacity uint64, recordSize uint32) (*OwnedRing, error) {
	attached, err := Lookup(name, capacity, recordSize)
	if err != nil {
		return nil, err
	}
	return &OwnedRing{region: attached.region, file: attached.file}, nil
}

// AttachConsumer creates a consumer with a private cursor initialized to
// the current producer sequence. New attachments see only future records.
func (r *AttachedRing) AttachConsumer() *Consumer {
	return attachConsumer(&r.region)
}

// Close unmaps the region.
func (r *AttachedRing) Close() error {
	if r == nil {
		return ErrNilRing
	}
	if err := syscall.Munmap(r.data); err != nil {
		return err
	}
	return r.file.Close()
}
