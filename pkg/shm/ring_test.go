package shm

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRingName(t *testing.T) string {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("%s_%d_PS", strings.ToUpper(name), os.Getpid())
}

func mustCreate(t *testing.T, capacity uint64, recordSize uint32) *OwnedRing {
	t.Helper()
	ring, err := Create(testRingName(t), capacity, recordSize)
	require.NoError(t, err)
	t.Cleanup(func() {
		ring.Unlink()
		ring.Close()
	})
	return ring
}

// record builds a fixed-size record from a short label, zero-filled.
func record(size uint32, label string) []byte {
	buf := make([]byte, size)
	copy(buf, label)
	return buf
}

func TestCreateCapacityValidation(t *testing.T) {
	for _, capacity := range []uint64{1, 2, 4, 64, 65536} {
		ring, err := Create(fmt.Sprintf("%s_%d", testRingName(t), capacity), capacity, 64)
		require.NoErrorf(t, err, "capacity %d", capacity)
		ring.Unlink()
		ring.Close()
	}

	for _, capacity := range []uint64{0, 3, 1000, 65535} {
		_, err := Create(testRingName(t), capacity, 64)
		require.Errorf(t, err, "capacity %d", capacity)
		var capErr CapacityError
		require.ErrorAs(t, err, &capErr)
		assert.Equal(t, capacity, capErr.Capacity)
		assert.Contains(t, err.Error(), "power of 2")
	}
}

func TestLookupNotFound(t *testing.T) {
	_, err := Lookup(testRingName(t), 64, 512)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLookupShapeMismatch(t *testing.T) {
	name := testRingName(t)
	ring, err := Create(name, 64, 512)
	require.NoError(t, err)
	defer ring.Close()
	defer ring.Unlink()

	_, err = Lookup(name, 128, 512)
	var shapeErr ShapeMismatchError
	require.ErrorAs(t, err, &shapeErr)

	_, err = Lookup(name, 64, 256)
	require.ErrorAs(t, err, &shapeErr)
}

func TestPublishRecordSizeMismatch(t *testing.T) {
	ring := mustCreate(t, 4, 512)
	err := ring.Publish(make([]byte, 100))
	var sizeErr RecordSizeError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, uint32(512), sizeErr.Want)
	assert.Equal(t, 100, sizeErr.Got)
}

func TestPublishConsumeRoundTrip(t *testing.T) {
	ring := mustCreate(t, 64, 512)
	consumer := ring.AttachConsumer()

	want := record(512, "hello ring")
	require.NoError(t, ring.Publish(want))

	guard, status := consumer.ConsumeStart()
	require.Equal(t, StatusSuccess, status)
	require.True(t, bytes.Equal(want, guard.Bytes()))
	require.True(t, guard.TryCommit())

	_, status = consumer.ConsumeStart()
	assert.Equal(t, StatusEmpty, status)
}

func TestConsumerSeesOnlyFutureData(t *testing.T) {
	ring := mustCreate(t, 64, 64)
	require.NoError(t, ring.Publish(record(64, "backlog")))

	consumer := ring.AttachConsumer()
	_, status := consumer.ConsumeStart()
	require.Equal(t, StatusEmpty, status)

	require.NoError(t, ring.Publish(record(64, "fresh")))
	guard, status := consumer.ConsumeStart()
	require.Equal(t, StatusSuccess, status)
	assert.Equal(t, record(64, "fresh"), append([]byte(nil), guard.Bytes()...))
}

func TestExhaustion(t *testing.T) {
	ring := mustCreate(t, 4, 64)
	consumer := ring.AttachConsumer()

	labels := []string{"A", "B", "C", "D"}
	for _, label := range labels {
		require.NoError(t, ring.Publish(record(64, label)))
	}

	for _, label := range labels {
		guard, status := consumer.ConsumeStart()
		require.Equalf(t, StatusSuccess, status, "label %s", label)
		assert.Equal(t, record(64, label), append([]byte(nil), guard.Bytes()...))
		require.True(t, guard.TryCommit())
	}

	_, status := consumer.ConsumeStart()
	assert.Equal(t, StatusEmpty, status)
}

func TestLapping(t *testing.T) {
	ring := mustCreate(t, 4, 64)
	consumer := ring.AttachConsumer() // cursor expects "A" at seq 0

	for _, label := range []string{"A", "B", "C", "D", "E"} {
		require.NoError(t, ring.Publish(record(64, label)))
	}

	// Slot 0 now holds "E" (seq 4); the cursor still expects seq 0.
	guard, status := consumer.ConsumeStart()
	require.Equal(t, StatusSpedPast, status)
	assert.Equal(t, uint64(4), guard.Seq())
	assert.Equal(t, record(64, "E"), append([]byte(nil), guard.Bytes()...))

	// The loss is never silent: the same answer until it is accepted.
	_, status = consumer.ConsumeStart()
	require.Equal(t, StatusSpedPast, status)
	require.False(t, guard.TryCommit())

	require.True(t, guard.AcceptLoss())
	guard, status = consumer.ConsumeStart()
	require.Equal(t, StatusSuccess, status)
	assert.Equal(t, record(64, "E"), append([]byte(nil), guard.Bytes()...))
	require.True(t, guard.TryCommit())

	_, status = consumer.ConsumeStart()
	assert.Equal(t, StatusEmpty, status)
}

func TestInFlight(t *testing.T) {
	ring := mustCreate(t, 4, 64)
	consumer := ring.AttachConsumer()

	// Simulate a producer that claimed seq 0 but has not published the
	// slot marker yet.
	storeUint64(ring.data, offWriteSeq, 1)

	guard, status := consumer.ConsumeStart()
	require.Equal(t, StatusInFlight, status)
	require.False(t, guard.TryCommit())

	// Marker store completes the publish; the same cursor now succeeds.
	off := ring.slotOff(0)
	copy(ring.data[off+slotMarkerSize:], record(64, "late"))
	storeUint64(ring.data, int(off), 1)

	guard, status = consumer.ConsumeStart()
	require.Equal(t, StatusSuccess, status)
	assert.Equal(t, record(64, "late"), append([]byte(nil), guard.Bytes()...))
	require.True(t, guard.TryCommit())
}

func TestCommitConflictAfterOverwrite(t *testing.T) {
	ring := mustCreate(t, 4, 64)
	consumer := ring.AttachConsumer()

	require.NoError(t, ring.Publish(record(64, "A")))
	guard, status := consumer.ConsumeStart()
	require.Equal(t, StatusSuccess, status)

	// Producer laps the ring before the reader commits.
	for _, label := range []string{"B", "C", "D", "E"} {
		require.NoError(t, ring.Publish(record(64, label)))
	}

	require.False(t, guard.TryCommit())
	_, status = consumer.ConsumeStart()
	assert.Equal(t, StatusSpedPast, status)
}

func TestLookupRoundTripAcrossHandles(t *testing.T) {
	name := testRingName(t)
	owned, err := Create(name, 64, 512)
	require.NoError(t, err)
	defer owned.Close()
	defer owned.Unlink()

	attached, err := Lookup(name, 64, 512)
	require.NoError(t, err)
	defer attached.Close()

	consumer := attached.AttachConsumer()
	want := record(512, `{"u":400900217,"s":"BNBUSDT","b":"25.35190000"}`)
	require.NoError(t, owned.Publish(want))

	guard, status := consumer.ConsumeStart()
	require.Equal(t, StatusSuccess, status)
	require.True(t, bytes.Equal(want, guard.Bytes()))
	require.True(t, guard.TryCommit())
}

func TestAttachPublisherResumesSequence(t *testing.T) {
	name := testRingName(t)
	owned, err := Create(name, 64, 512)
	require.NoError(t, err)
	defer owned.Unlink()

	first := record(512, "first")
	require.NoError(t, owned.Publish(first))
	require.NoError(t, owned.Close())

	pub, err := AttachPublisher(name, 64, 512)
	require.NoError(t, err)
	defer pub.Close()
	require.Equal(t, uint64(1), pub.Seq())

	attached, err := Lookup(name, 64, 512)
	require.NoError(t, err)
	defer attached.Close()
	consumer := attached.AttachConsumer()

	// New consumers only see records published after they attached.
	second := record(512, "second")
	require.NoError(t, pub.Publish(second))

	guard, status := consumer.ConsumeStart()
	require.Equal(t, StatusSuccess, status)
	require.True(t, bytes.Equal(second, guard.Bytes()))
	require.True(t, guard.TryCommit())

	_, err = AttachPublisher(name, 32, 512)
	require.Error(t, err)
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusEmpty:    "Empty",
		StatusSuccess:  "Success",
		StatusInFlight: "InFlight",
		StatusSpedPast: "SpedPast",
		Status(99):     "Unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("status %d: got %q want %q", status, got, want)
		}
	}
}

func TestErrorsAreTyped(t *testing.T) {
	if !errors.As(error(CapacityError{Capacity: 1000}), new(CapacityError)) {
		t.Fatal("capacity error should be matchable with errors.As")
	}
	msg := CapacityError{Capacity: 1000}.Error()
	if !strings.Contains(msg, "power of 2") {
		t.Fatalf("capacity error should mention power of 2, got %q", msg)
	}
}
