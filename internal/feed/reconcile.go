package feed

import (
	"errors"
	"fmt"
)

// ErrKindMismatch is returned when a target stream set belongs to a
// different feed kind than the feed being reconciled.
var ErrKindMismatch = errors.New("feed: target stream set kind does not match feed kind")

// FrameSendError reports a control frame that could not be serialized or
// sent. The reconciler never retries; recovery policy belongs to the
// caller.
type FrameSendError struct {
	Method string
	Err    error
}

func (e FrameSendError) Error() string {
	return fmt.Sprintf("feed: send %s frame: %v", e.Method, e.Err)
}

func (e FrameSendError) Unwrap() error {
	return e.Err
}

// Reconciler drives a feed's subscriptions toward a desired target set by
// sending the minimal subscribe/unsubscribe deltas. Control-plane only;
// never on the per-message hot path. Request IDs come from the generator
// owned by the feed being reconciled.
type Reconciler struct{}

// NewReconciler creates a reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Reconcile computes current−target and target−current and applies them.
// The unsubscribe frame goes first so the peak subscription count never
// exceeds max(len(current), len(target)). No frame is sent for an empty
// delta; a feed already at the target issues nothing at all.
//
// The feed's stream set is updated only after the corresponding frame was
// sent, so it always reflects exactly the frames on the wire.
func (r *Reconciler) Reconcile(f *Feed, target *StreamSet) error {
	if target.Kind() != f.Kind() {
		return ErrKindMismatch
	}

	toRemove := f.Streams().Diff(target)
	toAdd := target.Diff(f.Streams())

	if len(toRemove) > 0 {
		if err := r.send(f, NewUnsubscribe(topics(toRemove), nextID(f)), MethodUnsubscribe); err != nil {
			return err
		}
		for _, s := range toRemove {
			f.Streams().Remove(s.Name)
		}
	}

	if len(toAdd) > 0 {
		if err := r.send(f, NewSubscribe(topics(toAdd), nextID(f)), MethodSubscribe); err != nil {
			return err
		}
		for _, s := range toAdd {
			f.Streams().Insert(s.Name)
		}
	}

	return nil
}

func nextID(f *Feed) *RequestID {
	if f.ids == nil {
		return nil
	}
	id := f.ids.Next()
	return &id
}

func (r *Reconciler) send(f *Feed, req Request, method string) error {
	frame, err := req.Marshal()
	if err != nil {
		return FrameSendError{Method: method, Err: err}
	}
	if err := f.Send(frame); err != nil {
		return FrameSendError{Method: method, Err: err}
	}
	return nil
}

func topics(streams []Stream) []string {
	out := make([]string, len(streams))
	for i, s := range streams {
		out[i] = s.Topic()
	}
	return out
}
