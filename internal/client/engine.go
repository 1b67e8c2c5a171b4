// Package client implements the client-side document engine: optimistic
// local application, a single in-flight submission with a compose buffer
// behind it, and reconciliation of the server's committed stream against
// both.
package client

import (
	"errors"
	"fmt"

	"github.com/otpad/otpad/internal/ot"
)

// State reflects the engine's position in the submission protocol.
type State string

const (
	Synced    State = "synced"    // nothing unacknowledged
	Waiting   State = "waiting"   // one submission in flight
	Buffering State = "buffering" // in flight, plus local edits composed behind it
)

// ErrDesync means a remote operation landed out of bounds after transform.
// The local shadow can no longer be trusted; the caller must fetch a fresh
// snapshot and call Resync rather than apply a partial edit.
var ErrDesync = errors.New("local document out of sync, resync required")

// ErrProtocol means the server's stream violated the engine's ordering
// assumptions (for example an acknowledgment with no matching in-flight
// submission). Recovery is the same: resync.
var ErrProtocol = errors.New("protocol violation in server stream")

// submission is a batch of operations committed under one sequence number.
// Its ops are re-expressed in place as remote commits arrive.
type submission struct {
	seq int
	ops []ot.Operation
}

// Engine owns one client's view of one document. At most one submission is
// in flight at a time; local edits made while waiting are composed into a
// buffer that is transmitted as the next submission when the
// acknowledgment arrives. The send callback is invoked with each batch the
// moment it becomes transmittable (nil is allowed, for callers that pull
// InflightOps themselves). The engine is driven by a single event stream
// and is not safe for concurrent use.
type Engine struct {
	clientID string
	text     string
	rev      int
	nextSeq  int
	inflight *submission
	buffer   *submission
	send     func([]ot.Operation)
}

func NewEngine(clientID, text string, rev int, send func([]ot.Operation)) *Engine {
	return &Engine{clientID: clientID, text: text, rev: rev, send: send}
}

func (e *Engine) ClientID() string { return e.clientID }
func (e *Engine) Text() string     { return e.text }
func (e *Engine) Revision() int    { return e.rev }

// PendingCount is an observability hook: unacknowledged submissions, 0-2.
func (e *Engine) PendingCount() int {
	n := 0
	if e.inflight != nil {
		n++
	}
	if e.buffer != nil {
		n++
	}
	return n
}

func (e *Engine) State() State {
	switch {
	case e.inflight == nil:
		return Synced
	case e.buffer == nil:
		return Waiting
	default:
		return Buffering
	}
}

// Insert applies a local insertion optimistically. It is transmitted
// immediately when nothing is in flight, otherwise buffered.
func (e *Engine) Insert(pos int, text string) (ot.Operation, error) {
	ops, err := e.applyLocal([]ot.Operation{{Kind: ot.Insert, Pos: pos, Text: text}})
	if err != nil {
		return ot.Operation{}, err
	}
	return ops[0], nil
}

// Delete applies a local deletion optimistically. It is transmitted
// immediately when nothing is in flight, otherwise buffered.
func (e *Engine) Delete(pos, length int) (ot.Operation, error) {
	ops, err := e.applyLocal([]ot.Operation{{Kind: ot.Delete, Pos: pos, Len: length}})
	if err != nil {
		return ot.Operation{}, err
	}
	return ops[0], nil
}

// EditTo diffs the current text against newText and applies the resulting
// operations locally as one batch. This is how raw editor input (a replaced
// textarea value) becomes an operation stream.
func (e *Engine) EditTo(newText string) ([]ot.Operation, error) {
	ops := Diff(e.text, newText)
	if len(ops) == 0 {
		return nil, nil
	}
	return e.applyLocal(ops)
}

// applyLocal validates and applies a batch to the local text, then routes
// it: straight into flight when synced, otherwise composed onto the buffer
// behind the in-flight submission.
func (e *Engine) applyLocal(batch []ot.Operation) ([]ot.Operation, error) {
	for i := range batch {
		batch[i].ClientID = e.clientID
		if err := batch[i].Validate(); err != nil {
			return nil, err
		}
	}
	text, err := ot.ApplyAll(e.text, batch)
	if err != nil {
		return nil, err
	}
	e.text = text

	switch {
	case e.inflight == nil:
		for i := range batch {
			batch[i].Seq = e.nextSeq
			batch[i].BaseRev = e.rev
		}
		e.inflight = &submission{seq: e.nextSeq, ops: batch}
		e.nextSeq++
		e.emit(batch)
	case e.buffer == nil:
		for i := range batch {
			batch[i].Seq = e.nextSeq
		}
		e.buffer = &submission{seq: e.nextSeq, ops: batch}
		e.nextSeq++
	default:
		for i := range batch {
			batch[i].Seq = e.buffer.seq
		}
		e.buffer.ops = append(e.buffer.ops, batch...)
	}
	return batch, nil
}

// ReceiveRemote folds one committed revision from the server into local
// state. A commit originated by this client acknowledges the in-flight
// submission: it is cleared, the revision advances with no text mutation
// (the edit was applied optimistically at creation), and the buffer, if
// any, is promoted into flight and transmitted against the new revision.
// Any other commit is transformed through the in-flight submission and the
// buffer in turn, each updated with its half, and the fully transformed
// remainder applied to local text.
func (e *Engine) ReceiveRemote(cm ot.Commit) error {
	if cm.ClientID == e.clientID {
		if e.inflight == nil {
			return fmt.Errorf("%w: acknowledgment for seq %d with nothing in flight", ErrProtocol, cm.Seq)
		}
		if e.inflight.seq != cm.Seq {
			return fmt.Errorf("%w: acknowledgment for seq %d, in-flight submission is seq %d", ErrProtocol, cm.Seq, e.inflight.seq)
		}
		e.inflight = nil
		e.rev = cm.Rev
		e.promote()
		return nil
	}

	incoming := cm.Ops
	if e.inflight != nil {
		e.inflight.ops, incoming = ot.Transform(e.inflight.ops, incoming)
	}
	if e.buffer != nil {
		e.buffer.ops, incoming = ot.Transform(e.buffer.ops, incoming)
	}

	text, err := ot.ApplyAll(e.text, incoming)
	if err != nil {
		return fmt.Errorf("%w: applying rev %d: %v", ErrDesync, cm.Rev, err)
	}
	e.text = text
	e.rev = cm.Rev
	return nil
}

// promote moves the buffer into flight and transmits it. A buffer whose
// every operation was annihilated by remote commits is dropped: it would
// change nothing and the server rejects empty submissions.
func (e *Engine) promote() {
	if e.buffer == nil {
		return
	}
	if len(e.buffer.ops) == 0 {
		e.buffer = nil
		return
	}
	for i := range e.buffer.ops {
		e.buffer.ops[i].BaseRev = e.rev
	}
	e.inflight, e.buffer = e.buffer, nil
	e.emit(e.inflight.ops)
}

func (e *Engine) emit(ops []ot.Operation) {
	if e.send != nil {
		e.send(ops)
	}
}

// Resync seeds the engine from a fresh snapshot and replays unacknowledged
// local operations on top of it, preserving the user's edits. A submission
// that no longer validates against the snapshot is discarded rather than
// clamped. The caller retransmits InflightOps after a resync; nothing is
// emitted here because the transport is being re-established.
func (e *Engine) Resync(text string, rev int) {
	e.text = text
	e.rev = rev

	replay := func(s *submission) *submission {
		if s == nil {
			return nil
		}
		for i := range s.ops {
			s.ops[i].BaseRev = rev
		}
		applied, err := ot.ApplyAll(e.text, s.ops)
		if err != nil {
			return nil
		}
		e.text = applied
		return s
	}
	e.inflight = replay(e.inflight)
	e.buffer = replay(e.buffer)
	if e.inflight == nil && e.buffer != nil {
		e.inflight, e.buffer = e.buffer, nil
	}
}

// InflightOps returns the in-flight submission in its current transformed
// form, for retransmission after a resync.
func (e *Engine) InflightOps() []ot.Operation {
	if e.inflight == nil {
		return nil
	}
	return e.inflight.ops
}

// PendingOps returns every unacknowledged operation, in-flight first, in
// current transformed form.
func (e *Engine) PendingOps() []ot.Operation {
	var out []ot.Operation
	if e.inflight != nil {
		out = append(out, e.inflight.ops...)
	}
	if e.buffer != nil {
		out = append(out, e.buffer.ops...)
	}
	return out
}
