// Package server implements the authoritative side of the synchronization
// engine: the per-document revision coordinator, the websocket hub that
// serializes and rebroadcasts committed operations, and the HTTP surface
// around them.
package server

import (
	"errors"
	"fmt"
	"sync"

	"github.com/otpad/otpad/internal/ot"
)

// StaleClientError means a client's base revision predates the oldest
// retained history entry. The operation cannot be transformed safely; the
// client must resync from a fresh snapshot.
type StaleClientError struct {
	Base  int // client's base revision
	Floor int // oldest revision still transformable
}

func (e *StaleClientError) Error() string {
	return fmt.Sprintf("base revision %d predates retained history (floor %d), resync required", e.Base, e.Floor)
}

// ErrCorrupt means the transform hit a pair it could not resolve. The
// document's shared state can no longer be trusted; every client must
// resync from a snapshot and no further submissions are accepted.
var ErrCorrupt = errors.New("document state corrupt, session torn down")

// Coordinator is the single revision authority for one document. It
// exclusively owns the canonical (text, revision, history) triple; the
// transform-and-commit step is one critical section, so no two operations
// for the same document are ever reconciled against the same history
// snapshot. Different documents run independent coordinators.
type Coordinator struct {
	docID string

	mu      sync.Mutex
	text    string
	rev     int
	floor   int // revision of the oldest retained history entry minus one
	history []ot.Commit
	corrupt bool
}

// NewCoordinator seeds a coordinator with a snapshot, typically loaded from
// the snapshot store at document open.
func NewCoordinator(docID, text string, rev int) *Coordinator {
	return &Coordinator{docID: docID, text: text, rev: rev, floor: rev}
}

func (c *Coordinator) DocID() string { return c.docID }

// Snapshot returns the canonical text and revision, for new-client
// bootstrap and post-desync resync.
func (c *Coordinator) Snapshot() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, c.rev
}

// Revision returns the current canonical revision.
func (c *Coordinator) Revision() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rev
}

// Corrupt reports whether the session has been torn down by a transform
// defect.
func (c *Coordinator) Corrupt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.corrupt
}

// Submit reconciles one client submission, created against baseRev, with
// every commit the author has not seen, applies it to the canonical text,
// and appends it to the history log under a newly incremented revision. A
// submission is a non-empty operation sequence sharing one ClientID and
// Seq; it commits atomically as one revision. The returned commit is what
// gets broadcast, and doubles as the author's acknowledgment.
//
// Clients run at most one submission in flight: a base revision at or past
// the author's own latest commit is required, so the unseen history the
// submission is transformed against is foreign by construction. Reusing an
// older base (submitting again before the acknowledgment) is rejected;
// transforming an operation against the author's own commits would
// double-count edits the author already applied locally.
//
// Nothing is committed on error: a malformed or out-of-range submission is
// rejected whole, never clamped or partially applied.
func (c *Coordinator) Submit(ops []ot.Operation, baseRev int) (cm ot.Commit, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.corrupt {
		return ot.Commit{}, ErrCorrupt
	}
	if len(ops) == 0 {
		return ot.Commit{}, &ot.ValidationError{Reason: "empty submission"}
	}
	clientID, seq := ops[0].ClientID, ops[0].Seq
	for _, op := range ops {
		if verr := op.Validate(); verr != nil {
			return ot.Commit{}, verr
		}
		if op.ClientID != clientID {
			return ot.Commit{}, &ot.ValidationError{
				Reason: fmt.Sprintf("submission mixes client ids %q and %q", clientID, op.ClientID),
			}
		}
	}
	if baseRev > c.rev {
		return ot.Commit{}, &ot.ValidationError{
			Reason: fmt.Sprintf("base revision %d is ahead of document revision %d", baseRev, c.rev),
		}
	}
	if baseRev < c.floor {
		return ot.Commit{}, &StaleClientError{Base: baseRev, Floor: c.floor}
	}

	// An unresolvable transform pair panics. That is a logic defect, not a
	// client error: mark the document corrupt so every session is forced
	// back to a snapshot instead of continuing on diverged state.
	defer func() {
		if r := recover(); r != nil {
			cerr, ok := r.(*ot.ConflictError)
			if !ok {
				panic(r)
			}
			c.corrupt = true
			cm, err = ot.Commit{}, fmt.Errorf("%w: %v", ErrCorrupt, cerr)
		}
	}()

	merged := append([]ot.Operation(nil), ops...)
	for _, past := range c.history[baseRev-c.floor:] {
		if past.ClientID == clientID {
			return ot.Commit{}, &ot.ValidationError{
				Reason: fmt.Sprintf("base revision %d predates the client's own commit at revision %d; await the acknowledgment before submitting again", baseRev, past.Rev),
			}
		}
		merged, _ = ot.Transform(merged, past.Ops)
	}

	text, aerr := ot.ApplyAll(c.text, merged)
	if aerr != nil {
		return ot.Commit{}, aerr
	}

	c.rev++
	cm = ot.Commit{Rev: c.rev, ClientID: clientID, Seq: seq, Ops: merged}
	c.history = append(c.history, cm)
	c.text = text
	return cm, nil
}

// Since returns the commits after rev, oldest first, for a client catching
// up without a full snapshot. Returns a StaleClientError when rev predates
// retained history.
func (c *Coordinator) Since(rev int) ([]ot.Commit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rev < c.floor {
		return nil, &StaleClientError{Base: rev, Floor: c.floor}
	}
	if rev >= c.rev {
		return nil, nil
	}
	out := make([]ot.Commit, c.rev-rev)
	copy(out, c.history[rev-c.floor:])
	return out, nil
}

// CompactBelow discards history entries at or below rev. Callers must not
// pass a revision any connected client might still submit against; the hub
// derives the safe floor from its sessions before calling this.
func (c *Coordinator) CompactBelow(rev int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rev > c.rev {
		rev = c.rev
	}
	if rev <= c.floor {
		return
	}
	c.history = append([]ot.Commit(nil), c.history[rev-c.floor:]...)
	c.floor = rev
}

// Floor returns the oldest base revision Submit still accepts.
func (c *Coordinator) Floor() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.floor
}
