package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/otpad/otpad/internal/common"
	"github.com/otpad/otpad/internal/ot"
	"github.com/otpad/otpad/internal/store"
)

// ErrClosed is returned for submissions against a hub that has shut down.
var ErrClosed = errors.New("document hub closed")

// compactSlack is how many commits the hub keeps beyond the compaction
// floor, to absorb submissions that were in flight while it ran.
const compactSlack = 256

type submitRequest struct {
	ops     []ot.Operation
	baseRev int
	reply   chan submitResult
}

type submitResult struct {
	commit ot.Commit
	err    error
}

// Hub owns one open document's fan-in and fan-out. Its run loop is the
// document's serialization point: submissions are committed and broadcast
// by a single goroutine, so every session observes commits in revision
// order. The coordinator does the transform work, the broker mirrors the
// committed stream to external consumers, and the snapshot store receives
// the canonical state on a timer and at shutdown.
type Hub struct {
	coord  *Coordinator
	broker Broker
	snaps  store.SnapshotStore

	register   chan *session
	unregister chan *session
	submits    chan submitRequest
	stop       chan struct{}
	done       chan struct{}

	// run-loop state, untouched outside run()
	sessions  map[*session]int // last revision pushed to the session
	lastSaved int
	interval  time.Duration
}

func newHub(coord *Coordinator, broker Broker, snaps store.SnapshotStore, interval time.Duration) *Hub {
	_, rev := coord.Snapshot()
	return &Hub{
		coord:      coord,
		broker:     broker,
		snaps:      snaps,
		register:   make(chan *session),
		unregister: make(chan *session),
		submits:    make(chan submitRequest),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		sessions:   make(map[*session]int),
		lastSaved:  rev,
		interval:   interval,
	}
}

func (h *Hub) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case s := <-h.register:
			text, rev := h.coord.Snapshot()
			h.sessions[s] = rev
			s.push(common.Response{
				Type:     common.ResInit,
				DocID:    h.coord.DocID(),
				ClientID: s.clientID,
				Rev:      rev,
				Text:     text,
			})

		case s := <-h.unregister:
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				close(s.send)
			}
			if len(h.sessions) == 0 {
				h.persist()
			}

		case req := <-h.submits:
			cm, err := h.coord.Submit(req.ops, req.baseRev)
			req.reply <- submitResult{commit: cm, err: err}
			if err == nil {
				h.broadcast(cm)
			} else if errors.Is(err, ErrCorrupt) {
				h.failAll(err)
			}

		case <-ticker.C:
			h.persist()
			h.compact()

		case <-h.stop:
			h.persist()
			return
		}
	}
}

// Submit routes one submission through the hub's serialization loop and
// returns the committed form and its revision. The broadcast of the commit
// doubles as the author's acknowledgment.
func (h *Hub) Submit(ops []ot.Operation, baseRev int) (ot.Commit, error) {
	req := submitRequest{ops: ops, baseRev: baseRev, reply: make(chan submitResult, 1)}
	select {
	case h.submits <- req:
	case <-h.done:
		return ot.Commit{}, ErrClosed
	}
	select {
	case res := <-req.reply:
		return res.commit, res.err
	case <-h.done:
		select {
		case res := <-req.reply:
			return res.commit, res.err
		default:
			return ot.Commit{}, ErrClosed
		}
	}
}

// Stop persists a final snapshot and shuts the run loop down.
func (h *Hub) Stop() {
	select {
	case <-h.done:
	default:
		close(h.stop)
		<-h.done
	}
}

// broadcast fans one commit out to every session, in the order the run loop
// committed it, and mirrors it to the broker.
func (h *Hub) broadcast(cm ot.Commit) {
	if err := h.broker.Publish(context.Background(), h.coord.DocID(), cm); err != nil {
		log.Printf("doc %s: broker publish: %v", h.coord.DocID(), err)
	}

	res := common.Response{
		Type:   common.ResCommit,
		DocID:  h.coord.DocID(),
		Rev:    cm.Rev,
		Commit: &cm,
	}
	for s := range h.sessions {
		if s.push(res) {
			h.sessions[s] = cm.Rev
		} else {
			// Consumer too slow to keep up with the commit stream; it will
			// reconnect and resync from a snapshot.
			delete(h.sessions, s)
			close(s.send)
		}
	}
}

// failAll tells every session the document session is unrecoverable and
// must be rebuilt from a snapshot.
func (h *Hub) failAll(err error) {
	res := common.Response{
		Type:  common.ResError,
		DocID: h.coord.DocID(),
		Code:  common.CodeCorrupt,
		Msg:   err.Error(),
	}
	for s := range h.sessions {
		s.push(res)
	}
}

func (h *Hub) persist() {
	text, rev := h.coord.Snapshot()
	if rev == h.lastSaved {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.snaps.Save(ctx, store.Snapshot{DocID: h.coord.DocID(), Text: text, Rev: rev}); err != nil {
		log.Printf("doc %s: snapshot save: %v", h.coord.DocID(), err)
		return
	}
	h.lastSaved = rev
}

// compact discards history every connected session is provably past,
// keeping compactSlack commits of headroom and never discarding state that
// has not been durably persisted.
func (h *Hub) compact() {
	floor := h.lastSaved
	for _, rev := range h.sessions {
		if rev < floor {
			floor = rev
		}
	}
	h.coord.CompactBelow(floor - compactSlack)
}
