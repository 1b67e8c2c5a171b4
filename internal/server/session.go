package server

import (
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/otpad/otpad/internal/common"
	"github.com/otpad/otpad/internal/ot"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// session is one websocket connection to one document. Reads are handled on
// the connection's goroutine; writes flow through the buffered send channel
// so the hub loop never blocks on a slow socket.
type session struct {
	hub      *Hub
	conn     *websocket.Conn
	clientID string
	send     chan common.Response
}

func newSession(hub *Hub, conn *websocket.Conn) *session {
	return &session{
		hub:      hub,
		conn:     conn,
		clientID: uuid.NewString(),
		send:     make(chan common.Response, sendBuffer),
	}
}

// push queues res without blocking. A false return means the buffer is
// full; the hub drops the session and lets it resync on reconnect.
func (s *session) push(res common.Response) bool {
	select {
	case s.send <- res:
		return true
	default:
		return false
	}
}

func (s *session) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var req common.Request
		if err := s.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("session %s: read: %v", s.clientID, err)
			}
			return
		}

		switch req.Type {
		case common.ReqOp:
			s.handleOp(req)
		case common.ReqResync:
			text, rev := s.hub.coord.Snapshot()
			s.push(common.Response{
				Type:  common.ResSnapshot,
				DocID: s.hub.coord.DocID(),
				Rev:   rev,
				Text:  text,
			})
		default:
			s.push(common.Response{
				Type: common.ResError,
				Code: common.CodeInvalid,
				Msg:  "unknown request type " + req.Type,
			})
		}
	}
}

func (s *session) handleOp(req common.Request) {
	if len(req.Ops) == 0 {
		s.push(common.Response{Type: common.ResError, Code: common.CodeInvalid, Msg: "missing ops"})
		return
	}

	// The session's assigned id is authoritative: the tie-break identity is
	// not something a client gets to choose per submission.
	ops := make([]ot.Operation, len(req.Ops))
	copy(ops, req.Ops)
	for i := range ops {
		ops[i].ClientID = s.clientID
	}

	if _, err := s.hub.Submit(ops, req.BaseRev); err != nil {
		s.push(common.Response{
			Type:  common.ResError,
			DocID: s.hub.coord.DocID(),
			Code:  errorCode(err),
			Msg:   err.Error(),
		})
	}
	// On success the hub broadcasts the commit to every session including
	// this one; that broadcast is the acknowledgment.
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case res, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteJSON(res); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// errorCode maps engine errors to wire error codes.
func errorCode(err error) string {
	var stale *StaleClientError
	switch {
	case errors.As(err, &stale):
		return common.CodeStale
	case errors.Is(err, ErrCorrupt), errors.Is(err, ErrClosed):
		return common.CodeCorrupt
	default:
		return common.CodeInvalid
	}
}
