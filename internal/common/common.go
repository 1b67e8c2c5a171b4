// Package common holds the wire messages exchanged between the client and
// the synchronization server.
package common

import "github.com/otpad/otpad/internal/ot"

// Client-to-server request types.
const (
	ReqOp     = "op"     // submit an operation
	ReqResync = "resync" // request a fresh snapshot
)

// Server-to-client response types.
const (
	ResInit     = "init"     // assigned client id + initial snapshot
	ResCommit   = "commit"   // a committed revision, in global commit order
	ResSnapshot = "snapshot" // resync snapshot
	ResError    = "error"
)

// Error codes carried by ResError responses.
const (
	CodeInvalid = "invalid" // malformed operation, rejected
	CodeStale   = "stale"   // base revision predates retained history
	CodeCorrupt = "corrupt" // document session is gone, resync everyone
)

type Request struct {
	Type    string         `json:"type"`
	DocID   string         `json:"doc_id"`
	BaseRev int            `json:"base_rev"`
	Ops     []ot.Operation `json:"ops,omitempty"`
}

type Response struct {
	Type     string     `json:"type"`
	DocID    string     `json:"doc_id,omitempty"`
	ClientID string     `json:"client_id,omitempty"` // set on init
	Rev      int        `json:"rev,omitempty"`
	Text     string     `json:"text,omitempty"`
	Commit   *ot.Commit `json:"commit,omitempty"`
	Code     string     `json:"code,omitempty"`
	Msg      string     `json:"msg,omitempty"`
}
