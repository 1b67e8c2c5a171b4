// Package ot implements the operational-transformation core: the operation
// model and the pairwise transform that keeps concurrent editors convergent.
package ot

import (
	"fmt"
	"unicode/utf8"
)

// Kind discriminates the operation variants. Retain exists only as the
// implicit "skip" outcome of a transform and is never transmitted.
type Kind string

const (
	Insert Kind = "insert"
	Delete Kind = "delete"
)

// Operation is an atomic edit against a specific document revision.
// Positions and lengths are in runes, as observed by the author at BaseRev.
type Operation struct {
	Kind Kind   `json:"kind"`
	Pos  int    `json:"pos"`
	Text string `json:"text,omitempty"` // insert payload
	Len  int    `json:"len,omitempty"`  // delete length

	ClientID string `json:"client_id"`
	BaseRev  int    `json:"base_rev"`
	Seq      int    `json:"seq"`
}

// TextLen returns the rune length of the insert payload.
func (o Operation) TextLen() int {
	return utf8.RuneCountInString(o.Text)
}

// Validate checks the shape of an operation independent of any document:
// known kind, non-negative position, non-empty payload. Bounds against the
// actual document are checked by Apply.
func (o Operation) Validate() error {
	if o.Kind != Insert && o.Kind != Delete {
		return &ValidationError{Reason: fmt.Sprintf("unknown operation kind %q", o.Kind)}
	}
	if o.Pos < 0 {
		return &ValidationError{Reason: fmt.Sprintf("negative position %d", o.Pos)}
	}
	if o.Kind == Insert && o.Text == "" {
		return &ValidationError{Reason: "insert with empty text"}
	}
	if o.Kind == Delete && o.Len <= 0 {
		return &ValidationError{Reason: fmt.Sprintf("delete with non-positive length %d", o.Len)}
	}
	return nil
}

// Apply applies o to doc. Out-of-range positions or lengths are rejected
// with a ValidationError, never clamped: a transform chain that produces an
// out-of-range operation indicates divergence, and silently truncating it
// would corrupt the document.
func (o Operation) Apply(doc string) (string, error) {
	runes := []rune(doc)
	switch o.Kind {
	case Insert:
		if o.Pos < 0 || o.Pos > len(runes) {
			return "", &ValidationError{Reason: fmt.Sprintf("insert at %d out of bounds (doc length %d)", o.Pos, len(runes))}
		}
		out := make([]rune, 0, len(runes)+o.TextLen())
		out = append(out, runes[:o.Pos]...)
		out = append(out, []rune(o.Text)...)
		out = append(out, runes[o.Pos:]...)
		return string(out), nil
	case Delete:
		if o.Pos < 0 || o.Len < 0 || o.Pos+o.Len > len(runes) {
			return "", &ValidationError{Reason: fmt.Sprintf("delete [%d,%d) out of bounds (doc length %d)", o.Pos, o.Pos+o.Len, len(runes))}
		}
		out := make([]rune, 0, len(runes)-o.Len)
		out = append(out, runes[:o.Pos]...)
		out = append(out, runes[o.Pos+o.Len:]...)
		return string(out), nil
	}
	return "", &ValidationError{Reason: fmt.Sprintf("unknown operation kind %q", o.Kind)}
}

// ApplyAll applies ops in order, each expressed in the coordinate space left
// by its predecessors.
func ApplyAll(doc string, ops []Operation) (string, error) {
	var err error
	for _, op := range ops {
		if doc, err = op.Apply(doc); err != nil {
			return "", err
		}
	}
	return doc, nil
}

func (o Operation) String() string {
	if o.Kind == Insert {
		return fmt.Sprintf("insert(%d,%q)", o.Pos, o.Text)
	}
	return fmt.Sprintf("delete(%d,%d)", o.Pos, o.Len)
}
