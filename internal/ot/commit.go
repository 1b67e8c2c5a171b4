package ot

// Commit is one committed revision: the server-transformed form of a single
// client operation, identified by the revision it produced. ClientID and Seq
// echo the originating operation so the author can match the commit against
// its pending queue; Ops may be empty when the transform annihilated the
// operation (the revision is still consumed).
type Commit struct {
	Rev      int         `json:"rev"`
	ClientID string      `json:"client_id"`
	Seq      int         `json:"seq"`
	Ops      []Operation `json:"ops"`
}
