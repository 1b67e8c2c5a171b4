package ot

// Transform reconciles two concurrent operation sequences created against
// the same base document. It returns a2, the a sequence re-expressed to
// apply after b, and b2, the mirror, such that applying a then b2 yields the
// same document as applying b then a2. This is the convergence contract the
// rest of the engine hangs off.
//
// Results are sequences because reconciliation can split an operation: a
// delete whose range an insert landed inside becomes two deletes around the
// preserved insert. Operations annihilated by the other side (a delete whose
// range was already removed) are dropped from the result.
func Transform(a, b []Operation) (a2, b2 []Operation) {
	switch {
	case len(a) == 0 || len(b) == 0:
		return a, b
	case len(a) == 1 && len(b) == 1:
		return transformPair(a[0], b[0])
	case len(a) > 1:
		// a = head ++ tail, tail expressed after head. Reconcile head with
		// all of b, then tail with b-after-head.
		head, bMid := Transform(a[:1], b)
		tail, bOut := Transform(a[1:], bMid)
		return append(head, tail...), bOut
	default:
		aMid, head := Transform(a, b[:1])
		aOut, tail := Transform(aMid, b[1:])
		return aOut, append(head, tail...)
	}
}

// transformPair handles a single concurrent pair, dispatching exhaustively
// on the kind pair. An unknown pair panics with a ConflictError: it cannot
// be resolved by guessing, and the document session must fail loudly.
func transformPair(a, b Operation) (a2, b2 []Operation) {
	switch {
	case a.Kind == Insert && b.Kind == Insert:
		return transformInsertInsert(a, b)
	case a.Kind == Insert && b.Kind == Delete:
		return transformInsertDelete(a, b)
	case a.Kind == Delete && b.Kind == Insert:
		bp, ap := transformInsertDelete(b, a)
		return ap, bp
	case a.Kind == Delete && b.Kind == Delete:
		return transformDeleteDelete(a, b)
	default:
		panic(&ConflictError{A: a, B: b})
	}
}

func transformInsertInsert(a, b Operation) (a2, b2 []Operation) {
	if a.Pos < b.Pos || (a.Pos == b.Pos && firstWins(a, b)) {
		// a lands before b: a is untouched by b, b shifts past a's text.
		b.Pos += a.TextLen()
	} else {
		a.Pos += b.TextLen()
	}
	return single(a), single(b)
}

// transformInsertDelete reconciles insert a with delete b.
func transformInsertDelete(a, b Operation) (a2, b2 []Operation) {
	aLen := a.TextLen()
	switch {
	case a.Pos <= b.Pos:
		// Insert at or before the deleted range: the range shifts right.
		b.Pos += aLen
	case a.Pos >= b.Pos+b.Len:
		// Insert past the deleted range: the insert shifts left.
		a.Pos -= b.Len
	default:
		// Insert strictly inside the deleted range. The inserted text is
		// preserved, relocated to the range start; the delete splits into
		// the piece before the insert and the piece after it.
		left := b
		left.Len = a.Pos - b.Pos
		right := b
		right.Pos = b.Pos + aLen
		right.Len = b.Pos + b.Len - a.Pos
		a.Pos = b.Pos
		return single(a), []Operation{left, right}
	}
	return single(a), single(b)
}

func transformDeleteDelete(a, b Operation) (a2, b2 []Operation) {
	aEnd, bEnd := a.Pos+a.Len, b.Pos+b.Len
	switch {
	case aEnd <= b.Pos:
		b.Pos -= a.Len
	case bEnd <= a.Pos:
		a.Pos -= b.Len
	default:
		// Overlapping ranges: each side keeps only what the other has not
		// already removed, positioned at the start of the union. A range
		// fully contained in the other shrinks to nothing.
		pos := min(a.Pos, b.Pos)
		overlap := min(aEnd, bEnd) - max(a.Pos, b.Pos)
		a.Pos, a.Len = pos, a.Len-overlap
		b.Pos, b.Len = pos, b.Len-overlap
		return surviving(a), surviving(b)
	}
	return single(a), single(b)
}

// firstWins is the deterministic tie-break for equal-position inserts: the
// lower client id is treated as having occurred first, with the per-client
// sequence number as a secondary key. Every participant must order the pair
// identically or replicas silently diverge.
func firstWins(a, b Operation) bool {
	if a.ClientID != b.ClientID {
		return a.ClientID < b.ClientID
	}
	return a.Seq <= b.Seq
}

func single(op Operation) []Operation {
	return []Operation{op}
}

// surviving drops deletes the transform shrank to zero length.
func surviving(op Operation) []Operation {
	if op.Kind == Delete && op.Len == 0 {
		return nil
	}
	return []Operation{op}
}
