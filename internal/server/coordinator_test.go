package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otpad/otpad/internal/ot"
)

func submitInsert(t *testing.T, c *Coordinator, clientID string, seq, baseRev, pos int, text string) ot.Commit {
	t.Helper()
	cm, err := c.Submit([]ot.Operation{{
		Kind: ot.Insert, Pos: pos, Text: text,
		ClientID: clientID, Seq: seq, BaseRev: baseRev,
	}}, baseRev)
	require.NoError(t, err)
	return cm
}

func TestSubmitSequential(t *testing.T) {
	c := NewCoordinator("doc", "", 0)

	cm := submitInsert(t, c, "x", 0, 0, 0, "hello")
	assert.Equal(t, 1, cm.Rev)

	cm = submitInsert(t, c, "x", 1, 1, 5, " world")
	assert.Equal(t, 2, cm.Rev)

	text, rev := c.Snapshot()
	assert.Equal(t, "hello world", text)
	assert.Equal(t, 2, rev)
}

func TestSubmitTransformsAgainstUnseenHistory(t *testing.T) {
	// "hello world" at rev 0. X deletes "world" at base 0; Y's insert of
	// "! " at position 0 commits first. X's delete must land at position 8
	// of "! hello world".
	c := NewCoordinator("doc", "hello world", 0)

	submitInsert(t, c, "y", 0, 0, 0, "! ")

	cm, err := c.Submit([]ot.Operation{{
		Kind: ot.Delete, Pos: 6, Len: 5,
		ClientID: "x", Seq: 0, BaseRev: 0,
	}}, 0)
	require.NoError(t, err)
	require.Len(t, cm.Ops, 1)
	assert.Equal(t, 8, cm.Ops[0].Pos)

	text, _ := c.Snapshot()
	assert.Equal(t, "! hello ", text)
}

func TestSubmitBatchCommitsAtomically(t *testing.T) {
	// A buffered client submission arrives as one operation sequence and
	// consumes a single revision.
	c := NewCoordinator("doc", "", 0)

	cm, err := c.Submit([]ot.Operation{
		{Kind: ot.Insert, Pos: 0, Text: "ab", ClientID: "x", Seq: 0},
		{Kind: ot.Insert, Pos: 2, Text: "cd", ClientID: "x", Seq: 0},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, cm.Rev)
	require.Len(t, cm.Ops, 2)

	text, rev := c.Snapshot()
	assert.Equal(t, "abcd", text)
	assert.Equal(t, 1, rev)
}

func TestSubmitRejectsStaleOwnBase(t *testing.T) {
	// A client may have only one submission in flight: a base revision
	// predating the client's own last commit is rejected, because the
	// submission cannot be transformed against the client's own history
	// without double-counting edits it already applied locally.
	c := NewCoordinator("doc", "", 0)

	submitInsert(t, c, "x", 0, 0, 0, "ab")

	_, err := c.Submit([]ot.Operation{{
		Kind: ot.Insert, Pos: 2, Text: "cd", ClientID: "x", Seq: 1, BaseRev: 0,
	}}, 0)
	var verr *ot.ValidationError
	require.ErrorAs(t, err, &verr)

	// Nothing was committed by the rejection.
	text, rev := c.Snapshot()
	assert.Equal(t, "ab", text)
	assert.Equal(t, 1, rev)

	// Resubmitting against the acknowledged revision succeeds.
	submitInsert(t, c, "x", 1, 1, 2, "cd")
	text, _ = c.Snapshot()
	assert.Equal(t, "abcd", text)
}

func TestSubmitValidation(t *testing.T) {
	c := NewCoordinator("doc", "abc", 0)
	var verr *ot.ValidationError

	// Boundary: a delete extending past the document is rejected whole.
	_, err := c.Submit([]ot.Operation{{Kind: ot.Delete, Pos: 1, Len: 9, ClientID: "x"}}, 0)
	require.ErrorAs(t, err, &verr)

	// Nothing was committed.
	text, rev := c.Snapshot()
	assert.Equal(t, "abc", text)
	assert.Equal(t, 0, rev)

	// Future base revision.
	_, err = c.Submit([]ot.Operation{{Kind: ot.Insert, Pos: 0, Text: "x", ClientID: "x"}}, 5)
	require.ErrorAs(t, err, &verr)

	// Unknown kind never reaches the transform.
	_, err = c.Submit([]ot.Operation{{Kind: "retain", Pos: 0, ClientID: "x"}}, 0)
	require.ErrorAs(t, err, &verr)

	// Empty submissions carry no operation to commit.
	_, err = c.Submit(nil, 0)
	require.ErrorAs(t, err, &verr)

	// A submission is one client's batch; mixed identities are rejected.
	_, err = c.Submit([]ot.Operation{
		{Kind: ot.Insert, Pos: 0, Text: "a", ClientID: "x"},
		{Kind: ot.Insert, Pos: 1, Text: "b", ClientID: "y"},
	}, 0)
	require.ErrorAs(t, err, &verr)
}

func TestStaleClientAfterCompaction(t *testing.T) {
	c := NewCoordinator("doc", "", 0)
	for i := 0; i < 10; i++ {
		submitInsert(t, c, "x", i, i, i, "a")
	}

	c.CompactBelow(5)
	assert.Equal(t, 5, c.Floor())

	_, err := c.Submit([]ot.Operation{{Kind: ot.Insert, Pos: 0, Text: "y", ClientID: "y"}}, 3)
	var stale *StaleClientError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, 3, stale.Base)
	assert.Equal(t, 5, stale.Floor)

	// A base at the floor is still fine.
	_, err = c.Submit([]ot.Operation{{Kind: ot.Insert, Pos: 0, Text: "y", ClientID: "y"}}, 5)
	require.NoError(t, err)
}

func TestCompactNeverPassesCurrentRevision(t *testing.T) {
	c := NewCoordinator("doc", "", 0)
	submitInsert(t, c, "x", 0, 0, 0, "a")

	c.CompactBelow(99)
	assert.Equal(t, 1, c.Floor())

	// Submitting at the current revision still works with empty history.
	_, err := c.Submit([]ot.Operation{{Kind: ot.Insert, Pos: 1, Text: "b", ClientID: "y"}}, 1)
	require.NoError(t, err)
}

func TestSince(t *testing.T) {
	c := NewCoordinator("doc", "", 0)
	for i := 0; i < 5; i++ {
		submitInsert(t, c, "x", i, i, i, "a")
	}

	cms, err := c.Since(2)
	require.NoError(t, err)
	require.Len(t, cms, 3)
	assert.Equal(t, 3, cms[0].Rev)
	assert.Equal(t, 5, cms[2].Rev)

	cms, err = c.Since(5)
	require.NoError(t, err)
	assert.Empty(t, cms)

	c.CompactBelow(4)
	_, err = c.Since(2)
	var stale *StaleClientError
	require.ErrorAs(t, err, &stale)
}

// TestOrderPreservationPerClient: one client's submissions, each based on
// its own previous commit, are committed in submission order regardless of
// interleaved foreign commits.
func TestOrderPreservationPerClient(t *testing.T) {
	c := NewCoordinator("doc", "", 0)

	cmX := submitInsert(t, c, "x", 0, 0, 0, "a")
	submitInsert(t, c, "y", 0, 0, 0, "Q")
	cmX = submitInsert(t, c, "x", 1, cmX.Rev, 1, "b")
	submitInsert(t, c, "y", 1, 2, 0, "R")
	submitInsert(t, c, "x", 2, cmX.Rev, 2, "c")

	cms, err := c.Since(0)
	require.NoError(t, err)

	var xSeqs []int
	for _, cm := range cms {
		if cm.ClientID == "x" {
			xSeqs = append(xSeqs, cm.Seq)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, xSeqs)
}

// TestParallelDocumentsIndependent drives many goroutines against separate
// coordinators to check documents need no cross-document coordination.
func TestParallelDocumentsIndependent(t *testing.T) {
	const docs = 8
	const opsPerDoc = 50

	var wg sync.WaitGroup
	coords := make([]*Coordinator, docs)
	for i := range coords {
		coords[i] = NewCoordinator(fmt.Sprintf("doc-%d", i), "", 0)
	}

	for i, c := range coords {
		wg.Add(1)
		go func(i int, c *Coordinator) {
			defer wg.Done()
			for j := 0; j < opsPerDoc; j++ {
				_, err := c.Submit([]ot.Operation{{
					Kind: ot.Insert, Pos: j, Text: "a",
					ClientID: "x", Seq: j, BaseRev: j,
				}}, j)
				assert.NoError(t, err)
			}
		}(i, c)
	}
	wg.Wait()

	for _, c := range coords {
		_, rev := c.Snapshot()
		assert.Equal(t, opsPerDoc, rev)
	}
}

// TestConcurrentSubmitSameDocument hammers one coordinator from several
// goroutines; the per-document critical section must keep the revision
// sequence dense and the text consistent with the commit count.
func TestConcurrentSubmitSameDocument(t *testing.T) {
	c := NewCoordinator("doc", "", 0)

	const workers = 4
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				// A fresh client id per submission keeps every base 0
				// submission legal while revision races are in play.
				client := fmt.Sprintf("client-%d-%d", w, j)
				_, err := c.Submit([]ot.Operation{{
					Kind: ot.Insert, Pos: 0, Text: "a",
					ClientID: client, Seq: 0, BaseRev: 0,
				}}, 0)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	text, rev := c.Snapshot()
	assert.Equal(t, workers*perWorker, rev)
	assert.Len(t, text, workers*perWorker)
}
