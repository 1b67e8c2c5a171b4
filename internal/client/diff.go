package client

import "github.com/otpad/otpad/internal/ot"

type editKind byte

const (
	editKeep editKind = iota
	editInsert
	editDelete
)

type edit struct {
	kind editKind
	r    rune
}

// Diff computes a minimal edit script turning a into b, as insert and
// delete operations over runes. Each operation's position is expressed in
// the document as left by the operations before it, so the result applies
// sequentially with ot.ApplyAll. Adjacent single-rune edits are coalesced
// into one operation per run.
func Diff(a, b string) []ot.Operation {
	ar, br := []rune(a), []rune(b)
	m, n := len(ar), len(br)

	// Edit-distance table over suffixes: dp[i][j] is the cost of turning
	// ar[i:] into br[j:].
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for j := 0; j <= n; j++ {
		dp[m][j] = n - j
	}
	for i := m - 1; i >= 0; i-- {
		dp[i][n] = m - i
		for j := n - 1; j >= 0; j-- {
			dp[i][j] = min(dp[i+1][j], dp[i][j+1]) + 1
			if ar[i] == br[j] && dp[i+1][j+1] < dp[i][j] {
				dp[i][j] = dp[i+1][j+1]
			}
		}
	}

	// Walk the table front to back collecting the aligned script.
	var script []edit
	i, j := 0, 0
	for i < m || j < n {
		switch {
		case i < m && j < n && ar[i] == br[j] && dp[i][j] == dp[i+1][j+1]:
			script = append(script, edit{editKeep, ar[i]})
			i++
			j++
		case j < n && dp[i][j] == dp[i][j+1]+1:
			script = append(script, edit{editInsert, br[j]})
			j++
		default:
			script = append(script, edit{editDelete, ar[i]})
			i++
		}
	}

	return coalesce(script)
}

// coalesce folds runs of same-kind single-rune edits into operations with
// sequential positions.
func coalesce(script []edit) []ot.Operation {
	var ops []ot.Operation
	pos := 0
	for k := 0; k < len(script); {
		switch script[k].kind {
		case editKeep:
			pos++
			k++
		case editInsert:
			var text []rune
			for k < len(script) && script[k].kind == editInsert {
				text = append(text, script[k].r)
				k++
			}
			ops = append(ops, ot.Operation{Kind: ot.Insert, Pos: pos, Text: string(text)})
			pos += len(text)
		case editDelete:
			length := 0
			for k < len(script) && script[k].kind == editDelete {
				length++
				k++
			}
			ops = append(ops, ot.Operation{Kind: ot.Delete, Pos: pos, Len: length})
		}
	}
	return ops
}
