package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyInsert(t *testing.T) {
	got, err := Operation{Kind: Insert, Pos: 5, Text: ", world"}.Apply("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", got)

	got, err = Operation{Kind: Insert, Pos: 0, Text: "ab"}.Apply("")
	require.NoError(t, err)
	assert.Equal(t, "ab", got)
}

func TestApplyDelete(t *testing.T) {
	got, err := Operation{Kind: Delete, Pos: 1, Len: 3}.Apply("abcde")
	require.NoError(t, err)
	assert.Equal(t, "ae", got)
}

func TestApplyUnicodePositions(t *testing.T) {
	// One rune, several bytes: offsets must count runes, not bytes.
	got, err := Operation{Kind: Insert, Pos: 2, Text: "x"}.Apply("日本語")
	require.NoError(t, err)
	assert.Equal(t, "日本x語", got)

	got, err = Operation{Kind: Delete, Pos: 1, Len: 1}.Apply("日本語")
	require.NoError(t, err)
	assert.Equal(t, "日語", got)
}

// TestApplyRejectsOutOfBounds pins the rejection-over-clamping policy: an
// edit past the end of the document is an error, never a truncated apply.
func TestApplyRejectsOutOfBounds(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
	}{
		{"insert past end", Operation{Kind: Insert, Pos: 6, Text: "x"}},
		{"delete past end", Operation{Kind: Delete, Pos: 3, Len: 5}},
		{"delete starting past end", Operation{Kind: Delete, Pos: 9, Len: 1}},
		{"negative insert position", Operation{Kind: Insert, Pos: -1, Text: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.op.Apply("abcde")
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Operation{Kind: Insert, Pos: 0, Text: "x"}.Validate())
	assert.NoError(t, Operation{Kind: Delete, Pos: 4, Len: 2}.Validate())

	bad := []Operation{
		{Kind: "retain", Pos: 0},
		{Kind: Insert, Pos: -2, Text: "x"},
		{Kind: Insert, Pos: 0},
		{Kind: Delete, Pos: 0, Len: 0},
		{Kind: Delete, Pos: 0, Len: -1},
	}
	for _, op := range bad {
		var verr *ValidationError
		assert.ErrorAs(t, op.Validate(), &verr, "%v", op)
	}
}

func TestApplyAllSequential(t *testing.T) {
	ops := []Operation{
		{Kind: Insert, Pos: 0, Text: "abc"},
		{Kind: Delete, Pos: 1, Len: 1},
		{Kind: Insert, Pos: 2, Text: "d"},
	}
	got, err := ApplyAll("", ops)
	require.NoError(t, err)
	assert.Equal(t, "acd", got)

	// A failure mid-sequence surfaces, leaving the caller's copy untouched.
	_, err = ApplyAll("ab", []Operation{{Kind: Delete, Pos: 0, Len: 9}})
	require.Error(t, err)
}
