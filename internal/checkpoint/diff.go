package checkpoint

import (
	"github.com/manpreetbhatti/scribble/internal/db"
	"github.com/manpreetbhatti/scribble/internal/history"
)

// One stroke in a checkpoint diff
type DiffEntry struct {
	Type     string `json:"type"` // "added", "removed", "unchanged"
	StrokeID string `json:"stroke_id"`
	Sequence uint64 `json:"sequence"`
	OldIndex int    `json:"old_index,omitempty"`
	NewIndex int    `json:"new_index,omitempty"`
}

// Diff compares the stroke lists of two checkpoints. Indexes are 1-based.
func Diff(from, to *db.Checkpoint) ([]DiffEntry, error) {
	oldStrokes, err := Decode(from.Content)
	if err != nil {
		return nil, err
	}
	newStrokes, err := Decode(to.Content)
	if err != nil {
		return nil, err
	}
	return diffStrokes(oldStrokes, newStrokes), nil
}

func diffStrokes(oldStrokes, newStrokes []history.Stroke) []DiffEntry {
	lcs := lcsMatrix(oldStrokes, newStrokes)
	return backtrackDiff(oldStrokes, newStrokes, lcs)
}

func lcsMatrix(a, b []history.Stroke) [][]int {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if a[i-1].ID == b[j-1].ID {
				dp[i][j] = dp[i-1][j-1] + 1
			} else {
				dp[i][j] = max(dp[i-1][j], dp[i][j-1])
			}
		}
	}
	return dp
}

func backtrackDiff(oldStrokes, newStrokes []history.Stroke, lcs [][]int) []DiffEntry {
	i, j := len(oldStrokes), len(newStrokes)

	var stack []DiffEntry
	for i > 0 || j > 0 {
		if i > 0 && j > 0 && oldStrokes[i-1].ID == newStrokes[j-1].ID {
			stack = append(stack, DiffEntry{
				Type:     "unchanged",
				StrokeID: oldStrokes[i-1].ID,
				Sequence: oldStrokes[i-1].Sequence,
				OldIndex: i,
				NewIndex: j,
			})
			i--
			j--
		} else if j > 0 && (i == 0 || lcs[i][j-1] >= lcs[i-1][j]) {
			stack = append(stack, DiffEntry{
				Type:     "added",
				StrokeID: newStrokes[j-1].ID,
				Sequence: newStrokes[j-1].Sequence,
				NewIndex: j,
			})
			j--
		} else {
			stack = append(stack, DiffEntry{
				Type:     "removed",
				StrokeID: oldStrokes[i-1].ID,
				Sequence: oldStrokes[i-1].Sequence,
				OldIndex: i,
			})
			i--
		}
	}

	result := make([]DiffEntry, 0, len(stack))
	for k := len(stack) - 1; k >= 0; k-- {
		result = append(result, stack[k])
	}
	return result
}
