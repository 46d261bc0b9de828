package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/research-orchestrator/internal/citations"
	"github.com/example/research-orchestrator/internal/orchestrator"
)

func sampleTurn(id string) *TurnRecord {
	return &TurnRecord{
		TurnID: id,
		Query:  "compare sqlite write-ahead logging to rollback journals",
		Plan:   "1. Read docs\n2. Compare",
		Answer: "WAL wins for concurrent readers [1].",
		Cycles: []orchestrator.Cycle{
			{
				Number:    0,
				Reasoning: "need primary sources",
				SubSteps: []orchestrator.SubStep{
					{Parallel: 0, Task: "find WAL docs", Tool: "research_agent", Answer: "WAL appends [1]."},
					{Parallel: 1, Task: "find journal docs", Tool: "research_agent", Answer: "Journals copy pages [2]."},
				},
			},
		},
		Citations: []citations.NumberedDocument{
			{Number: 1, Document: citations.Document{ID: "a", Title: "WAL", URL: "https://example.com/wal"}},
			{Number: 2, Document: citations.Document{ID: "b", Title: "Journal", URL: "https://example.com/journal"}},
		},
	}
}

func TestSQLiteSaveTurn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turns.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	require.NoError(t, s.SaveTurn(context.Background(), sampleTurn("turn-1")))

	var turns []turnRow
	require.NoError(t, s.db.Find(&turns).Error)
	require.Len(t, turns, 1)
	require.Equal(t, "turn-1", turns[0].TurnID)
	require.Contains(t, turns[0].CitationsJSON, "example.com/wal")

	var iters []iterationRow
	require.NoError(t, s.db.Find(&iters).Error)
	require.Len(t, iters, 1)
	require.Equal(t, "need primary sources", iters[0].Reasoning)

	var steps []subStepRow
	require.NoError(t, s.db.Where("turn_id = ?", "turn-1").Order("parallel").Find(&steps).Error)
	require.Len(t, steps, 2)
	require.Equal(t, "find WAL docs", steps[0].Task)
	require.Equal(t, 1, steps[1].Parallel)
}

func TestSQLiteDuplicateTurnID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "turns.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	require.NoError(t, s.SaveTurn(context.Background(), sampleTurn("turn-1")))
	require.Error(t, s.SaveTurn(context.Background(), sampleTurn("turn-1")))
}

func TestMemoryStore(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.SaveTurn(context.Background(), sampleTurn("turn-1")))
	require.NoError(t, m.SaveTurn(context.Background(), sampleTurn("turn-2")))

	turns := m.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, "turn-2", turns[1].TurnID)
}
