package ledgersink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/meridian-benefits/claimflow/internal/model"
)

func readLedgerRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet[ledgerSheetName]
	require.True(t, ok)

	var rows [][]string
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			cells[i] = c.String()
		}
		rows = append(rows, cells)
	}
	return rows
}

func TestXLSXSink_AppendCreatesWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.xlsx")
	sink := NewXLSX(path)

	err := sink.AppendOrUpdate(context.Background(), model.LedgerRecord{
		JobID:     "job-1",
		State:     model.JobStateNew,
		Timestamp: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		Payload:   map[string]any{"source_ref": "inbox/a.eml"},
	})
	require.NoError(t, err)

	rows := readLedgerRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"job_id", "state", "timestamp", "payload"}, rows[0])
	assert.Equal(t, "job-1", rows[1][0])
	assert.Equal(t, "new", rows[1][1])
	assert.Equal(t, "2026-05-01T09:00:00Z", rows[1][2])
	assert.Contains(t, rows[1][3], "inbox/a.eml")
}

func TestXLSXSink_SameKeyUpdatesInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.xlsx")
	sink := NewXLSX(path)
	ctx := context.Background()

	rec := model.LedgerRecord{
		JobID:     "job-1",
		State:     model.JobStateSubmitting,
		Timestamp: time.Now().UTC(),
		Payload:   map[string]any{"attempts": 1},
	}
	require.NoError(t, sink.AppendOrUpdate(ctx, rec))

	rec.Payload = map[string]any{"attempts": 2}
	require.NoError(t, sink.AppendOrUpdate(ctx, rec))

	rows := readLedgerRows(t, path)
	require.Len(t, rows, 2)
	assert.Contains(t, rows[1][3], `"attempts":2`)
}

func TestXLSXSink_DistinctStatesGetDistinctRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.xlsx")
	sink := NewXLSX(path)
	ctx := context.Background()

	for _, state := range []model.JobState{model.JobStateNew, model.JobStateExtracted, model.JobStateRouted} {
		require.NoError(t, sink.AppendOrUpdate(ctx, model.LedgerRecord{
			JobID:     "job-1",
			State:     state,
			Timestamp: time.Now().UTC(),
		}))
	}

	rows := readLedgerRows(t, path)
	assert.Len(t, rows, 4)
}

func TestXLSXSink_ReopensExistingWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.xlsx")
	ctx := context.Background()

	first := NewXLSX(path)
	require.NoError(t, first.AppendOrUpdate(ctx, model.LedgerRecord{
		JobID: "job-1", State: model.JobStateNew, Timestamp: time.Now().UTC(),
	}))

	// A fresh sink instance must pick up rows written by the first one.
	second := NewXLSX(path)
	require.NoError(t, second.AppendOrUpdate(ctx, model.LedgerRecord{
		JobID: "job-2", State: model.JobStateNew, Timestamp: time.Now().UTC(),
	}))

	rows := readLedgerRows(t, path)
	assert.Len(t, rows, 3)
}
