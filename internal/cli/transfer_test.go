package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/sheet"
	"github.com/roach88/gridsync/internal/store"
)

func exportWorkbook(t *testing.T, dbPath, fileID string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), fileID+".xlsx")
	out, err := execute(t, NewExportCommand(&RootOptions{Format: "text"}),
		"--db", dbPath, "--file", fileID, "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Exported "+fileID)
	return path
}

func TestExportWritesWorkbook(t *testing.T) {
	dbPath := seedLog(t, "budget", "Revenue", "42")
	path := filepath.Join(t.TempDir(), "budget.xlsx")

	out, err := execute(t, NewExportCommand(&RootOptions{Format: "json"}),
		"--db", dbPath, "--file", "budget", "--out", path)
	require.NoError(t, err)

	var response struct {
		Status string       `json:"status"`
		Data   ExportResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, int64(2), response.Data.Seq)
	assert.Equal(t, 1, response.Data.Sheets)
	assert.Equal(t, 2, response.Data.Cells)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestExportDatabaseNotFound(t *testing.T) {
	_, err := execute(t, NewExportCommand(&RootOptions{Format: "text"}),
		"--db", filepath.Join(t.TempDir(), "none.db"), "--file", "budget", "--out", "x.xlsx")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestImportSeedsNewFile(t *testing.T) {
	src := seedLog(t, "budget", "Revenue", "Costs")
	workbook := exportWorkbook(t, src, "budget")

	dbPath := filepath.Join(t.TempDir(), "copy.db")
	out, err := execute(t, NewImportCommand(&RootOptions{Format: "text"}),
		"--db", dbPath, "--file", "copy", "--in", workbook)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Imported 1 sheet(s) into copy at seq 1")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	rec, err := st.TransactionsSince(context.Background(), "copy", 0)
	require.NoError(t, err)
	require.Len(t, rec, 1)
	assert.Equal(t, ImportSessionID, rec[0].SessionID)

	res, err := st.Rebuild(context.Background(), "copy")
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	for y, want := range []string{"Revenue", "Costs"} {
		c := res.Registry.Cell(sheet.DefaultSheetID("copy"), grid.Pos{X: 0, Y: int64(y)})
		require.NotNil(t, c, "row %d", y)
		assert.Equal(t, want, c.Value)
	}
}

func TestImportRefusesExistingFile(t *testing.T) {
	dbPath := seedLog(t, "budget", "Revenue")
	workbook := exportWorkbook(t, dbPath, "budget")

	out, err := execute(t, NewImportCommand(&RootOptions{Format: "json"}),
		"--db", dbPath, "--file", "budget", "--in", workbook)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "already has 1 transaction(s)")

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	require.NotNil(t, response.Error)
	assert.Equal(t, CodeFileExists, response.Error.Code)
}

func TestImportRejectsNonWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("not a workbook"), 0644))

	_, err := execute(t, NewImportCommand(&RootOptions{Format: "text"}),
		"--db", filepath.Join(t.TempDir(), "grid.db"), "--file", "budget", "--in", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to read workbook")
}
