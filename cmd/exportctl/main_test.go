package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/segexport/internal/download"
	"github.com/JonMunkholm/segexport/internal/source"
	"github.com/JonMunkholm/segexport/internal/tabular"
	"github.com/JonMunkholm/segexport/internal/workbook"
)

func people(n int) *tabular.Table {
	t := tabular.New(
		tabular.Column{Name: "id", Type: tabular.Integer},
		tabular.Column{Name: "name", Type: tabular.Text},
	)
	for i := 1; i <= n; i++ {
		t.MustAddRow(i, "person")
	}
	return t
}

func smallSettings() download.Settings {
	return download.Settings{PageSize: 10, MinZipSegments: 50, SegmentsPerEntry: 2, EntryPrefix: "part"}
}

func TestExportAll_SingleWorkbook(t *testing.T) {
	result, err := exportAll(context.Background(), source.NewSlice(people(25)), smallSettings(), "people", false)
	require.NoError(t, err)

	assert.Equal(t, download.FormatXLSX, result.Format)
	assert.Equal(t, 3, result.Segments)
	assert.Equal(t, "people.xlsx", result.FileName)

	got, err := workbook.Decode(result.Data, nil)
	require.NoError(t, err)
	assert.Equal(t, 25, got.Len())
	assert.Equal(t, []string{"id", "name"}, got.ColumnNames())
}

func TestExportAll_ForcedZip(t *testing.T) {
	result, err := exportAll(context.Background(), source.NewSlice(people(25)), smallSettings(), "people", true)
	require.NoError(t, err)

	assert.Equal(t, download.FormatZip, result.Format)
	assert.Equal(t, 2, result.Entries)

	entries, err := workbook.ReadZip(result.Data)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	total := 0
	for _, e := range entries {
		tbl, err := workbook.Decode(e.Data, nil)
		require.NoError(t, err)
		total += tbl.Len()
	}
	assert.Equal(t, 25, total)
}

func TestExportAll_InvalidSettings(t *testing.T) {
	_, err := exportAll(context.Background(), source.NewSlice(people(1)), download.Settings{}, "x", false)
	assert.Error(t, err)
}

func TestInspect_Workbook(t *testing.T) {
	data, err := workbook.ToWorkbookBytes(people(5), nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, inspect(&out, "people.xlsx", data, 2))

	text := out.String()
	assert.Contains(t, text, "people.xlsx: 5 rows")
	assert.Contains(t, text, "id")
	assert.Contains(t, text, "person")
	assert.Contains(t, text, "... 3 more")
}

func TestInspect_Zip(t *testing.T) {
	data, err := workbook.ToZipBytes([]*tabular.Table{people(2), people(3)}, workbook.DefaultEntryName, nil)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, inspect(&out, "people.zip", data, 0))

	text := out.String()
	assert.Contains(t, text, "people.zip: 2 entries")
	assert.Contains(t, text, "part-001.xlsx: 2 rows")
	assert.Contains(t, text, "part-002.xlsx: 3 rows")
	assert.NotContains(t, text, "more")
}

func TestRunCommand_RequiresTable(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"run"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.ExecuteContext(context.Background())
	assert.ErrorIs(t, err, ErrNoTable)
}

func TestInspectCommand(t *testing.T) {
	data, err := workbook.ToWorkbookBytes(people(1), nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "one.xlsx")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetArgs([]string{"inspect", path})
	cmd.SetOut(&out)

	require.NoError(t, cmd.ExecuteContext(context.Background()))
	assert.True(t, strings.Contains(out.String(), "one.xlsx: 1 rows"), out.String())
}
