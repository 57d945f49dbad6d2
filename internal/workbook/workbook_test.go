package workbook

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/segexport/internal/tabular"
)

var columns = []tabular.Column{
	{Name: "ID", Type: tabular.Integer},
	{Name: "Name", Type: tabular.Text},
	{Name: "Amount", Type: tabular.Float},
	{Name: "Active", Type: tabular.Bool},
	{Name: "Created", Type: tabular.Time},
}

func sample(n int) *tabular.Table {
	t := tabular.New(columns...)
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		t.MustAddRow(int64(i+1), "row", float64(i)+0.25, i%2 == 0, base.Add(time.Duration(i)*time.Hour))
	}
	return t
}

func TestToWorkbookBytes_RoundTrip(t *testing.T) {
	in := sample(25)

	data, err := ToWorkbookBytes(in, DefaultFormat)
	require.NoError(t, err)

	out, err := Decode(data, columns)
	require.NoError(t, err)
	require.Equal(t, in.Len(), out.Len())
	assert.Equal(t, in.Columns, out.Columns)

	for i := range in.Rows {
		assert.Equal(t, in.Rows[i][0], out.Rows[i][0], "row %d id", i)
		assert.Equal(t, in.Rows[i][1], out.Rows[i][1], "row %d name", i)
		assert.InDelta(t, in.Rows[i][2], out.Rows[i][2], 1e-9, "row %d amount", i)
		assert.Equal(t, in.Rows[i][3], out.Rows[i][3], "row %d active", i)
		assert.True(t, in.Rows[i][4].(time.Time).Equal(out.Rows[i][4].(time.Time)), "row %d created", i)
	}
}

func TestToWorkbookBytes_RoundTripExactValues(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)
	in := tabular.New(columns...)
	in.MustAddRow(int64(1), "  padded  ", 0.1, true, time.Date(2024, 3, 1, 9, 30, 0, 123456789, est))
	in.MustAddRow(int64(2), "   ", 1e-7, false, time.Date(2024, 3, 1, 9, 30, 0, 250000000, time.UTC))
	in.MustAddRow(int64(1<<53+1), "O'Brien & <Co>", -123456.789, true, time.Date(1999, 12, 31, 23, 59, 59, 999999000, time.UTC))

	data, err := ToWorkbookBytes(in, DefaultFormat)
	require.NoError(t, err)

	out, err := Decode(data, columns)
	require.NoError(t, err)
	require.Equal(t, in.Len(), out.Len())

	for i := range in.Rows {
		assert.Equal(t, in.Rows[i][0], out.Rows[i][0], "row %d id", i)
		assert.Equal(t, in.Rows[i][1], out.Rows[i][1], "row %d name", i)
		assert.Equal(t, in.Rows[i][2], out.Rows[i][2], "row %d amount", i)
		assert.Equal(t, in.Rows[i][3], out.Rows[i][3], "row %d active", i)

		want := in.Rows[i][4].(time.Time)
		got := out.Rows[i][4].(time.Time)
		assert.True(t, want.Equal(got), "row %d created: got %s, want %s", i, got, want)
		assert.Equal(t, time.UTC, got.Location(), "row %d created zone", i)
	}
}

func TestToWorkbookBytes_NonFiniteFloats(t *testing.T) {
	in := tabular.New(tabular.Column{Name: "x", Type: tabular.Float})
	in.MustAddRow(math.NaN())
	in.MustAddRow(math.Inf(1))
	in.MustAddRow(math.Inf(-1))

	data, err := ToWorkbookBytes(in, nil)
	require.NoError(t, err)

	out, err := Decode(data, in.Columns)
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())
	assert.True(t, math.IsNaN(out.Rows[0][0].(float64)))
	assert.True(t, math.IsInf(out.Rows[1][0].(float64), 1))
	assert.True(t, math.IsInf(out.Rows[2][0].(float64), -1))
}

func TestDecode_TimeFromExcelSerial(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "Created"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", 45352.5))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	out, err := Decode(buf.Bytes(), []tabular.Column{{Name: "Created", Type: tabular.Time}})
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.True(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Equal(out.Rows[0][0].(time.Time)))
}

func TestToWorkbookBytes_SheetLayout(t *testing.T) {
	data, err := ToWorkbookBytes(sample(2), nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(strings.NewReader(string(data)))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	header, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, header, 3)
	assert.Equal(t, []string{"ID", "Name", "Amount", "Active", "Created"}, header[0])
}

func TestToWorkbookBytes_NullCells(t *testing.T) {
	in := tabular.New(columns...)
	in.MustAddRow(int64(1), nil, nil, nil, nil)
	in.MustAddRow(nil, "b", 2.5, false, nil)

	data, err := ToWorkbookBytes(in, nil)
	require.NoError(t, err)

	out, err := Decode(data, columns)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, []any{int64(1), nil, nil, nil, nil}, out.Rows[0])
	assert.Equal(t, []any{nil, "b", 2.5, false, nil}, out.Rows[1])
}

func TestToWorkbookBytes_EmptyTable(t *testing.T) {
	data, err := ToWorkbookBytes(tabular.New(), nil)
	require.NoError(t, err)

	out, err := Decode(data, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.Empty(t, out.Columns)
}

func TestToWorkbookBytes_HeaderOnly(t *testing.T) {
	data, err := ToWorkbookBytes(tabular.New(columns...), DefaultFormat)
	require.NoError(t, err)

	out, err := Decode(data, columns)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
}

func TestToWorkbookBytes_FormatError(t *testing.T) {
	boom := errors.New("boom")
	_, err := ToWorkbookBytes(sample(1), func(*excelize.File, string) error { return boom })
	assert.ErrorIs(t, err, ErrEncoding)
	assert.ErrorIs(t, err, boom)
}

func TestDecode_HeaderMismatch(t *testing.T) {
	data, err := ToWorkbookBytes(sample(1), nil)
	require.NoError(t, err)

	_, err = Decode(data, columns[:2])
	assert.Error(t, err)

	renamed := append([]tabular.Column(nil), columns...)
	renamed[1].Name = "Title"
	_, err = Decode(data, renamed)
	assert.ErrorContains(t, err, "Title")
}

func TestDecode_NilColumnsReadsText(t *testing.T) {
	data, err := ToWorkbookBytes(sample(1), nil)
	require.NoError(t, err)

	out, err := Decode(data, nil)
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, tabular.Text, out.Columns[0].Type)
	assert.Equal(t, "1", out.Rows[0][0])
}

func TestDecode_NotAWorkbook(t *testing.T) {
	_, err := Decode([]byte("plain text"), nil)
	assert.Error(t, err)
}

func TestAutoFitColumns(t *testing.T) {
	in := tabular.New(tabular.Column{Name: "Description", Type: tabular.Text})
	in.MustAddRow(strings.Repeat("w", 30))
	in.MustAddRow(strings.Repeat("w", 200))

	data, err := ToWorkbookBytes(in, AutoFitColumns)
	require.NoError(t, err)

	f, err := excelize.OpenReader(strings.NewReader(string(data)))
	require.NoError(t, err)
	defer f.Close()

	width, err := f.GetColWidth(SheetName, "A")
	require.NoError(t, err)
	assert.Equal(t, float64(maxColumnWidth), width)
}

func TestChain_StopsAtFirstError(t *testing.T) {
	var calls []string
	step := func(name string, err error) FormatFunc {
		return func(*excelize.File, string) error {
			calls = append(calls, name)
			return err
		}
	}
	boom := errors.New("boom")

	err := Chain(step("a", nil), nil, step("b", boom), step("c", nil))(nil, SheetName)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, calls)
}
