package source

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/segexport/internal/tabular"
)

func TestNewPostgresTable_SQL(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		orderBy string
		columns []string
		want    string
	}{
		{
			name:    "all columns",
			table:   "orders",
			orderBy: "id",
			want:    `SELECT * FROM "orders" ORDER BY "id" LIMIT $1 OFFSET $2`,
		},
		{
			name:    "schema qualified with columns",
			table:   "reporting.orders",
			orderBy: "order_id",
			columns: []string{"order_id", "total"},
			want:    `SELECT "order_id", "total" FROM "reporting"."orders" ORDER BY "order_id" LIMIT $1 OFFSET $2`,
		},
		{
			name:    "quotes are escaped",
			table:   `odd"name`,
			orderBy: "id",
			want:    `SELECT * FROM "odd""name" ORDER BY "id" LIMIT $1 OFFSET $2`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPostgresTable(nil, tt.table, tt.orderBy, tt.columns...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.SQL())
		})
	}
}

func TestNewPostgresTable_RequiresNames(t *testing.T) {
	_, err := NewPostgresTable(nil, "", "id")
	assert.Error(t, err)
	_, err = NewPostgresTable(nil, "orders", " ")
	assert.Error(t, err)
}

func TestPostgresTable_InvalidPageSkipsQuery(t *testing.T) {
	p, err := NewPostgresTable(nil, "orders", "id")
	require.NoError(t, err)

	// a nil Querier would panic if reached
	_, err = p.Query(context.Background(), 0, 10)
	assert.ErrorIs(t, err, ErrInvalidPage)
}

func TestColumnType(t *testing.T) {
	tests := []struct {
		oid  uint32
		want tabular.ColumnType
	}{
		{pgtype.Int2OID, tabular.Integer},
		{pgtype.Int4OID, tabular.Integer},
		{pgtype.Int8OID, tabular.Integer},
		{pgtype.Float4OID, tabular.Float},
		{pgtype.Float8OID, tabular.Float},
		{pgtype.NumericOID, tabular.Float},
		{pgtype.BoolOID, tabular.Bool},
		{pgtype.DateOID, tabular.Time},
		{pgtype.TimestampOID, tabular.Time},
		{pgtype.TimestamptzOID, tabular.Time},
		{pgtype.TextOID, tabular.Text},
		{pgtype.UUIDOID, tabular.Text},
		{pgtype.JSONBOID, tabular.Text},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, columnType(tt.oid), "oid %d", tt.oid)
	}
}

func TestConvertValue(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	local := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))

	var price pgtype.Numeric
	require.NoError(t, price.Scan("19.95"))

	tests := []struct {
		name string
		ct   tabular.ColumnType
		in   any
		want any
	}{
		{"null", tabular.Integer, nil, nil},
		{"int4", tabular.Integer, int32(7), int64(7)},
		{"float4", tabular.Float, float32(0.5), 0.5},
		{"numeric", tabular.Float, price, 19.95},
		{"null numeric", tabular.Float, pgtype.Numeric{}, nil},
		{"bool", tabular.Bool, true, true},
		{"timestamp in utc", tabular.Time, local, local.UTC()},
		{"text", tabular.Text, "hello", "hello"},
		{"uuid", tabular.Text, [16]byte(id), id.String()},
		{"json", tabular.Text, map[string]any{"a": 1.0}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertValue(tt.ct, tt.in)
			require.NoError(t, err)
			if f, ok := tt.want.(float64); ok {
				assert.InDelta(t, f, got, 1e-9)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvertValue_NonFiniteNumeric(t *testing.T) {
	got, err := convertValue(tabular.Float, pgtype.Numeric{NaN: true, Valid: true})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(got.(float64)))

	got, err = convertValue(tabular.Float, pgtype.Numeric{InfinityModifier: pgtype.Infinity, Valid: true})
	require.NoError(t, err)
	assert.True(t, math.IsInf(got.(float64), 1))

	got, err = convertValue(tabular.Float, math.Inf(-1))
	require.NoError(t, err)
	assert.True(t, math.IsInf(got.(float64), -1))
}

func TestConvertValue_TypeMismatch(t *testing.T) {
	_, err := convertValue(tabular.Time, "infinity")
	assert.Error(t, err)
}

// TestPostgresTable_Integration runs against a live database when
// TEST_DATABASE_URL is set.
func TestPostgresTable_Integration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	table := fmt.Sprintf("source_test_%d", time.Now().UnixNano())
	_, err = pool.Exec(ctx, fmt.Sprintf(`CREATE TABLE %s (
		id integer PRIMARY KEY,
		label text,
		amount numeric(10,2),
		active boolean,
		created_at timestamptz
	)`, table))
	require.NoError(t, err)
	t.Cleanup(func() { pool.Exec(context.Background(), "DROP TABLE "+table) })

	_, err = pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s
		SELECT g, 'row ' || g, g * 1.5, g %% 2 = 0, now()
		FROM generate_series(1, 25) g`, table))
	require.NoError(t, err)

	src, err := NewPostgresTable(pool, table, "id")
	require.NoError(t, err)

	page, err := src.Query(ctx, 3, 10)
	require.NoError(t, err)
	require.Equal(t, 5, page.Len())
	assert.Equal(t, []string{"id", "label", "amount", "active", "created_at"}, page.ColumnNames())
	assert.Equal(t, int64(21), page.Rows[0][0])
	assert.InDelta(t, 31.5, page.Rows[0][2], 1e-9)

	empty, err := src.Query(ctx, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Len(t, empty.Columns, 5)
}
