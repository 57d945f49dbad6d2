package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/segexport/internal/tabular"
)

// Querier is the subset of *pgxpool.Pool and pgx.Conn used for paging.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresTable pages a table or view ordered by a key column.
//
// The order key must be unique for pages to be deterministic; ties make
// LIMIT/OFFSET paging skip or repeat rows.
type PostgresTable struct {
	db    Querier
	query string
}

// NewPostgresTable builds a pager over table ordered by orderBy. With no
// columns every column is selected. Identifiers may be schema-qualified
// ("reporting.orders") and are quoted before use.
func NewPostgresTable(db Querier, table, orderBy string, columns ...string) (*PostgresTable, error) {
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("table name is required")
	}
	if strings.TrimSpace(orderBy) == "" {
		return nil, errors.New("order by column is required")
	}

	sel := "*"
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = pgx.Identifier{c}.Sanitize()
		}
		sel = strings.Join(quoted, ", ")
	}

	return &PostgresTable{
		db: db,
		query: fmt.Sprintf("SELECT %s FROM %s ORDER BY %s LIMIT $1 OFFSET $2",
			sel, qualified(table), pgx.Identifier{orderBy}.Sanitize()),
	}, nil
}

func qualified(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// SQL returns the paging statement.
func (p *PostgresTable) SQL() string {
	return p.query
}

// Query fetches one page. Columns come from the result description, so an
// empty page still carries the schema.
func (p *PostgresTable) Query(ctx context.Context, pageNumber, pageSize int) (*tabular.Table, error) {
	off, err := Offset(pageNumber, pageSize)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.Query(ctx, p.query, pageSize, off)
	if err != nil {
		return nil, fmt.Errorf("query page %d: %w", pageNumber, err)
	}
	defer rows.Close()

	columns := columnsFor(rows.FieldDescriptions())
	t := tabular.New(columns...)

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan page %d: %w", pageNumber, err)
		}
		row := make([]any, len(values))
		for i, v := range values {
			cell, err := convertValue(columns[i].Type, v)
			if err != nil {
				return nil, fmt.Errorf("page %d column %s: %w", pageNumber, columns[i].Name, err)
			}
			row[i] = cell
		}
		t.Rows = append(t.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read page %d: %w", pageNumber, err)
	}
	return t, nil
}

func columnsFor(fields []pgconn.FieldDescription) []tabular.Column {
	columns := make([]tabular.Column, len(fields))
	for i, f := range fields {
		columns[i] = tabular.Column{Name: f.Name, Type: columnType(f.DataTypeOID)}
	}
	return columns
}

// columnType maps a Postgres type OID to a column type. Anything without a
// natural spreadsheet representation is exported as text.
func columnType(oid uint32) tabular.ColumnType {
	switch oid {
	case pgtype.Int2OID, pgtype.Int4OID, pgtype.Int8OID:
		return tabular.Integer
	case pgtype.Float4OID, pgtype.Float8OID, pgtype.NumericOID:
		return tabular.Float
	case pgtype.BoolOID:
		return tabular.Bool
	case pgtype.DateOID, pgtype.TimestampOID, pgtype.TimestamptzOID:
		return tabular.Time
	default:
		return tabular.Text
	}
}

// convertValue turns a decoded pgx value into a cell of type ct.
func convertValue(ct tabular.ColumnType, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil

	case pgtype.Numeric:
		if !val.Valid {
			return nil, nil
		}
		f, err := val.Float64Value()
		if err != nil {
			return nil, err
		}
		if !f.Valid {
			return nil, nil
		}
		return f.Float64, nil

	case time.Time:
		if ct == tabular.Time {
			return val.UTC(), nil
		}

	case [16]byte:
		if ct == tabular.Text {
			return uuid.UUID(val).String(), nil
		}
	}

	if ct != tabular.Text {
		return tabular.Normalize(ct, v)
	}
	switch val := v.(type) {
	case string, []byte, fmt.Stringer:
		return tabular.Normalize(tabular.Text, val)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v), nil
	}
	return string(b), nil
}
