package tabular

// codec.go is the persisted form of a segment: a JSON envelope carrying the
// column schema and typed cells, compressed with zstd. JSON has no NaN or
// infinity, so non-finite floats travel as strings ("NaN", "+Inf", "-Inf").

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Encoders created with a nil writer are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

type wireColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type wireTable struct {
	Columns []wireColumn `json:"columns"`
	Rows    [][]any      `json:"rows"`
}

// Encode serializes t into its compressed persisted form.
func Encode(t *Table) ([]byte, error) {
	w := wireTable{
		Columns: make([]wireColumn, len(t.Columns)),
		Rows:    make([][]any, len(t.Rows)),
	}
	for i, c := range t.Columns {
		w.Columns[i] = wireColumn{Name: c.Name, Type: c.Type.String()}
	}
	for i, row := range t.Rows {
		out := make([]any, len(row))
		for j, cell := range row {
			out[j] = toWire(cell)
		}
		w.Rows[i] = out
	}

	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode segment: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// Decode is the inverse of Encode.
func Decode(data []byte) (*Table, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress segment: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var w wireTable
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode segment: %w", err)
	}

	t := &Table{Columns: make([]Column, len(w.Columns))}
	for i, c := range w.Columns {
		ct, err := ParseColumnType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("decode segment: column %q: %w", c.Name, err)
		}
		t.Columns[i] = Column{Name: c.Name, Type: ct}
	}

	t.Rows = make([][]any, len(w.Rows))
	for i, row := range w.Rows {
		if len(row) != len(t.Columns) {
			return nil, fmt.Errorf("decode segment: row %d has %d cells, want %d", i, len(row), len(t.Columns))
		}
		out := make([]any, len(row))
		for j, cell := range row {
			v, err := fromWire(t.Columns[j].Type, cell)
			if err != nil {
				return nil, fmt.Errorf("decode segment: row %d column %q: %w", i, t.Columns[j].Name, err)
			}
			out[j] = v
		}
		t.Rows[i] = out
	}

	return t, nil
}

func toWire(cell any) any {
	switch v := cell.(type) {
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return strconv.FormatFloat(v, 'g', -1, 64)
		}
	}
	return cell
}

func fromWire(ct ColumnType, cell any) (any, error) {
	if cell == nil {
		return nil, nil
	}

	switch ct {
	case Text:
		if s, ok := cell.(string); ok {
			return s, nil
		}
	case Integer:
		if n, ok := cell.(json.Number); ok {
			return n.Int64()
		}
	case Float:
		switch v := cell.(type) {
		case json.Number:
			return v.Float64()
		case string:
			if f, ok := parseNonFinite(v); ok {
				return f, nil
			}
			return nil, fmt.Errorf("invalid float %q", v)
		}
	case Bool:
		if b, ok := cell.(bool); ok {
			return b, nil
		}
	case Time:
		if s, ok := cell.(string); ok {
			return time.Parse(time.RFC3339Nano, s)
		}
	}

	return nil, fmt.Errorf("unexpected %T for %s", cell, ct)
}
