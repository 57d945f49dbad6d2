package tabular

// parse.go turns cell text back into typed values.
//
// Spreadsheet readers hand back strings. These helpers accept the forms a
// workbook or a hand-edited file commonly contains:
//   - Numbers with currency symbols, thousands separators or accounting
//     parentheses for negatives, plus NaN and +Inf/-Inf for floats
//   - Booleans as true/false, yes/no, t/f, y/n, 1/0
//   - Timestamps in RFC 3339, ISO date-time and the usual US/ISO date layouts
//
// An empty (whitespace-only) string is a null cell for every column type.

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"1/2/2006 15:04:05",
	"1/2/2006",
	"01/02/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ParseCell converts s to a value of type ct.
func ParseCell(ct ColumnType, s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	switch ct {
	case Text:
		return s, nil

	case Integer:
		n, err := strconv.ParseInt(cleanNumber(s), 10, 64)
		if err != nil {
			// Spreadsheets often store whole numbers as "42.0"
			f, ferr := strconv.ParseFloat(cleanNumber(s), 64)
			if ferr != nil || f != float64(int64(f)) {
				return nil, fmt.Errorf("invalid integer %q", s)
			}
			return int64(f), nil
		}
		return n, nil

	case Float:
		clean := cleanNumber(s)
		if !numericRegex.MatchString(clean) {
			if f, ok := parseNonFinite(s); ok {
				return f, nil
			}
			return nil, fmt.Errorf("invalid number %q", s)
		}
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", s)
		}
		return f, nil

	case Bool:
		switch strings.ToLower(s) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid bool %q", s)

	case Time:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("invalid date %q", s)
	}

	return nil, fmt.Errorf("unknown column type %d", int(ct))
}

// parseNonFinite accepts NaN and the infinities in strconv's spellings
// ("NaN", "+Inf", "-Infinity", ...).
func parseNonFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !(math.IsNaN(f) || math.IsInf(f, 0)) {
		return 0, false
	}
	return f, true
}

// cleanNumber strips currency symbols and thousands separators and turns
// accounting format "(123.45)" into "-123.45".
func cleanNumber(s string) string {
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if negative {
		s = "-" + s
	}
	return s
}
