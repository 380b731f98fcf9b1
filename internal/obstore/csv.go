package obstore

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// LoadReport summarizes one CSV ingestion.
type LoadReport struct {
	Header  []string
	Rows    []Row
	Skipped int
}

// LoadCSV reads comma-separated observation rows and converts them to store
// records. The header must contain pk (integer key) and, when non-empty, sk.
// Numeric-looking values become numbers, blank and NaN values are dropped,
// and a "_scales" column is decoded as a JSON string list. Rows missing key
// fields are counted and skipped.
func LoadCSV(r io.Reader, pk, sk string) (*LoadReport, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("obstore: read csv: %w", err)
	}
	records = dropBlank(records)
	if len(records) == 0 {
		return nil, fmt.Errorf("obstore: empty input")
	}

	header := records[0]
	if !contains(header, pk) {
		return nil, fmt.Errorf("obstore: header must contain %q", pk)
	}
	if sk != "" && !contains(header, sk) {
		return nil, fmt.Errorf("obstore: header must contain %q and %q", pk, sk)
	}

	rep := &LoadReport{Header: header}
	for _, rec := range records[1:] {
		row, ok := convertRow(header, rec, pk, sk)
		if !ok {
			rep.Skipped++
			continue
		}
		rep.Rows = append(rep.Rows, row)
	}
	return rep, nil
}

// convertRow maps one CSV record onto a Row, returning false when the key
// fields are missing or unparseable.
func convertRow(header, rec []string, pk, sk string) (Row, bool) {
	row := Row{}
	for i, name := range header {
		if name == "" || i >= len(rec) {
			continue
		}
		v := rec[i]
		switch {
		case name == "_scales":
			if lst := parseScales(v); len(lst) > 0 {
				row[name] = lst
			}
		case name == pk:
			id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, false
			}
			row[name] = id
		case sk != "" && name == sk:
			row[name] = strings.TrimSpace(v)
		default:
			if val, ok := coerce(v); ok {
				row[name] = val
			}
		}
	}
	if _, ok := row[pk]; !ok {
		return nil, false
	}
	if sk != "" {
		s, _ := row[sk].(string)
		if s == "" {
			return nil, false
		}
	}
	return row, true
}

// coerce turns a CSV cell into a number when it looks like one, keeps it as
// a string otherwise, and drops blanks and NaN.
func coerce(v string) (any, bool) {
	s := strings.TrimSpace(v)
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return f, true
	}
	return s, true
}

// parseScales decodes a JSON string list, tolerating anything else as empty.
func parseScales(v string) []string {
	s := strings.TrimSpace(v)
	if s == "" {
		return nil
	}
	var raw []any
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, x := range raw {
		out = append(out, fmt.Sprint(x))
	}
	return out
}

func dropBlank(records [][]string) [][]string {
	out := records[:0]
	for _, rec := range records {
		blank := true
		for _, f := range rec {
			if strings.TrimSpace(f) != "" {
				blank = false
				break
			}
		}
		if !blank {
			out = append(out, rec)
		}
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
