// Package backlog persists the per-station sets of observation dates that
// failed to ingest. The file is a JSON array of {id, dates[]} entries,
// unique and sorted by id, dates deduplicated and sorted within each entry.
package backlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Entry is one station's set of unresolved observation dates. Dates is
// non-empty by invariant; an entry whose set drains is removed, never saved.
type Entry struct {
	ID    int64    `json:"id"`
	Dates []string `json:"dates"`
}

// Load reads the backlog at path. A missing file yields an empty backlog.
// Malformed JSON or a wrong top-level shape also yields an empty backlog so
// the reconciliation job stays runnable; recovered reports it, letting
// callers log the corruption instead of treating it like a first run.
func Load(path string) (entries []Entry, recovered bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false
		}
		return nil, true
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, true
	}

	for _, item := range raw {
		idRaw, okID := item["id"]
		datesRaw, okDates := item["dates"]
		if !okID || !okDates {
			continue
		}

		id, ok := coerceID(idRaw)
		if !ok {
			continue
		}

		var dates []any
		if err := json.Unmarshal(datesRaw, &dates); err != nil {
			continue
		}

		cleaned := normalizeDates(dates)
		if len(cleaned) == 0 {
			continue
		}
		entries = append(entries, Entry{ID: id, Dates: cleaned})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, false
}

// Save writes entries to path atomically: temp file in the same directory,
// fsync, rename. Entries with empty date sets are dropped first.
func Save(path string, entries []Entry) error {
	cleaned := make([]Entry, 0, len(entries))
	for _, e := range entries {
		dates := dedupeSorted(e.Dates)
		if len(dates) == 0 {
			continue
		}
		cleaned = append(cleaned, Entry{ID: e.ID, Dates: dates})
	}
	sort.Slice(cleaned, func(i, j int) bool { return cleaned[i].ID < cleaned[j].ID })

	if cleaned == nil {
		cleaned = []Entry{}
	}
	data, err := json.MarshalIndent(cleaned, "", "  ")
	if err != nil {
		return fmt.Errorf("backlog: marshal: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("backlog: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("backlog: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("backlog: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("backlog: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backlog: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("backlog: rename: %w", err)
	}
	return nil
}

// CountDates returns the total number of pending dates across entries.
func CountDates(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += len(e.Dates)
	}
	return n
}

func coerceID(raw json.RawMessage) (int64, bool) {
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		if id, err := num.Int64(); err == nil {
			return id, true
		}
		if f, err := num.Float64(); err == nil {
			return int64(f), true
		}
		return 0, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

func normalizeDates(dates []any) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		var s string
		switch v := d.(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			s = fmt.Sprintf("%v", d)
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return dedupeSorted(out)
}

func dedupeSorted(dates []string) []string {
	seen := make(map[string]struct{}, len(dates))
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
