// Package stations merges the per-scale, per-department station list
// downloads into one deduplicated metadata file used by the rest of the
// pipeline.
package stations

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// DefaultMinAltitude keeps only mountain stations; the pipeline tracks the
// alpine departments.
const DefaultMinAltitude = 500.0

var validate = validator.New()

// Station is one combined metadata record.
type Station struct {
	ID     string   `json:"id" validate:"required"`
	Name   string   `json:"nom"`
	Lon    *float64 `json:"lon,omitempty" validate:"omitempty,min=-180,max=180"`
	Lat    *float64 `json:"lat,omitempty" validate:"omitempty,min=-90,max=90"`
	Alt    *float64 `json:"alt,omitempty"`
	Scales []string `json:"_scales,omitempty"`
}

// CombineReport summarizes one combine run.
type CombineReport struct {
	Files    int
	Stations int
	Filtered int
	Invalid  int
}

var validScales = map[string]struct{}{
	"infrahoraire-6m": {},
	"horaire":         {},
	"quotidienne":     {},
}

// Combine merges every stations_*.json under srcDir into outFile, keeping
// only stations above minAlt meters, sorted by id.
func Combine(srcDir, outFile string, minAlt float64, logger *zap.Logger) (CombineReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var files []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasPrefix(d.Name(), "stations_") && strings.HasSuffix(d.Name(), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return CombineReport{}, fmt.Errorf("stations: scan %s: %w", srcDir, err)
	}
	if len(files) == 0 {
		return CombineReport{}, fmt.Errorf("stations: no input files under %s", srcDir)
	}
	sort.Strings(files)

	report := CombineReport{Files: len(files)}
	byID := make(map[string]*Station)

	for _, fp := range files {
		data, err := os.ReadFile(fp)
		if err != nil {
			logger.Warn("skipping unreadable station file", zap.String("file", fp), zap.Error(err))
			continue
		}
		var arr []map[string]any
		if err := json.Unmarshal(data, &arr); err != nil {
			logger.Warn("skipping malformed station file", zap.String("file", fp), zap.Error(err))
			continue
		}

		// The scale is encoded in the directory layout.
		scale := filepath.Base(filepath.Dir(fp))

		for _, item := range arr {
			sid := strings.TrimSpace(stringify(item["id"]))
			if sid == "" {
				continue
			}

			candidate := &Station{
				ID:   sid,
				Name: NormalizeName(stringify(item["nom"])),
				Lon:  floatField(item, "lon"),
				Lat:  floatField(item, "lat"),
				Alt:  floatField(item, "alt"),
			}
			candidate.Scales = extractScales(item, scale)

			if existing, ok := byID[sid]; ok {
				mergeStation(existing, candidate)
			} else {
				byID[sid] = candidate
			}
		}
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Station, 0, len(byID))
	for _, id := range ids {
		s := byID[id]
		s.Name = CapitalizeName(s.Name)
		sort.Strings(s.Scales)

		if err := validate.Struct(s); err != nil {
			report.Invalid++
			logger.Warn("dropping invalid station record", zap.String("id", s.ID), zap.Error(err))
			continue
		}
		if s.Alt == nil || *s.Alt <= minAlt {
			report.Filtered++
			continue
		}
		out = append(out, *s)
	}
	report.Stations = len(out)

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return report, fmt.Errorf("stations: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outFile), 0o755); err != nil {
		return report, fmt.Errorf("stations: create dir: %w", err)
	}
	if err := os.WriteFile(outFile, data, 0o644); err != nil {
		return report, fmt.Errorf("stations: write %s: %w", outFile, err)
	}
	return report, nil
}

// Names reads a combined stations file and returns id -> display name for
// every station with a numeric id. Consumers use it to label log lines.
func Names(path string) (map[int64]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("stations: read %s: %w", path, err)
	}
	var list []Station
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("stations: parse %s: %w", path, err)
	}
	names := make(map[int64]string, len(list))
	for _, s := range list {
		id, err := strconv.ParseInt(strings.TrimSpace(s.ID), 10, 64)
		if err != nil {
			continue
		}
		names[id] = s.Name
	}
	return names, nil
}

// mergeStation fills missing coordinates from the candidate and unions the
// scale sets. Name and id from the first occurrence win.
func mergeStation(existing, candidate *Station) {
	if existing.Lon == nil {
		existing.Lon = candidate.Lon
	}
	if existing.Lat == nil {
		existing.Lat = candidate.Lat
	}
	if existing.Alt == nil {
		existing.Alt = candidate.Alt
	}
	seen := make(map[string]struct{}, len(existing.Scales))
	for _, s := range existing.Scales {
		seen[s] = struct{}{}
	}
	for _, s := range candidate.Scales {
		if _, ok := seen[s]; !ok {
			existing.Scales = append(existing.Scales, s)
		}
	}
}

func extractScales(item map[string]any, fileScale string) []string {
	set := make(map[string]struct{})
	if _, ok := validScales[fileScale]; ok {
		set[fileScale] = struct{}{}
	}
	if v, ok := item["_scales"].([]any); ok {
		for _, s := range v {
			if str, ok := s.(string); ok {
				if _, valid := validScales[str]; valid {
					set[str] = struct{}{}
				}
			}
		}
	}
	if str, ok := item["_scale"].(string); ok {
		if _, valid := validScales[str]; valid {
			set[str] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func floatField(item map[string]any, key string) *float64 {
	switch t := item[key].(type) {
	case float64:
		return &t
	case string:
		if t == "" {
			return nil
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}
