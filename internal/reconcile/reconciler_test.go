package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/alpineclim/climsync/internal/backlog"
	"github.com/alpineclim/climsync/internal/meteo"
)

// scriptedFetcher returns a canned outcome per "id/date" key and records
// the order of calls.
type scriptedFetcher struct {
	outcomes map[string]meteo.Outcome
	errs     map[string]error
	calls    []string
}

func (f *scriptedFetcher) FetchOne(ctx context.Context, stationID int64, date string) (meteo.Outcome, error) {
	key := fmt.Sprintf("%d/%s", stationID, date)
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return meteo.Outcome{}, err
	}
	if out, ok := f.outcomes[key]; ok {
		return out, nil
	}
	return meteo.Outcome{Kind: meteo.OutcomeRetryable, Reason: "unscripted"}, nil
}

func resolved(id int64, date string) meteo.Outcome {
	return meteo.Outcome{
		Kind: meteo.OutcomeResolved,
		Rows: [][]string{
			{"id", "date", "t_min"},
			{fmt.Sprintf("%d", id), date, "-1.0"},
		},
	}
}

func runPass(t *testing.T, path string, fetcher Fetcher, maxDates int, dryRun bool) (int, string) {
	t.Helper()
	var out bytes.Buffer
	r := &Runner{
		Fetcher: fetcher,
		Out:     &out,
		Opts:    Options{MissingPath: path, MaxDatesPerID: maxDates, DryRun: dryRun},
	}
	code, err := r.Run(context.Background())
	require.NoError(t, err)
	return code, out.String()
}

// End-to-end scenario: one date resolves, one stays pending, exit code 1.
func TestRunPartialResolution(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	require.NoError(t, backlog.Save(path, []backlog.Entry{
		{ID: 38002401, Dates: []string{"2025-01-01", "2025-01-02"}},
	}))

	fetcher := &scriptedFetcher{outcomes: map[string]meteo.Outcome{
		"38002401/2025-01-01": resolved(38002401, "2025-01-01"),
		"38002401/2025-01-02": {Kind: meteo.OutcomeRetryable, Reason: "no content"},
	}}

	code, _ := runPass(t, path, fetcher, 3, false)
	require.Equal(t, ExitRemains, code)

	entries, _ := backlog.Load(path)
	require.Equal(t, []backlog.Entry{
		{ID: 38002401, Dates: []string{"2025-01-02"}},
	}, entries)
}

func TestRunFullResolutionExitsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	require.NoError(t, backlog.Save(path, []backlog.Entry{
		{ID: 1, Dates: []string{"2025-01-01"}},
	}))

	fetcher := &scriptedFetcher{outcomes: map[string]meteo.Outcome{
		"1/2025-01-01": resolved(1, "2025-01-01"),
	}}

	code, _ := runPass(t, path, fetcher, 3, false)
	require.Equal(t, ExitResolved, code)

	entries, _ := backlog.Load(path)
	require.Empty(t, entries, "the drained entry disappears entirely")
}

// Eligibility boundary: with maxDatesPerID=3, a 4-date entry contributes no
// work items while a 3-date entry contributes all of its dates.
func TestRunEligibilityBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	require.NoError(t, backlog.Save(path, []backlog.Entry{
		{ID: 1, Dates: []string{"2025-01-01", "2025-01-02", "2025-01-03"}},
		{ID: 2, Dates: []string{"2025-02-01", "2025-02-02", "2025-02-03", "2025-02-04"}},
	}))

	fetcher := &scriptedFetcher{}
	code, _ := runPass(t, path, fetcher, 3, false)
	require.Equal(t, ExitRemains, code)
	require.Equal(t, []string{
		"1/2025-01-01", "1/2025-01-02", "1/2025-01-03",
	}, fetcher.calls)
}

func TestRunWorkListOrdering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	require.NoError(t, backlog.Save(path, []backlog.Entry{
		{ID: 9, Dates: []string{"2025-01-02", "2025-01-01"}},
		{ID: 3, Dates: []string{"2025-03-01"}},
	}))

	fetcher := &scriptedFetcher{}
	runPass(t, path, fetcher, 3, false)
	require.Equal(t, []string{
		"3/2025-03-01", "9/2025-01-01", "9/2025-01-02",
	}, fetcher.calls)
}

// A single header line regardless of how many stations produced rows.
func TestRunSingleCSVHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	require.NoError(t, backlog.Save(path, []backlog.Entry{
		{ID: 1, Dates: []string{"2025-01-01"}},
		{ID: 2, Dates: []string{"2025-01-02"}},
	}))

	fetcher := &scriptedFetcher{outcomes: map[string]meteo.Outcome{
		"1/2025-01-01": resolved(1, "2025-01-01"),
		"2/2025-01-02": resolved(2, "2025-01-02"),
	}}

	_, out := runPass(t, path, fetcher, 3, false)
	require.Equal(t,
		"id,date,t_min\n1,2025-01-01,-1.0\n2,2025-01-02,-1.0\n",
		out)
}

func TestRunDryRunLeavesBacklogUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	before := []backlog.Entry{{ID: 1, Dates: []string{"2025-01-01"}}}
	require.NoError(t, backlog.Save(path, before))

	fetcher := &scriptedFetcher{outcomes: map[string]meteo.Outcome{
		"1/2025-01-01": resolved(1, "2025-01-01"),
	}}

	code, _ := runPass(t, path, fetcher, 3, true)
	require.Equal(t, ExitResolved, code, "exit code reflects the in-memory result")

	entries, _ := backlog.Load(path)
	require.Equal(t, before, entries)
}

// An invocation-level failure keeps the date pending without aborting.
func TestRunInvocationFailureIsContained(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	require.NoError(t, backlog.Save(path, []backlog.Entry{
		{ID: 1, Dates: []string{"2025-01-01"}},
		{ID: 2, Dates: []string{"2025-01-02"}},
	}))

	fetcher := &scriptedFetcher{
		errs:     map[string]error{"1/2025-01-01": errors.New("connection refused")},
		outcomes: map[string]meteo.Outcome{"2/2025-01-02": resolved(2, "2025-01-02")},
	}

	code, _ := runPass(t, path, fetcher, 3, false)
	require.Equal(t, ExitRemains, code)

	entries, _ := backlog.Load(path)
	require.Equal(t, []backlog.Entry{{ID: 1, Dates: []string{"2025-01-01"}}}, entries)
}

// Idempotence: a second pass with the same upstream behavior leaves the
// same backlog state as the first.
func TestRunIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	require.NoError(t, backlog.Save(path, []backlog.Entry{
		{ID: 1, Dates: []string{"2025-01-01", "2025-01-02"}},
	}))

	outcomes := map[string]meteo.Outcome{
		"1/2025-01-01": resolved(1, "2025-01-01"),
		"1/2025-01-02": {Kind: meteo.OutcomeFatal, Reason: "HTTP 500"},
	}

	runPass(t, path, &scriptedFetcher{outcomes: outcomes}, 3, false)
	first, _ := backlog.Load(path)

	runPass(t, path, &scriptedFetcher{outcomes: outcomes}, 3, false)
	second, _ := backlog.Load(path)

	require.Equal(t, first, second)
}

func TestRunEmptyBacklogExitsZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	code, out := runPass(t, path, &scriptedFetcher{}, 3, false)
	require.Equal(t, ExitResolved, code)
	require.Empty(t, out, "no rows means not even a header")
}

func TestRunLabelsResolvedStations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing_observations.json")
	require.NoError(t, backlog.Save(path, []backlog.Entry{
		{ID: 38002401, Dates: []string{"2025-05-01"}},
	}))

	core, logs := observer.New(zap.InfoLevel)
	var out bytes.Buffer
	r := &Runner{
		Fetcher: &scriptedFetcher{outcomes: map[string]meteo.Outcome{
			"38002401/2025-05-01": resolved(38002401, "2025-05-01"),
		}},
		Out:    &out,
		Logger: zap.New(core),
		Names:  map[int64]string{38002401: "Col de Porte"},
		Opts:   Options{MissingPath: path, MaxDatesPerID: 3},
	}

	code, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ExitResolved, code)

	entries := logs.FilterMessage("resolved").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "Col de Porte", fields["name"])
	require.EqualValues(t, 38002401, fields["station"])
}
