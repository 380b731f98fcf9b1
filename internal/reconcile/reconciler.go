// Package reconcile drives one reconciliation pass over the backlog of
// missing observations: retry eligible (station, date) pairs, emit resolved
// rows as CSV, and shrink the backlog accordingly.
package reconcile

import (
	"context"
	"encoding/csv"
	"io"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alpineclim/climsync/internal/backlog"
	"github.com/alpineclim/climsync/internal/meteo"
)

// Exit codes returned by Run. The scheduler invoking the pass decides
// whether remaining work is a hard failure.
const (
	ExitResolved = 0
	ExitRemains  = 1
)

// Fetcher retries one (station, date) observation. Implementations are
// injected so passes can run against the real API or a test double.
type Fetcher interface {
	FetchOne(ctx context.Context, stationID int64, date string) (meteo.Outcome, error)
}

// Options configures one pass.
type Options struct {
	MissingPath   string
	MaxDatesPerID int
	DryRun        bool
}

// Runner executes reconciliation passes. Names optionally maps station ids
// to display names for log lines.
type Runner struct {
	Fetcher Fetcher
	Out     io.Writer
	Logger  *zap.Logger
	Names   map[int64]string
	Opts    Options
}

type workItem struct {
	stationID int64
	date      string
}

// Run performs one pass and returns ExitResolved when the backlog is fully
// empty afterwards, ExitRemains otherwise. A single item's failure never
// aborts the pass; it only keeps that date pending.
func (r *Runner) Run(ctx context.Context) (int, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("pass_id", uuid.NewString()))

	entries, recoveredFromCorruption := backlog.Load(r.Opts.MissingPath)
	if recoveredFromCorruption {
		logger.Warn("backlog file was unreadable, recovered as empty",
			zap.String("path", r.Opts.MissingPath))
	}
	if len(entries) == 0 {
		logger.Info("backlog empty, nothing to reconcile")
		return ExitResolved, nil
	}

	work := buildWorkList(entries, r.Opts.MaxDatesPerID)
	logger.Info("reconciliation pass starting",
		zap.Int("entries", len(entries)),
		zap.Int("pending_dates", backlog.CountDates(entries)),
		zap.Int("work_items", len(work)),
		zap.Int("max_dates_per_id", r.Opts.MaxDatesPerID))

	writer := csv.NewWriter(r.Out)
	headerWritten := false

	for _, item := range work {
		outcome, err := r.Fetcher.FetchOne(ctx, item.stationID, item.date)
		if err != nil {
			// The fetch could not even be performed. Kept pending, like
			// any retryable failure, but logged loudly: a persistent
			// invocation failure is tooling breakage, not backlog noise.
			logger.Error("fetch could not be invoked",
				zap.Int64("station", item.stationID),
				zap.String("date", item.date),
				zap.Error(err))
			continue
		}

		if len(outcome.Rows) > 0 {
			if !headerWritten {
				if err := writer.Write(outcome.Rows[0]); err != nil {
					return ExitRemains, err
				}
				headerWritten = true
			}
			for _, row := range outcome.Rows[1:] {
				if err := writer.Write(row); err != nil {
					return ExitRemains, err
				}
			}
			writer.Flush()
		}

		switch outcome.Kind {
		case meteo.OutcomeResolved:
			entries = removeDate(entries, item.stationID, item.date)
			logger.Info("resolved",
				zap.Int64("station", item.stationID),
				zap.String("name", r.Names[item.stationID]),
				zap.String("date", item.date))
		case meteo.OutcomeEmpty:
			logger.Debug("no usable rows, kept pending",
				zap.Int64("station", item.stationID), zap.String("date", item.date))
		case meteo.OutcomeRetryable:
			logger.Warn("retryable failure, kept pending",
				zap.Int64("station", item.stationID), zap.String("date", item.date),
				zap.String("reason", outcome.Reason))
		case meteo.OutcomeFatal:
			logger.Error("fatal upstream failure, kept pending",
				zap.Int64("station", item.stationID), zap.String("date", item.date),
				zap.String("reason", outcome.Reason))
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return ExitRemains, err
	}

	remaining := compact(entries)

	if !r.Opts.DryRun {
		if err := backlog.Save(r.Opts.MissingPath, remaining); err != nil {
			return ExitRemains, err
		}
	}

	left := backlog.CountDates(remaining)
	logger.Info("reconciliation pass finished",
		zap.Int("entries_left", len(remaining)),
		zap.Int("dates_left", left),
		zap.Bool("dry_run", r.Opts.DryRun))

	if left == 0 {
		return ExitResolved, nil
	}
	return ExitRemains, nil
}

// buildWorkList flattens eligible entries into (station, date) pairs in
// ascending order. Entries with more than maxDatesPerID pending dates are
// skipped for this pass: large backlogs signal a systemic problem, and
// near-resolved stations go first.
func buildWorkList(entries []backlog.Entry, maxDatesPerID int) []workItem {
	var work []workItem
	for _, e := range entries {
		if len(e.Dates) > maxDatesPerID {
			continue
		}
		for _, d := range e.Dates {
			work = append(work, workItem{stationID: e.ID, date: d})
		}
	}
	sort.Slice(work, func(i, j int) bool {
		if work[i].stationID != work[j].stationID {
			return work[i].stationID < work[j].stationID
		}
		return work[i].date < work[j].date
	})
	return work
}

// removeDate drops exactly one date from one station's pending set.
func removeDate(entries []backlog.Entry, stationID int64, date string) []backlog.Entry {
	for i := range entries {
		if entries[i].ID != stationID {
			continue
		}
		dates := entries[i].Dates
		for j, d := range dates {
			if d == date {
				entries[i].Dates = append(dates[:j], dates[j+1:]...)
				return entries
			}
		}
		return entries
	}
	return entries
}

// compact drops entries whose date set drained during the pass.
func compact(entries []backlog.Entry) []backlog.Entry {
	out := entries[:0]
	for _, e := range entries {
		if len(e.Dates) > 0 {
			out = append(out, e)
		}
	}
	return out
}
