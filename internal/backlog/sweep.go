package backlog

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// SweepReport summarizes one retention pass over the backlog file.
type SweepReport struct {
	Path                string
	KeepDays            int
	TodayUTC            string
	Cutoff              string
	BeforeEntries       int
	BeforeDates         int
	AfterEntries        int
	AfterDates          int
	RemovedOld          int
	RemovedInvalid      int
	RemovedEmptyEntries int
	DryRun              bool
	Recovered           bool
}

// Summary renders the single cron-friendly report line.
func (r SweepReport) Summary() string {
	return fmt.Sprintf(
		"[sweep] path=%s keep_days=%d cutoff>=%s entries:%d->%d dates:%d->%d removed_old=%d removed_invalid=%d removed_empty_entries=%d dry_run=%v",
		r.Path, r.KeepDays, r.Cutoff,
		r.BeforeEntries, r.AfterEntries,
		r.BeforeDates, r.AfterDates,
		r.RemovedOld, r.RemovedInvalid, r.RemovedEmptyEntries, r.DryRun,
	)
}

// Sweep drops backlog dates older than today(UTC) - keepDays (inclusive
// cutoff: dates >= cutoff are kept) and dates that fail calendar parsing,
// then removes entries left with no dates. This is the only place backlog
// entries disappear without having been resolved.
func Sweep(path string, keepDays int, dryRun bool, now func() time.Time) (SweepReport, error) {
	if now == nil {
		now = time.Now
	}
	today := now().UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -keepDays)

	entries, recovered := Load(path)

	report := SweepReport{
		Path:          path,
		KeepDays:      keepDays,
		TodayUTC:      today.Format(dateLayout),
		Cutoff:        cutoff.Format(dateLayout),
		BeforeEntries: len(entries),
		BeforeDates:   CountDates(entries),
		DryRun:        dryRun,
		Recovered:     recovered,
	}

	kept := make([]Entry, 0, len(entries))
	for _, e := range entries {
		dates := make([]string, 0, len(e.Dates))
		for _, s := range e.Dates {
			d, err := time.ParseInLocation(dateLayout, s, time.UTC)
			if err != nil {
				report.RemovedInvalid++
				continue
			}
			if d.Before(cutoff) {
				report.RemovedOld++
				continue
			}
			dates = append(dates, s)
		}
		if len(dates) == 0 {
			report.RemovedEmptyEntries++
			continue
		}
		kept = append(kept, Entry{ID: e.ID, Dates: dates})
	}

	report.AfterEntries = len(kept)
	report.AfterDates = CountDates(kept)

	if !dryRun {
		if err := Save(path, kept); err != nil {
			return report, err
		}
	}
	return report, nil
}
