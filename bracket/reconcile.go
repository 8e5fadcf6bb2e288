package bracket

import (
	"sort"
	"strconv"
	"time"
)

const clockLayout = "15:04"

// Reconciler merges freshly projected rows into the canonical table.
//
// The scheduled time of a row doubles as its freshness: when the same
// competitor shows up more than once, the row with the latest time wins.
// Rows scheduled before the current time of day are pruned.
type Reconciler struct {
	// Now returns the wall clock used by the time-window filter. Defaults
	// to time.Now.
	Now func() time.Time

	// DropUntimed prunes rows without a usable HH:MM time instead of
	// keeping them.
	DropUntimed bool
}

type observation struct {
	row   CompetitorRow
	fresh bool
}

// Merge returns the canonical table obtained by folding rows into existing.
// Neither input is modified.
func (rc Reconciler) Merge(existing Table, rows []CompetitorRow) Table {
	work := make([]observation, 0, len(existing)+len(rows))
	// An incoming copy of a known row refreshes it in place, so rows that
	// tie on time keep their order from the latest batch.
	seen := make(map[CompetitorRow]int, cap(work))
	add := func(r CompetitorRow, fresh bool) {
		if idx, ok := seen[r]; ok {
			if fresh {
				work[idx].fresh = true
			}
			return
		}
		seen[r] = len(work)
		work = append(work, observation{row: r, fresh: fresh})
	}
	for _, r := range existing {
		add(r, false)
	}
	for _, r := range rows {
		add(r, true)
	}

	// Latest scheduled time first; rows without one go last. On equal
	// times the newer observation wins.
	sort.SliceStable(work, func(i, j int) bool {
		ti, okI := clockMinutes(work[i].row.Time)
		tj, okJ := clockMinutes(work[j].row.Time)
		if okI != okJ {
			return okI
		}
		if okI && ti != tj {
			return ti > tj
		}
		return work[i].fresh && !work[j].fresh
	})

	byName := make(map[string]struct{}, len(work))
	out := make(Table, 0, len(work))
	for _, o := range work {
		if _, ok := byName[o.row.Name]; ok {
			continue
		}
		byName[o.row.Name] = struct{}{}
		out = append(out, normalizeNumber(o.row))
	}

	SortByNumber(out)

	now := rc.now()
	cutoff := now.Hour()*60 + now.Minute()
	kept := out[:0]
	for _, r := range out {
		m, ok := clockMinutes(r.Time)
		if !ok {
			if rc.DropUntimed {
				continue
			}
			kept = append(kept, r)
			continue
		}
		if m < cutoff {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

func (rc Reconciler) now() time.Time {
	if rc.Now != nil {
		return rc.Now()
	}
	return time.Now()
}

// SortByNumber orders t by numeric competitor number. Rows without a
// number keep their relative order after all numbered rows.
func SortByNumber(t Table) {
	sort.SliceStable(t, func(i, j int) bool {
		ni, okI := t[i].NumberValue()
		nj, okJ := t[j].NumberValue()
		if okI != okJ {
			return okI
		}
		return okI && ni < nj
	})
}

func normalizeNumber(r CompetitorRow) CompetitorRow {
	n, ok := r.NumberValue()
	if !ok {
		r.Number = ""
		return r
	}
	r.Number = strconv.Itoa(n)
	return r
}

func clockMinutes(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
