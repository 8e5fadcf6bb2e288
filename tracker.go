package main

import (
	"context"
	"errors"
	"github.com/cpacia/matwatch/bracket"
	"gorm.io/gorm"
	"log/slog"
	"sync"
	"time"
)

// ErrNoDocument is returned when a page could not be fetched.
var ErrNoDocument = errors.New("no document available")

// Tracker owns the canonical table. Fetch-and-merge cycles are serialised
// by runMu. mu guards the table and is only held while merging, so readers
// never wait on a fetch.
type Tracker struct {
	db         *gorm.DB
	fetcher    Fetcher
	reconciler bracket.Reconciler
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	runMu sync.Mutex

	mu          sync.Mutex
	table       bracket.Table
	lastRefresh time.Time
}

func NewTracker(db *gorm.DB, fetcher Fetcher, rc bracket.Reconciler, interval time.Duration, logger *slog.Logger) (*Tracker, error) {
	table, err := loadTable(db)
	if err != nil {
		return nil, err
	}
	t := &Tracker{
		db:         db,
		fetcher:    fetcher,
		reconciler: rc,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
		table:      table,
	}
	t.lastRefresh = t.now()
	return t, nil
}

// Table returns a copy of the canonical table.
func (t *Tracker) Table() bracket.Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.table.Clone()
}

// Analyze fetches a single page and merges its rows into the table. The URL
// is registered for bulk refreshes once it has been fetched successfully.
func (t *Tracker) Analyze(ctx context.Context, url string) (*AnalyzeResponse, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	records, rows, err := scrapeSource(ctx, t.fetcher, url)
	if err != nil {
		return nil, err
	}

	src, err := addSource(t.db, url)
	if err != nil {
		return nil, err
	}
	if err := saveSnapshot(t.db, src, records, t.now()); err != nil {
		return nil, err
	}
	table, err := t.merge(rows)
	if err != nil {
		return nil, err
	}

	t.logger.Info("analyzed source", "url", url, "matches", len(records), "rows", len(rows), "table", len(table))
	return &AnalyzeResponse{
		Matches: records,
		Rows:    rows,
		Table:   table,
	}, nil
}

// RefreshAll re-scrapes every registered source and merges the combined
// rows once. Sources that fail are logged and skipped.
func (t *Tracker) RefreshAll(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	return t.refresh(ctx)
}

// RefreshIfStale runs RefreshAll when the refresh interval has elapsed
// since the previous one. It reports whether a refresh was attempted.
func (t *Tracker) RefreshIfStale(ctx context.Context) (bool, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.mu.Lock()
	last := t.lastRefresh
	t.mu.Unlock()
	if t.now().Sub(last) < t.interval {
		return false, nil
	}
	return true, t.refresh(ctx)
}

// Run checks for a stale table until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	tick := time.Minute
	if t.interval > 0 && t.interval < tick {
		tick = t.interval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.RefreshIfStale(ctx); err != nil {
				t.logger.Error("refresh failed", "err", err)
			}
		}
	}
}

func (t *Tracker) refresh(ctx context.Context) error {
	sources, err := listSources(t.db)
	if err != nil {
		return err
	}

	var all []bracket.CompetitorRow
	for i := range sources {
		src := &sources[i]
		records, rows, err := scrapeSource(ctx, t.fetcher, src.URL)
		if err != nil {
			t.logger.Warn("skipping source", "url", src.URL, "err", err)
			continue
		}
		if err := saveSnapshot(t.db, src, records, t.now()); err != nil {
			t.logger.Warn("saving snapshot", "url", src.URL, "err", err)
		}
		all = append(all, rows...)
	}
	t.mu.Lock()
	t.lastRefresh = t.now()
	t.mu.Unlock()

	table, err := t.merge(all)
	if err != nil {
		return err
	}
	t.logger.Info("refreshed sources", "sources", len(sources), "rows", len(all), "table", len(table))
	return nil
}

// merge folds rows into the table, persists the result and returns a copy
// of it. An empty batch leaves the table untouched.
func (t *Tracker) merge(rows []bracket.CompetitorRow) (bracket.Table, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(rows) == 0 {
		return t.table.Clone(), nil
	}
	merged := t.reconciler.Merge(t.table, rows)
	if err := saveTable(t.db, merged); err != nil {
		return nil, err
	}
	t.table = merged
	return merged.Clone(), nil
}
