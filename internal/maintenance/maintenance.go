// Package maintenance removes dashboards that accumulate on a platform
// environment: abandoned untitled drafts and duplicates left by repeated
// imports.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/superset"
)

// UntitledDashboard is the title the platform gives a dashboard created
// without one.
const UntitledDashboard = "[ untitled dashboard ]"

// DefaultRetention is how long an empty untitled dashboard is left alone.
const DefaultRetention = 48 * time.Hour

const defaultConcurrency = 4

// Platform is the part of the platform client cleanup needs.
type Platform interface {
	FindByName(ctx context.Context, cls object.Class, name string) ([]superset.Summary, error)
	FindAll(ctx context.Context, cls object.Class) ([]superset.Summary, error)
	DashboardCharts(ctx context.Context, id int) ([]int, error)
	Delete(ctx context.Context, cls object.Class, ids []int) error
}

// Config wires a Cleaner.
type Config struct {
	Platform Platform
	// DryRun reports what would be deleted without deleting it.
	DryRun bool
	// Concurrency bounds parallel chart lookups. Zero means 4.
	Concurrency int
	Logger      *slog.Logger
}

// Report lists the dashboards a cleanup removed, or would remove in a dry run.
type Report struct {
	Deleted []superset.Summary
	DryRun  bool
}

// Cleaner deletes unwanted dashboards.
type Cleaner struct {
	platform    Platform
	dryRun      bool
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a Cleaner.
func New(cfg Config) *Cleaner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Cleaner{
		platform:    cfg.Platform,
		dryRun:      cfg.DryRun,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// DeleteEmptyDashboards deletes untitled dashboards that were last changed
// more than retention ago and hold no charts.
func (c *Cleaner) DeleteEmptyDashboards(ctx context.Context, retention time.Duration) (*Report, error) {
	untitled, err := c.platform.FindByName(ctx, object.Dashboard, UntitledDashboard)
	if err != nil {
		return nil, fmt.Errorf("find untitled dashboards: %w", err)
	}

	cutoff := c.now().Add(-retention)
	var stale []superset.Summary
	for _, d := range untitled {
		if d.ChangedOn.Before(cutoff) {
			stale = append(stale, d)
		}
	}

	// Chart lookups are one request per dashboard.
	empty := make([]bool, len(stale))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, d := range stale {
		g.Go(func() error {
			charts, err := c.platform.DashboardCharts(gctx, d.ID)
			if err != nil {
				return fmt.Errorf("charts of dashboard %d: %w", d.ID, err)
			}
			empty[i] = len(charts) == 0
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var doomed []superset.Summary
	for i, d := range stale {
		if empty[i] {
			doomed = append(doomed, d)
		}
	}
	c.logger.Info("empty dashboards", "untitled", len(untitled), "stale", len(stale),
		"empty", len(doomed), "retention", retention)
	return c.delete(ctx, doomed)
}

// DeleteDuplicateDashboards keeps the most recently changed dashboard of every
// title and deletes the others. Ties on change time keep the highest id.
func (c *Cleaner) DeleteDuplicateDashboards(ctx context.Context) (*Report, error) {
	all, err := c.platform.FindAll(ctx, object.Dashboard)
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}

	byTitle := make(map[string][]superset.Summary)
	for _, d := range all {
		byTitle[d.Name] = append(byTitle[d.Name], d)
	}

	var doomed []superset.Summary
	for title, group := range byTitle {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].ChangedOn.Equal(group[j].ChangedOn) {
				return group[i].ChangedOn.After(group[j].ChangedOn)
			}
			return group[i].ID > group[j].ID
		})
		c.logger.Info("duplicate dashboards", "title", title, "count", len(group), "keep", group[0].ID)
		doomed = append(doomed, group[1:]...)
	}
	sort.Slice(doomed, func(i, j int) bool { return doomed[i].ID < doomed[j].ID })
	return c.delete(ctx, doomed)
}

func (c *Cleaner) delete(ctx context.Context, doomed []superset.Summary) (*Report, error) {
	report := &Report{Deleted: doomed, DryRun: c.dryRun}
	if len(doomed) == 0 || c.dryRun {
		return report, nil
	}
	ids := make([]int, len(doomed))
	for i, d := range doomed {
		ids[i] = d.ID
	}
	if err := c.platform.Delete(ctx, object.Dashboard, ids); err != nil {
		return nil, fmt.Errorf("delete dashboards: %w", err)
	}
	for _, d := range doomed {
		c.logger.Info("dashboard deleted", "id", d.ID, "title", d.Name)
	}
	return report, nil
}
