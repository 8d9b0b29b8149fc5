package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/ssdeploy/internal/journal"
	"github.com/randalmurphal/ssdeploy/internal/maintenance"
	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/superset"
)

type cleanupOutput struct {
	Kind    string             `json:"kind"`
	DryRun  bool               `json:"dry_run"`
	Deleted []superset.Summary `json:"deleted"`
}

// newCleanupCmd creates the cleanup command
func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove unwanted objects from an environment",
	}
	cmd.AddCommand(newCleanupDashboardsCmd())
	return cmd
}

func newCleanupDashboardsCmd() *cobra.Command {
	var (
		envName       string
		empty         bool
		duplicates    bool
		dryRun        bool
		retentionDays int
	)

	cmd := &cobra.Command{
		Use:   "dashboards",
		Short: "Delete empty untitled dashboards or duplicate dashboards",
		Long: `Delete dashboards nobody needs.

--empty deletes dashboards still titled "[ untitled dashboard ]" that hold no
charts and were last changed before the retention period.

--duplicates keeps the most recently changed dashboard of every title and
deletes the rest.

Examples:
  ssdeploy cleanup dashboards --env dev --empty
  ssdeploy cleanup dashboards --env dev --duplicates --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !empty && !duplicates {
				return fmt.Errorf("choose --empty, --duplicates or both")
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			plat, err := a.connect(envName)
			if err != nil {
				return err
			}
			retention := a.cfg.Retention()
			if cmd.Flags().Changed("retention-days") {
				if retentionDays < 0 {
					return fmt.Errorf("--retention-days must not be negative")
				}
				retention = time.Duration(retentionDays) * 24 * time.Hour
			}

			cleaner := maintenance.New(maintenance.Config{
				Platform: plat,
				DryRun:   dryRun,
				Logger:   a.logger.With("env", envName),
			})
			ctx := cmd.Context()
			p := newPrinter(cmd)

			var outputs []cleanupOutput
			run := func(j *journal.Journal, kind string, fn func() (*maintenance.Report, error)) error {
				return a.record(ctx, j, journal.KindCleanup, envName, object.Dashboard, kind, func() ([]journal.Object, int, error) {
					report, err := fn()
					if err != nil {
						return nil, 0, err
					}
					out := cleanupOutput{Kind: kind, DryRun: report.DryRun, Deleted: report.Deleted}
					outputs = append(outputs, out)
					if !jsonOut {
						printCleanup(p, out)
					}
					if report.DryRun {
						return nil, 0, nil
					}
					objects := make([]journal.Object, len(report.Deleted))
					for i, d := range report.Deleted {
						objects[i] = journal.Object{
							Class: object.Dashboard.String(), Name: fmt.Sprintf("%s#%d", d.Name, d.ID), Identifier: d.UUID,
						}
					}
					return objects, 0, nil
				})
			}

			err = a.locked(ctx, func(j *journal.Journal) error {
				if empty {
					if err := run(j, "empty", func() (*maintenance.Report, error) {
						return cleaner.DeleteEmptyDashboards(ctx, retention)
					}); err != nil {
						return err
					}
				}
				if duplicates {
					return run(j, "duplicates", func() (*maintenance.Report, error) {
						return cleaner.DeleteDuplicateDashboards(ctx)
					})
				}
				return nil
			})
			if err != nil {
				return err
			}
			if jsonOut {
				return p.json(outputs)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&envName, "env", "e", "", "environment to clean (required)")
	cmd.Flags().BoolVar(&empty, "empty", false, "delete stale empty untitled dashboards")
	cmd.Flags().BoolVar(&duplicates, "duplicates", false, "delete all but the newest dashboard of every title")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "override empty_dashboard_retention_days")
	_ = cmd.MarkFlagRequired("env")
	return cmd
}

func printCleanup(p *printer, out cleanupOutput) {
	verb := "deleted"
	if out.DryRun {
		verb = "would delete"
	}
	p.title("%s dashboards: %s %d", out.Kind, verb, len(out.Deleted))
	for _, d := range out.Deleted {
		fmt.Fprintf(p.w, "  %d  %s  %s\n", d.ID, d.Name, p.dim(d.ChangedOn.Format(time.RFC3339)))
	}
}
