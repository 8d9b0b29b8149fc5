package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/ssdeploy/internal/journal"
)

// newHistoryCmd creates the history command
func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [RUN_ID]",
		Short: "Show recorded extract, import and cleanup runs",
		Long: `Show the run history, newest first. Given a run id, show that run and the
objects it touched.

Example:
  ssdeploy history
  ssdeploy history --limit 5
  ssdeploy history 0b5c1f3e-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			j, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()
			p := newPrinter(cmd)

			if len(args) == 1 {
				return showRun(cmd, p, j, args[0])
			}

			runs, err := j.Runs(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return p.json(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(p.w, "No runs recorded yet.")
				return nil
			}
			w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tENV\tOBJECT\tSTATUS\tSTARTED\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Kind, r.Env, runObject(r), r.Status,
					r.StartedAt.Local().Format("2006-01-02 15:04:05"), runDuration(r))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show (0 for all)")
	return cmd
}

func showRun(cmd *cobra.Command, p *printer, j *journal.Journal, id string) error {
	run, err := j.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", id)
	}
	objects, err := j.Objects(cmd.Context(), id)
	if err != nil {
		return err
	}
	if jsonOut {
		return p.json(struct {
			*journal.Run
			Objects []journal.Object `json:"objects"`
		}{run, objects})
	}

	p.title("%s %s in %s", run.Kind, runObject(*run), run.Env)
	fmt.Fprintf(p.w, "Run:      %s\n", run.ID)
	fmt.Fprintf(p.w, "Status:   %s\n", run.Status)
	fmt.Fprintf(p.w, "Started:  %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(p.w, "Duration: %s\n", runDuration(*run))
	if run.Warnings > 0 {
		fmt.Fprintf(p.w, "Warnings: %d\n", run.Warnings)
	}
	if run.Error != "" {
		fmt.Fprintf(p.w, "Error:    %s\n", run.Error)
	}
	if len(objects) == 0 {
		return nil
	}
	fmt.Fprintln(p.w)
	w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLASS\tNAME\tIDENTIFIER")
	for _, o := range objects {
		ident := o.Identifier
		if ident == "" {
			ident = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.Class, o.Name, ident)
	}
	return w.Flush()
}

func runObject(r journal.Run) string {
	if r.Class == "" {
		return r.Name
	}
	return r.Class + " " + r.Name
}

func runDuration(r journal.Run) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
}
