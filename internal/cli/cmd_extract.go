package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/ssdeploy/internal/extract"
	"github.com/randalmurphal/ssdeploy/internal/journal"
	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/superset"
)

type extractOutput struct {
	Class    string           `json:"class"`
	Name     string           `json:"name"`
	SourceID int              `json:"source_id"`
	Written  []journal.Object `json:"written"`
	Warnings []string         `json:"warnings,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func newExtractCmd() *cobra.Command {
	var (
		envName string
		class   string
		all     bool
	)

	cmd := &cobra.Command{
		Use:   "extract [NAME...]",
		Short: "Extract objects from an environment into the repository",
		Long: `Extract exports the named objects, together with everything they depend on,
and stores them in the repository keyed by stable names instead of identifiers.

Names are display names as shown in the environment. When several objects share
a name the one with the highest id is extracted.

Examples:
  ssdeploy extract --env dev "Executive Overview"
  ssdeploy extract --env dev --class chart "Revenue by Region"
  ssdeploy extract --env dev --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("give object names or --all, not both or neither")
			}
			c, err := parseClassFlag(class)
			if err != nil {
				return err
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			plat, err := a.connect(envName)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			names := args
			if all {
				summaries, err := plat.FindAll(ctx, c)
				if err != nil {
					return err
				}
				names = uniqueNames(summaries)
			}

			ex := extract.New(extract.Config{
				Platform:   plat,
				Repository: a.repo,
				Selection:  extract.SelectHighestID,
				Collisions: a.cfg.CollisionPolicy(),
				Logger:     a.logger.With("env", envName),
			})
			p := newPrinter(cmd)

			var outputs []extractOutput
			var failures []error
			err = a.locked(ctx, func(j *journal.Journal) error {
				for _, name := range names {
					out := extractOutput{Class: c.String(), Name: name}
					runErr := a.record(ctx, j, journal.KindExtract, envName, c, name, func() ([]journal.Object, int, error) {
						res, err := ex.Extract(ctx, c, name, extract.Options{})
						if err != nil {
							return nil, 0, err
						}
						out.SourceID = res.SourceID
						out.Warnings = errorStrings(res.Warnings)
						for _, w := range res.Written {
							out.Written = append(out.Written, journal.Object{
								Class: w.Class.String(), Name: w.Name, Identifier: w.Identifier,
							})
						}
						return out.Written, len(res.Warnings), nil
					})
					if runErr != nil {
						out.Error = runErr.Error()
						failures = append(failures, fmt.Errorf("%s %q: %w", c, name, runErr))
					}
					outputs = append(outputs, out)
					if !jsonOut {
						printExtract(p, out)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			if jsonOut {
				if err := p.json(outputs); err != nil {
					return err
				}
			}
			return errors.Join(failures...)
		},
	}

	cmd.Flags().StringVarP(&envName, "env", "e", "", "source environment (required)")
	cmd.Flags().StringVarP(&class, "class", "c", object.Dashboard.String(), "object class: database, dataset, chart or dashboard")
	cmd.Flags().BoolVar(&all, "all", false, "extract every object of the class")
	_ = cmd.MarkFlagRequired("env")
	return cmd
}

func printExtract(p *printer, out extractOutput) {
	if out.Error != "" {
		p.fail("%s %q: %s", out.Class, out.Name, out.Error)
		return
	}
	p.ok("%s %q %s", out.Class, out.Name, p.dim(fmt.Sprintf("(id %d, %d written)", out.SourceID, len(out.Written))))
	for _, w := range out.Warnings {
		p.warn("%s", w)
	}
}

// uniqueNames returns the distinct display names in listing order.
func uniqueNames(summaries []superset.Summary) []string {
	seen := make(map[string]bool, len(summaries))
	var names []string
	for _, s := range summaries {
		if s.Name == "" || seen[s.Name] {
			continue
		}
		seen[s.Name] = true
		names = append(names, s.Name)
	}
	return names
}
