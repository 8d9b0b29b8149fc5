package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/ssdeploy/internal/importer"
	"github.com/randalmurphal/ssdeploy/internal/journal"
	"github.com/randalmurphal/ssdeploy/internal/object"
)

type importOutput struct {
	Class       string           `json:"class"`
	Name        string           `json:"name"`
	DisplayName string           `json:"display_name,omitempty"`
	Archive     string           `json:"archive,omitempty"`
	Transitions []string         `json:"transitions,omitempty"`
	Staged      []journal.Object `json:"staged,omitempty"`
	PublishedID int              `json:"published_id,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
	Error       string           `json:"error,omitempty"`
}

func newImportCmd() *cobra.Command {
	var (
		envName        string
		class          string
		match          string
		minLevel       string
		identifiers    string
		askCredentials bool
	)

	cmd := &cobra.Command{
		Use:   "import [NAME...]",
		Short: "Import repository objects into an environment",
		Long: `Import builds an import archive from the repository for each named object,
resolves stable names to the identifiers the target environment uses, and
imports the archive one dependency level at a time. Dashboards are published.

Names are stable repository names, as printed by 'ssdeploy list'.

Identifier policies (--identifiers, default from the identifiers setting):
  portable  reuse the target's identifier, else the source identifier stored
            in the repository, so new objects keep their source identifiers
  target    reuse the target's identifier, else let the target assign one
  assign    like portable, but mint a fresh identifier when neither exists

Database passwords are taken from the environment's credentials map, then from
SSDEPLOY_CREDENTIAL_<DATABASE>, then from a terminal prompt with
--ask-credentials.

Examples:
  ssdeploy import --env prod Executive_Overview
  ssdeploy import --env prod --match 'Sales_*'
  ssdeploy import --env prod --class chart --min-level chart Revenue_by_Region`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (match != "") == (len(args) > 0) {
				return fmt.Errorf("give object names or --match, not both or neither")
			}
			c, err := parseClassFlag(class)
			if err != nil {
				return err
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("min-level") {
				a.cfg.MinLevel = minLevel
			}
			if cmd.Flags().Changed("identifiers") {
				a.cfg.Identifiers = identifiers
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			env, err := a.cfg.Environment(envName)
			if err != nil {
				return err
			}
			plat, err := a.connect(envName)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			names := args
			if match != "" {
				names, err = a.repo.Match(c, match)
				if err != nil {
					return err
				}
				if len(names) == 0 {
					return fmt.Errorf("no %s in the repository matches %q", c, match)
				}
			}

			creds := importer.ChainCredentials{
				importer.StaticCredentials(env.Credentials),
				importer.EnvCredentials{},
			}
			if askCredentials {
				creds = append(creds, importer.PromptCredentials{In: os.Stdin, Out: cmd.ErrOrStderr()})
			}

			imp := importer.New(importer.Config{
				Env:         envName,
				Platform:    plat,
				Repository:  a.repo,
				WorkDir:     a.cfg.ResolvedWorkDir(),
				MinLevel:    a.cfg.MinLevelClass(),
				Identifiers: a.cfg.IdentifierPolicy(),
				Collisions:  a.cfg.CollisionPolicy(),
				Credentials: creds,
				Logger:      a.logger.With("env", envName),
			})
			p := newPrinter(cmd)

			var outputs []importOutput
			var failures []error
			err = a.locked(ctx, func(j *journal.Journal) error {
				for _, name := range names {
					out := importOutput{Class: c.String(), Name: name}
					runErr := a.record(ctx, j, journal.KindImport, envName, c, name, func() ([]journal.Object, int, error) {
						res, err := imp.Import(ctx, c, name)
						if res != nil {
							out.DisplayName = res.DisplayName
							out.Archive = res.ArchivePath
							out.Transitions = res.Transitions
							out.PublishedID = res.PublishedID
							out.Warnings = errorStrings(res.Warnings)
							for _, s := range res.Staged {
								out.Staged = append(out.Staged, journal.Object{
									Class: s.Class.String(), Name: s.Name, Identifier: s.Identifier,
								})
							}
						}
						return out.Staged, len(out.Warnings), err
					})
					if runErr != nil {
						out.Error = runErr.Error()
						failures = append(failures, fmt.Errorf("%s %q: %w", c, name, runErr))
					}
					outputs = append(outputs, out)
					if !jsonOut {
						printImport(p, out)
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

	cmd.Flags().StringVarP(&envName, "env", "e", "", "target environment (required)")
	cmd.Flags().StringVarP(&class, "class", "c", object.Dashboard.String(), "object class: database, dataset, chart or dashboard")
	cmd.Flags().StringVar(&match, "match", "", "import every repository object whose stable name matches this glob")
	cmd.Flags().StringVar(&minLevel, "min-level", "", "lowest dependency class to import (overrides min_level)")
	cmd.Flags().StringVar(&identifiers, "identifiers", "", "identifier policy: target, portable or assign (overrides identifiers)")
	cmd.Flags().BoolVar(&askCredentials, "ask-credentials", false, "prompt for database passwords not found elsewhere")
	_ = cmd.MarkFlagRequired("env")
	return cmd
}

func printImport(p *printer, out importOutput) {
	label := out.Name
	if out.DisplayName != "" && out.DisplayName != out.Name {
		label = fmt.Sprintf("%s (%s)", out.Name, out.DisplayName)
	}
	if out.Error != "" {
		p.fail("%s %s: %s", out.Class, label, out.Error)
		return
	}
	detail := fmt.Sprintf("(%d staged)", len(out.Staged))
	if out.PublishedID != 0 {
		detail = fmt.Sprintf("(%d staged, published as id %d)", len(out.Staged), out.PublishedID)
	}
	p.ok("%s %s %s", out.Class, label, p.dim(detail))
	for _, w := range out.Warnings {
		p.warn("%s", w)
	}
}
