package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/ssdeploy/internal/object"
)

type listEntry struct {
	Class       string `json:"class"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	ID          int    `json:"id,omitempty"`
	UUID        string `json:"uuid,omitempty"`
}

// newListCmd creates the list command
func newListCmd() *cobra.Command {
	var (
		envName string
		class   string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List repository or environment objects",
		Long: `List the objects stored in the repository, or with --env the objects of an
environment.

Example:
  ssdeploy list
  ssdeploy list --class chart
  ssdeploy list --env prod --class dashboard`,
		RunE: func(cmd *cobra.Command, args []string) error {
			classes := object.Classes()
			if class != "" {
				c, err := parseClassFlag(class)
				if err != nil {
					return err
				}
				classes = []object.Class{c}
			}
			a, err := loadApp()
			if err != nil {
				return err
			}

			var entries []listEntry
			if envName != "" {
				plat, err := a.connect(envName)
				if err != nil {
					return err
				}
				for _, c := range classes {
					summaries, err := plat.FindAll(cmd.Context(), c)
					if err != nil {
						return err
					}
					for _, s := range summaries {
						entries = append(entries, listEntry{
							Class: c.String(), DisplayName: s.Name, ID: s.ID, UUID: s.UUID,
						})
					}
				}
			} else {
				for _, c := range classes {
					names, err := a.repo.Names(c)
					if err != nil {
						return err
					}
					display, err := a.repo.DisplayNames(c)
					if err != nil {
						return err
					}
					for i, n := range names {
						entries = append(entries, listEntry{Class: c.String(), Name: n, DisplayName: display[i]})
					}
				}
			}

			p := newPrinter(cmd)
			if jsonOut {
				return p.json(entries)
			}
			if len(entries) == 0 {
				if envName != "" {
					fmt.Fprintf(p.w, "No objects found in %s.\n", envName)
				} else {
					fmt.Fprintf(p.w, "Repository %s is empty. Populate it with: ssdeploy extract --env <env> <name>\n", a.repo.Root())
				}
				return nil
			}

			w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
			if envName != "" {
				fmt.Fprintln(w, "CLASS\tID\tUUID\tNAME")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.Class, e.ID, e.UUID, e.DisplayName)
				}
			} else {
				fmt.Fprintln(w, "CLASS\tNAME\tDISPLAY NAME")
				for _, e := range entries {
					fmt.Fprintf(w, "%s\t%s\t%s\n", e.Class, e.Name, e.DisplayName)
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&envName, "env", "e", "", "list an environment instead of the repository")
	cmd.Flags().StringVarP(&class, "class", "c", "", "only this object class")
	return cmd
}
