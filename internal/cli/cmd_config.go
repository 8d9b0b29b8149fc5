package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/ssdeploy/internal/config"
)

// newConfigCmd creates the config command with subcommands.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View configuration",
		Long: `View the ssdeploy configuration.

Configuration is loaded with this priority:
  1. Environment variables (SSDEPLOY_*, also read from ./.env)
  2. The file given with --config, else ./ssdeploy.yaml or ~/.ssdeploy/ssdeploy.yaml
  3. Built-in defaults

An environment password may also come from SSDEPLOY_<ENV>_PASSWORD.

Examples:
  ssdeploy config show
  ssdeploy config get environments.prod.api_endpoint`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigGetCmd())
	return cmd
}

func loadViperConfig() (*viper.Viper, *config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, nil, err
	}
	v := config.NewViper(cfgFile)
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

// newConfigShowCmd creates the 'config show' subcommand.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, cfg, err := loadViperConfig()
			if err != nil {
				return err
			}
			p := newPrinter(cmd)
			if jsonOut {
				doc, err := configTree(cfg.Redacted())
				if err != nil {
					return err
				}
				return p.json(doc)
			}
			if used := v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(p.w, "# loaded from %s\n", used)
			} else {
				fmt.Fprintln(p.w, "# no config file found, showing defaults")
			}
			return printConfigAsYAML(p.w, cfg.Redacted())
		},
	}
}

// newConfigGetCmd creates the 'config get' subcommand.
func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a single configuration value",
		Long: `Get a configuration value by key. Keys use dot notation.

Secrets are never printed; ask for the parent key to see that one is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, _, err := loadViperConfig()
			if err != nil {
				return err
			}
			key := strings.ToLower(args[0])
			if isSecretKey(key) {
				return fmt.Errorf("%s is a secret and is not printed", key)
			}
			if !v.IsSet(key) {
				return fmt.Errorf("config key %q is not set", key)
			}
			p := newPrinter(cmd)
			if jsonOut {
				return p.json(map[string]any{key: v.Get(key)})
			}
			fmt.Fprintln(p.w, v.Get(key))
			return nil
		},
	}
}

func isSecretKey(key string) bool {
	return strings.HasSuffix(key, ".password") || strings.Contains(key, ".credentials") || key == "journal.dsn"
}

func printConfigAsYAML(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// configTree converts the configuration into the generic tree its YAML form
// describes, so JSON output uses the same keys.
func configTree(cfg *config.Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return tree, nil
}
