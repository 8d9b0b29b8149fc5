package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
)

// NewViper returns a viper instance that reads configFile, or discovers
// ssdeploy.yaml in the working directory and in $HOME/.ssdeploy, with
// SSDEPLOY_* environment overrides and built-in defaults.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/" + ConfigDir)
		v.SetConfigType("yaml")
		v.SetConfigName(ConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("deploy_path", d.DeployPath)
	v.SetDefault("work_dir", d.WorkDir)
	v.SetDefault("min_level", d.MinLevel)
	v.SetDefault("identifiers", d.Identifiers)
	v.SetDefault("name_collisions", d.NameCollisions)
	v.SetDefault("empty_dashboard_retention_days", d.EmptyDashboardRetentionDays)
	v.SetDefault("journal.driver", d.Journal.Driver)
	v.SetDefault("journal.dsn", d.Journal.DSN)
	return v
}

// LoadDotEnv loads variables from .env files into the process environment.
// Missing files are skipped and variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
		slog.Debug("loaded environment file", "path", p)
	}
	return nil
}

// Load reads the configuration through v, applies environment secrets and
// validates the result. A missing config file is not an error when it was
// discovered rather than named explicitly.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, deployerrors.ConfigInvalid("config file", err.Error())
		}
		slog.Debug("no config file found, using defaults")
	} else {
		slog.Debug("using config file", "path", v.ConfigFileUsed())
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, deployerrors.ConfigInvalid("config file", err.Error())
	}
	if cfg.Environments == nil {
		cfg.Environments = map[string]Environment{}
	}
	applyEnvSecrets(cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnvSecretVar is the variable holding the API password of an environment,
// e.g. SSDEPLOY_PROD_PASSWORD.
func EnvSecretVar(env string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(env)) + "_PASSWORD"
}

// applyEnvSecrets fills environment passwords from the process environment
// so they need not live in the config file.
func applyEnvSecrets(cfg *Config, lookup func(string) (string, bool)) {
	for name, env := range cfg.Environments {
		if pwd, ok := lookup(EnvSecretVar(name)); ok {
			env.Password = pwd
			cfg.Environments[name] = env
		}
	}
}
