// Package config provides configuration management for ssdeploy.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/randalmurphal/ssdeploy/internal/db/driver"
	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/extract"
	"github.com/randalmurphal/ssdeploy/internal/importer"
	"github.com/randalmurphal/ssdeploy/internal/journal"
	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/superset"
)

const (
	// ConfigName is the config file name without extension.
	ConfigName = "ssdeploy"
	// ConfigDir is the per-user config directory under $HOME.
	ConfigDir = ".ssdeploy"
	// EnvPrefix prefixes every environment variable override.
	EnvPrefix = "SSDEPLOY"
)

// Defaults.
const (
	DefaultDeployPath     = "deploy"
	DefaultMinLevel       = "database"
	DefaultRetentionDays  = 2
	DefaultJournalDriver  = "sqlite"
	DefaultIdentifiers    = string(importer.PolicyPortable)
	DefaultNameCollisions = string(extract.CollisionError)
)

// Environment is one platform environment.
type Environment struct {
	APIEndpoint string        `mapstructure:"api_endpoint" yaml:"api_endpoint"`
	Username    string        `mapstructure:"username" yaml:"username"`
	Password    string        `mapstructure:"password" yaml:"password,omitempty"`
	Provider    string        `mapstructure:"provider" yaml:"provider,omitempty"`
	RetryMax    int           `mapstructure:"retry_max" yaml:"retry_max,omitempty"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	PageSize    int           `mapstructure:"page_size" yaml:"page_size,omitempty"`

	// Credentials maps database stable names to their passwords for import.
	Credentials map[string]string `mapstructure:"credentials" yaml:"credentials,omitempty"`
}

// ClientConfig converts the environment into platform client settings.
func (e Environment) ClientConfig() superset.Config {
	return superset.Config{
		APIEndpoint: e.APIEndpoint,
		Username:    e.Username,
		Password:    e.Password,
		Provider:    e.Provider,
		RetryMax:    e.RetryMax,
		Timeout:     e.Timeout,
		PageSize:    e.PageSize,
	}
}

// JournalConfig selects the run history database.
type JournalConfig struct {
	// Driver is sqlite or postgres.
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN defaults to <deploy_path>/.ssdeploy/journal.db for sqlite.
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`
}

// Config represents the ssdeploy configuration.
type Config struct {
	// DeployPath is the root of the portable repository.
	DeployPath string `mapstructure:"deploy_path" yaml:"deploy_path"`
	// WorkDir holds import archives. Defaults to <deploy_path>/.ssdeploy/work.
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir,omitempty"`

	MinLevel       string `mapstructure:"min_level" yaml:"min_level"`
	Identifiers    string `mapstructure:"identifiers" yaml:"identifiers"`
	NameCollisions string `mapstructure:"name_collisions" yaml:"name_collisions"`

	EmptyDashboardRetentionDays int `mapstructure:"empty_dashboard_retention_days" yaml:"empty_dashboard_retention_days"`

	Environments map[string]Environment `mapstructure:"environments" yaml:"environments"`
	Journal      JournalConfig          `mapstructure:"journal" yaml:"journal"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DeployPath:                  DefaultDeployPath,
		MinLevel:                    DefaultMinLevel,
		Identifiers:                 DefaultIdentifiers,
		NameCollisions:              DefaultNameCollisions,
		EmptyDashboardRetentionDays: DefaultRetentionDays,
		Environments:                map[string]Environment{},
		Journal:                     JournalConfig{Driver: DefaultJournalDriver},
	}
}

// Validate checks every field and fills derived defaults.
func (c *Config) Validate() error {
	if c.DeployPath == "" {
		return deployerrors.ConfigMissing("deploy_path")
	}
	if _, err := object.ParseClass(c.MinLevel); err != nil {
		return deployerrors.ConfigInvalid("min_level", err.Error())
	}
	if _, err := importer.ParseIdentifierPolicy(c.Identifiers); err != nil {
		return deployerrors.ConfigInvalid("identifiers", err.Error())
	}
	if _, err := extract.ParseCollisionPolicy(c.NameCollisions); err != nil {
		return deployerrors.ConfigInvalid("name_collisions", err.Error())
	}
	if c.EmptyDashboardRetentionDays < 0 {
		return deployerrors.ConfigInvalid("empty_dashboard_retention_days", "must not be negative")
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = DefaultJournalDriver
	}
	dialect, err := driver.ParseDialect(c.Journal.Driver)
	if err != nil {
		return deployerrors.ConfigInvalid("journal.driver", err.Error())
	}
	if dialect == driver.DialectPostgres && c.Journal.DSN == "" {
		return deployerrors.ConfigMissing("journal.dsn")
	}

	for _, name := range c.EnvironmentNames() {
		env := c.Environments[name]
		field := "environments." + name
		if env.APIEndpoint == "" {
			return deployerrors.ConfigMissing(field + ".api_endpoint")
		}
		if env.RetryMax < 0 {
			return deployerrors.ConfigInvalid(field+".retry_max", "must not be negative")
		}
		if env.Timeout < 0 {
			return deployerrors.ConfigInvalid(field+".timeout", "must not be negative")
		}
		if env.Provider == "" {
			env.Provider = superset.DefaultProvider
			c.Environments[name] = env
		}
	}
	return nil
}

// EnvironmentNames returns the configured environment names, sorted.
func (c *Config) EnvironmentNames() []string {
	names := make([]string, 0, len(c.Environments))
	for name := range c.Environments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Environment returns the named environment.
func (c *Config) Environment(name string) (Environment, error) {
	if name == "" {
		return Environment{}, deployerrors.ConfigMissing("--env")
	}
	env, ok := c.Environments[name]
	if !ok {
		return Environment{}, deployerrors.ConfigMissing("environments." + name)
	}
	return env, nil
}

// MinLevelClass returns min_level as a class. Call after Validate.
func (c *Config) MinLevelClass() object.Class {
	cls, err := object.ParseClass(c.MinLevel)
	if err != nil {
		return object.Database
	}
	return cls
}

// IdentifierPolicy returns identifiers as a policy. Call after Validate.
func (c *Config) IdentifierPolicy() importer.IdentifierPolicy {
	p, _ := importer.ParseIdentifierPolicy(c.Identifiers)
	return p
}

// CollisionPolicy returns name_collisions as a policy. Call after Validate.
func (c *Config) CollisionPolicy() extract.CollisionPolicy {
	p, _ := extract.ParseCollisionPolicy(c.NameCollisions)
	return p
}

// Retention is the age after which empty untitled dashboards are deleted.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.EmptyDashboardRetentionDays) * 24 * time.Hour
}

// ResolvedWorkDir returns the directory import archives are built in.
func (c *Config) ResolvedWorkDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	return filepath.Join(c.DeployPath, journal.Dir, "work")
}

// JournalTarget returns the dialect and DSN of the run history database.
func (c *Config) JournalTarget() (driver.Dialect, string, error) {
	dialect, err := driver.ParseDialect(c.Journal.Driver)
	if err != nil {
		return "", "", deployerrors.ConfigInvalid("journal.driver", err.Error())
	}
	dsn := c.Journal.DSN
	if dsn == "" && dialect == driver.DialectSQLite {
		dsn = journal.DefaultPath(c.DeployPath)
	}
	return dialect, dsn, nil
}

// Redacted returns a copy safe to print, with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Environments = make(map[string]Environment, len(c.Environments))
	for name, env := range c.Environments {
		if env.Password != "" {
			env.Password = mask
		}
		if len(env.Credentials) > 0 {
			creds := make(map[string]string, len(env.Credentials))
			for db := range env.Credentials {
				creds[db] = mask
			}
			env.Credentials = creds
		}
		out.Environments[name] = env
	}
	if c.Journal.DSN != "" && c.Journal.Driver != DefaultJournalDriver {
		out.Journal.DSN = mask
	}
	return &out
}

const mask = "********"

// String renders a short description, used in debug logs.
func (c *Config) String() string {
	return fmt.Sprintf("deploy_path=%s environments=%v min_level=%s identifiers=%s",
		c.DeployPath, c.EnvironmentNames(), c.MinLevel, c.Identifiers)
}
