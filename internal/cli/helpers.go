package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/randalmurphal/ssdeploy/internal/config"
	"github.com/randalmurphal/ssdeploy/internal/importer"
	"github.com/randalmurphal/ssdeploy/internal/journal"
	"github.com/randalmurphal/ssdeploy/internal/lock"
	"github.com/randalmurphal/ssdeploy/internal/maintenance"
	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/repository"
	"github.com/randalmurphal/ssdeploy/internal/superset"
)

// platform is everything the commands ask of an environment.
type platform interface {
	importer.Platform
	maintenance.Platform
}

// newPlatform connects to an environment. Tests replace it.
var newPlatform = func(env config.Environment, logger *slog.Logger) (platform, error) {
	cc := env.ClientConfig()
	cc.Logger = logger
	return superset.NewClient(cc)
}

// app is the loaded configuration shared by the commands.
type app struct {
	cfg    *config.Config
	repo   *repository.Repository
	logger *slog.Logger
}

func loadApp() (*app, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.NewViper(cfgFile))
	if err != nil {
		return nil, err
	}
	logger := slog.Default()
	logger.Debug("configuration loaded", "config", cfg.String())
	return &app{cfg: cfg, repo: repository.New(cfg.DeployPath), logger: logger}, nil
}

// connect opens the named environment.
func (a *app) connect(envName string) (platform, error) {
	env, err := a.cfg.Environment(envName)
	if err != nil {
		return nil, err
	}
	return newPlatform(env, a.logger.With("env", envName))
}

// locked runs fn while holding the repository guard. The journal passed to fn
// is nil when it cannot be opened; runs then go unrecorded.
func (a *app) locked(ctx context.Context, fn func(j *journal.Journal) error) error {
	guard := lock.NewPIDGuard(a.cfg.DeployPath)
	if err := guard.Acquire(); err != nil {
		return err
	}
	defer guard.Release()

	j, err := a.openJournal(ctx)
	if err != nil {
		a.logger.Warn("run history unavailable", "error", err)
		return fn(nil)
	}
	defer func() { _ = j.Close() }()
	return fn(j)
}

func (a *app) openJournal(ctx context.Context) (*journal.Journal, error) {
	dialect, dsn, err := a.cfg.JournalTarget()
	if err != nil {
		return nil, err
	}
	return journal.Open(ctx, dialect, dsn)
}

// record wraps one unit of work in a journal run.
func (a *app) record(ctx context.Context, j *journal.Journal, kind journal.Kind, env string, c object.Class, name string,
	fn func() (objects []journal.Object, warnings int, err error)) error {
	if j == nil {
		_, _, err := fn()
		return err
	}
	run, err := j.Start(ctx, kind, env, c.String(), name)
	if err != nil {
		a.logger.Warn("could not record run", "error", err)
		_, _, err := fn()
		return err
	}
	objects, warnings, runErr := fn()
	if err := j.Finish(ctx, run, objects, warnings, runErr); err != nil {
		a.logger.Warn("could not record run outcome", "run", run.ID, "error", err)
	}
	return runErr
}

// printer renders command output, styled on a terminal and plain elsewhere.
type printer struct {
	w      io.Writer
	styled bool
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

func newPrinter(cmd *cobra.Command) *printer {
	w := cmd.OutOrStdout()
	return &printer{w: w, styled: !jsonOut && isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) paint(s lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return s.Render(text)
}

func (p *printer) title(format string, args ...any) {
	fmt.Fprintln(p.w, p.paint(titleStyle, fmt.Sprintf(format, args...)))
}

func (p *printer) ok(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.paint(okStyle, "✓"), fmt.Sprintf(format, args...))
}

func (p *printer) warn(format string, args ...any) {
	fmt.Fprintf(p.w, "  %s %s\n", p.paint(warnStyle, "!"), fmt.Sprintf(format, args...))
}

func (p *printer) fail(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.paint(errStyle, "✗"), fmt.Sprintf(format, args...))
}

func (p *printer) dim(text string) string {
	return p.paint(dimStyle, text)
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// errorStrings flattens warnings for JSON output.
func errorStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func parseClassFlag(s string) (object.Class, error) {
	c, err := object.ParseClass(s)
	if err != nil {
		return 0, fmt.Errorf("--class: %w", err)
	}
	return c, nil
}
