package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/randalmurphal/ssdeploy/internal/bundle"
	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/extract"
	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/repository"
	"github.com/randalmurphal/ssdeploy/internal/superset"
)

// Platform is the part of the target platform client the importer needs.
type Platform interface {
	extract.Platform
	Import(ctx context.Context, cls object.Class, archive []byte, overwrite bool, passwords map[string]string) error
	Update(ctx context.Context, cls object.Class, id int, fields map[string]any) error
}

// State is a step of an import run.
type State string

const (
	StateMapTarget    State = "MAP_TARGET"
	StateBuildArchive State = "BUILD_ARCHIVE"
	StateImportLevel  State = "IMPORT_LEVEL"
	StatePublish      State = "PUBLISH"
)

// Config wires an Importer.
type Config struct {
	// Env names the target environment; it is part of the archive name.
	Env         string
	Platform    Platform
	Repository  *repository.Repository
	WorkDir     string
	MinLevel    object.Class
	Identifiers IdentifierPolicy
	Collisions  extract.CollisionPolicy
	Credentials CredentialSource
	Logger      *slog.Logger
}

// Result describes an import run.
type Result struct {
	Class       object.Class
	Name        string
	DisplayName string
	ArchivePath string
	// Transitions lists the states passed through, e.g. "IMPORT_LEVEL(chart)".
	Transitions []string
	Levels      []object.Class
	Staged      []Staged
	Warnings    []error
	// PublishedID is the target id of a published dashboard.
	PublishedID int
}

// Importer drives MAP_TARGET, BUILD_ARCHIVE, one IMPORT_LEVEL per class and
// PUBLISH for dashboards.
type Importer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Importer.
func New(cfg Config) *Importer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Identifiers == "" {
		cfg.Identifiers = PolicyPortable
	}
	if cfg.Credentials == nil {
		cfg.Credentials = StaticCredentials(nil)
	}
	return &Importer{cfg: cfg, logger: logger, now: time.Now}
}

// ArchiveRoot is the root directory inside the import archive of one run.
func ArchiveRoot(env string, c object.Class, name string) string {
	return fmt.Sprintf("import_%s_%s_%s", env, c, name)
}

func (imp *Importer) enter(res *Result, s State, detail string) {
	label := string(s)
	if detail != "" {
		label += "(" + detail + ")"
	}
	res.Transitions = append(res.Transitions, label)
	imp.logger.Info("import state", "state", label, "class", res.Class, "name", res.Name, "env", imp.cfg.Env)
}

// Import imports the repository object of class c with stable name name.
func (imp *Importer) Import(ctx context.Context, c object.Class, name string) (*Result, error) {
	doc, err := imp.cfg.Repository.Read(c, name)
	if err != nil {
		return nil, err
	}
	res := &Result{Class: c, Name: name, DisplayName: doc.DisplayName(c)}

	// 1. Discover what the target already has under this name
	imp.enter(res, StateMapTarget, "")
	ex := extract.New(extract.Config{
		Platform:   imp.cfg.Platform,
		Repository: imp.cfg.Repository,
		Collisions: imp.cfg.Collisions,
		Logger:     imp.logger,
	})
	mapped, err := ex.Extract(ctx, c, res.DisplayName, extract.Options{RegistryOnly: true})
	if err != nil {
		return nil, fmt.Errorf("map target: %w", err)
	}

	// 2. Stage the archive
	imp.enter(res, StateBuildArchive, "")
	root := ArchiveRoot(imp.cfg.Env, c, name)
	res.ArchivePath = filepath.Join(imp.cfg.WorkDir, root+".zip")
	built, err := NewBuilder(imp.cfg.Repository, mapped.Registry, imp.cfg.Identifiers, imp.logger).
		Build(res.ArchivePath, root, c, name)
	if err != nil {
		return nil, err
	}
	res.Staged = built.Staged
	res.Warnings = append(res.Warnings, built.Warnings...)

	passwords, err := imp.passwords(ctx, built.Databases())
	if err != nil {
		return nil, err
	}

	// 3. One submission per level, each declaring its own type
	res.Levels = object.Levels(c, imp.cfg.MinLevel)
	metadataMember := path.Join(root, bundle.MetadataFile)
	for _, level := range res.Levels {
		imp.enter(res, StateImportLevel, level.String())
		meta, err := bundle.NewMetadata(level, imp.now()).Encode()
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		if err := bundle.PatchMember(res.ArchivePath, metadataMember, meta); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(res.ArchivePath)
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if err := imp.cfg.Platform.Import(ctx, level, data, true, passwords); err != nil {
			return nil, fmt.Errorf("import %s level: %w", level, err)
		}
	}

	// 4. Dashboards stay hidden until published
	if c == object.Dashboard {
		imp.enter(res, StatePublish, "")
		id, err := imp.publish(ctx, res.DisplayName)
		if err != nil {
			return nil, err
		}
		res.PublishedID = id
	}

	imp.logger.Info("import complete", "class", c, "name", name, "env", imp.cfg.Env,
		"objects", len(res.Staged), "warnings", len(res.Warnings))
	return res, nil
}

func (imp *Importer) passwords(ctx context.Context, databases []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, db := range databases {
		pwd, ok, err := imp.cfg.Credentials.Password(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("credential for database %q: %w", db, err)
		}
		if ok {
			out[db] = pwd
		}
	}
	return out, nil
}

func (imp *Importer) publish(ctx context.Context, displayName string) (int, error) {
	matches, err := imp.cfg.Platform.FindByName(ctx, object.Dashboard, displayName)
	if err != nil {
		return 0, fmt.Errorf("find imported dashboard: %w", err)
	}
	best, ok := superset.HighestID(matches)
	if !ok {
		return 0, deployerrors.ObjectNotFound(object.Dashboard.String(), displayName, "the target environment after import")
	}
	if err := imp.cfg.Platform.Update(ctx, object.Dashboard, best.ID, map[string]any{object.DashboardPublishField: true}); err != nil {
		return 0, fmt.Errorf("publish dashboard %d: %w", best.ID, err)
	}
	return best.ID, nil
}
