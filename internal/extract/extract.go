// Package extract expands platform export bundles into the portable repository.
package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/ssdeploy/internal/bundle"
	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/naming"
	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/registry"
	"github.com/randalmurphal/ssdeploy/internal/repository"
	"github.com/randalmurphal/ssdeploy/internal/superset"
)

// Platform is the part of the platform client the extractor needs.
type Platform interface {
	FindByName(ctx context.Context, cls object.Class, name string) ([]superset.Summary, error)
	Export(ctx context.Context, cls object.Class, ids []int) ([]byte, error)
}

// SelectionPolicy picks one object when several share a display name.
type SelectionPolicy int

const (
	// SelectHighestID picks the largest identifier. Identifiers are assumed to
	// be assigned monotonically, so this approximates the most recent object.
	SelectHighestID SelectionPolicy = iota
)

// CollisionPolicy decides what happens when two distinct identifiers
// normalize to the same stable name.
type CollisionPolicy string

const (
	CollisionError     CollisionPolicy = "error"
	CollisionOverwrite CollisionPolicy = "overwrite"
)

// ParseCollisionPolicy validates a configured collision policy. Empty means error.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch CollisionPolicy(s) {
	case "", CollisionError:
		return CollisionError, nil
	case CollisionOverwrite:
		return CollisionOverwrite, nil
	default:
		return "", fmt.Errorf("unknown name collision policy %q (want error or overwrite)", s)
	}
}

// Config wires an Extractor.
type Config struct {
	Platform   Platform
	Repository *repository.Repository
	Normalizer naming.Normalizer
	Selection  SelectionPolicy
	Collisions CollisionPolicy
	Logger     *slog.Logger
}

// Options controls a single extraction.
type Options struct {
	// RegistryOnly populates the registry without touching the repository.
	RegistryOnly bool
}

// Written is one portable document produced by an extraction.
type Written struct {
	Class      object.Class
	Name       string
	Identifier string
}

// Result describes an extraction.
type Result struct {
	Registry *registry.Registry
	// SourceID is the platform id of the selected object, 0 when none was found.
	SourceID int
	Written  []Written
	// Warnings are the recovered broken references.
	Warnings []error
}

// Found reports whether the requested object existed.
func (r *Result) Found() bool {
	return r.SourceID != 0
}

// Extractor walks export bundles bottom-up and rewrites identifier references
// into stable-name references.
type Extractor struct {
	platform   Platform
	repo       *repository.Repository
	normalizer naming.Normalizer
	selection  SelectionPolicy
	collisions CollisionPolicy
	logger     *slog.Logger
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	normalizer := cfg.Normalizer
	if normalizer == nil {
		normalizer = naming.Transliterator{}
	}
	collisions := cfg.Collisions
	if collisions == "" {
		collisions = CollisionError
	}
	return &Extractor{
		platform:   cfg.Platform,
		repo:       cfg.Repository,
		normalizer: normalizer,
		selection:  cfg.Selection,
		collisions: collisions,
		logger:     logger,
	}
}

// run carries the per-extraction state.
type run struct {
	*Extractor
	opts   Options
	reg    *registry.Registry
	result *Result
}

// Extract locates the object of class cls named displayName, exports it and
// expands the bundle. In registry-only mode a missing object is not an error.
func (e *Extractor) Extract(ctx context.Context, cls object.Class, displayName string, opts Options) (*Result, error) {
	r := &run{
		Extractor: e,
		opts:      opts,
		reg:       registry.New(),
	}
	r.result = &Result{Registry: r.reg}

	// 1. Locate the source object
	matches, err := e.platform.FindByName(ctx, cls, displayName)
	if err != nil {
		return nil, fmt.Errorf("find %s %q: %w", cls, displayName, err)
	}
	selected, ok := e.selectOne(matches)
	if !ok {
		if opts.RegistryOnly {
			e.logger.Debug("object absent, registry left empty", "class", cls, "name", displayName)
			return r.result, nil
		}
		return nil, deployerrors.ObjectNotFound(cls.String(), displayName, "the source environment")
	}
	r.result.SourceID = selected.ID
	e.logger.Info("extracting", "class", cls, "name", displayName, "id", selected.ID,
		"matches", len(matches), "registry_only", opts.RegistryOnly)

	// 2. Export and classify
	data, err := e.platform.Export(ctx, cls, []int{selected.ID})
	if err != nil {
		return nil, fmt.Errorf("export %s %d: %w", cls, selected.ID, err)
	}
	archive, err := bundle.Read(data)
	if err != nil {
		return nil, err
	}

	// 3. Leaves first: later classes resolve earlier ones by plain lookup
	for _, c := range object.Classes() {
		for _, member := range archive.Index.Members(c) {
			if err := r.member(archive, c, member); err != nil {
				return nil, err
			}
		}
	}

	e.logger.Info("extraction complete", "class", cls, "name", displayName,
		"written", len(r.result.Written), "warnings", len(r.result.Warnings))
	return r.result, nil
}

func (e *Extractor) selectOne(matches []superset.Summary) (superset.Summary, bool) {
	// SelectHighestID is the only policy so far.
	return superset.HighestID(matches)
}

func (r *run) member(archive *bundle.Archive, c object.Class, member string) error {
	doc, err := archive.ReadDocument(member)
	if err != nil {
		return err
	}
	display := doc.DisplayName(c)
	name, err := r.normalizer.StableName(display)
	if err != nil {
		return deployerrors.MalformedBundle(member, fmt.Sprintf("%s %q: %v", c, display, err))
	}
	id := doc.Identity()

	var sidecar string
	keep := true
	switch c {
	case object.Dataset:
		sidecar, keep = r.dataset(doc, name)
	case object.Chart:
		keep = r.chart(doc, name)
	case object.Dashboard:
		r.dashboard(doc, name)
	}
	if !keep {
		return nil
	}

	if err := r.register(c, id, name); err != nil {
		return err
	}
	if r.opts.RegistryOnly {
		return nil
	}
	return r.write(c, name, id, doc, sidecar)
}

// register binds id to name, applying the collision policy.
func (r *run) register(c object.Class, id, name string) error {
	if id == "" {
		r.logger.Warn("document carries no identifier", "class", c, "name", name)
		return nil
	}
	if existing, clash := r.reg.Conflict(c, id, name); clash {
		if r.collisions == CollisionError {
			return deployerrors.NameCollision(c.String(), name, existing, id)
		}
		r.logger.Warn("stable name collision, last write wins", "class", c, "name", name,
			"previous_id", existing, "id", id)
	}
	r.reg.Set(c, id, name)
	return nil
}

func (r *run) write(c object.Class, name, id string, doc object.Document, sidecar string) error {
	created, err := r.repo.EnsureDir(c)
	if err != nil {
		return err
	}
	if created {
		r.logger.Info("created repository directory", "dir", r.repo.Dir(c))
	}
	if c == object.Dataset {
		// A side-car left by an earlier extraction would be inlined at import.
		var err error
		if sidecar != "" {
			err = r.repo.WriteSidecar(name, sidecar)
		} else {
			err = r.repo.RemoveSidecar(name)
		}
		if err != nil {
			return err
		}
	}
	if err := r.repo.Write(c, name, doc); err != nil {
		return err
	}
	r.result.Written = append(r.result.Written, Written{Class: c, Name: name, Identifier: id})
	r.logger.Debug("wrote document", "class", c, "name", name, "id", id)
	return nil
}

// warn records a recovered broken reference.
func (r *run) warn(from object.Class, fromName string, to object.Class, ref string) {
	err := deployerrors.BrokenReference(from.String(), fromName, to.String(), ref)
	r.result.Warnings = append(r.result.Warnings, err)
	r.logger.Warn(err.What, "class", from, "name", fromName, "ref_class", to, "ref", ref)
}
