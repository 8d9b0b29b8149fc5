// Package importer stages portable objects into import archives and drives the
// level-by-level import into a target environment.
package importer

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/ssdeploy/internal/bundle"
	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/registry"
	"github.com/randalmurphal/ssdeploy/internal/repository"
)

// IdentifierPolicy decides where a staged object's identifier comes from when
// the target registry does not know it.
type IdentifierPolicy string

const (
	// PolicyTarget only reuses identifiers the target already has. Everything
	// else is created fresh by the target.
	PolicyTarget IdentifierPolicy = "target"
	// PolicyPortable falls back to the identifier carried by the portable document.
	PolicyPortable IdentifierPolicy = "portable"
	// PolicyAssign falls back to the portable identifier, then to a new random one.
	PolicyAssign IdentifierPolicy = "assign"
)

// ParseIdentifierPolicy validates a configured policy. Empty means portable.
func ParseIdentifierPolicy(s string) (IdentifierPolicy, error) {
	switch IdentifierPolicy(s) {
	case "", PolicyPortable:
		return PolicyPortable, nil
	case PolicyTarget, PolicyAssign:
		return IdentifierPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown identifier policy %q (want target, portable or assign)", s)
	}
}

// maxDepth is the number of object classes; every dependency ranks strictly
// lower than its dependent.
const maxDepth = 4

// Staged is one object written into an import archive.
type Staged struct {
	Class object.Class
	Name  string
	// Owner is the owning database of a dataset.
	Owner string
	// Identifier is empty when the target assigns one.
	Identifier string
	Member     string
}

// BuildResult describes a built archive.
type BuildResult struct {
	ArchivePath string
	Root        string
	Staged      []Staged
	Warnings    []error
}

// Databases returns the stable names of the staged databases.
func (r *BuildResult) Databases() []string {
	var names []string
	for _, s := range r.Staged {
		if s.Class == object.Database {
			names = append(names, s.Name)
		}
	}
	return names
}

// Builder stages an object and its transitive dependencies into an archive.
type Builder struct {
	repo   *repository.Repository
	reg    *registry.Registry
	policy IdentifierPolicy
	newID  func() string
	now    func() time.Time
	logger *slog.Logger
}

// NewBuilder creates a Builder. reg holds the identifiers already known to the
// target; a nil registry behaves as an empty one.
func NewBuilder(repo *repository.Repository, reg *registry.Registry, policy IdentifierPolicy, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = registry.New()
	}
	if policy == "" {
		policy = PolicyPortable
	}
	return &Builder{repo: repo, reg: reg, policy: policy, newID: uuid.NewString, now: time.Now, logger: logger}
}

type stageKey struct {
	class object.Class
	name  string
}

// build carries the state of one Build call.
type build struct {
	*Builder
	w      *bundle.Writer
	staged map[stageKey]string
	result *BuildResult
}

// Build writes the archive at archivePath under root, holding the object of
// class c named name and everything it depends on, each exactly once. A
// partially written archive is removed on failure.
func (b *Builder) Build(archivePath, root string, c object.Class, name string) (*BuildResult, error) {
	w, err := bundle.Create(archivePath, root)
	if err != nil {
		return nil, err
	}
	s := &build{
		Builder: b,
		w:       w,
		staged:  make(map[stageKey]string),
		result:  &BuildResult{ArchivePath: archivePath, Root: root},
	}

	_, err = s.stage(c, name, 0)
	if err == nil {
		err = w.WriteMetadata(bundle.NewMetadata(c, b.now()))
	}
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(archivePath)
		return nil, err
	}

	b.logger.Info("import archive built", "archive", archivePath, "objects", len(s.result.Staged),
		"warnings", len(s.result.Warnings))
	return s.result, nil
}

// identity resolves the identifier a staged object will carry.
func (s *build) identity(c object.Class, name string, doc object.Document) string {
	if id, ok := s.reg.LookupByName(c, name); ok {
		return id
	}
	if s.policy == PolicyTarget {
		return ""
	}
	if id := doc.Identity(); id != "" {
		return id
	}
	if s.policy == PolicyAssign {
		return s.newID()
	}
	return ""
}

// stage writes one object after its dependencies and returns its identifier.
func (s *build) stage(c object.Class, name string, depth int) (string, error) {
	key := stageKey{class: c, name: name}
	if id, ok := s.staged[key]; ok {
		return id, nil
	}
	if depth >= maxDepth {
		return "", fmt.Errorf("dependency chain too deep at %s %q", c, name)
	}

	doc, err := s.repo.Read(c, name)
	if err != nil {
		return "", err
	}

	id := s.identity(c, name, doc)
	if id != "" {
		doc[object.IdentityField] = id
	} else {
		delete(doc, object.IdentityField)
	}

	var owner string
	switch c {
	case object.Dataset:
		owner, err = s.dataset(doc, name, depth)
	case object.Chart:
		err = s.chart(doc, name, depth)
	case object.Dashboard:
		err = s.dashboard(doc, name, depth)
	}
	if err != nil {
		return "", err
	}

	member, err := s.w.WriteDocument(c, owner, name, doc)
	if err != nil {
		return "", err
	}
	s.staged[key] = id
	s.result.Staged = append(s.result.Staged, Staged{Class: c, Name: name, Owner: owner, Identifier: id, Member: member})
	s.logger.Debug("staged", "class", c, "name", name, "id", id, "member", member)
	return id, nil
}

// dependency stages a referenced object and requires it to end up with an
// identifier.
func (s *build) dependency(from object.Class, fromName string, to object.Class, toName string, depth int) (string, error) {
	id, err := s.stage(to, toName, depth+1)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", deployerrors.MissingDependencyIdentifier(from.String(), fromName, to.String(), toName)
	}
	return id, nil
}

func (s *build) dataset(doc object.Document, name string, depth int) (string, error) {
	dbName := doc.String(object.DatabaseNameKey)
	if dbName == "" {
		return "", fmt.Errorf("dataset %q has no %s", name, object.DatabaseNameKey)
	}
	dbID, err := s.dependency(object.Dataset, name, object.Database, dbName, depth)
	if err != nil {
		return "", err
	}
	doc[object.DatasetDatabaseField] = dbID
	delete(doc, object.DatabaseNameKey)

	query, ok, err := s.repo.ReadSidecar(name)
	if err != nil {
		return "", err
	}
	if ok {
		doc[object.DatasetQueryField] = query
	}
	return dbName, nil
}

func (s *build) chart(doc object.Document, name string, depth int) error {
	dsName := doc.String(object.DatasetNameKey)
	if dsName == "" {
		return fmt.Errorf("chart %q has no %s", name, object.DatasetNameKey)
	}
	dsID, err := s.dependency(object.Chart, name, object.Dataset, dsName, depth)
	if err != nil {
		return err
	}
	doc[object.ChartDatasetField] = dsID
	delete(doc, object.DatasetNameKey)
	return nil
}

// dashboard stages filter-target datasets and layout charts. References to
// objects missing from the repository are dropped with a warning.
func (s *build) dashboard(doc object.Document, name string, depth int) error {
	for _, f := range object.AsList(doc.Map(object.DashboardMetaField)[object.NativeFiltersField]) {
		filter := object.AsMap(f)
		targets := object.AsList(filter[object.FilterTargetsField])
		if targets == nil {
			continue
		}
		kept := make([]any, 0, len(targets))
		for _, t := range targets {
			target := object.AsMap(t)
			dsName, marked := target[object.DatasetNameKey].(string)
			if !marked {
				kept = append(kept, t)
				continue
			}
			if !s.repo.Exists(object.Dataset, dsName) {
				s.broken(name, object.Dataset, dsName)
				continue
			}
			dsID, err := s.dependency(object.Dashboard, name, object.Dataset, dsName, depth)
			if err != nil {
				return err
			}
			target[object.FilterDatasetField] = dsID
			delete(target, object.DatasetNameKey)
			kept = append(kept, target)
		}
		filter[object.FilterTargetsField] = kept
	}

	position := doc.Map(object.DashboardLayoutField)
	var removed []string
	for _, key := range sortedKeys(position) {
		entry := position[key]
		if !object.IsChartPosition(key, entry) {
			continue
		}
		meta := object.AsMap(object.AsMap(entry)[object.LayoutMetaField])
		chartName, marked := meta[object.ChartNameKey].(string)
		if !marked {
			continue
		}
		if !s.repo.Exists(object.Chart, chartName) {
			s.broken(name, object.Chart, chartName)
			removed = append(removed, key)
			continue
		}
		chartID, err := s.dependency(object.Dashboard, name, object.Chart, chartName, depth)
		if err != nil {
			return err
		}
		meta[object.IdentityField] = chartID
		delete(meta, object.ChartNameKey)
	}
	if len(removed) > 0 {
		object.PruneLayout(position, removed)
	}
	return nil
}

func (s *build) broken(dashboard string, to object.Class, ref string) {
	err := deployerrors.BrokenReference(object.Dashboard.String(), dashboard, to.String(), ref)
	s.result.Warnings = append(s.result.Warnings, err)
	s.logger.Warn(err.What, "class", object.Dashboard, "name", dashboard, "ref_class", to, "ref", ref)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
