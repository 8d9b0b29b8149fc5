package importer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/extract"
	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/repository"
	"github.com/randalmurphal/ssdeploy/internal/superset"
)

// seed stores D1, sales, Revenue and Exec in env with identifiers prefixed by p.
func seed(env *superset.Fake, p string) {
	env.Add(object.Database, object.Document{"database_name": "D1", "uuid": p + "-db"})
	env.Add(object.Dataset, object.Document{
		"table_name":    "sales",
		"uuid":          p + "-ds",
		"database_uuid": p + "-db",
		"sql":           "SELECT * FROM sales",
	})
	env.Add(object.Chart, object.Document{
		"slice_name":   "Revenue",
		"uuid":         p + "-ch",
		"dataset_uuid": p + "-ds",
	})
	env.Add(object.Dashboard, object.Document{
		"dashboard_title": "Exec",
		"uuid":            p + "-dash",
		"position": map[string]any{
			"GRID_ID": map[string]any{"type": "GRID", "children": []any{"CHART-a"}},
			"CHART-a": map[string]any{"type": "CHART", "meta": map[string]any{"uuid": p + "-ch"}},
		},
	})
}

func newImporter(t *testing.T, env *superset.Fake, repo *repository.Repository, cfg Config) *Importer {
	t.Helper()
	cfg.Env = "prod"
	cfg.Platform = env
	cfg.Repository = repo
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	return New(cfg)
}

func TestImport_ExampleIntoEmptyTarget(t *testing.T) {
	env := superset.NewFake()
	repo := writeExample(t)
	imp := newImporter(t, env, repo, Config{Credentials: StaticCredentials{"D1": "pw"}})

	res, err := imp.Import(context.Background(), object.Dashboard, "Exec")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"MAP_TARGET",
		"BUILD_ARCHIVE",
		"IMPORT_LEVEL(database)",
		"IMPORT_LEVEL(dataset)",
		"IMPORT_LEVEL(chart)",
		"IMPORT_LEVEL(dashboard)",
		"PUBLISH",
	}, res.Transitions)
	assert.Equal(t, filepath.Join(imp.cfg.WorkDir, "import_prod_dashboard_Exec.zip"), res.ArchivePath)
	assert.FileExists(t, res.ArchivePath)
	assert.Len(t, res.Staged, 4)
	assert.Empty(t, res.Warnings)

	require.Len(t, env.Imports, 4)
	var types []string
	for _, rec := range env.Imports {
		types = append(types, rec.Type)
		assert.True(t, rec.Overwrite)
		assert.Equal(t, map[string]string{"D1": "pw"}, rec.Passwords)
	}
	assert.Equal(t, []string{"Database", "SqlaTable", "Slice", "Dashboard"}, types)

	for _, c := range object.Classes() {
		assert.Len(t, env.Objects(c), 1, c.String())
	}
	dash := env.Objects(object.Dashboard)[0]
	assert.True(t, dash.Published)
	assert.Equal(t, dash.ID, res.PublishedID)
	assert.Equal(t, "u-dash-1", dash.UUID())

	ds := env.Find(object.Dataset, "u-ds-1")
	require.NotNil(t, ds)
	assert.Equal(t, "SELECT 1", ds.Doc.String("sql"))
	assert.Equal(t, "u-db-1", ds.Doc.String("database_uuid"))
}

func TestImport_RoundTripKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	env := superset.NewFake()
	seed(env, "s")
	before := make(map[object.Class][2]any)
	for _, c := range object.Classes() {
		o := env.Objects(c)[0]
		before[c] = [2]any{o.ID, o.UUID()}
	}

	repo := repository.New(filepath.Join(t.TempDir(), "deploy"))
	_, err := extract.New(extract.Config{Platform: env, Repository: repo}).
		Extract(ctx, object.Dashboard, "Exec", extract.Options{})
	require.NoError(t, err)

	imp := newImporter(t, env, repo, Config{Identifiers: PolicyTarget})
	_, err = imp.Import(ctx, object.Dashboard, "Exec")
	require.NoError(t, err)

	for _, c := range object.Classes() {
		objs := env.Objects(c)
		require.Len(t, objs, 1, "no duplicate %s", c)
		assert.Equal(t, before[c], [2]any{objs[0].ID, objs[0].UUID()}, c.String())
	}
}

func TestImport_UpdatesTargetInPlace(t *testing.T) {
	env := superset.NewFake()
	seed(env, "t")
	repo := writeExample(t)

	res, err := newImporter(t, env, repo, Config{}).Import(context.Background(), object.Dashboard, "Exec")
	require.NoError(t, err)

	for _, c := range object.Classes() {
		assert.Len(t, env.Objects(c), 1, c.String())
	}
	assert.NotNil(t, env.Find(object.Database, "t-db"))
	assert.NotNil(t, env.Find(object.Chart, "t-ch"))
	assert.Nil(t, env.Find(object.Chart, "u-ch-1"), "portable identifier lost to the target's")

	ch := env.Find(object.Chart, "t-ch")
	assert.Equal(t, "t-ds", ch.Doc.String("dataset_uuid"))
	for _, s := range res.Staged {
		assert.Equal(t, "t-", s.Identifier[:2], s.Name)
	}
}

func TestImport_MinLevel(t *testing.T) {
	env := superset.NewFake()
	repo := writeExample(t)

	res, err := newImporter(t, env, repo, Config{MinLevel: object.Chart}).
		Import(context.Background(), object.Dashboard, "Exec")
	require.NoError(t, err)
	assert.Equal(t, []object.Class{object.Chart, object.Dashboard}, res.Levels)
	require.Len(t, env.Imports, 2)
	assert.Equal(t, "Slice", env.Imports[0].Type)
	// The chart level still carries its dependencies.
	assert.Len(t, env.Objects(object.Database), 1)

	env = superset.NewFake()
	res, err = newImporter(t, env, repo, Config{MinLevel: object.Dashboard}).
		Import(context.Background(), object.Chart, "Revenue")
	require.NoError(t, err)
	assert.Equal(t, []object.Class{object.Chart}, res.Levels)
	assert.Equal(t, []string{"MAP_TARGET", "BUILD_ARCHIVE", "IMPORT_LEVEL(chart)"}, res.Transitions)
	assert.Empty(t, env.Updates)
}

func TestImport_ObjectNotInRepository(t *testing.T) {
	env := superset.NewFake()
	_, err := newImporter(t, env, writeExample(t), Config{}).Import(context.Background(), object.Dashboard, "Nope")
	assert.True(t, errors.Is(err, deployerrors.ErrObjectNotFound))
	assert.Empty(t, env.Imports)
}

func TestImport_TargetPolicyIntoEmptyTarget(t *testing.T) {
	env := superset.NewFake()
	imp := newImporter(t, env, writeExample(t), Config{Identifiers: PolicyTarget})

	_, err := imp.Import(context.Background(), object.Dashboard, "Exec")
	require.Error(t, err)
	assert.True(t, errors.Is(err, deployerrors.ErrMissingDependencyIdentifier))
	assert.Empty(t, env.Imports)
}

func TestImport_DatabaseCreatedFresh(t *testing.T) {
	env := superset.NewFake()
	env.NewUUID = func() string { return "gen-1" }
	imp := newImporter(t, env, writeExample(t), Config{Identifiers: PolicyTarget})

	res, err := imp.Import(context.Background(), object.Database, "D1")
	require.NoError(t, err)
	assert.Equal(t, []string{"MAP_TARGET", "BUILD_ARCHIVE", "IMPORT_LEVEL(database)"}, res.Transitions)
	require.Len(t, env.Objects(object.Database), 1)
	assert.Equal(t, "gen-1", env.Objects(object.Database)[0].UUID())
}

type failingCredentials struct{}

func (failingCredentials) Password(context.Context, string) (string, bool, error) {
	return "", false, errors.New("vault sealed")
}

func TestImport_CredentialFailureStopsBeforeImport(t *testing.T) {
	env := superset.NewFake()
	imp := newImporter(t, env, writeExample(t), Config{Credentials: failingCredentials{}})

	_, err := imp.Import(context.Background(), object.Chart, "Revenue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault sealed")
	assert.Empty(t, env.Imports)
}

func TestArchiveRoot(t *testing.T) {
	assert.Equal(t, "import_staging_chart_Revenue", ArchiveRoot("staging", object.Chart, "Revenue"))
}
