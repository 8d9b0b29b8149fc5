package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/repository"
	"github.com/randalmurphal/ssdeploy/internal/superset"
)

// seedExample stores database D1, dataset sales, chart Revenue and dashboard
// Exec, wired together by identifier.
func seedExample(env *superset.Fake) {
	env.Add(object.Database, object.Document{
		"database_name":  "D1",
		"uuid":           "u-db-1",
		"sqlalchemy_uri": "postgresql://reader@db/sales",
	})
	env.Add(object.Dataset, object.Document{
		"table_name":    "sales",
		"uuid":          "u-ds-1",
		"database_uuid": "u-db-1",
		"sql":           "SELECT * FROM sales",
	})
	env.Add(object.Chart, object.Document{
		"slice_name":   "Revenue",
		"uuid":         "u-ch-1",
		"dataset_uuid": "u-ds-1",
		"viz_type":     "big_number",
	})
	env.Add(object.Dashboard, object.Document{
		"dashboard_title": "Exec",
		"uuid":            "u-dash-1",
		"position": map[string]any{
			"ROOT_ID": map[string]any{"type": "ROOT", "children": []any{"GRID_ID"}},
			"GRID_ID": map[string]any{"type": "GRID", "children": []any{"CHART-abc"}},
			"CHART-abc": map[string]any{
				"type": "CHART",
				"meta": map[string]any{"uuid": "u-ch-1", "chartId": 3, "width": 4},
			},
		},
		"metadata": map[string]any{
			"native_filter_configuration": []any{
				map[string]any{
					"id":      "NATIVE_FILTER-1",
					"targets": []any{map[string]any{"datasetUuid": "u-ds-1", "column": map[string]any{"name": "region"}}},
				},
			},
		},
	})
}

func newExtractor(t *testing.T, env *superset.Fake, policy CollisionPolicy) (*Extractor, *repository.Repository) {
	t.Helper()
	repo := repository.New(filepath.Join(t.TempDir(), "deploy"))
	return New(Config{Platform: env, Repository: repo, Collisions: policy}), repo
}

func TestExtract_Example(t *testing.T) {
	env := superset.NewFake()
	seedExample(env)
	ex, repo := newExtractor(t, env, "")

	res, err := ex.Extract(context.Background(), object.Dashboard, "Exec", Options{})
	require.NoError(t, err)
	assert.True(t, res.Found())
	assert.Empty(t, res.Warnings)
	assert.Len(t, res.Written, 4)

	for _, f := range []string{"database/D1.yaml", "dataset/sales.yaml", "dataset/sales.sql", "chart/Revenue.yaml", "dashboard/Exec.yaml"} {
		assert.FileExists(t, filepath.Join(repo.Root(), f))
	}

	ds, err := repo.Read(object.Dataset, "sales")
	require.NoError(t, err)
	assert.Equal(t, "D1", ds.String(object.DatabaseNameKey))
	assert.False(t, ds.Has("database_uuid"))
	assert.Equal(t, "#file:sales.sql#", ds.String("sql"))
	query, ok, err := repo.ReadSidecar("sales")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM sales", query)

	ch, err := repo.Read(object.Chart, "Revenue")
	require.NoError(t, err)
	assert.Equal(t, "sales", ch.String(object.DatasetNameKey))
	assert.False(t, ch.Has("dataset_uuid"))

	dash, err := repo.Read(object.Dashboard, "Exec")
	require.NoError(t, err)
	meta := object.AsMap(object.AsMap(dash.Map("position")["CHART-abc"])["meta"])
	assert.Equal(t, "Revenue", meta[object.ChartNameKey])
	assert.NotContains(t, meta, "uuid")
	target := object.AsMap(object.AsList(object.AsMap(object.AsList(dash.Map("metadata")["native_filter_configuration"])[0])["targets"])[0])
	assert.Equal(t, "sales", target[object.DatasetNameKey])
	assert.NotContains(t, target, "datasetUuid")
	assert.Equal(t, "Exec", dash.String("slug"))

	reg := res.Registry
	for c, pair := range map[object.Class][2]string{
		object.Database:  {"u-db-1", "D1"},
		object.Dataset:   {"u-ds-1", "sales"},
		object.Chart:     {"u-ch-1", "Revenue"},
		object.Dashboard: {"u-dash-1", "Exec"},
	} {
		name, ok := reg.LookupByID(c, pair[0])
		require.True(t, ok, c.String())
		assert.Equal(t, pair[1], name)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	env := superset.NewFake()
	seedExample(env)
	ex, repo := newExtractor(t, env, "")

	_, err := ex.Extract(context.Background(), object.Dashboard, "Exec", Options{})
	require.NoError(t, err)
	first := snapshot(t, repo.Root())

	_, err = ex.Extract(context.Background(), object.Dashboard, "Exec", Options{})
	require.NoError(t, err)
	assert.Equal(t, first, snapshot(t, repo.Root()))
}

func TestExtract_DroppedQueryRemovesSidecar(t *testing.T) {
	env := superset.NewFake()
	seedExample(env)
	ex, repo := newExtractor(t, env, "")

	_, err := ex.Extract(context.Background(), object.Dashboard, "Exec", Options{})
	require.NoError(t, err)
	require.FileExists(t, repo.SidecarPath("sales"))

	// The dataset became a physical table.
	delete(env.Find(object.Dataset, "u-ds-1").Doc, "sql")

	_, err = ex.Extract(context.Background(), object.Dashboard, "Exec", Options{})
	require.NoError(t, err)
	assert.NoFileExists(t, repo.SidecarPath("sales"))
	_, ok, err := repo.ReadSidecar("sales")
	require.NoError(t, err)
	assert.False(t, ok)

	ds, err := repo.Read(object.Dataset, "sales")
	require.NoError(t, err)
	assert.False(t, ds.Has("sql"))
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestExtract_RegistryOnlyWritesNothing(t *testing.T) {
	env := superset.NewFake()
	seedExample(env)
	ex, repo := newExtractor(t, env, "")

	res, err := ex.Extract(context.Background(), object.Dashboard, "Exec", Options{RegistryOnly: true})
	require.NoError(t, err)
	assert.Empty(t, res.Written)
	assert.Equal(t, 1, res.Registry.Len(object.Chart))
	assert.NoDirExists(t, repo.Root())
}

func TestExtract_NotFound(t *testing.T) {
	env := superset.NewFake()
	ex, _ := newExtractor(t, env, "")

	_, err := ex.Extract(context.Background(), object.Dashboard, "Ghost", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, deployerrors.ErrObjectNotFound))

	res, err := ex.Extract(context.Background(), object.Dashboard, "Ghost", Options{RegistryOnly: true})
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Zero(t, res.Registry.Len(object.Dashboard))
}

func TestExtract_BrokenReferencesAreDropped(t *testing.T) {
	env := superset.NewFake()
	seedExample(env)
	env.Add(object.Chart, object.Document{"slice_name": "Orphan", "uuid": "u-ch-2"})
	dash := env.Add(object.Dashboard, object.Document{
		"dashboard_title": "Ops",
		"uuid":            "u-dash-2",
		"slug":            "ops-board",
		"position": map[string]any{
			"GRID_ID":      map[string]any{"type": "GRID", "children": []any{"CHART-ok", "CHART-orphan"}},
			"CHART-ok":     map[string]any{"type": "CHART", "meta": map[string]any{"uuid": "u-ch-1"}},
			"CHART-orphan": map[string]any{"type": "CHART", "meta": map[string]any{"uuid": "u-ch-2"}},
		},
		"metadata": map[string]any{
			"native_filter_configuration": []any{
				map[string]any{"targets": []any{
					map[string]any{"datasetUuid": "u-ds-1"},
					map[string]any{"datasetUuid": "u-missing"},
				}},
			},
		},
	})
	ex, repo := newExtractor(t, env, "")

	res, err := ex.Extract(context.Background(), object.Dashboard, "Ops", Options{})
	require.NoError(t, err)
	assert.Equal(t, dash.ID, res.SourceID)
	require.Len(t, res.Warnings, 2)
	for _, w := range res.Warnings {
		assert.True(t, errors.Is(w, deployerrors.ErrBrokenReference))
	}
	assert.False(t, repo.Exists(object.Chart, "Orphan"))

	doc, err := repo.Read(object.Dashboard, "Ops")
	require.NoError(t, err)
	position := doc.Map("position")
	assert.Contains(t, position, "CHART-ok")
	assert.NotContains(t, position, "CHART-orphan")
	assert.Equal(t, []any{"CHART-ok"}, object.AsMap(position["GRID_ID"])["children"])

	targets := object.AsList(object.AsMap(object.AsList(doc.Map("metadata")["native_filter_configuration"])[0])["targets"])
	require.Len(t, targets, 1)
	assert.Equal(t, "sales", object.AsMap(targets[0])[object.DatasetNameKey])
	assert.Equal(t, "ops-board", doc.String("slug"))
}

func TestExtract_DatasetWithUnknownDatabaseIsSkipped(t *testing.T) {
	env := superset.NewFake()
	env.Add(object.Dataset, object.Document{"table_name": "lost", "uuid": "u-ds-9", "database_uuid": "u-db-9"})
	ex, repo := newExtractor(t, env, "")

	res, err := ex.Extract(context.Background(), object.Dataset, "lost", Options{})
	require.NoError(t, err)
	assert.Len(t, res.Warnings, 1)
	assert.Empty(t, res.Written)
	assert.False(t, repo.Exists(object.Dataset, "lost"))
}

func TestExtract_SelectsHighestID(t *testing.T) {
	env := superset.NewFake()
	env.Add(object.Database, object.Document{"database_name": "D1", "uuid": "old"})
	newer := env.Add(object.Database, object.Document{"database_name": "D1", "uuid": "new"})
	ex, _ := newExtractor(t, env, "")

	res, err := ex.Extract(context.Background(), object.Database, "D1", Options{})
	require.NoError(t, err)
	assert.Equal(t, newer.ID, res.SourceID)
	id, ok := res.Registry.LookupByName(object.Database, "D1")
	require.True(t, ok)
	assert.Equal(t, "new", id)
}

func TestExtract_NameCollision(t *testing.T) {
	seed := func() *superset.Fake {
		env := superset.NewFake()
		seedExample(env)
		env.Add(object.Chart, object.Document{"slice_name": "Revenue!", "uuid": "u-ch-9", "dataset_uuid": "u-ds-1"})
		dash := env.Objects(object.Dashboard)[0]
		position := dash.Doc.Map("position")
		position["CHART-dup"] = map[string]any{"type": "CHART", "meta": map[string]any{"uuid": "u-ch-9"}}
		return env
	}

	ex, _ := newExtractor(t, seed(), CollisionError)
	_, err := ex.Extract(context.Background(), object.Dashboard, "Exec", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, deployerrors.ErrNameCollision))

	ex, _ = newExtractor(t, seed(), CollisionOverwrite)
	res, err := ex.Extract(context.Background(), object.Dashboard, "Exec", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Registry.Len(object.Chart))
}

func TestExtract_UnknownContentType(t *testing.T) {
	env := superset.NewFake()
	seedExample(env)
	env.ExportContentType = "text/html"
	ex, _ := newExtractor(t, env, "")

	_, err := ex.Extract(context.Background(), object.Dashboard, "Exec", Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, deployerrors.ErrUnknownContentType))
}

func TestParseCollisionPolicy(t *testing.T) {
	p, err := ParseCollisionPolicy("")
	require.NoError(t, err)
	assert.Equal(t, CollisionError, p)

	p, err = ParseCollisionPolicy("overwrite")
	require.NoError(t, err)
	assert.Equal(t, CollisionOverwrite, p)

	_, err = ParseCollisionPolicy("merge")
	assert.Error(t, err)
}
