package repository

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/object"
)

func TestWriteAndRead(t *testing.T) {
	repo := New(t.TempDir())

	doc := object.Document{"table_name": "sales", "uuid": "u-ds-1", object.DatabaseNameKey: "D1"}
	require.NoError(t, repo.Write(object.Dataset, "sales", doc))

	assert.FileExists(t, filepath.Join(repo.Root(), "dataset", "sales.yaml"))
	assert.True(t, repo.Exists(object.Dataset, "sales"))

	got, err := repo.Read(object.Dataset, "sales")
	require.NoError(t, err)
	assert.Equal(t, "D1", got.String(object.DatabaseNameKey))
}

func TestReadMissing(t *testing.T) {
	repo := New(t.TempDir())

	_, err := repo.Read(object.Chart, "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, deployerrors.ErrObjectNotFound))
}

func TestSidecar(t *testing.T) {
	repo := New(t.TempDir())

	_, ok, err := repo.ReadSidecar("sales")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.WriteSidecar("sales", "SELECT 1"))
	query, ok, err := repo.ReadSidecar("sales")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SELECT 1", query)
	assert.Equal(t, "sales.sql", SidecarFile("sales"))

	require.NoError(t, repo.RemoveSidecar("sales"))
	_, ok, err = repo.ReadSidecar("sales")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, repo.RemoveSidecar("sales"), "removing a missing side-car is a no-op")
}

func TestEnsureDir(t *testing.T) {
	repo := New(t.TempDir())

	created, err := repo.EnsureDir(object.Chart)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.EnsureDir(object.Chart)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestNamesDisplayNamesAndMatch(t *testing.T) {
	repo := New(t.TempDir())
	require.NoError(t, repo.Write(object.Dashboard, "Exec", object.Document{"dashboard_title": "Exec"}))
	require.NoError(t, repo.Write(object.Dashboard, "Sales_Overview", object.Document{"dashboard_title": "Sales Overview"}))
	require.NoError(t, repo.Write(object.Dashboard, "Sales_Daily", object.Document{"dashboard_title": "Sales Daily"}))
	require.NoError(t, os.WriteFile(filepath.Join(repo.Dir(object.Dashboard), "notes.txt"), []byte("x"), 0644))

	names, err := repo.Names(object.Dashboard)
	require.NoError(t, err)
	assert.Equal(t, []string{"Exec", "Sales_Daily", "Sales_Overview"}, names)

	display, err := repo.DisplayNames(object.Dashboard)
	require.NoError(t, err)
	assert.Equal(t, []string{"Exec", "Sales Daily", "Sales Overview"}, display)

	matched, err := repo.Match(object.Dashboard, "Sales_*")
	require.NoError(t, err)
	assert.Equal(t, []string{"Sales_Daily", "Sales_Overview"}, matched)

	_, err = repo.Match(object.Dashboard, "[")
	assert.Error(t, err)

	none, err := repo.Names(object.Database)
	require.NoError(t, err)
	assert.Empty(t, none)
}
