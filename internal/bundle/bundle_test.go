package bundle

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/object"
)

func buildZip(t *testing.T, comment string, members map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	require.NoError(t, zw.SetComment(comment))
	for name, content := range members {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readZip(t *testing.T, path string) (*zip.ReadCloser, map[string]string) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = zr.Close() })

	contents := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		var b bytes.Buffer
		_, err = b.ReadFrom(rc)
		require.NoError(t, err)
		_ = rc.Close()
		contents[f.Name] = b.String()
	}
	return zr, contents
}

func TestClassify(t *testing.T) {
	ix, err := Classify([]string{
		"export/metadata.yaml",
		"export/databases/D1.yaml",
		"export/datasets/D1/sales.yaml",
		"export/datasets/D1/costs.yaml",
		"export/datasets/A0/users.yaml",
		"export/charts/Revenue_1.yaml",
		"export/dashboards/Exec_1.yaml",
		"export/reports/ignored.yaml",
		"export/charts/",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"export/databases/D1.yaml"}, ix.Members(object.Database))
	assert.Equal(t, []string{"export/charts/Revenue_1.yaml"}, ix.Members(object.Chart))
	assert.Equal(t, []string{"export/dashboards/Exec_1.yaml"}, ix.Members(object.Dashboard))
	assert.Equal(t, []string{"A0", "D1"}, ix.Owners())
	assert.Equal(t, []string{"export/datasets/D1/costs.yaml", "export/datasets/D1/sales.yaml"}, ix.DatasetsOf("D1"))
	assert.Equal(t, []string{
		"export/datasets/A0/users.yaml",
		"export/datasets/D1/costs.yaml",
		"export/datasets/D1/sales.yaml",
	}, ix.Members(object.Dataset))
	assert.Equal(t, 6, ix.Len())
}

func TestClassify_Malformed(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"no root", "metadata.yaml"},
		{"dataset without owner", "export/datasets/sales.yaml"},
		{"dataset too deep", "export/datasets/D1/x/sales.yaml"},
		{"chart nested", "export/charts/sub/Revenue.yaml"},
		{"empty segment", "export/databases//D1.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify([]string{tt.path})
			require.Error(t, err)
			assert.True(t, errors.Is(err, deployerrors.ErrMalformedBundle))
		})
	}
}

func TestClassify_SecondRoot(t *testing.T) {
	_, err := Classify([]string{
		"export/databases/D1.yaml",
		"other/charts/Revenue.yaml",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, deployerrors.ErrMalformedBundle))

	// Ignored members count too: metadata must sit under the archive root.
	_, err = Classify([]string{"export/databases/D1.yaml", "stray/metadata.yaml"})
	assert.True(t, errors.Is(err, deployerrors.ErrMalformedBundle))
}

func TestRead(t *testing.T) {
	data := buildZip(t, "", map[string]string{
		"export/metadata.yaml":     "version: 1.0.0\ntype: Database\ntimestamp: x\n",
		"export/databases/D1.yaml": "database_name: D1\nuuid: u-db-1\n",
	})

	a, err := Read(data)
	require.NoError(t, err)
	assert.Equal(t, "export", a.Index.Root())

	meta, err := a.Metadata()
	require.NoError(t, err)
	assert.Equal(t, "Database", meta.Type)

	doc, err := a.ReadDocument("export/databases/D1.yaml")
	require.NoError(t, err)
	assert.Equal(t, "u-db-1", doc.Identity())

	_, err = a.ReadMember("export/missing.yaml")
	assert.Error(t, err)
}

func TestRead_NotZip(t *testing.T) {
	_, err := Read([]byte("not a zip"))
	assert.True(t, errors.Is(err, deployerrors.ErrMalformedBundle))
}

func TestPatchMember_ReplacesAndPreserves(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "import.zip")
	require.NoError(t, os.WriteFile(archive, buildZip(t, "keep me", map[string]string{
		"root/metadata.yaml":       "type: Database\n",
		"root/databases/D1.yaml":   "database_name: D1\n",
		"root/charts/Revenue.yaml": "slice_name: Revenue\n",
	}), 0644))

	require.NoError(t, PatchMember(archive, "root/metadata.yaml", []byte("type: Slice\n")))

	zr, contents := readZip(t, archive)
	assert.Equal(t, "keep me", zr.Comment)
	assert.Len(t, contents, 3)
	assert.Equal(t, "type: Slice\n", contents["root/metadata.yaml"])
	assert.Equal(t, "database_name: D1\n", contents["root/databases/D1.yaml"])
	assert.Equal(t, "slice_name: Revenue\n", contents["root/charts/Revenue.yaml"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary archive may remain")
}

func TestPatchMember_Inserts(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "import.zip")
	require.NoError(t, os.WriteFile(archive, buildZip(t, "", map[string]string{
		"root/databases/D1.yaml": "database_name: D1\n",
	}), 0644))

	require.NoError(t, PatchMember(archive, "root/metadata.yaml", []byte("type: Database\n")))

	_, contents := readZip(t, archive)
	assert.Len(t, contents, 2)
	assert.Equal(t, "type: Database\n", contents["root/metadata.yaml"])
}

func TestPatchMember_CorruptArchiveLeftInPlace(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "import.zip")
	require.NoError(t, os.WriteFile(archive, []byte("garbage"), 0644))

	err := PatchMember(archive, "root/metadata.yaml", []byte("x"))
	require.Error(t, err)

	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(data))
}

func TestWriter(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "out", "import.zip")

	w, err := Create(archive, "import_prod_dashboard_Exec")
	require.NoError(t, err)

	member, err := w.WriteDocument(object.Dataset, "D1", "sales", object.Document{"table_name": "sales"})
	require.NoError(t, err)
	assert.Equal(t, "import_prod_dashboard_Exec/datasets/D1/sales.yaml", member)

	_, err = w.WriteDocument(object.Chart, "", "Revenue", object.Document{"slice_name": "Revenue"})
	require.NoError(t, err)
	require.NoError(t, w.WriteMetadata(NewMetadata(object.Database, time.Unix(0, 0))))
	require.NoError(t, w.Close())

	_, contents := readZip(t, archive)
	assert.Contains(t, contents, "import_prod_dashboard_Exec/charts/Revenue.yaml")
	assert.Contains(t, contents["import_prod_dashboard_Exec/metadata.yaml"], "type: Database")
	assert.Len(t, w.Members(), 3)
}
