// Package bundle reads, writes and patches platform export/import archives.
//
// An export bundle is a zip with a single root directory:
//
//	<root>/metadata.yaml
//	<root>/databases/<file>
//	<root>/datasets/<database>/<file>
//	<root>/charts/<file>
//	<root>/dashboards/<file>
package bundle

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/object"
)

// Index classifies the members of a bundle by class and, for datasets, by the
// owning database directory. Every list is sorted.
type Index struct {
	root    string
	members map[object.Class][]string
	owners  map[string][]string
}

// Classify builds an Index from member paths. Every member must sit under the
// same root directory. Paths under an unrecognized class segment are ignored; paths under a recognized segment that do not
// match the expected shape fail with MalformedBundle.
func Classify(paths []string) (*Index, error) {
	ix := &Index{
		members: make(map[object.Class][]string),
		owners:  make(map[string][]string),
	}

	for _, p := range paths {
		if p == "" || strings.HasSuffix(p, "/") {
			continue
		}
		parts := strings.Split(p, "/")
		if len(parts) < 2 {
			return nil, deployerrors.MalformedBundle(p, "member is not inside a root directory")
		}
		if ix.root == "" {
			ix.root = parts[0]
		} else if parts[0] != ix.root {
			return nil, deployerrors.MalformedBundle(p, fmt.Sprintf("second root directory, archive root is %q", ix.root))
		}
		class, ok := object.ClassFromArchiveDir(parts[1])
		if !ok {
			continue
		}
		for _, part := range parts {
			if part == "" {
				return nil, deployerrors.MalformedBundle(p, "empty path segment")
			}
		}

		if class == object.Dataset {
			if len(parts) != 4 {
				return nil, deployerrors.MalformedBundle(p, "datasets must live at <root>/datasets/<database>/<file>")
			}
			ix.owners[parts[2]] = append(ix.owners[parts[2]], p)
		} else if len(parts) != 3 {
			return nil, deployerrors.MalformedBundle(p, fmt.Sprintf("%s must live at <root>/%s/<file>", class, class.ArchiveDir()))
		}
		ix.members[class] = append(ix.members[class], p)
	}

	for c := range ix.members {
		sort.Strings(ix.members[c])
	}
	for owner := range ix.owners {
		sort.Strings(ix.owners[owner])
	}
	return ix, nil
}

// Root returns the root directory of the first classified member path.
func (ix *Index) Root() string {
	return ix.root
}

// Members returns the member paths of class c. Datasets are grouped by owner,
// owners in sorted order.
func (ix *Index) Members(c object.Class) []string {
	if c != object.Dataset {
		return ix.members[c]
	}
	var out []string
	for _, owner := range ix.Owners() {
		out = append(out, ix.owners[owner]...)
	}
	return out
}

// Owners returns the database directories that own datasets.
func (ix *Index) Owners() []string {
	owners := make([]string, 0, len(ix.owners))
	for owner := range ix.owners {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners
}

// DatasetsOf returns the dataset members owned by one database directory.
func (ix *Index) DatasetsOf(owner string) []string {
	return ix.owners[owner]
}

// Len returns the total number of classified members.
func (ix *Index) Len() int {
	n := 0
	for _, m := range ix.members {
		n += len(m)
	}
	return n
}

// Archive is an opened, classified bundle.
type Archive struct {
	zr    *zip.Reader
	files map[string]*zip.File
	Index *Index
}

// Read opens a bundle from memory and classifies its members.
func Read(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, deployerrors.MalformedBundle("<archive>", "not a zip archive").WithCause(err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	paths := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
		paths = append(paths, f.Name)
	}

	ix, err := Classify(paths)
	if err != nil {
		return nil, err
	}
	return &Archive{zr: zr, files: files, Index: ix}, nil
}

// ReadMember returns the contents of one member.
func (a *Archive) ReadMember(path string) ([]byte, error) {
	f, ok := a.files[path]
	if !ok {
		return nil, fmt.Errorf("member %s not in archive", path)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open member %s: %w", path, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read member %s: %w", path, err)
	}
	return data, nil
}

// Metadata decodes the metadata member under the bundle root.
func (a *Archive) Metadata() (Metadata, error) {
	member := path.Join(a.Index.Root(), MetadataFile)
	data, err := a.ReadMember(member)
	if err != nil {
		return Metadata{}, deployerrors.MalformedBundle(member, "metadata member missing").WithCause(err)
	}
	return DecodeMetadata(data)
}

// ReadDocument decodes one member as an object document.
func (a *Archive) ReadDocument(path string) (object.Document, error) {
	data, err := a.ReadMember(path)
	if err != nil {
		return nil, err
	}
	doc, err := object.DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", path, err)
	}
	return doc, nil
}
