// Package repository stores the portable, name-addressed object graph on disk.
//
// Layout:
//
//	<root>/<class>/<stable-name>.yaml
//	<root>/dataset/<stable-name>.sql    (optional query side-car)
package repository

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/util"
)

const (
	// DocumentExt is the extension of portable documents.
	DocumentExt = ".yaml"
	// SidecarExt is the extension of dataset query side-cars.
	SidecarExt = ".sql"
)

// Repository is a portable repository rooted at a directory.
type Repository struct {
	root string
}

// New returns a repository rooted at root. Nothing is created until the first write.
func New(root string) *Repository {
	return &Repository{root: root}
}

// Root returns the repository root directory.
func (r *Repository) Root() string {
	return r.root
}

// Dir returns the directory holding documents of class c.
func (r *Repository) Dir(c object.Class) string {
	return filepath.Join(r.root, c.String())
}

// DocumentPath returns the document path of a stable name.
func (r *Repository) DocumentPath(c object.Class, name string) string {
	return filepath.Join(r.Dir(c), name+DocumentExt)
}

// SidecarFile returns the side-car file name of a dataset.
func SidecarFile(name string) string {
	return name + SidecarExt
}

// SidecarPath returns the side-car path of a dataset.
func (r *Repository) SidecarPath(name string) string {
	return filepath.Join(r.Dir(object.Dataset), SidecarFile(name))
}

// EnsureDir creates the class directory and reports whether it was created.
func (r *Repository) EnsureDir(c object.Class) (bool, error) {
	dir := r.Dir(c)
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("create %s directory: %w", c, err)
	}
	return true, nil
}

// Exists reports whether a document exists.
func (r *Repository) Exists(c object.Class, name string) bool {
	_, err := os.Stat(r.DocumentPath(c, name))
	return err == nil
}

// Read loads a document. A missing document yields ObjectNotFound.
func (r *Repository) Read(c object.Class, name string) (object.Document, error) {
	path := r.DocumentPath(c, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, deployerrors.ObjectNotFound(c.String(), name, "the portable repository").WithCause(err)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := object.DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Write stores a document atomically, overwriting any previous version.
func (r *Repository) Write(c object.Class, name string, doc object.Document) error {
	data, err := doc.Encode()
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(r.DocumentPath(c, name), data, 0644)
}

// ReadSidecar returns the query text of a dataset side-car and whether it exists.
func (r *Repository) ReadSidecar(name string) (string, bool, error) {
	data, err := os.ReadFile(r.SidecarPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read side-car %s: %w", name, err)
	}
	return string(data), true, nil
}

// WriteSidecar stores dataset query text.
func (r *Repository) WriteSidecar(name, query string) error {
	return util.AtomicWriteFile(r.SidecarPath(name), []byte(query), 0644)
}

// RemoveSidecar deletes the side-car of a dataset. A missing side-car is not an error.
func (r *Repository) RemoveSidecar(name string) error {
	if err := os.Remove(r.SidecarPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove side-car %s: %w", name, err)
	}
	return nil
}

// Names returns the stable names of every document of class c, sorted.
func (r *Repository) Names(c object.Class) ([]string, error) {
	entries, err := os.ReadDir(r.Dir(c))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", c, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), DocumentExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), DocumentExt))
	}
	sort.Strings(names)
	return names, nil
}

// DisplayNames returns the original display names stored in the documents of
// class c, in stable-name order.
func (r *Repository) DisplayNames(c object.Class) ([]string, error) {
	names, err := r.Names(c)
	if err != nil {
		return nil, err
	}
	display := make([]string, 0, len(names))
	for _, n := range names {
		doc, err := r.Read(c, n)
		if err != nil {
			return nil, err
		}
		display = append(display, doc.DisplayName(c))
	}
	return display, nil
}

// Match returns the stable names of class c matching a doublestar glob.
func (r *Repository) Match(c object.Class, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid pattern %q", pattern)
	}
	names, err := r.Names(c)
	if err != nil {
		return nil, err
	}
	var matched []string
	for _, n := range names {
		ok, err := doublestar.Match(pattern, n)
		if err != nil {
			return nil, fmt.Errorf("match %q: %w", pattern, err)
		}
		if ok {
			matched = append(matched, n)
		}
	}
	return matched, nil
}
