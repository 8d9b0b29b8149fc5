package bundle

import (
	"archive/zip"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/object"
)

// MetadataFile is the metadata member name under the archive root.
const MetadataFile = "metadata.yaml"

// MetadataVersion is the bundle format version declared in metadata.
const MetadataVersion = "1.0.0"

// Metadata declares the single platform type imported by one submission.
type Metadata struct {
	Version   string `yaml:"version"`
	Type      string `yaml:"type"`
	Timestamp string `yaml:"timestamp"`
}

// NewMetadata returns the metadata for importing class c.
func NewMetadata(c object.Class, now time.Time) Metadata {
	return Metadata{
		Version:   MetadataVersion,
		Type:      c.PlatformType(),
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// Encode renders the metadata as YAML.
func (m Metadata) Encode() ([]byte, error) {
	return yaml.Marshal(m)
}

// DecodeMetadata parses a metadata member.
func DecodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Metadata{}, deployerrors.MalformedBundle(MetadataFile, err.Error()).WithCause(err)
	}
	return m, nil
}

// MemberPath returns the import-layout path of a document. owner is the owning
// database stable name and is only used for datasets.
func MemberPath(root string, c object.Class, owner, name string) string {
	if c == object.Dataset {
		return path.Join(root, c.ArchiveDir(), owner, name+".yaml")
	}
	return path.Join(root, c.ArchiveDir(), name+".yaml")
}

// Writer builds an import archive under a single root directory.
type Writer struct {
	file    *os.File
	zw      *zip.Writer
	root    string
	members []string
}

// Create truncates or creates the archive at archivePath.
func Create(archivePath, root string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(archivePath), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(archivePath)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	return &Writer{file: f, zw: zip.NewWriter(f), root: root}, nil
}

// Root returns the archive root directory name.
func (w *Writer) Root() string {
	return w.root
}

// WriteDocument encodes doc and stores it at its import-layout path.
func (w *Writer) WriteDocument(c object.Class, owner, name string, doc object.Document) (string, error) {
	data, err := doc.Encode()
	if err != nil {
		return "", err
	}
	member := MemberPath(w.root, c, owner, name)
	if err := w.write(member, data); err != nil {
		return "", err
	}
	return member, nil
}

// WriteMetadata stores the metadata member.
func (w *Writer) WriteMetadata(m Metadata) error {
	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return w.write(path.Join(w.root, MetadataFile), data)
}

func (w *Writer) write(member string, data []byte) error {
	fw, err := w.zw.Create(member)
	if err != nil {
		return fmt.Errorf("create member %s: %w", member, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write member %s: %w", member, err)
	}
	w.members = append(w.members, member)
	return nil
}

// Members returns the member paths written so far.
func (w *Writer) Members() []string {
	return w.members
}

// Close finishes the archive and closes the file.
func (w *Writer) Close() error {
	if err := w.zw.Close(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("finish archive: %w", err)
	}
	return w.file.Close()
}
