// Package object defines the closed set of migratable object classes and the
// opaque documents that describe them.
package object

import (
	"fmt"
	"strings"
)

// Class is one of the four migratable object classes.
type Class int

const (
	Database Class = iota
	Dataset
	Chart
	Dashboard
)

// IdentityField is the environment-scoped identifier carried by every document.
const IdentityField = "uuid"

// Reserved keys holding stable-name references in portable documents.
const (
	DatabaseNameKey = "_deploy_database_name"
	DatasetNameKey  = "_deploy_dataset_name"
	ChartNameKey    = "_deploy_chart_name"
)

// descriptor holds the fixed per-class facts used for dispatch.
type descriptor struct {
	name         string
	nameField    string
	archiveDir   string
	platformType string
}

var descriptors = [...]descriptor{
	Database:  {name: "database", nameField: "database_name", archiveDir: "databases", platformType: "Database"},
	Dataset:   {name: "dataset", nameField: "table_name", archiveDir: "datasets", platformType: "SqlaTable"},
	Chart:     {name: "chart", nameField: "slice_name", archiveDir: "charts", platformType: "Slice"},
	Dashboard: {name: "dashboard", nameField: "dashboard_title", archiveDir: "dashboards", platformType: "Dashboard"},
}

// Classes returns every class in dependency order, leaves first.
func Classes() []Class {
	return []Class{Database, Dataset, Chart, Dashboard}
}

// Valid reports whether c is one of the four known classes.
func (c Class) Valid() bool {
	return c >= Database && c <= Dashboard
}

// String returns the singular class name used in the portable repository and
// in platform API paths.
func (c Class) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Class(%d)", int(c))
	}
	return descriptors[c].name
}

// Rank is the position of the class in dependency order; dependencies always
// have a strictly lower rank than their dependents.
func (c Class) Rank() int {
	return int(c)
}

// NameField is the document field holding the human display name.
func (c Class) NameField() string {
	return descriptors[c].nameField
}

// ArchiveDir is the top-level directory of the class inside export and import
// bundles.
func (c Class) ArchiveDir() string {
	return descriptors[c].archiveDir
}

// PlatformType is the type declared in bundle metadata when importing the class.
func (c Class) PlatformType() string {
	return descriptors[c].platformType
}

// Child returns the class this class directly depends on. Databases have none.
func (c Class) Child() (Class, bool) {
	if c == Database || !c.Valid() {
		return 0, false
	}
	return c - 1, true
}

// MarshalText implements encoding.TextMarshaler.
func (c Class) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid object class %d", int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Class) UnmarshalText(text []byte) error {
	parsed, err := ParseClass(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseClass accepts the singular, plural and platform type spellings of a class.
func ParseClass(s string) (Class, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for _, c := range Classes() {
		d := descriptors[c]
		if key == d.name || key == d.archiveDir || key == strings.ToLower(d.platformType) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown object class %q (want database, dataset, chart or dashboard)", s)
}

// ClassFromArchiveDir maps a bundle directory name to its class.
func ClassFromArchiveDir(dir string) (Class, bool) {
	for _, c := range Classes() {
		if descriptors[c].archiveDir == dir {
			return c, true
		}
	}
	return 0, false
}

// Levels returns the classes imported for a request of class c, from min up to
// c inclusive. When min ranks above c only c itself is returned.
func Levels(c, min Class) []Class {
	if min.Rank() > c.Rank() {
		return []Class{c}
	}
	var levels []Class
	for _, l := range Classes() {
		if l.Rank() >= min.Rank() && l.Rank() <= c.Rank() {
			levels = append(levels, l)
		}
	}
	return levels
}
