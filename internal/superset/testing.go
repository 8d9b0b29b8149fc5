package superset

// This file contains an in-memory platform used by tests of the packages that
// drive extraction and import. It speaks the same bundle layout as the real
// platform and enforces that references resolve at import time.

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/ssdeploy/internal/bundle"
	deployerrors "github.com/randalmurphal/ssdeploy/internal/errors"
	"github.com/randalmurphal/ssdeploy/internal/naming"
	"github.com/randalmurphal/ssdeploy/internal/object"
)

// FakeObject is one object stored by a Fake.
type FakeObject struct {
	ID        int
	Doc       object.Document
	ChangedOn time.Time
	Published bool
}

// UUID returns the object's identifier.
func (o *FakeObject) UUID() string {
	return o.Doc.Identity()
}

// FakeImport records one Import call.
type FakeImport struct {
	Class     object.Class
	Type      string
	Overwrite bool
	Passwords map[string]string
	Members   []string
}

// FakeUpdate records one Update call.
type FakeUpdate struct {
	Class  object.Class
	ID     int
	Fields map[string]any
}

// Fake is an in-memory platform environment.
//
// Usage:
//
//	env := superset.NewFake()
//	db := env.Add(object.Database, object.Document{"database_name": "D1", "uuid": "u-db-1"})
type Fake struct {
	mu      sync.Mutex
	nextID  int
	objects map[object.Class][]*FakeObject

	Imports []FakeImport
	Updates []FakeUpdate
	Deleted map[object.Class][]int

	// ExportContentType overrides the content type Export pretends to receive.
	ExportContentType string
	// NewUUID generates identifiers for objects imported without one.
	NewUUID func() string
	// Now is the clock stamped on created and updated objects.
	Now func() time.Time
}

// NewFake creates an empty environment.
func NewFake() *Fake {
	return &Fake{
		objects: make(map[object.Class][]*FakeObject),
		Deleted: make(map[object.Class][]int),
		NewUUID: uuid.NewString,
		Now:     time.Now,
	}
}

// Add stores an object and assigns it the next id.
func (f *Fake) Add(c object.Class, doc object.Document) *FakeObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.add(c, doc)
}

func (f *Fake) add(c object.Class, doc object.Document) *FakeObject {
	f.nextID++
	o := &FakeObject{ID: f.nextID, Doc: doc, ChangedOn: f.Now()}
	f.objects[c] = append(f.objects[c], o)
	return o
}

// Objects returns the stored objects of class c in id order.
func (f *Fake) Objects(c object.Class) []*FakeObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeObject(nil), f.objects[c]...)
}

// Find returns the object of class c with identifier id.
func (f *Fake) Find(c object.Class, id string) *FakeObject {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findUUID(c, id)
}

func (f *Fake) findUUID(c object.Class, id string) *FakeObject {
	if id == "" {
		return nil
	}
	for _, o := range f.objects[c] {
		if o.UUID() == id {
			return o
		}
	}
	return nil
}

func (f *Fake) findID(c object.Class, id int) *FakeObject {
	for _, o := range f.objects[c] {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func (f *Fake) summary(c object.Class, o *FakeObject) Summary {
	return Summary{
		ID:        o.ID,
		Name:      o.Doc.DisplayName(c),
		UUID:      o.UUID(),
		ChangedOn: o.ChangedOn,
		Published: o.Published,
	}
}

func notFound(c object.Class, id int) error {
	return deployerrors.PlatformRequest(http.MethodGet, fmt.Sprintf("/%s/%d", c, id), http.StatusNotFound, "Not found")
}

// FindByName implements the platform lookup by display name.
func (f *Fake) FindByName(_ context.Context, c object.Class, name string) ([]Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Summary
	for _, o := range f.objects[c] {
		if o.Doc.DisplayName(c) == name {
			out = append(out, f.summary(c, o))
		}
	}
	return out, nil
}

// FindAll lists every object of class c.
func (f *Fake) FindAll(_ context.Context, c object.Class) ([]Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Summary, 0, len(f.objects[c]))
	for _, o := range f.objects[c] {
		out = append(out, f.summary(c, o))
	}
	return out, nil
}

// Get returns one object.
func (f *Fake) Get(_ context.Context, c object.Class, id int) (Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.findID(c, id)
	if o == nil {
		return Summary{}, notFound(c, id)
	}
	return f.summary(c, o), nil
}

// Update applies fields. Only "published" changes stored state.
func (f *Fake) Update(_ context.Context, c object.Class, id int, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.findID(c, id)
	if o == nil {
		return notFound(c, id)
	}
	if p, ok := fields[object.DashboardPublishField].(bool); ok {
		o.Published = p
	}
	o.ChangedOn = f.Now()
	f.Updates = append(f.Updates, FakeUpdate{Class: c, ID: id, Fields: fields})
	return nil
}

// Delete removes objects by id.
func (f *Fake) Delete(_ context.Context, c object.Class, ids []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	gone := make(map[int]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	kept := f.objects[c][:0]
	for _, o := range f.objects[c] {
		if !gone[o.ID] {
			kept = append(kept, o)
		}
	}
	f.objects[c] = kept
	f.Deleted[c] = append(f.Deleted[c], ids...)
	return nil
}

// DashboardCharts returns the ids of charts placed on a dashboard's layout.
func (f *Fake) DashboardCharts(_ context.Context, id int) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.findID(object.Dashboard, id)
	if o == nil {
		return nil, notFound(object.Dashboard, id)
	}
	var ids []int
	for _, ref := range chartRefs(o.Doc) {
		if ch := f.findUUID(object.Chart, ref); ch != nil {
			ids = append(ids, ch.ID)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

func chartRefs(doc object.Document) []string {
	var refs []string
	for key, entry := range doc.Map(object.DashboardLayoutField) {
		if !object.IsChartPosition(key, entry) {
			continue
		}
		meta := object.AsMap(object.AsMap(entry)[object.LayoutMetaField])
		if id, ok := meta[object.IdentityField].(string); ok {
			refs = append(refs, id)
		}
	}
	sort.Strings(refs)
	return refs
}

func filterDatasetRefs(doc object.Document) []string {
	var refs []string
	for _, t := range doc.FilterTargets() {
		if id, ok := t[object.FilterDatasetField].(string); ok {
			refs = append(refs, id)
		}
	}
	return refs
}

// Export builds an export bundle holding the requested objects and everything
// they reference. Dangling references are exported as-is.
func (f *Fake) Export(_ context.Context, c object.Class, ids []int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ct := f.ExportContentType; ct != "" && !strings.HasPrefix(ct, "application/zip") {
		return nil, deployerrors.UnknownContentType(ct)
	}

	picked := make(map[object.Class]map[int]*FakeObject)
	var visit func(c object.Class, o *FakeObject)
	visit = func(c object.Class, o *FakeObject) {
		if o == nil {
			return
		}
		if picked[c] == nil {
			picked[c] = make(map[int]*FakeObject)
		}
		if picked[c][o.ID] != nil {
			return
		}
		picked[c][o.ID] = o
		switch c {
		case object.Dataset:
			visit(object.Database, f.findUUID(object.Database, o.Doc.String(object.DatasetDatabaseField)))
		case object.Chart:
			visit(object.Dataset, f.findUUID(object.Dataset, o.Doc.String(object.ChartDatasetField)))
		case object.Dashboard:
			for _, ref := range chartRefs(o.Doc) {
				visit(object.Chart, f.findUUID(object.Chart, ref))
			}
			for _, ref := range filterDatasetRefs(o.Doc) {
				visit(object.Dataset, f.findUUID(object.Dataset, ref))
			}
		}
	}
	for _, id := range ids {
		o := f.findID(c, id)
		if o == nil {
			return nil, notFound(c, id)
		}
		visit(c, o)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	const root = "export"
	meta, _ := bundle.NewMetadata(c, f.Now()).Encode()
	if err := writeMember(zw, path.Join(root, bundle.MetadataFile), meta); err != nil {
		return nil, err
	}
	for _, cls := range object.Classes() {
		for _, o := range picked[cls] {
			file := fmt.Sprintf("%s_%d.yaml", naming.StableName(o.Doc.DisplayName(cls)), o.ID)
			member := path.Join(root, cls.ArchiveDir(), file)
			if cls == object.Dataset {
				owner := "unknown"
				if db := f.findUUID(object.Database, o.Doc.String(object.DatasetDatabaseField)); db != nil {
					owner = naming.StableName(db.Doc.DisplayName(object.Database))
				}
				member = path.Join(root, cls.ArchiveDir(), owner, file)
			}
			data, err := o.Doc.Encode()
			if err != nil {
				return nil, err
			}
			if err := writeMember(zw, member, data); err != nil {
				return nil, err
			}
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeMember(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Import applies a bundle the way the platform does: objects of the declared
// type and of every lower class are upserted by identifier, and every
// reference must resolve to an existing object.
func (f *Fake) Import(_ context.Context, c object.Class, archive []byte, overwrite bool, passwords map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	a, err := bundle.Read(archive)
	if err != nil {
		return err
	}
	meta, err := a.Metadata()
	if err != nil {
		return err
	}
	declared, err := object.ParseClass(meta.Type)
	if err != nil {
		return unprocessable(c, err.Error())
	}
	if declared != c {
		return unprocessable(c, fmt.Sprintf("bundle declares %s", meta.Type))
	}

	rec := FakeImport{Class: c, Type: meta.Type, Overwrite: overwrite, Passwords: passwords}
	for _, cls := range object.Levels(c, object.Database) {
		for _, member := range a.Index.Members(cls) {
			doc, err := a.ReadDocument(member)
			if err != nil {
				return err
			}
			if err := f.checkRefs(cls, doc); err != nil {
				return err
			}
			if err := f.upsert(cls, doc, overwrite); err != nil {
				return err
			}
			rec.Members = append(rec.Members, member)
		}
	}
	f.Imports = append(f.Imports, rec)
	return nil
}

func unprocessable(c object.Class, msg string) error {
	return deployerrors.PlatformRequest(http.MethodPost, "/"+c.String()+"/import/", http.StatusUnprocessableEntity, msg)
}

func (f *Fake) checkRefs(c object.Class, doc object.Document) error {
	check := func(to object.Class, id string) error {
		if f.findUUID(to, id) == nil {
			return unprocessable(c, fmt.Sprintf("%s %q references unknown %s %q", c, doc.DisplayName(c), to, id))
		}
		return nil
	}
	switch c {
	case object.Dataset:
		return check(object.Database, doc.String(object.DatasetDatabaseField))
	case object.Chart:
		return check(object.Dataset, doc.String(object.ChartDatasetField))
	case object.Dashboard:
		for _, ref := range chartRefs(doc) {
			if err := check(object.Chart, ref); err != nil {
				return err
			}
		}
		for _, ref := range filterDatasetRefs(doc) {
			if err := check(object.Dataset, ref); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *Fake) upsert(c object.Class, doc object.Document, overwrite bool) error {
	if existing := f.findUUID(c, doc.Identity()); existing != nil {
		if !overwrite {
			return unprocessable(c, fmt.Sprintf("%s %q already exists", c, doc.DisplayName(c)))
		}
		existing.Doc = doc
		existing.ChangedOn = f.Now()
		return nil
	}
	if doc.Identity() == "" {
		doc[object.IdentityField] = f.NewUUID()
	}
	f.add(c, doc)
	return nil
}
