// Package registry maps environment-scoped identifiers to stable portable names.
//
// A Registry holds one bijection per object class. It is built fresh for every
// extraction or registry-only pass and is not safe for concurrent use.
package registry

import "github.com/randalmurphal/ssdeploy/internal/object"

// bimap keeps two plain maps in sync so lookups are O(1) in both directions.
type bimap struct {
	byID   map[string]string
	byName map[string]string
}

func newBimap() *bimap {
	return &bimap{byID: make(map[string]string), byName: make(map[string]string)}
}

// Registry is the identifier <-> stable name mapping for the four classes.
type Registry struct {
	maps [4]*bimap
}

// New returns an empty registry.
func New() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// Reset drops every binding.
func (r *Registry) Reset() {
	for _, c := range object.Classes() {
		r.maps[c] = newBimap()
	}
}

// Set binds id and name within class c. Existing bindings of either side are
// removed first, so the last write wins and the mapping stays one-to-one.
func (r *Registry) Set(c object.Class, id, name string) {
	m := r.maps[c]
	if oldName, ok := m.byID[id]; ok {
		delete(m.byName, oldName)
	}
	if oldID, ok := m.byName[name]; ok {
		delete(m.byID, oldID)
	}
	m.byID[id] = name
	m.byName[name] = id
}

// Conflict reports the identifier currently bound to name when it differs from id,
// i.e. the binding a Set(c, id, name) would displace.
func (r *Registry) Conflict(c object.Class, id, name string) (string, bool) {
	existing, ok := r.maps[c].byName[name]
	if !ok || existing == id {
		return "", false
	}
	return existing, true
}

// LookupByID returns the stable name bound to id.
func (r *Registry) LookupByID(c object.Class, id string) (string, bool) {
	name, ok := r.maps[c].byID[id]
	return name, ok
}

// LookupByName returns the identifier bound to a stable name.
func (r *Registry) LookupByName(c object.Class, name string) (string, bool) {
	id, ok := r.maps[c].byName[name]
	return id, ok
}

// Len returns the number of bindings in class c.
func (r *Registry) Len(c object.Class) int {
	return len(r.maps[c].byID)
}

// Pairs returns a copy of the id -> name bindings of class c.
func (r *Registry) Pairs(c object.Class) map[string]string {
	out := make(map[string]string, len(r.maps[c].byID))
	for id, name := range r.maps[c].byID {
		out[id] = name
	}
	return out
}
