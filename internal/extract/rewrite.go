package extract

import (
	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/repository"
)

// dataset externalizes the query text and binds the owning database by name.
// It reports the side-car content and whether the dataset is kept.
func (r *run) dataset(doc object.Document, name string) (string, bool) {
	dbID := doc.String(object.DatasetDatabaseField)
	dbName, ok := r.reg.LookupByID(object.Database, dbID)
	if !ok {
		r.warn(object.Dataset, name, object.Database, dbID)
		return "", false
	}
	delete(doc, object.DatasetDatabaseField)
	doc[object.DatabaseNameKey] = dbName

	query := doc.String(object.DatasetQueryField)
	if query == "" {
		return "", true
	}
	doc[object.DatasetQueryField] = object.SidecarMarker(repository.SidecarFile(name))
	return query, true
}

// chart binds the chart's dataset by name. Charts without a resolvable dataset
// are dropped.
func (r *run) chart(doc object.Document, name string) bool {
	dsID := doc.String(object.ChartDatasetField)
	if dsID == "" {
		r.logger.Warn("chart has no dataset, skipped", "name", name)
		return false
	}
	dsName, ok := r.reg.LookupByID(object.Dataset, dsID)
	if !ok {
		r.warn(object.Chart, name, object.Dataset, dsID)
		return false
	}
	delete(doc, object.ChartDatasetField)
	doc[object.DatasetNameKey] = dsName
	return true
}

// dashboard rewrites filter targets and layout chart placements, dropping
// what cannot be resolved, and defaults the slug.
func (r *run) dashboard(doc object.Document, name string) {
	r.filterTargets(doc, name)
	r.layout(doc, name)

	if doc.String(object.DashboardSlugField) == "" {
		doc[object.DashboardSlugField] = name
	}
}

func (r *run) filterTargets(doc object.Document, name string) {
	meta := doc.Map(object.DashboardMetaField)
	if meta == nil {
		return
	}
	for _, f := range object.AsList(meta[object.NativeFiltersField]) {
		filter := object.AsMap(f)
		if filter == nil {
			continue
		}
		targets := object.AsList(filter[object.FilterTargetsField])
		if targets == nil {
			continue
		}
		kept := make([]any, 0, len(targets))
		for _, t := range targets {
			target := object.AsMap(t)
			if target == nil {
				kept = append(kept, t)
				continue
			}
			dsID, ok := target[object.FilterDatasetField].(string)
			if !ok {
				kept = append(kept, t)
				continue
			}
			dsName, found := r.reg.LookupByID(object.Dataset, dsID)
			if !found {
				r.warn(object.Dashboard, name, object.Dataset, dsID)
				continue
			}
			delete(target, object.FilterDatasetField)
			target[object.DatasetNameKey] = dsName
			kept = append(kept, target)
		}
		filter[object.FilterTargetsField] = kept
	}
}

func (r *run) layout(doc object.Document, name string) {
	position := doc.Map(object.DashboardLayoutField)
	if position == nil {
		return
	}
	var removed []string
	for key, entry := range position {
		if !object.IsChartPosition(key, entry) {
			continue
		}
		meta := object.AsMap(object.AsMap(entry)[object.LayoutMetaField])
		chartID, _ := meta[object.IdentityField].(string)
		chartName, ok := r.reg.LookupByID(object.Chart, chartID)
		if !ok {
			r.warn(object.Dashboard, name, object.Chart, chartID)
			removed = append(removed, key)
			continue
		}
		delete(meta, object.IdentityField)
		meta[object.ChartNameKey] = chartName
	}
	if len(removed) > 0 {
		object.PruneLayout(position, removed)
	}
}
