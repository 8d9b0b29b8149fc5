package object

// Platform document fields that carry cross-class references or need special
// handling in the portable form.
const (
	DatasetDatabaseField = "database_uuid"
	DatasetQueryField    = "sql"
	ChartDatasetField    = "dataset_uuid"

	DashboardSlugField    = "slug"
	DashboardLayoutField  = "position"
	DashboardMetaField    = "metadata"
	NativeFiltersField    = "native_filter_configuration"
	FilterTargetsField    = "targets"
	FilterDatasetField    = "datasetUuid"
	LayoutMetaField       = "meta"
	DashboardPublishField = "published"
)

// FilterTargets returns every filter target map of a dashboard document.
func (d Document) FilterTargets() []map[string]any {
	var out []map[string]any
	for _, f := range AsList(d.Map(DashboardMetaField)[NativeFiltersField]) {
		for _, t := range AsList(AsMap(f)[FilterTargetsField]) {
			if m := AsMap(t); m != nil {
				out = append(out, m)
			}
		}
	}
	return out
}
