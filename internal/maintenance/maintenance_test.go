package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/ssdeploy/internal/object"
	"github.com/randalmurphal/ssdeploy/internal/superset"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func addDashboard(env *superset.Fake, title string, changed time.Time, chartUUIDs ...string) *superset.FakeObject {
	position := map[string]any{}
	for i, u := range chartUUIDs {
		position["CHART-"+string(rune('a'+i))] = map[string]any{"type": "CHART", "meta": map[string]any{"uuid": u}}
	}
	o := env.Add(object.Dashboard, object.Document{"dashboard_title": title, "position": position})
	o.ChangedOn = changed
	return o
}

func newCleaner(env *superset.Fake, dryRun bool) *Cleaner {
	c := New(Config{Platform: env, DryRun: dryRun})
	c.now = func() time.Time { return now }
	return c
}

func TestDeleteEmptyDashboards(t *testing.T) {
	env := superset.NewFake()
	env.Add(object.Chart, object.Document{"slice_name": "Revenue", "uuid": "u-ch-1"})

	old := now.Add(-72 * time.Hour)
	emptyOld := addDashboard(env, UntitledDashboard, old)
	addDashboard(env, UntitledDashboard, old, "u-ch-1")
	addDashboard(env, UntitledDashboard, now.Add(-time.Hour))
	addDashboard(env, "Exec", old)

	report, err := newCleaner(env, false).DeleteEmptyDashboards(context.Background(), DefaultRetention)
	require.NoError(t, err)
	require.Len(t, report.Deleted, 1)
	assert.Equal(t, emptyOld.ID, report.Deleted[0].ID)
	assert.Equal(t, []int{emptyOld.ID}, env.Deleted[object.Dashboard])
	assert.Len(t, env.Objects(object.Dashboard), 3)
}

func TestDeleteEmptyDashboards_NothingToDo(t *testing.T) {
	env := superset.NewFake()
	addDashboard(env, "Exec", now.Add(-72*time.Hour))

	report, err := newCleaner(env, false).DeleteEmptyDashboards(context.Background(), DefaultRetention)
	require.NoError(t, err)
	assert.Empty(t, report.Deleted)
	assert.Empty(t, env.Deleted[object.Dashboard])
}

func TestDeleteDuplicateDashboards(t *testing.T) {
	env := superset.NewFake()
	older := addDashboard(env, "Exec", now.Add(-2*time.Hour))
	newest := addDashboard(env, "Exec", now.Add(-time.Hour))
	oldest := addDashboard(env, "Exec", now.Add(-3*time.Hour))
	single := addDashboard(env, "Ops", now.Add(-5*time.Hour))

	report, err := newCleaner(env, false).DeleteDuplicateDashboards(context.Background())
	require.NoError(t, err)

	var deleted []int
	for _, d := range report.Deleted {
		deleted = append(deleted, d.ID)
	}
	assert.Equal(t, []int{older.ID, oldest.ID}, deleted)

	var left []int
	for _, o := range env.Objects(object.Dashboard) {
		left = append(left, o.ID)
	}
	assert.ElementsMatch(t, []int{newest.ID, single.ID}, left)
}

func TestDeleteDuplicateDashboards_TieKeepsHighestID(t *testing.T) {
	env := superset.NewFake()
	a := addDashboard(env, "Exec", now)
	b := addDashboard(env, "Exec", now)

	report, err := newCleaner(env, false).DeleteDuplicateDashboards(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Deleted, 1)
	assert.Equal(t, a.ID, report.Deleted[0].ID)
	assert.Equal(t, b.ID, env.Objects(object.Dashboard)[0].ID)
}

func TestDryRun(t *testing.T) {
	env := superset.NewFake()
	addDashboard(env, "Exec", now.Add(-time.Hour))
	addDashboard(env, "Exec", now)

	report, err := newCleaner(env, true).DeleteDuplicateDashboards(context.Background())
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Len(t, report.Deleted, 1)
	assert.Empty(t, env.Deleted[object.Dashboard])
	assert.Len(t, env.Objects(object.Dashboard), 2)
}
