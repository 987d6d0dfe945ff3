package mapview

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geo-nearby/internal/geom"
)

func TestRegistrySurfaceFor(t *testing.T) {
	r := NewRegistry()
	main := NewSurface("main", 4326)
	main.AddLayer("parcels", nil)
	side := NewSurface("side", 3857)
	side.AddLayer("hydrants", nil)
	side.AddLayer("parcels", nil)
	r.Add(main)
	r.Add(side)

	s, ok := r.SurfaceFor("parcels")
	require.True(t, ok)
	assert.Equal(t, "main", s.ID)

	s, ok = r.SurfaceFor("hydrants")
	require.True(t, ok)
	assert.Equal(t, "side", s.ID)

	_, ok = r.SurfaceFor("roads")
	assert.False(t, ok)
	_, ok = r.SurfaceFor("")
	assert.False(t, ok)

	r.Remove("main")
	s, ok = r.SurfaceFor("parcels")
	require.True(t, ok)
	assert.Equal(t, "side", s.ID)
}

func TestRegistryAddReplacesSameID(t *testing.T) {
	r := NewRegistry()
	r.Add(NewSurface("main", 4326))
	r.Add(NewSurface("main", 3857))
	require.Len(t, r.Surfaces(), 1)
	s, _ := r.Surface("main")
	assert.Equal(t, 3857, s.SpatialRef)
}

func TestSurfaceLayers(t *testing.T) {
	s := NewSurface("main", 4326)
	f1 := geom.NewFeature(orb.Point{0, 0}, map[string]any{"id": 1})
	f2 := geom.NewFeature(orb.Point{1, 1}, map[string]any{"id": 2})
	l := s.AddLayer("parcels", []*geom.Feature{f1})
	same := s.AddLayer("parcels", []*geom.Feature{f1, f2})
	assert.Same(t, l, same)
	assert.Len(t, l.Features(), 2)
	assert.Equal(t, []string{"parcels"}, s.Sources())

	f2.Select()
	assert.Equal(t, []*geom.Feature{f2}, l.Selected())

	got, ok := l.Find(func(f *geom.Feature) bool { return f.Attributes["id"] == 1 })
	require.True(t, ok)
	assert.Same(t, f1, got)

	s.RemoveLayer("parcels")
	assert.False(t, s.Hosts("parcels"))
	assert.Empty(t, s.Sources())
}

func TestFindFeature(t *testing.T) {
	r := NewRegistry()
	s := NewSurface("main", 4326)
	f := geom.NewFeature(orb.Point{2, 2}, map[string]any{"OBJECTID": 10.0})
	s.AddLayer("incidents", []*geom.Feature{geom.NewFeature(orb.Point{1, 1}, nil), f})
	r.Add(s)

	got, ok := FindFeature(r, "incidents", "OBJECTID", 10)
	require.True(t, ok)
	assert.Same(t, f, got)

	_, ok = FindFeature(r, "incidents", "OBJECTID", 11)
	assert.False(t, ok)
	_, ok = FindFeature(r, "parcels", "OBJECTID", 10)
	assert.False(t, ok)
}
