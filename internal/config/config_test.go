package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geo-nearby/internal/buffer"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	assert.Equal(t, 1, s.Distance)
	assert.Equal(t, buffer.Kilometer, s.Unit)
	assert.Empty(t, s.TargetID)
	assert.False(t, s.Executable())
	require.NoError(t, s.Validate())
}

func TestSettingsValidate(t *testing.T) {
	cases := []struct {
		name string
		in   Settings
		want error
	}{
		{"ok", Settings{TargetID: "t", Distance: 5, Unit: buffer.Meter}, nil},
		{"zero distance", Settings{Distance: 0, Unit: buffer.Meter}, ErrInvalidDistance},
		{"negative distance", Settings{Distance: -3, Unit: buffer.Meter}, ErrInvalidDistance},
		{"bad unit", Settings{Distance: 1, Unit: buffer.Unit(99)}, ErrInvalidUnit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.in.Validate()
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSurfaceSetDistanceKeepsPrevious(t *testing.T) {
	s := NewSurface(Settings{TargetID: "t", Distance: 3, Unit: buffer.Meter})
	require.True(t, s.Ready())

	err := s.SetDistance(0)
	assert.ErrorIs(t, err, ErrInvalidDistance)
	assert.False(t, s.Ready())
	assert.Equal(t, 3, s.Snapshot().Distance)

	require.NoError(t, s.SetDistance(7))
	assert.True(t, s.Ready())
	assert.Equal(t, 7, s.Snapshot().Distance)
}

func TestSurfaceSetUnit(t *testing.T) {
	s := NewSurface(DefaultSettings())
	require.NoError(t, s.SetUnit(buffer.SurveyYard))
	assert.Equal(t, buffer.SurveyYard, s.Snapshot().Unit)
	require.NoError(t, s.SetUnit(0))
	assert.Equal(t, buffer.Kilometer, s.Snapshot().Unit)
	assert.ErrorIs(t, s.SetUnit(buffer.Unit(12)), ErrInvalidUnit)
	assert.Equal(t, buffer.Kilometer, s.Snapshot().Unit)
}

func TestSurfaceApplyAtomic(t *testing.T) {
	s := NewSurface(Settings{TargetID: "a", Distance: 2, Unit: buffer.Meter})
	err := s.Apply(Settings{TargetID: "b", Distance: -1, Unit: buffer.Kilometer})
	assert.ErrorIs(t, err, ErrInvalidDistance)
	assert.Equal(t, Settings{TargetID: "a", Distance: 2, Unit: buffer.Meter}, s.Snapshot())
	assert.False(t, s.Ready())
}

func TestSurfaceDefaultTarget(t *testing.T) {
	s := NewSurface(DefaultSettings(), WithDefaultTarget(func() (string, bool) { return "hydrants", true }))
	assert.Equal(t, "hydrants", s.Snapshot().TargetID)
	s.SetTarget("parcels")
	assert.Equal(t, "parcels", s.Snapshot().TargetID)
}

func TestNewSurfaceInvalidInitialFallsBack(t *testing.T) {
	s := NewSurface(Settings{TargetID: "x", Distance: -5})
	got := s.Snapshot()
	assert.Equal(t, "x", got.TargetID)
	assert.Equal(t, 1, got.Distance)
	assert.Equal(t, buffer.Kilometer, got.Unit)
}

type errDialog struct{ err error }

func (d errDialog) Prompt(context.Context, Settings) (Settings, bool, error) {
	return Settings{}, false, d.err
}

func TestConfigure(t *testing.T) {
	initial := Settings{TargetID: "a", Distance: 2, Unit: buffer.Meter}

	t.Run("cancel leaves settings", func(t *testing.T) {
		s := NewSurface(initial)
		ok, err := s.Configure(context.Background(), StaticDialog{Settings: Settings{TargetID: "b", Distance: 9}, Cancel: true})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, initial, s.Snapshot())
	})

	t.Run("confirm applies", func(t *testing.T) {
		s := NewSurface(initial)
		ok, err := s.Configure(context.Background(), StaticDialog{Settings: Settings{TargetID: "b", Distance: 9, Unit: buffer.SurveyMile}})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, Settings{TargetID: "b", Distance: 9, Unit: buffer.SurveyMile}, s.Snapshot())
	})

	t.Run("confirm without target", func(t *testing.T) {
		s := NewSurface(initial)
		ok, err := s.Configure(context.Background(), StaticDialog{Settings: Settings{Distance: 4}})
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, buffer.Kilometer, s.Snapshot().Unit)
	})

	t.Run("invalid confirm keeps previous", func(t *testing.T) {
		s := NewSurface(initial)
		_, err := s.Configure(context.Background(), StaticDialog{Settings: Settings{TargetID: "b", Distance: 0}})
		assert.ErrorIs(t, err, ErrInvalidDistance)
		assert.Equal(t, initial, s.Snapshot())
	})

	t.Run("dialog error", func(t *testing.T) {
		s := NewSurface(initial)
		boom := errors.New("closed")
		_, err := s.Configure(context.Background(), errDialog{err: boom})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, initial, s.Snapshot())
	})
}

const sampleYAML = `
action:
  target: parcels
  distance: 5
  unit: survey mile
geometry_service:
  url: https://utility.example.com/arcgis/rest/services/Geometry/GeometryServer
surfaces:
  - id: main
    wkid: 3857
    layers:
      - source: parcels
        file: layers/parcels.geojson
        id_field: OBJECTID
      - source: hydrants
        kind: featureservice
        url: https://services.example.com/arcgis/rest/services/Hydrants/FeatureServer/0
        id_field: OBJECTID
        selectable: false
`

func TestParseFile(t *testing.T) {
	f, err := ParseFile([]byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, Settings{TargetID: "parcels", Distance: 5, Unit: buffer.SurveyMile}, f.Action)
	require.Len(t, f.Surfaces, 1)
	s := f.Surfaces[0]
	assert.Equal(t, 3857, s.WKID)
	require.Len(t, s.Layers, 2)
	assert.Equal(t, KindMemory, s.Layers[0].Kind)
	assert.True(t, s.Layers[0].IsSelectable())
	assert.False(t, s.Layers[1].IsSelectable())
}

func TestParseFileDefaultsAction(t *testing.T) {
	f, err := ParseFile([]byte("surfaces: []\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), f.Action)
}

func TestParseFileRejects(t *testing.T) {
	cases := map[string]string{
		"bad unit":       "action: {distance: 1, unit: furlong}\n",
		"zero distance":  "action: {distance: 0}\n",
		"missing wkid":   "surfaces: [{id: main, layers: []}]\n",
		"bad kind":       "surfaces: [{id: main, wkid: 4326, layers: [{source: a, id_field: id, kind: shapefile}]}]\n",
		"memory no file": "surfaces: [{id: main, wkid: 4326, layers: [{source: a, id_field: id}]}]\n",
		"fs no url":      "surfaces: [{id: main, wkid: 4326, layers: [{source: a, id_field: id, kind: featureservice}]}]\n",
		"duplicate": `surfaces:
  - {id: a, wkid: 4326, layers: [{source: x, id_field: id, file: x.geojson}]}
  - {id: b, wkid: 4326, layers: [{source: x, id_field: id, file: x.geojson}]}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFile([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadFileResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nearby.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "layers", "parcels.geojson"), f.Surfaces[0].Layers[0].File)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("NEARBY_TARGET", "hydrants")
	t.Setenv("NEARBY_DISTANCE", "250")
	t.Setenv("NEARBY_UNIT", "meter")
	got, err := ApplyEnv(DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, Settings{TargetID: "hydrants", Distance: 250, Unit: buffer.Meter}, got)

	t.Setenv("NEARBY_DISTANCE", "-1")
	_, err = ApplyEnv(DefaultSettings())
	assert.ErrorIs(t, err, ErrInvalidDistance)

	t.Setenv("NEARBY_DISTANCE", "")
	t.Setenv("NEARBY_UNIT", "league")
	_, err = ApplyEnv(DefaultSettings())
	assert.ErrorIs(t, err, ErrInvalidUnit)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("BUFFER_TIMEOUT_MS", "1500")
	t.Setenv("BUFFER_CACHE_TTL_S", "bogus")
	t.Setenv("GEOMETRY_SERVICE_URL", "")
	c := FromEnv()
	assert.Equal(t, 1500*time.Millisecond, c.BufferTimeout)
	assert.Equal(t, time.Hour, c.BufferCacheTTL)
	assert.Equal(t, time.Duration(0), c.QueryTimeout)
	assert.Equal(t, buffer.DefaultGeometryServerURL, c.GeometryURL(""))
	assert.Equal(t, "http://file/GeometryServer", c.GeometryURL("http://file/GeometryServer"))

	t.Setenv("GEOMETRY_SERVICE_URL", "http://env/GeometryServer")
	assert.Equal(t, "http://env/GeometryServer", FromEnv().GeometryURL("http://file/GeometryServer"))
}
