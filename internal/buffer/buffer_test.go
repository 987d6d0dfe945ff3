package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/paulmach/orb"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geo-nearby/internal/logger"
)

var square = orb.Polygon{{{0, 0}, {0, 1}, {1, 1}, {1, 0}, {0, 0}}}

type fakeService struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, p Params) ([]orb.Geometry, error)
}

func (f *fakeService) Buffer(ctx context.Context, p Params) ([]orb.Geometry, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(ctx, p)
}

func (f *fakeService) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okService() *fakeService {
	return &fakeService{fn: func(context.Context, Params) ([]orb.Geometry, error) {
		return []orb.Geometry{square}, nil
	}}
}

func testSpec() Spec {
	return Spec{Geometry: orb.Point{0.5, 0.5}, Distance: 1, Unit: Kilometer, SpatialRef: 4326}
}

func TestParseUnit(t *testing.T) {
	cases := []struct {
		in   string
		want Unit
		err  bool
	}{
		{"kilometer", Kilometer, false},
		{"KM", Kilometer, false},
		{"meters", Meter, false},
		{"Survey Mile", SurveyMile, false},
		{"survey-yard", SurveyYard, false},
		{"furlong", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseUnit(tc.in)
			if tc.err {
				assert.ErrorIs(t, err, ErrInvalidUnit)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestUnitCodes(t *testing.T) {
	assert.Equal(t, 9036, Kilometer.Code())
	assert.Equal(t, 9001, Meter.Code())
	assert.Equal(t, 9035, SurveyMile.Code())
	assert.Equal(t, 109002, SurveyYard.Code())
	assert.Equal(t, 0, Unit(42).Code())
	assert.InDelta(t, 1000.0, Kilometer.Meters(), 1e-9)
}

func TestSpecValidate(t *testing.T) {
	s := testSpec()
	require.NoError(t, s.Validate())

	for _, d := range []float64{0, -1} {
		bad := s
		bad.Distance = d
		assert.ErrorIs(t, bad.Validate(), ErrInvalidSpec)
	}
	bad := s
	bad.Geometry = nil
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSpec)
	bad = s
	bad.Unit = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSpec)
}

func TestSpecParams(t *testing.T) {
	p := testSpec().Params()
	assert.True(t, p.UnionResults)
	assert.Equal(t, 4326, p.InSR)
	assert.Equal(t, 4326, p.OutSR)
	assert.Equal(t, 4326, p.BufferSR)
	assert.Equal(t, []float64{1}, p.Distances)
}

func TestOutcomeDiagnostic(t *testing.T) {
	o := Outcome{Kind: OutcomeFailed, Err: errors.New("boom")}
	assert.Equal(t, "fail to calculate buffer, error: boom", o.Diagnostic())
	assert.Empty(t, Outcome{Kind: OutcomeOK}.Diagnostic())
}

func TestGeometryServerBuffer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/buffer", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "9036", r.PostForm.Get("unit"))
		assert.Equal(t, "true", r.PostForm.Get("unionResults"))
		assert.Equal(t, "4326", r.PostForm.Get("bufferSR"))
		assert.Equal(t, "4326", r.PostForm.Get("outSR"))
		assert.Equal(t, "2.5", r.PostForm.Get("distances"))
		assert.Equal(t, "json", r.PostForm.Get("f"))
		assert.Contains(t, r.PostForm.Get("geometries"), "esriGeometryPoint")
		_, _ = w.Write([]byte(`{"geometries":[{"rings":[[[0,0],[0,1],[1,1],[1,0],[0,0]]]}]}`))
	}))
	defer srv.Close()

	gs := NewGeometryServer(srv.URL, srv.Client())
	spec := testSpec()
	spec.Distance = 2.5
	out, err := gs.Buffer(context.Background(), spec.Params())
	require.NoError(t, err)
	require.Len(t, out, 1)
	_, ok := out[0].(orb.Polygon)
	assert.True(t, ok)
}

func TestGeometryServerErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, out []orb.Geometry, err error)
	}{
		{"service error", 200, `{"error":{"code":400,"message":"Unable to complete operation.","details":["bad sr"]}}`, func(t *testing.T, _ []orb.Geometry, err error) {
			assert.ErrorIs(t, err, ErrService)
			var se *ServiceError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, 400, se.Code)
		}},
		{"http status", 502, `bad gateway`, func(t *testing.T, _ []orb.Geometry, err error) {
			require.Error(t, err)
			assert.NotErrorIs(t, err, ErrNoResult)
		}},
		{"garbage", 200, `not json`, func(t *testing.T, _ []orb.Geometry, err error) {
			require.Error(t, err)
		}},
		{"empty", 200, `{"geometries":[]}`, func(t *testing.T, out []orb.Geometry, err error) {
			require.NoError(t, err)
			assert.Empty(t, out)
		}},
		{"malformed ring", 200, `{"geometries":[{"rings":[[[0]]]}]}`, func(t *testing.T, _ []orb.Geometry, err error) {
			assert.ErrorIs(t, err, ErrNoResult)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			out, err := NewGeometryServer(srv.URL, srv.Client()).Buffer(context.Background(), testSpec().Params())
			tc.check(t, out, err)
		})
	}
}

func TestClientOutcomes(t *testing.T) {
	cases := []struct {
		name string
		svc  *fakeService
		want OutcomeKind
	}{
		{"ok", okService(), OutcomeOK},
		{"zero results", &fakeService{fn: func(context.Context, Params) ([]orb.Geometry, error) { return nil, nil }}, OutcomeEmpty},
		{"not polygonal", &fakeService{fn: func(context.Context, Params) ([]orb.Geometry, error) {
			return []orb.Geometry{orb.Point{1, 1}}, nil
		}}, OutcomeEmpty},
		{"no result error", &fakeService{fn: func(context.Context, Params) ([]orb.Geometry, error) { return nil, ErrNoResult }}, OutcomeEmpty},
		{"transport", &fakeService{fn: func(context.Context, Params) ([]orb.Geometry, error) {
			return nil, errors.New("connection refused")
		}}, OutcomeFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClient(tc.svc, WithLogger(logger.Nop()))
			var got Outcome
			c.Request(context.Background(), testSpec(), func(o Outcome) { got = o })
			c.Wait()
			assert.Equal(t, tc.want, got.Kind)
			if tc.want == OutcomeFailed {
				assert.Contains(t, got.Diagnostic(), "fail to calculate buffer")
			}
		})
	}
}

func TestClientInvalidSpecFailsWithoutRemoteCall(t *testing.T) {
	svc := okService()
	c := NewClient(svc, WithLogger(logger.Nop()))
	spec := testSpec()
	spec.Distance = 0
	var got Outcome
	c.Request(context.Background(), spec, func(o Outcome) { got = o })
	c.Wait()
	assert.Equal(t, OutcomeFailed, got.Kind)
	assert.ErrorIs(t, got.Err, ErrInvalidSpec)
	assert.Equal(t, 0, svc.Calls())
}

func TestClientSupersedesPriorRequest(t *testing.T) {
	release := make(chan struct{})
	var firstCanceled atomic.Bool
	var n atomic.Int32
	svc := &fakeService{fn: func(ctx context.Context, p Params) ([]orb.Geometry, error) {
		if n.Add(1) == 1 {
			select {
			case <-ctx.Done():
				firstCanceled.Store(true)
			case <-time.After(2 * time.Second):
			}
			<-release
			return []orb.Geometry{square}, nil
		}
		return []orb.Geometry{square}, nil
	}}
	c := NewClient(svc, WithLogger(logger.Nop()))
	var mu sync.Mutex
	delivered := map[uint64]OutcomeKind{}
	record := func(g *uint64) func(Outcome) {
		return func(o Outcome) {
			mu.Lock()
			delivered[*g] = o.Kind
			mu.Unlock()
		}
	}
	var g1, g2 uint64
	mu.Lock()
	g1 = c.Request(context.Background(), testSpec(), record(&g1))
	mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	g2 = c.Request(context.Background(), testSpec(), record(&g2))
	mu.Unlock()
	close(release)
	c.Wait()

	assert.Greater(t, g2, g1)
	assert.True(t, firstCanceled.Load())
	assert.Equal(t, map[uint64]OutcomeKind{g1: OutcomeSuperseded, g2: OutcomeOK}, delivered)
}

func TestClientCancelSupersedesResult(t *testing.T) {
	release := make(chan struct{})
	svc := &fakeService{fn: func(context.Context, Params) ([]orb.Geometry, error) {
		<-release
		return []orb.Geometry{square}, nil
	}}
	c := NewClient(svc, WithLogger(logger.Nop()))
	var got []Outcome
	c.Request(context.Background(), testSpec(), func(o Outcome) { got = append(got, o) })
	c.Cancel()
	close(release)
	c.Wait()
	require.Len(t, got, 1)
	assert.Equal(t, OutcomeSuperseded, got[0].Kind)
	assert.Nil(t, got[0].Geometry)
}

func TestClientTimeout(t *testing.T) {
	svc := &fakeService{fn: func(ctx context.Context, _ Params) ([]orb.Geometry, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := NewClient(svc, WithTimeout(10*time.Millisecond), WithLogger(logger.Nop()))
	var got Outcome
	c.Request(context.Background(), testSpec(), func(o Outcome) { got = o })
	c.Wait()
	assert.Equal(t, OutcomeFailed, got.Kind)
	assert.ErrorIs(t, got.Err, context.DeadlineExceeded)
}

func TestCachedServiceRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	svc := okService()
	cs := NewCachedService(svc, rc, WithTTL(time.Minute), WithLocalSize(0))
	p := testSpec().Params()

	out, err := cs.Buffer(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, svc.Calls())

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "buffer:4326:4326:kilometer:1:true:")
	assert.Equal(t, time.Minute, mr.TTL(keys[0]))

	out, err = cs.Buffer(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, 1, svc.Calls())
	_, isPoly := out[0].(orb.Polygon)
	assert.True(t, isPoly)

	p2 := p
	p2.Distances = []float64{2}
	_, err = cs.Buffer(context.Background(), p2)
	require.NoError(t, err)
	assert.Equal(t, 2, svc.Calls())
}

func TestCachedServiceLocalOnly(t *testing.T) {
	svc := okService()
	cs := NewCachedService(svc, nil)
	p := testSpec().Params()
	for i := 0; i < 3; i++ {
		_, err := cs.Buffer(context.Background(), p)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, svc.Calls())
}

func TestCachedServiceRedisDownStillServes(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()
	mr.Close()

	svc := okService()
	cs := NewCachedService(svc, rc, WithLocalSize(0))
	out, err := cs.Buffer(context.Background(), testSpec().Params())
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestCachedServiceSkipsFailures(t *testing.T) {
	boom := errors.New("boom")
	svc := &fakeService{fn: func(context.Context, Params) ([]orb.Geometry, error) { return nil, boom }}
	cs := NewCachedService(svc, nil)
	for i := 0; i < 2; i++ {
		_, err := cs.Buffer(context.Background(), testSpec().Params())
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 2, svc.Calls())
}

func TestLRUEvicts(t *testing.T) {
	c := newLRU(2, time.Minute)
	c.set("a", square)
	c.set("b", square)
	_, _ = c.get("a")
	c.set("c", square)
	_, ok := c.get("b")
	assert.False(t, ok)
	_, ok = c.get("a")
	assert.True(t, ok)
}

func TestEncodeParamsRejectsMixedTypes(t *testing.T) {
	p := Params{Geometries: []orb.Geometry{orb.Point{0, 0}, square}, Distances: []float64{1}, Unit: Meter}
	_, err := encodeParams(p)
	assert.ErrorIs(t, err, ErrInvalidSpec)

	v, err := encodeParams(testSpec().Params())
	require.NoError(t, err)
	var gs esriGeometries
	require.NoError(t, json.Unmarshal([]byte(v.Get("geometries")), &gs))
	assert.Equal(t, "esriGeometryPoint", gs.GeometryType)
}
