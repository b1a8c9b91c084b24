package route

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// kmPerDegree is one degree of arc on the sphere used by GreatCircleKM.
var kmPerDegree = EarthRadiusKM * math.Pi / 180

func meridianPath(t *testing.T, opts ...Option) *Path {
	t.Helper()
	p, err := NewPath([]Vertex{{0, 0}, {0, 1}, {0, 2}}, opts...)
	require.NoError(t, err)
	return p
}

func TestNewPathValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		vertices []Vertex
		opts     []Option
	}{
		{"empty", nil, nil},
		{"single vertex", []Vertex{{1, 1}}, nil},
		{"nan longitude", []Vertex{{math.NaN(), 0}, {0, 1}}, nil},
		{"infinite latitude", []Vertex{{0, 0}, {0, math.Inf(1)}}, nil},
		{"latitude out of range", []Vertex{{0, 0}, {0, 91}}, nil},
		{"longitude out of range", []Vertex{{-181, 0}, {0, 1}}, nil},
		{"zero tolerance", []Vertex{{0, 0}, {0, 1}}, []Option{WithTolerance(0)}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPath(tc.vertices, tc.opts...)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestPathIsImmutable(t *testing.T) {
	vs := []Vertex{{0, 0}, {0, 1}}
	p, err := NewPath(vs)
	require.NoError(t, err)

	vs[1] = Vertex{5, 5}
	assert.Equal(t, Vertex{0, 1}, p.Vertices()[1])

	out := p.Vertices()
	out[0] = Vertex{9, 9}
	assert.Equal(t, Vertex{0, 0}, p.Vertices()[0])
}

func TestPathLengths(t *testing.T) {
	p := meridianPath(t)

	assert.Equal(t, 3, p.Len())
	assert.Equal(t, 2, p.Segments())
	assert.InDelta(t, kmPerDegree, p.SegmentLengthKM(0), 1e-9)
	assert.InDelta(t, 2*kmPerDegree, p.LengthKM(), 1e-9)
	assert.InDelta(t, 111.19, p.SegmentLengthKM(0), 0.01)
	assert.Equal(t, DefaultTolerance, p.Tolerance())
}

func TestProject(t *testing.T) {
	p := meridianPath(t)

	got := p.Project(Vertex{Lon: 0.3, Lat: 0.5})
	assert.InDelta(t, 0, got.Lon, 1e-12)
	assert.InDelta(t, 0.5, got.Lat, 1e-12)

	// Beyond the end clamps to the last vertex.
	got = p.Project(Vertex{Lon: 0, Lat: 3})
	assert.Equal(t, Vertex{0, 2}, got)
}

func TestProjectAndAccumulateEndpoints(t *testing.T) {
	p := meridianPath(t)

	ds := p.ProjectAndAccumulate([]Vertex{{0, 0}, {0, 1}, {0, 2}})
	require.Len(t, ds, 3)
	for _, d := range ds {
		require.True(t, d.Valid)
	}
	assert.InDelta(t, 0, ds[0].KM, 1e-9)
	assert.InDelta(t, kmPerDegree, ds[1].KM, 1e-9)
	assert.InDelta(t, p.LengthKM(), ds[2].KM, 1e-9)
}

func TestProjectAndAccumulateSameSegment(t *testing.T) {
	p := meridianPath(t)

	ds := p.ProjectAndAccumulate([]Vertex{{0, 0.25}, {0, 0.5}, {0, 0.75}})
	for i, want := range []float64{0.25, 0.5, 0.75} {
		require.True(t, ds[i].Valid)
		assert.InDelta(t, want*kmPerDegree, ds[i].KM, 1e-6)
	}
}

func TestProjectAndAccumulateMonotonic(t *testing.T) {
	p, err := NewPath([]Vertex{{0, 0}, {0.5, 0.5}, {1, 0.5}, {1.5, 1}, {2, 1}})
	require.NoError(t, err)

	var pts []Vertex
	for i := 0; i <= 40; i++ {
		lon := float64(i) * 0.05
		lat := math.Min(lon, 0.5)
		if lon > 1 {
			lat = math.Min(0.5+(lon-1), 1)
		}
		pts = append(pts, Vertex{Lon: lon, Lat: lat + 0.00001})
	}

	prev := -1.0
	for i, d := range p.ProjectAndAccumulate(pts) {
		require.Truef(t, d.Valid, "sample %d unresolved", i)
		assert.GreaterOrEqualf(t, d.KM, prev, "sample %d went backwards", i)
		prev = d.KM
	}
	assert.InDelta(t, p.LengthKM(), prev, 0.01)
}

func TestLocateBacktrackIsUnresolved(t *testing.T) {
	p := meridianPath(t)

	c := StartCursor()
	d, c := p.Locate(c, Vertex{0, 1.5})
	require.True(t, d.Valid)
	assert.InDelta(t, 1.5*kmPerDegree, d.KM, 1e-6)
	assert.Equal(t, 1, c.Segment)
	assert.InDelta(t, kmPerDegree, c.StartKM, 1e-9)

	before := c
	d, c = p.Locate(c, Vertex{0, 0.5})
	assert.False(t, d.Valid)
	assert.Equal(t, "unresolved", d.String())
	assert.Equal(t, before, c, "cursor must not move on a miss")

	d, _ = p.Locate(c, Vertex{0, 1.8})
	require.True(t, d.Valid)
	assert.InDelta(t, 1.8*kmPerDegree, d.KM, 1e-6)
}

func TestLocateOverlappingLegs(t *testing.T) {
	// An out-and-back path whose return leg runs within tolerance of the
	// outbound leg: a return-leg sample matches the outbound segment under
	// the cursor and comes out with a smaller distance.
	p, err := NewPath([]Vertex{{0, 0}, {0, 1}, {0.00001, 1}, {0.00001, 0}})
	require.NoError(t, err)

	ds := p.ProjectAndAccumulate([]Vertex{{0, 0.2}, {0, 0.9}, {0.00001, 0.5}})
	for _, d := range ds {
		require.True(t, d.Valid)
	}
	assert.Less(t, ds[2].KM, ds[1].KM)
}

func TestToleranceOption(t *testing.T) {
	// A point behind the cursor still matches the cursor segment when the
	// tolerance is wide enough to reach it.
	c := Cursor{Segment: 1, StartKM: kmPerDegree}

	loose := meridianPath(t, WithTolerance(0.5))
	d, _ := loose.Locate(c, Vertex{0, 0.7})
	require.True(t, d.Valid)
	assert.InDelta(t, 1.3*kmPerDegree, d.KM, 1e-6)

	strict := meridianPath(t)
	d, _ = strict.Locate(c, Vertex{0, 0.7})
	assert.False(t, d.Valid)
}

func TestGreatCircleKM(t *testing.T) {
	assert.InDelta(t, 0, GreatCircleKM(Vertex{10, 10}, Vertex{10, 10}), 1e-12)
	assert.InDelta(t, kmPerDegree, GreatCircleKM(Vertex{0, 0}, Vertex{1, 0}), 1e-9)
	assert.Equal(t, "1.500km", Resolved(1.5).String())
}
