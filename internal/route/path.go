package route

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s2"
)

// EarthRadiusKM is the mean earth radius used for great-circle distances.
const EarthRadiusKM = 6371.0

// DefaultTolerance is the positional slack, in coordinate degrees, within
// which a projected point is considered to lie on a segment.
const DefaultTolerance = 0.0001

var ErrValidation = errors.New("validation error")

// Vertex is a geographic position in degrees.
type Vertex struct {
	Lon float64 `json:"longitude"`
	Lat float64 `json:"latitude"`
}

// Validate reports whether v is a finite, in-range coordinate pair.
func (v Vertex) Validate() error {
	if math.IsNaN(v.Lon) || math.IsInf(v.Lon, 0) || math.IsNaN(v.Lat) || math.IsInf(v.Lat, 0) {
		return fmt.Errorf("%w: non-finite coordinate (%v, %v)", ErrValidation, v.Lon, v.Lat)
	}
	if v.Lon < -180 || v.Lon > 180 || v.Lat < -90 || v.Lat > 90 {
		return fmt.Errorf("%w: coordinate out of range (%v, %v)", ErrValidation, v.Lon, v.Lat)
	}
	return nil
}

func (v Vertex) planar() r2.Point { return r2.Point{X: v.Lon, Y: v.Lat} }

func (v Vertex) latLng() s2.LatLng { return s2.LatLngFromDegrees(v.Lat, v.Lon) }

func vertexFromPlanar(p r2.Point) Vertex { return Vertex{Lon: p.X, Lat: p.Y} }

// GreatCircleKM returns the great-circle distance between a and b in kilometers.
func GreatCircleKM(a, b Vertex) float64 {
	return a.latLng().Distance(b.latLng()).Radians() * EarthRadiusKM
}

// Distance is a distance along a path that may be unresolved.
type Distance struct {
	KM    float64
	Valid bool
}

// Resolved returns a valid Distance of km kilometers.
func Resolved(km float64) Distance { return Distance{KM: km, Valid: true} }

func (d Distance) String() string {
	if !d.Valid {
		return "unresolved"
	}
	return fmt.Sprintf("%.3fkm", d.KM)
}

// Path is an immutable polyline with precomputed segment lengths.
type Path struct {
	vertices  []Vertex
	segKM     []float64
	totalKM   float64
	tolerance float64
}

type Option func(*Path)

// WithTolerance sets the segment match tolerance in coordinate degrees. The
// value is not a physical distance: one degree of longitude shrinks with
// latitude, so callers needing metric precision pick it per region.
func WithTolerance(deg float64) Option {
	return func(p *Path) { p.tolerance = deg }
}

// NewPath builds a Path from at least two vertices.
func NewPath(vertices []Vertex, opts ...Option) (*Path, error) {
	if len(vertices) < 2 {
		return nil, fmt.Errorf("%w: a path needs at least 2 vertices, got %d", ErrValidation, len(vertices))
	}
	for i, v := range vertices {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("vertex %d: %w", i, err)
		}
	}
	p := &Path{
		vertices:  append([]Vertex(nil), vertices...),
		segKM:     make([]float64, len(vertices)-1),
		tolerance: DefaultTolerance,
	}
	for _, opt := range opts {
		opt(p)
	}
	if math.IsNaN(p.tolerance) || p.tolerance <= 0 {
		return nil, fmt.Errorf("%w: tolerance must be positive, got %v", ErrValidation, p.tolerance)
	}
	for i := range p.segKM {
		p.segKM[i] = GreatCircleKM(p.vertices[i], p.vertices[i+1])
		p.totalKM += p.segKM[i]
	}
	return p, nil
}

func (p *Path) Len() int { return len(p.vertices) }

// Vertices returns a copy of the path vertices.
func (p *Path) Vertices() []Vertex { return append([]Vertex(nil), p.vertices...) }

func (p *Path) Segments() int { return len(p.segKM) }

func (p *Path) SegmentLengthKM(i int) float64 { return p.segKM[i] }

func (p *Path) LengthKM() float64 { return p.totalKM }

func (p *Path) Tolerance() float64 { return p.tolerance }

// closestOnSegment returns the point of segment i nearest to q in degree
// space and its planar distance from q.
func (p *Path) closestOnSegment(i int, q r2.Point) (r2.Point, float64) {
	a := p.vertices[i].planar()
	b := p.vertices[i+1].planar()
	ab := b.Sub(a)
	t := 0.0
	if l2 := ab.Dot(ab); l2 > 0 {
		t = q.Sub(a).Dot(ab) / l2
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}
	c := a.Add(ab.Mul(t))
	return c, q.Sub(c).Norm()
}

// Project returns the point on the whole path nearest to v.
func (p *Path) Project(v Vertex) Vertex {
	q := v.planar()
	best := math.Inf(1)
	var nearest r2.Point
	for i := range p.segKM {
		c, d := p.closestOnSegment(i, q)
		if d < best {
			best, nearest = d, c
		}
	}
	return vertexFromPlanar(nearest)
}
