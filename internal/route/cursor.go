package route

// Cursor is the state of the forward-only segment search. Segment is the
// last matched segment and StartKM the along-path distance of its first
// vertex.
type Cursor struct {
	Segment int
	StartKM float64
}

// StartCursor positions the search at the first segment.
func StartCursor() Cursor { return Cursor{} }

// Locate projects v onto the path and searches forward from c for the
// segment holding the projection. Samples must be fed in traversal order:
// a projection that only matches a segment behind the cursor, which happens
// near self-intersections or overlapping sections, is reported unresolved
// and the cursor is returned unchanged so the next sample retries from it.
func (p *Path) Locate(c Cursor, v Vertex) (Distance, Cursor) {
	projected := p.Project(v).planar()
	start := c.StartKM
	for i := max(c.Segment, 0); i < len(p.segKM); i++ {
		if _, d := p.closestOnSegment(i, projected); d <= p.tolerance {
			along := start + GreatCircleKM(p.vertices[i], vertexFromPlanar(projected))
			return Resolved(along), Cursor{Segment: i, StartKM: start}
		}
		start += p.segKM[i]
	}
	return Distance{}, c
}

// ProjectAndAccumulate resolves the along-path distance of each point,
// threading one cursor through the sequence.
func (p *Path) ProjectAndAccumulate(points []Vertex) []Distance {
	out := make([]Distance, len(points))
	c := StartCursor()
	for i, v := range points {
		out[i], c = p.Locate(c, v)
	}
	return out
}
