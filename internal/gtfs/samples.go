package gtfs

import (
	"strconv"
	"strings"
	"time"

	"gtfs-timestamp-predictor/internal/route"
	"gtfs-timestamp-predictor/internal/trace"
)

// ShapeVertices converts shape points, already ordered by sequence.
func ShapeVertices(pts []ShapePoint) []route.Vertex {
	out := make([]route.Vertex, len(pts))
	for i, p := range pts {
		out[i] = route.Vertex{Lon: p.Lon, Lat: p.Lat}
	}
	return out
}

// ScheduleSamples builds timed schedule samples from stop_times ordered by
// stop_sequence. The first stop contributes its departure (or arrival if
// departure is missing), intermediate stops their arrival and a distinct
// departure, and the last stop its arrival. Stops without coordinates are
// skipped, as are keyframes that would step back in time.
func ScheduleSamples(sts []StopTime, serviceDay time.Time) []trace.Sample {
	base := Midnight(serviceDay)
	var out []trace.Sample
	lastSec := -1
	add := func(st StopTime, sec int) {
		if sec < lastSec {
			return
		}
		lastSec = sec
		out = append(out, trace.Sample{
			Position: route.Vertex{Lon: st.StopLon, Lat: st.StopLat},
			Time:     trace.At(float64(base.Add(time.Duration(sec) * time.Second).Unix())),
		})
	}
	for i, st := range sts {
		if st.StopLat == 0 && st.StopLon == 0 {
			continue
		}
		if i == 0 {
			sec := st.DepartureSec
			if sec == 0 {
				sec = st.ArrivalSec
			}
			add(st, sec)
			continue
		}
		if st.ArrivalSec > 0 {
			add(st, st.ArrivalSec)
		}
		if st.DepartureSec > 0 && st.DepartureSec != st.ArrivalSec && i < len(sts)-1 {
			add(st, st.DepartureSec)
		}
		if i == len(sts)-1 && st.ArrivalSec == 0 && st.DepartureSec > 0 {
			// Ensure last stop arrival exists
			add(st, st.DepartureSec)
		}
	}
	return out
}

// PositionSamples converts observed positions.
func PositionSamples(ps []Position) []trace.Sample {
	out := make([]trace.Sample, len(ps))
	for i, p := range ps {
		out[i] = trace.Sample{Position: route.Vertex{Lon: p.Lon, Lat: p.Lat}, Time: p.Time}
	}
	return out
}

// Midnight returns the start of t's day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDaySeconds parses HH:MM:SS possibly with hours >= 24.
func ParseDaySeconds(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	sec := 0
	if len(parts) > 2 {
		sec, _ = strconv.Atoi(parts[2])
	}
	total := h*3600 + m*60 + sec
	if total < 0 {
		total = 0
	}
	return total
}
