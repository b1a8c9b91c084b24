package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

type NATSPublisher struct {
	nc          Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("gtfs-timestamp-predictor"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return NewWithConn(nc, prefix, logSubjects, m), nil
}

// NewWithConn wraps an established connection.
func NewWithConn(nc Conn, prefix string, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{nc: nc, prefix: strings.Trim(prefix, ". "), logSubjects: logSubjects, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type PredictedPoint struct {
	RowIndex           int      `json:"rowIndex"`
	Lat                float64  `json:"lat"`
	Lon                float64  `json:"lon"`
	ObservedTimestamp  *float64 `json:"observedTimestamp,omitempty"`
	DistanceKM         float64  `json:"distanceKm"`
	PredictedTimestamp float64  `json:"predictedTimestamp"`
	DistToAnchorKM     float64  `json:"distToAnchorKm"`
	TimeToAnchorSec    float64  `json:"timeToAnchorSec"`
}

// PredictionMessage carries the predicted timeline of one trip.
type PredictionMessage struct {
	RunID         string           `json:"runId"`
	TripID        string           `json:"tripId"`
	RouteID       string           `json:"routeId"`
	GeneratedAt   time.Time        `json:"generatedAt"`
	Anchors       int              `json:"anchors"`
	CoverageRatio float64          `json:"coverageRatio"`
	Unresolved    int              `json:"unresolved"`
	Points        []PredictedPoint `json:"points"`
}

// Subject returns <prefix>.<route>.<trip>, or <route>.<trip> without a prefix.
func (p *NATSPublisher) Subject(routeID, tripID string) string {
	subject := fmt.Sprintf("%s.%s", subjectToken(routeID), subjectToken(tripID))
	if p.prefix != "" {
		subject = p.prefix + "." + subject
	}
	return subject
}

func (p *NATSPublisher) PublishPrediction(msg PredictionMessage) error {
	subject := p.Subject(msg.RouteID, msg.TripID)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s points=%d", subject, len(msg.Points))
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
