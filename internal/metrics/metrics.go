package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Runs           *prometheus.CounterVec // outcome label: ok|error
	PredictedRows  prometheus.Counter
	UnresolvedRows *prometheus.CounterVec // trace label: schedule|trip
	Anchors        prometheus.Gauge
	CoverageRatio  prometheus.Gauge
	InFlight       prometheus.Gauge

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	PredictDuration prometheus.Histogram
	PublishDuration prometheus.Histogram

	MatchTolerance prometheus.Gauge // degrees
	Workers        prometheus.Gauge
}

func NewCollector(matchTolerance float64, workers int) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "predictor_runs_total",
			Help: "Trip predictions attempted, by outcome.",
		}, []string{"outcome"}),
		PredictedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "predictor_predicted_rows_total",
			Help: "Trip rows that received a predicted timestamp.",
		}),
		UnresolvedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "predictor_unresolved_rows_total",
			Help: "Rows that could not be placed on the route path.",
		}, []string{"trace"}),
		Anchors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "predictor_anchors",
			Help: "Schedule anchors of the last predicted trip.",
		}),
		CoverageRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "predictor_coverage_ratio",
			Help: "Anchors per resolved trip row of the last predicted trip.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "predictor_trips_in_flight",
			Help: "Trips currently being processed.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "predictor_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "predictor_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "predictor_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PredictDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "predictor_predict_duration_seconds",
			Help:    "Duration of trace building and interpolation for one trip.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "predictor_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		MatchTolerance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "predictor_match_tolerance_degrees",
			Help: "Planar tolerance used to match projections to segments.",
		}),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "predictor_workers",
			Help: "Maximum trips processed concurrently.",
		}),
	}

	reg.MustRegister(
		c.Runs, c.PredictedRows, c.UnresolvedRows,
		c.Anchors, c.CoverageRatio, c.InFlight,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.PredictDuration, c.PublishDuration,
		c.MatchTolerance, c.Workers,
	)

	c.MatchTolerance.Set(matchTolerance)
	c.Workers.Set(float64(workers))

	return c
}

func (c *Collector) RunSucceeded() { c.Runs.WithLabelValues("ok").Inc() }
func (c *Collector) RunFailed()    { c.Runs.WithLabelValues("error").Inc() }

// ObservePrediction records the outcome of one successful trip prediction.
func (c *Collector) ObservePrediction(d time.Duration, predicted, unresolvedSchedule, unresolvedTrip, anchors int, ratio float64) {
	c.PredictDuration.Observe(d.Seconds())
	c.PredictedRows.Add(float64(predicted))
	c.UnresolvedRows.WithLabelValues("schedule").Add(float64(unresolvedSchedule))
	c.UnresolvedRows.WithLabelValues("trip").Add(float64(unresolvedTrip))
	c.Anchors.Set(float64(anchors))
	c.CoverageRatio.Set(ratio)
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
