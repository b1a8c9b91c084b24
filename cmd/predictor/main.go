package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gtfs-timestamp-predictor/internal/config"
	"gtfs-timestamp-predictor/internal/db"
	"gtfs-timestamp-predictor/internal/metrics"
	"gtfs-timestamp-predictor/internal/pipeline"
	"gtfs-timestamp-predictor/internal/publisher"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	os.Exit(run())
}

// run returns the process exit code.
func run() int {
	// Load configuration from .env, PREDICTOR_CONFIG and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.MatchTolerance, cfg.Workers)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Open the GTFS / results database when a component needs it
	var store *db.Store
	if cfg.Source == config.SourceDB || cfg.SaveToDB {
		store = openStore(ctx, cfg)
		defer store.Close()
	}

	runner := &pipeline.Runner{
		Workers:   cfg.Workers,
		Tolerance: cfg.MatchTolerance,
		Metrics:   mcol,
	}
	switch cfg.Source {
	case config.SourceDB:
		runner.Source = &pipeline.DBSource{Store: store, ServiceDay: cfg.ServiceDay(time.Now())}
	default:
		tripID := "trip"
		if len(cfg.TripIDs) > 0 {
			tripID = cfg.TripIDs[0]
		}
		runner.Source = &pipeline.CSVSource{
			ShapePath:    cfg.ShapeCSV,
			SchedulePath: cfg.ScheduleCSV,
			TripPath:     cfg.TripCSV,
			TripID:       tripID,
		}
	}

	if cfg.OutputCSV != "" {
		runner.Sinks = append(runner.Sinks, &pipeline.CSVSink{Path: cfg.OutputCSV, UnresolvedPath: cfg.UnresolvedCSV})
	}
	if cfg.SaveToDB {
		if err := store.EnsureResultSchema(ctx); err != nil {
			log.Fatalf("result schema: %v", err)
		}
		runner.Sinks = append(runner.Sinks, &pipeline.DBSink{Store: store})
	}
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer pub.Close()
		runner.Sinks = append(runner.Sinks, &pipeline.NATSSink{Pub: pub})
	}
	if len(runner.Sinks) == 0 {
		log.Printf("no output configured; predictions are only logged")
	}

	sum, err := runner.Run(ctx, cfg.TripIDs)
	if err != nil {
		log.Printf("run interrupted: %v", err)
	}
	if sum == nil {
		return 1
	}
	if err := sum.Err(); err != nil {
		log.Printf("run %s finished with errors:\n%v", sum.RunID, err)
		return 1
	}
	log.Printf("run %s complete: %d trips", sum.RunID, len(sum.Succeeded))
	return 0
}

// openStore connects to the configured database, resolving the latest
// import for CITY on Postgres clusters.
func openStore(ctx context.Context, cfg *config.Config) *db.Store {
	dsn := cfg.DatabaseURL
	if cfg.City != "" && db.DialectFor(dsn) == db.Postgres {
		resolved, err := db.ResolveCityDSN(ctx, dsn, cfg.City)
		if err != nil {
			log.Fatalf("%v", err)
		}
		dsn = resolved
		log.Printf("using city %q database", cfg.City)
	}
	store, err := db.Open(dsn)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	log.Printf("connected to %s database", store.Dialect)
	return store
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
