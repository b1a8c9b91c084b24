package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SourceCSV = "csv"
	SourceDB  = "db"
)

type Config struct {
	Source string `yaml:"source" validate:"oneof=csv db"`

	ShapeCSV      string `yaml:"shape_csv" validate:"required_if=Source csv"`
	ScheduleCSV   string `yaml:"schedule_csv" validate:"required_if=Source csv"`
	TripCSV       string `yaml:"trip_csv" validate:"required_if=Source csv"`
	OutputCSV     string `yaml:"output_csv"`
	UnresolvedCSV string `yaml:"unresolved_csv"`

	DatabaseURL string   `yaml:"database_url" validate:"required_if=Source db"`
	City        string   `yaml:"city"`
	TripIDs     []string `yaml:"trip_ids"`
	ServiceDate string   `yaml:"service_date" validate:"omitempty,datetime=2006-01-02"`
	TZ          string   `yaml:"tz"`
	SaveToDB    bool     `yaml:"save_to_db"`

	MatchTolerance float64 `yaml:"match_tolerance_deg" validate:"gt=0"`
	Workers        int     `yaml:"workers" validate:"gte=1"`

	NATSURL           string `yaml:"nats_url"`
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"`
	LogNATSSubjects   bool   `yaml:"log_nats_subjects"`
	MetricsAddr       string `yaml:"metrics_addr"`

	Location *time.Location `yaml:"-" validate:"-"`
}

func defaults() *Config {
	return &Config{
		Source:            SourceCSV,
		ShapeCSV:          "data/shape.csv",
		ScheduleCSV:       "data/schedule.csv",
		TripCSV:           "data/trip.csv",
		OutputCSV:         "data/prediction_results.csv",
		MatchTolerance:    0.0001,
		Workers:           4,
		NATSSubjectPrefix: "predictions",
	}
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := defaults()

	if path := os.Getenv("PREDICTOR_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read PREDICTOR_CONFIG: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	setString(&cfg.Source, "SOURCE")
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	setString(&cfg.ShapeCSV, "SHAPE_CSV")
	setString(&cfg.ScheduleCSV, "SCHEDULE_CSV")
	setString(&cfg.TripCSV, "TRIP_CSV")
	setString(&cfg.OutputCSV, "OUTPUT_CSV")
	setString(&cfg.UnresolvedCSV, "UNRESOLVED_CSV")
	setString(&cfg.ServiceDate, "SERVICE_DATE")
	setString(&cfg.NATSURL, "NATS_URL")
	setString(&cfg.NATSSubjectPrefix, "NATS_SUBJECT_PREFIX")
	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	setString(&cfg.MetricsAddr, "METRICS_ADDR")

	// City name for dynamic DB resolution
	if v := firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME")); v != "" {
		cfg.City = v
	}

	if v := os.Getenv("TRIP_IDS"); v != "" {
		cfg.TripIDs = splitList(v)
	}

	if v := os.Getenv("MATCH_TOLERANCE_DEG"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid MATCH_TOLERANCE_DEG: %q", v)
		}
		cfg.MatchTolerance = f
	}

	if v := os.Getenv("WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid WORKERS: %q", v)
		}
		cfg.Workers = n
	}

	if v := os.Getenv("LOG_NATS_SUBJECTS"); v != "" {
		cfg.LogNATSSubjects = parseBool(v)
	}
	if v := os.Getenv("SAVE_TO_DB"); v != "" {
		cfg.SaveToDB = parseBool(v)
	}

	if cfg.Source == SourceDB || cfg.SaveToDB {
		dsn, err := databaseURL(cfg.DatabaseURL, cfg.City)
		if err != nil {
			return nil, err
		}
		cfg.DatabaseURL = dsn
	}

	// Time zone
	setString(&cfg.TZ, "TZ")
	if cfg.TZ == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(cfg.TZ)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	// The CSV inputs hold exactly one trip.
	if cfg.Source == SourceCSV && len(cfg.TripIDs) > 1 {
		return nil, fmt.Errorf("invalid config: csv source serves a single trip, got TRIP_IDS %v", cfg.TripIDs)
	}
	return cfg, nil
}

// ServiceDay returns SERVICE_DATE in the configured location, or today.
func (c *Config) ServiceDay(now time.Time) time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}
	if c.ServiceDate != "" {
		if d, err := time.ParseInLocation("2006-01-02", c.ServiceDate, loc); err == nil {
			return d
		}
	}
	return now.In(loc)
}

// databaseURL prefers DATABASE_URL / PG_DSN, then the configured value,
// else builds a DSN from PG* vars.
func databaseURL(configured, city string) (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"), configured); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	// If CITY is provided, default base DB to 'postgres' when PGDATABASE is not set.
	if db == "" && city != "" {
		db = "postgres"
	}
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using CITY)")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
