package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jessevdk/go-flags"

	"github.com/Aste21/Lodz-Hack/internal/models"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

const (
	RetryEveryTick   = "every_tick"
	RetryExponential = "exponential"
)

type rawCfg struct {
	// Feeds
	AlertsURL                string `long:"alerts-url" env:"ALERTS_URL" default:"https://otwarte.miasto.lodz.pl/wp-content/uploads/2025/06/alerts.bin" description:"Service alerts feed URL"`
	VehiclePositionsURL      string `long:"vehicle-positions-url" env:"VEHICLE_POSITIONS_URL" default:"https://otwarte.miasto.lodz.pl/wp-content/uploads/2025/06/vehicle_positions.bin" description:"Vehicle positions feed URL"`
	FetchInterval            int    `long:"fetch-interval" env:"FETCH_INTERVAL" default:"0" description:"Poll interval in seconds for both feeds (0 keeps the per-feed intervals)"`
	AlertsInterval           int    `long:"alerts-interval" env:"ALERTS_INTERVAL" default:"10" description:"Alerts poll interval in seconds"`
	VehiclePositionsInterval int    `long:"vehicle-positions-interval" env:"VEHICLE_POSITIONS_INTERVAL" default:"30" description:"Vehicle positions poll interval in seconds"`
	FetchTimeout             int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"8" description:"HTTP timeout in seconds, must be shorter than every poll interval"`
	FeedsFile                string `long:"feeds-file" env:"FEEDS_FILE" description:"Optional YAML file overriding per-feed settings"`

	// Storage
	AlertsDir           string `long:"alerts-dir" env:"ALERTS_DIR" default:"saved_alerts" description:"Directory for alert snapshots"`
	VehiclePositionsDir string `long:"vehicle-positions-dir" env:"VEHICLE_POSITIONS_DIR" default:"saved_vehicle_positions" description:"Directory for vehicle position snapshots"`
	DBPath              string `long:"db-path" env:"DB_PATH" default:"monitor.db" description:"SQLite database file (empty disables the database)"`
	RedisURL            string `long:"redis-url" env:"REDIS_URL" description:"Redis URL for snapshot events (empty disables)"`
	RedisQueue          string `long:"redis-queue" env:"REDIS_QUEUE" default:"gtfsrt_snapshots" description:"Redis list receiving snapshot events"`

	// Application
	APIPort     int    `long:"api-port" env:"API_PORT" default:"8000" description:"HTTP API port"`
	RetryPolicy string `long:"retry-policy" env:"RETRY_POLICY" default:"every_tick" description:"Retry policy after failed polls (every_tick, exponential)"`
	UserAgent   string `long:"user-agent" env:"USER_AGENT" default:"Lodz-Hack GTFS-RT monitor/1.0" description:"User agent string for feed requests"`
	LogFormat   string `long:"log-format" env:"LOG_FORMAT" default:"text" description:"Log output format (text, json)"`
	Debug       bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// FeedCfg holds the resolved settings of one monitored feed
type FeedCfg struct {
	Kind     models.FeedKind `validate:"required,oneof=alerts vehicle_positions"`
	URL      string          `validate:"required,url"`
	Interval time.Duration   `validate:"gt=0"`
	Timeout  time.Duration   `validate:"gt=0,ltfield=Interval"`
	Dir      string          `validate:"required"`
}

// Cfg is the validated application configuration
type Cfg struct {
	Feeds       []FeedCfg `validate:"len=2,dive"`
	DBPath      string
	RedisURL    string `validate:"omitempty,url"`
	RedisQueue  string `validate:"required"`
	APIPort     int    `validate:"gt=0,lte=65535"`
	RetryPolicy string `validate:"oneof=every_tick exponential"`
	UserAgent   string
	LogFormat   string `validate:"oneof=text json"`
	Debug       bool
	Version     string
}

// Feed returns the settings of a feed kind
func (c *Cfg) Feed(kind models.FeedKind) (FeedCfg, bool) {
	for _, f := range c.Feeds {
		if f.Kind == kind {
			return f, true
		}
	}
	return FeedCfg{}, false
}

// Load parses flags and environment, applies the optional feeds file and validates the result.
// It returns nil, nil when help was requested.
func Load(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := fromRaw(raw)

	if raw.FeedsFile != "" {
		file, err := LoadFeedsFile(raw.FeedsFile)
		if err != nil {
			return nil, err
		}
		file.Apply(cfg)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func fromRaw(raw rawCfg) *Cfg {
	alertsInterval := seconds(raw.AlertsInterval)
	vehiclesInterval := seconds(raw.VehiclePositionsInterval)
	if raw.FetchInterval > 0 {
		alertsInterval = seconds(raw.FetchInterval)
		vehiclesInterval = seconds(raw.FetchInterval)
	}
	timeout := seconds(raw.FetchTimeout)

	return &Cfg{
		Feeds: []FeedCfg{
			{
				Kind:     models.KindAlerts,
				URL:      raw.AlertsURL,
				Interval: alertsInterval,
				Timeout:  timeout,
				Dir:      raw.AlertsDir,
			},
			{
				Kind:     models.KindVehiclePositions,
				URL:      raw.VehiclePositionsURL,
				Interval: vehiclesInterval,
				Timeout:  timeout,
				Dir:      raw.VehiclePositionsDir,
			},
		},
		DBPath:      raw.DBPath,
		RedisURL:    raw.RedisURL,
		RedisQueue:  raw.RedisQueue,
		APIPort:     raw.APIPort,
		RetryPolicy: raw.RetryPolicy,
		UserAgent:   raw.UserAgent,
		LogFormat:   raw.LogFormat,
		Debug:       raw.Debug,
		Version:     GetVersion(),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Validate checks field constraints and that every snapshot directory is writable
func Validate(cfg *Cfg) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, f := range cfg.Feeds {
		if err := checkWritable(f.Dir); err != nil {
			return fmt.Errorf("invalid configuration: %s directory: %w", f.Kind, err)
		}
	}
	return nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
