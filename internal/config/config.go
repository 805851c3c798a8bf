// Package config loads process configuration the way the teacher repo
// does: struct-tagged environment variables via caarlos0/env, with an
// optional .env file for local development, layered under a YAML file for
// the parameters that are naturally structured (indicator lists, retention
// tiers) and too unwieldy for flat env vars. The YAML file is optionally
// watched for changes with fsnotify, and Watcher.Current returns the latest
// parsed document; the binaries under cmd/ read it once at startup, so a
// changed file takes effect on their next restart.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Env holds the flat, environment-sourced settings: connection strings,
// topic names, and the numeric knobs that rarely change per deployment.
type Env struct {
	Addr string `env:"MDI_ADDR" envDefault:":8090"`

	KafkaBrokers  string `env:"MDI_KAFKA_BROKERS" envDefault:"localhost:9092"`
	ConsumerGroup string `env:"MDI_CONSUMER_GROUP" envDefault:"mdingest-compute"`
	EventsTopic   string `env:"MDI_EVENTS_TOPIC" envDefault:"events.v2"`
	SignalsTopic  string `env:"MDI_SIGNALS_TOPIC" envDefault:"signals.v2"`

	NATSURL string `env:"MDI_NATS_URL" envDefault:"nats://localhost:4222"`

	BoltPath string `env:"MDI_BOLT_PATH" envDefault:"./mdingest-state.db"`

	ArchiveRoot string `env:"MDI_ARCHIVE_ROOT" envDefault:"./archive"`

	ConfigFile string `env:"MDI_CONFIG_FILE" envDefault:"./config.yaml"`

	MetricsInterval time.Duration `env:"MDI_METRICS_INTERVAL" envDefault:"15s"`

	LogLevel  string `env:"MDI_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"MDI_LOG_FORMAT" envDefault:"json"`

	// Ingestion/WS knobs (§6.4 ws block).
	WSPingIntervalSec   int     `env:"MDI_WS_PING_INTERVAL_SEC" envDefault:"20"`
	WSPongTimeoutSec    int     `env:"MDI_WS_PONG_TIMEOUT_SEC" envDefault:"30"`
	WSMaxRetries        int     `env:"MDI_WS_MAX_RETRIES" envDefault:"0"`
	WSSubscribeBatch    int     `env:"MDI_WS_SUBSCRIBE_BATCH" envDefault:"20"`
	WSMaxQueue          int     `env:"MDI_WS_MAX_QUEUE" envDefault:"10000"`
	WSBackoffInitalSec  float64 `env:"MDI_WS_BACKOFF_INITIAL_SEC" envDefault:"1.0"`
	WSBackoffMaxSec     float64 `env:"MDI_WS_BACKOFF_MAX_SEC" envDefault:"60.0"`
	WSBackoffFactor     float64 `env:"MDI_WS_BACKOFF_FACTOR" envDefault:"2.0"`

	// IngestionManager knobs (§4.5).
	IngestQueueCapacity int `env:"MDI_INGEST_QUEUE_CAPACITY" envDefault:"100000"`
	IngestHighWatermark int `env:"MDI_INGEST_HIGH_WATERMARK" envDefault:"50000"`
	IngestLowWatermark  int `env:"MDI_INGEST_LOW_WATERMARK" envDefault:"5000"`
	IngestMinBatch      int `env:"MDI_INGEST_MIN_BATCH" envDefault:"50"`
	IngestMaxBatch      int `env:"MDI_INGEST_MAX_BATCH" envDefault:"5000"`
	IngestMaxLatencyMs  int `env:"MDI_INGEST_MAX_LATENCY_MS" envDefault:"800"`

	DedupCapacity int           `env:"MDI_DEDUP_CAPACITY" envDefault:"250000"`
	DedupTTL      time.Duration `env:"MDI_DEDUP_TTL" envDefault:"1800s"`

	// Venue/symbol/timeframe selection for WsConsumer fan-out (§4.2).
	Venues     string `env:"MDI_VENUES" envDefault:"binance"`
	Symbols    string `env:"MDI_SYMBOLS" envDefault:"BTCUSDT,ETHUSDT"`
	Timeframes string `env:"MDI_TIMEFRAMES" envDefault:"1m"`
}

// SplitCSV trims and drops empty entries from a comma-separated env value,
// mirroring the teacher's splitBrokers helper (cmd/multi/main.go).
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate applies the fatal-at-init checks §7 reserves for configuration
// errors.
func (e *Env) Validate() error {
	if e.Addr == "" {
		return fmt.Errorf("MDI_ADDR is required")
	}
	if e.IngestMinBatch <= 0 || e.IngestMaxBatch < e.IngestMinBatch {
		return fmt.Errorf("invalid batch bounds: min=%d max=%d", e.IngestMinBatch, e.IngestMaxBatch)
	}
	if e.IngestLowWatermark >= e.IngestHighWatermark {
		return fmt.Errorf("MDI_INGEST_LOW_WATERMARK must be < MDI_INGEST_HIGH_WATERMARK")
	}
	switch e.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid MDI_LOG_LEVEL %q", e.LogLevel)
	}
	switch e.LogFormat {
	case "json", "pretty":
	default:
		return fmt.Errorf("invalid MDI_LOG_FORMAT %q", e.LogFormat)
	}
	return nil
}

// LoadEnv loads .env (best-effort) then parses process environment into Env.
func LoadEnv(logger *zerolog.Logger) (*Env, error) {
	if err := godotenv.Load(); err != nil && logger != nil {
		logger.Info().Msg("no .env file found, using process environment only")
	}

	cfg := &Env{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate env config: %w", err)
	}
	return cfg, nil
}

// IndicatorConfig is one entry in the YAML indicator list (§6.4 Features).
type IndicatorConfig struct {
	Name   string         `yaml:"name"`
	Params map[string]any `yaml:"params"`
}

// RetentionTier is one entry of the storage retention plan (§4.8).
type RetentionTier struct {
	Name       string `yaml:"name"`
	AgeDaysMin int    `yaml:"age_days_min"`
	AgeDaysMax *int   `yaml:"age_days_max,omitempty"`
	Target     string `yaml:"target"`
}

// Document is the structured YAML configuration layer: indicators, QC
// thresholds, retention tiers, risk limits, and signal sltp policy.
type Document struct {
	Features struct {
		Indicators []IndicatorConfig `yaml:"indicators"`
		IQRk       float64           `yaml:"iqr_k"`
		FfillLimit int               `yaml:"ffill_limit"`
	} `yaml:"features"`

	Storage struct {
		Dataset       string          `yaml:"dataset"`
		Granularity   string          `yaml:"granularity"`
		IncludeRegion bool            `yaml:"include_region"`
		Retention     []RetentionTier `yaml:"retention"`
		TargetFileMiB float64         `yaml:"target_file_mib"`
	} `yaml:"storage"`

	Risk struct {
		MaxExposurePerAsset float64 `yaml:"max_exposure_per_asset"`
		DailyMaxDrawdown    float64 `yaml:"daily_max_drawdown"`
		EnableKillSwitch    bool    `yaml:"enable_kill_switch"`
	} `yaml:"risk"`

	Signals struct {
		ATRMultiple float64 `yaml:"atr_multiple"`
		RRRatio     float64 `yaml:"rr_ratio"`
		OutDir      string  `yaml:"producer_out_dir"`
	} `yaml:"sltp"`
}

func defaultDocument() Document {
	var d Document
	d.Features.IQRk = 1.5
	d.Features.FfillLimit = 1
	d.Storage.Dataset = "market_data"
	d.Storage.Granularity = "daily"
	d.Storage.TargetFileMiB = 64
	d.Storage.Retention = []RetentionTier{
		{Name: "hot", AgeDaysMin: 0, AgeDaysMax: intPtr(7), Target: "local-ssd"},
		{Name: "warm", AgeDaysMin: 7, AgeDaysMax: intPtr(90), Target: "object-store"},
		{Name: "cold", AgeDaysMin: 90, AgeDaysMax: intPtr(730), Target: "object-store-cold"},
		{Name: "delete", AgeDaysMin: 730, Target: "delete"},
	}
	d.Risk.MaxExposurePerAsset = 0.1
	d.Risk.DailyMaxDrawdown = 0.05
	d.Signals.ATRMultiple = 1.5
	d.Signals.RRRatio = 2.0
	d.Signals.OutDir = "./signals-out"
	return d
}

func intPtr(v int) *int { return &v }

func loadDocument(path string) (Document, error) {
	doc := defaultDocument()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, fmt.Errorf("read config file %s: %w", path, err)
	}
	// Parse onto the defaults so a partial YAML file only overrides what it
	// specifies.
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return doc, nil
}

// Watcher holds the current Document and refreshes it atomically when the
// backing YAML file changes on disk.
type Watcher struct {
	mu     sync.RWMutex
	doc    Document
	path   string
	logger zerolog.Logger
	watch  *fsnotify.Watcher
}

// NewWatcher loads the document once and, if the file exists, starts an
// fsnotify watch that reloads it on write events. Reload is atomic: readers
// via Current() never observe a partially-updated Document.
func NewWatcher(path string, logger zerolog.Logger) (*Watcher, error) {
	doc, err := loadDocument(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{doc: doc, path: path, logger: logger}

	if _, err := os.Stat(path); err == nil {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("create fsnotify watcher: %w", err)
		}
		if err := fw.Add(path); err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch config file %s: %w", path, err)
		}
		w.watch = fw
		go w.loop()
	}
	return w, nil
}

func (w *Watcher) loop() {
	defer logRecover(w.logger)
	for {
		select {
		case ev, ok := <-w.watch.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			doc, err := loadDocument(w.path)
			if err != nil {
				w.logger.Error().Err(err).Msg("config reload failed, keeping previous document")
				continue
			}
			w.mu.Lock()
			w.doc = doc
			w.mu.Unlock()
			w.logger.Info().Str("path", w.path).Msg("config document reloaded")
		case err, ok := <-w.watch.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("config watcher error")
		}
	}
}

func logRecover(logger zerolog.Logger) {
	if r := recover(); r != nil {
		logger.Error().Interface("panic_value", r).Msg("config watcher goroutine panic recovered")
	}
}

// Current returns a copy of the current Document. Safe for concurrent use.
func (w *Watcher) Current() Document {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.doc
}

// Close stops the fsnotify watch, if any.
func (w *Watcher) Close() error {
	if w.watch != nil {
		return w.watch.Close()
	}
	return nil
}
