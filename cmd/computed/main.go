// Command computed runs the compute side of the pipeline: a worker reads
// the events topic, feeds StateManager (C9), and on every window emission
// runs FeatureEngine (C10), RuleEngine/ModelRunner/FinalScorer
// (C11-C13), RiskController (C14), and SignalEmitter (C15) in sequence,
// archiving the raw window through PartitionManager (C8) along the way.
// Structured the way the teacher's cmd/multi/main.go builds its process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/mdingest/internal/broker"
	"github.com/adred-codev/mdingest/internal/config"
	"github.com/adred-codev/mdingest/internal/event"
	"github.com/adred-codev/mdingest/internal/feature"
	"github.com/adred-codev/mdingest/internal/featurebus"
	"github.com/adred-codev/mdingest/internal/health"
	"github.com/adred-codev/mdingest/internal/kvstore"
	"github.com/adred-codev/mdingest/internal/logging"
	"github.com/adred-codev/mdingest/internal/model"
	"github.com/adred-codev/mdingest/internal/partition"
	"github.com/adred-codev/mdingest/internal/risk"
	"github.com/adred-codev/mdingest/internal/rule"
	"github.com/adred-codev/mdingest/internal/schema"
	"github.com/adred-codev/mdingest/internal/scorer"
	sig "github.com/adred-codev/mdingest/internal/signal"
	"github.com/adred-codev/mdingest/internal/state"
	"github.com/adred-codev/mdingest/internal/telemetry"
)

// defaultWindow is the sliding window length FeatureEngine needs to warm up
// every configured indicator (the ADX/ichimoku lookbacks are the longest).
const defaultWindow = 60

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides MDI_LOG_LEVEL)")
	flag.Parse()

	startupLogger := log.New(os.Stdout, "[computed] ", log.LstdFlags)
	maxProcs := runtime.GOMAXPROCS(0)
	startupLogger.Printf("GOMAXPROCS: %d (via automaxprocs)", maxProcs)

	env, err := config.LoadEnv(nil)
	if err != nil {
		startupLogger.Fatalf("load config: %v", err)
	}
	if *debug {
		env.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{
		Level:   logging.Level(env.LogLevel),
		Format:  logging.Format(env.LogFormat),
		Service: "computed",
	})

	watcher, err := config.NewWatcher(env.ConfigFile, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config document")
	}
	defer watcher.Close()
	doc := watcher.Current()

	metrics := telemetry.New("mdingest_computed")

	sampler, err := health.NewSampler(metrics, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init resource sampler")
	}

	kv, err := kvstore.Open(env.BoltPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("open bolt store")
	}
	defer kv.Close()

	eventsConsumer, err := broker.NewEventConsumer(broker.ConsumerConfig{
		Brokers:       config.SplitCSV(env.KafkaBrokers),
		ConsumerGroup: env.ConsumerGroup,
		Topics:        []string{env.EventsTopic},
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create events consumer")
	}
	defer eventsConsumer.Close()

	signalPublisher, err := broker.NewKafkaPublisher(broker.Config{
		Brokers:      config.SplitCSV(env.KafkaBrokers),
		ClientID:     "computed",
		FlushTimeout: 500 * time.Millisecond,
		OnFailure: func(topic string, err error) {
			metrics.PublishTotal.WithLabelValues(topic, "error").Inc()
		},
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create signal publisher")
	}
	defer signalPublisher.Close()

	bus, err := featurebus.Connect(featurebus.Config{URL: env.NATSURL}, metrics, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("feature-cache NATS bus unavailable, continuing with kvstore cache only")
		bus = nil
	} else {
		defer bus.Close()
	}

	partitions := partition.New(env.ArchiveRoot, partition.Policy{
		Dataset:       doc.Storage.Dataset,
		Granularity:   doc.Storage.Granularity,
		IncludeRegion: doc.Storage.IncludeRegion,
	}, doc.Storage.Retention)

	stateMgr := state.New(kv)
	featureEngine := feature.NewEngine(feature.EngineConfig{
		Indicators: feature.SpecsFromConfig(doc.Features.Indicators),
		Quality:    feature.QualityParams{IQRk: doc.Features.IQRk, FfillLimit: doc.Features.FfillLimit},
	}, schema.NewRegistry(), metrics)

	ruleEngine := rule.New(metrics)
	modelRunner := model.New(model.Config{
		Weights: map[string]float64{"adx": 0.05, "atr": -0.02, "vwap": 0.0},
		Bias:    0,
	}, metrics)
	finalScorer := scorer.New(metrics)
	riskController := risk.New(risk.Config{
		MaxExposurePerAsset: doc.Risk.MaxExposurePerAsset,
		DailyMaxDrawdown:    doc.Risk.DailyMaxDrawdown,
		EnableKillSwitch:    doc.Risk.EnableKillSwitch,
	}, metrics)
	signalEmitter := sig.New(sig.Config{
		Topic:  env.SignalsTopic,
		SLTP:   sig.SLTPPolicy{ATRMultiple: doc.Signals.ATRMultiple, RRRatio: doc.Signals.RRRatio},
		OutDir: doc.Signals.OutDir,
	}, signalPublisher, metrics)

	var configuredMu sync.Mutex
	configured := map[string]bool{}
	ensureStream := func(symbol, tf string) {
		configuredMu.Lock()
		defer configuredMu.Unlock()
		k := symbol + "|" + tf
		if configured[k] {
			return
		}
		stateMgr.ConfigureStream(symbol, tf, defaultWindow, state.Sliding, 1)
		configured[k] = true
	}

	handle := func(ev *event.NormalizedEvent) {
		if ev.EventType != event.TypeOHLCV || ev.Candle == nil {
			return
		}
		ensureStream(ev.Symbol, string(ev.TF))

		row := state.Row{
			"symbol":   ev.Symbol,
			"tf":       string(ev.TF),
			"ts_event": ev.TsEvent,
			"open":     ev.Candle.Open,
			"high":     ev.Candle.High,
			"low":      ev.Candle.Low,
			"close":    ev.Candle.Close,
			"volume":   ev.Candle.Volume,
		}

		window, err := stateMgr.Update(ev.Symbol, string(ev.TF), row)
		if err != nil {
			logger.Warn().Err(err).Msg("state update failed")
			return
		}
		if window == nil {
			return
		}

		key, err := partitions.DeriveKey(ev.Symbol, ev.TF, ev.TsEvent, "")
		if err == nil {
			records := make([]map[string]any, len(window))
			for i, r := range window {
				records[i] = map[string]any(r)
			}
			if _, err := partitions.WritePartition(key, records); err != nil {
				logger.Warn().Err(err).Msg("partition write failed")
			}
		}

		featureRows := make([]feature.Row, len(window))
		for i, r := range window {
			featureRows[i] = feature.Row(r)
		}
		computed, _, err := featureEngine.Compute(featureRows)
		if err != nil || len(computed) == 0 {
			if err != nil {
				logger.Warn().Err(err).Msg("feature compute failed")
			}
			return
		}

		last := computed[len(computed)-1]
		closePrice := asFloat(window[len(window)-1]["close"])

		if bus != nil {
			if err := bus.PublishFeatureRow(last.Symbol, last.Timeframe, last); err != nil {
				logger.Debug().Err(err).Msg("feature-cache publish failed")
			}
		}

		ruleScore := ruleEngine.Score(rule.Row{
			ADX:   last.Indicators["adx"],
			ATR:   last.Indicators["atr"],
			VWAP:  last.Indicators["vwap"],
			Close: closePrice,
		})

		probTP, err := modelRunner.PredictProba(last.Indicators)
		if err != nil {
			logger.Warn().Err(err).Msg("model inference failed")
			return
		}

		fused := finalScorer.Score(ruleScore, probTP)

		decision := riskController.EvaluateOrder(last.Symbol, 1.0, time.Now().UTC())
		if !decision.Approved {
			return
		}

		side := sig.Neutral
		switch fused.Direction {
		case scorer.Long:
			side = sig.Long
		case scorer.Short:
			side = sig.Short
		}

		signalPayload, err := signalEmitter.Assemble(sig.Row{
			Symbol:    last.Symbol,
			Timeframe: last.Timeframe,
			TsEvent:   last.TsEvent,
			Close:     closePrice,
			ATR:       last.Indicators["atr"],
		}, probTP, side, modelRunner.ModelVersion(), nil, nil, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("signal assembly failed")
			return
		}

		publishCtx, publishCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := signalEmitter.Publish(publishCtx, signalPayload); err != nil {
			logger.Warn().Err(err).Msg("signal publish failed")
		}
		publishCancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		sampler.Run(gctx, env.MetricsInterval)
		return nil
	})
	group.Go(func() error {
		eventsConsumer.Run(gctx, handle)
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := sampler.Current()
		fmt.Fprintf(w, "ok cpu=%.1f%% mem=%.1fMB goroutines=%d\n", snap.CPUPercent, snap.MemoryMB, snap.Goroutines)
	})
	srv := &http.Server{Addr: env.Addr, Handler: mux}
	group.Go(func() error {
		logger.Info().Str("addr", env.Addr).Msg("computed http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down computed")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}
	cancel()

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("computed component error during shutdown")
	}
	logger.Info().Msg("computed stopped")
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}
