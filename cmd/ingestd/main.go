// Command ingestd runs the ingestion side of the pipeline: one WsConsumer
// (C2) per configured venue, each carrying every configured
// symbol/timeframe stream, feeding a single
// IngestionManager (C5), which dedupes, schema-validates, adaptively
// batches, and publishes onto the events topic. A RestBackfiller recovers
// candles over HTTP whenever a WsConsumer reports an error, covering the
// gap the dropped connection leaves before it reconnects. Structured the
// way the teacher's cmd/multi/main.go builds its process: flag parsing,
// basic startup logger, automaxprocs GOMAXPROCS log, config load,
// structured logger, component construction, signal.Notify graceful
// shutdown.
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
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/mdingest/internal/adapter"
	"github.com/adred-codev/mdingest/internal/broker"
	"github.com/adred-codev/mdingest/internal/config"
	"github.com/adred-codev/mdingest/internal/event"
	"github.com/adred-codev/mdingest/internal/health"
	"github.com/adred-codev/mdingest/internal/ingestmgr"
	"github.com/adred-codev/mdingest/internal/logging"
	"github.com/adred-codev/mdingest/internal/restbackfill"
	"github.com/adred-codev/mdingest/internal/schema"
	"github.com/adred-codev/mdingest/internal/telemetry"
	"github.com/adred-codev/mdingest/internal/wsconsumer"
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides MDI_LOG_LEVEL)")
	flag.Parse()

	startupLogger := log.New(os.Stdout, "[ingestd] ", log.LstdFlags)
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
		Service: "ingestd",
	})

	metrics := telemetry.New("mdingest_ingestd")

	sampler, err := health.NewSampler(metrics, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init resource sampler")
	}

	publisher, err := broker.NewKafkaPublisher(broker.Config{
		Brokers:      config.SplitCSV(env.KafkaBrokers),
		ClientID:     "ingestd",
		FlushTimeout: 500 * time.Millisecond,
		OnFailure: func(topic string, err error) {
			metrics.PublishTotal.WithLabelValues(topic, "error").Inc()
		},
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create kafka publisher")
	}
	defer publisher.Close()

	schemas := schema.NewRegistry()

	registry := adapter.NewRegistry()
	registry.Register(adapter.Binance{})
	registry.Register(adapter.Bingx{})
	registry.Register(adapter.Bitget{})
	registry.Register(adapter.Bybit{})
	registry.Register(adapter.Coinex{})
	registry.Register(adapter.Kucoin{})
	registry.Register(adapter.OKX{})

	mgrCfg := ingestmgr.DefaultConfig(env.EventsTopic)
	mgrCfg.QueueCapacity = env.IngestQueueCapacity
	mgrCfg.HighWatermark = env.IngestHighWatermark
	mgrCfg.LowWatermark = env.IngestLowWatermark
	mgrCfg.MinBatch = env.IngestMinBatch
	mgrCfg.MaxBatch = env.IngestMaxBatch
	mgrCfg.MaxBatchLatency = time.Duration(env.IngestMaxLatencyMs) * time.Millisecond
	mgrCfg.DedupCapacity = env.DedupCapacity
	mgrCfg.DedupTTL = env.DedupTTL

	mgr := ingestmgr.New(mgrCfg, logger, metrics, publisher, schemas)

	venues := config.SplitCSV(env.Venues)
	symbols := config.SplitCSV(env.Symbols)
	timeframes := config.SplitCSV(env.Timeframes)

	streams := make([]wsconsumer.Stream, 0, len(symbols)*len(timeframes))
	for _, sym := range symbols {
		for _, tf := range timeframes {
			streams = append(streams, wsconsumer.Stream{Symbol: sym, TF: event.Timeframe(tf)})
		}
	}

	backfiller := restbackfill.New(restbackfill.Config{}, logger, metrics)

	type venueConsumer struct {
		adapter  adapter.Adapter
		consumer *wsconsumer.Consumer
	}
	consumers := make([]venueConsumer, 0, len(venues))
	for _, venue := range venues {
		a, ok := registry.Get(venue)
		if !ok {
			logger.Fatal().Str("venue", venue).Msg("unknown venue adapter")
		}
		c := wsconsumer.New(wsconsumer.Config{
			Source:           venue,
			Streams:          streams,
			PingInterval:     time.Duration(env.WSPingIntervalSec) * time.Second,
			PongTimeout:      time.Duration(env.WSPongTimeoutSec) * time.Second,
			MaxRetries:       env.WSMaxRetries,
			BackoffInitial:   time.Duration(env.WSBackoffInitalSec * float64(time.Second)),
			BackoffMax:       time.Duration(env.WSBackoffMaxSec * float64(time.Second)),
			BackoffFactor:    env.WSBackoffFactor,
			InboundRateLimit: 0, // 0 disables limiting by default; set per-deployment via future flag
		}, a, logger)
		consumers = append(consumers, venueConsumer{adapter: a, consumer: c})
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		sampler.Run(gctx, env.MetricsInterval)
		return nil
	})

	group.Go(func() error {
		mgr.Run(gctx)
		return nil
	})

	for _, vc := range consumers {
		vc := vc
		group.Go(func() error {
			vc.consumer.Run(gctx)
			return nil
		})
		group.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev, ok := <-vc.consumer.Events():
					if !ok {
						return nil
					}
					if !mgr.Submit(ev) {
						logger.Warn().Str("source", ev.Source).Msg("ingest queue full, dropping event")
					}
				case err, ok := <-vc.consumer.Errors():
					if !ok {
						continue
					}
					logger.Warn().Err(err).Msg("wsconsumer error")

					for _, s := range streams {
						events, berr := backfiller.Backfill(gctx, vc.adapter, s.Symbol, s.TF)
						if berr != nil {
							logger.Warn().Err(berr).Str("source", vc.adapter.Name()).Str("symbol", s.Symbol).
								Msg("rest backfill failed, live reconnect will catch up instead")
							continue
						}
						for _, ev := range events {
							if !mgr.Submit(ev) {
								logger.Warn().Str("source", ev.Source).Msg("ingest queue full, dropping backfilled event")
							}
						}
					}
				}
			}
		})
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := sampler.Current()
		fmt.Fprintf(w, "ok cpu=%.1f%% mem=%.1fMB goroutines=%d\n", snap.CPUPercent, snap.MemoryMB, snap.Goroutines)
	})
	srv := &http.Server{Addr: env.Addr, Handler: mux}

	group.Go(func() error {
		logger.Info().Str("addr", env.Addr).Msg("ingestd http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutting down ingestd")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown")
	}

	for _, vc := range consumers {
		vc.consumer.Close()
	}
	cancel()

	if err := group.Wait(); err != nil {
		logger.Error().Err(err).Msg("ingestd component error during shutdown")
	}
	logger.Info().Msg("ingestd stopped")
}
