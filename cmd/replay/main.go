// Command replay runs ReplayEngine (C7) as a one-shot CLI: it reads
// archived partitions for a symbol/timeframe/time-range through
// PartitionManager (C8) and republishes the reconstructed events onto a
// broker topic, preserving the original ts_event as the message
// timestamp. Structured the way the teacher's cmd/multi/main.go builds a
// process: flag parsing, basic startup logger, config load, structured
// logger, component construction, then a single bounded run instead of a
// signal-driven server loop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/adred-codev/mdingest/internal/broker"
	"github.com/adred-codev/mdingest/internal/config"
	"github.com/adred-codev/mdingest/internal/event"
	"github.com/adred-codev/mdingest/internal/logging"
	"github.com/adred-codev/mdingest/internal/partition"
	"github.com/adred-codev/mdingest/internal/replay"
	"github.com/adred-codev/mdingest/internal/telemetry"
)

func main() {
	symbol := flag.String("symbol", "", "symbol to replay, e.g. BTCUSDT (required)")
	tf := flag.String("tf", "1m", "timeframe to replay, e.g. 1m")
	start := flag.String("start", "", "replay window start, RFC3339 (required)")
	end := flag.String("end", "", "replay window end, RFC3339 (required)")
	topic := flag.String("topic", "", "destination topic, defaults to MDI_EVENTS_TOPIC")
	debug := flag.Bool("debug", false, "enable debug logging (overrides MDI_LOG_LEVEL)")
	flag.Parse()

	startupLogger := log.New(os.Stdout, "[replay] ", log.LstdFlags)

	if *symbol == "" || *start == "" || *end == "" {
		startupLogger.Fatal("-symbol, -start and -end are required")
	}
	startTime, err := time.Parse(time.RFC3339, *start)
	if err != nil {
		startupLogger.Fatalf("parse -start: %v", err)
	}
	endTime, err := time.Parse(time.RFC3339, *end)
	if err != nil {
		startupLogger.Fatalf("parse -end: %v", err)
	}
	if !endTime.After(startTime) {
		startupLogger.Fatal("-end must be after -start")
	}

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
		Service: "replay",
	})

	watcher, err := config.NewWatcher(env.ConfigFile, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config document")
	}
	defer watcher.Close()
	doc := watcher.Current()

	metrics := telemetry.New("mdingest_replay")

	destTopic := *topic
	if destTopic == "" {
		destTopic = env.EventsTopic
	}

	publisher, err := broker.NewKafkaPublisher(broker.Config{
		Brokers:      config.SplitCSV(env.KafkaBrokers),
		ClientID:     "replay",
		FlushTimeout: 5 * time.Second,
		OnFailure: func(topic string, err error) {
			metrics.PublishTotal.WithLabelValues(topic, "error").Inc()
		},
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create kafka publisher")
	}
	defer publisher.Close()

	partitions := partition.New(env.ArchiveRoot, partition.Policy{
		Dataset:       doc.Storage.Dataset,
		Granularity:   doc.Storage.Granularity,
		IncludeRegion: doc.Storage.IncludeRegion,
	}, doc.Storage.Retention)

	engine := replay.New(replay.Config{Topic: destTopic, SourceName: "replay"}, partitions, publisher, logger, metrics)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	count, err := engine.Replay(ctx, *symbol, event.Timeframe(*tf), startTime.UnixMilli(), endTime.UnixMilli())
	if err != nil {
		logger.Fatal().Err(err).Int("emitted", count).Msg("replay failed")
	}
	logger.Info().Int("emitted", count).Str("symbol", *symbol).Str("tf", *tf).Msg("replay finished")
}
