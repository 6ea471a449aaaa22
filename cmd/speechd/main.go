// main package for the speechd service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/voicekit/speechd/internal/audio"
	"github.com/voicekit/speechd/internal/config"
	"github.com/voicekit/speechd/internal/engine"
	"github.com/voicekit/speechd/internal/generation"
	"github.com/voicekit/speechd/internal/objectstore"
	"github.com/voicekit/speechd/internal/server"
	"github.com/voicekit/speechd/internal/voice"
	"github.com/voicekit/speechd/internal/worker"
)

const readyProbeTimeout = 10 * time.Second

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "speechd.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	return serve(cfg, finalLog)
}

func serve(cfg *config.Config, log *logger.Logger) error {
	registry, err := voice.New(cfg.Voices.Dir, voiceAliases(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to build voice registry: %w", err)
	}

	synthesisEngine := engine.NewHTTPEngine(
		cfg.Engine.URL,
		time.Duration(cfg.Engine.TimeoutSeconds)*time.Second,
	)

	probeCtx, cancelProbe := context.WithTimeout(context.Background(), readyProbeTimeout)

	err = synthesisEngine.Ready(probeCtx)

	cancelProbe()

	if err != nil {
		// Degraded start: the backend may come up later, health reports it.
		log.Warn("Synthesis backend not ready at startup: %v", err)
	}

	coordinator := generation.New(registry, synthesisEngine, generation.Options{
		MaxWordsPerChunk: cfg.Generation.MaxWordsPerChunk,
		ChunkCapacity:    cfg.Generation.ChunkCapacity,
		Timeout:          time.Duration(cfg.Generation.TimeoutSeconds) * time.Second,
		Defaults:         cfg.Generation.Params(),
	}, log)

	defaultFormat, err := audio.ParseFormat(cfg.Generation.DefaultFormat)
	if err != nil {
		return fmt.Errorf("invalid default format in configuration: %w", err)
	}

	httpServer := server.New(
		server.Addr(cfg.Server.Host, cfg.Server.Port),
		coordinator, registry, synthesisEngine,
		server.BackendInfo{
			Device:    cfg.Engine.Device,
			Precision: cfg.Engine.Precision,
		},
		defaultFormat, log)

	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(httpServer.ListenAndServe)

	group.Go(func() error {
		<-groupCtx.Done()

		return httpServer.Shutdown(context.Background())
	})

	if cfg.NATS.URL != "" {
		err = startWorker(groupCtx, group, cfg, coordinator, defaultFormat, log)
		if err != nil {
			return err
		}
	}

	log.System("speechd initialized: listening on %s", server.Addr(cfg.Server.Host, cfg.Server.Port))

	err = group.Wait()
	if err != nil {
		return fmt.Errorf("service terminated: %w", err)
	}

	return nil
}

// startWorker wires the optional NATS job worker when a broker URL is
// configured.
func startWorker(
	ctx context.Context,
	group *errgroup.Group,
	cfg *config.Config,
	coordinator *generation.Coordinator,
	defaultFormat audio.Format,
	log *logger.Logger,
) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	scripts, err := objectstore.New(
		jetstreamContext, cfg.NATS.ScriptBucket, "Scripts awaiting synthesis.")
	if err != nil {
		return fmt.Errorf("failed to open script bucket: %w", err)
	}

	audioBlobs, err := objectstore.New(
		jetstreamContext, cfg.NATS.AudioBucket, "Rendered audio blobs.")
	if err != nil {
		return fmt.Errorf("failed to open audio bucket: %w", err)
	}

	natsWorker := worker.NewNatsWorker(
		natsConnection, cfg.NATS.JobsSubject,
		scripts, audioBlobs, coordinator, defaultFormat, log)

	group.Go(func() error {
		defer natsConnection.Close()

		return natsWorker.Run(ctx)
	})

	return nil
}

// voiceAliases merges the built-in alias table with configured overrides.
func voiceAliases(cfg *config.Config) map[string]string {
	aliases := voice.DefaultAliases()
	for alias, target := range cfg.Voices.Aliases {
		aliases[alias] = target
	}

	return aliases
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
