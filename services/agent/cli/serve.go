package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/handlers"
	"github.com/ramiqadoumi/agentq/internal/kafka"
	"github.com/ramiqadoumi/agentq/internal/postgres"
	redisbroker "github.com/ramiqadoumi/agentq/internal/redis"
	"github.com/ramiqadoumi/agentq/internal/result"
	"github.com/ramiqadoumi/agentq/pkg/telemetry"
	"github.com/ramiqadoumi/agentq/services/agent"
	"github.com/ramiqadoumi/agentq/services/agent/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent",
	Long: `Connect to the broker, mark the agent type online and process its queue
until SIGINT or SIGTERM. On a signal the in-flight task gets --shutdown-grace
to finish before the agent type is marked offline.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("broker-url", "redis://localhost:6379/0", "broker connection URL")
	serveCmd.Flags().String("agent-type", "", "agent type whose queue this process consumes")
	serveCmd.Flags().StringSlice("agent-types", domain.DefaultAgentTypeNames(), "known agent types")
	serveCmd.Flags().String("handler", "webhook", "task handler: webhook | exec")
	serveCmd.Flags().String("webhook-url", "", "endpoint the webhook handler POSTs each task to")
	serveCmd.Flags().Duration("webhook-timeout", 15*time.Second, "per-attempt timeout for webhook calls")
	serveCmd.Flags().Int("webhook-max-attempts", 3, "webhook attempts per task; transport errors and 5xx are retried")
	serveCmd.Flags().String("exec-command", "", "command the exec handler runs per task (description on stdin)")
	serveCmd.Flags().Duration("poll-timeout", agent.DefaultPollTimeout, "blocking dequeue timeout")
	serveCmd.Flags().Duration("error-backoff", agent.DefaultErrorBackoff, "wait after a broker error before polling again")
	serveCmd.Flags().Duration("result-ttl", result.DefaultTTL, "result record retention")
	serveCmd.Flags().String("queue-order", "lifo", "dequeue order: lifo | fifo")
	serveCmd.Flags().Duration("shutdown-grace", 10*time.Second, "time allowed for the in-flight task on shutdown")
	serveCmd.Flags().Duration("sink-timeout", agent.DefaultSinkTimeout, "deadline for each archive or event sink write")
	serveCmd.Flags().String("metrics-addr", ":9091", "ops server address (/metrics, /healthz, /readyz); empty disables it")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().String("postgres-dsn", "", "archive every result to PostgreSQL; empty disables it")
	serveCmd.Flags().String("kafka-brokers", "", "comma-separated Kafka brokers for result events; empty disables them")

	bindFlag("broker_url", serveCmd.Flags(), "broker-url")
	bindFlag("agent_type", serveCmd.Flags(), "agent-type")
	bindFlag("agent_types", serveCmd.Flags(), "agent-types")
	bindFlag("handler", serveCmd.Flags(), "handler")
	bindFlag("webhook_url", serveCmd.Flags(), "webhook-url")
	bindFlag("webhook_timeout", serveCmd.Flags(), "webhook-timeout")
	bindFlag("webhook_max_attempts", serveCmd.Flags(), "webhook-max-attempts")
	bindFlag("exec_command", serveCmd.Flags(), "exec-command")
	bindFlag("poll_timeout", serveCmd.Flags(), "poll-timeout")
	bindFlag("error_backoff", serveCmd.Flags(), "error-backoff")
	bindFlag("result_ttl", serveCmd.Flags(), "result-ttl")
	bindFlag("queue_order", serveCmd.Flags(), "queue-order")
	bindFlag("shutdown_grace", serveCmd.Flags(), "shutdown-grace")
	bindFlag("sink_timeout", serveCmd.Flags(), "sink-timeout")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	bindFlag("postgres_dsn", serveCmd.Flags(), "postgres-dsn")
	bindFlag("kafka_brokers", serveCmd.Flags(), "kafka-brokers")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	agentType, order, err := cfg.Validate()
	if err != nil {
		return err
	}
	workerID := fmt.Sprintf("%s-%s", agentType, uuid.New().String()[:8])

	logger := buildLogger(cfg.LogLevel, "agent").With(
		slog.String("agent_type", string(agentType)),
		slog.String("worker_id", workerID),
	)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "agent-"+string(agentType), cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	handler, err := buildHandler(cfg)
	if err != nil {
		return err
	}

	sinks, closeSinks, err := buildSinks(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	client, err := redisbroker.NewClient(cfg.BrokerURL)
	if err != nil {
		return err
	}
	b := redisbroker.NewBroker(client, logger)

	w := agent.NewWorker(agentType, b, handler,
		agent.WithLogger(buildLogger(cfg.LogLevel, "agent")),
		agent.WithWorkerID(workerID),
		agent.WithPollTimeout(cfg.PollTimeout),
		agent.WithErrorBackoff(cfg.ErrorBackoff),
		agent.WithSinkTimeout(cfg.SinkTimeout),
		agent.WithQueueOrder(order),
		agent.WithResultTTL(cfg.ResultTTL),
		agent.WithSinks(sinks...),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = w.Start(startCtx)
	cancel()
	if err != nil {
		_ = b.Close()
		return fmt.Errorf("agent start: %w", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger, w.Ready)

	quit := make(chan os.Signal, 2)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(quit)

	logger.Info("agent starting",
		slog.String("handler", handler.Name()),
		slog.Int("sinks", len(sinks)),
	)

	if err := runUntilSignal(runCtx, w, quit, cfg.ShutdownGrace, logger); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	logger.Info("stopped cleanly")
	return nil
}

// lifecycle is the part of agent.Worker that runUntilSignal drives.
type lifecycle interface {
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
}

// runUntilSignal runs the poll loop until it exits or a signal arrives. The
// first signal stops the worker within grace. A second signal, or a loop
// still stuck in its handler once grace is over, returns without waiting
// for Run.
func runUntilSignal(ctx context.Context, w lifecycle, quit <-chan os.Signal, grace time.Duration, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.Run(gctx)
	})
	runDone := make(chan error, 1)
	go func() { runDone <- g.Wait() }()

	select {
	case sig := <-quit:
		logger.Info("signal received, stopping",
			slog.String("signal", sig.String()),
			slog.Duration("grace", grace),
		)
	case err := <-runDone:
		stopCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		return errors.Join(err, w.Stop(stopCtx))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop(stopCtx) }()

	select {
	case err := <-stopped:
		if err != nil {
			return err
		}
	case sig := <-quit:
		return fmt.Errorf("second signal %s, exiting without waiting for the in-flight task", sig)
	}
	return <-runDone
}

func buildHandler(cfg config.Config) (handlers.Handler, error) {
	registry := handlers.NewRegistry()
	if cfg.WebhookURL != "" {
		registry.Register(handlers.NewWebhookHandler(handlers.WebhookConfig{
			URL:         cfg.WebhookURL,
			Timeout:     cfg.WebhookTimeout,
			MaxAttempts: cfg.WebhookMaxAttempts,
		}))
	}
	if cfg.ExecCommand != "" {
		registry.Register(handlers.NewExecHandler(cfg.ExecCommand))
	}
	return registry.Get(cfg.Handler)
}

// buildSinks wires the optional result consumers. The returned func releases
// whatever was opened.
func buildSinks(cfg config.Config, logger *slog.Logger) ([]result.Sink, func(), error) {
	var (
		sinks   []result.Sink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.PostgresDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		cancel()
		if err != nil {
			return nil, closeAll, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		sinks = append(sinks, postgres.NewArchive(pool))
		logger.Info("result archive enabled")
	}

	if cfg.KafkaBrokers != "" {
		producer := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
		closers = append(closers, func() { _ = producer.Close() })
		sinks = append(sinks, kafka.NewResultSink(producer, kafka.TopicResults))
		logger.Info("result events enabled", slog.String("topic", kafka.TopicResults))
	}

	return sinks, closeAll, nil
}
