package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/agentq/internal/domain"
	redisbroker "github.com/ramiqadoumi/agentq/internal/redis"
	"github.com/ramiqadoumi/agentq/pkg/telemetry"
	"github.com/ramiqadoumi/agentq/services/dispatcher"
	"github.com/ramiqadoumi/agentq/services/dispatcher/config"
)

// commandTimeout bounds one whole command, connect to disconnect.
const commandTimeout = 30 * time.Second

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "agentq dispatcher: enqueue tasks and inspect agents",
	Long: `agentctl runs one command against the broker and exits.
Exit status is 0 on success and 1 on any failure.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called from cmd/agentctl/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		dispatcher.PrintFailure(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file path (default: ./agentctl.yaml)")
	pf.String("log-level", "warn", "log level: debug | info | warn | error")
	pf.String("broker-url", "redis://localhost:6379/0", "broker connection URL")
	pf.StringSlice("agent-types", domain.DefaultAgentTypeNames(), "known agent types")
	pf.String("postgres-dsn", "", "PostgreSQL DSN of the result archive (history, migrate)")
	pf.String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	bindFlag("log_level", pf, "log-level")
	bindFlag("broker_url", pf, "broker-url")
	bindFlag("agent_types", pf, "agent-types")
	bindFlag("postgres_dsn", pf, "postgres-dsn")
	bindFlag("otel_endpoint", pf, "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	rootCmd.AddCommand(dispatchCmd, statusCmd, listCmd, clearCmd, resultCmd, historyCmd, migrateCmd)
	rootCmd.AddCommand(newInitCmd("agentctl", defaultAgentctlYAML))
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.SetConfigName("agentctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(home + "/.agentq")
		viper.AddConfigPath("/etc/agentq")
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	}
}

// buildLogger logs to stderr so command output on stdout stays clean.
func buildLogger(level, service string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})).
		With(slog.String("service", service))
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}

// session is one connect, operate, disconnect cycle.
type session struct {
	cfg    config.Config
	logger *slog.Logger
	broker *redisbroker.Broker
	opts   []dispatcher.Option
}

// withDispatcher connects to the broker, runs fn against a Dispatcher and
// disconnects. extra wires optional collaborators before the Dispatcher is built.
func withDispatcher(cmd *cobra.Command, fn func(ctx context.Context, d *dispatcher.Dispatcher) error, extra ...func(ctx context.Context, s *session) (func(), error)) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "agentctl")

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	shutdownTracer, err := telemetry.InitTracer(ctx, "agentctl", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	client, err := redisbroker.NewClient(cfg.BrokerURL)
	if err != nil {
		return &domain.DispatchError{Op: "connect", Err: err}
	}
	b := redisbroker.NewBroker(client, logger)
	defer func() { _ = b.Close() }()

	if err := b.Ping(ctx); err != nil {
		return &domain.DispatchError{Op: "connect", Err: err}
	}

	s := &session{
		cfg:    cfg,
		logger: logger,
		broker: b,
		opts: []dispatcher.Option{
			dispatcher.WithLogger(logger),
			dispatcher.WithOutput(cmd.OutOrStdout()),
		},
	}
	for _, wire := range extra {
		release, err := wire(ctx, s)
		if err != nil {
			return err
		}
		defer release()
	}

	d := dispatcher.NewDispatcher(b, cfg.Types(), s.opts...)
	return fn(ctx, d)
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
