package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/postgres"
	redisbroker "github.com/ramiqadoumi/agentq/internal/redis"
	"github.com/ramiqadoumi/agentq/services/dispatcher"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch <agentType> <description>",
	Short: "Enqueue a task for an agent type",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		priority, _ := cmd.Flags().GetString("priority")
		return withDispatcher(cmd, func(ctx context.Context, d *dispatcher.Dispatcher) error {
			_, err := d.Dispatch(ctx, args[0], args[1], priority)
			return err
		}, wireRateLimiter)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [agentType]",
	Short: "Show agent status, queue length and last heartbeat",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDispatcher(cmd, func(ctx context.Context, d *dispatcher.Dispatcher) error {
			return d.Status(ctx, optionalArg(args))
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list [agentType]",
	Short: "Show pending tasks without consuming them",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withDispatcher(cmd, func(ctx context.Context, d *dispatcher.Dispatcher) error {
			return d.List(ctx, optionalArg(args), limit)
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear [agentType]",
	Short: "Drop pending tasks for one or all agent types",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDispatcher(cmd, func(ctx context.Context, d *dispatcher.Dispatcher) error {
			return d.Clear(ctx, optionalArg(args))
		})
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <taskId>",
	Short: "Print a task's result record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDispatcher(cmd, func(ctx context.Context, d *dispatcher.Dispatcher) error {
			return d.Result(ctx, args[0])
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent results from the PostgreSQL archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		agentType, _ := cmd.Flags().GetString("agent-type")
		limit, _ := cmd.Flags().GetInt("limit")
		return withDispatcher(cmd, func(ctx context.Context, d *dispatcher.Dispatcher) error {
			return d.History(ctx, agentType, limit)
		}, wireArchive)
	},
}

func init() {
	dispatchCmd.Flags().String("priority", string(domain.PriorityNormal), "task priority: low | normal | high")
	dispatchCmd.Flags().Int("rate-limit", 0, "max dispatches per second per agent type (0 = disabled)")
	bindFlag("rate_limit", dispatchCmd.Flags(), "rate-limit")

	listCmd.Flags().Int("limit", dispatcher.DefaultListLimit, "entries to show per agent type")

	historyCmd.Flags().String("agent-type", "", "only show results for this agent type")
	historyCmd.Flags().Int("limit", dispatcher.DefaultListLimit, "number of results to show")
}

func wireRateLimiter(_ context.Context, s *session) (func(), error) {
	if s.cfg.RateLimit <= 0 {
		return func() {}, nil
	}
	limiter := redisbroker.NewRateLimiter(s.broker.Client(), s.cfg.RateLimit, time.Second)
	s.opts = append(s.opts, dispatcher.WithRateLimiter(limiter))
	s.logger.Debug("rate limiter enabled", slog.Int("limit_per_second", s.cfg.RateLimit))
	return func() {}, nil
}

func wireArchive(ctx context.Context, s *session) (func(), error) {
	if s.cfg.PostgresDSN == "" {
		return func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, s.cfg.PostgresDSN)
	if err != nil {
		return nil, &domain.DispatchError{Op: "connect postgres", Err: err}
	}
	s.opts = append(s.opts, dispatcher.WithArchive(postgres.NewArchive(pool)))
	return pool.Close, nil
}
