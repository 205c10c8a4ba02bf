package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/agentq/internal/broker"
	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/notify"
	"github.com/ramiqadoumi/agentq/internal/queue"
	"github.com/ramiqadoumi/agentq/internal/result"
	"github.com/ramiqadoumi/agentq/internal/status"
)

// DefaultListLimit is how many entries list shows per agent type.
const DefaultListLimit = 10

var (
	okMark   = color.New(color.FgGreen, color.Bold).Sprint("✓")
	failMark = color.New(color.FgRed, color.Bold).Sprint("✗")
)

// RateLimiter caps dispatches per agent type.
type RateLimiter interface {
	Allow(ctx context.Context, agentType domain.AgentType) (bool, error)
	Limit() int
}

// Archive serves archived results for the history command.
type Archive interface {
	ListRecent(ctx context.Context, agentType domain.AgentType, limit int) ([]*domain.Result, error)
}

// Dispatcher runs one operator command against the broker. It never loops
// and never writes agent status.
type Dispatcher struct {
	types   domain.AgentTypes
	queue   *queue.Queue
	status  *status.Registry
	results *result.Store
	notify  *notify.Channel
	limiter RateLimiter // nil = disabled
	archive Archive     // nil = history unavailable
	out     io.Writer
	logger  *slog.Logger
	clock   func() time.Time
	newID   func() string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *slog.Logger) Option       { return func(d *Dispatcher) { d.logger = l } }
func WithOutput(w io.Writer) Option          { return func(d *Dispatcher) { d.out = w } }
func WithRateLimiter(l RateLimiter) Option   { return func(d *Dispatcher) { d.limiter = l } }
func WithArchive(a Archive) Option           { return func(d *Dispatcher) { d.archive = a } }
func WithClock(now func() time.Time) Option  { return func(d *Dispatcher) { d.clock = now } }
func WithIDGenerator(f func() string) Option { return func(d *Dispatcher) { d.newID = f } }

// NewDispatcher builds a Dispatcher over b for the given agent types.
func NewDispatcher(b broker.Broker, types domain.AgentTypes, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		types:  types,
		out:    os.Stdout,
		logger: slog.Default(),
		clock:  time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = queue.New(b, queue.LIFO)
	d.status = status.NewRegistry(b)
	d.results = result.NewStore(b, 0)
	d.notify = notify.NewChannel(b, d.logger)
	return d
}

// Dispatch enqueues a new task and announces it. The notification is best
// effort: once the task is queued, a failed publish is only logged.
func (d *Dispatcher) Dispatch(ctx context.Context, agentType, description, priority string) (*domain.Task, error) {
	ctx, span := otel.Tracer("dispatcher").Start(ctx, "dispatcher.dispatch")
	defer span.End()

	t, err := d.types.Lookup(agentType)
	if err != nil {
		return nil, err
	}
	p, err := domain.ParsePriority(priority)
	if err != nil {
		return nil, err
	}

	if d.limiter != nil {
		allowed, err := d.limiter.Allow(ctx, t)
		if err != nil {
			span.RecordError(err)
			return nil, &domain.DispatchError{Op: "rate limit check", Err: err}
		}
		if !allowed {
			span.SetStatus(codes.Error, "rate limit exceeded")
			return nil, &domain.RateLimitExceededError{AgentType: t, Limit: d.limiter.Limit()}
		}
	}

	task := &domain.Task{
		ID:          d.newID(),
		AgentType:   t,
		Description: description,
		Priority:    p,
		CreatedAt:   d.clock().UTC(),
		Status:      domain.StatusPending,
	}
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.agent_type", string(t)),
	)

	if err := d.queue.Enqueue(ctx, task); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue failed")
		return nil, &domain.DispatchError{Op: "enqueue", Err: err}
	}
	if err := d.notify.Publish(ctx, *task); err != nil {
		d.logger.Warn("notification not published",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
	}

	d.logger.Debug("task dispatched", slog.String("task_id", task.ID), slog.String("agent_type", string(t)))
	fmt.Fprintf(d.out, "%s Task %s dispatched to %s agent\n", okMark, task.ID, t)
	return task, nil
}

// AgentReport is one agent type's row in a status report.
type AgentReport struct {
	AgentType domain.AgentType
	Status    domain.AgentStatus
	QueueLen  int64
	LastSeen  time.Time
	EverSeen  bool
}

// Inspect reads status, queue length and last-seen for one or all agent types.
func (d *Dispatcher) Inspect(ctx context.Context, agentType string) ([]AgentReport, error) {
	types, err := d.types.Select(agentType)
	if err != nil {
		return nil, err
	}
	reports := make([]AgentReport, 0, len(types))
	for _, t := range types {
		st, err := d.status.GetStatus(ctx, t)
		if err != nil {
			return nil, &domain.DispatchError{Op: "read status of " + string(t), Err: err}
		}
		n, err := d.queue.Length(ctx, t)
		if err != nil {
			return nil, &domain.DispatchError{Op: "read queue length of " + string(t), Err: err}
		}
		seen, ok, err := d.status.GetLastSeen(ctx, t)
		if err != nil {
			return nil, &domain.DispatchError{Op: "read last seen of " + string(t), Err: err}
		}
		reports = append(reports, AgentReport{AgentType: t, Status: st, QueueLen: n, LastSeen: seen, EverSeen: ok})
	}
	return reports, nil
}

// Status prints a table for all agent types, or a detail block for one.
func (d *Dispatcher) Status(ctx context.Context, agentType string) error {
	reports, err := d.Inspect(ctx, agentType)
	if err != nil {
		return err
	}

	if agentType != "" {
		r := reports[0]
		fmt.Fprintf(d.out, "%s Agent:     %s\n", okMark, r.AgentType)
		fmt.Fprintf(d.out, "  Status:    %s\n", colorStatus(r.Status))
		fmt.Fprintf(d.out, "  Queue:     %d\n", r.QueueLen)
		fmt.Fprintf(d.out, "  Last seen: %s\n", lastSeen(r, d.clock()))
		return nil
	}

	tw := tabwriter.NewWriter(d.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tSTATUS\tQUEUE\tLAST SEEN")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.AgentType, r.Status, r.QueueLen, lastSeen(r, d.clock()))
	}
	return tw.Flush()
}

// Pending returns up to limit queued entries for one agent type, most
// recently enqueued first, without consuming them.
func (d *Dispatcher) Pending(ctx context.Context, agentType domain.AgentType, limit int) ([]queue.Entry, error) {
	entries, err := d.queue.Peek(ctx, agentType, limit)
	if err != nil {
		return nil, &domain.DispatchError{Op: "peek " + string(agentType), Err: err}
	}
	return entries, nil
}

// List prints pending tasks for one or all agent types.
func (d *Dispatcher) List(ctx context.Context, agentType string, limit int) error {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	types, err := d.types.Select(agentType)
	if err != nil {
		return err
	}
	for _, t := range types {
		entries, err := d.Pending(ctx, t, limit)
		if err != nil {
			return err
		}
		total, err := d.queue.Length(ctx, t)
		if err != nil {
			return &domain.DispatchError{Op: "read queue length of " + string(t), Err: err}
		}

		fmt.Fprintf(d.out, "%s %s: %d pending\n", okMark, t, total)
		tw := tabwriter.NewWriter(d.out, 0, 0, 2, ' ', 0)
		for _, e := range entries {
			if e.Task == nil {
				fmt.Fprintf(tw, "  %s\t(malformed)\t%s\n", failMark, truncate(string(e.Raw), 60))
				continue
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n",
				e.Task.ID, e.Task.Priority, e.Task.CreatedAt.Format(time.RFC3339), truncate(e.Task.Description, 60))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops pending tasks for one or all agent types.
func (d *Dispatcher) Clear(ctx context.Context, agentType string) error {
	types, err := d.types.Select(agentType)
	if err != nil {
		return err
	}
	for _, t := range types {
		if err := d.queue.Clear(ctx, t); err != nil {
			return &domain.DispatchError{Op: "clear " + string(t), Err: err}
		}
		fmt.Fprintf(d.out, "%s Cleared queue for %s\n", okMark, t)
	}
	return nil
}

// Result prints the stored result record of one task as indented JSON.
func (d *Dispatcher) Result(ctx context.Context, taskID string) error {
	res, err := d.results.Get(ctx, taskID)
	if err != nil {
		var nf *domain.TaskNotFoundError
		if errors.As(err, &nf) {
			return err
		}
		return &domain.DispatchError{Op: "read result", Err: err}
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return &domain.SerializationError{Err: err}
	}
	fmt.Fprintf(d.out, "%s Task %s %s\n", okMark, res.ID, colorTaskStatus(res.Status))
	fmt.Fprintln(d.out, string(data))
	return nil
}

// History prints recent archived results, newest first.
func (d *Dispatcher) History(ctx context.Context, agentType string, limit int) error {
	if d.archive == nil {
		return &domain.DispatchError{Op: "history", Err: errors.New("no result archive configured (set postgres_dsn)")}
	}
	var t domain.AgentType
	if agentType != "" {
		var err error
		if t, err = d.types.Lookup(agentType); err != nil {
			return err
		}
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	results, err := d.archive.ListRecent(ctx, t, limit)
	if err != nil {
		return &domain.DispatchError{Op: "history", Err: err}
	}

	fmt.Fprintf(d.out, "%s %d archived results\n", okMark, len(results))
	tw := tabwriter.NewWriter(d.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tSTATUS\tCOMPLETED\tDURATION\tERROR")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.AgentType, r.Status, r.CompletedAt.Format(time.RFC3339),
			r.Duration().Round(time.Millisecond), truncate(r.Error, 40))
	}
	return tw.Flush()
}

// PrintFailure writes the red failure indicator and err to w.
func PrintFailure(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", failMark, err)
}

func lastSeen(r AgentReport, now time.Time) string {
	if !r.EverSeen {
		return "never"
	}
	ago := now.Sub(r.LastSeen).Round(time.Second)
	if ago < 0 {
		ago = 0
	}
	return fmt.Sprintf("%s (%s ago)", r.LastSeen.Format(time.RFC3339), ago)
}

func colorStatus(s domain.AgentStatus) string {
	if s == domain.AgentOnline {
		return color.GreenString(string(s))
	}
	return color.RedString(string(s))
}

func colorTaskStatus(s domain.Status) string {
	switch s {
	case domain.StatusCompleted:
		return color.GreenString(string(s))
	case domain.StatusFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

// truncate flattens newlines and cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
