package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/agentq/internal/broker"
	"github.com/ramiqadoumi/agentq/internal/domain"
	"github.com/ramiqadoumi/agentq/internal/handlers"
	"github.com/ramiqadoumi/agentq/internal/notify"
	"github.com/ramiqadoumi/agentq/internal/queue"
	"github.com/ramiqadoumi/agentq/internal/result"
	"github.com/ramiqadoumi/agentq/internal/status"
	"github.com/ramiqadoumi/agentq/pkg/retry"
	"github.com/ramiqadoumi/agentq/pkg/telemetry"
)

const (
	DefaultPollTimeout  = 5 * time.Second
	DefaultErrorBackoff = 5 * time.Second
	DefaultSinkTimeout  = 10 * time.Second

	offlineWriteTimeout = 5 * time.Second
)

// ErrGraceExpired is returned by Stop when its context ends before the
// in-flight task finished. The poll loop is abandoned, still running.
var ErrGraceExpired = errors.New("grace period elapsed with a task in flight")

// State is the lifecycle position of a Worker. It only moves forward.
type State int32

const (
	StateDisconnected State = iota
	StateConnected
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Worker consumes one agent type's queue and runs each task through a handler.
type Worker struct {
	agentType domain.AgentType
	workerID  string
	broker    broker.Broker
	handler   handlers.Handler

	queue    *queue.Queue
	status   *status.Registry
	results  *result.Store
	notify   *notify.Channel
	sinks    []result.Sink
	order    queue.Order
	ttl      time.Duration
	clock    func() time.Time
	keepOpen bool

	pollTimeout  time.Duration
	errorBackoff time.Duration
	sinkTimeout  time.Duration
	logger       *slog.Logger

	mu         sync.Mutex
	state      State
	sub        broker.Subscription
	cancelLoop context.CancelFunc
	runStarted bool
	done       chan struct{}

	running  atomic.Bool
	inFlight atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(l *slog.Logger) Option        { return func(w *Worker) { w.logger = l } }
func WithWorkerID(id string) Option           { return func(w *Worker) { w.workerID = id } }
func WithPollTimeout(d time.Duration) Option  { return func(w *Worker) { w.pollTimeout = d } }
func WithErrorBackoff(d time.Duration) Option { return func(w *Worker) { w.errorBackoff = d } }
func WithSinkTimeout(d time.Duration) Option  { return func(w *Worker) { w.sinkTimeout = d } }
func WithQueueOrder(o queue.Order) Option     { return func(w *Worker) { w.order = o } }
func WithResultTTL(d time.Duration) Option    { return func(w *Worker) { w.ttl = d } }
func WithSinks(sinks ...result.Sink) Option   { return func(w *Worker) { w.sinks = append(w.sinks, sinks...) } }
func WithClock(now func() time.Time) Option   { return func(w *Worker) { w.clock = now } }

// WithSharedBroker leaves the broker open on Stop, for brokers that outlive
// the worker.
func WithSharedBroker() Option { return func(w *Worker) { w.keepOpen = true } }

// NewWorker constructs a Worker for agentType. The broker is owned by the
// worker and closed on Stop unless WithSharedBroker is given.
func NewWorker(agentType domain.AgentType, b broker.Broker, h handlers.Handler, opts ...Option) *Worker {
	w := &Worker{
		agentType:    agentType,
		broker:       b,
		handler:      h,
		order:        queue.LIFO,
		ttl:          result.DefaultTTL,
		clock:        time.Now,
		pollTimeout:  DefaultPollTimeout,
		errorBackoff: DefaultErrorBackoff,
		sinkTimeout:  DefaultSinkTimeout,
		logger:       slog.Default(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.workerID == "" {
		w.workerID = fmt.Sprintf("%s-%s", agentType, uuid.New().String()[:8])
	}
	w.logger = w.logger.With(
		slog.String("agent_type", string(agentType)),
		slog.String("worker_id", w.workerID),
	)
	w.queue = queue.New(b, w.order)
	w.status = status.NewRegistry(b, status.WithClock(w.clock))
	w.results = result.NewStore(b, w.ttl)
	w.notify = notify.NewChannel(b, w.logger)
	return w
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.workerID }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// InFlight reports how many tasks are between dequeue and result write.
func (w *Worker) InFlight() int64 { return w.inFlight.Load() }

// Ready fails unless the worker is running and the broker answers.
func (w *Worker) Ready(ctx context.Context) error {
	if s := w.State(); s != StateRunning {
		return fmt.Errorf("agent %s is %s", w.agentType, s)
	}
	return w.broker.Ping(ctx)
}

// Start connects to the broker, subscribes to notifications and marks the
// agent type online. Any failure is fatal and leaves the worker unusable.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateDisconnected {
		s := w.state
		w.mu.Unlock()
		return fmt.Errorf("agent %s: cannot start from state %s", w.agentType, s)
	}
	w.mu.Unlock()

	if err := w.broker.Ping(ctx); err != nil {
		return connectivity("ping", err)
	}
	w.setState(StateConnected)
	w.logger.Info("connected to broker")

	sub, err := w.notify.Subscribe(ctx, w.agentType, w.onNotification)
	if err != nil {
		return connectivity("subscribe", err)
	}
	if err := w.status.SetStatus(ctx, w.agentType, domain.AgentOnline); err != nil {
		_ = sub.Close()
		return connectivity("set status", err)
	}

	w.mu.Lock()
	w.sub = sub
	w.state = StateRunning
	w.mu.Unlock()
	w.running.Store(true)

	w.logger.Info("agent online",
		slog.String("queue", broker.QueueKey(w.agentType)),
		slog.String("order", string(w.order)),
		slog.Duration("poll_timeout", w.pollTimeout),
	)
	return nil
}

// Run polls the queue until Stop is called or ctx is cancelled. Broker errors
// are logged and retried after the error backoff; they never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	switch {
	case w.state == StateStopping || w.state == StateStopped:
		// Stop won the race with a Run that had not started yet.
		w.mu.Unlock()
		return nil
	case w.state != StateRunning || w.runStarted:
		s := w.state
		w.mu.Unlock()
		return fmt.Errorf("agent %s: cannot run from state %s", w.agentType, s)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	w.runStarted = true
	w.mu.Unlock()

	defer close(w.done)
	defer cancel()

	for w.running.Load() && loopCtx.Err() == nil {
		if err := w.poll(loopCtx); err != nil {
			if loopCtx.Err() != nil || !w.running.Load() {
				break
			}
			telemetry.AgentPollErrorsTotal.WithLabelValues(string(w.agentType)).Inc()
			w.logger.Error("poll failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("backoff", w.errorBackoff),
			)
			if err := retry.Sleep(loopCtx, w.errorBackoff); err != nil {
				break
			}
		}
	}
	w.logger.Info("poll loop exited")
	return nil
}

// poll performs one blocking dequeue and handles whatever it returns. Work
// after a successful pop runs detached from ctx so a stop request cannot
// strand a task between dequeue and result write.
func (w *Worker) poll(ctx context.Context) error {
	label := string(w.agentType)

	raw, found, err := w.queue.Dequeue(ctx, w.agentType, w.pollTimeout)
	if err != nil {
		telemetry.AgentPollsTotal.WithLabelValues(label, "error").Inc()
		return err
	}
	if !found {
		telemetry.AgentPollsTotal.WithLabelValues(label, "empty").Inc()
		return w.touch(ctx)
	}
	telemetry.AgentPollsTotal.WithLabelValues(label, "task").Inc()

	detached := context.WithoutCancel(ctx)
	if err := w.process(detached, raw); err != nil {
		return err
	}
	return w.touch(detached)
}

func (w *Worker) touch(ctx context.Context) error {
	at, err := w.status.Touch(ctx, w.agentType)
	if err != nil {
		return err
	}
	telemetry.AgentLastSeenTimestamp.WithLabelValues(string(w.agentType)).Set(float64(at.UnixNano()) / 1e9)
	return nil
}

// process runs one dequeued entry to a terminal Result. Only a failed
// result write is returned; handler and decode failures become failed results.
func (w *Worker) process(ctx context.Context, raw []byte) error {
	label := string(w.agentType)
	startedAt := w.clock().UTC()

	w.inFlight.Add(1)
	telemetry.AgentTasksInFlight.WithLabelValues(label).Inc()
	defer func() {
		telemetry.AgentTasksInFlight.WithLabelValues(label).Dec()
		w.inFlight.Add(-1)
	}()

	task, err := queue.Decode(raw)
	if err == nil {
		if task.Status == "" {
			task.Status = domain.StatusPending
		}
		err = task.Transition(domain.StatusProcessing)
	}
	if err != nil {
		return w.recordMalformed(ctx, raw, err, startedAt)
	}

	ctx, span := otel.Tracer("agent").Start(ctx, "agent.process_task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.agent_type", string(task.AgentType)),
		attribute.String("task.priority", string(task.Priority)),
		attribute.String("worker.id", w.workerID),
	)

	log := w.logger.With(slog.String("task_id", task.ID))
	log.Info("task started", slog.String("priority", string(task.Priority)))

	res := domain.NewResult(*task, startedAt)
	output, herr := w.invoke(ctx, task)
	completedAt := w.clock().UTC()

	if herr != nil {
		_ = res.Fail(handlerMessage(herr), completedAt)
		span.RecordError(herr)
		span.SetStatus(codes.Error, "handler failed")
		log.Error("task failed",
			slog.String("error", herr.Error()),
			slog.Int64("duration_ms", res.Duration().Milliseconds()),
		)
	} else {
		_ = res.Complete(output, completedAt)
		log.Info("task completed", slog.Int64("duration_ms", res.Duration().Milliseconds()))
	}

	telemetry.AgentTaskDurationSeconds.WithLabelValues(label).Observe(res.Duration().Seconds())
	telemetry.AgentTasksProcessed.WithLabelValues(label, string(res.Status)).Inc()

	if err := w.persist(ctx, res, log); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// invoke calls the handler, turning errors and panics into a HandlerError.
func (w *Worker) invoke(ctx context.Context, task *domain.Task) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &domain.HandlerError{TaskID: task.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out, err = w.handler.Handle(ctx, task)
	if err != nil {
		return nil, &domain.HandlerError{TaskID: task.ID, Err: err}
	}
	return out, nil
}

// recordMalformed stores a failed result for an entry that could not be
// turned into a processable task. The id comes from the payload when it is
// safe to use, otherwise a fresh one is minted so the failure is still
// visible without touching another task's record.
func (w *Worker) recordMalformed(ctx context.Context, raw []byte, cause error, startedAt time.Time) error {
	telemetry.AgentMalformedTotal.WithLabelValues(string(w.agentType)).Inc()

	var payload struct {
		ID          string `json:"id"`
		Description string `json:"description"`
	}
	_ = json.Unmarshal(raw, &payload)
	id := payload.ID
	message := cause.Error()
	if id != "" && !w.payloadIDUsable(ctx, id, cause) {
		message = fmt.Sprintf("duplicate of task %s: %s", id, message)
		id = ""
	}
	if id == "" {
		id = uuid.New().String()
	}

	log := w.logger.With(slog.String("task_id", id))
	log.Warn("malformed queue entry recorded as failed",
		slog.String("payload_id", payload.ID),
		slog.String("error", cause.Error()),
		slog.String("raw", truncate(string(raw), 256)),
	)

	res := domain.NewResult(domain.Task{
		ID:          id,
		AgentType:   w.agentType,
		Description: payload.Description,
		Priority:    domain.PriorityNormal,
		Status:      domain.StatusProcessing,
	}, startedAt)
	_ = res.Fail(message, w.clock().UTC())
	telemetry.AgentTasksProcessed.WithLabelValues(string(w.agentType), string(res.Status)).Inc()

	return w.persist(ctx, res, log)
}

// payloadIDUsable reports whether a malformed entry's failure may be stored
// under the id from its payload. It may not when the entry is a copy of a
// finished task or when a record already exists under that id.
func (w *Worker) payloadIDUsable(ctx context.Context, id string, cause error) bool {
	var ite *domain.InvalidTransitionError
	if errors.As(cause, &ite) && ite.From.IsTerminal() {
		return false
	}
	_, err := w.results.Get(ctx, id)
	var nf *domain.TaskNotFoundError
	return errors.As(err, &nf)
}

// persist writes the result record, then offers it to every sink, each
// bounded by the sink timeout. Sink failures are logged and counted only.
func (w *Worker) persist(ctx context.Context, res *domain.Result, log *slog.Logger) error {
	if err := w.results.Save(ctx, res); err != nil {
		log.Error("failed to save result", slog.String("error", err.Error()))
		return err
	}
	for _, s := range w.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, w.sinkTimeout)
		err := s.Record(sinkCtx, res)
		cancel()
		if err != nil {
			telemetry.AgentSinkErrorsTotal.WithLabelValues(s.Name()).Inc()
			log.Warn("result sink failed",
				slog.String("sink", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

func (w *Worker) onNotification(ev notify.Event) {
	telemetry.AgentNotificationsTotal.WithLabelValues(string(w.agentType)).Inc()
	w.logger.Debug("notification received",
		slog.String("event", ev.Event),
		slog.String("task_id", ev.Task.ID),
	)
}

// Stop ends the poll loop, waiting for an in-flight task until ctx is done,
// then marks the agent type offline and releases broker resources. If ctx
// ends first the result wraps ErrGraceExpired and Run may still be blocked in
// the handler. Calling Stop more than once is a no-op.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case StateStopping, StateStopped:
		w.mu.Unlock()
		return nil
	case StateDisconnected:
		w.state = StateStopped
		w.mu.Unlock()
		return nil
	}
	wasRunning := w.state == StateRunning
	w.state = StateStopping
	sub, cancel, runStarted := w.sub, w.cancelLoop, w.runStarted
	w.mu.Unlock()

	w.running.Store(false)
	w.logger.Info("stopping", slog.Int64("in_flight", w.inFlight.Load()))

	if cancel != nil {
		cancel()
	}
	var errs []error
	if runStarted {
		select {
		case <-w.done:
		case <-ctx.Done():
			w.logger.Warn("grace period elapsed with a task still in flight",
				slog.Int64("in_flight", w.inFlight.Load()),
			)
			errs = append(errs, ErrGraceExpired)
		}
	}

	if sub != nil {
		if err := sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscription: %w", err))
		}
	}
	if wasRunning {
		offCtx, offCancel := context.WithTimeout(context.WithoutCancel(ctx), offlineWriteTimeout)
		if err := w.status.SetStatus(offCtx, w.agentType, domain.AgentOffline); err != nil {
			errs = append(errs, fmt.Errorf("set offline: %w", err))
		}
		offCancel()
	}
	if !w.keepOpen {
		if err := w.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}

	w.setState(StateStopped)
	w.logger.Info("agent offline")
	return errors.Join(errs...)
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func connectivity(op string, err error) error {
	var ce *domain.ConnectivityError
	if errors.As(err, &ce) {
		return err
	}
	return &domain.ConnectivityError{Op: op, Err: err}
}

// handlerMessage unwraps a HandlerError to the handler's own message.
func handlerMessage(err error) string {
	var he *domain.HandlerError
	if errors.As(err, &he) && he.Err != nil {
		return he.Err.Error()
	}
	return err.Error()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
