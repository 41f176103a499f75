package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cnap-oss/codefleet/internal/storage"
)

const (
	DefaultPollInterval      = 5 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second

	defaultBreakerThreshold = 5
)

var (
	// ErrNotRegistered is returned by operations that need an agent identity.
	ErrNotRegistered = errors.New("runner: not registered")
	// ErrTaskNotClaimed means the task was no longer assigned to this runner
	// when it tried to move it to in_progress.
	ErrTaskNotClaimed = errors.New("runner: task not claimable")
	// ErrBusy means another task is already in flight on this runner.
	ErrBusy = errors.New("runner: task already in flight")
)

// State는 Runner 생명주기 상태입니다.
type State int32

const (
	StateUnregistered State = iota
	StateIdle
	StateExecuting
	StateShuttingDown
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateIdle:
		return "idle"
	case StateExecuting:
		return "executing"
	case StateShuttingDown:
		return "shutting_down"
	case StateOffline:
		return "offline"
	}
	return "unknown"
}

// Config carries the runner identity and loop timing.
type Config struct {
	Name         string
	AgentID      string // generated at registration when empty
	Type         string
	Capabilities []string
	WorktreePath string

	PollInterval      time.Duration
	HeartbeatInterval time.Duration

	// BreakerThreshold consecutive poll failures open the poll circuit for
	// BreakerTimeout, two poll intervals by default.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

func (c *Config) applyDefaults() {
	if c.Type == "" {
		c.Type = storage.AgentTypeClaude
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = defaultBreakerThreshold
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 2 * c.PollInterval
	}
}

// Runner는 하나의 실행 슬롯을 소유합니다.
// 등록 → heartbeat/poll 루프 → 할당된 Task 실행 → 결과 보고 → 종료 순으로 동작합니다.
type Runner struct {
	cfg      Config
	store    Store
	executor Executor
	logger   *zap.Logger
	breaker  *gobreaker.CircuitBreaker
	now      func() time.Time

	mu            sync.Mutex
	agentID       string
	currentTaskID string

	state         atomic.Int32
	registered    atomic.Bool
	running       atomic.Bool
	stopRequested atomic.Bool
	offline       atomic.Bool
	stopOnce      sync.Once
	stopCh        chan struct{}
}

// New는 Runner를 생성합니다. Store와 Executor는 외부에서 주입합니다.
func New(cfg Config, store Store, executor Executor, logger *zap.Logger) (*Runner, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("runner: empty name")
	}
	if store == nil {
		return nil, fmt.Errorf("runner: nil store")
	}
	if executor == nil {
		return nil, fmt.Errorf("runner: nil executor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	r := &Runner{
		cfg:      cfg,
		store:    store,
		executor: executor,
		logger:   logger.With(zap.String("runner", cfg.Name)),
		now:      func() time.Time { return time.Now().UTC() },
		agentID:  cfg.AgentID,
		stopCh:   make(chan struct{}),
	}
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "poll:" + cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("Poll circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return r, nil
}

// Name returns the runner display name.
func (r *Runner) Name() string { return r.cfg.Name }

// AgentID returns the agent identity, empty before registration unless configured.
func (r *Runner) AgentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agentID
}

// CurrentTaskID returns the in-flight task id, or "".
func (r *Runner) CurrentTaskID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentTaskID
}

// State returns the lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

// Running reports whether the loops are allowed to continue.
func (r *Runner) Running() bool { return r.running.Load() }

// StopRequested reports whether Stop or Shutdown was called.
func (r *Runner) StopRequested() bool { return r.stopRequested.Load() }

// IsIdle reports whether the runner is active but not executing a task.
func (r *Runner) IsIdle() bool {
	return r.running.Load() && r.CurrentTaskID() == ""
}

// Register는 Agent 레코드를 idle 상태로 생성하고 agent_started 이벤트를 남깁니다.
// 이미 등록된 경우 기존 ID를 그대로 반환합니다. 저장소 오류는 재시도 없이 반환합니다.
func (r *Runner) Register(ctx context.Context) (string, error) {
	if r.registered.Load() {
		return r.AgentID(), nil
	}

	id := r.AgentID()
	if id == "" {
		id = uuid.NewString()
	}
	now := r.now()
	agent := &storage.Agent{
		AgentID:       id,
		Name:          r.cfg.Name,
		Type:          r.cfg.Type,
		Status:        storage.AgentStatusIdle,
		Capabilities:  storage.StringList(append([]string{}, r.cfg.Capabilities...)),
		LastHeartbeat: now,
		CreatedAt:     now,
	}
	if r.cfg.WorktreePath != "" {
		agent.WorktreePath = storage.Ptr(r.cfg.WorktreePath)
	}
	if err := r.store.CreateAgent(ctx, agent); err != nil {
		return "", fmt.Errorf("runner: register %s: %w", r.cfg.Name, err)
	}

	r.mu.Lock()
	r.agentID = id
	r.mu.Unlock()
	r.registered.Store(true)
	r.state.Store(int32(StateIdle))

	if err := r.report(ctx, &storage.ActivityEvent{
		EventType: storage.EventAgentStarted,
		Message:   fmt.Sprintf("Runner %s registered", r.cfg.Name),
	}); err != nil {
		r.logger.Warn("Failed to report registration", zap.String("agent_id", id), zap.Error(err))
	}

	r.logger.Info("Runner registered", zap.String("agent_id", id))
	return id, nil
}

// Reregister는 크래시 이후 재시작 전에 호출됩니다.
// 카운터는 유지한 채 Agent를 idle로 되돌리고 agent_started 이벤트를 다시 남깁니다.
// Agent 레코드가 사라졌다면 새로 생성합니다.
func (r *Runner) Reregister(ctx context.Context) error {
	if !r.registered.Load() {
		_, err := r.Register(ctx)
		return err
	}

	id := r.AgentID()
	now := r.now()
	err := r.store.UpdateAgent(ctx, id, storage.Fields{
		"status":          storage.AgentStatusIdle,
		"current_task_id": nil,
		"last_heartbeat":  now,
		"updated_at":      now,
	})
	if errors.Is(err, storage.ErrNotFound) {
		r.registered.Store(false)
		_, err = r.Register(ctx)
		return err
	}
	if err != nil {
		return fmt.Errorf("runner: re-register %s: %w", r.cfg.Name, err)
	}
	r.state.Store(int32(StateIdle))

	if err := r.report(ctx, &storage.ActivityEvent{
		EventType: storage.EventAgentStarted,
		Message:   fmt.Sprintf("Runner %s re-registered after crash", r.cfg.Name),
	}); err != nil {
		r.logger.Warn("Failed to report re-registration", zap.String("agent_id", id), zap.Error(err))
	}
	r.logger.Info("Runner re-registered", zap.String("agent_id", id))
	return nil
}

// Start는 heartbeat 루프와 poll 루프를 실행하고 두 루프가 모두 끝날 때까지 반환하지 않습니다.
//
// 반환값: running 플래그가 해제되어 정상 종료하면 nil, ctx가 취소되면 ctx.Err(),
// 루프 내부 panic 등 예기치 못한 종료는 crash 에러.
func (r *Runner) Start(ctx context.Context) error {
	if r.stopRequested.Load() {
		return nil
	}
	if !r.registered.Load() {
		if _, err := r.Register(ctx); err != nil {
			return err
		}
	}

	r.running.Store(true)
	r.logger.Info("Starting runner", zap.String("agent_id", r.AgentID()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(r.guard("heartbeat", func() error { return r.heartbeatLoop(gctx) }))
	g.Go(r.guard("poll", func() error { return r.pollLoop(gctx) }))
	return g.Wait()
}

// Stop clears the running flag. Loops exit at their next boundary; an
// in-flight task is allowed to finish.
func (r *Runner) Stop() {
	r.running.Store(false)
	r.stopRequested.Store(true)
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Runner) guard(loop string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("Runner loop panicked", zap.String("loop", loop), zap.Any("panic", p))
				err = fmt.Errorf("runner: %s loop panicked: %v", loop, p)
			}
		}()
		return fn()
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) error {
	for r.running.Load() {
		if err := r.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("Heartbeat failed", zap.String("agent_id", r.AgentID()), zap.Error(err))
		}
		if !r.sleep(ctx, r.cfg.HeartbeatInterval) {
			break
		}
	}
	return ctx.Err()
}

func (r *Runner) pollLoop(ctx context.Context) error {
	for r.running.Load() {
		if err := r.pollOnce(ctx); err != nil && ctx.Err() == nil {
			switch {
			case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
				r.logger.Debug("Poll skipped, store circuit open", zap.Error(err))
			case errors.Is(err, ErrTaskNotClaimed):
				r.logger.Info("Task no longer claimable", zap.Error(err))
			default:
				r.logger.Warn("Poll iteration failed", zap.String("agent_id", r.AgentID()), zap.Error(err))
			}
		}
		if !r.sleep(ctx, r.cfg.PollInterval) {
			break
		}
	}
	return ctx.Err()
}

func (r *Runner) pollOnce(ctx context.Context) error {
	task, err := r.Poll(ctx)
	if err != nil || task == nil {
		return err
	}
	return r.Execute(ctx, task)
}

// sleep waits d and reports false when the runner was stopped or ctx ended.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-r.stopCh:
		return false
	case <-timer.C:
		return r.running.Load()
	}
}

// Heartbeat writes the current time to the agent record. It is a no-op
// before registration.
func (r *Runner) Heartbeat(ctx context.Context) error {
	if !r.registered.Load() {
		return nil
	}
	now := r.now()
	if err := r.store.UpdateAgent(ctx, r.AgentID(), storage.Fields{
		"last_heartbeat": now,
		"updated_at":     now,
	}); err != nil {
		return fmt.Errorf("runner: heartbeat: %w", err)
	}
	return nil
}

// Poll은 이 Runner에 할당된 Task 하나를 조회합니다.
// 우선순위가 높은 것, 같은 우선순위에서는 오래된 것이 먼저입니다.
func (r *Runner) Poll(ctx context.Context) (*storage.Task, error) {
	if !r.registered.Load() {
		return nil, ErrNotRegistered
	}
	agentID := r.AgentID()

	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.store.FindTasks(ctx, storage.TaskQuery{
			Statuses:   []string{storage.TaskStatusAssigned},
			AssignedTo: agentID,
			Limit:      1,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("runner: poll: %w", err)
	}

	tasks, _ := out.([]storage.Task)
	if len(tasks) == 0 {
		return nil, nil
	}
	task := tasks[0]
	r.logger.Info("Task found",
		zap.String("agent_id", agentID),
		zap.String("task_id", task.TaskID),
		zap.String("title", task.Title),
	)
	return &task, nil
}

// Execute는 Task 하나를 in_progress → completed/failed 로 전이시킵니다.
// poll 루프에서 호출되든 직접 호출되든 동작은 같으며, 실행 중인 Task는
// ctx 취소로 중단되지 않습니다.
func (r *Runner) Execute(ctx context.Context, task *storage.Task) error {
	if task == nil {
		return fmt.Errorf("runner: nil task")
	}
	if !r.registered.Load() {
		return ErrNotRegistered
	}
	if !r.beginTask(task.TaskID) {
		return ErrBusy
	}
	defer r.endTask()

	ctx = context.WithoutCancel(ctx)
	agentID := r.AgentID()
	now := r.now()

	claimed, err := r.store.TransitionTask(ctx, storage.TaskTransition{
		TaskID:     task.TaskID,
		From:       []string{storage.TaskStatusAssigned},
		AssignedTo: agentID,
		Fields: storage.Fields{
			"status":     storage.TaskStatusInProgress,
			"started_at": now,
			"updated_at": now,
		},
	})
	if err != nil {
		return fmt.Errorf("runner: claim task %s: %w", task.TaskID, err)
	}
	if !claimed {
		return fmt.Errorf("%w: %s", ErrTaskNotClaimed, task.TaskID)
	}
	task.Status = storage.TaskStatusInProgress
	task.StartedAt = &now
	r.state.Store(int32(StateExecuting))

	var errs error
	if err := r.store.UpdateAgent(ctx, agentID, storage.Fields{
		"status":          storage.AgentStatusWorking,
		"current_task_id": task.TaskID,
		"updated_at":      now,
	}); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("runner: mark agent working: %w", err))
	}
	errs = multierr.Append(errs, r.report(ctx, &storage.ActivityEvent{
		TaskID:    storage.Ptr(task.TaskID),
		EventType: storage.EventTaskStarted,
		Message:   fmt.Sprintf("Started task: %s", task.Title),
	}))

	result := r.invoke(ctx, task)
	if result.Success {
		errs = multierr.Append(errs, r.complete(ctx, task, result))
	} else {
		msg := result.Error
		if msg == "" {
			msg = "Task returned failure"
		}
		errs = multierr.Append(errs, r.fail(ctx, task, result, msg))
	}
	return errs
}

func (r *Runner) beginTask(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.currentTaskID != "" {
		return false
	}
	r.currentTaskID = taskID
	return true
}

func (r *Runner) endTask() {
	r.mu.Lock()
	r.currentTaskID = ""
	r.mu.Unlock()
	r.state.CompareAndSwap(int32(StateExecuting), int32(StateIdle))
}

// invoke calls the executor. Errors, nil results and panics all become a
// failed TaskResult.
func (r *Runner) invoke(ctx context.Context, task *storage.Task) (res *TaskResult) {
	start := time.Now()
	r.logger.Info("Executing task",
		zap.String("agent_id", r.AgentID()),
		zap.String("task_id", task.TaskID),
		zap.String("title", task.Title),
	)

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Executor panicked", zap.String("task_id", task.TaskID), zap.Any("panic", p))
			res = &TaskResult{Error: fmt.Sprintf("executor panic: %v", p)}
		}
		if res.DurationMS == 0 {
			res.DurationMS = time.Since(start).Milliseconds()
		}
	}()

	out, err := r.executor.Execute(ctx, task)
	if err != nil {
		r.logger.Warn("Task execution failed", zap.String("task_id", task.TaskID), zap.Error(err))
		res = &TaskResult{Error: err.Error()}
		if out != nil {
			res.FilesChanged = out.FilesChanged
			res.TokensUsed = out.TokensUsed
			res.CostUSD = out.CostUSD
			res.DurationMS = out.DurationMS
			res.SessionID = out.SessionID
		}
		return res
	}
	if out == nil {
		return &TaskResult{Error: "executor returned no result"}
	}
	cp := *out
	return &cp
}

// complete는 Task를 completed로 기록하고 Agent 카운터 증가와 idle 복귀를 한 번의 갱신으로 수행합니다.
func (r *Runner) complete(ctx context.Context, task *storage.Task, result *TaskResult) error {
	agentID := r.AgentID()
	now := r.now()
	var errs error

	ok, err := r.store.TransitionTask(ctx, storage.TaskTransition{
		TaskID: task.TaskID,
		From:   []string{storage.TaskStatusInProgress},
		Fields: storage.Fields{
			"status":             storage.TaskStatusCompleted,
			"result_summary":     result.Summary,
			"actual_tokens_used": result.TokensUsed,
			"actual_cost_usd":    result.CostUSD,
			"actual_duration_ms": result.DurationMS,
			"completed_at":       now,
			"updated_at":         now,
		},
	})
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("runner: complete task %s: %w", task.TaskID, err))
	} else if !ok {
		return r.discard(ctx, task, result, storage.TaskStatusCompleted)
	}

	if err := r.store.IncrementAgent(ctx, agentID,
		storage.AgentIncrement{
			TasksCompleted: 1,
			TokensUsed:     result.TokensUsed,
			CostUSD:        result.CostUSD,
		},
		r.idleFields(now, result.SessionID),
	); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("runner: reset agent after completion: %w", err))
	}

	errs = multierr.Append(errs, r.report(ctx, &storage.ActivityEvent{
		TaskID:       storage.Ptr(task.TaskID),
		EventType:    storage.EventTaskCompleted,
		Message:      result.Summary,
		FilesChanged: storage.StringList(append([]string{}, result.FilesChanged...)),
		TokensUsed:   storage.Ptr(result.TokensUsed),
		CostUSD:      storage.Ptr(result.CostUSD),
		DurationMS:   storage.Ptr(result.DurationMS),
	}))

	for _, path := range result.FilesChanged {
		if err := r.store.AppendFileChange(ctx, &storage.FileChange{
			AgentID:    agentID,
			TaskID:     task.TaskID,
			FilePath:   path,
			ChangeType: storage.ChangeTypeModified,
			BranchName: task.BranchName,
			Timestamp:  now,
		}); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("runner: report file change %s: %w", path, err))
		}
	}

	r.logger.Info("Task completed",
		zap.String("agent_id", agentID),
		zap.String("task_id", task.TaskID),
		zap.String("summary", result.Summary),
		zap.Int("files_changed", len(result.FilesChanged)),
	)
	return errs
}

func (r *Runner) fail(ctx context.Context, task *storage.Task, result *TaskResult, msg string) error {
	agentID := r.AgentID()
	now := r.now()
	var errs error

	ok, err := r.store.TransitionTask(ctx, storage.TaskTransition{
		TaskID: task.TaskID,
		From:   []string{storage.TaskStatusInProgress},
		Fields: storage.Fields{
			"status":             storage.TaskStatusFailed,
			"error_message":      msg,
			"actual_duration_ms": result.DurationMS,
			"updated_at":         now,
		},
	})
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("runner: fail task %s: %w", task.TaskID, err))
	} else if !ok {
		return r.discard(ctx, task, result, storage.TaskStatusFailed)
	}

	if err := r.store.IncrementAgent(ctx, agentID,
		storage.AgentIncrement{TasksFailed: 1},
		r.idleFields(now, result.SessionID),
	); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("runner: reset agent after failure: %w", err))
	}

	errs = multierr.Append(errs, r.report(ctx, &storage.ActivityEvent{
		TaskID:     storage.Ptr(task.TaskID),
		EventType:  storage.EventTaskFailed,
		Message:    fmt.Sprintf("Task failed: %s", msg),
		DurationMS: storage.Ptr(result.DurationMS),
	}))

	r.logger.Warn("Task failed",
		zap.String("agent_id", agentID),
		zap.String("task_id", task.TaskID),
		zap.String("error", msg),
	)
	return errs
}

// discard는 실행 중 외부 액터가 Task 상태를 바꾼 경우(예: cancelled) 호출됩니다.
// 결과는 기록하지 않고 완료/실패 카운터도 올리지 않습니다. 사용량은 실제로 소모되었으므로 합산하고
// Agent는 idle로 되돌립니다.
func (r *Runner) discard(ctx context.Context, task *storage.Task, result *TaskResult, outcome string) error {
	agentID := r.AgentID()
	now := r.now()
	var errs error

	if err := r.store.IncrementAgent(ctx, agentID,
		storage.AgentIncrement{
			TokensUsed: result.TokensUsed,
			CostUSD:    result.CostUSD,
		},
		r.idleFields(now, result.SessionID),
	); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("runner: reset agent after discarded task: %w", err))
	}

	errs = multierr.Append(errs, r.report(ctx, &storage.ActivityEvent{
		TaskID:     storage.Ptr(task.TaskID),
		EventType:  storage.EventError,
		Message:    fmt.Sprintf("Task changed by another actor during execution, %s result discarded", outcome),
		TokensUsed: storage.Ptr(result.TokensUsed),
		CostUSD:    storage.Ptr(result.CostUSD),
		DurationMS: storage.Ptr(result.DurationMS),
	}))

	r.logger.Warn("Task left in_progress during execution, result discarded",
		zap.String("agent_id", agentID),
		zap.String("task_id", task.TaskID),
		zap.String("outcome", outcome),
	)
	return errs
}

func (r *Runner) idleFields(now time.Time, sessionID string) storage.Fields {
	fields := storage.Fields{
		"status":          storage.AgentStatusIdle,
		"current_task_id": nil,
		"updated_at":      now,
	}
	if sessionID != "" {
		fields["session_id"] = sessionID
	}
	return fields
}

// Shutdown은 running 플래그를 해제하고 Agent를 offline으로 표시한 뒤 agent_stopped 이벤트를 남깁니다.
// 여러 번 호출해도 안전하며, 저장소 오류는 로그만 남기고 로컬 종료는 항상 완료됩니다.
func (r *Runner) Shutdown(ctx context.Context) {
	r.Stop()
	if !r.registered.Load() {
		r.state.Store(int32(StateOffline))
		return
	}
	if !r.offline.CompareAndSwap(false, true) {
		return
	}
	r.state.Store(int32(StateShuttingDown))

	agentID := r.AgentID()
	now := r.now()
	err := r.store.UpdateAgent(ctx, agentID, storage.Fields{
		"status":          storage.AgentStatusOffline,
		"current_task_id": nil,
		"updated_at":      now,
	})
	err = multierr.Append(err, r.report(ctx, &storage.ActivityEvent{
		EventType: storage.EventAgentStopped,
		Message:   fmt.Sprintf("Runner %s shutting down", r.cfg.Name),
	}))
	if err != nil {
		r.logger.Error("Runner shutdown error", zap.String("agent_id", agentID), zap.Error(err))
	}

	r.state.Store(int32(StateOffline))
	r.logger.Info("Runner shut down", zap.String("agent_id", agentID))
}

func (r *Runner) report(ctx context.Context, event *storage.ActivityEvent) error {
	event.AgentID = r.AgentID()
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if err := r.store.AppendActivity(ctx, event); err != nil {
		return fmt.Errorf("runner: report %s: %w", event.EventType, err)
	}
	return nil
}
