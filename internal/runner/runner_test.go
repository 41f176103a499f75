package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cnap-oss/codefleet/internal/runner"
	"github.com/cnap-oss/codefleet/internal/storage"
	"github.com/cnap-oss/codefleet/internal/testutil"
	"github.com/cnap-oss/codefleet/internal/testutil/mocks"
)

func newTestRunner(t *testing.T, store runner.Store, exec runner.Executor, mutate ...func(*runner.Config)) *runner.Runner {
	t.Helper()
	cfg := runner.Config{
		Name:              "runner-1",
		Capabilities:      []string{"go", "sql"},
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	r, err := runner.New(cfg, store, exec, zaptest.NewLogger(t))
	require.NoError(t, err)
	return r
}

func assignTask(t *testing.T, repo *storage.Repository, agentID, title string, priority storage.Priority) *storage.Task {
	t.Helper()
	task := storage.NewTask(title, "do "+title)
	task.Status = storage.TaskStatusAssigned
	task.Priority = priority
	task.AssignedTo = storage.Ptr(agentID)
	require.NoError(t, repo.CreateTask(context.Background(), task))
	return task
}

func countEvents(t *testing.T, repo *storage.Repository, agentID, eventType string) int {
	t.Helper()
	events, err := repo.ListActivity(context.Background(), storage.ActivityQuery{AgentID: agentID, EventType: eventType})
	require.NoError(t, err)
	return len(events)
}

// startAsync runs r.Start and returns a channel yielding its result.
func startAsync(ctx context.Context, r *runner.Runner) <-chan error {
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
		return nil
	}
}

func TestNew_Validation(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	exec := mocks.NewMockExecutor()

	_, err := runner.New(runner.Config{}, repo, exec, nil)
	require.Error(t, err)
	_, err = runner.New(runner.Config{Name: "r"}, nil, exec, nil)
	require.Error(t, err)
	_, err = runner.New(runner.Config{Name: "r"}, repo, nil, nil)
	require.Error(t, err)

	r, err := runner.New(runner.Config{Name: "r"}, repo, exec, nil)
	require.NoError(t, err)
	require.Equal(t, runner.StateUnregistered, r.State())
}

func TestRunner_Register(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	r := newTestRunner(t, repo, mocks.NewMockExecutor())

	id, err := r.Register(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, id, r.AgentID())
	require.Equal(t, runner.StateIdle, r.State())

	agent, err := repo.GetAgent(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "runner-1", agent.Name)
	require.Equal(t, storage.AgentStatusIdle, agent.Status)
	require.Equal(t, storage.AgentTypeClaude, agent.Type)
	require.Equal(t, storage.StringList{"go", "sql"}, agent.Capabilities)
	require.Nil(t, agent.CurrentTaskID)
	require.EqualValues(t, 0, agent.TasksCompleted)

	// 두 번째 호출은 새 레코드를 만들지 않습니다.
	again, err := r.Register(ctx)
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Equal(t, 1, countEvents(t, repo, id, storage.EventAgentStarted))
}

func TestRunner_RegisterUsesConfiguredID(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	r := newTestRunner(t, repo, mocks.NewMockExecutor(), func(c *runner.Config) {
		c.AgentID = "agent-fixed"
	})

	id, err := r.Register(context.Background())
	require.NoError(t, err)
	require.Equal(t, "agent-fixed", id)
}

func TestRunner_RegisterPropagatesStoreError(t *testing.T) {
	store := mocks.NewFaultyStore(testutil.NewTestRepository(t))
	store.FailNext(mocks.OpCreateAgent, 1)
	r := newTestRunner(t, store, mocks.NewMockExecutor())

	_, err := r.Register(context.Background())
	require.ErrorIs(t, err, mocks.ErrInjected)
	require.Equal(t, runner.StateUnregistered, r.State())

	_, err = r.Poll(context.Background())
	require.ErrorIs(t, err, runner.ErrNotRegistered)
}

func TestRunner_ExecuteSuccess(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	exec := mocks.NewMockExecutor()
	r := newTestRunner(t, repo, exec)

	agentID, err := r.Register(ctx)
	require.NoError(t, err)
	task := assignTask(t, repo, agentID, "add endpoint", 3)
	exec.SetResult(task.TaskID, &runner.TaskResult{
		Success:      true,
		Summary:      "added /health",
		FilesChanged: []string{"api/health.go", "api/routes.go"},
		TokensUsed:   1200,
		CostUSD:      0.25,
		DurationMS:   1500,
		SessionID:    "sess-1",
	})

	polled, err := r.Poll(ctx)
	require.NoError(t, err)
	require.NotNil(t, polled)
	require.Equal(t, task.TaskID, polled.TaskID)

	require.NoError(t, r.Execute(ctx, polled))
	require.Equal(t, runner.StateIdle, r.State())
	require.Empty(t, r.CurrentTaskID())

	got, err := repo.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, storage.TaskStatusCompleted, got.Status)
	require.Equal(t, "added /health", *got.ResultSummary)
	require.EqualValues(t, 1200, *got.ActualTokensUsed)
	require.InDelta(t, 0.25, *got.ActualCostUSD, 1e-9)
	require.EqualValues(t, 1500, *got.ActualDurationMS)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.CompletedAt)

	agent, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, storage.AgentStatusIdle, agent.Status)
	require.Nil(t, agent.CurrentTaskID)
	require.EqualValues(t, 1, agent.TasksCompleted)
	require.EqualValues(t, 0, agent.TasksFailed)
	require.EqualValues(t, 1200, agent.TotalTokensUsed)
	require.InDelta(t, 0.25, agent.TotalCostUSD, 1e-9)
	require.Equal(t, "sess-1", *agent.SessionID)

	require.Equal(t, 1, countEvents(t, repo, agentID, storage.EventTaskStarted))
	require.Equal(t, 1, countEvents(t, repo, agentID, storage.EventTaskCompleted))
	require.Equal(t, 0, countEvents(t, repo, agentID, storage.EventTaskFailed))

	completed, err := repo.ListActivity(ctx, storage.ActivityQuery{TaskID: task.TaskID, EventType: storage.EventTaskCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	require.Equal(t, storage.StringList{"api/health.go", "api/routes.go"}, completed[0].FilesChanged)
	require.EqualValues(t, 1200, *completed[0].TokensUsed)

	changes, err := repo.ListFileChanges(ctx, task.TaskID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	for _, c := range changes {
		require.Equal(t, agentID, c.AgentID)
		require.Equal(t, storage.ChangeTypeModified, c.ChangeType)
	}
}

func TestRunner_ExecuteFailure(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	exec := mocks.NewMockExecutor()
	r := newTestRunner(t, repo, exec)

	agentID, err := r.Register(ctx)
	require.NoError(t, err)
	task := assignTask(t, repo, agentID, "break things", 3)
	exec.SetErrorMessage(task.TaskID, "boom")

	require.NoError(t, r.Execute(ctx, task))

	got, err := repo.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, storage.TaskStatusFailed, got.Status)
	require.Contains(t, *got.ErrorMessage, "boom")
	require.Nil(t, got.CompletedAt)

	agent, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, storage.AgentStatusIdle, agent.Status)
	require.Nil(t, agent.CurrentTaskID)
	require.EqualValues(t, 0, agent.TasksCompleted)
	require.EqualValues(t, 1, agent.TasksFailed)

	failed, err := repo.ListActivity(ctx, storage.ActivityQuery{AgentID: agentID, EventType: storage.EventTaskFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "Task failed: boom", failed[0].Message)
	require.Equal(t, 0, countEvents(t, repo, agentID, storage.EventTaskCompleted))
}

func TestRunner_ExecuteFailureResultWithoutMessage(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	exec := mocks.NewMockExecutor()
	r := newTestRunner(t, repo, exec)

	agentID, err := r.Register(ctx)
	require.NoError(t, err)
	task := assignTask(t, repo, agentID, "quiet failure", 3)
	exec.SetResult(task.TaskID, &runner.TaskResult{Success: false})

	require.NoError(t, r.Execute(ctx, task))

	got, err := repo.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, storage.TaskStatusFailed, got.Status)
	require.Equal(t, "Task returned failure", *got.ErrorMessage)
}

func TestRunner_ExecutorPanicBecomesFailure(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	exec := mocks.NewMockExecutor()
	r := newTestRunner(t, repo, exec)

	agentID, err := r.Register(ctx)
	require.NoError(t, err)
	task := assignTask(t, repo, agentID, "explode", 3)
	exec.SetPanic(task.TaskID, "nil map write")

	require.NoError(t, r.Execute(ctx, task))

	got, err := repo.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, storage.TaskStatusFailed, got.Status)
	require.Contains(t, *got.ErrorMessage, "nil map write")
	require.Equal(t, runner.StateIdle, r.State())
}

func TestRunner_ExecuteSkipsTaskClaimedElsewhere(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	exec := mocks.NewMockExecutor()
	r := newTestRunner(t, repo, exec)

	agentID, err := r.Register(ctx)
	require.NoError(t, err)
	task := assignTask(t, repo, agentID, "contested", 3)

	// 다른 액터가 poll 이후 Task를 재할당한 상황
	require.NoError(t, repo.UpdateTask(ctx, task.TaskID, storage.Fields{"assigned_to": "someone-else"}))

	err = r.Execute(ctx, task)
	require.ErrorIs(t, err, runner.ErrTaskNotClaimed)
	require.Equal(t, 0, exec.GetCallCount())
	require.Equal(t, 0, countEvents(t, repo, agentID, storage.EventTaskStarted))

	got, err := repo.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, storage.TaskStatusAssigned, got.Status)
}

func TestRunner_ExecuteShowsIntermediateStates(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	exec := mocks.NewMockExecutor()
	exec.Gate = make(chan struct{})
	r := newTestRunner(t, repo, exec)

	agentID, err := r.Register(ctx)
	require.NoError(t, err)
	task := assignTask(t, repo, agentID, "slow work", 5)

	done := make(chan error, 1)
	go func() { done <- r.Execute(ctx, task) }()

	select {
	case <-exec.Started():
	case <-time.After(5 * time.Second):
		t.Fatal("executor never started")
	}

	// executor가 막혀 있는 동안의 중간 상태
	running, err := repo.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, storage.TaskStatusInProgress, running.Status)
	require.NotNil(t, running.StartedAt)
	require.Nil(t, running.CompletedAt)

	working, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, storage.AgentStatusWorking, working.Status)
	require.NotNil(t, working.CurrentTaskID)
	require.Equal(t, task.TaskID, *working.CurrentTaskID)
	require.Equal(t, runner.StateExecuting, r.State())
	require.Equal(t, task.TaskID, r.CurrentTaskID())
	require.ErrorIs(t, r.Execute(ctx, task), runner.ErrBusy)

	close(exec.Gate)
	require.NoError(t, waitDone(t, done))

	finished, err := repo.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, storage.TaskStatusCompleted, finished.Status)

	idle, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, storage.AgentStatusIdle, idle.Status)
	require.Nil(t, idle.CurrentTaskID)
	require.Equal(t, runner.StateIdle, r.State())
}

func TestRunner_TaskCancelledDuringExecution(t *testing.T) {
	tests := []struct {
		name   string
		result *runner.TaskResult
		err    error
	}{
		{
			name: "성공 결과는 버려짐",
			result: &runner.TaskResult{
				Success:      true,
				Summary:      "done anyway",
				FilesChanged: []string{"main.go"},
				TokensUsed:   300,
				CostUSD:      0.1,
			},
		},
		{
			name: "실패 결과는 버려짐",
			err:  errors.New("boom"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := testutil.NewTestRepository(t)

			exec := runner.ExecutorFunc(func(ctx context.Context, task *storage.Task) (*runner.TaskResult, error) {
				// 운영자가 실행 중에 Task를 취소합니다.
				require.NoError(t, repo.UpdateTask(ctx, task.TaskID, storage.Fields{"status": storage.TaskStatusCancelled}))
				return tt.result, tt.err
			})
			r := newTestRunner(t, repo, exec)

			agentID, err := r.Register(ctx)
			require.NoError(t, err)
			task := assignTask(t, repo, agentID, "cancel me", 3)

			require.NoError(t, r.Execute(ctx, task))

			got, err := repo.GetTask(ctx, task.TaskID)
			require.NoError(t, err)
			require.Equal(t, storage.TaskStatusCancelled, got.Status)
			require.Nil(t, got.ResultSummary)
			require.Nil(t, got.ErrorMessage)

			agent, err := repo.GetAgent(ctx, agentID)
			require.NoError(t, err)
			require.Equal(t, storage.AgentStatusIdle, agent.Status)
			require.Nil(t, agent.CurrentTaskID)
			require.EqualValues(t, 0, agent.TasksCompleted)
			require.EqualValues(t, 0, agent.TasksFailed)
			if tt.result != nil {
				require.EqualValues(t, tt.result.TokensUsed, agent.TotalTokensUsed)
			}

			require.Equal(t, 0, countEvents(t, repo, agentID, storage.EventTaskCompleted))
			require.Equal(t, 0, countEvents(t, repo, agentID, storage.EventTaskFailed))
			require.Equal(t, 1, countEvents(t, repo, agentID, storage.EventError))

			changes, err := repo.ListFileChanges(ctx, task.TaskID)
			require.NoError(t, err)
			require.Empty(t, changes)
			require.Equal(t, runner.StateIdle, r.State())
		})
	}
}

func TestRunner_ExecuteReportsCompletionWriteErrors(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	store := mocks.NewFaultyStore(repo)
	r := newTestRunner(t, store, mocks.NewMockExecutor())

	agentID, err := r.Register(ctx)
	require.NoError(t, err)
	task := assignTask(t, repo, agentID, "partial write", 3)
	store.FailNext(mocks.OpIncrementAgent, 1)

	err = r.Execute(ctx, task)
	require.ErrorIs(t, err, mocks.ErrInjected)

	// 나머지 기록은 계속 진행됩니다.
	got, err := repo.GetTask(ctx, task.TaskID)
	require.NoError(t, err)
	require.Equal(t, storage.TaskStatusCompleted, got.Status)
	require.Equal(t, 1, countEvents(t, repo, agentID, storage.EventTaskCompleted))
	require.Empty(t, r.CurrentTaskID())
}

func TestRunner_PollOrdersByPriorityThenAge(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	r := newTestRunner(t, repo, mocks.NewMockExecutor())

	agentID, err := r.Register(ctx)
	require.NoError(t, err)

	none, err := r.Poll(ctx)
	require.NoError(t, err)
	require.Nil(t, none)

	assignTask(t, repo, agentID, "low", 1)
	time.Sleep(5 * time.Millisecond)
	oldHigh := assignTask(t, repo, agentID, "high-old", 5)
	time.Sleep(5 * time.Millisecond)
	assignTask(t, repo, agentID, "high-new", 5)
	assignTask(t, repo, "other-agent", "not mine", 5)

	got, err := r.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, oldHigh.TaskID, got.TaskID)
}

func TestRunner_StartProcessesAssignedTasks(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	exec := mocks.NewMockExecutor()
	r := newTestRunner(t, repo, exec)

	agentID, err := r.Register(ctx)
	require.NoError(t, err)

	const n = 4
	for i := 0; i < n; i++ {
		assignTask(t, repo, agentID, "task", storage.Priority(i+1))
	}

	done := startAsync(ctx, r)
	testutil.WaitForCondition(t, 5*time.Second, func() bool {
		count, err := repo.CountTasks(ctx, storage.TaskQuery{Statuses: []string{storage.TaskStatusCompleted}})
		return err == nil && count == n
	})
	r.Stop()
	require.NoError(t, waitDone(t, done))

	agent, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
	require.EqualValues(t, n, agent.TasksCompleted)
	require.Equal(t, n, countEvents(t, repo, agentID, storage.EventTaskStarted))
	require.Equal(t, n, countEvents(t, repo, agentID, storage.EventTaskCompleted))
	require.Equal(t, n, exec.GetCallCount())
}

func TestRunner_HeartbeatFailuresDoNotStopLoops(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	store := mocks.NewFaultyStore(repo)
	exec := mocks.NewMockExecutor()
	r := newTestRunner(t, store, exec)

	agentID, err := r.Register(ctx)
	require.NoError(t, err)
	before, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)

	store.FailNext(mocks.OpUpdateAgent, 3)
	done := startAsync(ctx, r)

	testutil.WaitForCondition(t, 5*time.Second, func() bool {
		return store.Calls(mocks.OpUpdateAgent) >= 5
	})
	task := assignTask(t, repo, agentID, "after outage", 3)
	testutil.WaitForCondition(t, 5*time.Second, func() bool {
		got, err := repo.GetTask(ctx, task.TaskID)
		return err == nil && got.Status == storage.TaskStatusCompleted
	})

	r.Stop()
	require.NoError(t, waitDone(t, done))

	after, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
	require.True(t, after.LastHeartbeat.After(before.LastHeartbeat))
}

func TestRunner_PollCircuitOpensAfterRepeatedFailures(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewFaultyStore(testutil.NewTestRepository(t))
	r := newTestRunner(t, store, mocks.NewMockExecutor(), func(c *runner.Config) {
		c.BreakerThreshold = 2
		c.BreakerTimeout = time.Hour
	})
	_, err := r.Register(ctx)
	require.NoError(t, err)

	store.FailNext(mocks.OpFindTasks, 100)
	done := startAsync(ctx, r)

	testutil.WaitForCondition(t, 5*time.Second, func() bool {
		return store.Calls(mocks.OpFindTasks) >= 2
	})
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 2, store.Calls(mocks.OpFindTasks))

	r.Stop()
	require.NoError(t, waitDone(t, done))
}

func TestRunner_PollResumesAfterStoreRecovers(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	store := mocks.NewFaultyStore(repo)
	r := newTestRunner(t, store, mocks.NewMockExecutor(), func(c *runner.Config) {
		c.BreakerThreshold = 2
	})
	agentID, err := r.Register(ctx)
	require.NoError(t, err)
	task := assignTask(t, repo, agentID, "after outage", 3)

	store.FailNext(mocks.OpFindTasks, 3)
	done := startAsync(ctx, r)

	// 기본 open 시간은 poll 간격의 두 배이므로 복구 후 곧바로 다시 poll 합니다.
	testutil.WaitForCondition(t, 2*time.Second, func() bool {
		got, err := repo.GetTask(ctx, task.TaskID)
		return err == nil && got.Status == storage.TaskStatusCompleted
	})

	r.Stop()
	require.NoError(t, waitDone(t, done))
}

func TestRunner_LoopPanicIsReportedAsCrash(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewFaultyStore(testutil.NewTestRepository(t))
	r := newTestRunner(t, store, mocks.NewMockExecutor())
	_, err := r.Register(ctx)
	require.NoError(t, err)

	store.PanicNext(mocks.OpFindTasks, 1)
	err = waitDone(t, startAsync(ctx, r))
	require.Error(t, err)
	require.Contains(t, err.Error(), "panicked")
	require.False(t, errors.Is(err, context.Canceled))
	require.False(t, r.StopRequested())
}

func TestRunner_ContextCancelDoesNotInterruptTask(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	exec := mocks.NewMockExecutor()
	exec.Gate = make(chan struct{})
	r := newTestRunner(t, repo, exec)

	agentID, err := r.Register(context.Background())
	require.NoError(t, err)
	task := assignTask(t, repo, agentID, "long running", 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startAsync(ctx, r)

	select {
	case <-exec.Started():
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}
	require.Equal(t, runner.StateExecuting, r.State())
	require.Equal(t, task.TaskID, r.CurrentTaskID())

	cancel()
	close(exec.Gate)
	require.ErrorIs(t, waitDone(t, done), context.Canceled)

	got, err := repo.GetTask(context.Background(), task.TaskID)
	require.NoError(t, err)
	require.Equal(t, storage.TaskStatusCompleted, got.Status)
}

func TestRunner_ShutdownIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	r := newTestRunner(t, repo, mocks.NewMockExecutor())

	agentID, err := r.Register(ctx)
	require.NoError(t, err)

	r.Shutdown(ctx)
	r.Shutdown(ctx)

	require.Equal(t, runner.StateOffline, r.State())
	require.True(t, r.StopRequested())
	require.False(t, r.Running())

	agent, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, storage.AgentStatusOffline, agent.Status)
	require.Nil(t, agent.CurrentTaskID)
	require.Equal(t, 1, countEvents(t, repo, agentID, storage.EventAgentStopped))

	// 종료 후 Start는 바로 반환합니다.
	require.NoError(t, r.Start(ctx))
}

func TestRunner_ShutdownSurvivesStoreOutage(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewFaultyStore(testutil.NewTestRepository(t))
	r := newTestRunner(t, store, mocks.NewMockExecutor())
	_, err := r.Register(ctx)
	require.NoError(t, err)

	store.FailNext(mocks.OpUpdateAgent, 1)
	store.FailNext(mocks.OpAppendActivity, 1)
	r.Shutdown(ctx)
	require.Equal(t, runner.StateOffline, r.State())
}

func TestRunner_ShutdownBeforeRegister(t *testing.T) {
	store := mocks.NewFaultyStore(testutil.NewTestRepository(t))
	r := newTestRunner(t, store, mocks.NewMockExecutor())

	r.Shutdown(context.Background())
	require.Equal(t, runner.StateOffline, r.State())
	require.Equal(t, 0, store.Calls(mocks.OpUpdateAgent))
}

func TestRunner_Reregister(t *testing.T) {
	ctx := context.Background()
	repo := testutil.NewTestRepository(t)
	exec := mocks.NewMockExecutor()
	r := newTestRunner(t, repo, exec)

	agentID, err := r.Register(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Execute(ctx, assignTask(t, repo, agentID, "before crash", 3)))

	// 크래시로 working 상태가 남은 경우
	require.NoError(t, repo.UpdateAgent(ctx, agentID, storage.Fields{
		"status":          storage.AgentStatusWorking,
		"current_task_id": "stale",
	}))

	require.NoError(t, r.Reregister(ctx))
	require.Equal(t, agentID, r.AgentID())

	agent, err := repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
	require.Equal(t, storage.AgentStatusIdle, agent.Status)
	require.Nil(t, agent.CurrentTaskID)
	require.EqualValues(t, 1, agent.TasksCompleted)
	require.Equal(t, 2, countEvents(t, repo, agentID, storage.EventAgentStarted))

	// 레코드가 사라졌다면 다시 생성합니다.
	require.NoError(t, repo.DeleteAgent(ctx, agentID))
	require.NoError(t, r.Reregister(ctx))
	_, err = repo.GetAgent(ctx, agentID)
	require.NoError(t, err)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "unregistered", runner.StateUnregistered.String())
	require.Equal(t, "idle", runner.StateIdle.String())
	require.Equal(t, "executing", runner.StateExecuting.String())
	require.Equal(t, "shutting_down", runner.StateShuttingDown.String())
	require.Equal(t, "offline", runner.StateOffline.String())
}
