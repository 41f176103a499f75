package mocks_test

import (
	"context"
	"testing"

	"github.com/cnap-oss/codefleet/internal/runner"
	"github.com/cnap-oss/codefleet/internal/storage"
	"github.com/cnap-oss/codefleet/internal/testutil"
	"github.com/cnap-oss/codefleet/internal/testutil/mocks"
	"github.com/stretchr/testify/require"
)

func TestMockExecutor_Execute(t *testing.T) {
	m := mocks.NewMockExecutor()
	m.SetResult("task-001", &runner.TaskResult{Success: true, Summary: "Hello from mock!", TokensUsed: 10})

	result, err := m.Execute(context.Background(), &storage.Task{TaskID: "task-001"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Equal(t, "Hello from mock!", result.Summary)
	require.EqualValues(t, 10, result.TokensUsed)
	require.Equal(t, 1, m.GetCallCount())
}

func TestMockExecutor_DefaultResult(t *testing.T) {
	m := mocks.NewMockExecutor()
	m.DefaultResult = runner.TaskResult{Success: true, Summary: "Default summary"}

	result, err := m.Execute(context.Background(), &storage.Task{TaskID: "unknown-task"})
	require.NoError(t, err)
	require.Equal(t, "Default summary", result.Summary)
}

func TestMockExecutor_ErrorAndPanic(t *testing.T) {
	m := mocks.NewMockExecutor()
	m.SetErrorMessage("task-fail", "API error")
	m.SetPanic("task-panic", "kaboom")

	result, err := m.Execute(context.Background(), &storage.Task{TaskID: "task-fail"})
	require.Error(t, err)
	require.Nil(t, result)
	require.Contains(t, err.Error(), "API error")

	require.PanicsWithValue(t, "kaboom", func() {
		_, _ = m.Execute(context.Background(), &storage.Task{TaskID: "task-panic"})
	})
}

func TestMockExecutor_CallHistory(t *testing.T) {
	m := mocks.NewMockExecutor()
	ctx := context.Background()

	_, _ = m.Execute(ctx, &storage.Task{TaskID: "task-1"})
	_, _ = m.Execute(ctx, &storage.Task{TaskID: "task-2"})
	_, _ = m.Execute(ctx, &storage.Task{TaskID: "task-3"})

	require.Equal(t, 3, m.GetCallCount())
	require.Equal(t, "task-3", m.GetLastCall())

	m.Reset()
	require.Equal(t, 0, m.GetCallCount())
	require.Empty(t, m.GetLastCall())
}

func TestFaultyStore_InjectsFaults(t *testing.T) {
	repo := testutil.NewTestRepository(t)
	store := mocks.NewFaultyStore(repo)
	ctx := context.Background()

	store.FailNext(mocks.OpFindTasks, 2)
	for i := 0; i < 2; i++ {
		_, err := store.FindTasks(ctx, storage.TaskQuery{})
		require.ErrorIs(t, err, mocks.ErrInjected)
	}
	tasks, err := store.FindTasks(ctx, storage.TaskQuery{})
	require.NoError(t, err)
	require.Empty(t, tasks)
	require.Equal(t, 3, store.Calls(mocks.OpFindTasks))

	store.PanicNext(mocks.OpUpdateAgent, 1)
	require.Panics(t, func() {
		_ = store.UpdateAgent(ctx, "missing", storage.Fields{"status": storage.AgentStatusIdle})
	})
	err = store.UpdateAgent(ctx, "missing", storage.Fields{"status": storage.AgentStatusIdle})
	require.ErrorIs(t, err, storage.ErrNotFound)
}
