package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/cnap-oss/codefleet/internal/config"
	"github.com/cnap-oss/codefleet/internal/storage"
	"github.com/cnap-oss/codefleet/internal/supervisor"
	"github.com/cnap-oss/codefleet/internal/testutil"
)

// TestMain은 테스트 실행 전후에 필요한 설정을 수행합니다.
func TestMain(m *testing.M) {
	// 테스트 환경 설정
	setupTestEnvironment()

	// 테스트 실행
	code := m.Run()

	// 테스트 환경 정리
	teardownTestEnvironment()

	os.Exit(code)
}

// setupTestEnvironment는 테스트 환경을 초기화합니다.
func setupTestEnvironment() {
	_ = os.Setenv("ENV", "test")
	_ = os.Setenv("LOG_LEVEL", "debug")
}

// teardownTestEnvironment는 테스트 환경을 정리합니다.
func teardownTestEnvironment() {
	_ = os.Unsetenv("ENV")
	_ = os.Unsetenv("LOG_LEVEL")
}

// setupDB는 테스트별 SQLite 파일과 짧은 주기 설정을 환경 변수로 지정합니다.
func setupDB(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	dsn := filepath.Join(dir, "codefleet.db")
	testutil.SetupTestEnvironment(t, map[string]string{
		"CODEFLEET_CONFIG":             "",
		"DISCORD_TOKEN":                "",
		"CODEFLEET_DATABASE_DSN":       dsn,
		"CODEFLEET_EXECUTOR":           storage.AgentTypeClaude,
		"CODEFLEET_CLAUDE_BIN":         filepath.Join(dir, "no-claude"),
		"CODEFLEET_POLL_INTERVAL":      "50ms",
		"CODEFLEET_HEARTBEAT_INTERVAL": "100ms",
		"CODEFLEET_RESTART_BACKOFF":    "50ms",
		"CODEFLEET_SHUTDOWN_TIMEOUT":   "5s",
	})
	return dsn
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd(&app{logger: zaptest.NewLogger(t, zaptest.Level(zapcore.WarnLevel))})
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func openRepo(t *testing.T, dsn string) *storage.Repository {
	t.Helper()

	db, err := storage.Open(storage.DefaultConfig(dsn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	require.NoError(t, storage.AutoMigrate(db))
	repo, err := storage.NewRepository(db)
	require.NoError(t, err)
	return repo
}

func TestTaskCommands(t *testing.T) {
	dsn := setupDB(t)
	ctx := context.Background()

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "마이그레이션 완료")

	out, err = execute(t, "add-task", "-t", "Fix login", "-p", "5", "-l", "auth, api", "-f", "auth/login.go")
	require.NoError(t, err)
	assert.Contains(t, out, "Fix login")

	_, err = execute(t, "add-task", "-t", "Write docs", "-p", "1", "-c", "small")
	require.NoError(t, err)

	_, err = execute(t, "add-task", "-d", "no title")
	require.Error(t, err)

	out, err = execute(t, "list-tasks")
	require.NoError(t, err)
	require.Contains(t, out, "Fix login")
	require.Contains(t, out, "Write docs")
	assert.Less(t, strings.Index(out, "Fix login"), strings.Index(out, "Write docs"))

	_, err = execute(t, "list-tasks", "-s", "bogus")
	require.Error(t, err)

	repo := openRepo(t, dsn)
	tasks, err := repo.FindTasks(ctx, storage.TaskQuery{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	fix, docs := tasks[0], tasks[1]
	assert.Equal(t, storage.StringList{"auth", "api"}, fix.Labels)
	assert.Equal(t, storage.StringList{"auth/login.go"}, fix.FileScope)
	assert.Equal(t, storage.ComplexitySmall, docs.EstimatedComplexity)

	require.NoError(t, repo.CreateAgent(ctx, &storage.Agent{
		AgentID: "agent-1",
		Name:    "runner-1",
		Type:    storage.AgentTypeClaude,
		Status:  storage.AgentStatusIdle,
	}))

	out, err = execute(t, "assign", "-t", fix.TaskID, "-a", "runner-1")
	require.NoError(t, err)
	assert.Contains(t, out, "runner-1")

	_, err = execute(t, "assign", "-t", fix.TaskID, "-a", "nobody")
	require.Error(t, err)

	out, err = execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "runner-1")
	assert.Regexp(t, `assigned\s+1`, out)
	assert.Regexp(t, `pending\s+1`, out)

	out, err = execute(t, "cancel", docs.TaskID)
	require.NoError(t, err)
	assert.Contains(t, out, docs.TaskID)

	out, err = execute(t, "list-tasks", "-s", storage.TaskStatusCancelled)
	require.NoError(t, err)
	assert.Contains(t, out, "Write docs")
	assert.NotContains(t, out, "Fix login")

	out, err = execute(t, "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Task 1개 초기화")
	assert.Contains(t, out, "deleted agent: runner-1")

	stored, err := repo.GetTask(ctx, fix.TaskID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusPending, stored.Status)
	assert.Nil(t, stored.AssignedTo)

	stored, err = repo.GetTask(ctx, docs.TaskID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskStatusCancelled, stored.Status)
}

func TestImportTasksCommand(t *testing.T) {
	dsn := setupDB(t)
	tc := testutil.NewTestContext(t)

	path := tc.CreateTempFile("tasks.json", `[
		{"title": "Add rate limiter", "priority": "4", "labels": "api", "file_scope": "api/limit.go"},
		{"title": "Refactor store", "priority": 2, "depends_on": []}
	]`, 0644)

	out, err := execute(t, "import-tasks", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Task 2개")

	tasks, err := openRepo(t, dsn).FindTasks(tc.Ctx, storage.TaskQuery{})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Add rate limiter", tasks[0].Title)
	assert.Equal(t, storage.Priority(4), tasks[0].Priority)

	_, err = execute(t, "import-tasks", filepath.Join(tc.TempDir, "missing.json"))
	require.Error(t, err)
}

func TestActivityCommand(t *testing.T) {
	dsn := setupDB(t)
	ctx := context.Background()

	out, err := execute(t, "activity")
	require.NoError(t, err)
	assert.Contains(t, out, "기록된 이벤트가 없습니다")

	repo := openRepo(t, dsn)
	require.NoError(t, repo.AppendActivity(ctx, &storage.ActivityEvent{
		AgentID:   "agent-1",
		EventType: storage.EventAgentStarted,
		Message:   "Agent started",
	}))

	out, err = execute(t, "activity", "--agent-id", "agent-1")
	require.NoError(t, err)
	assert.Contains(t, out, storage.EventAgentStarted)
	assert.Contains(t, out, "Agent started")
}

func TestVersionCommandSkipsConfig(t *testing.T) {
	setupDB(t)
	t.Setenv("CODEFLEET_RUNNERS", "0")

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)

	_, err = execute(t, "status")
	require.Error(t, err)
}

func TestStartFleet(t *testing.T) {
	dsn := setupDB(t)
	testutil.SkipIfShort(t)

	a := &app{logger: zaptest.NewLogger(t)}
	require.NoError(t, a.load())
	a.cfg.Runners = 2

	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runStart(context.Background(), a, supervisor.WithSignals(sigCh))
	}()

	repo := openRepo(t, dsn)
	ctx := context.Background()
	testutil.WaitForCondition(t, 10*time.Second, func() bool {
		agents, err := repo.FindAgents(ctx, storage.AgentQuery{ExcludeStatus: storage.AgentStatusOffline})
		return err == nil && len(agents) == 2
	})

	sigCh <- syscall.SIGTERM
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("fleet did not stop after signal")
	}

	agents, err := repo.FindAgents(ctx, storage.AgentQuery{})
	require.NoError(t, err)
	require.Len(t, agents, 2)
	for _, agent := range agents {
		assert.Equal(t, storage.AgentStatusOffline, agent.Status)
		assert.Nil(t, agent.CurrentTaskID)
	}
}

func TestRunSingle(t *testing.T) {
	dsn := setupDB(t)
	testutil.SkipIfShort(t)

	a := &app{logger: zaptest.NewLogger(t)}
	require.NoError(t, a.load())

	sigCh := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runSingle(context.Background(), a, "solo", sigCh)
	}()

	repo := openRepo(t, dsn)
	ctx := context.Background()
	testutil.WaitForCondition(t, 10*time.Second, func() bool {
		agents, err := repo.FindAgents(ctx, storage.AgentQuery{Name: "solo"})
		return err == nil && len(agents) == 1 && agents[0].Status == storage.AgentStatusIdle
	})

	sigCh <- syscall.SIGINT
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("runner did not stop after signal")
	}

	agents, err := repo.FindAgents(ctx, storage.AgentQuery{Name: "solo"})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, storage.AgentStatusOffline, agents[0].Status)

	events, err := repo.ListActivity(ctx, storage.ActivityQuery{AgentID: agents[0].AgentID, EventType: storage.EventAgentStopped})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name  string
		env   string
		level string
		want  zapcore.Level
	}{
		{name: "개발 환경 기본값", env: "development", level: "", want: zapcore.DebugLevel},
		{name: "운영 환경 기본값", env: "production", level: "", want: zapcore.InfoLevel},
		{name: "log level 지정", env: "production", level: "warn", want: zapcore.WarnLevel},
		{name: "잘못된 log level 무시", env: "development", level: "loud", want: zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Env = tt.env
			cfg.LogLevel = tt.level

			logger, err := initLogger(cfg)
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			assert.False(t, logger.Core().Enabled(tt.want-1))
		})
	}
}
