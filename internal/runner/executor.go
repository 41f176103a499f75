package runner

import (
	"context"

	"github.com/cnap-oss/codefleet/internal/storage"
)

// TaskResult는 Executor 실행 결과를 나타냅니다. 별도로 저장되지 않고
// Task와 ActivityEvent 필드로 풀어서 기록됩니다.
type TaskResult struct {
	Success      bool
	Summary      string
	FilesChanged []string
	TokensUsed   int64
	CostUSD      float64
	DurationMS   int64
	Error        string
	// SessionID is the executor session, if it has one.
	SessionID string
}

// Executor performs the actual work of a task.
// Returning an error is equivalent to returning a failed TaskResult.
type Executor interface {
	Execute(ctx context.Context, task *storage.Task) (*TaskResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task *storage.Task) (*TaskResult, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task *storage.Task) (*TaskResult, error) {
	return f(ctx, task)
}

// Store는 Runner가 사용하는 저장소 연산입니다. storage.Repository가 구현합니다.
type Store interface {
	CreateAgent(ctx context.Context, agent *storage.Agent) error
	UpdateAgent(ctx context.Context, agentID string, fields storage.Fields) error
	IncrementAgent(ctx context.Context, agentID string, inc storage.AgentIncrement, fields storage.Fields) error
	FindTasks(ctx context.Context, q storage.TaskQuery) ([]storage.Task, error)
	TransitionTask(ctx context.Context, t storage.TaskTransition) (bool, error)
	AppendActivity(ctx context.Context, event *storage.ActivityEvent) error
	AppendFileChange(ctx context.Context, change *storage.FileChange) error
}

// ensure Repository implements Store.
var _ Store = (*storage.Repository)(nil)
