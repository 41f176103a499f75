package mocks

import (
	"context"
	"fmt"
	"sync"

	"github.com/cnap-oss/codefleet/internal/runner"
	"github.com/cnap-oss/codefleet/internal/storage"
)

// MockExecutor는 테스트용 Executor 구현입니다.
type MockExecutor struct {
	mu sync.Mutex

	// Results는 taskID별 결과를 정의합니다.
	Results map[string]*runner.TaskResult

	// Errors는 taskID별 에러를 정의합니다.
	Errors map[string]error

	// Panics는 taskID별 panic 값을 정의합니다.
	Panics map[string]any

	// Calls는 Execute 호출 기록(taskID)입니다.
	Calls []string

	// DefaultResult는 Results에 없는 경우 사용할 기본 결과입니다.
	DefaultResult runner.TaskResult

	// Gate가 nil이 아니면 Execute는 Gate가 닫히거나 값을 받을 때까지 대기합니다.
	Gate chan struct{}

	started chan string
}

// NewMockExecutor는 항상 성공하는 MockExecutor를 생성합니다.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{
		Results: make(map[string]*runner.TaskResult),
		Errors:  make(map[string]error),
		Panics:  make(map[string]any),
		Calls:   make([]string, 0),
		DefaultResult: runner.TaskResult{
			Success: true,
			Summary: "Mock summary",
		},
		started: make(chan string, 64),
	}
}

// ensure MockExecutor implements Executor
var _ runner.Executor = (*MockExecutor)(nil)

// Execute implements runner.Executor.
func (m *MockExecutor) Execute(ctx context.Context, task *storage.Task) (*runner.TaskResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, task.TaskID)
	err, hasErr := m.Errors[task.TaskID]
	p, hasPanic := m.Panics[task.TaskID]
	result := m.DefaultResult
	if r, ok := m.Results[task.TaskID]; ok {
		result = *r
	}
	gate := m.Gate
	m.mu.Unlock()

	select {
	case m.started <- task.TaskID:
	default:
	}

	if gate != nil {
		<-gate
	}
	if hasPanic {
		panic(p)
	}
	if hasErr {
		return nil, err
	}
	return &result, nil
}

// Started delivers task ids as Execute begins.
func (m *MockExecutor) Started() <-chan string {
	return m.started
}

// SetResult는 특정 taskID에 대한 결과를 설정합니다.
func (m *MockExecutor) SetResult(taskID string, result *runner.TaskResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Results[taskID] = result
}

// SetError는 특정 taskID에 대한 에러를 설정합니다.
func (m *MockExecutor) SetError(taskID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[taskID] = err
}

// SetErrorMessage는 특정 taskID에 대한 에러 메시지를 설정합니다.
func (m *MockExecutor) SetErrorMessage(taskID, message string) {
	m.SetError(taskID, fmt.Errorf("%s", message))
}

// SetPanic은 특정 taskID 실행 시 panic을 발생시킵니다.
func (m *MockExecutor) SetPanic(taskID string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Panics[taskID] = value
}

// GetCallCount는 Execute 호출 횟수를 반환합니다.
func (m *MockExecutor) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// GetLastCall은 마지막으로 실행된 taskID를 반환합니다.
func (m *MockExecutor) GetLastCall() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return ""
	}
	return m.Calls[len(m.Calls)-1]
}

// Reset은 모든 호출 기록을 초기화합니다.
func (m *MockExecutor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = make([]string, 0)
}
