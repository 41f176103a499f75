package mocks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cnap-oss/codefleet/internal/runner"
	"github.com/cnap-oss/codefleet/internal/storage"
)

// Store operation names accepted by FaultyStore.
const (
	OpCreateAgent      = "CreateAgent"
	OpUpdateAgent      = "UpdateAgent"
	OpIncrementAgent   = "IncrementAgent"
	OpFindTasks        = "FindTasks"
	OpTransitionTask   = "TransitionTask"
	OpAppendActivity   = "AppendActivity"
	OpAppendFileChange = "AppendFileChange"
)

// ErrInjected is returned by operations armed with FailNext.
var ErrInjected = errors.New("mocks: injected store failure")

// FaultyStore는 runner.Store를 감싸 지정한 연산에 실패나 panic을 주입합니다.
type FaultyStore struct {
	inner runner.Store

	mu     sync.Mutex
	fails  map[string]int
	panics map[string]int
	calls  map[string]int
}

// NewFaultyStore wraps inner.
func NewFaultyStore(inner runner.Store) *FaultyStore {
	return &FaultyStore{
		inner:  inner,
		fails:  make(map[string]int),
		panics: make(map[string]int),
		calls:  make(map[string]int),
	}
}

var _ runner.Store = (*FaultyStore)(nil)

// FailNext makes the next n calls of op return ErrInjected.
func (s *FaultyStore) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fails[op] += n
}

// PanicNext makes the next n calls of op panic.
func (s *FaultyStore) PanicNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panics[op] += n
}

// Calls returns how many times op was invoked, including injected faults.
func (s *FaultyStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *FaultyStore) enter(op string) error {
	s.mu.Lock()
	s.calls[op]++
	doPanic := s.panics[op] > 0
	if doPanic {
		s.panics[op]--
	}
	doFail := !doPanic && s.fails[op] > 0
	if doFail {
		s.fails[op]--
	}
	s.mu.Unlock()

	if doPanic {
		panic(fmt.Sprintf("mocks: injected %s panic", op))
	}
	if doFail {
		return fmt.Errorf("%s: %w", op, ErrInjected)
	}
	return nil
}

func (s *FaultyStore) CreateAgent(ctx context.Context, agent *storage.Agent) error {
	if err := s.enter(OpCreateAgent); err != nil {
		return err
	}
	return s.inner.CreateAgent(ctx, agent)
}

func (s *FaultyStore) UpdateAgent(ctx context.Context, agentID string, fields storage.Fields) error {
	if err := s.enter(OpUpdateAgent); err != nil {
		return err
	}
	return s.inner.UpdateAgent(ctx, agentID, fields)
}

func (s *FaultyStore) IncrementAgent(ctx context.Context, agentID string, inc storage.AgentIncrement, fields storage.Fields) error {
	if err := s.enter(OpIncrementAgent); err != nil {
		return err
	}
	return s.inner.IncrementAgent(ctx, agentID, inc, fields)
}

func (s *FaultyStore) FindTasks(ctx context.Context, q storage.TaskQuery) ([]storage.Task, error) {
	if err := s.enter(OpFindTasks); err != nil {
		return nil, err
	}
	return s.inner.FindTasks(ctx, q)
}

func (s *FaultyStore) TransitionTask(ctx context.Context, t storage.TaskTransition) (bool, error) {
	if err := s.enter(OpTransitionTask); err != nil {
		return false, err
	}
	return s.inner.TransitionTask(ctx, t)
}

func (s *FaultyStore) AppendActivity(ctx context.Context, event *storage.ActivityEvent) error {
	if err := s.enter(OpAppendActivity); err != nil {
		return err
	}
	return s.inner.AppendActivity(ctx, event)
}

func (s *FaultyStore) AppendFileChange(ctx context.Context, change *storage.FileChange) error {
	if err := s.enter(OpAppendFileChange); err != nil {
		return err
	}
	return s.inner.AppendFileChange(ctx, change)
}
