package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/cnap-oss/codefleet/internal/storage"
)

// ErrAgentNotFound is returned when no agent has the requested name.
var ErrAgentNotFound = errors.New("controller: agent not found")

// Controller는 운영자용 Task/Agent 관리 기능을 제공합니다.
// Runner 바깥의 액터(운영자, workflow 엔진 대체)로서 Task를 생성하고 할당합니다.
type Controller struct {
	logger *zap.Logger
	repo   *storage.Repository
}

// NewController는 새로운 Controller를 생성합니다.
func NewController(logger *zap.Logger, repo *storage.Repository) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		logger: logger,
		repo:   repo,
	}
}

// NewTaskInput은 CreateTask 입력값입니다.
type NewTaskInput struct {
	Title       string
	Description string
	Priority    int
	Labels      []string
	FileScope   []string
	DependsOn   []string
	Complexity  string
}

// CreateTask는 pending 상태의 Task를 backlog에 추가합니다.
func (c *Controller) CreateTask(ctx context.Context, in NewTaskInput) (*storage.Task, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("controller: task title cannot be empty")
	}

	task := storage.NewTask(in.Title, in.Description)
	if in.Priority != 0 {
		task.Priority = storage.Priority(in.Priority).Normalize()
	}
	task.Labels = storage.StringList(in.Labels)
	task.FileScope = storage.StringList(in.FileScope)
	task.DependsOn = storage.StringList(in.DependsOn)
	task.EstimatedComplexity = in.Complexity

	if err := c.repo.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	c.logger.Info("Task created",
		zap.String("task_id", task.TaskID),
		zap.String("title", task.Title),
		zap.Int("priority", int(task.Priority)),
	)
	return task, nil
}

// ListTasks returns tasks ordered by priority, optionally filtered by status.
func (c *Controller) ListTasks(ctx context.Context, status string, limit int) ([]storage.Task, error) {
	q := storage.TaskQuery{Limit: limit}
	if status != "" {
		if err := ValidateTaskStatus(status); err != nil {
			return nil, err
		}
		q.Statuses = []string{status}
	}
	return c.repo.FindTasks(ctx, q)
}

// GetTask returns one task.
func (c *Controller) GetTask(ctx context.Context, taskID string) (*storage.Task, error) {
	return c.repo.GetTask(ctx, taskID)
}

// AssignTask는 Task를 이름으로 찾은 Agent에 할당합니다.
// Runner는 다음 poll에서 이 Task를 가져갑니다.
func (c *Controller) AssignTask(ctx context.Context, taskID, agentName string) (*storage.Agent, error) {
	if err := ValidateAgentName(agentName); err != nil {
		return nil, err
	}

	agents, err := c.repo.FindAgents(ctx, storage.AgentQuery{Name: agentName, ExcludeStatus: storage.AgentStatusOffline, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentName)
	}
	agent := agents[0]

	task, err := c.repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if storage.IsTerminalTaskStatus(task.Status) || task.Status == storage.TaskStatusInProgress {
		return nil, fmt.Errorf("controller: task %s is %s and cannot be assigned", taskID, task.Status)
	}

	now := time.Now().UTC()
	if err := c.repo.UpdateTask(ctx, taskID, storage.Fields{
		"status":      storage.TaskStatusAssigned,
		"assigned_to": agent.AgentID,
		"assigned_at": now,
		"updated_at":  now,
	}); err != nil {
		return nil, err
	}

	c.logger.Info("Task assigned",
		zap.String("task_id", taskID),
		zap.String("agent", agentName),
		zap.String("agent_id", agent.AgentID),
	)
	return &agent, nil
}

// CancelTask marks a task cancelled unless it already finished. A runner
// executing it will not overwrite the cancellation.
func (c *Controller) CancelTask(ctx context.Context, taskID string) error {
	now := time.Now().UTC()
	ok, err := c.repo.TransitionTask(ctx, storage.TaskTransition{
		TaskID: taskID,
		From: []string{
			storage.TaskStatusPending,
			storage.TaskStatusAssigned,
			storage.TaskStatusInProgress,
			storage.TaskStatusBlocked,
		},
		Fields: storage.Fields{
			"status":     storage.TaskStatusCancelled,
			"updated_at": now,
		},
	})
	if err != nil {
		return err
	}
	if !ok {
		if _, err := c.repo.GetTask(ctx, taskID); err != nil {
			return err
		}
		return fmt.Errorf("controller: task %s already finished", taskID)
	}
	c.logger.Info("Task cancelled", zap.String("task_id", taskID))
	return nil
}

// FleetStatus는 활성 Agent 목록과 상태별 Task 수입니다.
type FleetStatus struct {
	Agents     []storage.Agent
	TaskCounts map[string]int64
}

// Status returns the non-offline agents and the task count per status.
func (c *Controller) Status(ctx context.Context) (*FleetStatus, error) {
	agents, err := c.repo.FindAgents(ctx, storage.AgentQuery{ExcludeStatus: storage.AgentStatusOffline, Limit: 50})
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(storage.TaskStatuses))
	for _, status := range storage.TaskStatuses {
		n, err := c.repo.CountTasks(ctx, storage.TaskQuery{Statuses: []string{status}})
		if err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return &FleetStatus{Agents: agents, TaskCounts: counts}, nil
}

// ListActivity returns the most recent q.Limit activity events, oldest first.
func (c *Controller) ListActivity(ctx context.Context, q storage.ActivityQuery) ([]storage.ActivityEvent, error) {
	q.Tail = true
	return c.repo.ListActivity(ctx, q)
}

// ResetReport summarizes a Reset.
type ResetReport struct {
	TasksReset    []string
	AgentsDeleted []string
	EventsCleared int64
}

// Reset은 fleet 재실행 전에 상태를 초기화합니다.
// assigned/in_progress/failed Task를 pending으로 되돌리고, Agent를 삭제하고, activity 로그를 비웁니다.
func (c *Controller) Reset(ctx context.Context) (*ResetReport, error) {
	report := &ResetReport{}

	tasks, err := c.repo.FindTasks(ctx, storage.TaskQuery{Statuses: []string{
		storage.TaskStatusAssigned,
		storage.TaskStatusInProgress,
		storage.TaskStatusFailed,
	}})
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for _, task := range tasks {
		if err := c.repo.UpdateTask(ctx, task.TaskID, storage.Fields{
			"status":        storage.TaskStatusPending,
			"assigned_to":   nil,
			"assigned_at":   nil,
			"started_at":    nil,
			"error_message": nil,
			"updated_at":    now,
		}); err != nil {
			return report, err
		}
		report.TasksReset = append(report.TasksReset, task.Title)
	}

	agents, err := c.repo.FindAgents(ctx, storage.AgentQuery{})
	if err != nil {
		return report, err
	}
	for _, agent := range agents {
		if err := c.repo.DeleteAgent(ctx, agent.AgentID); err != nil {
			return report, err
		}
		report.AgentsDeleted = append(report.AgentsDeleted, agent.Name)
	}

	cleared, err := c.repo.ClearActivity(ctx)
	if err != nil {
		return report, err
	}
	report.EventsCleared = cleared

	c.logger.Info("Fleet state reset",
		zap.Int("tasks", len(report.TasksReset)),
		zap.Int("agents", len(report.AgentsDeleted)),
		zap.Int64("events", cleared),
	)
	return report, nil
}

// ImportTasks는 JSON 배열로 된 Task 문서를 읽어 저장합니다.
// workflow 엔진이 만든 문서처럼 문자열 priority나 콤마 구분 리스트도 허용합니다.
func (c *Controller) ImportTasks(ctx context.Context, r io.Reader) ([]*storage.Task, error) {
	var docs []*storage.Task
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("controller: decode tasks: %w", err)
	}

	imported := make([]*storage.Task, 0, len(docs))
	for i, task := range docs {
		if task == nil || task.Title == "" {
			return imported, fmt.Errorf("controller: task #%d has no title", i)
		}
		if err := c.repo.CreateTask(ctx, task); err != nil {
			return imported, err
		}
		imported = append(imported, task)
	}
	c.logger.Info("Tasks imported", zap.Int("count", len(imported)))
	return imported, nil
}

// ValidateAgentName은 에이전트 이름의 유효성을 검증합니다.
func ValidateAgentName(agent string) error {
	if agent == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	if len(agent) > 64 {
		return fmt.Errorf("agent name too long (max 64 characters)")
	}
	return nil
}

// ValidateTaskStatus checks status against the known task statuses.
func ValidateTaskStatus(status string) error {
	for _, s := range storage.TaskStatuses {
		if status == s {
			return nil
		}
	}
	return fmt.Errorf("유효하지 않은 상태: %s (사용 가능: %v)", status, storage.TaskStatuses)
}
