package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a write-once document already exists.
	ErrConflict = errors.New("storage: conflict")
)

// Repository는 CodeFleet 컬렉션에 대한 CRUD/검색 연산을 제공합니다.
// Runner가 사용하는 연산(runner.Store)과 운영 도구 전용 연산(delete/count)을 모두 구현합니다.
type Repository struct {
	db *gorm.DB
}

// NewRepository는 주어진 DB 핸들로 Repository를 생성합니다.
func NewRepository(db *gorm.DB) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: nil database handle")
	}
	return &Repository{db: db}, nil
}

// DB exposes the underlying handle.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// CreateAgent는 Agent 문서를 생성하거나 덮어씁니다.
func (r *Repository) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent == nil {
		return fmt.Errorf("storage: nil agent")
	}
	if agent.AgentID == "" {
		agent.AgentID = uuid.NewString()
	}
	now := time.Now().UTC()
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = now
	}
	if agent.LastHeartbeat.IsZero() {
		agent.LastHeartbeat = now
	}
	if agent.Capabilities == nil {
		agent.Capabilities = StringList{}
	}
	agent.UpdatedAt = now

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(agent).Error; err != nil {
		return fmt.Errorf("storage: create agent %s: %w", agent.AgentID, err)
	}
	return nil
}

// GetAgent returns the agent with the given id.
func (r *Repository) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	var agent Agent
	if err := r.db.WithContext(ctx).Where("agent_id = ?", agentID).First(&agent).Error; err != nil {
		return nil, wrapLookup("get agent", agentID, err)
	}
	return &agent, nil
}

// FindAgents lists agents matching q ordered by name. Agents sharing a
// name come most recent heartbeat first.
func (r *Repository) FindAgents(ctx context.Context, q AgentQuery) ([]Agent, error) {
	tx := r.db.WithContext(ctx).Model(&Agent{})
	if q.Name != "" {
		tx = tx.Where("name = ?", q.Name)
	}
	if q.ExcludeStatus != "" {
		tx = tx.Where("status <> ?", q.ExcludeStatus)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var agents []Agent
	if err := tx.Order("name ASC").Order("last_heartbeat DESC").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("storage: find agents: %w", err)
	}
	return agents, nil
}

// UpdateAgent applies a partial update to an agent.
func (r *Repository) UpdateAgent(ctx context.Context, agentID string, fields Fields) error {
	res := r.db.WithContext(ctx).
		Model(&Agent{}).
		Where("agent_id = ?", agentID).
		Updates(map[string]any(fields))
	if res.Error != nil {
		return fmt.Errorf("storage: update agent %s: %w", agentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: update agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

// IncrementAgent는 카운터 증가와 필드 갱신을 하나의 UPDATE 문으로 수행합니다.
// 읽기-수정-쓰기 없이 DB가 원자적으로 처리하므로 다른 writer와 섞이지 않습니다.
func (r *Repository) IncrementAgent(ctx context.Context, agentID string, inc AgentIncrement, fields Fields) error {
	updates := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		updates[k] = v
	}
	if inc.TasksCompleted != 0 {
		updates["tasks_completed"] = gorm.Expr("tasks_completed + ?", inc.TasksCompleted)
	}
	if inc.TasksFailed != 0 {
		updates["tasks_failed"] = gorm.Expr("tasks_failed + ?", inc.TasksFailed)
	}
	if inc.TokensUsed != 0 {
		updates["total_tokens_used"] = gorm.Expr("total_tokens_used + ?", inc.TokensUsed)
	}
	if inc.CostUSD != 0 {
		updates["total_cost_usd"] = gorm.Expr("total_cost_usd + ?", inc.CostUSD)
	}
	if len(updates) == 0 {
		return nil
	}

	res := r.db.WithContext(ctx).
		Model(&Agent{}).
		Where("agent_id = ?", agentID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("storage: increment agent %s: %w", agentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: increment agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

// DeleteAgent removes an agent record. Only operator tooling calls this.
func (r *Repository) DeleteAgent(ctx context.Context, agentID string) error {
	res := r.db.WithContext(ctx).Where("agent_id = ?", agentID).Delete(&Agent{})
	if res.Error != nil {
		return fmt.Errorf("storage: delete agent %s: %w", agentID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: delete agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

// CreateTask는 Task 문서를 생성하거나 덮어씁니다.
func (r *Repository) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return fmt.Errorf("storage: nil task")
	}
	normalizeTask(task)

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(task).Error; err != nil {
		return fmt.Errorf("storage: create task %s: %w", task.TaskID, err)
	}
	return nil
}

func normalizeTask(task *Task) {
	now := time.Now().UTC()
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = TaskStatusPending
	}
	if task.Priority == 0 {
		task.Priority = DefaultPriority
	}
	task.Priority = task.Priority.Normalize()
	task.EstimatedComplexity = NormalizeComplexity(task.EstimatedComplexity)
	for _, l := range []*StringList{&task.DependsOn, &task.BlockedBy, &task.FileScope, &task.Labels} {
		if *l == nil {
			*l = StringList{}
		}
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = now
	}
}

// GetTask returns the task with the given id.
func (r *Repository) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&task).Error; err != nil {
		return nil, wrapLookup("get task", taskID, err)
	}
	return &task, nil
}

// FindTasks returns tasks matching q, highest priority first and oldest
// first within a priority.
func (r *Repository) FindTasks(ctx context.Context, q TaskQuery) ([]Task, error) {
	tx := r.taskScope(ctx, q).
		Order("priority DESC").
		Order("created_at ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var tasks []Task
	if err := tx.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("storage: find tasks: %w", err)
	}
	return tasks, nil
}

// CountTasks counts tasks matching q. Limit is ignored.
func (r *Repository) CountTasks(ctx context.Context, q TaskQuery) (int64, error) {
	var n int64
	if err := r.taskScope(ctx, q).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("storage: count tasks: %w", err)
	}
	return n, nil
}

func (r *Repository) taskScope(ctx context.Context, q TaskQuery) *gorm.DB {
	tx := r.db.WithContext(ctx).Model(&Task{})
	if len(q.Statuses) > 0 {
		tx = tx.Where("status IN ?", q.Statuses)
	}
	if q.AssignedTo != "" {
		tx = tx.Where("assigned_to = ?", q.AssignedTo)
	}
	return tx
}

// UpdateTask applies a partial update to a task.
func (r *Repository) UpdateTask(ctx context.Context, taskID string, fields Fields) error {
	res := r.db.WithContext(ctx).
		Model(&Task{}).
		Where("task_id = ?", taskID).
		Updates(map[string]any(fields))
	if res.Error != nil {
		return fmt.Errorf("storage: update task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: update task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// TransitionTask는 조건부 partial update를 수행합니다.
// 현재 상태(와 담당자)가 조건과 일치할 때만 갱신하며, 갱신 여부를 반환합니다.
func (r *Repository) TransitionTask(ctx context.Context, t TaskTransition) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&Task{}).Where("task_id = ?", t.TaskID)
	if len(t.From) > 0 {
		tx = tx.Where("status IN ?", t.From)
	}
	if t.AssignedTo != "" {
		tx = tx.Where("assigned_to = ?", t.AssignedTo)
	}

	res := tx.Updates(map[string]any(t.Fields))
	if res.Error != nil {
		return false, fmt.Errorf("storage: transition task %s: %w", t.TaskID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteTask removes a task. Only operator tooling calls this.
func (r *Repository) DeleteTask(ctx context.Context, taskID string) error {
	res := r.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&Task{})
	if res.Error != nil {
		return fmt.Errorf("storage: delete task %s: %w", taskID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("storage: delete task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// AppendActivity writes an activity event once.
func (r *Repository) AppendActivity(ctx context.Context, event *ActivityEvent) error {
	if event == nil {
		return fmt.Errorf("storage: nil activity event")
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.FilesChanged == nil {
		event.FilesChanged = StringList{}
	}
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("storage: append activity %s: %w", event.EventID, translate(err))
	}
	return nil
}

// ListActivity returns events matching q in timestamp order.
func (r *Repository) ListActivity(ctx context.Context, q ActivityQuery) ([]ActivityEvent, error) {
	tx := r.db.WithContext(ctx).Model(&ActivityEvent{})
	if q.AgentID != "" {
		tx = tx.Where("agent_id = ?", q.AgentID)
	}
	if q.TaskID != "" {
		tx = tx.Where("task_id = ?", q.TaskID)
	}
	if q.EventType != "" {
		tx = tx.Where("event_type = ?", q.EventType)
	}
	if len(q.EventTypes) > 0 {
		tx = tx.Where("event_type IN ?", q.EventTypes)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("timestamp >= ?", q.Since.UTC())
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	order := "timestamp ASC"
	if q.Tail {
		order = "timestamp DESC"
	}

	var events []ActivityEvent
	if err := tx.Order(order).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("storage: list activity: %w", err)
	}
	if q.Tail {
		slices.Reverse(events)
	}
	return events, nil
}

// ClearActivity deletes the whole activity log and returns the number of
// removed events. Only operator tooling calls this.
func (r *Repository) ClearActivity(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&ActivityEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("storage: clear activity: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// AppendFileChange writes a file change record once.
func (r *Repository) AppendFileChange(ctx context.Context, change *FileChange) error {
	if change == nil {
		return fmt.Errorf("storage: nil file change")
	}
	if change.ChangeID == "" {
		change.ChangeID = uuid.NewString()
	}
	if change.ChangeType == "" {
		change.ChangeType = ChangeTypeModified
	}
	if change.Timestamp.IsZero() {
		change.Timestamp = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(change).Error; err != nil {
		return fmt.Errorf("storage: append file change %s: %w", change.ChangeID, translate(err))
	}
	return nil
}

// ListFileChanges returns the changes recorded for a task.
func (r *Repository) ListFileChanges(ctx context.Context, taskID string) ([]FileChange, error) {
	var changes []FileChange
	if err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("timestamp ASC").
		Find(&changes).Error; err != nil {
		return nil, fmt.Errorf("storage: list file changes: %w", err)
	}
	return changes, nil
}

func wrapLookup(op, id string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("storage: %s %s: %w", op, id, ErrNotFound)
	}
	return fmt.Errorf("storage: %s %s: %w", op, id, err)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	return err
}
