package storage

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fields는 partial update에 사용되는 컬럼명 → 값 맵입니다.
type Fields map[string]any

// StringList는 리스트 컬럼을 표현합니다.
// 외부 workflow 엔진은 리스트 필드를 "a, b, c" 형태의 문자열로 기록하기도 하므로,
// DB 스캔과 JSON 디코딩 모두 JSON 배열과 콤마 구분 문자열을 허용합니다.
// 저장 시에는 항상 JSON 배열로 기록합니다.
type StringList []string

// ParseStringList converts a JSON array or a comma separated string into a list.
// Blank entries are dropped.
func ParseStringList(s string) StringList {
	s = strings.TrimSpace(s)
	if s == "" {
		return StringList{}
	}
	if strings.HasPrefix(s, "[") {
		var items []string
		if err := json.Unmarshal([]byte(s), &items); err == nil {
			return compact(items)
		}
	}
	return compact(strings.Split(s, ","))
}

func compact(items []string) StringList {
	out := make(StringList, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// GormDataType implements schema.GormDataTypeInterface.
func (StringList) GormDataType() string {
	return "text"
}

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("storage: encode string list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*l = StringList{}
	case string:
		*l = ParseStringList(v)
	case []byte:
		*l = ParseStringList(string(v))
	default:
		return fmt.Errorf("storage: cannot scan %T into StringList", src)
	}
	return nil
}

// UnmarshalJSON accepts an array, a comma separated string or null.
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*l = StringList{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = ParseStringList(s)
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("storage: decode string list: %w", err)
	}
	*l = compact(items)
	return nil
}

// Priority is a task priority in [MinPriority, MaxPriority].
type Priority int

// Normalize clamps p into the valid range.
func (p Priority) Normalize() Priority {
	switch {
	case p < MinPriority:
		return MinPriority
	case p > MaxPriority:
		return MaxPriority
	}
	return p
}

// UnmarshalJSON accepts numbers and numeric strings ("5"). Anything else
// falls back to DefaultPriority.
func (p *Priority) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = DefaultPriority
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		*p = DefaultPriority
		return nil
	}
	*p = Priority(n).Normalize()
	return nil
}

// Task는 작업 단위입니다. 상태 전이는 외부 액터와 Runner가 나누어 수행합니다.
type Task struct {
	TaskID              string     `gorm:"column:task_id;primaryKey;size:64" json:"task_id"`
	Title               string     `gorm:"column:title" json:"title"`
	Description         string     `gorm:"column:description" json:"description"`
	Status              string     `gorm:"column:status;size:32;index;default:pending" json:"status"`
	Priority            Priority   `gorm:"column:priority;index;default:3" json:"priority"`
	AssignedTo          *string    `gorm:"column:assigned_to;size:64;index" json:"assigned_to"`
	DependsOn           StringList `gorm:"column:depends_on" json:"depends_on"`
	BlockedBy           StringList `gorm:"column:blocked_by" json:"blocked_by"`
	FileScope           StringList `gorm:"column:file_scope" json:"file_scope"`
	Labels              StringList `gorm:"column:labels" json:"labels"`
	BranchName          *string    `gorm:"column:branch_name" json:"branch_name"`
	PRURL               *string    `gorm:"column:pr_url" json:"pr_url"`
	ResultSummary       *string    `gorm:"column:result_summary" json:"result_summary"`
	ErrorMessage        *string    `gorm:"column:error_message" json:"error_message"`
	EstimatedComplexity string     `gorm:"column:estimated_complexity;size:16;default:medium" json:"estimated_complexity"`
	ActualTokensUsed    *int64     `gorm:"column:actual_tokens_used" json:"actual_tokens_used"`
	ActualCostUSD       *float64   `gorm:"column:actual_cost_usd" json:"actual_cost_usd"`
	ActualDurationMS    *int64     `gorm:"column:actual_duration_ms" json:"actual_duration_ms"`
	CreatedAt           time.Time  `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at" json:"updated_at"`
	AssignedAt          *time.Time `gorm:"column:assigned_at" json:"assigned_at"`
	StartedAt           *time.Time `gorm:"column:started_at" json:"started_at"`
	CompletedAt         *time.Time `gorm:"column:completed_at" json:"completed_at"`
}

func (Task) TableName() string { return TableTasks }

// NewTask returns a pending task with a fresh id and defaults applied.
func NewTask(title, description string) *Task {
	now := time.Now().UTC()
	return &Task{
		TaskID:              uuid.NewString(),
		Title:               title,
		Description:         description,
		Status:              TaskStatusPending,
		Priority:            DefaultPriority,
		DependsOn:           StringList{},
		BlockedBy:           StringList{},
		FileScope:           StringList{},
		Labels:              StringList{},
		EstimatedComplexity: ComplexityMedium,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// Agent는 Runner의 식별 레코드입니다.
type Agent struct {
	AgentID         string     `gorm:"column:agent_id;primaryKey;size:64" json:"agent_id"`
	Name            string     `gorm:"column:name;size:128;index" json:"name"`
	Type            string     `gorm:"column:type;size:32" json:"type"`
	Status          string     `gorm:"column:status;size:32;index" json:"status"`
	CurrentTaskID   *string    `gorm:"column:current_task_id;size:64" json:"current_task_id"`
	Capabilities    StringList `gorm:"column:capabilities" json:"capabilities"`
	WorktreePath    *string    `gorm:"column:worktree_path" json:"worktree_path"`
	SessionID       *string    `gorm:"column:session_id" json:"session_id"`
	LastHeartbeat   time.Time  `gorm:"column:last_heartbeat" json:"last_heartbeat"`
	TasksCompleted  int64      `gorm:"column:tasks_completed;not null;default:0" json:"tasks_completed"`
	TasksFailed     int64      `gorm:"column:tasks_failed;not null;default:0" json:"tasks_failed"`
	TotalTokensUsed int64      `gorm:"column:total_tokens_used;not null;default:0" json:"total_tokens_used"`
	TotalCostUSD    float64    `gorm:"column:total_cost_usd;not null;default:0" json:"total_cost_usd"`
	CreatedAt       time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Agent) TableName() string { return TableAgents }

// ActivityEvent is an append-only audit record.
type ActivityEvent struct {
	EventID      string     `gorm:"column:event_id;primaryKey;size:64" json:"event_id"`
	AgentID      string     `gorm:"column:agent_id;size:64;index" json:"agent_id"`
	TaskID       *string    `gorm:"column:task_id;size:64;index" json:"task_id"`
	EventType    string     `gorm:"column:event_type;size:32;index" json:"event_type"`
	Message      string     `gorm:"column:message" json:"message"`
	FilesChanged StringList `gorm:"column:files_changed" json:"files_changed"`
	ToolName     *string    `gorm:"column:tool_name" json:"tool_name"`
	TokensUsed   *int64     `gorm:"column:tokens_used" json:"tokens_used"`
	CostUSD      *float64   `gorm:"column:cost_usd" json:"cost_usd"`
	DurationMS   *int64     `gorm:"column:duration_ms" json:"duration_ms"`
	Timestamp    time.Time  `gorm:"column:timestamp;index" json:"timestamp"`
}

func (ActivityEvent) TableName() string { return TableActivity }

// FileChange is an append-only record of a file touched by a task.
type FileChange struct {
	ChangeID     string    `gorm:"column:change_id;primaryKey;size:64" json:"change_id"`
	AgentID      string    `gorm:"column:agent_id;size:64;index" json:"agent_id"`
	TaskID       string    `gorm:"column:task_id;size:64;index" json:"task_id"`
	FilePath     string    `gorm:"column:file_path" json:"file_path"`
	ChangeType   string    `gorm:"column:change_type;size:16" json:"change_type"`
	BranchName   *string   `gorm:"column:branch_name" json:"branch_name"`
	CommitSHA    *string   `gorm:"column:commit_sha" json:"commit_sha"`
	LinesAdded   int       `gorm:"column:lines_added" json:"lines_added"`
	LinesRemoved int       `gorm:"column:lines_removed" json:"lines_removed"`
	Timestamp    time.Time `gorm:"column:timestamp;index" json:"timestamp"`
}

func (FileChange) TableName() string { return TableChanges }

// AgentIncrement은 Agent 카운터에 더할 값입니다.
type AgentIncrement struct {
	TasksCompleted int64
	TasksFailed    int64
	TokensUsed     int64
	CostUSD        float64
}

// TaskQuery filters and orders tasks. Results are always ordered by
// priority descending, then creation time ascending.
type TaskQuery struct {
	Statuses   []string
	AssignedTo string
	Limit      int
}

// TaskTransition is a conditional partial update: it applies Fields only
// when the task is currently in one of From (and, if set, assigned to
// AssignedTo).
type TaskTransition struct {
	TaskID     string
	From       []string
	AssignedTo string
	Fields     Fields
}

// AgentQuery filters agents.
type AgentQuery struct {
	Name          string
	ExcludeStatus string
	Limit         int
}

// ActivityQuery filters activity events, newest last.
type ActivityQuery struct {
	AgentID    string
	TaskID     string
	EventType  string
	EventTypes []string
	// Since keeps events at or after this time.
	Since time.Time
	Limit int
	// Tail selects the newest Limit events instead of the oldest. Results
	// are still returned oldest first.
	Tail bool
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
