package storage

const (
	TableTasks    = "codefleet_tasks"
	TableAgents   = "codefleet_agents"
	TableActivity = "codefleet_activity"
	TableChanges  = "codefleet_changes"

	AgentStatusIdle    = "idle"
	AgentStatusWorking = "working"
	AgentStatusPaused  = "paused"
	AgentStatusOffline = "offline"
	AgentStatusError   = "error"

	TaskStatusPending    = "pending"
	TaskStatusAssigned   = "assigned"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusBlocked    = "blocked"
	TaskStatusCancelled  = "cancelled"

	EventHeartbeat        = "heartbeat"
	EventTaskStarted      = "task_started"
	EventTaskCompleted    = "task_completed"
	EventTaskFailed       = "task_failed"
	EventFileChanged      = "file_changed"
	EventToolCall         = "tool_call"
	EventConflictDetected = "conflict_detected"
	EventAgentStarted     = "agent_started"
	EventAgentStopped     = "agent_stopped"
	EventError            = "error"

	ChangeTypeCreated  = "created"
	ChangeTypeModified = "modified"
	ChangeTypeDeleted  = "deleted"

	ComplexityTrivial = "trivial"
	ComplexitySmall   = "small"
	ComplexityMedium  = "medium"
	ComplexityLarge   = "large"
	ComplexityXL      = "xl"

	AgentTypeClaude   = "claude"
	AgentTypeOpenCode = "opencode"

	MinPriority     = 1
	MaxPriority     = 5
	DefaultPriority = 3
)

// TaskStatuses는 CLI 검증과 상태 요약에 사용되는 전체 Task 상태 목록입니다.
var TaskStatuses = []string{
	TaskStatusPending,
	TaskStatusAssigned,
	TaskStatusInProgress,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusBlocked,
	TaskStatusCancelled,
}

// IsTerminalTaskStatus reports whether no further transition is allowed.
func IsTerminalTaskStatus(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// NormalizeComplexity maps unknown values to medium.
func NormalizeComplexity(c string) string {
	switch c {
	case ComplexityTrivial, ComplexitySmall, ComplexityMedium, ComplexityLarge, ComplexityXL:
		return c
	}
	return ComplexityMedium
}
