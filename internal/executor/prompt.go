package executor

import (
	"strings"

	"github.com/cnap-oss/codefleet/internal/storage"
)

// BuildPrompt는 Task를 에이전트 세션에 전달할 프롬프트로 변환합니다.
func BuildPrompt(task *storage.Task) string {
	var b strings.Builder
	b.WriteString("You are working on the following task for the CodeFleet system:\n\n")
	b.WriteString("**Title:** " + task.Title + "\n\n")
	b.WriteString("**Description:** " + task.Description)
	if len(task.FileScope) > 0 {
		b.WriteString("\n\n**File scope:** " + strings.Join(task.FileScope, ", "))
	}
	if len(task.Labels) > 0 {
		b.WriteString("\n\n**Labels:** " + strings.Join(task.Labels, ", "))
	}
	b.WriteString("\n\nComplete this task. When done, provide a brief summary of what you did.")
	return b.String()
}
