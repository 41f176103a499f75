package executor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cnap-oss/codefleet/internal/runner"
	"github.com/cnap-oss/codefleet/internal/storage"
)

// DefaultAllowedTools는 Claude 세션에 허용되는 도구 목록입니다.
var DefaultAllowedTools = []string{"Read", "Edit", "Write", "Bash", "Glob", "Grep"}

const defaultPermissionMode = "bypassPermissions"

// ClaudeConfig configures the Claude Code CLI executor.
type ClaudeConfig struct {
	Bin            string
	Model          string
	MaxTurns       int
	WorkDir        string
	AllowedTools   []string
	PermissionMode string
}

// ClaudeCLI는 Task마다 `claude -p` 프로세스를 하나 실행합니다.
// 변경된 파일은 실행 전후의 `git status --porcelain` 결과를 비교해 구합니다.
type ClaudeCLI struct {
	cfg    ClaudeConfig
	logger *zap.Logger
}

// claudeResult is the JSON document printed by `claude -p --output-format json`.
type claudeResult struct {
	Type         string  `json:"type"`
	Subtype      string  `json:"subtype"`
	IsError      bool    `json:"is_error"`
	Result       string  `json:"result"`
	SessionID    string  `json:"session_id"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	DurationMS   int64   `json:"duration_ms"`
	NumTurns     int     `json:"num_turns"`
	Usage        struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// NewClaudeCLI creates a ClaudeCLI with defaults filled in.
func NewClaudeCLI(cfg ClaudeConfig, logger *zap.Logger) *ClaudeCLI {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bin == "" {
		cfg.Bin = "claude"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = "."
	}
	if len(cfg.AllowedTools) == 0 {
		cfg.AllowedTools = DefaultAllowedTools
	}
	if cfg.PermissionMode == "" {
		cfg.PermissionMode = defaultPermissionMode
	}
	return &ClaudeCLI{cfg: cfg, logger: logger}
}

var _ runner.Executor = (*ClaudeCLI)(nil)

// Execute implements runner.Executor.
func (c *ClaudeCLI) Execute(ctx context.Context, task *storage.Task) (*runner.TaskResult, error) {
	prompt := BuildPrompt(task)

	before, err := gitStatus(ctx, c.cfg.WorkDir)
	if err != nil {
		c.logger.Debug("git status unavailable, file changes will not be tracked",
			zap.String("workdir", c.cfg.WorkDir), zap.Error(err))
	}

	c.logger.Info("Starting claude session",
		zap.String("task_id", task.TaskID),
		zap.String("model", c.cfg.Model),
		zap.String("workdir", c.cfg.WorkDir),
	)

	start := time.Now()
	cmd := newCommand(ctx, c.cfg.Bin, c.buildArgs(prompt)...)
	cmd.Dir = c.cfg.WorkDir
	stdout, stderr, runErr := executeCommand(cmd)
	elapsed := time.Since(start).Milliseconds()

	var files []string
	if before != nil {
		after, err := gitStatus(ctx, c.cfg.WorkDir)
		if err != nil {
			c.logger.Warn("git status failed after session", zap.Error(err))
		} else {
			files = diffPorcelain(before, after)
		}
	}

	if runErr != nil {
		return &runner.TaskResult{FilesChanged: files, DurationMS: elapsed},
			fmt.Errorf("executor: claude session: %w", runErr)
	}

	res, err := parseClaudeResult(stdout)
	if err != nil {
		return &runner.TaskResult{FilesChanged: files, DurationMS: elapsed},
			fmt.Errorf("executor: parse claude output: %w (stderr: %s)", err, summarizeBody(stderr))
	}

	out := &runner.TaskResult{
		Success:      !res.IsError,
		Summary:      res.Result,
		FilesChanged: files,
		TokensUsed:   res.Usage.InputTokens + res.Usage.OutputTokens,
		CostUSD:      res.TotalCostUSD,
		DurationMS:   res.DurationMS,
		SessionID:    res.SessionID,
	}
	if out.DurationMS == 0 {
		out.DurationMS = elapsed
	}
	if res.IsError {
		if out.Summary == "" {
			out.Summary = "Session ended with error"
		}
		out.Error = out.Summary
	} else if out.Summary == "" {
		out.Summary = "Task completed"
	}

	c.logger.Info("Claude session finished",
		zap.String("task_id", task.TaskID),
		zap.String("session_id", res.SessionID),
		zap.Bool("is_error", res.IsError),
		zap.Int("files_changed", len(files)),
		zap.Float64("cost_usd", res.TotalCostUSD),
	)
	return out, nil
}

func (c *ClaudeCLI) buildArgs(prompt string) []string {
	args := []string{"-p", prompt, "--output-format", "json"}
	if c.cfg.Model != "" {
		args = append(args, "--model", c.cfg.Model)
	}
	if c.cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(c.cfg.MaxTurns))
	}
	args = append(args,
		"--permission-mode", c.cfg.PermissionMode,
		"--allowedTools", strings.Join(c.cfg.AllowedTools, ","),
	)
	return args
}

func parseClaudeResult(data []byte) (*claudeResult, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty output")
	}
	var res claudeResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	return &res, nil
}

// gitStatus returns `git status --porcelain` keyed by path.
func gitStatus(ctx context.Context, dir string) (map[string]string, error) {
	cmd := newCommand(ctx, "git", "status", "--porcelain", "--untracked-files=all")
	cmd.Dir = dir
	stdout, _, err := executeCommand(cmd)
	if err != nil {
		return nil, err
	}
	return parsePorcelain(stdout), nil
}

func parsePorcelain(out []byte) map[string]string {
	entries := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+len(" -> "):]
		}
		path = strings.Trim(path, `"`)
		if path != "" {
			entries[path] = line[:2]
		}
	}
	return entries
}

// diffPorcelain lists paths whose status appeared, changed or disappeared
// between two snapshots, sorted.
func diffPorcelain(before, after map[string]string) []string {
	seen := make(map[string]struct{})
	for path, st := range after {
		if prev, ok := before[path]; !ok || prev != st {
			seen[path] = struct{}{}
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			seen[path] = struct{}{}
		}
	}
	files := make([]string, 0, len(seen))
	for path := range seen {
		files = append(files, path)
	}
	sort.Strings(files)
	return files
}
