// Package executor는 Runner가 사용하는 실제 Task 실행기를 제공합니다.
package executor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cnap-oss/codefleet/internal/runner"
	"github.com/cnap-oss/codefleet/internal/storage"
)

// Config selects and configures an executor.
type Config struct {
	Kind     string // storage.AgentTypeClaude or storage.AgentTypeOpenCode
	Model    string
	MaxTurns int
	WorkDir  string

	ClaudeBin string

	OpenCodeURL    string
	OpenCodeAPIKey string
}

// New는 cfg.Kind에 맞는 Executor를 생성합니다.
func New(cfg Config, logger *zap.Logger) (runner.Executor, error) {
	switch cfg.Kind {
	case "", storage.AgentTypeClaude:
		return NewClaudeCLI(ClaudeConfig{
			Bin:      cfg.ClaudeBin,
			Model:    cfg.Model,
			MaxTurns: cfg.MaxTurns,
			WorkDir:  cfg.WorkDir,
		}, logger), nil
	case storage.AgentTypeOpenCode:
		return NewOpenCode(OpenCodeConfig{
			URL:    cfg.OpenCodeURL,
			APIKey: cfg.OpenCodeAPIKey,
			Model:  cfg.Model,
		}, logger), nil
	}
	return nil, fmt.Errorf("executor: unknown kind %q", cfg.Kind)
}
