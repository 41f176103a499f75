package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/cnap-oss/codefleet/internal/runner"
	"github.com/cnap-oss/codefleet/internal/storage"
)

// DefaultOpenCodeURL은 OpenCode Zen chat/completions 엔드포인트입니다.
const DefaultOpenCodeURL = "https://opencode.ai/zen/v1/chat/completions"

// OpenCodeConfig configures the OpenCode chat-completions executor.
type OpenCodeConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration

	// MaxRetries bounds retries on transport errors and 5xx responses.
	MaxRetries      uint64
	InitialInterval time.Duration
}

// OpenCode는 OpenAI 호환 chat/completions API로 Task 프롬프트를 전송합니다.
type OpenCode struct {
	cfg    OpenCodeConfig
	client *http.Client
	logger *zap.Logger
}

// OpenCodeRequest는 OpenCode Zen API 요청 바디입니다.
type OpenCodeRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
}

// ChatMessage는 OpenCode Zen API 요청 바디의 messages 필드입니다.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenCodeResponse는 OpenCode Zen API 응답 바디입니다.
type OpenCodeResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenCode는 OpenCode executor를 생성합니다.
func NewOpenCode(cfg OpenCodeConfig, logger *zap.Logger) *OpenCode {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		cfg.URL = DefaultOpenCodeURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.APIKey == "" {
		logger.Warn("OPEN_CODE_API_KEY가 설정되어 있지 않습니다 (opencode executor 사용 시 필요)")
	}
	return &OpenCode{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

var _ runner.Executor = (*OpenCode)(nil)

// Execute implements runner.Executor.
func (o *OpenCode) Execute(ctx context.Context, task *storage.Task) (*runner.TaskResult, error) {
	if o.cfg.APIKey == "" {
		return nil, fmt.Errorf("executor: OPEN_CODE_API_KEY가 설정되어 있지 않아 실행할 수 없습니다")
	}

	prompt := BuildPrompt(task)
	o.logger.Info("Sending request to OpenCode Zen API (Chat Completions endpoint)",
		zap.String("model", o.cfg.Model),
		zap.String("task_id", task.TaskID),
		zap.String("prompt_preview", summarizeBody([]byte(prompt))),
	)

	body, err := json.Marshal(OpenCodeRequest{
		Model:    o.cfg.Model,
		Messages: []ChatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("executor: 요청 바디 직렬화 실패: %w", err)
	}

	start := time.Now()
	var apiResp OpenCodeResponse
	operation := func() error {
		resp, err := o.send(ctx, body)
		if err != nil {
			return err
		}
		apiResp = *resp
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.cfg.InitialInterval
	policy.MaxInterval = 10 * time.Second
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, o.cfg.MaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		o.logger.Warn("OpenCode request failed, retrying",
			zap.String("task_id", task.TaskID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(operation, retry, notify); err != nil {
		return nil, fmt.Errorf("executor: opencode: %w", err)
	}

	output := "(empty result)"
	if len(apiResp.Choices) > 0 {
		output = apiResp.Choices[0].Message.Content
	}
	result := &runner.TaskResult{
		Success:    true,
		Summary:    output,
		DurationMS: time.Since(start).Milliseconds(),
		SessionID:  apiResp.ID,
	}
	if apiResp.Usage != nil {
		result.TokensUsed = apiResp.Usage.TotalTokens
	}

	o.logger.Info("OpenCode 응답 수신 완료",
		zap.String("task_id", task.TaskID),
		zap.String("output_preview", summarizeBody([]byte(output))),
		zap.Int64("tokens", result.TokensUsed),
	)
	return result, nil
}

// send performs one request. Errors that retrying cannot fix are wrapped
// with backoff.Permanent.
func (o *OpenCode) send(ctx context.Context, body []byte) (*OpenCodeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("요청 생성 실패: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("API 요청 실패: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("응답 읽기 실패: %w", err)
	}

	o.logger.Debug("Response received",
		zap.String("content_type", resp.Header.Get("Content-Type")),
		zap.String("body_preview", summarizeBody(bodyBytes)),
	)

	if resp.StatusCode/100 != 2 {
		err := &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: summarizeBody(bodyBytes)}
		if err.Temporary() {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var apiResp OpenCodeResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("응답 파싱 실패: %w", err))
	}
	if apiResp.Error != nil {
		return nil, backoff.Permanent(fmt.Errorf("API 에러: %s - %s", apiResp.Error.Type, apiResp.Error.Message))
	}
	return &apiResp, nil
}

// StatusError is a non-2xx API response.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API 응답 오류: %s - %s", e.Status, e.Body)
}

// Temporary reports whether the request may succeed on retry.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// IsStatus reports whether err carries an API response with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func summarizeBody(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "<empty>"
	}
	if len(trimmed) > 200 {
		return trimmed[:200] + "..."
	}
	return trimmed
}
