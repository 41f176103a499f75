// Package config는 CodeFleet 설정을 로드합니다.
//
// 우선순위: 기본값 → YAML 파일(선택) → .env → 환경 변수.
// .env는 이미 설정된 환경 변수를 덮어쓰지 않습니다.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cnap-oss/codefleet/internal/connector"
	"github.com/cnap-oss/codefleet/internal/executor"
	"github.com/cnap-oss/codefleet/internal/runner"
	"github.com/cnap-oss/codefleet/internal/storage"
	"github.com/cnap-oss/codefleet/internal/supervisor"
)

// EnvFile is the dotenv file read by Load from the working directory.
const EnvFile = ".env"

// Config is the resolved CodeFleet configuration.
type Config struct {
	Env         string `yaml:"env"`
	LogLevel    string `yaml:"log_level"`
	DatabaseDSN string `yaml:"database_dsn"`

	PollInterval      Duration `yaml:"poll_interval"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	RestartBackoff    Duration `yaml:"restart_backoff"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`

	Runners    int `yaml:"runners"`
	MaxRunners int `yaml:"max_runners"`

	WorkDir   string `yaml:"workdir"`
	Executor  string `yaml:"executor"`
	Model     string `yaml:"model"`
	MaxTurns  int    `yaml:"max_turns"`
	ClaudeBin string `yaml:"claude_bin"`

	Capabilities []string `yaml:"capabilities"`

	OpenCodeAPIKey string `yaml:"opencode_api_key"`
	OpenCodeURL    string `yaml:"opencode_url"`

	// Discord 알림은 토큰과 채널이 모두 있을 때만 켜집니다.
	DiscordToken     string `yaml:"discord_token"`
	DiscordChannelID string `yaml:"discord_channel_id"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Env:               "development",
		LogLevel:          "info",
		DatabaseDSN:       "codefleet.db",
		PollInterval:      Duration(runner.DefaultPollInterval),
		HeartbeatInterval: Duration(runner.DefaultHeartbeatInterval),
		RestartBackoff:    Duration(supervisor.DefaultRestartBackoff),
		ShutdownTimeout:   Duration(supervisor.DefaultShutdownTimeout),
		Runners:           supervisor.DefaultRunners,
		MaxRunners:        supervisor.DefaultMaxRunners,
		WorkDir:           ".",
		Executor:          storage.AgentTypeClaude,
		Model:             "sonnet",
		MaxTurns:          50,
		ClaudeBin:         "claude",
		OpenCodeURL:       executor.DefaultOpenCodeURL,
	}
}

// Load는 설정을 로드하고 검증합니다. path가 비어 있으면 YAML 파일을 건너뜁니다.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", EnvFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Env, "ENV")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogLevel, "CODEFLEET_LOG_LEVEL")
	setString(&c.DatabaseDSN, "CODEFLEET_DATABASE_DSN")
	setString(&c.WorkDir, "CODEFLEET_WORKDIR")
	setString(&c.Executor, "CODEFLEET_EXECUTOR")
	setString(&c.Model, "CODEFLEET_MODEL")
	setString(&c.ClaudeBin, "CODEFLEET_CLAUDE_BIN")
	setString(&c.OpenCodeAPIKey, "OPEN_CODE_API_KEY")
	setString(&c.OpenCodeURL, "CODEFLEET_OPENCODE_URL")
	setString(&c.DiscordToken, "DISCORD_TOKEN")
	setString(&c.DiscordChannelID, "DISCORD_CHANNEL_ID")
	if v, ok := os.LookupEnv("CODEFLEET_CAPABILITIES"); ok {
		c.Capabilities = storage.ParseStringList(v)
	}

	var errs []error
	errs = append(errs,
		setDuration(&c.PollInterval, "CODEFLEET_POLL_INTERVAL"),
		setDuration(&c.HeartbeatInterval, "CODEFLEET_HEARTBEAT_INTERVAL"),
		setDuration(&c.RestartBackoff, "CODEFLEET_RESTART_BACKOFF"),
		setDuration(&c.ShutdownTimeout, "CODEFLEET_SHUTDOWN_TIMEOUT"),
		setInt(&c.Runners, "CODEFLEET_RUNNERS"),
		setInt(&c.MaxRunners, "CODEFLEET_MAX_RUNNERS"),
		setInt(&c.MaxTurns, "CODEFLEET_MAX_TURNS"),
	)
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("config: %s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func setDuration(dst *Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

// Validate rejects values the fleet cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseDSN == "" {
		errs = append(errs, fmt.Errorf("config: database_dsn is empty"))
	}
	for name, d := range map[string]Duration{
		"poll_interval":      c.PollInterval,
		"heartbeat_interval": c.HeartbeatInterval,
		"restart_backoff":    c.RestartBackoff,
		"shutdown_timeout":   c.ShutdownTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("config: %s must be positive, got %s", name, d))
		}
	}
	if c.Runners <= 0 {
		errs = append(errs, fmt.Errorf("config: runners must be positive, got %d", c.Runners))
	}
	if c.MaxRunners <= 0 {
		errs = append(errs, fmt.Errorf("config: max_runners must be positive, got %d", c.MaxRunners))
	}
	if c.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("config: max_turns must be positive, got %d", c.MaxTurns))
	}
	switch c.Executor {
	case storage.AgentTypeClaude, storage.AgentTypeOpenCode:
	default:
		errs = append(errs, fmt.Errorf("config: unknown executor %q", c.Executor))
	}
	return errors.Join(errs...)
}

// StorageConfig returns the database settings.
func (c *Config) StorageConfig() storage.Config {
	return storage.DefaultConfig(c.DatabaseDSN)
}

// ExecutorConfig returns the executor settings.
func (c *Config) ExecutorConfig() executor.Config {
	return executor.Config{
		Kind:           c.Executor,
		Model:          c.Model,
		MaxTurns:       c.MaxTurns,
		WorkDir:        c.WorkDir,
		ClaudeBin:      c.ClaudeBin,
		OpenCodeURL:    c.OpenCodeURL,
		OpenCodeAPIKey: c.OpenCodeAPIKey,
	}
}

// RunnerConfig returns the settings for the runner called name.
func (c *Config) RunnerConfig(name string) runner.Config {
	return runner.Config{
		Name:              name,
		Type:              c.Executor,
		Capabilities:      append([]string(nil), c.Capabilities...),
		WorktreePath:      c.WorkDir,
		PollInterval:      c.PollInterval.Std(),
		HeartbeatInterval: c.HeartbeatInterval.Std(),
	}
}

// NotificationsEnabled reports whether fleet events are relayed to Discord.
func (c *Config) NotificationsEnabled() bool {
	return c.DiscordToken != "" && c.DiscordChannelID != ""
}

// ConnectorConfig returns the Discord relay settings.
func (c *Config) ConnectorConfig() connector.Config {
	return connector.Config{Interval: c.PollInterval.Std()}
}

// SupervisorConfig returns the fleet settings.
func (c *Config) SupervisorConfig() supervisor.Config {
	return supervisor.Config{
		Runners:         c.Runners,
		MaxRunners:      c.MaxRunners,
		RestartBackoff:  c.RestartBackoff.Std(),
		ShutdownTimeout: c.ShutdownTimeout.Std(),
	}
}

// Duration is a time.Duration that also accepts a bare number of seconds.
type Duration time.Duration

// ParseDuration parses "30s"-style durations or integer seconds.
func ParseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return Duration(time.Duration(n) * time.Second), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return Duration(d), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("config: line %d: duration must be a scalar", node.Line)
	}
	v, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("config: line %d: %w", node.Line, err)
	}
	*d = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}
