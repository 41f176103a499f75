package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cnap-oss/codefleet/internal/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// app은 명령어들이 공유하는 설정과 logger입니다.
type app struct {
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

func main() {
	a := &app{}
	err := newRootCmd(a).Execute()
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "codefleet",
		Short:        "CodeFleet 에이전트 fleet 관리 도구",
		Long:         "Task backlog를 관리하고 코딩 에이전트 Runner fleet을 실행합니다.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("CODEFLEET_CONFIG"), "YAML 설정 파일 경로")

	rootCmd.AddCommand(buildFleetCommands(a)...)
	rootCmd.AddCommand(buildTaskCommands(a)...)
	return rootCmd
}

// load는 설정을 로드하고 logger를 초기화합니다.
func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.logger == nil {
		logger, err := initLogger(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.logger = logger
	}
	a.logger.Debug("Configuration loaded",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("env", cfg.Env),
		zap.String("executor", cfg.Executor),
	)
	return nil
}

// initLogger는 zap logger를 초기화합니다.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Env == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	// 설정된 log level이 있으면 적용
	if cfg.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err == nil {
			zcfg.Level = level
		}
	}

	return zcfg.Build()
}
