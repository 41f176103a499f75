package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cnap-oss/codefleet/internal/connector"
	"github.com/cnap-oss/codefleet/internal/executor"
	"github.com/cnap-oss/codefleet/internal/runner"
	"github.com/cnap-oss/codefleet/internal/storage"
	"github.com/cnap-oss/codefleet/internal/supervisor"
)

func buildFleetCommands(a *app) []*cobra.Command {
	var (
		runners int
		workdir string
		name    string
	)

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Runner fleet 실행",
		Long:  "Supervisor가 Runner들을 띄우고 SIGINT/SIGTERM을 받을 때까지 Task를 처리합니다.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runners > 0 {
				a.cfg.Runners = runners
			}
			if workdir != "" {
				a.cfg.WorkDir = workdir
			}
			return runStart(cmd.Context(), a)
		},
	}
	startCmd.Flags().IntVarP(&runners, "runners", "n", 0, "실행할 Runner 수 (기본값: 설정)")
	startCmd.Flags().StringVarP(&workdir, "workdir", "w", "", "작업 디렉토리")

	runSingleCmd := &cobra.Command{
		Use:   "run-single",
		Short: "Runner 하나 실행",
		Long:  "Supervisor 없이 Runner 하나를 실행합니다. 종료 시그널을 받으면 진행 중인 Task를 마치고 offline으로 전환합니다.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if workdir != "" {
				a.cfg.WorkDir = workdir
			}
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			return runSingle(cmd.Context(), a, name, sigCh)
		},
	}
	runSingleCmd.Flags().StringVar(&name, "name", "runner-1", "Runner(Agent) 이름")
	runSingleCmd.Flags().StringVarP(&workdir, "workdir", "w", "", "작업 디렉토리")

	return []*cobra.Command{startCmd, runSingleCmd}
}

// openRepository는 DB에 연결하고 스키마를 마이그레이션합니다.
func openRepository(a *app) (*storage.Repository, func(), error) {
	db, err := storage.Open(a.cfg.StorageConfig())
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := storage.Close(db); err != nil {
			a.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
	if err := storage.AutoMigrate(db); err != nil {
		cleanup()
		return nil, nil, err
	}
	repo, err := storage.NewRepository(db)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return repo, cleanup, nil
}

func newRunnerFactory(a *app, repo *storage.Repository) (supervisor.Factory, error) {
	exec, err := executor.New(a.cfg.ExecutorConfig(), a.logger.Named("executor"))
	if err != nil {
		return nil, err
	}
	return func(name string) (supervisor.Worker, error) {
		r, err := runner.New(a.cfg.RunnerConfig(name), repo, exec, a.logger.Named(name))
		if err != nil {
			return nil, err
		}
		return r, nil
	}, nil
}

func runStart(ctx context.Context, a *app, opts ...supervisor.Option) error {
	repo, cleanup, err := openRepository(a)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	factory, err := newRunnerFactory(a, repo)
	if err != nil {
		return err
	}
	sup, err := supervisor.New(a.cfg.SupervisorConfig(), factory, a.logger.Named("supervisor"), opts...)
	if err != nil {
		return err
	}

	if a.cfg.NotificationsEnabled() {
		stopRelay, err := startRelay(ctx, a, repo)
		if err != nil {
			return err
		}
		defer stopRelay()
	}

	a.logger.Info("Starting fleet",
		zap.String("version", Version),
		zap.Int("runners", a.cfg.Runners),
		zap.String("workdir", a.cfg.WorkDir),
	)
	return sup.Start(ctx)
}

// startRelay는 Discord 알림 relay를 백그라운드로 실행하고 정지 함수를 반환합니다.
func startRelay(ctx context.Context, a *app, repo *storage.Repository) (func(), error) {
	session, err := connector.OpenSession(a.cfg.DiscordToken, a.cfg.DiscordChannelID, a.logger.Named("discord"))
	if err != nil {
		return nil, fmt.Errorf("Discord 연결 실패: %w", err)
	}
	relay, err := connector.NewServer(a.cfg.ConnectorConfig(), repo, session.Post, a.logger.Named("connector"))
	if err != nil {
		_ = session.Close()
		return nil, err
	}

	relayCtx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error { return relay.Start(relayCtx) })

	return func() {
		cancel()
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("Connector stopped with error", zap.Error(err))
		}
		if err := session.Close(); err != nil {
			a.logger.Warn("Failed to close Discord session", zap.Error(err))
		}
	}, nil
}

// runSingle은 Runner 하나를 실행하고 sigCh 수신 시 정상 종료합니다.
func runSingle(ctx context.Context, a *app, name string, sigCh <-chan os.Signal) error {
	repo, cleanup, err := openRepository(a)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	factory, err := newRunnerFactory(a, repo)
	if err != nil {
		return err
	}
	w, err := factory(name)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case sig := <-sigCh:
			a.logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
			w.Stop()
		case <-done:
		}
	}()

	runErr := w.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout.Std())
	defer cancel()
	w.Shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	a.logger.Info("Runner stopped gracefully", zap.String("name", name))
	return nil
}
