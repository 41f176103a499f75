package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cnap-oss/codefleet/internal/controller"
	"github.com/cnap-oss/codefleet/internal/storage"
)

const cmdTimeout = 1 * time.Minute

func buildTaskCommands(a *app) []*cobra.Command {
	var in controller.NewTaskInput
	var labels, fileScope, dependsOn string

	// add-task
	addTaskCmd := &cobra.Command{
		Use:   "add-task",
		Short: "새로운 Task 생성",
		Long:  "pending 상태의 Task를 backlog에 추가합니다.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Labels = storage.ParseStringList(labels)
			in.FileScope = storage.ParseStringList(fileScope)
			in.DependsOn = storage.ParseStringList(dependsOn)
			return runAddTask(cmd.Context(), a, cmd.OutOrStdout(), in)
		},
	}
	addTaskCmd.Flags().StringVarP(&in.Title, "title", "t", "", "Task 제목")
	addTaskCmd.Flags().StringVarP(&in.Description, "description", "d", "", "Task 설명")
	addTaskCmd.Flags().IntVarP(&in.Priority, "priority", "p", storage.DefaultPriority, "우선순위 (1-5)")
	addTaskCmd.Flags().StringVarP(&labels, "labels", "l", "", "콤마로 구분된 label")
	addTaskCmd.Flags().StringVarP(&fileScope, "files", "f", "", "콤마로 구분된 file scope")
	addTaskCmd.Flags().StringVar(&dependsOn, "depends-on", "", "콤마로 구분된 선행 Task ID")
	addTaskCmd.Flags().StringVarP(&in.Complexity, "complexity", "c", storage.ComplexityMedium, "예상 복잡도 (trivial, small, medium, large, xl)")
	_ = addTaskCmd.MarkFlagRequired("title")

	// list-tasks
	var status string
	var limit int
	listTasksCmd := &cobra.Command{
		Use:   "list-tasks",
		Short: "Task 목록 조회",
		Long:  "우선순위 순으로 Task 목록을 조회합니다.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListTasks(cmd.Context(), a, cmd.OutOrStdout(), status, limit)
		},
	}
	listTasksCmd.Flags().StringVarP(&status, "status", "s", "", "상태 필터")
	listTasksCmd.Flags().IntVarP(&limit, "limit", "n", 20, "최대 개수")

	// assign
	var taskID, agentName string
	assignCmd := &cobra.Command{
		Use:   "assign",
		Short: "Task를 Agent에 할당",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssign(cmd.Context(), a, cmd.OutOrStdout(), taskID, agentName)
		},
	}
	assignCmd.Flags().StringVarP(&taskID, "task", "t", "", "Task ID")
	assignCmd.Flags().StringVarP(&agentName, "agent", "a", "", "Agent 이름")
	_ = assignCmd.MarkFlagRequired("task")
	_ = assignCmd.MarkFlagRequired("agent")

	// cancel
	cancelCmd := &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Task 취소",
		Long:  "완료되지 않은 Task를 취소 상태로 변경합니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), a, func(ctx context.Context, ctrl *controller.Controller) error {
				if err := ctrl.CancelTask(ctx, args[0]); err != nil {
					return fmt.Errorf("Task 취소 실패: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Task '%s' 취소 완료\n", args[0])
				return nil
			})
		},
	}

	// status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Fleet 상태 조회",
		Long:  "활성 Agent 목록과 상태별 Task 수를 출력합니다.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), a, cmd.OutOrStdout())
		},
	}

	// reset
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Fleet 상태 초기화",
		Long:  "할당/진행/실패 Task를 pending으로 되돌리고 Agent와 activity 로그를 삭제합니다.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(cmd.Context(), a, cmd.OutOrStdout())
		},
	}

	// migrate
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "DB 스키마 생성/업데이트",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cleanup, err := openRepository(a)
			if err != nil {
				return fmt.Errorf("마이그레이션 실패: %w", err)
			}
			cleanup()
			fmt.Fprintln(cmd.OutOrStdout(), "✓ 마이그레이션 완료")
			return nil
		},
	}

	// import-tasks
	importCmd := &cobra.Command{
		Use:   "import-tasks <file.json>",
		Short: "JSON 파일에서 Task 가져오기",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImportTasks(cmd.Context(), a, cmd.OutOrStdout(), args[0])
		},
	}

	// activity
	var q storage.ActivityQuery
	activityCmd := &cobra.Command{
		Use:   "activity",
		Short: "Activity 로그 조회",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runActivity(cmd.Context(), a, cmd.OutOrStdout(), q)
		},
	}
	activityCmd.Flags().StringVar(&q.AgentID, "agent-id", "", "Agent ID 필터")
	activityCmd.Flags().StringVar(&q.TaskID, "task-id", "", "Task ID 필터")
	activityCmd.Flags().StringVar(&q.EventType, "type", "", "이벤트 타입 필터")
	activityCmd.Flags().IntVarP(&q.Limit, "limit", "n", 50, "최대 개수")

	// version
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "버전 정보 출력",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "codefleet %s (built %s)\n", Version, BuildTime)
		},
	}

	return []*cobra.Command{
		addTaskCmd,
		listTasksCmd,
		assignCmd,
		cancelCmd,
		statusCmd,
		resetCmd,
		migrateCmd,
		importCmd,
		activityCmd,
		versionCmd,
	}
}

// withController는 Controller를 만들어 fn을 실행하고 DB 연결을 정리합니다.
func withController(ctx context.Context, a *app, fn func(context.Context, *controller.Controller) error) error {
	ctx, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()

	repo, cleanup, err := openRepository(a)
	if err != nil {
		return fmt.Errorf("컨트롤러 초기화 실패: %w", err)
	}
	defer cleanup()

	return fn(ctx, controller.NewController(a.logger.Named("controller"), repo))
}

func runAddTask(ctx context.Context, a *app, out io.Writer, in controller.NewTaskInput) error {
	return withController(ctx, a, func(ctx context.Context, ctrl *controller.Controller) error {
		task, err := ctrl.CreateTask(ctx, in)
		if err != nil {
			return fmt.Errorf("Task 생성 실패: %w", err)
		}
		fmt.Fprintf(out, "✓ Task '%s' 생성 완료 (ID: %s, 우선순위: %d)\n", task.Title, task.TaskID, task.Priority)
		return nil
	})
}

func runListTasks(ctx context.Context, a *app, out io.Writer, status string, limit int) error {
	return withController(ctx, a, func(ctx context.Context, ctrl *controller.Controller) error {
		tasks, err := ctrl.ListTasks(ctx, status, limit)
		if err != nil {
			return fmt.Errorf("Task 목록 조회 실패: %w", err)
		}

		if len(tasks) == 0 {
			fmt.Fprintln(out, "등록된 Task가 없습니다.")
			return nil
		}

		// 테이블 형식 출력
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TASK ID\tPRIORITY\tSTATUS\tASSIGNED\tTITLE")
		fmt.Fprintln(w, "-------\t--------\t------\t--------\t-----")

		for _, task := range tasks {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
				shortID(task.TaskID),
				task.Priority,
				task.Status,
				shortID(deref(task.AssignedTo)),
				truncate(task.Title, 50),
			)
		}
		return w.Flush()
	})
}

func runAssign(ctx context.Context, a *app, out io.Writer, taskID, agentName string) error {
	return withController(ctx, a, func(ctx context.Context, ctrl *controller.Controller) error {
		agent, err := ctrl.AssignTask(ctx, taskID, agentName)
		if err != nil {
			return fmt.Errorf("Task 할당 실패: %w", err)
		}
		fmt.Fprintf(out, "✓ Task '%s' → Agent '%s' (%s)\n", taskID, agent.Name, agent.AgentID)
		return nil
	})
}

func runStatus(ctx context.Context, a *app, out io.Writer) error {
	return withController(ctx, a, func(ctx context.Context, ctrl *controller.Controller) error {
		st, err := ctrl.Status(ctx)
		if err != nil {
			return fmt.Errorf("상태 조회 실패: %w", err)
		}

		fmt.Fprintln(out, "=== Agents ===")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tCURRENT TASK\tDONE\tFAILED\tTOKENS\tCOST\tHEARTBEAT")
		for _, agent := range st.Agents {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t$%.2f\t%s\n",
				agent.Name,
				agent.Status,
				shortID(deref(agent.CurrentTaskID)),
				agent.TasksCompleted,
				agent.TasksFailed,
				agent.TotalTokensUsed,
				agent.TotalCostUSD,
				agent.LastHeartbeat.Local().Format("15:04:05"),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if len(st.Agents) == 0 {
			fmt.Fprintln(out, "(활성 Agent 없음)")
		}

		fmt.Fprintln(out, "\n=== Tasks ===")
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, s := range storage.TaskStatuses {
			fmt.Fprintf(w, "%s\t%d\n", s, st.TaskCounts[s])
		}
		return w.Flush()
	})
}

func runReset(ctx context.Context, a *app, out io.Writer) error {
	return withController(ctx, a, func(ctx context.Context, ctrl *controller.Controller) error {
		report, err := ctrl.Reset(ctx)
		if err != nil {
			return fmt.Errorf("초기화 실패: %w", err)
		}
		for _, title := range report.TasksReset {
			fmt.Fprintf(out, "  reset: %s\n", truncate(title, 50))
		}
		for _, name := range report.AgentsDeleted {
			fmt.Fprintf(out, "  deleted agent: %s\n", name)
		}
		fmt.Fprintf(out, "✓ Task %d개 초기화, Agent %d개 삭제, 이벤트 %d개 삭제\n",
			len(report.TasksReset), len(report.AgentsDeleted), report.EventsCleared)
		return nil
	})
}

func runImportTasks(ctx context.Context, a *app, out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("파일 열기 실패: %w", err)
	}
	defer f.Close()

	return withController(ctx, a, func(ctx context.Context, ctrl *controller.Controller) error {
		tasks, err := ctrl.ImportTasks(ctx, f)
		if err != nil {
			return fmt.Errorf("Task 가져오기 실패 (%d개 저장됨): %w", len(tasks), err)
		}
		fmt.Fprintf(out, "✓ Task %d개 가져오기 완료\n", len(tasks))
		return nil
	})
}

func runActivity(ctx context.Context, a *app, out io.Writer, q storage.ActivityQuery) error {
	return withController(ctx, a, func(ctx context.Context, ctrl *controller.Controller) error {
		events, err := ctrl.ListActivity(ctx, q)
		if err != nil {
			return fmt.Errorf("Activity 조회 실패: %w", err)
		}
		if len(events) == 0 {
			fmt.Fprintln(out, "기록된 이벤트가 없습니다.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tAGENT\tTASK\tTYPE\tMESSAGE")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
				shortID(ev.AgentID),
				shortID(deref(ev.TaskID)),
				ev.EventType,
				truncate(ev.Message, 60),
			)
		}
		return w.Flush()
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
