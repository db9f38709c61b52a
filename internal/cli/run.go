package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunStartCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunLogsCmd(clientFn, outputFn),
		newRunDataCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs (newest first)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "PIPELINE", "TRIGGER", "STATUS", "DURATION", "CREATED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					strconv.FormatInt(r.ID, 10),
					r.PipelineID,
					orDash(r.TriggerID),
					r.Status,
					formatDuration(r.DurationMs),
					r.CreatedAt,
				}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.PipelineID, "pipeline", "", "Filter by pipeline ID")
	cmd.Flags().StringVar(&opts.TriggerID, "trigger", "", "Filter by trigger ID")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunStartCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var params paramFlags
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "start PIPELINE_ID",
		Short: "Run a pipeline manually",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := params.build()
			if err != nil {
				return err
			}

			client := clientFn()
			run, err := client.RunPipeline(args[0], RunRequest{Params: p})
			if err != nil {
				return err
			}

			return reportRun(cmd.Context(), client, outputFn(), run, wait, timeout)
		},
	}

	params.register(cmd)
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the run to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details and task statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			run, err := clientFn().GetRun(id)
			if err != nil {
				return err
			}

			printRun(outputFn(), run)
			return nil
		},
	}
}

func newRunLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "logs ID",
		Short: "Print run logs as JSON Lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			return clientFn().GetRunLogs(id, outputFn().Writer())
		},
	}
}

func newRunDataCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "data ID TASK_ID",
		Short: "Print the data produced by a task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if err := clientFn().GetTaskData(id, args[1], out.Writer()); err != nil {
				return err
			}
			out.Line("")
			return nil
		},
	}
}

// --- Helpers ---

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run ID %q", s)
	}
	return id, nil
}

// reportRun печатает запущенный run и при wait дожидается его завершения.
func reportRun(ctx context.Context, client *Client, out *Output, run *RunResponse, wait bool, timeout time.Duration) error {
	out.Success(fmt.Sprintf("Run started: %d", run.ID))

	if wait {
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		finished, err := client.WaitRun(ctx, run.ID, 500*time.Millisecond)
		if err != nil {
			return err
		}
		run = finished
	}

	printRun(out, run)

	if wait && run.Status == "failed" {
		return fmt.Errorf("run %d failed: %s", run.ID, run.Error)
	}
	return nil
}

func printRun(out *Output, run *RunResponse) {
	if out.IsJSON() {
		out.JSON(run)
		return
	}

	out.Table(
		[]string{"ID", "PIPELINE", "TRIGGER", "STATUS", "DURATION", "ERROR"},
		[][]string{{
			strconv.FormatInt(run.ID, 10),
			run.PipelineID,
			orDash(run.TriggerID),
			run.Status,
			formatDuration(run.DurationMs),
			orDash(run.Error),
		}},
	)

	if len(run.Tasks) == 0 {
		return
	}

	rows := make([][]string, len(run.Tasks))
	for i, t := range run.Tasks {
		errMsg := ""
		if t.Error != nil {
			errMsg = t.Error.Message
		}
		rows[i] = []string{t.TaskID, t.Status, strconv.FormatBool(t.HasData), formatDuration(t.DurationMs), orDash(errMsg)}
	}

	out.Line("")
	out.Table([]string{"TASK", "STATUS", "DATA", "DURATION", "ERROR"}, rows)
}
