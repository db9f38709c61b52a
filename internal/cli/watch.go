package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewWatchCmd создаёт команду live-просмотра событий.
func NewWatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts WatchOpts
	var untilDone bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live run events",
		Long:  "Stream run status changes, task results and logs as they happen. Only events after connecting are shown.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if untilDone && opts.RunID == 0 {
				return fmt.Errorf("--until-done requires --run")
			}

			out := outputFn()
			out.Success("Watching events, press Ctrl+C to stop")

			return clientFn().WatchEvents(cmd.Context(), opts, func(e EventResponse) error {
				if out.IsJSON() {
					out.JSON(e)
				} else {
					out.Line(formatEvent(e))
				}

				if untilDone && e.Type == "run_update" && e.Run != nil &&
					(e.Run.Status == "completed" || e.Run.Status == "failed") {
					return errStopWatch
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&opts.RunID, "run", 0, "Only events of this run")
	cmd.Flags().StringVar(&opts.PipelineID, "pipeline", "", "Only events of this pipeline")
	cmd.Flags().BoolVar(&untilDone, "until-done", false, "Exit when the watched run finishes")

	return cmd
}

// formatEvent возвращает однострочное представление события.
func formatEvent(e EventResponse) string {
	at := e.At
	if t, err := time.Parse(time.RFC3339Nano, e.At); err == nil {
		at = t.Local().Format("15:04:05")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s run=%d %s", at, e.RunID, e.PipelineID)

	switch {
	case e.Run != nil:
		fmt.Fprintf(&b, " status=%s", e.Run.Status)
		if e.Run.Error != "" {
			fmt.Fprintf(&b, " error=%q", e.Run.Error)
		}
	case e.Log != nil:
		fmt.Fprintf(&b, " [%s] %s: %s", e.Log.Level, e.TaskID, e.Log.Message)
	case e.Task != nil:
		fmt.Fprintf(&b, " task=%s status=%s", e.TaskID, e.Task.Status)
	default:
		fmt.Fprintf(&b, " %s", e.Type)
	}

	return b.String()
}
