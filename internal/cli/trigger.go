package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// NewTriggerCmd создаёт группу команд для triggers.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Inspect and fire triggers",
	}

	cmd.AddCommand(
		newTriggerListCmd(clientFn, outputFn),
		newTriggerRunCmd(clientFn, outputFn),
	)

	return cmd
}

func newTriggerListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list PIPELINE_ID",
		Short: "List pipeline triggers with next fire times",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := clientFn().GetPipeline(args[0])
			if err != nil {
				return err
			}

			outputFn().Print(triggerHeaders, triggerRows(p.Triggers), p.Triggers)
			return nil
		},
	}
}

func newTriggerRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var params paramFlags
	var wait bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "run PIPELINE_ID TRIGGER_ID",
		Short: "Run a pipeline with a trigger's params",
		Long:  "Run a pipeline on behalf of a trigger. Trigger params are used, --param values override them.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := params.build()
			if err != nil {
				return err
			}

			client := clientFn()
			run, err := client.RunTrigger(args[0], args[1], RunRequest{Params: p})
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
