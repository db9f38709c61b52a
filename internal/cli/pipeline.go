package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для просмотра pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect pipelines",
	}

	cmd.AddCommand(
		newPipelineListCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
		newPipelineSchemaCmd(clientFn, outputFn),
	)

	return cmd
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipelines, err := client.ListPipelines()
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "TASKS", "TRIGGERS", "NEXT_FIRE"}
			rows := make([][]string, len(pipelines))
			for i, p := range pipelines {
				rows[i] = []string{
					p.ID,
					p.Name,
					strconv.Itoa(len(p.Tasks)),
					strconv.Itoa(len(p.Triggers)),
					orDash(nextFire(p.Triggers)),
				}
			}

			out.Print(headers, rows, pipelines)
			return nil
		},
	}
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show pipeline tasks and triggers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.GetPipeline(args[0])
			if err != nil {
				return err
			}

			if out.IsJSON() {
				out.JSON(p)
				return nil
			}

			out.Line(fmt.Sprintf("%s (%s)", p.Name, p.ID))
			if p.Description != "" {
				out.Line(p.Description)
			}
			out.Line("")

			taskRows := make([][]string, len(p.Tasks))
			for i, t := range p.Tasks {
				taskRows[i] = []string{strconv.Itoa(i + 1), t.ID, orDash(t.Timeout)}
			}
			out.Table([]string{"#", "TASK", "TIMEOUT"}, taskRows)

			if len(p.Triggers) > 0 {
				out.Line("")
				out.Table(triggerHeaders, triggerRows(p.Triggers))
			}
			return nil
		},
	}
}

func newPipelineSchemaCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "schema ID",
		Short: "Show pipeline input schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := clientFn().GetInputSchema(args[0])
			if err != nil {
				return err
			}

			outputFn().JSON(schema)
			return nil
		},
	}
}

// --- Helpers ---

var triggerHeaders = []string{"TRIGGER", "SCHEDULE", "NEXT_FIRE"}

func triggerRows(triggers []TriggerResponse) [][]string {
	rows := make([][]string, len(triggers))
	for i, t := range triggers {
		rows[i] = []string{t.ID, describeSchedule(t.Schedule), orDash(t.NextFireTime)}
	}
	return rows
}

// describeSchedule возвращает короткое описание расписания.
func describeSchedule(s ScheduleResponse) string {
	var desc string
	switch s.Kind {
	case "cron":
		desc = "cron " + s.Cron
	case "interval":
		parts := make([]string, 0, 4)
		for _, unit := range []string{"days", "hours", "minutes", "seconds"} {
			if n := s.Interval[unit]; n != 0 {
				parts = append(parts, fmt.Sprintf("%d %s", n, unit))
			}
		}
		desc = "every " + strings.Join(parts, " ")
	default:
		return "manual"
	}

	if s.Timezone != "" {
		desc += " (" + s.Timezone + ")"
	}
	return desc
}

// nextFire возвращает ближайшее срабатывание среди triggers.
func nextFire(triggers []TriggerResponse) string {
	var (
		next    time.Time
		nextStr string
	)
	for _, t := range triggers {
		at, err := time.Parse(time.RFC3339, t.NextFireTime)
		if err != nil {
			continue
		}
		if nextStr == "" || at.Before(next) {
			next, nextStr = at, t.NextFireTime
		}
	}
	return nextStr
}
