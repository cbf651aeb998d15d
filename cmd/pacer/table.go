package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/vnykmshr/pacer/internal/threat"
	"github.com/vnykmshr/pacer/pkg/coordinator"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	return d.Round(time.Millisecond).String()
}

func renderReport(r coordinator.Report) string {
	rows := make([][]string, 0, len(r.Stages)+1)
	if r.FailedStage == coordinator.ProducerStage {
		rows = append(rows, []string{coordinator.ProducerStage, "failed", "", errString(r.Err)})
	}
	for _, s := range r.Stages {
		rows = append(rows, []string{s.Stage, s.Outcome.String(), formatDuration(s.Duration), errString(s.Err)})
	}

	var b strings.Builder
	if r.PipelineID != "" {
		fmt.Fprintf(&b, "Pipeline: %s\n", r.PipelineID)
	}
	b.WriteString(renderTable(
		[]string{"Stage", "Outcome", "Duration", "Error"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
	))
	if r.OK {
		fmt.Fprintf(&b, "\nPipeline completed in %s", formatDuration(r.Duration))
	} else {
		fmt.Fprintf(&b, "\nPipeline failed at %s", r.FailedStage)
	}
	return b.String()
}

func renderRemediation(rem threat.Remediation) string {
	ev := rem.OriginalAnalysis.OriginalThreat
	rows := [][]string{
		{"Threat", fmt.Sprintf("%s (%s)", ev.ID(), ev.Kind())},
		{"Host", ev.Host},
		{"Severity", ev.NormalizedSeverity()},
		{"Summary", rem.OriginalAnalysis.Summary},
		{"Action", rem.Action},
		{"Status", rem.Status},
		{"Type", rem.ActionType},
	}
	for _, d := range rem.Details {
		rows = append(rows, []string{"Detail", d})
	}
	for _, s := range rem.NextSteps {
		rows = append(rows, []string{"Next step", s})
	}
	if rem.Estimate != "" {
		rows = append(rows, []string{"Estimate", rem.Estimate})
	}
	if rem.EscalationLevel != "" {
		rows = append(rows, []string{"Escalation", rem.EscalationLevel})
	}
	return renderTable([]string{"Field", "Value"}, rows, nil)
}

func summarizeRemediation(rem threat.Remediation) string {
	ev := rem.OriginalAnalysis.OriginalThreat
	return fmt.Sprintf("%s  %s  %s on %s  [%s]",
		rem.ExecutedAt.Local().Format(time.TimeOnly), rem.Status, rem.ActionType, ev.Host, rem.PipelineID)
}

func renderStatus(st coordinator.Status) string {
	rows := make([][]string, 0, len(st.Stages))
	for _, s := range st.Stages {
		rows = append(rows, []string{
			s.Name,
			strconv.FormatInt(s.Stats.Runs, 10),
			strconv.FormatInt(s.Stats.Completed, 10),
			strconv.FormatInt(s.Stats.Failed, 10),
			strconv.FormatInt(s.Stats.Undelivered, 10),
			strconv.FormatInt(s.Stats.DeadLettered, 10),
			formatDuration(s.Stats.AverageDuration),
		})
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Coordinator: %s\n", st.State)
	b.WriteString(renderTable(
		[]string{"Stage", "Runs", "Completed", "Failed", "Undelivered", "Dead-lettered", "Avg"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	if len(st.Abandoned) > 0 {
		fmt.Fprintf(&b, "\nAbandoned: %s", strings.Join(st.Abandoned, ", "))
	}
	return b.String()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
