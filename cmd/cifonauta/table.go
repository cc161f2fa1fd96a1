package main

import (
	"strconv"
	"time"

	"github.com/cebimar/cifonauta/internal/runctx"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func renderSummary(summary runctx.Summary) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"Outcome", "Files"})

	rows := []struct {
		label string
		count int
	}{
		{"Discovered", summary.Discovered},
		{"Scanned", summary.Scanned},
		{"New", summary.Created},
		{"Updated", summary.Updated},
		{"Unchanged", summary.Skipped},
		{"Failed", summary.Failed},
		{"Broken links removed", summary.Broken},
	}
	for _, row := range rows {
		tw.AppendRow(table.Row{row.label, strconv.Itoa(row.count)})
	}

	tw.AppendFooter(table.Row{"Elapsed", summary.Elapsed.Round(time.Millisecond).String()})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})

	return tw.Render()
}
