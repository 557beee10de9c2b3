// Listener stats summary printed when a consume run ends.
package main

import (
	"io"

	"github.com/andrewh/amqptrace/pkg/amqptrace"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func renderStats(w io.Writer, st amqptrace.Stats) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("amqptrace spans")
	t.AppendHeader(table.Row{"Counter", "Value"})
	t.AppendRows([]table.Row{
		{"opened", st.Opened},
		{"ended", st.Ended},
		{"failed", st.Failed},
		{"flushed", st.Flushed},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"orphaned", st.Orphaned},
		{"duplicates", st.Duplicates},
		{"injected", st.Injected},
		{"recovered", st.Recovered},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
	})
	t.Render()
}
