package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// Table is a result with a tabular form. A Table without headers is a list
// of label/value rows.
type Table interface {
	Headers() []string
	Rows() [][]string
}

// Fields is a Table of label/value pairs.
type Fields [][2]string

func (Fields) Headers() []string { return nil }

func (f Fields) Rows() [][]string {
	rows := make([][]string, len(f))
	for i, kv := range f {
		rows[i] = []string{kv[0], kv[1]}
	}
	return rows
}

func writeTable(w io.Writer, t Table) {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	if headers := t.Headers(); len(headers) > 0 {
		table.SetHeader(headers)
		table.SetColumnSeparator("")
	} else {
		table.SetColumnSeparator(":")
	}
	table.AppendBulk(t.Rows())
	table.Render()
}
