package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/aman-zulfiqar/defi-nlq/internal/models"
)

const maxPrintedRows = 50

func printRows(out io.Writer, rows []models.Row) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "(no rows)")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	cols := rows[0].Columns()
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	for i, r := range rows {
		if i == maxPrintedRows {
			break
		}
		cells := make([]string, len(cols))
		for j, c := range cols {
			v, _ := r.Get(c)
			cells[j] = fmt.Sprint(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()
	if len(rows) > maxPrintedRows {
		fmt.Fprintf(out, "... %d more row(s)\n", len(rows)-maxPrintedRows)
	}
}
