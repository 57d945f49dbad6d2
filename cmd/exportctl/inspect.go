package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/segexport/internal/workbook"
)

func newInspectCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Print the rows of an exported workbook or archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return inspect(cmd.OutOrStdout(), filepath.Base(args[0]), data, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "rows to print per workbook (0 prints all)")

	return cmd
}

// inspect prints each workbook in data. Files ending in .zip are read as
// archives of workbooks.
func inspect(w io.Writer, name string, data []byte, limit int) error {
	if !strings.EqualFold(filepath.Ext(name), ".zip") {
		return printWorkbook(w, name, data, limit)
	}

	entries, err := workbook.ReadZip(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d entries, %s\n", name, len(entries), humanize.Bytes(uint64(len(data))))
	for _, e := range entries {
		if err := printWorkbook(w, e.Name, e.Data, limit); err != nil {
			return fmt.Errorf("%s: %w", e.Name, err)
		}
	}
	return nil
}

func printWorkbook(w io.Writer, name string, data []byte, limit int) error {
	t, err := workbook.Decode(data, nil)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%s: %s rows\n", name, humanize.Comma(int64(t.Len())))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(t.ColumnNames(), "\t"))

	rows := t.Rows
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if hidden := t.Len() - len(rows); hidden > 0 {
		fmt.Fprintf(w, "... %d more\n", hidden)
	}
	return nil
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
