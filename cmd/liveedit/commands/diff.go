// Package commands implements the liveedit CLI commands.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/liveedit/pkg/position"
	"github.com/Sumatoshi-tech/liveedit/pkg/textdiff"
)

// Output format constants.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)

// diffArgCount is the number of arguments expected by the diff command.
const diffArgCount = 2

// ErrUnsupportedFormat reports an unknown output format flag value.
var ErrUnsupportedFormat = errors.New("unsupported format")

// DiffCommand holds the flags for the diff command.
type DiffCommand struct {
	output  string
	format  string
	noColor bool
}

// NewDiffCommand creates and configures the diff command.
func NewDiffCommand() *cobra.Command {
	cmd := &DiffCommand{}

	cobraCmd := &cobra.Command{
		Use:   "diff old new",
		Short: "Show the change regions between two source files",
		Long: `Compare two script sources and print the change regions an edit
session would operate on.

Examples:
  liveedit diff old.js new.js
  liveedit diff -f json old.js new.js`,
		Args: cobra.ExactArgs(diffArgCount),
		RunE: func(_ *cobra.Command, args []string) error {
			return cmd.Run(args[0], args[1])
		},
	}

	cobraCmd.Flags().StringVarP(&cmd.output, "output", "o", "", "output file (default: stdout)")
	cobraCmd.Flags().StringVarP(&cmd.format, "format", "f", FormatTable, "output format (table, json)")
	cobraCmd.Flags().BoolVar(&cmd.noColor, "no-color", false, "disable colored output")

	return cobraCmd
}

// Run executes the diff command.
func (c *DiffCommand) Run(oldPath, newPath string) error {
	oldText, err := os.ReadFile(oldPath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", oldPath, err)
	}

	newText, err := os.ReadFile(newPath)
	if err != nil {
		return fmt.Errorf("failed to read file %s: %w", newPath, err)
	}

	regions := textdiff.Compare(string(oldText), string(newText))

	writer, closeFn, err := outputWriter(c.output)
	if err != nil {
		return err
	}
	defer closeFn()

	switch c.format {
	case FormatJSON:
		return writeRegionsJSON(regions, writer)
	case FormatTable:
		c.writeRegionsTable(regions, string(oldText), string(newText), writer)

		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, c.format)
	}
}

// regionRow is the JSON shape of one change region.
type regionRow struct {
	OldBegin int `json:"old_begin"`
	OldEnd   int `json:"old_end"`
	NewEnd   int `json:"new_end"`
}

func writeRegionsJSON(regions []position.ChangeRegion, writer io.Writer) error {
	rows := make([]regionRow, 0, len(regions))
	for _, r := range regions {
		rows = append(rows, regionRow{OldBegin: r.OldBegin, OldEnd: r.OldEnd, NewEnd: r.NewEnd})
	}

	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")

	encodeErr := enc.Encode(rows)
	if encodeErr != nil {
		return fmt.Errorf("failed to encode JSON: %w", encodeErr)
	}

	return nil
}

func (c *DiffCommand) writeRegionsTable(regions []position.ChangeRegion, oldText, newText string, writer io.Writer) {
	if len(regions) == 0 {
		fmt.Fprintln(writer, "No changes.")

		return
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(writer)
	tbl.AppendHeader(table.Row{"#", "Old Range", "Removed", "Inserted"})

	delta := 0

	for i, r := range regions {
		removed := r.OldLen()
		inserted := r.NewLen(delta)
		delta += inserted - removed

		tbl.AppendRow(table.Row{
			i + 1,
			fmt.Sprintf("[%d, %d)", r.OldBegin, r.OldEnd),
			c.colorize(color.FgRed, humanize.Comma(int64(removed))+" B"),
			c.colorize(color.FgGreen, humanize.Comma(int64(inserted))+" B"),
		})
	}

	tbl.Render()

	fmt.Fprintf(writer, "%d region(s), %s -> %s\n",
		len(regions),
		humanize.Bytes(uint64(len(oldText))),
		humanize.Bytes(uint64(len(newText))))
}

func (c *DiffCommand) colorize(attr color.Attribute, s string) string {
	if c.noColor {
		return s
	}

	return color.New(attr).Sprint(s)
}

// outputWriter resolves the output destination. The returned close func is a
// no-op for stdout.
func outputWriter(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stdout, func() {}, nil
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}

	return file, func() { _ = file.Close() }, nil
}
