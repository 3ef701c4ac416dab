package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/liveedit/internal/config"
	"github.com/Sumatoshi-tech/liveedit/internal/observability"
	"github.com/Sumatoshi-tech/liveedit/pkg/activation"
	"github.com/Sumatoshi-tech/liveedit/pkg/compile"
	"github.com/Sumatoshi-tech/liveedit/pkg/liveedit"
	"github.com/Sumatoshi-tech/liveedit/pkg/script"
)

// applyArgCount is the number of arguments expected by the apply command.
const applyArgCount = 2

// Sentinel errors for the apply command.
var (
	ErrUnknownFrameFunction = errors.New("frames file references unknown function")
	ErrSourceTooLarge       = errors.New("source file exceeds configured size limit")
)

// MetricsFunc supplies the (optional) edit metrics; nil metrics disable
// recording.
type MetricsFunc func() (*observability.EditMetrics, error)

// ApplyCommand holds the flags for the apply command.
type ApplyCommand struct {
	configPath *string
	metricsFn  MetricsFunc

	framesPath string
	keepOldAs  string
	output     string
	format     string
	forceDrop  bool
	keepOld    bool
	checkOnly  bool
	noColor    bool
}

// NewApplyCommand creates and configures the apply command.
func NewApplyCommand(configPath *string, metricsFn MetricsFunc) *cobra.Command {
	cmd := &ApplyCommand{configPath: configPath, metricsFn: metricsFn}

	cobraCmd := &cobra.Command{
		Use:   "apply script new",
		Short: "Run a full edit session against a script",
		Long: `Run one edit-and-continue session: diff the script against the new
source, check activations, and swap function code atomically.

The optional frames file is a JSON stack snapshot; without one the script
is treated as idle.

Examples:
  liveedit apply app.js app.new.js
  liveedit apply --check-only app.js app.new.js
  liveedit apply --force-drop --frames stack.json app.js app.new.js`,
		Args: cobra.ExactArgs(applyArgCount),
		RunE: func(_ *cobra.Command, args []string) error {
			return cmd.Run(args[0], args[1])
		},
	}

	cobraCmd.Flags().BoolVar(&cmd.forceDrop, "force-drop", false, "drop restartable activations of changed functions")
	cobraCmd.Flags().BoolVar(&cmd.keepOld, "keep-old", false, "snapshot the old version under the configured suffix")
	cobraCmd.Flags().StringVar(&cmd.keepOldAs, "keep-old-as", "", "snapshot the old version under this name")
	cobraCmd.Flags().BoolVar(&cmd.checkOnly, "check-only", false, "report patchability without mutating")
	cobraCmd.Flags().StringVar(&cmd.framesPath, "frames", "", "JSON stack snapshot file")
	cobraCmd.Flags().StringVarP(&cmd.output, "output", "o", "", "output file (default: stdout)")
	cobraCmd.Flags().StringVarP(&cmd.format, "format", "f", FormatTable, "output format (table, json)")
	cobraCmd.Flags().BoolVar(&cmd.noColor, "no-color", false, "disable colored output")

	return cobraCmd
}

// Run executes the apply command.
func (c *ApplyCommand) Run(scriptPath, newPath string) error {
	cfg, err := config.Load(*c.configPath)
	if err != nil {
		return err
	}

	oldText, err := c.readSource(scriptPath, cfg)
	if err != nil {
		return err
	}

	newText, err := c.readSource(newPath, cfg)
	if err != nil {
		return err
	}

	compiler := compile.NewTreeSitter()

	s, err := registerScript(compiler, scriptPath, oldText)
	if err != nil {
		return err
	}

	walker, err := c.loadFrames(s)
	if err != nil {
		return err
	}

	metrics, err := c.metrics()
	if err != nil {
		return err
	}

	engine := liveedit.New(compiler, walker, frameDiscarder{},
		liveedit.WithLogger(newLogger(cfg)),
		liveedit.WithMetrics(metrics))

	opts := liveedit.Options{
		ForceDrop: c.forceDrop || cfg.Edit.ForceDrop,
		KeepOldAs: c.snapshotName(scriptPath, cfg),
		CheckOnly: c.checkOnly,
	}

	res, applyErr := engine.Apply(context.Background(), s, newText, opts)

	writer, closeFn, err := outputWriter(c.output)
	if err != nil {
		return err
	}
	defer closeFn()

	var conflict *liveedit.ActivationConflictError
	if errors.As(applyErr, &conflict) {
		c.writeConflict(conflict, writer)

		return applyErr
	}

	if applyErr != nil {
		return applyErr
	}

	return c.writeResult(res, writer)
}

func (c *ApplyCommand) readSource(path string, cfg *config.Config) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.Size() > cfg.Edit.MaxSourceBytes {
		return "", fmt.Errorf("%w: %s (%d bytes)", ErrSourceTooLarge, path, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}

	return string(data), nil
}

func (c *ApplyCommand) snapshotName(scriptPath string, cfg *config.Config) string {
	if c.keepOldAs != "" {
		return c.keepOldAs
	}

	if c.keepOld || cfg.Edit.KeepOld {
		return scriptPath + cfg.Edit.SnapshotSuffix
	}

	return ""
}

func (c *ApplyCommand) metrics() (*observability.EditMetrics, error) {
	if c.metricsFn == nil {
		return nil, nil
	}

	return c.metricsFn()
}

// frameFile is the JSON shape of one frame in a stack snapshot file.
type frameFile struct {
	Function    string `json:"function"`
	Thread      int    `json:"thread"`
	Depth       int    `json:"depth"`
	Suspended   bool   `json:"suspended"`
	UnderNative bool   `json:"under_native"`
}

// loadFrames builds a frame walker from the snapshot file, resolving
// function names against the registered script records.
func (c *ApplyCommand) loadFrames(s *script.Script) (activation.FrameWalker, error) {
	if c.framesPath == "" {
		return staticWalker(nil), nil
	}

	data, err := os.ReadFile(c.framesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read frames file: %w", err)
	}

	var rows []frameFile

	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse frames file: %w", err)
	}

	byName := make(map[string]*script.FunctionRecord)
	for _, fn := range s.Functions() {
		if fn.Name != "" {
			byName[fn.Name] = fn
		}
	}

	frames := make([]activation.Frame, 0, len(rows))

	for _, row := range rows {
		fn, ok := byName[row.Function]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFrameFunction, row.Function)
		}

		frames = append(frames, activation.Frame{
			Thread:      row.Thread,
			Depth:       row.Depth,
			Function:    fn,
			Suspended:   row.Suspended,
			UnderNative: row.UnderNative,
		})
	}

	return staticWalker(frames), nil
}

// staticWalker serves a fixed stack snapshot.
type staticWalker []activation.Frame

func (w staticWalker) Frames() []activation.Frame { return w }

// frameDiscarder drops frames from the file-based snapshot. There is no
// live runtime behind the CLI, so dropping always succeeds.
type frameDiscarder struct{}

func (frameDiscarder) DropFrame(activation.Frame) error { return nil }

// applyReport is the JSON shape of one apply result.
type applyReport struct {
	Script    string           `json:"script"`
	Committed bool             `json:"committed"`
	Regions   int              `json:"regions"`
	Patched   int              `json:"patched"`
	Inserted  int              `json:"inserted"`
	Deleted   int              `json:"deleted"`
	Snapshot  string           `json:"snapshot,omitempty"`
	Functions []functionReport `json:"functions,omitempty"`
}

type functionReport struct {
	Function string `json:"function"`
	Status   string `json:"status"`
}

func (c *ApplyCommand) writeResult(res *liveedit.Result, writer io.Writer) error {
	report := applyReport{
		Script:    res.Script.Name(),
		Committed: res.Committed,
		Regions:   len(res.Regions),
		Patched:   res.Patched,
		Inserted:  res.Inserted,
		Deleted:   res.Deleted,
	}

	if res.Snapshot != nil {
		report.Snapshot = res.Snapshot.Name()
	}

	for _, rep := range res.Reports {
		name := rep.Function.Name
		if name == "" {
			name = "<anonymous>"
		}

		report.Functions = append(report.Functions, functionReport{
			Function: name,
			Status:   rep.Status.String(),
		})
	}

	switch c.format {
	case FormatJSON:
		enc := json.NewEncoder(writer)
		enc.SetIndent("", "  ")

		encodeErr := enc.Encode(report)
		if encodeErr != nil {
			return fmt.Errorf("failed to encode JSON: %w", encodeErr)
		}

		return nil
	case FormatTable:
		c.writeResultTable(report, writer)

		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, c.format)
	}
}

func (c *ApplyCommand) writeResultTable(report applyReport, writer io.Writer) {
	if report.Regions == 0 {
		fmt.Fprintln(writer, "No changes.")

		return
	}

	if len(report.Functions) > 0 {
		tbl := table.NewWriter()
		tbl.SetOutputMirror(writer)
		tbl.AppendHeader(table.Row{"Function", "Status"})

		for _, fn := range report.Functions {
			tbl.AppendRow(table.Row{fn.Function, c.statusCell(fn.Status)})
		}

		tbl.Render()
	}

	verb := "checked"
	if report.Committed {
		verb = "committed"
	}

	fmt.Fprintf(writer, "%s: %s (%d region(s), %d patched, %d inserted, %d deleted)\n",
		verb, report.Script, report.Regions, report.Patched, report.Inserted, report.Deleted)

	if report.Snapshot != "" {
		fmt.Fprintf(writer, "old version kept as %q\n", report.Snapshot)
	}
}

func (c *ApplyCommand) statusCell(status string) string {
	if c.noColor {
		return status
	}

	switch status {
	case activation.Patched.String(), activation.Available.String():
		return color.New(color.FgGreen).Sprint(status)
	case activation.ReplacedOnActiveStack.String():
		return color.New(color.FgYellow).Sprint(status)
	default:
		return color.New(color.FgRed).Sprint(status)
	}
}

func (c *ApplyCommand) writeConflict(conflict *liveedit.ActivationConflictError, writer io.Writer) {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(writer)
	tbl.AppendHeader(table.Row{"Function", "Status"})

	for i, fn := range conflict.Functions {
		name := fn.Name
		if name == "" {
			name = "<anonymous>"
		}

		tbl.AppendRow(table.Row{name, c.statusCell(conflict.Statuses[i].String())})
	}

	tbl.Render()
}

// registerScript compiles the source and registers a record for every
// function literal, the way a host registers a freshly loaded script.
func registerScript(compiler compile.Compiler, name, source string) (*script.Script, error) {
	infos, err := compiler.Compile(name, source)
	if err != nil {
		return nil, err
	}

	s := script.New(name, source)
	records := make([]*script.FunctionRecord, len(infos))

	for i, info := range infos {
		rec := &script.FunctionRecord{
			Name:      info.Name,
			Start:     info.Start,
			End:       info.End,
			LiteralID: info.LiteralID,
			Code:      info.Code,
		}

		if err := s.AddFunction(rec); err != nil {
			return nil, err
		}

		records[i] = rec

		if info.ParentIndex >= 0 {
			records[info.ParentIndex].AddNested(rec)
		}
	}

	return s, nil
}

// newLogger builds the slog logger per config.
func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level

	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
