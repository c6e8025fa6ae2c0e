package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/refs"
	"github.com/roach88/cellcalc/internal/table"
)

// RefsOptions holds flags for the refs command.
type RefsOptions struct {
	*RootOptions
	Database string
}

// RefsResult describes one cell's place in the reference graph.
type RefsResult struct {
	Key      cell.Key        `json:"key"`
	Outgoing []refs.Ref      `json:"outgoing"`
	Incoming []refs.Ref      `json:"incoming"`
	Error    *cell.FuncError `json:"error,omitempty"`
}

// WriteText implements TextWriter.
func (r RefsResult) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "%s\n", r.Key)
	if r.Error != nil {
		fmt.Fprintf(w, "  error %s: %s\n", r.Error.Type, r.Error.Message)
	}

	fmt.Fprintf(w, "  outgoing (%d)\n", len(r.Outgoing))
	for _, ref := range r.Outgoing {
		if ref.Type == refs.RefRange {
			fmt.Fprintf(w, "    %s via %s\n", ref.Key, ref.Range)
			continue
		}
		fmt.Fprintf(w, "    %s\n", ref.Key)
	}

	fmt.Fprintf(w, "  incoming (%d)\n", len(r.Incoming))
	for _, ref := range r.Incoming {
		fmt.Fprintf(w, "    %s  %s\n", ref.Key, joinKeys(ref.Path, " -> "))
	}
	return nil
}

func joinKeys(keys []cell.Key, sep string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = string(k)
	}
	return strings.Join(parts, sep)
}

// NewRefsCommand creates the refs command.
func NewRefsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RefsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "refs [table-file] <key>",
		Short: "Show a cell's references",
		Long: `Show the cells a cell reads, every cell that depends on it directly
or transitively, and whether it sits on a reference cycle.

Examples:
  cellcalc refs budget.yaml A1
  cellcalc refs --db budget.db B2 --format json`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			if len(args) == 2 {
				file = args[0]
			}
			return runRefs(opts, file, args[len(args)-1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")

	return cmd
}

func runRefs(opts *RefsOptions, file, label string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := newFormatter(opts.RootOptions, cmd)

	key, err := cell.Normalize(label)
	if err != nil {
		return reportError(out, CodeRequest, WrapExitError(ExitCommandError, "invalid cell", err))
	}

	sess, err := openSession(ctx, file, opts.Database, logger)
	if err != nil {
		return reportError(out, CodeLoad, err)
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	rt := table.New(sess.getCells, table.WithLogger(logger)).RefsTable()

	m, err := rt.Refs(ctx, []string{string(key)}, false)
	if err != nil {
		return reportError(out, CodeLoad, WrapExitError(ExitCommandError, "failed to read references", err))
	}
	incoming, err := rt.Incoming(ctx, key)
	if err != nil {
		return reportError(out, CodeLoad, WrapExitError(ExitCommandError, "failed to read dependents", err))
	}

	result := RefsResult{
		Key:      key,
		Outgoing: m.Out[key],
		Incoming: incoming,
		Error:    m.Errors[key],
	}
	if result.Outgoing == nil {
		result.Outgoing = []refs.Ref{}
	}
	if result.Incoming == nil {
		result.Incoming = []refs.Ref{}
	}
	return out.Success(result)
}
