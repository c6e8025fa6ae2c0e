package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cellcalc/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	EID      string
}

// HistoryResult lists logged calculations, oldest first.
type HistoryResult struct {
	Calculations []store.Calculation `json:"calculations"`
}

// WriteText implements TextWriter.
func (r HistoryResult) WriteText(w io.Writer) error {
	if len(r.Calculations) == 0 {
		_, err := fmt.Fprintln(w, "No calculations recorded.")
		return err
	}
	for _, c := range r.Calculations {
		status := "ok"
		if !c.OK {
			status = "incomplete"
		}
		fmt.Fprintf(w, "%4d  %s  %-10s %d cells, %d failed, %s\n",
			c.Seq, c.EID, status, c.CellCount, c.ErrorCount, c.Elapsed)
	}
	return nil
}

// CalculationDetail lists the cells of one calculation.
type CalculationDetail struct {
	EID   string                  `json:"eid"`
	Cells []store.CalculationCell `json:"cells"`
}

// WriteText implements TextWriter.
func (d CalculationDetail) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "calculation %s (%d cells)\n", d.EID, len(d.Cells))
	for _, c := range d.Cells {
		if !c.OK {
			fmt.Fprintf(w, "%-8s error %s\n", c.Key, c.ErrorType)
			continue
		}
		fmt.Fprintf(w, "%-8s ok %s\n", c.Key, c.Hash)
	}
	return nil
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List calculations saved in a database",
		Long: `List the calculations saved by "calc --db", oldest first, or the
cells of one calculation with --eid.

Examples:
  cellcalc history --db budget.db
  cellcalc history --db budget.db --limit 5
  cellcalc history --db budget.db --eid 0191e0c2-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "show only the most recent calculations (0 = all)")
	cmd.Flags().StringVar(&opts.EID, "eid", "", "show the cells of one calculation")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return reportError(out, CodeStore, WrapExitError(ExitCommandError, "failed to open database", err))
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	if opts.EID != "" {
		cells, err := st.ReadCalculationCells(ctx, opts.EID)
		if err != nil {
			return reportError(out, CodeStore, WrapExitError(ExitCommandError, "failed to read calculation", err))
		}
		if len(cells) == 0 {
			return reportError(out, CodeStore, NewExitError(ExitCommandError, fmt.Sprintf("calculation not found: %s", opts.EID)))
		}
		return out.Success(CalculationDetail{EID: opts.EID, Cells: cells})
	}

	calcs, err := st.ReadCalculations(ctx, opts.Limit)
	if err != nil {
		return reportError(out, CodeStore, WrapExitError(ExitCommandError, "failed to read history", err))
	}
	return out.Success(HistoryResult{Calculations: calcs})
}
