package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/event"
	"github.com/roach88/cellcalc/internal/funcs"
	"github.com/roach88/cellcalc/internal/metrics"
	"github.com/roach88/cellcalc/internal/table"
)

// CalcOptions holds flags for the calc command.
type CalcOptions struct {
	*RootOptions
	Cells       []string
	Database    string
	Metrics     bool
	Concurrency int

	// IDGenerator allows overriding the calculation id generator (for
	// testing). If nil, defaults to table.UUIDv7Generator.
	IDGenerator table.IDGenerator
}

// NewCalcCommand creates the calc command.
func NewCalcCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CalcOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "calc [table-file]",
		Short: "Recalculate cells and their dependents",
		Long: `Recalculate the given cells and every cell that depends on them.

Without --cells every cell is recalculated. With --db the table is read
from the database and the result written back, along with an entry in the
calculation history; a table file given as well is imported first.

Exit codes:
  0 - Every cell calculated
  1 - One or more cells failed
  2 - Command error (bad table file, database, or cell argument)

Examples:
  cellcalc calc budget.yaml
  cellcalc calc budget.yaml --cells A1,B1:B3 --format json
  cellcalc calc --db budget.db --cells A1 --metrics`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var file string
			if len(args) == 1 {
				file = args[0]
			}
			return runCalc(opts, file, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Cells, "cells", nil, "changed cells or ranges (default: all cells)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print calculation metrics to stderr")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "max cells evaluated at once (0 = unlimited)")

	return cmd
}

func runCalc(opts *CalcOptions, file string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := newFormatter(opts.RootOptions, cmd)

	sess, err := openSession(ctx, file, opts.Database, logger)
	if err != nil {
		return reportError(out, CodeLoad, err)
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	bus := event.NewBus(event.WithBusLogger(logger))
	defer bus.Close()
	bus.Subscribe(event.LogObserver(logger))

	var reg *prometheus.Registry
	if opts.Metrics {
		reg = prometheus.NewRegistry()
		sink, err := metrics.NewSink(metrics.Config{Registry: reg})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to set up metrics", err)
		}
		defer sink.Close()
		bus.Subscribe(sink)
	}

	tblOpts := []table.Option{
		table.WithGetFunc(funcs.Builtins().GetFunc),
		table.WithObserver(bus),
		table.WithConcurrency(opts.Concurrency),
		table.WithLogger(logger),
	}
	if opts.IDGenerator != nil {
		tblOpts = append(tblOpts, table.WithIDGenerator(opts.IDGenerator))
	}
	tbl := table.New(sess.getCells, tblOpts...)

	calculation := tbl.Calculate(ctx, table.Request{Cells: opts.Cells})
	logger.Info("calculation started", "eid", calculation.EID)

	resp, err := calculation.Wait(ctx)
	bus.Close() // deliver every event before metrics are read
	if err != nil {
		return reportError(out, CodeCalculate, WrapExitError(ExitCommandError, "calculation failed", err))
	}

	if sess.store != nil {
		if err := sess.store.ApplyResponse(ctx, resp); err != nil {
			return reportError(out, CodeStore, WrapExitError(ExitCommandError, "failed to save calculation", err))
		}
	}

	if reg != nil {
		if err := writeMetrics(cmd.ErrOrStderr(), reg); err != nil {
			logger.Warn("failed to gather metrics", "error", err)
		}
	}

	if err := out.Success(calcOutput{resp}); err != nil {
		return err
	}

	if !resp.OK {
		return NewExitError(ExitFailure, "calculation could not read every cell")
	}
	if n := resp.Failed(); n > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d cell(s) failed", n))
	}
	return nil
}

// calcOutput renders a response. JSON output is the response itself.
type calcOutput struct {
	*table.Response
}

func (c calcOutput) WriteText(w io.Writer) error {
	status := "ok"
	if !c.OK {
		status = "incomplete"
	}
	fmt.Fprintf(w, "calculation %s %s (%d cells, %d failed, %s)\n",
		c.EID, status, len(c.List), c.Failed(), c.Elapsed)

	for _, cr := range c.List {
		if cr.Error != nil {
			fmt.Fprintf(w, "%-8s error %s: %s\n", cr.Key, cr.Error.Type, cr.Error.Message)
			continue
		}
		fmt.Fprintf(w, "%-8s %s\n", cr.Key, displayValue(cr.Data.DisplayValue()))
	}
	return nil
}

func displayValue(v cell.Value) string {
	b, err := cell.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(b)
}

// writeMetrics prints every gathered family in the Prometheus text format.
func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
