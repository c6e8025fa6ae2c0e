package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Database string
}

// ImportResult reports an imported table. Cells counts every cell now in
// the database.
type ImportResult struct {
	Path     string `json:"path"`
	Database string `json:"database"`
	Cells    int    `json:"cells"`
}

// WriteText implements TextWriter.
func (r ImportResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "imported %s into %s (%d cells)\n", r.Path, r.Database, r.Cells)
	return err
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <table-file>",
		Short: "Load a table file into a database",
		Long: `Load the cells of a YAML, JSON or CUE table file into a SQLite
database, creating it if needed. Existing cells with the same keys are
replaced; other cells are kept. No calculation is run.

Example:
  cellcalc import budget.yaml --db budget.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runImport(opts *ImportOptions, file string, cmd *cobra.Command) error {
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

	keys, err := sess.store.Keys(ctx)
	if err != nil {
		return reportError(out, CodeStore, WrapExitError(ExitCommandError, "failed to count cells", err))
	}
	return out.Success(ImportResult{Path: file, Database: opts.Database, Cells: len(keys)})
}
