package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/loader"
	"github.com/roach88/cellcalc/internal/store"
	"github.com/roach88/cellcalc/internal/table"
)

// newLogger writes text logs to w, at debug level when verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// session is where a command reads cells from: a table file held in
// memory, or a database, seeded from the table file when both are given.
type session struct {
	getCells table.GetCells
	store    *store.Store
}

func openSession(ctx context.Context, file, db string, logger *slog.Logger) (*session, error) {
	if file == "" && db == "" {
		return nil, NewExitError(ExitCommandError, "a table file or --db is required")
	}

	var fixture *loader.Fixture
	if file != "" {
		f, err := loader.Load(file)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load table", err)
		}
		logger.Info("table loaded", "path", file, "name", f.Name, "cells", len(f.Cells))
		fixture = f
	}

	if db == "" {
		cells := fixture.Cells
		return &session{
			getCells: func(context.Context) (cell.Cells, error) {
				return cells.Clone(), nil
			},
		}, nil
	}

	st, err := store.Open(db)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if fixture != nil {
		if err := st.WriteCells(ctx, fixture.Cells); err != nil {
			_ = st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to import table", err)
		}
		logger.Info("table imported", "db", db, "cells", len(fixture.Cells))
	}
	return &session{getCells: st.ReadCells, store: st}, nil
}

// Close releases the database, if any.
func (s *session) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
