package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/roach88/cellcalc/internal/cell"
	"github.com/roach88/cellcalc/internal/table"
)

// Calculation is one logged calculation.
type Calculation struct {
	EID        string        `json:"eid"`
	OK         bool          `json:"ok"`
	Elapsed    time.Duration `json:"elapsed"`
	CellCount  int           `json:"cell_count"`
	ErrorCount int           `json:"error_count"`
	Seq        int64         `json:"seq"`
}

// CalculationCell is the logged outcome of one cell in a calculation.
type CalculationCell struct {
	Key       cell.Key       `json:"key"`
	OK        bool           `json:"ok"`
	Hash      string         `json:"hash"`
	ErrorType cell.ErrorType `json:"error_type,omitempty"`
}

// ApplyResponse logs a calculation and stores the cells of its response, in
// one transaction. An eid that is already logged is skipped entirely, so a
// replayed response never rolls cells back to an older snapshot.
func (s *Store) ApplyResponse(ctx context.Context, resp *table.Response) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply %s: begin tx: %w", resp.EID, err)
	}
	defer tx.Rollback()

	seq, err := nextSeq(ctx, tx, "calculations")
	if err != nil {
		return fmt.Errorf("apply %s: %w", resp.EID, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO calculations (eid, ok, elapsed_us, cell_count, error_count, seq)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(eid) DO NOTHING
	`,
		resp.EID,
		resp.OK,
		resp.Elapsed.Microseconds(),
		len(resp.List),
		resp.Failed(),
		seq,
	)
	if err != nil {
		return fmt.Errorf("apply %s: log calculation: %w", resp.EID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply %s: log calculation: %w", resp.EID, err)
	}
	if n == 0 {
		return nil
	}

	for _, r := range resp.List {
		var errType sql.NullString
		if r.Error != nil {
			errType = sql.NullString{String: string(r.Error.Type), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO calculation_cells (eid, key, ok, hash, error_type)
			VALUES (?, ?, ?, ?, ?)
		`, resp.EID, string(r.Key), r.OK, r.Data.Hash, errType); err != nil {
			return fmt.Errorf("apply %s: log cell %s: %w", resp.EID, r.Key, err)
		}
	}

	if err := writeCells(ctx, tx, resp.Map); err != nil {
		return fmt.Errorf("apply %s: %w", resp.EID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply %s: commit: %w", resp.EID, err)
	}
	return nil
}

// ReadCalculations returns logged calculations, oldest first. A positive
// limit keeps only the most recent ones.
func (s *Store) ReadCalculations(ctx context.Context, limit int) ([]Calculation, error) {
	query := `
		SELECT eid, ok, elapsed_us, cell_count, error_count, seq
		FROM calculations
		ORDER BY seq ASC, eid COLLATE BINARY ASC
	`
	args := []any{}
	if limit > 0 {
		query = `
			SELECT * FROM (
				SELECT eid, ok, elapsed_us, cell_count, error_count, seq
				FROM calculations
				ORDER BY seq DESC, eid COLLATE BINARY DESC
				LIMIT ?
			) ORDER BY seq ASC, eid COLLATE BINARY ASC
		`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query calculations: %w", err)
	}
	defer rows.Close()

	out := []Calculation{}
	for rows.Next() {
		var (
			c         Calculation
			elapsedUS int64
		)
		if err := rows.Scan(&c.EID, &c.OK, &elapsedUS, &c.CellCount, &c.ErrorCount, &c.Seq); err != nil {
			return nil, fmt.Errorf("scan calculation: %w", err)
		}
		c.Elapsed = time.Duration(elapsedUS) * time.Microsecond
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calculations: %w", err)
	}
	return out, nil
}

// ReadCalculationCells returns the per-cell log of one calculation in
// sheet order.
func (s *Store) ReadCalculationCells(ctx context.Context, eid string) ([]CalculationCell, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, ok, hash, error_type
		FROM calculation_cells
		WHERE eid = ?
	`, eid)
	if err != nil {
		return nil, fmt.Errorf("query calculation cells: %w", err)
	}
	defer rows.Close()

	out := []CalculationCell{}
	for rows.Next() {
		var (
			c       CalculationCell
			key     string
			errType sql.NullString
		)
		if err := rows.Scan(&key, &c.OK, &c.Hash, &errType); err != nil {
			return nil, fmt.Errorf("scan calculation cell: %w", err)
		}
		c.Key = cell.Key(key)
		c.ErrorType = cell.ErrorType(errType.String)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calculation cells: %w", err)
	}

	slices.SortFunc(out, func(a, b CalculationCell) int {
		return cell.CompareKeys(a.Key, b.Key)
	})
	return out, nil
}
