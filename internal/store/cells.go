package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/cellcalc/internal/cell"
)

// WriteCells upserts cells in one transaction. All cells written together
// share one seq. Deferred values are resolved before storage.
func (s *Store) WriteCells(ctx context.Context, cells cell.Cells) error {
	if len(cells) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write cells: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := writeCells(ctx, tx, cells); err != nil {
		return fmt.Errorf("write cells: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write cells: commit: %w", err)
	}
	return nil
}

func writeCells(ctx context.Context, tx *sql.Tx, cells cell.Cells) error {
	seq, err := nextSeq(ctx, tx, "cells")
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cells (key, col, row, value, props, error, hash, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			props = excluded.props,
			error = excluded.error,
			hash  = excluded.hash,
			seq   = excluded.seq
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	// keys in sheet order keep the write deterministic
	for _, key := range cells.Keys() {
		addr, err := cell.ParseKey(string(key))
		if err != nil {
			return err
		}
		data := cells[key].Resolved()

		value, err := marshalValue(data.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		props, err := marshalProps(data.Props)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		errJSON, err := marshalError(data.Error)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}

		if _, err := stmt.ExecContext(ctx,
			string(addr.Key()),
			addr.Column,
			addr.Row,
			value,
			props,
			errJSON,
			data.Hash,
			seq,
		); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// ReadCells returns every stored cell. It satisfies table.GetCells.
func (s *Store) ReadCells(ctx context.Context) (cell.Cells, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, value, props, error, hash
		FROM cells
		ORDER BY col ASC, row ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query cells: %w", err)
	}
	defer rows.Close()

	cells := cell.Cells{}
	for rows.Next() {
		key, data, err := scanCell(rows)
		if err != nil {
			return nil, err
		}
		cells[key] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cells: %w", err)
	}
	return cells, nil
}

// ReadCell returns one cell. The bool is false if the cell does not exist.
// It satisfies calc.GetCell.
func (s *Store) ReadCell(ctx context.Context, key cell.Key) (cell.CellData, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT key, value, props, error, hash
		FROM cells
		WHERE key = ?
	`, string(key))

	_, data, err := scanCell(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cell.CellData{}, false, nil
	}
	if err != nil {
		return cell.CellData{}, false, err
	}
	return data, true, nil
}

// Keys lists stored keys in sheet order. It satisfies refs.GetKeys.
func (s *Store) Keys(ctx context.Context) ([]cell.Key, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cells ORDER BY col ASC, row ASC`)
	if err != nil {
		return nil, fmt.Errorf("query keys: %w", err)
	}
	defer rows.Close()

	keys := []cell.Key{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, cell.Key(k))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// Value returns a cell's raw value, or Null for a missing cell. It
// satisfies refs.GetValue.
func (s *Store) Value(ctx context.Context, key cell.Key) (cell.Value, error) {
	data, ok, err := s.ReadCell(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return cell.Null{}, nil
	}
	return data.Value, nil
}

// DeleteCell removes a cell. Returns false if it did not exist.
func (s *Store) DeleteCell(ctx context.Context, key cell.Key) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cells WHERE key = ?`, string(key))
	if err != nil {
		return false, fmt.Errorf("delete cell %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete cell %s: %w", key, err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCell(row rowScanner) (cell.Key, cell.CellData, error) {
	var (
		key, value, props, hash string
		errJSON                 sql.NullString
	)
	if err := row.Scan(&key, &value, &props, &errJSON, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", cell.CellData{}, err
		}
		return "", cell.CellData{}, fmt.Errorf("scan cell: %w", err)
	}

	v, err := unmarshalValue(value)
	if err != nil {
		return "", cell.CellData{}, fmt.Errorf("cell %s: %w", key, err)
	}
	p, err := unmarshalProps(props)
	if err != nil {
		return "", cell.CellData{}, fmt.Errorf("cell %s: %w", key, err)
	}
	fe, err := unmarshalError(errJSON)
	if err != nil {
		return "", cell.CellData{}, fmt.Errorf("cell %s: %w", key, err)
	}

	return cell.Key(key), cell.CellData{Value: v, Props: p, Error: fe, Hash: hash}, nil
}
