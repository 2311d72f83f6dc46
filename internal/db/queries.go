package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/smartbin/smartbin/internal/bin"
	"github.com/smartbin/smartbin/internal/errors"
)

// ErrUniqueConstraint is returned when an insert violates the item_name primary key.
var ErrUniqueConstraint = &errors.SortError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Insert stores a new classification. The label must already be normalized.
func Insert(ctx context.Context, db Execer, r *bin.Record) error {
	query := `
		INSERT INTO waste_classification (item_name, bin_color, created_at, usage_count)
		VALUES (?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query, r.Label, string(r.Color), r.CreatedAt, r.UsageCount)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		if isCheckConstraintError(err) {
			return errors.NewInvalidBinColor(string(r.Color))
		}
		return errors.NewInternal(err)
	}

	return nil
}

// Upsert inserts a classification or re-bins the existing one with the same label.
// An existing record keeps its created_at, and its usage_count never decreases.
func Upsert(ctx context.Context, db Execer, r *bin.Record) error {
	query := `
		INSERT INTO waste_classification (item_name, bin_color, created_at, usage_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(item_name) DO UPDATE SET
			bin_color = excluded.bin_color,
			usage_count = MAX(waste_classification.usage_count, excluded.usage_count)
	`

	_, err := db.ExecContext(ctx, query, r.Label, string(r.Color), r.CreatedAt, r.UsageCount)
	if err != nil {
		if isCheckConstraintError(err) {
			return errors.NewInvalidBinColor(string(r.Color))
		}
		return errors.NewInternal(err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite reports primary key violations as "UNIQUE constraint failed: ..."
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isCheckConstraintError checks if the error is a SQLite CHECK constraint violation.
func isCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "CHECK constraint failed")
}

// GetByLabel retrieves a classification by its normalized label.
func GetByLabel(ctx context.Context, db *sql.DB, label string) (*bin.Record, error) {
	query := `
		SELECT item_name, bin_color, created_at, usage_count
		FROM waste_classification
		WHERE item_name = ?
	`

	r, err := scanRecord(db.QueryRowContext(ctx, query, label))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(label)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// IncrementUsage bumps usage_count in a single statement and returns the new value.
func IncrementUsage(ctx context.Context, db *sql.DB, label string) (int, error) {
	query := `
		UPDATE waste_classification
		SET usage_count = usage_count + 1
		WHERE item_name = ?
		RETURNING usage_count
	`

	var count int
	err := db.QueryRowContext(ctx, query, label).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, errors.NewNotFound(label)
	}
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return count, nil
}

// CountByBin returns record counts and summed usage per bin, plus the total record count.
// Bins without records are present with zero values.
func CountByBin(ctx context.Context, db *sql.DB) (map[bin.Color]bin.BinStats, int, error) {
	query := `
		SELECT bin_color, COUNT(*), COALESCE(SUM(usage_count), 0)
		FROM waste_classification
		GROUP BY bin_color
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	perBin := make(map[bin.Color]bin.BinStats, len(bin.Colors))
	for _, c := range bin.Colors {
		perBin[c] = bin.BinStats{}
	}

	total := 0
	for rows.Next() {
		var (
			color string
			s     bin.BinStats
		)
		if err := rows.Scan(&color, &s.Count, &s.Usage); err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		perBin[bin.Color(color)] = s
		total += s.Count
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	return perBin, total, nil
}

// TopByUsage returns the n most used classifications, ties broken by insertion order.
func TopByUsage(ctx context.Context, db *sql.DB, n int) ([]bin.TopItem, error) {
	query := `
		SELECT item_name, bin_color, usage_count
		FROM waste_classification
		ORDER BY usage_count DESC, rowid ASC
		LIMIT ?
	`

	rows, err := db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	items := make([]bin.TopItem, 0, n)
	for rows.Next() {
		var (
			item  bin.TopItem
			color string
		)
		if err := rows.Scan(&item.Label, &color, &item.UsageCount); err != nil {
			return nil, errors.NewInternal(err)
		}
		item.Color = bin.Color(color)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return items, nil
}

// ListAll returns classifications ordered by label, optionally filtered by bin, with the total match count.
func ListAll(ctx context.Context, db *sql.DB, color *bin.Color, limit, offset int) ([]bin.Record, int, error) {
	where := ""
	args := []any{}
	if color != nil {
		where = " WHERE bin_color = ?"
		args = append(args, string(*color))
	}

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM waste_classification"+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `
		SELECT item_name, bin_color, created_at, usage_count
		FROM waste_classification` + where + `
		ORDER BY item_name ASC
		LIMIT ? OFFSET ?
	`
	rows, err := db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	var records []bin.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	return records, total, nil
}

// StreamForExport returns all classifications in insertion order.
// The caller must close the returned rows and read them with ScanRecord.
func StreamForExport(ctx context.Context, db *sql.DB) (*sql.Rows, error) {
	query := `
		SELECT item_name, bin_color, created_at, usage_count
		FROM waste_classification
		ORDER BY rowid ASC
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return rows, nil
}

// ScanRecord scans the current export row.
func ScanRecord(rows *sql.Rows) (*bin.Record, error) {
	return scanRecord(rows)
}

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a single row into a Record.
func scanRecord(row scanner) (*bin.Record, error) {
	var (
		r     bin.Record
		color string
	)
	if err := row.Scan(&r.Label, &color, &r.CreatedAt, &r.UsageCount); err != nil {
		return nil, err
	}
	r.Color = bin.Color(color)
	return &r, nil
}
