package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/smartbin/smartbin/internal/bin"
	"github.com/smartbin/smartbin/internal/db"
	"github.com/smartbin/smartbin/internal/errors"
)

// ExportSchemaVersion is written in the header line of every export.
const ExportSchemaVersion = "1.0"

// ExportHeader represents the header line in a JSONL export file.
type ExportHeader struct {
	SmartbinExport bool   `json:"_smartbin_export"`
	SchemaVersion  string `json:"schema_version"`
	ExportedAt     int64  `json:"exported_at"`
}

// exportLine is a single JSONL line; the header and records share one shape so lines can be sniffed.
type exportLine struct {
	SmartbinExport bool   `json:"_smartbin_export,omitempty"`
	Label          string `json:"item_label"`
	Color          string `json:"bin_color"`
	CreatedAt      int64  `json:"created_at"`
	UsageCount     int    `json:"usage_count"`
}

// ExportOutput contains the result of the Export operation.
type ExportOutput struct {
	Path       string `json:"path,omitempty"`
	Count      int    `json:"count"`
	ExportedAt int64  `json:"exported_at"`
}

// Export writes the header and every classification, in insertion order, as JSONL.
func (s *Store) Export(ctx context.Context, w io.Writer) (*ExportOutput, error) {
	exportedAt := s.now().Unix()
	enc := json.NewEncoder(w)

	if err := enc.Encode(ExportHeader{
		SmartbinExport: true,
		SchemaVersion:  ExportSchemaVersion,
		ExportedAt:     exportedAt,
	}); err != nil {
		return nil, errors.NewInternal(err)
	}

	rows, err := db.StreamForExport(ctx, s.db)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := db.ScanRecord(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		if err := enc.Encode(r); err != nil {
			return nil, errors.NewInternal(err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}

	return &ExportOutput{Count: count, ExportedAt: exportedAt}, nil
}

// ExportFile exports to path through a temp file and an atomic rename, so an
// existing file survives a failed export.
func (s *Store) ExportFile(ctx context.Context, path string) (*ExportOutput, error) {
	if path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	out, err := s.Export(ctx, tmp)
	if err != nil {
		return nil, err
	}
	if err := tmp.Sync(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.NewInternal(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}
	success = true

	out.Path = path
	return out, nil
}

// DefaultExportPath names an export file under dir by timestamp.
func DefaultExportPath(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("classifications-%s.jsonl", now.UTC().Format("20060102-150405")))
}

// ImportMode controls collision behavior during import.
type ImportMode string

const (
	ImportModeError   ImportMode = "error"   // fail on collision (atomic)
	ImportModeReplace ImportMode = "replace" // overwrite on collision
)

// ImportOutput contains the result of the Import operation.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError represents an error that occurred during import.
type ImportError struct {
	Line    int    `json:"line"`
	Label   string `json:"item_label,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Import reads a JSONL export and applies it in a single transaction.
// In error mode any invalid line or existing label aborts the whole import.
// In replace mode invalid lines are skipped and existing labels are re-binned,
// keeping their created_at and never lowering their usage count.
func (s *Store) Import(ctx context.Context, r io.Reader, mode ImportMode) (*ImportOutput, error) {
	if mode == "" {
		mode = ImportModeError
	}
	if mode != ImportModeError && mode != ImportModeReplace {
		return nil, errors.NewInvalidRequest("mode must be one of: error, replace")
	}

	records, parseErrors, err := s.parseExport(r)
	if err != nil {
		return nil, err
	}

	out := &ImportOutput{Errors: parseErrors}
	if out.Errors == nil {
		out.Errors = []ImportError{}
	}
	if mode == ImportModeError && len(parseErrors) > 0 {
		return out, nil
	}
	out.Skipped = len(parseErrors)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		var err error
		if mode == ImportModeReplace {
			err = db.Upsert(ctx, tx, &rec)
		} else {
			err = db.Insert(ctx, tx, &rec)
		}
		if err == db.ErrUniqueConstraint {
			return nil, errors.NewDuplicateLabel(rec.Label)
		}
		if err != nil {
			return nil, err
		}
		out.Imported++
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// ImportFile imports from a JSONL file on disk.
func (s *Store) ImportFile(ctx context.Context, path string, mode ImportMode) (*ImportOutput, error) {
	if path == "" {
		return nil, errors.NewInvalidRequest("path is required")
	}
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("import file not found: %s", path))
	}
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	return s.Import(ctx, file, mode)
}

// parseExport parses export lines into validated, normalized records.
func (s *Store) parseExport(r io.Reader) ([]bin.Record, []ImportError, error) {
	var (
		records     []bin.Record
		parseErrors []ImportError
	)

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var el exportLine
		if err := json.Unmarshal(line, &el); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}

		// Skip header line
		if el.SmartbinExport {
			continue
		}

		label := bin.Normalize(el.Label)
		if label == "" {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    string(errors.ErrInvalidRequest),
				Message: "missing item_label",
			})
			continue
		}
		color, ok := bin.ParseColor(el.Color)
		if !ok {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Label:   label,
				Code:    string(errors.ErrInvalidBinColor),
				Message: fmt.Sprintf("invalid bin_color %q", el.Color),
			})
			continue
		}

		rec := bin.Record{
			Label:      label,
			Color:      color,
			CreatedAt:  el.CreatedAt,
			UsageCount: el.UsageCount,
		}
		if rec.CreatedAt <= 0 {
			rec.CreatedAt = s.now().Unix()
		}
		if rec.UsageCount < 1 {
			rec.UsageCount = 1
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.NewInternal(fmt.Errorf("failed to read import: %w", err))
	}

	return records, parseErrors, nil
}
