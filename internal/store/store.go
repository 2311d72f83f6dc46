package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/smartbin/smartbin/internal/bin"
	"github.com/smartbin/smartbin/internal/db"
	"github.com/smartbin/smartbin/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Store is the persistent classification store: normalized item label -> bin color.
// Every write is committed before the call returns.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates the store at path. Repeated opens of the same path are safe.
func Open(path string) (*Store, error) {
	database, err := db.Init(path)
	if err != nil {
		return nil, errors.NewStorageUnavailable(path, err)
	}
	return &Store{db: database, path: path, now: time.Now}, nil
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Lookup returns the classification for label, or nil when the label is unknown.
// Matching is exact on the normalized label.
func (s *Store) Lookup(ctx context.Context, label string) (*bin.Record, error) {
	norm := bin.Normalize(label)
	if norm == "" {
		return nil, nil
	}

	r, err := db.GetByLabel(ctx, s.db, norm)
	if errors.Is(err, errors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RecordHit atomically increments the usage counter of an existing classification
// and returns the new count. A missing record is reported as NOT_FOUND.
func (s *Store) RecordHit(ctx context.Context, label string) (int, error) {
	return db.IncrementUsage(ctx, s.db, bin.Normalize(label))
}

// Insert learns a new classification with a usage count of 1.
func (s *Store) Insert(ctx context.Context, label string, color bin.Color) (*bin.Record, error) {
	if !color.Valid() {
		return nil, errors.NewInvalidBinColor(string(color))
	}
	norm := bin.Normalize(label)
	if norm == "" {
		return nil, errors.NewInvalidRequest("item_label must not be empty")
	}

	r := &bin.Record{
		Label:      norm,
		Color:      color,
		CreatedAt:  s.now().Unix(),
		UsageCount: 1,
	}
	if err := db.Insert(ctx, s.db, r); err != nil {
		if err == db.ErrUniqueConstraint {
			return nil, errors.NewDuplicateLabel(norm)
		}
		return nil, err
	}
	return r, nil
}

// Stats summarizes the store. topN bounds the most-sorted ranking; 0 disables it.
func (s *Store) Stats(ctx context.Context, topN int) (*bin.Stats, error) {
	perBin, total, err := db.CountByBin(ctx, s.db)
	if err != nil {
		return nil, err
	}

	stats := bin.NewStats()
	stats.TotalRecords = total
	for c, b := range perBin {
		stats.PerBin[c] = b
	}

	if topN > 0 {
		top, err := db.TopByUsage(ctx, s.db, topN)
		if err != nil {
			return nil, err
		}
		stats.Top = top
	}

	return stats, nil
}

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// ListInput contains parameters for the List operation.
type ListInput struct {
	Bin    string // optional filter
	Limit  int    // default: 50, max: 500
	Offset int
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []bin.Record `json:"items"`
	Pagination Pagination   `json:"pagination"`
}

// List returns classifications ordered by label.
func (s *Store) List(ctx context.Context, input ListInput) (*ListOutput, error) {
	var filter *bin.Color
	if input.Bin != "" {
		c, ok := bin.ParseColor(input.Bin)
		if !ok {
			return nil, errors.NewInvalidBinColor(input.Bin)
		}
		filter = &c
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(input.Offset, 0)

	items, total, err := db.ListAll(ctx, s.db, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	// Ensure we return an empty array rather than nil
	if items == nil {
		items = []bin.Record{}
	}

	return &ListOutput{
		Items: items,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(items) < total,
			Total:   total,
		},
	}, nil
}

// Close releases the database. Subsequent calls are no-ops.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
