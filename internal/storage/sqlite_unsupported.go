//go:build mips64 || mips64le || ppc64 || s390x

package storage

import (
	"errors"
	"log/slog"
	"time"
)

var errSQLiteUnavailable = errors.New("SQLite storage not available")

// SQLiteStore is a stub for platforms the pure Go driver does not support.
type SQLiteStore struct{}

// NewSQLiteStore always fails on this platform.
func NewSQLiteStore(path string, maxRows int, logger *slog.Logger) (*SQLiteStore, error) {
	return nil, errors.New("SQLite storage is not supported on this platform, use memory storage instead")
}

// Insert is unavailable on this platform.
func (s *SQLiteStore) Insert(c *Call) error {
	return errSQLiteUnavailable
}

func (s *SQLiteStore) Update(id string, upd CallUpdate) error {
	return errSQLiteUnavailable
}

func (s *SQLiteStore) GetByID(id string) (*Call, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) List(opts ListOptions) ([]Call, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) Overview(window time.Duration) (*Overview, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) OpStats(window time.Duration) ([]OpStat, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) Series(opts SeriesOptions) ([]DataPoint, error) {
	return nil, errSQLiteUnavailable
}

func (s *SQLiteStore) InFlightCount() (int, error) {
	return 0, errSQLiteUnavailable
}

func (s *SQLiteStore) Close() error {
	return nil
}
