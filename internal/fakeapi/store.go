package fakeapi

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"screener/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

var (
	// ErrDuplicate is returned when a symbol is already a favorite.
	ErrDuplicate = errors.New("symbol already in favorites")
	// ErrNotFound is returned when removing a symbol that is not a favorite.
	ErrNotFound = errors.New("symbol not in favorites")
)

const schema = `
CREATE TABLE IF NOT EXISTS favorites (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol   TEXT NOT NULL UNIQUE,
	added_at TEXT NOT NULL
)`

// FavoriteStore persists favorites in SQLite.
type FavoriteStore struct {
	db *sql.DB
}

// NewFavoriteStore opens (or creates) a SQLite database at dbPath and
// creates the favorites table. ":memory:" gives a private in-memory store.
func NewFavoriteStore(dbPath string) (*FavoriteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// An in-memory database lives on one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating favorites table: %w", err)
	}
	return &FavoriteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *FavoriteStore) Close() error {
	return s.db.Close()
}

// List returns all favorites in insertion order.
func (s *FavoriteStore) List(ctx context.Context) ([]domain.FavoriteSymbol, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, symbol, added_at FROM favorites ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing favorites: %w", err)
	}
	defer rows.Close()

	out := []domain.FavoriteSymbol{}
	for rows.Next() {
		var (
			f       domain.FavoriteSymbol
			addedAt string
		)
		if err := rows.Scan(&f.ID, &f.Symbol, &addedAt); err != nil {
			return nil, fmt.Errorf("scanning favorite: %w", err)
		}
		f.AddedAt, err = time.Parse(time.RFC3339Nano, addedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing added_at of %s: %w", f.Symbol, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Contains reports whether symbol is a favorite.
func (s *FavoriteStore) Contains(ctx context.Context, symbol string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM favorites WHERE symbol = ?`, symbol).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("looking up %s: %w", symbol, err)
	}
	return n > 0, nil
}

// Add inserts symbol and returns the stored favorite.
func (s *FavoriteStore) Add(ctx context.Context, symbol string, now time.Time) (domain.FavoriteSymbol, error) {
	exists, err := s.Contains(ctx, symbol)
	if err != nil {
		return domain.FavoriteSymbol{}, err
	}
	if exists {
		return domain.FavoriteSymbol{}, ErrDuplicate
	}

	now = now.UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO favorites (symbol, added_at) VALUES (?, ?)`,
		symbol, now.Format(time.RFC3339Nano))
	if err != nil {
		return domain.FavoriteSymbol{}, fmt.Errorf("inserting %s: %w", symbol, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.FavoriteSymbol{}, fmt.Errorf("reading id of %s: %w", symbol, err)
	}
	return domain.FavoriteSymbol{ID: id, Symbol: symbol, AddedAt: now}, nil
}

// Remove deletes symbol.
func (s *FavoriteStore) Remove(ctx context.Context, symbol string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM favorites WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", symbol, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting %s: %w", symbol, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
