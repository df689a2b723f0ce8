// Package content is the host content source: a SQLite table of documents
// grouped by category, and the populators that feed them into indices.
package content

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	domainerrors "github.com/listenupapp/indexbridge/internal/errors"
	"github.com/listenupapp/indexbridge/internal/logger"
	"github.com/listenupapp/indexbridge/internal/writer"
)

//go:embed schema.sql
var schemaSQL string

// Item is one stored content document.
type Item struct {
	ID        string           `json:"id"`
	Category  string           `json:"category"`
	ItemType  string           `json:"item_type,omitempty"`
	Fields    map[string][]any `json:"fields"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Document converts the item to an indexable document.
func (i *Item) Document() writer.Document {
	return writer.Document{
		ID:       i.ID,
		Category: i.Category,
		ItemType: i.ItemType,
		Fields:   i.Fields,
	}
}

// Store provides SQLite-backed persistence for content documents.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates a new SQLite store at the given path.
// It configures WAL mode, sets pragmas, and applies the schema.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	return &Store{db: db, logger: logger.Component(log, "content")}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// itemColumns must match the scan order in scanItem.
const itemColumns = `id, category, item_type, fields, created_at, updated_at`

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		item      Item
		fields    string
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&item.ID, &item.Category, &item.ItemType, &fields, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(fields))
	dec.UseNumber()
	if err := dec.Decode(&item.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s: %w", item.ID, err)
	}

	var err error
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

// Put inserts or replaces items in one transaction. Updates replace the whole
// item but keep its creation time.
func (s *Store) Put(ctx context.Context, items ...*Item) error {
	for _, item := range items {
		if strings.TrimSpace(item.ID) == "" || strings.TrimSpace(item.Category) == "" {
			return domainerrors.Validationf("content item requires id and category")
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO documents (id, category, item_type, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (category, id) DO UPDATE SET
			item_type = excluded.item_type,
			fields = excluded.fields,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, item := range items {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(item.Fields); err != nil {
			return fmt.Errorf("encode fields of %s: %w", item.ID, err)
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now

		if _, err := stmt.ExecContext(ctx,
			item.ID,
			item.Category,
			item.ItemType,
			strings.TrimSpace(buf.String()),
			formatTime(item.CreatedAt),
			formatTime(item.UpdatedAt),
		); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", item.Category, item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("stored content items", "count", len(items))
	return nil
}

// Get retrieves an item.
// Returns a NOT_FOUND error if the item does not exist.
func (s *Store) Get(ctx context.Context, category, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM documents WHERE category = ? AND id = ?`, category, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, domainerrors.NotFoundf("content item %s/%s not found", category, id)
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Delete removes an item. Deleting a missing item is not an error.
func (s *Store) Delete(ctx context.Context, category, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE category = ? AND id = ?`, category, id)
	return err
}

// List returns up to limit items of category with ids greater than after,
// ordered by id.
func (s *Store) List(ctx context.Context, category, after string, limit int) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM documents
		WHERE category = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?`, category, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Count returns the number of items in category.
func (s *Store) Count(ctx context.Context, category string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE category = ?`, category).Scan(&n)
	return n, err
}

// formatTime formats a time.Time to RFC3339Nano for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a RFC3339Nano string back to time.Time.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
