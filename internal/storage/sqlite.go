package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"soul-teller/server/internal/models"
)

// VectorDB is the embedded table of vector items, keyed by id with a
// secondary index on timestamp.
type VectorDB struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenVectorDB opens (or creates) the SQLite file and ensures the schema
func OpenVectorDB(ctx context.Context, path string, logger *slog.Logger) (*VectorDB, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create vector db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	v := &VectorDB{db: db, logger: logger}
	if err := v.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("vector db ready", "path", path)
	return v, nil
}

func (v *VectorDB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vectors (
            id TEXT PRIMARY KEY,
            text TEXT NOT NULL,
            embedding TEXT NOT NULL,
            metadata JSON,
            timestamp INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_vectors_timestamp ON vectors(timestamp);`,
	}
	for _, stmt := range stmts {
		if _, err := v.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure vector schema: %w", err)
		}
	}
	return nil
}

// Upsert inserts or overwrites the row with the item's id
func (v *VectorDB) Upsert(ctx context.Context, item *models.VectorItem) error {
	emb, err := json.Marshal(item.Embedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	meta, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = v.db.ExecContext(ctx,
		`INSERT INTO vectors (id, text, embedding, metadata, timestamp) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET text = excluded.text, embedding = excluded.embedding,
             metadata = excluded.metadata, timestamp = excluded.timestamp`,
		item.ID, item.Text, string(emb), string(meta), item.Metadata.Timestamp)
	if err != nil {
		return fmt.Errorf("upsert vector %s: %w", item.ID, err)
	}
	return nil
}

// Get returns ErrNotFound when the id is absent
func (v *VectorDB) Get(ctx context.Context, id string) (*models.VectorItem, error) {
	row := v.db.QueryRowContext(ctx, `SELECT id, text, embedding, metadata FROM vectors WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// All returns every item ordered by timestamp
func (v *VectorDB) All(ctx context.Context) ([]*models.VectorItem, error) {
	rows, err := v.db.QueryContext(ctx, `SELECT id, text, embedding, metadata FROM vectors ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("list vectors: %w", err)
	}
	defer rows.Close()

	var items []*models.VectorItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			v.logger.Warn("skipping unreadable vector row", "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (v *VectorDB) Delete(ctx context.Context, id string) error {
	_, err := v.db.ExecContext(ctx, `DELETE FROM vectors WHERE id = ?`, id)
	return err
}

func (v *VectorDB) Clear(ctx context.Context) error {
	_, err := v.db.ExecContext(ctx, `DELETE FROM vectors`)
	return err
}

func (v *VectorDB) Count(ctx context.Context) (int, error) {
	var n int
	err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vectors`).Scan(&n)
	return n, err
}

// DB returns the underlying database handle.
func (v *VectorDB) DB() *sql.DB {
	return v.db
}

func (v *VectorDB) Close() error {
	return v.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(r rowScanner) (*models.VectorItem, error) {
	var (
		item      models.VectorItem
		emb, meta string
	)
	if err := r.Scan(&item.ID, &item.Text, &emb, &meta); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(emb), &item.Embedding); err != nil {
		return nil, fmt.Errorf("decode embedding for %s: %w", item.ID, err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &item.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", item.ID, err)
		}
	}
	return &item, nil
}
