package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/models"
)

const sqliteSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	pk         INTEGER PRIMARY KEY AUTOINCREMENT,
	tg_id      TEXT NOT NULL UNIQUE,
	username   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS keywords (
	pk         INTEGER PRIMARY KEY AUTOINCREMENT,
	keyword    TEXT NOT NULL UNIQUE COLLATE NOCASE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS autolift_keywords (
	pk         INTEGER PRIMARY KEY AUTOINCREMENT,
	keyword    TEXT NOT NULL UNIQUE COLLATE NOCASE,
	position   INTEGER NOT NULL CHECK (position >= 1),
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite is the single-file Store backend.
type SQLite struct {
	conn *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database file and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(sqliteSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *SQLite) Close() error {
	return db.conn.Close()
}

func (db *SQLite) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func isSQLiteUnique(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (db *SQLite) UpsertUser(ctx context.Context, tgID, username string) (models.User, error) {
	if tgID == "" {
		return models.User{}, fmt.Errorf("store: empty telegram id: %w", apperr.ErrInvalidInput)
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (tg_id, username, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(tg_id) DO UPDATE SET
			username   = excluded.username,
			updated_at = excluded.updated_at
	`, tgID, username, time.Now().UTC(), time.Now().UTC())
	if err != nil {
		return models.User{}, fmt.Errorf("store: upsert user: %w", err)
	}
	var u models.User
	err = db.conn.QueryRowContext(ctx, `SELECT pk, tg_id, username, created_at FROM users WHERE tg_id = ?`, tgID).
		Scan(&u.PK, &u.TgID, &u.Username, &u.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("store: read user: %w", err)
	}
	return u, nil
}

func (db *SQLite) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT pk, tg_id, username, created_at FROM users ORDER BY pk`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()
	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.PK, &u.TgID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (db *SQLite) ListKeywords(ctx context.Context) ([]models.Keyword, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT pk, keyword, created_at FROM keywords ORDER BY pk`)
	if err != nil {
		return nil, fmt.Errorf("store: list keywords: %w", err)
	}
	defer rows.Close()
	var out []models.Keyword
	for rows.Next() {
		var k models.Keyword
		if err := rows.Scan(&k.PK, &k.Text, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (db *SQLite) AddKeyword(ctx context.Context, text string) (models.Keyword, error) {
	t, err := normalizeKeyword(text)
	if err != nil {
		return models.Keyword{}, err
	}
	res, err := db.conn.ExecContext(ctx, `INSERT INTO keywords (keyword, created_at) VALUES (?, ?)`, t, time.Now().UTC())
	if err != nil {
		if isSQLiteUnique(err) {
			return models.Keyword{}, fmt.Errorf("store: keyword %q: %w", t, apperr.ErrAlreadyExists)
		}
		return models.Keyword{}, fmt.Errorf("store: add keyword: %w", err)
	}
	pk, err := res.LastInsertId()
	if err != nil {
		return models.Keyword{}, fmt.Errorf("store: add keyword: %w", err)
	}
	var k models.Keyword
	err = db.conn.QueryRowContext(ctx, `SELECT pk, keyword, created_at FROM keywords WHERE pk = ?`, pk).
		Scan(&k.PK, &k.Text, &k.CreatedAt)
	if err != nil {
		return models.Keyword{}, fmt.Errorf("store: read keyword: %w", err)
	}
	return k, nil
}

func (db *SQLite) DeleteKeyword(ctx context.Context, pk int64) error {
	return db.deleteByPK(ctx, "keywords", pk)
}

func (db *SQLite) ListAutoliftKeywords(ctx context.Context) ([]models.AutoliftKeyword, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT pk, keyword, position, created_at FROM autolift_keywords ORDER BY pk`)
	if err != nil {
		return nil, fmt.Errorf("store: list autolift keywords: %w", err)
	}
	defer rows.Close()
	var out []models.AutoliftKeyword
	for rows.Next() {
		var k models.AutoliftKeyword
		if err := rows.Scan(&k.PK, &k.Text, &k.Position, &k.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (db *SQLite) AddAutoliftKeyword(ctx context.Context, text string, position int) (models.AutoliftKeyword, error) {
	t, err := normalizeKeyword(text)
	if err != nil {
		return models.AutoliftKeyword{}, err
	}
	if err := validatePosition(position); err != nil {
		return models.AutoliftKeyword{}, err
	}
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO autolift_keywords (keyword, position, created_at) VALUES (?, ?, ?)`,
		t, position, time.Now().UTC())
	if err != nil {
		if isSQLiteUnique(err) {
			return models.AutoliftKeyword{}, fmt.Errorf("store: autolift keyword %q: %w", t, apperr.ErrAlreadyExists)
		}
		return models.AutoliftKeyword{}, fmt.Errorf("store: add autolift keyword: %w", err)
	}
	pk, err := res.LastInsertId()
	if err != nil {
		return models.AutoliftKeyword{}, fmt.Errorf("store: add autolift keyword: %w", err)
	}
	var k models.AutoliftKeyword
	err = db.conn.QueryRowContext(ctx,
		`SELECT pk, keyword, position, created_at FROM autolift_keywords WHERE pk = ?`, pk,
	).Scan(&k.PK, &k.Text, &k.Position, &k.CreatedAt)
	if err != nil {
		return models.AutoliftKeyword{}, fmt.Errorf("store: read autolift keyword: %w", err)
	}
	return k, nil
}

func (db *SQLite) DeleteAutoliftKeyword(ctx context.Context, pk int64) error {
	return db.deleteByPK(ctx, "autolift_keywords", pk)
}

// deleteByPK is only called with package-constant table names.
func (db *SQLite) deleteByPK(ctx context.Context, table string, pk int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM `+table+` WHERE pk = ?`, pk)
	if err != nil {
		return fmt.Errorf("store: delete from %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete from %s: %w", table, err)
	}
	if n == 0 {
		return fmt.Errorf("store: %s pk %d: %w", table, pk, apperr.ErrNotFound)
	}
	return nil
}
