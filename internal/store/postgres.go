package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starford/relister/internal/apperr"
	"github.com/starford/relister/internal/models"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	pk         BIGSERIAL PRIMARY KEY,
	tg_id      VARCHAR(100) NOT NULL UNIQUE,
	username   VARCHAR(100) NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS keywords (
	pk         BIGSERIAL PRIMARY KEY,
	keyword    VARCHAR(1024) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS keywords_keyword_lower_idx ON keywords (lower(keyword));

CREATE TABLE IF NOT EXISTS autolift_keywords (
	pk         BIGSERIAL PRIMARY KEY,
	keyword    VARCHAR(1024) NOT NULL,
	position   INTEGER NOT NULL CHECK (position >= 1),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS autolift_keywords_keyword_lower_idx ON autolift_keywords (lower(keyword));
`

// Postgres is the Store backend for shared deployments.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres creates and verifies a pgxpool connection pool and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, errors.New("store: postgres url is empty")
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres ping failed: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (db *Postgres) Close() error {
	db.pool.Close()
	return nil
}

func (db *Postgres) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func isPgUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (db *Postgres) UpsertUser(ctx context.Context, tgID, username string) (models.User, error) {
	if tgID == "" {
		return models.User{}, fmt.Errorf("store: empty telegram id: %w", apperr.ErrInvalidInput)
	}
	var u models.User
	err := db.pool.QueryRow(ctx, `
		INSERT INTO users (tg_id, username) VALUES ($1, $2)
		ON CONFLICT (tg_id) DO UPDATE SET username = EXCLUDED.username, updated_at = now()
		RETURNING pk, tg_id, username, created_at
	`, tgID, username).Scan(&u.PK, &u.TgID, &u.Username, &u.CreatedAt)
	if err != nil {
		return models.User{}, fmt.Errorf("store: upsert user: %w", err)
	}
	return u, nil
}

func (db *Postgres) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.pool.Query(ctx, `SELECT pk, tg_id, username, created_at FROM users ORDER BY pk`)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.User, error) {
		var u models.User
		err := row.Scan(&u.PK, &u.TgID, &u.Username, &u.CreatedAt)
		return u, err
	})
}

func (db *Postgres) ListKeywords(ctx context.Context) ([]models.Keyword, error) {
	rows, err := db.pool.Query(ctx, `SELECT pk, keyword, created_at FROM keywords ORDER BY pk`)
	if err != nil {
		return nil, fmt.Errorf("store: list keywords: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Keyword, error) {
		var k models.Keyword
		err := row.Scan(&k.PK, &k.Text, &k.CreatedAt)
		return k, err
	})
}

func (db *Postgres) AddKeyword(ctx context.Context, text string) (models.Keyword, error) {
	t, err := normalizeKeyword(text)
	if err != nil {
		return models.Keyword{}, err
	}
	var k models.Keyword
	err = db.pool.QueryRow(ctx,
		`INSERT INTO keywords (keyword) VALUES ($1) RETURNING pk, keyword, created_at`, t,
	).Scan(&k.PK, &k.Text, &k.CreatedAt)
	if err != nil {
		if isPgUnique(err) {
			return models.Keyword{}, fmt.Errorf("store: keyword %q: %w", t, apperr.ErrAlreadyExists)
		}
		return models.Keyword{}, fmt.Errorf("store: add keyword: %w", err)
	}
	return k, nil
}

func (db *Postgres) DeleteKeyword(ctx context.Context, pk int64) error {
	return db.deleteByPK(ctx, "keywords", pk)
}

func (db *Postgres) ListAutoliftKeywords(ctx context.Context) ([]models.AutoliftKeyword, error) {
	rows, err := db.pool.Query(ctx, `SELECT pk, keyword, position, created_at FROM autolift_keywords ORDER BY pk`)
	if err != nil {
		return nil, fmt.Errorf("store: list autolift keywords: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AutoliftKeyword, error) {
		var k models.AutoliftKeyword
		err := row.Scan(&k.PK, &k.Text, &k.Position, &k.CreatedAt)
		return k, err
	})
}

func (db *Postgres) AddAutoliftKeyword(ctx context.Context, text string, position int) (models.AutoliftKeyword, error) {
	t, err := normalizeKeyword(text)
	if err != nil {
		return models.AutoliftKeyword{}, err
	}
	if err := validatePosition(position); err != nil {
		return models.AutoliftKeyword{}, err
	}
	var k models.AutoliftKeyword
	err = db.pool.QueryRow(ctx, `
		INSERT INTO autolift_keywords (keyword, position) VALUES ($1, $2)
		RETURNING pk, keyword, position, created_at
	`, t, position).Scan(&k.PK, &k.Text, &k.Position, &k.CreatedAt)
	if err != nil {
		if isPgUnique(err) {
			return models.AutoliftKeyword{}, fmt.Errorf("store: autolift keyword %q: %w", t, apperr.ErrAlreadyExists)
		}
		return models.AutoliftKeyword{}, fmt.Errorf("store: add autolift keyword: %w", err)
	}
	return k, nil
}

func (db *Postgres) DeleteAutoliftKeyword(ctx context.Context, pk int64) error {
	return db.deleteByPK(ctx, "autolift_keywords", pk)
}

// deleteByPK is only called with package-constant table names.
func (db *Postgres) deleteByPK(ctx context.Context, table string, pk int64) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM `+table+` WHERE pk = $1`, pk)
	if err != nil {
		return fmt.Errorf("store: delete from %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store: %s pk %d: %w", table, pk, apperr.ErrNotFound)
	}
	return nil
}
