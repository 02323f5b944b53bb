package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"octopus/internal/core"
)

// ErrDuplicate is returned when a write would violate a unique constraint
var ErrDuplicate = errors.New("duplicate value")

// psql builds Postgres placeholders
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

var (
	_ Database                = (*PostgresDB)(nil)
	_ HNRepository            = (*postgresHNRepo)(nil)
	_ EmailRepository         = (*postgresEmailRepo)(nil)
	_ TelegramRepository      = (*postgresTelegramRepo)(nil)
	_ ContentRepository       = (*postgresContentRepo)(nil)
	_ ProcessedItemRepository = (*postgresProcessedRepo)(nil)
	_ DigestRepository        = (*postgresDigestRepo)(nil)
	_ PromptRepository        = (*postgresPromptRepo)(nil)
	_ QueryRepository         = (*postgresQueryRepo)(nil)
)

// PostgresDB implements the Database interface for PostgreSQL
type PostgresDB struct {
	db        *sql.DB
	hn        *postgresHNRepo
	emails    *postgresEmailRepo
	telegram  *postgresTelegramRepo
	contents  *postgresContentRepo
	processed *postgresProcessedRepo
	digests   *postgresDigestRepo
	prompts   *postgresPromptRepo
	queries   *postgresQueryRepo
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newPostgresDB(db), nil
}

func newPostgresDB(db *sql.DB) *PostgresDB {
	p := &PostgresDB{db: db}
	p.hn = &postgresHNRepo{db: db}
	p.emails = &postgresEmailRepo{db: db}
	p.telegram = &postgresTelegramRepo{db: db}
	p.contents = &postgresContentRepo{db: db}
	p.processed = &postgresProcessedRepo{db: db}
	p.digests = &postgresDigestRepo{db: db}
	p.prompts = &postgresPromptRepo{db: db}
	p.queries = &postgresQueryRepo{db: db}
	return p
}

func (p *PostgresDB) HackerNews() HNRepository                { return p.hn }
func (p *PostgresDB) Emails() EmailRepository                 { return p.emails }
func (p *PostgresDB) Telegram() TelegramRepository            { return p.telegram }
func (p *PostgresDB) Contents() ContentRepository             { return p.contents }
func (p *PostgresDB) ProcessedItems() ProcessedItemRepository { return p.processed }
func (p *PostgresDB) Digests() DigestRepository               { return p.digests }
func (p *PostgresDB) Prompts() PromptRepository               { return p.prompts }
func (p *PostgresDB) Queries() QueryRepository                { return p.queries }

// SetPool overrides the connection pool limits. Zero values keep the defaults.
func (p *PostgresDB) SetPool(maxOpen, maxIdle int, maxLifetime time.Duration) {
	if maxOpen > 0 {
		p.db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		p.db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		p.db.SetConnMaxLifetime(maxLifetime)
	}
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// DeleteProcessedItems removes tag and entity relations, digest links and the
// items themselves in one transaction
func (p *PostgresDB) DeleteProcessedItems(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int64
	err := withTx(ctx, p.db, func(tx *sql.Tx) error {
		arr := pq.Int64Array(ids)
		for _, q := range []string{
			`DELETE FROM item_tag_relations WHERE item_id = ANY($1)`,
			`DELETE FROM item_entity_relations WHERE item_id = ANY($1)`,
			`DELETE FROM digest_stories WHERE processed_item_id = ANY($1)`,
		} {
			if _, err := tx.ExecContext(ctx, q, arr); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM processed_stories WHERE id = ANY($1)`, arr)
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed items: %w", err)
	}
	return deleted, nil
}

// DeleteDigestEmail removes the links of an email, then the email
func (p *PostgresDB) DeleteDigestEmail(ctx context.Context, id int64) error {
	err := withTx(ctx, p.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM digest_links WHERE email_id = $1`, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE email_stories SET source_email_id = NULL WHERE source_email_id = $1`, id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM digest_emails WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("digest email %d: %w", id, core.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete digest email: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction: committed when fn returns nil, rolled
// back otherwise
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// isUniqueViolation reports whether err is a Postgres unique_violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
