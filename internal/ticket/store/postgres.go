package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"ticketd/internal/ticket/models"
	"ticketd/pkg/platform/sentinel"
	"ticketd/pkg/requestcontext"
)

const ticketSchema = `
CREATE TABLE IF NOT EXISTS tickets (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	parent_id   TEXT,
	expires_at  TIMESTAMPTZ,
	invalidated BOOLEAN NOT NULL DEFAULT FALSE,
	body        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_parent_id ON tickets (parent_id);
CREATE INDEX IF NOT EXISTS idx_tickets_expires_at ON tickets (expires_at);
`

const uniqueViolation = "23505"

// PostgresStore persists tickets in one table. The JSON body is the source of
// truth; the other columns exist for indexing and purging. Row locks
// (SELECT ... FOR UPDATE) give per-id serialization.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tickets table if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, ticketSchema); err != nil {
		return fmt.Errorf("create ticket schema: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertTicket(ctx context.Context, db execer, t *models.Ticket) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal ticket: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO tickets (id, kind, parent_id, expires_at, invalidated, body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, string(t.Kind), nullString(t.ParentID), nullTime(t.ExpiresAt()), t.Invalidated, body, t.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("ticket %s already exists: %w", t.ID, sentinel.ErrConflict)
		}
		return unavailable("insert ticket", err)
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, t *models.Ticket) error {
	if err := validateNew(t); err != nil {
		return err
	}
	return insertTicket(ctx, s.db, t)
}

func (s *PostgresStore) AddAll(ctx context.Context, tickets ...*models.Ticket) error {
	if len(tickets) == 0 {
		return nil
	}
	for _, t := range tickets {
		if err := validateNew(t); err != nil {
			return err
		}
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tickets {
			if err := insertTicket(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadTicket(ctx context.Context, db queryRower, id string, forUpdate bool, now time.Time) (*models.Ticket, error) {
	query := `SELECT body FROM tickets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var body []byte
	err := db.QueryRowContext(ctx, query, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ticket %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("load ticket", err)
	}
	var t models.Ticket
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode ticket %s: %w", id, err)
	}
	if t.IsExpired(now) {
		return nil, fmt.Errorf("ticket %s: %w", id, sentinel.ErrExpired)
	}
	return &t, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Ticket, error) {
	return loadTicket(ctx, s.db, id, false, requestcontext.Now(ctx))
}

func (s *PostgresStore) GetKind(ctx context.Context, id string, kind models.Kind) (*models.Ticket, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Kind != kind {
		return nil, fmt.Errorf("ticket %s is %s, not %s: %w", id, t.Kind, kind, sentinel.ErrWrongKind)
	}
	return t, nil
}

func (s *PostgresStore) Replace(ctx context.Context, t *models.Ticket) error {
	if err := validateNew(t); err != nil {
		return err
	}
	replacement := t.Clone()
	_, err := s.Execute(ctx, t.ID, func(current *models.Ticket) (Action, error) {
		*current = *replacement
		return ActionSave, nil
	})
	return err
}

func (s *PostgresStore) Execute(ctx context.Context, id string, fn MutateFunc) (*models.Ticket, error) {
	var (
		result *models.Ticket
		fnErr  error
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := loadTicket(ctx, tx, id, true, requestcontext.Now(ctx))
		if err != nil {
			return err
		}
		action, ferr := fn(current)
		result, fnErr = current, ferr

		switch action {
		case ActionSave:
			body, err := json.Marshal(current)
			if err != nil {
				return fmt.Errorf("marshal ticket: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE tickets SET parent_id = $2, expires_at = $3, invalidated = $4, body = $5
				WHERE id = $1`,
				id, nullString(current.ParentID), nullTime(current.ExpiresAt()), current.Invalidated, body); err != nil {
				return unavailable("update ticket", err)
			}
		case ActionDelete:
			if _, err := tx.ExecContext(ctx, `DELETE FROM tickets WHERE id = $1`, id); err != nil {
				return unavailable("delete ticket", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, fnErr
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = $1`, id); err != nil {
		return unavailable("delete ticket", err)
	}
	return nil
}

func (s *PostgresStore) DeleteWithDescendants(ctx context.Context, id string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		WITH RECURSIVE tree AS (
			SELECT id FROM tickets WHERE id = $1
			UNION
			SELECT t.id FROM tickets t JOIN tree ON t.parent_id = tree.id
		)
		DELETE FROM tickets WHERE id IN (SELECT id FROM tree)`, id)
	if err != nil {
		return 0, unavailable("delete ticket tree", err)
	}
	return rowsAffected(res)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tickets
		WHERE invalidated OR (expires_at IS NOT NULL AND expires_at <= $1)`,
		requestcontext.Now(ctx))
	if err != nil {
		return 0, unavailable("purge tickets", err)
	}
	return rowsAffected(res)
}

func (s *PostgresStore) Count(ctx context.Context, kind models.Kind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM tickets
		WHERE kind = $1 AND NOT invalidated AND (expires_at IS NULL OR expires_at > $2)`,
		string(kind), requestcontext.Now(ctx)).Scan(&n)
	if err != nil {
		return 0, unavailable("count tickets", err)
	}
	return n, nil
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit tx", err)
	}
	return nil
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("rows affected", err)
	}
	return int(n), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
