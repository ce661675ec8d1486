package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"pbxlink/internal/reference"
	"pbxlink/pkg/utils"
)

// PostgresRepo stores calls in Postgres (pgx stdlib driver).
//
// Expected schema:
//
//	CREATE TABLE calls (
//	    uniqueid         TEXT PRIMARY KEY,
//	    calling_number   TEXT NOT NULL DEFAULT '',
//	    called_number    TEXT NOT NULL DEFAULT '',
//	    calling_name     TEXT NOT NULL DEFAULT '',
//	    started          TIMESTAMPTZ NULL,
//	    answered         TIMESTAMPTZ NULL,
//	    ended            TIMESTAMPTZ NULL,
//	    direction        TEXT NOT NULL DEFAULT '',
//	    status           TEXT NOT NULL DEFAULT 'progress',
//	    is_active        BOOLEAN NOT NULL DEFAULT TRUE,
//	    calling_user_id  TEXT NOT NULL DEFAULT '',
//	    answered_user_id TEXT NOT NULL DEFAULT '',
//	    partner_id       TEXT NOT NULL DEFAULT '',
//	    ref_model        TEXT NOT NULL DEFAULT '',
//	    ref_res_id       TEXT NOT NULL DEFAULT '',
//	    ref_display_name TEXT NOT NULL DEFAULT '',
//	    ref_partner_id   TEXT NOT NULL DEFAULT '',
//	    notes            TEXT NOT NULL DEFAULT '',
//	    system_name      TEXT NOT NULL DEFAULT '',
//	    created_at       TIMESTAMPTZ NOT NULL,
//	    updated_at       TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX calls_is_active_idx ON calls (is_active);
//	CREATE INDEX calls_ended_idx ON calls (ended);
//
//	CREATE TABLE call_users (
//	    call_uniqueid TEXT NOT NULL REFERENCES calls(uniqueid) ON DELETE CASCADE,
//	    user_id       TEXT NOT NULL,
//	    PRIMARY KEY (call_uniqueid, user_id)
//	);
//
//	CREATE TABLE call_events (
//	    id            UUID PRIMARY KEY,
//	    call_uniqueid TEXT NOT NULL REFERENCES calls(uniqueid) ON DELETE CASCADE,
//	    text          TEXT NOT NULL,
//	    created_at    TIMESTAMPTZ NOT NULL
//	);
//
// Channels carry ON DELETE CASCADE from calls as well; see the channels
// package schema.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const callColumns = `uniqueid, calling_number, called_number, calling_name,
	started, answered, ended, direction, status, is_active,
	calling_user_id, answered_user_id, partner_id,
	ref_model, ref_res_id, ref_display_name, ref_partner_id,
	notes, system_name, created_at, updated_at`

func (r *PostgresRepo) GetByUniqueID(ctx context.Context, uniqueID string) (Call, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+callColumns+` FROM calls WHERE uniqueid = $1`, uniqueID)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	if err != nil {
		return Call{}, err
	}
	c.CalledUserIDs, err = r.calledUsers(ctx, uniqueID)
	return c, err
}

func (r *PostgresRepo) Create(ctx context.Context, c Call) error {
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO calls (`+callColumnsInsert+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			         $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
			callArgs(c)...)
		if err != nil {
			return err
		}
		return insertCalledUsers(ctx, tx, c.UniqueID, c.CalledUserIDs)
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("calls: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Update(ctx context.Context, c Call) error {
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE calls SET calling_number = $2, called_number = $3, calling_name = $4,
			        started = $5, answered = $6, ended = $7, direction = $8, status = $9,
			        is_active = $10, calling_user_id = $11, answered_user_id = $12,
			        partner_id = $13, ref_model = $14, ref_res_id = $15,
			        ref_display_name = $16, ref_partner_id = $17, notes = $18,
			        system_name = $19, created_at = $20, updated_at = $21
			 WHERE uniqueid = $1`,
			callArgs(c)...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return insertCalledUsers(ctx, tx, c.UniqueID, c.CalledUserIDs)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("calls: update: %w", err)
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls`
	if f.ActiveOnly {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY started DESC NULLS LAST`
	var args []any
	if f.Limit > 0 {
		query += ` LIMIT $1`
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("calls: list: %w", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) DeleteEndedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM calls WHERE ended IS NOT NULL AND ended < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("calls: delete ended: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepo) AppendEvent(ctx context.Context, e CallEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO call_events (id, call_uniqueid, text, created_at)
		 VALUES ($1, $2, $3, $4)`,
		e.ID, e.CallUniqueID, e.Text, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("calls: append event: %w", err)
	}
	return nil
}

func (r *PostgresRepo) EventsForCall(ctx context.Context, callUniqueID string) ([]CallEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, call_uniqueid, text, created_at FROM call_events
		 WHERE call_uniqueid = $1 ORDER BY created_at`, callUniqueID)
	if err != nil {
		return nil, fmt.Errorf("calls: events: %w", err)
	}
	defer rows.Close()

	var out []CallEvent
	for rows.Next() {
		var e CallEvent
		if err := rows.Scan(&e.ID, &e.CallUniqueID, &e.Text, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("calls: scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const callColumnsInsert = `uniqueid, calling_number, called_number, calling_name,
	started, answered, ended, direction, status, is_active,
	calling_user_id, answered_user_id, partner_id,
	ref_model, ref_res_id, ref_display_name, ref_partner_id,
	notes, system_name, created_at, updated_at`

func callArgs(c Call) []any {
	return []any{
		c.UniqueID, c.CallingNumber, c.CalledNumber, c.CallingName,
		nullTime(c.Started), nullTime(c.Answered), nullTime(c.Ended),
		string(c.Direction), string(c.Status), c.IsActive,
		c.CallingUserID, c.AnsweredUserID, c.PartnerID,
		c.Ref.Model, c.Ref.ResID, c.Ref.DisplayName, c.Ref.PartnerID,
		c.Notes, c.SystemName, c.CreatedAt, c.UpdatedAt,
	}
}

func insertCalledUsers(ctx context.Context, tx *sql.Tx, callUniqueID string, userIDs []string) error {
	for _, id := range userIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO call_users (call_uniqueid, user_id)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`, callUniqueID, id)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepo) calledUsers(ctx context.Context, callUniqueID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM call_users WHERE call_uniqueid = $1 ORDER BY user_id`, callUniqueID)
	if err != nil {
		return nil, fmt.Errorf("calls: called users: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c                        Call
		started, answered, ended sql.NullTime
		direction, status        string
		ref                      reference.Ref
	)
	err := row.Scan(
		&c.UniqueID, &c.CallingNumber, &c.CalledNumber, &c.CallingName,
		&started, &answered, &ended, &direction, &status, &c.IsActive,
		&c.CallingUserID, &c.AnsweredUserID, &c.PartnerID,
		&ref.Model, &ref.ResID, &ref.DisplayName, &ref.PartnerID,
		&c.Notes, &c.SystemName, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, err
		}
		return Call{}, fmt.Errorf("calls: scan: %w", err)
	}
	c.Started = started.Time
	c.Answered = answered.Time
	c.Ended = ended.Time
	c.Direction = Direction(direction)
	c.Status = Status(status)
	c.Ref = ref
	return c, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
