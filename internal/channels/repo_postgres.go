package channels

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresRepo stores channels in Postgres (pgx stdlib driver).
//
// Expected schema:
//
//	CREATE TABLE channels (
//	    id                  UUID PRIMARY KEY,
//	    uniqueid            TEXT NOT NULL,
//	    linkedid            TEXT NOT NULL DEFAULT '',
//	    call_uniqueid       TEXT NULL REFERENCES calls(uniqueid) ON DELETE CASCADE,
//	    no_call             BOOLEAN NOT NULL DEFAULT FALSE,
//	    name                TEXT NOT NULL DEFAULT '',
//	    state               TEXT NOT NULL DEFAULT '',
//	    state_desc          TEXT NOT NULL DEFAULT '',
//	    callerid_num        TEXT NOT NULL DEFAULT '',
//	    callerid_name       TEXT NOT NULL DEFAULT '',
//	    connected_line_num  TEXT NOT NULL DEFAULT '',
//	    connected_line_name TEXT NOT NULL DEFAULT '',
//	    context             TEXT NOT NULL DEFAULT '',
//	    exten               TEXT NOT NULL DEFAULT '',
//	    language            TEXT NOT NULL DEFAULT '',
//	    accountcode         TEXT NOT NULL DEFAULT '',
//	    priority            TEXT NOT NULL DEFAULT '',
//	    system_name         TEXT NOT NULL DEFAULT '',
//	    event               TEXT NOT NULL DEFAULT '',
//	    ts                  TEXT NOT NULL DEFAULT '',
//	    cause               TEXT NOT NULL DEFAULT '',
//	    cause_txt           TEXT NOT NULL DEFAULT '',
//	    hangup_at           TIMESTAMPTZ NULL,
//	    recording_file_path TEXT NOT NULL DEFAULT '',
//	    user_id             TEXT NOT NULL DEFAULT '',
//	    is_active           BOOLEAN NOT NULL,
//	    created_at          TIMESTAMPTZ NOT NULL,
//	    updated_at          TIMESTAMPTZ NOT NULL
//	);
//	CREATE UNIQUE INDEX channels_active_uniqueid_idx
//	    ON channels (uniqueid) WHERE is_active;
//	CREATE INDEX channels_call_idx ON channels (call_uniqueid);
//	CREATE INDEX channels_created_at_idx ON channels (created_at);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const channelColumns = `id, uniqueid, linkedid, call_uniqueid, no_call, name,
	state, state_desc, callerid_num, callerid_name,
	connected_line_num, connected_line_name, context, exten,
	language, accountcode, priority, system_name, event, ts,
	cause, cause_txt, hangup_at, recording_file_path,
	user_id, is_active, created_at, updated_at`

func (r *PostgresRepo) GetActiveByUniqueID(ctx context.Context, uniqueID string) (Channel, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE uniqueid = $1 AND is_active`,
		uniqueID)
	return scanChannel(row)
}

func (r *PostgresRepo) GetLatestByUniqueID(ctx context.Context, uniqueID string) (Channel, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE uniqueid = $1
		 ORDER BY created_at DESC LIMIT 1`, uniqueID)
	return scanChannel(row)
}

func (r *PostgresRepo) Create(ctx context.Context, ch Channel) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO channels (`+channelColumns+`)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10,
		         $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		         $21, $22, $23, $24, $25, $26, $27, $28)`,
		channelArgs(ch)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrActiveExists
		}
		return fmt.Errorf("channels: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Update(ctx context.Context, ch Channel) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE channels SET uniqueid = $2, linkedid = $3, call_uniqueid = NULLIF($4, ''),
		        no_call = $5, name = $6, state = $7, state_desc = $8,
		        callerid_num = $9, callerid_name = $10,
		        connected_line_num = $11, connected_line_name = $12,
		        context = $13, exten = $14, language = $15, accountcode = $16,
		        priority = $17, system_name = $18, event = $19, ts = $20,
		        cause = $21, cause_txt = $22, hangup_at = $23,
		        recording_file_path = $24, user_id = $25, is_active = $26,
		        created_at = $27, updated_at = $28
		 WHERE id = $1`,
		channelArgs(ch)...)
	if err != nil {
		return fmt.Errorf("channels: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE 1=1`
	var args []any
	if f.ActiveOnly {
		query += ` AND is_active`
	}
	if f.SystemName != "" {
		args = append(args, f.SystemName)
		query += fmt.Sprintf(` AND system_name = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("channels: list: %w", err)
	}
	defer rows.Close()
	return collectChannels(rows)
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callUniqueID string) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE call_uniqueid = $1
		 ORDER BY created_at`, callUniqueID)
	if err != nil {
		return nil, fmt.Errorf("channels: list by call: %w", err)
	}
	defer rows.Close()
	return collectChannels(rows)
}

func (r *PostgresRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM channels WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("channels: delete created: %w", err)
	}
	return res.RowsAffected()
}

func channelArgs(ch Channel) []any {
	return []any{
		ch.ID, ch.UniqueID, ch.LinkedID, ch.CallUniqueID, ch.NoCall, ch.Name,
		ch.State, ch.StateDesc, ch.CallerIDNum, ch.CallerIDName,
		ch.ConnectedLineNum, ch.ConnectedLineName, ch.Context, ch.Exten,
		ch.Language, ch.AccountCode, ch.Priority, ch.SystemName, ch.Event, ch.Timestamp,
		ch.Cause, ch.CauseTxt, nullTime(ch.HangupAt), ch.RecordingFilePath,
		ch.UserID, ch.IsActive, ch.CreatedAt, ch.UpdatedAt,
	}
}

func collectChannels(rows *sql.Rows) ([]Channel, error) {
	var out []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (Channel, error) {
	var (
		ch       Channel
		callUID  sql.NullString
		hangupAt sql.NullTime
	)
	err := row.Scan(
		&ch.ID, &ch.UniqueID, &ch.LinkedID, &callUID, &ch.NoCall, &ch.Name,
		&ch.State, &ch.StateDesc, &ch.CallerIDNum, &ch.CallerIDName,
		&ch.ConnectedLineNum, &ch.ConnectedLineName, &ch.Context, &ch.Exten,
		&ch.Language, &ch.AccountCode, &ch.Priority, &ch.SystemName, &ch.Event, &ch.Timestamp,
		&ch.Cause, &ch.CauseTxt, &hangupAt, &ch.RecordingFilePath,
		&ch.UserID, &ch.IsActive, &ch.CreatedAt, &ch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Channel{}, ErrNotFound
		}
		return Channel{}, fmt.Errorf("channels: scan: %w", err)
	}
	ch.CallUniqueID = callUID.String
	ch.HangupAt = hangupAt.Time
	return ch, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
