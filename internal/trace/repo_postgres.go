package trace

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRepo stores trace records in Postgres.
//
// Expected schema:
//
//	CREATE TABLE trace_records (
//	    id               UUID PRIMARY KEY,
//	    channel_uniqueid TEXT NOT NULL DEFAULT '',
//	    event            TEXT NOT NULL,
//	    system_name      TEXT NOT NULL DEFAULT '',
//	    payload          JSONB NOT NULL,
//	    created_at       TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX trace_records_created_at_idx ON trace_records (created_at);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, rec Record) error {
	if rec.Event == "" {
		return ErrInvalidRecord
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trace_records (id, channel_uniqueid, event, system_name, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.ChannelUniqueID, rec.Event, rec.SystemName, rec.Payload, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("trace: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM trace_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trace: delete: %w", err)
	}
	return res.RowsAffected()
}
