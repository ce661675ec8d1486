package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresRepo reads the PBX user directory from Postgres.
//
// Expected schema:
//
//	CREATE TABLE pbx_users (
//	    user_id        TEXT PRIMARY KEY,
//	    name           TEXT NOT NULL,
//	    exten          TEXT NOT NULL DEFAULT '',
//	    contact_id     TEXT NOT NULL DEFAULT '',
//	    country        TEXT NOT NULL DEFAULT '',
//	    notify_popup   BOOLEAN NOT NULL DEFAULT TRUE,
//	    popup_sticky   BOOLEAN NOT NULL DEFAULT FALSE,
//	    open_reference BOOLEAN NOT NULL DEFAULT FALSE
//	);
//	CREATE TABLE pbx_user_channels (
//	    name              TEXT NOT NULL,
//	    system_name       TEXT NOT NULL,
//	    user_id           TEXT NOT NULL REFERENCES pbx_users(user_id) ON DELETE CASCADE,
//	    originate_enabled BOOLEAN NOT NULL DEFAULT TRUE,
//	    PRIMARY KEY (name, system_name)
//	);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) FindChannel(ctx context.Context, shortChannel, systemName string) (UserChannel, error) {
	var c UserChannel
	err := r.db.QueryRowContext(ctx,
		`SELECT name, system_name, user_id, originate_enabled
		 FROM pbx_user_channels WHERE name = $1 AND system_name = $2`,
		shortChannel, systemName).
		Scan(&c.Name, &c.SystemName, &c.UserID, &c.OriginateEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return UserChannel{}, ErrNotFound
	}
	if err != nil {
		return UserChannel{}, fmt.Errorf("directory: find channel: %w", err)
	}
	return c, nil
}

func (r *PostgresRepo) FindUserByExten(ctx context.Context, exten string) (PbxUser, error) {
	return r.queryUser(ctx,
		`SELECT user_id, name, exten, contact_id, country, notify_popup, popup_sticky, open_reference
		 FROM pbx_users WHERE exten = $1 LIMIT 1`, exten)
}

func (r *PostgresRepo) GetUser(ctx context.Context, userID string) (PbxUser, error) {
	return r.queryUser(ctx,
		`SELECT user_id, name, exten, contact_id, country, notify_popup, popup_sticky, open_reference
		 FROM pbx_users WHERE user_id = $1`, userID)
}

func (r *PostgresRepo) UserChannels(ctx context.Context, userID string) ([]UserChannel, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT name, system_name, user_id, originate_enabled
		 FROM pbx_user_channels WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("directory: user channels: %w", err)
	}
	defer rows.Close()

	var out []UserChannel
	for rows.Next() {
		var c UserChannel
		if err := rows.Scan(&c.Name, &c.SystemName, &c.UserID, &c.OriginateEnabled); err != nil {
			return nil, fmt.Errorf("directory: scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) queryUser(ctx context.Context, query string, arg any) (PbxUser, error) {
	var u PbxUser
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&u.UserID, &u.Name, &u.Exten, &u.ContactID, &u.Country,
			&u.NotifyPopup, &u.PopupSticky, &u.OpenReference)
	if errors.Is(err, sql.ErrNoRows) {
		return PbxUser{}, ErrNotFound
	}
	if err != nil {
		return PbxUser{}, fmt.Errorf("directory: query user: %w", err)
	}
	return u, nil
}
