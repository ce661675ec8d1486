package contacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PostgresRepo stores contacts in Postgres (pgx stdlib driver).
//
// Expected schema:
//
//	CREATE TABLE contacts (
//	    id                UUID PRIMARY KEY,
//	    name              TEXT NOT NULL,
//	    phone             TEXT NOT NULL DEFAULT '',
//	    mobile            TEXT NOT NULL DEFAULT '',
//	    phone_normalized  TEXT NOT NULL DEFAULT '',
//	    mobile_normalized TEXT NOT NULL DEFAULT '',
//	    parent_id         UUID NULL REFERENCES contacts(id) ON DELETE SET NULL,
//	    is_company        BOOLEAN NOT NULL DEFAULT FALSE,
//	    country           TEXT NOT NULL DEFAULT '',
//	    created_at        TIMESTAMPTZ NOT NULL,
//	    updated_at        TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX contacts_phone_normalized_idx ON contacts (phone_normalized);
//	CREATE INDEX contacts_mobile_normalized_idx ON contacts (mobile_normalized);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

const contactColumns = `id, name, phone, mobile, phone_normalized, mobile_normalized,
	COALESCE(parent_id::text, ''), is_company, country, created_at, updated_at`

func (r *PostgresRepo) FindByNormalizedNumber(ctx context.Context, number string) ([]Contact, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+contactColumns+` FROM contacts
		 WHERE phone_normalized = $1 OR mobile_normalized = $1`, number)
	if err != nil {
		return nil, fmt.Errorf("contacts: query by number: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetByID(ctx context.Context, id string) (Contact, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) Create(ctx context.Context, c Contact) (Contact, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO contacts (id, name, phone, mobile, phone_normalized, mobile_normalized,
		                       parent_id, is_company, country, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, '')::uuid, $8, $9, $10, $11)`,
		c.ID, c.Name, c.Phone, c.Mobile, c.PhoneNormalized, c.MobileNormalized,
		c.ParentID, c.IsCompany, c.Country, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return Contact{}, fmt.Errorf("contacts: insert: %w", err)
	}
	return c, nil
}

func (r *PostgresRepo) Update(ctx context.Context, c Contact) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE contacts SET name = $2, phone = $3, mobile = $4,
		        phone_normalized = $5, mobile_normalized = $6,
		        parent_id = NULLIF($7, '')::uuid, is_company = $8, country = $9,
		        updated_at = $10
		 WHERE id = $1`,
		c.ID, c.Name, c.Phone, c.Mobile, c.PhoneNormalized, c.MobileNormalized,
		c.ParentID, c.IsCompany, c.Country, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("contacts: update: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM contacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("contacts: delete: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID, &c.Name, &c.Phone, &c.Mobile, &c.PhoneNormalized, &c.MobileNormalized,
		&c.ParentID, &c.IsCompany, &c.Country, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, err
		}
		return Contact{}, fmt.Errorf("contacts: scan: %w", err)
	}
	return c, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
