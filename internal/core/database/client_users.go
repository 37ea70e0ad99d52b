package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/markdave123-py/Rehearsal/internal/models"
)

// Implementing the db interface for users and accounts

const userColumns = `id, account_id, name, role, external_id, created_at`

func scanUser(s scanner) (*models.User, error) {
	var u models.User
	if err := s.Scan(&u.ID, &u.AccountID, &u.Name, &u.Role, &u.ExternalID, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO users (id, account_id, name, role, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := c.db.ExecContext(ctx, q,
		user.ID, user.AccountID, user.Name, user.Role, user.ExternalID, user.CreatedAt)
	return classify(err)
}

func (c *DatabaseClient) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (c *DatabaseClient) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE external_id = $1`, externalID)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// ListUsers returns every user, or only those with role when it is set.
func (c *DatabaseClient) ListUsers(ctx context.Context, role string) ([]models.User, error) {
	q := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if role != "" {
		q += ` WHERE role = $1`
		args = append(args, role)
	}
	q += ` ORDER BY name ASC`

	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) CreateAccount(ctx context.Context, acct *models.Account) error {
	if acct == nil {
		return errors.New("nil account")
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	const q = `INSERT INTO accounts (id, name, vector_store_id, created_at) VALUES ($1, $2, $3, $4)`
	_, err := c.db.ExecContext(ctx, q, acct.ID, acct.Name, acct.VectorStoreID, acct.CreatedAt)
	return classify(err)
}

// GetAccountByID loads the account together with its procedure history.
func (c *DatabaseClient) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	var a models.Account
	err := c.db.QueryRowContext(ctx,
		`SELECT id, name, vector_store_id, created_at FROM accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.VectorStoreID, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	history, err := c.ListProcedures(ctx, id)
	if err != nil {
		return nil, err
	}
	a.ProcedureHistory = history
	return &a, nil
}

// SetAccountVectorStore assigns a vector store id only if none is set yet and
// returns the id the account ends up with.
func (c *DatabaseClient) SetAccountVectorStore(ctx context.Context, accountID, storeID string) (string, error) {
	_, err := c.db.ExecContext(ctx,
		`UPDATE accounts SET vector_store_id = $1 WHERE id = $2 AND vector_store_id IS NULL`,
		storeID, accountID)
	if err != nil {
		return "", classify(err)
	}
	var current sql.NullString
	err = c.db.QueryRowContext(ctx, `SELECT vector_store_id FROM accounts WHERE id = $1`, accountID).Scan(&current)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return current.String, nil
}

// AppendProcedure adds a history row. History rows are never updated.
func (c *DatabaseClient) AppendProcedure(ctx context.Context, entry *models.ProcedureEntry) error {
	if entry == nil {
		return errors.New("nil procedure entry")
	}
	if entry.UploadedAt.IsZero() {
		entry.UploadedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO account_procedures (id, account_id, file_name, storage_url, uploaded_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := c.db.ExecContext(ctx, q, entry.ID, entry.AccountID, entry.FileName, entry.StorageURL, entry.UploadedAt)
	return classify(err)
}

func (c *DatabaseClient) ListProcedures(ctx context.Context, accountID string) ([]models.ProcedureEntry, error) {
	const q = `
		SELECT id, account_id, file_name, storage_url, uploaded_at
		FROM account_procedures
		WHERE account_id = $1
		ORDER BY uploaded_at ASC
	`
	rows, err := c.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ProcedureEntry{}
	for rows.Next() {
		var p models.ProcedureEntry
		if err := rows.Scan(&p.ID, &p.AccountID, &p.FileName, &p.StorageURL, &p.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
