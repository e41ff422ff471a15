package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/note-autopublisher/internal/jobs"
)

const accountColumns = `id, user_id, note_user_id, COALESCE(note_username, ''), auth_token, is_primary,
	last_synced_at, created_at, updated_at`

func scanAccount(row pgx.Row) (jobs.Account, error) {
	var account jobs.Account
	err := row.Scan(
		&account.ID,
		&account.UserID,
		&account.ExternalID,
		&account.DisplayName,
		&account.EncryptedToken,
		&account.IsPrimary,
		&account.LastSyncedAt,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	return account, err
}

// GetAccount fetches an account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (jobs.Account, error) {
	account, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM note_accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Account{}, fmt.Errorf("account %s: %w", id, jobs.ErrNotFound)
	}
	if err != nil {
		return jobs.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return account, nil
}

// ListAccounts returns userID's accounts oldest first.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]jobs.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM note_accounts WHERE user_id = $1 ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	out := make([]jobs.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return out, nil
}

const insertAccountSQL = `
INSERT INTO note_accounts (
	id, user_id, note_user_id, note_username, auth_token, is_primary, last_synced_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + accountColumns

// InsertAccount stores a new account.
func (s *Store) InsertAccount(ctx context.Context, account jobs.Account) (jobs.Account, error) {
	inserted, err := scanAccount(s.pool.QueryRow(ctx, insertAccountSQL,
		account.ID,
		account.UserID,
		account.ExternalID,
		jobs.StringPtr(account.DisplayName),
		account.EncryptedToken,
		account.IsPrimary,
		account.LastSyncedAt,
		account.CreatedAt,
		account.UpdatedAt,
	))
	if err != nil {
		return jobs.Account{}, fmt.Errorf("insert account: %w", err)
	}
	return inserted, nil
}

const updateAccountTokenSQL = `
UPDATE note_accounts
SET auth_token = $2, note_username = $3, last_synced_at = $4, updated_at = $5
WHERE id = $1
RETURNING ` + accountColumns

// UpdateAccountToken replaces the token, display name and sync time of an existing account.
func (s *Store) UpdateAccountToken(ctx context.Context, account jobs.Account) (jobs.Account, error) {
	updated, err := scanAccount(s.pool.QueryRow(ctx, updateAccountTokenSQL,
		account.ID,
		account.EncryptedToken,
		jobs.StringPtr(account.DisplayName),
		account.LastSyncedAt,
		account.UpdatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Account{}, fmt.Errorf("account %s: %w", account.ID, jobs.ErrNotFound)
	}
	if err != nil {
		return jobs.Account{}, fmt.Errorf("update account %s: %w", account.ID, err)
	}
	return updated, nil
}
