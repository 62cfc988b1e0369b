package repository

import (
	"context"
	"database/sql"
	"fmt"

	appErrors "github.com/outreachhq/outreach-backend/internal/errors"
)

type CreditRepositoryInterface interface {
	Debit(ctx context.Context, workspaceID int, resource string, amount int, referenceID, description string) error
	Credit(ctx context.Context, workspaceID int, resource string, amount int, referenceID, description string) error
	Balance(ctx context.Context, workspaceID int, resource string) (int, error)
}

type CreditRepository struct {
	DB *sql.DB
}

// Debit reserves prepaid credits before an external call. The ledger insert
// and the conditional balance decrement run in one transaction; the unique
// (reference_id, entry_type) index makes a repeated debit with the same
// reference a no-op instead of a second charge.
func (r *CreditRepository) Debit(ctx context.Context, workspaceID int, resource string, amount int, referenceID, description string) error {
	return r.apply(ctx, workspaceID, resource, amount, referenceID, description, "debit")
}

// Credit compensates a failed external call. Idempotent for a given
// reference id: the second rollback leaves the balance unchanged.
func (r *CreditRepository) Credit(ctx context.Context, workspaceID int, resource string, amount int, referenceID, description string) error {
	return r.apply(ctx, workspaceID, resource, amount, referenceID, description, "credit")
}

func (r *CreditRepository) apply(ctx context.Context, workspaceID int, resource string, amount int, referenceID, description, entryType string) error {
	if amount <= 0 {
		return fmt.Errorf("credit ledger amount must be positive, got %d", amount)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin credit tx: %w", err)
	}
	defer tx.Rollback()

	signed := amount
	if entryType == "debit" {
		signed = -amount
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (workspace_id, resource, entry_type, amount, reference_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (reference_id, entry_type) DO NOTHING
	`, workspaceID, resource, entryType, signed, referenceID, description)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if inserted == 0 {
		// Already applied under this reference id. Nothing more to do.
		return tx.Commit()
	}

	if entryType == "debit" {
		res, err := tx.ExecContext(ctx, `
			UPDATE workspace_credits SET balance = balance - $1, updated_at = NOW()
			WHERE workspace_id = $2 AND resource = $3 AND balance >= $1
		`, amount, workspaceID, resource)
		if err != nil {
			return fmt.Errorf("failed to apply debit: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Balance row missing or too low. Rolling back removes the
			// ledger entry as well, so the reference id stays reusable.
			return &appErrors.ErrInsufficientCredits{WorkspaceID: workspaceID, Resource: resource, Amount: amount}
		}
	} else {
		_, err := tx.ExecContext(ctx, `
			UPDATE workspace_credits SET balance = balance + $1, updated_at = NOW()
			WHERE workspace_id = $2 AND resource = $3
		`, amount, workspaceID, resource)
		if err != nil {
			return fmt.Errorf("failed to apply credit: %w", err)
		}
	}

	return tx.Commit()
}

func (r *CreditRepository) Balance(ctx context.Context, workspaceID int, resource string) (int, error) {
	var balance int
	query := `SELECT balance FROM workspace_credits WHERE workspace_id=$1 AND resource=$2`
	err := r.DB.QueryRowContext(ctx, query, workspaceID, resource).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

var _ CreditRepositoryInterface = (*CreditRepository)(nil)
