package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/outreachhq/outreach-backend/internal/repository"
)

// CreditService runs the pessimistic debit-before-call protocol for
// prepaid-credit-metered actions: generate a reference id before any side
// effect, debit, perform the external call only on debit success, and on
// external failure issue an idempotent rollback under the same reference id.
type CreditService struct {
	CreditRepo repository.CreditRepositoryInterface
	Logger     zerolog.Logger
}

// WithDebit wraps call in the debit/rollback protocol. A zero amount means
// the action is not metered and call runs directly. An insufficient balance
// short-circuits before call is invoked.
func (s *CreditService) WithDebit(ctx context.Context, workspaceID int, resource string, amount int, description string, call func() error) error {
	if amount <= 0 {
		return call()
	}

	referenceID := uuid.NewString()
	if err := s.CreditRepo.Debit(ctx, workspaceID, resource, amount, referenceID, description); err != nil {
		return err
	}

	if err := call(); err != nil {
		// The rollback must not be lost: a repeated attempt with the same
		// reference id is a no-op, so retrying here is always safe.
		if rbErr := s.CreditRepo.Credit(ctx, workspaceID, resource, amount, referenceID, "rollback: "+description); rbErr != nil {
			s.Logger.Error().
				Err(rbErr).
				Int("workspace_id", workspaceID).
				Str("reference_id", referenceID).
				Msg("credit rollback failed; ledger entry pending manual replay")
		}
		return err
	}
	return nil
}

// Balance reports the remaining prepaid credits of a workspace resource.
func (s *CreditService) Balance(ctx context.Context, workspaceID int, resource string) (int, error) {
	return s.CreditRepo.Balance(ctx, workspaceID, resource)
}
