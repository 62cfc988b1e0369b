package model

import "time"

// Credit resource types.
const (
	CreditResourceMessages = "messages"
	CreditResourceLookups  = "lookups"
)

// Ledger entry directions. A debit and its compensating credit share one
// reference id; (reference_id, entry_type) is unique, which is what makes
// repeated rollbacks idempotent.
const (
	CreditEntryDebit  = "debit"
	CreditEntryCredit = "credit"
)

// CreditLedgerEntry is one signed movement of prepaid credits.
type CreditLedgerEntry struct {
	ID          int       `db:"id" json:"id"`
	WorkspaceID int       `db:"workspace_id" json:"workspace_id"`
	Resource    string    `db:"resource" json:"resource"`
	EntryType   string    `db:"entry_type" json:"entry_type"`
	Amount      int       `db:"amount" json:"amount"`
	ReferenceID string    `db:"reference_id" json:"reference_id"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
