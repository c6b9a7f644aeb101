package models

import (
	"strings"
	"time"
)

// WithdrawalStatus is the closed set of withdrawal request states.
type WithdrawalStatus string

const (
	WithdrawalStatusPendingApproval WithdrawalStatus = "pending_approval"
	WithdrawalStatusApproved        WithdrawalStatus = "approved"
	WithdrawalStatusProcessing      WithdrawalStatus = "processing"
	WithdrawalStatusCompleted       WithdrawalStatus = "completed"
	WithdrawalStatusRejected        WithdrawalStatus = "rejected"
)

func (s WithdrawalStatus) Valid() bool {
	switch s {
	case WithdrawalStatusPendingApproval, WithdrawalStatusApproved,
		WithdrawalStatusProcessing, WithdrawalStatusCompleted,
		WithdrawalStatusRejected:
		return true
	}
	return false
}

// Reserving reports whether a request in this state still counts toward
// the account's pending withdrawals. A rejected or completed request
// releases its reservation immediately.
func (s WithdrawalStatus) Reserving() bool {
	switch s {
	case WithdrawalStatusPendingApproval, WithdrawalStatusApproved, WithdrawalStatusProcessing:
		return true
	}
	return false
}

// WithdrawalRequest tracks a withdrawal through its approval lifecycle.
// Funds only leave the ledger at completion; earlier states reserve them
// via the balance calculator's pending-withdrawals subtraction.
type WithdrawalRequest struct {
	ID             string           `json:"id" db:"id"`
	AccountID      string           `json:"account_id" db:"account_id"`
	Amount         int64            `json:"amount" db:"amount"` // in cents, positive
	Destination    string           `json:"destination" db:"destination"`
	Status         WithdrawalStatus `json:"status" db:"status"`
	RequestedAt    time.Time        `json:"requested_at" db:"requested_at"`
	ApprovedAt     *time.Time       `json:"approved_at,omitempty" db:"approved_at"`
	AvailableAt    *time.Time       `json:"available_at,omitempty" db:"available_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	RejectedReason *string          `json:"rejected_reason,omitempty" db:"rejected_reason"`
	LedgerEntryID  *int64           `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
}

// MaskDestination hides all but the last 4 characters of a payout
// destination for read responses.
func MaskDestination(destination string) string {
	if len(destination) <= 4 {
		return destination
	}
	return strings.Repeat("*", len(destination)-4) + destination[len(destination)-4:]
}

// Masked returns a copy safe for read responses.
func (w WithdrawalRequest) Masked() WithdrawalRequest {
	w.Destination = MaskDestination(w.Destination)
	return w
}
