package models

import (
	"time"
)

// IntentStatus is the payment attempt state machine:
// pending -> succeeded | failed | canceled (terminal).
type IntentStatus string

const (
	IntentStatusPending   IntentStatus = "pending"
	IntentStatusSucceeded IntentStatus = "succeeded"
	IntentStatusFailed    IntentStatus = "failed"
	IntentStatusCanceled  IntentStatus = "canceled"
)

func (s IntentStatus) Valid() bool {
	switch s {
	case IntentStatusPending, IntentStatusSucceeded, IntentStatusFailed, IntentStatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether the status ends the payment attempt.
func (s IntentStatus) Terminal() bool {
	return s == IntentStatusSucceeded || s == IntentStatusFailed || s == IntentStatusCanceled
}

// PaymentIntent mirrors one external payment-processor attempt.
// WebhookProcessed is the idempotency guard: once true, no further ledger
// mutation may occur for this ExternalID no matter how many times the
// processor redelivers the notification.
type PaymentIntent struct {
	ID               int64        `json:"id" db:"id"`
	ExternalID       string       `json:"external_id" db:"external_id"`
	AccountID        string       `json:"account_id" db:"account_id"`
	Amount           int64        `json:"amount" db:"amount"` // in cents
	Currency         string       `json:"currency" db:"currency"`
	Status           IntentStatus `json:"status" db:"status"`
	WebhookProcessed bool         `json:"webhook_processed" db:"webhook_processed"`
	LedgerEntryID    *int64       `json:"ledger_entry_id,omitempty" db:"ledger_entry_id"`
	Metadata         Metadata     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}
