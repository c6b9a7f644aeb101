package models

import (
	"fmt"
	"time"
)

// EntryType is the closed vocabulary of ledger entry types. The sign of an
// entry's amount is fixed by its type at creation time and never
// reinterpreted on read.
type EntryType string

const (
	EntryTypeDeposit    EntryType = "deposit"
	EntryTypeWithdrawal EntryType = "withdrawal"
	EntryTypeInvestment EntryType = "investment"
	EntryTypeReturn     EntryType = "return"
	EntryTypeFee        EntryType = "fee"
	EntryTypeRevenue    EntryType = "revenue"
	EntryTypeRefund     EntryType = "refund"
	EntryTypeAdjustment EntryType = "adjustment"
)

func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeDeposit, EntryTypeWithdrawal, EntryTypeInvestment,
		EntryTypeReturn, EntryTypeFee, EntryTypeRevenue,
		EntryTypeRefund, EntryTypeAdjustment:
		return true
	}
	return false
}

// Credit reports whether entries of this type carry a positive amount.
// Adjustments may go either way and are excluded.
func (t EntryType) Credit() bool {
	switch t {
	case EntryTypeDeposit, EntryTypeReturn, EntryTypeRevenue, EntryTypeRefund:
		return true
	}
	return false
}

// Debit reports whether entries of this type carry a negative amount.
func (t EntryType) Debit() bool {
	switch t {
	case EntryTypeWithdrawal, EntryTypeInvestment, EntryTypeFee:
		return true
	}
	return false
}

// EntryStatus values. Only completed entries count toward balance.
type EntryStatus string

const (
	EntryStatusCompleted  EntryStatus = "completed"
	EntryStatusPending    EntryStatus = "pending"
	EntryStatusFailed     EntryStatus = "failed"
	EntryStatusProcessing EntryStatus = "processing"
)

func (s EntryStatus) Valid() bool {
	switch s {
	case EntryStatusCompleted, EntryStatusPending, EntryStatusFailed, EntryStatusProcessing:
		return true
	}
	return false
}

// LedgerEntry is an immutable row in the append-only transaction ledger.
// Corrections are made by appending a compensating adjustment entry,
// never by mutating history.
type LedgerEntry struct {
	ID                int64       `json:"id" db:"id"`
	AccountID         string      `json:"account_id" db:"account_id"`
	Type              EntryType   `json:"type" db:"type"`
	Amount            int64       `json:"amount" db:"amount"` // in cents, signed
	Description       string      `json:"description" db:"description"`
	Status            EntryStatus `json:"status" db:"status"`
	ExternalReference string      `json:"external_reference,omitempty" db:"external_reference"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

// PlatformSettlement mirrors a processor-originated credit for
// reconciliation reporting, carrying a reference back to the external id.
type PlatformSettlement struct {
	ID         int64     `json:"id" db:"id"`
	ExternalID string    `json:"external_id" db:"external_id"`
	AccountID  string    `json:"account_id" db:"account_id"`
	Amount     int64     `json:"amount" db:"amount"`
	Direction  string    `json:"direction" db:"direction"` // credit or debit
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// FormatAmount renders a signed cent amount as a decimal string, e.g.
// -20000 -> "-200.00".
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
