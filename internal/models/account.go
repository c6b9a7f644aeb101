package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// AccountKind distinguishes the investor portal wallet from the
// organization (NGO/corporate) portal wallet.
type AccountKind string

const (
	AccountKindInvestor     AccountKind = "investor"
	AccountKindOrganization AccountKind = "organization"
)

func (k AccountKind) Valid() bool {
	return k == AccountKindInvestor || k == AccountKindOrganization
}

// AccountStatus values. Accounts are never deleted, only deactivated.
const (
	AccountStatusActive      = "ACTIVE"
	AccountStatusDeactivated = "DEACTIVATED"
)

// Account holds no money directly; its balance is derived from the ledger.
type Account struct {
	ID        string      `json:"id" db:"id"`
	Kind      AccountKind `json:"kind" db:"kind"`
	Status    string      `json:"status" db:"status"`
	Email     string      `json:"email" db:"email"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" db:"updated_at"`
}

// Metadata type for JSONB fields
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
