package audit

import (
	"encoding/json"
	"log"
	"time"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Reference string    `json:"reference"`
	AccountID string    `json:"account_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

// AuditLogger emits a structured line for every money movement so
// reconciliation can replay what happened and when.
type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

func (a *AuditLogger) LogSettlement(externalID, accountID string, amount int64, status string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "SETTLEMENT",
		Reference: externalID,
		AccountID: accountID,
		Amount:    amount,
		Status:    status,
	})
}

func (a *AuditLogger) LogWithdrawalTransition(requestID, accountID string, amount int64, from, to string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "WITHDRAWAL_TRANSITION",
		Reference: requestID,
		AccountID: accountID,
		Amount:    amount,
		Status:    to,
		Details:   map[string]string{"from": from, "to": to},
	})
}

func (a *AuditLogger) LogError(reference, accountID string, err error) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "ERROR",
		Reference: reference,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
