package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"

	"github.com/greenvest/backend/internal/audit"
	"github.com/greenvest/backend/internal/models"
)

// WebhookEvent is the payment processor's notification payload.
type WebhookEvent struct {
	EventType string           `json:"eventType"`
	Data      WebhookEventData `json:"data"`
}

type WebhookEventData struct {
	ExternalID string `json:"externalId"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status"`
}

// WebhookService turns processor notifications into durable, exactly-once
// financial state. Delivery is at-least-once and unordered; idempotency,
// not locking, is what makes redelivery safe here.
type WebhookService struct {
	db       *sql.DB
	ledger   *LedgerService
	balance  *BalanceService
	notifier *Notifier
	audit    *audit.AuditLogger
	secret   []byte
}

func NewWebhookService(db *sql.DB, ledger *LedgerService, balance *BalanceService, notifier *Notifier, secret string) *WebhookService {
	return &WebhookService{
		db:       db,
		ledger:   ledger,
		balance:  balance,
		notifier: notifier,
		audit:    audit.NewAuditLogger(),
		secret:   []byte(secret),
	}
}

// VerifySignature recomputes the HMAC-SHA256 of the raw body and compares
// it against the hex signature header. On mismatch nothing else runs: no
// record is read or written.
func (s *WebhookService) VerifySignature(payload []byte, signature string) error {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrAuthentication)
	}

	if !hmac.Equal(expected, provided) {
		return fmt.Errorf("%w: webhook signature mismatch", ErrAuthentication)
	}

	return nil
}

// HandleEvent processes one processor notification:
// authenticate, locate, idempotency check, then settle atomically.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	if err := s.VerifySignature(payload, signature); err != nil {
		return err
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: malformed event payload", ErrValidation)
	}
	if event.Data.ExternalID == "" {
		return fmt.Errorf("%w: event is missing externalId", ErrValidation)
	}

	status := models.IntentStatus(event.Data.Status)
	if !status.Terminal() {
		return fmt.Errorf("%w: unsupported event status %q", ErrValidation, event.Data.Status)
	}

	var (
		accountID string
		amount    int64
		processed bool
	)
	err := s.db.QueryRow(`
		SELECT account_id, amount, webhook_processed
		FROM payment_intents
		WHERE external_id = $1`,
		event.Data.ExternalID,
	).Scan(&accountID, &amount, &processed)

	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: payment intent %s", ErrNotFound, event.Data.ExternalID)
	}
	if err != nil {
		return fmt.Errorf("%w: intent lookup: %v", ErrPersistence, err)
	}

	// Safe replay: once processed, redeliveries succeed without touching
	// any record.
	if processed {
		log.Printf("[SETTLEMENT] Replay of processed event for intent %s, ignoring", event.Data.ExternalID)
		return nil
	}

	if status == models.IntentStatusSucceeded {
		settled, err := s.settle(event.Data.ExternalID, accountID, amount)
		if err != nil {
			s.audit.LogError(event.Data.ExternalID, accountID, err)
			return err
		}
		// The race loser acknowledges without the side effects; the winner
		// already audited and notified for this settlement.
		if !settled {
			return nil
		}
		s.audit.LogSettlement(event.Data.ExternalID, accountID, amount, "SUCCEEDED")
		s.balance.RefreshHint(ctx, accountID)
		go s.notifier.DepositSettled(context.Background(), accountID, event.Data.ExternalID, amount)
		return nil
	}

	if err := s.markTerminal(event.Data.ExternalID, status); err != nil {
		s.audit.LogError(event.Data.ExternalID, accountID, err)
		return err
	}
	s.audit.LogSettlement(event.Data.ExternalID, accountID, amount, "NO_FUNDS_MOVED")
	return nil
}

// settle materializes a succeeded payment as a single all-or-nothing unit:
// deposit ledger entry, platform settlement mirror, intent marked
// processed with the entry linked. If any step fails everything rolls back
// and webhook_processed stays false, so the processor's next redelivery
// re-attempts settlement from scratch. Returns false when a concurrent
// delivery settled first and this one wrote nothing.
func (s *WebhookService) settle(externalID, accountID string, amount int64) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("%w: begin settlement: %v", ErrPersistence, err)
	}
	defer tx.Rollback()

	// Concurrent redeliveries race to this row lock; the loser sees
	// webhook_processed already true and backs out without writing.
	var processed bool
	err = tx.QueryRow(`
		SELECT webhook_processed FROM payment_intents
		WHERE external_id = $1
		FOR UPDATE`,
		externalID,
	).Scan(&processed)
	if err != nil {
		return false, fmt.Errorf("%w: lock intent: %v", ErrPersistence, err)
	}
	if processed {
		log.Printf("[SETTLEMENT] Intent %s settled by a concurrent delivery", externalID)
		return false, nil
	}

	entry := &models.LedgerEntry{
		AccountID:         accountID,
		Type:              models.EntryTypeDeposit,
		Amount:            amount,
		Description:       fmt.Sprintf("Wallet deposit of %s via payment processor", models.FormatAmount(amount)),
		Status:            models.EntryStatusCompleted,
		ExternalReference: externalID,
	}
	if err := s.ledger.AppendTx(tx, entry); err != nil {
		return false, err
	}

	_, err = tx.Exec(`
		INSERT INTO platform_settlements (external_id, account_id, amount, direction, created_at)
		VALUES ($1, $2, $3, 'credit', NOW())`,
		externalID, accountID, amount)
	if err != nil {
		return false, fmt.Errorf("%w: settlement mirror: %v", ErrPersistence, err)
	}

	_, err = tx.Exec(`
		UPDATE payment_intents
		SET status = 'succeeded', webhook_processed = true, ledger_entry_id = $1, updated_at = NOW()
		WHERE external_id = $2`,
		entry.ID, externalID)
	if err != nil {
		return false, fmt.Errorf("%w: mark intent processed: %v", ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit settlement: %v", ErrPersistence, err)
	}

	log.Printf("[SETTLEMENT] Settled intent %s: credited %d to account %s (entry %d)", externalID, amount, accountID, entry.ID)
	return true, nil
}

// markTerminal records a failed or canceled attempt. No ledger entry is
// created because no funds moved, but the idempotency flag is still set so
// replays stay cheap.
func (s *WebhookService) markTerminal(externalID string, status models.IntentStatus) error {
	result, err := s.db.Exec(`
		UPDATE payment_intents
		SET status = $1, webhook_processed = true, updated_at = NOW()
		WHERE external_id = $2 AND webhook_processed = false`,
		status, externalID)
	if err != nil {
		return fmt.Errorf("%w: mark intent %s: %v", ErrPersistence, status, err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		// Lost the race against another delivery; already terminal.
		log.Printf("[SETTLEMENT] Intent %s already terminal, ignoring %s event", externalID, status)
		return nil
	}

	log.Printf("[SETTLEMENT] Intent %s marked %s, no funds moved", externalID, status)
	return nil
}
