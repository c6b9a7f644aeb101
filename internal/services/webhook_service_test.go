package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/greenvest/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

const testWebhookSecret = "test-webhook-secret"

func signPayload(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func succeededEvent(externalID string, amount int64) []byte {
	return []byte(fmt.Sprintf(
		`{"eventType":"payment.updated","data":{"externalId":"%s","amount":%d,"status":"succeeded"}}`,
		externalID, amount))
}

func newWebhookServiceForTest(db *sql.DB) *WebhookService {
	ledger := NewLedgerService(db)
	balance := NewBalanceService(db, nil, time.Minute)
	notifier := NewNotifier(nil, "")
	return NewWebhookService(db, ledger, balance, notifier, testWebhookSecret)
}

func TestWebhookService_VerifySignature(t *testing.T) {
	service := newWebhookServiceForTest(nil)
	payload := []byte(`{"eventType":"payment.updated"}`)

	t.Run("accepts valid signature", func(t *testing.T) {
		assert.NoError(t, service.VerifySignature(payload, signPayload(payload)))
	})

	t.Run("rejects tampered payload", func(t *testing.T) {
		signature := signPayload(payload)
		err := service.VerifySignature([]byte(`{"eventType":"tampered"}`), signature)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("rejects malformed signature", func(t *testing.T) {
		err := service.VerifySignature(payload, "not-hex")
		assert.ErrorIs(t, err, ErrAuthentication)
	})
}

func TestWebhookService_HandleEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newWebhookServiceForTest(db)
	ctx := context.Background()

	t.Run("bad signature touches nothing", func(t *testing.T) {
		payload := succeededEvent("pi_1", 50_000)

		err := service.HandleEvent(ctx, payload, "deadbeef")
		assert.ErrorIs(t, err, ErrAuthentication)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed payload rejected after authentication", func(t *testing.T) {
		payload := []byte(`{"eventType":`)

		err := service.HandleEvent(ctx, payload, signPayload(payload))
		assert.ErrorIs(t, err, ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown intent", func(t *testing.T) {
		payload := succeededEvent("pi_missing", 50_000)

		mock.ExpectQuery("SELECT account_id, amount, webhook_processed").
			WithArgs("pi_missing").
			WillReturnError(sql.ErrNoRows)

		err := service.HandleEvent(ctx, payload, signPayload(payload))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replay of processed intent is acknowledged without writes", func(t *testing.T) {
		payload := succeededEvent("pi_done", 50_000)

		mock.ExpectQuery("SELECT account_id, amount, webhook_processed").
			WithArgs("pi_done").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "amount", "webhook_processed"}).
				AddRow("acct-1", 50_000, true))

		err := service.HandleEvent(ctx, payload, signPayload(payload))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("succeeded event settles atomically", func(t *testing.T) {
		payload := succeededEvent("pi_2", 75_000)

		mock.ExpectQuery("SELECT account_id, amount, webhook_processed").
			WithArgs("pi_2").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "amount", "webhook_processed"}).
				AddRow("acct-1", 75_000, false))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT webhook_processed FROM payment_intents").
			WithArgs("pi_2").
			WillReturnRows(sqlmock.NewRows([]string{"webhook_processed"}).AddRow(false))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-1", models.EntryTypeDeposit, int64(75_000), sqlmock.AnyArg(),
				models.EntryStatusCompleted, "pi_2").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(7, time.Now()))
		mock.ExpectExec("INSERT INTO platform_settlements").
			WithArgs("pi_2", "acct-1", int64(75_000)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE payment_intents").
			WithArgs(int64(7), "pi_2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.HandleEvent(ctx, payload, signPayload(payload))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("settlement rolls back when the ledger insert fails", func(t *testing.T) {
		payload := succeededEvent("pi_3", 75_000)

		mock.ExpectQuery("SELECT account_id, amount, webhook_processed").
			WithArgs("pi_3").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "amount", "webhook_processed"}).
				AddRow("acct-1", 75_000, false))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT webhook_processed FROM payment_intents").
			WithArgs("pi_3").
			WillReturnRows(sqlmock.NewRows([]string{"webhook_processed"}).AddRow(false))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-1", models.EntryTypeDeposit, int64(75_000), sqlmock.AnyArg(),
				models.EntryStatusCompleted, "pi_3").
			WillReturnError(fmt.Errorf("connection reset"))
		mock.ExpectRollback()

		err := service.HandleEvent(ctx, payload, signPayload(payload))
		assert.ErrorIs(t, err, ErrPersistence)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("concurrent delivery loses the row lock race", func(t *testing.T) {
		payload := succeededEvent("pi_4", 75_000)

		mock.ExpectQuery("SELECT account_id, amount, webhook_processed").
			WithArgs("pi_4").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "amount", "webhook_processed"}).
				AddRow("acct-1", 75_000, false))

		mock.ExpectBegin()
		// The other delivery committed between the lookup and the lock.
		mock.ExpectQuery("SELECT webhook_processed FROM payment_intents").
			WithArgs("pi_4").
			WillReturnRows(sqlmock.NewRows([]string{"webhook_processed"}).AddRow(true))
		mock.ExpectRollback()

		err := service.HandleEvent(ctx, payload, signPayload(payload))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed event marks intent terminal without moving funds", func(t *testing.T) {
		payload := []byte(`{"eventType":"payment.updated","data":{"externalId":"pi_5","amount":75000,"status":"failed"}}`)

		mock.ExpectQuery("SELECT account_id, amount, webhook_processed").
			WithArgs("pi_5").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "amount", "webhook_processed"}).
				AddRow("acct-1", 75_000, false))

		mock.ExpectExec("UPDATE payment_intents").
			WithArgs("failed", "pi_5").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := service.HandleEvent(ctx, payload, signPayload(payload))
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("settlement enforces the deposit sign convention", func(t *testing.T) {
		// A corrupted intent row with a negative amount must not reach the
		// ledger.
		payload := succeededEvent("pi_neg", -75_000)

		mock.ExpectQuery("SELECT account_id, amount, webhook_processed").
			WithArgs("pi_neg").
			WillReturnRows(sqlmock.NewRows([]string{"account_id", "amount", "webhook_processed"}).
				AddRow("acct-1", -75_000, false))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT webhook_processed FROM payment_intents").
			WithArgs("pi_neg").
			WillReturnRows(sqlmock.NewRows([]string{"webhook_processed"}).AddRow(false))
		mock.ExpectRollback()

		err := service.HandleEvent(ctx, payload, signPayload(payload))
		assert.ErrorIs(t, err, ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-terminal event status rejected", func(t *testing.T) {
		payload := []byte(`{"eventType":"payment.updated","data":{"externalId":"pi_6","amount":75000,"status":"pending"}}`)

		err := service.HandleEvent(ctx, payload, signPayload(payload))
		assert.ErrorIs(t, err, ErrValidation)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWebhookService_settle(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := newWebhookServiceForTest(db)

	t.Run("winner reports funds moved", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT webhook_processed FROM payment_intents").
			WithArgs("pi_1").
			WillReturnRows(sqlmock.NewRows([]string{"webhook_processed"}).AddRow(false))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("acct-1", models.EntryTypeDeposit, int64(10_000), sqlmock.AnyArg(),
				models.EntryStatusCompleted, "pi_1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(3, time.Now()))
		mock.ExpectExec("INSERT INTO platform_settlements").
			WithArgs("pi_1", "acct-1", int64(10_000)).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE payment_intents").
			WithArgs(int64(3), "pi_1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		settled, err := service.settle("pi_1", "acct-1", 10_000)
		assert.NoError(t, err)
		assert.True(t, settled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("race loser reports nothing moved", func(t *testing.T) {
		// Nothing was written, so the caller must not audit or notify.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT webhook_processed FROM payment_intents").
			WithArgs("pi_2").
			WillReturnRows(sqlmock.NewRows([]string{"webhook_processed"}).AddRow(true))
		mock.ExpectRollback()

		settled, err := service.settle("pi_2", "acct-1", 10_000)
		assert.NoError(t, err)
		assert.False(t, settled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
