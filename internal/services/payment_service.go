package services

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/greenvest/backend/internal/config"
	"github.com/greenvest/backend/internal/middleware"
	"github.com/greenvest/backend/internal/models"
	"github.com/skip2/go-qrcode"
)

// PaymentService creates and reads payment intent records. An intent is
// created when a payment attempt starts and is settled later by the
// webhook processor; this service never touches the ledger.
type PaymentService struct {
	db        *sql.DB
	cfg       *config.WalletConfig
	validator *ValidationHelper
}

func NewPaymentService(db *sql.DB, cfg *config.WalletConfig) *PaymentService {
	return &PaymentService{
		db:        db,
		cfg:       cfg,
		validator: NewValidationHelper(),
	}
}

// CreateIntent inserts a pending payment intent for the account.
func (s *PaymentService) CreateIntent(accountID string, amount int64, currency string) (*models.PaymentIntent, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}

	intent := &models.PaymentIntent{
		ExternalID: "pi_" + uuid.New().String(),
		AccountID:  accountID,
		Amount:     amount,
		Currency:   currency,
		Status:     models.IntentStatusPending,
	}

	err := s.db.QueryRow(`
		INSERT INTO payment_intents (external_id, account_id, amount, currency, status, webhook_processed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, false, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		intent.ExternalID, intent.AccountID, intent.Amount, intent.Currency, intent.Status,
	).Scan(&intent.ID, &intent.CreatedAt, &intent.UpdatedAt)

	if err != nil {
		log.Printf("[PAYMENT] Failed to create intent for account %s: %v", accountID, err)
		return nil, fmt.Errorf("%w: intent insert: %v", ErrPersistence, err)
	}

	return intent, nil
}

// GetIntent fetches one intent by external id, scoped to the account.
func (s *PaymentService) GetIntent(accountID, externalID string) (*models.PaymentIntent, error) {
	intent := &models.PaymentIntent{}
	var entryID sql.NullInt64
	err := s.db.QueryRow(`
		SELECT id, external_id, account_id, amount, currency, status, webhook_processed, ledger_entry_id, created_at, updated_at
		FROM payment_intents
		WHERE external_id = $1 AND account_id = $2`,
		externalID, accountID,
	).Scan(&intent.ID, &intent.ExternalID, &intent.AccountID, &intent.Amount,
		&intent.Currency, &intent.Status, &intent.WebhookProcessed,
		&entryID, &intent.CreatedAt, &intent.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: payment intent %s", ErrNotFound, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: intent fetch: %v", ErrPersistence, err)
	}
	if entryID.Valid {
		intent.LedgerEntryID = &entryID.Int64
	}
	return intent, nil
}

// checkoutQR renders the processor checkout URL as a base64 PNG so mobile
// portals can show a scannable top-up code.
func (s *PaymentService) checkoutQR(checkoutURL string) (string, error) {
	qr, err := qrcode.New(checkoutURL, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// CreateDeposit starts a wallet top-up
// @Summary Start a deposit
// @Description Create a payment intent with the external processor and return its checkout reference
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,currency=string} true "Deposit request"
// @Success 201 {object} object{success=bool,intent=models.PaymentIntent,checkoutUrl=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/deposits [post]
func (s *PaymentService) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount   int64  `json:"amount" validate:"required,gt=0"`
		Currency string `json:"currency" validate:"required,len=3"`
	}

	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendServiceError(w, err)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	intent, err := s.CreateIntent(accountID, req.Amount, req.Currency)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	checkoutURL := s.cfg.CheckoutBaseURL + intent.ExternalID
	qrImage, err := s.checkoutQR(checkoutURL)
	if err != nil {
		// The intent is already created; the portal can still render the URL.
		log.Printf("[PAYMENT] QR generation failed for intent %s: %v", intent.ExternalID, err)
	}

	log.Printf("[PAYMENT] Created intent %s for account %s, amount %d", intent.ExternalID, accountID, intent.Amount)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"intent":      intent,
		"checkoutUrl": checkoutURL,
		"qrImage":     qrImage,
	})
}

// GetDeposit fetches one payment intent
// @Summary Get a deposit
// @Description Fetch a payment intent by its external id
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param externalId path string true "External payment id"
// @Success 200 {object} models.PaymentIntent
// @Failure 404 {object} services.ErrorResponse
// @Router /wallet/deposits/{externalId} [get]
func (s *PaymentService) GetDeposit(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	intent, err := s.GetIntent(accountID, chi.URLParam(r, "externalId"))
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(intent)
}
