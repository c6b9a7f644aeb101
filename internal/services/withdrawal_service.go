package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/greenvest/backend/internal/audit"
	"github.com/greenvest/backend/internal/config"
	"github.com/greenvest/backend/internal/middleware"
	"github.com/greenvest/backend/internal/models"
)

// WithdrawalService drives withdrawal requests through
// pending_approval -> approved -> processing -> completed, with rejected
// reachable from pending_approval and approved. Funds are reserved from
// creation (they reduce availableBalance) but the ledger is only debited
// at completion.
type WithdrawalService struct {
	db        *sql.DB
	ledger    *LedgerService
	balance   *BalanceService
	payout    *PayoutService
	notifier  *Notifier
	audit     *audit.AuditLogger
	validator *ValidationHelper
	cfg       *config.WalletConfig
}

func NewWithdrawalService(db *sql.DB, ledger *LedgerService, balance *BalanceService, payout *PayoutService, notifier *Notifier, cfg *config.WalletConfig) *WithdrawalService {
	return &WithdrawalService{
		db:        db,
		ledger:    ledger,
		balance:   balance,
		payout:    payout,
		notifier:  notifier,
		audit:     audit.NewAuditLogger(),
		validator: NewValidationHelper(),
		cfg:       cfg,
	}
}

// CreateRequest validates and inserts a withdrawal request. The balance
// check and the insert run in one transaction holding the account's row
// lock, serializing concurrent requests per account: two requests that
// would jointly overdraw cannot both pass, because the second one
// recomputes availableBalance after the first insert committed.
func (s *WithdrawalService) CreateRequest(accountID string, amount int64, destination string) (*models.WithdrawalRequest, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if destination == "" {
		return nil, fmt.Errorf("%w: destination is required", ErrValidation)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: begin reservation: %v", ErrPersistence, err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`
		SELECT status FROM accounts
		WHERE id = $1
		FOR UPDATE`,
		accountID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock account: %v", ErrPersistence, err)
	}
	if status != models.AccountStatusActive {
		return nil, fmt.Errorf("%w: account is not active", ErrValidation)
	}

	// Recomputed fresh inside the lock, never taken from a cache.
	bal, err := s.balance.ComputeBalanceTx(tx, accountID)
	if err != nil {
		return nil, err
	}
	if amount > bal.AvailableBalance {
		return nil, fmt.Errorf("%w: requested %s exceeds available %s",
			ErrInsufficientFunds, models.FormatAmount(amount), models.FormatAmount(bal.AvailableBalance))
	}

	req := &models.WithdrawalRequest{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Amount:      amount,
		Destination: destination,
		Status:      models.WithdrawalStatusPendingApproval,
	}

	err = tx.QueryRow(`
		INSERT INTO withdrawal_requests (id, account_id, amount, destination, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING requested_at`,
		req.ID, req.AccountID, req.Amount, req.Destination, req.Status,
	).Scan(&req.RequestedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: request insert: %v", ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit reservation: %v", ErrPersistence, err)
	}

	log.Printf("[WITHDRAWAL] Created request %s for account %s, amount %d, available was %d",
		req.ID, accountID, amount, bal.AvailableBalance)
	return req, nil
}

// Approve transitions pending_approval -> approved and stamps the payout
// availability window.
func (s *WithdrawalService) Approve(requestID string) (*models.WithdrawalRequest, error) {
	now := time.Now()
	availableAt := now.Add(s.cfg.PayoutDelay)

	result, err := s.db.Exec(`
		UPDATE withdrawal_requests
		SET status = 'approved', approved_at = $1, available_at = $2
		WHERE id = $3 AND status = 'pending_approval'`,
		now, availableAt, requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: approve update: %v", ErrPersistence, err)
	}
	if err := s.requireTransition(result, requestID, models.WithdrawalStatusApproved); err != nil {
		return nil, err
	}

	return s.afterTransition(requestID, "pending_approval")
}

// Reject transitions pending_approval or approved -> rejected with a
// required reason, releasing the reserved amount immediately.
func (s *WithdrawalService) Reject(requestID, reason string) (*models.WithdrawalRequest, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: a rejection reason is required", ErrValidation)
	}

	result, err := s.db.Exec(`
		UPDATE withdrawal_requests
		SET status = 'rejected', rejected_reason = $1
		WHERE id = $2 AND status IN ('pending_approval', 'approved')`,
		reason, requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: reject update: %v", ErrPersistence, err)
	}
	if err := s.requireTransition(result, requestID, models.WithdrawalStatusRejected); err != nil {
		return nil, err
	}

	return s.afterTransition(requestID, "pending_approval|approved")
}

// StartProcessing transitions approved -> processing.
func (s *WithdrawalService) StartProcessing(requestID string) (*models.WithdrawalRequest, error) {
	result, err := s.db.Exec(`
		UPDATE withdrawal_requests
		SET status = 'processing'
		WHERE id = $1 AND status = 'approved'`,
		requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: processing update: %v", ErrPersistence, err)
	}
	if err := s.requireTransition(result, requestID, models.WithdrawalStatusProcessing); err != nil {
		return nil, err
	}

	return s.afterTransition(requestID, "approved")
}

// Complete transitions processing -> completed and appends the withdrawal
// ledger entry in the same transaction. This is the only point where a
// withdrawal actually debits the ledger.
func (s *WithdrawalService) Complete(requestID string) (*models.WithdrawalRequest, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("%w: begin completion: %v", ErrPersistence, err)
	}
	defer tx.Rollback()

	req := &models.WithdrawalRequest{ID: requestID}
	var current models.WithdrawalStatus
	err = tx.QueryRow(`
		SELECT account_id, amount, destination, status
		FROM withdrawal_requests
		WHERE id = $1
		FOR UPDATE`,
		requestID,
	).Scan(&req.AccountID, &req.Amount, &req.Destination, &current)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: withdrawal request %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock request: %v", ErrPersistence, err)
	}
	if current != models.WithdrawalStatusProcessing {
		return nil, fmt.Errorf("%w: cannot complete a request in state %q", ErrInvalidState, current)
	}

	entry := &models.LedgerEntry{
		AccountID:         req.AccountID,
		Type:              models.EntryTypeWithdrawal,
		Amount:            -req.Amount,
		Description:       fmt.Sprintf("Withdrawal payout to %s", models.MaskDestination(req.Destination)),
		Status:            models.EntryStatusCompleted,
		ExternalReference: requestID,
	}
	if err := s.ledger.AppendTx(tx, entry); err != nil {
		return nil, err
	}

	now := time.Now()
	_, err = tx.Exec(`
		UPDATE withdrawal_requests
		SET status = 'completed', completed_at = $1, ledger_entry_id = $2
		WHERE id = $3`,
		now, entry.ID, requestID)
	if err != nil {
		return nil, fmt.Errorf("%w: mark completed: %v", ErrPersistence, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit completion: %v", ErrPersistence, err)
	}

	req.Status = models.WithdrawalStatusCompleted
	req.CompletedAt = &now
	req.LedgerEntryID = &entry.ID

	s.audit.LogWithdrawalTransition(requestID, req.AccountID, req.Amount, "processing", "completed")
	log.Printf("[WITHDRAWAL] Completed request %s: debited %d from account %s (entry %d)",
		requestID, req.Amount, req.AccountID, entry.ID)

	// Payout instruction and notification are best-effort side channels;
	// the completed transition never unwinds if they fail.
	if err := s.payout.SendPayout(req); err != nil {
		log.Printf("[WITHDRAWAL] Payout instruction failed for request %s: %v", requestID, err)
	}
	ctx := context.Background()
	s.balance.RefreshHint(ctx, req.AccountID)
	go s.notifier.WithdrawalStatusChanged(context.Background(), req.AccountID, requestID, "completed")

	return req, nil
}

// requireTransition turns a zero-row guarded update into NotFound or
// InvalidState depending on whether the request exists at all.
func (s *WithdrawalService) requireTransition(result sql.Result, requestID string, target models.WithdrawalStatus) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrPersistence, err)
	}
	if n > 0 {
		return nil
	}

	var current models.WithdrawalStatus
	err = s.db.QueryRow(`SELECT status FROM withdrawal_requests WHERE id = $1`, requestID).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: withdrawal request %s", ErrNotFound, requestID)
	}
	if err != nil {
		return fmt.Errorf("%w: status lookup: %v", ErrPersistence, err)
	}
	return fmt.Errorf("%w: cannot move a %q request to %q", ErrInvalidState, current, target)
}

func (s *WithdrawalService) afterTransition(requestID, from string) (*models.WithdrawalRequest, error) {
	req, err := s.fetchRequest(requestID)
	if err != nil {
		return nil, err
	}
	s.audit.LogWithdrawalTransition(requestID, req.AccountID, req.Amount, from, string(req.Status))
	go s.notifier.WithdrawalStatusChanged(context.Background(), req.AccountID, requestID, string(req.Status))
	return req, nil
}

func (s *WithdrawalService) fetchRequest(requestID string) (*models.WithdrawalRequest, error) {
	req := &models.WithdrawalRequest{}
	var (
		approvedAt, availableAt, completedAt sql.NullTime
		reason                               sql.NullString
		entryID                              sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT id, account_id, amount, destination, status, requested_at,
		       approved_at, available_at, completed_at, rejected_reason, ledger_entry_id
		FROM withdrawal_requests
		WHERE id = $1`,
		requestID,
	).Scan(&req.ID, &req.AccountID, &req.Amount, &req.Destination, &req.Status,
		&req.RequestedAt, &approvedAt, &availableAt, &completedAt, &reason, &entryID)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: withdrawal request %s", ErrNotFound, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: request fetch: %v", ErrPersistence, err)
	}

	if approvedAt.Valid {
		req.ApprovedAt = &approvedAt.Time
	}
	if availableAt.Valid {
		req.AvailableAt = &availableAt.Time
	}
	if completedAt.Valid {
		req.CompletedAt = &completedAt.Time
	}
	if reason.Valid {
		req.RejectedReason = &reason.String
	}
	if entryID.Valid {
		req.LedgerEntryID = &entryID.Int64
	}
	return req, nil
}

// ListForAccount returns the account's withdrawal requests, newest first.
func (s *WithdrawalService) ListForAccount(accountID string, limit int) ([]models.WithdrawalRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, account_id, amount, destination, status, requested_at,
		       approved_at, available_at, completed_at, rejected_reason, ledger_entry_id
		FROM withdrawal_requests
		WHERE account_id = $1
		ORDER BY requested_at DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: request list: %v", ErrPersistence, err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

// ListByStatus returns the approval queue for the admin portal.
func (s *WithdrawalService) ListByStatus(status models.WithdrawalStatus, limit int) ([]models.WithdrawalRequest, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unrecognized withdrawal status %q", ErrValidation, status)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, account_id, amount, destination, status, requested_at,
		       approved_at, available_at, completed_at, rejected_reason, ledger_entry_id
		FROM withdrawal_requests
		WHERE status = $1
		ORDER BY requested_at ASC
		LIMIT $2`,
		status, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: queue list: %v", ErrPersistence, err)
	}
	defer rows.Close()

	return scanRequests(rows)
}

func scanRequests(rows *sql.Rows) ([]models.WithdrawalRequest, error) {
	requests := []models.WithdrawalRequest{}
	for rows.Next() {
		var req models.WithdrawalRequest
		var (
			approvedAt, availableAt, completedAt sql.NullTime
			reason                               sql.NullString
			entryID                              sql.NullInt64
		)
		err := rows.Scan(&req.ID, &req.AccountID, &req.Amount, &req.Destination, &req.Status,
			&req.RequestedAt, &approvedAt, &availableAt, &completedAt, &reason, &entryID)
		if err != nil {
			return nil, fmt.Errorf("%w: request scan: %v", ErrPersistence, err)
		}
		if approvedAt.Valid {
			req.ApprovedAt = &approvedAt.Time
		}
		if availableAt.Valid {
			req.AvailableAt = &availableAt.Time
		}
		if completedAt.Valid {
			req.CompletedAt = &completedAt.Time
		}
		if reason.Valid {
			req.RejectedReason = &reason.String
		}
		if entryID.Valid {
			req.LedgerEntryID = &entryID.Int64
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// HTTP handlers

// RequestWithdrawal creates a withdrawal request
// @Summary Request a withdrawal
// @Description Reserve funds for a withdrawal pending approval
// @Tags wallet
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,destination=string} true "Withdrawal request"
// @Success 201 {object} object{success=bool,request=models.WithdrawalRequest}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/withdrawals [post]
func (s *WithdrawalService) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount      int64  `json:"amount" validate:"required,gt=0"`
		Destination string `json:"destination" validate:"required,min=4,max=64"`
	}

	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendServiceError(w, err)
		return
	}

	if err := s.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	created, err := s.CreateRequest(accountID, req.Amount, req.Destination)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"request": created.Masked(),
	})
}

// ListWithdrawals lists the caller's withdrawal requests
// @Summary List withdrawal requests
// @Description Get the account's withdrawal requests, destinations masked
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{requests=[]models.WithdrawalRequest,count=int}
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/withdrawals [get]
func (s *WithdrawalService) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	requests, err := s.ListForAccount(accountID, 50)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	masked := make([]models.WithdrawalRequest, 0, len(requests))
	for _, req := range requests {
		masked = append(masked, req.Masked())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"requests": masked,
		"count":    len(masked),
	})
}

// ApprovalQueue lists requests awaiting an approver
// @Summary List the approval queue
// @Description Get withdrawal requests by status for the admin portal, decorated with cached balance hints
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "Withdrawal status (default pending_approval)"
// @Success 200 {object} object{requests=[]object,count=int}
// @Failure 400 {object} services.ErrorResponse
// @Router /admin/withdrawals [get]
func (s *WithdrawalService) ApprovalQueue(w http.ResponseWriter, r *http.Request) {
	status := models.WithdrawalStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.WithdrawalStatusPendingApproval
	}

	requests, err := s.ListByStatus(status, 100)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	// The cached hint is display-only: the authoritative check happens
	// again inside CreateRequest's transaction.
	rowsOut := make([]map[string]any, 0, len(requests))
	for _, req := range requests {
		row := map[string]any{"request": req.Masked()}
		if hint, ok := s.balance.BalanceHint(r.Context(), req.AccountID); ok {
			row["balanceHint"] = hint
		}
		rowsOut = append(rowsOut, row)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"requests": rowsOut,
		"count":    len(rowsOut),
	})
}

// ApproveWithdrawal approves a pending request
// @Summary Approve a withdrawal
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal request id"
// @Success 200 {object} object{success=bool,request=models.WithdrawalRequest}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/withdrawals/{id}/approve [put]
func (s *WithdrawalService) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, func(id string) (*models.WithdrawalRequest, error) {
		return s.Approve(id)
	})
}

// RejectWithdrawal rejects a request with a reason
// @Summary Reject a withdrawal
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal request id"
// @Param request body object{reason=string} true "Rejection reason"
// @Success 200 {object} object{success=bool,request=models.WithdrawalRequest}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/withdrawals/{id}/reject [put]
func (s *WithdrawalService) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason" validate:"required,min=3,max=200"`
	}
	if err := DecodeJSONBody(w, r, &body); err != nil {
		SendServiceError(w, err)
		return
	}
	if err := s.validator.ValidateStruct(&body); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	s.transitionHandler(w, r, func(id string) (*models.WithdrawalRequest, error) {
		return s.Reject(id, body.Reason)
	})
}

// ProcessWithdrawal moves an approved request into processing
// @Summary Start processing a withdrawal
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal request id"
// @Success 200 {object} object{success=bool,request=models.WithdrawalRequest}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/withdrawals/{id}/process [put]
func (s *WithdrawalService) ProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, func(id string) (*models.WithdrawalRequest, error) {
		return s.StartProcessing(id)
	})
}

// CompleteWithdrawal finalizes a processing request and debits the ledger
// @Summary Complete a withdrawal
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal request id"
// @Success 200 {object} object{success=bool,request=models.WithdrawalRequest}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/withdrawals/{id}/complete [put]
func (s *WithdrawalService) CompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(w, r, func(id string) (*models.WithdrawalRequest, error) {
		return s.Complete(id)
	})
}

func (s *WithdrawalService) transitionHandler(w http.ResponseWriter, r *http.Request, transition func(string) (*models.WithdrawalRequest, error)) {
	requestID := chi.URLParam(r, "id")
	if requestID == "" {
		SendErrorResponse(w, "Request id is required", http.StatusBadRequest, nil)
		return
	}

	req, err := transition(requestID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"request": req.Masked(),
	})
}
