package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/greenvest/backend/internal/middleware"
	"github.com/greenvest/backend/internal/models"
)

// WalletService assembles the wallet overview: a freshly recomputed
// balance plus recent activity. Totals shown depend on the account kind;
// investors see investment figures, organizations see revenue.
type WalletService struct {
	db          *sql.DB
	balance     *BalanceService
	ledger      *LedgerService
	withdrawals *WithdrawalService
	cfg         *walletViewConfig
}

type walletViewConfig struct {
	recentTransactions int
	recentWithdrawals  int
}

func NewWalletService(db *sql.DB, balance *BalanceService, ledger *LedgerService, withdrawals *WithdrawalService, recentTransactions, recentWithdrawals int) *WalletService {
	if recentTransactions <= 0 {
		recentTransactions = 10
	}
	if recentWithdrawals <= 0 {
		recentWithdrawals = 5
	}
	return &WalletService{
		db:          db,
		balance:     balance,
		ledger:      ledger,
		withdrawals: withdrawals,
		cfg: &walletViewConfig{
			recentTransactions: recentTransactions,
			recentWithdrawals:  recentWithdrawals,
		},
	}
}

func (s *WalletService) fetchAccount(accountID string) (*models.Account, error) {
	acct := &models.Account{}
	err := s.db.QueryRow(`
		SELECT id, kind, status, email, created_at
		FROM accounts
		WHERE id = $1`,
		accountID,
	).Scan(&acct.ID, &acct.Kind, &acct.Status, &acct.Email, &acct.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: account fetch: %v", ErrPersistence, err)
	}
	return acct, nil
}

// Overview builds the wallet view for an account. The balance figures are
// always recomputed from the ledger, never served from the Redis hint.
func (s *WalletService) Overview(ctx context.Context, accountID string) (map[string]any, error) {
	acct, err := s.fetchAccount(accountID)
	if err != nil {
		return nil, err
	}

	bal, err := s.balance.ComputeBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}

	recent, err := s.ledger.ListForAccount(accountID, LedgerFilter{Limit: s.cfg.recentTransactions})
	if err != nil {
		return nil, err
	}

	requests, err := s.withdrawals.ListForAccount(accountID, s.cfg.recentWithdrawals)
	if err != nil {
		return nil, err
	}
	masked := make([]models.WithdrawalRequest, 0, len(requests))
	for _, req := range requests {
		masked = append(masked, req.Masked())
	}

	view := map[string]any{
		"accountId":          acct.ID,
		"email":              acct.Email,
		"kind":               acct.Kind,
		"balance":            bal.Balance,
		"availableBalance":   bal.AvailableBalance,
		"pendingWithdrawals": bal.PendingWithdrawals,
		"totalDeposited":     bal.TotalDeposited,
		"recentTransactions": recent,
		"recentWithdrawals":  masked,
	}

	switch acct.Kind {
	case models.AccountKindInvestor:
		view["totalInvested"] = bal.TotalInvested
		view["totalReturns"] = bal.TotalReturns
	case models.AccountKindOrganization:
		view["totalRevenue"] = bal.TotalRevenue
	}

	return view, nil
}

// GetWallet returns the caller's wallet overview
// @Summary Get wallet overview
// @Description Get the account's balance, recent transactions and withdrawals. Balances are recomputed from the ledger on every call.
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /wallet [get]
func (s *WalletService) GetWallet(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	view, err := s.Overview(r.Context(), accountID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(view)
}
