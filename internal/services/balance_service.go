package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// WalletBalance is the read-model snapshot derived from the ledger and the
// outstanding withdrawal requests. It is recomputed from source records on
// every call; no cached copy is ever trusted for decisions.
type WalletBalance struct {
	Balance            int64 `json:"balance"`
	AvailableBalance   int64 `json:"availableBalance"`
	PendingWithdrawals int64 `json:"pendingWithdrawals"`
	TotalDeposited     int64 `json:"totalDeposited"`
	TotalInvested      int64 `json:"totalInvested"`
	TotalReturns       int64 `json:"totalReturns"`
	TotalRevenue       int64 `json:"totalRevenue"`
}

// BalanceService derives balances from the ledger. Stateless aside from
// the optional Redis hint cache, which is non-authoritative: it decorates
// listings, it never feeds a withdrawal-eligibility check.
type BalanceService struct {
	db      *sql.DB
	redis   *redis.Client
	hintTTL time.Duration
}

func NewBalanceService(db *sql.DB, redisClient *redis.Client, hintTTL time.Duration) *BalanceService {
	if hintTTL <= 0 {
		hintTTL = time.Minute
	}
	return &BalanceService{db: db, redis: redisClient, hintTTL: hintTTL}
}

type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

const balanceQuery = `
		SELECT COALESCE(SUM(amount), 0),
		       COALESCE(SUM(CASE WHEN type = 'deposit' THEN amount ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN type = 'investment' THEN -amount ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN type = 'return' THEN amount ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN type = 'revenue' THEN amount ELSE 0 END), 0)
		FROM ledger_entries
		WHERE account_id = $1 AND status = 'completed'`

const pendingWithdrawalsQuery = `
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawal_requests
		WHERE account_id = $1 AND status IN ('pending_approval', 'approved', 'processing')`

// ComputeBalance recomputes the wallet snapshot from the ledger and the
// withdrawal request store.
func (s *BalanceService) ComputeBalance(ctx context.Context, accountID string) (*WalletBalance, error) {
	bal, err := computeBalance(s.db, accountID)
	if err != nil {
		return nil, err
	}
	s.writeHint(ctx, accountID, bal)
	return bal, nil
}

// ComputeBalanceTx runs the same derivation inside a caller-held
// transaction so the withdrawal reservation check sees the state it
// locked. No hint is written; the caller has not committed yet.
func (s *BalanceService) ComputeBalanceTx(tx *sql.Tx, accountID string) (*WalletBalance, error) {
	return computeBalance(tx, accountID)
}

func computeBalance(q rowQuerier, accountID string) (*WalletBalance, error) {
	var bal WalletBalance
	err := q.QueryRow(balanceQuery, accountID).Scan(
		&bal.Balance, &bal.TotalDeposited, &bal.TotalInvested,
		&bal.TotalReturns, &bal.TotalRevenue,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: balance derivation: %v", ErrPersistence, err)
	}

	err = q.QueryRow(pendingWithdrawalsQuery, accountID).Scan(&bal.PendingWithdrawals)
	if err != nil {
		return nil, fmt.Errorf("%w: pending withdrawals derivation: %v", ErrPersistence, err)
	}

	bal.AvailableBalance = bal.Balance - bal.PendingWithdrawals
	if bal.AvailableBalance < 0 {
		// A negative balance is a data anomaly; available floors at zero.
		bal.AvailableBalance = 0
	}

	return &bal, nil
}

func balanceHintKey(accountID string) string {
	return "wallet:balance:" + accountID
}

// writeHint stores the freshly computed snapshot in Redis for listing
// decoration. Failures are logged, never surfaced.
func (s *BalanceService) writeHint(ctx context.Context, accountID string, bal *WalletBalance) {
	if s.redis == nil {
		return
	}
	data, err := json.Marshal(bal)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, balanceHintKey(accountID), data, s.hintTTL).Err(); err != nil {
		log.Printf("[WALLET] Failed to cache balance hint for account %s: %v", accountID, err)
	}
}

// BalanceHint returns the cached snapshot if one exists. Callers must
// treat it as a display hint only.
func (s *BalanceService) BalanceHint(ctx context.Context, accountID string) (*WalletBalance, bool) {
	if s.redis == nil {
		return nil, false
	}
	data, err := s.redis.Get(ctx, balanceHintKey(accountID)).Bytes()
	if err != nil {
		return nil, false
	}
	var bal WalletBalance
	if err := json.Unmarshal(data, &bal); err != nil {
		return nil, false
	}
	return &bal, true
}

// RefreshHint recomputes and re-caches the snapshot after a write path
// changed the ledger. Best-effort.
func (s *BalanceService) RefreshHint(ctx context.Context, accountID string) {
	if s.redis == nil {
		return
	}
	if _, err := s.ComputeBalance(ctx, accountID); err != nil {
		log.Printf("[WALLET] Failed to refresh balance hint for account %s: %v", accountID, err)
	}
}
