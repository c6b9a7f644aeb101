package services

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/greenvest/backend/internal/middleware"
	"github.com/greenvest/backend/internal/models"
)

// LedgerService is the append-only store of signed-amount entries per
// account, the single source of truth for money movement. There is no
// update or delete path; corrections append a compensating adjustment.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// LedgerFilter narrows ListForAccount results.
type LedgerFilter struct {
	Type   models.EntryType
	Status models.EntryStatus
	Limit  int
	Offset int
}

// Append inserts one immutable ledger entry using the service's own
// connection. Settlement and withdrawal completion use AppendTx instead so
// the insert joins their surrounding transaction.
func (s *LedgerService) Append(entry *models.LedgerEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	return s.insert(s.db, entry)
}

// AppendTx inserts one immutable ledger entry inside a caller-held
// database transaction.
func (s *LedgerService) AppendTx(tx *sql.Tx, entry *models.LedgerEntry) error {
	if err := validateEntry(entry); err != nil {
		return err
	}
	return s.insert(tx, entry)
}

func validateEntry(entry *models.LedgerEntry) error {
	if entry.AccountID == "" {
		return fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if entry.Amount == 0 {
		return fmt.Errorf("%w: amount must be non-zero", ErrValidation)
	}
	if !entry.Type.Valid() {
		return fmt.Errorf("%w: unrecognized entry type %q", ErrValidation, entry.Type)
	}
	if entry.Status == "" {
		return fmt.Errorf("%w: status is required", ErrValidation)
	}
	if !entry.Status.Valid() {
		return fmt.Errorf("%w: unrecognized entry status %q", ErrValidation, entry.Status)
	}
	// The sign convention is applied at creation time, never reinterpreted.
	if entry.Type.Credit() && entry.Amount < 0 {
		return fmt.Errorf("%w: %s entries must carry a positive amount", ErrValidation, entry.Type)
	}
	if entry.Type.Debit() && entry.Amount > 0 {
		return fmt.Errorf("%w: %s entries must carry a negative amount", ErrValidation, entry.Type)
	}
	return nil
}

type execQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func (s *LedgerService) insert(q execQuerier, entry *models.LedgerEntry) error {
	err := q.QueryRow(`
		INSERT INTO ledger_entries (account_id, type, amount, description, status, external_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at`,
		entry.AccountID, entry.Type, entry.Amount, entry.Description,
		entry.Status, entry.ExternalReference,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		log.Printf("[LEDGER] Failed to append entry for account %s: %v", entry.AccountID, err)
		return fmt.Errorf("%w: ledger append: %v", ErrPersistence, err)
	}
	return nil
}

// ListForAccount returns entries newest-first with optional type/status
// filters and limit/offset pagination.
func (s *LedgerService) ListForAccount(accountID string, f LedgerFilter) ([]models.LedgerEntry, error) {
	var conditions []string
	var args []any
	argIndex := 1

	conditions = append(conditions, fmt.Sprintf("account_id = $%d", argIndex))
	args = append(args, accountID)
	argIndex++

	if f.Type != "" {
		if !f.Type.Valid() {
			return nil, fmt.Errorf("%w: unrecognized entry type %q", ErrValidation, f.Type)
		}
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIndex))
		args = append(args, f.Type)
		argIndex++
	}

	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, fmt.Errorf("%w: unrecognized entry status %q", ErrValidation, f.Status)
		}
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIndex))
		args = append(args, f.Status)
		argIndex++
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT id, account_id, type, amount, description, status, COALESCE(external_reference, ''), created_at
		FROM ledger_entries
		WHERE ` + strings.Join(conditions, " AND ") +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger list: %v", ErrPersistence, err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Type, &e.Amount,
			&e.Description, &e.Status, &e.ExternalReference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: ledger scan: %v", ErrPersistence, err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// listAll pages through the account's entire history for export. A short
// page marks the end.
func (s *LedgerService) listAll(accountID string) ([]models.LedgerEntry, error) {
	const pageSize = 500

	var entries []models.LedgerEntry
	for offset := 0; ; offset += pageSize {
		page, err := s.ListForAccount(accountID, LedgerFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		entries = append(entries, page...)
		if len(page) < pageSize {
			return entries, nil
		}
	}
}

// ListTransactions lists the caller's ledger entries
// @Summary List wallet transactions
// @Description Get the account's ledger entries, newest first, with optional type/status filters
// @Tags wallet
// @Produce json
// @Security BearerAuth
// @Param type query string false "Filter by entry type"
// @Param status query string false "Filter by entry status"
// @Param limit query int false "Page size (default 50, max 500)"
// @Param offset query int false "Page offset"
// @Success 200 {object} object{transactions=[]models.LedgerEntry,count=int}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/transactions [get]
func (s *LedgerService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	f := LedgerFilter{
		Type:   models.EntryType(r.URL.Query().Get("type")),
		Status: models.EntryStatus(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		f.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		f.Offset, _ = strconv.Atoi(v)
	}

	entries, err := s.ListForAccount(accountID, f)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": entries,
		"count":        len(entries),
	})
}

// ExportLedger dumps the account's transaction history
// @Summary Export ledger
// @Description Export the account's full transaction history as CSV or JSON
// @Tags wallet
// @Produce json
// @Produce text/csv
// @Security BearerAuth
// @Param format query string false "Export format: csv or json (default csv)"
// @Success 200
// @Failure 401 {object} services.ErrorResponse
// @Router /wallet/transactions/export [get]
func (s *LedgerService) ExportLedger(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.AccountID(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	entries, err := s.listAll(accountID)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", `attachment; filename="ledger.json"`)
		json.NewEncoder(w).Encode(entries)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="ledger.csv"`)

	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "created_at", "type", "amount", "status", "description", "external_reference"})
	for _, e := range entries {
		cw.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			string(e.Type),
			models.FormatAmount(e.Amount),
			string(e.Status),
			e.Description,
			e.ExternalReference,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Printf("[LEDGER] CSV export failed for account %s: %v", accountID, err)
	}
}
