package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/fund-share-service/internal/calendar"
	"github.com/trogers1052/fund-share-service/internal/database"
	"github.com/trogers1052/fund-share-service/internal/logging"
	"github.com/trogers1052/fund-share-service/internal/models"
	"github.com/trogers1052/fund-share-service/internal/navsync"
	"github.com/trogers1052/fund-share-service/internal/portfolio"
	"github.com/trogers1052/fund-share-service/internal/profit"
	"github.com/trogers1052/fund-share-service/internal/report"
)

const (
	defaultDays = 30
	dateLayout  = "2006-01-02"

	// averagePlaces is the precision the NAV mean is shown at
	averagePlaces = 8
)

// Store is the read and admin surface of the database used by handlers
type Store interface {
	Ping(ctx context.Context) error
	ListFunds(ctx context.Context) ([]*models.Fund, error)
	GetFundByCode(ctx context.Context, code string) (*models.Fund, error)
	DeleteFund(ctx context.Context, code string) error
	GetNavRange(ctx context.Context, fundID int, from, to time.Time) ([]models.NavHistoryEntry, error)
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	UpdatePrincipal(ctx context.Context, userID int, principal decimal.Decimal) error
	UpsertAgreement(ctx context.Context, a *models.Agreement) error
	GetTransactionsByUser(ctx context.Context, userID, limit int) ([]*models.Transaction, error)
	GetProfitRecords(ctx context.Context, userID int, from, to time.Time) ([]*models.ProfitRecord, error)
}

// Portfolio applies transactions and values holdings
type Portfolio interface {
	ApplyTransaction(ctx context.Context, req portfolio.TransactionRequest) (*models.Transaction, error)
	Valuation(ctx context.Context, userID int) (*models.Valuation, error)
	Compute30DayAverage(ctx context.Context, fundID int) (decimal.Decimal, error)
}

// Refresher runs NAV refreshes on demand
type Refresher interface {
	RunCycle(ctx context.Context) (navsync.CycleResult, error)
	RegisterFund(ctx context.Context, code, name, category string) (*models.Fund, error)
}

// Settler settles profit for every user
type Settler interface {
	SettleAll(ctx context.Context, asOf time.Time) (profit.Summary, error)
}

// Reporter builds settlement reports
type Reporter interface {
	Build(ctx context.Context, to time.Time, days, userID int) (*report.Report, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store     Store
	portfolio Portfolio
	refresher Refresher
	settler   Settler
	reporter  Reporter
	loc       *time.Location
	logger    *logging.Logger
	now       func() time.Time
}

// NewHandler creates a new Handler. loc decides which date is today.
func NewHandler(store Store, pf Portfolio, refresher Refresher, settler Settler, loc *time.Location, logger *logging.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		store:     store,
		portfolio: pf,
		refresher: refresher,
		settler:   settler,
		loc:       loc,
		logger:    logger,
		now:       time.Now,
	}
}

// SetReporter enables GET /reports
func (h *Handler) SetReporter(r Reporter) { h.reporter = r }

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ListFunds handles GET /funds
func (h *Handler) ListFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := h.store.ListFunds(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	if funds == nil {
		funds = []*models.Fund{}
	}
	respondJSON(w, http.StatusOK, funds)
}

// GetFund handles GET /funds/{code}
func (h *Handler) GetFund(w http.ResponseWriter, r *http.Request) {
	fund, err := h.store.GetFundByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, fund)
}

// RegisterFund handles POST /funds. The fund's NAV and recent history are
// fetched before responding.
func (h *Handler) RegisterFund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code     string `json:"code"`
		Name     string `json:"name"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	fund, err := h.refresher.RegisterFund(r.Context(), req.Code, req.Name, req.Category)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, fund)
}

// DeleteFund handles DELETE /funds/{code}
func (h *Handler) DeleteFund(w http.ResponseWriter, r *http.Request) {
	if err := h.store.DeleteFund(r.Context(), mux.Vars(r)["code"]); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFundHistory handles GET /funds/{code}/history?days=N
func (h *Handler) GetFundHistory(w http.ResponseWriter, r *http.Request) {
	days, ok := queryDays(w, r)
	if !ok {
		return
	}
	fund, err := h.store.GetFundByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.respondError(w, err)
		return
	}

	to := h.today()
	entries, err := h.store.GetNavRange(r.Context(), fund.ID, to.AddDate(0, 0, -days), to)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if entries == nil {
		entries = []models.NavHistoryEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// GetFundAverage handles GET /funds/{code}/average
func (h *Handler) GetFundAverage(w http.ResponseWriter, r *http.Request) {
	fund, err := h.store.GetFundByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.respondError(w, err)
		return
	}

	avg, err := h.portfolio.Compute30DayAverage(r.Context(), fund.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"code":    fund.Code,
		"window":  portfolio.AverageWindow,
		"average": avg.Round(averagePlaces),
	})
}

// CreateTransaction handles POST /transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req portfolio.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	txn, err := h.portfolio.ApplyTransaction(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, txn)
}

// CreateUser handles POST /users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if user.Username == "" {
		http.Error(w, "username is required", http.StatusBadRequest)
		return
	}
	if user.Role == "" {
		user.Role = models.RoleSub
	}
	if user.Role != models.RolePrimary && user.Role != models.RoleSub {
		http.Error(w, "role must be primary or sub", http.StatusBadRequest)
		return
	}
	if user.Principal.IsNegative() {
		http.Error(w, "principal must not be negative", http.StatusBadRequest)
		return
	}

	if err := h.store.CreateUser(r.Context(), &user); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// GetPortfolio handles GET /users/{id}/portfolio
func (h *Handler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.GetUserByID(r.Context(), userID); err != nil {
		h.respondError(w, err)
		return
	}

	valuation, err := h.portfolio.Valuation(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, valuation)
}

// GetTransactions handles GET /users/{id}/transactions?limit=N
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	txns, err := h.store.GetTransactionsByUser(r.Context(), userID, limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if txns == nil {
		txns = []*models.Transaction{}
	}
	respondJSON(w, http.StatusOK, txns)
}

// GetProfits handles GET /users/{id}/profits?days=N
func (h *Handler) GetProfits(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	days, ok := queryDays(w, r)
	if !ok {
		return
	}

	to := h.today()
	records, err := h.store.GetProfitRecords(r.Context(), userID, to.AddDate(0, 0, -days), to)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if records == nil {
		records = []*models.ProfitRecord{}
	}
	respondJSON(w, http.StatusOK, records)
}

// UpdatePrincipal handles PUT /users/{id}/principal
func (h *Handler) UpdatePrincipal(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	var req struct {
		Principal decimal.Decimal `json:"principal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Principal.IsNegative() {
		http.Error(w, "principal must not be negative", http.StatusBadRequest)
		return
	}

	user, err := h.store.GetUserByID(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if user.IsPrimary() {
		http.Error(w, "principal applies to sub-accounts only", http.StatusBadRequest)
		return
	}

	if err := h.store.UpdatePrincipal(r.Context(), userID, req.Principal); err != nil {
		h.respondError(w, err)
		return
	}
	user.Principal = req.Principal
	respondJSON(w, http.StatusOK, user)
}

// PutAgreement handles PUT /users/{id}/agreement
func (h *Handler) PutAgreement(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	agreement := models.Agreement{CapitalProtectionRatio: decimal.NewFromInt(1)}
	if err := json.NewDecoder(r.Body).Decode(&agreement); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if agreement.ProfitShareRatio.IsNegative() || agreement.ProfitShareRatio.GreaterThan(decimal.NewFromInt(1)) {
		http.Error(w, "profit_share_ratio must be between 0 and 1", http.StatusBadRequest)
		return
	}
	if agreement.CapitalProtectionRatio.IsNegative() {
		http.Error(w, "capital_protection_ratio must not be negative", http.StatusBadRequest)
		return
	}
	agreement.UserID = userID

	if err := h.store.UpsertAgreement(r.Context(), &agreement); err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agreement)
}

// Refresh handles POST /admin/refresh. The cycle outlives a dropped client so
// a half-applied cycle is never left behind.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	result, err := h.refresher.RunCycle(context.WithoutCancel(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// Settle handles POST /admin/settle?date=YYYY-MM-DD. Without a date the
// current day is settled.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	asOf := h.now().In(h.loc)
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, h.loc)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		asOf = d
	}

	summary, err := h.settler.SettleAll(r.Context(), asOf)
	if err != nil {
		h.logger.Warn().Err(err).Msg("settlement finished with failures")
		if summary.Total == 0 {
			h.respondError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, summary)
}

type userReportResponse struct {
	User             *models.User           `json:"user"`
	Agreement        *models.Agreement      `json:"agreement,omitempty"`
	CurrentValue     decimal.Decimal        `json:"current_value"`
	WindowProfit     decimal.Decimal        `json:"window_profit"`
	CumulativeProfit decimal.Decimal        `json:"cumulative_profit"`
	WindowShare      decimal.Decimal        `json:"window_share"`
	Records          []*models.ProfitRecord `json:"records"`
}

// GetReport handles GET /reports?days=N&user=ID&format=json|xlsx
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.reporter == nil {
		http.Error(w, "reports are not enabled", http.StatusNotImplemented)
		return
	}
	days, ok := queryDays(w, r)
	if !ok {
		return
	}
	userID := 0
	if v := r.URL.Query().Get("user"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 1 {
			http.Error(w, "invalid user id", http.StatusBadRequest)
			return
		}
		userID = id
	}

	rep, err := h.reporter.Build(r.Context(), h.today(), days, userID)
	if err != nil {
		h.respondError(w, err)
		return
	}

	switch r.URL.Query().Get("format") {
	case "", "json":
		users := make([]userReportResponse, 0, len(rep.Users))
		for _, u := range rep.Users {
			users = append(users, userReportResponse{
				User:             u.User,
				Agreement:        u.Agreement,
				CurrentValue:     u.CurrentValue,
				WindowProfit:     u.TotalDaily(),
				CumulativeProfit: u.Cumulative(),
				WindowShare:      u.TotalShare(),
				Records:          u.Records,
			})
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"from":  rep.From.Format(dateLayout),
			"to":    rep.To.Format(dateLayout),
			"users": users,
		})
	case "xlsx":
		var buf bytes.Buffer
		if err := report.WriteXLSX(&buf, rep); err != nil {
			h.respondError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="settlement-`+rep.To.Format(dateLayout)+`.xlsx"`)
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	default:
		http.Error(w, "format must be json or xlsx", http.StatusBadRequest)
	}
}

func (h *Handler) today() time.Time {
	return calendar.DateOf(h.now().In(h.loc))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("request failed")
	}
	http.Error(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound), errors.Is(err, portfolio.ErrHistoryUnavailable):
		return http.StatusNotFound
	case errors.Is(err, database.ErrDuplicateFundCode),
		errors.Is(err, database.ErrDuplicateUsername),
		errors.Is(err, database.ErrFundInUse),
		errors.Is(err, navsync.ErrCycleInProgress):
		return http.StatusConflict
	case errors.Is(err, portfolio.ErrInvalidTransaction):
		return http.StatusBadRequest
	case errors.Is(err, portfolio.ErrInsufficientShares):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func pathUserID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil || id < 1 {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryDays(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("days")
	if v == "" {
		return defaultDays, true
	}
	days, err := strconv.Atoi(v)
	if err != nil || days < 1 || days > 3650 {
		http.Error(w, "days must be between 1 and 3650", http.StatusBadRequest)
		return 0, false
	}
	return days, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
