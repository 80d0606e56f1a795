package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/pulse/middleware"
	"github.com/upb/pulse/models"
	"github.com/upb/pulse/utils"
	"go.uber.org/zap"
)

// SnapshotRecorder stores the accounts a user was last shown
type SnapshotRecorder interface {
	Capture(ctx context.Context, userID string, accounts []models.Account) (int, error)
	List(ctx context.Context, userID string) ([]*models.AccountSnapshot, error)
}

// RefreshRequest asks providers to pull fresh data
type RefreshRequest struct {
	Provider string                 `json:"provider,omitempty" validate:"omitempty,max=50"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// AccountHandler handles account and transaction reads
type AccountHandler struct {
	service   Dispatcher
	snapshots SnapshotRecorder
	logger    *zap.Logger
}

// NewAccountHandler creates a new AccountHandler. snapshots may be nil.
func NewAccountHandler(service Dispatcher, snapshots SnapshotRecorder, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		service:   service,
		snapshots: snapshots,
		logger:    logger,
	}
}

// HandleGetAccounts handles GET /accounts?provider=
func (h *AccountHandler) HandleGetAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	accounts, err := h.service.GetAccounts(ctx, userID, r.URL.Query().Get("provider"), nil)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if h.snapshots != nil && len(accounts) > 0 {
		// Snapshot failures never fail the read
		if _, err := h.snapshots.Capture(ctx, userID, accounts); err != nil {
			h.logger.Warn("failed to record account snapshots",
				zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
				zap.Error(err))
		}
	}

	_ = utils.WriteList(w, accounts, len(accounts), nil)
}

// HandleListSnapshots handles GET /accounts/snapshots
func (h *AccountHandler) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if h.snapshots == nil {
		_ = utils.WriteError(w, http.StatusServiceUnavailable, "account snapshots are not enabled", nil)
		return
	}

	snapshots, err := h.snapshots.List(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list account snapshots", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}
	_ = utils.WriteList(w, snapshots, len(snapshots), nil)
}

// HandleRefresh handles POST /accounts/refresh
func (h *AccountHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req RefreshRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	if err := h.service.RefreshAccounts(r.Context(), userID, req.Provider, req.Extra); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteAccepted(w, nil, "refresh requested")
}

// HandleGetTransactions handles GET /accounts/{accountID}/transactions
func (h *AccountHandler) HandleGetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	opts, err := parseHistoryOptions(q.Get("limit"), q.Get("offset"), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	accountID := chi.URLParam(r, "accountID")
	txns, err := h.service.GetTransactions(r.Context(), accountID, userID, q.Get("provider"), opts)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteList(w, txns, len(txns), map[string]interface{}{"account_id": accountID})
}

// parseHistoryOptions returns nil when no option is set
func parseHistoryOptions(limit, offset, start, end string) (*models.TransactionHistoryOptions, error) {
	opts := &models.TransactionHistoryOptions{}
	var err error

	if opts.Limit, err = utils.ParseOptionalInt(limit, "limit"); err != nil {
		return nil, err
	}
	if opts.Offset, err = utils.ParseOptionalInt(offset, "offset"); err != nil {
		return nil, err
	}
	if opts.StartDate, err = utils.ParseOptionalDate(start, "start_date"); err != nil {
		return nil, err
	}
	if opts.EndDate, err = utils.ParseOptionalDate(end, "end_date"); err != nil {
		return nil, err
	}

	if opts.Limit == nil && opts.Offset == nil && opts.StartDate == nil && opts.EndDate == nil {
		return nil, nil
	}
	return opts, nil
}
