package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/upb/pulse/middleware"
	"github.com/upb/pulse/models"
	"github.com/upb/pulse/services/pulse"
	"github.com/upb/pulse/utils"
	"go.uber.org/zap"
)

// Dispatcher is the part of pulse.Service the HTTP layer calls
type Dispatcher interface {
	Connect(ctx context.Context, userID, provider string, extra map[string]interface{}) error
	Disconnect(ctx context.Context, userID, provider string) error
	GetAccounts(ctx context.Context, userID, provider string, extra map[string]interface{}) ([]models.Account, error)
	GetTransactions(ctx context.Context, accountID, userID, provider string, opts *models.TransactionHistoryOptions) ([]models.Transaction, error)
	RefreshAccounts(ctx context.Context, userID, provider string, extra map[string]interface{}) error
	ExchangePublicToken(ctx context.Context, userID, publicToken, provider string) error
	StoreAccessToken(ctx context.Context, userID, accessToken, provider string) error
	Describe() []pulse.ProviderInfo
}

var _ Dispatcher = (*pulse.Service)(nil)

const maxBodyBytes = 1 << 20

// decodeBody decodes an optional JSON body into dst and validates it
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return false
	}

	if err := utils.ValidateStruct(dst); err != nil {
		logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, logger)
		return false
	}
	return true
}

// requireUser returns the authenticated user or writes a 401
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserIDFromContext(r.Context())
	if userID == "" {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return "", false
	}
	return userID, true
}
