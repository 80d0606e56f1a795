package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/upb/pulse/middleware"
	"github.com/upb/pulse/services/providers"
	"github.com/upb/pulse/utils"
	"go.uber.org/zap"
)

// ConnectRequest starts a provider connection. An empty provider connects every provider.
type ConnectRequest struct {
	Provider string                 `json:"provider,omitempty" validate:"omitempty,max=50"`
	Extra    map[string]interface{} `json:"extra,omitempty"`
}

// ConnectResponse returns the link tokens the front end needs to finish linking
type ConnectResponse struct {
	LinkTokens []providers.LinkToken `json:"link_tokens"`
}

// PublicTokenRequest carries a Plaid style public token
type PublicTokenRequest struct {
	PublicToken string `json:"public_token" validate:"required"`
}

// AccessTokenRequest carries an access token or item id obtained client side
type AccessTokenRequest struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// ConnectionHandler handles provider connection lifecycle requests
type ConnectionHandler struct {
	service Dispatcher
	logger  *zap.Logger
}

// NewConnectionHandler creates a new ConnectionHandler
func NewConnectionHandler(service Dispatcher, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		service: service,
		logger:  logger,
	}
}

// HandleConnect handles POST /connections
func (h *ConnectionHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req ConnectRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	ctx, collector := providers.WithLinkTokenCollector(r.Context())
	if err := h.service.Connect(ctx, userID, req.Provider, req.Extra); err != nil {
		h.logger.Warn("connect failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.String("provider", req.Provider),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, ConnectResponse{LinkTokens: collector.Tokens()})
}

// HandleDisconnect handles DELETE /connections?provider=
func (h *ConnectionHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	provider := r.URL.Query().Get("provider")
	if err := h.service.Disconnect(r.Context(), userID, provider); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleExchangePublicToken handles POST /connections/{provider}/public-token
func (h *ConnectionHandler) HandleExchangePublicToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req PublicTokenRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	provider := chi.URLParam(r, "provider")
	if err := h.service.ExchangePublicToken(r.Context(), userID, req.PublicToken, provider); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleStoreAccessToken handles POST /connections/{provider}/access-token
func (h *ConnectionHandler) HandleStoreAccessToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req AccessTokenRequest
	if !decodeBody(w, r, &req, h.logger) {
		return
	}

	provider := chi.URLParam(r, "provider")
	if err := h.service.StoreAccessToken(r.Context(), userID, req.AccessToken, provider); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	utils.WriteNoContent(w)
}

// HandleListProviders handles GET /providers
func (h *ConnectionHandler) HandleListProviders(w http.ResponseWriter, r *http.Request) {
	list := h.service.Describe()
	_ = utils.WriteList(w, list, len(list), nil)
}
