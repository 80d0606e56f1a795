package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/pulse/services"
	"github.com/upb/pulse/services/audit"
	"github.com/upb/pulse/utils"
	"go.uber.org/zap"
)

// StatusForCode maps a pulse error code to an HTTP status
func StatusForCode(code services.ErrorCode) int {
	switch code {
	case services.ErrCodeProviderNotFound:
		return http.StatusNotFound
	case services.ErrCodeValidation:
		return http.StatusBadRequest
	case services.ErrCodeMethodNotSupported:
		return http.StatusNotImplemented
	case services.ErrCodeProviderConnectionFailed,
		services.ErrCodeProviderDisconnectionFailed,
		services.ErrCodeAccountFetchFailed,
		services.ErrCodeTransactionFetchFailed,
		services.ErrCodeAccountRefreshFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HandleServiceError maps pulse errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	if errors.Is(err, audit.ErrStorageDisabled) {
		if err := utils.WriteError(w, http.StatusServiceUnavailable, err.Error(), nil); err != nil {
			logger.Error("failed to write unavailable response", zap.Error(err))
		}
		return
	}

	pe, ok := services.AsPulseError(err)
	if !ok {
		logger.Error("unhandled error type", zap.Error(err))
		if err := utils.WriteInternalServerError(w, "An unexpected error occurred"); err != nil {
			logger.Error("failed to write internal error response", zap.Error(err))
		}
		return
	}

	status := StatusForCode(pe.Code)
	message := pe.Message
	if status == http.StatusInternalServerError {
		// Configuration and unknown failures may carry internals
		logger.Error("internal pulse error", zap.Error(err), zap.Any("fields", pe.Fields()))
		message = "An internal error occurred"
	} else {
		logger.Debug("handled service error",
			zap.String("code", string(pe.Code)),
			zap.String("message", pe.Message),
			zap.Any("fields", pe.Fields()))
	}

	if err := utils.WriteCodedError(w, status, string(pe.Code), message, pe.Fields()); err != nil {
		logger.Error("failed to write error response", zap.Error(err))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{})
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
