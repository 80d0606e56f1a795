package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DispatchOperation names the adapter operation a dispatch event records
type DispatchOperation string

const (
	OperationConnect             DispatchOperation = "connect"
	OperationDisconnect          DispatchOperation = "disconnect"
	OperationGetAccounts         DispatchOperation = "get_accounts"
	OperationGetTransactions     DispatchOperation = "get_transactions"
	OperationRefreshAccounts     DispatchOperation = "refresh_accounts"
	OperationExchangePublicToken DispatchOperation = "exchange_public_token"
	OperationStoreAccessToken    DispatchOperation = "store_access_token"
)

// DispatchEvent records one adapter invocation made by the dispatcher
type DispatchEvent struct {
	ID           uuid.UUID         `json:"id" db:"id"`
	Provider     string            `json:"provider" db:"provider"`
	Operation    DispatchOperation `json:"operation" db:"operation"`
	UserID       string            `json:"user_id,omitempty" db:"user_id"`
	AccountID    string            `json:"account_id,omitempty" db:"account_id"`
	RequestID    string            `json:"request_id,omitempty" db:"request_id"`
	Success      bool              `json:"success" db:"success"`
	ErrorCode    *string           `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage *string           `json:"error_message,omitempty" db:"error_message"`
	ItemCount    int               `json:"item_count" db:"item_count"`
	LatencyMs    int               `json:"latency_ms" db:"latency_ms"`
	Details      json.RawMessage   `json:"details,omitempty" db:"details"`
	Timestamp    time.Time         `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the DispatchEvent model
func (DispatchEvent) TableName() string {
	return "dispatch_events"
}

// NewDispatchEvent creates a successful event; call WithError to mark a failure
func NewDispatchEvent(provider string, op DispatchOperation) *DispatchEvent {
	return &DispatchEvent{
		ID:        uuid.New(),
		Provider:  provider,
		Operation: op,
		Success:   true,
		Timestamp: time.Now().UTC(),
	}
}

// WithSubject sets the user and account the call was made for
func (e *DispatchEvent) WithSubject(userID, accountID string) *DispatchEvent {
	e.UserID = userID
	e.AccountID = accountID
	return e
}

// WithRequest sets the originating request ID
func (e *DispatchEvent) WithRequest(requestID string) *DispatchEvent {
	e.RequestID = requestID
	return e
}

// WithResult sets the number of returned items and the latency
func (e *DispatchEvent) WithResult(itemCount int, latency time.Duration) *DispatchEvent {
	e.ItemCount = itemCount
	e.LatencyMs = int(latency.Milliseconds())
	return e
}

// WithDetails sets the details
func (e *DispatchEvent) WithDetails(details interface{}) *DispatchEvent {
	if data, err := json.Marshal(details); err == nil {
		e.Details = data
	}
	return e
}

// WithError marks the event as failed
func (e *DispatchEvent) WithError(code, message string) *DispatchEvent {
	e.Success = false
	e.ErrorCode = &code
	e.ErrorMessage = &message
	return e
}

// DispatchEventFilter narrows event queries
type DispatchEventFilter struct {
	UserID    string
	Provider  string
	Operation DispatchOperation
	Failed    *bool
	Since     *time.Time
	Limit     int
	Offset    int
}
