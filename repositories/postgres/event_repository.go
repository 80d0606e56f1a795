package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/pulse/models"
	"github.com/upb/pulse/repositories"
	"go.uber.org/zap"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

const eventColumns = `id, provider, operation, user_id, account_id, request_id, success,
	error_code, error_message, item_count, latency_ms, details, timestamp`

// EventRepository implements the repositories.DispatchEventRepository interface
type EventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewEventRepository creates a new dispatch event repository
func NewEventRepository(db *DB, logger *zap.Logger) repositories.DispatchEventRepository {
	return &EventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new dispatch event
func (r *EventRepository) Insert(ctx context.Context, event *models.DispatchEvent) error {
	query := `
		INSERT INTO dispatch_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	var details interface{}
	if len(event.Details) > 0 {
		details = []byte(event.Details)
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		event.Provider,
		string(event.Operation),
		event.UserID,
		event.AccountID,
		event.RequestID,
		event.Success,
		event.ErrorCode,
		event.ErrorMessage,
		event.ItemCount,
		event.LatencyMs,
		details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert dispatch event: %w", err)
	}

	r.logger.Debug("dispatch event inserted",
		zap.String("id", event.ID.String()),
		zap.String("provider", event.Provider),
		zap.String("operation", string(event.Operation)),
	)
	return nil
}

// GetByID retrieves a dispatch event by ID
func (r *EventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DispatchEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM dispatch_events WHERE id = $1`

	event, err := scanEvent(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("dispatch event %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get dispatch event: %w", err)
	}
	return event, nil
}

// Query returns events matching the filter, newest first
func (r *EventRepository) Query(ctx context.Context, filter models.DispatchEventFilter) ([]*models.DispatchEvent, error) {
	where, args := buildEventFilter(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM dispatch_events%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		eventColumns, where, len(args)-1, len(args))

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dispatch events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.DispatchEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispatch event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dispatch events: %w", err)
	}
	return events, nil
}

// CountFailures counts failed events per provider
func (r *EventRepository) CountFailures(ctx context.Context, filter models.DispatchEventFilter) (map[string]int, error) {
	failed := true
	filter.Failed = &failed
	where, args := buildEventFilter(filter)

	query := `SELECT provider, COUNT(*) FROM dispatch_events` + where + ` GROUP BY provider`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count dispatch failures: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var provider string
		var count int
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, fmt.Errorf("failed to scan failure count: %w", err)
		}
		counts[provider] = count
	}
	return counts, rows.Err()
}

// buildEventFilter renders the WHERE clause and its positional arguments
func buildEventFilter(filter models.DispatchEventFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Provider != "" {
		add("provider = $%d", filter.Provider)
	}
	if filter.Operation != "" {
		add("operation = $%d", string(filter.Operation))
	}
	if filter.Failed != nil {
		add("success = $%d", !*filter.Failed)
	}
	if filter.Since != nil {
		add("timestamp >= $%d", *filter.Since)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*models.DispatchEvent, error) {
	event := &models.DispatchEvent{}
	var (
		operation string
		details   []byte
	)
	err := row.Scan(
		&event.ID,
		&event.Provider,
		&operation,
		&event.UserID,
		&event.AccountID,
		&event.RequestID,
		&event.Success,
		&event.ErrorCode,
		&event.ErrorMessage,
		&event.ItemCount,
		&event.LatencyMs,
		&details,
		&event.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	event.Operation = models.DispatchOperation(operation)
	if len(details) > 0 {
		event.Details = details
	}
	return event, nil
}
