package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/upb/pulse/models"
	"github.com/upb/pulse/repositories"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrStorageDisabled is returned by queries when no event repository is configured
var ErrStorageDisabled = errors.New("dispatch event storage is not configured")

const insertTimeout = 5 * time.Second

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// AuditService records dispatch events asynchronously. Without a repository
// events are written to the log instead.
type AuditService struct {
	repo    repositories.DispatchEventRepository
	logger  *zap.Logger
	queue   chan *models.DispatchEvent
	workers int

	mu    sync.RWMutex
	state state
	pool  errgroup.Group

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// Config sizes the queue and the worker pool draining it
type Config struct {
	BufferSize  int
	WorkerCount int
}

func DefaultConfig() Config {
	return Config{BufferSize: 1000, WorkerCount: 2}
}

// NewAuditService builds an idle service. repo may be nil.
func NewAuditService(repo repositories.DispatchEventRepository, logger *zap.Logger, cfg Config) *AuditService {
	return &AuditService{
		repo:    repo,
		logger:  logger,
		queue:   make(chan *models.DispatchEvent, max(cfg.BufferSize, 0)),
		workers: max(cfg.WorkerCount, 1),
	}
}

// Start launches the workers. It fails unless the service is idle.
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return fmt.Errorf("audit service already started")
	case stateStopped:
		return fmt.Errorf("audit service cannot be restarted")
	}

	for id := range s.workers {
		s.pool.Go(func() error {
			s.drain(id)
			return nil
		})
	}
	s.state = stateRunning

	s.logger.Info("audit service running",
		zap.Int("workers", s.workers),
		zap.Int("buffer_size", cap(s.queue)),
		zap.Bool("persistent", s.repo != nil))
	return nil
}

// Stop closes the queue and waits up to timeout for the workers to drain it
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.state = stateStopped
	pending := len(s.queue)
	close(s.queue)
	s.mu.Unlock()

	s.logger.Info("draining audit queue", zap.Int("pending_events", pending))

	drained := make(chan struct{})
	go func() {
		_ = s.pool.Wait()
		close(drained)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-drained:
		s.logger.Info("audit service stopped",
			zap.Int64("written", s.written.Load()),
			zap.Int64("dropped", s.dropped.Load()),
			zap.Int64("failed", s.failed.Load()))
		return nil
	case <-timer.C:
		return fmt.Errorf("audit queue not drained within %v", timeout)
	}
}

// Record queues an event without blocking. Events arriving outside the
// running state are logged; events arriving while the queue is full are dropped.
func (s *AuditService) Record(event *models.DispatchEvent) {
	if event == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state != stateRunning {
		s.logEvent(event)
		return
	}

	select {
	case s.queue <- event:
	default:
		s.dropped.Add(1)
		s.logger.Warn("audit queue full, event dropped",
			zap.String("provider", event.Provider),
			zap.String("operation", string(event.Operation)),
			zap.String("request_id", event.RequestID))
	}
}

// Query returns stored events, newest first
func (s *AuditService) Query(ctx context.Context, filter models.DispatchEventFilter) ([]*models.DispatchEvent, error) {
	if s.repo == nil {
		return nil, ErrStorageDisabled
	}
	return s.repo.Query(ctx, filter)
}

// FailureCounts counts failed invocations per provider since the given time
func (s *AuditService) FailureCounts(ctx context.Context, since time.Time) (map[string]int, error) {
	if s.repo == nil {
		return nil, ErrStorageDisabled
	}
	return s.repo.CountFailures(ctx, models.DispatchEventFilter{Since: &since})
}

func (s *AuditService) drain(id int) {
	for event := range s.queue {
		if s.repo == nil {
			s.logEvent(event)
			continue
		}
		if err := s.persist(event); err != nil {
			s.failed.Add(1)
			s.logger.Error("failed to persist dispatch event",
				zap.Int("worker", id),
				zap.String("provider", event.Provider),
				zap.String("operation", string(event.Operation)),
				zap.Error(err))
			s.logEvent(event)
		}
	}
}

func (s *AuditService) persist(event *models.DispatchEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := s.repo.Insert(ctx, event); err != nil {
		return err
	}
	s.written.Add(1)
	return nil
}

func (s *AuditService) logEvent(event *models.DispatchEvent) {
	fields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("provider", event.Provider),
		zap.String("operation", string(event.Operation)),
		zap.String("user_id", event.UserID),
		zap.String("request_id", event.RequestID),
		zap.Bool("success", event.Success),
		zap.Int("item_count", event.ItemCount),
		zap.Int("latency_ms", event.LatencyMs),
	}
	if event.AccountID != "" {
		fields = append(fields, zap.String("account_id", event.AccountID))
	}
	if event.ErrorCode != nil {
		fields = append(fields, zap.String("error_code", *event.ErrorCode))
	}
	if event.ErrorMessage != nil {
		fields = append(fields, zap.String("error_message", *event.ErrorMessage))
	}
	s.logger.Info("dispatch event", fields...)
}

// GetStats reports queue depth and counters
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    cap(s.queue),
		PendingEvents: len(s.queue),
		WorkerCount:   s.workers,
		Started:       s.state == stateRunning,
		Persistent:    s.repo != nil,
		Written:       s.written.Load(),
		Dropped:       s.dropped.Load(),
		Failed:        s.failed.Load(),
	}
}

// Stats is exposed on GET /api/v1/status
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	WorkerCount   int   `json:"worker_count"`
	Started       bool  `json:"started"`
	Persistent    bool  `json:"persistent"`
	Written       int64 `json:"written"`
	Dropped       int64 `json:"dropped"`
	Failed        int64 `json:"failed"`
}
