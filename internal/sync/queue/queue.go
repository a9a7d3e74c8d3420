// Package queue provides the durable, ordered write-back queue for remote
// sheet operations, with retry limits and exponential backoff.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kwhuang/shelfrank/internal/errors"
	"github.com/kwhuang/shelfrank/internal/logging"
	"github.com/kwhuang/shelfrank/internal/models"
	syncpkg "github.com/kwhuang/shelfrank/internal/sync"
)

// StateKey is the app_state slot the queue serializes itself into.
const StateKey = "sync_queue"

// StateStore is the persisted-blob slot the queue loads from at startup and
// saves to after each drain pass. Satisfied by db.Repository.
type StateStore interface {
	SetState(key string, value []byte) error
	GetState(key string) ([]byte, error)
}

// Config holds queue tuning knobs.
type Config struct {
	MaxRetries  int           // retry ceiling per operation (default 3)
	MaxSize     int           // maximum queued operations (default 1000)
	BackoffBase time.Duration // first retry delay (default 1 minute)
	BackoffCap  time.Duration // backoff ceiling (default 1 hour)
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:  3,
		MaxSize:     1000,
		BackoffBase: time.Minute,
		BackoffCap:  time.Hour,
	}
}

// Queue is a durable FIFO of sync operations. Insertion order is the retry
// order. It is explicitly constructed and injected by the application root;
// there is no package-level instance.
//
// Draining is pull-based: Process runs on connectivity-restored events and
// explicit user action, never on a background timer.
type Queue struct {
	mu       sync.Mutex
	ops      []*models.SyncOperation // pending and auth-held, FIFO
	failed   []*models.SyncOperation // permanently failed, surfaced via Status
	draining bool

	store syncpkg.RowStore
	net   syncpkg.Connectivity
	state StateStore
	cfg   *Config

	// test seam
	now func() time.Time

	// OnPermanentFailure, when set, is invoked for each operation that
	// exhausts its retries. Failures are reported, never silently dropped.
	OnPermanentFailure func(op *models.SyncOperation)
}

// New creates a Queue. Call Load before first use to restore any operations
// persisted by an earlier process.
func New(store syncpkg.RowStore, net syncpkg.Connectivity, state StateStore, cfg *Config) *Queue {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Queue{
		store: store,
		net:   net,
		state: state,
		cfg:   cfg,
		now:   time.Now,
	}
}

// queueState is the serialized form stored in the app_state slot.
type queueState struct {
	Ops    []*models.SyncOperation `json:"ops"`
	Failed []*models.SyncOperation `json:"failed,omitempty"`
}

// Load restores the queue from durable storage. A missing slot is an empty
// queue; any other read error propagates so a durable outbox is never
// silently discarded.
func (q *Queue) Load() error {
	data, err := q.state.GetState(StateKey)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Wrap(errors.ErrDatabase, "failed to read persisted sync queue", err)
	}

	var state queueState
	if err := json.Unmarshal(data, &state); err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to decode persisted sync queue", err)
	}

	q.mu.Lock()
	q.ops = state.Ops
	q.failed = state.Failed
	q.mu.Unlock()

	if len(state.Ops) > 0 || len(state.Failed) > 0 {
		logging.Info("Sync queue restored", map[string]interface{}{
			"pending": len(state.Ops),
			"failed":  len(state.Failed),
		})
	}
	return nil
}

// persistLocked serializes the queue into its durable slot. Callers hold mu.
func (q *Queue) persistLocked() {
	data, err := json.Marshal(queueState{Ops: q.ops, Failed: q.failed})
	if err != nil {
		logging.Error("Failed to encode sync queue", err)
		return
	}
	if err := q.state.SetState(StateKey, data); err != nil {
		logging.Error("Failed to persist sync queue", err)
	}
}

// EnqueueAppend queues new books for appending to the remote sheet.
func (q *Queue) EnqueueAppend(sheetID string, rows []syncpkg.Row) (*models.SyncOperation, error) {
	return q.enqueue(models.SyncOpAppendBooks, sheetID, rows)
}

// EnqueueUpdate queues an in-place overwrite of an existing remote row.
func (q *Queue) EnqueueUpdate(sheetID string, row syncpkg.Row) (*models.SyncOperation, error) {
	return q.enqueue(models.SyncOpUpdateBook, sheetID, []syncpkg.Row{row})
}

func (q *Queue) enqueue(opType, sheetID string, rows []syncpkg.Row) (*models.SyncOperation, error) {
	payload, err := json.Marshal(rows)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode sync payload", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) >= q.cfg.MaxSize {
		return nil, errors.Newf(errors.ErrQueueFull, "sync queue is full (max %d)", q.cfg.MaxSize)
	}

	now := q.now().Unix()
	op := &models.SyncOperation{
		ID:          uuid.New().String(),
		Type:        opType,
		SheetID:     sheetID,
		Payload:     payload,
		Status:      models.SyncStatusPending,
		NextRetryAt: now,
		CreatedAt:   now,
	}

	q.ops = append(q.ops, op)
	q.persistLocked()

	logging.Debug("Sync operation enqueued", map[string]interface{}{
		"op_id": op.ID,
		"type":  op.Type,
		"rows":  len(rows),
	})

	return op, nil
}

// Report summarizes one Process pass.
type Report struct {
	Attempted  int
	Succeeded  int
	Retried    int
	AuthHeld   int
	FailedPerm int
}

// Process drains the queue in insertion order.
//
// It is a no-op when a drain is already running or when offline.
// Connectivity is re-sampled before every remote attempt. Successful
// operations leave the queue; transient failures increment the retry counter
// and stay queued with backoff until the ceiling, after which the operation
// is permanently failed and surfaced. Auth failures (401/403) park the
// operation until ReleaseAuthHeld, never retried automatically. The surviving
// queue is persisted after the pass.
func (q *Queue) Process(ctx context.Context) *Report {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		logging.Debug("Sync queue drain already in progress")
		return nil
	}
	if !q.net.Online() {
		q.mu.Unlock()
		logging.Debug("Sync queue drain skipped: offline")
		return nil
	}
	q.draining = true
	pending := q.ops
	q.mu.Unlock()

	report := &Report{}
	var remaining []*models.SyncOperation

	for i, op := range pending {
		select {
		case <-ctx.Done():
			remaining = append(remaining, pending[i:]...)
			q.finishPass(remaining, len(pending))
			return report
		default:
		}

		// Operation state is shared with GetStatus and ReleaseAuthHeld,
		// so every field access happens under the lock.
		q.mu.Lock()
		held := op.Status == models.SyncStatusAuthHeld
		deferred := op.NextRetryAt > q.now().Unix()
		q.mu.Unlock()

		if held || deferred {
			remaining = append(remaining, op)
			continue
		}

		// Connectivity can drop mid-pass; re-check before each attempt
		// instead of trusting the flag sampled at entry.
		if !q.net.Online() {
			remaining = append(remaining, pending[i:]...)
			q.finishPass(remaining, len(pending))
			return report
		}

		report.Attempted++
		err := q.execute(ctx, op)
		if err == nil {
			report.Succeeded++
			logging.Info("Sync operation completed", map[string]interface{}{
				"op_id": op.ID,
				"type":  op.Type,
			})
			continue
		}

		q.mu.Lock()
		op.LastError = err.Error()

		if errors.Is(err, errors.ErrSyncAuthFailed) {
			op.Status = models.SyncStatusAuthHeld
			q.mu.Unlock()
			report.AuthHeld++
			remaining = append(remaining, op)
			logging.ErrorWithCode("Sync operation held for re-authentication",
				string(errors.ErrSyncAuthFailed), err,
				map[string]interface{}{"op_id": op.ID})
			continue
		}

		op.RetryCount++
		retries := op.RetryCount
		if retries >= q.cfg.MaxRetries {
			op.Status = models.SyncStatusFailed
			q.failed = append(q.failed, op)
			q.mu.Unlock()
			report.FailedPerm++
			logging.ErrorWithCode("Sync operation permanently failed",
				string(errors.ErrSyncFailed), err,
				map[string]interface{}{
					"op_id":   op.ID,
					"type":    op.Type,
					"retries": retries,
				})
			if q.OnPermanentFailure != nil {
				q.OnPermanentFailure(op)
			}
			continue
		}

		op.NextRetryAt = q.now().Add(q.backoff(retries)).Unix()
		q.mu.Unlock()
		report.Retried++
		remaining = append(remaining, op)
		logging.Warn("Sync operation failed, will retry", map[string]interface{}{
			"op_id":   op.ID,
			"attempt": retries,
			"max":     q.cfg.MaxRetries,
			"error":   err.Error(),
		})
	}

	q.finishPass(remaining, len(pending))
	return report
}

// finishPass swaps in the surviving operations and persists the queue.
// Operations enqueued during the pass sit past snapshotLen in q.ops and are
// appended behind the survivors to keep FIFO order.
func (q *Queue) finishPass(remaining []*models.SyncOperation, snapshotLen int) {
	q.mu.Lock()
	if len(q.ops) > snapshotLen {
		remaining = append(remaining, q.ops[snapshotLen:]...)
	}
	q.ops = remaining
	q.draining = false
	q.persistLocked()
	q.mu.Unlock()
}

// execute performs the remote write for one operation.
func (q *Queue) execute(ctx context.Context, op *models.SyncOperation) error {
	var rows []syncpkg.Row
	if err := json.Unmarshal(op.Payload, &rows); err != nil {
		return errors.Wrap(errors.ErrInternal, "corrupt sync payload", err)
	}

	switch op.Type {
	case models.SyncOpAppendBooks:
		return q.store.Append(ctx, op.SheetID, rows)
	case models.SyncOpUpdateBook:
		return q.store.Write(ctx, op.SheetID, rows)
	default:
		return errors.Newf(errors.ErrInternal, "unknown sync operation type %q", op.Type)
	}
}

// backoff returns the delay before retry attempt n (1-based), exponential
// with up to 25% random jitter, capped.
func (q *Queue) backoff(n int) time.Duration {
	d := q.cfg.BackoffBase << uint(n-1)
	if d > q.cfg.BackoffCap {
		d = q.cfg.BackoffCap
	}
	if d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/4 + 1))
	}
	return d
}

// ReleaseAuthHeld re-marks auth-held operations as pending after the user
// re-authenticated. Returns the number of released operations.
func (q *Queue) ReleaseAuthHeld() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	released := 0
	now := q.now().Unix()
	for _, op := range q.ops {
		if op.Status == models.SyncStatusAuthHeld {
			op.Status = models.SyncStatusPending
			op.NextRetryAt = now
			released++
		}
	}
	if released > 0 {
		q.persistLocked()
		logging.Info("Auth-held sync operations released", map[string]interface{}{
			"count": released,
		})
	}
	return released
}

// Status is the queue's externally visible state. Queue-level errors are
// exposed only here, never thrown into unrelated code paths.
type Status struct {
	Pending           int                     `json:"pending"`
	AuthHeld          int                     `json:"auth_held"`
	PermanentFailures []*models.SyncOperation `json:"permanent_failures,omitempty"`
}

// GetStatus returns a point-in-time view of the queue.
func (q *Queue) GetStatus() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	status := Status{}
	for _, op := range q.ops {
		if op.Status == models.SyncStatusAuthHeld {
			status.AuthHeld++
		} else {
			status.Pending++
		}
	}
	status.PermanentFailures = append(status.PermanentFailures, q.failed...)
	return status
}

// Len returns the number of operations still queued (pending + auth-held).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Clear drops all queued and failed operations. Intended for tests and
// explicit user resets.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
	q.failed = nil
	q.persistLocked()
}
