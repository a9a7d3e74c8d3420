// Package models provides data model definitions for the shelfrank core.
package models

import "encoding/json"

// Sync operation types.
const (
	SyncOpAppendBooks = "append_books"
	SyncOpUpdateBook  = "update_book"
)

// Sync operation statuses.
const (
	SyncStatusPending  = "pending"
	SyncStatusAuthHeld = "auth_held" // waiting for user re-authentication
	SyncStatusFailed   = "failed"    // retry ceiling reached, never retried again
)

// SyncOperation is one queued unit of write-back work destined for the
// remote record store. The retry counter saturates at the queue's ceiling,
// after which the operation is permanently failed and surfaced, never
// silently dropped.
type SyncOperation struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`     // append_books | update_book
	SheetID     string          `json:"sheet_id"` // target remote store identifier
	Payload     json.RawMessage `json:"payload"`  // serialized rows
	RetryCount  int             `json:"retry_count"`
	NextRetryAt int64           `json:"next_retry_at"`
	Status      string          `json:"status"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   int64           `json:"created_at"`
}

// Retryable reports whether the operation is still eligible for automatic
// retries given the queue's ceiling.
func (op *SyncOperation) Retryable(maxRetries int) bool {
	return op.Status == SyncStatusPending && op.RetryCount < maxRetries
}
