package store

import (
    "context"
    "errors"
    "time"

    "hookrelay/internal/model"
)

// Store is the persistence interface shared by the API server and the
// delivery scheduler. The delivery table doubles as the idempotency ledger:
// the unique (org_id, idempotency_key) pair is the ledger entry.
type Store interface {
    // Destination configuration (one endpoint per organization)
    PutDestination(ctx context.Context, d model.Destination) error
    GetDestination(ctx context.Context, orgID string) (model.Destination, error)
    DeleteDestination(ctx context.Context, orgID string) error

    // ReserveDelivery atomically creates the record for (orgID, idempotencyKey)
    // or returns the existing one; alreadyExists reports which happened.
    // Two concurrent reservations for the same key yield exactly one record.
    ReserveDelivery(ctx context.Context, d Delivery) (Delivery, bool, error)
    GetDelivery(ctx context.Context, orgID, id string) (model.DeliveryView, error)
    FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error)

    // MarkDeliveryAttempt records one attempt: success flips the record to
    // delivered, otherwise it stays pending and is rescheduled. FailDelivery
    // records one attempt and flips to failed. Both are no-ops on a record
    // that is already terminal, so an attempt racing a cancel is discarded.
    MarkDeliveryAttempt(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error
    FailDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error

    // Administrative operations, outside the automatic retry loop.
    CancelDelivery(ctx context.Context, orgID, id string) error
    RedriveDelivery(ctx context.Context, orgID, id string) error

    ListDeliveries(ctx context.Context, orgID, status, cursor string, limit int) ([]model.DeliveryView, string, error)
    DeliveryMetrics(ctx context.Context, orgID string, since time.Time, eventType, status string) ([]map[string]any, error)

    // PruneDeliveries removes terminal records older than the cutoff; replay
    // risk is time-bounded so the ledger does not grow forever.
    PruneDeliveries(ctx context.Context, olderThan time.Time) (int, error)
}

var ErrNotFound = errors.New("not found")

// ErrAlreadyDelivered is returned when a redrive targets a record that has
// already been delivered.
var ErrAlreadyDelivered = errors.New("already delivered")
