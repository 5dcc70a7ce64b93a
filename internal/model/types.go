package model

import (
    "errors"
    "time"
)

// Delivery status values. delivered and failed are terminal.
const (
    StatusPending   = "pending"
    StatusDelivered = "delivered"
    StatusFailed    = "failed"
)

// EventPayload is the canonical body delivered to a destination endpoint.
// The same logical delivery always serializes to the same bytes (see signer).
type EventPayload struct {
    Event          string         `json:"event"`
    IdempotencyKey string         `json:"idempotencyKey"`
    Timestamp      string         `json:"timestamp"` // RFC3339 UTC
    Data           map[string]any `json:"data,omitempty"`
}

// Destination is an organization's webhook endpoint configuration.
type Destination struct {
    OrgID     string    `json:"orgId"`
    URL       string    `json:"url"`
    Secret    string    `json:"-"`
    Enabled   bool      `json:"enabled"`
    UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// DeliveryView is the operator-facing projection of a delivery record.
type DeliveryView struct {
    ID             string     `json:"id"`
    OrgID          string     `json:"orgId"`
    IdempotencyKey string     `json:"idempotencyKey"`
    EventType      string     `json:"eventType"`
    URL            string     `json:"url"`
    Status         string     `json:"status"`
    Attempts       int        `json:"attempts"`
    LastError      string     `json:"lastError,omitempty"`
    ResponseCode   int        `json:"responseCode,omitempty"`
    LatencyMs      int        `json:"latencyMs,omitempty"`
    NextAttemptAt  *time.Time `json:"nextAttemptAt,omitempty"`
    CreatedAt      time.Time  `json:"createdAt"`
    DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
}

var (
    // ErrEncoding means the payload could not be canonicalized; the input
    // itself is malformed and the send is never attempted.
    ErrEncoding = errors.New("payload not serializable")
    // ErrPersistence means the ledger/record store was unavailable. The send
    // must not proceed without a successful reservation.
    ErrPersistence = errors.New("persistence unavailable")
)
