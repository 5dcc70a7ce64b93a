package store

import "time"

// Delivery is a delivery record as the scheduler sees it. Payload holds the
// canonical bytes signed at send time; they never change across retries.
type Delivery struct {
    ID             string
    OrgID          string
    IdempotencyKey string
    EventType      string
    Timestamp      string // RFC3339, mirrors the payload's timestamp field
    URL            string
    Secret         string
    Payload        []byte
    Status         string
    Attempts       int
    NextAttemptAt  time.Time
    LastError      string
    ResponseCode   int
    LatencyMs      int
    CreatedAt      time.Time
    DeliveredAt    *time.Time
}
