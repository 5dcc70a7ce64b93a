package store

import (
    "context"
    "sort"
    "sync"
    "time"

    "github.com/google/uuid"

    "hookrelay/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// It mirrors the Postgres semantics, including ledger atomicity, behind one mutex.
type Memory struct {
    mu         sync.Mutex
    dests      map[string]model.Destination // orgID -> destination
    deliveries map[string]*Delivery         // id -> record
    byKey      map[memKey]string            // ledger: (org, idempotency key) -> id
    byOrg      map[string][]string          // orgID -> delivery ids in insert order
}

type memKey struct{ org, key string }

func NewMemory() *Memory {
    return &Memory{
        dests:      map[string]model.Destination{},
        deliveries: map[string]*Delivery{},
        byKey:      map[memKey]string{},
        byOrg:      map[string][]string{},
    }
}

func (m *Memory) PutDestination(ctx context.Context, d model.Destination) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d.UpdatedAt = time.Now().UTC()
    m.dests[d.OrgID] = d
    return nil
}

func (m *Memory) GetDestination(ctx context.Context, orgID string) (model.Destination, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    d, ok := m.dests[orgID]
    if !ok { return model.Destination{}, ErrNotFound }
    return d, nil
}

func (m *Memory) DeleteDestination(ctx context.Context, orgID string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.dests[orgID]; !ok { return ErrNotFound }
    delete(m.dests, orgID)
    return nil
}

func (m *Memory) ReserveDelivery(ctx context.Context, d Delivery) (Delivery, bool, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    k := memKey{d.OrgID, d.IdempotencyKey}
    if id, ok := m.byKey[k]; ok {
        return *m.deliveries[id], true, nil
    }
    d.ID = uuid.New().String()
    d.Status = model.StatusPending
    d.Attempts = 0
    d.CreatedAt = time.Now().UTC()
    d.NextAttemptAt = d.CreatedAt
    cp := d
    m.deliveries[d.ID] = &cp
    m.byKey[k] = d.ID
    m.byOrg[d.OrgID] = append(m.byOrg[d.OrgID], d.ID)
    return d, false, nil
}

func (m *Memory) GetDelivery(ctx context.Context, orgID, id string) (model.DeliveryView, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.OrgID != orgID { return model.DeliveryView{}, ErrNotFound }
    return toView(d), nil
}

func (m *Memory) FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    due := []*Delivery{}
    for _, d := range m.deliveries {
        if d.Status == model.StatusPending && !d.NextAttemptAt.After(now) {
            due = append(due, d)
        }
    }
    sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
    out := []Delivery{}
    for _, d := range due {
        out = append(out, *d)
        if limit > 0 && len(out) >= limit { break }
    }
    return out, nil
}

func (m *Memory) MarkDeliveryAttempt(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.Status != model.StatusPending { return nil }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = model.StatusDelivered
        now := time.Now().UTC()
        d.DeliveredAt = &now
        d.LastError = ""
        return nil
    }
    d.LastError = lastError
    if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    return nil
}

func (m *Memory) FailDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.Status != model.StatusPending { return nil }
    d.Attempts++
    d.Status = model.StatusFailed
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    return nil
}

func (m *Memory) CancelDelivery(ctx context.Context, orgID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.OrgID != orgID { return ErrNotFound }
    if d.Status != model.StatusPending { return nil }
    d.Status = model.StatusFailed
    d.LastError = "canceled"
    return nil
}

func (m *Memory) RedriveDelivery(ctx context.Context, orgID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.OrgID != orgID { return ErrNotFound }
    if d.Status == model.StatusDelivered { return ErrAlreadyDelivered }
    d.Status = model.StatusPending
    d.Attempts = 0
    d.LastError = ""
    d.NextAttemptAt = time.Now()
    return nil
}

func (m *Memory) ListDeliveries(ctx context.Context, orgID, status, cursor string, limit int) ([]model.DeliveryView, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if limit <= 0 || limit > 500 { limit = 100 }
    out := []model.DeliveryView{}
    skipping := cursor != ""
    var next string
    for _, id := range m.byOrg[orgID] {
        if skipping {
            if id == cursor { skipping = false }
            continue
        }
        d := m.deliveries[id]
        if d == nil { continue }
        if status != "" && d.Status != status { continue }
        out = append(out, toView(d))
        if len(out) >= limit { next = id; break }
    }
    return out, next, nil
}

func (m *Memory) DeliveryMetrics(ctx context.Context, orgID string, since time.Time, eventType, status string) ([]map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    type agg struct {
        count   int
        latency int
    }
    sums := map[[2]string]*agg{}
    for _, id := range m.byOrg[orgID] {
        d := m.deliveries[id]
        if d == nil || d.CreatedAt.Before(since) { continue }
        if eventType != "" && d.EventType != eventType { continue }
        if status != "" && d.Status != status { continue }
        k := [2]string{d.EventType, d.Status}
        if sums[k] == nil { sums[k] = &agg{} }
        sums[k].count++
        sums[k].latency += d.LatencyMs
    }
    out := []map[string]any{}
    for k, a := range sums {
        row := map[string]any{"eventType": k[0], "status": k[1], "count": a.count}
        if a.count > 0 { row["avgLatencyMs"] = a.latency / a.count }
        out = append(out, row)
    }
    sort.Slice(out, func(i, j int) bool {
        if out[i]["eventType"].(string) != out[j]["eventType"].(string) {
            return out[i]["eventType"].(string) < out[j]["eventType"].(string)
        }
        return out[i]["status"].(string) < out[j]["status"].(string)
    })
    return out, nil
}

func (m *Memory) PruneDeliveries(ctx context.Context, olderThan time.Time) (int, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    n := 0
    for id, d := range m.deliveries {
        if d.Status == model.StatusPending || !d.CreatedAt.Before(olderThan) { continue }
        delete(m.deliveries, id)
        delete(m.byKey, memKey{d.OrgID, d.IdempotencyKey})
        ids := m.byOrg[d.OrgID]
        for i := range ids {
            if ids[i] == id { m.byOrg[d.OrgID] = append(ids[:i], ids[i+1:]...); break }
        }
        n++
    }
    return n, nil
}

func toView(d *Delivery) model.DeliveryView {
    v := model.DeliveryView{
        ID:             d.ID,
        OrgID:          d.OrgID,
        IdempotencyKey: d.IdempotencyKey,
        EventType:      d.EventType,
        URL:            d.URL,
        Status:         d.Status,
        Attempts:       d.Attempts,
        LastError:      d.LastError,
        ResponseCode:   d.ResponseCode,
        LatencyMs:      d.LatencyMs,
        CreatedAt:      d.CreatedAt,
        DeliveredAt:    d.DeliveredAt,
    }
    if d.Status == model.StatusPending && !d.NextAttemptAt.IsZero() {
        t := d.NextAttemptAt
        v.NextAttemptAt = &t
    }
    return v
}
