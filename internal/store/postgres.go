package store

import (
    "context"
    "database/sql"
    "errors"
    "os"
    "path/filepath"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "hookrelay/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies every .sql file in dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, n := range names {
        b, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil { return err }
    }
    return nil
}

// Destinations

func (p *Postgres) PutDestination(ctx context.Context, d model.Destination) error {
    _, err := p.db.ExecContext(ctx, `INSERT INTO destinations (org_id, url, secret, enabled, updated_at)
        VALUES ($1,$2,$3,$4,now())
        ON CONFLICT (org_id) DO UPDATE SET url=$2, secret=$3, enabled=$4, updated_at=now()`,
        d.OrgID, d.URL, d.Secret, d.Enabled)
    return err
}

func (p *Postgres) GetDestination(ctx context.Context, orgID string) (model.Destination, error) {
    var d model.Destination
    err := p.db.QueryRowContext(ctx, `SELECT org_id, url, secret, enabled, updated_at FROM destinations WHERE org_id=$1`, orgID).
        Scan(&d.OrgID, &d.URL, &d.Secret, &d.Enabled, &d.UpdatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.Destination{}, ErrNotFound }
    if err != nil { return model.Destination{}, err }
    return d, nil
}

func (p *Postgres) DeleteDestination(ctx context.Context, orgID string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM destinations WHERE org_id=$1`, orgID)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Delivery records / idempotency ledger

func (p *Postgres) ReserveDelivery(ctx context.Context, d Delivery) (Delivery, bool, error) {
    id := uuid.New().String()
    var insertedID string
    err := p.db.QueryRowContext(ctx, `INSERT INTO deliveries (id, org_id, idempotency_key, event_type, event_ts, url, secret, payload, status, attempts, next_attempt_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',0,now())
        ON CONFLICT (org_id, idempotency_key) DO NOTHING
        RETURNING id`, id, d.OrgID, d.IdempotencyKey, d.EventType, d.Timestamp, d.URL, nullIfEmpty(d.Secret), d.Payload).Scan(&insertedID)
    if err != nil && !errors.Is(err, sql.ErrNoRows) {
        return Delivery{}, false, err
    }
    alreadyExists := errors.Is(err, sql.ErrNoRows)
    got, err := p.fetchByKey(ctx, d.OrgID, d.IdempotencyKey)
    if err != nil { return Delivery{}, false, err }
    return got, alreadyExists, nil
}

func (p *Postgres) fetchByKey(ctx context.Context, orgID, key string) (Delivery, error) {
    row := p.db.QueryRowContext(ctx, `SELECT `+deliveryCols+` FROM deliveries WHERE org_id=$1 AND idempotency_key=$2`, orgID, key)
    return scanDelivery(row)
}

const deliveryCols = `id::text, org_id, idempotency_key, event_type, event_ts, url, COALESCE(secret,''), payload, status, attempts,
    next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0), created_at, delivered_at`

type rowScanner interface{ Scan(dest ...any) error }

func scanDelivery(r rowScanner) (Delivery, error) {
    var d Delivery
    var deliveredAt sql.NullTime
    err := r.Scan(&d.ID, &d.OrgID, &d.IdempotencyKey, &d.EventType, &d.Timestamp, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts,
        &d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs, &d.CreatedAt, &deliveredAt)
    if errors.Is(err, sql.ErrNoRows) { return Delivery{}, ErrNotFound }
    if err != nil { return Delivery{}, err }
    if deliveredAt.Valid { t := deliveredAt.Time; d.DeliveredAt = &t }
    return d, nil
}

func (p *Postgres) GetDelivery(ctx context.Context, orgID, id string) (model.DeliveryView, error) {
    row := p.db.QueryRowContext(ctx, `SELECT `+deliveryCols+` FROM deliveries WHERE org_id=$1 AND id=$2`, orgID, id)
    d, err := scanDelivery(row)
    if err != nil { return model.DeliveryView{}, err }
    return toView(&d), nil
}

// FetchDueDeliveries claims a batch of due records by pushing next_attempt_at
// forward a lease interval inside one statement. SKIP LOCKED keeps concurrent
// scheduler replicas off each other's rows, and the lease keeps a second poll
// from re-fetching a row whose attempt is still in flight; if the claiming
// process dies mid-attempt, the row simply comes due again after the lease.
func (p *Postgres) FetchDueDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
    rows, err := p.db.QueryContext(ctx, `UPDATE deliveries SET next_attempt_at = now() + interval '2 minutes', updated_at = now()
        WHERE id IN (
            SELECT id FROM deliveries
            WHERE status='pending' AND next_attempt_at <= now()
            ORDER BY next_attempt_at ASC LIMIT $1
            FOR UPDATE SKIP LOCKED)
        RETURNING `+deliveryCols, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []Delivery{}
    for rows.Next() {
        d, err := scanDelivery(rows)
        if err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkDeliveryAttempt(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
    if success {
        _, err := p.db.ExecContext(ctx, `UPDATE deliveries SET attempts=attempts+1, status='delivered', last_error=NULL,
            response_code=$2, latency_ms=$3, delivered_at=now(), updated_at=now() WHERE id=$1 AND status='pending'`, id, responseCode, latencyMs)
        return err
    }
    next := time.Now().Add(1 * time.Minute)
    if nextAttemptAt != nil { next = *nextAttemptAt }
    _, err := p.db.ExecContext(ctx, `UPDATE deliveries SET attempts=attempts+1, last_error=$2, next_attempt_at=$3,
        response_code=$4, latency_ms=$5, updated_at=now() WHERE id=$1 AND status='pending'`, id, nullIfEmpty(lastError), next, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailDelivery(ctx context.Context, id string, lastError string, responseCode, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE deliveries SET attempts=attempts+1, status='failed', last_error=$2,
        response_code=$3, latency_ms=$4, updated_at=now() WHERE id=$1 AND status='pending'`, id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func (p *Postgres) CancelDelivery(ctx context.Context, orgID, id string) error {
    res, err := p.db.ExecContext(ctx, `UPDATE deliveries SET status='failed', last_error='canceled', updated_at=now()
        WHERE org_id=$1 AND id=$2 AND status='pending'`, orgID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 {
        // terminal cancel is an idempotent no-op, but an unknown ID is an error
        if _, err := p.GetDelivery(ctx, orgID, id); err != nil { return err }
    }
    return nil
}

func (p *Postgres) RedriveDelivery(ctx context.Context, orgID, id string) error {
    v, err := p.GetDelivery(ctx, orgID, id)
    if err != nil { return err }
    if v.Status == model.StatusDelivered { return ErrAlreadyDelivered }
    _, err = p.db.ExecContext(ctx, `UPDATE deliveries SET status='pending', attempts=0, last_error=NULL, next_attempt_at=now(), updated_at=now()
        WHERE org_id=$1 AND id=$2 AND status <> 'delivered'`, orgID, id)
    return err
}

func (p *Postgres) ListDeliveries(ctx context.Context, orgID, status, cursor string, limit int) ([]model.DeliveryView, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    q := `SELECT ` + deliveryCols + ` FROM deliveries WHERE org_id=$1`
    args := []any{orgID}
    if status != "" {
        args = append(args, status)
        q += ` AND status=$2`
    }
    if cursor != "" {
        // cursor is the last id of the previous page; pages advance in
        // creation order so Memory and Postgres paginate identically
        args = append(args, cursor)
        n := itoa(len(args))
        q += ` AND (created_at, id::text) > (SELECT created_at, id::text FROM deliveries WHERE id=$` + n + `::uuid)`
    }
    args = append(args, limit)
    q += ` ORDER BY created_at, id LIMIT $` + itoa(len(args))
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.DeliveryView{}
    var last string
    for rows.Next() {
        d, err := scanDelivery(rows)
        if err != nil { return nil, "", err }
        out = append(out, toView(&d))
        last = d.ID
    }
    var next string
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) DeliveryMetrics(ctx context.Context, orgID string, since time.Time, eventType, status string) ([]map[string]any, error) {
    q := `SELECT event_type, status, COUNT(*), COALESCE(AVG(latency_ms),0)::int FROM deliveries WHERE org_id=$1 AND created_at >= $2`
    args := []any{orgID, since}
    if eventType != "" {
        args = append(args, eventType)
        q += ` AND event_type=$` + itoa(len(args))
    }
    if status != "" {
        args = append(args, status)
        q += ` AND status=$` + itoa(len(args))
    }
    q += ` GROUP BY event_type, status ORDER BY event_type, status`
    rows, err := p.db.QueryContext(ctx, q, args...)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []map[string]any{}
    for rows.Next() {
        var et, st string
        var count, avg int
        if err := rows.Scan(&et, &st, &count, &avg); err != nil { return nil, err }
        out = append(out, map[string]any{"eventType": et, "status": st, "count": count, "avgLatencyMs": avg})
    }
    return out, rows.Err()
}

func (p *Postgres) PruneDeliveries(ctx context.Context, olderThan time.Time) (int, error) {
    res, err := p.db.ExecContext(ctx, `DELETE FROM deliveries WHERE status IN ('delivered','failed') AND created_at < $1`, olderThan)
    if err != nil { return 0, err }
    n, _ := res.RowsAffected()
    return int(n), nil
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

func itoa(n int) string { return strconv.Itoa(n) }
