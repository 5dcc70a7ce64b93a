package delivery

import (
    "context"
    "log"
    "math/rand"
    "sync"
    "time"

    "golang.org/x/time/rate"

    "hookrelay/internal/metrics"
    "hookrelay/internal/model"
    "hookrelay/internal/store"
)

// Notifier receives delivery status events for live streaming. Implemented by
// the API broker; nil disables notifications.
type Notifier interface {
    DeliveryEvent(orgID string, evt map[string]any)
}

// SchedulerConfig enumerates every policy knob with its default. The zero
// value is usable; New fills in defaults.
type SchedulerConfig struct {
    MaxAttempts  int           // default 5
    BaseDelay    time.Duration // default 1s; delay before attempt n+1 is BaseDelay*2^(n-1)
    MaxDelay     time.Duration // default 5m; backoff cap
    PollInterval time.Duration // default 1s
    BatchSize    int           // default 50
    Workers      int           // default 8
    RatePerSec   float64       // outbound attempts/sec across all orgs; default 50
    Retention    time.Duration // terminal records pruned after this; default 7d
}

func (c *SchedulerConfig) defaults() {
    if c.MaxAttempts <= 0 { c.MaxAttempts = 5 }
    if c.BaseDelay <= 0 { c.BaseDelay = 1 * time.Second }
    if c.MaxDelay <= 0 { c.MaxDelay = 5 * time.Minute }
    if c.PollInterval <= 0 { c.PollInterval = 1 * time.Second }
    if c.BatchSize <= 0 { c.BatchSize = 50 }
    if c.Workers <= 0 { c.Workers = 8 }
    if c.RatePerSec <= 0 { c.RatePerSec = 50 }
    if c.Retention <= 0 { c.Retention = 7 * 24 * time.Hour }
}

// Scheduler owns the retry state machine: it polls due records, runs attempts
// through the engine, and persists the transition. A record is dispatched to
// at most one worker at a time; deliveries for different keys are independent.
type Scheduler struct {
    Store  store.Store
    Engine *Engine
    Cfg    SchedulerConfig
    Stop   chan struct{}

    Notifier Notifier
    limiter  *rate.Limiter

    mu       sync.Mutex
    inflight map[string]struct{}
}

func NewScheduler(s store.Store, e *Engine, cfg SchedulerConfig) *Scheduler {
    cfg.defaults()
    return &Scheduler{
        Store:    s,
        Engine:   e,
        Cfg:      cfg,
        Stop:     make(chan struct{}),
        limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), int(cfg.RatePerSec)),
        inflight: map[string]struct{}{},
    }
}

func (w *Scheduler) Start() {
    go func() {
        ticker := time.NewTicker(w.Cfg.PollInterval)
        prune := time.NewTicker(1 * time.Hour)
        defer ticker.Stop()
        defer prune.Stop()
        for {
            select {
            case <-w.Stop:
                return
            case <-ticker.C:
                w.processOnce()
            case <-prune.C:
                w.pruneOnce()
            }
        }
    }()
}

func (w *Scheduler) processOnce() {
    ctx, cancel := context.WithTimeout(context.Background(), 2*w.Cfg.PollInterval+60*time.Second)
    defer cancel()
    items, err := w.Store.FetchDueDeliveries(ctx, w.Cfg.BatchSize)
    if err != nil || len(items) == 0 { return }

    sem := make(chan struct{}, w.Cfg.Workers)
    var wg sync.WaitGroup
    for _, it := range items {
        if !w.claim(it.ID) { continue }
        if err := w.limiter.Wait(ctx); err != nil {
            w.release(it.ID)
            break
        }
        wg.Add(1)
        sem <- struct{}{}
        go func(d store.Delivery) {
            defer wg.Done()
            defer func() { <-sem }()
            defer w.release(d.ID)
            w.attemptOne(ctx, d)
        }(it)
    }
    wg.Wait()
}

func (w *Scheduler) attemptOne(ctx context.Context, d store.Delivery) {
    res := w.Engine.Attempt(ctx, d)
    switch res.Outcome {
    case Success:
        if err := w.Store.MarkDeliveryAttempt(ctx, d.ID, true, nil, "", res.Code, res.LatencyMs); err != nil {
            log.Printf("webhook %s: mark delivered: %v", d.ID, err)
            return
        }
        w.observe(d, model.StatusDelivered, res)
    case PermanentFailure:
        if err := w.Store.FailDelivery(ctx, d.ID, res.Err, res.Code, res.LatencyMs); err != nil {
            log.Printf("webhook %s: mark failed: %v", d.ID, err)
            return
        }
        w.observe(d, model.StatusFailed, res)
    default: // TransientFailure
        attempts := d.Attempts + 1
        if attempts >= w.Cfg.MaxAttempts {
            if err := w.Store.FailDelivery(ctx, d.ID, res.Err, res.Code, res.LatencyMs); err != nil {
                log.Printf("webhook %s: mark failed: %v", d.ID, err)
                return
            }
            w.observe(d, model.StatusFailed, res)
            return
        }
        next := time.Now().Add(w.nextBackoff(attempts))
        if err := w.Store.MarkDeliveryAttempt(ctx, d.ID, false, &next, res.Err, res.Code, res.LatencyMs); err != nil {
            log.Printf("webhook %s: reschedule: %v", d.ID, err)
            return
        }
        w.observe(d, "retry", res)
    }
}

// nextBackoff returns the delay before attempt attempts+1. It grows
// exponentially from BaseDelay, never exceeds MaxDelay, and never decreases
// as the attempt count rises. Below the cap a little upward jitter spreads
// retries against a recovering endpoint.
func (w *Scheduler) nextBackoff(attempts int) time.Duration {
    if attempts < 1 { attempts = 1 }
    if attempts > 30 { attempts = 30 }
    d := w.Cfg.BaseDelay << uint(attempts-1)
    if d <= 0 || d >= w.Cfg.MaxDelay {
        return w.Cfg.MaxDelay
    }
    jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
    if d+jitter > w.Cfg.MaxDelay { return w.Cfg.MaxDelay }
    return d + jitter
}

func (w *Scheduler) pruneOnce() {
    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
    defer cancel()
    n, err := w.Store.PruneDeliveries(ctx, time.Now().Add(-w.Cfg.Retention))
    if err != nil {
        log.Printf("webhook prune: %v", err)
        return
    }
    if n > 0 { log.Printf("webhook prune: removed %d terminal deliveries", n) }
}

func (w *Scheduler) observe(d store.Delivery, status string, res AttemptResult) {
    metrics.Deliveries.WithLabelValues(d.EventType, status).Inc()
    metrics.DeliveryLatency.WithLabelValues(d.EventType, status).Observe(float64(res.LatencyMs))
    if status == model.StatusFailed {
        metrics.TerminalFailures.WithLabelValues(d.EventType).Inc()
    }
    if w.Notifier != nil {
        w.Notifier.DeliveryEvent(d.OrgID, map[string]any{
            "deliveryId": d.ID,
            "eventType":  d.EventType,
            "status":     status,
            "attempts":   d.Attempts + 1,
            "code":       res.Code,
            "latencyMs":  res.LatencyMs,
        })
    }
}

func (w *Scheduler) claim(id string) bool {
    w.mu.Lock(); defer w.mu.Unlock()
    if _, ok := w.inflight[id]; ok { return false }
    w.inflight[id] = struct{}{}
    return true
}

func (w *Scheduler) release(id string) {
    w.mu.Lock(); defer w.mu.Unlock()
    delete(w.inflight, id)
}
