package delivery

import (
    "bytes"
    "context"
    "net/http"
    "time"

    "hookrelay/internal/signer"
    "hookrelay/internal/store"
)

// Outcome classifies one delivery attempt.
type Outcome int

const (
    Success Outcome = iota
    // TransientFailure: network error, timeout, 429 or 5xx. Retryable.
    TransientFailure
    // PermanentFailure: other 4xx. The receiver rejected the request itself;
    // retrying identical bytes cannot help.
    PermanentFailure
)

func (o Outcome) String() string {
    switch o {
    case Success:
        return "success"
    case PermanentFailure:
        return "permanent"
    default:
        return "transient"
    }
}

// AttemptResult carries the classification plus what the scheduler persists.
type AttemptResult struct {
    Outcome   Outcome
    Code      int
    LatencyMs int
    Err       string
}

// Engine performs a single HTTP delivery attempt. It holds no state beyond
// the shared client; all record mutation belongs to the scheduler.
type Engine struct {
    HTTP *http.Client
}

func NewEngine(timeout time.Duration) *Engine {
    if timeout <= 0 { timeout = 30 * time.Second }
    return &Engine{HTTP: &http.Client{
        Timeout: timeout,
        // Redirects are never followed: the signed payload must only ever
        // reach the URL that passed destination validation.
        CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
    }}
}

// Attempt POSTs the stored canonical payload to the destination. The signature
// is recomputed from the stored bytes and secret, so it is identical on every
// retry of the same record.
func (e *Engine) Attempt(ctx context.Context, d store.Delivery) AttemptResult {
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(d.Payload))
    if err != nil {
        return AttemptResult{Outcome: PermanentFailure, Err: err.Error()}
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("X-Webhook-Signature", signer.SignBytes(d.Secret, d.Payload))
    req.Header.Set("X-Webhook-Timestamp", d.Timestamp)
    req.Header.Set("X-Webhook-Event", d.EventType)

    start := time.Now()
    resp, err := e.HTTP.Do(req)
    latency := int(time.Since(start).Milliseconds())
    if err != nil {
        return AttemptResult{Outcome: TransientFailure, LatencyMs: latency, Err: err.Error()}
    }
    if resp.Body != nil { _ = resp.Body.Close() }
    res := AttemptResult{Code: resp.StatusCode, LatencyMs: latency}
    switch {
    case resp.StatusCode >= 200 && resp.StatusCode < 300:
        res.Outcome = Success
    case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
        res.Outcome = TransientFailure
        res.Err = resp.Status
    case resp.StatusCode >= 400:
        res.Outcome = PermanentFailure
        res.Err = resp.Status
    default:
        // 3xx: the endpoint is misconfigured, not down
        res.Outcome = PermanentFailure
        res.Err = resp.Status
    }
    return res
}
