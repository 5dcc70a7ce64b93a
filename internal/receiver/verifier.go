// Package receiver implements the contract a webhook endpoint must apply
// before trusting a delivered payload: timestamp freshness, constant-time
// signature verification, then idempotency-key dedup. Deliveries arrive
// at-least-once; step three is what makes processing effectively-once.
package receiver

import (
    "context"
    "encoding/json"
    "errors"
    "io"
    "net/http"
    "time"

    "hookrelay/internal/model"
    "hookrelay/internal/signer"
)

var (
    ErrStaleTimestamp = errors.New("timestamp outside replay window")
    ErrBadSignature   = errors.New("signature mismatch")
    ErrDuplicate      = errors.New("idempotency key already processed")
)

// Verifier validates incoming deliveries for one shared secret.
type Verifier struct {
    Secret       string
    ReplayWindow time.Duration // default 5m
    Dedup        DedupStore    // nil skips the dedup step
    DedupTTL     time.Duration // default 7d

    // now is swappable for tests
    now func() time.Time
}

func NewVerifier(secret string, dedup DedupStore) *Verifier {
    return &Verifier{
        Secret:       secret,
        ReplayWindow: 5 * time.Minute,
        Dedup:        dedup,
        DedupTTL:     7 * 24 * time.Hour,
        now:          time.Now,
    }
}

// VerifyBody checks the raw request body against the signature and timestamp
// headers. Order matters: the cheap freshness check runs before the HMAC, and
// dedup runs last so an attacker cannot burn keys with forged requests.
func (v *Verifier) VerifyBody(r *http.Request, body []byte) (model.EventPayload, error) {
    sig := r.Header.Get("X-Webhook-Signature")
    ts := r.Header.Get("X-Webhook-Timestamp")
    if sig == "" || ts == "" {
        return model.EventPayload{}, ErrBadSignature
    }
    sent, err := time.Parse(time.RFC3339, ts)
    if err != nil {
        return model.EventPayload{}, ErrStaleTimestamp
    }
    window := v.ReplayWindow
    if window <= 0 {
        window = 5 * time.Minute
    }
    age := v.clock().Sub(sent)
    if age > window || age < -window {
        return model.EventPayload{}, ErrStaleTimestamp
    }
    if !signer.VerifyBytes(v.Secret, body, sig) {
        return model.EventPayload{}, ErrBadSignature
    }
    var p model.EventPayload
    if err := json.Unmarshal(body, &p); err != nil {
        return model.EventPayload{}, ErrBadSignature
    }
    if v.Dedup != nil && p.IdempotencyKey != "" {
        seen, err := v.Dedup.Processed(r.Context(), p.IdempotencyKey)
        if err != nil {
            return model.EventPayload{}, err
        }
        if seen {
            return p, ErrDuplicate
        }
    }
    return p, nil
}

// MarkProcessed records the payload's idempotency key. Call it only after the
// event has been handled; a key marked before processing would make a failed
// handler unrecoverable, since the sender's redelivery acks as a duplicate.
func (v *Verifier) MarkProcessed(ctx context.Context, p model.EventPayload) error {
    if v.Dedup == nil || p.IdempotencyKey == "" {
        return nil
    }
    _, err := v.Dedup.MarkProcessed(ctx, p.IdempotencyKey, v.dedupTTL())
    return err
}

func (v *Verifier) clock() time.Time {
    if v.now != nil {
        return v.now()
    }
    return time.Now()
}

func (v *Verifier) dedupTTL() time.Duration {
    if v.DedupTTL > 0 {
        return v.DedupTTL
    }
    return 7 * 24 * time.Hour
}

// Handler wraps fn with the full verification contract. Stale or forged
// requests get 401; a replayed idempotency key gets 200 without reprocessing,
// which is the correct ack for an at-least-once sender. The key is marked
// processed only when fn returns nil, so a failed handler leaves the key
// unburned and the sender's redelivery gets a real retry.
func (v *Verifier) Handler(fn func(w http.ResponseWriter, r *http.Request, p model.EventPayload) error) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodPost {
            w.WriteHeader(http.StatusMethodNotAllowed)
            return
        }
        body, err := io.ReadAll(r.Body)
        if err != nil {
            w.WriteHeader(http.StatusBadRequest)
            return
        }
        p, err := v.VerifyBody(r, body)
        switch {
        case errors.Is(err, ErrDuplicate):
            w.WriteHeader(http.StatusOK)
            return
        case errors.Is(err, ErrStaleTimestamp), errors.Is(err, ErrBadSignature):
            w.WriteHeader(http.StatusUnauthorized)
            return
        case err != nil:
            w.WriteHeader(http.StatusInternalServerError)
            return
        }
        if err := fn(w, r, p); err != nil {
            return
        }
        _ = v.MarkProcessed(r.Context(), p)
    })
}
