package delivery

import (
    "context"
    "errors"
    "fmt"
    "time"

    "github.com/google/uuid"

    "hookrelay/internal/model"
    "hookrelay/internal/signer"
    "hookrelay/internal/store"
)

// ErrNoDestination means the organization has no endpoint configured.
var ErrNoDestination = errors.New("no destination configured")

// ErrDestinationDisabled means the endpoint exists but is switched off.
var ErrDestinationDisabled = errors.New("destination disabled")

// Publisher turns a domain event into a reserved, scheduled delivery. All
// per-tenant state (URL, secret) is read per call; nothing is held globally.
type Publisher struct {
    Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
    return &Publisher{Store: s}
}

// Publish reserves the (orgID, idempotencyKey) ledger entry and enqueues one
// delivery. A duplicate key short-circuits to the existing record without a
// new send; alreadyExists reports that to the caller.
func (p *Publisher) Publish(ctx context.Context, orgID, eventType, idempotencyKey string, data map[string]any) (model.DeliveryView, bool, error) {
    if eventType == "" || idempotencyKey == "" {
        return model.DeliveryView{}, false, fmt.Errorf("%w: event and idempotencyKey are required", model.ErrEncoding)
    }
    dest, err := p.Store.GetDestination(ctx, orgID)
    if errors.Is(err, store.ErrNotFound) {
        return model.DeliveryView{}, false, ErrNoDestination
    }
    if err != nil {
        return model.DeliveryView{}, false, fmt.Errorf("%w: %v", model.ErrPersistence, err)
    }
    if !dest.Enabled {
        return model.DeliveryView{}, false, ErrDestinationDisabled
    }

    payload := model.EventPayload{
        Event:          eventType,
        IdempotencyKey: idempotencyKey,
        Timestamp:      time.Now().UTC().Format(time.RFC3339),
        Data:           data,
    }
    body, err := signer.Canonicalize(payload)
    if err != nil {
        return model.DeliveryView{}, false, err
    }

    d, alreadyExists, err := p.Store.ReserveDelivery(ctx, store.Delivery{
        OrgID:          orgID,
        IdempotencyKey: idempotencyKey,
        EventType:      eventType,
        Timestamp:      payload.Timestamp,
        URL:            dest.URL,
        Secret:         dest.Secret,
        Payload:        body,
    })
    if err != nil {
        return model.DeliveryView{}, false, fmt.Errorf("%w: %v", model.ErrPersistence, err)
    }
    view, err := p.Store.GetDelivery(ctx, orgID, d.ID)
    if err != nil {
        return model.DeliveryView{}, false, fmt.Errorf("%w: %v", model.ErrPersistence, err)
    }
    return view, alreadyExists, nil
}

// SendTest runs a single attempt against the org's destination outside the
// scheduler loop and returns the raw outcome. Nothing is persisted.
func (p *Publisher) SendTest(ctx context.Context, e *Engine, orgID string) (AttemptResult, error) {
    dest, err := p.Store.GetDestination(ctx, orgID)
    if errors.Is(err, store.ErrNotFound) {
        return AttemptResult{}, ErrNoDestination
    }
    if err != nil {
        return AttemptResult{}, fmt.Errorf("%w: %v", model.ErrPersistence, err)
    }
    payload := model.EventPayload{
        Event:          "ping",
        IdempotencyKey: "test-" + uuid.New().String(),
        Timestamp:      time.Now().UTC().Format(time.RFC3339),
    }
    body, err := signer.Canonicalize(payload)
    if err != nil {
        return AttemptResult{}, err
    }
    return e.Attempt(ctx, store.Delivery{
        OrgID:     orgID,
        EventType: payload.Event,
        Timestamp: payload.Timestamp,
        URL:       dest.URL,
        Secret:    dest.Secret,
        Payload:   body,
    }), nil
}
