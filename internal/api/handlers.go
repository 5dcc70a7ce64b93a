package api

import (
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strings"
    "time"

    "hookrelay/internal/buildinfo"
    "hookrelay/internal/delivery"
    "hookrelay/internal/model"
    "hookrelay/internal/receiver"
    "hookrelay/internal/store"
)

// EventsHandler handles POST /v1/events: reserve the idempotency ledger entry
// and schedule a delivery. A repeated idempotency key returns the existing
// record's status without a new send.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    var req struct {
        Event          string         `json:"event"`
        IdempotencyKey string         `json:"idempotencyKey"`
        Data           map[string]any `json:"data"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    view, alreadyExists, err := s.Pub.Publish(r.Context(), p.Org, req.Event, req.IdempotencyKey, req.Data)
    switch {
    case errors.Is(err, delivery.ErrNoDestination):
        writeProblem(w, http.StatusNotFound, "No destination configured", "configure a webhook destination first", r.URL.Path)
        return
    case errors.Is(err, delivery.ErrDestinationDisabled):
        writeProblem(w, http.StatusConflict, "Destination disabled", "", r.URL.Path)
        return
    case errors.Is(err, model.ErrEncoding):
        writeProblem(w, http.StatusBadRequest, "Invalid event payload", err.Error(), r.URL.Path)
        return
    case errors.Is(err, model.ErrPersistence):
        writeProblem(w, http.StatusServiceUnavailable, "Storage unavailable", "retry the request", r.URL.Path)
        return
    case err != nil:
        writeProblem(w, http.StatusInternalServerError, "Publish failed", err.Error(), r.URL.Path)
        return
    }
    status := http.StatusAccepted
    if alreadyExists {
        status = http.StatusOK
    }
    writeJSON(w, status, map[string]any{"delivery": view, "duplicate": alreadyExists})
}

// DestinationHandler handles GET/PUT/DELETE /v1/destination
func (s *Server) DestinationHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodGet:
        d, err := s.Store.GetDestination(r.Context(), p.Org)
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
            return
        }
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Get destination failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, d)
    case http.MethodPut:
        if !p.CanOperate() {
            writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
            return
        }
        var req struct {
            URL     string `json:"url"`
            Secret  string `json:"secret"`
            Enabled *bool  `json:"enabled"`
        }
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if err := validateDestination(req.URL, req.Secret, s.Cfg.DevMode); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid destination", err.Error(), r.URL.Path)
            return
        }
        enabled := true
        if req.Enabled != nil {
            enabled = *req.Enabled
        }
        d := model.Destination{OrgID: p.Org, URL: req.URL, Secret: req.Secret, Enabled: enabled}
        if err := s.Store.PutDestination(r.Context(), d); err != nil {
            writeProblem(w, http.StatusInternalServerError, "Save destination failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, d)
    case http.MethodDelete:
        if !p.CanOperate() {
            writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
            return
        }
        if err := s.Store.DeleteDestination(r.Context(), p.Org); err != nil {
            if errors.Is(err, store.ErrNotFound) {
                writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
                return
            }
            writeProblem(w, http.StatusInternalServerError, "Delete destination failed", err.Error(), r.URL.Path)
            return
        }
        w.WriteHeader(http.StatusNoContent)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// DestinationTestHandler handles POST /v1/destination/test: one synchronous
// attempt outside the retry loop, raw outcome back to the caller for UI feedback.
func (s *Server) DestinationTestHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    res, err := s.Pub.SendTest(r.Context(), s.Engine, p.Org)
    if errors.Is(err, delivery.ErrNoDestination) {
        writeProblem(w, http.StatusNotFound, "No destination configured", "", r.URL.Path)
        return
    }
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Test send failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "outcome":   res.Outcome.String(),
        "code":      res.Code,
        "latencyMs": res.LatencyMs,
        "error":     res.Err,
    })
}

// DeliveriesHandler handles GET /v1/deliveries
func (s *Server) DeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    status := r.URL.Query().Get("status")
    cursor := r.URL.Query().Get("cursor")
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    items, next, err := s.Store.ListDeliveries(r.Context(), p.Org, status, cursor, limit)
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// DeliveryByIDHandler handles /v1/deliveries/{id} and the redrive/cancel
// sub-resources.
func (s *Server) DeliveryByIDHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    rest := strings.TrimPrefix(r.URL.Path, "/v1/deliveries/")
    switch {
    case r.Method == http.MethodGet && !strings.Contains(rest, "/"):
        v, err := s.Store.GetDelivery(r.Context(), p.Org, rest)
        if errors.Is(err, store.ErrNotFound) {
            writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
            return
        }
        if err != nil {
            writeProblem(w, http.StatusInternalServerError, "Get delivery failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, v)
    case r.Method == http.MethodPost && strings.HasSuffix(rest, "/redrive"):
        if !p.CanOperate() {
            writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
            return
        }
        id := strings.TrimSuffix(rest, "/redrive")
        err := s.Store.RedriveDelivery(r.Context(), p.Org, id)
        switch {
        case errors.Is(err, store.ErrNotFound):
            writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
        case errors.Is(err, store.ErrAlreadyDelivered):
            writeProblem(w, http.StatusConflict, "Already delivered", "", r.URL.Path)
        case err != nil:
            writeProblem(w, http.StatusInternalServerError, "Redrive failed", err.Error(), r.URL.Path)
        default:
            writeJSON(w, http.StatusOK, map[string]any{"status": "requeued"})
        }
    case r.Method == http.MethodPost && strings.HasSuffix(rest, "/cancel"):
        if !p.CanOperate() {
            writeProblem(w, http.StatusForbidden, "Forbidden", "operator or admin required", r.URL.Path)
            return
        }
        id := strings.TrimSuffix(rest, "/cancel")
        if err := s.Store.CancelDelivery(r.Context(), p.Org, id); err != nil {
            if errors.Is(err, store.ErrNotFound) {
                writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
                return
            }
            writeProblem(w, http.StatusInternalServerError, "Cancel failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"status": "canceled"})
    default:
        writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
    }
}

// DeliveryMetricsHandler handles GET /v1/admin/delivery-metrics
func (s *Server) DeliveryMetricsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.IsAdmin() {
        writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
        return
    }
    since := time.Now().Add(-24 * time.Hour)
    if v := r.URL.Query().Get("since"); v != "" {
        if t, err := time.Parse(time.RFC3339, v); err == nil { since = t }
    }
    rowsOut, err := s.Store.DeliveryMetrics(r.Context(), p.Org, since, r.URL.Query().Get("eventType"), r.URL.Query().Get("status"))
    if err != nil {
        writeProblem(w, http.StatusInternalServerError, "Metrics failed", err.Error(), r.URL.Path)
        return
    }
    writeJSON(w, http.StatusOK, map[string]any{"items": rowsOut, "since": since})
}

// ReceiverEchoHandler handles POST /v1/receiver/echo: a reference receiver
// that applies the full verification contract against the org's configured
// secret. Useful as a destination in dev mode and as a living example.
func (s *Server) ReceiverEchoHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    dest, err := s.Store.GetDestination(r.Context(), p.Org)
    if err != nil {
        writeProblem(w, http.StatusNotFound, "No destination configured", "", r.URL.Path)
        return
    }
    body, err := io.ReadAll(r.Body)
    if err != nil {
        writeProblem(w, http.StatusBadRequest, "Read failed", err.Error(), r.URL.Path)
        return
    }
    v := receiver.NewVerifier(dest.Secret, s.Dedup)
    v.ReplayWindow = s.Cfg.Receiver.ReplayWindow.Std()
    payload, err := v.VerifyBody(r, body)
    switch {
    case errors.Is(err, receiver.ErrDuplicate):
        writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate", "event": payload.Event})
    case errors.Is(err, receiver.ErrStaleTimestamp), errors.Is(err, receiver.ErrBadSignature):
        writeProblem(w, http.StatusUnauthorized, "Verification failed", err.Error(), r.URL.Path)
    case err != nil:
        writeProblem(w, http.StatusInternalServerError, "Verification error", err.Error(), r.URL.Path)
    default:
        // echo is the whole processing step; the key is marked only once it ran
        if err := v.MarkProcessed(r.Context(), payload); err != nil {
            writeProblem(w, http.StatusInternalServerError, "Verification error", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusOK, map[string]any{"status": "processed", "event": payload.Event, "idempotencyKey": payload.IdempotencyKey})
    }
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
