package api

import (
    "bytes"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "testing"
    "time"

    "hookrelay/internal/config"
    "hookrelay/internal/model"
    "hookrelay/internal/signer"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    cfg, err := config.Load("")
    if err != nil { t.Fatalf("config: %v", err) }
    cfg.DevMode = true
    cfg.DatabaseURL = ""
    cfg.RedisURL = ""
    s, err := NewServer(cfg)
    if err != nil { t.Fatalf("NewServer: %v", err) }
    return s
}

func putDestination(t *testing.T, s *Server, url string) {
    t.Helper()
    body, _ := json.Marshal(map[string]any{"url": url, "secret": "sekrit"})
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPut, "/v1/destination", bytes.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    s.DestinationHandler(rr, req)
    if rr.Code != 200 { t.Fatalf("put destination: got %d: %s", rr.Code, rr.Body.String()) }
}

func postEvent(t *testing.T, s *Server, event, key string) *httptest.ResponseRecorder {
    t.Helper()
    body, _ := json.Marshal(map[string]any{"event": event, "idempotencyKey": key, "data": map[string]any{"n": 1}})
    rr := httptest.NewRecorder()
    req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(body))
    req.Header.Set("Content-Type", "application/json")
    s.EventsHandler(rr, req)
    return rr
}

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestDestinationLifecycle(t *testing.T) {
    s := newTestServer(t)
    // GET before configuration
    rr := httptest.NewRecorder()
    s.DestinationHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/destination", nil))
    if rr.Code != 404 { t.Fatalf("get empty: got %d", rr.Code) }

    putDestination(t, s, "http://localhost:9999/hook")

    rr = httptest.NewRecorder()
    s.DestinationHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/destination", nil))
    if rr.Code != 200 { t.Fatalf("get: got %d", rr.Code) }
    if bytes.Contains(rr.Body.Bytes(), []byte("sekrit")) {
        t.Fatal("secret leaked in destination response")
    }

    rr = httptest.NewRecorder()
    s.DestinationHandler(rr, httptest.NewRequest(http.MethodDelete, "/v1/destination", nil))
    if rr.Code != 204 { t.Fatalf("delete: got %d", rr.Code) }
}

func TestDestinationValidation(t *testing.T) {
    s := newTestServer(t)
    s.Cfg.DevMode = false
    cases := []map[string]any{
        {"url": "http://example.com/hook", "secret": "0123456789abcdef"}, // https required
        {"url": "https://127.0.0.1/hook", "secret": "0123456789abcdef"},  // loopback
        {"url": "https://example.com/hook", "secret": ""},                // secret required
        {"url": "https://example.com/hook", "secret": "short"},           // secret too short
    }
    for _, c := range cases {
        body, _ := json.Marshal(c)
        rr := httptest.NewRecorder()
        req := httptest.NewRequest(http.MethodPut, "/v1/destination", bytes.NewReader(body))
        s.DestinationHandler(rr, req)
        if rr.Code != 400 { t.Errorf("accepted %v: got %d", c, rr.Code) }
    }
}

func TestEventPublishAndDuplicate(t *testing.T) {
    s := newTestServer(t)
    putDestination(t, s, "http://localhost:9999/hook")

    rr := postEvent(t, s, "order.created", "ord-1")
    if rr.Code != http.StatusAccepted { t.Fatalf("first publish: got %d: %s", rr.Code, rr.Body.String()) }
    var resp struct {
        Delivery  model.DeliveryView `json:"delivery"`
        Duplicate bool               `json:"duplicate"`
    }
    if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil { t.Fatalf("decode: %v", err) }
    if resp.Delivery.Status != model.StatusPending || resp.Duplicate { t.Fatalf("first publish: %+v", resp) }

    // duplicate key short-circuits to the existing record
    rr = postEvent(t, s, "order.created", "ord-1")
    if rr.Code != http.StatusOK { t.Fatalf("duplicate publish: got %d", rr.Code) }
    var resp2 struct {
        Delivery  model.DeliveryView `json:"delivery"`
        Duplicate bool               `json:"duplicate"`
    }
    _ = json.Unmarshal(rr.Body.Bytes(), &resp2)
    if !resp2.Duplicate || resp2.Delivery.ID != resp.Delivery.ID {
        t.Fatalf("duplicate publish: %+v", resp2)
    }

    // exactly one record listed
    rr = httptest.NewRecorder()
    s.DeliveriesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/deliveries", nil))
    if rr.Code != 200 { t.Fatalf("list: got %d", rr.Code) }
    var list struct{ Items []model.DeliveryView `json:"items"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &list)
    if len(list.Items) != 1 { t.Fatalf("expected 1 delivery, got %d", len(list.Items)) }
}

func TestEventWithoutDestination(t *testing.T) {
    s := newTestServer(t)
    rr := postEvent(t, s, "order.created", "ord-1")
    if rr.Code != 404 { t.Fatalf("got %d", rr.Code) }
}

func TestEventMissingFields(t *testing.T) {
    s := newTestServer(t)
    putDestination(t, s, "http://localhost:9999/hook")
    rr := postEvent(t, s, "", "ord-1")
    if rr.Code != 400 { t.Fatalf("empty event: got %d", rr.Code) }
    rr = postEvent(t, s, "order.created", "")
    if rr.Code != 400 { t.Fatalf("empty key: got %d", rr.Code) }
}

func TestDeliveryCancelAndRedrive(t *testing.T) {
    s := newTestServer(t)
    putDestination(t, s, "http://localhost:9999/hook")
    rr := postEvent(t, s, "order.created", "ord-1")
    var resp struct {
        Delivery model.DeliveryView `json:"delivery"`
    }
    _ = json.Unmarshal(rr.Body.Bytes(), &resp)
    id := resp.Delivery.ID

    // cancel pending -> failed
    rr = httptest.NewRecorder()
    s.DeliveryByIDHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/deliveries/"+id+"/cancel", nil))
    if rr.Code != 200 { t.Fatalf("cancel: got %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.DeliveryByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/deliveries/"+id, nil))
    var v model.DeliveryView
    _ = json.Unmarshal(rr.Body.Bytes(), &v)
    if v.Status != model.StatusFailed { t.Fatalf("after cancel: %s", v.Status) }

    // redrive failed -> pending
    rr = httptest.NewRecorder()
    s.DeliveryByIDHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/deliveries/"+id+"/redrive", nil))
    if rr.Code != 200 { t.Fatalf("redrive: got %d", rr.Code) }

    rr = httptest.NewRecorder()
    s.DeliveryByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/deliveries/"+id, nil))
    _ = json.Unmarshal(rr.Body.Bytes(), &v)
    if v.Status != model.StatusPending || v.Attempts != 0 { t.Fatalf("after redrive: %+v", v) }

    // unknown id
    rr = httptest.NewRecorder()
    s.DeliveryByIDHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/deliveries/nope/cancel", nil))
    if rr.Code != 404 { t.Fatalf("cancel unknown: got %d", rr.Code) }
}

func TestDeliveryOpsRequireOperator(t *testing.T) {
    s := newTestServer(t)
    req := httptest.NewRequest(http.MethodPost, "/v1/deliveries/x/cancel", nil)
    req.Header.Set("X-Role", "viewer")
    rr := httptest.NewRecorder()
    s.DeliveryByIDHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("viewer cancel: got %d", rr.Code) }

    body, _ := json.Marshal(map[string]any{"url": "http://localhost:1/h", "secret": "sekrit"})
    req = httptest.NewRequest(http.MethodPut, "/v1/destination", bytes.NewReader(body))
    req.Header.Set("X-Role", "viewer")
    rr = httptest.NewRecorder()
    s.DestinationHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("viewer put destination: got %d", rr.Code) }
}

func TestDestinationTest(t *testing.T) {
    s := newTestServer(t)
    received := 0
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        received++
        w.WriteHeader(200)
    }))
    defer srv.Close()
    putDestination(t, s, srv.URL)

    rr := httptest.NewRecorder()
    s.DestinationTestHandler(rr, httptest.NewRequest(http.MethodPost, "/v1/destination/test", nil))
    if rr.Code != 200 { t.Fatalf("test send: got %d: %s", rr.Code, rr.Body.String()) }
    var out map[string]any
    _ = json.Unmarshal(rr.Body.Bytes(), &out)
    if out["outcome"] != "success" || received != 1 {
        t.Fatalf("test send: %+v received=%d", out, received)
    }
}

func TestReceiverEchoRoundTrip(t *testing.T) {
    s := newTestServer(t)
    putDestination(t, s, "http://localhost:9999/hook")

    payload := model.EventPayload{
        Event:          "order.created",
        IdempotencyKey: "ord-1",
        Timestamp:      time.Now().UTC().Format(time.RFC3339),
        Data:           map[string]any{"n": float64(1)},
    }
    body, err := signer.Canonicalize(payload)
    if err != nil { t.Fatalf("canonicalize: %v", err) }
    sig := signer.SignBytes("sekrit", body)

    echo := func(ts, sg string, b []byte) *httptest.ResponseRecorder {
        rr := httptest.NewRecorder()
        req := httptest.NewRequest(http.MethodPost, "/v1/receiver/echo", bytes.NewReader(b))
        req.Header.Set("X-Webhook-Signature", sg)
        req.Header.Set("X-Webhook-Timestamp", ts)
        s.ReceiverEchoHandler(rr, req)
        return rr
    }

    rr := echo(payload.Timestamp, sig, body)
    if rr.Code != 200 { t.Fatalf("echo: got %d: %s", rr.Code, rr.Body.String()) }
    var out map[string]any
    _ = json.Unmarshal(rr.Body.Bytes(), &out)
    if out["status"] != "processed" { t.Fatalf("echo: %+v", out) }

    // replayed key acks without reprocessing
    rr = echo(payload.Timestamp, sig, body)
    if rr.Code != 200 { t.Fatalf("echo replay: got %d", rr.Code) }
    _ = json.Unmarshal(rr.Body.Bytes(), &out)
    if out["status"] != "duplicate" { t.Fatalf("echo replay: %+v", out) }

    // tampered body rejected
    rr = echo(payload.Timestamp, sig, append(append([]byte{}, body...), ' '))
    if rr.Code != 401 { t.Fatalf("echo tampered: got %d", rr.Code) }

    // stale timestamp rejected even with a valid signature
    stale := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
    payload.Timestamp = stale
    body2, _ := signer.Canonicalize(payload)
    rr = echo(stale, signer.SignBytes("sekrit", body2), body2)
    if rr.Code != 401 { t.Fatalf("echo stale: got %d", rr.Code) }
}

func TestDeliveryMetricsEndpoint(t *testing.T) {
    s := newTestServer(t)
    putDestination(t, s, "http://localhost:9999/hook")
    _ = postEvent(t, s, "order.created", "ord-1")

    rr := httptest.NewRecorder()
    s.DeliveryMetricsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/delivery-metrics", nil))
    if rr.Code != 200 { t.Fatalf("metrics: got %d", rr.Code) }

    req := httptest.NewRequest(http.MethodGet, "/v1/admin/delivery-metrics", nil)
    req.Header.Set("X-Role", "viewer")
    rr = httptest.NewRecorder()
    s.DeliveryMetricsHandler(rr, req)
    if rr.Code != 403 { t.Fatalf("viewer metrics: got %d", rr.Code) }
}
