package delivery

import (
    "context"
    "io"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"

    "hookrelay/internal/signer"
    "hookrelay/internal/store"
)

func testRecord(url string) store.Delivery {
    return store.Delivery{
        ID:             "d1",
        OrgID:          "org1",
        IdempotencyKey: "k1",
        EventType:      "order.created",
        Timestamp:      "2026-01-02T03:04:05Z",
        URL:            url,
        Secret:         "sekrit",
        Payload:        []byte(`{"event":"order.created","idempotencyKey":"k1","timestamp":"2026-01-02T03:04:05Z"}`),
    }
}

func TestAttemptSuccessSendsHeaders(t *testing.T) {
    var gotSig, gotTS, gotEvent, gotCT string
    var gotBody []byte
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        gotSig = r.Header.Get("X-Webhook-Signature")
        gotTS = r.Header.Get("X-Webhook-Timestamp")
        gotEvent = r.Header.Get("X-Webhook-Event")
        gotCT = r.Header.Get("Content-Type")
        gotBody, _ = io.ReadAll(r.Body)
        w.WriteHeader(200)
    }))
    defer srv.Close()

    e := &Engine{HTTP: srv.Client()}
    d := testRecord(srv.URL)
    res := e.Attempt(context.Background(), d)
    if res.Outcome != Success || res.Code != 200 {
        t.Fatalf("outcome=%v code=%d err=%q", res.Outcome, res.Code, res.Err)
    }
    if gotEvent != "order.created" || gotTS != d.Timestamp || gotCT != "application/json" {
        t.Fatalf("headers: event=%q ts=%q ct=%q", gotEvent, gotTS, gotCT)
    }
    if !signer.VerifyBytes(d.Secret, gotBody, gotSig) {
        t.Fatalf("receiver could not verify signature %q over delivered body", gotSig)
    }
}

func TestAttemptClassification(t *testing.T) {
    cases := []struct {
        code int
        want Outcome
    }{
        {200, Success}, {204, Success},
        {301, PermanentFailure}, {302, PermanentFailure},
        {400, PermanentFailure}, {401, PermanentFailure}, {404, PermanentFailure}, {410, PermanentFailure},
        {429, TransientFailure},
        {500, TransientFailure}, {503, TransientFailure},
    }
    for _, tc := range cases {
        code := tc.code
        srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
            if code >= 300 && code < 400 {
                w.Header().Set("Location", "http://127.0.0.1:1/elsewhere")
            }
            w.WriteHeader(code)
        }))
        e := NewEngine(2 * time.Second)
        res := e.Attempt(context.Background(), testRecord(srv.URL))
        srv.Close()
        if res.Outcome != tc.want {
            t.Errorf("code %d: got %v, want %v", tc.code, res.Outcome, tc.want)
        }
        if res.Code != tc.code {
            t.Errorf("code %d: recorded %d", tc.code, res.Code)
        }
    }
}

func TestAttemptDoesNotFollowRedirect(t *testing.T) {
    var targetCalls int32
    target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        atomic.AddInt32(&targetCalls, 1)
        w.WriteHeader(200)
    }))
    defer target.Close()
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        http.Redirect(w, r, target.URL, http.StatusFound)
    }))
    defer srv.Close()

    e := NewEngine(2 * time.Second)
    res := e.Attempt(context.Background(), testRecord(srv.URL))
    if res.Outcome != PermanentFailure || res.Code != http.StatusFound {
        t.Fatalf("redirect: outcome=%v code=%d", res.Outcome, res.Code)
    }
    if n := atomic.LoadInt32(&targetCalls); n != 0 {
        t.Fatalf("signed payload reached the redirect target %d times", n)
    }
}

func TestAttemptTimeoutIsTransient(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        time.Sleep(300 * time.Millisecond)
    }))
    defer srv.Close()
    e := &Engine{HTTP: &http.Client{Timeout: 30 * time.Millisecond}}
    res := e.Attempt(context.Background(), testRecord(srv.URL))
    if res.Outcome != TransientFailure || res.Err == "" {
        t.Fatalf("timeout: outcome=%v err=%q", res.Outcome, res.Err)
    }
}

func TestAttemptConnectionRefusedIsTransient(t *testing.T) {
    e := NewEngine(1 * time.Second)
    res := e.Attempt(context.Background(), testRecord("http://127.0.0.1:1/hook"))
    if res.Outcome != TransientFailure {
        t.Fatalf("refused: outcome=%v", res.Outcome)
    }
}
