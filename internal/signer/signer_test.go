package signer

import (
    "strings"
    "testing"

    "hookrelay/internal/model"
)

func payload(data map[string]any) model.EventPayload {
    return model.EventPayload{
        Event:          "order.created",
        IdempotencyKey: "ord-1",
        Timestamp:      "2026-01-02T03:04:05Z",
        Data:           data,
    }
}

func TestSignDeterministic(t *testing.T) {
    p := payload(map[string]any{"a": 1, "b": "two"})
    s1, err := Sign(p, "sekrit")
    if err != nil {
        t.Fatalf("sign: %v", err)
    }
    s2, _ := Sign(p, "sekrit")
    if s1 != s2 {
        t.Fatalf("non-deterministic signature: %s vs %s", s1, s2)
    }
    if len(s1) != 64 || strings.ToLower(s1) != s1 {
        t.Fatalf("expected 64 lowercase hex chars, got %q", s1)
    }
}

func TestSignKeyOrderIndependent(t *testing.T) {
    // Maps built in different insertion orders must canonicalize identically.
    p1 := payload(map[string]any{})
    p1.Data["a"] = 1
    p1.Data["b"] = 2
    p2 := payload(map[string]any{})
    p2.Data["b"] = 2
    p2.Data["a"] = 1
    s1, _ := Sign(p1, "s")
    s2, _ := Sign(p2, "s")
    if s1 != s2 {
        t.Fatalf("key order changed signature: %s vs %s", s1, s2)
    }
}

func TestVerifyTamperSensitive(t *testing.T) {
    p := payload(map[string]any{"amount": 100, "currency": "USD"})
    sig, _ := Sign(p, "s")
    if !Verify(p, sig, "s") {
        t.Fatal("valid signature rejected")
    }
    mut := payload(map[string]any{"amount": 101, "currency": "USD"})
    if Verify(mut, sig, "s") {
        t.Fatal("mutated payload accepted")
    }
    if Verify(p, sig, "other") {
        t.Fatal("wrong secret accepted")
    }
}

func TestVerifyMalformedSignature(t *testing.T) {
    p := payload(nil)
    if Verify(p, "zz-not-hex", "s") {
        t.Fatal("non-hex signature accepted")
    }
    if Verify(p, "abcd", "s") {
        t.Fatal("short signature accepted")
    }
}

func TestSignRejectsUnserializable(t *testing.T) {
    p := payload(map[string]any{"ch": make(chan int)})
    if _, err := Sign(p, "s"); err == nil {
        t.Fatal("expected encoding error")
    }
}

func TestSignVerifyBytesRoundTrip(t *testing.T) {
    body := []byte(`{"event":"ping"}`)
    sig := SignBytes("s", body)
    if !VerifyBytes("s", body, sig) {
        t.Fatal("verify failed on signed bytes")
    }
    if VerifyBytes("s", append(body, ' '), sig) {
        t.Fatal("verify accepted altered bytes")
    }
}
