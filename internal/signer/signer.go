package signer

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/hex"
    "fmt"

    "hookrelay/internal/model"
)

// Sign computes the HMAC-SHA256 of the payload's canonical bytes, keyed by the
// destination secret, and returns it as 64 lowercase hex chars. The only error
// is model.ErrEncoding for a payload that cannot be canonicalized.
func Sign(p model.EventPayload, secret string) (string, error) {
    body, err := Canonicalize(p)
    if err != nil {
        return "", err
    }
    return SignBytes(secret, body), nil
}

// Verify recomputes the signature and compares in constant time. Verification
// failure is an ordinary false, never an error.
func Verify(p model.EventPayload, sigHex, secret string) bool {
    body, err := Canonicalize(p)
    if err != nil {
        return false
    }
    return VerifyBytes(secret, body, sigHex)
}

// SignBytes returns lowercase hex of HMAC-SHA256 over raw body bytes.
func SignBytes(secret string, body []byte) string {
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write(body)
    return fmt.Sprintf("%x", mac.Sum(nil))
}

// VerifyBytes checks an HMAC-SHA256 signature over the raw body as received.
// Receivers should verify the exact bytes off the wire, not a re-parse.
func VerifyBytes(secret string, body []byte, provided string) bool {
    mac := hmac.New(sha256.New, []byte(secret))
    mac.Write(body)
    expected := mac.Sum(nil)
    b, err := hex.DecodeString(provided)
    if err != nil {
        return false
    }
    if len(b) != len(expected) {
        return false
    }
    return hmac.Equal(expected, b)
}
