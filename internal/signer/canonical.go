package signer

import (
    "bytes"
    "encoding/json"
    "fmt"

    "hookrelay/internal/model"
)

// Canonicalize renders a payload to its canonical byte form: envelope fields in
// fixed order, map keys sorted, no trailing newline, no HTML escaping. The same
// logical payload always produces identical bytes, so signatures are
// reproducible across retries and on the receiving side.
func Canonicalize(p model.EventPayload) ([]byte, error) {
    var buf bytes.Buffer
    enc := json.NewEncoder(&buf)
    enc.SetEscapeHTML(false)
    if err := enc.Encode(p); err != nil {
        return nil, fmt.Errorf("%w: %v", model.ErrEncoding, err)
    }
    // Encode appends a newline; the signed bytes must not include it.
    return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
