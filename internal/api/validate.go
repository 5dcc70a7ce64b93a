package api

import (
    "fmt"

    "hookrelay/internal/delivery"
)

func validateDestination(url, secret string, devMode bool) error {
    if secret == "" {
        return fmt.Errorf("secret is required")
    }
    if len(secret) < 16 && !devMode {
        return fmt.Errorf("secret must be at least 16 characters")
    }
    return delivery.ValidateURL(url, devMode)
}
