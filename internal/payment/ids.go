package payment

import (
	"fmt"
	"strings"
)

// Gateway identifiers each live in their own prefix namespace. Validating the
// prefix before use fails fast with ErrInvalidExternalID instead of making a
// doomed network call with an id from the wrong namespace.
const (
	sessionPrefix     = "cs_"
	intentPrefix      = "pi_"
	methodPrefix      = "pm_"
	customerPrefix    = "cus_"
	setupIntentPrefix = "seti_"
)

func validatePrefix(id, prefix, kind string) error {
	if id == "" || !strings.HasPrefix(id, prefix) {
		return fmt.Errorf("%w: %s id %q must start with %q", ErrInvalidExternalID, kind, id, prefix)
	}
	return nil
}

// ValidateSessionID checks a checkout/setup session id (cs_...).
func ValidateSessionID(id string) error { return validatePrefix(id, sessionPrefix, "session") }

// ValidateIntentID checks a payment intent id (pi_...).
func ValidateIntentID(id string) error { return validatePrefix(id, intentPrefix, "payment intent") }

// ValidateMethodID checks a payment method token (pm_...).
func ValidateMethodID(id string) error { return validatePrefix(id, methodPrefix, "payment method") }

// ValidateCustomerID checks a customer id (cus_...).
func ValidateCustomerID(id string) error { return validatePrefix(id, customerPrefix, "customer") }

// ValidateSetupIntentID checks a setup intent id (seti_...).
func ValidateSetupIntentID(id string) error {
	return validatePrefix(id, setupIntentPrefix, "setup intent")
}
