// Package webhook defines the provider-agnostic contract for turning raw
// webhook deliveries into normalized payment events.
package webhook

import "github.com/campuspay/payments-service/internal/payment"

// Processor verifies a raw webhook delivery and maps it into a
// NormalizedEvent. A (nil, nil) result means the delivery is authentic but of
// a type the payment core does not consume; the endpoint acknowledges it
// without further work.
type Processor interface {
	Provider() string
	VerifyAndParse(payload []byte, headers map[string]string) (*payment.NormalizedEvent, error)
}
