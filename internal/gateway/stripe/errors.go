package stripe

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/stripe/stripe-go/v79"

	"github.com/campuspay/payments-service/internal/payment"
)

// mapStripeError translates library errors into the domain error set so
// stripe-go never leaks into the payment core. The split matters: the sweep
// and callers retry ErrGatewayUnavailable and ErrRateLimited, never
// ErrGatewayRejected.
func mapStripeError(err error) error {
	if err == nil {
		return nil
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Code {
		case stripe.ErrorCodeRateLimit, stripe.ErrorCodeLockTimeout:
			return fmt.Errorf("%w: %s", payment.ErrRateLimited, stripeErr.Msg)
		}
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %s", payment.ErrRateLimited, stripeErr.Msg)
		}
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s", payment.ErrGatewayUnavailable, stripeErr.Msg)
		}
		// 4xx: the request itself was rejected. Card declines, missing
		// objects, bad parameters. Retrying reproduces the rejection.
		return fmt.Errorf("%w: %s (%s)", payment.ErrGatewayRejected, stripeErr.Msg, stripeErr.Code)
	}

	if isNetworkError(err) {
		return fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, err)
	}
	return fmt.Errorf("%w: %v", payment.ErrGatewayRejected, err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}

// Retryable reports whether the translated error is transient. Callers must
// not retry on ErrGatewayRejected.
func Retryable(err error) bool {
	return errors.Is(err, payment.ErrGatewayUnavailable) || errors.Is(err, payment.ErrRateLimited)
}
