package payment

import (
	"errors"
	"testing"
)

func TestExternalIDPrefixes(t *testing.T) {
	tests := []struct {
		name     string
		validate func(string) error
		good     string
		bad      []string
	}{
		{"session", ValidateSessionID, "cs_test_a1b2", []string{"", "pi_123", "cs", "sess_123"}},
		{"intent", ValidateIntentID, "pi_3MtwBwLkdIwHu7ix28a3tqPa", []string{"", "cs_123", "in_123"}},
		{"method", ValidateMethodID, "pm_1MqLiJ", []string{"", "card_123", "pi_123"}},
		{"customer", ValidateCustomerID, "cus_9s6XKzkNRiz8i3", []string{"", "cu_123", "pm_123"}},
		{"setup intent", ValidateSetupIntentID, "seti_1Mm8s8", []string{"", "si_123", "pi_123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.validate(tt.good); err != nil {
				t.Errorf("%s id %q: unexpected error %v", tt.name, tt.good, err)
			}
			for _, bad := range tt.bad {
				if err := tt.validate(bad); !errors.Is(err, ErrInvalidExternalID) {
					t.Errorf("%s id %q: expected ErrInvalidExternalID, got %v", tt.name, bad, err)
				}
			}
		})
	}
}
