package money

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrom_InvalidInput(t *testing.T) {
	for _, in := range []string{"", "abc", "10.0.0", "$50"} {
		_, err := From(in)
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("From(%q): expected ErrInvalidAmount, got %v", in, err)
		}
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	// Finalizing an already-finalized amount must not change it.
	inputs := []string{"10.001", "10.005", "99.999", "0.004999", "-3.335", "1234.56789"}
	for _, in := range inputs {
		once := MustFrom(in).Finalize(2)
		again, err := From(once.Raw())
		require.NoError(t, err)
		require.Equal(t, once.Raw(), again.Finalize(2).Raw(), "input %s", in)
	}
}

func TestFinalize_HalfAwayFromZero(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.005", "10.01"},
		{"10.004", "10.00"},
		{"-10.005", "-10.01"},
		{"2.675", "2.68"},
	}
	for _, tt := range tests {
		got := MustFrom(tt.in).Finalize(2).String()
		if got != tt.want {
			t.Errorf("Finalize(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestComparison_Tolerance(t *testing.T) {
	// Amounts differing only beyond cent precision are equal.
	require.True(t, MustFrom("10.001").Equal(MustFrom("10.00")))
	require.False(t, MustFrom("10.001").GreaterThan(MustFrom("10.00")))
	require.True(t, MustFrom("10.01").GreaterThan(MustFrom("10.001")))
	require.True(t, MustFrom("0.004").IsZero())
	require.True(t, MustFrom("0.005").IsPositive())
	require.True(t, MustFrom("-0.005").IsNegative())
}

func TestArithmetic_HighInternalScale(t *testing.T) {
	// A chain of divisions and multiplications must not drift at cent scale.
	total := MustFrom("100.00")
	third, err := total.Div(MustFrom("3"))
	require.NoError(t, err)
	back := third.Mul(MustFrom("3"))
	require.True(t, back.Equal(total), "100/3*3 = %s, want 100.00", back)
}

func TestDiv_ByZero(t *testing.T) {
	_, err := MustFrom("50.00").Div(MustFrom("0"))
	require.ErrorIs(t, err, ErrDivisionByZero)

	// A divisor that only looks non-zero below cent precision also fails.
	_, err = MustFrom("50.00").Div(MustFrom("0.004"))
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestMinorUnits_Rounds(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"50.00", 5000},
		{"10.005", 1001}, // rounds, never truncates
		{"10.004", 1000},
		{"0.01", 1},
	}
	for _, tt := range tests {
		if got := MustFrom(tt.in).MinorUnits(100); got != tt.want {
			t.Errorf("MinorUnits(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFromMinorUnits_RoundTrip(t *testing.T) {
	m := FromMinorUnits(2500, 100)
	require.True(t, m.Equal(MustFrom("25.00")))
	require.Equal(t, int64(2500), m.MinorUnits(100))
}
