package aggregation

import "testing"

func TestRoundHalfUp1(t *testing.T) {
	cases := map[float64]float64{
		66.65:  66.7,
		66.64:  66.6,
		0:      0,
		100:    100,
		-12.35: -12.4,
	}
	for in, want := range cases {
		if got := roundHalfUp1(in); got != want {
			t.Fatalf("roundHalfUp1(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestSafePercentageEmptyDivisorIsZero(t *testing.T) {
	if got := safePercentage(0, 0); got != 0 {
		t.Fatalf("expected 0 for empty divisor, got %v", got)
	}
}

func TestSafePercentage(t *testing.T) {
	if got := safePercentage(2, 3); got != 66.7 {
		t.Fatalf("expected 66.7, got %v", got)
	}
}
