package aggregation

import "math"

// roundHalfUp1 rounds x to one decimal place, half away from zero, the
// convention spec.md's testable properties require for percentages.
func roundHalfUp1(x float64) float64 {
	if x >= 0 {
		return math.Floor(x*10+0.5) / 10
	}
	return -math.Floor(-x*10+0.5) / 10
}

// safePercentage returns num/den*100 rounded to one decimal, or zero when den is
// zero (empty divisors never produce NaN).
func safePercentage(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return roundHalfUp1(float64(num) / float64(den) * 100)
}
