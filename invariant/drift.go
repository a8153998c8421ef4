package invariant

import "math"

// computeDriftScore applies the deduction formula from spec section 4.4:
// start at 100 and, for every failed invariant, subtract
// min(weight, weight*log10(violationCount+1)), floored at zero and rounded
// to the nearest integer.
func computeDriftScore(failed map[string]int) int {
	score := 100.0
	for name, count := range failed {
		w, ok := Weight[name]
		if !ok {
			w = DefaultWeight
		}
		deduction := w * math.Log10(float64(count)+1)
		if deduction > w {
			deduction = w
		}
		score -= deduction
	}
	if score < 0 {
		score = 0
	}
	return int(math.Round(score))
}
