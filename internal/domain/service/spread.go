package service

// SpreadPct is the relative distance between the cheapest and the richest venue,
// in percent of the cheaper price.
func SpreadPct(low, high float64) float64 {
	if low <= 0 {
		return 0
	}
	return (high - low) / low * 100
}

// Band classifies a spread against a threshold: +1 at or above, 0 below.
// Negative spreads cannot happen for argmin/argmax pairs, they fold into 0.
func Band(spreadPct, threshold float64) int {
	if threshold > 0 && spreadPct >= threshold {
		return +1
	}
	return 0
}
