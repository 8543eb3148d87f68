package models

// IncrementalMean folds one observation into a running average without
// keeping a cumulative sum: newAvg = oldAvg + (x - oldAvg) / (n + 1),
// where n is the count before this observation.
func IncrementalMean(oldAvg, x float64, n int) float64 {
	return oldAvg + (x-oldAvg)/float64(n+1)
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
