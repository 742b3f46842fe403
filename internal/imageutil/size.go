package imageutil

import (
	"math"
	"strconv"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatFileSize renders bytes with a 1024 base, rounded to two decimals.
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	value := float64(bytes)
	unit := 0
	for value >= 1024 && unit < len(sizeUnits)-1 {
		value /= 1024
		unit++
	}
	return strconv.FormatFloat(round2(value), 'f', -1, 64) + " " + sizeUnits[unit]
}

// Savings is original minus optimized, floored at zero.
func Savings(original, optimized int64) int64 {
	if optimized >= original {
		return 0
	}
	return original - optimized
}

// SavingsPercent returns the saved share of original as a percentage with two
// decimals. It is 0 when original is not positive.
func SavingsPercent(original, optimized int64) float64 {
	if original <= 0 {
		return 0
	}
	return round2(float64(Savings(original, optimized)) / float64(original) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
