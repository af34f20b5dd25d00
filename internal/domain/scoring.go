package domain

import "math"

// MaxPoints is the award for a correct answer given instantly.
const MaxPoints = 1000

// Points scores one answer. Correct answers decay linearly with the share of
// the time limit used and never drop below 1; wrong answers score 0.
func Points(correct bool, elapsedMs int64, limitSec int) int {
	if !correct {
		return 0
	}
	t := 1.0
	if limitSec > 0 {
		t = float64(elapsedMs) / float64(int64(limitSec)*1000)
	}
	t = math.Max(0, math.Min(1, t))
	pts := int(math.Round(MaxPoints * (1 - t)))
	if pts < 1 {
		return 1
	}
	return pts
}
