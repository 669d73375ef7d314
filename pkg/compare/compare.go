// Package compare aligns a current digest sequence with a stored one and
// reports which positions differ.
package compare

// Result lists tampered positions in ascending order and the share of all
// compared positions they represent, as a percentage.
type Result struct {
	Tampered []int   `json:"tampered"`
	Score    float64 `json:"score"`
}

// Clean reports whether no position was flagged.
func (r Result) Clean() bool { return len(r.Tampered) == 0 }

// Compare flags every index where current and stored differ. Positions
// present in only one sequence are flagged too: trailing extras model an
// enlarged input, trailing gaps a cropped one. The comparison is strictly
// index aligned and never tries to re-align a shifted sequence.
func Compare(current, stored []string) Result {
	n := min(len(current), len(stored))
	total := max(len(current), len(stored))

	tampered := make([]int, 0)
	for i := 0; i < n; i++ {
		if current[i] != stored[i] {
			tampered = append(tampered, i)
		}
	}
	for i := n; i < total; i++ {
		tampered = append(tampered, i)
	}

	var score float64
	if total > 0 {
		score = 100 * float64(len(tampered)) / float64(total)
	}
	return Result{Tampered: tampered, Score: score}
}
