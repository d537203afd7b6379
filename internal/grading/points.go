// Package grading holds the rules of the prediction game: how many points a
// tip earns, which lifecycle stage an exam is in, when tips are accepted, and
// how totals and rankings are built. Everything here is a pure function over
// model values; persistence and transport live elsewhere.
package grading

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// MinGrade is the lowest legal grade.
	MinGrade = 1.0
	// MaxGrade is the highest legal grade.
	MaxGrade = 6.0
	// GradeStep is the granularity of grades and tips.
	GradeStep = 0.25
	// MaxPoints is awarded for an exact tip.
	MaxPoints = 5
)

// ErrGradeOutOfRange is returned for values outside [1, 6] or off the 0.25 grid.
var ErrGradeOutOfRange = errors.New("grade must be between 1 and 6 in steps of 0.25")

// CalculatePoints scores a tip against the actual grade. The score depends
// only on the absolute deviation: 5 for an exact hit, then one point less
// per started quarter up to a deviation of 1, and 0 beyond that.
//
// Both arguments are expected to be legal grades; see ValidGrade.
func CalculatePoints(prediction, actual float64) int {
	d := math.Abs(prediction - actual)
	switch {
	case d == 0:
		return 5
	case d <= 0.25:
		return 4
	case d <= 0.5:
		return 3
	case d <= 0.75:
		return 2
	case d <= 1.0:
		return 1
	}
	return 0
}

// GradeOptions lists all 21 legal grades in ascending order.
func GradeOptions() []float64 {
	n := int((MaxGrade-MinGrade)/GradeStep) + 1
	opts := make([]float64, 0, n)
	for i := range n {
		opts = append(opts, MinGrade+float64(i)*GradeStep)
	}
	return opts
}

// FormatGrade renders a grade with at most two decimals and no trailing
// zeros: 4 -> "4", 4.5 -> "4.5", 4.25 -> "4.25".
func FormatGrade(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	if trimmed, ok := strings.CutSuffix(s, ".00"); ok {
		return trimmed
	}
	return strings.TrimSuffix(s, "0")
}

// ValidGrade reports whether v is one of the values GradeOptions returns.
func ValidGrade(v float64) bool {
	if math.IsNaN(v) || v < MinGrade || v > MaxGrade {
		return false
	}
	q := v / GradeStep
	return q == math.Trunc(q)
}

// ValidateGrade wraps ErrGradeOutOfRange with the offending value.
func ValidateGrade(v float64) error {
	if !ValidGrade(v) {
		return fmt.Errorf("%w: %v", ErrGradeOutOfRange, v)
	}
	return nil
}
