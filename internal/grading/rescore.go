package grading

import (
	"errors"

	"github.com/pavelanni/tipper/internal/model"
)

// ErrSecondBeforeFirst is returned when a second tip arrives before the first.
var ErrSecondBeforeFirst = errors.New("second tip requires a first tip")

// Rescore returns p with its points recomputed from its own tips and the
// student's grade in grades. Without a grade both point fields are cleared.
func Rescore(p model.Prediction, grades map[int64]float64) model.Prediction {
	p.Points1, p.Points2 = nil, nil
	grade, ok := grades[p.StudentID]
	if !ok {
		return p
	}
	if p.Prediction1 != nil {
		p.Points1 = intPtr(CalculatePoints(*p.Prediction1, grade))
	}
	if p.Prediction2 != nil {
		p.Points2 = intPtr(CalculatePoints(*p.Prediction2, grade))
	}
	return p
}

// RescoreAll rescores every prediction belonging to e and returns them in
// the input order. Predictions for other exams are passed through.
func RescoreAll(e model.Exam, predictions []model.Prediction) []model.Prediction {
	out := make([]model.Prediction, len(predictions))
	for i, p := range predictions {
		if p.ExamID != e.ID {
			out[i] = p
			continue
		}
		out[i] = Rescore(p, e.Grades)
	}
	return out
}

// ApplyTips fills the empty slots of p with tip1 and tip2. Filled slots are
// never overwritten; a tip for an occupied slot is ignored. tip2 is only
// accepted once slot 1 is filled, either already or by tip1 in the same
// call. The returned prediction is rescored against grades, and changed
// reports whether any slot was filled.
func ApplyTips(p model.Prediction, tip1, tip2 *float64, grades map[int64]float64) (model.Prediction, bool, error) {
	changed := false
	if tip1 != nil && p.Prediction1 == nil {
		p.Prediction1 = floatPtr(*tip1)
		changed = true
	}
	if tip2 != nil && p.Prediction2 == nil {
		if p.Prediction1 == nil {
			return p, false, ErrSecondBeforeFirst
		}
		p.Prediction2 = floatPtr(*tip2)
		changed = true
	}
	return Rescore(p, grades), changed, nil
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }
