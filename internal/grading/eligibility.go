package grading

import (
	"time"

	"github.com/pavelanni/tipper/internal/model"
)

// CanSubmitTips reports whether the exam currently accepts tips.
func CanSubmitTips(e model.Exam) bool {
	return CanSubmitTipsAt(e, time.Now())
}

// CanSubmitTipsAt reports whether the exam accepts tips at now. Callers
// must still refuse writes themselves when this is false.
func CanSubmitTipsAt(e model.Exam, now time.Time) bool {
	switch StatusAt(e, now) {
	case model.StatusOpen, model.StatusEvaluation:
		return true
	}
	return false
}

// FindPrediction returns the student's prediction for the exam, if any.
func FindPrediction(examID, studentID int64, predictions []model.Prediction) (model.Prediction, bool) {
	for _, p := range predictions {
		if p.ExamID == examID && p.StudentID == studentID {
			return p, true
		}
	}
	return model.Prediction{}, false
}

// HasNoTips is true when the student has no prediction for the exam or
// one with both slots empty.
func HasNoTips(examID, studentID int64, predictions []model.Prediction) bool {
	p, ok := FindPrediction(examID, studentID, predictions)
	return !ok || (p.Prediction1 == nil && p.Prediction2 == nil)
}

// HasBothTips is true when the student has filled both slots.
func HasBothTips(examID, studentID int64, predictions []model.Prediction) bool {
	p, ok := FindPrediction(examID, studentID, predictions)
	return ok && p.Prediction1 != nil && p.Prediction2 != nil
}
