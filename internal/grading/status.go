package grading

import (
	"time"

	"github.com/pavelanni/tipper/internal/model"
)

const (
	// EvaluationStartDay is the first day after the exam that counts as evaluation.
	EvaluationStartDay = 1
	// AutoCloseDay is the day after the exam from which it is closed automatically.
	AutoCloseDay = 5
)

// Status resolves the exam's lifecycle stage for the current moment.
func Status(e model.Exam) model.ExamStatus {
	return StatusAt(e, time.Now())
}

// StatusAt resolves the exam's lifecycle stage as seen at now. A manual
// close always wins. Otherwise the stage follows from the number of whole
// calendar days between the exam day and now's day.
func StatusAt(e model.Exam, now time.Time) model.ExamStatus {
	if e.IsClosed {
		return model.StatusClosed
	}
	days := DaysSince(e.Date, now)
	switch {
	case days >= AutoCloseDay:
		return model.StatusClosed
	case days >= EvaluationStartDay:
		return model.StatusEvaluation
	}
	return model.StatusOpen
}

// AutoClosed reports whether e is closed by date alone while its manual
// flag is still unset, i.e. whether a sweep should persist the close.
func AutoClosed(e model.Exam, now time.Time) bool {
	return !e.IsClosed && StatusAt(e, now) == model.StatusClosed
}

// DaysSince counts calendar days from day to now. day is read as a calendar
// date in its own location and now in its location, so the result does not
// depend on time of day or on DST changes. Negative values mean day is
// still ahead.
func DaysSince(day, now time.Time) int {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	y, m, d = day.Date()
	examDay := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(today.Sub(examDay) / (24 * time.Hour))
}
