package grading

import (
	"cmp"
	"slices"
	"time"

	"github.com/pavelanni/tipper/internal/model"
)

// StudentTotal is a student's accumulated points.
type StudentTotal struct {
	StudentID   int64 `json:"student_id"`
	TotalPoints int   `json:"total_points"`
}

// RankedTotal is a StudentTotal with its 1-based position.
type RankedTotal struct {
	StudentID   int64 `json:"student_id"`
	TotalPoints int   `json:"total_points"`
	Rank        int   `json:"rank"`
}

// ResultRow is one graded exam as seen by a single student.
type ResultRow struct {
	Exam       model.Exam
	Grade      float64
	Prediction *model.Prediction
	Points     int
}

type predictionKey struct {
	examID, studentID int64
}

func indexPredictions(predictions []model.Prediction) map[predictionKey]model.Prediction {
	idx := make(map[predictionKey]model.Prediction, len(predictions))
	for _, p := range predictions {
		k := predictionKey{p.ExamID, p.StudentID}
		if _, dup := idx[k]; !dup {
			idx[k] = p
		}
	}
	return idx
}

// SortExamsByStatus orders exams for display under the given status
// heading. Open and evaluation exams come soonest first; closed exams most
// recent first. Equal dates keep their input order. The input is not
// modified.
func SortExamsByStatus(exams []model.Exam, hint model.ExamStatus) []model.Exam {
	sorted := slices.Clone(exams)
	if hint == model.StatusClosed {
		slices.SortStableFunc(sorted, func(a, b model.Exam) int {
			return b.Date.Compare(a.Date)
		})
		return sorted
	}
	slices.SortStableFunc(sorted, func(a, b model.Exam) int {
		return a.Date.Compare(b.Date)
	})
	return sorted
}

// Split separates exams into those still taking tips and closed ones, each
// sorted as SortExamsByStatus does.
func Split(exams []model.Exam, now time.Time) (active, closed []model.Exam) {
	for _, e := range exams {
		if StatusAt(e, now) == model.StatusClosed {
			closed = append(closed, e)
		} else {
			active = append(active, e)
		}
	}
	return SortExamsByStatus(active, model.StatusOpen), SortExamsByStatus(closed, model.StatusClosed)
}

// countsFor reports whether e contributes to a student's total at now:
// it must be closed and carry a grade for the student.
func countsFor(e model.Exam, studentID int64, now time.Time) bool {
	if StatusAt(e, now) != model.StatusClosed {
		return false
	}
	_, graded := e.Grade(studentID)
	return graded
}

// StudentTotals sums points1 and points2 over every closed exam graded for
// the student. Exams that are still running or lack a grade for the student
// add nothing, whatever predictions exist. The result follows the order of
// studentIDs.
func StudentTotals(studentIDs []int64, exams []model.Exam, predictions []model.Prediction, now time.Time) []StudentTotal {
	idx := indexPredictions(predictions)
	totals := make([]StudentTotal, 0, len(studentIDs))
	for _, sid := range studentIDs {
		total := 0
		for _, e := range exams {
			if !countsFor(e, sid, now) {
				continue
			}
			if p, ok := idx[predictionKey{e.ID, sid}]; ok {
				total += p.TotalPoints()
			}
		}
		totals = append(totals, StudentTotal{StudentID: sid, TotalPoints: total})
	}
	return totals
}

// Rank sorts totals by points, highest first, and numbers them 1..N.
// Students with equal points keep their input order and still get
// distinct ranks.
func Rank(totals []StudentTotal) []RankedTotal {
	sorted := slices.Clone(totals)
	slices.SortStableFunc(sorted, func(a, b StudentTotal) int {
		return cmp.Compare(b.TotalPoints, a.TotalPoints)
	})
	ranked := make([]RankedTotal, len(sorted))
	for i, t := range sorted {
		ranked[i] = RankedTotal{StudentID: t.StudentID, TotalPoints: t.TotalPoints, Rank: i + 1}
	}
	return ranked
}

// Leaderboard ranks students by their points over all closed, graded exams.
func Leaderboard(studentIDs []int64, exams []model.Exam, predictions []model.Prediction, now time.Time) []RankedTotal {
	return Rank(StudentTotals(studentIDs, exams, predictions, now))
}

// ExamRanking ranks students on a single exam. Only students with a
// prediction for the exam appear.
func ExamRanking(e model.Exam, studentIDs []int64, predictions []model.Prediction, now time.Time) []RankedTotal {
	idx := indexPredictions(predictions)
	var participants []int64
	for _, sid := range studentIDs {
		if _, ok := idx[predictionKey{e.ID, sid}]; ok {
			participants = append(participants, sid)
		}
	}
	return Rank(StudentTotals(participants, []model.Exam{e}, predictions, now))
}

// StudentResults lists the student's closed, graded exams newest first
// together with the total they add up to.
func StudentResults(studentID int64, exams []model.Exam, predictions []model.Prediction, now time.Time) ([]ResultRow, int) {
	idx := indexPredictions(predictions)
	var (
		rows  []ResultRow
		total int
	)
	for _, e := range SortExamsByStatus(exams, model.StatusClosed) {
		if !countsFor(e, studentID, now) {
			continue
		}
		grade, _ := e.Grade(studentID)
		row := ResultRow{Exam: e, Grade: grade}
		if p, ok := idx[predictionKey{e.ID, studentID}]; ok {
			row.Prediction = &p
			row.Points = p.TotalPoints()
		}
		total += row.Points
		rows = append(rows, row)
	}
	return rows, total
}
