package grading

import (
	"slices"
	"testing"
	"time"

	"github.com/pavelanni/tipper/internal/model"
)

func ptr[T any](v T) *T { return &v }

func examIDs(exams []model.Exam) []int64 {
	ids := make([]int64, len(exams))
	for i, e := range exams {
		ids[i] = e.ID
	}
	return ids
}

func TestSortExamsByStatus(t *testing.T) {
	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)

	open := []model.Exam{
		{ID: 2, Date: day(now, 3)},
		{ID: 1, Date: day(now, 1)},
	}
	got := SortExamsByStatus(open, model.StatusOpen)
	if ids := examIDs(got); !slices.Equal(ids, []int64{1, 2}) {
		t.Errorf("open order = %v, want [1 2]", ids)
	}
	if open[0].ID != 2 {
		t.Error("input slice was reordered")
	}

	closed := []model.Exam{
		{ID: 10, Date: day(now, -10), IsClosed: true},
		{ID: 6, Date: day(now, -6), IsClosed: true},
	}
	got = SortExamsByStatus(closed, model.StatusClosed)
	if ids := examIDs(got); !slices.Equal(ids, []int64{6, 10}) {
		t.Errorf("closed order = %v, want [6 10]", ids)
	}

	// Evaluation sorts like open.
	got = SortExamsByStatus(open, model.StatusEvaluation)
	if ids := examIDs(got); !slices.Equal(ids, []int64{1, 2}) {
		t.Errorf("evaluation order = %v, want [1 2]", ids)
	}
}

func TestSortExamsByStatusStable(t *testing.T) {
	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	exams := []model.Exam{
		{ID: 3, Date: day(now, 1)},
		{ID: 1, Date: day(now, 1)},
		{ID: 2, Date: day(now, 1)},
	}
	for _, hint := range []model.ExamStatus{model.StatusOpen, model.StatusClosed} {
		if ids := examIDs(SortExamsByStatus(exams, hint)); !slices.Equal(ids, []int64{3, 1, 2}) {
			t.Errorf("%s: order = %v, want input order", hint, ids)
		}
	}
}

func TestSplit(t *testing.T) {
	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	exams := []model.Exam{
		{ID: 1, Date: day(now, 4)},
		{ID: 2, Date: day(now, -2)},
		{ID: 3, Date: day(now, -20)},
		{ID: 4, Date: day(now, 2), IsClosed: true},
		{ID: 5, Date: day(now, -7)},
	}
	active, closed := Split(exams, now)
	if ids := examIDs(active); !slices.Equal(ids, []int64{2, 1}) {
		t.Errorf("active = %v, want [2 1]", ids)
	}
	if ids := examIDs(closed); !slices.Equal(ids, []int64{4, 5, 3}) {
		t.Errorf("closed = %v, want [4 5 3]", ids)
	}
}

func TestLeaderboard(t *testing.T) {
	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	exams := []model.Exam{
		{ID: 1, Date: day(now, -1), IsClosed: true, Grades: map[int64]float64{1: 5.0}},
	}
	predictions := []model.Prediction{
		{ExamID: 1, StudentID: 1, Prediction1: ptr(5.0), Points1: ptr(5)},
	}

	got := Leaderboard([]int64{2, 1}, exams, predictions, now)
	want := []RankedTotal{
		{StudentID: 1, TotalPoints: 5, Rank: 1},
		{StudentID: 2, TotalPoints: 0, Rank: 2},
	}
	if !slices.Equal(got, want) {
		t.Errorf("Leaderboard() = %+v, want %+v", got, want)
	}
}

func TestStudentTotals(t *testing.T) {
	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	exams := []model.Exam{
		// Closed and graded for both.
		{ID: 1, Date: day(now, -30), IsClosed: true, Grades: map[int64]float64{1: 4.0, 2: 5.0}},
		// Closed by date, graded for student 1 only.
		{ID: 2, Date: day(now, -9), Grades: map[int64]float64{1: 3.0}},
		// Graded but still in evaluation.
		{ID: 3, Date: day(now, -2), Grades: map[int64]float64{1: 3.0, 2: 3.0}},
		// Closed without grades.
		{ID: 4, Date: day(now, -40), IsClosed: true},
	}
	predictions := []model.Prediction{
		{ExamID: 1, StudentID: 1, Points1: ptr(5), Points2: ptr(4)},
		{ExamID: 1, StudentID: 2, Points1: ptr(1)},
		{ExamID: 2, StudentID: 1, Points2: ptr(3)},
		{ExamID: 2, StudentID: 2, Points1: ptr(5)},
		{ExamID: 3, StudentID: 1, Points1: ptr(5), Points2: ptr(5)},
		{ExamID: 4, StudentID: 2, Points1: ptr(5)},
	}

	got := StudentTotals([]int64{1, 2, 3}, exams, predictions, now)
	want := []StudentTotal{
		{StudentID: 1, TotalPoints: 12},
		{StudentID: 2, TotalPoints: 1},
		{StudentID: 3, TotalPoints: 0},
	}
	if !slices.Equal(got, want) {
		t.Errorf("StudentTotals() = %+v, want %+v", got, want)
	}
}

func TestRankNoSharedPositions(t *testing.T) {
	got := Rank([]StudentTotal{
		{StudentID: 1, TotalPoints: 3},
		{StudentID: 2, TotalPoints: 7},
		{StudentID: 3, TotalPoints: 3},
		{StudentID: 4, TotalPoints: 7},
	})
	want := []RankedTotal{
		{StudentID: 2, TotalPoints: 7, Rank: 1},
		{StudentID: 4, TotalPoints: 7, Rank: 2},
		{StudentID: 1, TotalPoints: 3, Rank: 3},
		{StudentID: 3, TotalPoints: 3, Rank: 4},
	}
	if !slices.Equal(got, want) {
		t.Errorf("Rank() = %+v, want %+v", got, want)
	}
	if len(Rank(nil)) != 0 {
		t.Error("Rank(nil) should be empty")
	}
}

func TestExamRanking(t *testing.T) {
	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	exam := model.Exam{ID: 7, Date: day(now, -6), Grades: map[int64]float64{1: 4.0, 2: 4.0, 3: 4.0}}
	predictions := []model.Prediction{
		{ExamID: 7, StudentID: 1, Points1: ptr(2)},
		{ExamID: 7, StudentID: 3, Points1: ptr(5), Points2: ptr(4)},
		{ExamID: 8, StudentID: 2, Points1: ptr(5)},
	}

	got := ExamRanking(exam, []int64{1, 2, 3}, predictions, now)
	want := []RankedTotal{
		{StudentID: 3, TotalPoints: 9, Rank: 1},
		{StudentID: 1, TotalPoints: 2, Rank: 2},
	}
	if !slices.Equal(got, want) {
		t.Errorf("ExamRanking() = %+v, want %+v", got, want)
	}

	// While the exam is still open nobody has points yet.
	running := exam
	running.Date = day(now, 1)
	for _, r := range ExamRanking(running, []int64{1, 2, 3}, predictions, now) {
		if r.TotalPoints != 0 {
			t.Errorf("student %d has %d points on a running exam", r.StudentID, r.TotalPoints)
		}
	}
}

func TestStudentResults(t *testing.T) {
	now := time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)
	exams := []model.Exam{
		{ID: 1, Date: day(now, -30), IsClosed: true, Grades: map[int64]float64{1: 4.0}},
		{ID: 2, Date: day(now, -10), IsClosed: true, Grades: map[int64]float64{1: 5.0}},
		{ID: 3, Date: day(now, -1), Grades: map[int64]float64{1: 5.0}},
		{ID: 4, Date: day(now, -12), IsClosed: true, Grades: map[int64]float64{2: 5.0}},
	}
	predictions := []model.Prediction{
		{ExamID: 1, StudentID: 1, Prediction1: ptr(4.0), Points1: ptr(5)},
		{ExamID: 3, StudentID: 1, Prediction1: ptr(5.0), Points1: ptr(5)},
	}

	rows, total := StudentResults(1, exams, predictions, now)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Exam.ID != 2 || rows[1].Exam.ID != 1 {
		t.Errorf("rows not newest first: %d, %d", rows[0].Exam.ID, rows[1].Exam.ID)
	}
	if rows[0].Prediction != nil || rows[0].Points != 0 {
		t.Errorf("exam 2 should have no prediction, got %+v", rows[0])
	}
	if rows[1].Grade != 4.0 || rows[1].Points != 5 {
		t.Errorf("exam 1 row = %+v", rows[1])
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
}
