package store

import (
	"fmt"
	"time"

	"github.com/pavelanni/tipper/internal/grading"
	"github.com/pavelanni/tipper/internal/model"
)

// ExportLeaderboard builds the leaderboard and per-exam outcomes as seen at
// now. A non-empty subject restricts both to exams of that subject.
func (s *Store) ExportLeaderboard(now time.Time, subject string) (model.LeaderboardExport, error) {
	exams, err := s.ListExams()
	if err != nil {
		return model.LeaderboardExport{}, fmt.Errorf("list exams: %w", err)
	}
	if subject != "" {
		var filtered []model.Exam
		for _, e := range exams {
			if e.Subject == subject {
				filtered = append(filtered, e)
			}
		}
		exams = filtered
	}

	predictions, err := s.ListPredictions()
	if err != nil {
		return model.LeaderboardExport{}, fmt.Errorf("list predictions: %w", err)
	}
	students, err := s.ListUsersByRole(model.UserRoleStudent)
	if err != nil {
		return model.LeaderboardExport{}, fmt.Errorf("list students: %w", err)
	}

	names := make(map[int64]string, len(students))
	ids := make([]int64, 0, len(students))
	for _, u := range students {
		names[u.ID] = u.DisplayName
		ids = append(ids, u.ID)
	}

	export := model.LeaderboardExport{
		GeneratedAt: now,
		Subject:     subject,
	}
	for _, r := range grading.Leaderboard(ids, exams, predictions, now) {
		export.Entries = append(export.Entries, model.StandingEntry{
			Rank:        r.Rank,
			StudentID:   r.StudentID,
			DisplayName: names[r.StudentID],
			TotalPoints: r.TotalPoints,
		})
	}

	_, closed := grading.Split(exams, now)
	for _, e := range closed {
		er := model.ExamResult{
			ExamID:  e.ID,
			Title:   e.Title,
			Subject: e.Subject,
			Date:    e.DateString(),
		}
		for _, sid := range ids {
			grade, ok := e.Grade(sid)
			if !ok {
				continue
			}
			sr := model.StudentResult{
				StudentID:   sid,
				DisplayName: names[sid],
				Grade:       grading.FormatGrade(grade),
			}
			if p, ok := grading.FindPrediction(e.ID, sid, predictions); ok {
				sr.Prediction1 = p.Prediction1
				sr.Prediction2 = p.Prediction2
				sr.Points = p.TotalPoints()
			}
			er.Students = append(er.Students, sr)
		}
		export.Exams = append(export.Exams, er)
	}
	return export, nil
}
