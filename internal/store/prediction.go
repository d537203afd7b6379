package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/tipper/internal/grading"
	"github.com/pavelanni/tipper/internal/model"
)

const predictionColumns = `exam_id, student_id, prediction1, prediction2, points1, points2`

func listPredictions(q queryer, where string, args ...any) ([]model.Prediction, error) {
	rows, err := q.Query(`SELECT `+predictionColumns+` FROM predictions `+where+` ORDER BY exam_id, student_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var preds []model.Prediction
	for rows.Next() {
		var p model.Prediction
		if err := rows.Scan(&p.ExamID, &p.StudentID, &p.Prediction1, &p.Prediction2, &p.Points1, &p.Points2); err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

func getPrediction(q queryer, examID, studentID int64) (*model.Prediction, error) {
	var p model.Prediction
	err := q.QueryRow(
		`SELECT `+predictionColumns+` FROM predictions WHERE exam_id = ? AND student_id = ?`, examID, studentID,
	).Scan(&p.ExamID, &p.StudentID, &p.Prediction1, &p.Prediction2, &p.Points1, &p.Points2)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func upsertPrediction(q queryer, p model.Prediction) error {
	_, err := q.Exec(
		`INSERT INTO predictions (exam_id, student_id, prediction1, prediction2, points1, points2)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(exam_id, student_id) DO UPDATE SET
		   prediction1 = excluded.prediction1,
		   prediction2 = excluded.prediction2,
		   points1 = excluded.points1,
		   points2 = excluded.points2`,
		p.ExamID, p.StudentID, p.Prediction1, p.Prediction2, p.Points1, p.Points2,
	)
	return err
}

// GetPrediction returns the student's prediction for an exam, or nil.
func (s *Store) GetPrediction(examID, studentID int64) (*model.Prediction, error) {
	return getPrediction(s.db, examID, studentID)
}

// ListPredictions returns every prediction.
func (s *Store) ListPredictions() ([]model.Prediction, error) {
	return listPredictions(s.db, ``)
}

// ListPredictionsByExam returns all predictions on one exam.
func (s *Store) ListPredictionsByExam(examID int64) ([]model.Prediction, error) {
	return listPredictions(s.db, `WHERE exam_id = ?`, examID)
}

// ListPredictionsByStudent returns all predictions of one student.
func (s *Store) ListPredictionsByStudent(studentID int64) ([]model.Prediction, error) {
	return listPredictions(s.db, `WHERE student_id = ?`, studentID)
}

// SubmitTips fills the student's empty tip slots for an exam. Occupied
// slots are left as they are, so a resubmission is a no-op; changed
// reports whether anything was stored. The exam must still accept tips at
// now, otherwise ErrExamClosed is returned.
func (s *Store) SubmitTips(examID, studentID int64, tip1, tip2 *float64, now time.Time) (p model.Prediction, changed bool, err error) {
	for _, tip := range []*float64{tip1, tip2} {
		if tip != nil {
			if err := grading.ValidateGrade(*tip); err != nil {
				return p, false, err
			}
		}
	}

	err = s.inTx(func(tx *sql.Tx) error {
		e, err := getExam(tx, examID)
		if err != nil {
			return err
		}
		if !grading.CanSubmitTipsAt(e, now) {
			return ErrExamClosed
		}
		cur, err := getPrediction(tx, examID, studentID)
		if err != nil {
			return err
		}
		base := model.Prediction{ExamID: examID, StudentID: studentID}
		if cur != nil {
			base = *cur
		}
		p, changed, err = grading.ApplyTips(base, tip1, tip2, e.Grades)
		if err != nil || !changed {
			return err
		}
		return upsertPrediction(tx, p)
	})
	if err != nil {
		return model.Prediction{}, false, fmt.Errorf("submit tips: %w", err)
	}
	if changed {
		slog.Info("stored tips", "exam_id", examID, "student_id", studentID)
	}
	return p, changed, nil
}
