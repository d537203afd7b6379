package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/pavelanni/tipper/internal/grading"
	"github.com/pavelanni/tipper/internal/model"
)

const examColumns = `id, title, subject, description, exam_date, is_closed, closed_at`

func scanExam(row interface{ Scan(...any) error }) (model.Exam, error) {
	var (
		e    model.Exam
		date string
	)
	if err := row.Scan(&e.ID, &e.Title, &e.Subject, &e.Description, &date, &e.IsClosed, &e.ClosedAt); err != nil {
		return e, err
	}
	d, err := time.Parse(model.DateLayout, date)
	if err != nil {
		return e, fmt.Errorf("exam %d: parse date %q: %w", e.ID, date, err)
	}
	e.Date = d
	return e, nil
}

// CreateExam stores a new exam with its grades. A new exam whose date is
// already past the automatic close is stored closed.
func (s *Store) CreateExam(e model.Exam, now time.Time) (int64, error) {
	if err := validateGrades(e.Grades); err != nil {
		return 0, err
	}
	if e.IsClosed || grading.AutoClosed(e, now) {
		e = e.Closed(now)
	}
	var id int64
	err := s.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO exams (title, subject, description, exam_date, is_closed, closed_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.Title, e.Subject, e.Description, e.DateString(), e.IsClosed, e.ClosedAt,
		)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return replaceGrades(tx, id, e.Grades)
	})
	if err != nil {
		return 0, fmt.Errorf("create exam: %w", err)
	}
	slog.Info("created exam", "id", id, "title", e.Title, "date", e.DateString())
	return id, nil
}

// GetExam returns an exam with its grades.
func (s *Store) GetExam(id int64) (model.Exam, error) {
	return getExam(s.db, id)
}

func getExam(q queryer, id int64) (model.Exam, error) {
	e, err := scanExam(q.QueryRow(`SELECT `+examColumns+` FROM exams WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("exam %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return e, err
	}
	grades, err := loadGrades(q, `WHERE exam_id = ?`, id)
	if err != nil {
		return e, err
	}
	e.Grades = grades[id]
	return e, nil
}

// ListExams returns all exams with their grades, newest first.
func (s *Store) ListExams() ([]model.Exam, error) {
	return listExams(s.db)
}

func listExams(q queryer) ([]model.Exam, error) {
	rows, err := q.Query(`SELECT ` + examColumns + ` FROM exams ORDER BY exam_date DESC, id`)
	if err != nil {
		return nil, err
	}
	var exams []model.Exam
	for rows.Next() {
		e, err := scanExam(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		exams = append(exams, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	grades, err := loadGrades(q, ``)
	if err != nil {
		return nil, err
	}
	for i := range exams {
		exams[i].Grades = grades[exams[i].ID]
	}
	return exams, nil
}

// ListSubjects returns the distinct subjects of all exams, sorted.
func (s *Store) ListSubjects() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT subject FROM exams ORDER BY subject`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var subjects []string
	for rows.Next() {
		var subj string
		if err := rows.Scan(&subj); err != nil {
			return nil, err
		}
		subjects = append(subjects, subj)
	}
	return subjects, rows.Err()
}

// UpdateExam saves the metadata, close flag and grades of e. A closed exam
// stays closed and keeps its first ClosedAt. When the grades change, every
// prediction on the exam is rescored in the same transaction.
func (s *Store) UpdateExam(e model.Exam, now time.Time) (model.Exam, error) {
	if err := validateGrades(e.Grades); err != nil {
		return model.Exam{}, err
	}
	var saved model.Exam
	err := s.inTx(func(tx *sql.Tx) error {
		cur, err := getExam(tx, e.ID)
		if err != nil {
			return err
		}
		e.ClosedAt = cur.ClosedAt
		if cur.IsClosed || e.IsClosed || grading.AutoClosed(e, now) {
			e = e.Closed(now)
		}
		_, err = tx.Exec(
			`UPDATE exams SET title = ?, subject = ?, description = ?, exam_date = ?, is_closed = ?, closed_at = ?
			 WHERE id = ?`,
			e.Title, e.Subject, e.Description, e.DateString(), e.IsClosed, e.ClosedAt, e.ID,
		)
		if err != nil {
			return err
		}
		if !maps.Equal(cur.Grades, e.Grades) {
			if err := replaceGrades(tx, e.ID, e.Grades); err != nil {
				return err
			}
			if err := rescoreExam(tx, e); err != nil {
				return err
			}
		}
		saved = e
		return nil
	})
	if err != nil {
		return model.Exam{}, fmt.Errorf("update exam %d: %w", e.ID, err)
	}
	return saved, nil
}

// SetGrades replaces the grades of an exam and rescores its predictions.
func (s *Store) SetGrades(examID int64, grades map[int64]float64, now time.Time) (model.Exam, error) {
	e, err := s.GetExam(examID)
	if err != nil {
		return model.Exam{}, err
	}
	return s.UpdateExam(e.WithGrades(grades), now)
}

// CloseExam closes an exam manually.
func (s *Store) CloseExam(id int64, now time.Time) (model.Exam, error) {
	var closed model.Exam
	err := s.inTx(func(tx *sql.Tx) error {
		e, err := getExam(tx, id)
		if err != nil {
			return err
		}
		if e.IsClosed {
			return ErrAlreadyClosed
		}
		closed = e.Closed(now)
		return markClosed(tx, closed)
	})
	if err != nil {
		return model.Exam{}, fmt.Errorf("close exam %d: %w", id, err)
	}
	slog.Info("closed exam", "id", id)
	return closed, nil
}

// DeleteExam removes an exam together with its grades and predictions.
func (s *Store) DeleteExam(id int64) error {
	err := s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM predictions WHERE exam_id = ?`, id); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM exam_grades WHERE exam_id = ?`, id); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM exams WHERE id = ?`, id)
		if err != nil {
			return err
		}
		return expectRow(res, "exam", id)
	})
	if err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	slog.Info("deleted exam", "id", id)
	return nil
}

// SweepExpired persists the automatic close of every exam whose date lies
// far enough in the past. Reads never do this themselves; the sweep runs
// from the CLI, on a ticker while serving, and after exam mutations. It
// returns the IDs of the exams it closed.
func (s *Store) SweepExpired(now time.Time) ([]int64, error) {
	var closed []int64
	err := s.inTx(func(tx *sql.Tx) error {
		exams, err := listExams(tx)
		if err != nil {
			return err
		}
		for _, e := range exams {
			if !grading.AutoClosed(e, now) {
				continue
			}
			if err := markClosed(tx, e.Closed(now)); err != nil {
				return err
			}
			closed = append(closed, e.ID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sweep expired exams: %w", err)
	}
	if len(closed) > 0 {
		slog.Info("auto-closed exams", "ids", closed)
	}
	return closed, nil
}

func markClosed(tx *sql.Tx, e model.Exam) error {
	_, err := tx.Exec(`UPDATE exams SET is_closed = 1, closed_at = ? WHERE id = ?`, e.ClosedAt, e.ID)
	return err
}

// loadGrades reads grade rows, optionally filtered by where, keyed by exam.
func loadGrades(q queryer, where string, args ...any) (map[int64]map[int64]float64, error) {
	rows, err := q.Query(`SELECT exam_id, student_id, grade FROM exam_grades `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]map[int64]float64)
	for rows.Next() {
		var (
			examID, studentID int64
			grade             float64
		)
		if err := rows.Scan(&examID, &studentID, &grade); err != nil {
			return nil, err
		}
		if out[examID] == nil {
			out[examID] = make(map[int64]float64)
		}
		out[examID][studentID] = grade
	}
	return out, rows.Err()
}

func replaceGrades(tx *sql.Tx, examID int64, grades map[int64]float64) error {
	if _, err := tx.Exec(`DELETE FROM exam_grades WHERE exam_id = ?`, examID); err != nil {
		return err
	}
	for _, sid := range slices.Sorted(maps.Keys(grades)) {
		if _, err := tx.Exec(
			`INSERT INTO exam_grades (exam_id, student_id, grade) VALUES (?, ?, ?)`,
			examID, sid, grades[sid],
		); err != nil {
			return err
		}
	}
	return nil
}

func rescoreExam(tx *sql.Tx, e model.Exam) error {
	preds, err := listPredictions(tx, `WHERE exam_id = ?`, e.ID)
	if err != nil {
		return err
	}
	for _, p := range grading.RescoreAll(e, preds) {
		if err := upsertPrediction(tx, p); err != nil {
			return err
		}
	}
	slog.Debug("rescored predictions", "exam_id", e.ID, "count", len(preds))
	return nil
}

func validateGrades(grades map[int64]float64) error {
	for sid, g := range grades {
		if err := grading.ValidateGrade(g); err != nil {
			return fmt.Errorf("student %d: %w", sid, err)
		}
	}
	return nil
}
