package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/tipper/internal/model"
)

// AddMember puts a student on a teacher's roster. Adding an existing
// member is a no-op.
func (s *Store) AddMember(studentID, teacherID int64, now time.Time) error {
	return addMember(s.db, studentID, teacherID, now)
}

func addMember(q queryer, studentID, teacherID int64, now time.Time) error {
	_, err := q.Exec(
		`INSERT INTO class_memberships (student_id, teacher_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT(student_id, teacher_id) DO NOTHING`,
		studentID, teacherID, now,
	)
	return err
}

// RemoveMember takes a student off a teacher's roster.
func (s *Store) RemoveMember(studentID, teacherID int64) error {
	res, err := s.db.Exec(
		`DELETE FROM class_memberships WHERE student_id = ? AND teacher_id = ?`, studentID, teacherID,
	)
	if err != nil {
		return err
	}
	return expectRow(res, "class member", studentID)
}

// IsMember reports whether the student is on the teacher's roster.
func (s *Store) IsMember(studentID, teacherID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM class_memberships WHERE student_id = ? AND teacher_id = ?`, studentID, teacherID,
	).Scan(&n)
	return n > 0, err
}

// InAnyClass reports whether the student belongs to at least one class.
func (s *Store) InAnyClass(studentID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM class_memberships WHERE student_id = ?`, studentID).Scan(&n)
	return n > 0, err
}

// ListMemberships returns the classes a student belongs to.
func (s *Store) ListMemberships(studentID int64) ([]model.ClassMembership, error) {
	rows, err := s.db.Query(
		`SELECT student_id, teacher_id, joined_at FROM class_memberships WHERE student_id = ? ORDER BY joined_at`,
		studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ClassMembership
	for rows.Next() {
		var m model.ClassMembership
		if err := rows.Scan(&m.StudentID, &m.TeacherID, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMembers returns the active students on a teacher's roster.
func (s *Store) ListMembers(teacherID int64) ([]model.User, error) {
	return s.listUsers(
		`SELECT u.id, u.username, u.email, u.display_name, u.password_hash, u.role, u.active, u.created_at
		 FROM users u JOIN class_memberships m ON m.student_id = u.id
		 WHERE m.teacher_id = ? AND u.active = 1
		 ORDER BY u.id`, teacherID,
	)
}

const requestColumns = `r.id, r.student_id, u.display_name, u.email, r.teacher_email, r.status, r.created_at, r.responded_at`

func (s *Store) listRequests(where string, arg any) ([]model.ClassRequest, error) {
	rows, err := s.db.Query(
		`SELECT `+requestColumns+` FROM class_requests r JOIN users u ON u.id = r.student_id `+where+` ORDER BY r.id`, arg,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ClassRequest
	for rows.Next() {
		var r model.ClassRequest
		if err := rows.Scan(&r.ID, &r.StudentID, &r.StudentName, &r.StudentEmail, &r.TeacherEmail, &r.Status, &r.CreatedAt, &r.RespondedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func getRequest(q queryer, id int64) (model.ClassRequest, error) {
	var r model.ClassRequest
	err := q.QueryRow(
		`SELECT `+requestColumns+` FROM class_requests r JOIN users u ON u.id = r.student_id WHERE r.id = ?`, id,
	).Scan(&r.ID, &r.StudentID, &r.StudentName, &r.StudentEmail, &r.TeacherEmail, &r.Status, &r.CreatedAt, &r.RespondedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("class request %d: %w", id, ErrNotFound)
	}
	return r, err
}

// CreateClassRequest files a student's request to join the class of the
// teacher with teacherEmail. An open request for the same pair is returned
// instead of creating a second one.
func (s *Store) CreateClassRequest(studentID int64, teacherEmail string, now time.Time) (model.ClassRequest, error) {
	teacherEmail = strings.ToLower(strings.TrimSpace(teacherEmail))
	var req model.ClassRequest
	err := s.inTx(func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRow(
			`SELECT id FROM class_requests WHERE student_id = ? AND teacher_email = ? AND status = ?`,
			studentID, teacherEmail, model.RequestPending,
		).Scan(&id)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			res, err := tx.Exec(
				`INSERT INTO class_requests (student_id, teacher_email, status, created_at) VALUES (?, ?, ?, ?)`,
				studentID, teacherEmail, model.RequestPending, now,
			)
			if err != nil {
				return err
			}
			if id, err = res.LastInsertId(); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		req, err = getRequest(tx, id)
		return err
	})
	if err != nil {
		return model.ClassRequest{}, fmt.Errorf("create class request: %w", err)
	}
	return req, nil
}

// ListRequestsForTeacher returns the requests addressed to a teacher's email.
func (s *Store) ListRequestsForTeacher(teacherEmail string) ([]model.ClassRequest, error) {
	return s.listRequests(`WHERE r.teacher_email = ?`, strings.ToLower(teacherEmail))
}

// ListRequestsByStudent returns the requests a student has filed.
func (s *Store) ListRequestsByStudent(studentID int64) ([]model.ClassRequest, error) {
	return s.listRequests(`WHERE r.student_id = ?`, studentID)
}

// RespondClassRequest approves or rejects a pending request addressed to
// teacher. Approving puts the student on the teacher's roster.
func (s *Store) RespondClassRequest(id int64, status model.RequestStatus, teacher model.User, now time.Time) (model.ClassRequest, error) {
	if status != model.RequestApproved && status != model.RequestRejected {
		return model.ClassRequest{}, fmt.Errorf("invalid request status %q", status)
	}
	var req model.ClassRequest
	err := s.inTx(func(tx *sql.Tx) error {
		r, err := getRequest(tx, id)
		if err != nil {
			return err
		}
		if r.TeacherEmail != strings.ToLower(teacher.Email) {
			return fmt.Errorf("class request %d: %w", id, ErrNotFound)
		}
		if r.Status != model.RequestPending {
			return fmt.Errorf("class request %d is %s: %w", id, r.Status, ErrDuplicate)
		}
		if _, err := tx.Exec(
			`UPDATE class_requests SET status = ?, responded_at = ? WHERE id = ?`, status, now, id,
		); err != nil {
			return err
		}
		if status == model.RequestApproved {
			if err := addMember(tx, r.StudentID, teacher.ID, now); err != nil {
				return err
			}
		}
		req, err = getRequest(tx, id)
		return err
	})
	if err != nil {
		return model.ClassRequest{}, fmt.Errorf("respond to class request: %w", err)
	}
	slog.Info("answered class request", "id", id, "status", status, "teacher_id", teacher.ID)
	return req, nil
}
