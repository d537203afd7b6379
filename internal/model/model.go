package model

import (
	"context"
	"maps"
	"time"
)

// DateLayout is the wire and storage format of an exam's calendar day.
const DateLayout = "2006-01-02"

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleStudent is a student user role.
	UserRoleStudent UserRole = "student"
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents a system user.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// ExamStatus is the derived lifecycle stage of an exam.
type ExamStatus string

const (
	// StatusOpen accepts predictions; the exam day has not passed.
	StatusOpen ExamStatus = "open"
	// StatusEvaluation is the grace window after the exam day.
	StatusEvaluation ExamStatus = "evaluation"
	// StatusClosed accepts no further predictions.
	StatusClosed ExamStatus = "closed"
)

// Exam is a single exam students predict their grade for.
//
// Exam is treated as a value: helpers return modified copies and never
// write through a shared Grades map.
type Exam struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	Subject     string            `json:"subject"`
	Description string            `json:"description,omitempty"`
	Date        time.Time         `json:"-"`
	IsClosed    bool              `json:"is_closed"`
	ClosedAt    *time.Time        `json:"closed_at,omitempty"`
	Grades      map[int64]float64 `json:"grades,omitempty"`
}

// DateString formats the exam day for output.
func (e Exam) DateString() string {
	return e.Date.Format(DateLayout)
}

// Grade returns the recorded grade for a student.
func (e Exam) Grade(studentID int64) (float64, bool) {
	g, ok := e.Grades[studentID]
	return g, ok
}

// WithGrades returns a copy of e carrying a private copy of grades.
func (e Exam) WithGrades(grades map[int64]float64) Exam {
	e.Grades = maps.Clone(grades)
	return e
}

// Closed returns a copy of e with the manual-close flag set. ClosedAt is
// kept when already present.
func (e Exam) Closed(at time.Time) Exam {
	e.IsClosed = true
	if e.ClosedAt == nil {
		t := at
		e.ClosedAt = &t
	}
	return e
}

// Prediction holds a student's two tips for one exam and the points earned.
// At most one Prediction exists per (ExamID, StudentID).
type Prediction struct {
	ExamID      int64    `json:"exam_id"`
	StudentID   int64    `json:"student_id"`
	Prediction1 *float64 `json:"prediction1,omitempty"`
	Prediction2 *float64 `json:"prediction2,omitempty"`
	Points1     *int     `json:"points1,omitempty"`
	Points2     *int     `json:"points2,omitempty"`
}

// TotalPoints sums both rounds, treating missing points as zero.
func (p Prediction) TotalPoints() int {
	total := 0
	if p.Points1 != nil {
		total += *p.Points1
	}
	if p.Points2 != nil {
		total += *p.Points2
	}
	return total
}

// ClassMembership links a student to a teacher's roster.
type ClassMembership struct {
	StudentID int64     `json:"student_id"`
	TeacherID int64     `json:"teacher_id"`
	JoinedAt  time.Time `json:"joined_at"`
}

// RequestStatus is the state of a class join request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// ClassRequest is a student's request to join a teacher's class.
type ClassRequest struct {
	ID           int64         `json:"id"`
	StudentID    int64         `json:"student_id"`
	StudentName  string        `json:"student_name"`
	StudentEmail string        `json:"student_email"`
	TeacherEmail string        `json:"teacher_email"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	RespondedAt  *time.Time    `json:"responded_at,omitempty"`
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	BasePath      string         // URL prefix for sub-path deployments
	SecureCookies bool           // Set Secure flag on cookies (disable for local dev)
	Location      *time.Location // Calendar used to decide which day "today" is
	Clock         func() time.Time
}

// Now returns the current time in the configured location.
func (c AppConfig) Now() time.Time {
	now := time.Now()
	if c.Clock != nil {
		now = c.Clock()
	}
	if c.Location == nil {
		return now
	}
	return now.In(c.Location)
}
