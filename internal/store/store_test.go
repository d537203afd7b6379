package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pavelanni/tipper/internal/grading"
	"github.com/pavelanni/tipper/internal/model"
)

var testNow = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestUser(t *testing.T, s *Store, username string, role model.UserRole) int64 {
	t.Helper()
	id, err := s.CreateUser(model.User{
		Username:     username,
		Email:        username + "@example.com",
		DisplayName:  username,
		PasswordHash: "x",
		Role:         role,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("insertTestUser: %v", err)
	}
	return id
}

// insertTestExam stores an exam dated offset days from testNow.
func insertTestExam(t *testing.T, s *Store, title string, offset int) int64 {
	t.Helper()
	id, err := s.CreateExam(model.Exam{
		Title:   title,
		Subject: "Mathematics",
		Date:    time.Date(2026, 6, 15+offset, 0, 0, 0, 0, time.UTC),
	}, testNow)
	if err != nil {
		t.Fatalf("insertTestExam: %v", err)
	}
	return id
}

func ptr[T any](v T) *T { return &v }

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tipper.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	insertTestUser(t, s, "alice", model.UserRoleStudent)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	count, err := s.UserCount()
	if err != nil || count != 1 {
		t.Errorf("UserCount after reopen = %d, %v", count, err)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	id := insertTestUser(t, s, "alice", model.UserRoleStudent)
	insertTestUser(t, s, "bob", model.UserRoleTeacher)

	u, err := s.GetUserByEmail("ALICE@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if u == nil || u.ID != id {
		t.Fatalf("expected alice, got %+v", u)
	}

	missing, err := s.GetUserByUsername("nobody")
	if err != nil || missing != nil {
		t.Errorf("expected nil user, got %+v, %v", missing, err)
	}

	if _, err := s.CreateUser(model.User{Username: "alice", Email: "other@example.com", Role: model.UserRoleStudent}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}

	students, err := s.ListUsersByRole(model.UserRoleStudent)
	if err != nil {
		t.Fatalf("ListUsersByRole: %v", err)
	}
	if len(students) != 1 {
		t.Fatalf("expected 1 student, got %d", len(students))
	}

	if err := s.ToggleUserActive(id); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	students, _ = s.ListUsersByRole(model.UserRoleStudent)
	if len(students) != 0 {
		t.Errorf("inactive student still listed")
	}
	if err := s.ToggleUserActive(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthSession(t *testing.T) {
	s := newTestStore(t)
	uid := insertTestUser(t, s, "alice", model.UserRoleStudent)

	token, err := s.CreateAuthSession(uid)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	u, err := s.SessionUser(token)
	if err != nil || u == nil {
		t.Fatalf("SessionUser: %+v, %v", u, err)
	}
	if u.ID != uid || u.Username != "alice" {
		t.Errorf("session user = %+v, want alice (%d)", u, uid)
	}

	var stored string
	if err := s.db.QueryRow(`SELECT id FROM auth_sessions`).Scan(&stored); err != nil {
		t.Fatalf("read session row: %v", err)
	}
	if stored == token {
		t.Error("token stored in clear")
	}
	if u, _ := s.SessionUser("bogus"); u != nil {
		t.Errorf("unknown token resolved to %+v", u)
	}

	if err := s.ToggleUserActive(uid); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	if u, _ := s.SessionUser(token); u != nil {
		t.Error("deactivated user still resolves")
	}
	if err := s.ToggleUserActive(uid); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}

	n, err := s.CleanupExpiredSessions(time.Now().Add(AuthSessionTTL + time.Hour))
	if err != nil {
		t.Fatalf("CleanupExpiredSessions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired session removed, got %d", n)
	}
	if u, _ := s.SessionUser(token); u != nil {
		t.Error("session survived cleanup")
	}

	token, _ = s.CreateAuthSession(uid)
	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	if u, _ := s.SessionUser(token); u != nil {
		t.Error("session survived logout")
	}
}

func TestExamCRUD(t *testing.T) {
	s := newTestStore(t)

	id := insertTestExam(t, s, "Fractions", 3)
	e, err := s.GetExam(id)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if e.Title != "Fractions" || e.DateString() != "2026-06-18" {
		t.Errorf("unexpected exam %+v", e)
	}
	if e.IsClosed || e.ClosedAt != nil {
		t.Error("new exam should be open")
	}

	if _, err := s.GetExam(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	sid := insertTestUser(t, s, "alice", model.UserRoleStudent)
	other, err := s.CreateExam(model.Exam{
		Title:   "Verbs",
		Subject: "German",
		Date:    time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC),
		Grades:  map[int64]float64{sid: 4.5},
	}, testNow)
	if err != nil {
		t.Fatalf("CreateExam: %v", err)
	}

	exams, err := s.ListExams()
	if err != nil {
		t.Fatalf("ListExams: %v", err)
	}
	if len(exams) != 2 {
		t.Fatalf("expected 2 exams, got %d", len(exams))
	}
	if exams[0].ID != other || exams[0].Grades[sid] != 4.5 {
		t.Errorf("expected newest exam with grade first, got %+v", exams[0])
	}

	subjects, err := s.ListSubjects()
	if err != nil {
		t.Fatalf("ListSubjects: %v", err)
	}
	if len(subjects) != 2 || subjects[0] != "German" || subjects[1] != "Mathematics" {
		t.Errorf("unexpected subjects %v", subjects)
	}

	if _, err := s.CreateExam(model.Exam{Title: "Bad", Subject: "X", Date: testNow, Grades: map[int64]float64{sid: 7}}, testNow); !errors.Is(err, grading.ErrGradeOutOfRange) {
		t.Errorf("expected ErrGradeOutOfRange, got %v", err)
	}

	if err := s.DeleteExam(id); err != nil {
		t.Fatalf("DeleteExam: %v", err)
	}
	if err := s.DeleteExam(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	subjects, _ = s.ListSubjects()
	if len(subjects) != 1 {
		t.Errorf("subject of deleted exam still listed: %v", subjects)
	}
}

func TestCreatePastExamIsClosed(t *testing.T) {
	s := newTestStore(t)
	id := insertTestExam(t, s, "Old", -7)
	e, err := s.GetExam(id)
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if !e.IsClosed || e.ClosedAt == nil {
		t.Errorf("expected exam past the close window to be stored closed, got %+v", e)
	}
}

func TestCloseExam(t *testing.T) {
	s := newTestStore(t)
	id := insertTestExam(t, s, "Fractions", 2)

	closed, err := s.CloseExam(id, testNow)
	if err != nil {
		t.Fatalf("CloseExam: %v", err)
	}
	if !closed.IsClosed || closed.ClosedAt == nil || !closed.ClosedAt.Equal(testNow) {
		t.Fatalf("unexpected closed exam %+v", closed)
	}

	if _, err := s.CloseExam(id, testNow.Add(time.Hour)); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("expected ErrAlreadyClosed, got %v", err)
	}

	// Reopening through an update is ignored and ClosedAt is kept.
	closed.IsClosed = false
	closed.Title = "Fractions II"
	updated, err := s.UpdateExam(closed, testNow.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("UpdateExam: %v", err)
	}
	if !updated.IsClosed || !updated.ClosedAt.Equal(testNow) {
		t.Errorf("closed exam reopened or ClosedAt moved: %+v", updated)
	}
	got, _ := s.GetExam(id)
	if got.Title != "Fractions II" || !got.IsClosed || !got.ClosedAt.Equal(testNow) {
		t.Errorf("stored exam = %+v", got)
	}
}

func TestSweepExpired(t *testing.T) {
	s := newTestStore(t)
	future := insertTestExam(t, s, "Future", 1)
	eval := insertTestExam(t, s, "Evaluation", -2)
	expiring := insertTestExam(t, s, "Expiring", -2)

	ids, err := s.SweepExpired(testNow)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("nothing should close yet, got %v", ids)
	}

	// Reads do not close anything.
	later := testNow.AddDate(0, 0, 3)
	e, _ := s.GetExam(expiring)
	if e.IsClosed {
		t.Error("read persisted a close")
	}
	if grading.StatusAt(e, later) != model.StatusClosed {
		t.Error("exam should resolve to closed three days later")
	}

	ids, err = s.SweepExpired(later)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if len(ids) != 2 || ids[0] == future || ids[1] == future {
		t.Errorf("expected the two past exams closed, got %v", ids)
	}
	e, _ = s.GetExam(eval)
	if !e.IsClosed || e.ClosedAt == nil || !e.ClosedAt.Equal(later) {
		t.Errorf("unexpected swept exam %+v", e)
	}

	// A second sweep keeps the first ClosedAt.
	ids, _ = s.SweepExpired(later.AddDate(0, 0, 10))
	if len(ids) != 1 || ids[0] != future {
		t.Errorf("expected only the future exam closed now, got %v", ids)
	}
	e, _ = s.GetExam(eval)
	if !e.ClosedAt.Equal(later) {
		t.Errorf("ClosedAt overwritten: %v", e.ClosedAt)
	}
}

func TestSubmitTips(t *testing.T) {
	s := newTestStore(t)
	sid := insertTestUser(t, s, "alice", model.UserRoleStudent)
	eid := insertTestExam(t, s, "Fractions", 2)

	if _, _, err := s.SubmitTips(eid, sid, nil, ptr(4.0), testNow); !errors.Is(err, grading.ErrSecondBeforeFirst) {
		t.Errorf("expected ErrSecondBeforeFirst, got %v", err)
	}
	if _, _, err := s.SubmitTips(eid, sid, ptr(4.1), nil, testNow); !errors.Is(err, grading.ErrGradeOutOfRange) {
		t.Errorf("expected ErrGradeOutOfRange, got %v", err)
	}

	p, changed, err := s.SubmitTips(eid, sid, ptr(4.0), nil, testNow)
	if err != nil || !changed {
		t.Fatalf("SubmitTips: changed=%v err=%v", changed, err)
	}
	if *p.Prediction1 != 4.0 || p.Points1 != nil {
		t.Errorf("unexpected prediction %+v", p)
	}

	// Resubmitting the first slot changes nothing.
	p, changed, err = s.SubmitTips(eid, sid, ptr(5.0), nil, testNow)
	if err != nil {
		t.Fatalf("SubmitTips: %v", err)
	}
	if changed || *p.Prediction1 != 4.0 {
		t.Errorf("first tip overwritten: changed=%v %+v", changed, p)
	}

	// The second tip is accepted during evaluation.
	evalTime := testNow.AddDate(0, 0, 3)
	p, changed, err = s.SubmitTips(eid, sid, nil, ptr(4.5), evalTime)
	if err != nil || !changed {
		t.Fatalf("SubmitTips second: changed=%v err=%v", changed, err)
	}
	if *p.Prediction2 != 4.5 {
		t.Errorf("Prediction2 = %v", *p.Prediction2)
	}

	stored, err := s.GetPrediction(eid, sid)
	if err != nil || stored == nil {
		t.Fatalf("GetPrediction: %+v, %v", stored, err)
	}
	if !grading.HasBothTips(eid, sid, []model.Prediction{*stored}) {
		t.Error("expected both tips stored")
	}

	// Closed exams refuse tips.
	other := insertTestExam(t, s, "Closed", 5)
	if _, err := s.CloseExam(other, testNow); err != nil {
		t.Fatalf("CloseExam: %v", err)
	}
	if _, _, err := s.SubmitTips(other, sid, ptr(4.0), nil, testNow); !errors.Is(err, ErrExamClosed) {
		t.Errorf("expected ErrExamClosed, got %v", err)
	}
	if _, _, err := s.SubmitTips(9999, sid, ptr(4.0), nil, testNow); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGradingRescoresPredictions(t *testing.T) {
	s := newTestStore(t)
	alice := insertTestUser(t, s, "alice", model.UserRoleStudent)
	bob := insertTestUser(t, s, "bob", model.UserRoleStudent)
	eid := insertTestExam(t, s, "Fractions", 0)

	if _, _, err := s.SubmitTips(eid, alice, ptr(4.0), ptr(4.5), testNow); err != nil {
		t.Fatalf("SubmitTips alice: %v", err)
	}
	if _, _, err := s.SubmitTips(eid, bob, ptr(3.0), nil, testNow); err != nil {
		t.Fatalf("SubmitTips bob: %v", err)
	}

	if _, err := s.SetGrades(eid, map[int64]float64{alice: 4.5, bob: 5.0}, testNow); err != nil {
		t.Fatalf("SetGrades: %v", err)
	}
	p, _ := s.GetPrediction(eid, alice)
	if *p.Points1 != 3 || *p.Points2 != 5 {
		t.Errorf("alice points = %d/%d, want 3/5", *p.Points1, *p.Points2)
	}
	p, _ = s.GetPrediction(eid, bob)
	if *p.Points1 != 0 || p.Points2 != nil {
		t.Errorf("bob points = %+v", p)
	}

	// Correcting a grade recomputes instead of adding up.
	if _, err := s.SetGrades(eid, map[int64]float64{alice: 4.0}, testNow); err != nil {
		t.Fatalf("SetGrades: %v", err)
	}
	p, _ = s.GetPrediction(eid, alice)
	if *p.Points1 != 5 || *p.Points2 != 3 {
		t.Errorf("alice points after regrade = %d/%d, want 5/3", *p.Points1, *p.Points2)
	}
	p, _ = s.GetPrediction(eid, bob)
	if p.Points1 != nil {
		t.Errorf("bob keeps points after grade removal: %d", *p.Points1)
	}

	// A tip submitted after grading is scored right away.
	carol := insertTestUser(t, s, "carol", model.UserRoleStudent)
	if _, err := s.SetGrades(eid, map[int64]float64{alice: 4.0, carol: 2.0}, testNow); err != nil {
		t.Fatalf("SetGrades: %v", err)
	}
	cp, _, err := s.SubmitTips(eid, carol, ptr(2.0), nil, testNow)
	if err != nil {
		t.Fatalf("SubmitTips carol: %v", err)
	}
	if cp.Points1 == nil || *cp.Points1 != 5 {
		t.Errorf("carol Points1 = %v, want 5", cp.Points1)
	}
}

func TestClassRequestFlow(t *testing.T) {
	s := newTestStore(t)
	student := insertTestUser(t, s, "alice", model.UserRoleStudent)
	teacherID := insertTestUser(t, s, "mrsmith", model.UserRoleTeacher)
	teacher, _ := s.GetUserByID(teacherID)

	in, err := s.InAnyClass(student)
	if err != nil || in {
		t.Fatalf("InAnyClass = %v, %v", in, err)
	}

	req, err := s.CreateClassRequest(student, "MrSmith@example.com", testNow)
	if err != nil {
		t.Fatalf("CreateClassRequest: %v", err)
	}
	if req.Status != model.RequestPending || req.StudentName != "alice" {
		t.Errorf("unexpected request %+v", req)
	}
	dup, err := s.CreateClassRequest(student, "mrsmith@example.com", testNow)
	if err != nil {
		t.Fatalf("CreateClassRequest dup: %v", err)
	}
	if dup.ID != req.ID {
		t.Errorf("expected existing request %d, got %d", req.ID, dup.ID)
	}

	pending, err := s.ListRequestsForTeacher(teacher.Email)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListRequestsForTeacher: %v, %v", pending, err)
	}

	other := model.User{ID: 999, Email: "other@example.com"}
	if _, err := s.RespondClassRequest(req.ID, model.RequestApproved, other, testNow); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign teacher, got %v", err)
	}

	approved, err := s.RespondClassRequest(req.ID, model.RequestApproved, *teacher, testNow)
	if err != nil {
		t.Fatalf("RespondClassRequest: %v", err)
	}
	if approved.Status != model.RequestApproved || approved.RespondedAt == nil {
		t.Errorf("unexpected answered request %+v", approved)
	}
	if _, err := s.RespondClassRequest(req.ID, model.RequestRejected, *teacher, testNow); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for answered request, got %v", err)
	}

	member, err := s.IsMember(student, teacherID)
	if err != nil || !member {
		t.Fatalf("IsMember = %v, %v", member, err)
	}
	members, err := s.ListMembers(teacherID)
	if err != nil || len(members) != 1 || members[0].ID != student {
		t.Errorf("ListMembers = %+v, %v", members, err)
	}

	if err := s.RemoveMember(student, teacherID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	in, _ = s.InAnyClass(student)
	if in {
		t.Error("student still in a class after removal")
	}
}

func TestInitialize(t *testing.T) {
	s := newTestStore(t)
	seed := DemoSeed(testNow)

	applied, err := s.Initialize(seed, testNow)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !applied {
		t.Fatal("expected seed to be applied")
	}
	applied, err = s.Initialize(seed, testNow)
	if err != nil {
		t.Fatalf("Initialize again: %v", err)
	}
	if applied {
		t.Error("seed applied twice")
	}

	count, _ := s.UserCount()
	if count != len(seed.Users) {
		t.Errorf("expected %d users, got %d", len(seed.Users), count)
	}
	exams, _ := s.ListExams()
	if len(exams) != 1 || grading.StatusAt(exams[0], testNow) != model.StatusOpen {
		t.Errorf("unexpected seeded exams %+v", exams)
	}
	teacher, _ := s.GetUserByUsername("teacher")
	members, _ := s.ListMembers(teacher.ID)
	if len(members) != 2 {
		t.Errorf("expected 2 enrolled students, got %d", len(members))
	}
}

func TestExportLeaderboard(t *testing.T) {
	s := newTestStore(t)
	alice := insertTestUser(t, s, "alice", model.UserRoleStudent)
	bob := insertTestUser(t, s, "bob", model.UserRoleStudent)
	eid := insertTestExam(t, s, "Fractions", -1)

	if _, _, err := s.SubmitTips(eid, alice, ptr(5.0), nil, testNow); err != nil {
		t.Fatalf("SubmitTips: %v", err)
	}
	if _, err := s.SetGrades(eid, map[int64]float64{alice: 5.0, bob: 4.0}, testNow); err != nil {
		t.Fatalf("SetGrades: %v", err)
	}

	// Still in evaluation: nothing counts yet.
	export, err := s.ExportLeaderboard(testNow, "")
	if err != nil {
		t.Fatalf("ExportLeaderboard: %v", err)
	}
	if export.Entries[0].TotalPoints != 0 || len(export.Exams) != 0 {
		t.Errorf("points counted before close: %+v", export)
	}

	if _, err := s.CloseExam(eid, testNow); err != nil {
		t.Fatalf("CloseExam: %v", err)
	}
	export, err = s.ExportLeaderboard(testNow, "")
	if err != nil {
		t.Fatalf("ExportLeaderboard: %v", err)
	}
	if len(export.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(export.Entries))
	}
	first := export.Entries[0]
	if first.StudentID != alice || first.TotalPoints != 5 || first.Rank != 1 {
		t.Errorf("unexpected first entry %+v", first)
	}
	if export.Entries[1].StudentID != bob || export.Entries[1].TotalPoints != 0 {
		t.Errorf("unexpected second entry %+v", export.Entries[1])
	}
	if len(export.Exams) != 1 || len(export.Exams[0].Students) != 2 || export.Exams[0].Students[0].Grade != "5" {
		t.Errorf("unexpected exam results %+v", export.Exams)
	}

	export, _ = s.ExportLeaderboard(testNow, "German")
	if len(export.Exams) != 0 || export.Entries[0].TotalPoints != 0 {
		t.Errorf("subject filter ignored: %+v", export)
	}
}
