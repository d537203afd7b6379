package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pavelanni/tipper/internal/grading"
	appI18n "github.com/pavelanni/tipper/internal/i18n"
	"github.com/pavelanni/tipper/internal/model"
)

type examResponse struct {
	ID            int64             `json:"id"`
	Title         string            `json:"title"`
	Subject       string            `json:"subject"`
	Description   string            `json:"description,omitempty"`
	Date          string            `json:"date"`
	Status        model.ExamStatus  `json:"status"`
	StatusLabel   string            `json:"status_label"`
	IsClosed      bool              `json:"is_closed"`
	ClosedAt      *time.Time        `json:"closed_at,omitempty"`
	CanSubmitTips bool              `json:"can_submit_tips"`
	Grades        map[int64]float64 `json:"grades,omitempty"`
}

var statusLabels = map[model.ExamStatus]string{
	model.StatusOpen:       "StatusOpen",
	model.StatusEvaluation: "StatusEvaluation",
	model.StatusClosed:     "StatusClosed",
}

// examView resolves the status at now and hides the grades of other
// students from students.
func (h *Handler) examView(r *http.Request, e model.Exam, now time.Time) examResponse {
	status := grading.StatusAt(e, now)
	resp := examResponse{
		ID:            e.ID,
		Title:         e.Title,
		Subject:       e.Subject,
		Description:   e.Description,
		Date:          e.DateString(),
		Status:        status,
		StatusLabel:   appI18n.T(r.Context(), statusLabels[status]),
		IsClosed:      e.IsClosed,
		ClosedAt:      e.ClosedAt,
		CanSubmitTips: grading.CanSubmitTipsAt(e, now),
		Grades:        e.Grades,
	}
	if u := model.UserFromContext(r.Context()); u != nil && u.Role == model.UserRoleStudent {
		resp.Grades = nil
		if g, ok := e.Grade(u.ID); ok {
			resp.Grades = map[int64]float64{u.ID: g}
		}
	}
	return resp
}

// handleListExams lists exams sorted for display. status filters by derived
// status, "active" meaning open or evaluation; subject filters by subject.
func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := h.store.ListExams()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	now := h.config.Now()
	subject := r.URL.Query().Get("subject")
	if subject != "" {
		var filtered []model.Exam
		for _, e := range exams {
			if e.Subject == subject {
				filtered = append(filtered, e)
			}
		}
		exams = filtered
	}

	active, closed := grading.Split(exams, now)
	var out []model.Exam
	switch want := model.ExamStatus(r.URL.Query().Get("status")); want {
	case "":
		out = append(active, closed...)
	case "active":
		out = active
	case model.StatusClosed:
		out = closed
	case model.StatusOpen, model.StatusEvaluation:
		for _, e := range active {
			if grading.StatusAt(e, now) == want {
				out = append(out, e)
			}
		}
	default:
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}

	resp := make([]examResponse, 0, len(out))
	for _, e := range out {
		resp = append(resp, h.examView(r, e, now))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "examID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	e, err := h.store.GetExam(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.examView(r, e, h.config.Now()))
}

type examRequest struct {
	Title       string            `json:"title" validate:"required,max=200"`
	Subject     string            `json:"subject" validate:"required,max=100"`
	Description string            `json:"description" validate:"max=2000"`
	Date        string            `json:"date" validate:"required,datetime=2006-01-02"`
	IsClosed    bool              `json:"is_closed"`
	Grades      map[int64]float64 `json:"grades" validate:"omitempty,dive,grade"`
}

func (req examRequest) exam() (model.Exam, bool) {
	title := strings.TrimSpace(req.Title)
	subject := strings.TrimSpace(req.Subject)
	if title == "" || subject == "" {
		return model.Exam{}, false
	}
	date, err := time.Parse(model.DateLayout, req.Date)
	if err != nil {
		return model.Exam{}, false
	}
	return model.Exam{
		Title:       title,
		Subject:     subject,
		Description: strings.TrimSpace(req.Description),
		Date:        date,
		IsClosed:    req.IsClosed,
		Grades:      req.Grades,
	}, true
}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var req examRequest
	if !bind(w, r, &req) {
		return
	}
	e, ok := req.exam()
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	now := h.config.Now()
	id, err := h.store.CreateExam(e, now)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sweep(now)
	h.respondExam(w, r, http.StatusCreated, id, now)
}

func (h *Handler) handleUpdateExam(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "examID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	var req examRequest
	if !bind(w, r, &req) {
		return
	}
	e, ok := req.exam()
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	e.ID = id
	if req.Grades == nil {
		// Omitted grades keep the stored ones.
		cur, err := h.store.GetExam(id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		e.Grades = cur.Grades
	}
	now := h.config.Now()
	if _, err := h.store.UpdateExam(e, now); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sweep(now)
	h.respondExam(w, r, http.StatusOK, id, now)
}

func (h *Handler) handleSetGrades(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "examID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	grades, ok := bindGrades(w, r)
	if !ok {
		return
	}
	now := h.config.Now()
	if _, err := h.store.SetGrades(id, grades, now); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sweep(now)
	h.respondExam(w, r, http.StatusOK, id, now)
}

func (h *Handler) handleCloseExam(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "examID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	now := h.config.Now()
	e, err := h.store.CloseExam(id, now)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.sweep(now)
	writeJSON(w, http.StatusOK, h.examView(r, e, now))
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "examID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	if err := h.store.DeleteExam(id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sweep(h.config.Now())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondExam(w http.ResponseWriter, r *http.Request, status int, id int64, now time.Time) {
	e, err := h.store.GetExam(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, status, h.examView(r, e, now))
}

// sweep persists automatic closes after an exam mutation. A failed sweep
// does not fail the request; the next one catches up.
func (h *Handler) sweep(now time.Time) {
	if _, err := h.store.SweepExpired(now); err != nil {
		slog.Error("sweep after exam change failed", "error", err)
	}
}
