package handler

import (
	"net/http"

	"github.com/pavelanni/tipper/internal/grading"
	"github.com/pavelanni/tipper/internal/model"
)

type tipsRequest struct {
	Prediction1 *float64 `json:"prediction1" validate:"required_without=Prediction2,omitempty,grade"`
	Prediction2 *float64 `json:"prediction2" validate:"omitempty,grade"`
}

type tipsResponse struct {
	Prediction model.Prediction `json:"prediction"`
	Changed    bool             `json:"changed"`
}

// handleSubmitTips fills the caller's empty tip slots. Students outside any
// class cannot take part.
func (h *Handler) handleSubmitTips(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "examID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	var req tipsRequest
	if !bind(w, r, &req) {
		return
	}

	user := model.UserFromContext(r.Context())
	in, err := h.store.InAnyClass(user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !in {
		writeError(w, r, http.StatusForbidden, "ErrNotInClass")
		return
	}

	p, changed, err := h.store.SubmitTips(id, user.ID, req.Prediction1, req.Prediction2, h.config.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tipsResponse{Prediction: p, Changed: changed})
}

type predictionResponse struct {
	model.Prediction
	DisplayName string `json:"display_name"`
}

// handleListPredictions shows an exam's predictions. Students see only
// their own until the exam is closed.
func (h *Handler) handleListPredictions(w http.ResponseWriter, r *http.Request) {
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
	preds, err := h.store.ListPredictionsByExam(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	names, _, err := h.studentNames()
	if err != nil {
		h.fail(w, r, err)
		return
	}

	user := model.UserFromContext(r.Context())
	ownOnly := user.Role == model.UserRoleStudent && grading.StatusAt(e, h.config.Now()) != model.StatusClosed
	resp := []predictionResponse{}
	for _, p := range preds {
		if ownOnly && p.StudentID != user.ID {
			continue
		}
		resp = append(resp, predictionResponse{Prediction: p, DisplayName: names[p.StudentID]})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExamRanking(w http.ResponseWriter, r *http.Request) {
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
	preds, err := h.store.ListPredictionsByExam(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	names, ids, err := h.studentNames()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, standings(grading.ExamRanking(e, ids, preds, h.config.Now()), names))
}

type resultResponse struct {
	ExamID      int64    `json:"exam_id"`
	Title       string   `json:"title"`
	Subject     string   `json:"subject"`
	Date        string   `json:"date"`
	Grade       float64  `json:"grade"`
	GradeLabel  string   `json:"grade_label"`
	Prediction1 *float64 `json:"prediction1,omitempty"`
	Prediction2 *float64 `json:"prediction2,omitempty"`
	Points1     *int     `json:"points1,omitempty"`
	Points2     *int     `json:"points2,omitempty"`
	Points      int      `json:"points"`
}

type studentResultsResponse struct {
	StudentID   int64            `json:"student_id"`
	TotalPoints int              `json:"total_points"`
	Results     []resultResponse `json:"results"`
}

// handleStudentResults lists a student's scored exams. Teachers may look at
// anyone, students only at themselves.
func (h *Handler) handleStudentResults(w http.ResponseWriter, r *http.Request) {
	sid, ok := idParam(r, "studentID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	user := model.UserFromContext(r.Context())
	if user.Role == model.UserRoleStudent && user.ID != sid {
		writeError(w, r, http.StatusForbidden, "ErrForbidden")
		return
	}

	exams, err := h.store.ListExams()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	preds, err := h.store.ListPredictionsByStudent(sid)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	rows, total := grading.StudentResults(sid, exams, preds, h.config.Now())
	resp := studentResultsResponse{StudentID: sid, TotalPoints: total, Results: []resultResponse{}}
	for _, row := range rows {
		rr := resultResponse{
			ExamID:     row.Exam.ID,
			Title:      row.Exam.Title,
			Subject:    row.Exam.Subject,
			Date:       row.Exam.DateString(),
			Grade:      row.Grade,
			GradeLabel: grading.FormatGrade(row.Grade),
			Points:     row.Points,
		}
		if p := row.Prediction; p != nil {
			rr.Prediction1, rr.Prediction2 = p.Prediction1, p.Prediction2
			rr.Points1, rr.Points2 = p.Points1, p.Points2
		}
		resp.Results = append(resp.Results, rr)
	}
	writeJSON(w, http.StatusOK, resp)
}

// studentNames returns display names of active students by ID together
// with their IDs in store order.
func (h *Handler) studentNames() (map[int64]string, []int64, error) {
	students, err := h.store.ListUsersByRole(model.UserRoleStudent)
	if err != nil {
		return nil, nil, err
	}
	names := make(map[int64]string, len(students))
	ids := make([]int64, 0, len(students))
	for _, u := range students {
		names[u.ID] = u.DisplayName
		ids = append(ids, u.ID)
	}
	return names, ids, nil
}

func standings(ranked []grading.RankedTotal, names map[int64]string) []model.StandingEntry {
	out := make([]model.StandingEntry, 0, len(ranked))
	for _, rt := range ranked {
		out = append(out, model.StandingEntry{
			Rank:        rt.Rank,
			StudentID:   rt.StudentID,
			DisplayName: names[rt.StudentID],
			TotalPoints: rt.TotalPoints,
		})
	}
	return out
}
