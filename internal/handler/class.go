package handler

import (
	"net/http"
	"strings"

	"github.com/pavelanni/tipper/internal/model"
)

type classRequestBody struct {
	TeacherEmail string `json:"teacher_email" validate:"required,email"`
}

// handleCreateClassRequest asks to join the class of the teacher with the
// given email address.
func (h *Handler) handleCreateClassRequest(w http.ResponseWriter, r *http.Request) {
	var body classRequestBody
	if !bind(w, r, &body) {
		return
	}
	email := strings.TrimSpace(body.TeacherEmail)

	teacher, err := h.store.GetUserByEmail(email)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if teacher == nil || teacher.Role != model.UserRoleTeacher || !teacher.Active {
		writeError(w, r, http.StatusNotFound, "ErrNoTeacher")
		return
	}

	student := model.UserFromContext(r.Context())
	member, err := h.store.IsMember(student.ID, teacher.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if member {
		writeError(w, r, http.StatusConflict, "ErrDuplicate")
		return
	}

	req, err := h.store.CreateClassRequest(student.ID, email, h.config.Now())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// handleListClassRequests returns a student's own requests or the requests
// addressed to a teacher.
func (h *Handler) handleListClassRequests(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	var (
		reqs []model.ClassRequest
		err  error
	)
	switch user.Role {
	case model.UserRoleStudent:
		reqs, err = h.store.ListRequestsByStudent(user.ID)
	case model.UserRoleTeacher:
		reqs, err = h.store.ListRequestsForTeacher(user.Email)
	default:
		writeError(w, r, http.StatusForbidden, "ErrForbidden")
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []model.ClassRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleRespondClassRequest(status model.RequestStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "requestID")
		if !ok {
			writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
			return
		}
		teacher := model.UserFromContext(r.Context())
		req, err := h.store.RespondClassRequest(id, status, *teacher, h.config.Now())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func (h *Handler) handleListMembers(w http.ResponseWriter, r *http.Request) {
	teacher := model.UserFromContext(r.Context())
	members, err := h.store.ListMembers(teacher.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if members == nil {
		members = []model.User{}
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	sid, ok := idParam(r, "studentID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	teacher := model.UserFromContext(r.Context())
	if err := h.store.RemoveMember(sid, teacher.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
