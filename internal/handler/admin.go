package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/tipper/internal/model"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

type createUserRequest struct {
	Username    string         `json:"username" validate:"required,max=64"`
	Email       string         `json:"email" validate:"required,email"`
	DisplayName string         `json:"display_name" validate:"max=100"`
	Password    string         `json:"password" validate:"required,min=4"`
	Role        model.UserRole `json:"role" validate:"omitempty,oneof=student teacher admin"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !bind(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	if req.Role == "" {
		req.Role = model.UserRoleStudent
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	u := model.User{
		Username:     req.Username,
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Active:       true,
	}
	id, err := h.store.CreateUser(u)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.store.GetUserByID(id)
	if err != nil || created == nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r, "userID")
	if !ok {
		writeError(w, r, http.StatusBadRequest, "ErrBadRequest")
		return
	}
	if err := h.store.ToggleUserActive(id); err != nil {
		h.fail(w, r, err)
		return
	}
	u, err := h.store.GetUserByID(id)
	if err != nil || u == nil {
		h.fail(w, r, err)
		return
	}
	if !u.Active {
		if err := h.store.DeleteUserSessions(id); err != nil {
			slog.Warn("failed to end sessions of deactivated user", "id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, u)
}
