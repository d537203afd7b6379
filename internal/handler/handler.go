package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/tipper/internal/grading"
	appI18n "github.com/pavelanni/tipper/internal/i18n"
	"github.com/pavelanni/tipper/internal/model"
	"github.com/pavelanni/tipper/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	config model.AppConfig
}

// New creates a new Handler.
func New(s *store.Store, cfg model.AppConfig) (*Handler, error) {
	if s == nil {
		return nil, errors.New("handler: nil store")
	}
	return &Handler{store: s, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)
		r.Use(h.csrfMiddleware)

		r.Get("/leaderboard", h.handleLeaderboardPage)

		r.Route("/api", func(r chi.Router) {
			r.Get("/me", h.handleMe)
			r.Get("/grades/options", h.handleGradeOptions)
			r.Get("/subjects", h.handleListSubjects)
			r.Get("/leaderboard", h.handleLeaderboard)

			r.Route("/exams", func(r chi.Router) {
				r.Get("/", h.handleListExams)
				r.With(requireRole(model.UserRoleTeacher, model.UserRoleAdmin)).Post("/", h.handleCreateExam)

				r.Route("/{examID}", func(r chi.Router) {
					r.Get("/", h.handleGetExam)
					r.Get("/predictions", h.handleListPredictions)
					r.Get("/ranking", h.handleExamRanking)
					r.With(requireRole(model.UserRoleStudent)).Post("/tips", h.handleSubmitTips)

					r.Group(func(r chi.Router) {
						r.Use(requireRole(model.UserRoleTeacher, model.UserRoleAdmin))
						r.Put("/", h.handleUpdateExam)
						r.Put("/grades", h.handleSetGrades)
						r.Put("/close", h.handleCloseExam)
						r.Delete("/", h.handleDeleteExam)
					})
				})
			})

			r.Get("/students/{studentID}/results", h.handleStudentResults)

			r.Route("/class", func(r chi.Router) {
				r.Get("/requests", h.handleListClassRequests)
				r.With(requireRole(model.UserRoleStudent)).Post("/requests", h.handleCreateClassRequest)
				r.Group(func(r chi.Router) {
					r.Use(requireRole(model.UserRoleTeacher))
					r.Post("/requests/{requestID}/approve", h.handleRespondClassRequest(model.RequestApproved))
					r.Post("/requests/{requestID}/reject", h.handleRespondClassRequest(model.RequestRejected))
					r.Get("/members", h.handleListMembers)
					r.Delete("/members/{studentID}", h.handleRemoveMember)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(model.UserRoleAdmin))
				r.Get("/users", h.handleListUsers)
				r.Post("/users", h.handleCreateUser)
				r.Put("/users/{userID}/active", h.handleToggleUserActive)
			})
		})
	})
}

// path prefixes p with the configured base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	return h.path("/")
}

func (h *Handler) handleGradeOptions(w http.ResponseWriter, r *http.Request) {
	type option struct {
		Value float64 `json:"value"`
		Label string  `json:"label"`
	}
	var opts []option
	for _, v := range grading.GradeOptions() {
		opts = append(opts, option{Value: v, Label: grading.FormatGrade(v)})
	}
	writeJSON(w, http.StatusOK, opts)
}

func (h *Handler) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.store.ListSubjects()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if subjects == nil {
		subjects = []string{}
	}
	writeJSON(w, http.StatusOK, subjects)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// writeError sends {"error": msg} with msg translated from msgID.
func writeError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	writeJSON(w, status, errorResponse{Error: appI18n.T(r.Context(), msgID)})
}

// fail maps store and grading errors to a status code and localized
// message. Anything unknown is logged and reported as 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "ErrNotFound")
	case errors.Is(err, store.ErrAlreadyClosed):
		writeError(w, r, http.StatusConflict, "ErrAlreadyClosed")
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, r, http.StatusConflict, "ErrDuplicate")
	case errors.Is(err, store.ErrExamClosed):
		writeError(w, r, http.StatusForbidden, "ErrExamClosed")
	case errors.Is(err, grading.ErrGradeOutOfRange):
		writeError(w, r, http.StatusBadRequest, "ErrGradeOutOfRange")
	case errors.Is(err, grading.ErrSecondBeforeFirst):
		writeError(w, r, http.StatusBadRequest, "ErrSecondBeforeFirst")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "ErrInternal")
	}
}

// decodeJSON reads the request body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
