package handler

import (
	"log/slog"
	"net/http"

	"github.com/pavelanni/tipper/internal/handler/views"
	"github.com/pavelanni/tipper/internal/model"
)

// handleLeaderboard returns the standings and the closed exams behind
// them, optionally restricted to one subject.
func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.ExportLeaderboard(h.config.Now(), r.URL.Query().Get("subject"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if export.Entries == nil {
		export.Entries = []model.StandingEntry{}
	}
	if export.Exams == nil {
		export.Exams = []model.ExamResult{}
	}
	writeJSON(w, http.StatusOK, export)
}

func (h *Handler) handleLeaderboardPage(w http.ResponseWriter, r *http.Request) {
	now := h.config.Now()
	subject := r.URL.Query().Get("subject")
	export, err := h.store.ExportLeaderboard(now, subject)
	if err != nil {
		slog.Error("failed to build leaderboard", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	subjects, err := h.store.ListSubjects()
	if err != nil {
		slog.Error("failed to list subjects", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	data := views.LeaderboardData{
		Subject:     subject,
		Subjects:    subjects,
		GeneratedAt: now.Format("2006-01-02 15:04"),
	}
	if u := model.UserFromContext(r.Context()); u != nil && u.Role == model.UserRoleStudent {
		data.Self = u.DisplayName
	}
	for _, e := range export.Entries {
		data.Rows = append(data.Rows, views.LeaderboardRow{Rank: e.Rank, Name: e.DisplayName, Points: e.TotalPoints})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.LeaderboardPage(data).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}
