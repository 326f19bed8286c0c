// Package api exposes the JSON surface consumed by the presentation layer.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/devjwplat/platbot/internal/milestone"
	"github.com/devjwplat/platbot/internal/player"
	"github.com/devjwplat/platbot/internal/store"
	"github.com/devjwplat/platbot/internal/vote"
)

// Handler serves the platbot HTTP API.
type Handler struct {
	players *player.Manager
	engine  *vote.Engine
	watcher *milestone.Watcher
	logger  *slog.Logger
}

// NewHandler returns a new API handler.
func NewHandler(players *player.Manager, engine *vote.Engine, watcher *milestone.Watcher, logger *slog.Logger) *Handler {
	return &Handler{
		players: players,
		engine:  engine,
		watcher: watcher,
		logger:  logger,
	}
}

// Routes mounts all API endpoints on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/players", h.listPlayers)
	r.Post("/players", h.registerPlayer)
	r.Post("/players/{id}/award", h.awardPoints)

	r.Post("/votes", h.createNomination)
	r.Post("/votes/{id}/responses", h.recordResponse)
	r.Post("/votes/{id}/accept", h.acceptNomination)
	r.Post("/votes/{id}/decline", h.declineNomination)

	r.Get("/milestones/next", h.nextMilestone)
	r.Get("/milestones/history", h.milestoneHistory)
	r.Get("/notifications/next", h.nextNotification)

	return r
}

func (h *Handler) listPlayers(w http.ResponseWriter, r *http.Request) {
	ranked, err := h.players.Leaderboard(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

type registerRequest struct {
	Name string `json:"name"`
}

func (h *Handler) registerPlayer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}

	p, err := h.players.Register(r.Context(), req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type awardRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

func (h *Handler) awardPoints(w http.ResponseWriter, r *http.Request) {
	var req awardRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Delta == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("delta must be non-zero"))
		return
	}

	if err := h.players.Award(r.Context(), chi.URLParam(r, "id"), req.Delta, req.Reason); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type nominationRequest struct {
	TargetID    string `json:"targetId"`
	CreatedByID string `json:"createdById"`
	Reason      string `json:"reason"`
}

func (h *Handler) createNomination(w http.ResponseWriter, r *http.Request) {
	var req nominationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TargetID == "" || req.CreatedByID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("targetId and createdById are required"))
		return
	}

	v, err := h.engine.CreateNomination(r.Context(), req.TargetID, req.CreatedByID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type responseRequest struct {
	UserID   string `json:"userId"`
	Response string `json:"response"`
}

func (h *Handler) recordResponse(w http.ResponseWriter, r *http.Request) {
	var req responseRequest
	if !decode(w, r, &req) {
		return
	}

	resp := store.Response(req.Response)
	if resp != store.ResponseAgree && resp != store.ResponseDisagree {
		writeJSON(w, http.StatusBadRequest, errorBody("response must be \"agree\" or \"disagree\""))
		return
	}

	err := h.engine.RecordResponse(r.Context(), chi.URLParam(r, "id"), req.UserID, resp)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resolveRequest struct {
	ResolverID string `json:"resolverId"`
}

func (h *Handler) acceptNomination(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.AcceptNomination(r.Context(), chi.URLParam(r, "id"), req.ResolverID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) declineNomination(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.engine.DeclineNomination(r.Context(), chi.URLParam(r, "id"), req.ResolverID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) nextMilestone(w http.ResponseWriter, r *http.Request) {
	ev, ok := h.watcher.Next()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) milestoneHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.watcher.History())
}

func (h *Handler) nextNotification(w http.ResponseWriter, r *http.Request) {
	n, ok := h.engine.NextNotification()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// writeError maps domain errors to HTTP statuses.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, store.ErrDuplicateResponse):
		writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, vote.ErrSelfNomination):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return false
	}
	return true
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
