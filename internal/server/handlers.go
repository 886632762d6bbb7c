package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/kindled-app/kindled/internal/apperr"
	"github.com/kindled-app/kindled/internal/chat"
	"github.com/kindled-app/kindled/internal/match"
	"github.com/kindled-app/kindled/internal/ranking"
	"github.com/kindled-app/kindled/internal/ratelimit"
	"github.com/kindled-app/kindled/internal/repository"
	"github.com/kindled-app/kindled/internal/swipe"
)

const (
	defaultLikersLimit = 50
	defaultSwipesLimit = 100
)

// Handlers exposes the engine surface to the presentation layer. Identity
// resolution is the auth collaborator's job; user ids arrive explicit.
type Handlers struct {
	ranker    *ranking.Ranker
	processor *swipe.Processor
	detector  *match.Detector
	matches   *repository.MatchRepository
	decisions *repository.DecisionRepository
	guard     *ratelimit.Guard
	chat      *chat.Engine
}

func NewHandlers(
	ranker *ranking.Ranker,
	processor *swipe.Processor,
	detector *match.Detector,
	matches *repository.MatchRepository,
	decisions *repository.DecisionRepository,
	guard *ratelimit.Guard,
	chatEngine *chat.Engine,
) *Handlers {
	return &Handlers{
		ranker:    ranker,
		processor: processor,
		detector:  detector,
		matches:   matches,
		decisions: decisions,
		guard:     guard,
		chat:      chatEngine,
	}
}

// Register attaches all v1 routes.
func (h *Handlers) Register(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/feed/{userID}", h.feed).Methods(http.MethodGet)
	v1.HandleFunc("/swipes", h.recordSwipe).Methods(http.MethodPost)
	v1.HandleFunc("/users/{userID}/matches", h.listMatches).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userID}/likers", h.listLikers).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userID}/swipes", h.swipeHistory).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userID}/quota", h.quota).Methods(http.MethodGet)
	v1.HandleFunc("/users/{userID}/unread", h.unreadCount).Methods(http.MethodGet)
	v1.HandleFunc("/matches/{matchID}/messages", h.history).Methods(http.MethodGet)
	v1.HandleFunc("/matches/{matchID}/messages", h.postMessage).Methods(http.MethodPost)
	v1.HandleFunc("/matches/{matchID}/read", h.markRead).Methods(http.MethodPost)
	v1.HandleFunc("/matches/{matchID}", h.unmatch).Methods(http.MethodDelete)
	v1.HandleFunc("/outbox/{localID}/retry", h.retryFailed).Methods(http.MethodPost)
}

func pathUserID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(mux.Vars(r)["userID"], 10, 64)
	if err != nil {
		return 0, apperr.Validation("user_id", "must be a valid uint64")
	}
	return id, nil
}

func queryUserID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		return 0, apperr.Validation("user_id", "must be a valid uint64")
	}
	return id, nil
}

func (h *Handlers) feed(w http.ResponseWriter, r *http.Request) {
	viewerID, err := pathUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if r.URL.Query().Get("refresh") != "" {
		h.ranker.Invalidate(r.Context(), viewerID)
	}

	items, err := h.ranker.Feed(r.Context(), viewerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"candidates": items})
}

func (h *Handlers) recordSwipe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorUserID  uint64 `json:"actor_user_id"`
		TargetUserID uint64 `json:"target_user_id"`
		Action       string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("body", "invalid json"))
		return
	}

	outcome, err := h.processor.Record(r.Context(), req.ActorUserID, req.TargetUserID, req.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"action":  outcome.Action,
		"changed": outcome.Changed,
	})
}

func (h *Handlers) listMatches(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	matches, err := h.matches.ListForUser(r.Context(), userID)
	if err != nil {
		writeError(w, apperr.Transient("matches.list", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > fallback {
		return fallback
	}
	return n
}

func (h *Handlers) listLikers(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	likers, err := h.decisions.ListLikers(r.Context(), userID, queryLimit(r, defaultLikersLimit))
	if err != nil {
		writeError(w, apperr.Transient("likers.list", err))
		return
	}

	type liker struct {
		UserID  uint64    `json:"user_id"`
		Action  string    `json:"action"`
		LikedAt time.Time `json:"liked_at"`
	}
	out := make([]liker, 0, len(likers))
	for _, d := range likers {
		out = append(out, liker{UserID: d.ActorID, Action: d.Action, LikedAt: d.UpdatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"likers": out})
}

func (h *Handlers) swipeHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	decisions, err := h.decisions.History(r.Context(), userID, queryLimit(r, defaultSwipesLimit))
	if err != nil {
		writeError(w, apperr.Transient("swipes.history", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"swipes": decisions})
}

func (h *Handlers) quota(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	action := r.URL.Query().Get("action")
	if action == "" {
		action = ratelimit.ActionSwipe
	}

	remaining, err := h.guard.Remaining(r.Context(), userID, action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"action":    action,
		"remaining": remaining,
	})
}

func (h *Handlers) unreadCount(w http.ResponseWriter, r *http.Request) {
	userID, err := pathUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	count, err := h.chat.UnreadCount(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unread": count})
}

func (h *Handlers) history(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUserID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	matchID := mux.Vars(r)["matchID"]

	messages, next, err := h.chat.History(r.Context(), matchID, userID, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages":    messages,
		"next_cursor": next,
	})
}

func (h *Handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderUserID uint64 `json:"sender_user_id"`
		Body         string `json:"body"`
		LocalID      string `json:"local_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("body", "invalid json"))
		return
	}
	matchID := mux.Vars(r)["matchID"]

	res, err := h.chat.Post(r.Context(), matchID, req.SenderUserID, req.Body, req.LocalID)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if res.Queued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]interface{}{
		"message":  res.Message,
		"queued":   res.Queued,
		"local_id": res.LocalID,
	})
}

func (h *Handlers) markRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID uint64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("body", "invalid json"))
		return
	}
	matchID := mux.Vars(r)["matchID"]

	n, err := h.chat.MarkViewed(r.Context(), matchID, req.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"marked_read": n})
}

func (h *Handlers) unmatch(w http.ResponseWriter, r *http.Request) {
	matchID := mux.Vars(r)["matchID"]

	m, err := h.matches.Get(r.Context(), matchID)
	if err != nil {
		writeError(w, apperr.Transient("matches.get", err))
		return
	}
	if m == nil {
		writeError(w, apperr.Validation("match_id", "unknown match"))
		return
	}

	if err := h.detector.Unmatch(r.Context(), m.UserLoID, m.UserHiID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ended": true})
}

func (h *Handlers) retryFailed(w http.ResponseWriter, r *http.Request) {
	localID := mux.Vars(r)["localID"]
	if err := h.chat.RetryFailed(r.Context(), localID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requeued": true})
}
