package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi"
	"github.com/go-chi/jwtauth"
	log "github.com/sirupsen/logrus"

	"github.com/arenahub/battle-services/internal/battlesvc/models"
	"github.com/arenahub/battle-services/internal/battlesvc/service"
)

type Handler struct {
	tokenAuth   *jwtauth.JWTAuth
	matchmaking *service.Matchmaking
}

func NewHandler(matchmaking *service.Matchmaking) *Handler {
	return &Handler{matchmaking: matchmaking}
}

type Response struct {
	Message string      `json:"message"`
	Code    int         `json:"code"`
	Data    interface{} `json:"data"`
	Error   string      `json:"error"`
}

func (h *Handler) CreateResponse(w http.ResponseWriter, rsp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rsp.Code)

	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode response: %v", err)
	}
}

// actorID pulls the authenticated user id out of the verified JWT. The
// identity collaborator owns authentication; we only trust the claim.
func (h *Handler) actorID(r *http.Request) string {
	_, claims, err := jwtauth.FromContext(r.Context())
	if err != nil {
		return ""
	}
	userID, _ := claims["user_id"].(string)
	return userID
}

func (h *Handler) CreateBattleHandler(w http.ResponseWriter, r *http.Request) {
	actor := h.actorID(r)
	if actor == "" {
		h.CreateResponse(w, Response{Code: http.StatusUnauthorized, Error: "missing user_id claim"})
		return
	}

	var req struct {
		GameType string `json:"game_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid request body"})
		return
	}

	session, err := h.matchmaking.Create(r.Context(), actor, req.GameType)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.CreateResponse(w, Response{Code: http.StatusCreated, Data: session})
}

func (h *Handler) JoinBattleHandler(w http.ResponseWriter, r *http.Request) {
	actor := h.actorID(r)
	if actor == "" {
		h.CreateResponse(w, Response{Code: http.StatusUnauthorized, Error: "missing user_id claim"})
		return
	}

	var req struct {
		RoomCode string `json:"room_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid request body"})
		return
	}

	session, err := h.matchmaking.Join(r.Context(), actor, req.RoomCode)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.CreateResponse(w, Response{Code: http.StatusOK, Data: session})
}

func (h *Handler) ReportResultHandler(w http.ResponseWriter, r *http.Request) {
	actor := h.actorID(r)
	if actor == "" {
		h.CreateResponse(w, Response{Code: http.StatusUnauthorized, Error: "missing user_id claim"})
		return
	}

	var req struct {
		CreatorScore  int `json:"creator_score"`
		OpponentScore int `json:"opponent_score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.CreateResponse(w, Response{Code: http.StatusBadRequest, Error: "invalid request body"})
		return
	}

	sessionID := chi.URLParam(r, "id")
	session, err := h.matchmaking.ReportResult(r.Context(), actor, sessionID, req.CreatorScore, req.OpponentScore)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.CreateResponse(w, Response{Code: http.StatusOK, Data: session})
}

func (h *Handler) CancelBattleHandler(w http.ResponseWriter, r *http.Request) {
	actor := h.actorID(r)
	if actor == "" {
		h.CreateResponse(w, Response{Code: http.StatusUnauthorized, Error: "missing user_id claim"})
		return
	}

	sessionID := chi.URLParam(r, "id")
	session, err := h.matchmaking.Cancel(r.Context(), actor, sessionID)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.CreateResponse(w, Response{Code: http.StatusOK, Data: session})
}

func (h *Handler) ActiveBattlesHandler(w http.ResponseWriter, r *http.Request) {
	actor := h.actorID(r)
	if actor == "" {
		h.CreateResponse(w, Response{Code: http.StatusUnauthorized, Error: "missing user_id claim"})
		return
	}

	sessions, err := h.matchmaking.Resume(r.Context(), actor)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.CreateResponse(w, Response{Code: http.StatusOK, Data: sessions})
}

func (h *Handler) GetBattleHandler(w http.ResponseWriter, r *http.Request) {
	actor := h.actorID(r)
	if actor == "" {
		h.CreateResponse(w, Response{Code: http.StatusUnauthorized, Error: "missing user_id claim"})
		return
	}

	sessionID := chi.URLParam(r, "id")
	session, err := h.matchmaking.GetSession(r.Context(), actor, sessionID)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.CreateResponse(w, Response{Code: http.StatusOK, Data: session})
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	rsp := Response{
		Message: "battle service is running at port " + os.Getenv("BATTLE_SERVICE_PORT"),
		Code:    200,
		Data:    nil,
	}
	if err := json.NewEncoder(w).Encode(rsp); err != nil {
		log.Errorf("Failed to encode health response: %v", err)
	}
}

// errorResponse maps the battle error taxonomy onto HTTP statuses.
// AlreadyClaimed keeps its own message so the UI can say "someone beat
// you to it" rather than "invalid code".
func (h *Handler) errorResponse(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, models.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyClaimed), errors.Is(err, models.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, models.ErrSelfJoin):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, models.ErrCodeSpaceExhausted), errors.Is(err, models.ErrStorageUnavailable):
		code = http.StatusServiceUnavailable
	}

	h.CreateResponse(w, Response{
		Code:    code,
		Message: models.Kind(err),
		Error:   err.Error(),
	})
}
