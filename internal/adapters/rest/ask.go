package rest

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/services"
)

const errCodeRateLimited = "RATE_LIMITED"

type askRequest struct {
	Query string `json:"query" validate:"required,max=2000"`
}

type askResponse struct {
	Response  string            `json:"response"`
	History   []domain.Exchange `json:"history"`
	SessionID string            `json:"session_id"`
}

// Ask handles POST /ask
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)

	if !h.limiter.allow(sessionID) {
		writeErrorWithCode(w, http.StatusTooManyRequests, "Too many requests, slow down a little.", errCodeRateLimited)
		return
	}

	var req askRequest
	if !h.decodeAndValidate(w, r, &req, func() { req.Query = strings.TrimSpace(req.Query) }) {
		return
	}

	cred, _ := h.credential(r.Context(), sessionID)
	res, err := h.assistant.Ask(r.Context(), services.AskRequest{
		SessionID:  sessionID,
		Credential: cred,
		Query:      req.Query,
	})
	if err != nil {
		if errors.Is(err, services.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "query is required")
			return
		}
		h.log.WithError(err).WithField("session_id", sessionID).Error("ask failed")
		writeError(w, http.StatusInternalServerError, "Something went wrong. Please try again.")
		return
	}

	history := res.History
	if history == nil {
		history = []domain.Exchange{}
	}
	writeJSON(w, http.StatusOK, askResponse{Response: res.Response, History: history, SessionID: sessionID})
}
