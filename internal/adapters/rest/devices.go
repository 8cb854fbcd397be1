package rest

import (
	"net/http"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
)

const notAuthenticated = "Not authenticated with Spotify"

type devicesResponse struct {
	Devices []domain.Device `json:"devices"`
}

type setDeviceRequest struct {
	DeviceID string `json:"device_id" validate:"required,max=128"`
}

// Devices handles GET /devices
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)
	cred, ok := h.credential(r.Context(), sessionID)
	if !ok {
		writeError(w, http.StatusUnauthorized, notAuthenticated)
		return
	}

	devices, err := h.assistant.Devices(r.Context(), cred)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Error fetching devices: "+err.Error())
		return
	}
	if devices == nil {
		devices = []domain.Device{}
	}
	writeJSON(w, http.StatusOK, devicesResponse{Devices: devices})
}

// SetActiveDevice handles POST /set-active-device
func (h *Handler) SetActiveDevice(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)
	cred, ok := h.credential(r.Context(), sessionID)
	if !ok {
		writeError(w, http.StatusUnauthorized, notAuthenticated)
		return
	}

	var req setDeviceRequest
	if !h.decodeAndValidate(w, r, &req, nil) {
		return
	}

	sel, err := h.assistant.SetActiveDevice(r.Context(), sessionID, cred, req.DeviceID)
	if err != nil {
		h.log.WithError(err).WithField("session_id", sessionID).Error("set active device failed")
		writeError(w, http.StatusInternalServerError, "Could not save the selected device.")
		return
	}
	writeJSON(w, http.StatusOK, sel)
}
