package rest

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/ewilliams-labs/mirror/internal/auth"
	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/google/uuid"
)

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; text-align: center; padding: 40px; }
    .headline { color: {{if .OK}}green{{else}}red{{end}}; font-size: 24px; margin: 20px 0; }
    .info { font-size: 16px; margin: 20px 0; }
  </style>
</head>
<body>
  <div class="headline">{{.Title}}</div>
  <div class="info">{{.Message}}</div>
  {{if .OK}}<script>
    if (window.opener) {
      window.opener.postMessage({ type: 'SPOTIFY_AUTH_SUCCESS' }, '*');
      setTimeout(() => window.close(), 3000);
    } else {
      setTimeout(() => window.location.href = '/', 3000);
    }
  </script>{{else}}<button onclick="window.close()">Close</button>{{end}}
</body>
</html>
`))

type callbackView struct {
	OK      bool
	Title   string
	Message string
}

type tokenResponse struct {
	Token     string `json:"token"`
	Valid     bool   `json:"valid"`
	Refreshed bool   `json:"refreshed,omitempty"`
}

type ticketResponse struct {
	Ticket    string `json:"ticket"`
	ExpiresIn int    `json:"expires_in"`
}

type reauthResponse struct {
	Error       string `json:"error"`
	NeedsReauth bool   `json:"needs_reauth"`
}

// LoginTicket handles POST /login-ticket. The caller's session gets a short-lived ticket
// that a browser window can pass to /login to finish the Spotify login for it.
func (h *Handler) LoginTicket(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)
	writeJSON(w, http.StatusOK, ticketResponse{
		Ticket:    h.tickets.issue(sessionID),
		ExpiresIn: int(loginTicketTTL.Seconds()),
	})
}

// Login handles GET /login. Without a ticket the login is for the caller's own session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if raw := strings.TrimSpace(r.URL.Query().Get("ticket")); raw != "" {
		sessionID, ok := h.tickets.redeem(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "login ticket is invalid or expired")
			return
		}
		h.setSessionCookie(w, sessionID)
		w.Header().Set(sessionHeader, sessionID)
	} else {
		h.sessionID(w, r)
	}

	if h.auth == nil {
		writeError(w, http.StatusInternalServerError, "Spotify login is not configured")
		return
	}

	state := uuid.NewString()
	target, err := h.auth.AuthCodeURL(state)
	if err != nil {
		h.log.WithError(err).Error("cannot build spotify login url")
		writeError(w, http.StatusInternalServerError, "Spotify login is not configured")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback handles GET /callback
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)
	q := r.URL.Query()

	if reason := q.Get("error"); reason != "" {
		renderCallback(w, http.StatusBadRequest, callbackView{Title: "Spotify Authorization Failed", Message: "Spotify said: " + reason})
		return
	}
	code := q.Get("code")
	if code == "" {
		renderCallback(w, http.StatusBadRequest, callbackView{Title: "Spotify Authorization Failed", Message: "Authorization failed: No code provided"})
		return
	}
	if c, err := r.Cookie(stateCookie); err != nil || c.Value == "" || c.Value != q.Get("state") {
		renderCallback(w, http.StatusBadRequest, callbackView{Title: "Spotify Authorization Failed", Message: "Authorization failed: the login request expired. Please try again."})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if h.auth == nil {
		renderCallback(w, http.StatusInternalServerError, callbackView{Title: "Spotify Authorization Failed", Message: "Spotify login is not configured"})
		return
	}
	if err := h.auth.Exchange(r.Context(), sessionID, code); err != nil {
		h.log.WithError(err).WithField("session_id", sessionID).Error("token exchange failed")
		renderCallback(w, http.StatusInternalServerError, callbackView{Title: "Spotify Authorization Failed", Message: "Token exchange failed. Please try again."})
		return
	}

	renderCallback(w, http.StatusOK, callbackView{OK: true, Title: "Spotify Authorization Successful!", Message: "You can close this tab and return to the Magic Mirror."})
}

// SpotifyToken handles GET /get-spotify-token
func (h *Handler) SpotifyToken(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(w, r)
	if h.auth == nil {
		writeError(w, http.StatusUnauthorized, "Spotify client not initialized. Please login first.")
		return
	}

	st, err := h.auth.Validate(r.Context(), sessionID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, tokenResponse{Token: st.Token, Valid: st.Valid, Refreshed: st.Refreshed})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusUnauthorized, "Spotify client not initialized. Please login first.")
	case errors.Is(err, auth.ErrReauthRequired):
		writeJSON(w, http.StatusUnauthorized, reauthResponse{Error: "Token expired or invalid", NeedsReauth: true})
	default:
		h.log.WithError(err).WithField("session_id", sessionID).Error("token validation failed")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve token")
	}
}

func renderCallback(w http.ResponseWriter, status int, view callbackView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = callbackPage.Execute(w, view)
}
