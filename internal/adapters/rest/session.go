package rest

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	sessionCookie = "mirror_session"
	sessionHeader = "X-Session-Id"
	stateCookie   = "mirror_oauth_state"
)

// sessionID resolves the caller's session from the header or cookie, starting a new one
// when neither is present. The ID is echoed back so header-based clients can keep it.
func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(sessionHeader))
	if id == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			id = strings.TrimSpace(c.Value)
		}
	}
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	h.setSessionCookie(w, id)
	w.Header().Set(sessionHeader, id)
	return id
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(h.opts.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.opts.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

const loginTicketTTL = 5 * time.Minute

// loginTickets hands out single-use tickets that let a browser window finish the Spotify
// login of a session it does not own, without putting the session ID in a URL.
type loginTickets struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]ticket
	now     func() time.Time
}

type ticket struct {
	sessionID string
	expires   time.Time
}

func newLoginTickets(ttl time.Duration) *loginTickets {
	return &loginTickets{ttl: ttl, pending: make(map[string]ticket), now: time.Now}
}

func (t *loginTickets) issue(sessionID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for id, tk := range t.pending {
		if !now.Before(tk.expires) {
			delete(t.pending, id)
		}
	}
	id := uuid.NewString()
	t.pending[id] = ticket{sessionID: sessionID, expires: now.Add(t.ttl)}
	return id
}

// redeem returns the session a ticket was issued for. A ticket works once.
func (t *loginTickets) redeem(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tk, ok := t.pending[id]
	if !ok {
		return "", false
	}
	delete(t.pending, id)
	if !t.now().Before(tk.expires) {
		return "", false
	}
	return tk.sessionID, true
}
