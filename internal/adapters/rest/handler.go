package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/ewilliams-labs/mirror/internal/auth"
	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/services"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
)

// Assistant is the conversational core behind the HTTP interface.
type Assistant interface {
	Ask(ctx context.Context, req services.AskRequest) (services.AskResult, error)
	Devices(ctx context.Context, cred domain.Credential) ([]domain.Device, error)
	SetActiveDevice(ctx context.Context, sessionID string, cred domain.Credential, deviceID string) (services.DeviceSelection, error)
}

// Authenticator owns the Spotify login of each session.
type Authenticator interface {
	AuthCodeURL(state string) (string, error)
	Exchange(ctx context.Context, sessionID, code string) error
	Credential(ctx context.Context, sessionID string) (domain.Credential, error)
	Validate(ctx context.Context, sessionID string) (auth.Status, error)
}

// Options tunes the HTTP surface.
type Options struct {
	AllowedOrigin string
	AskPerMinute  int
	AskBurst      int
	SecureCookies bool
	SessionMaxAge time.Duration
}

// Handler manages the HTTP interface for the assistant.
type Handler struct {
	assistant Assistant
	auth      Authenticator
	log       logrus.FieldLogger
	opts      Options

	router   *http.ServeMux
	chain    http.Handler
	validate *validator.Validate
	limiter  *sessionLimiter
	tickets  *loginTickets
	now      func() time.Time
}

// NewHandler initializes the HTTP adapter and sets up routes.
func NewHandler(assistant Assistant, authn Authenticator, log logrus.FieldLogger, opts Options) *Handler {
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "*"
	}
	if opts.SessionMaxAge <= 0 {
		opts.SessionMaxAge = 30 * 24 * time.Hour
	}

	h := &Handler{
		assistant: assistant,
		auth:      authn,
		log:       log.WithField("component", "http"),
		opts:      opts,
		router:    http.NewServeMux(),
		validate:  newValidator(),
		limiter:   newSessionLimiter(opts.AskPerMinute, opts.AskBurst),
		tickets:   newLoginTickets(loginTicketTTL),
		now:       time.Now,
	}

	h.routes()

	corsMiddleware := cors.Handler(cors.Options{
		AllowedOrigins:   []string{opts.AllowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", sessionHeader, requestIDHeader},
		ExposedHeaders:   []string{sessionHeader, requestIDHeader},
		AllowCredentials: opts.AllowedOrigin != "*",
		MaxAge:           300,
	})
	h.chain = corsMiddleware(h.requestLogger(h.recoverer(h.router)))

	return h
}

// ServeHTTP satisfies the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.chain.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	h.router.HandleFunc("GET /health", h.HealthCheck)
	h.router.HandleFunc("GET /api/data", h.MirrorData)

	h.router.HandleFunc("POST /ask", h.Ask)

	h.router.HandleFunc("POST /login-ticket", h.LoginTicket)
	h.router.HandleFunc("GET /login", h.Login)
	h.router.HandleFunc("GET /callback", h.Callback)
	h.router.HandleFunc("GET /get-spotify-token", h.SpotifyToken)

	h.router.HandleFunc("GET /devices", h.Devices)
	h.router.HandleFunc("POST /set-active-device", h.SetActiveDevice)
}

// HealthCheck is a simple endpoint to verify the API is running.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// decodeAndValidate reads a JSON body into dst and runs its validation tags. It writes
// the 400 itself and reports whether the handler should continue.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, normalize func()) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if normalize != nil {
		normalize()
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return "Invalid request body"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid"
	}
}

// credential returns the session's Spotify credential, or false when the session is not
// logged in or its login can no longer be refreshed.
func (h *Handler) credential(ctx context.Context, sessionID string) (domain.Credential, bool) {
	if h.auth == nil {
		return domain.Credential{}, false
	}
	cred, err := h.auth.Credential(ctx, sessionID)
	if err != nil {
		h.log.WithError(err).WithField("session_id", sessionID).Debug("no usable spotify credential")
		return domain.Credential{}, false
	}
	return cred, cred.Valid()
}
