package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RouterOptions struct {
	Auth           *Auth
	SendLimiter    *rate.Limiter
	AllowedOrigins []string
}

// NewRouter mounts the REST surface under /api plus an unauthenticated
// /healthz probe.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := mux.NewRouter()
	r.Use(logRequests(h.Log))

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/login", opts.Auth.Login).Methods(http.MethodPost)

	protected := api.NewRoute().Subrouter()
	protected.Use(opts.Auth.Middleware())

	protected.HandleFunc("/contacts", h.ListContacts).Methods(http.MethodGet)
	protected.HandleFunc("/contacts", h.CreateContact).Methods(http.MethodPost)
	protected.HandleFunc("/contacts/stats", h.Stats).Methods(http.MethodGet)
	protected.HandleFunc("/contacts/upload", h.UploadContacts).Methods(http.MethodPost)
	protected.Handle("/contacts/quick-send", throttle(opts.SendLimiter, http.HandlerFunc(h.QuickSend))).Methods(http.MethodPost)
	protected.HandleFunc("/contacts/{id:[0-9]+}/status", h.UpdateContactStatus).Methods(http.MethodPatch)

	protected.HandleFunc("/settings", h.GetSettings).Methods(http.MethodGet)
	protected.HandleFunc("/settings", h.UpdateSettings).Methods(http.MethodPatch)
	protected.HandleFunc("/settings/toggle", h.ToggleEngine).Methods(http.MethodPost)
	protected.Handle("/settings/test-email", throttle(opts.SendLimiter, http.HandlerFunc(h.SendTestEmail))).Methods(http.MethodPost)
	protected.HandleFunc("/settings/resume", h.UploadResume).Methods(http.MethodPost)

	protected.HandleFunc("/engine/status", h.EngineStatus).Methods(http.MethodGet)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "PATCH", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(h.Log)),
		handlers.PrintRecoveryStack(true),
	)(cors(r))
}
