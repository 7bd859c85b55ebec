package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"autocare/internal/config"
	"autocare/internal/domain"
	"autocare/internal/metrics"
	"autocare/internal/models"
	"autocare/internal/service"

	"github.com/rs/zerolog"
)

// RequestLedger is the part of the ledger the transport needs.
type RequestLedger interface {
	Create(ctx context.Context, draft models.RequestDraft) (*models.ServiceRequest, error)
	Dispatch(ctx context.Context, action service.Action) (*models.ServiceRequest, error)
	Get(id string) (*models.ServiceRequest, error)
	List(filter models.RequestFilter) []*models.ServiceRequest
}

type Catalog interface {
	domain.CatalogLookup
	List(includeInactive bool) []models.CatalogService
	Upsert(entry models.CatalogService) (models.CatalogService, error)
	Deactivate(id string) error
}

// Deps are the services exposed over HTTP and gRPC.
// ChatLog is the per-request conversation.
type ChatLog interface {
	Send(requestID string, msg models.ChatMessage) (models.ChatMessage, error)
	Messages(requestID string) ([]models.ChatMessage, error)
}

type Deps struct {
	Ledger        RequestLedger
	Catalog       Catalog
	Notifications domain.NotificationSink
	Chat          ChatLog
}

// HTTPServer exposes the JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{cfg: cfg, deps: deps, logger: zerolog.Nop()}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("GET /healthz", srv.handleHealth)

	mux.HandleFunc("GET /api/v1/requests", srv.handleListRequests)
	mux.HandleFunc("POST /api/v1/requests", srv.handleCreateRequest)
	mux.HandleFunc("GET /api/v1/requests/export", srv.handleExportRequests)
	mux.HandleFunc("GET /api/v1/requests/{id}", srv.handleGetRequest)
	mux.HandleFunc("POST /api/v1/requests/{id}/{action}", srv.handleRequestAction)
	if deps.Chat != nil {
		mux.HandleFunc("GET /api/v1/requests/{id}/messages", srv.handleListMessages)
		mux.HandleFunc("POST /api/v1/requests/{id}/messages", srv.handleSendMessage)
	}

	mux.HandleFunc("GET /api/v1/catalog", srv.handleListCatalog)
	mux.HandleFunc("PUT /api/v1/catalog/{id}", srv.handleUpsertCatalog)
	mux.HandleFunc("DELETE /api/v1/catalog/{id}", srv.handleDeactivateCatalog)

	mux.HandleFunc("GET /api/v1/pricing/quote", srv.handleQuote)

	mux.HandleFunc("GET /api/v1/notifications", srv.handleListNotifications)
	mux.HandleFunc("POST /api/v1/notifications/{id}/read", srv.handleMarkNotificationRead)
	mux.HandleFunc("DELETE /api/v1/notifications/{id}", srv.handleRemoveNotification)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

var (
	errMissingCredentials = errors.New("missing api key headers")
	errInvalidAPIKey      = errors.New("invalid api key")
	errInvalidExtra       = errors.New("invalid extra header")
	errPermissionDenied   = errors.New("permission denied")
)

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	auth    clientAuth
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{
		cfg:     cfg,
		auth:    newClientAuth(&cfg),
		limiter: newRateLimiter(cfg.RateLimit),
	}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled || r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.auth.apiKeyHeader()))
	extra := strings.TrimSpace(r.Header.Get(a.auth.extraHeader()))

	client, err := a.auth.authenticate(apiKey, extra)
	if err != nil {
		return err
	}
	if !permitted(client, requiredPermissionHTTP(r)) {
		return errPermissionDenied
	}
	return nil
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case path == "/api/v1/requests/export":
		return permExportRequests
	case strings.HasPrefix(path, "/api/v1/requests"):
		if r.Method == http.MethodGet {
			return permReadRequests
		}
		return permWriteRequests
	case strings.HasPrefix(path, "/api/v1/catalog"), strings.HasPrefix(path, "/api/v1/pricing"):
		if r.Method == http.MethodGet {
			return permReadCatalog
		}
		return permWriteCatalog
	case strings.HasPrefix(path, "/api/v1/notifications"):
		if r.Method == http.MethodGet {
			return permReadNotifications
		}
		return permWriteNotifications
	}
	return ""
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.auth.apiKeyHeader())); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeDomainError maps ledger, catalog and sink errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
