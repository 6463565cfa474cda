package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	app "github.com/R3E-Network/marcasino/internal/app"
	"github.com/R3E-Network/marcasino/internal/app/domain/access"
	"github.com/R3E-Network/marcasino/internal/app/domain/random"
	"github.com/R3E-Network/marcasino/internal/app/metrics"
	apperrors "github.com/R3E-Network/marcasino/internal/errors"
	"github.com/R3E-Network/marcasino/internal/middleware"
	"github.com/R3E-Network/marcasino/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Options tunes the HTTP surface.
type Options struct {
	RateLimit   float64
	RateBurst   int
	CORSOrigins []string
	// AuditFile, when set, receives admin audit entries as JSON lines.
	AuditFile string
	Log       *logger.Logger
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app      *app.Application
	audit    *auditLog
	upgrader *websocket.Upgrader
	log      *logger.Logger
}

// NewHandler returns the engine REST API wrapped in its middleware chain.
// Background housekeeping stops when ctx is cancelled.
func NewHandler(ctx context.Context, application *app.Application, opts Options) (http.Handler, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}

	var sink auditSink
	if opts.AuditFile != "" {
		fileSink, err := newFileAuditSink(opts.AuditFile)
		if err != nil {
			return nil, fmt.Errorf("open audit file: %w", err)
		}
		sink = fileSink
	}
	h := &handler{
		app:      application,
		audit:    newAuditLog(500, sink),
		upgrader: newUpgrader(middleware.NewOriginPolicy(opts.CORSOrigins)),
		log:      log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/events/stream", h.streamEvents).Methods(http.MethodGet)

	h.treasuryRoutes(r.PathPrefix("/treasury").Subrouter())
	h.gameRoutes(r.PathPrefix("/games").Subrouter())
	h.lotteryRoutes(r.PathPrefix("/lottery").Subrouter())
	h.vrfRoutes(r.PathPrefix("/vrf").Subrouter())

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(h.audit.middleware)
	h.adminRoutes(admin)

	var out http.Handler = r
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RateLimit) + 1
		}
		limiter := middleware.NewRateLimiter(opts.RateLimit, burst, log)
		limiter.StartCleanup(ctx, time.Minute)
		out = limiter.Handler(out)
	}
	out = middleware.NewTracingMiddleware(log).Handler(out)
	out = middleware.Identity(out)
	if len(opts.CORSOrigins) > 0 {
		out = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(out)
	}
	return metrics.InstrumentHandler(out), nil
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	operational, err := h.app.Platform.IsOperational(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"operational": operational,
		"games":       h.app.GameNames(),
	})
}

// caller returns the authenticated subject or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.GetUserID(r.Context())
	if id == "" {
		writeStatus(w, http.StatusUnauthorized, apperrors.New(apperrors.KindNotAuthorized, "X-User-ID header required"))
		return "", false
	}
	return id, true
}

// requireAdmin checks the admin role for endpoints whose services carry no
// policy of their own.
func (h *handler) requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := caller(w, r)
	if !ok {
		return "", false
	}
	isAdmin, err := h.app.Access.Has(r.Context(), id, access.RoleAdmin)
	if err != nil {
		writeError(w, err)
		return "", false
	}
	if !isAdmin {
		writeError(w, apperrors.Newf(apperrors.KindNotAuthorized, "%s is not an admin", id))
		return "", false
	}
	return id, true
}

func requestID(w http.ResponseWriter, r *http.Request) (random.RequestID, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeStatus(w, http.StatusBadRequest, fmt.Errorf("invalid request id %q", raw))
		return 0, false
	}
	return random.RequestID(id), true
}

func queryInt(r *http.Request, name string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(name)); err == nil {
		return v
	}
	return def
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps service errors to their status and kind code.
func writeError(w http.ResponseWriter, err error) {
	writeStatus(w, apperrors.HTTPStatus(err), err)
}

func writeStatus(w http.ResponseWriter, status int, err error) {
	body := map[string]string{"error": err.Error()}
	if kind := apperrors.KindOf(err); kind != "" {
		body["code"] = string(kind)
	}
	writeJSON(w, status, body)
}
