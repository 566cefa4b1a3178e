package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"pixrouter/pixkey"
	"pixrouter/selector"
	"pixrouter/services/selectord/loader"
	"pixrouter/services/selectord/middleware"
	"pixrouter/storage"
)

// Scopes enforced on the HTTP surface. Payment services hold select;
// operators hold ops.
const (
	ScopeSelect = "select"
	ScopeOps    = "ops"
)

// Ruleset documents beyond this size are rejected before parsing.
const maxDocumentBytes = 4 << 20

// Reloader triggers a snapshot install outside the poll cycle.
type Reloader interface {
	Reload(ctx context.Context, trigger string) error
}

// Config captures the dependencies required to construct the server.
// Repo is nil when the daemon serves a ruleset file without a
// repository; the admin persistence routes answer 503 in that mode.
type Config struct {
	Selector *selector.Selector
	Repo     storage.Repository
	Reloader Reloader
	Hub      *StreamHub
	Auth     middleware.AuthConfig
	Limits   map[string]middleware.RateLimit
	Logger   *slog.Logger
	Now      func() time.Time
}

// Server is the selectord HTTP API: the selection data plane, the
// ruleset admin plane, and the decision stream.
type Server struct {
	selector *selector.Selector
	repo     storage.Repository
	reloader Reloader
	hub      *StreamHub
	logger   *slog.Logger
	now      func() time.Time

	auth   *middleware.Authenticator
	limits *middleware.RateLimiter
	router http.Handler
}

func New(cfg Config) (*Server, error) {
	if cfg.Selector == nil {
		return nil, fmt.Errorf("server: selector is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Hub == nil {
		cfg.Hub = NewStreamHub(cfg.Logger)
	}
	srv := &Server{
		selector: cfg.Selector,
		repo:     cfg.Repo,
		reloader: cfg.Reloader,
		hub:      cfg.Hub,
		logger:   cfg.Logger,
		now:      cfg.Now,
		auth:     middleware.NewAuthenticator(cfg.Auth, cfg.Logger),
		limits:   middleware.NewRateLimiter(cfg.Limits),
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", middleware.MetricsHandler())

	r.Route("/v1", func(api chi.Router) {
		api.Use(middleware.Instrument("select"))
		api.Use(s.limits.Middleware("select"))
		api.Use(s.auth.Middleware(ScopeSelect))
		api.Post("/select", s.Select)
		api.Get("/rulesets/active", s.ActiveRuleset)
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(middleware.Instrument("admin"))
		admin.Use(s.limits.Middleware("admin"))
		admin.Use(s.auth.Middleware(ScopeOps))
		admin.Get("/rulesets", s.ListRulesets)
		admin.Post("/rulesets", s.SaveRuleset)
		admin.Post("/rulesets/validate", s.ValidateRuleset)
		admin.Post("/rulesets/{id}/activate", s.ActivateRuleset)
		admin.Get("/activations", s.ListActivations)
		admin.Get("/gateways", s.ListGateways)
	})

	// Instrument's status recorder hides http.Hijacker, which the
	// websocket upgrade needs, so the stream route carries auth only.
	r.Route("/ops", func(ops chi.Router) {
		ops.With(s.auth.Middleware(ScopeOps)).Get("/decisions/ws", s.DecisionStream)
	})

	return r
}

// Healthz always answers 200 while the process lives; active reports
// whether a snapshot is installed and selections can succeed.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	id, version, ok := s.selector.Registry().ActiveID()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"active":     ok,
		"ruleset_id": id,
		"version":    version,
	})
}

type selectResponse struct {
	Decision  string `json:"decision"`
	Gateway   string `json:"gateway,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RuleID    int64  `json:"rule_id,omitempty"`
	RulesetID int64  `json:"ruleset_id"`
	Version   int64  `json:"version"`
}

// Select evaluates the active snapshot against the request context.
// pix_key_type is derived from pix_key when the caller leaves it out.
func (s *Server) Select(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Context map[string]any `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if len(req.Context) == 0 {
		http.Error(w, "context required", http.StatusBadRequest)
		return
	}
	if _, ok := req.Context["pix_key_type"]; !ok {
		if key, ok := req.Context["pix_key"].(string); ok {
			req.Context["pix_key_type"] = string(pixkey.DetectType(key))
		}
	}

	var opts []selector.SelectOption
	if _, ok := req.Context["now"]; !ok {
		opts = append(opts, selector.WithNow(s.now().UTC()))
	}
	decision, err := s.selector.Select(selector.MapContext(req.Context), opts...)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "no active ruleset")
		return
	}

	id, version, _ := s.selector.Registry().ActiveID()
	s.writeJSON(w, http.StatusOK, selectResponse{
		Decision:  decision.Kind.String(),
		Gateway:   decision.Gateway,
		Reason:    decision.Reason,
		RuleID:    decision.RuleID,
		RulesetID: id,
		Version:   version,
	})
}

// ActiveRuleset reports the serving snapshot and its canonical document.
func (s *Server) ActiveRuleset(w http.ResponseWriter, r *http.Request) {
	snap, err := s.selector.Registry().Current()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "no active ruleset")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"ruleset_id":      snap.ID,
		"version":         snap.Version,
		"name":            snap.Name,
		"default_gateway": snap.DefaultGateway,
		"gateways":        snap.KnownGateways(),
		"rules":           snap.RuleCount(),
		"compiled_at":     snap.CompiledAt,
		"document":        snap.Export(),
	})
}

// ListRulesets lists the stored versions for one ruleset id.
func (s *Server) ListRulesets(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	rulesetID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || rulesetID <= 0 {
		http.Error(w, "ruleset id required", http.StatusBadRequest)
		return
	}
	rows, err := s.repo.ListRulesets(r.Context(), rulesetID)
	if err != nil {
		s.logger.Error("list rulesets failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "list rulesets failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rulesets": rows})
}

// SaveRuleset stores a new immutable ruleset version. Documents that do
// not compile are rejected whole with the full error list.
func (s *Server) SaveRuleset(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	doc, err := selector.ParseDocument(body)
	if err != nil {
		s.writeValidation(w, http.StatusUnprocessableEntity, err)
		return
	}
	row, err := s.repo.SaveRuleset(r.Context(), doc, middleware.Subject(r.Context()))
	if err != nil {
		var cerrs *selector.CompileErrors
		switch {
		case errors.As(err, &cerrs):
			s.writeValidation(w, http.StatusUnprocessableEntity, err)
		case errors.Is(err, storage.ErrVersionExists):
			s.writeError(w, http.StatusConflict, "ruleset version already exists")
		default:
			s.logger.Error("save ruleset failed", "err", err)
			s.writeError(w, http.StatusInternalServerError, "save ruleset failed")
		}
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"ruleset_id": row.RulesetID,
		"version":    row.Version,
		"checksum":   row.Checksum,
		"created_by": row.CreatedBy,
		"created_at": row.CreatedAt,
	})
}

// ValidateRuleset dry-run compiles a document. The response carries the
// valid flag either way; nothing is stored.
func (s *Server) ValidateRuleset(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentBytes))
	if err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	snap, err := loader.CompileJSON(body)
	if err != nil {
		s.writeValidation(w, http.StatusOK, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"valid":      true,
		"ruleset_id": snap.ID,
		"version":    snap.Version,
		"rules":      snap.RuleCount(),
		"gateways":   snap.KnownGateways(),
	})
}

// ActivateRuleset records an activation for a stored version and asks
// the loader to install it. Zero or absent version activates the
// latest stored one.
func (s *Server) ActivateRuleset(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	rulesetID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || rulesetID <= 0 {
		http.Error(w, "ruleset id required", http.StatusBadRequest)
		return
	}
	var req struct {
		Version int64  `json:"version"`
		Note    string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	version := req.Version
	if version == 0 {
		version, err = s.repo.LatestVersion(r.Context(), rulesetID)
		if err != nil {
			if errors.Is(err, storage.ErrRulesetNotFound) {
				s.writeError(w, http.StatusNotFound, "ruleset not found")
				return
			}
			s.logger.Error("resolve latest version failed", "err", err)
			s.writeError(w, http.StatusInternalServerError, "activate failed")
			return
		}
	}
	act, err := s.repo.Activate(r.Context(), rulesetID, version, middleware.Subject(r.Context()), req.Note)
	if err != nil {
		if errors.Is(err, storage.ErrRulesetNotFound) {
			s.writeError(w, http.StatusNotFound, "ruleset version not found")
			return
		}
		s.logger.Error("activate failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "activate failed")
		return
	}
	if s.reloader != nil {
		if err := s.reloader.Reload(r.Context(), "activate"); err != nil {
			s.logger.Error("activation stored but reload failed", "err", err)
			s.writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":         "activation stored but reload failed",
				"activation_id": act.ID,
			})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"activation_id": act.ID,
		"ruleset_id":    act.RulesetID,
		"version":       act.Version,
		"actor":         act.Actor,
		"activated_at":  act.CreatedAt,
	})
}

// ListActivations returns the activation audit trail, newest first.
func (s *Server) ListActivations(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	rows, err := s.repo.Activations(r.Context(), limit)
	if err != nil {
		s.logger.Error("list activations failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "list activations failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"activations": rows})
}

// ListGateways returns the gateway catalog.
func (s *Server) ListGateways(w http.ResponseWriter, r *http.Request) {
	if !s.requireRepo(w) {
		return
	}
	rows, err := s.repo.Gateways(r.Context())
	if err != nil {
		s.logger.Error("list gateways failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "list gateways failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"gateways": rows})
}

func (s *Server) requireRepo(w http.ResponseWriter) bool {
	if s.repo == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ruleset repository not configured")
		return false
	}
	return true
}

type compileErrorBody struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeValidation renders a failed compile as the full error list. Non
// compile errors degrade to a plain 400.
func (s *Server) writeValidation(w http.ResponseWriter, status int, err error) {
	var cerrs *selector.CompileErrors
	if !errors.As(err, &cerrs) {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	out := make([]compileErrorBody, 0, len(cerrs.Errors))
	for _, ce := range cerrs.Errors {
		out = append(out, compileErrorBody{Path: ce.Path, Code: ce.Code, Message: ce.Message})
	}
	s.writeJSON(w, status, map[string]any{"valid": false, "errors": out})
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
