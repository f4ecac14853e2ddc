// Package server exposes a thin HTTP admin surface over the runtime: tool
// listing, gated execution, trust operations, the audit trail and metrics.
// It is an adapter only; all semantics live in the core packages.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"toolgate/internal/audit"
	"toolgate/internal/domain"
	"toolgate/internal/metrics"
	"toolgate/internal/tool"
	"toolgate/internal/trust"
)

const maxBodySize = 4 << 20 // 4MB

// Config holds the listen address and optional bearer key.
type Config struct {
	Host   string
	Port   int
	APIKey string
}

// Server is the admin HTTP server.
type Server struct {
	cfg      Config
	registry *tool.Registry
	gateway  *trust.Gateway
	recorder *metrics.Recorder
	trail    *audit.Store
	logger   *slog.Logger
	server   *http.Server
}

func New(cfg Config, registry *tool.Registry, gateway *trust.Gateway, recorder *metrics.Recorder, trail *audit.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		registry: registry,
		gateway:  gateway,
		recorder: recorder,
		trail:    trail,
		logger:   logger,
	}
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/tools", s.auth(s.handleTools))
	mux.HandleFunc("POST /v1/tools/{name}/execute", s.auth(s.handleExecute))
	mux.HandleFunc("GET /v1/trust/report", s.auth(s.handleTrustReport))
	mux.HandleFunc("POST /v1/trust/verify", s.auth(s.handleTrustVerify))
	mux.HandleFunc("POST /v1/trust/all", s.auth(s.handleTrustAll))
	mux.HandleFunc("POST /v1/trust/tools/{name}", s.auth(s.handleTrustTool))
	mux.HandleFunc("POST /v1/trust/reset", s.auth(s.handleTrustReset))
	mux.HandleFunc("GET /v1/audit", s.auth(s.handleAudit))
	if s.recorder != nil {
		mux.Handle("GET /metrics", s.recorder.Handler())
	}
	return mux
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("admin server started", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop force-closes the server.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// auth enforces the bearer key when one is configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") || strings.TrimPrefix(h, "Bearer ") != s.cfg.APIKey {
				writeError(w, http.StatusUnauthorized, domain.NewError(domain.CodePermission, "invalid API key"))
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.registry.Definitions()})
}

type executeRequest struct {
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.NewError(domain.CodeValidation, "read body: %v", err))
		return
	}
	var req executeRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, domain.NewError(domain.CodeValidation, "parse body: %v", err))
			return
		}
	}

	res, err := s.gateway.Call(r.Context(), name, req.Arguments)
	if err != nil {
		env := domain.Wrap(err)
		status := http.StatusForbidden
		if env.Code == domain.CodeNotFound {
			status = http.StatusNotFound
		}
		writeError(w, status, env)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTrustReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.gateway.Report())
}

func (s *Server) handleTrustVerify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"promoted": s.gateway.VerifyCapabilities()})
}

func (s *Server) handleTrustAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"promoted": s.gateway.TrustAll()})
}

func (s *Server) handleTrustTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.gateway.TrustTool(name); err != nil {
		writeError(w, http.StatusNotFound, domain.Wrap(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trusted": name})
}

func (s *Server) handleTrustReset(w http.ResponseWriter, r *http.Request) {
	s.gateway.ResetTrust()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.trail == nil {
		writeError(w, http.StatusNotFound, domain.NewError(domain.CodeNotFound, "audit trail disabled"))
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	records, err := s.trail.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, domain.Wrap(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": records})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, env *domain.Error) {
	writeJSON(w, status, map[string]any{"error": env})
}
