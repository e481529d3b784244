// Package admin serves the HTTP API used by the admin panel and proxyctl.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/mixproxy/proxyadmin/internal/errors"
	"github.com/mixproxy/proxyadmin/internal/lists"
	"github.com/mixproxy/proxyadmin/internal/logging"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"github.com/mixproxy/proxyadmin/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RootScope is the URL stand-in for the root domain's empty scope.
const RootScope = "@"

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// ConfigSource reads the stored configuration together with its revision.
type ConfigSource interface {
	Snapshot(ctx context.Context) (proxyconfig.Config, uint64, error)
	Revision() uint64
}

// Options wires a Server.
type Options struct {
	Service  *service.Service
	Source   ConfigSource
	Lists    lists.Store // nil disables the list endpoints
	Reloader *Reloader

	CORSOrigins []string

	// Gatherer, when set, is exposed at MetricsPath.
	Gatherer    prometheus.Gatherer
	MetricsPath string
}

// Server is the admin API.
type Server struct {
	service     *service.Service
	source      ConfigSource
	lists       lists.Store
	reloader    *Reloader
	corsOrigins []string
	router      *httprouter.Router
	logger      *zap.Logger
	saveMu      sync.Mutex // serializes If-Match checks with saves
}

// New builds the server and its routes.
func New(opts Options) *Server {
	s := &Server{
		service:     opts.Service,
		source:      opts.Source,
		lists:       opts.Lists,
		reloader:    opts.Reloader,
		corsOrigins: opts.CORSOrigins,
		router:      httprouter.New(),
		logger:      logging.Named("admin"),
	}

	r := s.router
	r.HandleOPTIONS = true
	r.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errors.ErrNotFound)
	})
	r.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, errors.ErrMethodNotAllowed)
	})
	r.PanicHandler = func(w http.ResponseWriter, r *http.Request, v interface{}) {
		s.logger.Error("handler panic", zap.Any("panic", v), zap.String("path", r.URL.Path))
		s.writeError(w, r, errors.ErrInternalServer)
	}

	r.GET("/health", s.handleHealth)

	r.GET("/api/config", s.handleGetConfig)
	r.PUT("/api/config", s.handlePutConfig)
	r.POST("/api/config/validate", s.handleValidateConfig)

	r.POST("/api/reload", s.handleReload)
	r.GET("/api/reload/status", s.handleReloadStatus)

	if s.lists != nil {
		for _, kind := range []proxyconfig.ListKind{proxyconfig.Whitelist, proxyconfig.Blacklist} {
			s.listRoutes(kind)
		}
		r.GET("/api/blacklist/global/ips", s.handleGlobalIPs)
		r.POST("/api/blacklist/global/ip", s.handleAddGlobalIP)
		r.DELETE("/api/blacklist/global/ip/:ip", s.handleRemoveGlobalIP)
	}

	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handler(http.MethodGet, path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	return s
}

// Handler returns the root handler with request IDs and CORS applied.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.withCORS(s.router))
}

type ctxKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", id),
		)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			if allowed := s.allowOrigin(origin); allowed != "" {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", allowed)
				h.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS,DELETE")
				h.Set("Access-Control-Allow-Headers", "Content-Type, If-Match, X-Request-ID")
				h.Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
				if allowed != "*" {
					h.Add("Vary", "Origin")
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or ""
// when it is not allowed. No configured origins means any origin.
func (s *Server) allowOrigin(origin string) string {
	if len(s.corsOrigins) == 0 {
		return "*"
	}
	for _, o := range s.corsOrigins {
		if o == "*" {
			return "*"
		}
		if strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, e *errors.APIError) {
	e.WithRequestID(requestID(r)).WriteJSON(w)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return dec.Decode(v)
}

// scopeParam maps the URL scope to a list scope.
func scopeParam(ps httprouter.Params) string {
	scope := ps.ByName("scope")
	if scope == RootScope {
		return ""
	}
	return scope
}
