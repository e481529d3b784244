package admin

import (
	stderrors "errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/mixproxy/proxyadmin/internal/errors"
	"github.com/mixproxy/proxyadmin/internal/lists"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"go.uber.org/zap"
)

// EnabledRequest is the body of PUT /api/<kind>/enabled/:scope.
type EnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// IPRequest is the body of POST /api/<kind>/ip and /api/blacklist/global/ip.
// Duration uses time.ParseDuration syntax; empty means no expiry.
type IPRequest struct {
	Subdomain string       `json:"subdomain"`
	IP        string       `json:"ip"`
	Reason    lists.Reason `json:"reason"`
	Duration  string       `json:"duration"`
}

// RenameRequest is the body of POST /api/<kind>/scope/rename.
type RenameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

var statusOK = map[string]string{"status": "ok"}

func (s *Server) listRoutes(kind proxyconfig.ListKind) {
	base := "/api/" + kind.String()
	r := s.router

	r.GET(base+"/enabled", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		scopes, err := s.lists.EnabledScopes(r.Context(), kind)
		if err != nil {
			s.listFailure(w, r, "list enabled scopes", kind, err)
			return
		}
		writeJSON(w, http.StatusOK, scopes)
	})

	r.GET(base+"/enabled/:scope", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		on, err := s.lists.ListEnabled(r.Context(), kind, scopeParam(ps))
		if err != nil {
			s.listFailure(w, r, "read list flag", kind, err)
			return
		}
		writeJSON(w, http.StatusOK, EnabledRequest{Enabled: on})
	})

	r.PUT(base+"/enabled/:scope", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		var body EnabledRequest
		if err := decodeBody(w, r, &body); err != nil {
			s.writeError(w, r, errors.ErrBadRequest.WithDetails("Invalid JSON"))
			return
		}
		if err := s.lists.SetListEnabled(r.Context(), kind, scopeParam(ps), body.Enabled); err != nil {
			s.listFailure(w, r, "set list flag", kind, err)
			return
		}
		writeJSON(w, http.StatusOK, statusOK)
	})

	r.GET(base+"/ips/:scope", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ips, err := s.lists.IPs(r.Context(), kind, scopeParam(ps))
		if err != nil {
			s.listFailure(w, r, "list entries", kind, err)
			return
		}
		writeJSON(w, http.StatusOK, ips)
	})

	r.POST(base+"/ip", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		body, ttl, ok := s.readIPRequest(w, r)
		if !ok {
			return
		}
		scope := body.Subdomain
		if scope == RootScope {
			scope = ""
		}
		if err := s.lists.AddIP(r.Context(), kind, scope, body.IP, body.Reason, ttl); err != nil {
			s.listFailure(w, r, "add entry", kind, err)
			return
		}
		writeJSON(w, http.StatusOK, statusOK)
	})

	r.DELETE(base+"/ip/:scope/:ip", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if err := s.lists.RemoveIP(r.Context(), kind, scopeParam(ps), ps.ByName("ip")); err != nil {
			s.listFailure(w, r, "remove entry", kind, err)
			return
		}
		writeJSON(w, http.StatusOK, statusOK)
	})

	r.POST(base+"/scope/rename", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body RenameRequest
		if err := decodeBody(w, r, &body); err != nil {
			s.writeError(w, r, errors.ErrBadRequest.WithDetails("Invalid JSON"))
			return
		}
		from, to := unRoot(body.From), unRoot(body.To)
		if err := s.lists.RenameScope(r.Context(), kind, from, to); err != nil {
			s.listFailure(w, r, "rename scope", kind, err)
			return
		}
		writeJSON(w, http.StatusOK, statusOK)
	})

	r.DELETE(base+"/scope/:scope", func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if err := s.lists.ClearScope(r.Context(), kind, scopeParam(ps)); err != nil {
			s.listFailure(w, r, "clear scope", kind, err)
			return
		}
		writeJSON(w, http.StatusOK, statusOK)
	})
}

func (s *Server) handleGlobalIPs(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ips, err := s.lists.GlobalIPs(r.Context())
	if err != nil {
		s.listFailure(w, r, "list global entries", proxyconfig.Blacklist, err)
		return
	}
	writeJSON(w, http.StatusOK, ips)
}

func (s *Server) handleAddGlobalIP(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, ttl, ok := s.readIPRequest(w, r)
	if !ok {
		return
	}
	if err := s.lists.AddGlobalIP(r.Context(), body.IP, body.Reason, ttl); err != nil {
		s.listFailure(w, r, "add global entry", proxyconfig.Blacklist, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) handleRemoveGlobalIP(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.lists.RemoveGlobalIP(r.Context(), ps.ByName("ip")); err != nil {
		s.listFailure(w, r, "remove global entry", proxyconfig.Blacklist, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOK)
}

func (s *Server) readIPRequest(w http.ResponseWriter, r *http.Request) (IPRequest, time.Duration, bool) {
	var body IPRequest
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, errors.ErrBadRequest.WithDetails("Invalid JSON"))
		return body, 0, false
	}
	body.IP = strings.TrimSpace(body.IP)
	if net.ParseIP(body.IP) == nil {
		s.writeError(w, r, errors.ErrBadRequest.WithDetails("Invalid IP address"))
		return body, 0, false
	}
	var ttl time.Duration
	if body.Duration != "" {
		d, err := time.ParseDuration(body.Duration)
		if err != nil || d < 0 {
			s.writeError(w, r, errors.ErrBadRequest.WithDetails("Invalid duration"))
			return body, 0, false
		}
		ttl = d
	}
	if body.Reason.Time.IsZero() {
		body.Reason = lists.NewReason(body.Reason.Content, time.Now())
	}
	return body, ttl, true
}

// listFailure reports a list store error. Failures of the backing store are
// upstream failures and map to 502.
func (s *Server) listFailure(w http.ResponseWriter, r *http.Request, op string, kind proxyconfig.ListKind, err error) {
	base := errors.ErrBadGateway
	if stderrors.Is(err, lists.ErrUnknownKind) {
		base = errors.ErrInternalServer
	}
	apiErr := errors.Wrap(err, base.Code, base.Message).WithDetails(op + " failed")
	s.logger.Error("list operation failed",
		zap.String("op", op),
		zap.String("kind", kind.String()),
		zap.String("request_id", requestID(r)),
		zap.Error(apiErr),
	)
	s.writeError(w, r, apiErr)
}

func unRoot(scope string) string {
	if scope == RootScope {
		return ""
	}
	return scope
}
