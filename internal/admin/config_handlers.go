package admin

import (
	stderrors "errors"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/mixproxy/proxyadmin/internal/errors"
	"github.com/mixproxy/proxyadmin/internal/proxyconfig"
	"github.com/mixproxy/proxyadmin/internal/service"
	"github.com/mixproxy/proxyadmin/internal/store"
	"go.uber.org/zap"
)

// SaveResponse is returned by PUT /api/config.
type SaveResponse struct {
	Status   string        `json:"status"`
	Revision string        `json:"revision"`
	Reload   *ReloadResult `json:"reload,omitempty"`
}

// ValidateResponse is returned by POST /api/config/validate.
type ValidateResponse struct {
	Valid      bool                   `json:"valid"`
	Violations proxyconfig.Violations `json:"violations"`
	Messages   []string               `json:"messages"`
}

func etag(rev uint64) string {
	return `"` + store.FormatRevision(rev) + `"`
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cfg, rev, err := s.source.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("config read failed", zap.Error(err))
		s.writeError(w, r, errors.ErrInternalServer.WithDetails("failed to read config"))
		return
	}
	w.Header().Set("ETag", etag(rev))
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) readConfig(w http.ResponseWriter, r *http.Request) (proxyconfig.Config, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, errors.ErrBadRequest.WithDetails("failed to read body"))
		return proxyconfig.Config{}, false
	}
	cfg, err := proxyconfig.Decode(data)
	if err != nil {
		s.writeError(w, r, errors.ErrBadRequest.WithDetails(err.Error()))
		return proxyconfig.Config{}, false
	}
	return cfg, true
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cfg, ok := s.readConfig(w, r)
	if !ok {
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	// If-Match guards against overwriting a document edited since it was read.
	if match := r.Header.Get("If-Match"); match != "" && match != "*" {
		_, rev, err := s.source.Snapshot(r.Context())
		switch {
		case stderrors.Is(err, fs.ErrNotExist):
			s.writeError(w, r, errors.New(http.StatusPreconditionFailed, "Precondition Failed").
				WithDetails("no stored config to match"))
			return
		case err != nil:
			s.logger.Error("read config for precondition failed",
				zap.String("request_id", requestID(r)),
				zap.Error(err),
			)
			s.writeError(w, r, errors.ErrInternalServer.WithDetails("cannot check If-Match"))
			return
		case strings.TrimSpace(match) != etag(rev):
			s.writeError(w, r, errors.New(http.StatusPreconditionFailed, "Precondition Failed").
				WithDetails("config changed since it was read"))
			return
		}
	}

	err := s.service.Save(r.Context(), cfg)
	var verr *proxyconfig.ValidationError
	var serr *service.SubmitError
	switch {
	case err == nil:
	case stderrors.As(err, &verr):
		s.writeError(w, r, errors.ErrUnprocessable.WithViolations(verr.Violations.Messages()))
		return
	case stderrors.As(err, &serr):
		s.writeError(w, r, errors.ErrInternalServer.WithDetails(serr.Error()))
		return
	default:
		s.writeError(w, r, errors.ErrInternalServer)
		return
	}

	resp := SaveResponse{Status: "updated", Revision: store.FormatRevision(s.source.Revision())}
	if s.reloader != nil {
		result := s.reloader.Apply(r.Context(), cfg)
		resp.Reload = &result
	}
	w.Header().Set("ETag", etag(s.source.Revision()))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	cfg, ok := s.readConfig(w, r)
	if !ok {
		return
	}
	vs := s.service.Validate(cfg)
	if vs == nil {
		vs = proxyconfig.Violations{}
	}
	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:      len(vs) == 0,
		Violations: vs,
		Messages:   vs.Messages(),
	})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if s.reloader == nil {
		s.writeError(w, r, errors.ErrServiceUnavailable.WithDetails("reload not configured"))
		return
	}
	writeJSON(w, http.StatusOK, s.reloader.Reload(r.Context()))
}

func (s *Server) handleReloadStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	history := []ReloadResult{}
	if s.reloader != nil {
		history = s.reloader.History()
	}
	writeJSON(w, http.StatusOK, history)
}
