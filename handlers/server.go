package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/bsaid97/go-parcel-fixer/engine"
	"github.com/bsaid97/go-parcel-fixer/kernel"
	"github.com/bsaid97/go-parcel-fixer/metrics"
	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/utils"
)

// Server exposes the engine over HTTP. Every request works on its own
// in-memory store built from the uploaded feature collection.
type Server struct {
	engine  *engine.Engine
	kernel  kernel.Kernel
	policy  parcel.Policy
	payload utils.PayloadOptions
	logger  zerolog.Logger
}

func NewServer(e *engine.Engine, k kernel.Kernel, policy parcel.Policy, payload utils.PayloadOptions, logger zerolog.Logger) *Server {
	return &Server{
		engine:  e,
		kernel:  k,
		policy:  policy,
		payload: payload,
		logger:  logger.With().Str("component", "http").Logger(),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/v2/sanitize", s.instrument("sanitize", s.postOnly(s.sanitizeHandler)))
	mux.Handle("/validate", s.instrument("validate", s.postOnly(s.validateHandler)))
	mux.Handle("/check-geometry", s.instrument("check-geometry", s.postOnly(s.checkGeometryHandler)))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// policyFor applies the per-request overrides to the server policy.
func (s *Server) policyFor(props utils.Properties) parcel.Policy {
	p := s.policy
	if props.ExpectedUnitID != "" {
		p.ExpectedUnitID = props.ExpectedUnitID
	}
	if props.BufferCM != nil {
		cm := *props.BufferCM
		p.ExplicitBufferCM = &cm
	}
	if props.RunOverlapFix != nil {
		p.RunOverlapFix = *props.RunOverlapFix
	}
	if props.RemoveSlivers != nil {
		p.RemoveSlivers = *props.RemoveSlivers
	}
	return p
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(name string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error().Interface("panic", p).Str("endpoint", name).Msg("handler panicked")
				sendError(rec, http.StatusInternalServerError, "internal server error")
			}
			metrics.HTTPRequestsTotal.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		}()
		s.logger.Debug().Str("endpoint", name).Str("content_type", r.Header.Get("Content-Type")).Msg("request received")
		next(rec, r)
	})
}

func (s *Server) postOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			sendError(w, http.StatusMethodNotAllowed, "invalid request method, only POST allowed")
			return
		}
		next(w, r)
	}
}

func sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, code int, msg string) {
	sendJSON(w, code, map[string]string{"error": msg})
}

func sendZipResponse(w http.ResponseWriter, zipData []byte, pass bool) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+utils.ArchiveName+".zip\"")
	w.Header().Set("X-Validation-Pass", strconv.FormatBool(pass))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(zipData)
}
