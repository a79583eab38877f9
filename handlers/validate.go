package handlers

import "net/http"

// validateHandler reports on the upload without changing it.
func (s *Server) validateHandler(w http.ResponseWriter, r *http.Request) {
	batch, props, ok := s.decodeUpload(w, r)
	if !ok {
		return
	}
	policy := s.policyFor(props)
	report := s.engine.Validate(r.Context(), uploadStore(batch, policy), policy)
	sendJSON(w, http.StatusOK, report)
}
