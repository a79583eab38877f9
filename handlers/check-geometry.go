package handlers

import (
	"net/http"

	"github.com/bsaid97/go-parcel-fixer/parcel"
)

type Error struct {
	Ref          int    `json:"ref"`
	ErrorMessage string `json:"errorMessage"`
}

// CheckGeometry lists every record of batch the kernel finds invalid.
func (s *Server) CheckGeometry(batch *parcel.Batch) []Error {
	errors := []Error{}
	for _, rec := range batch.Records {
		if rec.IsNull() {
			errors = append(errors, Error{Ref: rec.ID, ErrorMessage: "null geometry"})
			continue
		}
		ok, reason, err := s.kernel.IsValid(rec.Geometry)
		switch {
		case err != nil:
			errors = append(errors, Error{Ref: rec.ID, ErrorMessage: err.Error()})
		case !ok:
			errors = append(errors, Error{Ref: rec.ID, ErrorMessage: reason})
		}
	}
	s.logger.Debug().Int("features", batch.Len()).Int("invalid", len(errors)).Msg("geometry check complete")
	return errors
}

func (s *Server) checkGeometryHandler(w http.ResponseWriter, r *http.Request) {
	batch, _, ok := s.decodeUpload(w, r)
	if !ok {
		return
	}
	sendJSON(w, http.StatusOK, s.CheckGeometry(batch))
}
