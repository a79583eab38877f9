package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bsaid97/go-parcel-fixer/parcel"
	"github.com/bsaid97/go-parcel-fixer/store"
	"github.com/bsaid97/go-parcel-fixer/utils"
)

// uploadStore wraps a decoded upload in a memory store. Uploads of the same
// survey unit share a name, so the engine lease serialises them.
func uploadStore(batch *parcel.Batch, policy parcel.Policy) *store.Memory {
	name := "upload:" + uuid.NewString()
	if batch.Len() > 0 {
		if v, ok := batch.Records[0].Attr(policy.UnitIDField); ok && parcel.AsString(v) != "" {
			name = "survey:" + parcel.AsString(v)
		}
	}
	return store.NewMemory(name, batch)
}

func (s *Server) decodeUpload(w http.ResponseWriter, r *http.Request) (*parcel.Batch, utils.Properties, bool) {
	payload, props, err := utils.ReadPayload(w, r, s.payload)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, utils.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		sendError(w, status, err.Error())
		return nil, props, false
	}
	batch, err := store.DecodeGeoJSON(payload, s.logger)
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return nil, props, false
	}
	return batch, props, true
}

// sanitizeHandler cleans the uploaded collection and answers with a zip of
// the cleaned GeoJSON, a shapefile and the validation report.
func (s *Server) sanitizeHandler(w http.ResponseWriter, r *http.Request) {
	batch, props, ok := s.decodeUpload(w, r)
	if !ok {
		return
	}
	policy := s.policyFor(props)
	st := uploadStore(batch, policy)

	report := s.engine.SanitizeAndValidate(r.Context(), st, policy)
	cleaned := st.Snapshot()

	geojsonData, err := store.EncodeGeoJSON(cleaned)
	if err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	reportData, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	zipData, err := utils.GenerateShapefileZip(geojsonData, reportData, cleaned)
	if err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if props.SaveFile && props.FilePath != "" {
		path, err := utils.ResolvePath(s.payload.DataDir, utils.OutputPath(props.FilePath, ".zip"))
		if err != nil {
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := os.WriteFile(path, zipData, 0o644); err != nil {
			sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.logger.Info().Str("path", path).Bool("pass", report.Pass).Msg("sanitized upload saved")
		sendJSON(w, http.StatusOK, map[string]any{"saved": path, "pass": report.Pass})
		return
	}
	s.logger.Info().Int("features", cleaned.Len()).Bool("pass", report.Pass).Msg("sending sanitized zip")
	sendZipResponse(w, zipData, report.Pass)
}
