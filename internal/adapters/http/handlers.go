package http

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb/geojson"

	"github.com/jobrunner/verdant/internal/application"
	"github.com/jobrunner/verdant/internal/domain"
)

// defaultMaxFeatures caps /features when the server config leaves it unset.
const defaultMaxFeatures = 1000

// handleHealth returns detailed health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := s.health.GetHealthDetails(r.Context())

	status := http.StatusOK
	if !details.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":      boolToStatus(details.Healthy),
		"ready":       details.Ready,
		"last_stage":  details.LastStage,
		"last_run_ok": details.LastRunOK,
		"runs_total":  details.RunsTotal,
		"components":  details.Components,
	})
}

// handleLiveness returns liveness status.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsHealthy(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

// handleReadiness returns readiness status.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.health.IsReady(r.Context()) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	} else {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// handleTriggerRun runs the pipeline and returns its report.
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.runs.TriggerRun(r.Context())
	if err != nil {
		if errors.Is(err, application.ErrRateLimited) {
			w.Header().Set("Retry-After", "30")
			s.writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Try again in 30 seconds.")
			return
		}
		s.logger.Error("run failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Run failed")
		return
	}

	status := http.StatusOK
	if !report.Success {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, report)
}

// handleLatestRun returns the report of the most recent run.
func (s *Server) handleLatestRun(w http.ResponseWriter, _ *http.Request) {
	report, ok := s.runs.LatestReport()
	if !ok {
		s.writeError(w, http.StatusNotFound, "No run yet")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// handleFields returns attribute columns of the latest output layer.
// Without ?fields every non-geometry column is returned.
func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	table, err := s.layers.ExtractFields(r.Context(), parseFields(r))
	if err != nil {
		s.handleLayerError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"columns": table.Columns,
		"rows":    table.Rows,
		"count":   table.Len(),
	})
}

// handleFieldSummary returns the mean of a numeric column.
func (s *Server) handleFieldSummary(w http.ResponseWriter, r *http.Request) {
	field := mux.Vars(r)["field"]

	mean, err := s.layers.SummarizeField(r.Context(), field)
	if err != nil {
		s.handleLayerError(w, err)
		return
	}

	var value *float64
	if !math.IsNaN(mean) {
		value = &mean
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"field": field,
		"mean":  value,
	})
}

// handleFeatures returns the latest output layer as GeoJSON.
func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	limit := s.config.MaxFeatures
	if limit <= 0 {
		limit = defaultMaxFeatures
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			s.writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = min(v, limit)
	}

	layer, err := s.layers.Layer(r.Context())
	if err != nil {
		s.handleLayerError(w, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for i := range layer.Features {
		if i >= limit {
			break
		}
		f := &layer.Features[i]
		if f.Geometry == nil {
			continue
		}
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.ID
		for k, v := range f.Properties {
			gf.Properties[k] = jsonValue(v)
		}
		fc.Append(gf)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		s.logger.Error("failed to encode features", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to encode features")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("X-Total-Count", strconv.Itoa(layer.FeatureCount()))
	_, _ = w.Write(data)
}

// handleOpenAPI returns the OpenAPI specification.
func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	spec, err := getOpenAPIJSON()
	if err != nil {
		s.logger.Error("failed to get OpenAPI spec", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load OpenAPI specification")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(spec)
}

// parseFields reads the comma-separated fields parameter. An absent parameter
// yields nil; a present but empty one yields an empty list.
func parseFields(r *http.Request) []string {
	q := r.URL.Query()
	if _, ok := q["fields"]; !ok {
		return nil
	}
	fields := []string{}
	for _, f := range strings.Split(q.Get("fields"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

// jsonValue replaces values encoding/json rejects.
func jsonValue(v interface{}) interface{} {
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil
	}
	return v
}

// handleLayerError maps layer query errors to HTTP status codes.
func (s *Server) handleLayerError(w http.ResponseWriter, err error) {
	var schemaErr *domain.SchemaError
	if errors.As(err, &schemaErr) {
		s.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":          http.StatusText(http.StatusBadRequest),
			"message":        schemaErr.Error(),
			"invalid_fields": schemaErr.Fields,
		})
		return
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		s.writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	if errors.Is(err, domain.ErrNoLayer) {
		s.writeError(w, http.StatusNotFound, "No output layer yet; trigger a run first")
		return
	}

	if errors.Is(err, domain.ErrComputation) {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.logger.Error("layer query error", "error", err)
	s.writeError(w, http.StatusInternalServerError, "Query failed")
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error":   http.StatusText(status),
		"message": message,
	})
}

func boolToStatus(b bool) string {
	if b {
		return "ok"
	}
	return "unhealthy"
}
