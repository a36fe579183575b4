// Package api exposes single-record geocoding, address validation and
// spatial lookups over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/coalition-geo/internal/address"
	"github.com/sells-group/coalition-geo/internal/geo"
	"github.com/sells-group/coalition-geo/internal/geocoding"
	"github.com/sells-group/coalition-geo/internal/geospatial"
	"github.com/sells-group/coalition-geo/internal/stakeholder"
	"github.com/sells-group/coalition-geo/pkg/geocode"
)

// Server holds the collaborators behind the HTTP routes.
type Server struct {
	svc     *geocoding.Service
	store   stakeholder.Store
	regions geospatial.RegionStore
}

// NewServer creates a Server.
func NewServer(svc *geocoding.Service, store stakeholder.Store, regions geospatial.RegionStore) *Server {
	return &Server{svc: svc, store: store, regions: regions}
}

// Routes builds the router. An empty origins list allows any origin.
func (s *Server) Routes(origins []string) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/addresses/validate", s.validateAddress)
		r.Get("/stakeholders/near", s.near)
		r.Post("/stakeholders/{id}/geocode", s.geocode)
		r.Get("/districts/{type}/stakeholders", s.districtStakeholders)
	})
	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "providers": s.svc.Providers()})
}

type addressRequest struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
}

type fieldError struct {
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

func (s *Server) validateAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	addr, err := address.ValidateComplete(req.Street, req.City, req.State, req.ZipCode)
	if err != nil {
		fields := address.FieldErrors(err)
		out := make([]fieldError, len(fields))
		for i, f := range fields {
			out[i] = fieldError{Field: f.Field, Value: f.Value, Message: f.Message()}
		}
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  address.ErrIncompleteAddress.Error(),
			"fields": out,
		})
		return
	}
	writeJSON(w, http.StatusOK, addr)
}

type geocodeResponse struct {
	Success bool `json:"success"`
	*geocoding.Outcome
}

func (s *Server) geocode(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stakeholder id")
		return
	}
	q := r.URL.Query()
	opts := geocoding.Options{
		Force:          queryBool(q.Get("force")),
		Retry:          queryBool(q.Get("retry")),
		ClearOnFailure: queryBool(q.Get("clear_on_failure")),
	}

	// A started geocode finishes and persists even if the client goes away.
	out, err := s.svc.GeocodeByID(context.WithoutCancel(r.Context()), id, opts)
	switch {
	case errors.Is(err, stakeholder.ErrNotFound):
		writeError(w, http.StatusNotFound, "stakeholder not found")
		return
	case errors.Is(err, geocode.ErrNotConfigured):
		zap.L().Error("api: geocoding not configured", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "geocoding is not configured")
		return
	case err != nil:
		zap.L().Error("api: geocode failed", zap.String("stakeholder_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "geocode failed")
		return
	}
	writeJSON(w, http.StatusOK, geocodeResponse{Success: out.Success(), Outcome: out})
}

func (s *Server) near(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required numbers")
		return
	}
	meters, err := strconv.ParseFloat(q.Get("meters"), 64)
	if err != nil || math.IsNaN(meters) || math.IsInf(meters, 0) || meters <= 0 {
		writeError(w, http.StatusBadRequest, "meters must be a positive number")
		return
	}
	limit := geospatial.DefaultNearLimit
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
	}

	rows, err := geospatial.FindStakeholdersNearPoint(r.Context(), s.store, geo.Point{Lat: lat, Lng: lng}, meters, limit)
	if errors.Is(err, geo.ErrInvalidPoint) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		zap.L().Error("api: near query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if rows == nil {
		rows = []stakeholder.Nearby{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "stakeholders": rows})
}

func (s *Server) districtStakeholders(w http.ResponseWriter, r *http.Request) {
	t, err := geo.ParseRegionType(chi.URLParam(r, "type"))
	if err != nil || !t.IsDistrict() {
		writeError(w, http.StatusBadRequest, "type must be congressional, state_upper or state_lower")
		return
	}

	groups, err := geospatial.GetStakeholdersByDistrict(r.Context(), s.store, s.regions, t, r.URL.Query().Get("state"))
	if err != nil {
		zap.L().Error("api: district query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if groups == nil {
		groups = []geospatial.DistrictGroup{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": t, "districts": groups})
}

func queryBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
