package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/neurocast-ai/platform/pkg/common/logger"
	"github.com/neurocast-ai/platform/pkg/common/models"
	"github.com/neurocast-ai/platform/pkg/registry"
	"github.com/neurocast-ai/platform/pkg/sequence"
)

// FeatureAdmin is the cache-management surface the refresh endpoint drives:
// drop the committed record for a superseded scan and schedule re-extraction.
type FeatureAdmin interface {
	Invalidate(ctx context.Context, patientID string, visitDate time.Time) error
	EnsureAsync(patientID string, visitDate time.Time)
}

type HTTPHandler struct {
	service  *Service
	loader   *Loader
	features FeatureAdmin
	maxBody  int64
}

func NewHTTPHandler(service *Service, loader *Loader, features FeatureAdmin, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, loader: loader, features: features, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/forecast", h.handleForecast).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/models", h.handleModels).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/features/{patient_id}/{visit_date}/refresh", h.handleRefresh).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleForecast(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var req models.ForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.WithError(err).Warn("invalid forecast payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.Forecast(r.Context(), req)
	if err != nil {
		if sequence.IsValidationError(err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if errors.Is(err, registry.ErrPatientNotFound) {
			http.Error(w, "patient not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).WithField("patient_id", req.PatientID).Error("forecast failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (h *HTTPHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	names, err := h.loader.List()
	if err != nil {
		logger.Log.WithError(err).Error("failed to list model artifacts")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	type modelInfo struct {
		Name    string `json:"name"`
		Version string `json:"version,omitempty"`
		Status  string `json:"status"`
	}
	infos := make([]modelInfo, 0, len(names))
	for _, name := range names {
		info := modelInfo{Name: name, Status: "ready"}
		model, err := h.loader.Load(name)
		if err != nil {
			info.Status = "invalid"
		} else {
			info.Version = model.Version
		}
		infos = append(infos, info)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"models": infos})
}

func (h *HTTPHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	patientID := vars["patient_id"]

	visitDate, err := time.Parse("2006-01-02", vars["visit_date"])
	if err != nil {
		http.Error(w, "visit_date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	if err := h.features.Invalidate(r.Context(), patientID, visitDate); err != nil {
		logger.Log.WithError(err).WithField("patient_id", patientID).Error("failed to invalidate feature record")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.features.EnsureAsync(patientID, visitDate)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"patient_id": patientID,
		"visit_date": vars["visit_date"],
		"status":     "re-extraction scheduled",
	})
}
