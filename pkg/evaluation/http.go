package evaluation

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/neurocast-ai/platform/pkg/common/logger"
)

type HTTPHandler struct {
	service *Service
	repo    *Repository
}

func NewHTTPHandler(service *Service, repo *Repository) *HTTPHandler {
	return &HTTPHandler{service: service, repo: repo}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/evaluations", h.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/evaluations", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/evaluations/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/quality-signals", h.handleQualitySignals).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input CreateJobInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	job, err := h.service.Create(r.Context(), input)
	if err != nil {
		if len(input.PatientIDs) == 0 {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.Log.WithError(err).Error("failed to create evaluation job")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	job, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			http.Error(w, "evaluation not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to fetch evaluation job")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := h.service.List(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list evaluation jobs")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"evaluations": jobs})
}

func (h *HTTPHandler) handleQualitySignals(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	signals, err := h.repo.ListQualitySignals(r.Context(), r.URL.Query().Get("patient_id"), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list quality signals")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"signals": signals})
}
