package features

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/neurocast-ai/platform/pkg/common/config"
	"github.com/neurocast-ai/platform/pkg/common/models"
	"golang.org/x/oauth2/clientcredentials"
)

// Extractor is the contract with the external registration/extraction
// pipeline. Implementations must not return an error for a partial modality
// failure; the per-modality flags on the record carry that outcome.
type Extractor interface {
	Extract(ctx context.Context, patientID string, visitDate time.Time) (models.FeatureRecord, error)
}

// HTTPExtractor calls the extraction pipeline over HTTP. Extraction runs for
// minutes per visit, so the client carries a long timeout and, when
// configured, an OAuth2 client-credentials token source.
type HTTPExtractor struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExtractor(cfg *config.Config) *HTTPExtractor {
	client := &http.Client{Timeout: cfg.ExtractionTimeout}
	if cfg.ExtractionTokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ExtractionClientID,
			ClientSecret: cfg.ExtractionClientSecret,
			TokenURL:     cfg.ExtractionTokenURL,
		}
		client = cc.Client(context.Background())
		client.Timeout = cfg.ExtractionTimeout
	}
	return &HTTPExtractor{baseURL: cfg.ExtractionBaseURL, client: client}
}

type extractRequest struct {
	PatientID string `json:"patient_id"`
	VisitDate string `json:"visit_date"`
}

type extractResponse struct {
	Structural         []float64              `json:"structural"`
	Metabolic          []float64              `json:"metabolic"`
	StructuralObserved bool                   `json:"structural_observed"`
	MetabolicObserved  bool                   `json:"metabolic_observed"`
	Quality            map[string]interface{} `json:"quality"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, patientID string, visitDate time.Time) (models.FeatureRecord, error) {
	payload, err := json.Marshal(extractRequest{
		PatientID: patientID,
		VisitDate: visitDate.Format("2006-01-02"),
	})
	if err != nil {
		return models.FeatureRecord{}, err
	}

	url := fmt.Sprintf("%s/api/v1/extract", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return models.FeatureRecord{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return models.FeatureRecord{}, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.FeatureRecord{}, fmt.Errorf("extraction pipeline returned status %d", resp.StatusCode)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.FeatureRecord{}, fmt.Errorf("invalid extraction response: %w", err)
	}

	record := models.FeatureRecord{
		PatientID:          patientID,
		VisitDate:          visitDate,
		StructuralObserved: out.StructuralObserved,
		MetabolicObserved:  out.MetabolicObserved,
		Quality:            out.Quality,
		ExtractedAt:        time.Now().UTC(),
	}
	if out.StructuralObserved {
		record.Structural = out.Structural
	}
	if out.MetabolicObserved {
		record.Metabolic = out.Metabolic
	}
	return record, nil
}
