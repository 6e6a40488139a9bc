package models

import (
	"time"

	"github.com/google/uuid"
)

// Clinical score indices. The order is fixed across the engine, the model
// artifact and the persisted records: [MMSE, CDR-Global, CDR-SOB, ADAS-Cog].
const (
	ScoreMMSE = iota
	ScoreCDRGlobal
	ScoreCDRSOB
	ScoreADASCog
	NumScores
)

var ScoreNames = [NumScores]string{"mmse", "cdr_global", "cdr_sob", "adas_cog"}

// ScoreSet is the API representation of one set of clinical scores.
type ScoreSet struct {
	MMSE      float64 `json:"mmse"`
	CDRGlobal float64 `json:"cdr_global"`
	CDRSOB    float64 `json:"cdr_sob"`
	ADASCog   float64 `json:"adas_cog"`
}

func ScoreSetFromVector(v []float64) ScoreSet {
	var s ScoreSet
	if len(v) < NumScores {
		return s
	}
	s.MMSE = v[ScoreMMSE]
	s.CDRGlobal = v[ScoreCDRGlobal]
	s.CDRSOB = v[ScoreCDRSOB]
	s.ADASCog = v[ScoreADASCog]
	return s
}

func (s ScoreSet) Vector() []float64 {
	v := make([]float64, NumScores)
	v[ScoreMMSE] = s.MMSE
	v[ScoreCDRGlobal] = s.CDRGlobal
	v[ScoreCDRSOB] = s.CDRSOB
	v[ScoreADASCog] = s.ADASCog
	return v
}

// Demographics carries the per-visit demographic fields. Age varies between
// visits; the remaining fields are patient-invariant but stored per visit.
// Nil means not on record for that visit.
type Demographics struct {
	AgeAtVisit      *float64 `json:"age_at_visit,omitempty"`
	Sex             *float64 `json:"sex,omitempty"` // 1 male, 0 female
	EducationYears  *float64 `json:"education_years,omitempty"`
	RiskAlleleCount *float64 `json:"risk_allele_count,omitempty"` // APOE4 alleles, 0-2
}

// Visit is one clinical encounter as stored by the clinical-record
// collaborator: demographics and whatever scores were measured that day.
// Imaging-derived features live in the feature cache, not here.
type Visit struct {
	PatientID    string       `json:"patient_id"`
	VisitDate    time.Time    `json:"visit_date"`
	Demographics Demographics `json:"demographics"`
	MMSE         *float64     `json:"mmse,omitempty"`
	CDRGlobal    *float64     `json:"cdr_global,omitempty"`
	CDRSOB       *float64     `json:"cdr_sob,omitempty"`
	ADASCog      *float64     `json:"adas_cog,omitempty"`
}

// ScoreVector returns the visit's scores as a dense vector plus the parallel
// observed mask. Unmeasured scores hold a zero placeholder and a zero mask
// entry; the mask is the source of truth, never the placeholder.
func (v Visit) ScoreVector() (scores, mask []float64) {
	scores = make([]float64, NumScores)
	mask = make([]float64, NumScores)
	set := func(idx int, p *float64) {
		if p != nil {
			scores[idx] = *p
			mask[idx] = 1
		}
	}
	set(ScoreMMSE, v.MMSE)
	set(ScoreCDRGlobal, v.CDRGlobal)
	set(ScoreCDRSOB, v.CDRSOB)
	set(ScoreADASCog, v.ADASCog)
	return scores, mask
}

// FeatureRecord is one committed extraction result for a (patient, visit-date)
// key. Records are immutable after creation; a changed scan is a new logical
// visit, not an update.
type FeatureRecord struct {
	PatientID          string                 `json:"patient_id"`
	VisitDate          time.Time              `json:"visit_date"`
	Structural         []float64              `json:"structural,omitempty"`
	Metabolic          []float64              `json:"metabolic,omitempty"`
	StructuralObserved bool                   `json:"structural_observed"`
	MetabolicObserved  bool                   `json:"metabolic_observed"`
	Quality            map[string]interface{} `json:"quality,omitempty"`
	ExtractedAt        time.Time              `json:"extracted_at"`
}

// AssembledVisit is one visit after the assembler has merged imaging features,
// demographics and scores into the fixed-width input the fusion module
// consumes. Features and Mask are parallel; a zero mask entry marks a
// placeholder, never a measurement.
type AssembledVisit struct {
	VisitDate       time.Time `json:"visit_date"`
	Features        []float64 `json:"features"`
	Mask            []float64 `json:"mask"`
	Scores          []float64 `json:"scores"`
	ScoreMask       []float64 `json:"score_mask"`
	ImagingObserved bool      `json:"imaging_observed"`
}

// PatientSequence is the immutable per-forecast snapshot of a patient's
// ordered visits.
type PatientSequence struct {
	PatientID string           `json:"patient_id"`
	Visits    []AssembledVisit `json:"visits"`
}

// ForecastPoint is one synthetic future step.
type ForecastPoint struct {
	OffsetMonths float64  `json:"offset_months"`
	Scores       ScoreSet `json:"scores"`
	Confidence   float64  `json:"confidence"`
}

// HistoricalPoint is the model's reconstruction of an observed visit,
// exposed to callers alongside the forecast.
type HistoricalPoint struct {
	VisitDate time.Time `json:"visit_date"`
	Predicted ScoreSet  `json:"predicted_scores"`
}

type ForecastSummary struct {
	BaselineScores ScoreSet `json:"baseline_scores"`
	FinalScores    ScoreSet `json:"final_scores"`
	Delta          ScoreSet `json:"delta"`
	RiskCategory   string   `json:"risk_category"`
}

type ForecastRequest struct {
	PatientID    string  `json:"patient_id"`
	HorizonSteps int     `json:"horizon_steps"`
	StepMonths   float64 `json:"step_months"`
}

type ForecastResult struct {
	PatientID           string            `json:"patient_id"`
	GeneratedAt         time.Time         `json:"generated_at"`
	ModelVersion        string            `json:"model_version"`
	Trajectory          []ForecastPoint   `json:"trajectory"`
	Historical          []HistoricalPoint `json:"historical"`
	Summary             ForecastSummary   `json:"summary"`
	InsufficientHistory bool              `json:"insufficient_history"`
	ObservedVisits      int               `json:"observed_visits"`
	Latency             time.Duration     `json:"latency"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // extraction.completed, forecast.completed, forecast.quality
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Model Evaluation
type EvaluationJob struct {
	ID           uuid.UUID              `json:"id"`
	ModelName    string                 `json:"model_name"`
	PatientIDs   []string               `json:"patient_ids"`
	Status       string                 `json:"status"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
	ArtifactPath string                 `json:"artifact_path,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}
