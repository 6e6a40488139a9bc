package forecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/neurocast-ai/platform/pkg/common/config"
	"github.com/neurocast-ai/platform/pkg/common/logger"
	"github.com/neurocast-ai/platform/pkg/common/models"
	"github.com/neurocast-ai/platform/pkg/observability/metrics"
	"github.com/neurocast-ai/platform/pkg/sequence"
)

// DefaultModelName is the production progression model; requests do not pick
// a model, deployments do.
const DefaultModelName = "progression"

const maxHorizonSteps = 40

// SequenceSource produces the per-forecast snapshot of a patient's history.
type SequenceSource interface {
	Assemble(ctx context.Context, patientID string) (models.PatientSequence, error)
}

// ModelSource resolves a model name to loaded weights.
type ModelSource interface {
	Load(name string) (*Model, error)
}

// Publisher is the slice of the event producer the service needs.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Service runs the full forecasting path: assemble, fuse, roll the recurrence
// over history, extrapolate, constrain.
type Service struct {
	sequences SequenceSource
	modelSrc  ModelSource
	post      *PostProcessor
	events    Publisher
	modelName string

	trendMinVisits  int
	confidenceBase  float64
	confidenceDecay float64
}

func NewService(cfg *config.Config, sequences SequenceSource, modelSrc ModelSource, post *PostProcessor, events Publisher) *Service {
	return &Service{
		sequences:       sequences,
		modelSrc:        modelSrc,
		post:            post,
		events:          events,
		modelName:       DefaultModelName,
		trendMinVisits:  cfg.TrendMinVisits,
		confidenceBase:  cfg.ConfidenceBase,
		confidenceDecay: cfg.ConfidenceDecay,
	}
}

func validateRequest(req models.ForecastRequest) error {
	if req.PatientID == "" {
		return sequence.NewValidationError(fmt.Errorf("patient_id is required"))
	}
	if req.HorizonSteps < 1 || req.HorizonSteps > maxHorizonSteps {
		return sequence.NewValidationError(fmt.Errorf("horizon_steps must be in [1, %d], got %d", maxHorizonSteps, req.HorizonSteps))
	}
	if req.StepMonths <= 0 {
		return sequence.NewValidationError(fmt.Errorf("step_months must be positive, got %v", req.StepMonths))
	}
	return nil
}

// Forecast produces a constrained score trajectory for one patient. The
// request is served from whatever feature records are committed right now;
// visits with no committed record contribute demographics and scores only.
func (s *Service) Forecast(ctx context.Context, req models.ForecastRequest) (models.ForecastResult, error) {
	start := time.Now()
	if err := validateRequest(req); err != nil {
		return models.ForecastResult{}, err
	}

	model, err := s.modelSrc.Load(s.modelName)
	if err != nil {
		metrics.ForecastFailed()
		return models.ForecastResult{}, fmt.Errorf("loading model %s: %w", s.modelName, err)
	}

	seq, err := s.sequences.Assemble(ctx, req.PatientID)
	if err != nil {
		metrics.ForecastFailed()
		return models.ForecastResult{}, err
	}

	st := model.Forecaster.NewState()
	historical := make([]models.HistoricalPoint, 0, len(seq.Visits))
	for _, visit := range seq.Visits {
		if len(visit.Features) != model.Fusion.InputDim() {
			return models.ForecastResult{}, fmt.Errorf("assembled width %d does not match model input %d",
				len(visit.Features), model.Fusion.InputDim())
		}

		latent := model.Fusion.Encode(visit.Features, visit.Mask)
		stateVec, stateMask := BuildState(latent, visit)

		pred, err := model.Forecaster.Observe(st, stateVec, stateMask)
		if err != nil {
			return models.ForecastResult{}, err
		}
		historical = append(historical, models.HistoricalPoint{
			VisitDate: visit.VisitDate,
			Predicted: models.ScoreSetFromVector(s.post.ClampVector(pred)),
		})
	}

	baseline := model.Forecaster.Scores(st.LastFilled())

	raw := make([][]float64, req.HorizonSteps)
	for k := 0; k < req.HorizonSteps; k++ {
		stepState, err := model.Forecaster.Rollout(st)
		if err != nil {
			return models.ForecastResult{}, err
		}
		raw[k] = model.Forecaster.Scores(stepState)
	}

	constrained, violations := s.post.Apply(baseline, req.StepMonths, raw)

	insufficient := len(seq.Visits) < s.trendMinVisits
	trajectory := make([]models.ForecastPoint, req.HorizonSteps)
	for k := range constrained {
		confidence := s.confidenceBase * math.Pow(s.confidenceDecay, float64(k))
		if insufficient {
			confidence /= 2
		}
		trajectory[k] = models.ForecastPoint{
			OffsetMonths: req.StepMonths * float64(k+1),
			Scores:       models.ScoreSetFromVector(constrained[k]),
			Confidence:   confidence,
		}
	}

	baselineSet := models.ScoreSetFromVector(s.post.ClampVector(baseline))
	finalSet := trajectory[len(trajectory)-1].Scores
	result := models.ForecastResult{
		PatientID:    req.PatientID,
		GeneratedAt:  time.Now().UTC(),
		ModelVersion: model.Version,
		Trajectory:   trajectory,
		Historical:   historical,
		Summary: models.ForecastSummary{
			BaselineScores: baselineSet,
			FinalScores:    finalSet,
			Delta:          scoreDelta(baselineSet, finalSet),
			RiskCategory:   riskCategory(baselineSet.CDRGlobal, finalSet.CDRGlobal),
		},
		InsufficientHistory: insufficient,
		ObservedVisits:      len(seq.Visits),
		Latency:             time.Since(start),
	}

	metrics.ForecastCompleted(insufficient)
	metrics.QualityViolations(len(violations))
	s.publish(ctx, req, result, violations)
	return result, nil
}

// BuildState concatenates the latent code with the visit's scores and builds
// the parallel observed mask. The latent block counts as observed when the
// visit had at least one imaging modality; a latent code computed from
// demographics alone is left for the recurrence to overwrite with its derived
// estimate.
func BuildState(latent []float64, visit models.AssembledVisit) (stateVec, stateMask []float64) {
	n := len(latent) + len(visit.Scores)
	stateVec = make([]float64, 0, n)
	stateMask = make([]float64, 0, n)

	latentObserved := 0.0
	if visit.ImagingObserved {
		latentObserved = 1
	}
	for _, v := range latent {
		stateVec = append(stateVec, v)
		stateMask = append(stateMask, latentObserved)
	}
	stateVec = append(stateVec, visit.Scores...)
	stateMask = append(stateMask, visit.ScoreMask...)
	return stateVec, stateMask
}

func scoreDelta(from, to models.ScoreSet) models.ScoreSet {
	return models.ScoreSet{
		MMSE:      to.MMSE - from.MMSE,
		CDRGlobal: to.CDRGlobal - from.CDRGlobal,
		CDRSOB:    to.CDRSOB - from.CDRSOB,
		ADASCog:   to.ADASCog - from.ADASCog,
	}
}

func riskCategory(baselineCDR, finalCDR float64) string {
	switch delta := finalCDR - baselineCDR; {
	case delta <= 0:
		return "stable"
	case delta <= 0.5:
		return "slow_progression"
	case delta <= 1:
		return "moderate_progression"
	default:
		return "rapid_progression"
	}
}

func (s *Service) publish(ctx context.Context, req models.ForecastRequest, result models.ForecastResult, violations []Violation) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, "forecast.completed", "forecast-service", map[string]interface{}{
		"patient_id":      req.PatientID,
		"model_version":   result.ModelVersion,
		"horizon_steps":   req.HorizonSteps,
		"step_months":     req.StepMonths,
		"observed_visits": result.ObservedVisits,
		"risk_category":   result.Summary.RiskCategory,
		"latency_seconds": result.Latency.Seconds(),
	}); err != nil {
		logger.Log.WithError(err).Warn("failed to publish forecast event")
	}

	if len(violations) == 0 {
		return
	}
	details := make([]map[string]interface{}, 0, len(violations))
	for _, v := range violations {
		details = append(details, map[string]interface{}{
			"score":       v.Score,
			"step":        v.Step,
			"raw":         v.Raw,
			"constrained": v.Constrained,
		})
	}
	if err := s.events.PublishEvent(ctx, "forecast.quality", "forecast-service", map[string]interface{}{
		"patient_id":    req.PatientID,
		"model_version": result.ModelVersion,
		"violations":    details,
	}); err != nil {
		logger.Log.WithError(err).Warn("failed to publish quality signal")
	}
}
