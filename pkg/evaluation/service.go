// Package evaluation replays patient histories through a model artifact and
// scores how well the model reconstructs what was actually observed. Jobs run
// asynchronously against the same assembler and cache the forecast path uses,
// so an evaluation sees exactly the inputs a live forecast would have seen.
package evaluation

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/neurocast-ai/platform/pkg/common/logger"
	"github.com/neurocast-ai/platform/pkg/common/models"
	"github.com/neurocast-ai/platform/pkg/forecast"
	"github.com/neurocast-ai/platform/pkg/ml/fusion"
	obsmetrics "github.com/neurocast-ai/platform/pkg/observability/metrics"
	"gorm.io/datatypes"
)

type Service struct {
	repo        *Repository
	sequences   forecast.SequenceSource
	modelSrc    forecast.ModelSource
	artifactDir string
	workerSem   chan struct{}
}

func NewService(repo *Repository, sequences forecast.SequenceSource, modelSrc forecast.ModelSource, artifactDir string, maxWorkers int) (*Service, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return nil, err
	}
	return &Service{
		repo:        repo,
		sequences:   sequences,
		modelSrc:    modelSrc,
		artifactDir: artifactDir,
		workerSem:   make(chan struct{}, maxWorkers),
	}, nil
}

func (s *Service) Create(ctx context.Context, input CreateJobInput) (models.EvaluationJob, error) {
	if input.ModelName == "" {
		input.ModelName = forecast.DefaultModelName
	}
	if len(input.PatientIDs) == 0 {
		return models.EvaluationJob{}, fmt.Errorf("patient_ids is required")
	}

	ids, err := json.Marshal(input.PatientIDs)
	if err != nil {
		return models.EvaluationJob{}, err
	}
	job := &JobModel{
		ID:         uuid.New(),
		ModelName:  input.ModelName,
		PatientIDs: datatypes.JSON(ids),
		Status:     StatusQueued,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return models.EvaluationJob{}, err
	}

	go s.run(job.ID, input)
	return toDomain(job), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.EvaluationJob, error) {
	job, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.EvaluationJob{}, err
	}
	return toDomain(job), nil
}

func (s *Service) List(ctx context.Context, limit int) ([]models.EvaluationJob, error) {
	jobs, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	results := make([]models.EvaluationJob, 0, len(jobs))
	for i := range jobs {
		results = append(results, toDomain(&jobs[i]))
	}
	return results, nil
}

func (s *Service) run(jobID uuid.UUID, input CreateJobInput) {
	s.workerSem <- struct{}{}
	defer func() { <-s.workerSem }()

	ctx := context.Background()
	start := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, jobID, StatusRunning, nil, "", ""); err != nil {
		logger.Log.WithError(err).Error("failed to mark evaluation running")
	}
	if err := s.repo.SetTimestamps(ctx, jobID, &start, nil); err != nil {
		logger.Log.WithError(err).Error("failed to set start timestamp")
	}

	model, err := s.modelSrc.Load(input.ModelName)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Errorf("loading model %s: %w", input.ModelName, err))
		return
	}

	metrics, err := s.evaluate(ctx, model, input.PatientIDs)
	if err != nil {
		s.failJob(ctx, jobID, err)
		return
	}
	metrics["model_version"] = model.Version
	metrics["duration_seconds"] = time.Since(start).Seconds()

	artifactPath, err := s.writeArtifact(jobID, input, metrics)
	if err != nil {
		s.failJob(ctx, jobID, fmt.Errorf("artifact write failed: %w", err))
		return
	}

	if err := s.repo.UpdateStatus(ctx, jobID, StatusCompleted, metrics, artifactPath, ""); err != nil {
		logger.Log.WithError(err).Error("failed to mark evaluation complete")
	}
	obsmetrics.EvaluationCompleted()
	completed := time.Now().UTC()
	if err := s.repo.SetTimestamps(ctx, jobID, nil, &completed); err != nil {
		logger.Log.WithError(err).Error("failed to set completion timestamp")
	}
}

// evaluate replays each patient's history through the model and accumulates
// masked errors: per-score MAE of the recurrence's reconstructions against
// the measured scores, and per-modality reconstruction loss of the fusion
// decoders against the observed feature vectors. Unobserved elements
// contribute nothing anywhere.
func (s *Service) evaluate(ctx context.Context, model *forecast.Model, patientIDs []string) (map[string]interface{}, error) {
	var (
		scoreErr    [models.NumScores]float64
		scoreCount  [models.NumScores]float64
		reconLoss   = map[string]float64{"structural": 0, "metabolic": 0, "demographic": 0}
		reconWeight = map[string]float64{"structural": 0, "metabolic": 0, "demographic": 0}
		visits      int
		skipped     []string
	)

	for _, patientID := range patientIDs {
		seq, err := s.sequences.Assemble(ctx, patientID)
		if err != nil {
			logger.Log.WithError(err).WithField("patient_id", patientID).Warn("skipping patient in evaluation")
			skipped = append(skipped, patientID)
			continue
		}

		st := model.Forecaster.NewState()
		for _, visit := range seq.Visits {
			latent := model.Fusion.Encode(visit.Features, visit.Mask)

			s.accumulateRecon(model, visit, latent, reconLoss, reconWeight)

			stateVec, stateMask := forecast.BuildState(latent, visit)
			pred, err := model.Forecaster.Observe(st, stateVec, stateMask)
			if err != nil {
				return nil, fmt.Errorf("patient %s: %w", patientID, err)
			}
			for i := 0; i < models.NumScores; i++ {
				if visit.ScoreMask[i] == 0 {
					continue
				}
				scoreErr[i] += math.Abs(pred[i] - visit.Scores[i])
				scoreCount[i]++
			}
			visits++
		}
	}

	if visits == 0 {
		return nil, fmt.Errorf("no usable visits across %d patients", len(patientIDs))
	}

	mae := map[string]interface{}{}
	for i, name := range models.ScoreNames {
		if scoreCount[i] > 0 {
			mae[name] = scoreErr[i] / scoreCount[i]
		}
	}
	recon := map[string]interface{}{}
	for modality, loss := range reconLoss {
		if reconWeight[modality] > 0 {
			recon[modality] = loss / reconWeight[modality]
		}
	}

	return map[string]interface{}{
		"patients_requested":  len(patientIDs),
		"patients_skipped":    len(skipped),
		"skipped_patient_ids": skipped,
		"visits_evaluated":    visits,
		"score_mae":           mae,
		"reconstruction_mse":  recon,
	}, nil
}

func (s *Service) accumulateRecon(model *forecast.Model, visit models.AssembledVisit, latent []float64, loss, weight map[string]float64) {
	add := func(modality string, lo, hi int, recon []float64) {
		l, w := fusion.ReconstructionLoss(visit.Features[lo:hi], visit.Mask[lo:hi], recon)
		loss[modality] += l * w
		weight[modality] += w
	}
	lo, hi := model.Layout.StructuralRange()
	add("structural", lo, hi, model.Fusion.DecodeStructural(latent))
	lo, hi = model.Layout.MetabolicRange()
	add("metabolic", lo, hi, model.Fusion.DecodeMetabolic(latent))
	lo, hi = model.Layout.DemographicRange()
	add("demographic", lo, hi, model.Fusion.DecodeDemographic(latent))
}

func (s *Service) failJob(ctx context.Context, jobID uuid.UUID, err error) {
	obsmetrics.EvaluationFailed()
	logger.Log.WithError(err).Error("evaluation job failed")
	_ = s.repo.UpdateStatus(ctx, jobID, StatusFailed, nil, "", err.Error())
	completed := time.Now().UTC()
	_ = s.repo.SetTimestamps(ctx, jobID, nil, &completed)
}

func (s *Service) writeArtifact(jobID uuid.UUID, input CreateJobInput, metrics map[string]interface{}) (string, error) {
	artifact := map[string]interface{}{
		"job_id":      jobID.String(),
		"model_name":  input.ModelName,
		"patient_ids": input.PatientIDs,
		"metrics":     metrics,
		"created_at":  time.Now().UTC(),
	}
	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", err
	}
	path := filepath.Join(s.artifactDir, fmt.Sprintf("%s.json", jobID.String()))
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func toDomain(job *JobModel) models.EvaluationJob {
	result := models.EvaluationJob{
		ID:           job.ID,
		ModelName:    job.ModelName,
		Status:       job.Status,
		ArtifactPath: job.ArtifactPath,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		CompletedAt:  job.CompletedAt,
	}
	if job.PatientIDs != nil {
		_ = json.Unmarshal(job.PatientIDs, &result.PatientIDs)
	}
	if job.Metrics != nil {
		result.Metrics = map[string]interface{}(job.Metrics)
	}
	return result
}
