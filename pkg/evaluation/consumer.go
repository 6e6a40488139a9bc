package evaluation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/neurocast-ai/platform/pkg/common/logger"
	"github.com/neurocast-ai/platform/pkg/common/models"
)

// QualityHandler ingests forecast.quality events into the quality_signals
// table. One event carries every violation from a single forecast call.
// Routing by event type is the dispatcher's job.
func QualityHandler(repo *Repository) func(ctx context.Context, event models.Event) error {
	return func(ctx context.Context, event models.Event) error {
		patientID, _ := event.Data["patient_id"].(string)
		modelVersion, _ := event.Data["model_version"].(string)
		violations, _ := event.Data["violations"].([]interface{})

		for _, raw := range violations {
			v, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			signal := &QualitySignalModel{
				ID:           uuid.New(),
				PatientID:    patientID,
				ModelVersion: modelVersion,
				ReceivedAt:   time.Now().UTC(),
			}
			signal.Score, _ = v["score"].(string)
			if step, ok := v["step"].(float64); ok {
				signal.Step = int(step)
			}
			signal.RawValue, _ = v["raw"].(float64)
			signal.Constrained, _ = v["constrained"].(float64)

			if err := repo.RecordQualitySignal(ctx, signal); err != nil {
				return err
			}
		}

		logger.Log.WithFields(map[string]interface{}{
			"patient_id": patientID,
			"violations": len(violations),
		}).Debug("quality signals recorded")
		return nil
	}
}
