package evaluation

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// JobModel is the persisted evaluation job row.
type JobModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	ModelName    string            `gorm:"column:model_name"`
	PatientIDs   datatypes.JSON    `gorm:"column:patient_ids"`
	Status       string            `gorm:"column:status"`
	Metrics      datatypes.JSONMap `gorm:"column:metrics"`
	ArtifactPath string            `gorm:"column:artifact_path"`
	ErrorMessage string            `gorm:"column:error_message"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
	StartedAt    *time.Time        `gorm:"column:started_at"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
}

func (JobModel) TableName() string {
	return "evaluation_jobs"
}

// QualitySignalModel persists one constraint violation reported by the
// forecast path, for drift review.
type QualitySignalModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;column:id"`
	PatientID    string    `gorm:"column:patient_id;index"`
	ModelVersion string    `gorm:"column:model_version"`
	Score        string    `gorm:"column:score"`
	Step         int       `gorm:"column:step"`
	RawValue     float64   `gorm:"column:raw_value"`
	Constrained  float64   `gorm:"column:constrained_value"`
	ReceivedAt   time.Time `gorm:"column:received_at"`
}

func (QualitySignalModel) TableName() string {
	return "quality_signals"
}

type CreateJobInput struct {
	ModelName  string   `json:"model_name"`
	PatientIDs []string `json:"patient_ids"`
}
