package features

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/neurocast-ai/platform/pkg/common/logger"
	"github.com/neurocast-ai/platform/pkg/common/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store persists committed feature records keyed by (patient_id, visit_date).
// Entries never expire; they are removed only by an explicit supersede signal.
type Store interface {
	Get(ctx context.Context, patientID string, visitDate time.Time) (models.FeatureRecord, bool, error)
	Put(ctx context.Context, record models.FeatureRecord) error
	Delete(ctx context.Context, patientID string, visitDate time.Time) error
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

type featureRow struct {
	PatientID   string         `gorm:"primaryKey;column:patient_id"`
	VisitDate   string         `gorm:"primaryKey;column:visit_date"`
	Payload     datatypes.JSON `gorm:"column:payload"`
	ExtractedAt time.Time      `gorm:"column:extracted_at"`
}

func (featureRow) TableName() string {
	return "feature_records"
}

// TieredStore keeps the durable copy in Postgres and a hot copy in Redis.
// Reads fall through Redis to Postgres and repopulate the hot tier.
type TieredStore struct {
	db     *gorm.DB
	redis  *redis.Client
	prefix string
}

func NewTieredStore(db *gorm.DB, redisClient *redis.Client, prefix string) *TieredStore {
	return &TieredStore{db: db, redis: redisClient, prefix: prefix}
}

func (s *TieredStore) AutoMigrate() error {
	return s.db.AutoMigrate(&featureRow{})
}

func (s *TieredStore) redisKey(patientID, date string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, patientID, date)
}

func (s *TieredStore) Get(ctx context.Context, patientID string, visitDate time.Time) (models.FeatureRecord, bool, error) {
	date := dateKey(visitDate)

	if s.redis != nil {
		raw, err := s.redis.Get(ctx, s.redisKey(patientID, date)).Bytes()
		if err == nil {
			var record models.FeatureRecord
			if err := json.Unmarshal(raw, &record); err == nil {
				return record, true, nil
			}
			logger.Log.WithFields(map[string]interface{}{
				"patient_id": patientID,
				"visit_date": date,
			}).Warn("corrupt hot-tier feature entry, falling back to durable tier")
		} else if !errors.Is(err, redis.Nil) {
			logger.Log.WithError(err).Warn("hot-tier read failed, falling back to durable tier")
		}
	}

	var row featureRow
	result := s.db.WithContext(ctx).First(&row, "patient_id = ? AND visit_date = ?", patientID, date)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return models.FeatureRecord{}, false, nil
	}
	if result.Error != nil {
		return models.FeatureRecord{}, false, result.Error
	}

	var record models.FeatureRecord
	if err := json.Unmarshal(row.Payload, &record); err != nil {
		return models.FeatureRecord{}, false, fmt.Errorf("corrupt feature record %s/%s: %w", patientID, date, err)
	}

	if s.redis != nil {
		if raw, err := json.Marshal(record); err == nil {
			// No expiry: records are invalidated explicitly, never by time.
			if err := s.redis.Set(ctx, s.redisKey(patientID, date), raw, 0).Err(); err != nil {
				logger.Log.WithError(err).Warn("failed to repopulate hot tier")
			}
		}
	}

	return record, true, nil
}

func (s *TieredStore) Put(ctx context.Context, record models.FeatureRecord) error {
	date := dateKey(record.VisitDate)

	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}

	row := featureRow{
		PatientID:   record.PatientID,
		VisitDate:   date,
		Payload:     datatypes.JSON(raw),
		ExtractedAt: record.ExtractedAt,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return err
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, s.redisKey(record.PatientID, date), raw, 0).Err(); err != nil {
			logger.Log.WithError(err).Warn("failed to write hot tier, durable tier committed")
		}
	}
	return nil
}

func (s *TieredStore) Delete(ctx context.Context, patientID string, visitDate time.Time) error {
	date := dateKey(visitDate)

	if err := s.db.WithContext(ctx).Delete(&featureRow{}, "patient_id = ? AND visit_date = ?", patientID, date).Error; err != nil {
		return err
	}
	if s.redis != nil {
		if err := s.redis.Del(ctx, s.redisKey(patientID, date)).Err(); err != nil {
			logger.Log.WithError(err).Warn("failed to delete hot-tier entry")
		}
	}
	return nil
}
