// Package registry adapts the external clinical-record collaborator: the
// ordered visit dates for a patient plus whatever demographic and score
// fields are on record. Imaging features are not stored here.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/neurocast-ai/platform/pkg/common/models"
	"gorm.io/gorm"
)

var ErrPatientNotFound = errors.New("patient not found")

type visitRow struct {
	PatientID       string    `gorm:"primaryKey;column:patient_id"`
	VisitDate       string    `gorm:"primaryKey;column:visit_date"`
	AgeAtVisit      *float64  `gorm:"column:age_at_visit"`
	Sex             *float64  `gorm:"column:sex"`
	EducationYears  *float64  `gorm:"column:education_years"`
	RiskAlleleCount *float64  `gorm:"column:risk_allele_count"`
	MMSE            *float64  `gorm:"column:mmse"`
	CDRGlobal       *float64  `gorm:"column:cdr_global"`
	CDRSOB          *float64  `gorm:"column:cdr_sob"`
	ADASCog         *float64  `gorm:"column:adas_cog"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (visitRow) TableName() string {
	return "clinical_visits"
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&visitRow{})
}

// ListVisits returns the patient's visits ordered by date. Fields that were
// never measured stay nil; downstream masks are built from that.
func (r *Repository) ListVisits(ctx context.Context, patientID string) ([]models.Visit, error) {
	var rows []visitRow
	result := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("visit_date asc").
		Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	if len(rows) == 0 {
		return nil, ErrPatientNotFound
	}

	visits := make([]models.Visit, 0, len(rows))
	for _, row := range rows {
		date, err := time.Parse("2006-01-02", row.VisitDate)
		if err != nil {
			return nil, err
		}
		visits = append(visits, models.Visit{
			PatientID: row.PatientID,
			VisitDate: date,
			Demographics: models.Demographics{
				AgeAtVisit:      row.AgeAtVisit,
				Sex:             row.Sex,
				EducationYears:  row.EducationYears,
				RiskAlleleCount: row.RiskAlleleCount,
			},
			MMSE:      row.MMSE,
			CDRGlobal: row.CDRGlobal,
			CDRSOB:    row.CDRSOB,
			ADASCog:   row.ADASCog,
		})
	}
	return visits, nil
}

// UpsertVisit records or updates one clinical visit. Used by ingestion jobs
// and test fixtures; the forecasting path itself never writes here.
func (r *Repository) UpsertVisit(ctx context.Context, visit models.Visit) error {
	row := visitRow{
		PatientID:       visit.PatientID,
		VisitDate:       visit.VisitDate.Format("2006-01-02"),
		AgeAtVisit:      visit.Demographics.AgeAtVisit,
		Sex:             visit.Demographics.Sex,
		EducationYears:  visit.Demographics.EducationYears,
		RiskAlleleCount: visit.Demographics.RiskAlleleCount,
		MMSE:            visit.MMSE,
		CDRGlobal:       visit.CDRGlobal,
		CDRSOB:          visit.CDRSOB,
		ADASCog:         visit.ADASCog,
	}
	return r.db.WithContext(ctx).Save(&row).Error
}
