// Package sequence turns a patient's clinical record and cached imaging
// features into the fixed-width masked vectors the forecasting engine
// consumes.
package sequence

import (
	"context"
	"time"

	"github.com/neurocast-ai/platform/pkg/common/logger"
	"github.com/neurocast-ai/platform/pkg/common/models"
)

// DemographicDim is the width of the demographics block: age, sex, education
// years, risk-allele count, plus the visit's MMSE / CDR-Global / ADAS-Cog as
// auxiliary inputs (the source cohort format).
const DemographicDim = 7

// Demographics block offsets within the block.
const (
	demoAge = iota
	demoSex
	demoEducation
	demoRiskAlleles
	demoMMSE
	demoCDRGlobal
	demoADASCog
)

// Layout fixes where each modality lives inside the assembled feature vector:
// [structural | metabolic | demographics].
type Layout struct {
	StructuralDim int
	MetabolicDim  int
}

func (l Layout) TotalDim() int {
	return l.StructuralDim + l.MetabolicDim + DemographicDim
}

func (l Layout) StructuralRange() (int, int) { return 0, l.StructuralDim }
func (l Layout) MetabolicRange() (int, int) {
	return l.StructuralDim, l.StructuralDim + l.MetabolicDim
}
func (l Layout) DemographicRange() (int, int) {
	return l.StructuralDim + l.MetabolicDim, l.TotalDim()
}

// VisitSource lists a patient's ordered visits from the clinical registry.
type VisitSource interface {
	ListVisits(ctx context.Context, patientID string) ([]models.Visit, error)
}

// FeatureSource is the read path into the feature cache. Peek never blocks on
// extraction; EnsureAsync schedules one for a later call.
type FeatureSource interface {
	Peek(ctx context.Context, patientID string, visitDate time.Time) (models.FeatureRecord, bool, error)
	EnsureAsync(patientID string, visitDate time.Time)
}

type Assembler struct {
	visits   VisitSource
	features FeatureSource
	layout   Layout
}

func NewAssembler(visits VisitSource, features FeatureSource, layout Layout) *Assembler {
	return &Assembler{visits: visits, features: features, layout: layout}
}

// Assemble builds the immutable per-forecast snapshot for one patient. Each
// visit becomes one feature vector plus a parallel observed mask; unobserved
// fields hold a zero placeholder and a zero mask entry. A missing, in-flight
// or failed extraction means the imaging modalities are absent for that
// visit, never zero.
func (a *Assembler) Assemble(ctx context.Context, patientID string) (models.PatientSequence, error) {
	visits, err := a.visits.ListVisits(ctx, patientID)
	if err != nil {
		return models.PatientSequence{}, err
	}
	if err := ValidateVisits(visits); err != nil {
		return models.PatientSequence{}, err
	}

	assembled := make([]models.AssembledVisit, 0, len(visits))
	for _, visit := range visits {
		av, err := a.assembleVisit(ctx, visit)
		if err != nil {
			return models.PatientSequence{}, err
		}
		assembled = append(assembled, av)
	}

	return models.PatientSequence{PatientID: patientID, Visits: assembled}, nil
}

func (a *Assembler) assembleVisit(ctx context.Context, visit models.Visit) (models.AssembledVisit, error) {
	total := a.layout.TotalDim()
	featureVec := make([]float64, total)
	mask := make([]float64, total)

	record, found, err := a.features.Peek(ctx, visit.PatientID, visit.VisitDate)
	if err != nil {
		return models.AssembledVisit{}, err
	}
	if !found {
		a.features.EnsureAsync(visit.PatientID, visit.VisitDate)
		logger.Log.WithFields(map[string]interface{}{
			"patient_id": visit.PatientID,
			"visit_date": visit.VisitDate.Format("2006-01-02"),
		}).Debug("no committed feature record, imaging treated as absent")
	}

	imaging := false
	if found && record.StructuralObserved {
		lo, hi := a.layout.StructuralRange()
		if len(record.Structural) == hi-lo {
			copy(featureVec[lo:hi], record.Structural)
			fill(mask[lo:hi], 1)
			imaging = true
		} else {
			logger.Log.WithFields(map[string]interface{}{
				"patient_id": visit.PatientID,
				"expected":   hi - lo,
				"got":        len(record.Structural),
			}).Warn("structural vector has wrong width, treating as absent")
		}
	}
	if found && record.MetabolicObserved {
		lo, hi := a.layout.MetabolicRange()
		if len(record.Metabolic) == hi-lo {
			copy(featureVec[lo:hi], record.Metabolic)
			fill(mask[lo:hi], 1)
			imaging = true
		} else {
			logger.Log.WithFields(map[string]interface{}{
				"patient_id": visit.PatientID,
				"expected":   hi - lo,
				"got":        len(record.Metabolic),
			}).Warn("metabolic vector has wrong width, treating as absent")
		}
	}

	scores, scoreMask := visit.ScoreVector()

	lo, _ := a.layout.DemographicRange()
	setDemo := func(offset int, p *float64) {
		if p != nil {
			featureVec[lo+offset] = *p
			mask[lo+offset] = 1
		}
	}
	setDemo(demoAge, visit.Demographics.AgeAtVisit)
	setDemo(demoSex, visit.Demographics.Sex)
	setDemo(demoEducation, visit.Demographics.EducationYears)
	setDemo(demoRiskAlleles, visit.Demographics.RiskAlleleCount)
	setDemo(demoMMSE, visit.MMSE)
	setDemo(demoCDRGlobal, visit.CDRGlobal)
	setDemo(demoADASCog, visit.ADASCog)

	return models.AssembledVisit{
		VisitDate:       visit.VisitDate,
		Features:        featureVec,
		Mask:            mask,
		Scores:          scores,
		ScoreMask:       scoreMask,
		ImagingObserved: imaging,
	}, nil
}

func fill(s []float64, v float64) {
	for i := range s {
		s[i] = v
	}
}
