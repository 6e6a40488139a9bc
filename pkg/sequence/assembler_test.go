package sequence

import (
	"context"
	"testing"
	"time"

	"github.com/neurocast-ai/platform/pkg/common/logger"
	"github.com/neurocast-ai/platform/pkg/common/models"
)

func TestMain(m *testing.M) {
	logger.Init("sequence-test")
	m.Run()
}

func f(v float64) *float64 { return &v }

type stubVisits struct {
	visits []models.Visit
	err    error
}

func (s *stubVisits) ListVisits(context.Context, string) ([]models.Visit, error) {
	return s.visits, s.err
}

type stubFeatures struct {
	records map[string]models.FeatureRecord
	asked   []string
}

func (s *stubFeatures) Peek(_ context.Context, patientID string, visitDate time.Time) (models.FeatureRecord, bool, error) {
	rec, ok := s.records[visitDate.Format("2006-01-02")]
	return rec, ok, nil
}

func (s *stubFeatures) EnsureAsync(_ string, visitDate time.Time) {
	s.asked = append(s.asked, visitDate.Format("2006-01-02"))
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func testLayout() Layout {
	return Layout{StructuralDim: 3, MetabolicDim: 3}
}

func TestValidateVisits(t *testing.T) {
	cases := []struct {
		name   string
		visits []models.Visit
		valid  bool
	}{
		{"empty", nil, false},
		{"single", []models.Visit{{VisitDate: day(1)}}, true},
		{"ordered", []models.Visit{{VisitDate: day(1)}, {VisitDate: day(9)}}, true},
		{"duplicate", []models.Visit{{VisitDate: day(1)}, {VisitDate: day(1)}}, false},
		{"unordered", []models.Visit{{VisitDate: day(9)}, {VisitDate: day(1)}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateVisits(tc.visits)
			if tc.valid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.valid {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !IsValidationError(err) {
					t.Fatalf("expected ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestAssembleMergesModalitiesWithMask(t *testing.T) {
	visits := &stubVisits{visits: []models.Visit{{
		PatientID: "PAT-001",
		VisitDate: day(1),
		Demographics: models.Demographics{
			AgeAtVisit:     f(71.5),
			Sex:            f(1),
			EducationYears: f(16),
		},
		MMSE:    f(24),
		ADASCog: f(21.5),
	}}}
	features := &stubFeatures{records: map[string]models.FeatureRecord{
		"2024-01-01": {
			Structural:         []float64{0.4, 0.5, 0.6},
			StructuralObserved: true,
			MetabolicObserved:  false,
		},
	}}

	asm := NewAssembler(visits, features, testLayout())
	seq, err := asm.Assemble(context.Background(), "PAT-001")
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if len(seq.Visits) != 1 {
		t.Fatalf("expected one assembled visit, got %d", len(seq.Visits))
	}

	av := seq.Visits[0]
	layout := testLayout()
	if len(av.Features) != layout.TotalDim() || len(av.Mask) != layout.TotalDim() {
		t.Fatalf("feature/mask width mismatch: %d/%d", len(av.Features), len(av.Mask))
	}

	lo, hi := layout.StructuralRange()
	for i := lo; i < hi; i++ {
		if av.Mask[i] != 1 {
			t.Errorf("structural mask[%d] = %v, want 1", i, av.Mask[i])
		}
	}
	lo, hi = layout.MetabolicRange()
	for i := lo; i < hi; i++ {
		if av.Mask[i] != 0 || av.Features[i] != 0 {
			t.Errorf("metabolic position %d should be masked placeholder, got value %v mask %v",
				i, av.Features[i], av.Mask[i])
		}
	}
	if !av.ImagingObserved {
		t.Error("expected imaging observed with structural present")
	}

	// Demographics: risk alleles were never measured.
	lo, _ = layout.DemographicRange()
	if av.Mask[lo+demoRiskAlleles] != 0 {
		t.Error("unmeasured risk-allele count must be masked")
	}
	if av.Mask[lo+demoAge] != 1 || av.Features[lo+demoAge] != 71.5 {
		t.Errorf("age not carried through: value %v mask %v", av.Features[lo+demoAge], av.Mask[lo+demoAge])
	}

	// Scores: CDR fields unmeasured.
	if av.ScoreMask[models.ScoreMMSE] != 1 || av.ScoreMask[models.ScoreCDRGlobal] != 0 ||
		av.ScoreMask[models.ScoreCDRSOB] != 0 || av.ScoreMask[models.ScoreADASCog] != 1 {
		t.Errorf("unexpected score mask %v", av.ScoreMask)
	}
	if av.Scores[models.ScoreCDRGlobal] != 0 {
		t.Error("unmeasured score must hold the zero placeholder")
	}
}

func TestAssembleTreatsMissingRecordAsAbsentAndSchedulesExtraction(t *testing.T) {
	visits := &stubVisits{visits: []models.Visit{
		{PatientID: "PAT-002", VisitDate: day(1), MMSE: f(26)},
		{PatientID: "PAT-002", VisitDate: day(15), MMSE: f(25)},
	}}
	features := &stubFeatures{records: map[string]models.FeatureRecord{}}

	asm := NewAssembler(visits, features, testLayout())
	seq, err := asm.Assemble(context.Background(), "PAT-002")
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}

	for _, av := range seq.Visits {
		if av.ImagingObserved {
			t.Error("imaging must be absent when no record is committed")
		}
		layout := testLayout()
		lo, hi := layout.StructuralRange()
		for i := lo; i < hi; i++ {
			if av.Mask[i] != 0 {
				t.Fatalf("imaging mask must be zero without a committed record")
			}
		}
	}
	if len(features.asked) != 2 {
		t.Fatalf("expected background extraction scheduled for both visits, got %v", features.asked)
	}
}

func TestAssembleRejectsInvalidSequences(t *testing.T) {
	visits := &stubVisits{visits: []models.Visit{
		{PatientID: "PAT-003", VisitDate: day(9)},
		{PatientID: "PAT-003", VisitDate: day(1)},
	}}
	asm := NewAssembler(visits, &stubFeatures{}, testLayout())
	if _, err := asm.Assemble(context.Background(), "PAT-003"); !IsValidationError(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAssembleWrongWidthVectorTreatedAbsent(t *testing.T) {
	visits := &stubVisits{visits: []models.Visit{{PatientID: "PAT-004", VisitDate: day(1)}}}
	features := &stubFeatures{records: map[string]models.FeatureRecord{
		"2024-01-01": {
			Structural:         []float64{1, 2}, // layout expects 3
			StructuralObserved: true,
		},
	}}
	asm := NewAssembler(visits, features, testLayout())
	seq, err := asm.Assemble(context.Background(), "PAT-004")
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	if seq.Visits[0].ImagingObserved {
		t.Error("wrong-width vector must not count as observed imaging")
	}
}
