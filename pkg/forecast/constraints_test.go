package forecast

import (
	"math"
	"testing"

	"github.com/neurocast-ai/platform/pkg/common/models"
)

func newTestPostProcessor(t *testing.T) *PostProcessor {
	t.Helper()
	p, err := NewPostProcessor(DefaultConstraintConfig())
	if err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
	return p
}

func TestClampEnforcesScoreDomains(t *testing.T) {
	p := newTestPostProcessor(t)

	tests := []struct {
		name  string
		score int
		in    float64
		want  float64
	}{
		{"mmse below floor", models.ScoreMMSE, -4.2, 0},
		{"mmse above ceiling", models.ScoreMMSE, 33.7, 30},
		{"mmse in range untouched", models.ScoreMMSE, 27.3, 27.3},
		{"cdr global snaps down", models.ScoreCDRGlobal, 0.2, 0},
		{"cdr global snaps up", models.ScoreCDRGlobal, 0.8, 1},
		{"cdr global off-grid mid", models.ScoreCDRGlobal, 1.4, 1},
		{"cdr global above ceiling", models.ScoreCDRGlobal, 5.5, 3},
		{"cdr sob negative", models.ScoreCDRSOB, -1, 0},
		{"cdr sob in range", models.ScoreCDRSOB, 9.5, 9.5},
		{"adas above ceiling", models.ScoreADASCog, 92, 70},
		{"adas in range", models.ScoreADASCog, 41.2, 41.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Clamp(tt.score, tt.in)
			if got != tt.want {
				t.Fatalf("Clamp(%s, %v) = %v, want %v", models.ScoreNames[tt.score], tt.in, got, tt.want)
			}
			if again := p.Clamp(tt.score, got); again != got {
				t.Fatalf("clamp not idempotent: %v -> %v", got, again)
			}
		})
	}
}

func TestApplyProducesMonotoneADAS(t *testing.T) {
	p := newTestPostProcessor(t)

	baseline := []float64{26, 0.5, 2.5, 18}
	// The raw rollout wanders downwards on ADAS; the constrained trajectory
	// must still progress.
	raw := [][]float64{
		{25, 0.5, 2.8, 19.5},
		{24, 0.5, 3.0, 17.0}, // raw ADAS regresses
		{23, 1.0, 3.4, 16.0}, // and again
		{22, 1.0, 3.9, 21.0},
	}
	constrained, _ := p.Apply(baseline, 6, raw)

	prev := baseline[models.ScoreADASCog]
	for t2, step := range constrained {
		if step[models.ScoreADASCog] < prev {
			t.Fatalf("ADAS decreased at step %d: %v -> %v", t2, prev, step[models.ScoreADASCog])
		}
		prev = step[models.ScoreADASCog]
	}
}

func TestApplyBoundsRateOfChange(t *testing.T) {
	p := newTestPostProcessor(t)

	baseline := []float64{28, 0, 0.5, 8}
	// One step that tries to collapse MMSE by 20 points over 6 months.
	raw := [][]float64{{8, 0, 14, 9}}
	constrained, violations := p.Apply(baseline, 6, raw)

	step := constrained[0]
	if step[models.ScoreMMSE] < 28-1.5*6-1e-9 {
		t.Fatalf("MMSE fell %v points in one 6-month step, limit is %v", 28-step[models.ScoreMMSE], 1.5*6)
	}
	if step[models.ScoreCDRSOB] > 0.5+0.5*6+1e-9 {
		t.Fatalf("CDR-SOB rose %v points in one 6-month step, limit is %v", step[models.ScoreCDRSOB]-0.5, 0.5*6)
	}
	if len(violations) == 0 {
		t.Fatal("a 20-point MMSE clamp should be reported as a violation")
	}
}

func TestApplyDerivesCDRGlobalFromADAS(t *testing.T) {
	p := newTestPostProcessor(t)

	tests := []struct {
		adas float64
		want float64
	}{
		{5, 0},
		{15, 0.5},
		{25, 1},
		{40, 2},
		{60, 3},
	}
	for _, tt := range tests {
		if got := p.categoryForADAS(tt.adas); got != tt.want {
			t.Fatalf("ADAS %v should map to CDR-Global %v, got %v", tt.adas, tt.want, got)
		}
	}

	// End-to-end: a worsening ADAS trajectory carries CDR-Global across its
	// categories without ever stepping backwards.
	baseline := []float64{24, 0, 4, 8}
	raw := make([][]float64, 8)
	for i := range raw {
		raw[i] = []float64{24 - float64(i), 0, 4, 8 + 10*float64(i+1)}
	}
	constrained, _ := p.Apply(baseline, 6, raw)
	prev := constrained[0][models.ScoreCDRGlobal]
	for i, step := range constrained {
		cdr := step[models.ScoreCDRGlobal]
		if cdr < prev {
			t.Fatalf("CDR-Global regressed at step %d: %v -> %v", i, prev, cdr)
		}
		if cdr != p.categoryForADAS(step[models.ScoreADASCog]) {
			t.Fatalf("step %d CDR-Global %v inconsistent with ADAS %v", i, cdr, step[models.ScoreADASCog])
		}
		prev = cdr
	}
	if constrained[len(constrained)-1][models.ScoreCDRGlobal] <= constrained[0][models.ScoreCDRGlobal] {
		t.Fatal("steadily worsening ADAS should move CDR-Global up at least one category")
	}
}

func TestApplyRescalesADASOvershootProportionally(t *testing.T) {
	p := newTestPostProcessor(t)

	// A patient already near the ceiling with a steady +8/step rollout: the
	// unscaled path would hit 70 on the second step and flatten there.
	baseline := []float64{20, 1, 8, 60}
	raw := make([][]float64, 5)
	for i := range raw {
		raw[i] = []float64{20, 1, 8, 60 + 8*float64(i+1)}
	}
	constrained, _ := p.Apply(baseline, 6, raw)

	want := []float64{62, 64, 66, 68, 70}
	for t2, step := range constrained {
		if math.Abs(step[models.ScoreADASCog]-want[t2]) > 1e-9 {
			t.Fatalf("step %d ADAS = %v, want proportionally rescaled %v", t2, step[models.ScoreADASCog], want[t2])
		}
	}

	// Shape preserved: equal raw deltas stay equal after rescaling, so the
	// trajectory keeps progressing instead of saturating into a flat tail.
	firstDelta := constrained[0][models.ScoreADASCog] - baseline[models.ScoreADASCog]
	prev := constrained[0][models.ScoreADASCog]
	for t2 := 1; t2 < len(constrained); t2++ {
		delta := constrained[t2][models.ScoreADASCog] - prev
		if delta <= 0 {
			t.Fatalf("ADAS flattened at step %d", t2)
		}
		if math.Abs(delta-firstDelta) > 1e-9 {
			t.Fatalf("step %d delta %v diverged from %v, shape not preserved", t2, delta, firstDelta)
		}
		prev = constrained[t2][models.ScoreADASCog]
	}
	if last := constrained[len(constrained)-1][models.ScoreADASCog]; last != 70 {
		t.Fatalf("rescaled endpoint %v, want pinned to the domain ceiling 70", last)
	}
	for t2, step := range constrained {
		if step[models.ScoreCDRGlobal] != p.categoryForADAS(step[models.ScoreADASCog]) {
			t.Fatalf("step %d CDR-Global not derived from the rescaled ADAS", t2)
		}
	}
}

func TestApplyIgnoresRawCDRChannelDisagreement(t *testing.T) {
	p := newTestPostProcessor(t)

	baseline := []float64{27, 0, 1, 12}
	// The raw CDR channel claims severe dementia while ADAS stays early
	// stage. CDR-Global is derived from ADAS, so the disagreement must not
	// surface as a quality signal.
	raw := [][]float64{{27, 3, 1, 12.5}}
	constrained, violations := p.Apply(baseline, 6, raw)

	if got := constrained[0][models.ScoreCDRGlobal]; got != 0.5 {
		t.Fatalf("CDR-Global = %v, want 0.5 derived from ADAS 12.5", got)
	}
	for _, v := range violations {
		if v.Score == models.ScoreNames[models.ScoreCDRGlobal] {
			t.Fatalf("derived CDR-Global reported as a violation: %+v", v)
		}
	}
}

func TestApplyKeepsValidTrajectoryUntouched(t *testing.T) {
	p := newTestPostProcessor(t)

	baseline := []float64{27, 0.5, 2, 15}
	raw := [][]float64{
		{26.5, 0.5, 2.2, 16},
		{26.0, 0.5, 2.5, 17.2},
	}
	constrained, violations := p.Apply(baseline, 6, raw)
	if len(violations) != 0 {
		t.Fatalf("plausible trajectory produced violations: %+v", violations)
	}
	for t2, step := range constrained {
		for _, i := range []int{models.ScoreMMSE, models.ScoreCDRSOB, models.ScoreADASCog} {
			if math.Abs(step[i]-raw[t2][i]) > 1e-9 {
				t.Fatalf("step %d %s changed from %v to %v with no constraint active",
					t2, models.ScoreNames[i], raw[t2][i], step[i])
			}
		}
	}
}

func TestLoadConstraintConfigMergesOverrides(t *testing.T) {
	cfg, err := LoadConstraintConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Scores["mmse"].Max != 30 {
		t.Fatalf("empty path should return defaults, got mmse max %v", cfg.Scores["mmse"].Max)
	}
	if _, err := LoadConstraintConfig("/nonexistent/constraints.yaml"); err == nil {
		t.Fatal("missing override file should be an error")
	}
}

func TestNewPostProcessorRejectsBadConfig(t *testing.T) {
	cfg := DefaultConstraintConfig()
	delete(cfg.Scores, "adas_cog")
	if _, err := NewPostProcessor(cfg); err == nil {
		t.Fatal("missing score domain should be rejected")
	}

	cfg = DefaultConstraintConfig()
	cfg.ADASCategoryThresholds = []float64{10, 20}
	if _, err := NewPostProcessor(cfg); err == nil {
		t.Fatal("threshold/category count mismatch should be rejected")
	}

	cfg = DefaultConstraintConfig()
	cfg.Scores["mmse"] = ScoreDomain{Min: 10, Max: 10}
	if _, err := NewPostProcessor(cfg); err == nil {
		t.Fatal("empty domain should be rejected")
	}
}
