package forecast

import (
	"fmt"
	"math"
	"os"

	"github.com/neurocast-ai/platform/pkg/common/models"
	"gopkg.in/yaml.v3"
)

// ScoreDomain is one clinical score's valid domain plus its plausible
// month-over-month rate of change. A non-empty Categories list makes the
// score categorical: clamped values snap to the nearest permitted category.
type ScoreDomain struct {
	Min              float64   `yaml:"min" json:"min"`
	Max              float64   `yaml:"max" json:"max"`
	Categories       []float64 `yaml:"categories,omitempty" json:"categories,omitempty"`
	MaxMonthlyChange float64   `yaml:"max_monthly_change,omitempty" json:"max_monthly_change,omitempty"`
}

// ConstraintConfig drives the post-processor. Domains and thresholds are
// deployment configuration, not learned parameters.
type ConstraintConfig struct {
	Scores map[string]ScoreDomain `yaml:"scores"`
	// ADASCategoryThresholds maps the constrained ADAS-Cog value onto the
	// CDR-Global categories: value < Thresholds[i] selects Categories[i].
	ADASCategoryThresholds []float64 `yaml:"adas_category_thresholds"`
	// ViolationTolerance is the fraction of a score's domain width a raw
	// prediction may overshoot before the clamp is reported as a
	// data-quality signal.
	ViolationTolerance float64 `yaml:"violation_tolerance"`
}

// DefaultConstraintConfig returns the clinical domains of the four scores:
// MMSE 0-30, CDR-Global {0, 0.5, 1, 2, 3}, CDR-SOB 0-18, ADAS-Cog 0-70.
func DefaultConstraintConfig() ConstraintConfig {
	return ConstraintConfig{
		Scores: map[string]ScoreDomain{
			"mmse":       {Min: 0, Max: 30, MaxMonthlyChange: 1.5},
			"cdr_global": {Min: 0, Max: 3, Categories: []float64{0, 0.5, 1, 2, 3}},
			"cdr_sob":    {Min: 0, Max: 18, MaxMonthlyChange: 0.5},
			"adas_cog":   {Min: 0, Max: 70, MaxMonthlyChange: 2.0},
		},
		ADASCategoryThresholds: []float64{10, 20, 32, 55},
		ViolationTolerance:     0.1,
	}
}

// LoadConstraintConfig reads domain overrides from a YAML file. An empty
// path returns the defaults.
func LoadConstraintConfig(path string) (ConstraintConfig, error) {
	cfg := DefaultConstraintConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	var overrides ConstraintConfig
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return cfg, fmt.Errorf("invalid constraint config: %w", err)
	}
	for name, domain := range overrides.Scores {
		cfg.Scores[name] = domain
	}
	if len(overrides.ADASCategoryThresholds) > 0 {
		cfg.ADASCategoryThresholds = overrides.ADASCategoryThresholds
	}
	if overrides.ViolationTolerance > 0 {
		cfg.ViolationTolerance = overrides.ViolationTolerance
	}
	return cfg, nil
}

// Violation records one clamp large enough to matter as a model-drift
// signal. Routine small clamps are silent corrections.
type Violation struct {
	Score       string  `json:"score"`
	Step        int     `json:"step"`
	Raw         float64 `json:"raw"`
	Constrained float64 `json:"constrained"`
}

// PostProcessor turns raw forecaster output into clinically valid
// trajectories. Purely deterministic; no learned parameters.
type PostProcessor struct {
	domains    [models.NumScores]ScoreDomain
	thresholds []float64
	tolerance  float64
}

func NewPostProcessor(cfg ConstraintConfig) (*PostProcessor, error) {
	p := &PostProcessor{
		thresholds: cfg.ADASCategoryThresholds,
		tolerance:  cfg.ViolationTolerance,
	}
	for i, name := range models.ScoreNames {
		domain, ok := cfg.Scores[name]
		if !ok {
			return nil, fmt.Errorf("constraint config missing score %q", name)
		}
		if domain.Max <= domain.Min {
			return nil, fmt.Errorf("score %q has empty domain [%v, %v]", name, domain.Min, domain.Max)
		}
		p.domains[i] = domain
	}
	cdr := p.domains[models.ScoreCDRGlobal]
	if len(cdr.Categories) == 0 {
		return nil, fmt.Errorf("cdr_global must declare its category set")
	}
	if len(p.thresholds) != len(cdr.Categories)-1 {
		return nil, fmt.Errorf("need %d adas thresholds for %d categories, got %d",
			len(cdr.Categories)-1, len(cdr.Categories), len(p.thresholds))
	}
	return p, nil
}

// Clamp forces one raw value into its score's valid domain; categorical
// scores additionally snap to the nearest permitted category. Valid input
// comes back unchanged.
func (p *PostProcessor) Clamp(score int, value float64) float64 {
	domain := p.domains[score]
	v := math.Max(domain.Min, math.Min(domain.Max, value))
	if len(domain.Categories) > 0 {
		v = nearestCategory(domain.Categories, v)
	}
	return v
}

// Apply post-processes a raw rollout trajectory. baseline holds the filled
// state scores at the last observed visit; stepMonths is the calendar
// spacing per step. The result is one constrained score vector per step plus
// the clamps big enough to report.
//
// ADAS-Cog anchors the trajectory: negative steps are reflected into
// progression (the disease does not run backwards on this scale), each step
// is rate-bounded, and an endpoint that escapes the domain rescales the
// whole path instead of saturating. CDR-Global is re-derived from the
// constrained ADAS-Cog value. MMSE and CDR-SOB are rate-bounded around
// their own raw deltas and clamped.
func (p *PostProcessor) Apply(baseline []float64, stepMonths float64, raw [][]float64) ([][]float64, []Violation) {
	var violations []Violation
	out := make([][]float64, len(raw))

	adas := p.adasTrajectory(baseline, stepMonths, raw)

	prev := make([]float64, models.NumScores)
	for i := range prev {
		prev[i] = p.Clamp(i, baseline[i])
	}

	for t, rawStep := range raw {
		step := make([]float64, models.NumScores)

		for i := 0; i < models.NumScores; i++ {
			if i == models.ScoreCDRGlobal || i == models.ScoreADASCog {
				continue
			}
			rawPrev := baseline[i]
			if t > 0 {
				rawPrev = raw[t-1][i]
			}
			delta := p.boundRate(i, rawStep[i]-rawPrev, stepMonths)
			step[i] = p.Clamp(i, prev[i]+delta)
			p.noteViolation(&violations, i, t, rawStep[i], step[i])
		}

		step[models.ScoreADASCog] = adas[t]
		p.noteViolation(&violations, models.ScoreADASCog, t, rawStep[models.ScoreADASCog], adas[t])

		// CDR-Global is derived, never taken from the model's raw channel,
		// so a disagreement between the two is not a quality signal.
		step[models.ScoreCDRGlobal] = p.categoryForADAS(adas[t])

		out[t] = step
		prev = step
	}
	return out, violations
}

// adasTrajectory builds the monotone ADAS-Cog path: negative raw deltas are
// reflected into progression and every step is rate-bounded. An endpoint
// past the domain ceiling rescales the whole trajectory proportionally
// toward the baseline, preserving its shape rather than flattening the tail
// against the ceiling.
func (p *PostProcessor) adasTrajectory(baseline []float64, stepMonths float64, raw [][]float64) []float64 {
	if len(raw) == 0 {
		return nil
	}
	domain := p.domains[models.ScoreADASCog]
	base := p.Clamp(models.ScoreADASCog, baseline[models.ScoreADASCog])

	adas := make([]float64, len(raw))
	prev := base
	for t, rawStep := range raw {
		rawPrev := baseline[models.ScoreADASCog]
		if t > 0 {
			rawPrev = raw[t-1][models.ScoreADASCog]
		}
		delta := rawStep[models.ScoreADASCog] - rawPrev
		if delta < 0 {
			delta = -delta
		}
		prev += p.boundRate(models.ScoreADASCog, delta, stepMonths)
		adas[t] = prev
	}

	if last := adas[len(adas)-1]; last > domain.Max && last > base {
		scale := (domain.Max - base) / (last - base)
		for t := range adas {
			adas[t] = base + (adas[t]-base)*scale
		}
	}
	return adas
}

// ClampVector clamps one score vector per-point with no trajectory
// smoothing. Used for historical reconstructions.
func (p *PostProcessor) ClampVector(scores []float64) []float64 {
	out := make([]float64, models.NumScores)
	for i := 0; i < models.NumScores; i++ {
		out[i] = p.Clamp(i, scores[i])
	}
	return out
}

func (p *PostProcessor) boundRate(score int, delta, stepMonths float64) float64 {
	rate := p.domains[score].MaxMonthlyChange
	if rate <= 0 || stepMonths <= 0 {
		return delta
	}
	limit := rate * stepMonths
	return math.Max(-limit, math.Min(limit, delta))
}

func (p *PostProcessor) categoryForADAS(adas float64) float64 {
	categories := p.domains[models.ScoreCDRGlobal].Categories
	for i, threshold := range p.thresholds {
		if adas < threshold {
			return categories[i]
		}
	}
	return categories[len(categories)-1]
}

func (p *PostProcessor) noteViolation(violations *[]Violation, score, step int, raw, constrained float64) {
	domain := p.domains[score]
	width := domain.Max - domain.Min
	if math.Abs(raw-constrained) > p.tolerance*width {
		*violations = append(*violations, Violation{
			Score:       models.ScoreNames[score],
			Step:        step,
			Raw:         raw,
			Constrained: constrained,
		})
	}
}

func nearestCategory(categories []float64, v float64) float64 {
	best := categories[0]
	bestDist := math.Abs(v - best)
	for _, c := range categories[1:] {
		if d := math.Abs(v - c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
