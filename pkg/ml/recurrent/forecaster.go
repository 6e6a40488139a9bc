// Package recurrent implements the sequence forecaster: a recurrence over
// per-visit states that fills unobserved elements with a learned temporal
// derivative and keeps stepping past the last real visit to synthesize
// future ones.
package recurrent

import (
	"errors"
	"fmt"

	"github.com/neurocast-ai/platform/pkg/ml/fusion"
)

var ErrNoHistory = errors.New("rollout requires at least one observed step")

// Params holds the forecaster's trained weights. The state vector is
// concat(latent, scores) of width LatentDim+ScoreDim.
type Params struct {
	LatentDim int          `json:"latent_dim"`
	ScoreDim  int          `json:"score_dim"`
	HiddenDim int          `json:"hidden_dim"`
	Cell      Cell         `json:"cell"`
	Fill      fusion.Dense `json:"fill"`       // hidden -> state delta
	ScoreHead fusion.Dense `json:"score_head"` // hidden -> scores
}

func (p Params) StateDim() int {
	return p.LatentDim + p.ScoreDim
}

func (p Params) Validate() error {
	if p.LatentDim <= 0 || p.ScoreDim <= 0 || p.HiddenDim <= 0 {
		return fmt.Errorf("invalid dims: latent=%d scores=%d hidden=%d", p.LatentDim, p.ScoreDim, p.HiddenDim)
	}
	if err := p.Cell.Validate(p.StateDim(), p.HiddenDim); err != nil {
		return err
	}
	if p.Fill.InDim() != p.HiddenDim || p.Fill.OutDim() != p.StateDim() {
		return fmt.Errorf("fill layer is %dx%d, want %dx%d", p.Fill.OutDim(), p.Fill.InDim(), p.StateDim(), p.HiddenDim)
	}
	if p.ScoreHead.InDim() != p.HiddenDim || p.ScoreHead.OutDim() != p.ScoreDim {
		return fmt.Errorf("score head is %dx%d, want %dx%d", p.ScoreHead.OutDim(), p.ScoreHead.InDim(), p.ScoreDim, p.HiddenDim)
	}
	return nil
}

type Forecaster struct {
	params Params
}

func NewForecaster(params Params) (*Forecaster, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Forecaster{params: params}, nil
}

func (f *Forecaster) StateDim() int { return f.params.StateDim() }
func (f *Forecaster) ScoreDim() int { return f.params.ScoreDim }

// State is one forecast call's working set. It is exclusively owned by that
// call and never shared.
type State struct {
	hidden []float64
	cell   []float64
	filled []float64 // s_hat from the previous step
	steps  int
}

func (f *Forecaster) NewState() *State {
	return &State{
		hidden: make([]float64, f.params.HiddenDim),
		cell:   make([]float64, f.params.HiddenDim),
	}
}

// Steps reports how many steps (observed plus synthetic) this state has
// consumed.
func (s *State) Steps() int { return s.steps }

// LastFilled returns a copy of the most recent filled state s_hat.
func (s *State) LastFilled() []float64 {
	return append([]float64(nil), s.filled...)
}

// Hidden returns a copy of the current recurrent hidden state.
func (s *State) Hidden() []float64 {
	return append([]float64(nil), s.hidden...)
}

// DerivedEstimate computes the temporal-derivative fill for the next step:
// a learned projection of the previous hidden state added to the previous
// filled state. The additive prior-state term is what lets the model
// extrapolate a trend instead of predicting an absolute value from scratch.
func (f *Forecaster) DerivedEstimate(st *State) ([]float64, error) {
	if st.steps == 0 {
		return nil, ErrNoHistory
	}
	delta := f.params.Fill.Apply(st.hidden)
	estimate := make([]float64, len(delta))
	for i := range delta {
		estimate[i] = delta[i] + st.filled[i]
	}
	return estimate, nil
}

// Observe advances the recurrence over one historical visit. stateVec is
// concat(latent, scores) and mask is its parallel observed mask. The first
// step passes the assembled state through untouched; later steps blend the
// observed state with the derived estimate element-wise, so every masked-out
// element is replaced by the model's fill and every observed element passes
// through unchanged. Returns the score head's prediction for this visit.
func (f *Forecaster) Observe(st *State, stateVec, mask []float64) ([]float64, error) {
	if len(stateVec) != f.params.StateDim() || len(mask) != f.params.StateDim() {
		return nil, fmt.Errorf("state width %d/%d, want %d", len(stateVec), len(mask), f.params.StateDim())
	}

	var filled []float64
	if st.steps == 0 {
		filled = append([]float64(nil), stateVec...)
	} else {
		estimate, err := f.DerivedEstimate(st)
		if err != nil {
			return nil, err
		}
		filled = make([]float64, len(stateVec))
		for i := range stateVec {
			filled[i] = mask[i]*stateVec[i] + (1-mask[i])*estimate[i]
		}
	}

	f.advance(st, filled)
	return f.params.ScoreHead.Apply(st.hidden), nil
}

// Rollout advances one synthetic step beyond the observed sequence: there is
// no real state to blend in, so the filled state is the derived estimate
// unconditionally (a zero mask). Returns the filled state; its score slice is
// the raw forecast for this step. Callers invoke Rollout once per requested
// horizon step; the recurrence itself has no horizon bound.
func (f *Forecaster) Rollout(st *State) ([]float64, error) {
	estimate, err := f.DerivedEstimate(st)
	if err != nil {
		return nil, err
	}
	f.advance(st, estimate)
	return estimate, nil
}

// Scores extracts the score slice from a state vector.
func (f *Forecaster) Scores(stateVec []float64) []float64 {
	return stateVec[f.params.LatentDim:]
}

func (f *Forecaster) advance(st *State, filled []float64) {
	st.hidden, st.cell = f.params.Cell.Step(filled, st.hidden, st.cell)
	st.filled = filled
	st.steps++
}
