package recurrent

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/neurocast-ai/platform/pkg/ml/fusion"
)

func randomDense(rng *rand.Rand, out, in int) fusion.Dense {
	d := fusion.Dense{Weights: make([][]float64, out), Bias: make([]float64, out)}
	for i := 0; i < out; i++ {
		d.Weights[i] = make([]float64, in)
		for j := 0; j < in; j++ {
			d.Weights[i][j] = rng.NormFloat64() * 0.4
		}
		d.Bias[i] = rng.NormFloat64() * 0.1
	}
	return d
}

func randomGate(rng *rand.Rand, in, hidden int) Gate {
	g := Gate{
		Input:     make([][]float64, hidden),
		Recurrent: make([][]float64, hidden),
		Bias:      make([]float64, hidden),
	}
	for i := 0; i < hidden; i++ {
		g.Input[i] = make([]float64, in)
		for j := 0; j < in; j++ {
			g.Input[i][j] = rng.NormFloat64() * 0.4
		}
		g.Recurrent[i] = make([]float64, hidden)
		for j := 0; j < hidden; j++ {
			g.Recurrent[i][j] = rng.NormFloat64() * 0.4
		}
		g.Bias[i] = rng.NormFloat64() * 0.1
	}
	return g
}

func testParams(t *testing.T, seed int64) Params {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	latent, scores, hidden := 2, 2, 3
	state := latent + scores
	p := Params{
		LatentDim: latent,
		ScoreDim:  scores,
		HiddenDim: hidden,
		Cell: Cell{
			InputGate:  randomGate(rng, state, hidden),
			ForgetGate: randomGate(rng, state, hidden),
			CellGate:   randomGate(rng, state, hidden),
			OutputGate: randomGate(rng, state, hidden),
		},
		Fill:      randomDense(rng, state, hidden),
		ScoreHead: randomDense(rng, scores, hidden),
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("test params invalid: %v", err)
	}
	return p
}

func ones(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func TestStepZeroPassThrough(t *testing.T) {
	p := testParams(t, 1)
	f, err := NewForecaster(p)
	if err != nil {
		t.Fatal(err)
	}

	st := f.NewState()
	s0 := []float64{0.3, -0.8, 24, 11.5}
	// Even a fully masked-out first visit passes through as-is: there is no
	// prior state to derive from.
	if _, err := f.Observe(st, s0, make([]float64, len(s0))); err != nil {
		t.Fatal(err)
	}

	filled := st.LastFilled()
	for i := range s0 {
		if filled[i] != s0[i] {
			t.Fatalf("step zero must pass the assembled state through, index %d: %v != %v", i, filled[i], s0[i])
		}
	}
}

func TestDerivedEstimateComposition(t *testing.T) {
	p := testParams(t, 2)
	f, err := NewForecaster(p)
	if err != nil {
		t.Fatal(err)
	}

	s0 := []float64{0.5, 0.1, 20, 9}
	s1 := []float64{0.4, 0.2, 22, 10}
	full := ones(len(s0))

	st := f.NewState()
	if _, err := f.Observe(st, s0, full); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Observe(st, s1, full); err != nil {
		t.Fatal(err)
	}

	// Fully observed visit 1: the filled state is exactly s1, and the
	// derived estimate for a synthetic third step must be
	// Fill(hidden_1) + s_hat_1 -- the additive prior-state term included.
	estimate, err := f.DerivedEstimate(st)
	if err != nil {
		t.Fatal(err)
	}
	delta := p.Fill.Apply(st.Hidden())
	for i := range estimate {
		want := delta[i] + s1[i]
		if math.Abs(estimate[i]-want) > 1e-12 {
			t.Fatalf("estimate[%d] = %v, want Fill(h)+s_hat = %v", i, estimate[i], want)
		}
		// Regression guard: dropping the additive prior state collapses the
		// rollout to a flat line around the projection alone.
		if math.Abs(estimate[i]-delta[i]) < 1e-9 && s1[i] != 0 {
			t.Fatalf("estimate[%d] ignored the prior state term", i)
		}
	}
}

func TestMaskedElementsUseDerivedEstimate(t *testing.T) {
	p := testParams(t, 3)
	f, err := NewForecaster(p)
	if err != nil {
		t.Fatal(err)
	}

	s0 := []float64{0.2, 0.7, 18, 8}
	full := ones(len(s0))
	mask := []float64{1, 1, 0, 1} // third element unmeasured at visit 1

	run := func(placeholder float64) ([]float64, []float64) {
		st := f.NewState()
		if _, err := f.Observe(st, s0, full); err != nil {
			t.Fatal(err)
		}
		s1 := []float64{0.25, 0.65, placeholder, 8.5}
		pred, err := f.Observe(st, s1, mask)
		if err != nil {
			t.Fatal(err)
		}
		return st.LastFilled(), pred
	}

	filledA, predA := run(0)
	filledB, predB := run(1234.5)
	for i := range filledA {
		if filledA[i] != filledB[i] {
			t.Fatalf("placeholder for a masked element leaked into the filled state at %d", i)
		}
	}
	for i := range predA {
		if predA[i] != predB[i] {
			t.Fatalf("placeholder for a masked element changed the score prediction at %d", i)
		}
	}

	// The same change on an observed element must matter.
	st := f.NewState()
	if _, err := f.Observe(st, s0, full); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Observe(st, []float64{0.25, 0.65, 0, 77}, mask); err != nil {
		t.Fatal(err)
	}
	changed := false
	for i, v := range st.LastFilled() {
		if v != filledA[i] {
			changed = true
			break
		}
	}
	if !changed {
		t.Fatal("changing an observed element did not change the filled state")
	}
}

func TestRolloutIsAutoregressive(t *testing.T) {
	p := testParams(t, 4)
	f, err := NewForecaster(p)
	if err != nil {
		t.Fatal(err)
	}

	st := f.NewState()
	if _, err := f.Observe(st, []float64{0.5, -0.1, 21, 9.5}, ones(4)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Observe(st, []float64{0.6, -0.2, 23, 10.5}, ones(4)); err != nil {
		t.Fatal(err)
	}

	prev := st.LastFilled()
	for k := 0; k < 5; k++ {
		// Each synthetic step must equal the derived estimate computed from
		// the state just before it: a genuine continuation, not a replay.
		want, err := f.DerivedEstimate(st)
		if err != nil {
			t.Fatal(err)
		}
		got, err := f.Rollout(st)
		if err != nil {
			t.Fatal(err)
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("rollout step %d diverged from the derived estimate at %d", k, i)
			}
		}
		same := true
		for i := range got {
			if got[i] != prev[i] {
				same = false
				break
			}
		}
		if same {
			t.Fatalf("rollout step %d did not advance the state", k)
		}
		prev = got
	}
}

func TestRolloutWithoutHistoryFails(t *testing.T) {
	f, err := NewForecaster(testParams(t, 5))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Rollout(f.NewState()); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}
