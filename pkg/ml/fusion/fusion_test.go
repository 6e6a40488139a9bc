package fusion

import (
	"math"
	"math/rand"
	"testing"
)

func randomDense(rng *rand.Rand, out, in int) Dense {
	d := Dense{Weights: make([][]float64, out), Bias: make([]float64, out)}
	for i := 0; i < out; i++ {
		d.Weights[i] = make([]float64, in)
		for j := 0; j < in; j++ {
			d.Weights[i][j] = rng.NormFloat64() * 0.5
		}
		d.Bias[i] = rng.NormFloat64() * 0.1
	}
	return d
}

func testParams(t *testing.T) Params {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	p := Params{
		InputDim:       8,
		LatentDim:      3,
		StructuralDim:  3,
		MetabolicDim:   3,
		DemographicDim: 2,
		Encoder:        Stack{randomDense(rng, 5, 8), randomDense(rng, 3, 5)},
		Structural:     Stack{randomDense(rng, 4, 3), randomDense(rng, 3, 4)},
		Metabolic:      Stack{randomDense(rng, 4, 3), randomDense(rng, 3, 4)},
		Demographic:    Stack{randomDense(rng, 2, 3)},
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("test params invalid: %v", err)
	}
	return p
}

func TestEncodeIsDeterministic(t *testing.T) {
	m, err := NewModule(testParams(t))
	if err != nil {
		t.Fatal(err)
	}
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	mask := []float64{1, 1, 1, 1, 1, 1, 1, 1}
	a := m.Encode(x, mask)
	b := m.Encode(x, mask)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("encode not deterministic at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEncodeIgnoresUnobservedPlaceholders(t *testing.T) {
	m, err := NewModule(testParams(t))
	if err != nil {
		t.Fatal(err)
	}

	// Metabolic block (positions 3-5) unobserved.
	mask := []float64{1, 1, 1, 0, 0, 0, 1, 1}
	zeroFill := []float64{1, 2, 3, 0, 0, 0, 7, 8}
	junkFill := []float64{1, 2, 3, 99, -42, 7.5, 7, 8}

	a := m.Encode(zeroFill, mask)
	b := m.Encode(junkFill, mask)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("placeholder in an unobserved field changed the latent code at %d", i)
		}
	}

	// Changing an observed field must change the code.
	observedChanged := []float64{1, 2, 9, 0, 0, 0, 7, 8}
	c := m.Encode(observedChanged, mask)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("changing an observed field did not change the latent code")
	}
}

func TestReconstructionLossOnlyCountsObserved(t *testing.T) {
	observed := []float64{1, 2, 3}
	recon := []float64{1.5, 0, 100}

	loss, weight := ReconstructionLoss(observed, []float64{1, 0, 0}, recon)
	if weight != 1 {
		t.Fatalf("expected weight 1, got %v", weight)
	}
	if math.Abs(loss-0.25) > 1e-12 {
		t.Fatalf("expected loss 0.25 over the single observed element, got %v", loss)
	}

	loss, weight = ReconstructionLoss(observed, []float64{0, 0, 0}, recon)
	if loss != 0 || weight != 0 {
		t.Fatalf("absent modality must contribute no loss, got loss=%v weight=%v", loss, weight)
	}
}

func TestDecodersProduceModalityWidths(t *testing.T) {
	p := testParams(t)
	m, err := NewModule(p)
	if err != nil {
		t.Fatal(err)
	}
	latent := m.Encode(make([]float64, p.InputDim), make([]float64, p.InputDim))
	if got := len(m.DecodeStructural(latent)); got != p.StructuralDim {
		t.Errorf("structural reconstruction width %d, want %d", got, p.StructuralDim)
	}
	if got := len(m.DecodeMetabolic(latent)); got != p.MetabolicDim {
		t.Errorf("metabolic reconstruction width %d, want %d", got, p.MetabolicDim)
	}
	if got := len(m.DecodeDemographic(latent)); got != p.DemographicDim {
		t.Errorf("demographic reconstruction width %d, want %d", got, p.DemographicDim)
	}
}

func TestValidateRejectsMismatchedDims(t *testing.T) {
	p := testParams(t)
	p.LatentDim = 5 // encoder still produces 3
	if err := p.Validate(); err == nil {
		t.Fatal("expected validation failure for mismatched latent dim")
	}

	p = testParams(t)
	p.InputDim = 9
	if err := p.Validate(); err == nil {
		t.Fatal("expected validation failure for inconsistent input dim")
	}
}
