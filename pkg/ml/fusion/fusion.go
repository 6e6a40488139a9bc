// Package fusion encodes one visit's multi-modal feature vector into a
// shared latent code and decodes it back per modality. A single encoder over
// the concatenated input lets every modality inform the representation; the
// three decoders stay independent so reconstruction loss can be computed per
// modality on exactly the visits where that modality was observed.
package fusion

import (
	"fmt"
	"math"
)

// Dense is one fully connected layer, weights laid out [output][input].
type Dense struct {
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

func (d Dense) InDim() int {
	if len(d.Weights) == 0 {
		return 0
	}
	return len(d.Weights[0])
}

func (d Dense) OutDim() int {
	return len(d.Weights)
}

// Apply computes Wx+b with no activation.
func (d Dense) Apply(x []float64) []float64 {
	out := make([]float64, len(d.Weights))
	for i, row := range d.Weights {
		out[i] = dot(row, x) + d.Bias[i]
	}
	return out
}

func (d Dense) validate(name string, inDim int) error {
	if d.OutDim() == 0 {
		return fmt.Errorf("%s: empty layer", name)
	}
	if len(d.Bias) != d.OutDim() {
		return fmt.Errorf("%s: bias length %d != %d outputs", name, len(d.Bias), d.OutDim())
	}
	for i, row := range d.Weights {
		if len(row) != inDim {
			return fmt.Errorf("%s: row %d has %d inputs, want %d", name, i, len(row), inDim)
		}
	}
	return nil
}

// Stack is a sequence of dense layers with ReLU between them and a linear
// final layer.
type Stack []Dense

func (s Stack) Apply(x []float64) []float64 {
	h := x
	for i, layer := range s {
		h = layer.Apply(h)
		if i < len(s)-1 {
			reluInPlace(h)
		}
	}
	return h
}

func (s Stack) validate(name string, inDim, outDim int) error {
	if len(s) == 0 {
		return fmt.Errorf("%s: no layers", name)
	}
	dim := inDim
	for i, layer := range s {
		if err := layer.validate(fmt.Sprintf("%s[%d]", name, i), dim); err != nil {
			return err
		}
		dim = layer.OutDim()
	}
	if dim != outDim {
		return fmt.Errorf("%s: produces %d outputs, want %d", name, dim, outDim)
	}
	return nil
}

// Params holds the fusion module's trained weights. Loaded from the model
// artifact; read-only afterwards.
type Params struct {
	InputDim       int   `json:"input_dim"`
	LatentDim      int   `json:"latent_dim"`
	StructuralDim  int   `json:"structural_dim"`
	MetabolicDim   int   `json:"metabolic_dim"`
	DemographicDim int   `json:"demographic_dim"`
	Encoder        Stack `json:"encoder"`
	Structural     Stack `json:"structural_decoder"`
	Metabolic      Stack `json:"metabolic_decoder"`
	Demographic    Stack `json:"demographic_decoder"`
}

func (p Params) Validate() error {
	if p.InputDim != p.StructuralDim+p.MetabolicDim+p.DemographicDim {
		return fmt.Errorf("input dim %d does not match modality dims %d+%d+%d",
			p.InputDim, p.StructuralDim, p.MetabolicDim, p.DemographicDim)
	}
	if err := p.Encoder.validate("encoder", p.InputDim, p.LatentDim); err != nil {
		return err
	}
	if err := p.Structural.validate("structural_decoder", p.LatentDim, p.StructuralDim); err != nil {
		return err
	}
	if err := p.Metabolic.validate("metabolic_decoder", p.LatentDim, p.MetabolicDim); err != nil {
		return err
	}
	return p.Demographic.validate("demographic_decoder", p.LatentDim, p.DemographicDim)
}

type Module struct {
	params Params
}

func NewModule(params Params) (*Module, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Module{params: params}, nil
}

func (m *Module) LatentDim() int { return m.params.LatentDim }
func (m *Module) InputDim() int  { return m.params.InputDim }

// Encode maps one visit's feature vector to its latent code. Inputs are
// gated by the observed mask first, so the placeholder stored in an
// unobserved position can never leak into the latent code: any placeholder
// times a zero mask entry is zero.
func (m *Module) Encode(features, mask []float64) []float64 {
	gated := make([]float64, len(features))
	for i := range features {
		gated[i] = features[i] * mask[i]
	}
	return m.params.Encoder.Apply(gated)
}

func (m *Module) DecodeStructural(latent []float64) []float64 {
	return m.params.Structural.Apply(latent)
}

func (m *Module) DecodeMetabolic(latent []float64) []float64 {
	return m.params.Metabolic.Apply(latent)
}

func (m *Module) DecodeDemographic(latent []float64) []float64 {
	return m.params.Demographic.Apply(latent)
}

// ReconstructionLoss is the masked mean squared error between a modality's
// observed sub-vector and its reconstruction. Unobserved elements contribute
// nothing: a visit missing the modality entirely yields a zero loss and zero
// weight, not a penalty.
func ReconstructionLoss(observed, mask, recon []float64) (loss float64, weight float64) {
	for i := range observed {
		if mask[i] == 0 {
			continue
		}
		diff := recon[i] - observed[i]
		loss += diff * diff
		weight++
	}
	if weight > 0 {
		loss /= weight
	}
	return loss, weight
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := 0; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func reluInPlace(x []float64) {
	for i := range x {
		x[i] = math.Max(0, x[i])
	}
}
