package recurrent

import (
	"fmt"
	"math"
)

// Gate is one LSTM gate's parameters: input projection [hidden][input],
// recurrent projection [hidden][hidden] and bias [hidden].
type Gate struct {
	Input     [][]float64 `json:"input"`
	Recurrent [][]float64 `json:"recurrent"`
	Bias      []float64   `json:"bias"`
}

func (g Gate) validate(name string, inputDim, hiddenDim int) error {
	if len(g.Input) != hiddenDim || len(g.Recurrent) != hiddenDim || len(g.Bias) != hiddenDim {
		return fmt.Errorf("%s: expected %d rows, got input=%d recurrent=%d bias=%d",
			name, hiddenDim, len(g.Input), len(g.Recurrent), len(g.Bias))
	}
	for i := range g.Input {
		if len(g.Input[i]) != inputDim {
			return fmt.Errorf("%s: input row %d has %d cols, want %d", name, i, len(g.Input[i]), inputDim)
		}
		if len(g.Recurrent[i]) != hiddenDim {
			return fmt.Errorf("%s: recurrent row %d has %d cols, want %d", name, i, len(g.Recurrent[i]), hiddenDim)
		}
	}
	return nil
}

func (g Gate) preact(x, h []float64, i int) float64 {
	return dot(g.Input[i], x) + dot(g.Recurrent[i], h) + g.Bias[i]
}

// Cell is a single-layer LSTM cell.
type Cell struct {
	InputGate  Gate `json:"input_gate"`
	ForgetGate Gate `json:"forget_gate"`
	CellGate   Gate `json:"cell_gate"`
	OutputGate Gate `json:"output_gate"`
}

func (c Cell) HiddenDim() int {
	return len(c.InputGate.Bias)
}

func (c Cell) InputDim() int {
	if len(c.InputGate.Input) == 0 {
		return 0
	}
	return len(c.InputGate.Input[0])
}

func (c Cell) Validate(inputDim, hiddenDim int) error {
	if err := c.InputGate.validate("input_gate", inputDim, hiddenDim); err != nil {
		return err
	}
	if err := c.ForgetGate.validate("forget_gate", inputDim, hiddenDim); err != nil {
		return err
	}
	if err := c.CellGate.validate("cell_gate", inputDim, hiddenDim); err != nil {
		return err
	}
	return c.OutputGate.validate("output_gate", inputDim, hiddenDim)
}

// Step advances the cell by one timestep and returns the next hidden and
// cell states. Inputs are never mutated.
func (c Cell) Step(x, h, cPrev []float64) (hNext, cNext []float64) {
	n := c.HiddenDim()
	hNext = make([]float64, n)
	cNext = make([]float64, n)
	for i := 0; i < n; i++ {
		in := sigmoid(c.InputGate.preact(x, h, i))
		forget := sigmoid(c.ForgetGate.preact(x, h, i))
		cand := math.Tanh(c.CellGate.preact(x, h, i))
		out := sigmoid(c.OutputGate.preact(x, h, i))

		cNext[i] = forget*cPrev[i] + in*cand
		hNext[i] = out * math.Tanh(cNext[i])
	}
	return hNext, cNext
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := 0; i < len(a); i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
