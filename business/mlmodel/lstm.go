package mlmodel

import (
	"math"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
)

// Score runs the model over a temporal sequence of feature rows and returns
// the raw dense-head outputs. Rows are scaled with the training scaler.
// Shorter sequences are left-padded with their first row; longer ones keep
// the most recent Timesteps rows, matching how training sequences were cut.
func (m *Model) Score(sequence [][]float64) ([]float64, error) {
	if len(sequence) == 0 {
		return nil, fault.New(fault.Malformed, "no feature rows provided")
	}
	for i, row := range sequence {
		if len(row) != m.Features {
			return nil, fault.New(fault.Malformed, "feature row %d has %d values, model expects %d",
				i, len(row), m.Features)
		}
	}

	rows := make([][]float64, 0, m.Timesteps)
	switch {
	case len(sequence) < m.Timesteps:
		for i := len(sequence); i < m.Timesteps; i++ {
			rows = append(rows, sequence[0])
		}
		rows = append(rows, sequence...)
	case len(sequence) > m.Timesteps:
		rows = append(rows, sequence[len(sequence)-m.Timesteps:]...)
	default:
		rows = append(rows, sequence...)
	}

	hidden := make([]float64, m.Units)
	cell := make([]float64, m.Units)
	for _, row := range rows {
		m.step(m.scaler.Transform(row), hidden, cell)
	}

	outputs := make([]float64, len(m.dense.Bias))
	for j := range outputs {
		sum := m.dense.Bias[j]
		for i := 0; i < m.Units; i++ {
			sum += hidden[i] * m.dense.Kernel[i][j]
		}
		outputs[j] = sum
	}
	applyActivation(m.activation, outputs)
	return outputs, nil
}

// step advances the LSTM one timestep in place. Gate order follows the
// saved kernel layout: input, forget, candidate, output.
func (m *Model) step(x []float64, hidden []float64, cell []float64) {
	gates := make([]float64, 4*m.Units)
	copy(gates, m.lstm.Bias)
	for i, v := range x {
		if v == 0 {
			continue
		}
		row := m.lstm.Kernel[i]
		for j := range gates {
			gates[j] += v * row[j]
		}
	}
	for i, h := range hidden {
		if h == 0 {
			continue
		}
		row := m.lstm.RecurrentKernel[i]
		for j := range gates {
			gates[j] += h * row[j]
		}
	}

	for u := 0; u < m.Units; u++ {
		input := sigmoid(gates[u])
		forget := sigmoid(gates[m.Units+u])
		candidate := math.Tanh(gates[2*m.Units+u])
		output := sigmoid(gates[3*m.Units+u])

		cell[u] = forget*cell[u] + input*candidate
		hidden[u] = output * math.Tanh(cell[u])
	}
}

func applyActivation(activation string, outputs []float64) {
	switch activation {
	case "sigmoid":
		for i, v := range outputs {
			outputs[i] = sigmoid(v)
		}
	case "softmax":
		max := outputs[0]
		for _, v := range outputs[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		for i, v := range outputs {
			outputs[i] = math.Exp(v - max)
			sum += outputs[i]
		}
		for i := range outputs {
			outputs[i] /= sum
		}
	}
	// anything else is treated as linear
}

func sigmoid(v float64) float64 {
	return 1 / (1 + math.Exp(-v))
}
