// Package mlmodel loads the route-choice LSTM artifacts from disk and runs
// inference over scaled feature sequences. Artifacts load once per process;
// a weights sidecar, when present, is merged over the base model so refined
// weights can ship without replacing the whole artifact.
package mlmodel

import (
	"bufio"
	"encoding/json"
	"fmt"
	logger "log"
	"os"
	"path/filepath"
	"strings"

	"github.com/UrbanOSLabs/mobilitycast/foundation/fault"
)

// Artifact file names inside the model directory.
const (
	ModelFileName          = "lstm_model.json"
	WeightsSidecarName     = "lstm_model.weights.json"
	ScalerFileName         = "feature_scaler.json"
	FeatureColumnsFileName = "feature_columns.txt"
)

// layerWeights holds one layer's weight matrices as shipped in the artifact.
type layerWeights struct {
	Kernel          [][]float64 `json:"kernel"`
	RecurrentKernel [][]float64 `json:"recurrent_kernel"`
	Bias            []float64   `json:"bias"`
}

// modelArtifact is the on-disk form of lstm_model.json and of the optional
// weights sidecar. Sidecar fields that are present replace the base fields.
type modelArtifact struct {
	Timesteps int           `json:"timesteps"`
	Features  int           `json:"features"`
	Units     int           `json:"units"`
	LSTM      *layerWeights `json:"lstm"`
	Dense     *denseWeights `json:"dense"`
}

type denseWeights struct {
	Kernel     [][]float64 `json:"kernel"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

// Scaler reproduces the training-time standard scaler: (x - mean) / scale
// per feature.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Transform scales one feature row in place-safe copy.
func (s *Scaler) Transform(row []float64) []float64 {
	scaled := make([]float64, len(row))
	for i, v := range row {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		scaled[i] = (v - s.Mean[i]) / scale
	}
	return scaled
}

// Model is the loaded route-choice model: LSTM weights, dense head, the
// training scaler and the saved feature order.
type Model struct {
	Timesteps    int
	Features     int
	Units        int
	FeatureOrder []string

	lstm       layerWeights
	dense      denseWeights
	scaler     Scaler
	activation string
}

// Load reads the model artifacts from dir. Missing artifacts are a
// DataMissing fault so callers can fall back to heuristics; malformed or
// inconsistent artifacts are Malformed.
func Load(log *logger.Logger, dir string) (*Model, error) {
	featureOrder, err := loadFeatureOrder(filepath.Join(dir, FeatureColumnsFileName))
	if err != nil {
		return nil, err
	}

	scaler := Scaler{}
	if err := readJSONArtifact(filepath.Join(dir, ScalerFileName), &scaler); err != nil {
		return nil, err
	}

	base := modelArtifact{}
	if err := readJSONArtifact(filepath.Join(dir, ModelFileName), &base); err != nil {
		return nil, err
	}

	// optional sidecar refines the base weights
	sidecarPath := filepath.Join(dir, WeightsSidecarName)
	if _, statErr := os.Stat(sidecarPath); statErr == nil {
		sidecar := modelArtifact{}
		if err := readJSONArtifact(sidecarPath, &sidecar); err != nil {
			log.Printf("ignoring weights sidecar %s: %v", sidecarPath, err)
		} else {
			mergeArtifact(&base, &sidecar)
			log.Printf("merged weights sidecar %s over base model", WeightsSidecarName)
		}
	}

	model := Model{
		Timesteps:    base.Timesteps,
		Features:     base.Features,
		Units:        base.Units,
		FeatureOrder: featureOrder,
		scaler:       scaler,
	}
	if base.LSTM != nil {
		model.lstm = *base.LSTM
	}
	if base.Dense != nil {
		model.dense = *base.Dense
		model.activation = base.Dense.Activation
	}

	if err := model.validate(); err != nil {
		return nil, err
	}
	log.Printf("loaded lstm model from %s: timesteps=%d features=%d units=%d outputs=%d",
		dir, model.Timesteps, model.Features, model.Units, len(model.dense.Bias))
	return &model, nil
}

func loadFeatureOrder(path string) ([]string, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fault.New(fault.DataMissing, "feature list not found: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to open feature list %s, error: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	columns := make([]string, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			columns = append(columns, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to read feature list %s, error: %w", path, err)
	}
	if len(columns) == 0 {
		return nil, fault.New(fault.Malformed, "feature list file is empty: %s", path)
	}
	return columns, nil
}

func readJSONArtifact(path string, out interface{}) error {
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fault.New(fault.DataMissing, "model artifact not found: %s", path)
	}
	if err != nil {
		return fmt.Errorf("unable to read model artifact %s, error: %w", path, err)
	}
	if err := json.Unmarshal(contents, out); err != nil {
		return fault.New(fault.Malformed, "model artifact %s does not parse: %v", path, err)
	}
	return nil
}

// mergeArtifact overlays the sidecar's present fields onto the base model.
func mergeArtifact(base *modelArtifact, sidecar *modelArtifact) {
	if sidecar.Timesteps != 0 {
		base.Timesteps = sidecar.Timesteps
	}
	if sidecar.Features != 0 {
		base.Features = sidecar.Features
	}
	if sidecar.Units != 0 {
		base.Units = sidecar.Units
	}
	if sidecar.LSTM != nil {
		if base.LSTM == nil {
			base.LSTM = sidecar.LSTM
		} else {
			if sidecar.LSTM.Kernel != nil {
				base.LSTM.Kernel = sidecar.LSTM.Kernel
			}
			if sidecar.LSTM.RecurrentKernel != nil {
				base.LSTM.RecurrentKernel = sidecar.LSTM.RecurrentKernel
			}
			if sidecar.LSTM.Bias != nil {
				base.LSTM.Bias = sidecar.LSTM.Bias
			}
		}
	}
	if sidecar.Dense != nil {
		if base.Dense == nil {
			base.Dense = sidecar.Dense
		} else {
			if sidecar.Dense.Kernel != nil {
				base.Dense.Kernel = sidecar.Dense.Kernel
			}
			if sidecar.Dense.Bias != nil {
				base.Dense.Bias = sidecar.Dense.Bias
			}
			if sidecar.Dense.Activation != "" {
				base.Dense.Activation = sidecar.Dense.Activation
			}
		}
	}
}

// validate checks every weight matrix against the declared dimensions.
func (m *Model) validate() error {
	if m.Timesteps <= 0 || m.Features <= 0 || m.Units <= 0 {
		return fault.New(fault.Malformed, "model declares non-positive dimensions: timesteps=%d features=%d units=%d",
			m.Timesteps, m.Features, m.Units)
	}
	if len(m.FeatureOrder) != m.Features {
		return fault.New(fault.Malformed, "feature list has %d entries, model expects %d",
			len(m.FeatureOrder), m.Features)
	}
	if len(m.scaler.Mean) != m.Features || len(m.scaler.Scale) != m.Features {
		return fault.New(fault.Malformed, "scaler covers %d/%d features, model expects %d",
			len(m.scaler.Mean), len(m.scaler.Scale), m.Features)
	}
	gates := 4 * m.Units
	if len(m.lstm.Kernel) != m.Features || rowWidth(m.lstm.Kernel) != gates {
		return fault.New(fault.Malformed, "lstm kernel is %dx%d, want %dx%d",
			len(m.lstm.Kernel), rowWidth(m.lstm.Kernel), m.Features, gates)
	}
	if len(m.lstm.RecurrentKernel) != m.Units || rowWidth(m.lstm.RecurrentKernel) != gates {
		return fault.New(fault.Malformed, "lstm recurrent kernel is %dx%d, want %dx%d",
			len(m.lstm.RecurrentKernel), rowWidth(m.lstm.RecurrentKernel), m.Units, gates)
	}
	if len(m.lstm.Bias) != gates {
		return fault.New(fault.Malformed, "lstm bias has %d entries, want %d", len(m.lstm.Bias), gates)
	}
	if len(m.dense.Kernel) != m.Units {
		return fault.New(fault.Malformed, "dense kernel has %d rows, want %d", len(m.dense.Kernel), m.Units)
	}
	outputs := rowWidth(m.dense.Kernel)
	if outputs == 0 || len(m.dense.Bias) != outputs {
		return fault.New(fault.Malformed, "dense bias has %d entries, want %d", len(m.dense.Bias), outputs)
	}
	return nil
}

func rowWidth(matrix [][]float64) int {
	if len(matrix) == 0 {
		return 0
	}
	width := len(matrix[0])
	for _, row := range matrix {
		if len(row) != width {
			return -1
		}
	}
	return width
}
