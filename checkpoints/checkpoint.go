package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/RobinDong/multimodal-trials/layers"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatBinary
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatBinary:
		return "Binary"
	default:
		return "Unknown"
	}
}

// Extension returns the file suffix conventionally used for the format.
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatBinary:
		return ".ckpt"
	default:
		return ".json"
	}
}

// SchemaVersion is written into every ModelSpec so older checkpoints can be
// rejected or migrated explicitly instead of being misread.
const SchemaVersion = 1

// ModelSpec describes the architecture a checkpoint belongs to. Kind names the
// provider ("clip", "mlm", "albef") and Config holds that provider's
// configuration snapshot, kept opaque here so the checkpoint package does not
// depend on any model package.
type ModelSpec struct {
	SchemaVersion int             `json:"schema_version"`
	Kind          string          `json:"kind"`
	Config        json.RawMessage `json:"config"`
}

// Checkpoint represents a complete model state including weights, optimizer state, and training metadata
type Checkpoint struct {
	Spec    ModelSpec      `json:"model_spec"`
	Weights []WeightTensor `json:"weights"`

	TrainingState TrainingState `json:"training_state"`

	// Optimizer state (if available)
	OptimizerState *OptimizerState `json:"optimizer_state,omitempty"`

	Metadata CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter tensor with its data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures the current training progress
type TrainingState struct {
	Iteration    int     `json:"iteration"`
	Epoch        int     `json:"epoch"`
	LearningRate float32 `json:"learning_rate"`
	BestAccuracy float64 `json:"best_accuracy"`
	EvalAccuracy float64 `json:"eval_accuracy"`
	EvalLoss     float64 `json:"eval_loss"`
}

// OptimizerState captures optimizer-specific state (momentum, variance, etc.)
type OptimizerState struct {
	Type       string                 `json:"type"`
	StepCount  uint64                 `json:"step_count"`
	Parameters map[string]interface{} `json:"parameters"`
	StateData  []OptimizerTensor      `json:"state_data"`
}

// OptimizerTensor represents optimizer state tensors (momentum, variance, etc.)
type OptimizerTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"` // "m", "v", "v_max", etc.
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	RunID       string    `json:"run_id"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description,omitempty"`
}

// NewMetadata builds checkpoint metadata with a fresh run identifier.
func NewMetadata(description string) CheckpointMetadata {
	return CheckpointMetadata{
		Version:     "1.0.0",
		Framework:   "multimodal-trials",
		RunID:       uuid.NewString(),
		CreatedAt:   time.Now(),
		Description: description,
	}
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// SaveCheckpoint saves a complete model checkpoint
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata = NewMetadata(checkpoint.Metadata.Description)
	}
	if checkpoint.Spec.SchemaVersion == 0 {
		checkpoint.Spec.SchemaVersion = SchemaVersion
	}

	switch cs.format {
	case FormatJSON:
		return cs.saveJSON(checkpoint, path)
	case FormatBinary:
		return cs.saveBinary(checkpoint, path)
	default:
		return fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	var (
		checkpoint *Checkpoint
		err        error
	)
	switch cs.format {
	case FormatJSON:
		checkpoint, err = cs.loadJSON(path)
	case FormatBinary:
		checkpoint, err = cs.loadBinary(path)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
	if err != nil {
		return nil, err
	}

	if checkpoint.Spec.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported checkpoint schema version %d (expected %d)",
			checkpoint.Spec.SchemaVersion, SchemaVersion)
	}
	return checkpoint, nil
}

// saveJSON saves checkpoint in JSON format
func (cs *CheckpointSaver) saveJSON(checkpoint *Checkpoint, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %v", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(checkpoint); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}

	return nil
}

// loadJSON loads checkpoint from JSON format
func (cs *CheckpointSaver) loadJSON(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %v", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	decoder := json.NewDecoder(file)

	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}

	return &checkpoint, nil
}

// saveBinary saves checkpoint in the length-delimited binary format
func (cs *CheckpointSaver) saveBinary(checkpoint *Checkpoint, path string) error {
	data, err := MarshalBinary(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %v", err)
	}
	return nil
}

// loadBinary loads checkpoint from the length-delimited binary format
func (cs *CheckpointSaver) loadBinary(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %v", err)
	}
	checkpoint, err := UnmarshalBinary(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %v", err)
	}
	return checkpoint, nil
}

// ExtractWeights copies model parameters into serializable weight tensors.
// The parameter order is preserved so checkpoints stay diffable.
func ExtractWeights(params []layers.NamedParameter) ([]WeightTensor, error) {
	weights := make([]WeightTensor, 0, len(params))
	for _, p := range params {
		if p.Tensor == nil {
			return nil, fmt.Errorf("parameter %s has no tensor", p.Name)
		}
		src := p.Tensor.Float32s()
		if src == nil {
			return nil, fmt.Errorf("parameter %s is not float32", p.Name)
		}
		data := make([]float32, len(src))
		copy(data, src)
		weights = append(weights, WeightTensor{
			Name:  p.Name,
			Shape: append([]int(nil), p.Tensor.Shape...),
			Data:  data,
		})
	}
	return weights, nil
}

// RestoreWeights loads checkpoint weights back into model parameters,
// matching by name and validating shapes.
func RestoreWeights(params []layers.NamedParameter, weights []WeightTensor) error {
	byName := make(map[string]*WeightTensor, len(weights))
	for i := range weights {
		byName[weights[i].Name] = &weights[i]
	}

	for _, p := range params {
		w, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint is missing weight %s", p.Name)
		}
		if !shapesMatch(p.Tensor.Shape, w.Shape) {
			return fmt.Errorf("shape mismatch for %s: model %v, checkpoint %v",
				p.Name, p.Tensor.Shape, w.Shape)
		}
		dst := p.Tensor.Float32s()
		if dst == nil {
			return fmt.Errorf("parameter %s is not float32", p.Name)
		}
		if len(dst) != len(w.Data) {
			return fmt.Errorf("element count mismatch for %s: model %d, checkpoint %d",
				p.Name, len(dst), len(w.Data))
		}
		copy(dst, w.Data)
	}
	return nil
}

func shapesMatch(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
