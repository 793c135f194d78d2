package model

import (
	"encoding/json"
	"fmt"

	"github.com/RobinDong/multimodal-trials/checkpoints"
)

func encodeSpec(kind string, config interface{}) (checkpoints.ModelSpec, error) {
	raw, err := json.Marshal(config)
	if err != nil {
		return checkpoints.ModelSpec{}, fmt.Errorf("failed to encode %s config: %v", kind, err)
	}
	return checkpoints.ModelSpec{
		SchemaVersion: checkpoints.SchemaVersion,
		Kind:          kind,
		Config:        raw,
	}, nil
}

func decodeSpec(spec checkpoints.ModelSpec, kind string, config interface{}) error {
	if spec.Kind != kind {
		return fmt.Errorf("checkpoint holds a %q model, want %q", spec.Kind, kind)
	}
	if spec.SchemaVersion != checkpoints.SchemaVersion {
		return fmt.Errorf("unsupported checkpoint schema version %d", spec.SchemaVersion)
	}
	if len(spec.Config) == 0 {
		return fmt.Errorf("checkpoint is missing the %s config", kind)
	}
	if err := json.Unmarshal(spec.Config, config); err != nil {
		return fmt.Errorf("failed to decode %s config: %v", kind, err)
	}
	return nil
}
