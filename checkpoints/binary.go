package checkpoints

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary checkpoint wire format. Each message is a sequence of protobuf
// fields encoded with protowire; unknown field numbers are skipped on read
// so the format can grow without breaking older readers.
//
// Checkpoint:      1=spec 2=weights(repeated) 3=training_state
//                  4=optimizer_state 5=metadata
// ModelSpec:       1=schema_version 2=kind 3=config
// WeightTensor:    1=name 2=shape(packed) 3=data(packed fixed32)
// TrainingState:   1=iteration 2=epoch 3=learning_rate(fixed32)
//                  4=best_accuracy 5=eval_accuracy 6=eval_loss(fixed64)
// OptimizerState:  1=type 2=step_count 3=parameters(JSON) 4=state_data
// OptimizerTensor: 1=name 2=shape(packed) 3=data(packed fixed32) 4=state_type
// Metadata:        1=version 2=framework 3=run_id 4=created_at(unix nanos)
//                  5=description

// MarshalBinary encodes a checkpoint into the binary wire format.
func MarshalBinary(checkpoint *Checkpoint) ([]byte, error) {
	var b []byte

	spec, err := marshalSpec(&checkpoint.Spec)
	if err != nil {
		return nil, err
	}
	b = appendMessage(b, 1, spec)

	for i := range checkpoint.Weights {
		b = appendMessage(b, 2, marshalWeight(&checkpoint.Weights[i]))
	}

	b = appendMessage(b, 3, marshalTrainingState(&checkpoint.TrainingState))

	if checkpoint.OptimizerState != nil {
		opt, err := marshalOptimizerState(checkpoint.OptimizerState)
		if err != nil {
			return nil, err
		}
		b = appendMessage(b, 4, opt)
	}

	b = appendMessage(b, 5, marshalMetadata(&checkpoint.Metadata))
	return b, nil
}

// UnmarshalBinary decodes a checkpoint from the binary wire format.
func UnmarshalBinary(data []byte) (*Checkpoint, error) {
	checkpoint := &Checkpoint{}
	err := eachField(data, func(num protowire.Number, payload []byte) error {
		switch num {
		case 1:
			return unmarshalSpec(payload, &checkpoint.Spec)
		case 2:
			var w WeightTensor
			if err := unmarshalWeight(payload, &w); err != nil {
				return err
			}
			checkpoint.Weights = append(checkpoint.Weights, w)
		case 3:
			return unmarshalTrainingState(payload, &checkpoint.TrainingState)
		case 4:
			state := &OptimizerState{}
			if err := unmarshalOptimizerState(payload, state); err != nil {
				return err
			}
			checkpoint.OptimizerState = state
		case 5:
			return unmarshalMetadata(payload, &checkpoint.Metadata)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return checkpoint, nil
}

func marshalSpec(spec *ModelSpec) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(spec.SchemaVersion))
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, spec.Kind)
	if len(spec.Config) > 0 {
		if !json.Valid(spec.Config) {
			return nil, fmt.Errorf("model spec config is not valid JSON")
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, spec.Config)
	}
	return b, nil
}

func unmarshalSpec(data []byte, spec *ModelSpec) error {
	return eachField(data, func(num protowire.Number, payload []byte) error {
		switch num {
		case 1:
			v, err := asVarint(payload)
			if err != nil {
				return err
			}
			spec.SchemaVersion = int(v)
		case 2:
			spec.Kind = string(payload)
		case 3:
			spec.Config = append(json.RawMessage(nil), payload...)
		}
		return nil
	})
}

func marshalWeight(w *WeightTensor) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, w.Name)
	b = appendPackedInts(b, 2, w.Shape)
	b = appendPackedFloats(b, 3, w.Data)
	return b
}

func unmarshalWeight(data []byte, w *WeightTensor) error {
	return eachField(data, func(num protowire.Number, payload []byte) error {
		var err error
		switch num {
		case 1:
			w.Name = string(payload)
		case 2:
			w.Shape, err = consumePackedInts(payload)
		case 3:
			w.Data, err = consumePackedFloats(payload)
		}
		return err
	})
}

func marshalTrainingState(ts *TrainingState) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ts.Iteration))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(ts.Epoch))
	b = protowire.AppendTag(b, 3, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(ts.LearningRate))
	b = protowire.AppendTag(b, 4, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ts.BestAccuracy))
	b = protowire.AppendTag(b, 5, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ts.EvalAccuracy))
	b = protowire.AppendTag(b, 6, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(ts.EvalLoss))
	return b
}

func unmarshalTrainingState(data []byte, ts *TrainingState) error {
	return eachField(data, func(num protowire.Number, payload []byte) error {
		switch num {
		case 1:
			v, err := asVarint(payload)
			if err != nil {
				return err
			}
			ts.Iteration = int(v)
		case 2:
			v, err := asVarint(payload)
			if err != nil {
				return err
			}
			ts.Epoch = int(v)
		case 3:
			v, err := asFixed32(payload)
			if err != nil {
				return err
			}
			ts.LearningRate = math.Float32frombits(v)
		case 4:
			v, err := asFixed64(payload)
			if err != nil {
				return err
			}
			ts.BestAccuracy = math.Float64frombits(v)
		case 5:
			v, err := asFixed64(payload)
			if err != nil {
				return err
			}
			ts.EvalAccuracy = math.Float64frombits(v)
		case 6:
			v, err := asFixed64(payload)
			if err != nil {
				return err
			}
			ts.EvalLoss = math.Float64frombits(v)
		}
		return nil
	})
}

func marshalOptimizerState(state *OptimizerState) ([]byte, error) {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, state.Type)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, state.StepCount)
	if len(state.Parameters) > 0 {
		params, err := json.Marshal(state.Parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to encode optimizer parameters: %v", err)
		}
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, params)
	}
	for i := range state.StateData {
		b = appendMessage(b, 4, marshalOptimizerTensor(&state.StateData[i]))
	}
	return b, nil
}

func unmarshalOptimizerState(data []byte, state *OptimizerState) error {
	return eachField(data, func(num protowire.Number, payload []byte) error {
		switch num {
		case 1:
			state.Type = string(payload)
		case 2:
			v, err := asVarint(payload)
			if err != nil {
				return err
			}
			state.StepCount = v
		case 3:
			if err := json.Unmarshal(payload, &state.Parameters); err != nil {
				return fmt.Errorf("failed to decode optimizer parameters: %v", err)
			}
		case 4:
			var t OptimizerTensor
			if err := unmarshalOptimizerTensor(payload, &t); err != nil {
				return err
			}
			state.StateData = append(state.StateData, t)
		}
		return nil
	})
}

func marshalOptimizerTensor(t *OptimizerTensor) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, t.Name)
	b = appendPackedInts(b, 2, t.Shape)
	b = appendPackedFloats(b, 3, t.Data)
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, t.StateType)
	return b
}

func unmarshalOptimizerTensor(data []byte, t *OptimizerTensor) error {
	return eachField(data, func(num protowire.Number, payload []byte) error {
		var err error
		switch num {
		case 1:
			t.Name = string(payload)
		case 2:
			t.Shape, err = consumePackedInts(payload)
		case 3:
			t.Data, err = consumePackedFloats(payload)
		case 4:
			t.StateType = string(payload)
		}
		return err
	})
}

func marshalMetadata(md *CheckpointMetadata) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, md.Version)
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendString(b, md.Framework)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, md.RunID)
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(md.CreatedAt.UnixNano()))
	if md.Description != "" {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, md.Description)
	}
	return b
}

func unmarshalMetadata(data []byte, md *CheckpointMetadata) error {
	return eachField(data, func(num protowire.Number, payload []byte) error {
		switch num {
		case 1:
			md.Version = string(payload)
		case 2:
			md.Framework = string(payload)
		case 3:
			md.RunID = string(payload)
		case 4:
			v, err := asVarint(payload)
			if err != nil {
				return err
			}
			md.CreatedAt = time.Unix(0, int64(v)).UTC()
		case 5:
			md.Description = string(payload)
		}
		return nil
	})
}

// eachField walks a wire-format message and hands every field's payload to
// visit. Varint and fixed fields are re-encoded as raw payload bytes so the
// visitor can decode them with asVarint/asFixed32/asFixed64; unknown fields
// are skipped.
func eachField(data []byte, visit func(num protowire.Number, payload []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		var payload []byte
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			payload = protowire.AppendVarint(nil, v)
			data = data[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			payload = protowire.AppendFixed32(nil, v)
			data = data[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			payload = protowire.AppendFixed64(nil, v)
			data = data[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			payload = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
			continue
		}

		if err := visit(num, payload); err != nil {
			return err
		}
	}
	return nil
}

func asVarint(payload []byte) (uint64, error) {
	v, n := protowire.ConsumeVarint(payload)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

func asFixed32(payload []byte) (uint32, error) {
	v, n := protowire.ConsumeFixed32(payload)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

func asFixed64(payload []byte) (uint64, error) {
	v, n := protowire.ConsumeFixed64(payload)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return v, nil
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendPackedInts(b []byte, num protowire.Number, values []int) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func consumePackedInts(payload []byte) ([]int, error) {
	var out []int
	for len(payload) > 0 {
		v, n := protowire.ConsumeVarint(payload)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, int(v))
		payload = payload[n:]
	}
	return out, nil
}

func appendPackedFloats(b []byte, num protowire.Number, values []float32) []byte {
	packed := make([]byte, 0, 4*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func consumePackedFloats(payload []byte) ([]float32, error) {
	if len(payload)%4 != 0 {
		return nil, fmt.Errorf("packed float payload has %d bytes, not a multiple of 4", len(payload))
	}
	out := make([]float32, 0, len(payload)/4)
	for len(payload) > 0 {
		v, n := protowire.ConsumeFixed32(payload)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, math.Float32frombits(v))
		payload = payload[n:]
	}
	return out, nil
}
