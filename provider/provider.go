// Package provider wires the model variants into the training loop. Each
// provider owns one architecture, resolves its batch size, builds the
// dataset split and rebuilds models from checkpoints. A provider is
// selected once at startup by tag and never swapped mid-run.
package provider

import (
	"fmt"

	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/model"
	"github.com/RobinDong/multimodal-trials/training"
	"github.com/RobinDong/multimodal-trials/vision/dataset"
)

// Tags lists the selectable provider tags.
func Tags() []string {
	return []string{model.KindCLIP, model.KindMLM, model.KindALBEF}
}

// Select returns the provider registered under tag.
func Select(tag string) (training.Provider, error) {
	switch tag {
	case model.KindCLIP:
		return NewCLIP(), nil
	case model.KindMLM:
		return NewMLM(), nil
	case model.KindALBEF:
		return NewALBEF(), nil
	}
	return nil, fmt.Errorf("unknown provider %q, want one of %v", tag, Tags())
}

// buildSources opens the configured corpus, or the procedural one for
// synthetic runs, and splits it into disjoint train and eval subsets.
func buildSources(cfg training.TrainConfig) (train, eval async.DataSource, err error) {
	var source async.DataSource
	if cfg.Synthetic {
		synCfg := dataset.DefaultSyntheticConfig()
		synCfg.ImageSize = cfg.ImageSize
		synCfg.SeqLen = cfg.SeqLen
		synCfg.Seed = cfg.Seed
		source, err = dataset.NewSynthetic(synCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to build synthetic dataset: %v", err)
		}
	} else {
		capCfg := dataset.DefaultCaptionConfig()
		capCfg.ImageSize = cfg.ImageSize
		capCfg.SeqLen = cfg.SeqLen
		capCfg.Seed = cfg.Seed
		source, err = dataset.OpenCaptionDataset(cfg.DataPaths, capCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open caption dataset: %v", err)
		}
	}
	return dataset.Split(source, cfg.EvalRatio, cfg.Seed)
}

// validateForward runs one forward pass and reads out accuracy and loss.
// The trainer calls this with the model in eval mode and gradient
// recording off.
func validateForward(m training.Model, batch *async.Batch, ctx *training.ComputeContext) (float64, float64, error) {
	result, err := m.Forward(batch, ctx)
	if err != nil {
		return 0, 0, err
	}
	loss, err := result.Loss.Item()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read validation loss: %v", err)
	}
	return result.Accuracy, float64(loss), nil
}
