// Command train runs multimodal pretraining for one of the model
// variants: contrastive alignment (clip), masked-token prediction (mlm)
// or the combined fusion objective (albef).
//
// A run needs either -synthetic or -data with one or more SQLite caption
// index files:
//
//	train -provider albef -data corpus/coco.db,corpus/cc3m.db -out out
//	train -provider clip -synthetic -max-iters 2000
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/RobinDong/multimodal-trials/checkpoints"
	"github.com/RobinDong/multimodal-trials/layers"
	"github.com/RobinDong/multimodal-trials/provider"
	"github.com/RobinDong/multimodal-trials/training"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "train: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	providerTag := flag.String("provider", "clip", "model variant: clip, mlm or albef")
	dataArg := flag.String("data", "", "comma-separated SQLite caption index files")
	outDir := flag.String("out", "out", "checkpoint output directory")
	synthetic := flag.Bool("synthetic", false, "train on the built-in procedural dataset")
	seed := flag.Int64("seed", 1, "shuffle and initialization seed")
	resumePath := flag.String("resume", "", "checkpoint file to resume from")
	restoreIteration := flag.Bool("restore-iteration", false, "resume the iteration counter from the checkpoint")
	restoreOptimizer := flag.Bool("restore-optimizer", false, "resume optimizer moments from the checkpoint")
	batchSize := flag.Int("batch", 0, "batch size override, 0 keeps the default")
	maxIters := flag.Int("max-iters", 0, "iteration limit override, 0 keeps the default")
	format := flag.String("format", "json", "checkpoint format: json or binary")
	debug := flag.Bool("debug", false, "verbose development logging")
	flag.Parse()

	logger, err := buildLogger(*debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	p, err := provider.Select(*providerTag)
	if err != nil {
		return err
	}

	cfg := training.DefaultTrainConfig()
	cfg.CheckpointDir = *outDir
	cfg.Seed = *seed
	cfg.Synthetic = *synthetic
	cfg.RestoreIteration = *restoreIteration
	cfg.RestoreOptimizer = *restoreOptimizer
	if *dataArg != "" {
		for _, path := range strings.Split(*dataArg, ",") {
			if path = strings.TrimSpace(path); path != "" {
				cfg.DataPaths = append(cfg.DataPaths, path)
			}
		}
	}
	if *batchSize > 0 {
		cfg.BatchSize = *batchSize
	}
	if *maxIters > 0 {
		cfg.MaxIters = *maxIters
	}
	switch *format {
	case "json":
		cfg.CheckpointFormat = checkpoints.FormatJSON
	case "binary":
		cfg.CheckpointFormat = checkpoints.FormatBinary
	default:
		return fmt.Errorf("unknown checkpoint format %q, want json or binary", *format)
	}
	if !cfg.Synthetic && len(cfg.DataPaths) == 0 {
		return fmt.Errorf("either -data or -synthetic is required")
	}

	layers.SetRandomSeed(cfg.Seed)

	trainer, err := training.NewTrainer(p, cfg, logger)
	if err != nil {
		return err
	}
	if *resumePath != "" {
		if err := trainer.Resume(*resumePath); err != nil {
			return err
		}
	}

	logger.Info("starting run",
		zap.String("provider", p.Tag()),
		zap.Int("batch_size", p.BatchSize(cfg)),
		zap.Int("max_iters", cfg.MaxIters),
		zap.Bool("synthetic", cfg.Synthetic))

	return trainer.Run()
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
