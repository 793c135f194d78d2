package dataset

import (
	"database/sql"
	"fmt"
	"math/rand"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/RobinDong/multimodal-trials/async"
	"github.com/RobinDong/multimodal-trials/vision/preprocessing"
)

// CaptionConfig controls how a caption corpus is read and sampled.
type CaptionConfig struct {
	ImageSize int     // Edge length of the preprocessed square image
	SeqLen    int     // Caption token sequence length
	MaskRatio float64 // Fraction of caption positions selected for masking
	Seed      int64   // Base seed for per-sample mask randomness
	CacheSize int     // Decoded images kept in memory, 0 disables caching
	Logger    *zap.Logger
}

// DefaultCaptionConfig mirrors the pretraining recipe: 256px crops and
// 64-byte captions with 15% masking.
func DefaultCaptionConfig() CaptionConfig {
	return CaptionConfig{
		ImageSize: 256,
		SeqLen:    64,
		MaskRatio: 0.15,
		CacheSize: 4096,
	}
}

type captionEntry struct {
	imagePath string
	caption   string
}

// CaptionDataset serves (image, caption) pairs from one or more SQLite
// index files. Each index holds a captions table with image_path and
// caption columns; relative image paths resolve against the index file's
// directory. The whole index is loaded at open time, pixels stay on disk
// until sampled.
type CaptionDataset struct {
	config    CaptionConfig
	entries   []captionEntry
	processor *preprocessing.ImageProcessor
	cache     *ImageCache
	logger    *zap.Logger
}

// OpenCaptionDataset reads every index file and concatenates their entries
// in path order.
func OpenCaptionDataset(paths []string, config CaptionConfig) (*CaptionDataset, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no caption index paths given")
	}
	if config.ImageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", config.ImageSize)
	}
	if config.SeqLen <= 0 {
		return nil, fmt.Errorf("sequence length must be positive, got %d", config.SeqLen)
	}
	if config.MaskRatio < 0 || config.MaskRatio >= 1 {
		return nil, fmt.Errorf("mask ratio must be in [0, 1), got %f", config.MaskRatio)
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ds := &CaptionDataset{
		config:    config,
		processor: preprocessing.NewImageProcessor(config.ImageSize),
		logger:    logger,
	}
	if config.CacheSize > 0 {
		ds.cache = NewImageCache(config.CacheSize)
	}

	for _, path := range paths {
		count, err := ds.loadIndex(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open caption index %s: %v", path, err)
		}
		logger.Info("caption index loaded",
			zap.String("path", path),
			zap.Int("captions", count))
	}
	if len(ds.entries) == 0 {
		return nil, fmt.Errorf("caption indexes %v contain no captions", paths)
	}
	return ds, nil
}

func (d *CaptionDataset) loadIndex(path string) (int, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	rows, err := db.Query("SELECT image_path, caption FROM captions ORDER BY id")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	dir := filepath.Dir(path)
	count := 0
	for rows.Next() {
		var entry captionEntry
		if err := rows.Scan(&entry.imagePath, &entry.caption); err != nil {
			return count, err
		}
		if !filepath.IsAbs(entry.imagePath) {
			entry.imagePath = filepath.Join(dir, entry.imagePath)
		}
		d.entries = append(d.entries, entry)
		count++
	}
	return count, rows.Err()
}

// Len returns the number of caption pairs across all indexes.
func (d *CaptionDataset) Len() int {
	return len(d.entries)
}

// Caption returns the raw caption text at index, mainly for inspection.
func (d *CaptionDataset) Caption(index int) (string, error) {
	if index < 0 || index >= len(d.entries) {
		return "", fmt.Errorf("index %d out of range [0, %d)", index, len(d.entries))
	}
	return d.entries[index].caption, nil
}

// Sample decodes the image and tokenizes the caption at index. Masking is
// seeded by the index so a sample is reproducible across passes and
// workers.
func (d *CaptionDataset) Sample(index int) (*async.Sample, error) {
	if index < 0 || index >= len(d.entries) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", index, len(d.entries))
	}
	entry := d.entries[index]

	var image []float32
	if d.cache != nil {
		if cached, ok := d.cache.Get(entry.imagePath); ok {
			image = cached
		}
	}
	if image == nil {
		decoded, err := d.processor.ProcessFile(entry.imagePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", index, err)
		}
		image = decoded
		if d.cache != nil {
			d.cache.Put(entry.imagePath, decoded)
		}
	}

	tokens := EncodeCaption(entry.caption, d.config.SeqLen)
	rng := rand.New(rand.NewSource(d.config.Seed + int64(index)))
	masked, targets := MaskTokens(tokens, rng, d.config.MaskRatio)

	return &async.Sample{
		Image:   image,
		Tokens:  masked,
		Targets: targets,
	}, nil
}

// CacheStats reports decode-cache counters, or a zero snapshot when the
// cache is disabled.
func (d *CaptionDataset) CacheStats() CacheStats {
	if d.cache == nil {
		return CacheStats{}
	}
	return d.cache.Stats()
}
