package dataset

import (
	"bytes"
	"database/sql"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/RobinDong/multimodal-trials/async"
)

func writeTestJPEG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 24, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 24; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode test JPEG: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("Failed to write test JPEG: %v", err)
	}
}

// writeCaptionIndex builds a SQLite index next to two generated JPEGs and
// returns the index path.
func writeCaptionIndex(t *testing.T, dir string) string {
	t.Helper()
	writeTestJPEG(t, filepath.Join(dir, "img0.jpg"), color.RGBA{255, 0, 0, 255})
	writeTestJPEG(t, filepath.Join(dir, "img1.jpg"), color.RGBA{0, 0, 255, 255})

	dbPath := filepath.Join(dir, "captions.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open test index: %v", err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE captions(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			image_path TEXT NOT NULL,
			caption TEXT NOT NULL
		)`)
	if err != nil {
		t.Fatalf("Failed to create captions table: %v", err)
	}
	rows := []struct {
		path    string
		caption string
	}{
		{"img0.jpg", "a red square"},
		{"img1.jpg", "a blue square"},
	}
	for _, row := range rows {
		if _, err := db.Exec(
			"INSERT INTO captions(image_path, caption) VALUES(?, ?)",
			row.path, row.caption); err != nil {
			t.Fatalf("Failed to insert caption: %v", err)
		}
	}
	return dbPath
}

func testCaptionConfig() CaptionConfig {
	return CaptionConfig{
		ImageSize: 16,
		SeqLen:    24,
		MaskRatio: 0.15,
		Seed:      21,
		CacheSize: 8,
	}
}

func TestOpenCaptionDatasetAndSample(t *testing.T) {
	dbPath := writeCaptionIndex(t, t.TempDir())

	ds, err := OpenCaptionDataset([]string{dbPath}, testCaptionConfig())
	if err != nil {
		t.Fatalf("Failed to open caption dataset: %v", err)
	}
	if ds.Len() != 2 {
		t.Fatalf("Expected 2 captions, got %d", ds.Len())
	}

	caption, err := ds.Caption(0)
	if err != nil {
		t.Fatalf("Failed to read caption: %v", err)
	}
	if caption != "a red square" {
		t.Errorf("Expected caption %q, got %q", "a red square", caption)
	}

	sample, err := ds.Sample(0)
	if err != nil {
		t.Fatalf("Failed to sample: %v", err)
	}
	if len(sample.Image) != 3*16*16 {
		t.Errorf("Expected %d image elements, got %d", 3*16*16, len(sample.Image))
	}
	if len(sample.Tokens) != 24 || len(sample.Targets) != 24 {
		t.Errorf("Expected 24 tokens and targets, got %d and %d",
			len(sample.Tokens), len(sample.Targets))
	}
	for i, tok := range sample.Tokens {
		if tok < 0 || int(tok) >= VocabSize {
			t.Errorf("Expected token in vocabulary at position %d, got %d", i, tok)
		}
	}

	// img0 is solid red, so the red channel dominates the decoded pixels.
	plane := 16 * 16
	redMean, blueMean := 0.0, 0.0
	for i := 0; i < plane; i++ {
		redMean += float64(sample.Image[i])
		blueMean += float64(sample.Image[2*plane+i])
	}
	if redMean/float64(plane) < 0.8 {
		t.Errorf("Expected red-dominated image, red mean %.3f", redMean/float64(plane))
	}
	if blueMean/float64(plane) > 0.2 {
		t.Errorf("Expected low blue channel, blue mean %.3f", blueMean/float64(plane))
	}
}

func TestCaptionSampleDeterministic(t *testing.T) {
	dbPath := writeCaptionIndex(t, t.TempDir())
	ds, err := OpenCaptionDataset([]string{dbPath}, testCaptionConfig())
	if err != nil {
		t.Fatalf("Failed to open caption dataset: %v", err)
	}

	first, err := ds.Sample(1)
	if err != nil {
		t.Fatalf("Failed to sample: %v", err)
	}
	second, err := ds.Sample(1)
	if err != nil {
		t.Fatalf("Failed to sample: %v", err)
	}
	for i := range first.Tokens {
		if first.Tokens[i] != second.Tokens[i] || first.Targets[i] != second.Targets[i] {
			t.Fatalf("Expected identical masking across passes at position %d", i)
		}
	}
	for i := range first.Image {
		if first.Image[i] != second.Image[i] {
			t.Fatalf("Expected identical pixels across passes at index %d", i)
		}
	}
}

func TestCaptionSampleUsesCache(t *testing.T) {
	dbPath := writeCaptionIndex(t, t.TempDir())
	ds, err := OpenCaptionDataset([]string{dbPath}, testCaptionConfig())
	if err != nil {
		t.Fatalf("Failed to open caption dataset: %v", err)
	}

	if _, err := ds.Sample(0); err != nil {
		t.Fatalf("Failed to sample: %v", err)
	}
	if _, err := ds.Sample(0); err != nil {
		t.Fatalf("Failed to sample: %v", err)
	}

	stats := ds.CacheStats()
	if stats.Hits < 1 {
		t.Errorf("Expected at least one cache hit, got %d", stats.Hits)
	}
	if stats.Items != 1 {
		t.Errorf("Expected one cached image, got %d", stats.Items)
	}
}

func TestCaptionDatasetMultipleIndexes(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	pathA := writeCaptionIndex(t, dirA)
	pathB := writeCaptionIndex(t, dirB)

	ds, err := OpenCaptionDataset([]string{pathA, pathB}, testCaptionConfig())
	if err != nil {
		t.Fatalf("Failed to open caption dataset: %v", err)
	}
	if ds.Len() != 4 {
		t.Errorf("Expected 4 captions across indexes, got %d", ds.Len())
	}

	// Index 2 is the first entry of the second file and must resolve its
	// image relative to that file's directory.
	sample, err := ds.Sample(2)
	if err != nil {
		t.Fatalf("Failed to sample across index boundary: %v", err)
	}
	if len(sample.Image) != 3*16*16 {
		t.Errorf("Expected %d image elements, got %d", 3*16*16, len(sample.Image))
	}
}

func TestCaptionDatasetValidation(t *testing.T) {
	dbPath := writeCaptionIndex(t, t.TempDir())

	if _, err := OpenCaptionDataset(nil, testCaptionConfig()); err == nil {
		t.Error("Expected error for empty path list")
	}

	cfg := testCaptionConfig()
	cfg.ImageSize = 0
	if _, err := OpenCaptionDataset([]string{dbPath}, cfg); err == nil {
		t.Error("Expected error for zero image size")
	}

	cfg = testCaptionConfig()
	cfg.MaskRatio = 1.0
	if _, err := OpenCaptionDataset([]string{dbPath}, cfg); err == nil {
		t.Error("Expected error for mask ratio 1.0")
	}

	missing := filepath.Join(t.TempDir(), "missing.db")
	if _, err := OpenCaptionDataset([]string{missing}, testCaptionConfig()); err == nil {
		t.Error("Expected error for index without captions table")
	}

	ds, err := OpenCaptionDataset([]string{dbPath}, testCaptionConfig())
	if err != nil {
		t.Fatalf("Failed to open caption dataset: %v", err)
	}
	if _, err := ds.Sample(-1); err == nil {
		t.Error("Expected error for negative index")
	}
	if _, err := ds.Sample(2); err == nil {
		t.Error("Expected error for out of range index")
	}
}

func TestCaptionDatasetMissingImage(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "captions.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open test index: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE captions(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			image_path TEXT NOT NULL,
			caption TEXT NOT NULL
		)`)
	if err != nil {
		t.Fatalf("Failed to create captions table: %v", err)
	}
	if _, err := db.Exec(
		"INSERT INTO captions(image_path, caption) VALUES(?, ?)",
		"gone.jpg", "a ghost"); err != nil {
		t.Fatalf("Failed to insert caption: %v", err)
	}
	db.Close()

	ds, err := OpenCaptionDataset([]string{dbPath}, testCaptionConfig())
	if err != nil {
		t.Fatalf("Failed to open caption dataset: %v", err)
	}
	if _, err := ds.Sample(0); err == nil {
		t.Error("Expected error for missing image file")
	}
}

func TestCaptionDatasetServesLoader(t *testing.T) {
	dbPath := writeCaptionIndex(t, t.TempDir())
	ds, err := OpenCaptionDataset([]string{dbPath}, testCaptionConfig())
	if err != nil {
		t.Fatalf("Failed to open caption dataset: %v", err)
	}

	loader, err := async.NewLoader(ds, async.LoaderConfig{
		BatchSize:     2,
		PrefetchDepth: 1,
		Workers:       1,
		ImageShape:    []int{3, 16, 16},
		SeqLen:        24,
	})
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}

	it := loader.NewIterator()
	defer it.Stop()

	batch, err := it.Next()
	if err != nil {
		t.Fatalf("Failed to fetch batch: %v", err)
	}
	defer batch.Release()

	if batch.Rows != 2 {
		t.Errorf("Expected 2 rows, got %d", batch.Rows)
	}
	shape := batch.Images.Shape
	if len(shape) != 4 || shape[0] != 2 || shape[1] != 3 || shape[2] != 16 || shape[3] != 16 {
		t.Errorf("Expected image shape [2 3 16 16], got %v", shape)
	}
}
