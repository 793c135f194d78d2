package preprocessing

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"sync"
)

// ImageProcessor decodes JPEG images and converts them into the fixed-size
// CHW float32 layout the image encoder consumes. The intermediate resize
// buffer is reused across calls.
type ImageProcessor struct {
	mu              sync.Mutex
	tempImageBuffer *image.RGBA
	targetSize      int
}

// NewImageProcessor creates a processor producing targetSize x targetSize crops.
func NewImageProcessor(targetSize int) *ImageProcessor {
	return &ImageProcessor{
		targetSize: targetSize,
	}
}

// TargetSize returns the output edge length in pixels.
func (p *ImageProcessor) TargetSize() int {
	return p.targetSize
}

// DecodeAndPreprocess decodes a JPEG image, scales it so the short side
// matches the target size, center-crops the long side, and returns the
// pixels as CHW float32 data normalized to [0, 1].
func (p *ImageProcessor) DecodeAndPreprocess(reader io.Reader) ([]float32, error) {
	img, err := jpeg.Decode(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decode JPEG: %v", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image has empty bounds %v", bounds)
	}

	// One scale factor for both axes keeps the aspect ratio; the long
	// side is cropped symmetrically around the center.
	short := width
	if height < short {
		short = height
	}
	scale := float64(short) / float64(p.targetSize)
	offX := (width - int(float64(p.targetSize)*scale)) / 2
	offY := (height - int(float64(p.targetSize)*scale)) / 2

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.tempImageBuffer == nil || p.tempImageBuffer.Bounds().Dx() != p.targetSize {
		p.tempImageBuffer = image.NewRGBA(image.Rect(0, 0, p.targetSize, p.targetSize))
	}
	targetImg := p.tempImageBuffer

	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			srcX := bounds.Min.X + offX + int(float64(x)*scale)
			srcY := bounds.Min.Y + offY + int(float64(y)*scale)

			if srcX >= bounds.Max.X {
				srcX = bounds.Max.X - 1
			}
			if srcY >= bounds.Max.Y {
				srcY = bounds.Max.Y - 1
			}

			targetImg.Set(x, y, img.At(srcX, srcY))
		}
	}

	plane := p.targetSize * p.targetSize
	data := make([]float32, 3*plane)

	for y := 0; y < p.targetSize; y++ {
		for x := 0; x < p.targetSize; x++ {
			r, g, b, _ := targetImg.At(x, y).RGBA()

			idx := y*p.targetSize + x
			rVal := float32(r) / 65535.0
			gVal := float32(g) / 65535.0
			bVal := float32(b) / 65535.0

			if rVal != rVal || rVal < 0 || rVal > 1 {
				rVal = 0.0
			}
			if gVal != gVal || gVal < 0 || gVal > 1 {
				gVal = 0.0
			}
			if bVal != bVal || bVal < 0 || bVal > 1 {
				bVal = 0.0
			}

			data[0*plane+idx] = rVal
			data[1*plane+idx] = gVal
			data[2*plane+idx] = bVal
		}
	}

	return data, nil
}

// ProcessFile decodes and preprocesses the JPEG file at the given path.
func (p *ImageProcessor) ProcessFile(path string) ([]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %v", path, err)
	}
	defer file.Close()

	data, err := p.DecodeAndPreprocess(file)
	if err != nil {
		return nil, fmt.Errorf("failed to preprocess %s: %v", path, err)
	}
	return data, nil
}
