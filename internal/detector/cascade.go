package detector

import (
	"context"
	"fmt"
	"image"
	"os"

	"github.com/andresmejia3/facebench/internal/types"
	pigo "github.com/esimov/pigo/core"
)

// CascadeConfig tunes the pixel-intensity cascade scan.
type CascadeConfig struct {
	MinSize          int
	MaxSize          int // 0 means the larger frame dimension
	ShiftFactor      float64
	ScaleFactor      float64
	Angle            float64
	IoUThreshold     float64
	QualityThreshold float32
}

// DefaultCascadeConfig mirrors the usual frontal-face settings.
func DefaultCascadeConfig() CascadeConfig {
	return CascadeConfig{
		MinSize:          20,
		ShiftFactor:      0.1,
		ScaleFactor:      1.1,
		IoUThreshold:     0.2,
		QualityThreshold: 5.0,
	}
}

// Cascade is the classical cascade-classifier backend.
// The cascade is unpacked once and reused for every frame; it is not safe for concurrent use.
type Cascade struct {
	classifier *pigo.Pigo
	cfg        CascadeConfig
}

// LoadCascade reads a cascade file (e.g. pigo's facefinder) from disk.
func LoadCascade(path string, cfg CascadeConfig) (*Cascade, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading the cascade file: %w", err)
	}
	return NewCascade(data, cfg)
}

// NewCascade unpacks cascade data.
func NewCascade(data []byte, cfg CascadeConfig) (*Cascade, error) {
	// Unpack the binary file. This will return the number of cascade trees,
	// the tree depth, the threshold and the prediction from tree's leaf nodes.
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("error unpacking the cascade file: %w", err)
	}
	return &Cascade{classifier: classifier, cfg: cfg}, nil
}

func (c *Cascade) Detect(ctx context.Context, frame types.Frame) ([]image.Rectangle, error) {
	if frame.Image == nil {
		return nil, fmt.Errorf("frame %d has no decoded image", frame.Index)
	}
	bounds := frame.Image.Bounds()
	cols, rows := bounds.Dx(), bounds.Dy()

	maxSize := c.cfg.MaxSize
	if maxSize == 0 {
		maxSize = max(cols, rows)
	}

	params := pigo.CascadeParams{
		MinSize:     c.cfg.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: c.cfg.ShiftFactor,
		ScaleFactor: c.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(frame.Image),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	// The result contains quadruplets representing the row, column, scale and detection score.
	dets := c.classifier.RunCascade(params, c.cfg.Angle)
	dets = c.classifier.ClusterDetections(dets, c.cfg.IoUThreshold)

	return cascadeRects(dets, c.cfg.QualityThreshold, bounds.Min), nil
}

// cascadeRects keeps detections above the quality threshold and converts the
// centre/scale form into rectangles in image coordinates.
func cascadeRects(dets []pigo.Detection, threshold float32, origin image.Point) []image.Rectangle {
	var faces []image.Rectangle
	for _, d := range dets {
		if d.Q <= threshold {
			continue
		}
		half := d.Scale / 2
		r := image.Rect(d.Col-half, d.Row-half, d.Col+half, d.Row+half)
		faces = append(faces, r.Add(origin))
	}
	return faces
}

func (c *Cascade) Close() error { return nil }
