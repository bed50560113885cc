// Package detector runs face-detection backends over a clip's frames and reduces
// their output to single-face / multi-face presence sequences.
package detector

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/facebench/internal/appendlog"
	"github.com/andresmejia3/facebench/internal/store"
	"github.com/andresmejia3/facebench/internal/types"
	"github.com/andresmejia3/facebench/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

// Detector finds face regions in one frame.
// Implementations normalize their library's return shape, including "no face", to a
// plain slice of rectangles.
type Detector interface {
	Detect(ctx context.Context, frame types.Frame) ([]image.Rectangle, error)
	Close() error
}

// RunRecorder receives per-run timings in addition to the timing log.
type RunRecorder interface {
	InsertRun(ctx context.Context, clip, model string, took time.Duration) error
}

// Classify maps a detection count to the (single, multi) indicators.
func Classify(faces int) (single, multi uint8) {
	switch {
	case faces == 1:
		return 1, 0
	case faces > 1:
		return 0, 1
	default:
		return 0, 0
	}
}

// Adapter wraps one Detector and owns it for the lifetime of a batch.
type Adapter struct {
	Model         types.Model
	Detector      Detector
	Store         store.ResultStore
	Timing        *appendlog.Log
	Runs          RunRecorder // Optional
	AnnotatedRoot string
	Progress      io.Writer // Optional progress bar output
	Logger        *zap.Logger
}

// AnnotatedDir is where annotated frames of clip are written for this model.
func (a *Adapter) AnnotatedDir(clip string) string {
	return filepath.Join(a.AnnotatedRoot, clip+"_"+a.Model.ID)
}

// Run detects faces in every frame of the clip, in order, persists the result and
// appends one timing line.
func (a *Adapter) Run(ctx context.Context, clip string, framePaths []string, annotate bool) (types.ClipResult, error) {
	if len(framePaths) == 0 {
		return types.ClipResult{}, fmt.Errorf("%w: %s", types.ErrClipNotFound, clip)
	}

	log := a.logger().With(zap.String("clip", clip), zap.String("model", a.Model.ID))
	log.Info("starting detector", zap.Int("frames", len(framePaths)))
	start := time.Now()

	var bar *progressbar.ProgressBar
	if a.Progress != nil {
		bar = progressbar.NewOptions(len(framePaths),
			progressbar.OptionSetDescription(fmt.Sprintf("🔍 %s %s", clip, a.Model.Name)),
			progressbar.OptionSetWriter(a.Progress),
			progressbar.OptionShowCount(),
		)
	}

	if annotate {
		if err := os.MkdirAll(a.AnnotatedDir(clip), 0755); err != nil {
			return types.ClipResult{}, fmt.Errorf("%w: %v", types.ErrPersistence, err)
		}
	}

	result := types.NewClipResult(len(framePaths))
	for i, path := range framePaths {
		if err := ctx.Err(); err != nil {
			return types.ClipResult{}, err
		}

		frame, err := loadFrame(i, path)
		if err != nil {
			return types.ClipResult{}, err
		}

		faces, err := a.Detector.Detect(ctx, frame)
		if err != nil {
			return types.ClipResult{}, fmt.Errorf("%s on frame %s: %w", a.Model.Name, frame.Name, err)
		}
		result.Single[i], result.Multi[i] = Classify(len(faces))

		if annotate {
			out := filepath.Join(a.AnnotatedDir(clip), utils.AnnotatedFrameName(clip, i))
			if err := imaging.Save(Annotate(frame.Image, faces), out); err != nil {
				return types.ClipResult{}, fmt.Errorf("%w: annotated frame: %v", types.ErrPersistence, err)
			}
		}

		if bar != nil {
			bar.Add(1)
		}
	}
	if bar != nil {
		bar.Finish()
		fmt.Fprintln(a.Progress)
	}

	if err := a.Store.SaveResult(ctx, clip, a.Model.ID, result); err != nil {
		return types.ClipResult{}, err
	}

	took := time.Since(start)
	if err := a.Timing.Appendf("%s %s took %f\n", clip, a.Model.Name, took.Seconds()); err != nil {
		return types.ClipResult{}, err
	}
	if a.Runs != nil {
		if err := a.Runs.InsertRun(ctx, clip, a.Model.ID, took); err != nil {
			log.Warn("failed to record run timing", zap.Error(err))
		}
	}

	log.Info("detector finished",
		zap.Duration("took", took),
		zap.Int("single", result.Single.Count()),
		zap.Int("multi", result.Multi.Count()),
	)
	return result, nil
}

func (a *Adapter) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// Close releases the wrapped detector.
func (a *Adapter) Close() error {
	return a.Detector.Close()
}

func loadFrame(index int, path string) (types.Frame, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Frame{}, fmt.Errorf("read frame: %w", err)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return types.Frame{}, fmt.Errorf("decode frame %s: %w", path, err)
	}
	return types.Frame{
		Index: index,
		Name:  filepath.Base(path),
		Data:  data,
		Image: img,
	}, nil
}
