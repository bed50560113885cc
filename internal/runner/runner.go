package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/andresmejia3/facebench/internal/detector"
	"github.com/andresmejia3/facebench/internal/types"
	"github.com/andresmejia3/facebench/internal/utils"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options controls a batch run.
type Options struct {
	FramesRoot string
	OutputRoot string
	Annotate   bool
	Parallel   bool // Run the adapters of one clip concurrently
}

// Runner runs every configured adapter over each clip. Adapters (and the detectors
// they own) are created once by the caller and reused for the whole batch.
type Runner struct {
	opts      Options
	adapters  []*detector.Adapter
	assembler utils.VideoAssembler
	log       *zap.Logger
}

// New returns a Runner. assembler may be nil when annotation is disabled.
func New(opts Options, adapters []*detector.Adapter, assembler utils.VideoAssembler, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{opts: opts, adapters: adapters, assembler: assembler, log: log}
}

// ClipOutcome records what happened to one clip.
type ClipOutcome struct {
	Clip    string
	Results map[string]types.ClipResult // Keyed by model ID, successful adapters only
	Err     error                       // Combined failures of this clip
}

// RunAll processes clips one after another. An empty list means every clip directory
// under the frame root. Failures are isolated per clip and per detector; the returned
// error combines all of them.
func (r *Runner) RunAll(ctx context.Context, clips []string) ([]ClipOutcome, error) {
	if len(clips) == 0 {
		found, err := utils.ListClips(r.opts.FramesRoot)
		if err != nil {
			return nil, fmt.Errorf("failed to list clips under %s: %w", r.opts.FramesRoot, err)
		}
		clips = found
	}

	var (
		outcomes []ClipOutcome
		errs     error
	)
	for _, clip := range clips {
		if err := ctx.Err(); err != nil {
			return outcomes, multierr.Append(errs, err)
		}
		out := r.RunClip(ctx, clip)
		if out.Err != nil {
			r.log.Error("clip failed", zap.String("clip", clip), zap.Error(out.Err))
			errs = multierr.Append(errs, out.Err)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes, errs
}

// RunClip runs all adapters over one clip.
func (r *Runner) RunClip(ctx context.Context, clip string) ClipOutcome {
	out := ClipOutcome{Clip: clip, Results: make(map[string]types.ClipResult)}

	if err := utils.ValidateClipName(clip); err != nil {
		out.Err = err
		return out
	}
	frames, err := utils.ListFrames(r.opts.FramesRoot, clip)
	if err != nil {
		out.Err = err
		return out
	}
	if err := r.prepareDirs(clip); err != nil {
		out.Err = err
		return out
	}

	var (
		mu   sync.Mutex
		errs error
	)
	run := func(ctx context.Context, a *detector.Adapter) {
		res, err := a.Run(ctx, clip, frames, r.opts.Annotate)
		if err == nil && r.opts.Annotate {
			err = r.assemble(ctx, a, clip)
		}

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			r.log.Warn("detector failed, continuing",
				zap.String("clip", clip), zap.String("model", a.Model.ID), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s/%s: %w", clip, a.Model.ID, err))
			return
		}
		out.Results[a.Model.ID] = res
	}

	if r.opts.Parallel {
		// One goroutine per adapter. run records failures itself, so the group never cancels.
		var g errgroup.Group
		for _, a := range r.adapters {
			a := a
			g.Go(func() error {
				run(ctx, a)
				return nil
			})
		}
		g.Wait()
	} else {
		for _, a := range r.adapters {
			run(ctx, a)
		}
	}

	out.Err = errs
	return out
}

func (r *Runner) prepareDirs(clip string) error {
	if err := os.MkdirAll(r.clipOutputDir(clip), 0755); err != nil {
		return fmt.Errorf("%w: %v", types.ErrPersistence, err)
	}
	if r.opts.Annotate {
		for _, a := range r.adapters {
			if err := os.MkdirAll(a.AnnotatedDir(clip), 0755); err != nil {
				return fmt.Errorf("%w: %v", types.ErrPersistence, err)
			}
		}
	}
	return nil
}

func (r *Runner) clipOutputDir(clip string) string {
	return filepath.Join(r.opts.OutputRoot, clip+"_output")
}

func (r *Runner) assemble(ctx context.Context, a *detector.Adapter, clip string) error {
	if r.assembler == nil {
		return errors.New("annotation requested but no video assembler configured")
	}
	video := filepath.Join(r.clipOutputDir(clip), clip+"_"+a.Model.ID+"_annotated.mp4")
	if err := r.assembler.Assemble(ctx, a.AnnotatedDir(clip), clip, video); err != nil {
		return fmt.Errorf("video assembly: %w", err)
	}
	r.log.Info("annotated video written", zap.String("clip", clip), zap.String("path", video))
	return nil
}
