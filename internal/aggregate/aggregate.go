package aggregate

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/andresmejia3/facebench/internal/appendlog"
	"github.com/andresmejia3/facebench/internal/compare"
	"github.com/andresmejia3/facebench/internal/labels"
	"github.com/andresmejia3/facebench/internal/store"
	"github.com/andresmejia3/facebench/internal/types"
	"github.com/andresmejia3/facebench/internal/utils"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Aggregator compares persisted detector results with the hand-coded ground truth
// and appends one block per clip to <output>/<model>_results.txt.
type Aggregator struct {
	store      store.ResultStore
	labelsDir  string
	outputRoot string
	log        *zap.Logger

	mu     sync.Mutex
	truths map[string]types.GroundTruth // Parsed once per clip, shared across models
}

// New returns an Aggregator.
func New(s store.ResultStore, labelsDir, outputRoot string, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		store:      s,
		labelsDir:  labelsDir,
		outputRoot: outputRoot,
		log:        log,
		truths:     make(map[string]types.GroundTruth),
	}
}

// ReportPath is the report file for a model.
func (a *Aggregator) ReportPath(model string) string {
	return filepath.Join(a.outputRoot, model+"_results.txt")
}

// ClipScore is one clip's outcome for one model.
type ClipScore struct {
	Clip   string
	Frames int
	Report types.ComparisonReport
	Err    error
}

// Run scores every clip for model and appends the blocks to the model's report.
// A clip that cannot be scored gets an "unavailable" block; the others are unaffected.
func (a *Aggregator) Run(ctx context.Context, model string, clips []string) ([]ClipScore, error) {
	report := appendlog.New(a.ReportPath(model))

	var (
		scores []ClipScore
		errs   error
	)
	for _, clip := range clips {
		if err := ctx.Err(); err != nil {
			return scores, multierr.Append(errs, err)
		}

		score := a.Score(ctx, model, clip)
		scores = append(scores, score)

		if score.Err != nil {
			a.log.Warn("clip could not be scored",
				zap.String("clip", clip), zap.String("model", model), zap.Error(score.Err))
			errs = multierr.Append(errs, fmt.Errorf("%s/%s: %w", clip, model, score.Err))
		} else if score.Report.IsMismatch() {
			a.log.Warn("predicted and ground-truth lengths differ",
				zap.String("clip", clip), zap.String("model", model), zap.Error(types.ErrResultSizeMismatch))
		}

		if err := report.Append(FormatBlock(model, score)); err != nil {
			return scores, multierr.Append(errs, err)
		}
	}
	return scores, errs
}

// Score compares a single (clip, model) pair without writing anything.
func (a *Aggregator) Score(ctx context.Context, model, clip string) ClipScore {
	score := ClipScore{Clip: clip}

	if err := utils.ValidateClipName(clip); err != nil {
		score.Err = err
		return score
	}
	truth, err := a.GroundTruth(clip)
	if err != nil {
		score.Err = err
		return score
	}
	predicted, err := a.store.LoadResult(ctx, clip, model)
	if err != nil {
		score.Err = err
		return score
	}

	score.Frames = predicted.Frames()
	score.Report, score.Err = compare.Compare(predicted, truth)
	if score.Err == nil && score.Frames == 0 {
		score.Err = types.ErrEmptyClip
	}
	return score
}

// GroundTruth returns the cached ground truth for clip, parsing it on first use.
func (a *Aggregator) GroundTruth(clip string) (types.GroundTruth, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if gt, ok := a.truths[clip]; ok {
		return gt, nil
	}
	gt, err := labels.ParseFile(labels.Path(a.labelsDir, clip))
	if err != nil {
		return types.GroundTruth{}, err
	}
	a.truths[clip] = gt
	return gt, nil
}

// FormatBlock renders one report block. "Total accuracy" is missed/frames, i.e. a
// miss rate; the label is kept so existing reports stay comparable.
func FormatBlock(model string, s ClipScore) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\nClip: %s\n", s.Clip)

	rate, err := compare.MissRate(s.Report, s.Frames)
	if s.Err != nil {
		err = s.Err
	}
	if err != nil {
		fmt.Fprintf(&b, "%s unavailable: %v\n", model, err)
		return b.String()
	}

	fmt.Fprintf(&b, "%s missed: %d out of %d\n", model, s.Report.Missed, s.Frames)
	fmt.Fprintf(&b, "Single face accuracy: %s\n", formatFloat(s.Report.SingleAccuracy))
	fmt.Fprintf(&b, "Multi face accuracy: %s\n", formatFloat(s.Report.MultiAccuracy))
	fmt.Fprintf(&b, "Total accuracy: %s\n", formatFloat(rate))
	return b.String()
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
