package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/facebench/internal/appendlog"
	"github.com/andresmejia3/facebench/internal/detector"
	"github.com/andresmejia3/facebench/internal/runner"
	"github.com/andresmejia3/facebench/internal/types"
	"github.com/andresmejia3/facebench/internal/utils"
	"github.com/andresmejia3/facebench/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// RunOptions configures the detector batch.
type RunOptions struct {
	Models      string
	Annotate    bool
	Parallel    bool
	FrameRate   int
	CascadePath string
	MTCNNWorker string
	RFWorker    string
}

var runOpts RunOptions

var runCmd = &cobra.Command{
	Use:   "run [clip...]",
	Short: "Run the face detectors over clips and persist per-frame results",
	Long: `Runs every selected detector over each clip's frames, persists the single/multi
face sequences and appends one timing line per (clip, detector) to time.txt.
With no clip arguments every clip directory under --frames is processed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runBatch(cmd.Context(), args, runOpts)
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOpts.Models, "models", "m", "hc,mtcnn,rf", "Comma-separated detectors to run (hc, mtcnn, rf)")
	runCmd.Flags().BoolVarP(&runOpts.Annotate, "annotate", "a", false, "Save annotated frames and assemble one video per detector")
	runCmd.Flags().BoolVarP(&runOpts.Parallel, "parallel", "p", false, "Run the detectors of a clip concurrently")
	runCmd.Flags().IntVar(&runOpts.FrameRate, "framerate", 24, "Frame rate of the annotated videos")
	runCmd.Flags().StringVar(&runOpts.CascadePath, "cascade", "cascade/facefinder", "Path to the pigo face cascade file")
	runCmd.Flags().StringVar(&runOpts.MTCNNWorker, "mtcnn-worker", "python3 workers/mtcnn_worker.py", "Command line of the MTCNN detector worker")
	runCmd.Flags().StringVar(&runOpts.RFWorker, "rf-worker", "python3 workers/retinaface_worker.py", "Command line of the RetinaFace detector worker")
	rootCmd.AddCommand(runCmd)
}

// runBatch builds the adapters once, runs every clip and prints a summary.
func runBatch(ctx context.Context, clips []string, ro RunOptions) error {
	models, err := validateRunFlags(&ro, clips)
	if err != nil {
		utils.ShowError("Invalid run flags", err, nil)
		return err
	}

	var progress io.Writer
	if !ro.Parallel {
		// Concurrent bars would interleave on one terminal
		progress = os.Stderr
	}

	timing := appendlog.New(timingLogPath())
	adapters, err := buildAdapters(models, ro, timing, progress)
	if err != nil {
		utils.ShowError("Failed to initialise detectors", err, nil)
		return err
	}
	defer func() {
		for _, a := range adapters {
			if err := a.Close(); err != nil {
				Log.Warn("detector did not shut down cleanly", zap.String("model", a.Model.ID), zap.Error(err))
			}
		}
	}()

	var assembler utils.VideoAssembler
	if ro.Annotate {
		assembler = utils.NewFFmpegAssembler(ro.FrameRate)
	}

	fmt.Fprintf(os.Stderr, "⚙️  Running %d detector(s) over %s\n", len(adapters), describeClips(clips))

	r := runner.New(runner.Options{
		FramesRoot: opts.FramesRoot,
		OutputRoot: opts.OutputRoot,
		Annotate:   ro.Annotate,
		Parallel:   ro.Parallel,
	}, adapters, assembler, Log)

	start := time.Now()
	outcomes, runErr := r.RunAll(ctx, clips)
	printRunSummary(os.Stderr, outcomes, time.Since(start))

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(os.Stderr, "🛑 Run interrupted.")
			return runErr
		}
		// Isolated failures were already logged; only fail the command when nothing succeeded
		if succeeded(outcomes) == 0 {
			utils.ShowError("Every clip failed", runErr, nil)
			return runErr
		}
		fmt.Fprintf(os.Stderr, "⚠️  %d failure(s), see log above.\n", len(multierr.Errors(runErr)))
	}
	return nil
}

// validateRunFlags ensures all CLI arguments are valid before starting heavy processes.
func validateRunFlags(ro *RunOptions, clips []string) ([]types.Model, error) {
	models, err := parseModels(ro.Models)
	if err != nil {
		return nil, err
	}

	for _, clip := range clips {
		if err := utils.ValidateClipName(clip); err != nil {
			return nil, err
		}
	}

	if ro.Annotate && ro.FrameRate < 1 {
		return nil, fmt.Errorf("framerate must be >= 1, got %d", ro.FrameRate)
	}

	for _, m := range models {
		switch m {
		case types.ModelCascade:
			info, err := os.Stat(ro.CascadePath)
			if err != nil {
				return nil, fmt.Errorf("cascade file: %w", err)
			}
			if info.IsDir() {
				return nil, fmt.Errorf("cascade path %s is a directory", ro.CascadePath)
			}
		case types.ModelMTCNN:
			if strings.TrimSpace(ro.MTCNNWorker) == "" {
				return nil, errors.New("mtcnn-worker command is empty")
			}
		case types.ModelRetinaFace:
			if strings.TrimSpace(ro.RFWorker) == "" {
				return nil, errors.New("rf-worker command is empty")
			}
		}
	}
	return models, nil
}

// buildAdapters creates each detector once for the whole batch. On failure every
// detector already started is closed.
func buildAdapters(models []types.Model, ro RunOptions, timing *appendlog.Log, progress io.Writer) ([]*detector.Adapter, error) {
	var adapters []*detector.Adapter
	fail := func(err error) ([]*detector.Adapter, error) {
		for _, a := range adapters {
			a.Close()
		}
		return nil, err
	}

	for _, m := range models {
		det, err := newDetector(m, ro)
		if err != nil {
			return fail(err)
		}
		a := &detector.Adapter{
			Model:         m,
			Detector:      det,
			Store:         Results,
			Timing:        timing,
			AnnotatedRoot: opts.AnnotatedRoot,
			Progress:      progress,
			Logger:        Log,
		}
		if DB != nil {
			a.Runs = DB
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func newDetector(m types.Model, ro RunOptions) (detector.Detector, error) {
	switch m {
	case types.ModelCascade:
		fmt.Fprintf(os.Stderr, "🧩 Loading cascade %s\n", filepath.Base(ro.CascadePath))
		c, err := detector.LoadCascade(ro.CascadePath, detector.DefaultCascadeConfig())
		if err != nil {
			return nil, err
		}
		return c, nil
	case types.ModelMTCNN:
		fmt.Fprintln(os.Stderr, "🚀 Starting MTCNN worker...")
		w, err := worker.NewDetectorWorker(m.Name, ro.MTCNNWorker)
		if err != nil {
			return nil, err
		}
		return detector.NewMTCNN(w), nil
	case types.ModelRetinaFace:
		fmt.Fprintln(os.Stderr, "🚀 Starting RetinaFace worker...")
		w, err := worker.NewDetectorWorker(m.Name, ro.RFWorker)
		if err != nil {
			return nil, err
		}
		return detector.NewRetinaFace(w), nil
	}
	return nil, fmt.Errorf("no detector for model %q", m.ID)
}

func describeClips(clips []string) string {
	switch len(clips) {
	case 0:
		return "every clip under " + opts.FramesRoot
	case 1:
		return "clip " + clips[0]
	default:
		return fmt.Sprintf("%d clips", len(clips))
	}
}

func succeeded(outcomes []runner.ClipOutcome) int {
	n := 0
	for _, o := range outcomes {
		if len(o.Results) > 0 {
			n++
		}
	}
	return n
}

func printRunSummary(w io.Writer, outcomes []runner.ClipOutcome, took time.Duration) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "📊 RUN SUMMARY\n")
	fmt.Fprintf(w, "---------------------------------------------------------\n")
	for _, o := range outcomes {
		status := "✅"
		if o.Err != nil {
			status = "❌"
			if len(o.Results) > 0 {
				status = "⚠️ "
			}
		}
		fmt.Fprintf(w, "%s %s: %d detector result(s)\n", status, o.Clip, len(o.Results))
	}
	fmt.Fprintf(w, "\n⏱️  Total time: %s\n", fmtDuration(took))
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

func fmtDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
