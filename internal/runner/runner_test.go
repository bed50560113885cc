package runner

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/facebench/internal/appendlog"
	"github.com/andresmejia3/facebench/internal/detector"
	"github.com/andresmejia3/facebench/internal/store"
	"github.com/andresmejia3/facebench/internal/types"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// countingDetector reports a fixed face count for every frame of every clip.
type countingDetector struct {
	faces int
	err   error
}

func (d *countingDetector) Detect(ctx context.Context, frame types.Frame) ([]image.Rectangle, error) {
	if d.err != nil {
		return nil, d.err
	}
	return make([]image.Rectangle, d.faces), nil
}

func (d *countingDetector) Close() error { return nil }

type fakeAssembler struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeAssembler) Assemble(ctx context.Context, frameDir, clip, outPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, outPath)
	return nil
}

// sharedStore is one ResultStore handed to every adapter. SaveResult holds each caller
// until `expect` callers are inside at the same time.
type sharedStore struct {
	expect int

	mu      sync.Mutex
	arrived int
	all     chan struct{}
	saved   map[string]types.ClipResult
}

func newSharedStore(expect int) *sharedStore {
	return &sharedStore{expect: expect, all: make(chan struct{}), saved: make(map[string]types.ClipResult)}
}

func (s *sharedStore) SaveResult(ctx context.Context, clip, model string, r types.ClipResult) error {
	s.mu.Lock()
	s.arrived++
	if s.arrived == s.expect {
		close(s.all)
	}
	s.mu.Unlock()

	select {
	case <-s.all:
	case <-time.After(5 * time.Second):
		return errors.New("SaveResult calls never overlapped")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[clip+"/"+model] = r
	return nil
}

func (s *sharedStore) LoadResult(ctx context.Context, clip, model string) (types.ClipResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.saved[clip+"/"+model]
	if !ok {
		return types.ClipResult{}, store.ErrNoResult
	}
	return r, nil
}

func (s *sharedStore) HasResult(ctx context.Context, clip, model string) (bool, error) {
	_, err := s.LoadResult(ctx, clip, model)
	return err == nil, nil
}

func (s *sharedStore) Reset(ctx context.Context) error { return nil }
func (s *sharedStore) Close(ctx context.Context)       {}

type fixture struct {
	root     string
	opts     Options
	store    *store.FileStore
	timing   *appendlog.Log
	adapters []*detector.Adapter
}

func newFixture(t *testing.T, dets map[types.Model]detector.Detector) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root: root,
		opts: Options{
			FramesRoot: filepath.Join(root, "frames"),
			OutputRoot: filepath.Join(root, "output"),
		},
	}
	f.store = store.NewFileStore(f.opts.OutputRoot)
	f.timing = appendlog.New(filepath.Join(f.opts.OutputRoot, "time.txt"))

	for _, m := range types.Models {
		det, ok := dets[m]
		if !ok {
			continue
		}
		f.adapters = append(f.adapters, &detector.Adapter{
			Model:         m,
			Detector:      det,
			Store:         f.store,
			Timing:        f.timing,
			AnnotatedRoot: filepath.Join(root, "annotated"),
			Logger:        zaptest.NewLogger(t),
		})
	}
	return f
}

func (f *fixture) addClip(t *testing.T, clip string, frames int) {
	t.Helper()
	dir := filepath.Join(f.opts.FramesRoot, clip)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for i := 0; i < frames; i++ {
		img := imaging.New(8, 8, color.NRGBA{A: 255})
		require.NoError(t, imaging.Save(img, filepath.Join(dir, clip+"_"+string(rune('a'+i))+".png")))
	}
}

func (f *fixture) timingLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.timing.Path())
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestRunClipAllDetectors(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		name := "Sequential"
		if parallel {
			name = "Parallel"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, map[types.Model]detector.Detector{
				types.ModelCascade:    &countingDetector{faces: 0},
				types.ModelMTCNN:      &countingDetector{faces: 1},
				types.ModelRetinaFace: &countingDetector{faces: 2},
			})
			f.opts.Parallel = parallel
			f.addClip(t, "clip01", 3)

			r := New(f.opts, f.adapters, nil, zaptest.NewLogger(t))
			out := r.RunClip(context.Background(), "clip01")
			require.NoError(t, out.Err)
			require.Len(t, out.Results, 3)

			assert.Equal(t, types.Sequence{0, 0, 0}, out.Results["hc"].Single)
			assert.Equal(t, types.Sequence{1, 1, 1}, out.Results["mtcnn"].Single)
			assert.Equal(t, types.Sequence{1, 1, 1}, out.Results["rf"].Multi)

			for _, m := range types.Models {
				ok, err := f.store.HasResult(context.Background(), "clip01", m.ID)
				require.NoError(t, err)
				assert.True(t, ok, "missing persisted result for %s", m.ID)
			}

			lines := f.timingLines(t)
			assert.Len(t, lines, 3)
			for _, l := range lines {
				assert.Regexp(t, `^clip01 (Cascade|MTCNN|RetinaFace) took [0-9.]+$`, l)
			}
		})
	}
}

func TestRunClipParallelSharesStore(t *testing.T) {
	f := newFixture(t, map[types.Model]detector.Detector{
		types.ModelCascade:    &countingDetector{faces: 1},
		types.ModelMTCNN:      &countingDetector{faces: 1},
		types.ModelRetinaFace: &countingDetector{faces: 1},
	})
	shared := newSharedStore(len(types.Models))
	for _, a := range f.adapters {
		a.Store = shared
	}
	f.opts.Parallel = true
	f.addClip(t, "clip01", 2)

	r := New(f.opts, f.adapters, nil, zaptest.NewLogger(t))
	out := r.RunClip(context.Background(), "clip01")
	require.NoError(t, out.Err)

	for _, m := range types.Models {
		got, err := shared.LoadResult(context.Background(), "clip01", m.ID)
		require.NoError(t, err)
		assert.Equal(t, types.Sequence{1, 1}, got.Single)
	}
}

func TestRunClipIsolatesDetectorFailure(t *testing.T) {
	boom := errors.New("worker exited")
	f := newFixture(t, map[types.Model]detector.Detector{
		types.ModelCascade: &countingDetector{faces: 1},
		types.ModelMTCNN:   &countingDetector{err: boom},
	})
	f.addClip(t, "clip01", 2)

	r := New(f.opts, f.adapters, nil, zaptest.NewLogger(t))
	out := r.RunClip(context.Background(), "clip01")

	require.ErrorIs(t, out.Err, boom)
	assert.Contains(t, out.Results, "hc")
	assert.NotContains(t, out.Results, "mtcnn")
}

func TestRunAllContinuesPastMissingClip(t *testing.T) {
	f := newFixture(t, map[types.Model]detector.Detector{
		types.ModelCascade: &countingDetector{faces: 1},
	})
	f.addClip(t, "clip01", 2)
	f.addClip(t, "clip03", 1)

	r := New(f.opts, f.adapters, nil, zaptest.NewLogger(t))
	outcomes, err := r.RunAll(context.Background(), []string{"clip01", "clip02", "clip03"})

	require.ErrorIs(t, err, types.ErrClipNotFound)
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, types.ErrClipNotFound)
	assert.NoError(t, outcomes[2].Err)
	assert.Len(t, outcomes[2].Results["hc"].Single, 1)
}

func TestRunAllDiscoversClips(t *testing.T) {
	f := newFixture(t, map[types.Model]detector.Detector{
		types.ModelRetinaFace: &countingDetector{faces: 0},
	})
	f.addClip(t, "b_clip", 1)
	f.addClip(t, "a_clip", 1)

	r := New(f.opts, f.adapters, nil, zaptest.NewLogger(t))
	outcomes, err := r.RunAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "a_clip", outcomes[0].Clip)
	assert.Equal(t, "b_clip", outcomes[1].Clip)
}

func TestRunClipRejectsBadName(t *testing.T) {
	f := newFixture(t, map[types.Model]detector.Detector{types.ModelCascade: &countingDetector{}})
	r := New(f.opts, f.adapters, nil, zaptest.NewLogger(t))
	out := r.RunClip(context.Background(), "../../etc")
	assert.ErrorIs(t, out.Err, types.ErrInvalidClipName)
}

func TestRunClipAnnotatesAndAssembles(t *testing.T) {
	f := newFixture(t, map[types.Model]detector.Detector{
		types.ModelCascade: &countingDetector{faces: 1},
		types.ModelMTCNN:   &countingDetector{faces: 0},
	})
	f.opts.Annotate = true
	f.addClip(t, "clip01", 2)

	asm := &fakeAssembler{}
	r := New(f.opts, f.adapters, asm, zaptest.NewLogger(t))
	out := r.RunClip(context.Background(), "clip01")
	require.NoError(t, out.Err)

	assert.ElementsMatch(t, []string{
		filepath.Join(f.opts.OutputRoot, "clip01_output", "clip01_hc_annotated.mp4"),
		filepath.Join(f.opts.OutputRoot, "clip01_output", "clip01_mtcnn_annotated.mp4"),
	}, asm.calls)

	for _, dir := range []string{"clip01_hc", "clip01_mtcnn"} {
		entries, err := os.ReadDir(filepath.Join(f.root, "annotated", dir))
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	}
}

func TestRunClipAnnotateWithoutAssembler(t *testing.T) {
	f := newFixture(t, map[types.Model]detector.Detector{types.ModelCascade: &countingDetector{faces: 1}})
	f.opts.Annotate = true
	f.addClip(t, "clip01", 1)

	r := New(f.opts, f.adapters, nil, zaptest.NewLogger(t))
	out := r.RunClip(context.Background(), "clip01")
	assert.Error(t, out.Err)
}
