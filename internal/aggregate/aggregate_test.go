package aggregate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/facebench/internal/store"
	"github.com/andresmejia3/facebench/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fixture struct {
	labelsDir string
	output    string
	store     *store.FileStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		labelsDir: filepath.Join(root, "hand_coding"),
		output:    filepath.Join(root, "output"),
	}
	require.NoError(t, os.MkdirAll(f.labelsDir, 0755))
	f.store = store.NewFileStore(f.output)
	return f
}

func (f *fixture) label(t *testing.T, clip, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.labelsDir, clip+"_hcode.txt"), []byte(content), 0644))
}

func (f *fixture) result(t *testing.T, clip, model string, r types.ClipResult) {
	t.Helper()
	require.NoError(t, f.store.SaveResult(context.Background(), clip, model, r))
}

func TestRunEndToEnd(t *testing.T) {
	f := newFixture(t)
	// Ground truth single=[1,0,0], multi=[0,0,1]
	f.label(t, "clip01", "// three frames\nend 3\nf 1 1\nff 3 3\n")
	f.result(t, "clip01", "hc", types.ClipResult{Single: types.Sequence{1, 0, 0}, Multi: types.Sequence{0, 0, 1}})

	a := New(f.store, f.labelsDir, f.output, zaptest.NewLogger(t))
	scores, err := a.Run(context.Background(), "hc", []string{"clip01"})
	require.NoError(t, err)
	require.Len(t, scores, 1)

	assert.Equal(t, 0, scores[0].Report.Missed)
	assert.Equal(t, 1.0, scores[0].Report.SingleAccuracy)
	assert.Equal(t, 1.0, scores[0].Report.MultiAccuracy)

	data, err := os.ReadFile(a.ReportPath("hc"))
	require.NoError(t, err)
	want := "\nClip: clip01\n" +
		"hc missed: 0 out of 3\n" +
		"Single face accuracy: 1.0\n" +
		"Multi face accuracy: 1.0\n" +
		"Total accuracy: 0.0\n"
	assert.Equal(t, want, string(data))
}

func TestRunAppendsAcrossRuns(t *testing.T) {
	f := newFixture(t)
	f.label(t, "clip01", "end 4\nf 1 3\n")
	f.result(t, "clip01", "mtcnn", types.ClipResult{Single: types.Sequence{1, 0, 1, 0}, Multi: types.Sequence{0, 0, 0, 0}})

	a := New(f.store, f.labelsDir, f.output, zaptest.NewLogger(t))
	for i := 0; i < 2; i++ {
		_, err := a.Run(context.Background(), "mtcnn", []string{"clip01"})
		require.NoError(t, err)
	}

	data, err := os.ReadFile(a.ReportPath("mtcnn"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "Clip: clip01"))
	assert.Contains(t, string(data), "mtcnn missed: 1 out of 4\nSingle face accuracy: 0.75\nMulti face accuracy: 1.0\nTotal accuracy: 0.25\n")
}

func TestRunIsolatesClipFailures(t *testing.T) {
	f := newFixture(t)
	f.label(t, "good", "end 2\nf 1 2\n")
	f.result(t, "good", "rf", types.ClipResult{Single: types.Sequence{1, 1}, Multi: types.Sequence{0, 0}})

	// No persisted result
	f.label(t, "noresult", "end 2\n")
	// Malformed labels
	f.label(t, "badlabels", "f 1 2\n")
	f.result(t, "badlabels", "rf", types.NewClipResult(2))
	// Length mismatch is a soft failure
	f.label(t, "short", "end 3\n")
	f.result(t, "short", "rf", types.NewClipResult(2))

	a := New(f.store, f.labelsDir, f.output, zaptest.NewLogger(t))
	scores, err := a.Run(context.Background(), "rf", []string{"noresult", "badlabels", "short", "good"})

	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNoResult)
	assert.ErrorIs(t, err, types.ErrMalformedAnnotation)
	require.Len(t, scores, 4)

	assert.NoError(t, scores[2].Err)
	assert.True(t, scores[2].Report.IsMismatch())
	assert.NoError(t, scores[3].Err)
	assert.Equal(t, 0, scores[3].Report.Missed)

	data, err := os.ReadFile(a.ReportPath("rf"))
	require.NoError(t, err)
	report := string(data)
	assert.Contains(t, report, "Clip: noresult\nrf unavailable: ")
	assert.Contains(t, report, "Clip: badlabels\nrf unavailable: ")
	assert.Contains(t, report, "Clip: short\nrf missed: -1 out of 2\nSingle face accuracy: 0.0\nMulti face accuracy: 0.0\nTotal accuracy: -0.5\n")
	assert.Contains(t, report, "Clip: good\nrf missed: 0 out of 2\n")
}

func TestGroundTruthIsCached(t *testing.T) {
	f := newFixture(t)
	f.label(t, "clip01", "end 2\nf 1 1\n")

	a := New(f.store, f.labelsDir, f.output, zaptest.NewLogger(t))
	first, err := a.GroundTruth("clip01")
	require.NoError(t, err)

	// Changing the file does not affect an aggregator that already parsed it
	f.label(t, "clip01", "end 5\n")
	second, err := a.GroundTruth("clip01")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestScoreEmptyClip(t *testing.T) {
	f := newFixture(t)
	f.label(t, "empty", "end 0\n")
	f.result(t, "empty", "hc", types.NewClipResult(0))

	a := New(f.store, f.labelsDir, f.output, zaptest.NewLogger(t))
	score := a.Score(context.Background(), "hc", "empty")
	assert.True(t, errors.Is(score.Err, types.ErrEmptyClip))
	assert.Contains(t, FormatBlock("hc", score), "hc unavailable: ")
}

func TestScoreRejectsBadClipName(t *testing.T) {
	f := newFixture(t)
	a := New(f.store, f.labelsDir, f.output, zaptest.NewLogger(t))
	score := a.Score(context.Background(), "hc", "../secret")
	assert.ErrorIs(t, score.Err, types.ErrInvalidClipName)
}
