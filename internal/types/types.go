package types

import (
	"errors"
	"image"
)

// Sequence is a per-frame presence indicator (0 or 1), indexed in frame capture order.
type Sequence []uint8

// Count returns the number of frames flagged with 1.
func (s Sequence) Count() int {
	n := 0
	for _, v := range s {
		if v == 1 {
			n++
		}
	}
	return n
}

// ClipResult holds the single-face and multi-face sequences for one (clip, model) run.
type ClipResult struct {
	Single Sequence
	Multi  Sequence
}

// NewClipResult allocates zeroed sequences for n frames.
func NewClipResult(n int) ClipResult {
	return ClipResult{
		Single: make(Sequence, n),
		Multi:  make(Sequence, n),
	}
}

// Frames returns the number of frames covered by the single-face sequence.
func (r ClipResult) Frames() int {
	return len(r.Single)
}

// GroundTruth has the same shape as a ClipResult but comes from a hand-coded annotation file.
type GroundTruth = ClipResult

// ComparisonReport summarizes how a predicted ClipResult agrees with the ground truth.
type ComparisonReport struct {
	Missed         int
	SingleAccuracy float64
	MultiAccuracy  float64
	WrongSingle    []int
	WrongMulti     []int
}

// MismatchReport is returned by the comparator when sequence lengths disagree.
func MismatchReport() ComparisonReport {
	return ComparisonReport{
		Missed:      -1,
		WrongSingle: []int{},
		WrongMulti:  []int{},
	}
}

// IsMismatch reports whether r is the length-mismatch sentinel.
func (r ComparisonReport) IsMismatch() bool {
	return r.Missed == -1
}

// Frame is a single decoded image from a clip's frame directory.
type Frame struct {
	Index int
	Name  string
	Data  []byte // Encoded bytes as read from disk (sent to worker processes)
	Image image.Image
}

// Model identifies one of the face-detection backends.
type Model struct {
	ID   string // Short identifier used in file names (hc, mtcnn, rf)
	Name string // Display name used in the timing log
}

var (
	ModelCascade    = Model{ID: "hc", Name: "Cascade"}
	ModelMTCNN      = Model{ID: "mtcnn", Name: "MTCNN"}
	ModelRetinaFace = Model{ID: "rf", Name: "RetinaFace"}
)

// Models lists every supported backend in the order they are run.
var Models = []Model{ModelCascade, ModelMTCNN, ModelRetinaFace}

// LookupModel resolves a model by its short identifier.
func LookupModel(id string) (Model, bool) {
	for _, m := range Models {
		if m.ID == id {
			return m, true
		}
	}
	return Model{}, false
}

var (
	ErrClipNotFound        = errors.New("clip not found")
	ErrMalformedAnnotation = errors.New("malformed annotation")
	ErrRangeOutOfBounds    = errors.New("frame range out of bounds")
	ErrResultSizeMismatch  = errors.New("result size mismatch")
	ErrPersistence         = errors.New("persistence failure")
	ErrEmptyClip           = errors.New("clip has no frames")
	ErrInvalidClipName     = errors.New("invalid clip name")
)
