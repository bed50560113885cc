package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sort"

	"github.com/andresmejia3/facebench/internal/types"
)

// FrameProcessor sends an encoded frame to an external detector and returns its JSON reply.
// *worker.DetectorWorker implements it.
type FrameProcessor interface {
	ProcessFrame(frame []byte) ([]byte, error)
	Close() error
}

// MTCNN is the first neural backend, served by an external worker process.
// Started once per batch because model loading dominates its cost.
type MTCNN struct {
	proc FrameProcessor
}

// NewMTCNN wraps a running MTCNN worker.
func NewMTCNN(proc FrameProcessor) *MTCNN {
	return &MTCNN{proc: proc}
}

type mtcnnFace struct {
	Box        []int   `json:"box"` // [x, y, width, height]
	Confidence float64 `json:"confidence"`
}

func (m *MTCNN) Detect(ctx context.Context, frame types.Frame) ([]image.Rectangle, error) {
	resp, err := m.proc.ProcessFrame(frame.Data)
	if err != nil {
		return nil, err
	}
	return parseMTCNN(resp)
}

func parseMTCNN(payload []byte) ([]image.Rectangle, error) {
	var faces []mtcnnFace
	if err := json.Unmarshal(payload, &faces); err != nil {
		return nil, fmt.Errorf("mtcnn: malformed response: %w", err)
	}
	rects := make([]image.Rectangle, 0, len(faces))
	for i, f := range faces {
		if len(f.Box) != 4 {
			return nil, fmt.Errorf("mtcnn: face %d has %d box values, want 4", i, len(f.Box))
		}
		x, y, w, h := f.Box[0], f.Box[1], f.Box[2], f.Box[3]
		rects = append(rects, image.Rect(x, y, x+w, y+h))
	}
	return rects, nil
}

func (m *MTCNN) Close() error { return m.proc.Close() }

// RetinaFace is the second neural backend.
//
// The library answers with an object keyed "face_1", "face_2", ... when it finds faces,
// but with an array (a tuple on the Python side) when it finds none. The array case is
// checked first; taking its length would be meaningless.
type RetinaFace struct {
	proc FrameProcessor
}

// NewRetinaFace wraps a running RetinaFace worker.
func NewRetinaFace(proc FrameProcessor) *RetinaFace {
	return &RetinaFace{proc: proc}
}

type retinaFace struct {
	Score      float64 `json:"score"`
	FacialArea []int   `json:"facial_area"` // [x1, y1, x2, y2]
}

func (r *RetinaFace) Detect(ctx context.Context, frame types.Frame) ([]image.Rectangle, error) {
	resp, err := r.proc.ProcessFrame(frame.Data)
	if err != nil {
		return nil, err
	}
	return parseRetinaFace(resp)
}

func parseRetinaFace(payload []byte) ([]image.Rectangle, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, fmt.Errorf("retinaface: empty response")
	}
	if payload[0] == '[' {
		return nil, nil
	}

	var faces map[string]retinaFace
	if err := json.Unmarshal(payload, &faces); err != nil {
		return nil, fmt.Errorf("retinaface: malformed response: %w", err)
	}

	keys := make([]string, 0, len(faces))
	for k := range faces {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rects := make([]image.Rectangle, 0, len(faces))
	for _, k := range keys {
		area := faces[k].FacialArea
		if len(area) != 4 {
			return nil, fmt.Errorf("retinaface: %s has %d facial_area values, want 4", k, len(area))
		}
		rects = append(rects, image.Rect(area[0], area[1], area[2], area[3]))
	}
	return rects, nil
}

func (r *RetinaFace) Close() error { return r.proc.Close() }
