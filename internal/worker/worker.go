package worker

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/facebench/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    = 0
	statusError = 1
)

// DetectorWorker is a long-lived external detector process.
// Frames go in on stdin and detections come back on a side-channel pipe (FD 3),
// so anything the detector library prints to stdout/stderr cannot corrupt the protocol.
// A worker is not safe for concurrent use.
type DetectorWorker struct {
	Name     string
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser
}

// NewDetectorWorker starts the process described by command (program followed by arguments).
func NewDetectorWorker(name, command string) (*DetectorWorker, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("%s worker: empty command", name)
	}

	proc := utils.NewSafeCommand(argv[0], argv[1:]...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	proc.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := proc.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := proc.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("%s worker failed to start: %w", name, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &DetectorWorker{
		Name:     name,
		Cmd:      proc,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// ProcessFrame sends one encoded frame and returns the detector's JSON payload.
//
// Request:  [uint32 length][frame bytes]
// Response: [uint32 length][status byte][payload]
// A status of 1 means the payload is an error message from the detector.
func (w *DetectorWorker) ProcessFrame(frame []byte) ([]byte, error) {
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(frame))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(frame); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // Typically the process died (missing module, bad model path)
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen == 0 {
		return nil, errors.New("empty response from worker")
	}
	resp := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, resp); err != nil {
		return nil, err
	}

	switch resp[0] {
	case statusOK:
		return resp[1:], nil
	case statusError:
		return nil, fmt.Errorf("python worker error: %s", bytes.TrimSpace(resp[1:]))
	default:
		return nil, fmt.Errorf("unknown worker status byte %d", resp[0])
	}
}

// Close shuts down the pipes and waits for the process to exit.
func (w *DetectorWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}
