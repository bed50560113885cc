package worker

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func writeResponse(pipe *MockCloser, status byte, payload []byte) {
	binary.Write(pipe, binary.BigEndian, uint32(len(payload)+1))
	pipe.WriteByte(status)
	pipe.Write(payload)
}

func TestProcessFrame(t *testing.T) {
	// stdinMock simulates the pipe TO the detector (we write to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// dataPipeMock simulates the pipe FROM the detector (we read from it)
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	payload := []byte(`[{"box":[10,10,20,20],"confidence":0.99}]`)
	writeResponse(dataPipeMock, statusOK, payload)

	w := &DetectorWorker{
		Name:     "mtcnn",
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	resp, err := w.ProcessFrame(inputFrame)
	if err != nil {
		t.Fatalf("ProcessFrame failed: %v", err)
	}

	// Verify we sent [length][frame]
	sent := stdinMock.Bytes()
	if len(sent) != 4+len(inputFrame) {
		t.Fatalf("Expected %d bytes sent, got %d", 4+len(inputFrame), len(sent))
	}
	if binary.BigEndian.Uint32(sent[:4]) != uint32(len(inputFrame)) {
		t.Errorf("Length header = %d, want %d", binary.BigEndian.Uint32(sent[:4]), len(inputFrame))
	}
	if !bytes.Equal(sent[4:], inputFrame) {
		t.Errorf("Frame bytes = %X, want %X", sent[4:], inputFrame)
	}

	if !bytes.Equal(resp, payload) {
		t.Errorf("Payload = %s, want %s", resp, payload)
	}
}

func TestProcessFrame_Error(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	errMsg := "Python Exception: Import Error"
	writeResponse(dataPipeMock, statusError, []byte(errMsg+"\n"))

	w := &DetectorWorker{
		Name:     "rf",
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
	}

	_, err := w.ProcessFrame([]byte("frame"))
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "python worker error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "python worker error: "+errMsg, err)
	}
}

func TestProcessFrame_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		setup func(pipe *MockCloser)
	}{
		{
			name:  "Worker died before answering",
			setup: func(pipe *MockCloser) {},
		},
		{
			name: "Zero-length response",
			setup: func(pipe *MockCloser) {
				binary.Write(pipe, binary.BigEndian, uint32(0))
			},
		},
		{
			name: "Truncated body",
			setup: func(pipe *MockCloser) {
				binary.Write(pipe, binary.BigEndian, uint32(10))
				pipe.Write([]byte{0, '['})
			},
		},
		{
			name: "Unknown status",
			setup: func(pipe *MockCloser) {
				writeResponse(pipe, 9, []byte("?"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}
			tt.setup(dataPipeMock)

			w := &DetectorWorker{
				Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
				DataPipe: dataPipeMock,
			}
			if _, err := w.ProcessFrame([]byte("frame")); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestNewDetectorWorkerEmptyCommand(t *testing.T) {
	if _, err := NewDetectorWorker("mtcnn", "   "); err == nil {
		t.Fatal("Expected error for empty command")
	}
}

func TestCloseWithoutProcess(t *testing.T) {
	w := &DetectorWorker{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}
