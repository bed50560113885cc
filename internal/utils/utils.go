package utils

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/andresmejia3/facebench/internal/types"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (detector/ffmpeg logs)
// This ensures we don't lose critical crash information if a child process dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe
// It prepares the command for execution but does not start it.
func NewSafeCommand(name string, args ...string) *SafeCommand {
	cmd := exec.Command(name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// NewSafeCommandContext is NewSafeCommand bound to ctx; the process is killed when ctx is done.
func NewSafeCommandContext(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps child process logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACEBENCH ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	// If we have a SafeCommand and it captured logs, print them.
	if s != nil && s.Stderr.Len() > 0 {
		fmt.Fprintf(os.Stderr, "\nPROCESS LOGS:\n%s\n", s.Stderr.String())
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Clip Discovery ---

var clipNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateClipName rejects names that could escape the data directories or
// be misread as flags by external tools.
func ValidateClipName(name string) error {
	if !clipNamePattern.MatchString(name) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", types.ErrInvalidClipName, name)
	}
	return nil
}

// ListClips returns the clip directories under the frame root, sorted by name.
func ListClips(framesRoot string) ([]string, error) {
	entries, err := os.ReadDir(framesRoot)
	if err != nil {
		return nil, err
	}
	var clips []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			clips = append(clips, e.Name())
		}
	}
	sort.Strings(clips)
	return clips, nil
}

// ListFrames returns the frame files of a clip in lexicographic order.
// A missing or empty directory yields types.ErrClipNotFound.
func ListFrames(framesRoot, clip string) ([]string, error) {
	dir := filepath.Join(framesRoot, clip)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", types.ErrClipNotFound, dir)
	}
	if err != nil {
		return nil, err
	}

	var frames []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		frames = append(frames, filepath.Join(dir, e.Name()))
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: %s has no frames", types.ErrClipNotFound, dir)
	}
	sort.Strings(frames)
	return frames, nil
}

// --- 3. Video Engine ---

// AnnotatedFrameName is the file name used for an annotated frame, matching the
// input pattern handed to ffmpeg by FFmpegAssembler.
func AnnotatedFrameName(clip string, index int) string {
	return fmt.Sprintf("%s_%05d.jpg", clip, index+1)
}

// VideoAssembler turns a directory of annotated frames into a video.
type VideoAssembler interface {
	Assemble(ctx context.Context, frameDir, clip, outPath string) error
}

// FFmpegAssembler runs ffmpeg as an explicit argv; nothing passes through a shell.
type FFmpegAssembler struct {
	Binary    string
	FrameRate int
}

// NewFFmpegAssembler returns an assembler using the ffmpeg found on PATH.
func NewFFmpegAssembler(frameRate int) *FFmpegAssembler {
	return &FFmpegAssembler{Binary: "ffmpeg", FrameRate: frameRate}
}

// Args builds the ffmpeg argument list.
func (a *FFmpegAssembler) Args(frameDir, clip, outPath string) []string {
	pattern := filepath.Join(frameDir, clip+"_%05d.jpg")
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-framerate", strconv.Itoa(a.FrameRate),
		"-i", pattern,
		"-pix_fmt", "yuv420p",
		outPath,
	}
}

// Assemble runs ffmpeg and reports a non-zero exit together with its stderr.
func (a *FFmpegAssembler) Assemble(ctx context.Context, frameDir, clip, outPath string) error {
	if err := ValidateClipName(clip); err != nil {
		return err
	}
	if _, err := exec.LookPath(a.Binary); err != nil {
		return fmt.Errorf("%s not found: %w", a.Binary, err)
	}

	cmd := NewSafeCommandContext(ctx, a.Binary, a.Args(frameDir, clip, outPath)...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(cmd.Stderr.String()))
	}
	return nil
}
