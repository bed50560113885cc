// Package labels scrapes hand-coded annotation files into ground-truth sequences.
//
// An annotation file is line oriented:
//
//	// comment
//	end 240
//	f 1 30
//	ff 31 45
//
// The "end" line gives the total number of frames. "f" marks a 1-based inclusive
// range with exactly one face and "ff" a range with two or more faces.
package labels

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/facebench/internal/types"
)

// ParseFile reads and parses the annotation file at path.
func ParseFile(path string) (types.GroundTruth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.GroundTruth{}, fmt.Errorf("%w: %v", types.ErrMalformedAnnotation, err)
	}
	return parseLines(splitLines(data))
}

// Parse reads all of r and parses it as an annotation file.
func Parse(r io.Reader) (types.GroundTruth, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return types.GroundTruth{}, fmt.Errorf("%w: %v", types.ErrMalformedAnnotation, err)
	}
	return parseLines(splitLines(data))
}

func splitLines(data []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func parseLines(lines []string) (types.GroundTruth, error) {
	numFrames, err := frameCount(lines)
	if err != nil {
		return types.GroundTruth{}, err
	}

	gt := types.NewClipResult(numFrames)

	for n, line := range lines {
		if strings.HasPrefix(line, "//") || !strings.HasPrefix(line, "f") {
			continue
		}
		start, end, err := parseRange(line)
		if err != nil {
			return types.GroundTruth{}, fmt.Errorf("%w: line %d: %v", types.ErrMalformedAnnotation, n+1, err)
		}
		if start < 1 {
			return types.GroundTruth{}, fmt.Errorf("%w: line %d: start frame %d is below 1", types.ErrMalformedAnnotation, n+1, start)
		}

		if len(line) > 1 && line[1] == 'f' {
			// Multi-face ranges are not clamped against the frame count.
			if end > numFrames {
				return types.GroundTruth{}, fmt.Errorf("%w: line %d: %w: ff %d %d exceeds %d frames",
					types.ErrMalformedAnnotation, n+1, types.ErrRangeOutOfBounds, start, end, numFrames)
			}
			fill(gt.Multi, start-1, end)
		} else {
			fill(gt.Single, start-1, min(end, numFrames))
		}
	}

	return gt, nil
}

// frameCount finds the first line starting with "end <N>" at column 0. Scanning stops there.
func frameCount(lines []string) (int, error) {
	for n, line := range lines {
		if !strings.HasPrefix(line, "end") {
			continue
		}
		fields := strings.Fields(line)
		if fields[0] != "end" {
			continue
		}
		if len(fields) < 2 {
			return 0, fmt.Errorf("%w: line %d: end directive has no frame count", types.ErrMalformedAnnotation, n+1)
		}
		count, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, fmt.Errorf("%w: line %d: %v", types.ErrMalformedAnnotation, n+1, err)
		}
		if count < 0 {
			return 0, fmt.Errorf("%w: line %d: negative frame count %d", types.ErrMalformedAnnotation, n+1, count)
		}
		return count, nil
	}
	return 0, fmt.Errorf("%w: no end line", types.ErrMalformedAnnotation)
}

func parseRange(line string) (int, int, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return 0, 0, fmt.Errorf("expected '<directive> <start> <end>', got %q", line)
	}
	start, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, err
	}
	end, err := strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// fill sets seq[i] = 1 for i in [from, to).
func fill(seq types.Sequence, from, to int) {
	for i := from; i < to; i++ {
		seq[i] = 1
	}
}

// Path returns the conventional annotation file path for a clip.
func Path(dir, clip string) string {
	return filepath.Join(dir, clip+"_hcode.txt")
}
