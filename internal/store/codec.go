package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/andresmejia3/facebench/internal/types"
)

// Blob layout: "FBR1" [uint32 n][n bytes single] [uint32 m][m bytes multi], big endian.
var magic = []byte("FBR1")

// Encode serializes a ClipResult into the persisted blob format.
func Encode(r types.ClipResult) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(magic)+8+len(r.Single)+len(r.Multi)))
	buf.Write(magic)
	writeSeq(buf, r.Single)
	writeSeq(buf, r.Multi)
	return buf.Bytes()
}

func writeSeq(buf *bytes.Buffer, s types.Sequence) {
	binary.Write(buf, binary.BigEndian, uint32(len(s)))
	buf.Write(s)
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (types.ClipResult, error) {
	r := bytes.NewReader(data)

	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil || !bytes.Equal(header, magic) {
		return types.ClipResult{}, fmt.Errorf("%w: not a clip result blob", types.ErrPersistence)
	}

	single, err := readSeq(r)
	if err != nil {
		return types.ClipResult{}, fmt.Errorf("%w: single sequence: %v", types.ErrPersistence, err)
	}
	multi, err := readSeq(r)
	if err != nil {
		return types.ClipResult{}, fmt.Errorf("%w: multi sequence: %v", types.ErrPersistence, err)
	}
	if r.Len() != 0 {
		return types.ClipResult{}, fmt.Errorf("%w: %d trailing bytes", types.ErrPersistence, r.Len())
	}

	return types.ClipResult{Single: single, Multi: multi}, nil
}

func readSeq(r *bytes.Reader) (types.Sequence, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if int64(n) > int64(r.Len()) {
		return nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, r.Len())
	}
	seq := make(types.Sequence, n)
	if _, err := io.ReadFull(r, seq); err != nil {
		return nil, err
	}
	for i, v := range seq {
		if v > 1 {
			return nil, fmt.Errorf("frame %d has non-binary value %d", i, v)
		}
	}
	return seq, nil
}
