package tailer

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// handle is the single open file owned by the tail loop.
type handle struct {
	f  File
	r  *bufio.Reader
	id FileID

	// offset is the confirmed position: the byte after the last delivered line.
	offset int64
	// pending holds an incomplete trailing line already consumed from r.
	pending []byte
	// healthy is set once the handle has shown it can be read.
	healthy bool
}

func newHandle(f File, id FileID, offset int64) *handle {
	return &handle{
		f:      f,
		r:      bufio.NewReaderSize(f, 64*1024),
		id:     id,
		offset: offset,
	}
}

// position is how far into the file the handle has read.
func (h *handle) position() int64 {
	return h.offset + int64(len(h.pending))
}

// next returns the next complete line without its terminator and the number
// of bytes it occupies on disk. A partial line is buffered and io.EOF returned.
// The offset is not advanced; call commit once the line was delivered.
func (h *handle) next() (string, int64, error) {
	chunk, err := h.r.ReadBytes('\n')
	h.pending = append(h.pending, chunk...)
	if err != nil {
		return "", 0, err
	}

	n := int64(len(h.pending))
	line := bytes.TrimSuffix(h.pending[:len(h.pending)-1], []byte{'\r'})
	s := strings.ToValidUTF8(string(line), "\uFFFD")
	h.pending = h.pending[:0]
	return s, n, nil
}

func (h *handle) commit(n int64) {
	h.offset += n
}

// rewind seeks back to the confirmed offset and drops buffered data.
func (h *handle) rewind() error {
	if _, err := h.f.Seek(h.offset, io.SeekStart); err != nil {
		return err
	}
	h.r.Reset(h.f)
	h.pending = h.pending[:0]
	return nil
}
