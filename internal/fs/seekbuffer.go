package fs

import (
	"fmt"
	"io"
)

// SeekBuffer is an in-memory io.WriteSeeker for ephemeral segments.
type SeekBuffer struct {
	buf []byte
	pos int
}

func NewSeekBuffer() *SeekBuffer { return &SeekBuffer{} }

func (b *SeekBuffer) Bytes() []byte { return b.buf }

func (b *SeekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.buf) {
		if need > cap(b.buf) {
			grown := make([]byte, need, need*2)
			copy(grown, b.buf)
			b.buf = grown
		} else {
			b.buf = b.buf[:need]
		}
	}
	copy(b.buf[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *SeekBuffer) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(b.pos) + offset
	case io.SeekEnd:
		next = int64(len(b.buf)) + offset
	default:
		return 0, fmt.Errorf("fs: invalid seek whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("fs: negative seek position %d", next)
	}
	b.pos = int(next)
	return next, nil
}

var _ io.WriteSeeker = (*SeekBuffer)(nil)
