package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// RFC 3720 B.4 test vector: 32 bytes of zero.
	zeros := make([]byte, 32)
	assert.Equal(t, uint32(0x8A9136AA), CRC32C(zeros))

	assert.Equal(t, uint32(0), CRC32C(nil))
	assert.NotEqual(t, CRC32C([]byte("a")), CRC32C([]byte("b")))
}

func TestNewCRC32C_Incremental(t *testing.T) {
	h := NewCRC32C()
	h.Write([]byte("hello "))
	h.Write([]byte("world"))

	assert.Equal(t, CRC32C([]byte("hello world")), h.Sum32())
}
