package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func digestOf(buf []byte) uint32 {
	var w Weak
	w.Update(buf)

	return w.Digest()
}

func TestWeak_UpdateDeterministic(t *testing.T) {
	a := digestOf([]byte("hello world"))
	b := digestOf([]byte("hello world"))
	assert.Equal(t, a, b)
}

func TestWeak_DifferentContentDifferentDigest(t *testing.T) {
	a := digestOf([]byte("AAAAAAAA"))
	b := digestOf([]byte("BBBBBBBB"))
	assert.NotEqual(t, a, b)
}

func TestWeak_RollManyMatchesRecompute(t *testing.T) {
	// Rolling a window forward by one byte must produce the same digest as
	// recomputing the checksum from scratch over the shifted window.
	data := []byte("the quick brown fox jumps over")
	winLen := 8

	var w Weak
	w.Update(data[:winLen])

	for i := 1; i+winLen <= len(data); i++ {
		w.RollMany([]byte{data[i-1]}, []byte{data[i+winLen-1]})

		want := digestOf(data[i : i+winLen])
		assert.Equal(t, want, w.Digest(), "mismatch rolling to offset %d", i)
	}
}

func TestWeak_ResetClearsState(t *testing.T) {
	var w Weak
	w.Update([]byte("nonzero"))
	w.Reset()

	assert.Equal(t, uint32(0), w.Digest())
}
