// Package delta implements the rolling weak checksum and the block-matcher
// state machine that turns a signature index into matched-block and
// literal spans. The matcher runs as a single straight-line loop over
// explicit state rather than a buffered or channel-based pipeline.
package delta

// Weak is the incremental rolling checksum.
type Weak struct {
	a, b uint32
	n    uint32
}

// Reset clears the checksum to its initial (empty-window) state.
func (w *Weak) Reset() {
	w.a, w.b, w.n = 0, 0, 0
}

// Update extends the window with buf, as if each byte were appended to an
// initially empty or partially-filled window. Used while the window is
// still filling to its target block length.
func (w *Weak) Update(buf []byte) {
	for _, c := range buf {
		w.n++
		w.a += uint32(c)
		w.b += w.a
	}
}

// RollMany rolls a full window: each out[i] byte leaves the window and the
// corresponding in[i] byte enters it, at constant window length (w.n is
// unchanged). len(out) must equal len(in).
func (w *Weak) RollMany(out, in []byte) {
	for i := range out {
		w.a = w.a - uint32(out[i]) + uint32(in[i])
		w.b = w.b - w.n*uint32(out[i]) + w.a
	}
}

// Digest returns the 32-bit rolling checksum for the current window.
func (w *Weak) Digest() uint32 {
	return (w.a & 0xffff) | (w.b&0xffff)<<16
}
