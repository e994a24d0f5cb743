package delta

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/tonimelisma/localsync/internal/checksum"
)

// Sink receives the output of a Matcher run: literal byte spans that must
// be written verbatim, and matched-block references that can be copied
// from the existing destination instead of retransmitted.
type Sink interface {
	Literal(data []byte) error
	Matched(block Block) error
}

// Matcher runs the block-matching state machine over one source reader
// against one signature Index. The four pieces of state — window,
// rolling checksum, pending literal buffer, and the byte about to be
// evicted — are threaded through one explicit loop rather than any
// generator or goroutine pipeline.
type Matcher struct {
	Index *Index
	Algo  checksum.Algorithm
}

// Run reads src to EOF, emitting literal and matched spans to sink in
// order. This implementation hands the full matched Block back to the
// sink, which owns the existing-destination reader (kept in
// internal/transfer's delta sink, not here — each resource has a single
// owner).
func (m *Matcher) Run(src io.Reader, sink Sink) error {
	blockLen := m.Index.Layout.BlockLength
	if blockLen <= 0 {
		return fmt.Errorf("delta: invalid block length %d", blockLen)
	}

	br := bufio.NewReaderSize(src, 64*1024)

	window := make([]byte, 0, blockLen) // the FIFO window
	var rolling Weak                    // the rolling checksum over window
	var pending []byte                  // bytes not yet matched, pending literal flush

	// outgoingSet/outgoing carry the byte recorded by a no-match eviction:
	// the window buffer shrinks immediately, but the rolling checksum state
	// only rolls forward once the next byte arrives to replace it, per
	// spec's four-value state machine (window, rolling, pending, outgoing).
	var outgoingSet bool
	var outgoing byte

	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			break
		}

		if err != nil {
			return fmt.Errorf("delta: read source: %w", err)
		}

		if outgoingSet {
			rolling.RollMany([]byte{outgoing}, []byte{c})
			outgoingSet = false
		} else {
			rolling.Update([]byte{c})
		}

		window = append(window, c)

		if len(window) < blockLen {
			continue
		}

		block, found, err := m.tryMatch(window, rolling.Digest())
		if err != nil {
			return err
		}

		if !found {
			// No match: evict the front byte into pending literals, and
			// record it as the byte to roll out once the next byte arrives.
			pending = append(pending, window[0])
			outgoing = window[0]
			outgoingSet = true
			window = window[1:]

			continue
		}

		if len(pending) > 0 {
			if err := sink.Literal(pending); err != nil {
				return fmt.Errorf("delta: literal flush: %w", err)
			}

			pending = nil
		}

		if err := sink.Matched(block); err != nil {
			return fmt.Errorf("delta: matched block %d: %w", block.Index, err)
		}

		window = window[:0]
		rolling.Reset()
		outgoingSet = false
	}

	// Drain whatever remains in the window into pending, then flush.
	pending = append(pending, window...)

	if len(pending) > 0 {
		if err := sink.Literal(pending); err != nil {
			return fmt.Errorf("delta: final literal flush: %w", err)
		}
	}

	return nil
}

// tryMatch checks whether window's contents match any candidate block
// sharing weak's rolling digest, verifying the strong digest to rule out
// weak-checksum collisions.
func (m *Matcher) tryMatch(window []byte, weak uint32) (Block, bool, error) {
	for _, cand := range m.Index.Lookup(weak) {
		if cand.Len != len(window) {
			continue
		}

		strong, err := strongDigest(m.Algo, window, len(cand.Strong))
		if err != nil {
			return Block{}, false, fmt.Errorf("delta: strong digest: %w", err)
		}

		if bytes.Equal(strong, cand.Strong) {
			return cand, true, nil
		}
	}

	return Block{}, false, nil
}
