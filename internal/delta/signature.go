package delta

import (
	"fmt"
	"io"

	"github.com/tonimelisma/localsync/internal/checksum"
)

// Block is one entry of a signature index: the weak and strong digests
// computed over one fixed-length (except possibly the last) chunk of the
// baseline file.
type Block struct {
	Index  int
	Weak   uint32
	Strong []byte
	Len    int
}

// Index is the signature index a Matcher consults: a multi-map from weak
// digest to candidate blocks, since distinct blocks can share a weak sum.
type Index struct {
	Layout checksum.Layout
	Blocks []Block
	byWeak map[uint32][]int // weak digest -> indices into Blocks
}

// Lookup returns the candidate blocks sharing weak's digest, if any.
func (idx *Index) Lookup(weak uint32) []Block {
	ids, ok := idx.byWeak[weak]
	if !ok {
		return nil
	}

	out := make([]Block, len(ids))
	for i, id := range ids {
		out[i] = idx.Blocks[id]
	}

	return out
}

// BuildSignature reads r (the existing destination file, or whichever
// baseline is being diffed against) in layout.BlockLength chunks and
// produces the weak+strong digest for each.
func BuildSignature(r io.Reader, layout checksum.Layout, algo checksum.Algorithm) (*Index, error) {
	idx := &Index{Layout: layout, byWeak: make(map[uint32][]int)}

	buf := make([]byte, layout.BlockLength)

	for i := 0; ; i++ {
		n, err := io.ReadFull(r, buf)
		if n == 0 {
			if err == io.EOF {
				break
			}

			if err != nil {
				return nil, fmt.Errorf("delta: read block %d: %w", i, err)
			}

			break
		}

		chunk := buf[:n]

		var weak Weak

		weak.Update(chunk)

		strong, serr := strongDigest(algo, chunk, layout.StrongChecksumLength)
		if serr != nil {
			return nil, fmt.Errorf("delta: strong digest for block %d: %w", i, serr)
		}

		b := Block{Index: i, Weak: weak.Digest(), Strong: strong, Len: n}
		idx.Blocks = append(idx.Blocks, b)
		idx.byWeak[b.Weak] = append(idx.byWeak[b.Weak], len(idx.Blocks)-1)

		if n < len(buf) {
			break
		}

		if err == io.ErrUnexpectedEOF {
			break
		}
	}

	return idx, nil
}

func strongDigest(algo checksum.Algorithm, data []byte, length int) ([]byte, error) {
	h, err := checksum.New(algo)
	if err != nil {
		return nil, err
	}

	h.Write(data) //nolint:errcheck // hash.Hash.Write never fails

	sum := h.Sum(nil)
	if length > 0 && length < len(sum) {
		sum = sum[:length]
	}

	return sum, nil
}
