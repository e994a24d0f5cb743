package transfer

import (
	"context"
	"io"
	"os"

	"github.com/tonimelisma/localsync/internal/checksum"
	"github.com/tonimelisma/localsync/internal/compress"
	"github.com/tonimelisma/localsync/internal/delta"
	"github.com/tonimelisma/localsync/internal/errs"
	"github.com/tonimelisma/localsync/internal/stage"
)

// writeOutcome accumulates the per-file byte counters a write produces,
// folded into the run Summary by the caller once the transfer commits.
// There is no real wire for a local copy engine: compressedBytes and
// sentBytes exist purely to give --stats the same shape the reference
// tool reports, and never affect what lands on disk. The caller also
// folds sentBytes into BytesReceived, since local mode has no separate
// receive side (spec §8 invariant #4).
type writeOutcome struct {
	literalBytes    int64
	matchedBytes    int64
	sentBytes       int64
	compressedBytes int64
	usedCompression bool
}

// emit writes data to w, optionally metering it through a compression
// encoder and the bandwidth limiter first. The bytes written to w are
// always the literal, uncompressed data — compression and bandwidth here
// only account for what a real wire transfer would have cost.
func (e *Engine) emit(ctx context.Context, w io.Writer, data []byte, out *writeOutcome, enc compress.Encoder) error {
	out.literalBytes += int64(len(data))

	meterLen := len(data)

	if enc != nil {
		before := out.compressedBytes

		if _, err := enc.Write(data); err != nil {
			return errs.NewIo("compress", "literal span", err)
		}

		out.compressedBytes = enc.BytesWritten()
		out.usedCompression = true
		meterLen = int(out.compressedBytes - before)
	}

	if e.limiter != nil {
		if err := e.limiter.Register(ctx, meterLen); err != nil {
			return err
		}
	}

	out.sentBytes += int64(meterLen)

	if _, err := w.Write(data); err != nil {
		return errs.NewIo("write", "destination file", err)
	}

	return nil
}

func (e *Engine) newEncoderIfCompressing(name string) (compress.Encoder, error) {
	if !e.Opts.Compress || e.Opts.SkipsCompression(extOf(name)) {
		return nil, nil
	}

	return compress.New(e.Opts.EffectiveCompressionLevel())
}

// wholeFileCopy streams src verbatim into w starting at offset (0 unless
// resuming an append), through the compression/bandwidth accounting
// pipeline.
func (e *Engine) wholeFileCopy(ctx context.Context, src *os.File, w io.Writer, offset int64, name string, out *writeOutcome) error {
	if offset > 0 {
		if _, err := src.Seek(offset, io.SeekStart); err != nil {
			return errs.NewIo("seek", "source file", err)
		}
	}

	enc, err := e.newEncoderIfCompressing(name)
	if err != nil {
		return err
	}

	buf := make([]byte, 256*1024)

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if err := e.emit(ctx, w, buf[:n], out, enc); err != nil {
				return err
			}
		}

		if rerr == io.EOF {
			break
		}

		if rerr != nil {
			return errs.NewIo("read", "source file", rerr)
		}
	}

	if enc != nil {
		if _, err := enc.Finish(); err != nil {
			return errs.NewIo("compress", "finish", err)
		}

		out.compressedBytes = enc.BytesWritten()
	}

	return nil
}

// deltaSink adapts the delta.Matcher callback shape to a staging write:
// literal spans come from the source reader already open in the
// matcher, matched spans are re-read from the existing destination file
// at the block's recorded offset.
type deltaSink struct {
	e       *Engine
	ctx     context.Context
	w       io.Writer
	oldFile *os.File
	layout  checksum.Layout
	enc     compress.Encoder
	out     *writeOutcome
}

func (s *deltaSink) Literal(data []byte) error {
	return s.e.emit(s.ctx, s.w, data, s.out, s.enc)
}

func (s *deltaSink) Matched(block delta.Block) error {
	buf := make([]byte, block.Len)

	offset := int64(block.Index) * int64(s.layout.BlockLength)
	if _, err := s.oldFile.ReadAt(buf, offset); err != nil && err != io.EOF {
		return errs.NewIo("read", "existing destination block", err)
	}

	s.out.matchedBytes += int64(block.Len)

	return s.e.emit(s.ctx, s.w, buf, s.out, s.enc)
}

// deltaCopy rebuilds dst's content in w by matching src against oldFile's
// block signature (spec §4.4.6), falling back to nothing special on a
// signature build failure other than surfacing the error — callers
// should treat that as "use whole-file copy instead" if they want a
// fallback, but this engine always has a signature available since
// oldFile is only passed when destInfo was non-nil.
func (e *Engine) deltaCopy(ctx context.Context, src *os.File, oldFile *os.File, w io.Writer, oldSize int64, name string, out *writeOutcome) error {
	algo := e.checksumAlgorithm()

	layout, err := checksum.CalculateLayout(oldSize, 0, 0)
	if err != nil {
		return err
	}

	index, err := delta.BuildSignature(oldFile, layout, algo)
	if err != nil {
		return err
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return errs.NewIo("seek", "source file", err)
	}

	enc, err := e.newEncoderIfCompressing(name)
	if err != nil {
		return err
	}

	sink := &deltaSink{e: e, ctx: ctx, w: w, oldFile: oldFile, layout: layout, enc: enc, out: out}

	matcher := &delta.Matcher{Index: index, Algo: algo}
	if err := matcher.Run(src, sink); err != nil {
		return err
	}

	if enc != nil {
		if _, err := enc.Finish(); err != nil {
			return errs.NewIo("compress", "finish", err)
		}

		out.compressedBytes = enc.BytesWritten()
	}

	return nil
}

// newStagingGuard opens the temp or partial staging handle configured by
// Options for a whole-file or delta write.
func (e *Engine) newStagingGuard(dstPath string) (*stage.Guard, error) {
	mode := stage.ModeTemp
	sideDir := e.Opts.TempDir

	if e.Opts.Partial {
		mode = stage.ModePartial
		sideDir = e.Opts.PartialDir
	}

	return stage.New(mode, dstPath, sideDir)
}

func extOf(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			// A leading dot marks a hidden file, not an extension.
			if i == 0 || name[i-1] == '/' {
				return ""
			}

			return name[i+1:]
		}

		if name[i] == '/' {
			break
		}
	}

	return ""
}
