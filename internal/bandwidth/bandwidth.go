// Package bandwidth enforces a configured transfer rate across reads and
// writes: a token-bucket wrapper with a burst-chunking loop and a
// nil-is-unlimited convention.
package bandwidth

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"
)

// burstMultiplier sizes the token bucket burst relative to the per-second
// rate, so short idle periods can be "spent" on the next read/write
// without throttling sustained throughput below the configured limit.
const burstMultiplier = 2

// Limiter rate-limits literal-span reads and writes during a transfer. A
// nil *Limiter is unlimited; every method is nil-safe.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter for bytesPerSec. A zero rate means unlimited and
// New returns a nil *Limiter, so callers can use the nil-safe wrapper
// methods unconditionally.
func New(bytesPerSec, burst int64) *Limiter {
	if bytesPerSec <= 0 {
		return nil
	}

	b := int(bytesPerSec) * burstMultiplier
	if burst > 0 {
		b = int(burst)
	}

	return &Limiter{limiter: rate.NewLimiter(rate.Limit(bytesPerSec), b)}
}

// WrapReader returns a rate-limited io.Reader. If l is nil, r is returned
// unchanged.
func (l *Limiter) WrapReader(ctx context.Context, r io.Reader) io.Reader {
	if l == nil {
		return r
	}

	return &limitedReader{r: r, limiter: l.limiter, ctx: ctx}
}

// WrapWriter returns a rate-limited io.Writer. If l is nil, w is returned
// unchanged.
func (l *Limiter) WrapWriter(ctx context.Context, w io.Writer) io.Writer {
	if l == nil {
		return w
	}

	return &limitedWriter{w: w, limiter: l.limiter, ctx: ctx}
}

// Register accounts n bytes against the limiter without performing I/O,
// used for post-compression size accounting.
func (l *Limiter) Register(ctx context.Context, n int) error {
	if l == nil || n <= 0 {
		return nil
	}

	return waitN(l.limiter, ctx, n)
}

type limitedReader struct {
	r       io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (r *limitedReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := waitN(r.limiter, r.ctx, n); werr != nil {
			return n, werr
		}
	}

	return n, err
}

type limitedWriter struct {
	w       io.Writer
	limiter *rate.Limiter
	ctx     context.Context
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		if werr := waitN(w.limiter, w.ctx, n); werr != nil {
			return n, werr
		}
	}

	return n, err
}

// waitN splits a request exceeding the bucket's burst size into
// burst-sized chunks, since rate.Limiter.WaitN rejects oversized requests.
func waitN(limiter *rate.Limiter, ctx context.Context, n int) error {
	burst := limiter.Burst()

	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}

		if err := limiter.WaitN(ctx, take); err != nil {
			return fmt.Errorf("bandwidth: wait: %w", err)
		}

		n -= take
	}

	return nil
}
