package bandwidth

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ZeroRateReturnsNil(t *testing.T) {
	assert.Nil(t, New(0, 0))
	assert.Nil(t, New(-5, 0))
}

func TestNew_PositiveRateReturnsLimiter(t *testing.T) {
	l := New(1024, 0)
	require.NotNil(t, l)
}

func TestLimiter_NilIsSafe(t *testing.T) {
	var l *Limiter

	ctx := context.Background()
	r := l.WrapReader(ctx, bytes.NewReader([]byte("data")))
	assert.NotNil(t, r)

	var buf bytes.Buffer
	w := l.WrapWriter(ctx, &buf)
	_, err := w.Write([]byte("data"))
	require.NoError(t, err)

	assert.NoError(t, l.Register(ctx, 100))
}

func TestLimiter_WrapReaderPassesDataThrough(t *testing.T) {
	// Large limit so the test doesn't actually block on rate limiting.
	l := New(1<<30, 1<<30)
	ctx := context.Background()

	r := l.WrapReader(ctx, bytes.NewReader([]byte("hello world")))

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestLimiter_WrapWriterPassesDataThrough(t *testing.T) {
	l := New(1<<30, 1<<30)
	ctx := context.Background()

	var buf bytes.Buffer
	w := l.WrapWriter(ctx, &buf)

	n, err := w.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", buf.String())
}

func TestLimiter_RegisterZeroOrNegativeIsNoop(t *testing.T) {
	l := New(1024, 0)
	assert.NoError(t, l.Register(context.Background(), 0))
	assert.NoError(t, l.Register(context.Background(), -1))
}

func TestLimiter_RegisterSplitsOversizedRequests(t *testing.T) {
	// burst smaller than the registered amount forces waitN's chunking loop.
	l := New(1 << 30, 10)

	err := l.Register(context.Background(), 25)
	require.NoError(t, err)
}
