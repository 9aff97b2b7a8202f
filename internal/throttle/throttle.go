package throttle

import (
	"context"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// maxWaitSlice bounds every individual sleep, so cancellation is noticed quickly.
const maxWaitSlice = 100 * time.Millisecond

// Throttler is a token bucket whose capacity and refill rate both equal the
// configured bytes per second: a full bucket allows one second of burst.
// A nil or unlimited Throttler never blocks. Safe for concurrent use.
type Throttler struct {
	limiter     *rate.Limiter
	bytesPerSec int64
}

// New creates a throttler limited to bytesPerSec. Zero or negative means unlimited.
func New(bytesPerSec int64) *Throttler {
	if bytesPerSec <= 0 {
		return &Throttler{}
	}
	return &Throttler{
		limiter:     rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec)),
		bytesPerSec: bytesPerSec,
	}
}

// Limit returns the configured rate, or 0 when unlimited.
func (t *Throttler) Limit() int64 {
	if t == nil {
		return 0
	}
	return t.bytesPerSec
}

// Consume blocks until n bytes have been debited from the bucket. It returns
// immediately when enough tokens are available. Requests larger than the
// bucket are debited in bucket-sized slices.
func (t *Throttler) Consume(ctx context.Context, n int) error {
	if t == nil || t.limiter == nil {
		return nil
	}

	burst := t.limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		r := t.limiter.ReserveN(time.Now(), chunk)
		if !r.OK() {
			// Unreachable: chunk never exceeds the burst.
			return nil
		}
		if err := waitSliced(ctx, r.Delay()); err != nil {
			r.Cancel()
			return err
		}
		n -= chunk
	}
	return nil
}

func waitSliced(ctx context.Context, d time.Duration) error {
	for d > 0 {
		slice := min(d, maxWaitSlice)
		timer := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		d -= slice
	}
	return ctx.Err()
}

// CurrentRate reports how many bytes could be sent right now without
// waiting. It never exceeds the configured rate.
func (t *Throttler) CurrentRate() float64 {
	if t == nil || t.limiter == nil {
		return 0
	}
	tokens := t.limiter.Tokens()
	if tokens < 0 {
		return 0
	}
	if limit := float64(t.bytesPerSec); tokens > limit {
		return limit
	}
	return tokens
}

// Reader throttles reads from an underlying reader.
type Reader struct {
	ctx context.Context
	r   io.Reader
	t   *Throttler
}

// NewReader wraps r so every byte read is debited from t.
func NewReader(ctx context.Context, r io.Reader, t *Throttler) io.Reader {
	if t == nil || t.limiter == nil {
		return r
	}
	return &Reader{ctx: ctx, r: r, t: t}
}

func (tr *Reader) Read(p []byte) (int, error) {
	n, err := tr.r.Read(p)
	if n > 0 {
		if werr := tr.t.Consume(tr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
