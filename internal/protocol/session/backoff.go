package session

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/danmuck/memxfer/internal/protocol"
)

// Retryable reports whether a failed exchange may be repeated. Only
// transport failures qualify.
func Retryable(err error) bool {
	return err != nil && protocol.KindOf(err) == protocol.KindTransport
}

// Delay returns the pause after failed attempt n (1-based). The base grows by
// Multiplier per attempt and is capped at MaxDelay. With Jitter set the
// result is drawn from [base/2, base).
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	mult := math.Max(b.Multiplier, 1.0)
	ceiling := float64(math.MaxInt64)
	if b.MaxDelay > 0 {
		ceiling = float64(b.MaxDelay)
	}
	base := float64(b.InitialDelay)
	for i := 1; i < attempt && base < ceiling; i++ {
		base *= mult
	}
	d := time.Duration(math.MaxInt64)
	if base < ceiling {
		d = time.Duration(base)
	} else if b.MaxDelay > 0 {
		d = b.MaxDelay
	}
	if !b.Jitter || d < 2 {
		return d
	}
	half := d / 2
	if rng == nil {
		return half
	}
	return half + time.Duration(rng.Int63n(int64(d-half)))
}

// RetryNotify is called before each backoff pause.
type RetryNotify func(attempt int, delay time.Duration, err error)

// Retry runs op until it succeeds, fails with a non-retryable error, or
// cfg.MaxAttempts is spent. A ctx cancelled during a pause ends the loop with
// a transport error.
func Retry(ctx context.Context, cfg Config, rng *rand.Rand, op func(attempt int) error, notify RetryNotify) error {
	attempts := max(cfg.MaxAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}
		if !Retryable(err) || attempt == attempts {
			return err
		}
		delay := cfg.Backoff.Delay(attempt, rng)
		if notify != nil {
			notify(attempt, delay, err)
		}
		if werr := sleep(ctx, delay); werr != nil {
			return werr
		}
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if err := ctx.Err(); err != nil {
			return protocol.Transport("session.backoff", err)
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return protocol.Transport("session.backoff", ctx.Err())
	case <-timer.C:
		return nil
	}
}
