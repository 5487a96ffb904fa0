package agent

import (
	"context"
	"time"
)

// pollUntil evaluates predicate every interval until it reports true or the
// deadline lapses. The target is a client-rendered application with no
// reliable content-ready event, so a bounded poll is the only robust wait:
// the result is always a definite found/not-found, never a hang.
func pollUntil(ctx context.Context, interval, deadline time.Duration, predicate func(ctx context.Context) (bool, error)) (bool, error) {
	pollCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := predicate(pollCtx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-ticker.C:
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		}
	}
}

// pollTimes is the retry-count flavour used after a click: n attempts at the
// given interval.
func pollTimes(ctx context.Context, interval time.Duration, n int, predicate func(ctx context.Context) (bool, error)) (bool, error) {
	for i := 0; i < n; i++ {
		ok, err := predicate(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return false, nil
}
