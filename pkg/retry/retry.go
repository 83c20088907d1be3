package retry

import (
	"context"
	"fmt"
	"time"
)

// Predicate is one attempt. It reports whether the awaited condition holds.
// attempt is 1-based.
type Predicate func(ctx context.Context, attempt int) (bool, error)

// Result describes how a bounded retry ended.
type Result struct {
	Found    bool
	Attempts int
	Elapsed  time.Duration
}

// TimedOut reports whether the budget ran out before the condition held.
func (r Result) TimedOut() bool { return !r.Found }

// Until calls pred until it returns true or budget has elapsed since the first
// call. Attempts start at most once per interval; a predicate that itself blocks
// for up to interval keeps the total within budget + interval.
//
// An error from pred, or ctx cancellation, ends the loop and is returned as is.
func Until(ctx context.Context, clock Clock, interval, budget time.Duration, pred Predicate) (Result, error) {
	if interval <= 0 {
		return Result{}, fmt.Errorf("retry interval must be positive, got %s", interval)
	}
	if budget <= 0 {
		return Result{}, fmt.Errorf("retry budget must be positive, got %s", budget)
	}
	if clock == nil {
		clock = RealClock{}
	}

	start := clock.Now()
	var res Result
	for {
		if err := ctx.Err(); err != nil {
			res.Elapsed = clock.Now().Sub(start)
			return res, err
		}

		res.Attempts++
		attemptStart := clock.Now()
		ok, err := pred(ctx, res.Attempts)
		now := clock.Now()
		res.Elapsed = now.Sub(start)
		if err != nil {
			return res, err
		}
		if ok {
			res.Found = true
			return res, nil
		}
		if res.Elapsed >= budget {
			return res, nil
		}

		// Pace attempts to one per interval, but never sleep past the budget.
		wait := interval - now.Sub(attemptStart)
		if remaining := budget - res.Elapsed; wait > remaining {
			wait = remaining
		}
		if wait > 0 {
			if err := clock.Sleep(ctx, wait); err != nil {
				res.Elapsed = clock.Now().Sub(start)
				return res, err
			}
		}
		if res.Elapsed = clock.Now().Sub(start); res.Elapsed >= budget {
			return res, nil
		}
	}
}
