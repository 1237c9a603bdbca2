package backoff

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrMaxBackoffReached is returned when the maximum backoff count has been reached.
var ErrMaxBackoffReached = errors.New("backoff: max backoff reached")

var baseDelay = 100 * time.Millisecond

// New creates a backoff function. The first call returns immediately, later
// calls sleep for an exponentially increasing duration.
// Retry Backoff Total elapsed
// 0     0       0
// 1     200     0.2
// 2     400     0.6
// 3     800     1.4
// 4     1600    3
// 5     3200    6.2
//
// Usage:
//
//	bo := backoff.New(5)
//	for {
//	  if err := bo(ctx); err != nil {
//	    return err
//	  }
//	  ready, err := checkStatus()
//	  if err != nil {
//	    return err
//	  }
//	  if ready {
//	    break
//	  }
//	}
func New(maxRetries int) func(ctx context.Context) error {
	var retry int
	return func(ctx context.Context) error {
		if retry > maxRetries {
			return ErrMaxBackoffReached
		}
		retry++
		if retry == 1 {
			return ctx.Err()
		}
		t := math.Pow(2.0, float64(retry-1))
		timer := time.NewTimer(time.Duration(t) * baseDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}
}
