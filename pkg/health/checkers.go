package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running,
// which usually means a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger is a dependency that can be pinged, such as a pgx pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p does not answer a ping.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// Optional turns a check into a no-op while enabled reports false, for
// dependencies that are configured at runtime.
func Optional(enabled func() bool, check CheckFunc) CheckFunc {
	return func(ctx context.Context) error {
		if !enabled() {
			return nil
		}
		return check(ctx)
	}
}
