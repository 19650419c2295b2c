package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/fundilink/fundi-backend/internal/logger"
)

// SafeGo runs fn in a goroutine with panic recovery. Used for
// fire-and-forget work (notification delivery) that must never take the
// triggering request down with it.
func SafeGo(fn func()) {
	go func() {
		defer recoverPanic()
		fn()
	}()
}

// SafeGoWithContext runs fn in a goroutine with a context and panic recovery.
func SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer recoverPanic()
		fn(ctx)
	}()
}

func recoverPanic() {
	if r := recover(); r != nil {
		if logger.Log != nil {
			logger.Log.Errorf("panic in goroutine: %v\nstack:\n%s", r, debug.Stack())
		}
	}
}
