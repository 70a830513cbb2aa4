package broker

import (
	"log"
	"runtime"
)

// runWithRecovery runs fn and logs a stack trace instead of crashing the
// process if it panics, the same panic-isolation the teacher's
// core/middleware.Recovery applied per-message; here it guards a whole
// plane goroutine, since one plane panicking must not take the other two
// down with it.
func runWithRecovery(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			log.Printf("[%s] panic recovered: %v\n%s", name, r, buf[:n])
		}
	}()
	fn()
}
