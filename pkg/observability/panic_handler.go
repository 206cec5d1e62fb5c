package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with the stack. Call it
// directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "usage reset sweep")
//
// The panic is not re-raised. Use it only at the top of goroutines whose
// failure must not take the process down, such as scheduled jobs.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logger.WithFields(map[string]interface{}{
			"panic":   fmt.Sprintf("%v", r),
			"stack":   string(debug.Stack()),
			"context": where,
		}).Error("PANIC recovered")
	}
}
