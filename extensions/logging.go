package extensions

import (
	"context"
	"fmt"
	"time"

	pumped "github.com/pumped-fn/pumped-go"
)

// LoggingExtension logs all operations
type LoggingExtension struct {
	pumped.BaseExtension
}

// NewLoggingExtension creates a new logging extension
func NewLoggingExtension() *LoggingExtension {
	return &LoggingExtension{
		BaseExtension: pumped.NewBaseExtension("logging"),
	}
}

func (e *LoggingExtension) label(op *pumped.Operation) string {
	switch op.Kind {
	case pumped.OperationResolve:
		return fmt.Sprintf("resolve(%s)", op.Action)
	case pumped.OperationExecution:
		return fmt.Sprintf("execution(%s)", op.Execution)
	case pumped.OperationContextLifecycle:
		return fmt.Sprintf("context(%s)", op.Phase)
	default:
		return string(op.Kind)
	}
}

func (e *LoggingExtension) Wrap(ctx context.Context, next func() (any, error), op *pumped.Operation) (any, error) {
	start := time.Now()
	label := e.label(op)
	fmt.Printf("[%s] %s starting\n", e.Name(), label)
	result, err := next()

	duration := time.Since(start)
	if err != nil {
		fmt.Printf("[%s] %s failed after %v: %v\n", e.Name(), label, duration, err)
	} else {
		fmt.Printf("[%s] %s completed in %v\n", e.Name(), label, duration)
	}

	return result, err
}
