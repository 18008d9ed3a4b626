package pumped

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

// Sentinel errors, tested with errors.Is. Of the enriched wrapper types
// below, TagMissingError unwraps to ErrTagMissing; the others unwrap to
// their Cause or Err field, if they have one.
var (
	ErrScopeDisposing   = errors.New("pumped: scope is disposing")
	ErrScopeDisposed    = errors.New("pumped: scope is disposed")
	ErrContextClosed    = errors.New("pumped: execution context is closed")
	ErrTagMissing       = errors.New("pumped: tag has no value and no default")
	ErrCyclicDependency = errors.New("pumped: cyclic dependency detected")
	ErrNotUpdatable     = errors.New("pumped: executor has no settable value")
	ErrAsyncValidation  = errors.New("pumped: validator returned asynchronously, which the core does not support")
)

type ResolveError struct {
	ExecutorID AnyExecutor
	Cause      error
	Context    string
	StackTrace []byte
}

func (e *ResolveError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("resolve error in executor %v during %s: %v", e.ExecutorID, e.Context, e.Cause)
	}
	return fmt.Sprintf("resolve error in executor %v: %v", e.ExecutorID, e.Cause)
}

func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// SafeTypeAssertion performs safe type assertion with proper error
func SafeTypeAssertion[T any](value any) (T, error) {
	if value == nil {
		var zero T
		return zero, nil
	}

	typed, ok := value.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("type assertion error: expected %T, got %T (value: %v)", zero, value, value)
	}

	return typed, nil
}

func CreateResolveError(executor AnyExecutor, cause error, context string) *ResolveError {
	return &ResolveError{
		ExecutorID: executor,
		Cause:      cause,
		Context:    context,
		StackTrace: debug.Stack(),
	}
}

// FactoryExecutionError wraps a panic recovered by Try or by ExecFn.
// Resolve returns an executor factory's error as-is, without this
// wrapper, and this package leaves ExecutorName and DependencyChain
// empty.
type FactoryExecutionError struct {
	ExecutorName    string
	DependencyChain []string
	Cause           error
}

func (e *FactoryExecutionError) Error() string {
	chain := ""
	if len(e.DependencyChain) > 0 {
		chain = " (via " + strings.Join(e.DependencyChain, " -> ") + ")"
	}
	return fmt.Sprintf("pumped: factory for %q failed%s: %v", e.ExecutorName, chain, e.Cause)
}

func (e *FactoryExecutionError) Unwrap() error { return e.Cause }

// DependencyResolutionError reports a missing required dependency or tag.
type DependencyResolutionError struct {
	ExecutorName      string
	MissingDependency string
}

func (e *DependencyResolutionError) Error() string {
	return fmt.Sprintf("pumped: %q is missing required dependency %q", e.ExecutorName, e.MissingDependency)
}

// ExecutorResolutionError wraps a downstream failure encountered while
// resolving an executor's dependencies.
type ExecutorResolutionError struct {
	ExecutorName string
	Cause        error
}

func (e *ExecutorResolutionError) Error() string {
	return fmt.Sprintf("pumped: resolving %q: %v", e.ExecutorName, e.Cause)
}

func (e *ExecutorResolutionError) Unwrap() error { return e.Cause }

// TagMissingError is the enriched form of ErrTagMissing.
type TagMissingError struct {
	TagLabel string
}

func (e *TagMissingError) Error() string {
	if e.TagLabel != "" {
		return fmt.Sprintf("pumped: tag %q has no value and no default", e.TagLabel)
	}
	return ErrTagMissing.Error()
}

func (e *TagMissingError) Unwrap() error { return ErrTagMissing }

// SchemaValidationError carries the issues reported by a validator.
type SchemaValidationError struct {
	Issues []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("pumped: schema validation failed: %s", strings.Join(e.Issues, "; "))
}

// OperationTimeoutError reports a ctx.Exec/ctx.ExecFn timeout.
type OperationTimeoutError struct {
	ElapsedMs int64
}

func (e *OperationTimeoutError) Error() string {
	return fmt.Sprintf("pumped: operation timed out after %dms", e.ElapsedMs)
}

// OperationAbortedError reports a cooperative abort.
type OperationAbortedError struct {
	Reason string
}

func (e *OperationAbortedError) Error() string {
	if e.Reason == "" {
		return "pumped: operation aborted"
	}
	return fmt.Sprintf("pumped: operation aborted: %s", e.Reason)
}

// GracePeriodExceededError is optionally surfaced by Dispose when the
// grace period elapses before all active executions drain.
type GracePeriodExceededError struct {
	ElapsedMs int64
}

func (e *GracePeriodExceededError) Error() string {
	return fmt.Sprintf("pumped: grace period of %dms exceeded during dispose", e.ElapsedMs)
}

// AggregateError collects multiple errors: the child close errors of an
// ExecutionCtx.Close (in either close mode), the failures of a
// collect-errors RunParallel, and the rejections reported by
// SettledResult.AssertAllFulfilled.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("pumped: %d aggregated error(s): %s", len(e.Errors), strings.Join(parts, "; "))
}

func (e *AggregateError) Unwrap() []error { return e.Errors }

// CleanupError describes a cleanup function failure during reactive
// invalidation or scope disposal.
type CleanupError struct {
	ExecutorID AnyExecutor
	Err        error
	Context    string // "reactive" or "dispose"
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("pumped: cleanup for executor %v failed during %s: %v", e.ExecutorID, e.Context, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }
