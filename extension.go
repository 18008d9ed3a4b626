package pumped

import "context"

// Extension provides hooks into the execution lifecycle
type Extension interface {
	// Name returns the extension's name
	Name() string

	// Order determines extension execution order (lower = earlier)
	Order() int

	// Init is called when the extension is registered to a scope
	Init(scope *Scope) error

	// Wrap intercepts an operation. Resolve and Update (OperationResolve,
	// Action "get"/"set") and top-level Exec (OperationExecution,
	// ExecutionFlow) pass through Wrap; UpdateFunc, Exec1, ExecFn,
	// RunParallel, RunParallelSettled and Close do not, so ExecutionFn,
	// ExecutionParallel and OperationContextLifecycle are never reported.
	Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error)

	// OnError handles errors during resolution
	OnError(err error, op *Operation, scope *Scope)

	// OnCleanupError handles cleanup failures
	// Returns true if the error was handled, false to use default behavior
	OnCleanupError(err *CleanupError) bool

	// Flow execution hooks
	OnFlowStart(execCtx *ExecutionCtx, flow AnyFlow) error
	OnFlowEnd(execCtx *ExecutionCtx, result any, err error) error
	OnFlowPanic(execCtx *ExecutionCtx, recovered any, stack []byte) error

	// Dispose is called when the scope is disposed
	Dispose(scope *Scope) error
}

// BaseExtension provides default implementations for Extension methods
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a new base extension with the given name
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e *BaseExtension) Name() string {
	return e.name
}

func (e *BaseExtension) Order() int {
	return 100
}

func (e *BaseExtension) Init(scope *Scope) error {
	return nil
}

func (e *BaseExtension) Wrap(ctx context.Context, next func() (any, error), op *Operation) (any, error) {
	return next()
}

func (e *BaseExtension) OnError(err error, op *Operation, scope *Scope) {
}

func (e *BaseExtension) OnCleanupError(err *CleanupError) bool {
	return false
}

func (e *BaseExtension) OnFlowStart(execCtx *ExecutionCtx, flow AnyFlow) error {
	return nil
}

func (e *BaseExtension) OnFlowEnd(execCtx *ExecutionCtx, result any, err error) error {
	return nil
}

func (e *BaseExtension) OnFlowPanic(execCtx *ExecutionCtx, recovered any, stack []byte) error {
	return nil
}

func (e *BaseExtension) Dispose(scope *Scope) error {
	return nil
}

// OperationKind tags which shape of operation an Operation describes.
// The original resolve/update split collapses into OperationResolve; the
// Action field distinguishes a read from a write within it.
type OperationKind string

const (
	OperationResolve          OperationKind = "resolve"
	OperationExecution        OperationKind = "execution"
	OperationContextLifecycle OperationKind = "context-lifecycle"
)

// Retained aliases for the teacher's original two-constant naming.
const (
	OpResolve OperationKind = OperationResolve
	OpUpdate  OperationKind = OperationResolve
)

// ExecutionKind distinguishes the three shapes of execution an
// OperationExecution operation can wrap.
type ExecutionKind string

const (
	ExecutionFlow     ExecutionKind = "flow"
	ExecutionFn       ExecutionKind = "fn"
	ExecutionParallel ExecutionKind = "parallel"
)

// ContextPhase names a context-lifecycle transition.
type ContextPhase string

const (
	PhaseClosing ContextPhase = "closing"
	PhaseClosed  ContextPhase = "closed"
)

// Operation is a tagged union describing what the extension pipeline is
// currently wrapping. Only the fields relevant to Kind are populated.
type Operation struct {
	Kind OperationKind

	// Populated when Kind == OperationResolve.
	Executor AnyExecutor
	Scope    *Scope
	Action   string // "get" or "set"

	// Populated when Kind == OperationExecution.
	Execution ExecutionKind
	ExecCtx   *ExecutionCtx
	Key       string

	// Populated when Kind == OperationContextLifecycle.
	Phase ContextPhase
}
