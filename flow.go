package pumped

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pumped-fn/pumped-go/pkg/schema"
)

type AnyFlow interface {
	GetDeps() []Dependency
	GetTag(tag any) (any, bool)
	SetTag(tag any, val any)
	ExecuteAny(*ExecutionCtx) (any, error)
}

type Flow[R any] struct {
	deps            []Dependency
	factory         func(*ExecutionCtx, *ResolveCtx) (R, error)
	tags            map[any]any
	inputValidator  schema.Schema
	outputValidator schema.Schema
}

func (f *Flow[R]) GetDeps() []Dependency {
	return f.deps
}

func (f *Flow[R]) GetTag(tag any) (any, bool) {
	val, ok := f.tags[tag]
	return val, ok
}

func (f *Flow[R]) SetTag(tag any, val any) {
	f.tags[tag] = val
}

func (f *Flow[R]) ExecuteAny(ctx *ExecutionCtx) (any, error) {
	return executeFlow(ctx, f)
}

type ctxState int32

const (
	ctxStateActive ctxState = iota
	ctxStateClosing
	ctxStateClosed
)

// ExecutionCtx carries per-invocation state for a flow execution: tag
// data, parent/child links for the lifecycle tree, and the shared
// journal used for memoized replay across sub-executions.
type ExecutionCtx struct {
	id     string
	parent *ExecutionCtx
	scope  *Scope
	data   map[any]any
	ctx    context.Context
	cancel context.CancelFunc

	depth   int
	journal *execJournal

	state       atomic.Int32
	children    []*ExecutionCtx
	childrenMu  sync.Mutex
}

func (e *ExecutionCtx) Set(tag any, value any) {
	e.data[tag] = value
}

func (e *ExecutionCtx) Get(tag any) (any, bool) {
	v, ok := e.data[tag]
	return v, ok
}

func (e *ExecutionCtx) GetFromParent(tag any) (any, bool) {
	current := e.parent
	for current != nil {
		if v, ok := current.data[tag]; ok {
			return v, true
		}
		current = current.parent
	}
	return nil, false
}

func (e *ExecutionCtx) GetFromScope(tag any) (any, bool) {
	return e.scope.GetTag(tag)
}

func (e *ExecutionCtx) Lookup(tag any) (any, bool) {
	if v, ok := e.Get(tag); ok {
		return v, true
	}
	if v, ok := e.GetFromParent(tag); ok {
		return v, true
	}
	return e.GetFromScope(tag)
}

func (e *ExecutionCtx) Context() context.Context {
	return e.ctx
}

func (e *ExecutionCtx) Parallel(opts ...ParallelOption) *ParallelExecutor {
	pe := &ParallelExecutor{
		ctx:       e,
		errorMode: ErrorModeFailFast,
	}
	for _, opt := range opts {
		opt(pe)
	}
	return pe
}

func (e *ExecutionCtx) finalize() *ExecutionNode {
	parentID := ""
	if e.parent != nil {
		parentID = e.parent.id
	}

	node := &ExecutionNode{
		ID:       e.id,
		ParentID: parentID,
		Tags:     make(map[any]any),
	}

	for k, v := range e.data {
		node.Tags[k] = v
	}

	return node
}

type ExecutionNode struct {
	ID       string
	ParentID string
	Tags     map[any]any
}

func (n *ExecutionNode) GetTag(tag any) (any, bool) {
	v, ok := n.Tags[tag]
	return v, ok
}

func (n *ExecutionNode) GetAllTags() map[any]any {
	return n.Tags
}

type ExecutionTree struct {
	mu       sync.RWMutex
	nodes    map[string]*ExecutionNode
	byParent map[string][]string
	roots    []string
	limit    int
}

func newExecutionTree(limit int) *ExecutionTree {
	return &ExecutionTree{
		nodes:    make(map[string]*ExecutionNode),
		byParent: make(map[string][]string),
		roots:    []string{},
		limit:    limit,
	}
}

func (t *ExecutionTree) addNode(node *ExecutionNode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nodes[node.ID] = node

	if node.ParentID == "" {
		t.roots = append(t.roots, node.ID)
	} else {
		t.byParent[node.ParentID] = append(t.byParent[node.ParentID], node.ID)
	}

	if len(t.nodes) > t.limit {
		t.evictOldest()
	}
}

func (t *ExecutionTree) evictOldest() {
	if len(t.roots) == 0 {
		return
	}

	oldestRoot := t.roots[0]
	t.roots = t.roots[1:]

	t.removeSubtree(oldestRoot)
}

func (t *ExecutionTree) removeSubtree(nodeID string) {
	delete(t.nodes, nodeID)

	children := t.byParent[nodeID]
	delete(t.byParent, nodeID)

	for _, childID := range children {
		t.removeSubtree(childID)
	}
}

func (t *ExecutionTree) GetNode(id string) *ExecutionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[id]
}

func (t *ExecutionTree) GetChildren(id string) []*ExecutionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	childIDs := t.byParent[id]
	children := make([]*ExecutionNode, 0, len(childIDs))
	for _, childID := range childIDs {
		if node := t.nodes[childID]; node != nil {
			children = append(children, node)
		}
	}
	return children
}

func (t *ExecutionTree) GetRoots() []*ExecutionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	roots := make([]*ExecutionNode, 0, len(t.roots))
	for _, rootID := range t.roots {
		if node := t.nodes[rootID]; node != nil {
			roots = append(roots, node)
		}
	}
	return roots
}

func (t *ExecutionTree) Filter(predicate func(*ExecutionNode) bool) []*ExecutionNode {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []*ExecutionNode
	for _, node := range t.nodes {
		if predicate(node) {
			result = append(result, node)
		}
	}
	return result
}

func (t *ExecutionTree) Walk(rootID string, visitor func(*ExecutionNode) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	node := t.nodes[rootID]
	if node == nil {
		return
	}

	if !visitor(node) {
		return
	}

	for _, childID := range t.byParent[rootID] {
		t.walkUnlocked(childID, visitor)
	}
}

func (t *ExecutionTree) walkUnlocked(nodeID string, visitor func(*ExecutionNode) bool) {
	node := t.nodes[nodeID]
	if node == nil {
		return
	}

	if !visitor(node) {
		return
	}

	for _, childID := range t.byParent[nodeID] {
		t.walkUnlocked(childID, visitor)
	}
}

type ParallelExecutor struct {
	ctx       *ExecutionCtx
	errorMode ErrorMode
}

type ErrorMode int

const (
	ErrorModeFailFast ErrorMode = iota
	ErrorModeCollectErrors
)

type ParallelOption func(*ParallelExecutor)

func WithFailFast() ParallelOption {
	return func(pe *ParallelExecutor) {
		pe.errorMode = ErrorModeFailFast
	}
}

func WithCollectErrors() ParallelOption {
	return func(pe *ParallelExecutor) {
		pe.errorMode = ErrorModeCollectErrors
	}
}

type FlowError struct {
	Index    int
	FlowName string
	Err      error
}

type FlowOption func(*flowConfig)

type flowConfig struct {
	tags            map[any]any
	inputValidator  schema.Schema
	outputValidator schema.Schema
}

func WithFlowTag[T any](tag Tag[T], val T) FlowOption {
	return func(cfg *flowConfig) {
		cfg.tags[tag] = val
	}
}

// WithInputSchema attaches a synchronous validator run against the
// invocation's input (set via WithInput) before the handler runs. A
// rejection short-circuits execution with a SchemaValidationError and the
// handler never runs.
func WithInputSchema(s schema.Schema) FlowOption {
	return func(cfg *flowConfig) { cfg.inputValidator = s }
}

// WithOutputSchema attaches a synchronous validator run against the
// handler's result. A rejection replaces a successful result with a
// SchemaValidationError.
func WithOutputSchema(s schema.Schema) FlowOption {
	return func(cfg *flowConfig) { cfg.outputValidator = s }
}

func (cfg *flowConfig) GetTag(tag any) (any, bool) {
	val, ok := cfg.tags[tag]
	return val, ok
}

func (cfg *flowConfig) SetTag(tag any, val any) {
	cfg.tags[tag] = val
}

type ExecutionStatus int

const (
	ExecutionStatusRunning ExecutionStatus = iota
	ExecutionStatusSuccess
	ExecutionStatusFailed
	ExecutionStatusCancelled
)

var (
	flowNameTag   = NewTag[string]("flow.name")
	timeoutTag    = NewTag[time.Duration]("flow.timeout")
	retryTag      = NewTag[int]("flow.retry")
	startTimeTag  = NewTag[time.Time]("exec.start_time")
	endTimeTag    = NewTag[time.Time]("exec.end_time")
	statusTag     = NewTag[ExecutionStatus]("exec.status")
	errorTag      = NewTag[error]("exec.error")
	inputTag      = NewTag[any]("exec.input")
	outputTag     = NewTag[any]("exec.output")
	resumedTag    = NewTag[bool]("exec.resumed")
	cachedTag     = NewTag[any]("exec.cached_output")
	skipExecTag   = NewTag[bool]("exec.skip")
	panicStackTag = NewTag[[]byte]("exec.panic_stack")
	depthTag      = NewTag[int]("exec.depth")
)

// Depth returns the tag recording an execution context's nesting depth
// below its root (0 at the root).
func Depth() Tag[int] { return depthTag }

func FlowName() Tag[string]        { return flowNameTag }
func Timeout() Tag[time.Duration]  { return timeoutTag }
func Retry() Tag[int]              { return retryTag }
func StartTime() Tag[time.Time]    { return startTimeTag }
func EndTime() Tag[time.Time]      { return endTimeTag }
func Status() Tag[ExecutionStatus] { return statusTag }
func ErrorTag() Tag[error]         { return errorTag }
func Input() Tag[any]              { return inputTag }
func Output() Tag[any]             { return outputTag }
func Resumed() Tag[bool]           { return resumedTag }
func CachedOutput() Tag[any]       { return cachedTag }
func SkipExecution() Tag[bool]     { return skipExecTag }
func PanicStack() Tag[[]byte]      { return panicStackTag }

// ExecuteOption configures a single Exec/Exec1 invocation, independent
// of the flow's own construction-time FlowOptions.
type ExecuteOption func(*executeConfig)

type executeConfig struct {
	input any
}

// WithInput attaches an input value to a flow invocation. The handler
// reads it back via ctx.Get(Input()); if the flow carries an input
// validator (WithInputSchema), the value is validated before the
// handler runs and execution fails with a SchemaValidationError on
// rejection.
func WithInput(val any) ExecuteOption {
	return func(cfg *executeConfig) { cfg.input = val }
}

func Exec1[R any](e *ExecutionCtx, flow *Flow[R], opts ...ExecuteOption) (R, *ExecutionCtx, error) {
	var zero R

	cfg := &executeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Check for cancellation before resolving dependencies
	select {
	case <-e.ctx.Done():
		e.Set(endTimeTag, time.Now())
		e.Set(statusTag, ExecutionStatusCancelled)
		e.Set(errorTag, e.ctx.Err())
		return zero, nil, e.ctx.Err()
	default:
	}

	for _, dep := range flow.deps {
		if dep.GetMode() == ModeLazy {
			continue
		}
		// Check for cancellation before each dependency resolution
		select {
		case <-e.ctx.Done():
			e.Set(endTimeTag, time.Now())
			e.Set(statusTag, ExecutionStatusCancelled)
			e.Set(errorTag, e.ctx.Err())
			return zero, nil, e.ctx.Err()
		default:
		}
		_, err := dep.GetExecutor().ResolveAny(e.scope)
		if err != nil {
			return zero, nil, fmt.Errorf("resolving dependency: %w", err)
		}
	}

	childCtx := &ExecutionCtx{
		id:      e.scope.generateExecutionID(),
		parent:  e,
		scope:   e.scope,
		data:    make(map[any]any),
		ctx:     e.ctx,
		depth:   e.depth + 1,
		journal: e.journal,
	}
	e.childrenMu.Lock()
	e.children = append(e.children, childCtx)
	e.childrenMu.Unlock()

	childCtx.Set(depthTag, childCtx.depth)
	childCtx.Set(inputTag, cfg.input)

	if name, ok := flow.GetTag(flowNameTag); ok {
		childCtx.Set(flowNameTag, name)
	}

	childCtx.Set(startTimeTag, time.Now())
	childCtx.Set(statusTag, ExecutionStatusRunning)

	e.scope.mu.RLock()
	exts := make([]Extension, len(e.scope.extensions))
	copy(exts, e.scope.extensions)
	e.scope.mu.RUnlock()

	for _, ext := range exts {
		if err := ext.OnFlowStart(childCtx, flow); err != nil {
			childCtx.Set(statusTag, ExecutionStatusFailed)
			childCtx.Set(errorTag, err)
			return zero, childCtx, err
		}
	}

	// Check for cancellation before executing the flow
	select {
	case <-childCtx.ctx.Done():
		childCtx.Set(endTimeTag, time.Now())
		childCtx.Set(statusTag, ExecutionStatusCancelled)
		childCtx.Set(errorTag, childCtx.ctx.Err())
		return zero, childCtx, childCtx.ctx.Err()
	default:
	}

	if skip, ok := childCtx.Get(skipExecTag); ok && skip.(bool) {
		// Check for cancellation even in skip case
		select {
		case <-childCtx.ctx.Done():
			childCtx.Set(endTimeTag, time.Now())
			childCtx.Set(statusTag, ExecutionStatusCancelled)
			childCtx.Set(errorTag, childCtx.ctx.Err())
			return zero, childCtx, childCtx.ctx.Err()
		default:
		}

		if cached, ok := childCtx.Get(cachedTag); ok {
			childCtx.Set(endTimeTag, time.Now())
			childCtx.Set(statusTag, ExecutionStatusSuccess)
			childCtx.Set(outputTag, cached)

			for i := len(exts) - 1; i >= 0; i-- {
				if err := exts[i].OnFlowEnd(childCtx, cached, nil); err != nil {
					childCtx.Set(statusTag, ExecutionStatusFailed)
					childCtx.Set(errorTag, err)
					return zero, childCtx, err
				}
			}

			node := childCtx.finalize()
			e.scope.execTree.addNode(node)

			return cached.(R), childCtx, nil
		}
	}

	result, err := executeFlow(childCtx, flow)

	childCtx.Set(endTimeTag, time.Now())
	if err != nil {
		// Check if this is a cancellation error
		if errors.Is(err, context.Canceled) {
			childCtx.Set(statusTag, ExecutionStatusCancelled)
		} else {
			childCtx.Set(statusTag, ExecutionStatusFailed)
		}
		childCtx.Set(errorTag, err)
	} else {
		childCtx.Set(statusTag, ExecutionStatusSuccess)
		childCtx.Set(outputTag, result)
	}

	for i := len(exts) - 1; i >= 0; i-- {
		if extErr := exts[i].OnFlowEnd(childCtx, result, err); extErr != nil && err == nil {
			err = extErr
		}
	}

	node := childCtx.finalize()
	e.scope.execTree.addNode(node)

	return result, childCtx, err
}

func executeFlow[R any](e *ExecutionCtx, flow *Flow[R]) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = fmt.Errorf("panic in flow: %v", r)
			e.Set(panicStackTag, stack)
			e.Set(errorTag, err)

			e.scope.mu.RLock()
			exts := make([]Extension, len(e.scope.extensions))
			copy(exts, e.scope.extensions)
			e.scope.mu.RUnlock()

			for _, ext := range exts {
				if onFlowePanicErr := ext.OnFlowPanic(e, r, stack); onFlowePanicErr != nil {
					err = errors.Join(err, onFlowePanicErr)
				}
			}
		}
	}()

	// Check for cancellation before executing the factory
	select {
	case <-e.ctx.Done():
		err = e.ctx.Err()
		e.Set(endTimeTag, time.Now())
		e.Set(statusTag, ExecutionStatusCancelled)
		e.Set(errorTag, e.ctx.Err())
		return
	default:
	}

	if flow.inputValidator != nil {
		raw, _ := e.Get(inputTag)
		validated, verr := flow.inputValidator.Validate(raw)
		if verr != nil {
			err = &SchemaValidationError{Issues: []string{verr.Error()}}
			e.Set(errorTag, err)
			return
		}
		e.Set(inputTag, validated)
	}

	resolveCtx := &ResolveCtx{
		scope: e.scope,
	}

	// Execute factory with cancellation monitoring
	type factoryResult struct {
		value R
		err   error
		panic any
		stack []byte
	}

	resultCh := make(chan factoryResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				resultCh <- factoryResult{
					panic: r,
					stack: stack,
				}
			}
		}()

		value, err := flow.factory(e, resolveCtx)
		resultCh <- factoryResult{
			value: value,
			err:   err,
		}
	}()

	select {
	case res := <-resultCh:
		if res.panic != nil {
			// Panic occurred in factory
			err = fmt.Errorf("panic in flow: %v", res.panic)
			e.Set(panicStackTag, res.stack)
			e.Set(errorTag, err)

			e.scope.mu.RLock()
			exts := make([]Extension, len(e.scope.extensions))
			copy(exts, e.scope.extensions)
			e.scope.mu.RUnlock()

			for _, ext := range exts {
				if onFlowPanicErr := ext.OnFlowPanic(e, res.panic, res.stack); onFlowPanicErr != nil {
					err = errors.Join(err, onFlowPanicErr)
				}
			}
			return
		}
		// Factory completed normally
		result = res.value
		err = res.err
		if err == nil && flow.outputValidator != nil {
			validated, verr := flow.outputValidator.Validate(result)
			if verr != nil {
				var zero2 R
				result = zero2
				err = &SchemaValidationError{Issues: []string{verr.Error()}}
				e.Set(errorTag, err)
			} else if typed, ok := validated.(R); ok {
				result = typed
			}
		}
		return
	case <-e.ctx.Done():
		// Context was cancelled
		err = e.ctx.Err()
		e.Set(endTimeTag, time.Now())
		e.Set(statusTag, ExecutionStatusCancelled)
		e.Set(errorTag, e.ctx.Err())
		return
	}
}

// --- Context lifecycle state machine ---

// CloseMode selects how Close tears down an execution context's
// remaining children.
type CloseMode int

const (
	// CloseGraceful lets in-flight children run to completion.
	CloseGraceful CloseMode = iota
	// CloseAbort also calls each closed context's own cancel func, which
	// exists only when ExecFn created that context with a Timeout; other
	// contexts are not cancelled.
	CloseAbort
)

// CloseOptions configures Close.
type CloseOptions struct {
	Mode CloseMode
}

// CloseOption modifies CloseOptions.
type CloseOption func(*CloseOptions)

// WithCloseMode selects graceful or abort teardown.
func WithCloseMode(m CloseMode) CloseOption {
	return func(o *CloseOptions) { o.Mode = m }
}

// Close transitions the context active -> closing -> closed, cascading
// to every child first (in the same mode) and returning the children's
// close errors as an AggregateError in either mode. In CloseAbort mode it
// also cancels the context's per-execution cancel func (if Timeout
// created one); CloseGraceful never aborts a child. Neither mode waits
// for work still running in the context or its children. Close is
// idempotent.
func (e *ExecutionCtx) Close(opts ...CloseOption) error {
	cfg := &CloseOptions{Mode: CloseGraceful}
	for _, opt := range opts {
		opt(cfg)
	}

	if !e.state.CompareAndSwap(int32(ctxStateActive), int32(ctxStateClosing)) {
		return nil
	}

	e.childrenMu.Lock()
	children := make([]*ExecutionCtx, len(e.children))
	copy(children, e.children)
	e.childrenMu.Unlock()

	var errs []error
	for _, child := range children {
		if err := child.Close(opts...); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Mode == CloseAbort && e.cancel != nil {
		e.cancel()
	}

	e.state.Store(int32(ctxStateClosed))

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// IsClosed reports whether Close has finished on this context.
func (e *ExecutionCtx) IsClosed() bool {
	return ctxState(e.state.Load()) == ctxStateClosed
}

// --- Journal ---

type journalEntry struct {
	value any
	err   error
}

// execJournal is shared by a root ExecutionCtx and every descendant it
// spawns via ExecFn/Exec1, so a keyed sub-execution replays its recorded
// outcome deterministically regardless of which branch re-runs it.
type execJournal struct {
	entries *TypeSafeCache[journalEntry]
}

func newExecJournal() *execJournal {
	return &execJournal{entries: NewTypeSafeCache[journalEntry](0)}
}

func (e *ExecutionCtx) journalKey(userKey string) string {
	name := "root"
	if v, ok := e.Lookup(flowNameTag); ok {
		if s, ok := v.(string); ok {
			name = s
		}
	}
	return fmt.Sprintf("%s:%d:%s", name, e.depth, userKey)
}

// Journaled runs fn at most once per (flow name, depth, key) triple
// within a root execution's lifetime; replays of the same key return
// the recorded value or re-raise the recorded error without calling fn
// again.
func Journaled[R any](e *ExecutionCtx, key string, fn func() (R, error)) (R, error) {
	if e.journal == nil {
		return fn()
	}

	fullKey := e.journalKey(key)

	if entry, ok := e.journal.entries.Load(fullKey); ok {
		if entry.err != nil {
			var zero R
			return zero, entry.err
		}
		return entry.value.(R), nil
	}

	v, err := fn()

	e.journal.entries.Store(fullKey, journalEntry{value: v, err: err})

	return v, err
}

// ResetJournal clears recorded entries. With an empty substring it
// clears the whole journal; otherwise it clears only entries whose key
// contains substring.
func (e *ExecutionCtx) ResetJournal(substring string) {
	if e.journal == nil {
		return
	}
	if substring == "" {
		e.journal.entries.Clear()
		return
	}
	var stale []CacheKey
	e.journal.entries.Range(func(k CacheKey, _ journalEntry) bool {
		if strings.Contains(k.(string), substring) {
			stale = append(stale, k)
		}
		return true
	})
	for _, k := range stale {
		e.journal.entries.Delete(k)
	}
}

// --- Generalized sub-execution (ctx.Exec / ctx.ExecFn) ---

// ExecOptions configures a ExecFn sub-execution.
type ExecOptions struct {
	// Key, if non-empty, journals the call so replays within the same
	// root execution return the recorded outcome instead of re-running.
	Key string
	// Tags seeds the child context's own tag store before fn runs.
	Tags TagList
	// Timeout bounds fn with a derived, cancellable context.
	Timeout time.Duration
}

func runWithPanicRecovery[R any](e *ExecutionCtx, fn func() (R, error)) (result R, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			err = &FactoryExecutionError{Cause: panicToError(r)}
			e.Set(panicStackTag, stack)
			e.Set(errorTag, err)
		}
	}()
	return fn()
}

// ExecFn runs fn as a child execution of e: a fresh ExecutionCtx is
// created (nested under e in the close cascade and sharing e's
// journal), optionally bounded by opts.Timeout and optionally
// journaled under opts.Key.
func ExecFn[R any](e *ExecutionCtx, opts ExecOptions, fn func(*ExecutionCtx) (R, error)) (R, error) {
	var zero R
	if e.IsClosed() {
		return zero, ErrContextClosed
	}

	childGoCtx := e.ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		childGoCtx, cancel = context.WithTimeout(e.ctx, opts.Timeout)
	}

	child := &ExecutionCtx{
		id:      e.scope.generateExecutionID(),
		parent:  e,
		scope:   e.scope,
		data:    make(map[any]any),
		ctx:     childGoCtx,
		cancel:  cancel,
		depth:   e.depth + 1,
		journal: e.journal,
	}
	e.childrenMu.Lock()
	e.children = append(e.children, child)
	e.childrenMu.Unlock()

	child.Set(depthTag, child.depth)
	for _, tg := range opts.Tags {
		child.data[tg.key] = tg.Value
	}

	select {
	case <-child.ctx.Done():
		if cancel != nil {
			cancel()
		}
		if errors.Is(child.ctx.Err(), context.DeadlineExceeded) {
			return zero, &OperationTimeoutError{ElapsedMs: opts.Timeout.Milliseconds()}
		}
		return zero, child.ctx.Err()
	default:
	}

	runner := func() (R, error) { return fn(child) }
	if opts.Key != "" {
		runner = func() (R, error) {
			return Journaled(child, opts.Key, func() (R, error) { return fn(child) })
		}
	}

	result, err := runWithPanicRecovery(child, runner)
	if cancel != nil {
		cancel()
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = &OperationTimeoutError{ElapsedMs: opts.Timeout.Milliseconds()}
	}
	return result, err
}

// --- Parallel combinators ---

// RunParallel runs every task concurrently. In fail-fast mode (the
// default) it returns as soon as the first task errors; in
// collect-errors mode it waits for all tasks and returns an
// AggregateError if any failed. Results preserve input order.
func RunParallel[T any](pe *ParallelExecutor, tasks ...func() (T, error)) ([]T, error) {
	es := make([]Eventual[T], len(tasks))
	for i, t := range tasks {
		t := t
		es[i] = Pending(t)
	}

	if pe.errorMode == ErrorModeCollectErrors {
		settled, _ := AllSettledEventual(es).Await()
		values, errs := settled.Partition()
		if len(errs) > 0 {
			return values, &AggregateError{Errors: errs}
		}
		return values, nil
	}

	return AllEventual(es).Await()
}

// RunParallelSettled runs every task concurrently and never fails: each
// outcome records whether it fulfilled or was rejected.
func RunParallelSettled[T any](pe *ParallelExecutor, tasks ...func() (T, error)) SettledResult[T] {
	es := make([]Eventual[T], len(tasks))
	for i, t := range tasks {
		t := t
		es[i] = Pending(t)
	}
	result, _ := AllSettledEventual(es).Await()
	return result
}
