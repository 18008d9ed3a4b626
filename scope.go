package pumped

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type scopeState int32

const (
	scopeActive scopeState = iota
	scopeDisposing
	scopeDisposed
)

// Scope manages the lifecycle and resolution of executors: cache,
// reactive propagation, extension pipeline, presets and disposal.
type Scope struct {
	mu              sync.RWMutex
	cache           sync.Map
	tags            sync.Map
	graph           *ReactiveGraph
	extensions      []Extension
	presets         map[AnyExecutor]preset
	cleanupRegistry map[AnyExecutor][]cleanupEntry
	cleanupMu       sync.RWMutex
	execTree        *ExecutionTree
	idCounter       atomic.Uint64

	state        atomic.Int32
	activeOps    atomic.Int64
	opsDrained   chan struct{}
	opsDrainedMu sync.Mutex

	accessorsMu sync.Mutex
	accessors   map[AnyExecutor]any

	updateMu sync.Mutex

	subsMu sync.Mutex
	subs   map[AnyExecutor][]*subscriber

	registeredMu sync.Mutex
	registered   map[AnyExecutor]struct{}

	pool *PoolManager
}

type subscriber struct {
	id int64
	fn func(any)
}

type preset struct {
	value    any
	executor AnyExecutor
	isValue  bool
}

// ScopeOption is a modifier for scopes
type ScopeOption func(*Scope)

// WithScopeTag returns an option that sets a tag on a scope
func WithScopeTag[T any](tag Tag[T], val T) ScopeOption {
	return func(s *Scope) {
		tag.SetOnScope(s, val)
	}
}

// WithExtension returns an option that registers an extension to a scope
func WithExtension(ext Extension) ScopeOption {
	return func(s *Scope) {
		if err := s.UseExtension(ext); err != nil {
			panic(err)
		}
	}
}

// WithPreset returns an option that sets a preset for an executor
func WithPreset[T any](original *Executor[T], replacement any) ScopeOption {
	return func(s *Scope) {
		switch r := replacement.(type) {
		case T:
			s.presets[original] = preset{
				value:   r,
				isValue: true,
			}
		case *Executor[T]:
			s.presets[original] = preset{
				executor: r,
				isValue:  false,
			}
		default:
			panic(fmt.Sprintf("preset must be value of type %T or *Executor[%T]", *new(T), *new(T)))
		}
	}
}

// NewScope creates a new scope with optional configuration
func NewScope(opts ...ScopeOption) *Scope {
	s := &Scope{
		graph:           NewReactiveGraph(),
		extensions:      []Extension{},
		presets:         make(map[AnyExecutor]preset),
		cleanupRegistry: make(map[AnyExecutor][]cleanupEntry),
		execTree:        newExecutionTree(1000),
		accessors:       make(map[AnyExecutor]any),
		subs:            make(map[AnyExecutor][]*subscriber),
		registered:      make(map[AnyExecutor]struct{}),
		pool:            NewPoolManager(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Scope) checkAlive() error {
	switch scopeState(s.state.Load()) {
	case scopeDisposing:
		return ErrScopeDisposing
	case scopeDisposed:
		return ErrScopeDisposed
	default:
		return nil
	}
}

func (s *Scope) beginOp() error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	s.activeOps.Add(1)
	// Re-check: a Dispose call racing this beginOp could have flipped
	// state after the checkAlive above but before the increment.
	if err := s.checkAlive(); err != nil {
		s.endOp()
		return err
	}
	return nil
}

func (s *Scope) endOp() {
	if s.activeOps.Add(-1) == 0 {
		s.opsDrainedMu.Lock()
		if ch := s.opsDrained; ch != nil {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
		s.opsDrainedMu.Unlock()
	}
}

func (s *Scope) markRegistered(exec AnyExecutor) {
	s.registeredMu.Lock()
	s.registered[exec] = struct{}{}
	s.registeredMu.Unlock()
}

// RegisteredExecutors returns every executor resolved at least once in
// this scope, in no particular order.
func (s *Scope) RegisteredExecutors() []AnyExecutor {
	s.registeredMu.Lock()
	defer s.registeredMu.Unlock()
	out := make([]AnyExecutor, 0, len(s.registered))
	for e := range s.registered {
		out = append(out, e)
	}
	return out
}

// Entries returns a snapshot of the current cache contents, keyed by
// executor identity.
func (s *Scope) Entries() map[AnyExecutor]any {
	out := make(map[AnyExecutor]any)
	s.cache.Range(func(k, v any) bool {
		out[k.(AnyExecutor)] = v
		return true
	})
	return out
}

// Accessor returns a stable *Controller[T] for exec: repeated calls for
// the same executor on the same scope return the identical instance.
func Accessor[T any](s *Scope, exec *Executor[T]) *Controller[T] {
	s.accessorsMu.Lock()
	defer s.accessorsMu.Unlock()
	if existing, ok := s.accessors[exec]; ok {
		return existing.(*Controller[T])
	}
	ctrl := &Controller[T]{executor: exec, scope: s}
	s.accessors[exec] = ctrl
	return ctrl
}

// Resolve resolves an executor's value (lazily, with caching).
func Resolve[T any](s *Scope, exec *Executor[T]) (T, error) {
	var zero T
	if err := s.checkAlive(); err != nil {
		return zero, err
	}
	if val, ok := s.cache.Load(exec); ok {
		return val.(T), nil
	}

	if err := s.beginOp(); err != nil {
		return zero, err
	}
	defer s.endOp()

	s.markRegistered(exec)

	for _, dep := range exec.deps {
		if dep.GetChannel() == ChannelReactive {
			s.graph.AddDependency(exec, dep.GetExecutor())
		}
	}

	s.mu.RLock()
	p, hasPreset := s.presets[exec]
	exts := make([]Extension, len(s.extensions))
	copy(exts, s.extensions)
	s.mu.RUnlock()

	if hasPreset {
		if p.isValue {
			s.cache.Store(exec, p.value)
			return p.value.(T), nil
		}
		val, err := p.executor.ResolveAny(s)
		if err != nil {
			return zero, err
		}
		s.cache.Store(exec, val)
		return val.(T), nil
	}

	for _, dep := range exec.deps {
		if dep.GetChannel() == ChannelLazy {
			continue
		}
		if _, err := dep.GetExecutor().ResolveAny(s); err != nil {
			return zero, err
		}
	}

	op := &Operation{Kind: OperationResolve, Executor: exec, Scope: s, Action: "get"}

	next := func() (any, error) {
		return exec.ResolveAny(s)
	}
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		currentNext := next
		next = func() (any, error) {
			return ext.Wrap(context.Background(), currentNext, op)
		}
	}

	result, err := next()
	if err != nil {
		for _, ext := range exts {
			ext.OnError(err, op, s)
		}
		return zero, err
	}

	s.cache.Store(exec, result)
	return result.(T), nil
}

// Update changes an executor's cached value and propagates to reactive
// dependents. Updating an executor not constructed with Provide fails
// with ErrNotUpdatable.
func Update[T any](s *Scope, exec *Executor[T], newVal T) error {
	if !exec.updatable() {
		return ErrNotUpdatable
	}
	if err := s.beginOp(); err != nil {
		return err
	}
	defer s.endOp()

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	s.mu.RLock()
	exts := make([]Extension, len(s.extensions))
	copy(exts, s.extensions)
	s.mu.RUnlock()

	op := &Operation{Kind: OperationResolve, Executor: exec, Scope: s, Action: "set"}

	next := func() (any, error) {
		s.applyUpdate(exec, newVal)
		return nil, nil
	}
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		currentNext := next
		next = func() (any, error) {
			return ext.Wrap(context.Background(), currentNext, op)
		}
	}

	_, err := next()
	if err != nil {
		for _, ext := range exts {
			ext.OnError(err, op, s)
		}
	}
	return err
}

// updateFunc computes the replacement value from the currently cached
// one (or exec's zero value if uncached) and stores it, serialized
// against concurrent updates of the same executor.
func (s *Scope) updateFunc(exec AnyExecutor, fn func(any) any) error {
	if !exec.updatable() {
		return ErrNotUpdatable
	}
	if err := s.beginOp(); err != nil {
		return err
	}
	defer s.endOp()

	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	cur, _ := s.cache.Load(exec)
	s.applyUpdate(exec, fn(cur))
	return nil
}

// applyUpdate invalidates reactive dependents (running their cleanups),
// runs the cleanups exec's own factory registered for the value being
// replaced, stores the new value, and notifies subscribers. Callers must
// hold s.updateMu.
func (s *Scope) applyUpdate(exec AnyExecutor, newVal any) {
	toInvalidate := s.graph.FindDependents(exec)

	for _, dependent := range toInvalidate {
		s.cleanupExecutor(dependent)
	}
	s.cleanupExecutor(exec)

	s.cache.Store(exec, newVal)

	for _, dependent := range toInvalidate {
		s.cache.Delete(dependent)
	}

	s.notifySubscribers(exec, newVal)
}

// onUpdateAny registers a callback invoked with the new value on every
// Update/UpdateFunc of exec, returning a Cleanup that unsubscribes.
func (s *Scope) onUpdateAny(exec AnyExecutor, fn func(any)) Cleanup {
	id := int64(s.idCounter.Add(1))
	sub := &subscriber{id: id, fn: fn}

	s.subsMu.Lock()
	s.subs[exec] = append(s.subs[exec], sub)
	s.subsMu.Unlock()

	return func() error {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		list := s.subs[exec]
		for i, existing := range list {
			if existing.id == id {
				s.subs[exec] = append(list[:i], list[i+1:]...)
				break
			}
		}
		return nil
	}
}

func (s *Scope) notifySubscribers(exec AnyExecutor, val any) {
	s.subsMu.Lock()
	list := make([]*subscriber, len(s.subs[exec]))
	copy(list, s.subs[exec])
	s.subsMu.Unlock()

	for _, sub := range list {
		sub.fn(val)
	}
}

type tagEnumerable interface {
	tagEntries() map[string]any
}

func (s *Scope) describeTags(exec AnyExecutor) map[string]any {
	if te, ok := exec.(tagEnumerable); ok {
		return te.tagEntries()
	}
	return map[string]any{}
}

// UseExtension registers an extension to the scope
func (s *Scope) UseExtension(ext Extension) error {
	s.mu.Lock()
	s.extensions = append(s.extensions, ext)
	sort.Slice(s.extensions, func(i, j int) bool {
		return s.extensions[i].Order() < s.extensions[j].Order()
	})
	s.mu.Unlock()

	return ext.Init(s)
}

// newResolveCtx/releaseResolveCtx route ResolveCtx allocation through
// the scope's pool manager, so a hot resolve path (cache miss on an
// already-registered executor) reuses a prior allocation instead of
// allocating a fresh cleanups slice every time.
func (s *Scope) newResolveCtx(exec AnyExecutor) *ResolveCtx {
	return s.pool.AcquireResolveCtx(s, exec)
}

func (s *Scope) releaseResolveCtx(ctx *ResolveCtx) {
	s.pool.ReleaseResolveCtx(ctx)
}

func (s *Scope) registerCleanups(exec AnyExecutor, entries []cleanupEntry) {
	if len(entries) == 0 {
		return
	}

	// Copy: entries may share a backing array with a pooled ResolveCtx
	// that gets its slice truncated (and later refilled) once released.
	cp := make([]cleanupEntry, len(entries))
	copy(cp, entries)

	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()
	s.cleanupRegistry[exec] = cp
}

func (s *Scope) cleanupExecutor(exec AnyExecutor) {
	s.cleanupMu.Lock()
	entries := s.cleanupRegistry[exec]
	delete(s.cleanupRegistry, exec)
	s.cleanupMu.Unlock()

	if len(entries) == 0 {
		return
	}

	s.runCleanups(entries, exec, "reactive")
}

// releaseAny evicts exec's own cached value, running its cleanups. It
// does not cascade to reactive dependents (use Update/UpdateFunc for
// that): a manual release is a statement that the value itself is
// stale, not that a dependency changed.
func (s *Scope) releaseAny(exec AnyExecutor) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	s.cache.Delete(exec)
	s.cleanupExecutor(exec)
	return nil
}

func (s *Scope) runCleanups(entries []cleanupEntry, exec AnyExecutor, cleanupContext string) {
	s.mu.RLock()
	exts := make([]Extension, len(s.extensions))
	copy(exts, s.extensions)
	s.mu.RUnlock()

	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]

		if err := entry.fn(); err != nil {
			cleanupErr := &CleanupError{
				ExecutorID: exec,
				Err:        err,
				Context:    cleanupContext,
			}

			handled := false
			for _, ext := range exts {
				if ext.OnCleanupError(cleanupErr) {
					handled = true
					break
				}
			}
			if !handled {
				// No extension claimed the error; it is dropped, matching
				// the scope's general policy that cleanup failures never
				// abort a release or dispose.
			}
		}
	}
}

// DisposeOption configures Dispose.
type DisposeOption func(*disposeConfig)

type disposeConfig struct {
	gracePeriod time.Duration
}

// WithGracePeriod sets how long Dispose waits for in-flight
// Resolve/Update/Exec calls to finish before forcing teardown. Zero is
// valid and forces teardown immediately.
func WithGracePeriod(d time.Duration) DisposeOption {
	return func(c *disposeConfig) { c.gracePeriod = d }
}

// Dispose transitions the scope through disposing -> disposed: it stops
// accepting new resolutions/updates/executions, waits up to the grace
// period for in-flight ones to finish, then runs every extension's
// Dispose hook (in the scope's extension order, ascending Order())
// followed by every registered
// cleanup, LIFO.
func (s *Scope) Dispose(ctx context.Context, opts ...DisposeOption) error {
	cfg := &disposeConfig{gracePeriod: 5 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	if !s.state.CompareAndSwap(int32(scopeActive), int32(scopeDisposing)) {
		if scopeState(s.state.Load()) == scopeDisposed {
			return nil
		}
		return ErrScopeDisposing
	}

	var graceErr error
	if s.activeOps.Load() > 0 {
		drained := make(chan struct{}, 1)
		s.opsDrainedMu.Lock()
		s.opsDrained = drained
		s.opsDrainedMu.Unlock()

		deadline := time.Now().Add(cfg.gracePeriod)
		for s.activeOps.Load() > 0 {
			remaining := time.Until(deadline)
			if cfg.gracePeriod > 0 && remaining <= 0 {
				graceErr = &GracePeriodExceededError{ElapsedMs: cfg.gracePeriod.Milliseconds()}
				break
			}
			if cfg.gracePeriod == 0 {
				break
			}
			select {
			case <-drained:
			case <-time.After(remaining):
			case <-ctx.Done():
				graceErr = ctx.Err()
			}
			if graceErr != nil {
				break
			}
		}

		s.opsDrainedMu.Lock()
		s.opsDrained = nil
		s.opsDrainedMu.Unlock()
	}

	s.state.Store(int32(scopeDisposed))

	s.mu.RLock()
	exts := make([]Extension, len(s.extensions))
	copy(exts, s.extensions)
	s.mu.RUnlock()

	for _, ext := range exts {
		if err := ext.Dispose(s); err != nil {
			return fmt.Errorf("disposing extension %s: %w", ext.Name(), err)
		}
	}

	s.cleanupMu.Lock()
	allEntries := make([]struct {
		exec    AnyExecutor
		entries []cleanupEntry
	}, 0, len(s.cleanupRegistry))
	for exec, entries := range s.cleanupRegistry {
		allEntries = append(allEntries, struct {
			exec    AnyExecutor
			entries []cleanupEntry
		}{exec, entries})
	}
	s.cleanupRegistry = make(map[AnyExecutor][]cleanupEntry)
	s.cleanupMu.Unlock()

	for i := len(allEntries) - 1; i >= 0; i-- {
		s.runCleanups(allEntries[i].entries, allEntries[i].exec, "dispose")
	}

	return graceErr
}

// GetTag retrieves a tag value from the scope
func (s *Scope) GetTag(tag any) (any, bool) {
	return s.tags.Load(tag)
}

// SetTag stores a tag value on the scope
func (s *Scope) SetTag(tag any, val any) {
	s.tags.Store(tag, val)
}

// GetExecutionTree returns the execution tree for querying
func (s *Scope) GetExecutionTree() *ExecutionTree {
	return s.execTree
}

func (s *Scope) generateExecutionID() string {
	return fmt.Sprintf("exec-%d", s.idCounter.Add(1))
}

// DependencyGraphReport describes the reactive dependency graph for
// diagnostic rendering (see extensions.GraphDebugExtension).
type DependencyGraphReport struct {
	Downstream map[AnyExecutor][]AnyExecutor
	Upstream   map[AnyExecutor][]AnyExecutor
}

// ExportDependencyGraph snapshots the scope's reactive dependency graph.
func (s *Scope) ExportDependencyGraph() DependencyGraphReport {
	s.graph.mu.RLock()
	defer s.graph.mu.RUnlock()

	report := DependencyGraphReport{
		Downstream: make(map[AnyExecutor][]AnyExecutor, len(s.graph.downstream)),
		Upstream:   make(map[AnyExecutor][]AnyExecutor, len(s.graph.upstream)),
	}
	for k, v := range s.graph.downstream {
		cp := make([]AnyExecutor, len(v))
		copy(cp, v)
		report.Downstream[k] = cp
	}
	for k, v := range s.graph.upstream {
		cp := make([]AnyExecutor, len(v))
		copy(cp, v)
		report.Upstream[k] = cp
	}
	return report
}

// CreateExecution builds a root ExecutionCtx bound to ctx without
// running any flow, for callers that drive ctx.Exec/ctx.ExecFn
// themselves rather than going through the top-level Exec helper.
func (s *Scope) CreateExecution(ctx context.Context) *ExecutionCtx {
	e := &ExecutionCtx{
		id:      s.generateExecutionID(),
		scope:   s,
		data:    make(map[any]any),
		ctx:     ctx,
		depth:   0,
		journal: newExecJournal(),
	}
	e.Set(depthTag, 0)
	return e
}

func Exec[R any](s *Scope, ctx context.Context, flow *Flow[R], opts ...ExecuteOption) (R, *ExecutionCtx, error) {
	var zero R

	cfg := &executeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := s.beginOp(); err != nil {
		execCtx := s.CreateExecution(ctx)
		execCtx.Set(endTimeTag, time.Now())
		execCtx.Set(statusTag, ExecutionStatusFailed)
		execCtx.Set(errorTag, err)
		return zero, execCtx, err
	}
	defer s.endOp()

	select {
	case <-ctx.Done():
		execCtx := s.CreateExecution(ctx)
		execCtx.Set(endTimeTag, time.Now())
		execCtx.Set(statusTag, ExecutionStatusCancelled)
		execCtx.Set(errorTag, ctx.Err())
		return zero, execCtx, ctx.Err()
	default:
	}

	for _, dep := range flow.deps {
		if dep.GetChannel() == ChannelLazy {
			continue
		}
		select {
		case <-ctx.Done():
			execCtx := s.CreateExecution(ctx)
			execCtx.Set(endTimeTag, time.Now())
			execCtx.Set(statusTag, ExecutionStatusCancelled)
			execCtx.Set(errorTag, ctx.Err())
			return zero, execCtx, ctx.Err()
		default:
		}
		if _, err := dep.GetExecutor().ResolveAny(s); err != nil {
			return zero, nil, fmt.Errorf("resolving dependency: %w", err)
		}
	}

	execCtx := s.CreateExecution(ctx)
	execCtx.Set(depthTag, 0)
	execCtx.Set(inputTag, cfg.input)

	if name, ok := flow.GetTag(flowNameTag); ok {
		execCtx.Set(flowNameTag, name)
	}

	execCtx.Set(startTimeTag, time.Now())
	execCtx.Set(statusTag, ExecutionStatusRunning)

	s.mu.RLock()
	exts := make([]Extension, len(s.extensions))
	copy(exts, s.extensions)
	s.mu.RUnlock()

	for _, ext := range exts {
		if err := ext.OnFlowStart(execCtx, flow); err != nil {
			execCtx.Set(statusTag, ExecutionStatusFailed)
			execCtx.Set(errorTag, err)
			return zero, execCtx, err
		}
	}

	select {
	case <-ctx.Done():
		execCtx.Set(endTimeTag, time.Now())
		execCtx.Set(statusTag, ExecutionStatusCancelled)
		execCtx.Set(errorTag, ctx.Err())
		return zero, execCtx, ctx.Err()
	default:
	}

	execOp := &Operation{Kind: OperationExecution, Execution: ExecutionFlow, ExecCtx: execCtx, Scope: s}
	var result R
	var err error
	next := func() (any, error) {
		return executeFlow(execCtx, flow)
	}
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		currentNext := next
		next = func() (any, error) {
			return ext.Wrap(context.Background(), currentNext, execOp)
		}
	}
	raw, wrapErr := next()
	if wrapErr != nil {
		err = wrapErr
	} else if raw != nil {
		result = raw.(R)
	}

	execCtx.Set(endTimeTag, time.Now())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			execCtx.Set(statusTag, ExecutionStatusCancelled)
		} else {
			execCtx.Set(statusTag, ExecutionStatusFailed)
		}
		execCtx.Set(errorTag, err)
	} else {
		execCtx.Set(statusTag, ExecutionStatusSuccess)
		execCtx.Set(outputTag, result)
	}

	for i := len(exts) - 1; i >= 0; i-- {
		if extErr := exts[i].OnFlowEnd(execCtx, result, err); extErr != nil && err == nil {
			err = extErr
		}
	}

	node := execCtx.finalize()
	s.execTree.addNode(node)

	return result, execCtx, err
}
