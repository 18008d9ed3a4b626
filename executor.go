package pumped

import "sync"

// Channel is a view onto an executor, affecting how a consumer observes
// updates to it. Only Reactive dependents are invalidated by an Update:
// their cached value is evicted (running their cleanups) and recomputed
// on their next resolve. Main (default), Lazy and Static dependents keep
// their cached value across an update of the executor. Lazy is, in
// addition, not resolved ahead of the consuming factory.
type Channel string

const (
	ChannelMain     Channel = "main"
	ChannelReactive Channel = "reactive"
	ChannelLazy     Channel = "lazy"
	ChannelStatic   Channel = "static"
)

// AnyExecutor is the type-erased interface every *Executor[T] satisfies,
// used for dependency-graph bookkeeping that cannot be generic (cache
// keys, reverse-dependency sets, tag stores).
type AnyExecutor interface {
	ResolveAny(s *Scope) (any, error)
	GetDeps() []Dependency
	GetTag(tag any) (any, bool)
	SetTag(tag any, val any)
	updatable() bool
}

// Executor is an immutable description of a producer: a factory closure
// plus its dependency spec and attached tags. A factory is referentially
// transparent given identical resolved dependencies and runs at most once
// per scope until explicit release or reload.
type Executor[T any] struct {
	factory  func(*ResolveCtx) (T, error)
	deps     []Dependency
	settable bool

	mu   sync.RWMutex
	tags map[*tagKey]any

	selMu     sync.Mutex
	selectors map[selectorKey]AnyExecutor
}

func (e *Executor[T]) GetDeps() []Dependency { return e.deps }

func (e *Executor[T]) GetTag(tag any) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	val, ok := e.tags[tag.(*tagKey)]
	return val, ok
}

func (e *Executor[T]) SetTag(tag any, val any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tags[tag.(*tagKey)] = val
}

func (e *Executor[T]) updatable() bool { return e.settable }

// tagEntries enumerates this executor's tags by label, backing
// Controller.Metadata and debug extensions.
func (e *Executor[T]) tagEntries() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.tags))
	for k, v := range e.tags {
		out[k.label] = v
	}
	return out
}

func (e *Executor[T]) ResolveAny(s *Scope) (any, error) {
	ctx := s.newResolveCtx(e)
	defer s.releaseResolveCtx(ctx)
	val, err := e.factory(ctx)
	if err != nil {
		return nil, err
	}
	s.registerCleanups(e, ctx.cleanups)
	return val, nil
}

// GetExecutor / GetMode implement Dependency for a bare *Executor[T]
// used directly (default channel: Main).
func (e *Executor[T]) GetExecutor() AnyExecutor { return e }
func (e *Executor[T]) GetChannel() Channel      { return ChannelMain }

// Reactive returns a dependency view that re-runs the consuming factory
// whenever this executor's value is updated.
func (e *Executor[T]) Reactive() Dependency { return &dependencyView{executor: e, channel: ChannelReactive} }

// Lazy returns a dependency view that is not resolved ahead of the
// consuming factory; only an accessor is made available.
func (e *Executor[T]) Lazy() Dependency { return &dependencyView{executor: e, channel: ChannelLazy} }

// Static returns a dependency view whose consumer receives a handle, not
// a value, and is never re-run on update.
func (e *Executor[T]) Static() Dependency { return &dependencyView{executor: e, channel: ChannelStatic} }

// DependencyMode is retained for the teacher's original naming; Channel
// is the generalized spec term used throughout new code.
type DependencyMode = Channel

const (
	ModeStatic   = ChannelMain
	ModeReactive = ChannelReactive
	ModeLazy     = ChannelLazy
)

// Dependency represents an executor with its resolution channel.
type Dependency interface {
	GetExecutor() AnyExecutor
	GetChannel() Channel
	// GetMode is kept for source compatibility with the teacher's API.
	GetMode() DependencyMode
}

type dependencyView struct {
	executor AnyExecutor
	channel  Channel
}

func (d *dependencyView) GetExecutor() AnyExecutor { return d.executor }
func (d *dependencyView) GetChannel() Channel      { return d.channel }
func (d *dependencyView) GetMode() DependencyMode  { return d.channel }

func (e *Executor[T]) GetMode() DependencyMode { return ChannelMain }

// ExecutorOption is a modifier applied when an executor is constructed.
type ExecutorOption func(AnyExecutor)

// WithTag returns an option that attaches a tag to an executor.
func WithTag[T any](tag Tag[T], val T) ExecutorOption {
	return func(exec AnyExecutor) { tag.Set(exec, val) }
}

// Provide creates an executor with no dependencies.
func Provide[T any](factory func(*ResolveCtx) (T, error), opts ...ExecutorOption) *Executor[T] {
	exec := &Executor[T]{
		factory:  factory,
		settable: true,
		tags:     make(map[*tagKey]any),
	}
	for _, opt := range opts {
		opt(exec)
	}
	return exec
}

// selectorKey memoizes Select so repeat calls on the same parent
// executor with the same tagName return the identical child executor.
type selectorKey struct {
	equals any
	fn     uintptrKey
}

type uintptrKey = string

// Select derives a child executor whose value is keyFn(parent value).
// The child depends on parent through the Reactive channel, so an Update
// of parent evicts it and it recomputes on its next resolve; when the
// recomputed slice is equals-equal to the previous one, the previous
// slice is returned. The child's own reactive dependents are invalidated
// by a parent Update whether or not the slice changed. Repeated calls on
// the same parent with the same tagName return the same executor; keyFn
// and equals of later calls are not used.
func Select[T, K any](parent *Executor[T], keyFn func(T) K, equals func(K, K) bool, tagName string) *Executor[K] {
	if equals == nil {
		equals = func(a, b K) bool { return any(a) == any(b) }
	}
	parent.selMu.Lock()
	defer parent.selMu.Unlock()
	if parent.selectors == nil {
		parent.selectors = make(map[selectorKey]AnyExecutor)
	}
	sk := selectorKey{fn: tagName}
	if existing, ok := parent.selectors[sk]; ok {
		return existing.(*Executor[K])
	}

	var last *K
	child := Derive1(parent.Reactive(), func(ctx *ResolveCtx, ctrl *Controller[T]) (K, error) {
		v, err := ctrl.Get()
		if err != nil {
			var zero K
			return zero, err
		}
		sel := keyFn(v)
		if last != nil && equals(*last, sel) {
			return *last, nil
		}
		last = &sel
		return sel, nil
	})
	parent.selectors[sk] = child
	return child
}
