package pumped

// cleanupEntry is a single registered cleanup, tracked in push order so
// the scope can run cleanups for an entry LIFO at release/dispose time.
type cleanupEntry struct {
	fn Cleanup
}

// Cleanup is a function a factory registers to release a resource.
type Cleanup func() error

// ResolveCtx provides context for factory functions: the resolving
// scope, tag lookups, and cleanup/lifecycle controls.
type ResolveCtx struct {
	scope      *Scope
	executorID AnyExecutor
	cleanups   []cleanupEntry
}

// GetTag retrieves a tag value from the scope.
func (ctx *ResolveCtx) GetTag(tag any) (any, bool) {
	return ctx.scope.GetTag(tag)
}

// Scope returns the resolving scope.
func (ctx *ResolveCtx) Scope() *Scope { return ctx.scope }

// OnCleanup registers fn to run (LIFO, alongside any other cleanups
// registered by this factory) when the executor's cached value is
// replaced by an Update, invalidated through a reactive update,
// released, or the scope is disposed.
func (ctx *ResolveCtx) OnCleanup(fn Cleanup) {
	ctx.cleanups = append(ctx.cleanups, cleanupEntry{fn: fn})
}

// Release evicts this executor's own cached value, running its
// cleanups. Useful for a factory that wants to self-invalidate based on
// data only it observes.
func (ctx *ResolveCtx) Release() error {
	return ctx.scope.releaseAny(ctx.executorID)
}

// Reload releases then immediately re-resolves this executor.
func (ctx *ResolveCtx) Reload() (any, error) {
	if err := ctx.Release(); err != nil {
		return nil, err
	}
	return ctx.executorID.ResolveAny(ctx.scope)
}

// GetTag retrieves a typed tag value from the scope.
func GetTag[T any](ctx *ResolveCtx, tag Tag[T]) (T, bool) {
	return tag.GetFromScope(ctx.scope)
}

// GetTagOrDefault retrieves a typed tag or returns a default value.
func GetTagOrDefault[T any](ctx *ResolveCtx, tag Tag[T], defaultVal T) T {
	if val, ok := tag.GetFromScope(ctx.scope); ok {
		return val
	}
	return defaultVal
}
