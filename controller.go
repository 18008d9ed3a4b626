package pumped

// Controller provides lifecycle control for an executor's value. The
// scope hands out the same *Controller[T] instance for repeated
// Accessor(scope, exec) calls on the same executor, so callers may
// compare controllers by identity.
type Controller[T any] struct {
	executor *Executor[T]
	scope    *Scope
}

// Get retrieves the latest value (resolves if not cached).
func (c *Controller[T]) Get() (T, error) {
	return Resolve(c.scope, c.executor)
}

// Peek retrieves the cached value without resolving.
func (c *Controller[T]) Peek() (T, bool) {
	val, ok := c.scope.cache.Load(c.executor)
	if !ok {
		var zero T
		return zero, false
	}
	return val.(T), true
}

// Update sets a new value and propagates to reactive dependents.
func (c *Controller[T]) Update(newVal T) error {
	return Update(c.scope, c.executor, newVal)
}

// UpdateFunc computes the new value from the latest committed one;
// concurrent UpdateFunc calls on the same scope are serialized so none
// see a stale read.
func (c *Controller[T]) UpdateFunc(fn func(T) T) error {
	return c.scope.updateFunc(c.executor, func(cur any) any {
		var curT T
		if cur != nil {
			curT = cur.(T)
		}
		return fn(curT)
	})
}

// Set is an alias for Update.
func (c *Controller[T]) Set(newVal T) error { return c.Update(newVal) }

// Release invalidates the cached value, running its cleanups.
func (c *Controller[T]) Release() error {
	return c.scope.releaseAny(c.executor)
}

// Reload invalidates and immediately re-resolves.
func (c *Controller[T]) Reload() (T, error) {
	if err := c.Release(); err != nil {
		var zero T
		return zero, err
	}
	return c.Get()
}

// IsCached checks if the value is currently cached.
func (c *Controller[T]) IsCached() bool {
	_, ok := c.scope.cache.Load(c.executor)
	return ok
}

// Subscribe registers a callback invoked (with the new value) whenever
// this executor's value is set via Update, Set or UpdateFunc; Release
// and Reload do not notify subscribers. The returned Cleanup removes the
// subscription.
func (c *Controller[T]) Subscribe(callback func(T)) Cleanup {
	return c.scope.onUpdateAny(c.executor, func(v any) { callback(v.(T)) })
}

// Metadata returns the tags attached to the underlying executor.
func (c *Controller[T]) Metadata() map[string]any {
	return c.scope.describeTags(c.executor)
}
