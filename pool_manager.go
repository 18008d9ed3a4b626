package pumped

import (
	"sync"
)

// PoolManager reuses ResolveCtx allocations across resolutions. A
// ResolveCtx never escapes the call that creates it (Executor.ResolveAny
// acquires one, runs the factory, and releases it before returning), so
// it is the one allocation in the hot resolve path safe to pool without
// a caller-visible "done with this" handshake.
type PoolManager struct {
	resolveCtxPool sync.Pool
	metrics        PoolMetrics
}

// PoolMetrics tracks pool usage statistics for the resolve context pool.
type PoolMetrics struct {
	mu     sync.RWMutex
	hits   uint64
	misses uint64
}

// NewPoolManager creates a new pool manager with an initialized
// ResolveCtx pool.
func NewPoolManager() *PoolManager {
	return &PoolManager{
		resolveCtxPool: sync.Pool{
			New: func() any {
				return &ResolveCtx{
					cleanups: make([]cleanupEntry, 0, 8),
				}
			},
		},
	}
}

// AcquireResolveCtx gets a ResolveCtx from the pool or creates a new one.
func (pm *PoolManager) AcquireResolveCtx(scope *Scope, executorID AnyExecutor) *ResolveCtx {
	ctx, ok := pm.resolveCtxPool.Get().(*ResolveCtx)
	if ok {
		ctx.scope = scope
		ctx.executorID = executorID
		ctx.cleanups = ctx.cleanups[:0]

		pm.metrics.mu.Lock()
		pm.metrics.hits++
		pm.metrics.mu.Unlock()
	} else {
		ctx = &ResolveCtx{
			scope:      scope,
			executorID: executorID,
			cleanups:   make([]cleanupEntry, 0, 8),
		}

		pm.metrics.mu.Lock()
		pm.metrics.misses++
		pm.metrics.mu.Unlock()
	}

	return ctx
}

// ReleaseResolveCtx returns a ResolveCtx to the pool. Callers must not
// retain the pointer afterward: Executor.ResolveAny already copies
// everything it needs (the resolved value, the recorded cleanups) before
// releasing.
func (pm *PoolManager) ReleaseResolveCtx(ctx *ResolveCtx) {
	if ctx == nil {
		return
	}

	ctx.scope = nil
	ctx.executorID = nil
	ctx.cleanups = ctx.cleanups[:0]

	pm.resolveCtxPool.Put(ctx)
}

// GetMetrics returns a copy of the current pool metrics.
func (pm *PoolManager) GetMetrics() PoolMetrics {
	pm.metrics.mu.RLock()
	defer pm.metrics.mu.RUnlock()

	return PoolMetrics{
		hits:   pm.metrics.hits,
		misses: pm.metrics.misses,
	}
}

// ResetMetrics resets the pool metrics to zero.
func (pm *PoolManager) ResetMetrics() {
	pm.metrics.mu.Lock()
	defer pm.metrics.mu.Unlock()

	pm.metrics.hits = 0
	pm.metrics.misses = 0
}
