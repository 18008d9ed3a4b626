// Package pumped provides a graph-based dependency injection and reactive execution framework for Go.
//
// # Overview
//
// Pumped organizes code around three core concepts:
//
//  1. Executors: Units of computation with explicit dependencies
//  2. Scopes: Lifecycle managers that resolve and cache executor values
//  3. Flows: Short-span executable operations with hierarchical execution contexts
//
// # Basic Usage
//
// Create executors to define your application graph:
//
//	scope := pumped.NewScope()
//
//	config := pumped.Provide(func(ctx *pumped.ResolveCtx) (*Config, error) {
//	    return &Config{Port: 8080}, nil
//	})
//
//	server := pumped.Derive1(
//	    config,
//	    func(ctx *pumped.ResolveCtx, cfg *pumped.Controller[*Config]) (*Server, error) {
//	        c, _ := cfg.Get()
//	        return NewServer(c.Port), nil
//	    },
//	)
//
// Access values through controllers:
//
//	serverCtrl := pumped.Accessor(scope, server)
//	srv, err := serverCtrl.Get()
//
// # Dependency Modes
//
// Dependencies can be resolved in different modes:
//
//	// Static: resolve once, cache forever (default)
//	service := pumped.Derive1(
//	    config,  // implicitly static
//	    func(ctx *pumped.ResolveCtx, cfg *pumped.Controller[*Config]) (*Service, error) {
//	        // Only called once
//	    },
//	)
//
//	// Reactive: invalidate and re-resolve when dependency changes
//	counter := pumped.Provide(func(ctx *pumped.ResolveCtx) (int, error) {
//	    return 0, nil
//	})
//
//	doubled := pumped.Derive1(
//	    counter.Reactive(),  // explicitly reactive
//	    func(ctx *pumped.ResolveCtx, c *pumped.Controller[int]) (int, error) {
//	        val, _ := c.Get()
//	        return val * 2, nil
//	    },
//	)
//
//	counterCtrl := pumped.Accessor(scope, counter)
//	counterCtrl.Update(5)  // triggers re-resolution of doubled
//
//	// Lazy: defer resolution until explicitly requested
//	logger := pumped.Derive1(
//	    config.Lazy(),  // won't resolve unless explicitly used
//	    func(ctx *pumped.ResolveCtx, cfg *pumped.Controller[*Config]) (*Logger, error) {
//	        // Only called when logger is explicitly accessed
//	    },
//	)
//
// # Controllers
//
// Controllers provide lifecycle operations for executor values:
//
//	ctrl := pumped.Accessor(scope, executor)
//
//	// Get resolves and caches the value
//	val, err := ctrl.Get()
//
//	// Peek returns cached value without resolving
//	val, ok := ctrl.Peek()
//
//	// Update sets new value and propagates to reactive dependents
//	ctrl.Update(newVal)
//
//	// Release invalidates the cached value
//	ctrl.Release()
//
//	// Reload invalidates and immediately re-resolves
//	val, err = ctrl.Reload()
//
//	// IsCached checks if value is currently cached
//	if ctrl.IsCached() { ... }
//
//	// Subscribe registers a callback for every future Update/UpdateFunc
//	cleanup := ctrl.Subscribe(func(val int) { ... })
//	defer cleanup()
//
//	// Metadata exposes the tags attached to the underlying executor
//	meta := ctrl.Metadata()
//
// Accessor(scope, executor) always returns the same *Controller for a
// given (scope, executor) pair, so Subscribe callbacks registered
// through separate Accessor calls all see the same subscription list.
//
// Update and UpdateFunc only work on executors created with Provide;
// calling them on a Derive* executor returns ErrNotUpdatable, since a
// derived value is recomputed from its dependencies rather than set
// directly.
//
// # Flows
//
// Flows represent short-span operations with execution contexts:
//
//	db := pumped.Provide(func(ctx *pumped.ResolveCtx) (*DB, error) {
//	    return OpenDB(), nil
//	})
//
//	fetchUser := pumped.Flow1(db,
//	    func(execCtx *pumped.ExecutionCtx, dbCtrl *pumped.Controller[*DB]) (*User, error) {
//	        database, _ := dbCtrl.Get()
//	        return database.Query("SELECT * FROM users WHERE id = ?", 123)
//	    },
//	    pumped.WithFlowTag(pumped.FlowName(), "fetchUser"),
//	)
//
//	result, execNode, err := pumped.Exec(scope, context.Background(), fetchUser)
//
// Sub-flows create hierarchical execution trees:
//
//	parentFlow := pumped.Flow1(db,
//	    func(execCtx *pumped.ExecutionCtx, dbCtrl *pumped.Controller[*DB]) (string, error) {
//	        user, userCtx, err := pumped.Exec1(execCtx, fetchUserFlow)
//	        if err != nil {
//	            return "", err
//	        }
//
//	        orders, _, err := pumped.Exec1(userCtx, fetchOrdersFlow)
//	        return fmt.Sprintf("%s has %d orders", user.Name, len(orders)), nil
//	    },
//	)
//
// # Execution Context
//
// ExecutionCtx provides data isolation and hierarchical lookups:
//
//	// Set data in current context
//	execCtx.Set(pumped.Input(), "user-123")
//
//	// Get from current context only
//	val, ok := execCtx.Get(someTag)
//
//	// Get from parent contexts (walk upward)
//	val, ok := execCtx.GetFromParent(someTag)
//
//	// Get from scope
//	val, ok := execCtx.GetFromScope(someTag)
//
//	// Lookup: try self, then parents, then scope
//	val, ok := execCtx.Lookup(someTag)
//
// # Tags
//
// Tags provide type-safe metadata for executors, scopes, and flows:
//
//	versionTag := pumped.NewTag[string]("version")
//	dbPoolTag := pumped.NewTag[int]("db.pool_size")
//
//	// Tag executors
//	exec := pumped.Provide(
//	    func(ctx *pumped.ResolveCtx) (int, error) { return 42, nil },
//	    pumped.WithTag(versionTag, "1.0.0"),
//	)
//
//	// Tag scopes
//	scope := pumped.NewScope(
//	    pumped.WithScopeTag(dbPoolTag, 10),
//	)
//
//	// Tag flows
//	flow := pumped.Flow0(
//	    func(execCtx *pumped.ExecutionCtx, resolveCtx *pumped.ResolveCtx) (int, error) {
//	        return 42, nil
//	    },
//	    pumped.WithFlowTag(pumped.FlowName(), "myFlow"),
//	)
//
//	// Retrieve tags
//	version, ok := versionTag.Get(exec)
//	poolSize, ok := dbPoolTag.GetFromScope(scope)
//
// # Extensions
//
// Extensions provide cross-cutting concerns through lifecycle hooks:
//
//	type LoggingExtension struct {
//	    pumped.BaseExtension
//	}
//
//	func (e *LoggingExtension) Wrap(ctx context.Context, next func() (any, error), op *pumped.Operation) (any, error) {
//	    log.Printf("Starting %s %s", op.Kind, op.Action)
//	    result, err := next()
//	    log.Printf("Finished %s %s", op.Kind, op.Action)
//	    return result, err
//	}
//
// Wrap sees two kinds of operation: OperationResolve (a Resolve/Get or
// an Update on an executor, with op.Action reporting "get" or "set") and
// OperationExecution with op.Execution == ExecutionFlow (a top-level
// Exec). UpdateFunc, sub-flows run with Exec1, ExecFn, RunParallel,
// RunParallelSettled and Close are not passed through Wrap, so
// ExecutionFn, ExecutionParallel and OperationContextLifecycle are
// declared but never reported.
//
//	func (e *LoggingExtension) OnFlowStart(execCtx *pumped.ExecutionCtx, flow pumped.AnyFlow) error {
//	    name, _ := execCtx.Get(pumped.FlowName())
//	    log.Printf("Flow started: %v", name)
//	    return nil
//	}
//
//	scope := pumped.NewScope(
//	    pumped.WithExtension(&LoggingExtension{
//	        BaseExtension: pumped.NewBaseExtension("logging"),
//	    }),
//	)
//
// # Resource Cleanup
//
// Register cleanup functions for automatic resource management:
//
//	db := pumped.Provide(func(ctx *pumped.ResolveCtx) (*DB, error) {
//	    database := OpenDB()
//	    ctx.OnCleanup(func() error {
//	        return database.Close()
//	    })
//	    return database, nil
//	})
//
// Cleanup functions are called when:
//   - The executor's value is replaced by an Update
//   - Reactive dependents are invalidated (OnUpdate)
//   - The executor's own value is released (ctrl.Release(), ctx.Release())
//   - Scope is disposed (scope.Dispose(ctx))
//
// # Disposal
//
// Dispose is two-phase: the scope stops accepting new resolutions and
// updates immediately, waits up to a grace period for work already in
// flight to finish, then runs every extension's Dispose hook followed
// by every registered cleanup, LIFO.
//
//	err := scope.Dispose(context.Background(), pumped.WithGracePeriod(2*time.Second))
//
// A zero grace period forces teardown without waiting.
//
// # Testing with Presets
//
// Replace executors with test doubles:
//
//	realDB := pumped.Provide(func(ctx *pumped.ResolveCtx) (*DB, error) {
//	    return ConnectToDB(), nil
//	})
//
//	mockDB := &DB{mock: true}
//
//	testScope := pumped.NewScope(
//	    pumped.WithPreset(realDB, mockDB),  // value preset
//	)
//
//	// Or replace with another executor
//	mockDBExecutor := pumped.Provide(func(ctx *pumped.ResolveCtx) (*DB, error) {
//	    return &DB{mock: true}, nil
//	})
//
//	testScope := pumped.NewScope(
//	    pumped.WithPreset(realDB, mockDBExecutor),  // executor preset
//	)
//
// # Execution Tree
//
// Query execution history and build observability:
//
//	tree := scope.GetExecutionTree()
//
//	// Get all root executions
//	roots := tree.GetRoots()
//
//	// Walk execution tree
//	tree.Walk(rootID, func(node *pumped.ExecutionNode) bool {
//	    name, _ := node.GetTag(pumped.FlowName())
//	    status, _ := node.GetTag(pumped.Status())
//	    fmt.Printf("Flow: %s, Status: %v\n", name, status)
//	    return true  // continue walking
//	})
//
//	// Filter executions
//	failed := tree.Filter(func(node *pumped.ExecutionNode) bool {
//	    status, ok := node.GetTag(pumped.Status())
//	    return ok && status == pumped.ExecutionStatusFailed
//	})
//
// # Dependency Graph
//
// ExportDependencyGraph reports every resolved executor's downstream
// reactive dependents, keyed by the same identity RegisteredExecutors
// and Entries expose for introspection tooling:
//
//	report := scope.ExportDependencyGraph()
//	for exec, dependents := range report.Downstream {
//	    fmt.Printf("%v has %d dependents\n", exec, len(dependents))
//	}
//
// # Parallel Execution
//
// ctx.Parallel configures a ParallelExecutor with a fail-fast or
// collect-errors error mode; RunParallel and RunParallelSettled fan
// plain functions out across it, preserving input order in the result:
//
//	pe := execCtx.Parallel(pumped.WithCollectErrors())
//	results, err := pumped.RunParallel(pe,
//	    func() (string, error) { return fetchA() },
//	    func() (string, error) { return fetchB() },
//	)
//
// RunParallelSettled never fails outright: it reports each task's
// outcome, plus fluent inspection helpers mirroring an all-settled
// promise — Fulfilled/Rejected/FirstFulfilled/FindFulfilled/
// MapFulfilled/AssertAllFulfilled and a Stats{Total,Succeeded,Failed}
// summary:
//
//	settled := pumped.RunParallelSettled(pe, tasks...)
//	stats := settled.Stats()
//	log.Printf("%d/%d succeeded", stats.Succeeded, stats.Total)
//	values, err := settled.AssertAllFulfilled()
//
// # Journaling and Replay
//
// Journaled memoizes the result of a keyed block of work against the
// root execution context, so the same key returns the same result
// even if the surrounding flow is retried or partially re-entered:
//
//	user, err := pumped.Journaled(execCtx, "fetch-user", func() (*User, error) {
//	    return db.FetchUser(id)
//	})
//
// ResetJournal clears recorded entries, either entirely or by key
// substring, which is useful for tests that re-run the same flow tree
// and expect factories to be called again.
//
// ExecFn generalizes Exec1 for callers that want a child
// execution context without a Flow value -- a timeout, a journal key,
// and seed tags are all optional:
//
//	val, err := pumped.ExecFn(execCtx, pumped.ExecOptions{
//	    Timeout: 2 * time.Second,
//	    Key:     "inner-step",
//	}, func(child *pumped.ExecutionCtx) (int, error) {
//	    return compute(child)
//	})
//
// # Closing Execution Contexts
//
// An ExecutionCtx can be closed independently of the scope it was
// created from. Closing cascades to every child context created
// through Exec1/ExecFn, and aggregates their errors:
//
//	err := execCtx.Close(pumped.WithCloseMode(pumped.CloseGraceful))
//	if execCtx.IsClosed() { ... }
//
// CloseGraceful is the default. CloseAbort additionally cancels the
// context.Context of contexts that ExecFn created with a Timeout; other
// contexts are not cancelled. Neither mode waits for work still running
// in the closed contexts.
//
// # Best Practices
//
//  1. Use executors for long-lived resources (DB connections, configs, services)
//  2. Use flows for short-span operations (HTTP requests, queries, computations)
//  3. Prefer static dependencies unless you need reactivity
//  4. Use tags for metadata, not data passing (use execution context for data)
//  5. Register cleanup functions for all resources that need disposal
//  6. Use extensions for cross-cutting concerns (logging, metrics, transactions)
//  7. Use presets for testing to replace real dependencies with mocks
//
// # Thread Safety
//
// Scopes and controllers are thread-safe:
//   - Scopes can be accessed concurrently
//   - Controllers can be used from multiple goroutines
//   - Flows can execute in parallel using Parallel()
//
// An ExecutionCtx's own tag store (Set/Get) is not synchronized.
package pumped
