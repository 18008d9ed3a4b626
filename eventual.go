package pumped

import (
	"fmt"
	"sync"
)

// Eventual is a chainable result wrapper with a synchronous fast path:
// a settled Eventual never spawns a goroutine to be mapped or awaited, so
// chains built over already-resolved values (the common case for cached
// scope reads) stay fully synchronous.
type Eventual[T any] struct {
	settled bool
	value   T
	err     error
	wait    func() (T, error)
}

// Settled creates an already-resolved Eventual.
func Settled[T any](v T) Eventual[T] {
	return Eventual[T]{settled: true, value: v}
}

// Failed creates an already-rejected Eventual.
func Failed[T any](err error) Eventual[T] {
	return Eventual[T]{settled: true, err: err}
}

// Pending wraps a blocking producer as a not-yet-settled Eventual. fn is
// invoked at most once, the first time the Eventual (or one mapped from
// it) is awaited or bridged with ToChan; mapping alone does not run it.
func Pending[T any](fn func() (T, error)) Eventual[T] {
	var once sync.Once
	var value T
	var err error
	return Eventual[T]{wait: func() (T, error) {
		once.Do(func() { value, err = fn() })
		return value, err
	}}
}

// Try runs fn synchronously and wraps its outcome, recovering a panic into
// the returned error.
func Try[T any](fn func() (T, error)) (result Eventual[T]) {
	defer func() {
		if r := recover(); r != nil {
			result = Failed[T](&FactoryExecutionError{Cause: panicToError(r)})
		}
	}()
	v, err := fn()
	if err != nil {
		return Failed[T](err)
	}
	return Settled(v)
}

// Await blocks (if necessary) and returns the settled value or error.
func (e Eventual[T]) Await() (T, error) {
	if e.settled {
		return e.value, e.err
	}
	return e.wait()
}

// IsSettled reports whether the Eventual already carries a value or error
// without needing to block.
func (e Eventual[T]) IsSettled() bool { return e.settled }

// ToChan bridges the Eventual to a buffered channel, the platform-promise
// equivalent for code that wants to select on completion.
func (e Eventual[T]) ToChan() <-chan Eventual[T] {
	ch := make(chan Eventual[T], 1)
	if e.settled {
		ch <- e
		close(ch)
		return ch
	}
	go func() {
		v, err := e.Await()
		if err != nil {
			ch <- Failed[T](err)
		} else {
			ch <- Settled(v)
		}
		close(ch)
	}()
	return ch
}

// MapEventual transforms a settled value with f. If e is already settled
// and f does not block, the result is also settled with no goroutine hop.
func MapEventual[T, R any](e Eventual[T], f func(T) (R, error)) Eventual[R] {
	if e.settled {
		if e.err != nil {
			return Failed[R](e.err)
		}
		return Try(func() (R, error) { return f(e.value) })
	}
	return Pending(func() (R, error) {
		v, err := e.Await()
		if err != nil {
			var zero R
			return zero, err
		}
		return f(v)
	})
}

// ThenEventual is an alias for MapEventual matching the spec's naming.
func ThenEventual[T, R any](e Eventual[T], f func(T) (R, error)) Eventual[R] {
	return MapEventual(e, f)
}

// AllEventual waits for every Eventual and fails fast on the first error
// to arrive, preserving input order in the result slice.
func AllEventual[T any](es []Eventual[T]) Eventual[[]T] {
	return Pending(func() ([]T, error) {
		type outcome struct {
			i   int
			v   T
			err error
		}
		out := make([]T, len(es))
		done := make(chan outcome, len(es))
		for i, e := range es {
			go func(i int, e Eventual[T]) {
				v, err := e.Await()
				done <- outcome{i, v, err}
			}(i, e)
		}
		for range es {
			o := <-done
			if o.err != nil {
				return nil, o.err
			}
			out[o.i] = o.v
		}
		return out, nil
	})
}

// RaceEventual settles with whichever Eventual completes first.
func RaceEventual[T any](es []Eventual[T]) Eventual[T] {
	return Pending(func() (T, error) {
		winner := make(chan Eventual[T], len(es))
		for _, e := range es {
			e := e
			go func() { winner <- Try(func() (T, error) { return e.Await() }) }()
		}
		result := <-winner
		return result.Await()
	})
}

// Outcome is one slot of an AllSettled result.
type Outcome[T any] struct {
	Fulfilled bool
	Value     T
	Reason    error
}

// SettledResult is the return value of AllSettled: every input's outcome,
// in input order, plus partition/inspection helpers.
type SettledResult[T any] struct {
	Outcomes []Outcome[T]
}

// Partition splits outcomes into fulfilled values and rejection reasons,
// each preserving relative order.
func (r SettledResult[T]) Partition() (fulfilled []T, rejected []error) {
	for _, o := range r.Outcomes {
		if o.Fulfilled {
			fulfilled = append(fulfilled, o.Value)
		} else {
			rejected = append(rejected, o.Reason)
		}
	}
	return fulfilled, rejected
}

// SettledStats summarizes a SettledResult: total outcomes, how many
// fulfilled, how many were rejected.
type SettledStats struct {
	Total     int
	Succeeded int
	Failed    int
}

// Stats tallies this result's outcomes.
func (r SettledResult[T]) Stats() SettledStats {
	stats := SettledStats{Total: len(r.Outcomes)}
	for _, o := range r.Outcomes {
		if o.Fulfilled {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
	}
	return stats
}

// Fulfilled returns just the fulfilled values, in input order.
func (r SettledResult[T]) Fulfilled() []T {
	out := make([]T, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Fulfilled {
			out = append(out, o.Value)
		}
	}
	return out
}

// Rejected returns just the rejection reasons, in input order.
func (r SettledResult[T]) Rejected() []error {
	out := make([]error, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if !o.Fulfilled {
			out = append(out, o.Reason)
		}
	}
	return out
}

// FirstFulfilled returns the first fulfilled value, if any.
func (r SettledResult[T]) FirstFulfilled() (T, bool) {
	for _, o := range r.Outcomes {
		if o.Fulfilled {
			return o.Value, true
		}
	}
	var zero T
	return zero, false
}

// FirstRejected returns the first rejection reason, if any.
func (r SettledResult[T]) FirstRejected() (error, bool) {
	for _, o := range r.Outcomes {
		if !o.Fulfilled {
			return o.Reason, true
		}
	}
	return nil, false
}

// FindFulfilled returns the first fulfilled value matching pred.
func (r SettledResult[T]) FindFulfilled(pred func(T) bool) (T, bool) {
	for _, o := range r.Outcomes {
		if o.Fulfilled && pred(o.Value) {
			return o.Value, true
		}
	}
	var zero T
	return zero, false
}

// MapFulfilled transforms every fulfilled value with f, skipping
// rejections; the result preserves the relative order of fulfillments.
func MapFulfilled[T, R any](r SettledResult[T], f func(T) R) []R {
	out := make([]R, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Fulfilled {
			out = append(out, f(o.Value))
		}
	}
	return out
}

// AssertAllFulfilled returns an AggregateError of every rejection reason
// if any outcome was rejected, wrapped in customErr if provided, or the
// fulfilled values with a nil error if every outcome fulfilled.
func (r SettledResult[T]) AssertAllFulfilled(customErr ...error) ([]T, error) {
	rejected := r.Rejected()
	if len(rejected) == 0 {
		return r.Fulfilled(), nil
	}
	agg := &AggregateError{Errors: rejected}
	if len(customErr) > 0 && customErr[0] != nil {
		return nil, fmt.Errorf("%w: %s", customErr[0], agg.Error())
	}
	return nil, agg
}

// AllSettledEventual waits for every Eventual and never fails; each
// outcome records whether it fulfilled or was rejected.
func AllSettledEventual[T any](es []Eventual[T]) Eventual[SettledResult[T]] {
	return Pending(func() (SettledResult[T], error) {
		outcomes := make([]Outcome[T], len(es))
		var wg sync.WaitGroup
		wg.Add(len(es))
		for i, e := range es {
			go func(i int, e Eventual[T]) {
				defer wg.Done()
				v, err := e.Await()
				if err != nil {
					outcomes[i] = Outcome[T]{Fulfilled: false, Reason: err}
				} else {
					outcomes[i] = Outcome[T]{Fulfilled: true, Value: v}
				}
			}(i, e)
		}
		wg.Wait()
		return SettledResult[T]{Outcomes: outcomes}, nil
	})
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return &panicValue{r}
}

type panicValue struct{ v any }

func (p *panicValue) Error() string { return "panic: " + toString(p.v) }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return "unknown panic value"
}
