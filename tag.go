package pumped

import (
	"github.com/pumped-fn/pumped-go/pkg/schema"
)

// tagKey is the unique "symbol" identity behind a Tag; two Tag[T] values
// created by separate NewTag calls never collide even if given the same
// label, because identity is the pointer, not the string.
type tagKey struct {
	label string
}

// Tag is a symbol-keyed, schema-typed value carried in tag stores,
// executor metadata, or scope configuration.
type Tag[T any] struct {
	key       *tagKey
	def       *T
	validator schema.Schema
}

type tagOptions[T any] struct {
	def       *T
	validator schema.Schema
}

// TagOption configures a Tag at construction.
type TagOption[T any] func(*tagOptions[T])

// WithDefault attaches a default value returned by Read/Extract when the
// tag was never set.
func WithDefault[T any](def T) TagOption[T] {
	return func(o *tagOptions[T]) { o.def = &def }
}

// WithValidator attaches a synchronous schema validator; Extract/Read
// apply it to the stored value before returning.
func WithValidator[T any](v schema.Schema) TagOption[T] {
	return func(o *tagOptions[T]) { o.validator = v }
}

// NewTag creates a new tag with the given label (used only for debugging
// and error messages: identity is the returned Tag's own pointer key).
func NewTag[T any](label string, opts ...TagOption[T]) Tag[T] {
	cfg := &tagOptions[T]{}
	for _, opt := range opts {
		opt(cfg)
	}
	return Tag[T]{key: &tagKey{label: label}, def: cfg.def, validator: cfg.validator}
}

// Key returns the tag's debug label.
func (t Tag[T]) Key() string { return t.key.label }

// Tagged is a (tag, value) pair produced by invoking a tag; it is the
// element type of the ordered-sequence tag container.
type Tagged struct {
	key   *tagKey
	Value any
}

// With produces a Tagged pair carrying val under this tag's key —
// Go's stand-in for the spec's callable tag(value) form.
func (t Tag[T]) With(val T) Tagged {
	return Tagged{key: t.key, Value: val}
}

// TagSource is any of the four container shapes a tag can be looked up
// against: a map keyed by tag identity, an ordered sequence of Tagged
// pairs, a scope's tag store, or an executor's attached tags.
type TagSource interface {
	tagCollect(key *tagKey) []any
}

// TagMap is the "map from symbol to value" container; Collect yields at
// most one value, matching any map-shaped source.
type TagMap map[*tagKey]any

func (m TagMap) tagCollect(key *tagKey) []any {
	if v, ok := m[key]; ok {
		return []any{v}
	}
	return nil
}

// TagList is the "ordered sequence of Tagged" container; Collect returns
// every matching entry in insertion order.
type TagList []Tagged

func (l TagList) tagCollect(key *tagKey) []any {
	var out []any
	for _, tg := range l {
		if tg.key == key {
			out = append(out, tg.Value)
		}
	}
	return out
}

func (s *Scope) tagCollect(key *tagKey) []any {
	if v, ok := s.tags.Load(key); ok {
		return []any{v}
	}
	return nil
}

func (e *Executor[T]) tagCollect(key *tagKey) []any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if v, ok := e.tags[key]; ok {
		return []any{v}
	}
	return nil
}

// Extract returns the value from src, falling back to the tag's default,
// and fails with ErrTagMissing when neither is present.
func (t Tag[T]) Extract(src TagSource) (T, error) {
	if v, ok := t.Read(src); ok {
		return v, nil
	}
	var zero T
	return zero, &TagMissingError{TagLabel: t.key.label}
}

// Read returns the value from src, falling back to the tag's default,
// and never fails: ok is false when neither is present.
func (t Tag[T]) Read(src TagSource) (T, bool) {
	values := src.tagCollect(t.key)
	if len(values) > 0 {
		return t.coerce(values[len(values)-1])
	}
	if t.def != nil {
		return *t.def, true
	}
	var zero T
	return zero, false
}

// Collect returns every value recorded under this tag's key in src, in
// insertion order; map-shaped sources yield at most one.
func (t Tag[T]) Collect(src TagSource) []T {
	values := src.tagCollect(t.key)
	out := make([]T, 0, len(values))
	for _, v := range values {
		if tv, ok := t.coerce(v); ok {
			out = append(out, tv)
		}
	}
	return out
}

func (t Tag[T]) coerce(v any) (T, bool) {
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, false
	}
	if t.validator != nil {
		validated, err := t.validator.Validate(typed)
		if err != nil {
			var zero T
			return zero, false
		}
		if cast, ok := validated.(T); ok {
			return cast, true
		}
	}
	return typed, true
}

// --- Single-value convenience API, used internally and by extensions ---

// Get retrieves the tag value previously Set on an executor.
func (t Tag[T]) Get(exec AnyExecutor) (T, bool) {
	val, ok := exec.GetTag(t.key)
	if !ok {
		var zero T
		return zero, false
	}
	return val.(T), true
}

// MustGet retrieves the tag value or panics if not found.
func (t Tag[T]) MustGet(exec AnyExecutor) T {
	val, ok := t.Get(exec)
	if !ok {
		panic("tag " + t.key.label + " not found")
	}
	return val
}

// GetOrDefault retrieves the tag value or returns a default.
func (t Tag[T]) GetOrDefault(exec AnyExecutor, defaultVal T) T {
	if val, ok := t.Get(exec); ok {
		return val
	}
	return defaultVal
}

// Set stores the tag value on an executor.
func (t Tag[T]) Set(exec AnyExecutor, val T) {
	exec.SetTag(t.key, val)
}

// GetFromScope retrieves the tag value from a scope.
func (t Tag[T]) GetFromScope(scope *Scope) (T, bool) {
	val, ok := scope.GetTag(t.key)
	if !ok {
		var zero T
		return zero, false
	}
	return val.(T), true
}

// SetOnScope stores the tag value on a scope.
func (t Tag[T]) SetOnScope(scope *Scope, val T) {
	scope.SetTag(t.key, val)
}
