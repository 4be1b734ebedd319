package pumped

// tagKey is the symbol identity behind a Tag[T]. Pointer identity (not the
// name string) is what Get/Set/Find key off — two tags built with the
// same label are distinct.
type tagKey struct {
	label string
}

// TaggedValue is a validated value attached to an executor, scope, flow
// tag list, or tag-container object.
type TaggedValue struct {
	key   *tagKey
	Value any
}

// KVStore is the first tag source shape: a key-value store probed
// structurally by exposing Get/Set. Scope and FlowContext both implement
// it.
type KVStore interface {
	Get(key any) (any, bool)
	Set(key any, value any)
}

// TagContainer is the second tag source shape: an object carrying its own
// ordered tag list (e.g. an executor).
type TagContainer interface {
	Tags() []TaggedValue
}

// Tag is a symbol-keyed, schema-typed accessor: a factory that produces
// TaggedValue{...} and a set of lookup helpers against any of the three
// tag source shapes (KVStore, TagContainer, or a raw []TaggedValue).
type Tag[T any] struct {
	key    *tagKey
	schema Schema
	label  string
	hasDef bool
	def    T
}

// TagOption configures a Tag at construction time.
type TagOption[T any] func(*tagOptions[T])

type tagOptions[T any] struct {
	label  string
	hasDef bool
	def    T
}

// WithLabel attaches a human-readable label shown in debug output.
func WithLabel[T any](label string) TagOption[T] {
	return func(o *tagOptions[T]) { o.label = label }
}

// WithDefault supplies the value Get/Find fall back to when the source has
// none.
func WithDefault[T any](def T) TagOption[T] {
	return func(o *tagOptions[T]) { o.hasDef = true; o.def = def }
}

// NewTag creates a tag validated against schema.
func NewTag[T any](schema Schema, opts ...TagOption[T]) Tag[T] {
	cfg := tagOptions[T]{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return Tag[T]{
		key:    &tagKey{label: cfg.label},
		schema: schema,
		label:  cfg.label,
		hasDef: cfg.hasDef,
		def:    cfg.def,
	}
}

// String shows the tag's label when present, for debug display.
func (t Tag[T]) String() string {
	if t.label != "" {
		return t.label
	}
	return "<tag>"
}

// New is the tag-as-factory form: produce a TaggedValue. With no argument,
// it uses the configured default or fails with missing-value.
func (t Tag[T]) New(value ...T) (TaggedValue, error) {
	var v T
	switch {
	case len(value) > 0:
		v = value[0]
	case t.hasDef:
		v = t.def
	default:
		return TaggedValue{}, errMissingValue(t.label)
	}
	validated, err := runValidate(t.schema, v)
	if err != nil {
		return TaggedValue{}, err
	}
	return TaggedValue{key: t.key, Value: validated}, nil
}

// Entry returns a TaggedValue suitable for seeding a KVStore in bulk,
// identical to New.
func (t Tag[T]) Entry(value ...T) (TaggedValue, error) {
	return t.New(value...)
}

// classify finds, for a given source, the matching TaggedValue list to
// search — or reports that source is a KVStore to be read directly.
func classify(source any) (kv KVStore, list []TaggedValue, isKV bool) {
	switch s := source.(type) {
	case KVStore:
		return s, nil, true
	case []TaggedValue:
		return nil, s, false
	case TagList:
		return nil, s, false
	case TagContainer:
		return nil, s.Tags(), false
	default:
		return nil, nil, false
	}
}

func (t Tag[T]) fromList(list []TaggedValue) (T, bool, error) {
	for _, tv := range list {
		if tv.key == t.key {
			validated, err := runValidate(t.schema, tv.Value)
			if err != nil {
				var zero T
				return zero, true, err
			}
			typed, _ := validated.(T)
			return typed, true, nil
		}
	}
	var zero T
	return zero, false, nil
}

// Get returns the first matching value in source. Fails with not-found if
// absent and no default is configured.
func (t Tag[T]) Get(source any) (T, error) {
	kv, list, isKV := classify(source)
	if isKV {
		raw, ok := kv.Get(t.key)
		if !ok {
			if t.hasDef {
				return t.def, nil
			}
			var zero T
			return zero, errNotFound(t.label)
		}
		validated, err := runValidate(t.schema, raw)
		if err != nil {
			var zero T
			return zero, err
		}
		typed, _ := validated.(T)
		return typed, nil
	}

	val, found, err := t.fromList(list)
	if err != nil {
		return val, err
	}
	if found {
		return val, nil
	}
	if t.hasDef {
		return t.def, nil
	}
	var zero T
	return zero, errNotFound(t.label)
}

// Find behaves like Get but returns the default (or the zero value) rather
// than failing when the source has no matching value.
func (t Tag[T]) Find(source any) (T, bool) {
	v, err := t.Get(source)
	if err != nil {
		if t.hasDef {
			return t.def, true
		}
		var zero T
		return zero, false
	}
	return v, true
}

// Some returns every matching value in source order.
func (t Tag[T]) Some(source any) []T {
	kv, list, isKV := classify(source)
	if isKV {
		if raw, ok := kv.Get(t.key); ok {
			if validated, err := runValidate(t.schema, raw); err == nil {
				if typed, ok := validated.(T); ok {
					return []T{typed}
				}
			}
		}
		return nil
	}

	var out []T
	for _, tv := range list {
		if tv.key != t.key {
			continue
		}
		validated, err := runValidate(t.schema, tv.Value)
		if err != nil {
			continue
		}
		if typed, ok := validated.(T); ok {
			out = append(out, typed)
		}
	}
	return out
}

// Set validates value and writes it. Against a KVStore it writes in place
// and returns a zero TaggedValue. Against a tag-container or tag list, the
// core never mutates the caller's slice implicitly: it returns the new
// TaggedValue for the caller to append.
func (t Tag[T]) Set(target any, value T) (TaggedValue, error) {
	validated, err := runValidate(t.schema, value)
	if err != nil {
		return TaggedValue{}, err
	}
	if kv, ok := target.(KVStore); ok {
		kv.Set(t.key, validated)
		return TaggedValue{}, nil
	}
	return TaggedValue{key: t.key, Value: validated}, nil
}

// Key exposes the tag's symbol identity, e.g. for use as a KVStore key by
// code that bypasses the typed helpers above.
func (t Tag[T]) Key() any { return t.key }
