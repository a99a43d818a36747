package commands

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cast"

	"github.com/framestep/tasbridge/pkg/studioproto"
)

// Kind is the type of a settable value or method parameter.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindVector2
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindVector2:
		return "Vector2"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// width is the number of textual arguments a value of this kind consumes.
func (k Kind) width() int {
	if k == KindVector2 {
		return 2
	}
	return 1
}

// Field is a value reachable by "Set, Target.Member, value".
type Field struct {
	Kind Kind
	Get  func() any
	Set  func(v any) error
}

// Method is reachable by "Invoke, Target.Method, args...".
type Method struct {
	Params []Kind
	Call   func(args []any) error
}

// Targets is the registry of named fields and methods.
type Targets struct {
	mu      sync.RWMutex
	fields  map[string]Field
	methods map[string]Method
}

// NewTargets creates an empty registry.
func NewTargets() *Targets {
	return &Targets{
		fields:  make(map[string]Field),
		methods: make(map[string]Method),
	}
}

// RegisterField adds a field. Names are dotted paths such as "Player.Speed".
func (t *Targets) RegisterField(name string, f Field) error {
	if f.Set == nil {
		return fmt.Errorf("field %s has no setter", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.fields[name]; ok {
		return fmt.Errorf("field already registered: %s", name)
	}
	t.fields[name] = f
	return nil
}

// RegisterMethod adds a method.
func (t *Targets) RegisterMethod(name string, m Method) error {
	if m.Call == nil {
		return fmt.Errorf("method %s has no implementation", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.methods[name]; ok {
		return fmt.Errorf("method already registered: %s", name)
	}
	t.methods[name] = m
	return nil
}

// Field looks up a field.
func (t *Targets) Field(name string) (Field, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.fields[name]
	return f, ok
}

// Method looks up a method.
func (t *Targets) Method(name string) (Method, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.methods[name]
	return m, ok
}

// FieldNames returns the sorted field names.
func (t *Targets) FieldNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.fields)
}

// MethodNames returns the sorted method names.
func (t *Targets) MethodNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.methods)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ResolveValues converts textual arguments to the given kinds. Vector2
// consumes two arguments. Surplus arguments are an error.
func ResolveValues(args []string, kinds []Kind) ([]any, error) {
	values := make([]any, 0, len(kinds))
	i := 0
	for _, kind := range kinds {
		if i+kind.width() > len(args) {
			return nil, fmt.Errorf("missing value for parameter of type %s", kind)
		}
		v, err := resolveValue(kind, args[i:i+kind.width()])
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		i += kind.width()
	}
	if i < len(args) {
		return nil, fmt.Errorf("too many values: %s", strings.Join(args[i:], ", "))
	}
	return values, nil
}

func resolveValue(kind Kind, args []string) (any, error) {
	var (
		v   any
		err error
	)
	switch kind {
	case KindBool:
		v, err = cast.ToBoolE(args[0])
	case KindInt:
		v, err = cast.ToIntE(args[0])
	case KindFloat:
		v, err = cast.ToFloat64E(args[0])
	case KindString:
		v = args[0]
	case KindVector2:
		var x, y float64
		if x, err = cast.ToFloat64E(args[0]); err == nil {
			y, err = cast.ToFloat64E(args[1])
		}
		v = studioproto.Vector2{X: x, Y: y}
	default:
		err = fmt.Errorf("unsupported kind")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve '%s' to type %s", strings.Join(args, " "), kind)
	}
	return v, nil
}
