package i18n

import (
	"fmt"
	"strings"
)

// Dictionary is a nested translation tree (segment -> subtree or string leaf).
type Dictionary map[string]any

// Lookup walks the dotted key through the tree. It reports false when a
// segment is missing, an intermediate value is not a map, or the final
// value is not a string.
func (d Dictionary) Lookup(key string) (string, bool) {
	if d == nil || key == "" {
		return "", false
	}
	var cur any = map[string]any(d)
	for _, seg := range strings.Split(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return "", false
		}
		next, ok := m[seg]
		if !ok {
			return "", false
		}
		cur = next
	}
	s, ok := cur.(string)
	return s, ok
}

// Len returns the number of string leaves in the tree.
func (d Dictionary) Len() int {
	return countLeaves(map[string]any(d))
}

// Resolve returns the translation for key from active, then fallback,
// and finally the key itself.
func Resolve(active, fallback Dictionary, key string) string {
	if v, ok := active.Lookup(key); ok {
		return v
	}
	if v, ok := fallback.Lookup(key); ok {
		return v
	}
	return key
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Dictionary:
		return map[string]any(m), true
	}
	return nil, false
}

func countLeaves(m map[string]any) int {
	n := 0
	for _, v := range m {
		switch t := v.(type) {
		case string:
			n++
		case map[string]any:
			n += countLeaves(t)
		}
	}
	return n
}

// normalize converts decoder output (YAML may yield map[any]any) into
// map[string]any all the way down.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// Translator resolves keys for one language against its dictionary and the
// default-language dictionary. It is the per-request replacement for a
// process-wide "current language".
type Translator struct {
	lang     string
	active   Dictionary
	fallback Dictionary
}

// NewTranslator binds a language to its dictionaries.
func NewTranslator(lang string, active, fallback Dictionary) *Translator {
	return &Translator{lang: lang, active: active, fallback: fallback}
}

// Lang returns the language the translator renders.
func (t *Translator) Lang() string {
	if t == nil {
		return ""
	}
	return t.lang
}

// Dictionary returns the active dictionary.
func (t *Translator) Dictionary() Dictionary {
	if t == nil {
		return nil
	}
	return t.active
}

// T returns the translation for key.
func (t *Translator) T(key string) string {
	if t == nil {
		return key
	}
	return Resolve(t.active, t.fallback, key)
}

// Tf returns the translation for key with {placeholder} tokens replaced.
func (t *Translator) Tf(key string, values map[string]string) string {
	return Interpolate(t.T(key), values)
}
