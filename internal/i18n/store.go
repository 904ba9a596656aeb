package i18n

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"finitefield.org/chapel-web/internal/origin"
)

const defaultTranslationsDir = "translations"

// Store loads one dictionary per language from the origin and caches it.
// Concurrent loads of the same language share a single fetch.
type Store struct {
	origin origin.Origin
	langs  *Languages
	dir    string
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]Dictionary
	group singleflight.Group

	fetches atomic.Int64
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithLogger sets the logger used for load failures.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDir overrides the directory holding {lang}.json files.
func WithDir(dir string) StoreOption {
	return func(s *Store) {
		if dir != "" {
			s.dir = dir
		}
	}
}

// NewStore constructs a Store reading from o.
func NewStore(o origin.Origin, langs *Languages, opts ...StoreOption) *Store {
	s := &Store{
		origin: o,
		langs:  langs,
		dir:    defaultTranslationsDir,
		logger: zap.NewNop(),
		cache:  map[string]Dictionary{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Languages exposes the supported set.
func (s *Store) Languages() *Languages { return s.langs }

// Fetches reports how many dictionary fetches reached the origin.
func (s *Store) Fetches() int64 { return s.fetches.Load() }

// Loaded reports whether code is cached.
func (s *Store) Loaded(code string) bool {
	_, ok := s.cached(normalizeCode(code))
	return ok
}

// Load returns the dictionary for code. A failed fetch falls back to the
// default-language dictionary when it was loaded earlier.
func (s *Store) Load(ctx context.Context, code string) (Dictionary, error) {
	code, ok := s.langs.Normalize(code)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
	}
	if d, ok := s.cached(code); ok {
		return d, nil
	}

	v, err, _ := s.group.Do(code, func() (any, error) {
		if d, ok := s.cached(code); ok {
			return d, nil
		}
		// shared by every waiter, so one caller leaving must not cancel it
		d, err := s.fetch(context.WithoutCancel(ctx), code)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[code] = d
		s.mu.Unlock()
		return d, nil
	})
	if err != nil {
		s.logger.Warn("translation load failed",
			zap.String("lang", code),
			zap.Error(err),
		)
		if def := s.langs.Default(); def != code {
			if d, ok := s.cached(def); ok {
				return d, nil
			}
		}
		return nil, err
	}
	return v.(Dictionary), nil
}

// Preload loads the default language, which every fallback depends on.
func (s *Store) Preload(ctx context.Context) error {
	if _, err := s.Load(ctx, s.langs.Default()); err != nil {
		return fmt.Errorf("i18n: default language %s: %w", s.langs.Default(), err)
	}
	return nil
}

// Translator returns a translator for code. It never fails: unsupported
// codes render the default language and unloadable dictionaries render keys.
func (s *Store) Translator(ctx context.Context, code string) *Translator {
	def := s.langs.Default()
	fallback, err := s.Load(ctx, def)
	if err != nil {
		fallback = nil
	}
	lang, ok := s.langs.Normalize(code)
	if !ok {
		lang = def
	}
	active := fallback
	if lang != def {
		if d, err := s.Load(ctx, lang); err == nil {
			active = d
		}
	}
	return NewTranslator(lang, active, fallback)
}

// Invalidate drops every cached dictionary.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache = map[string]Dictionary{}
	s.mu.Unlock()
}

func (s *Store) cached(code string) (Dictionary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.cache[code]
	return d, ok
}

func (s *Store) fetch(ctx context.Context, code string) (Dictionary, error) {
	s.fetches.Add(1)
	name := path.Join(s.dir, code+".json")
	raw, err := s.origin.Fetch(ctx, name)
	if err == nil {
		return decodeJSON(name, raw)
	}
	if !errors.Is(err, origin.ErrNotFound) {
		return nil, err
	}
	yamlName := path.Join(s.dir, code+".yaml")
	raw, yerr := s.origin.Fetch(ctx, yamlName)
	if yerr != nil {
		if errors.Is(yerr, origin.ErrNotFound) {
			return nil, err
		}
		return nil, yerr
	}
	return decodeYAML(yamlName, raw)
}

func decodeJSON(name string, raw []byte) (Dictionary, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("i18n: parse %s: %w", name, err)
	}
	return Dictionary(m), nil
}

func decodeYAML(name string, raw []byte) (Dictionary, error) {
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("i18n: parse %s: %w", name, err)
	}
	out, _ := normalize(m).(map[string]any)
	return Dictionary(out), nil
}
