package i18n

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrUnsupportedLanguage is returned for codes outside the configured set.
var ErrUnsupportedLanguage = errors.New("i18n: unsupported language")

// Language is one entry of the language selector.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// DefaultLanguage is the site's authoring language.
const DefaultLanguage = "es"

// Catalogue lists the languages the site ships, default first.
var Catalogue = []Language{
	{Code: "es", Name: "Español"},
	{Code: "en", Name: "English"},
	{Code: "ca", Name: "Català"},
	{Code: "fr", Name: "Français"},
}

// Languages is the fixed, ordered set of supported languages.
type Languages struct {
	list    []Language
	index   map[string]int
	matcher language.Matcher
}

// NewLanguages builds the supported set. The default language is moved to the
// front; codes missing from the catalogue get their native display name.
func NewLanguages(defaultCode string, codes ...string) (*Languages, error) {
	defaultCode = normalizeCode(defaultCode)
	if defaultCode == "" {
		defaultCode = DefaultLanguage
	}
	if len(codes) == 0 {
		for _, l := range Catalogue {
			codes = append(codes, l.Code)
		}
	}
	ordered := []string{defaultCode}
	for _, c := range codes {
		c = normalizeCode(c)
		if c == "" || c == defaultCode {
			continue
		}
		ordered = append(ordered, c)
	}

	l := &Languages{index: map[string]int{}}
	tags := make([]language.Tag, 0, len(ordered))
	for _, code := range ordered {
		if _, dup := l.index[code]; dup {
			continue
		}
		tag, err := language.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("i18n: parse language %q: %w", code, err)
		}
		l.index[code] = len(l.list)
		l.list = append(l.list, Language{Code: code, Name: nameFor(code, tag)})
		tags = append(tags, tag)
	}
	l.matcher = language.NewMatcher(tags)
	return l, nil
}

// MustLanguages is NewLanguages for static configuration.
func MustLanguages(defaultCode string, codes ...string) *Languages {
	l, err := NewLanguages(defaultCode, codes...)
	if err != nil {
		panic(err)
	}
	return l
}

// Default returns the fallback language code.
func (l *Languages) Default() string { return l.list[0].Code }

// All returns a copy of the supported languages, default first.
func (l *Languages) All() []Language {
	out := make([]Language, len(l.list))
	copy(out, l.list)
	return out
}

// Codes returns the supported codes, default first.
func (l *Languages) Codes() []string {
	out := make([]string, 0, len(l.list))
	for _, lang := range l.list {
		out = append(out, lang.Code)
	}
	return out
}

// Normalize lower-cases and trims code and reports whether it is supported.
func (l *Languages) Normalize(code string) (string, bool) {
	code = normalizeCode(code)
	_, ok := l.index[code]
	return code, ok
}

// Supported reports whether code is one of the configured languages.
func (l *Languages) Supported(code string) bool {
	_, ok := l.Normalize(code)
	return ok
}

// Name returns the display name for code, or the code itself when unknown.
func (l *Languages) Name(code string) string {
	code, ok := l.Normalize(code)
	if !ok {
		return code
	}
	return l.list[l.index[code]].Name
}

// Match picks the best supported language for an Accept-Language header,
// returning the default when nothing matches.
func (l *Languages) Match(acceptLanguage string) string {
	acceptLanguage = strings.TrimSpace(acceptLanguage)
	if acceptLanguage == "" {
		return l.Default()
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return l.Default()
	}
	_, idx, conf := l.matcher.Match(tags...)
	if conf == language.No || idx < 0 || idx >= len(l.list) {
		return l.Default()
	}
	return l.list[idx].Code
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func nameFor(code string, tag language.Tag) string {
	for _, known := range Catalogue {
		if known.Code == code {
			return known.Name
		}
	}
	if name := display.Self.Name(tag); name != "" {
		return name
	}
	return code
}
