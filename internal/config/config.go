package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"finitefield.org/chapel-web/internal/i18n"
	"finitefield.org/chapel-web/internal/pagemeta"
)

const (
	envPrefix                 = "CHAPEL_WEB_"
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultSiteDir            = "site"
	defaultContentDir         = "content"
	defaultFragmentRetry      = time.Second
	defaultContentCacheTTL    = 5 * time.Minute
	defaultEnvironment        = "local"
	defaultLogLevel           = "info"
	devSessionSigningKey      = "dev-secret-change-me"
	minSessionSigningKeyBytes = 16
)

// Config is the resolved server configuration.
type Config struct {
	Server  ServerConfig
	Site    SiteConfig
	I18n    I18nConfig
	Session SessionConfig
	Env     string
	Dev     bool
	Log     LogConfig
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SiteConfig locates the static site and tunes the render pipeline.
type SiteConfig struct {
	// Dir serves the site from disk; ignored when OriginURL is set.
	Dir                string
	OriginURL          string
	ContentDir         string
	ContentCacheTTL    time.Duration
	FragmentRetryDelay time.Duration
	LinkMode           pagemeta.LinkMode
}

// I18nConfig lists the supported languages, default first.
type I18nConfig struct {
	DefaultLanguage string
	Languages       []string
}

// SessionConfig holds the cookie signing key.
type SessionConfig struct {
	SigningKey string
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string
}

// Production reports whether the server runs outside local development.
func (c Config) Production() bool {
	return c.Env == "prod" || c.Env == "production"
}

// ValidationError lists every field that failed validation.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: invalid settings: %s", strings.Join(e.fields, ", "))
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option adjusts how Load resolves values.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile reads the given dotenv file; an empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap supplies values that win over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration from defaults, the .env file, the
// environment and the explicit map, in increasing precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		key = envPrefix + key
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string
	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Site: SiteConfig{
			Dir:                stringWithDefault(lookup, "SITE_DIR", defaultSiteDir),
			OriginURL:          strings.TrimSpace(stringWithDefault(lookup, "ORIGIN_URL", "")),
			ContentDir:         stringWithDefault(lookup, "CONTENT_DIR", defaultContentDir),
			ContentCacheTTL:    durationWithDefault(lookup, "CONTENT_CACHE_TTL", defaultContentCacheTTL),
			FragmentRetryDelay: durationWithDefault(lookup, "FRAGMENT_RETRY_DELAY", defaultFragmentRetry),
		},
		I18n: I18nConfig{
			DefaultLanguage: strings.ToLower(stringWithDefault(lookup, "DEFAULT_LANGUAGE", i18n.DefaultLanguage)),
			Languages:       csvWithDefault(lookup, "LANGUAGES"),
		},
		Session: SessionConfig{
			SigningKey: stringWithDefault(lookup, "SESSION_SIGNING_KEY", ""),
		},
		Env: strings.ToLower(stringWithDefault(lookup, "ENV", defaultEnvironment)),
		Dev: boolWithDefault(lookup, "DEV", false),
		Log: LogConfig{
			Level: strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		},
	}

	mode, err := pagemeta.ParseLinkMode(stringWithDefault(lookup, "LINK_MODE", ""))
	if err != nil {
		invalid = append(invalid, "Site.LinkMode")
	}
	cfg.Site.LinkMode = mode

	if len(cfg.I18n.Languages) == 0 {
		for _, lang := range i18n.Catalogue {
			cfg.I18n.Languages = append(cfg.I18n.Languages, lang.Code)
		}
	}

	key, err := resolveFileRef(ctx, cfg.Session.SigningKey)
	if err != nil {
		return Config{}, err
	}
	cfg.Session.SigningKey = key
	if cfg.Session.SigningKey == "" && !cfg.Production() {
		cfg.Session.SigningKey = devSessionSigningKey
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// resolveFileRef dereferences file:// values so secrets can be mounted as files.
func resolveFileRef(ctx context.Context, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "file://") {
		return trimmed, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := strings.TrimPrefix(trimmed, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: read secret file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)
	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.ReadTimeout <= 0 {
		missing = append(missing, "Server.ReadTimeout")
	}
	if cfg.Server.WriteTimeout <= 0 {
		missing = append(missing, "Server.WriteTimeout")
	}
	if cfg.Site.OriginURL == "" && strings.TrimSpace(cfg.Site.Dir) == "" {
		missing = append(missing, "Site.Dir")
	}
	if cfg.Site.OriginURL != "" && !strings.HasPrefix(cfg.Site.OriginURL, "http://") && !strings.HasPrefix(cfg.Site.OriginURL, "https://") {
		missing = append(missing, "Site.OriginURL")
	}
	if cfg.Site.ContentCacheTTL <= 0 {
		missing = append(missing, "Site.ContentCacheTTL")
	}
	if cfg.Site.FragmentRetryDelay < 0 {
		missing = append(missing, "Site.FragmentRetryDelay")
	}
	if _, err := i18n.NewLanguages(cfg.I18n.DefaultLanguage, cfg.I18n.Languages...); err != nil {
		missing = append(missing, "I18n.Languages")
	}
	if len(cfg.Session.SigningKey) < minSessionSigningKeyBytes {
		missing = append(missing, "Session.SigningKey")
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// bare integers are read as milliseconds
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
