package fragments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finitefield.org/chapel-web/internal/origin"
)

// Fragment files shared by every page.
const (
	HeaderFile = "header.html"
	FooterFile = "footer.html"
)

const defaultRetryDelay = time.Second

// Set holds the fetched fragments. A nil slice means the fragment is
// unavailable and its container is left alone.
type Set struct {
	Header []byte
	Footer []byte
}

// Loader fetches the shared fragments once and signals readiness through
// Ready so renderers never race an in-progress fetch.
type Loader struct {
	origin     origin.Origin
	retryDelay time.Duration
	logger     *zap.Logger

	startOnce sync.Once
	ready     chan struct{}

	mu  sync.RWMutex
	set Set
}

// Option customises a Loader.
type Option func(*Loader)

// WithRetryDelay sets the pause before the single retry of a failed fetch.
func WithRetryDelay(d time.Duration) Option {
	return func(l *Loader) {
		if d >= 0 {
			l.retryDelay = d
		}
	}
}

// WithLogger sets the loader logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLoader constructs a Loader reading from o.
func NewLoader(o origin.Origin, opts ...Option) *Loader {
	l := &Loader{
		origin:     o,
		retryDelay: defaultRetryDelay,
		logger:     zap.NewNop(),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start begins loading in the background. Subsequent calls are no-ops.
func (l *Loader) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		go func() {
			set := l.fetchAll(ctx)
			l.mu.Lock()
			l.set = set
			l.mu.Unlock()
			close(l.ready)
		}()
	})
}

// Ready is closed once the first load completed, successfully or not.
func (l *Loader) Ready() <-chan struct{} { return l.ready }

// Wait blocks until the fragments are loaded or ctx is done. It starts the
// loader when nobody did.
func (l *Loader) Wait(ctx context.Context) (Set, error) {
	l.Start(context.WithoutCancel(ctx))
	select {
	case <-l.ready:
		return l.Current(), nil
	case <-ctx.Done():
		return Set{}, ctx.Err()
	}
}

// Current returns the last loaded set without waiting.
func (l *Loader) Current() Set {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.set
}

// Reload fetches the fragments again and swaps them in.
func (l *Loader) Reload(ctx context.Context) Set {
	if _, err := l.Wait(ctx); err != nil {
		return Set{}
	}
	set := l.fetchAll(ctx)
	l.mu.Lock()
	l.set = set
	l.mu.Unlock()
	return set
}

func (l *Loader) fetchAll(ctx context.Context) Set {
	var (
		set Set
		g   errgroup.Group
	)
	g.Go(func() (err error) {
		set.Header, err = l.fetch(ctx, HeaderFile)
		return err
	})
	g.Go(func() (err error) {
		set.Footer, err = l.fetch(ctx, FooterFile)
		return err
	})
	if err := g.Wait(); err != nil {
		l.logger.Error("fragments incomplete", zap.Stringer("fragments", set), zap.Error(err))
	}
	return set
}

// fetch retries once after retryDelay; a second failure leaves the fragment absent.
func (l *Loader) fetch(ctx context.Context, name string) ([]byte, error) {
	data, err := l.origin.Fetch(ctx, name)
	if err == nil {
		return data, nil
	}
	l.logger.Warn("fragment fetch failed, retrying",
		zap.String("fragment", name),
		zap.Duration("retry_delay", l.retryDelay),
		zap.Error(err),
	)

	timer := time.NewTimer(l.retryDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fragments: %s retry abandoned: %w", name, ctx.Err())
	case <-timer.C:
	}

	data, err = l.origin.Fetch(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fragments: %s unavailable: %w", name, err)
	}
	return data, nil
}
