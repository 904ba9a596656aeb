package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LanguageChangedName is the event name surfaced to browsers via HX-Trigger.
const LanguageChangedName = "languageChanged"

// LanguageChanged is broadcast after a session switched language.
type LanguageChanged struct {
	SessionID string    `json:"-"`
	Language  string    `json:"language"`
	Previous  string    `json:"-"`
	At        time.Time `json:"-"`
}

// Handler receives language-change notifications.
type Handler func(ctx context.Context, evt LanguageChanged)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers language-change notifications to every subscriber, in
// subscription order, on the publishing goroutine.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
}

// NewBus constructs an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers h and returns a function removing it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	if h == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers evt to the current subscribers. A panicking subscriber is
// logged and does not stop delivery to the rest.
func (b *Bus) Publish(ctx context.Context, evt LanguageChanged) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(ctx, s, evt)
	}
}

func (b *Bus) deliver(ctx context.Context, s subscription, evt LanguageChanged) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("language change subscriber panicked",
				zap.Uint64("subscriber", s.id),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	s.handler(ctx, evt)
}

// LogHandler returns a subscriber that records every switch.
func LogHandler(logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, evt LanguageChanged) {
		logger.Info("language changed",
			zap.String("language", evt.Language),
			zap.String("previous", evt.Previous),
		)
	}
}

// Recorder collects events; useful in tests.
type Recorder struct {
	mu     sync.Mutex
	events []LanguageChanged
}

// Handle implements Handler.
func (r *Recorder) Handle(_ context.Context, evt LanguageChanged) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []LanguageChanged {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LanguageChanged, len(r.events))
	copy(out, r.events)
	return out
}
