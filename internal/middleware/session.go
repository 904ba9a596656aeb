package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionCookieName is the signed session cookie.
const SessionCookieName = "CHAPEL_WEB_SESSION"

const sessionMaxAge = 365 * 24 * time.Hour

// SessionData is the state persisted in the signed cookie.
type SessionData struct {
	ID               string    `json:"id"`
	SelectedLanguage string    `json:"selectedLanguage,omitempty"`
	CSRFToken        string    `json:"csrf,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	// internal dirty flag; not serialized
	dirty bool
}

// MarkDirty flags the session for writing at end of request
func (s *SessionData) MarkDirty() { s.dirty = true; s.UpdatedAt = time.Now().UTC() }

// SetLanguage stores code as the selected language and reports whether it changed.
func (s *SessionData) SetLanguage(code string) (previous string, changed bool) {
	previous = s.SelectedLanguage
	if previous == code {
		return previous, false
	}
	s.SelectedLanguage = code
	s.MarkDirty()
	return previous, true
}

// Sessions signs and verifies session cookies.
type Sessions struct {
	key    []byte
	secure bool
}

// NewSessions builds the cookie codec. secure marks cookies Secure.
func NewSessions(signingKey string, secure bool) *Sessions {
	return &Sessions{key: []byte(signingKey), secure: secure}
}

// Secure reports whether cookies are marked Secure.
func (s *Sessions) Secure() bool { return s.secure }

// Middleware loads or initializes a session and stores it in request context.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sd, fromCookie := s.read(r)
		if sd.ID == "" {
			now := time.Now().UTC()
			sd.ID = ulid.Make().String()
			sd.CreatedAt = now
			sd.UpdatedAt = now
			sd.CSRFToken = newCSRFToken()
			sd.dirty = true
		}
		ctx := context.WithValue(r.Context(), ctxKeySession, sd)

		rw := NewResponseRecorder(w)
		// the cookie must be set before the handler's first write
		rw.SetBeforeWrite(func(w http.ResponseWriter) {
			if sd.dirty || !fromCookie {
				s.write(w, sd)
			}
		})
		next.ServeHTTP(rw, r.WithContext(ctx))
		if !rw.Written() && (sd.dirty || !fromCookie) {
			s.write(w, sd)
		}
	})
}

// GetSession returns session data from context
func GetSession(r *http.Request) *SessionData {
	return SessionFromContext(r.Context())
}

// SessionFromContext returns the request session or an empty one.
func SessionFromContext(ctx context.Context) *SessionData {
	if sd, ok := ctx.Value(ctxKeySession).(*SessionData); ok && sd != nil {
		return sd
	}
	return &SessionData{}
}

// Encode returns the signed cookie value for sd.
func (s *Sessions) Encode(sd *SessionData) string {
	b, _ := json.Marshal(sd)
	mac := hmac.New(sha256.New, s.key)
	mac.Write(b)
	return base64.RawURLEncoding.EncodeToString(b) + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Decode verifies and parses a cookie value.
func (s *Sessions) Decode(value string) (*SessionData, bool) {
	parts := strings.Split(value, ".")
	if len(parts) != 2 {
		return nil, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, false
	}
	sig, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return nil, false
	}
	var sd SessionData
	if err := json.Unmarshal(payload, &sd); err != nil {
		return nil, false
	}
	return &sd, true
}

func (s *Sessions) read(r *http.Request) (*SessionData, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return &SessionData{}, false
	}
	sd, ok := s.Decode(c.Value)
	if !ok {
		return &SessionData{}, false
	}
	return sd, true
}

func (s *Sessions) write(w http.ResponseWriter, sd *SessionData) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    s.Encode(sd),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(sessionMaxAge),
	})
}

func newCSRFToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
