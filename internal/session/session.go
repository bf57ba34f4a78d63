// Package session holds the authenticated identity of this client and keeps it
// durable across restarts.
//
// The identity is written to two places: the client-local key/value store
// (read back by Restore on the next start) and a cookie in the API client's jar
// (sent with every request so the server can gate routes). No server round-trip
// is made here; the identity is trusted as returned by a prior login call and
// authorization stays with the server.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/five82/hackops/internal/kv"
)

const (
	// Key names both the kv entry and the cookie.
	Key = "hackathon_session"

	cookieMaxAge = 30 * 24 * time.Hour
)

// Session is the identity returned by login.
type Session struct {
	ID          string `json:"id"`
	Role        string `json:"role"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Team        string `json:"team,omitempty"`
	Lab         string `json:"lab,omitempty"`
}

// Class groups roles by what they are allowed to see.
type Class int

const (
	ClassParticipant Class = iota
	ClassField
	ClassElevated
)

// Class maps the free-form role onto a refresh class.
func (s Session) Class() Class {
	switch strings.ToLower(strings.TrimSpace(s.Role)) {
	case "admin", "organizer", "superadmin":
		return ClassElevated
	case "coordinator", "faculty", "volunteer":
		return ClassField
	default:
		return ClassParticipant
	}
}

func (c Class) String() string {
	switch c {
	case ClassElevated:
		return "elevated"
	case ClassField:
		return "field"
	default:
		return "participant"
	}
}

// Store owns the live session. At most one session is active at a time.
type Store struct {
	kv   kv.Store
	jar  http.CookieJar
	base *url.URL
	log  *logrus.Entry

	mu      sync.RWMutex
	current *Session

	once     sync.Once
	restored chan struct{}
}

// Options configure a Store.
type Options struct {
	KV      kv.Store
	Jar     http.CookieJar // optional
	BaseURL *url.URL       // cookie scope; required when Jar is set
	Log     *logrus.Entry
}

// NewStore builds an empty Store. Call Restore once at startup.
func NewStore(opts Options) (*Store, error) {
	if opts.KV == nil {
		return nil, fmt.Errorf("session store requires a kv store")
	}
	if opts.Jar != nil && opts.BaseURL == nil {
		return nil, fmt.Errorf("session cookie requires a base url")
	}
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{
		kv:       opts.KV,
		jar:      opts.Jar,
		base:     opts.BaseURL,
		log:      log.WithField("component", "session"),
		restored: make(chan struct{}),
	}, nil
}

// Current returns a copy of the active session, or nil.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	dup := *s.current
	return &dup
}

// Set makes sess the active session and persists it; nil clears both the kv
// entry and the cookie.
func (s *Store) Set(ctx context.Context, sess *Session) error {
	if sess == nil {
		// Keep the live session until the persisted copy is gone.
		if err := s.kv.Delete(ctx, Key); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		s.writeCookie("", -1)
		return nil
	}

	dup := *sess
	data, err := json.Marshal(dup)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.kv.Put(ctx, Key, data); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.writeCookie(url.QueryEscape(string(data)), int(cookieMaxAge/time.Second))

	s.mu.Lock()
	s.current = &dup
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"user": dup.ID, "role": dup.Role}).Info("session set")
	return nil
}

// Logout clears the session.
func (s *Store) Logout(ctx context.Context) error {
	return s.Set(ctx, nil)
}

// Restore loads the persisted session. A corrupt entry is discarded and the
// session stays empty. Whatever the outcome, Restore releases Wait.
func (s *Store) Restore(ctx context.Context) (*Session, error) {
	defer s.once.Do(func() { close(s.restored) })

	data, ok, err := s.kv.Get(ctx, Key)
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}
	if !ok || len(data) == 0 {
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil || strings.TrimSpace(sess.ID) == "" {
		s.log.WithError(err).Warn("discarding corrupt persisted session")
		if delErr := s.kv.Delete(ctx, Key); delErr != nil {
			s.log.WithError(delErr).Warn("could not delete corrupt session")
		}
		s.writeCookie("", -1)
		return nil, nil
	}

	s.mu.Lock()
	s.current = &sess
	s.mu.Unlock()
	// Re-issue the cookie so the jar matches the restored identity.
	s.writeCookie(url.QueryEscape(string(data)), int(cookieMaxAge/time.Second))
	dup := sess
	return &dup, nil
}

// Wait blocks until Restore has completed or ctx ends.
func (s *Store) Wait(ctx context.Context) error {
	select {
	case <-s.restored:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cookie builds the cookie carrying value; exported for servers and tests
// that need the exact attributes.
func Cookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     Key,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		c.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	} else {
		c.Expires = time.Unix(0, 0)
	}
	return c
}

func (s *Store) writeCookie(value string, maxAge int) {
	if s.jar == nil {
		return
	}
	s.jar.SetCookies(s.base, []*http.Cookie{Cookie(value, maxAge)})
}
