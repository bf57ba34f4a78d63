package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/five82/hackops/internal/kv"
)

func newJar(t *testing.T) *cookiejar.Jar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New: %v", err)
	}
	return jar
}

func mustBase(t *testing.T) *url.URL {
	t.Helper()
	u, err := url.Parse("http://127.0.0.1:3000")
	if err != nil {
		t.Fatalf("url.Parse: %v", err)
	}
	return u
}

func TestStore_SetSurvivesReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hackops.db")
	base := mustBase(t)

	db, err := kv.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	first, err := NewStore(Options{KV: db, Jar: newJar(t), BaseURL: base})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	want := Session{ID: "u1", Role: "coordinator", DisplayName: "Ada", Email: "ada@example.com", Lab: "L2"}
	if err := first.Set(ctx, &want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_ = db.Close()

	// Fresh process: new kv handle, new jar, new store.
	db2, err := kv.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite reopen: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })
	jar := newJar(t)
	second, err := NewStore(Options{KV: db2, Jar: jar, BaseURL: base})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got, err := second.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got == nil || !reflect.DeepEqual(*got, want) {
		t.Fatalf("Restore = %#v, want %#v", got, want)
	}
	if cur := second.Current(); cur == nil || *cur != want {
		t.Fatalf("Current = %#v, want %#v", cur, want)
	}
	cookies := jar.Cookies(base)
	if len(cookies) != 1 || cookies[0].Name != Key {
		t.Fatalf("jar cookies = %v, want one %s cookie", cookies, Key)
	}
	raw, err := url.QueryUnescape(cookies[0].Value)
	if err != nil {
		t.Fatalf("QueryUnescape(cookie): %v", err)
	}
	var decoded Session
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil || decoded != want {
		t.Fatalf("cookie session = %#v, %v; want %#v", decoded, err, want)
	}
}

func TestStore_LogoutClearsBothLocations(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	jar := newJar(t)
	base := mustBase(t)
	s, err := NewStore(Options{KV: mem, Jar: jar, BaseURL: base})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := s.Set(ctx, &Session{ID: "u1", Role: "admin"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(jar.Cookies(base)) != 1 {
		t.Fatalf("expected session cookie after Set")
	}
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if s.Current() != nil {
		t.Fatalf("Current = %#v after logout, want nil", s.Current())
	}
	if _, ok, _ := mem.Get(ctx, Key); ok {
		t.Fatalf("kv entry still present after logout")
	}
	if cookies := jar.Cookies(base); len(cookies) != 0 {
		t.Fatalf("jar cookies = %v after logout, want none", cookies)
	}
}

// stuckKV refuses deletes.
type stuckKV struct {
	*kv.Memory
}

func (stuckKV) Delete(context.Context, string) error {
	return errors.New("database is locked")
}

func TestStore_LogoutKeepsSessionWhenDeleteFails(t *testing.T) {
	ctx := context.Background()
	mem := stuckKV{Memory: kv.NewMemory()}
	jar := newJar(t)
	base := mustBase(t)
	s, err := NewStore(Options{KV: mem, Jar: jar, BaseURL: base})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Set(ctx, &Session{ID: "u1", Role: "admin"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := s.Logout(ctx); err == nil {
		t.Fatalf("Logout returned nil error, want delete failure")
	}
	if cur := s.Current(); cur == nil || cur.ID != "u1" {
		t.Fatalf("Current = %#v after failed logout, want u1", cur)
	}
	if len(jar.Cookies(base)) != 1 {
		t.Fatalf("session cookie cleared by failed logout")
	}
	if _, ok, _ := mem.Get(ctx, Key); !ok {
		t.Fatalf("kv entry missing after failed logout")
	}
}

func TestStore_RestoreDiscardsCorruptEntry(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	_ = mem.Put(ctx, Key, []byte("{not-json"))

	s, err := NewStore(Options{KV: mem})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	got, err := s.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore returned error %v, want nil for corrupt entry", err)
	}
	if got != nil || s.Current() != nil {
		t.Fatalf("Restore = %#v, want no session", got)
	}
	if _, ok, _ := mem.Get(ctx, Key); ok {
		t.Fatalf("corrupt entry was not discarded")
	}
}

func TestStore_WaitIsReleasedByRestore(t *testing.T) {
	s, err := NewStore(Options{KV: kv.NewMemory()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(short); err == nil {
		t.Fatalf("Wait returned nil before Restore")
	}

	done := make(chan error, 1)
	go func() { done <- s.Wait(context.Background()) }()
	if _, err := s.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Wait not released by Restore")
	}

	// A second Restore must not panic on the closed barrier.
	if _, err := s.Restore(context.Background()); err != nil {
		t.Fatalf("second Restore: %v", err)
	}
}

func TestSession_Class(t *testing.T) {
	cases := []struct {
		role string
		want Class
	}{
		{"admin", ClassElevated},
		{" Organizer ", ClassElevated},
		{"coordinator", ClassField},
		{"FACULTY", ClassField},
		{"participant", ClassParticipant},
		{"", ClassParticipant},
	}
	for _, tc := range cases {
		if got := (Session{Role: tc.role}).Class(); got != tc.want {
			t.Fatalf("Class(%q) = %v, want %v", tc.role, got, tc.want)
		}
	}
}

func TestCookieAttributes(t *testing.T) {
	c := Cookie("v", int(cookieMaxAge/time.Second))
	if c.Path != "/" || c.MaxAge != 30*24*60*60 || c.Name != Key {
		t.Fatalf("cookie = %#v, want path=/ 30 day max-age", c)
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("SameSite = %v, want Lax", c.SameSite)
	}
	if expired := Cookie("", -1); expired.MaxAge >= 0 {
		t.Fatalf("clearing cookie MaxAge = %d, want negative", expired.MaxAge)
	}
}

func TestNewStore_RequiresKV(t *testing.T) {
	if _, err := NewStore(Options{}); err == nil {
		t.Fatalf("NewStore without kv returned nil error")
	}
}
