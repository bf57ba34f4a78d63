package outbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/five82/hackops/internal/api"
	"github.com/five82/hackops/internal/kv"
	"github.com/five82/hackops/internal/netcall"
)

func openQueue(t *testing.T, store kv.Store, maxAttempts int) *Queue {
	t.Helper()
	q, err := Open(context.Background(), Options{KV: store, MaxAttempts: maxAttempts})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	return q
}

func post(path string) api.Request {
	return api.Request{Method: http.MethodPost, Path: path}
}

func TestDrain_ReplaysInOrderOneAtATime(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, kv.NewMemory(), 3)
	for _, p := range []string{"/a", "/b", "/c"} {
		if _, err := q.Enqueue(ctx, "write "+p, "", post(p)); err != nil {
			t.Fatalf("Enqueue returned error: %v", err)
		}
	}

	var (
		mu      sync.Mutex
		active  int
		events  []string
		overlap bool
	)
	exec := func(_ context.Context, req api.Request) error {
		mu.Lock()
		active++
		if active > 1 {
			overlap = true
		}
		events = append(events, "start "+req.Path)
		mu.Unlock()

		mu.Lock()
		events = append(events, "end "+req.Path)
		active--
		mu.Unlock()
		return nil
	}

	report, err := q.Drain(ctx, exec)
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if report.Replayed != 3 || report.Remaining != 0 {
		t.Fatalf("report = %#v, want 3 replayed and none remaining", report)
	}
	want := []string{"start /a", "end /a", "start /b", "end /b", "start /c", "end /c"}
	if fmt.Sprint(events) != fmt.Sprint(want) || overlap {
		t.Fatalf("events = %v, want %v with no overlap", events, want)
	}
}

func TestDrain_StopsAtFirstFailureAndDeadLetters(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, kv.NewMemory(), 2)
	_, _ = q.Enqueue(ctx, "first", "", post("/a"))
	_, _ = q.Enqueue(ctx, "second", "", post("/b"))

	var sent []string
	exec := func(_ context.Context, req api.Request) error {
		sent = append(sent, req.Path)
		if req.Path == "/a" {
			return errors.New("boom")
		}
		return nil
	}

	report, err := q.Drain(ctx, exec)
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if report.Failed != 1 || report.Replayed != 0 || report.Remaining != 2 {
		t.Fatalf("first report = %#v, want one failure and both remaining", report)
	}
	if fmt.Sprint(sent) != "[/a]" {
		t.Fatalf("sent = %v, want only /a", sent)
	}
	if got := q.Pending()[0]; got.Attempts != 1 || got.LastError != "boom" {
		t.Fatalf("pending head = %#v, want one attempt recorded", got)
	}

	report, err = q.Drain(ctx, exec)
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if report.DeadLettered != 1 || report.Replayed != 1 || report.Remaining != 0 {
		t.Fatalf("second report = %#v, want /a dead and /b replayed", report)
	}
	dead := q.Dead()
	if len(dead) != 1 || dead[0].Request.Path != "/a" || dead[0].Status != StatusDead {
		t.Fatalf("Dead = %#v, want /a", dead)
	}

	if err := q.Requeue(ctx, dead[0].ID); err != nil {
		t.Fatalf("Requeue returned error: %v", err)
	}
	if p := q.Pending(); len(p) != 1 || p[0].Attempts != 0 {
		t.Fatalf("Pending after Requeue = %#v", p)
	}
	if err := q.Discard(ctx, dead[0].ID); err != nil {
		t.Fatalf("Discard returned error: %v", err)
	}
	if len(q.Pending())+len(q.Dead()) != 0 {
		t.Fatalf("queue not empty after Discard")
	}
}

func TestDrain_OfflineLeavesEntriesUntouched(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, kv.NewMemory(), 2)
	_, _ = q.Enqueue(ctx, "first", "", post("/a"))

	report, err := q.Drain(ctx, func(context.Context, api.Request) error {
		return fmt.Errorf("replay: %w", netcall.ErrOffline)
	})
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if report.Failed != 0 || report.Remaining != 1 {
		t.Fatalf("report = %#v, want nothing counted", report)
	}
	if got := q.Pending()[0].Attempts; got != 0 {
		t.Fatalf("Attempts = %d, want 0", got)
	}
}

func TestDrain_NotReentrant(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, kv.NewMemory(), 2)
	_, _ = q.Enqueue(ctx, "first", "", post("/a"))

	var inner DrainReport
	_, err := q.Drain(ctx, func(ctx context.Context, _ api.Request) error {
		inner, _ = q.Drain(ctx, func(context.Context, api.Request) error { return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("Drain returned error: %v", err)
	}
	if !inner.Skipped {
		t.Fatalf("nested Drain = %#v, want Skipped", inner)
	}
}

func TestOpen_RestoresPersistedQueue(t *testing.T) {
	ctx := context.Background()
	store, err := kv.OpenSQLite(t.TempDir() + "/hackops.db")
	if err != nil {
		t.Fatalf("OpenSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	q := openQueue(t, store, 4)
	_, _ = q.Enqueue(ctx, "create Ada", "new-1", api.Request{Method: http.MethodPost, Path: api.PathParticipants, Body: []byte(`{"name":"Ada"}`)})
	_, _ = q.Enqueue(ctx, "delete p1", "p1", post("/x"))

	reopened := openQueue(t, store, 4)
	pending := reopened.Pending()
	if len(pending) != 2 {
		t.Fatalf("Pending after reopen = %d entries, want 2", len(pending))
	}
	if pending[0].Label != "create Ada" || string(pending[0].Request.Body) != `{"name":"Ada"}` || pending[0].MaxAttempts != 4 {
		t.Fatalf("head after reopen = %#v", pending[0])
	}
}

func TestOpen_DiscardsCorruptQueue(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	_ = store.Put(ctx, Key, []byte("{not json"))

	q := openQueue(t, store, 2)
	if len(q.Pending()) != 0 {
		t.Fatalf("Pending = %v, want empty", q.Pending())
	}
	if _, ok, _ := store.Get(ctx, Key); ok {
		t.Fatalf("corrupt outbox entry was not removed")
	}
}

func TestSupersede(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, kv.NewMemory(), 2)
	_, _ = q.Enqueue(ctx, "create", "new-1", post("/a"))
	_, _ = q.Enqueue(ctx, "other", "p2", post("/b"))

	n, err := q.Supersede(ctx, "new-1", "")
	if err != nil {
		t.Fatalf("Supersede returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("Supersede removed %d, want 1", n)
	}
	if p := q.Pending(); len(p) != 1 || p[0].Ref != "p2" {
		t.Fatalf("Pending = %#v, want only p2", p)
	}
	if n, _ := q.Supersede(ctx, "", ""); n != 0 {
		t.Fatalf("Supersede(\"\") removed %d, want 0", n)
	}
}

func TestSupersedeKeepsNewestEntry(t *testing.T) {
	ctx := context.Background()
	q := openQueue(t, kv.NewMemory(), 2)
	_, _ = q.Enqueue(ctx, "update settings", "settings", post("/settings-1"))
	_, _ = q.Enqueue(ctx, "add lab", "new-9", post("/labs"))
	newest, err := q.Enqueue(ctx, "update settings", "settings", post("/settings-2"))
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}

	n, err := q.Supersede(ctx, "settings", newest.ID)
	if err != nil || n != 1 {
		t.Fatalf("Supersede = %d, %v; want 1 removed", n, err)
	}
	p := q.Pending()
	if len(p) != 2 || p[0].Ref != "new-9" || p[1].ID != newest.ID || p[1].Request.Path != "/settings-2" {
		t.Fatalf("Pending = %#v, want add lab then the newest settings write", p)
	}
}
