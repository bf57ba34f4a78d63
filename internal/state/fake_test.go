package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/five82/hackops/internal/api"
	"github.com/five82/hackops/internal/kv"
	"github.com/five82/hackops/internal/metrics"
	"github.com/five82/hackops/internal/netcall"
	"github.com/five82/hackops/internal/outbox"
	"github.com/five82/hackops/internal/session"
)

// fakeAPI is a small in-memory stand-in for the event-operations API.
type fakeAPI struct {
	mu       sync.Mutex
	records  map[string][]map[string]any // collection path -> records
	settings map[string]any
	fail     map[string]bool   // "METHOD /path" -> respond 500
	raw      map[string]string // "METHOD /path" -> literal body
	hold     map[string]chan struct{}
	arrived  chan string
	hits     []string
	nextID   int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		records: map[string][]map[string]any{
			api.PathParticipants:    {},
			api.PathCoordinators:    {},
			api.PathLabs:            {},
			api.PathSupportRequests: {},
			api.PathLogs:            {},
		},
		settings: map[string]any{"eventName": "HackOps", "registrationOpen": true},
		fail:     map[string]bool{},
		raw:      map[string]string{},
		hold:     map[string]chan struct{}{},
		arrived:  make(chan string, 16),
	}
}

func (f *fakeAPI) seed(path string, recs ...map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[path] = append(f.records[path], recs...)
}

func (f *fakeAPI) failOn(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[key] = true
}

// holdOn makes requests matching key wait until the returned channel is
// closed. Each held request is announced on f.arrived.
func (f *fakeAPI) holdOn(key string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.hold[key] = ch
	return ch
}

func (f *fakeAPI) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.hits...)
}

func (f *fakeAPI) count(key string) int {
	n := 0
	for _, h := range f.requests() {
		if h == key {
			n++
		}
	}
	return n
}

func (f *fakeAPI) list(path string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.records[path]...)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	hit := key
	if r.URL.RawQuery != "" {
		hit += "?" + r.URL.RawQuery
	}
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.hits = append(f.hits, hit)
	held := f.hold[key]
	failing := f.fail[key]
	raw, hasRaw := f.raw[key]
	f.mu.Unlock()

	if held != nil {
		f.arrived <- key
		<-held
	}
	if failing {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"forced failure"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if hasRaw {
		_, _ = w.Write([]byte(raw))
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == api.PathSettings {
		if r.Method == http.MethodPut {
			var next map[string]any
			_ = json.Unmarshal(body, &next)
			f.settings = next
		}
		_ = json.NewEncoder(w).Encode(f.settings)
		return
	}

	coll, id := splitPath(r.URL.Path)
	recs, ok := f.records[coll]
	if !ok {
		http.NotFound(w, r)
		return
	}
	switch {
	case r.Method == http.MethodGet && id == "":
		out := recs
		if lab := r.URL.Query().Get("lab"); lab != "" {
			out = nil
			for _, rec := range recs {
				if rec["lab"] == lab {
					out = append(out, rec)
				}
			}
		}
		if out == nil {
			out = []map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(out)
	case r.Method == http.MethodPost && id == "":
		var rec map[string]any
		if err := json.Unmarshal(body, &rec); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.nextID++
		rec["id"] = fmt.Sprintf("srv-%d", f.nextID)
		f.records[coll] = append(recs, rec)
		_ = json.NewEncoder(w).Encode(rec)
	case r.Method == http.MethodPut && id != "":
		var rec map[string]any
		_ = json.Unmarshal(body, &rec)
		for i, existing := range recs {
			if existing["id"] == id {
				rec["id"] = id
				recs[i] = rec
				_ = json.NewEncoder(w).Encode(rec)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodPatch && id != "":
		var fields map[string]any
		_ = json.Unmarshal(body, &fields)
		for _, existing := range recs {
			if existing["id"] == id {
				for k, v := range fields {
					existing[k] = v
				}
				_ = json.NewEncoder(w).Encode(existing)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
	case r.Method == http.MethodDelete && id != "":
		kept := recs[:0:0]
		for _, existing := range recs {
			if existing["id"] != id {
				kept = append(kept, existing)
			}
		}
		f.records[coll] = kept
		_, _ = w.Write([]byte(`{"success":true}`))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func splitPath(p string) (coll, id string) {
	for _, c := range []string{api.PathParticipants, api.PathCoordinators, api.PathLabs, api.PathSupportRequests, api.PathLogs} {
		if p == c {
			return c, ""
		}
		if strings.HasPrefix(p, c+"/") {
			return c, strings.TrimPrefix(p, c+"/")
		}
	}
	return p, ""
}

// flakyKV fails writes while failPuts is set.
type flakyKV struct {
	*kv.Memory
	failPuts atomic.Bool
}

func (f *flakyKV) Put(ctx context.Context, key string, value []byte) error {
	if f.failPuts.Load() {
		return errors.New("disk full")
	}
	return f.Memory.Put(ctx, key, value)
}

type harness struct {
	api     *fakeAPI
	store   *Store
	monitor *netcall.Monitor
	outbox  *outbox.Queue
	kv      *flakyKV
	logs    *test.Hook
}

type harnessOptions struct {
	session      *session.Session
	queueOffline bool
	metrics      *metrics.Recorder
	// queued is written to the outbox before the store starts, as if left
	// over from a previous run.
	queued []api.Request
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	ctx := context.Background()

	fake := newFakeAPI()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	log := logrus.NewEntry(logger)

	client, err := api.NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	store := &flakyKV{Memory: kv.NewMemory()}
	sessions, err := session.NewStore(session.Options{KV: store, Log: log})
	if err != nil {
		t.Fatalf("session.NewStore returned error: %v", err)
	}
	if opts.session != nil {
		if err := sessions.Set(ctx, opts.session); err != nil {
			t.Fatalf("Set returned error: %v", err)
		}
	}
	if _, err := sessions.Restore(ctx); err != nil {
		t.Fatalf("Restore returned error: %v", err)
	}

	monitor := netcall.NewMonitor(netcall.MonitorOptions{Log: log})
	if len(opts.queued) > 0 {
		prev, err := outbox.Open(ctx, outbox.Options{KV: store, MaxAttempts: 3, Log: log})
		if err != nil {
			t.Fatalf("outbox.Open returned error: %v", err)
		}
		for _, req := range opts.queued {
			if _, err := prev.Enqueue(ctx, "queued "+req.Method, "", req); err != nil {
				t.Fatalf("Enqueue returned error: %v", err)
			}
		}
	}
	queue, err := outbox.Open(ctx, outbox.Options{KV: store, MaxAttempts: 3, Log: log})
	if err != nil {
		t.Fatalf("outbox.Open returned error: %v", err)
	}
	s, err := New(Options{
		Client:             client,
		Session:            sessions,
		Monitor:            monitor,
		Outbox:             queue,
		Log:                log,
		Metrics:            opts.metrics,
		QueueOfflineWrites: opts.queueOffline,
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(s.Dispose)
	return &harness{api: fake, store: s, monitor: monitor, outbox: queue, kv: store, logs: hook}
}

func participantNames(items []api.Participant) []string {
	out := make([]string, 0, len(items))
	for _, p := range items {
		out = append(out, p.Name)
	}
	return out
}
