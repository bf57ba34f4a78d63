package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func participantID(p Participant) string { return p.ID }

func TestParseBaseURL_DefaultsAndNormalizes(t *testing.T) {
	u, err := parseBaseURL("")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Scheme != "http" {
		t.Fatalf("scheme = %q, want http", u.Scheme)
	}
	if u.Host != defaultAPIURL {
		t.Fatalf("host = %q, want %q", u.Host, defaultAPIURL)
	}

	u, err = parseBaseURL("https://example.com:1234/path?x=1#frag")
	if err != nil {
		t.Fatalf("parseBaseURL returned error: %v", err)
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" {
		t.Fatalf("url not normalized: %q", u.String())
	}
}

func TestCollection_ListAcceptsArrayAndEnvelope(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values
	var gotUserAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case PathParticipants:
			_ = json.NewEncoder(w).Encode([]Participant{{ID: "p1", Name: "Ada"}, {ID: "p2", Name: "Grace"}})
		case PathSupportRequests:
			gotQuery = r.URL.Query()
			_, _ = w.Write([]byte(`{"items":[{"id":"s1","lab":"L1","message":"no wifi"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)

	people, err := NewCollection(c, PathParticipants, participantID).List(ctx, nil)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(people) != 2 || people[0].Name != "Ada" || people[1].ID != "p2" {
		t.Fatalf("List = %#v, want Ada and p2 in order", people)
	}

	requests := NewCollection(c, PathSupportRequests, func(s SupportRequest) string { return s.ID })
	scoped, err := requests.List(ctx, url.Values{"lab": {"L1"}})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(scoped) != 1 || scoped[0].Lab != "L1" {
		t.Fatalf("List = %#v, want one L1 request", scoped)
	}
	if gotQuery.Get("lab") != "L1" {
		t.Fatalf("query = %v, want lab=L1", gotQuery)
	}
	if !strings.HasPrefix(gotUserAgent, "hackops/") {
		t.Fatalf("User-Agent = %q, want hackops/*", gotUserAgent)
	}
}

func TestDecodeList_RejectsUnexpectedShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"scalar", `42`},
		{"object without items", `{"data":[]}`},
		{"non object element", `[{"id":"p1"}, "p2"]`},
		{"missing id", `[{"id":"p1"},{"name":"Ada"}]`},
		{"duplicate id", `[{"id":"p1"},{"id":"p1"}]`},
		{"wrong field type", `[{"id":"p1","name":7}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := decodeList([]byte(tc.body), participantID)
			if !errors.Is(err, ErrUnexpectedShape) {
				t.Fatalf("decodeList(%q) error = %v, want ErrUnexpectedShape", tc.body, err)
			}
		})
	}

	got, err := decodeList([]byte(`[]`), participantID)
	if err != nil || len(got) != 0 {
		t.Fatalf("decodeList([]) = %v, %v; want empty list", got, err)
	}

	// Fields the client does not model are tolerated; only type mismatches fail.
	got, err = decodeList([]byte(`[{"id":"p1","name":"Ada","updatedAt":"2026-01-02T03:04:05Z"}]`), participantID)
	if err != nil || len(got) != 1 || got[0].Name != "Ada" {
		t.Fatalf("decodeList(extra field) = %v, %v; want Ada", got, err)
	}
}

func TestClient_ExecBuildsWrites(t *testing.T) {
	t.Parallel()

	type seen struct {
		method, path, contentType, body string
	}
	var calls []seen
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, seen{r.Method, r.URL.Path, r.Header.Get("Content-Type"), string(body)})
		switch r.Method {
		case http.MethodDelete:
			_, _ = w.Write([]byte(`{"success":true}`))
		default:
			_, _ = w.Write(body)
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	coll := NewCollection(c, PathParticipants, participantID)
	ctx := context.Background()

	create, err := coll.CreateRequest(Participant{Name: "Ada"})
	if err != nil {
		t.Fatalf("CreateRequest returned error: %v", err)
	}
	update, err := coll.UpdateRequest("p 1", Participant{ID: "p 1", Name: "Ada L"})
	if err != nil {
		t.Fatalf("UpdateRequest returned error: %v", err)
	}
	patch, err := coll.PatchRequest("p1", map[string]any{"status": "checked_in"})
	if err != nil {
		t.Fatalf("PatchRequest returned error: %v", err)
	}
	for _, req := range []Request{create, update, patch, coll.DeleteRequest("p1")} {
		if err := c.Exec(ctx, req); err != nil {
			t.Fatalf("Exec(%s %s) returned error: %v", req.Method, req.Path, err)
		}
	}

	if len(calls) != 4 {
		t.Fatalf("server saw %d calls, want 4", len(calls))
	}
	if calls[0].method != http.MethodPost || calls[0].path != PathParticipants || calls[0].contentType != "application/json" {
		t.Fatalf("create call = %#v", calls[0])
	}
	if calls[1].method != http.MethodPut || calls[1].path != PathParticipants+"/p 1" {
		t.Fatalf("update call = %#v, want PUT on escaped item path", calls[1])
	}
	if calls[2].method != http.MethodPatch || !strings.Contains(calls[2].body, "checked_in") {
		t.Fatalf("patch call = %#v", calls[2])
	}
	if calls[3].method != http.MethodDelete || calls[3].body != "" {
		t.Fatalf("delete call = %#v", calls[3])
	}
}

func TestClient_ExecErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/labs":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"database unavailable"}`))
		case "/api/labs/allocate":
			_, _ = w.Write([]byte(`{"success":false,"message":"no labs configured"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	err = c.Exec(context.Background(), Request{Method: http.MethodPost, Path: "/api/labs", Body: []byte(`{}`)})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Code != 500 || statusErr.Message != "database unavailable" {
		t.Fatalf("Exec error = %v, want status 500 with message", err)
	}

	err = c.AllocateLabs(context.Background())
	if !errors.Is(err, ErrServerRejected) || !strings.Contains(err.Error(), "no labs configured") {
		t.Fatalf("AllocateLabs error = %v, want ErrServerRejected with message", err)
	}
}

func TestClient_MarkAttendanceValidatesAndPosts(t *testing.T) {
	t.Parallel()

	var got AttendanceRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathAttendance {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	ctx := context.Background()

	if err := c.MarkAttendance(ctx, AttendanceRequest{Mode: AttendanceGate}); err == nil {
		t.Fatalf("MarkAttendance with no ids returned nil error")
	}
	if err := c.MarkAttendance(ctx, AttendanceRequest{IDs: []string{"p1"}, Mode: "lunch"}); err == nil {
		t.Fatalf("MarkAttendance with unknown mode returned nil error")
	}
	req := AttendanceRequest{IDs: []string{"p1", "p2"}, Mode: AttendanceSnacks, Status: "present"}
	if err := c.MarkAttendance(ctx, req); err != nil {
		t.Fatalf("MarkAttendance returned error: %v", err)
	}
	if got.Mode != AttendanceSnacks || len(got.IDs) != 2 || got.Status != "present" {
		t.Fatalf("server decoded %#v, want snacks for 2 ids", got)
	}
}

func TestClient_SendsJarCookies(t *testing.T) {
	t.Parallel()

	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("hackathon_session"); err == nil {
			gotCookie = c.Value
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New: %v", err)
	}
	c, err := NewClient(server.URL, jar)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	jar.SetCookies(c.BaseURL(), []*http.Cookie{{Name: "hackathon_session", Value: "abc", Path: "/"}})

	if _, err := c.FetchSettings(context.Background()); err != nil {
		t.Fatalf("FetchSettings returned error: %v", err)
	}
	if gotCookie != "abc" {
		t.Fatalf("cookie = %q, want abc", gotCookie)
	}
}

func TestClient_FetchSettingsRequiresObject(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)

	c, err := NewClient(server.URL, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := c.FetchSettings(context.Background()); !errors.Is(err, ErrUnexpectedShape) {
		t.Fatalf("FetchSettings error = %v, want ErrUnexpectedShape", err)
	}
}
