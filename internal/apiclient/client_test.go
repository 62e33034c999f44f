package apiclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/iliyamo/marketplace-auth/internal/auth"
)

type seen struct {
	Method      string
	Path        string
	Query       string
	Auth        string
	ContentType string
	Body        string
}

type recorder struct {
	mu   sync.Mutex
	reqs []seen
}

func (r *recorder) last() seen {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs[len(r.reqs)-1]
}

func newServer(t *testing.T, h http.HandlerFunc) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.reqs = append(rec.reqs, seen{
			Method:      r.Method,
			Path:        r.URL.EscapedPath(),
			Query:       r.URL.RawQuery,
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
			Body:        string(b),
		})
		rec.mu.Unlock()
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL), rec
}

type booking struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func TestBearerFollowsCredential(t *testing.T) {
	c, rec := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	})
	ctx := context.Background()
	var rows []booking

	if err := c.List(ctx, "bookings", nil, &rows); err != nil {
		t.Fatal(err)
	}
	if got := rec.last().Auth; got != "" {
		t.Fatalf("anonymous request carried %q", got)
	}

	var sink auth.CredentialSink = c
	sink.SetBearer("tok-1")
	if !c.Authenticated() {
		t.Fatal("expected authenticated client")
	}
	if err := c.List(ctx, "bookings", nil, &rows); err != nil {
		t.Fatal(err)
	}
	if got := rec.last().Auth; got != "Bearer tok-1" {
		t.Fatalf("authorization = %q", got)
	}

	sink.ClearBearer()
	if err := c.List(ctx, "bookings", nil, &rows); err != nil {
		t.Fatal(err)
	}
	if got := rec.last().Auth; got != "" {
		t.Fatalf("cleared client still sent %q", got)
	}
}

func TestCollections(t *testing.T) {
	c, rec := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			if strings.HasSuffix(r.URL.Path, "/b1") {
				_, _ = w.Write([]byte(`{"id":"b1","status":"open"}`))
				return
			}
			_, _ = w.Write([]byte(`[{"id":"b1","status":"open"},{"id":"b2","status":"done"}]`))
		case http.MethodPost, http.MethodPatch:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"b3","status":"open"}`))
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	c.SetBearer("tok")
	ctx := context.Background()

	var rows []booking
	q := url.Values{"status": {"eq.open"}, "order": {"created_at.desc"}}
	if err := c.List(ctx, "bookings", q, &rows); err != nil {
		t.Fatal(err)
	}
	want := []booking{{ID: "b1", Status: "open"}, {ID: "b2", Status: "done"}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	if got := rec.last(); got.Path != "/rest/v1/bookings" || got.Query != q.Encode() {
		t.Fatalf("list request = %+v", got)
	}

	var one booking
	if err := c.Get(ctx, "bookings", "b1", &one); err != nil {
		t.Fatal(err)
	}
	if one.ID != "b1" {
		t.Fatalf("get = %+v", one)
	}

	var created booking
	if err := c.Create(ctx, "bookings", booking{Status: "open"}, &created); err != nil {
		t.Fatal(err)
	}
	got := rec.last()
	if got.Method != http.MethodPost || got.ContentType != "application/json" || created.ID != "b3" {
		t.Fatalf("create request = %+v, created = %+v", got, created)
	}
	var sent booking
	if err := json.Unmarshal([]byte(got.Body), &sent); err != nil || sent.Status != "open" {
		t.Fatalf("create body = %q", got.Body)
	}

	if err := c.Update(ctx, "bookings", "b3", map[string]string{"status": "done"}, nil); err != nil {
		t.Fatal(err)
	}
	if got := rec.last(); got.Method != http.MethodPatch || got.Path != "/rest/v1/bookings/b3" {
		t.Fatalf("update request = %+v", got)
	}

	if err := c.Delete(ctx, "bookings", "b3"); err != nil {
		t.Fatal(err)
	}
	if got := rec.last(); got.Method != http.MethodDelete || got.Body != "" {
		t.Fatalf("delete request = %+v", got)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		notFound     bool
		unauthorized bool
		message      string
	}{
		{"not found", http.StatusNotFound, `{"error":"no such row","code":"not_found"}`, true, false, "no such row"},
		{"unauthorized", http.StatusUnauthorized, `{"message":"jwt expired"}`, false, true, "jwt expired"},
		{"forbidden", http.StatusForbidden, ``, false, true, "Forbidden"},
		{"server", http.StatusInternalServerError, `oops`, false, false, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			var out booking
			err := c.Get(context.Background(), "bookings", "x", &out)
			if err == nil {
				t.Fatal("expected error")
			}
			if IsNotFound(err) != tt.notFound || IsUnauthorized(err) != tt.unauthorized {
				t.Fatalf("classification of %v is wrong", err)
			}
			if ae := err.(*Error); ae.Message != tt.message || ae.Status != tt.status {
				t.Fatalf("error = %+v", ae)
			}
		})
	}
}

func TestStorage(t *testing.T) {
	c, rec := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	c.SetBearer("tok")
	ctx := context.Background()

	err := c.Upload(ctx, "avatars", "/u1/me photo.png", "image/png", strings.NewReader("PNG"))
	if err != nil {
		t.Fatal(err)
	}
	want := seen{
		Method:      http.MethodPut,
		Path:        "/storage/v1/object/avatars/u1/me%20photo.png",
		Auth:        "Bearer tok",
		ContentType: "image/png",
		Body:        "PNG",
	}
	if diff := cmp.Diff(want, rec.last()); diff != "" {
		t.Fatalf("upload mismatch (-want +got):\n%s", diff)
	}

	if err := c.Upload(ctx, "docs", "a.bin", "", strings.NewReader("x")); err != nil {
		t.Fatal(err)
	}
	if got := rec.last().ContentType; got != "application/octet-stream" {
		t.Fatalf("default content type = %q", got)
	}

	if err := c.Remove(ctx, "avatars", "u1/me photo.png"); err != nil {
		t.Fatal(err)
	}
	if got := rec.last(); got.Method != http.MethodDelete || got.Path != "/storage/v1/object/avatars/u1/me%20photo.png" {
		t.Fatalf("remove request = %+v", got)
	}
}

func TestPublicURL(t *testing.T) {
	c := New("https://api.example.com/")
	got := c.PublicURL("avatars", "u1/me photo.png")
	want := "https://api.example.com/storage/v1/object/public/avatars/u1/me%20photo.png"
	if got != want {
		t.Fatalf("PublicURL = %q, want %q", got, want)
	}
}
