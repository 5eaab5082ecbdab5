package docstatus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newStubServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/api/v1/knowledge-bases/kb1/documents/ok/status":
			_, _ = w.Write([]byte(`{"success":true,"data":{"status":"parsing","progress":40}}`))
		case "/api/v1/knowledge-bases/kb1/documents/failed/status":
			_, _ = w.Write([]byte(`{"success":true,"data":{"status":"failed","progress":10,"errorMessage":"unsupported format"}}`))
		case "/api/v1/knowledge-bases/kb1/documents/nope/status":
			_, _ = w.Write([]byte(`{"success":false,"message":"document not found"}`))
		case "/api/v1/knowledge-bases/kb1/documents/garbage/status":
			_, _ = w.Write([]byte(`{"success":`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
}

func TestDocumentStatus(t *testing.T) {
	srv := newStubServer(t)
	defer srv.Close()
	c := New(Options{BaseURL: srv.URL + "/", Token: "secret", Timeout: 2 * time.Second})
	ctx := context.Background()

	res, err := c.DocumentStatus(ctx, "kb1", "ok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StateParsing || res.Progress != 40 {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = c.DocumentStatus(ctx, "kb1", "failed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.State != StateFailed || res.ErrorMessage != "unsupported format" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestDocumentStatusErrors(t *testing.T) {
	srv := newStubServer(t)
	defer srv.Close()
	c := New(Options{BaseURL: srv.URL, Token: "secret"})
	ctx := context.Background()

	if _, err := c.DocumentStatus(ctx, "kb1", "nope"); !errors.Is(err, ErrUnsuccessful) {
		t.Fatalf("expected ErrUnsuccessful, got %v", err)
	}
	if _, err := c.DocumentStatus(ctx, "kb1", "garbage"); err == nil {
		t.Fatalf("expected decode error")
	}
	var statusErr *StatusError
	if _, err := c.DocumentStatus(ctx, "kb1", "missing"); !errors.As(err, &statusErr) || statusErr.Code != http.StatusInternalServerError {
		t.Fatalf("expected http 500 status error, got %v", err)
	}

	unauth := New(Options{BaseURL: srv.URL})
	if _, err := unauth.DocumentStatus(ctx, "kb1", "ok"); !errors.As(err, &statusErr) || statusErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected http 401 status error, got %v", err)
	}
}

func TestDocumentStatusHonoursContext(t *testing.T) {
	srv := newStubServer(t)
	defer srv.Close()
	c := New(Options{BaseURL: srv.URL, Token: "secret", RequestsPerSecond: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.DocumentStatus(ctx, "kb1", "ok"); err == nil {
		t.Fatalf("expected error for canceled context")
	}
}
