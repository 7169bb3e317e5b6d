package client

import (
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
)

// serveUnix serves h on a unix socket and returns a Client for it.
func serveUnix(t *testing.T, h http.Handler) *Client {
	t.Helper()

	sock := filepath.Join(t.TempDir(), "lockbox.sock")
	l, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	srv := &http.Server{Handler: h}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	return NewClient(sock)
}

func TestClientDaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	if _, err := c.GetVersion(); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestClientRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `"v1.2.3"`)
	})
	mux.HandleFunc("/lockboxes/laser/state", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if r.Method != http.MethodPut || string(b) != `"sweep"` {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `"unexpected request"`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"name":"laser","state":"sweep"}`)
	})
	mux.HandleFunc("/lockboxes/laser/outputs/output1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Query().Get("allowRemoveLast") != "true" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `"cannot remove output1"`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"name":"laser","state":"unlock"}`)
	})
	mux.HandleFunc("/lockboxes/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `"lockbox \"missing\": not found"`)
	})
	c := serveUnix(t, mux)

	v, err := c.GetVersion()
	if err != nil || v != "v1.2.3" {
		t.Fatalf("GetVersion = %q, %v", v, err)
	}

	st, err := c.SetState("laser", "sweep")
	if err != nil {
		t.Fatalf("SetState failed: %v", err)
	}
	if st.State != "sweep" {
		t.Fatalf("unexpected state %q", st.State)
	}

	if _, err := c.RemoveOutput("laser", "output1", false); err == nil {
		t.Fatalf("expected removal without allowRemoveLast to fail")
	}
	if _, err := c.RemoveOutput("laser", "output1", true); err != nil {
		t.Fatalf("RemoveOutput failed: %v", err)
	}

	if _, err := c.GetLockbox("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := c.Send("PATCH", "/version", ""); err == nil {
		t.Fatalf("expected unknown method to fail")
	}
}
