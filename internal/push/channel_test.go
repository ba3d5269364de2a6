package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/taskbridge/taskbridge-client/internal/apperror"
	"github.com/taskbridge/taskbridge-client/internal/job"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newPushServer runs session once per connection and closes the socket when
// it returns.
func newPushServer(t *testing.T, session func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		session(conn)
	}))
}

func sendClose(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	// Give the peer a moment to read the close frame before teardown.
	time.Sleep(20 * time.Millisecond)
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://127.0.0.1:8000", "ws://127.0.0.1:8000/ws"},
		{"http://127.0.0.1:8000/", "ws://127.0.0.1:8000/ws"},
		{"https://jobs.example.com", "wss://jobs.example.com/ws"},
	}
	for _, tt := range tests {
		if got := URL(tt.base); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestChannel_AppliesSnapshots(t *testing.T) {
	first := `[{"job_id": "a", "filename": "a.dat", "status": "Queued", "user_id": "u", "started_at": "2026-08-30T10:00:00+00:00", "progress": 10}]`
	second := `[{"job_id": "a", "filename": "a.dat", "status": "Running", "user_id": "u", "started_at": "2026-08-30T10:00:00+00:00", "progress": 60}]`

	ts := newPushServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(first))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(second))
		sendClose(conn)
	})
	defer ts.Close()

	store := job.NewStore()
	ch := New(wsURL(ts))
	if err := ch.Run(context.Background(), store); err != nil {
		t.Fatalf("expected clean close, got %v", err)
	}

	if ch.State() != StateClosed {
		t.Errorf("expected closed state, got %s", ch.State())
	}
	got, ok := store.Get("a")
	if !ok {
		t.Fatal("expected record a in store")
	}
	if got.Status != job.StatusRunning || got.Progress != 60 {
		t.Errorf("expected the last snapshot to win, got %+v", got)
	}
}

// staleSink reports a generation that is always behind, so every replace is
// rejected the way a post-clear store rejects pre-clear pushes.
type staleSink struct {
	applied atomic.Int64
}

func (s *staleSink) Generation() uint64 { return 0 }

func (s *staleSink) ReplaceAll(gen uint64, records []job.Record) bool {
	if gen != 1 { // the sink's "current" generation
		return false
	}
	s.applied.Add(1)
	return true
}

func TestChannel_HonorsStaleSuppression(t *testing.T) {
	ts := newPushServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[]`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`[]`))
		sendClose(conn)
	})
	defer ts.Close()

	sink := &staleSink{}
	if err := New(wsURL(ts)).Run(context.Background(), sink); err != nil {
		t.Fatalf("suppressed pushes must not fail the session: %v", err)
	}
	if n := sink.applied.Load(); n != 0 {
		t.Errorf("expected all pushes suppressed, %d applied", n)
	}
}

func TestChannel_InvalidPayloadSkipped(t *testing.T) {
	snapshot := `[{"job_id": "a", "filename": "a.dat", "status": "Queued", "user_id": "u", "started_at": "2026-08-30T10:00:00+00:00", "progress": 10}]`
	ts := newPushServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not-json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(snapshot))
		sendClose(conn)
	})
	defer ts.Close()

	store := job.NewStore()
	if err := New(wsURL(ts)).Run(context.Background(), store); err != nil {
		t.Fatalf("a malformed message must not end the session: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("expected the valid snapshot applied, store has %d records", store.Len())
	}
}

func TestChannel_AbnormalClose(t *testing.T) {
	ts := newPushServer(t, func(conn *websocket.Conn) {
		// Drop the TCP connection without a close frame.
		_ = conn.UnderlyingConn().Close()
	})
	defer ts.Close()

	err := New(wsURL(ts)).Run(context.Background(), job.NewStore())
	code, ok := apperror.CodeOf(err)
	if !ok || code != apperror.Channel {
		t.Fatalf("expected channel error, got %v", err)
	}
}

func TestChannel_DialFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no websocket here", http.StatusNotFound)
	}))
	defer ts.Close()

	err := New(wsURL(ts)).Run(context.Background(), job.NewStore())
	code, ok := apperror.CodeOf(err)
	if !ok || code != apperror.Channel {
		t.Fatalf("expected channel error, got %v", err)
	}
}

func TestChannel_ContextCancelStopsSession(t *testing.T) {
	release := make(chan struct{})
	ts := newPushServer(t, func(conn *websocket.Conn) {
		<-release
	})
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	ch := New(wsURL(ts))
	go func() { done <- ch.Run(ctx, job.NewStore()) }()

	// Wait for the session to open before cancelling.
	deadline := time.After(2 * time.Second)
	for ch.State() != StateOpen {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the channel to open")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("cancellation is a clean close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return after cancel")
	}
}
