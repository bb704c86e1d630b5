package stream

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

type recordingIngestor struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (r *recordingIngestor) Ingest(_ context.Context, _ string, msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, string(msg))
	return r.err
}

func (r *recordingIngestor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func ownerMiddleware(sessionID string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("session_id", sessionID)
		return c.Next()
	}
}

func serve(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() { _ = app.Shutdown() })
	return ln.Addr().String()
}

func TestStreamHandlersUpgradeRequired(t *testing.T) {
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), NewHub(nil), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/stream/ws/session-1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode == http.StatusOK {
		t.Fatalf("expected non-200 for non-websocket request")
	}
}

func TestStreamHandlersWebsocketBroadcast(t *testing.T) {
	hub := NewHub(nil)
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, nil, nil)
	addr := serve(t, app)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/stream/ws/session-1", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	// registration happens after the upgrade completes
	time.Sleep(20 * time.Millisecond)
	hub.Broadcast("session-1", []byte("hello"))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(msg) != "hello" {
		t.Fatalf("unexpected message")
	}
}

func TestStreamHandlersIngestFromOwner(t *testing.T) {
	hub := NewHub(nil)
	ingest := &recordingIngestor{}
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, ingest, ownerMiddleware("session-1"))
	addr := serve(t, app)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/stream/ws/session-1", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heading","heading":90}`)); err != nil {
		t.Fatalf("write error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for ingest.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if ingest.count() != 1 {
		t.Fatalf("expected one ingested message, got %d", ingest.count())
	}
}

func TestStreamHandlersIngestErrorPublished(t *testing.T) {
	hub := NewHub(nil)
	ingest := &recordingIngestor{err: errors.New("bad message")}
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, ingest, ownerMiddleware("session-1"))
	addr := serve(t, app)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/stream/ws/session-1", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`)); err != nil {
		t.Fatalf("write error: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if !strings.Contains(string(msg), "ERROR: bad message") {
		t.Fatalf("expected error event, got %s", msg)
	}
}

func TestStreamHandlersViewerCannotIngest(t *testing.T) {
	hub := NewHub(nil)
	ingest := &recordingIngestor{}
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, ingest, ownerMiddleware("other-session"))
	addr := serve(t, app)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/stream/ws/session-1", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heading","heading":90}`))
	time.Sleep(50 * time.Millisecond)
	if ingest.count() != 0 {
		t.Fatalf("viewer messages must be ignored")
	}
}

func TestStreamHandlersSessionClosed(t *testing.T) {
	hub := NewHub(nil)
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, nil, nil)
	addr := serve(t, app)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/stream/ws/session-3", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond)
	hub.CloseSession("session-3")

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection closed after session end")
	}
}

func TestStreamHandlersWebsocketCloseMessage(t *testing.T) {
	hub := NewHub(nil)
	app := fiber.New()
	RegisterRoutes(app.Group("/stream"), hub, nil, nil)
	addr := serve(t, app)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/stream/ws/session-4", nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	conn.Close()

	hub.Broadcast("session-4", []byte("ping"))
	time.Sleep(20 * time.Millisecond)
}
