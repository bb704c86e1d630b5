package stream

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// Ingestor consumes source messages pushed by the device over the socket.
type Ingestor interface {
	Ingest(ctx context.Context, sessionID string, msg []byte) error
}

const ingestTimeout = 5 * time.Second

// RegisterRoutes mounts the session websocket. Every connection receives the
// session's events. Messages sent by a connection are passed to ingest only
// when the upgrade request carried that session's token (locals "session_id").
func RegisterRoutes(r fiber.Router, hub *Hub, ingest Ingestor, authMiddleware fiber.Handler) {
	handlers := []fiber.Handler{}
	if authMiddleware != nil {
		handlers = append(handlers, authMiddleware)
	}
	handlers = append(handlers, websocket.New(func(c *websocket.Conn) {
		sessionID := c.Params("sessionID")
		owner, _ := c.Locals("session_id").(string)
		canIngest := ingest != nil && owner != "" && owner == sessionID

		client := hub.Register(sessionID)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
			_ = c.Close()
		}()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				break
			}
			if !canIngest {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
			err = ingest.Ingest(ctx, sessionID, msg)
			cancel()
			if err != nil {
				_ = hub.Publish(Event{
					Type:      EventError,
					SessionID: sessionID,
					Data:      fiber.Map{"message": "ERROR: " + err.Error()},
				})
			}
		}
		hub.Unregister(client)
		<-done
	}))

	r.Get("/ws/:sessionID", handlers...)
}
