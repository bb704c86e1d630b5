package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"backend-findme/internal/observability"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	EventPosition = "position"
	EventHeading  = "heading"
	EventError    = "error"
	EventEnded    = "ended"
)

// Event is what subscribers of a session receive.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data,omitempty"`
	At        time.Time `json:"at"`
}

type Hub struct {
	id      string
	redis   *redis.Client
	pubsub  *redis.PubSub
	log     *slog.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	SessionID string
	Send      chan []byte
}

// relay wraps payloads sent through redis so a hub can drop its own echoes.
type relay struct {
	Origin  string `json:"origin"`
	Payload []byte `json:"payload"`
}

func NewHub(redisClient *redis.Client) *Hub {
	h := &Hub{
		id:      uuid.NewString(),
		redis:   redisClient,
		log:     slog.Default(),
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		h.pubsub = redisClient.PSubscribe(context.Background(), redisPattern)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := h.pubsub.Receive(ctx); err != nil {
			h.log.Warn("redis subscribe failed", "error", err)
		}
		go h.subscribeRedis(h.pubsub)
	}
	return h
}

func (h *Hub) WithLogger(l *slog.Logger) *Hub {
	if l != nil {
		h.log = l
	}
	return h
}

func (h *Hub) Register(sessionID string) *Client {
	client := &Client{
		SessionID: sessionID,
		Send:      make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[sessionID] == nil {
		h.clients[sessionID] = map[*Client]struct{}{}
	}
	h.clients[sessionID][client] = struct{}{}
	observability.StreamClients.Inc()
	return client
}

// Unregister removes the client and closes its Send channel. Clients
// already closed by CloseSession are left alone.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessionClients, ok := h.clients[client.SessionID]
	if !ok {
		return
	}
	if _, ok := sessionClients[client]; !ok {
		return
	}
	delete(sessionClients, client)
	if len(sessionClients) == 0 {
		delete(h.clients, client.SessionID)
	}
	close(client.Send)
	observability.StreamClients.Dec()
}

// Subscribe registers a client that is unregistered once ctx is done.
func (h *Hub) Subscribe(ctx context.Context, sessionID string) <-chan []byte {
	client := h.Register(sessionID)
	go func() {
		<-ctx.Done()
		h.Unregister(client)
	}()
	return client.Send
}

// CloseSession closes every subscription of the session.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients[sessionID] {
		close(client.Send)
		observability.StreamClients.Dec()
	}
	delete(h.clients, sessionID)
}

// Publish encodes the event and broadcasts it to the session.
func (h *Hub) Publish(ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.Broadcast(ev.SessionID, payload)
	return nil
}

func (h *Hub) Broadcast(sessionID string, payload []byte) {
	h.deliver(sessionID, payload)

	if h.redis != nil {
		msg, _ := json.Marshal(relay{Origin: h.id, Payload: payload})
		if err := h.redis.Publish(context.Background(), redisChannel(sessionID), msg).Err(); err != nil {
			observability.RelayErrors.Inc()
			h.log.Warn("redis publish error", "session_id", sessionID, "error", err)
		}
	}
}

func (h *Hub) deliver(sessionID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[sessionID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

// Close stops the redis relay.
func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	return h.pubsub.Close()
}

func (h *Hub) subscribeRedis(pubsub *redis.PubSub) {
	for msg := range pubsub.Channel() {
		var r relay
		if err := json.Unmarshal([]byte(msg.Payload), &r); err != nil || r.Origin == h.id {
			continue
		}
		h.deliver(sessionIDFromChannel(msg.Channel), r.Payload)
	}
}

const redisPattern = "tracking:*:broadcast"

func redisChannel(sessionID string) string {
	return "tracking:" + sessionID + ":broadcast"
}

func sessionIDFromChannel(ch string) string {
	// tracking:{session}:broadcast
	const prefix = "tracking:"
	const suffix = ":broadcast"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
