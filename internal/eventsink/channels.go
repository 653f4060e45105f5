package eventsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"

	"github.com/technosupport/visionserve/internal/model"
)

// HTTPChannel POSTs each Event as JSON to a fixed URL.
type HTTPChannel struct {
	name   string
	url    string
	client *http.Client
}

// NewHTTPChannel constructs an HTTP channel. A nil client defaults to
// one with a 5s timeout.
func NewHTTPChannel(name, url string, client *http.Client) *HTTPChannel {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPChannel{name: name, url: url, client: client}
}

func (h *HTTPChannel) Kind() Kind   { return KindHTTP }
func (h *HTTPChannel) Name() string { return h.name }
func (h *HTTPChannel) Close() error { return nil }

func (h *HTTPChannel) Send(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventsink(http): marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("eventsink(http): build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("eventsink(http): do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("eventsink(http): status %d", resp.StatusCode)
	}
	return nil
}

// WebSocketChannel fans events out to every currently-connected client,
// grounded on gorilla/websocket's standard connection-registry pattern.
type WebSocketChannel struct {
	name string

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewWebSocketChannel constructs an empty registry; clients register via
// Register/Unregister (e.g. called from the control API's upgrade
// handler, out of this package's scope).
func NewWebSocketChannel(name string) *WebSocketChannel {
	return &WebSocketChannel{name: name, clients: make(map[*websocket.Conn]bool)}
}

func (w *WebSocketChannel) Kind() Kind   { return KindWebSocket }
func (w *WebSocketChannel) Name() string { return w.name }

// Register adds a client connection to the broadcast set.
func (w *WebSocketChannel) Register(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.clients[conn] = true
}

// Unregister removes a client connection.
func (w *WebSocketChannel) Unregister(conn *websocket.Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.clients, conn)
}

func (w *WebSocketChannel) Send(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventsink(websocket): marshal: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.clients) == 0 {
		return fmt.Errorf("eventsink(websocket): no connected clients")
	}
	var lastErr error
	for conn := range w.clients {
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			lastErr = err
			delete(w.clients, conn)
			conn.Close()
		}
	}
	return lastErr
}

func (w *WebSocketChannel) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for conn := range w.clients {
		conn.Close()
		delete(w.clients, conn)
	}
	return nil
}

// MQTTChannel publishes each Event as JSON to a fixed topic via
// eclipse/paho.mqtt.golang.
type MQTTChannel struct {
	name   string
	topic  string
	client mqtt.Client
	qos    byte
}

// NewMQTTChannel wraps an already-connected paho client.
func NewMQTTChannel(name, topic string, client mqtt.Client, qos byte) *MQTTChannel {
	return &MQTTChannel{name: name, topic: topic, client: client, qos: qos}
}

func (m *MQTTChannel) Kind() Kind   { return KindMQTT }
func (m *MQTTChannel) Name() string { return m.name }
func (m *MQTTChannel) Close() error {
	m.client.Disconnect(250)
	return nil
}

func (m *MQTTChannel) Send(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventsink(mqtt): marshal: %w", err)
	}
	token := m.client.Publish(m.topic, m.qos, false, body)
	done := make(chan struct{})
	go func() { token.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("eventsink(mqtt): publish: %w", err)
	}
	return nil
}

// NATSChannel publishes each Event as JSON to a fixed subject, grounded
// on internal/nvr/nats_publisher.go's retry-with-backoff Publish method
// in the teacher repo (the sinkWorker in eventsink.go supplies the retry loop
// here, so this channel itself is a single-shot publish).
type NATSChannel struct {
	name    string
	subject string
	conn    *nats.Conn
}

// NewNATSChannel wraps an already-connected NATS conn.
func NewNATSChannel(name, subject string, conn *nats.Conn) *NATSChannel {
	return &NATSChannel{name: name, subject: subject, conn: conn}
}

func (n *NATSChannel) Kind() Kind   { return KindNATS }
func (n *NATSChannel) Name() string { return n.name }
func (n *NATSChannel) Close() error { n.conn.Close(); return nil }

func (n *NATSChannel) Send(ctx context.Context, ev model.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventsink(nats): marshal: %w", err)
	}
	if err := n.conn.Publish(n.subject, body); err != nil {
		return fmt.Errorf("eventsink(nats): publish: %w", err)
	}
	return nil
}
