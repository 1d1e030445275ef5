package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/AtRiskMedia/visitstats/internal/domain/analytics"
	"github.com/AtRiskMedia/visitstats/internal/infrastructure/observability/logging"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 8
)

// RealtimeClient represents a single connected dashboard client.
type RealtimeClient struct {
	Conn *websocket.Conn
	Send chan []byte
}

// RealtimePayload is the message sent to clients on each tick.
type RealtimePayload struct {
	Type      string                   `json:"type"`
	Data      *analytics.RealtimeStats `json:"data"`
	Timestamp int64                    `json:"timestamp"`
}

// RealtimeBroadcaster manages connected clients and pushes realtime stats
// to them on a fixed interval.
type RealtimeBroadcaster struct {
	clients    map[*RealtimeClient]bool
	register   chan *RealtimeClient
	unregister chan *RealtimeClient
	done       chan struct{}
	source     RealtimeSource
	interval   time.Duration
	logger     *logging.ChanneledLogger
	mu         sync.RWMutex
}

// NewRealtimeBroadcaster creates a broadcaster; call Run to start it.
func NewRealtimeBroadcaster(source RealtimeSource, interval time.Duration, logger *logging.ChanneledLogger) *RealtimeBroadcaster {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RealtimeBroadcaster{
		clients:    make(map[*RealtimeClient]bool),
		register:   make(chan *RealtimeClient),
		unregister: make(chan *RealtimeClient),
		done:       make(chan struct{}),
		source:     source,
		interval:   interval,
		logger:     logger,
	}
}

// Run is the broadcaster's main loop. It returns when ctx is cancelled,
// closing every client's send channel.
func (b *RealtimeBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	defer b.closeAll()

	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			count := len(b.clients)
			b.mu.Unlock()
			b.logger.Realtime().Debug("Realtime client registered", "clients", count)

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client.Send)
			}
			count := len(b.clients)
			b.mu.Unlock()
			b.logger.Realtime().Debug("Realtime client unregistered", "clients", count)

		case <-ticker.C:
			b.broadcast(ctx)

		case <-ctx.Done():
			return
		}
	}
}

func (b *RealtimeBroadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.done)
	for client := range b.clients {
		close(client.Send)
		delete(b.clients, client)
	}
}

// Register queues a client for registration. It reports false once the
// broadcaster has stopped.
func (b *RealtimeBroadcaster) Register(client *RealtimeClient) bool {
	select {
	case b.register <- client:
		return true
	case <-b.done:
		return false
	}
}

// Unregister queues a client for removal.
func (b *RealtimeBroadcaster) Unregister(client *RealtimeClient) {
	select {
	case b.unregister <- client:
	case <-b.done:
	}
}

// ClientCount returns the number of registered clients.
func (b *RealtimeBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *RealtimeBroadcaster) broadcast(ctx context.Context) {
	if b.ClientCount() == 0 {
		return
	}

	payload := RealtimePayload{
		Type:      "realtime",
		Data:      b.source.GetRealtimeStats(ctx),
		Timestamp: time.Now().UnixMilli(),
	}
	message, err := json.Marshal(payload)
	if err != nil {
		b.logger.Realtime().Error("Failed to marshal realtime payload", "error", err.Error())
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		select {
		case client.Send <- message:
		default:
			b.logger.Realtime().Warn("Realtime client send buffer full, message dropped")
		}
	}
}

// Serve registers conn and pumps messages until either side closes.
func (b *RealtimeBroadcaster) Serve(conn *websocket.Conn) {
	client := &RealtimeClient{Conn: conn, Send: make(chan []byte, sendBuffer)}
	if !b.Register(client) {
		conn.Close()
		return
	}

	go b.writePump(client)
	b.readPump(client)
}

// readPump discards inbound messages and unregisters the client on error.
func (b *RealtimeBroadcaster) readPump(client *RealtimeClient) {
	defer func() {
		b.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Realtime().Debug("Realtime client read error", "error", err.Error())
			}
			return
		}
	}
}

func (b *RealtimeBroadcaster) writePump(client *RealtimeClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
