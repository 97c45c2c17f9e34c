package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/buildflow/internal/events"
	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

type (
	// Client represents a WebSocket client connection for event streaming
	Client struct {
		conn      *websocket.Conn
		consumer  topic.Consumer[*api.Event]
		filter    events.EventFilter
		getRun    RunFunc
		closeOnce sync.Once
	}

	// RunFunc retrieves the current record of a run. It is used to send the
	// state of subscribed runs before their events start flowing
	RunFunc func(context.Context, api.RunID) (*api.RunRecord, error)
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 4096
	wsBufferSize       = 1024
	incomingBufferSize = 16

	messageSubscribe  = "subscribe"
	messageSubscribed = "subscribed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket upgrades an HTTP connection to WebSocket and starts
// streaming events based on client subscriptions. Nothing is sent until the
// client subscribes
func HandleWebSocket(
	hub *events.Hub, w http.ResponseWriter, r *http.Request, getRun RunFunc,
) *Client {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return nil
	}

	return &Client{
		conn:     conn,
		consumer: hub.NewConsumer(),
		filter:   func(*api.Event) bool { return false },
		getRun:   getRun,
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	client := HandleWebSocket(s.hub, c.Writer, c.Request, s.engine.GetRun)
	if client == nil {
		return
	}
	s.registerWebSocket(client)
	go func() {
		defer s.unregisterWebSocket(client)
		client.Run()
	}()
}

// Run pumps events to the connection until either side closes it
func (c *Client) Run() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			c.handleSubscribe(message)

		case event, ok := <-c.consumer.Receive():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.sendEventIfMatched(event) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

// Close ends the subscription and closes the connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.consumer.Close()
		_ = c.conn.Close()
	})
}

func (c *Client) readMessages(incoming chan []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		incoming <- message
	}
}

func (c *Client) handleSubscribe(message []byte) {
	var sub api.SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		slog.Error("Failed to parse WebSocket message",
			log.Error(err))
		return
	}

	if sub.Type != messageSubscribe {
		return
	}

	c.filter = events.BuildFilter(&sub.Data)
	c.sendSubscribed(sub.Data.RunIDs)
}

func (c *Client) sendSubscribed(ids []api.RunID) {
	msg := api.SubscribedResult{Type: messageSubscribed}
	for _, id := range ids {
		if c.getRun == nil {
			break
		}
		rec, err := c.getRun(context.Background(), id)
		if err != nil {
			slog.Debug("Subscribed run not found",
				log.RunID(id),
				log.Error(err))
			continue
		}
		msg.Runs = append(msg.Runs, rec)
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		slog.Error("WebSocket write failed",
			slog.String("context", messageSubscribed),
			log.Error(err))
	}
}

func (c *Client) sendEventIfMatched(event *api.Event) bool {
	if !c.filter(event) {
		return true
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(transformEvent(event)); err != nil {
		slog.Error("WebSocket write failed",
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}

func transformEvent(ev *api.Event) *api.WebSocketEvent {
	return &api.WebSocketEvent{
		Type:      ev.Type,
		RunID:     ev.RunID,
		Data:      ev.Data,
		Timestamp: ev.Timestamp.UnixMilli(),
	}
}
