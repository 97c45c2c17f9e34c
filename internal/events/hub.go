package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"

	"github.com/kode4food/buildflow/pkg/api"
	"github.com/kode4food/buildflow/pkg/log"
)

// Hub fans run events out to any number of consumers. Every consumer sees
// the events published after it was created, in publish order
type Hub struct {
	topic  topic.Topic[*api.Event]
	prod   topic.Producer[*api.Event]
	mu     sync.RWMutex
	closed bool
}

// NewHub creates an event hub
func NewHub() *Hub {
	t := caravan.NewTopic[*api.Event]()
	return &Hub{
		topic: t,
		prod:  t.NewProducer(),
	}
}

// Publish encodes data and sends it as an event of the given type. Events
// published after Close are dropped
func (h *Hub) Publish(typ api.EventType, id api.RunID, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("Failed to encode event",
			slog.String("event_type", string(typ)),
			log.RunID(id),
			log.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	message.Send(h.prod, &api.Event{
		Timestamp: time.Now(),
		Type:      typ,
		RunID:     id,
		Data:      raw,
	})
}

// NewConsumer subscribes to events published from now on. The caller must
// Close the consumer when done
func (h *Hub) NewConsumer() topic.Consumer[*api.Event] {
	return h.topic.NewConsumer()
}

// Close stops accepting events
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.prod.Close()
}
