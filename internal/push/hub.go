// Package push fans scrape progress and odds updates out to websocket
// subscribers. Delivery is at-most-once; a slow subscriber loses
// messages rather than slowing the producers.
package push

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/metrics"
	"github.com/yourusername/oddsradar/internal/models"
)

const (
	writeDeadline  = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 35 * time.Second // must be > pingInterval
	maxMessageSize = 512              // bytes; clients only send control frames
)

// Subscriber represents one connected websocket endpoint and the topics
// it asked for.
type Subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	topics map[models.Topic]bool
}

// subscribe adds topics to the set. Repeats are no-ops.
func (s *Subscriber) subscribe(topics []models.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		s.topics[t] = true
	}
}

// unsubscribe removes topics from the set. Absent topics are no-ops.
func (s *Subscriber) unsubscribe(topics []models.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range topics {
		delete(s.topics, t)
	}
}

func (s *Subscriber) wants(topic models.Topic) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[topic]
}

// envelope carries one pre-marshalled message through the hub loop.
type envelope struct {
	topic models.Topic
	data  []byte
}

// Hub maintains the set of active subscribers and routes published
// messages to the ones subscribed to each topic. Run must be started in
// a dedicated goroutine before ServeWS is used.
type Hub struct {
	logger     *logrus.Entry
	bufferSize int

	mu          sync.RWMutex
	subscribers map[*Subscriber]bool

	// channels consumed by Run
	publish    chan envelope
	register   chan *Subscriber
	unregister chan *Subscriber
	done       chan struct{}

	// upgrader is safe for concurrent use after construction.
	upgrader websocket.Upgrader
}

// NewHub creates a Hub ready to be started with Run.
func NewHub(cfg *config.PushConfig, logger *logrus.Logger) *Hub {
	return &Hub{
		logger:      logger.WithField("component", "push"),
		bufferSize:  cfg.SubscriberBuffer,
		subscribers: make(map[*Subscriber]bool),
		publish:     make(chan envelope, 512),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		done:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run processes registration, unregistration and publish events
// sequentially until ctx is cancelled. Call it once as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			metrics.UpdateSubscribers(len(h.subscribers))
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			metrics.UpdateSubscribers(len(h.subscribers))
			h.mu.Unlock()

		case env := <-h.publish:
			h.mu.RLock()
			for sub := range h.subscribers {
				if !sub.wants(env.topic) {
					continue
				}
				select {
				case sub.send <- env.data:
				default:
					// Subscriber's buffer is full. Drop the message
					// for this subscriber and count it; the write pump
					// detects a stalled connection separately.
					metrics.RecordPushDropped()
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish marshals a message and queues it for fan-out. It never
// blocks; if the hub's inbound queue is full the message is dropped.
func (h *Hub) Publish(topic models.Topic, payload interface{}) {
	data, err := json.Marshal(models.PushMessage{Topic: topic, Payload: payload})
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal push message")
		return
	}
	select {
	case h.publish <- envelope{topic: topic, data: data}:
	default:
		metrics.RecordPushDropped()
	}
}

// SubscriberCount returns the current number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// closeAll tears down every subscriber on shutdown.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	close(h.done)
	for sub := range h.subscribers {
		delete(h.subscribers, sub)
		close(sub.send)
	}
	metrics.UpdateSubscribers(0)
}

// ServeWS upgrades an HTTP request to a websocket connection and starts
// the read and write pumps. Clients start with no subscriptions and must
// send a subscribe control frame.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	sub := &Subscriber{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.bufferSize),
		topics: make(map[models.Topic]bool),
	}
	select {
	case h.register <- sub:
	case <-h.done:
		conn.Close()
		return
	}

	go sub.writePump()
	go sub.readPump()
}

// writePump drains the subscriber's send channel and writes messages to
// the websocket connection. It also sends ping frames every
// pingInterval.
func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				// Hub closed the channel.
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads control frames from the websocket connection and
// applies subscription changes. When the connection drops the
// subscriber is unregistered.
func (s *Subscriber) readPump() {
	defer func() {
		// The hub loop may already be gone on shutdown.
		select {
		case s.hub.unregister <- s:
		case <-s.hub.done:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.hub.logger.WithError(err).Debug("Unexpected websocket close")
			}
			return
		}
		s.handleControl(data)
	}
}

// handleControl applies one inbound control frame. Malformed frames and
// unknown topics get an error frame back; valid topics in the same frame
// still take effect.
func (s *Subscriber) handleControl(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError("malformed control frame")
		return
	}
	if msg.Type != controlSubscribe && msg.Type != controlUnsubscribe {
		s.sendError("unknown control type: " + msg.Type)
		return
	}

	topics := make([]models.Topic, 0, len(msg.Topics))
	for _, raw := range msg.Topics {
		t := models.Topic(raw)
		if !models.ValidTopic(t) {
			s.sendError("unknown topic: " + raw)
			continue
		}
		topics = append(topics, t)
	}

	if msg.Type == controlSubscribe {
		s.subscribe(topics)
	} else {
		s.unsubscribe(topics)
	}
}

// sendError writes an error frame directly to this subscriber's send
// channel, dropping it if the buffer is full.
func (s *Subscriber) sendError(message string) {
	data, err := json.Marshal(newErrorFrame(message))
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
		metrics.RecordPushDropped()
	}
}
