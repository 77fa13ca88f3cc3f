package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/oddsradar/internal/config"
	"github.com/yourusername/oddsradar/internal/models"
)

func testHub(t *testing.T, buffer int) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	hub := NewHub(&config.PushConfig{SubscriberBuffer: buffer}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	return hub, server, cancel
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func sendControl(t *testing.T, conn *websocket.Conn, msgType string, topics ...string) {
	t.Helper()
	frame := controlMessage{Type: msgType, Topics: topics}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("control frame write failed: %v", err)
	}
}

// readPush reads frames until one carrying a push message arrives. The
// publish func runs on a ticker in the background so the test does not
// race the asynchronous subscribe; the connection itself is read under a
// single deadline, since a websocket conn is unusable after a read error.
func readPush(t *testing.T, conn *websocket.Conn, publish func()) models.PushMessage {
	t.Helper()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(25 * time.Millisecond)
		defer ticker.Stop()
		for {
			publish()
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("no push message received before deadline: %v", err)
		}
		var msg models.PushMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Topic == "" {
			continue
		}
		return msg
	}
}

func TestHubDeliversToSubscribedTopic(t *testing.T) {
	hub, server, cancel := testHub(t, 64)
	defer cancel()
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	sendControl(t, conn, controlSubscribe, string(models.TopicOddsUpdates))

	msg := readPush(t, conn, func() {
		hub.Publish(models.TopicOddsUpdates, models.OddsUpdate{CycleID: 7, EventID: 12345678})
	})
	if msg.Topic != models.TopicOddsUpdates {
		t.Errorf("expected odds_updates, got %s", msg.Topic)
	}
}

func TestHubFiltersUnsubscribedTopics(t *testing.T) {
	hub, server, cancel := testHub(t, 64)
	defer cancel()
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	sendControl(t, conn, controlSubscribe, string(models.TopicScrapeProgress))

	// Publish both topics each round; only scrape_progress may arrive.
	msg := readPush(t, conn, func() {
		hub.Publish(models.TopicOddsUpdates, models.OddsUpdate{CycleID: 1, EventID: 12345678})
		hub.Publish(models.TopicScrapeProgress, models.ScrapeProgress{CycleID: 1, EventID: 12345678})
	})
	if msg.Topic != models.TopicScrapeProgress {
		t.Errorf("received a topic the client never subscribed to: %s", msg.Topic)
	}
}

func TestHubRejectsUnknownTopic(t *testing.T) {
	_, server, cancel := testHub(t, 64)
	defer cancel()
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	sendControl(t, conn, controlSubscribe, "live_scores")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected an error frame, read failed: %v", err)
	}
	var frame errorFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "error" {
		t.Fatalf("expected an error frame, got %s", data)
	}
	if !strings.Contains(frame.Message, "live_scores") {
		t.Errorf("error frame does not name the bad topic: %s", frame.Message)
	}
}

func TestHubRejectsUnknownControlType(t *testing.T) {
	_, server, cancel := testHub(t, 64)
	defer cancel()
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	sendControl(t, conn, "resubscribe", string(models.TopicOddsUpdates))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected an error frame, read failed: %v", err)
	}
	var frame errorFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != "error" {
		t.Fatalf("expected an error frame, got %s", data)
	}
}

func TestHubSubscriberLifecycle(t *testing.T) {
	hub, server, cancel := testHub(t, 64)
	defer cancel()
	defer server.Close()

	conn := dial(t, server)
	waitForCount(t, hub, 1)

	conn.Close()
	waitForCount(t, hub, 0)
}

func TestHubShutdownDisconnectsSubscribers(t *testing.T) {
	hub, server, cancel := testHub(t, 64)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	waitForCount(t, hub, 1)

	cancel()
	waitForCount(t, hub, 0)
}

func waitForCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscriber count never reached %d, at %d", want, hub.SubscriberCount())
}

func TestSubscriptionIdempotency(t *testing.T) {
	sub := &Subscriber{topics: make(map[models.Topic]bool)}

	sub.subscribe([]models.Topic{models.TopicOddsUpdates})
	sub.subscribe([]models.Topic{models.TopicOddsUpdates})
	if !sub.wants(models.TopicOddsUpdates) {
		t.Error("double subscribe lost the topic")
	}

	sub.unsubscribe([]models.Topic{models.TopicOddsUpdates})
	sub.unsubscribe([]models.Topic{models.TopicOddsUpdates})
	if sub.wants(models.TopicOddsUpdates) {
		t.Error("unsubscribe did not remove the topic")
	}

	// Unsubscribing a topic that was never subscribed is a no-op.
	sub.unsubscribe([]models.Topic{models.TopicScrapeProgress})
	if sub.wants(models.TopicScrapeProgress) {
		t.Error("unexpected subscription appeared")
	}
}
