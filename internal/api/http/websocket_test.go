package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/eyupikiz-lgtm/QuantAup/internal/domain"
)

func testClient(hub *Hub) *Client {
	return newClient(hub, nil, zap.NewNop())
}

func receive(t *testing.T, client *Client) WSMessage {
	t.Helper()
	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("Failed to unmarshal message: %v", err)
		}
		return wsMsg
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for message")
	}
	return WSMessage{}
}

func expectNothing(t *testing.T, client *Client) {
	t.Helper()
	select {
	case msg := <-client.send:
		t.Fatalf("Unexpected message: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ClientRegistration(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Shutdown()

	client := testClient(hub)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	if count := hub.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if count := hub.ClientCount(); count != 0 {
		t.Errorf("Expected 0 clients, got %d", count)
	}
}

func TestHub_RunUpdated(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Shutdown()

	client := testClient(hub)
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	run := domain.NewSweepRun(domain.SweepRequest{Symbol: "THYAO", Timeframe: domain.Timeframe1d})
	run.Status = domain.SweepStatusRunning
	run.Progress = domain.Progress{Completed: 3, Total: 10}
	hub.RunUpdated(*run)

	msg := receive(t, client)
	if msg.Type != EventTypeSweepProgress {
		t.Errorf("Expected event type %s, got %s", EventTypeSweepProgress, msg.Type)
	}
	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		t.Fatal("Data is not a map")
	}
	if data["run_id"] != run.ID.String() {
		t.Errorf("Expected run_id %s, got %v", run.ID, data["run_id"])
	}
	if data["symbol"] != "THYAO" {
		t.Errorf("Expected symbol THYAO, got %v", data["symbol"])
	}

	run.Status = domain.SweepStatusCompleted
	run.Result = &domain.OptimizationResult{BestScore: 0.75}
	hub.RunUpdated(*run)

	msg = receive(t, client)
	if msg.Type != EventTypeSweepCompleted {
		t.Errorf("Expected event type %s, got %s", EventTypeSweepCompleted, msg.Type)
	}
	data = msg.Data.(map[string]interface{})
	if data["best_score"] != 0.75 {
		t.Errorf("Expected best_score 0.75, got %v", data["best_score"])
	}
}

func TestClient_Filters(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Shutdown()

	client := testClient(hub)
	watched := domain.NewSweepRun(domain.SweepRequest{Symbol: "AKBNK"})
	other := domain.NewSweepRun(domain.SweepRequest{Symbol: "GARAN"})

	client.apply(SubscriptionMessage{
		Action:     "subscribe",
		EventTypes: []string{EventTypeSweepCompleted},
		RunIDs:     []string{watched.ID.String()},
	})
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	other.Status = domain.SweepStatusCompleted
	hub.RunUpdated(*other)
	expectNothing(t, client)

	watched.Status = domain.SweepStatusFailed
	hub.RunUpdated(*watched)
	expectNothing(t, client)

	watched.Status = domain.SweepStatusCompleted
	hub.RunUpdated(*watched)
	if msg := receive(t, client); msg.Type != EventTypeSweepCompleted {
		t.Errorf("Expected event type %s, got %s", EventTypeSweepCompleted, msg.Type)
	}

	client.apply(SubscriptionMessage{Action: "unsubscribe", EventTypes: []string{EventTypeSweepCompleted}})
	if !client.wants(EventTypeSweepFailed, watched.ID.String()) {
		t.Error("Client without event type filters should receive every type")
	}
}

func TestClient_NoSubscriptionReceivesAll(t *testing.T) {
	client := testClient(NewHub(zap.NewNop()))

	for _, eventType := range []string{EventTypeSweepPending, EventTypeSweepFailed, "any.event.type"} {
		if !client.wants(eventType, "any") {
			t.Errorf("Client with no subscriptions should receive %s", eventType)
		}
	}
}

func TestHub_ServeWS(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	defer hub.Shutdown()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	run := domain.NewSweepRun(domain.SweepRequest{Symbol: "THYAO", Timeframe: domain.Timeframe1h})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?run_id=" + run.ID.String()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.RunUpdated(*domain.NewSweepRun(domain.SweepRequest{Symbol: "OTHER"}))
	hub.RunUpdated(*run)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	var msg WSMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != EventTypeSweepPending {
		t.Errorf("Expected event type %s, got %s", EventTypeSweepPending, msg.Type)
	}
	if data := msg.Data.(map[string]interface{}); data["symbol"] != "THYAO" {
		t.Errorf("Expected the filtered run, got %v", data["symbol"])
	}
}
