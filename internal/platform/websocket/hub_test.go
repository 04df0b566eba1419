package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bjyoucef/inaya/internal/platform/cache"
)

func newClient(hub *Hub, id string, topics ...string) *Client {
	return &Client{
		ID:     id,
		Topics: topics,
		Send:   make(chan []byte, 16),
		hub:    hub,
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "board-1", TopicAll)

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(TopicAll) != 1 {
		t.Fatalf("expected 1 client on %s, got %d/%d", TopicAll, hub.ClientCount(), hub.TopicCount(TopicAll))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(TopicAll) != 0 {
		t.Fatal("expected hub to be empty after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel to be closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHub_PublishRoutesByService(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	icu, surgery := uuid.New(), uuid.New()

	icuBoard := newClient(hub, "icu", ServiceTopic(icu))
	surgeryBoard := newClient(hub, "surgery", ServiceTopic(surgery))
	everything := newClient(hub, "all", TopicAll, ServiceTopic(icu))
	hub.Register(icuBoard)
	hub.Register(surgeryBoard)
	hub.Register(everything)

	ev := cache.BedEvent{Type: cache.BedReleased, BedID: uuid.New(), ServiceID: icu, NeedsCleaning: true}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case data := <-icuBoard.Send:
		var got cache.BedEvent
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.BedID != ev.BedID || !got.NeedsCleaning {
			t.Errorf("unexpected event %+v", got)
		}
	default:
		t.Fatal("expected icu board to receive the event")
	}

	if len(surgeryBoard.Send) != 0 {
		t.Error("surgery board should not receive icu events")
	}
	if len(everything.Send) != 1 {
		t.Errorf("expected exactly one delivery to a doubly subscribed board, got %d", len(everything.Send))
	}
}

func TestHub_PublishSkipsFullClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := &Client{ID: "slow", Topics: []string{TopicAll}, Send: make(chan []byte)}
	hub.Register(slow)

	done := make(chan struct{})
	go func() {
		hub.Publish(context.Background(), cache.BedEvent{Type: cache.BedOccupied})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full client")
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "board")
	hub.Register(client)

	svc := ServiceTopic(uuid.New())
	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{svc, TopicAll}})
	if hub.TopicCount(svc) != 1 || len(client.Topics) != 2 {
		t.Fatalf("expected subscription to %s, topics=%v", svc, client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{svc}})
	if hub.TopicCount(svc) != 0 {
		t.Error("expected no subscribers after unsubscribe")
	}
	if len(client.Topics) != 1 || client.Topics[0] != TopicAll {
		t.Errorf("expected remaining topic %s, got %v", TopicAll, client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unknown", Topics: []string{svc}})
	if hub.TopicCount(svc) != 0 {
		t.Error("unknown actions must be ignored")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient(hub, uuid.NewString(), TopicAll)
			hub.Register(c)
			hub.Publish(context.Background(), cache.BedEvent{Type: cache.BedCleaned})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_Relay(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "board", TopicAll)
	hub.Register(client)

	events := make(chan cache.BedEvent, 1)
	events <- cache.BedEvent{Type: cache.BedStatusChanged, Status: "maintenance"}
	close(events)

	hub.Relay(context.Background(), events)

	if len(client.Send) != 1 {
		t.Fatalf("expected relayed event, got %d", len(client.Send))
	}
}

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	NewHandler(NewHub(zerolog.Nop())).RegisterRoutes(e.Group("/api/v1"))

	found := false
	for _, r := range e.Routes() {
		if r.Path == "/api/v1/ward-board/ws" && r.Method == http.MethodGet {
			found = true
		}
	}
	if !found {
		t.Fatal("expected GET /api/v1/ward-board/ws route")
	}
}

func TestHandler_RejectsBadServiceID(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ward-board/ws?service_id=nope", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	err := NewHandler(NewHub(zerolog.Nop())).HandleConnect(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	serviceID := uuid.New()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ward-board/ws?service_id=" + serviceID.String()

	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(ServiceTopic(serviceID)) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount(ServiceTopic(serviceID)) != 1 {
		t.Fatal("expected board to be subscribed to its service")
	}

	bedID := uuid.New()
	hub.Publish(context.Background(), cache.BedEvent{Type: cache.BedOccupied, BedID: bedID, ServiceID: serviceID})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received cache.BedEvent
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != cache.BedOccupied || received.BedID != bedID {
		t.Fatalf("unexpected event %+v", received)
	}
}
