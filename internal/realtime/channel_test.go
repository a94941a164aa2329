package realtime_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"yt-analyzer-client/internal/entity"
	"yt-analyzer-client/internal/realtime"
)

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// wsServer runs handler for each websocket connection and returns the
// ws:// base URL.
func wsServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestChannel_DeliversProgressAndCompleted(t *testing.T) {
	base := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(wireFrame{Event: "connected", Data: json.RawMessage(`{}`)})
		_ = conn.WriteJSON(wireFrame{Event: "progress", Data: json.RawMessage(
			`{"jobId":"J1","stage":"classifying_comments","message":"Analyzing...","percentage":42}`)})
		_ = conn.WriteJSON(wireFrame{Event: "completed", Data: json.RawMessage(`{"result":{"ok":true}}`)})
		// держим соединение, клиент закроет сам
		_, _, _ = conn.ReadMessage()
	})

	progress := make(chan entity.ProgressEvent, 8)
	completed := make(chan json.RawMessage, 8)
	var connectFailed atomic.Int32

	d := &realtime.Dialer{BaseURL: base, ConnectTimeout: time.Second}
	ch := d.Connect("J1", realtime.Events{
		OnProgress:      func(ev entity.ProgressEvent) { progress <- ev },
		OnCompleted:     func(res json.RawMessage) { completed <- res },
		OnConnectFailed: func() { connectFailed.Add(1) },
	})
	defer ch.Disconnect()

	select {
	case ev := <-progress:
		if ev.Percentage != 42 || ev.Stage != "classifying_comments" {
			t.Fatalf("unexpected progress event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no progress event")
	}

	select {
	case res := <-completed:
		if string(res) != `{"ok":true}` {
			t.Fatalf("unexpected result: %s", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no completed event")
	}

	if n := connectFailed.Load(); n != 0 {
		t.Fatalf("connect-failed fired %d times on a confirmed connection", n)
	}
}

func TestChannel_ErrorEventIsTerminal(t *testing.T) {
	base := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(wireFrame{Event: "connected", Data: json.RawMessage(`{}`)})
		_ = conn.WriteJSON(wireFrame{Event: "error", Data: json.RawMessage(`{"jobId":"J1","error":"boom"}`)})
		_, _, _ = conn.ReadMessage()
	})

	errs := make(chan entity.ErrorEvent, 8)
	d := &realtime.Dialer{BaseURL: base, ConnectTimeout: time.Second}
	ch := d.Connect("J1", realtime.Events{
		OnError: func(ev entity.ErrorEvent) { errs <- ev },
	})
	defer ch.Disconnect()

	select {
	case ev := <-errs:
		if ev.Error != "boom" {
			t.Fatalf("unexpected error event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error event")
	}
}

func TestChannel_ConnectTimeoutFiresExactlyOnce(t *testing.T) {
	base := wsServer(t, func(conn *websocket.Conn) {
		// accept but never confirm
		_, _, _ = conn.ReadMessage()
	})

	var connectFailed atomic.Int32
	failed := make(chan struct{}, 8)

	d := &realtime.Dialer{BaseURL: base, ConnectTimeout: 100 * time.Millisecond}
	ch := d.Connect("J1", realtime.Events{
		OnConnectFailed: func() {
			connectFailed.Add(1)
			failed <- struct{}{}
		},
	})
	defer ch.Disconnect()

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("connect-failed never fired")
	}

	// закрытие соединения после таймаута не должно дать второй вызов
	time.Sleep(200 * time.Millisecond)
	if n := connectFailed.Load(); n != 1 {
		t.Fatalf("expected exactly one connect-failed, got %d", n)
	}
}

func TestChannel_DialFailureTriggersFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no realtime here", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	failed := make(chan struct{}, 1)
	d := &realtime.Dialer{
		BaseURL:        "ws" + strings.TrimPrefix(srv.URL, "http"),
		ConnectTimeout: time.Second,
	}
	ch := d.Connect("J1", realtime.Events{
		OnConnectFailed: func() { failed <- struct{}{} },
	})
	defer ch.Disconnect()

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("connect-failed never fired on dial failure")
	}
}

func TestChannel_DisconnectWinsOverTimeout(t *testing.T) {
	base := wsServer(t, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	var connectFailed atomic.Int32
	d := &realtime.Dialer{BaseURL: base, ConnectTimeout: 100 * time.Millisecond}
	ch := d.Connect("J1", realtime.Events{
		OnConnectFailed: func() { connectFailed.Add(1) },
	})

	ch.Disconnect()
	ch.Disconnect() // idempotent

	time.Sleep(250 * time.Millisecond)
	if n := connectFailed.Load(); n != 0 {
		t.Fatalf("connect-failed fired %d times after explicit disconnect", n)
	}
}
