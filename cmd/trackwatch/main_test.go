package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/order-tracker/internal/model"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		_ = rootCmd.Flags().Set("help", "false")
	})
	err := rootCmd.Execute()
	return out.String(), err
}

// orderServer replies to the first subscribe with reply, then streams
// status updates until the client goes away.
func orderServer(t *testing.T, reply model.Event, updates ...model.Event) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg model.InboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		reply.OrderRef = msg.OrderRef
		conn.WriteJSON(reply)
		for _, ev := range updates {
			conn.WriteJSON(ev)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestRootCmd_Help(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("--help failed: %v", err)
	}
	for _, flag := range []string{"--url", "--order", "--subscriber", "--token"} {
		if !strings.Contains(out, flag) {
			t.Errorf("help output missing %q:\n%s", flag, out)
		}
	}
}

func TestRootCmd_RequiresToken(t *testing.T) {
	prev := token
	token = ""
	defer func() { token = prev }()

	_, err := execute(t, "--order", "ORD-1", "--subscriber", "alice")
	if err == nil || !strings.Contains(err.Error(), "session token is required") {
		t.Errorf("err = %v, want missing token error", err)
	}
}

func TestRootCmd_DeniedStops(t *testing.T) {
	now := time.Now().UTC()
	server := orderServer(t,
		model.Event{Type: model.EventError, Reason: model.ReasonUnauthorized, Timestamp: now},
	)

	done := make(chan error, 1)
	var out string
	go func() {
		var err error
		out, err = execute(t,
			"--url", wsURL(server),
			"--order", "ORD-9",
			"--subscriber", "alice",
			"--token", "tok",
		)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "stopped watching ORD-9") {
			t.Errorf("err = %v, want stopped watching ORD-9", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("trackwatch did not stop after the subscription was denied")
	}
	if strings.Contains(out, "ORD-9  ") {
		t.Errorf("unexpected status output: %q", out)
	}
}

func TestRootCmd_PrintsStatus(t *testing.T) {
	now := time.Now().UTC()
	server := orderServer(t,
		model.Event{Type: model.EventSubscriptionConfirmed, Timestamp: now},
		model.Event{Type: model.EventOrderStatusUpdate, OrderRef: "ORD-1", Status: "SHIPPED", Timestamp: now},
		model.Event{Type: model.EventError, OrderRef: "ORD-1", Reason: model.ReasonNotFound, Timestamp: now},
	)

	out, err := execute(t,
		"--url", wsURL(server),
		"--order", "ORD-1",
		"--subscriber", "alice",
		"--token", "tok",
	)
	if err == nil {
		t.Fatal("expected trackwatch to stop on the not-found error")
	}
	if !strings.Contains(out, "ORD-1  SHIPPED") {
		t.Errorf("output = %q, want ORD-1  SHIPPED", out)
	}
}
