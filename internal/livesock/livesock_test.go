package livesock

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silowatch/pkg/logx"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestBroadcastReachesConnectedClient(t *testing.T) {
	s := startServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/live", nil)
	require.NoError(t, err)
	defer conn.Close()

	// Connection registration races with the broadcast; retry briefly.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	go func() {
		for i := 0; i < 20; i++ {
			s.Hub().Broadcast("alert", map[string]string{"silo_id": "silo-a"})
			time.Sleep(50 * time.Millisecond)
		}
	}()

	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    string            `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(frame, &msg))
	assert.Equal(t, "alert", msg.Type)
	assert.Equal(t, "silo-a", msg.Payload["silo_id"])
}

func TestBroadcastWithoutClientsDoesNotBlock(t *testing.T) {
	s := NewServer(Config{}, logx.Nop())
	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()

	assert.Equal(t, "", s.Addr(), "disabled server does not listen")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			s.Hub().Broadcast("reading", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked without clients")
	}
}
