package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"autotp/internal/solana"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var testMint = solana.MustParsePublicKey("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSClient_SubscribeAndReceive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Type != "subscribe" || len(req.Mints) != 1 || req.Mints[0] != testMint.String() {
			t.Errorf("unexpected subscribe request: %+v", req)
		}

		// malformed and invalid messages are skipped
		c.WriteMessage(websocket.TextMessage, []byte("not json"))
		c.WriteJSON(feedMessage{Type: "price", Mint: "bad", Price: "1"})
		c.WriteJSON(feedMessage{Type: "price", Mint: testMint.String(), Price: "-1"})
		c.WriteJSON(feedMessage{Type: "price", Mint: testMint.String(), Price: "1.5", TS: 1700000000000})

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	updates, err := client.Subscribe(ctx, []solana.PublicKey{testMint})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case u := <-updates:
		if u.Mint != testMint {
			t.Errorf("expected mint %s, got %s", testMint, u.Mint)
		}
		if u.Price != 1_500_000 {
			t.Errorf("expected price 1500000, got %d", u.Price)
		}
		if u.Timestamp != 1700000000000 {
			t.Errorf("expected ts 1700000000000, got %d", u.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for price update")
	}
}

func TestWSClient_ResubscribesAfterReconnect(t *testing.T) {
	var connections atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := connections.Add(1)

		if _, _, err := c.ReadMessage(); err != nil {
			return
		}

		if n == 1 {
			// drop the first connection right after subscribe
			return
		}

		c.WriteJSON(feedMessage{Type: "price", Mint: testMint.String(), Price: "2"})
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	cfg := DefaultWSConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	cfg.MaxReconnectDelay = 50 * time.Millisecond

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), &cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	updates, err := client.Subscribe(ctx, []solana.PublicKey{testMint})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case u := <-updates:
		if u.Price != 2_000_000 {
			t.Errorf("expected price 2000000, got %d", u.Price)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for update after reconnect")
	}

	if connections.Load() < 2 {
		t.Errorf("expected reconnect, got %d connections", connections.Load())
	}
}

func TestWSClient_Close(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client, err := NewWSClient(ctx, wsURL(server), nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}

	updates, err := client.Subscribe(ctx, []solana.PublicKey{testMint})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// second close is a no-op
	if err := client.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, ok := <-updates; ok {
		t.Error("expected update channel to be closed")
	}

	if _, err := client.Subscribe(ctx, []solana.PublicKey{testMint}); err == nil {
		t.Error("expected error subscribing after close")
	}
}
