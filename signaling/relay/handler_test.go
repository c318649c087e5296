package relay

import (
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

func startTestServer(t *testing.T) string {
	t.Helper()

	hub := NewHub()
	e := echo.New()
	NewHandler(hub).Register(e)
	httpServer := httptest.NewServer(e)
	t.Cleanup(httpServer.Close)

	return "ws" + strings.TrimPrefix(httpServer.URL, "http")
}

func connectPeer(t *testing.T, baseWSURL, room, peerId string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(baseWSURL+"/ws", nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	writeEnv(t, conn, Envelope{RoomId: room, From: peerId, Kind: KindHello})
	return conn
}

func writeEnv(t *testing.T, conn *websocket.Conn, env Envelope) {
	t.Helper()
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write json: %v", err)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(Envelope) bool) Envelope {
	t.Helper()
	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		_ = conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		var env Envelope
		err := conn.ReadJSON(&env)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.Fatalf("connection closed unexpectedly: %v", err)
			}
			t.Fatalf("read json: %v", err)
		}
		if match(env) {
			return env
		}
	}
	t.Fatal("timed out waiting for matching envelope")
	return Envelope{}
}

func TestHandlerRosterBroadcastOnJoinAndLeave(t *testing.T) {
	baseURL := startTestServer(t)

	alice := connectPeer(t, baseURL, "room-1", "alice")
	defer alice.Close()
	readUntil(t, alice, func(e Envelope) bool { return e.Kind == KindRoster })

	bob := connectPeer(t, baseURL, "room-1", "bob")
	defer bob.Close()

	readUntil(t, bob, func(e Envelope) bool {
		return e.Kind == KindRoster && len(e.Roster) == 2
	})
	readUntil(t, alice, func(e Envelope) bool {
		return e.Kind == KindRoster && len(e.Roster) == 2
	})

	bob.Close()
	readUntil(t, alice, func(e Envelope) bool {
		return e.Kind == KindRoster && len(e.Roster) == 1 && e.Roster[0] == "alice"
	})
}

func TestHandlerForwardsTargetedOffer(t *testing.T) {
	baseURL := startTestServer(t)

	alice := connectPeer(t, baseURL, "room-1", "alice")
	defer alice.Close()
	readUntil(t, alice, func(e Envelope) bool { return e.Kind == KindRoster })

	bob := connectPeer(t, baseURL, "room-1", "bob")
	defer bob.Close()
	readUntil(t, bob, func(e Envelope) bool { return e.Kind == KindRoster })
	readUntil(t, alice, func(e Envelope) bool { return e.Kind == KindRoster && len(e.Roster) == 2 })

	writeEnv(t, alice, Envelope{RoomId: "room-1", To: "bob", Kind: KindOffer, Payload: []byte(`{"sdp":"v=0"}`)})

	got := readUntil(t, bob, func(e Envelope) bool { return e.Kind == KindOffer })
	if got.From != "alice" {
		t.Fatalf("expected relay to stamp from=alice, got %q", got.From)
	}
}

func TestHandlerRejectsSpoofedFrom(t *testing.T) {
	baseURL := startTestServer(t)

	alice := connectPeer(t, baseURL, "room-1", "alice")
	defer alice.Close()
	readUntil(t, alice, func(e Envelope) bool { return e.Kind == KindRoster })

	bob := connectPeer(t, baseURL, "room-1", "bob")
	defer bob.Close()
	readUntil(t, bob, func(e Envelope) bool { return e.Kind == KindRoster })
	readUntil(t, alice, func(e Envelope) bool { return e.Kind == KindRoster && len(e.Roster) == 2 })

	// alice lies about her identity; the relay must overwrite it with the
	// transport-observed sender, not trust the claimed From.
	writeEnv(t, alice, Envelope{RoomId: "room-1", From: "bob", To: "bob", Kind: KindIce})

	got := readUntil(t, bob, func(e Envelope) bool { return e.Kind == KindIce })
	if got.From != "alice" {
		t.Fatalf("expected the relay to correct the spoofed from to alice, got %q", got.From)
	}
}
