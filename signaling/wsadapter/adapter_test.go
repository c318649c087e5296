package wsadapter

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"meshcore/signaling"
	"meshcore/signaling/relay"
	"meshcore/wire"
)

func startRelay(t *testing.T) string {
	t.Helper()
	return startRelayWithICE(t, nil)
}

func startRelayWithICE(t *testing.T, servers []relay.ICEServerInfo) string {
	t.Helper()
	hub := relay.NewHub()
	hub.SetICEServers(servers)
	e := echo.New()
	relay.NewHandler(hub).Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestAdapterRosterRoundTrip(t *testing.T) {
	url := startRelay(t)

	alice, err := Dial(url, "room-1", "alice")
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()

	var aliceRoster []wire.PlayerId
	alice.OnRoster(func(r []wire.PlayerId) { aliceRoster = r })
	if err := alice.Register(); err != nil {
		t.Fatalf("register alice: %v", err)
	}

	bob, err := Dial(url, "room-1", "bob")
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()
	if err := bob.Register(); err != nil {
		t.Fatalf("register bob: %v", err)
	}

	waitFor(t, func() bool { return len(aliceRoster) == 2 })
}

func TestAdapterLearnsICEServersFromRoster(t *testing.T) {
	url := startRelayWithICE(t, []relay.ICEServerInfo{
		{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "c"},
	})

	alice, err := Dial(url, "room-1", "alice")
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()
	if err := alice.Register(); err != nil {
		t.Fatalf("register alice: %v", err)
	}

	waitFor(t, func() bool { return len(alice.ICEServers()) == 1 })
	got := alice.ICEServers()[0]
	if got.URLs[0] != "turn:turn.example.com:3478" || got.Username != "u" || got.Credential != "c" {
		t.Fatalf("expected the relay's TURN configuration to round-trip, got %+v", got)
	}
}

func TestAdapterForwardsOfferToTarget(t *testing.T) {
	url := startRelay(t)

	alice, _ := Dial(url, "room-1", "alice")
	defer alice.Close()
	_ = alice.Register()

	bob, _ := Dial(url, "room-1", "bob")
	defer bob.Close()

	var gotFrom wire.PlayerId
	var gotDesc signaling.SessionDescription
	bob.OnRemoteDescription(func(desc signaling.SessionDescription, from wire.PlayerId) {
		gotDesc = desc
		gotFrom = from
	})
	_ = bob.Register()
	time.Sleep(50 * time.Millisecond) // let both registrations settle

	if err := alice.Announce(signaling.SessionDescription{Type: "offer", SDP: "v=0"}, "bob"); err != nil {
		t.Fatalf("announce: %v", err)
	}

	waitFor(t, func() bool { return gotFrom == "alice" })
	if gotDesc.SDP != "v=0" {
		t.Fatalf("expected sdp to round-trip, got %q", gotDesc.SDP)
	}
}
