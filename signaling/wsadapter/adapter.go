// Package wsadapter is the reference signaling.Adapter implementation over
// gorilla/websocket (SPEC_FULL.md §4.9), talking the relay's `{roomId,
// from, to?, kind, payload?, announce?}` envelope (spec §6.2). It is
// grounded on the teacher's client/transport.go: a single read-pump
// goroutine feeding mutex-guarded callback setters, and a mutex-serialized
// write path, generalized from WebTransport datagrams/streams down to one
// websocket connection.
package wsadapter

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"meshcore/signaling"
	"meshcore/wire"
)

const writeTimeout = 5 * time.Second

type kind string

const (
	kindOffer  kind = "offer"
	kindAnswer kind = "answer"
	kindIce    kind = "ice"
	kindRoster kind = "roster"
	kindHello  kind = "hello"
	kindError  kind = "error"
)

// ICEServerInfo is one STUN/TURN server the relay distributed via a roster
// envelope; see ICEServers.
type ICEServerInfo struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// envelope mirrors the relay's wire shape without importing the relay
// package, keeping the client and the reference server as independent
// consumers of the same protocol (spec §6.2).
type envelope struct {
	RoomId     string          `json:"roomId"`
	From       string          `json:"from,omitempty"`
	To         string          `json:"to,omitempty"`
	Kind       kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Announce   bool            `json:"announce,omitempty"`
	Roster     []string        `json:"roster,omitempty"`
	IceServers []ICEServerInfo `json:"iceServers,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Adapter is the production signaling.Adapter backed by one websocket
// connection to a relay (signaling/relay or any server speaking the same
// protocol).
type Adapter struct {
	conn    *websocket.Conn
	roomId  string
	localId wire.PlayerId

	ctrlMu sync.Mutex

	cbMu                sync.RWMutex
	onRemoteDescription func(desc signaling.SessionDescription, from wire.PlayerId)
	onIceCandidate       func(candidate signaling.ICECandidate, from wire.PlayerId)
	onRoster             func(roster []wire.PlayerId)
	iceServers           []ICEServerInfo

	closeOnce sync.Once
	done      chan struct{}
}

var _ signaling.Adapter = (*Adapter)(nil)

// Dial connects to url for roomId as localId and starts the read pump; it
// does not join the room. The caller must call Register, whose hello joins
// the room and brings the initial roster.
func Dial(url, roomId string, localId wire.PlayerId) (*Adapter, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsadapter: dial: %w", err)
	}
	a := &Adapter{
		conn:    conn,
		roomId:  roomId,
		localId: localId,
		done:    make(chan struct{}),
	}
	go a.readPump()
	return a, nil
}

func (a *Adapter) LocalId() wire.PlayerId { return a.localId }

// Register sends the hello envelope that joins the room; the relay replies
// with the current roster via OnRoster.
func (a *Adapter) Register() error {
	return a.write(envelope{RoomId: a.roomId, From: string(a.localId), Kind: kindHello})
}

func (a *Adapter) Announce(desc signaling.SessionDescription, to wire.PlayerId) error {
	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("wsadapter: marshal description: %w", err)
	}
	k := kindOffer
	if desc.Type == "answer" {
		k = kindAnswer
	}
	return a.write(envelope{
		RoomId:  a.roomId,
		From:    string(a.localId),
		To:      string(to),
		Kind:    k,
		Payload: payload,
	})
}

func (a *Adapter) SendIceCandidate(candidate signaling.ICECandidate, to wire.PlayerId) error {
	payload, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("wsadapter: marshal candidate: %w", err)
	}
	return a.write(envelope{
		RoomId:  a.roomId,
		From:    string(a.localId),
		To:      string(to),
		Kind:    kindIce,
		Payload: payload,
	})
}

func (a *Adapter) OnRemoteDescription(cb func(desc signaling.SessionDescription, from wire.PlayerId)) {
	a.cbMu.Lock()
	a.onRemoteDescription = cb
	a.cbMu.Unlock()
}

func (a *Adapter) OnIceCandidate(cb func(candidate signaling.ICECandidate, from wire.PlayerId)) {
	a.cbMu.Lock()
	a.onIceCandidate = cb
	a.cbMu.Unlock()
}

func (a *Adapter) OnRoster(cb func(roster []wire.PlayerId)) {
	a.cbMu.Lock()
	a.onRoster = cb
	a.cbMu.Unlock()
}

// ICEServers returns the STUN/TURN servers the relay distributed with the
// most recent roster, for callers that feed the relay's deployment-wide ICE
// configuration into the peer fabric. Empty until the first roster arrives,
// or always empty against a relay that distributes none. Not part of the
// signaling.Adapter contract, which stays as pinned by the core.
func (a *Adapter) ICEServers() []ICEServerInfo {
	a.cbMu.RLock()
	defer a.cbMu.RUnlock()
	out := make([]ICEServerInfo, len(a.iceServers))
	copy(out, a.iceServers)
	return out
}

func (a *Adapter) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		err = a.conn.Close()
	})
	return err
}

// shutdown marks the adapter closed without re-closing an already-closed
// connection, for readPump's own exit path (a remote close or read error).
func (a *Adapter) shutdown() {
	a.closeOnce.Do(func() {
		close(a.done)
	})
}

func (a *Adapter) write(env envelope) error {
	a.ctrlMu.Lock()
	defer a.ctrlMu.Unlock()
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return a.conn.WriteJSON(env)
}

// readPump is the adapter's single reader goroutine: for every inbound
// envelope the matching callback is read under cbMu and then invoked after
// the lock is released, mirroring transport.go's readControl loop.
func (a *Adapter) readPump() {
	defer a.shutdown()
	for {
		var env envelope
		if err := a.conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Kind {
		case kindOffer, kindAnswer:
			a.cbMu.RLock()
			cb := a.onRemoteDescription
			a.cbMu.RUnlock()
			if cb == nil {
				continue
			}
			var desc signaling.SessionDescription
			if err := json.Unmarshal(env.Payload, &desc); err != nil {
				continue
			}
			cb(desc, wire.PlayerId(env.From))

		case kindIce:
			a.cbMu.RLock()
			cb := a.onIceCandidate
			a.cbMu.RUnlock()
			if cb == nil {
				continue
			}
			var cand signaling.ICECandidate
			if err := json.Unmarshal(env.Payload, &cand); err != nil {
				continue
			}
			cb(cand, wire.PlayerId(env.From))

		case kindRoster:
			a.cbMu.Lock()
			if len(env.IceServers) > 0 {
				a.iceServers = env.IceServers
			}
			cb := a.onRoster
			a.cbMu.Unlock()
			if cb == nil {
				continue
			}
			roster := make([]wire.PlayerId, len(env.Roster))
			for i, id := range env.Roster {
				roster[i] = wire.PlayerId(id)
			}
			cb(roster)
		}
	}
}
