package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"meshcore/signaling"
	"meshcore/wire"
)

// fakeDataChannel is a hand-written stand-in for a *webrtc.DataChannel: it
// records every outbound frame instead of touching SCTP, and lets tests
// drive OnOpen/OnClose/OnMessage directly.
type fakeDataChannel struct {
	mu sync.Mutex

	label          string
	sentBytes      [][]byte
	sentText       []string
	bufferedAmount uint64
	closed         bool

	onOpen    func()
	onClose   func()
	onMessage func(webrtc.DataChannelMessage)
}

func newFakeDataChannel(label string) *fakeDataChannel {
	return &fakeDataChannel{label: label}
}

func (d *fakeDataChannel) Label() string { return d.label }

func (d *fakeDataChannel) Send(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := append([]byte(nil), data...)
	d.sentBytes = append(d.sentBytes, cp)
	return nil
}

func (d *fakeDataChannel) SendText(s string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sentText = append(d.sentText, s)
	return nil
}

func (d *fakeDataChannel) OnOpen(f func())                               { d.onOpen = f }
func (d *fakeDataChannel) OnClose(f func())                              { d.onClose = f }
func (d *fakeDataChannel) OnMessage(f func(webrtc.DataChannelMessage))   { d.onMessage = f }
func (d *fakeDataChannel) BufferedAmount() uint64                       { return d.bufferedAmount }

func (d *fakeDataChannel) Close() error {
	d.closed = true
	if d.onClose != nil {
		d.onClose()
	}
	return nil
}

// open fires the registered OnOpen callback, simulating the channel
// transitioning to the open state.
func (d *fakeDataChannel) open() {
	if d.onOpen != nil {
		d.onOpen()
	}
}

// deliver fires the registered OnMessage callback as if a frame arrived.
func (d *fakeDataChannel) deliver(msg webrtc.DataChannelMessage) {
	if d.onMessage != nil {
		d.onMessage(msg)
	}
}

// fakeConn is a hand-written stand-in for *webrtc.PeerConnection, touching
// no real networking: CreateOffer/CreateAnswer return canned descriptions,
// and every created data channel is retained for test inspection.
type fakeConn struct {
	mu sync.Mutex

	channels  map[string]*fakeDataChannel
	localDesc *webrtc.SessionDescription
	closed    bool

	onDataChannel func(dataChannel)
	onICECandidate func(*webrtc.ICECandidateInit)
	onConnState    func(webrtc.PeerConnectionState)

	createOfferErr  error
	createAnswerErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{channels: make(map[string]*fakeDataChannel)}
}

func (c *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	if c.createOfferErr != nil {
		return webrtc.SessionDescription{}, c.createOfferErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "fake-offer"}, nil
}

func (c *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	if c.createAnswerErr != nil {
		return webrtc.SessionDescription{}, c.createAnswerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fake-answer"}, nil
}

func (c *fakeConn) SetLocalDescription(d webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localDesc = &d
	return nil
}

func (c *fakeConn) SetRemoteDescription(webrtc.SessionDescription) error { return nil }

func (c *fakeConn) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (c *fakeConn) CreateDataChannel(label string, _ *webrtc.DataChannelInit) (dataChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dc := newFakeDataChannel(label)
	c.channels[label] = dc
	return dc, nil
}

func (c *fakeConn) OnICECandidate(f func(*webrtc.ICECandidateInit)) { c.onICECandidate = f }
func (c *fakeConn) OnDataChannel(f func(dataChannel))               { c.onDataChannel = f }
func (c *fakeConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) { c.onConnState = f }

func (c *fakeConn) LocalDescription() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localDesc
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakeFactory hands out fakeConns and remembers every one it created, in
// creation order, so tests can reach into the data channels a given
// initiate()/handleOffer() call produced.
type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *fakeFactory) NewPeerConnection(RTCConfig) (rtcConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := newFakeConn()
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.conns) == 0 {
		return nil
	}
	return f.conns[len(f.conns)-1]
}

// fakeAdapter is a hand-written signaling.Adapter: it records every outbound
// Announce/SendIceCandidate call and exposes the callbacks Start registers
// so a test can invoke them directly.
type fakeAdapter struct {
	mu sync.Mutex

	id wire.PlayerId

	announces []announceCall
	ices      []iceCall

	onDesc   func(desc signaling.SessionDescription, from wire.PlayerId)
	onIce    func(cand signaling.ICECandidate, from wire.PlayerId)
	onRoster func(roster []wire.PlayerId)

	registerErr error
	closed      bool
}

type announceCall struct {
	desc signaling.SessionDescription
	to   wire.PlayerId
}

type iceCall struct {
	cand signaling.ICECandidate
	to   wire.PlayerId
}

func newFakeAdapter(id wire.PlayerId) *fakeAdapter { return &fakeAdapter{id: id} }

func (a *fakeAdapter) LocalId() wire.PlayerId { return a.id }

func (a *fakeAdapter) Register() error { return a.registerErr }

func (a *fakeAdapter) Announce(desc signaling.SessionDescription, to wire.PlayerId) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.announces = append(a.announces, announceCall{desc: desc, to: to})
	return nil
}

func (a *fakeAdapter) SendIceCandidate(cand signaling.ICECandidate, to wire.PlayerId) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ices = append(a.ices, iceCall{cand: cand, to: to})
	return nil
}

func (a *fakeAdapter) OnRemoteDescription(cb func(desc signaling.SessionDescription, from wire.PlayerId)) {
	a.onDesc = cb
}

func (a *fakeAdapter) OnIceCandidate(cb func(candidate signaling.ICECandidate, from wire.PlayerId)) {
	a.onIce = cb
}

func (a *fakeAdapter) OnRoster(cb func(roster []wire.PlayerId)) { a.onRoster = cb }

func (a *fakeAdapter) Close() error {
	a.closed = true
	return nil
}

func (a *fakeAdapter) announcedTo(id wire.PlayerId) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.announces {
		if c.to == id {
			return true
		}
	}
	return false
}
