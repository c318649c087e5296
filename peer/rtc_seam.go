package peer

import (
	"github.com/pion/webrtc/v4"
)

// ICEServer mirrors one entry of a webrtc.Configuration.ICEServers.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

// RTCConfig is the ICE configuration handed to rtcFactory.NewPeerConnection.
// Its ICEServers list is used as given; NewManager is what fills an empty
// Config.ICEServers with DefaultICEServers.
type RTCConfig struct {
	ICEServers []ICEServer
}

// DefaultICEServers is the spec §4.7 default: one public STUN server.
func DefaultICEServers() []ICEServer {
	return []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

// dataChannel abstracts the subset of *webrtc.DataChannel the peer manager
// touches.
type dataChannel interface {
	Label() string
	Send(data []byte) error
	SendText(s string) error
	OnOpen(f func())
	OnClose(f func())
	OnMessage(f func(webrtc.DataChannelMessage))
	BufferedAmount() uint64
	Close() error
}

// rtcConn abstracts the subset of *webrtc.PeerConnection the peer manager
// needs. This is the one real I/O boundary of the manager — generalizing the
// teacher's Transporter interface seam (interfaces.go) from "fake the whole
// transport" down to "fake just this boundary, keep the rest of the peer
// manager live in tests."
type rtcConn interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	CreateDataChannel(label string, options *webrtc.DataChannelInit) (dataChannel, error)
	OnICECandidate(func(*webrtc.ICECandidateInit))
	OnDataChannel(func(dataChannel))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	LocalDescription() *webrtc.SessionDescription
	Close() error
}

// rtcFactory constructs a new underlying RTCPeerConnection.
type rtcFactory interface {
	NewPeerConnection(cfg RTCConfig) (rtcConn, error)
}

// pionFactory is the production rtcFactory, backed by the real
// pion/webrtc/v4 stack.
type pionFactory struct{}

func NewPionFactory() rtcFactory { return pionFactory{} }

func (pionFactory) NewPeerConnection(cfg RTCConfig) (rtcConn, error) {
	servers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, s := range cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, err
	}
	return &pionConn{pc: pc}, nil
}

type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

func (c *pionConn) CreateDataChannel(label string, options *webrtc.DataChannelInit) (dataChannel, error) {
	dc, err := c.pc.CreateDataChannel(label, options)
	if err != nil {
		return nil, err
	}
	return &pionDataChannel{dc: dc}, nil
}

func (c *pionConn) OnICECandidate(f func(*webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			f(nil)
			return
		}
		init := cand.ToJSON()
		f(&init)
	})
}

func (c *pionConn) OnDataChannel(f func(dataChannel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(&pionDataChannel{dc: dc})
	})
}

func (c *pionConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(f)
}

func (c *pionConn) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

type pionDataChannel struct {
	dc *webrtc.DataChannel
}

func (d *pionDataChannel) Label() string { return d.dc.Label() }

func (d *pionDataChannel) Send(data []byte) error { return d.dc.Send(data) }

func (d *pionDataChannel) SendText(s string) error { return d.dc.SendText(s) }

func (d *pionDataChannel) OnOpen(f func()) { d.dc.OnOpen(f) }

func (d *pionDataChannel) OnClose(f func()) { d.dc.OnClose(f) }

func (d *pionDataChannel) OnMessage(f func(webrtc.DataChannelMessage)) { d.dc.OnMessage(f) }

func (d *pionDataChannel) BufferedAmount() uint64 { return d.dc.BufferedAmount() }

func (d *pionDataChannel) Close() error { return d.dc.Close() }
