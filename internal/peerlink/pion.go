package peerlink

import (
	"github.com/pion/webrtc/v4"
)

// ChannelLabel is the label of the chat data channel.
const ChannelLabel = "chat"

// DataChannel is the subset of a WebRTC data channel the link drives.
type DataChannel interface {
	OnOpen(func())
	OnClose(func())
	OnMessage(func(payload []byte))
	SendText(text string) error
	Close() error
}

// PeerConnection is the subset of a WebRTC peer connection the link
// drives. Callbacks may fire on any goroutine.
type PeerConnection interface {
	CreateDataChannel(label string) (DataChannel, error)
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// OnICECandidate is called for each locally gathered candidate. The
	// end-of-gathering nil candidate is not reported.
	OnICECandidate(func(candidate webrtc.ICECandidateInit))
	OnDataChannel(func(channel DataChannel))
	// OnFailed is called when the connection reaches the failed state.
	OnFailed(func())
	Close() error
}

// Factory creates peer connections for new links.
type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}

// PionFactory creates pion/webrtc peer connections.
type PionFactory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

// NewPionFactory creates a factory using the given STUN/TURN URLs.
// Loopback candidates are included so two peers on one host can connect.
func NewPionFactory(iceServers []string) *PionFactory {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)

	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &PionFactory{
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		config: config,
	}
}

// NewPeerConnection implements Factory.
func (f *PionFactory) NewPeerConnection() (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	return &pionConnection{pc: pc}, nil
}

type pionConnection struct {
	pc *webrtc.PeerConnection
}

func (p *pionConnection) CreateDataChannel(label string) (DataChannel, error) {
	ordered := true
	dc, err := p.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return &pionChannel{dc: dc}, nil
}

func (p *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(candidate)
}

func (p *pionConnection) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		f(c.ToJSON())
	})
}

func (p *pionConnection) OnDataChannel(f func(DataChannel)) {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(&pionChannel{dc: dc})
	})
}

func (p *pionConnection) OnFailed(f func()) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			f()
		}
	})
}

func (p *pionConnection) Close() error {
	return p.pc.Close()
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c *pionChannel) OnOpen(f func())  { c.dc.OnOpen(f) }
func (c *pionChannel) OnClose(f func()) { c.dc.OnClose(f) }

func (c *pionChannel) OnMessage(f func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		f(msg.Data)
	})
}

func (c *pionChannel) SendText(text string) error { return c.dc.SendText(text) }
func (c *pionChannel) Close() error               { return c.dc.Close() }
