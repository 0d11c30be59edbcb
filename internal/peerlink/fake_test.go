package peerlink

import (
	"errors"

	"github.com/pion/webrtc/v4"
)

type fakeChannel struct {
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
	sent      []string
	closed    bool
	sendErr   error
}

func (c *fakeChannel) OnOpen(f func())          { c.onOpen = f }
func (c *fakeChannel) OnClose(f func())         { c.onClose = f }
func (c *fakeChannel) OnMessage(f func([]byte)) { c.onMessage = f }

func (c *fakeChannel) SendText(text string) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

// fakeConnection records every call the link makes. Methods named in
// failOn return errFake.
type fakeConnection struct {
	failOn map[string]bool

	channels   []*fakeChannel
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	calls      []string
	closed     bool

	onCandidate   func(webrtc.ICECandidateInit)
	onDataChannel func(DataChannel)
	onFailed      func()
}

var errFake = errors.New("fake failure")

func newFakeConnection() *fakeConnection {
	return &fakeConnection{failOn: map[string]bool{}}
}

func (p *fakeConnection) call(name string) error {
	p.calls = append(p.calls, name)
	if p.failOn[name] {
		return errFake
	}
	return nil
}

func (p *fakeConnection) CreateDataChannel(label string) (DataChannel, error) {
	if err := p.call("CreateDataChannel"); err != nil {
		return nil, err
	}
	channel := &fakeChannel{}
	p.channels = append(p.channels, channel)
	return channel, nil
}

func (p *fakeConnection) CreateOffer() (webrtc.SessionDescription, error) {
	if err := p.call("CreateOffer"); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakeConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	if err := p.call("CreateAnswer"); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakeConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	if err := p.call("SetLocalDescription"); err != nil {
		return err
	}
	p.local = append(p.local, desc)
	return nil
}

func (p *fakeConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := p.call("SetRemoteDescription"); err != nil {
		return err
	}
	p.remote = append(p.remote, desc)
	return nil
}

func (p *fakeConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if err := p.call("AddICECandidate"); err != nil {
		return err
	}
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakeConnection) OnICECandidate(f func(webrtc.ICECandidateInit)) { p.onCandidate = f }
func (p *fakeConnection) OnDataChannel(f func(DataChannel))              { p.onDataChannel = f }
func (p *fakeConnection) OnFailed(f func())                              { p.onFailed = f }

func (p *fakeConnection) Close() error {
	p.closed = true
	return nil
}
