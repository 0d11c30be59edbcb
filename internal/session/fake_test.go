package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/dcom/internal/models"
	"github.com/mossy-p/dcom/internal/peerlink"
	"github.com/mossy-p/dcom/internal/signaling"
)

// recorder is a Listener that keeps every event.
type recorder struct {
	mu       sync.Mutex
	messages []models.ChatMessage
	statuses []models.Status
	errors   []models.ErrorKind
}

func (r *recorder) MessageAppended(msg models.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) StatusChanged(status models.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recorder) Error(kind models.ErrorKind, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, kind)
}

func (r *recorder) snapshot() ([]models.ChatMessage, []models.Status, []models.ErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChatMessage(nil), r.messages...),
		append([]models.Status(nil), r.statuses...),
		append([]models.ErrorKind(nil), r.errors...)
}

func (r *recorder) hasError(kind models.ErrorKind) bool {
	_, _, kinds := r.snapshot()
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// fakeTransport stands in for a WebSocket connection. deliver and hangUp
// play the server side.
type fakeTransport struct {
	mu      sync.Mutex
	handler signaling.Handler
	sent    [][]byte
	closed  bool
}

func (t *fakeTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return models.ErrTransportNotReady
	}
	t.sent = append(t.sent, append([]byte(nil), payload...))
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) deliver(payload string) {
	t.handler.OnMessage([]byte(payload))
}

func (t *fakeTransport) hangUp() {
	t.handler.OnClosed(models.ErrTransportClosed)
}

func (t *fakeTransport) sentPayloads() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.sent))
	for i, p := range t.sent {
		out[i] = string(p)
	}
	return out
}

func (t *fakeTransport) sentSignals(kind models.SignalType) []models.SignalMessage {
	var out []models.SignalMessage
	for _, payload := range t.sentPayloads() {
		var msg models.SignalMessage
		if json.Unmarshal([]byte(payload), &msg) == nil && msg.Type == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type fakeOpener struct {
	mu  sync.Mutex
	err error
	// greeting, when set, is delivered before Open returns, the way a
	// fast server can beat the dial result.
	greeting   string
	endpoints  []string
	transports []*fakeTransport
	opened     chan *fakeTransport
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{opened: make(chan *fakeTransport, 4)}
}

func (o *fakeOpener) Open(ctx context.Context, endpoint string, handler signaling.Handler) (signaling.Transport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.endpoints = append(o.endpoints, endpoint)
	if o.err != nil {
		return nil, o.err
	}
	transport := &fakeTransport{handler: handler}
	o.transports = append(o.transports, transport)
	if o.greeting != "" {
		handler.OnMessage([]byte(o.greeting))
	}
	o.opened <- transport
	return transport, nil
}

func (o *fakeOpener) endpoint(i int) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.endpoints[i]
}

func (o *fakeOpener) openCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.endpoints)
}

func (o *fakeOpener) next(t *testing.T) *fakeTransport {
	t.Helper()
	select {
	case transport := <-o.opened:
		return transport
	case <-time.After(2 * time.Second):
		t.Fatal("transport was never opened")
		return nil
	}
}

type fakeChannel struct {
	mu        sync.Mutex
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
	sent      []string
}

func (c *fakeChannel) OnOpen(f func())          { c.mu.Lock(); c.onOpen = f; c.mu.Unlock() }
func (c *fakeChannel) OnClose(f func())         { c.mu.Lock(); c.onClose = f; c.mu.Unlock() }
func (c *fakeChannel) OnMessage(f func([]byte)) { c.mu.Lock(); c.onMessage = f; c.mu.Unlock() }
func (c *fakeChannel) Close() error             { return nil }

func (c *fakeChannel) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, text)
	return nil
}

func (c *fakeChannel) fireOpen() {
	c.mu.Lock()
	f := c.onOpen
	c.mu.Unlock()
	f()
}

func (c *fakeChannel) fireClose() {
	c.mu.Lock()
	f := c.onClose
	c.mu.Unlock()
	f()
}

func (c *fakeChannel) fireMessage(payload string) {
	c.mu.Lock()
	f := c.onMessage
	c.mu.Unlock()
	f([]byte(payload))
}

func (c *fakeChannel) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

type fakeConnection struct {
	mu             sync.Mutex
	failOn         string
	remoteSet      bool
	candidates     []webrtc.ICECandidateInit
	lateCandidates int
	channel        *fakeChannel
	closed         bool
	onDataChannel  func(peerlink.DataChannel)
	onFailed       func()
}

var errFake = errors.New("fake failure")

func (p *fakeConnection) CreateDataChannel(label string) (peerlink.DataChannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failOn == "CreateDataChannel" {
		return nil, errFake
	}
	p.channel = &fakeChannel{}
	return p.channel, nil
}

func (p *fakeConnection) CreateOffer() (webrtc.SessionDescription, error) {
	if p.failOn == "CreateOffer" {
		return webrtc.SessionDescription{}, errFake
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}, nil
}

func (p *fakeConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}, nil
}

func (p *fakeConnection) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (p *fakeConnection) SetRemoteDescription(webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteSet = true
	return nil
}

func (p *fakeConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.remoteSet {
		p.lateCandidates++
	}
	p.candidates = append(p.candidates, candidate)
	return nil
}

func (p *fakeConnection) OnICECandidate(func(webrtc.ICECandidateInit)) {}

func (p *fakeConnection) OnDataChannel(f func(peerlink.DataChannel)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDataChannel = f
}

func (p *fakeConnection) OnFailed(f func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailed = f
}

// fail reports an ICE failure the way pion's state callback would.
func (p *fakeConnection) fail() {
	p.mu.Lock()
	f := p.onFailed
	p.mu.Unlock()
	f()
}

func (p *fakeConnection) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeConnection) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakeConnection) dataChannel() *fakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

func (p *fakeConnection) appliedCandidates() (applied, beforeRemote int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates), p.lateCandidates
}

type fakeFactory struct {
	mu          sync.Mutex
	failOn      string
	connections []*fakeConnection
}

func (f *fakeFactory) NewPeerConnection() (peerlink.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn == "NewPeerConnection" {
		return nil, errFake
	}
	pc := &fakeConnection{failOn: f.failOn}
	f.connections = append(f.connections, pc)
	return pc, nil
}

func (f *fakeFactory) last() *fakeConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connections) == 0 {
		return nil
	}
	return f.connections[len(f.connections)-1]
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
