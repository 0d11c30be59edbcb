package session

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mossy-p/dcom/internal/models"
	"github.com/mossy-p/dcom/internal/selector"
)

type fixture struct {
	controller *Controller
	opener     *fakeOpener
	peers      *fakeFactory
	events     *recorder
}

func newFixture(t *testing.T, grace time.Duration) *fixture {
	t.Helper()
	sel, err := selector.New("ws://chat.test")
	if err != nil {
		t.Fatalf("selector.New: %v", err)
	}
	f := &fixture{
		opener: newFakeOpener(),
		peers:  &fakeFactory{},
		events: &recorder{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.controller = New(sel, f.opener, f.peers, f.events, Config{GraceWindow: grace, OpenTimeout: time.Second}, logger)
	t.Cleanup(func() { f.controller.Close() })
	return f
}

func (f *fixture) waitStatus(t *testing.T, want models.Status) {
	t.Helper()
	eventually(t, "status "+want.String(), func() bool { return f.controller.Status() == want })
}

// joinRelay joins in relay mode and completes registration.
func (f *fixture) joinRelay(t *testing.T, identity string) *fakeTransport {
	t.Helper()
	if err := f.controller.Join(identity, models.ModeRelay, ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	transport := f.opener.next(t)
	transport.deliver("Enter your username:")
	f.waitStatus(t, models.StatusConnected)
	return transport
}

// joinDirectOpen joins in direct mode, lets the grace window expire and
// opens the data channel.
func (f *fixture) joinDirectOpen(t *testing.T) (*fakeTransport, *fakeChannel) {
	t.Helper()
	if err := f.controller.Join("alice", models.ModeDirect, "room-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	transport := f.opener.next(t)
	eventually(t, "offer", func() bool { return len(transport.sentSignals(models.SignalTypeOffer)) == 1 })
	transport.deliver(`{"type":"answer","answer":{"type":"answer","sdp":"v=0 answer"}}`)
	channel := f.peers.last().dataChannel()
	channel.fireOpen()
	f.waitStatus(t, models.StatusConnected)
	return transport, channel
}

func TestRelayRegistration(t *testing.T) {
	f := newFixture(t, time.Hour)

	if err := f.controller.Join("alice", models.ModeRelay, ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	transport := f.opener.next(t)
	if got := f.opener.endpoint(0); got != "ws://chat.test/ws" {
		t.Errorf("endpoint = %q", got)
	}
	if status := f.controller.Status(); status != models.StatusConnecting {
		t.Fatalf("status before prompt = %s, want connecting", status)
	}

	transport.deliver("Enter your username:")
	f.waitStatus(t, models.StatusConnected)

	// A repeated prompt does not register twice.
	transport.deliver("Enter your username:")
	f.controller.Status()

	sent := transport.sentPayloads()
	if len(sent) != 1 || sent[0] != "alice" {
		t.Fatalf("sent = %q, want exactly one identity registration", sent)
	}
	messages := f.controller.Messages()
	if len(messages) != 1 || !messages[0].IsSystem() || messages[0].Text != "You joined as alice" {
		t.Errorf("messages = %+v", messages)
	}

	_, statuses, _ := f.events.snapshot()
	want := []models.Status{models.StatusConnecting, models.StatusConnected}
	if len(statuses) != len(want) || statuses[0] != want[0] || statuses[1] != want[1] {
		t.Errorf("statuses = %v, want %v", statuses, want)
	}
}

func TestRelayPromptBeforeOpenReturns(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.opener.greeting = "Enter your username:"

	if err := f.controller.Join("alice", models.ModeRelay, ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	transport := f.opener.next(t)
	f.waitStatus(t, models.StatusConnected)
	if sent := transport.sentPayloads(); len(sent) != 1 {
		t.Errorf("sent = %q", sent)
	}
}

func TestRelayInbound(t *testing.T) {
	f := newFixture(t, time.Hour)
	transport := f.joinRelay(t, "alice")

	transport.deliver("bob: hello there")
	transport.deliver(`{"user":"carol","text":"hi"}`)
	transport.deliver("🔻 dave left the chat.")

	eventually(t, "three inbound messages", func() bool { return len(f.controller.Messages()) == 4 })
	messages := f.controller.Messages()[1:]
	want := []models.ChatMessage{
		{Sender: "bob", Text: "hello there"},
		{Sender: "carol", Text: "hi"},
		{Sender: "system", Text: "🔻 dave left the chat."},
	}
	for i := range want {
		if messages[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, messages[i], want[i])
		}
	}
}

func TestSendOptimisticEcho(t *testing.T) {
	f := newFixture(t, time.Hour)
	transport := f.joinRelay(t, "alice")

	if err := f.controller.Send("hello bob"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	messages := f.controller.Messages()
	count := 0
	for _, msg := range messages {
		if msg == (models.ChatMessage{Sender: "alice", Text: "hello bob"}) {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("echoed %d times, want 1: %+v", count, messages)
	}
	sent := transport.sentPayloads()
	if sent[len(sent)-1] != "hello bob" {
		t.Errorf("relay wire = %q, want raw text", sent[len(sent)-1])
	}

	// Blank text is ignored.
	if err := f.controller.Send("   "); err != nil {
		t.Fatalf("Send blank: %v", err)
	}
	if len(f.controller.Messages()) != len(messages) {
		t.Errorf("blank message was logged")
	}
}

func TestSendBeforeConnectedIsNoop(t *testing.T) {
	f := newFixture(t, time.Hour)

	if err := f.controller.Send("too early"); err != nil {
		t.Fatalf("Send while idle: %v", err)
	}

	if err := f.controller.Join("alice", models.ModeRelay, ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	transport := f.opener.next(t)
	if err := f.controller.Send("still early"); err != nil {
		t.Fatalf("Send while connecting: %v", err)
	}
	if len(transport.sentPayloads()) != 0 || len(f.controller.Messages()) != 0 {
		t.Errorf("send before connected reached the wire or the log")
	}
}

func TestSendTransportNotReady(t *testing.T) {
	f := newFixture(t, time.Hour)
	transport := f.joinRelay(t, "alice")
	transport.Close()

	err := f.controller.Send("lost")
	if !errors.Is(err, models.ErrTransportNotReady) {
		t.Fatalf("Send = %v, want ErrTransportNotReady", err)
	}
	if !f.events.hasError(models.KindTransportNotReady) {
		t.Errorf("no TransportNotReady event")
	}
	if f.controller.Status() != models.StatusConnected {
		t.Errorf("failed send tore the session down")
	}
	for _, msg := range f.controller.Messages() {
		if msg.Text == "lost" {
			t.Errorf("unsent message was echoed")
		}
	}
}

func TestInvalidJoin(t *testing.T) {
	f := newFixture(t, time.Hour)

	err := f.controller.Join("alice", models.ModeDirect, "")
	if !errors.Is(err, models.ErrInvalidJoinRequest) {
		t.Fatalf("Join = %v, want ErrInvalidJoinRequest", err)
	}
	err = f.controller.Join("", models.ModeRelay, "")
	if !errors.Is(err, models.ErrInvalidJoinRequest) {
		t.Fatalf("Join = %v, want ErrInvalidJoinRequest", err)
	}
	if f.opener.openCount() != 0 {
		t.Errorf("invalid join opened a transport")
	}
	if f.controller.Status() != models.StatusIdle {
		t.Errorf("status = %s, want idle", f.controller.Status())
	}
	if !f.events.hasError(models.KindInvalidJoinRequest) {
		t.Errorf("no InvalidJoinRequest event")
	}
}

func TestJoinWhileActive(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.joinRelay(t, "alice")

	if err := f.controller.Join("alice", models.ModeRelay, ""); !errors.Is(err, models.ErrInvalidJoinRequest) {
		t.Fatalf("second Join = %v, want ErrInvalidJoinRequest", err)
	}

	// After leaving, a fresh session can be joined.
	if err := f.controller.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := f.controller.Join("alice", models.ModeRelay, ""); err != nil {
		t.Fatalf("Join after Leave: %v", err)
	}
	f.opener.next(t)
	if f.controller.Status() != models.StatusConnecting {
		t.Errorf("status = %s, want connecting", f.controller.Status())
	}
	if len(f.controller.Messages()) != 0 {
		t.Errorf("new session inherited the old log")
	}
}

func TestDialFailure(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.opener.err = models.ErrTransportUnavailable

	if err := f.controller.Join("alice", models.ModeRelay, ""); err != nil {
		t.Fatalf("Join: %v", err)
	}
	f.waitStatus(t, models.StatusFailed)
	if !f.events.hasError(models.KindTransportUnavailable) {
		t.Errorf("no TransportUnavailable event")
	}
}

func TestRemoteClosure(t *testing.T) {
	f := newFixture(t, time.Hour)
	transport := f.joinRelay(t, "alice")

	transport.hangUp()
	f.waitStatus(t, models.StatusDisconnected)

	messages := f.controller.Messages()
	last := messages[len(messages)-1]
	if !last.IsSystem() || last.Text != "Disconnected from server" {
		t.Errorf("last message = %+v", last)
	}
	if !f.events.hasError(models.KindTransportClosed) {
		t.Errorf("no TransportClosed event")
	}
	if !transport.isClosed() {
		t.Errorf("transport not released")
	}
}

func TestLeaveSilencesLateCallbacks(t *testing.T) {
	f := newFixture(t, time.Hour)
	transport := f.joinRelay(t, "alice")

	if err := f.controller.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if err := f.controller.Leave(); err != nil {
		t.Fatalf("second Leave: %v", err)
	}
	if !transport.isClosed() {
		t.Errorf("transport still open after Leave")
	}
	messagesBefore, statusesBefore, _ := f.events.snapshot()
	if statusesBefore[len(statusesBefore)-1] != models.StatusDisconnected {
		t.Fatalf("last status = %s, want disconnected", statusesBefore[len(statusesBefore)-1])
	}

	transport.deliver("bob: are you there?")
	transport.deliver("Enter your username:")
	transport.hangUp()
	f.controller.Status() // drains everything queued before it

	messagesAfter, statusesAfter, _ := f.events.snapshot()
	if len(messagesAfter) != len(messagesBefore) || len(statusesAfter) != len(statusesBefore) {
		t.Errorf("events after Leave: messages %d→%d statuses %d→%d",
			len(messagesBefore), len(messagesAfter), len(statusesBefore), len(statusesAfter))
	}
}

func TestDirectInitiatorReorderedSignals(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)

	if err := f.controller.Join("alice", models.ModeDirect, "room-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	transport := f.opener.next(t)
	if got := f.opener.endpoint(0); got != "ws://chat.test/signal/room-1" {
		t.Errorf("endpoint = %q", got)
	}
	eventually(t, "offer after grace window", func() bool {
		return len(transport.sentSignals(models.SignalTypeOffer)) == 1
	})

	transport.deliver(`{"type":"ice-candidate","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`)
	transport.deliver(`{"type":"ice-candidate","candidate":{"candidate":"candidate:2 1 udp 1 10.0.0.2 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`)
	transport.deliver(`{"type":"answer","answer":{"type":"answer","sdp":"v=0 answer"}}`)

	pc := f.peers.last()
	eventually(t, "queued candidates applied", func() bool {
		applied, _ := pc.appliedCandidates()
		return applied == 2
	})
	if _, beforeRemote := pc.appliedCandidates(); beforeRemote != 0 {
		t.Fatalf("%d candidates added before the remote description", beforeRemote)
	}
	if f.controller.Status() != models.StatusConnecting {
		t.Fatalf("connected before the data channel opened")
	}

	pc.dataChannel().fireOpen()
	f.waitStatus(t, models.StatusConnected)
}

func TestDirectResponder(t *testing.T) {
	f := newFixture(t, time.Hour)

	if err := f.controller.Join("bob", models.ModeDirect, "room-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	transport := f.opener.next(t)
	transport.deliver(`{"type":"offer","offer":{"type":"offer","sdp":"v=0 offer"}}`)
	eventually(t, "answer", func() bool { return len(transport.sentSignals(models.SignalTypeAnswer)) == 1 })

	pc := f.peers.last()
	channel := &fakeChannel{}
	pc.mu.Lock()
	onDataChannel := pc.onDataChannel
	pc.mu.Unlock()
	onDataChannel(channel)
	eventually(t, "channel handlers", func() bool {
		channel.mu.Lock()
		defer channel.mu.Unlock()
		return channel.onOpen != nil
	})
	channel.fireOpen()
	f.waitStatus(t, models.StatusConnected)

	channel.fireMessage(`{"user":"alice","text":"hi bob"}`)
	eventually(t, "inbound message", func() bool {
		messages := f.controller.Messages()
		return messages[len(messages)-1] == models.ChatMessage{Sender: "alice", Text: "hi bob"}
	})

	if err := f.controller.Send("hi alice"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sent := channel.sentTexts()
	if len(sent) != 1 || sent[0] != `{"user":"bob","text":"hi alice"}` {
		t.Errorf("data channel wire = %q", sent)
	}
}

func TestDirectMalformedMessage(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	_, channel := f.joinDirectOpen(t)
	before := f.controller.Messages()

	channel.fireMessage("not json at all")
	eventually(t, "malformed report", func() bool { return f.events.hasError(models.KindMalformedMessage) })

	if after := f.controller.Messages(); len(after) != len(before) {
		t.Errorf("malformed payload changed the log: %+v", after)
	}
	if f.controller.Status() != models.StatusConnected {
		t.Errorf("status = %s, want connected", f.controller.Status())
	}
}

func TestDirectChannelClosed(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	transport, channel := f.joinDirectOpen(t)

	// Signaling going away does not end an open peer link.
	transport.hangUp()
	if f.controller.Status() != models.StatusConnected {
		t.Fatalf("signaling closure ended an open direct session")
	}

	channel.fireClose()
	f.waitStatus(t, models.StatusDisconnected)
	messages := f.controller.Messages()
	if last := messages[len(messages)-1]; last != models.SystemMessage("Peer disconnected") {
		t.Errorf("last message = %+v", last)
	}
}

func TestDirectNegotiationFailure(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	f.peers.failOn = "CreateOffer"

	if err := f.controller.Join("alice", models.ModeDirect, "room-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	transport := f.opener.next(t)
	f.waitStatus(t, models.StatusFailed)

	if !f.events.hasError(models.KindNegotiationFailed) {
		t.Errorf("no NegotiationFailed event")
	}
	if !transport.isClosed() || !f.peers.last().isClosed() {
		t.Errorf("resources not released after failure")
	}
	messages := f.controller.Messages()
	if last := messages[len(messages)-1]; !last.IsSystem() {
		t.Errorf("no system message for failure: %+v", last)
	}
}

func TestDirectICEFailureBeforeOpen(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)

	if err := f.controller.Join("alice", models.ModeDirect, "room-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	transport := f.opener.next(t)
	eventually(t, "offer", func() bool { return len(transport.sentSignals(models.SignalTypeOffer)) == 1 })
	transport.deliver(`{"type":"answer","answer":{"type":"answer","sdp":"v=0 answer"}}`)
	eventually(t, "answer applied", func() bool {
		pc := f.peers.last()
		pc.mu.Lock()
		defer pc.mu.Unlock()
		return pc.remoteSet
	})

	f.peers.last().fail()
	f.waitStatus(t, models.StatusFailed)

	if !f.events.hasError(models.KindNegotiationFailed) {
		t.Errorf("no NegotiationFailed event")
	}
	if f.events.hasError(models.KindTransportClosed) {
		t.Errorf("ICE failure reported as a transport closure")
	}
	messages := f.controller.Messages()
	if last := messages[len(messages)-1]; !last.IsSystem() || !strings.HasPrefix(last.Text, "Connection failed") {
		t.Errorf("last message = %+v", last)
	}
	if !transport.isClosed() {
		t.Errorf("signaling left open after failure")
	}
}

func TestDirectMalformedSignal(t *testing.T) {
	f := newFixture(t, time.Hour)
	if err := f.controller.Join("alice", models.ModeDirect, "room-1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	transport := f.opener.next(t)
	transport.deliver("{{{")
	eventually(t, "malformed report", func() bool { return f.events.hasError(models.KindMalformedMessage) })
	if f.controller.Status() != models.StatusConnecting {
		t.Errorf("status = %s, want connecting", f.controller.Status())
	}
}

func TestCloseRejectsIntents(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.controller.Close()
	if err := f.controller.Join("alice", models.ModeRelay, ""); !errors.Is(err, ErrClosed) {
		t.Errorf("Join after Close = %v, want ErrClosed", err)
	}
}
