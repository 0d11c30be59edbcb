// Package peerlink negotiates the direct peer-to-peer chat channel.
//
// A Link runs the offer/answer exchange over the signaling transport and
// owns the resulting data channel. Its state moves New → Negotiating →
// Open, or to Closed from any state. Remote ICE candidates that arrive
// before the remote description is applied are queued and added once it
// is. The link becomes Open only when the data channel reports open; SDP
// completion alone is not enough.
//
// All Link methods, and every callback it registers, must run on the
// owner's single event goroutine. Callbacks from the peer connection are
// handed to the dispatch function given to New, which is expected to
// queue them onto that goroutine.
package peerlink

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/dcom/internal/models"
)

// Role is the negotiation role of the local side.
type Role int

const (
	RoleUndecided Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "undecided"
	}
}

// State is the link state.
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateNegotiating:
		return "negotiating"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Hooks connect a Link to its owner. All hooks run on the owner's event
// goroutine.
type Hooks struct {
	// Signal sends a negotiation envelope over the signaling transport.
	Signal func(msg models.SignalMessage) error
	// Open fires once when the data channel becomes ready.
	Open func()
	// Message delivers a raw data channel payload.
	Message func(payload []byte)
	// Closed fires once when an open channel or its connection goes away
	// on its own. It does not fire after Close or after a negotiation
	// failure.
	Closed func()
	// Failed fires when the connection fails before the channel opened.
	// The error wraps models.ErrNegotiationFailed and the link is closed.
	Failed func(err error)
	// Warn reports a non-fatal problem, such as a candidate that could
	// not be sent.
	Warn func(err error)
}

// Link is one peer-to-peer chat link.
type Link struct {
	pc       PeerConnection
	dispatch func(func())
	hooks    Hooks
	logger   *slog.Logger

	role      Role
	state     State
	remoteSet bool
	pending   []webrtc.ICECandidateInit
	channel   DataChannel
}

// New wraps pc and registers its callbacks. The link starts in StateNew
// with an undecided role.
func New(pc PeerConnection, dispatch func(func()), hooks Hooks, logger *slog.Logger) *Link {
	l := &Link{
		pc:       pc,
		dispatch: dispatch,
		hooks:    hooks,
		logger:   logger,
	}

	pc.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		l.dispatch(func() { l.sendCandidate(candidate) })
	})
	pc.OnDataChannel(func(channel DataChannel) {
		l.dispatch(func() { l.attachRemoteChannel(channel) })
	})
	pc.OnFailed(func() {
		l.dispatch(l.connectionFailed)
	})
	return l
}

// Role returns the negotiation role.
func (l *Link) Role() Role { return l.role }

// State returns the link state.
func (l *Link) State() State { return l.state }

// PendingCandidates returns the number of queued remote candidates.
func (l *Link) PendingCandidates() int { return len(l.pending) }

// BecomeInitiator is called when the grace window expires without an
// incoming offer. It creates the data channel and sends an offer. It is a
// no-op once a role has been taken.
func (l *Link) BecomeInitiator() error {
	if l.state != StateNew || l.role != RoleUndecided {
		return nil
	}
	l.role = RoleInitiator
	l.state = StateNegotiating
	l.logger.Info("no offer within grace window, initiating")

	channel, err := l.pc.CreateDataChannel(ChannelLabel)
	if err != nil {
		return l.fail("creating data channel", err)
	}
	l.attachChannel(channel)

	offer, err := l.pc.CreateOffer()
	if err != nil {
		return l.fail("creating offer", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return l.fail("setting local offer", err)
	}
	if err := l.hooks.Signal(models.NewOffer(offer)); err != nil {
		return l.fail("sending offer", err)
	}
	return nil
}

// HandleSignal applies one envelope received over the signaling
// transport. A returned error wraps models.ErrNegotiationFailed and means
// the link is closed.
func (l *Link) HandleSignal(msg models.SignalMessage) error {
	if l.state == StateClosed {
		return nil
	}
	switch msg.Type {
	case models.SignalTypeOffer:
		if msg.Offer == nil {
			return l.warnf("offer envelope without description")
		}
		return l.handleOffer(*msg.Offer)
	case models.SignalTypeAnswer:
		if msg.Answer == nil {
			return l.warnf("answer envelope without description")
		}
		return l.handleAnswer(*msg.Answer)
	case models.SignalTypeCandidate:
		if msg.Candidate == nil || msg.Candidate.Candidate == "" {
			// End-of-candidates marker.
			return nil
		}
		return l.handleCandidate(*msg.Candidate)
	default:
		l.logger.Debug("ignoring signaling message", "type", msg.Type)
		return nil
	}
}

func (l *Link) handleOffer(offer webrtc.SessionDescription) error {
	if l.role == RoleInitiator || l.state != StateNew {
		// Both sides timed out and sent offers, or a renegotiation was
		// attempted. Neither is resolved here.
		l.logger.Warn("ignoring offer", "role", l.role, "state", l.state)
		return nil
	}
	l.role = RoleResponder
	l.state = StateNegotiating

	if err := l.applyRemote(offer); err != nil {
		return err
	}
	answer, err := l.pc.CreateAnswer()
	if err != nil {
		return l.fail("creating answer", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return l.fail("setting local answer", err)
	}
	if err := l.hooks.Signal(models.NewAnswer(answer)); err != nil {
		return l.fail("sending answer", err)
	}
	return nil
}

func (l *Link) handleAnswer(answer webrtc.SessionDescription) error {
	if l.role != RoleInitiator || l.state != StateNegotiating || l.remoteSet {
		l.logger.Warn("ignoring answer", "role", l.role, "state", l.state)
		return nil
	}
	return l.applyRemote(answer)
}

func (l *Link) handleCandidate(candidate webrtc.ICECandidateInit) error {
	if !l.remoteSet {
		l.pending = append(l.pending, candidate)
		l.logger.Debug("queued remote candidate", "pending", len(l.pending))
		return nil
	}
	if err := l.pc.AddICECandidate(candidate); err != nil {
		return l.fail("adding ice candidate", err)
	}
	return nil
}

// applyRemote sets the remote description and flushes queued candidates
// in arrival order.
func (l *Link) applyRemote(desc webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(desc); err != nil {
		return l.fail("setting remote description", err)
	}
	l.remoteSet = true

	pending := l.pending
	l.pending = nil
	for _, candidate := range pending {
		if err := l.pc.AddICECandidate(candidate); err != nil {
			return l.fail("adding queued ice candidate", err)
		}
	}
	if len(pending) > 0 {
		l.logger.Debug("applied queued candidates", "count", len(pending))
	}
	return nil
}

func (l *Link) sendCandidate(candidate webrtc.ICECandidateInit) {
	if l.state == StateClosed {
		return
	}
	if err := l.hooks.Signal(models.NewCandidate(candidate)); err != nil {
		l.logger.Warn("sending local candidate failed", "error", err)
		if l.hooks.Warn != nil {
			l.hooks.Warn(err)
		}
	}
}

func (l *Link) attachRemoteChannel(channel DataChannel) {
	if l.state == StateClosed || l.channel != nil {
		channel.Close()
		return
	}
	l.attachChannel(channel)
}

func (l *Link) attachChannel(channel DataChannel) {
	l.channel = channel
	channel.OnOpen(func() {
		l.dispatch(func() { l.channelOpened(channel) })
	})
	channel.OnClose(func() {
		l.dispatch(func() { l.channelClosed(channel, "data channel closed") })
	})
	channel.OnMessage(func(payload []byte) {
		l.dispatch(func() { l.channelMessage(channel, payload) })
	})
}

func (l *Link) channelOpened(channel DataChannel) {
	if l.state == StateClosed || channel != l.channel || l.state == StateOpen {
		return
	}
	l.state = StateOpen
	l.logger.Info("data channel open", "role", l.role)
	if l.hooks.Open != nil {
		l.hooks.Open()
	}
}

func (l *Link) channelMessage(channel DataChannel, payload []byte) {
	if l.state != StateOpen || channel != l.channel {
		return
	}
	if l.hooks.Message != nil {
		l.hooks.Message(payload)
	}
}

// channelClosed handles closure reported by the peer side. A nil channel
// means the whole connection failed.
func (l *Link) channelClosed(channel DataChannel, reason string) {
	if l.state == StateClosed {
		return
	}
	if channel != nil && channel != l.channel {
		return
	}
	l.logger.Info("peer link closed", "reason", reason)
	l.teardown()
	if l.hooks.Closed != nil {
		l.hooks.Closed()
	}
}

// connectionFailed handles ICE/DTLS failure. Before the channel opened it
// is a negotiation failure; afterwards the peer is simply gone.
func (l *Link) connectionFailed() {
	switch l.state {
	case StateClosed:
		return
	case StateOpen:
		l.channelClosed(nil, "peer connection failed")
		return
	}
	err := l.fail("ice connection", errors.New("peer connection failed"))
	if l.hooks.Failed != nil {
		l.hooks.Failed(err)
	}
}

// Send writes payload on the data channel.
func (l *Link) Send(payload []byte) error {
	if l.state != StateOpen || l.channel == nil {
		return fmt.Errorf("%w: peer link is %s", models.ErrTransportNotReady, l.state)
	}
	if err := l.channel.SendText(string(payload)); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransportNotReady, err)
	}
	return nil
}

// Close tears the link down without firing hooks. It is idempotent.
func (l *Link) Close() {
	if l.state == StateClosed {
		return
	}
	l.teardown()
}

func (l *Link) teardown() {
	l.state = StateClosed
	l.pending = nil
	if l.channel != nil {
		l.channel.Close()
	}
	if err := l.pc.Close(); err != nil {
		l.logger.Debug("closing peer connection", "error", err)
	}
}

func (l *Link) fail(step string, err error) error {
	l.logger.Warn("negotiation failed", "step", step, "error", err)
	l.teardown()
	return fmt.Errorf("%w: %s: %v", models.ErrNegotiationFailed, step, err)
}

func (l *Link) warnf(format string, args ...any) error {
	err := fmt.Errorf("%w: "+format, append([]any{models.ErrMalformedMessage}, args...)...)
	l.logger.Warn("bad signaling message", "error", err)
	return err
}

// IsFatal reports whether an error returned by HandleSignal or
// BecomeInitiator closed the link.
func IsFatal(err error) bool {
	return errors.Is(err, models.ErrNegotiationFailed)
}
