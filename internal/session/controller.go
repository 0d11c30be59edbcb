// Package session implements the chat session controller: the object the
// UI talks to. It validates join requests, opens the signaling transport,
// drives the peer link in direct mode or the registration handshake in
// relay mode, and turns everything that happens on the wire into
// MessageAppended, StatusChanged and Error events.
//
// Every state change happens on one event goroutine. Transport and peer
// callbacks only enqueue work, so no two callbacks ever run concurrently
// against a session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mossy-p/dcom/internal/models"
	"github.com/mossy-p/dcom/internal/normalizer"
	"github.com/mossy-p/dcom/internal/peerlink"
	"github.com/mossy-p/dcom/internal/selector"
	"github.com/mossy-p/dcom/internal/signaling"
)

// ErrClosed is returned by intents issued after Close.
var ErrClosed = errors.New("session controller closed")

const queueSize = 256

// Listener receives the controller's events, in order, on the event
// goroutine. Implementations must not call back into the Controller
// synchronously.
type Listener interface {
	MessageAppended(msg models.ChatMessage)
	StatusChanged(status models.Status)
	Error(kind models.ErrorKind, detail string)
}

// Opener opens signaling transports. *signaling.Dialer satisfies it.
type Opener interface {
	Open(ctx context.Context, endpoint string, handler signaling.Handler) (signaling.Transport, error)
}

// Config tunes the controller.
type Config struct {
	// GraceWindow is how long a direct-mode session waits for an incoming
	// offer before it becomes the initiator.
	GraceWindow time.Duration
	// OpenTimeout bounds the signaling dial.
	OpenTimeout time.Duration
}

// DefaultConfig returns the settings used by the chat client.
func DefaultConfig() Config {
	return Config{
		GraceWindow: time.Second,
		OpenTimeout: 10 * time.Second,
	}
}

// Controller owns at most one live session at a time.
type Controller struct {
	selector *selector.Selector
	opener   Opener
	peers    peerlink.Factory
	listener Listener
	config   Config
	logger   *slog.Logger

	queue    chan func()
	done     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	// Owned by the event goroutine.
	current  *Session
	messages []models.ChatMessage
}

// New creates a controller and starts its event goroutine. Call Close to
// stop it.
func New(sel *selector.Selector, opener Opener, peers peerlink.Factory, listener Listener, config Config, logger *slog.Logger) *Controller {
	if config.GraceWindow <= 0 {
		config.GraceWindow = DefaultConfig().GraceWindow
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultConfig().OpenTimeout
	}
	c := &Controller{
		selector: sel,
		opener:   opener,
		peers:    peers,
		listener: listener,
		config:   config,
		logger:   logger,
		queue:    make(chan func(), queueSize),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case f := <-c.queue:
			f()
		case <-c.done:
			return
		}
	}
}

// post queues f from a callback goroutine. Work posted after Close is
// dropped.
func (c *Controller) post(f func()) {
	select {
	case c.queue <- f:
	case <-c.done:
	}
}

// do runs f on the event goroutine and waits for it.
func (c *Controller) do(f func()) error {
	finished := make(chan struct{})
	select {
	case c.queue <- func() { f(); close(finished) }:
	case <-c.done:
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-c.loopDone:
		return ErrClosed
	}
}

// Join starts a new session. Precondition failures are returned (and
// reported as an Error event) before any connection attempt. The
// connection itself proceeds asynchronously; progress arrives as events.
func (c *Controller) Join(identity string, mode models.Mode, roomID string) error {
	plan, err := c.selector.Plan(selector.JoinRequest{Identity: identity, Mode: mode, RoomID: roomID})

	var result error
	doErr := c.do(func() {
		if err != nil {
			result = err
			c.emitError(err)
			return
		}
		if c.current != nil && !c.current.closed {
			result = fmt.Errorf("%w: a %s session is already active", models.ErrInvalidJoinRequest, c.current.plan.Mode)
			c.emitError(result)
			return
		}
		c.start(plan)
	})
	if doErr != nil {
		return doErr
	}
	return result
}

// Send transmits text in the active session. It is a no-op unless the
// session is connected. A message is echoed to the log as soon as the
// transport accepts it, without waiting for the remote side.
func (c *Controller) Send(text string) error {
	var result error
	doErr := c.do(func() {
		s := c.current
		if s == nil || s.closed || s.status != models.StatusConnected {
			return
		}
		if strings.TrimSpace(text) == "" {
			return
		}
		msg := models.ChatMessage{Sender: s.plan.Identity, Text: text}
		if err := c.transmit(s, msg); err != nil {
			result = err
			c.emitError(err)
			return
		}
		c.appendMessage(msg)
	})
	if doErr != nil {
		return doErr
	}
	return result
}

// Leave tears the active session down and moves it to Disconnected. No
// event of that session is emitted after Leave returns. It is idempotent.
func (c *Controller) Leave() error {
	return c.do(func() {
		s := c.current
		if s == nil || s.closed {
			return
		}
		s.logger.Info("leaving session")
		c.teardown(s)
		c.setStatus(s, models.StatusDisconnected)
	})
}

// Close leaves the active session and stops the event goroutine.
func (c *Controller) Close() error {
	c.Leave()
	c.stopOnce.Do(func() { close(c.done) })
	<-c.loopDone
	return nil
}

// Status returns the status of the current session, or Idle if none was
// ever joined.
func (c *Controller) Status() models.Status {
	status := models.StatusIdle
	c.do(func() {
		if c.current != nil {
			status = c.current.status
		}
	})
	return status
}

// Mode returns the mode of the current session, or zero.
func (c *Controller) Mode() models.Mode {
	var mode models.Mode
	c.do(func() {
		if c.current != nil {
			mode = c.current.plan.Mode
		}
	})
	return mode
}

// Messages returns a copy of the current session's message log.
func (c *Controller) Messages() []models.ChatMessage {
	var out []models.ChatMessage
	c.do(func() {
		out = make([]models.ChatMessage, len(c.messages))
		copy(out, c.messages)
	})
	return out
}

func (c *Controller) start(plan selector.Plan) {
	s := &Session{
		ID:     uuid.NewString(),
		plan:   plan,
		status: models.StatusIdle,
	}
	s.logger = c.logger.With("session", s.ID, "mode", plan.Mode.String())
	if plan.RoomID != "" {
		s.logger = s.logger.With("room", plan.RoomID)
	}

	c.current = s
	c.messages = nil
	c.setStatus(s, models.StatusConnecting)
	s.logger.Info("joining", "identity", plan.Identity, "endpoint", plan.Endpoint)

	ctx, cancel := context.WithTimeout(context.Background(), c.config.OpenTimeout)
	s.cancelOpen = cancel
	go c.open(ctx, s)
}

func (c *Controller) open(ctx context.Context, s *Session) {
	transport, err := c.opener.Open(ctx, s.plan.Endpoint, signaling.Handler{
		OnMessage: func(payload []byte) {
			c.post(func() { c.handleSignaling(s, payload) })
		},
		OnClosed: func(err error) {
			c.post(func() { c.handleTransportClosed(s, err) })
		},
	})
	c.post(func() { c.handleOpened(s, transport, err) })
}

func (c *Controller) live(s *Session) bool {
	return s == c.current && !s.closed
}

func (c *Controller) handleOpened(s *Session, transport signaling.Transport, err error) {
	s.cancelOpen()
	if !c.live(s) {
		if transport != nil {
			transport.Close()
		}
		return
	}
	if err != nil {
		if !errors.Is(err, models.ErrTransportUnavailable) {
			err = fmt.Errorf("%w: %v", models.ErrTransportUnavailable, err)
		}
		c.endSession(s, models.StatusFailed, "Could not connect to server", err)
		return
	}

	s.transport = transport
	s.logger.Info("signaling transport open")

	if s.plan.Mode == models.ModeDirect {
		c.startLink(s)
	}

	early := s.early
	s.early = nil
	for _, payload := range early {
		c.handleSignaling(s, payload)
	}
}

func (c *Controller) startLink(s *Session) {
	pc, err := c.peers.NewPeerConnection()
	if err != nil {
		c.negotiationFailed(s, fmt.Errorf("%w: creating peer connection: %v", models.ErrNegotiationFailed, err))
		return
	}

	dispatch := func(f func()) {
		c.post(func() {
			if c.live(s) {
				f()
			}
		})
	}
	s.link = peerlink.New(pc, dispatch, peerlink.Hooks{
		Signal: func(msg models.SignalMessage) error {
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("encoding %s: %w", msg.Type, err)
			}
			return s.transport.Send(data)
		},
		Open:    func() { c.linkOpened(s) },
		Message: func(payload []byte) { c.handleDirectMessage(s, payload) },
		Closed:  func() { c.linkClosed(s) },
		Failed:  func(err error) { c.negotiationFailed(s, err) },
		Warn:    c.emitError,
	}, s.logger)

	c.appendMessage(models.SystemMessage("Waiting for a peer in room " + s.plan.RoomID))

	s.grace = time.AfterFunc(c.config.GraceWindow, func() {
		dispatch(func() {
			if err := s.link.BecomeInitiator(); err != nil {
				c.negotiationFailed(s, err)
			}
		})
	})
}

func (c *Controller) handleSignaling(s *Session, payload []byte) {
	if !c.live(s) {
		return
	}
	if s.transport == nil {
		// Frames read before Open returned.
		s.early = append(s.early, payload)
		return
	}

	switch s.plan.Mode {
	case models.ModeDirect:
		if s.link == nil {
			return
		}
		var msg models.SignalMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.emitError(fmt.Errorf("%w: signaling payload: %v", models.ErrMalformedMessage, err))
			return
		}
		if err := s.link.HandleSignal(msg); err != nil {
			if peerlink.IsFatal(err) {
				c.negotiationFailed(s, err)
				return
			}
			c.emitError(err)
		}
	case models.ModeRelay:
		c.handleRelay(s, payload)
	}
}

func (c *Controller) handleRelay(s *Session, payload []byte) {
	inbound := normalizer.ClassifyRelay(payload)
	if inbound.Kind != normalizer.KindRegistration {
		c.appendMessage(inbound.Message)
		return
	}

	if s.registered {
		s.logger.Warn("ignoring repeated registration prompt")
		return
	}
	if err := s.transport.Send([]byte(s.plan.Identity)); err != nil {
		c.emitError(err)
		return
	}
	s.registered = true
	s.logger.Info("registered with relay")
	c.setStatus(s, models.StatusConnected)
	c.appendMessage(models.SystemMessage("You joined as " + s.plan.Identity))
}

func (c *Controller) handleDirectMessage(s *Session, payload []byte) {
	msg, err := normalizer.DecodeDirect(payload)
	if err != nil {
		c.emitError(err)
		return
	}
	c.appendMessage(msg)
}

func (c *Controller) handleTransportClosed(s *Session, err error) {
	if !c.live(s) {
		return
	}
	if err == nil {
		err = models.ErrTransportClosed
	}
	if s.link != nil && s.link.State() == peerlink.StateOpen {
		// The chat no longer needs the signaling channel.
		s.logger.Info("signaling closed, continuing on peer link", "error", err)
		return
	}
	c.endSession(s, models.StatusDisconnected, "Disconnected from server", err)
}

func (c *Controller) linkOpened(s *Session) {
	c.setStatus(s, models.StatusConnected)
	c.appendMessage(models.SystemMessage("Connected to peer"))
}

func (c *Controller) linkClosed(s *Session) {
	c.endSession(s, models.StatusDisconnected, "Peer disconnected",
		fmt.Errorf("%w: peer link closed", models.ErrTransportClosed))
}

func (c *Controller) negotiationFailed(s *Session, err error) {
	if mode, ok := c.selector.Fallback(s.plan.Mode); ok {
		s.logger.Info("fallback available", "mode", mode)
	}
	c.endSession(s, models.StatusFailed, "Connection failed: "+err.Error(), err)
}

func (c *Controller) transmit(s *Session, msg models.ChatMessage) error {
	payload, err := normalizer.Encode(s.plan.Mode, msg)
	if err != nil {
		return err
	}
	if s.plan.Mode == models.ModeDirect {
		if s.link == nil {
			return fmt.Errorf("%w: no peer link", models.ErrTransportNotReady)
		}
		return s.link.Send(payload)
	}
	if s.transport == nil {
		return fmt.Errorf("%w: no relay connection", models.ErrTransportNotReady)
	}
	return s.transport.Send(payload)
}

// endSession reports why s ended, releases it and sets its final status.
func (c *Controller) endSession(s *Session, status models.Status, note string, err error) {
	s.logger.Warn("session ended", "status", status.String(), "error", err)
	c.appendMessage(models.SystemMessage(note))
	if err != nil {
		c.emitError(err)
	}
	c.teardown(s)
	c.setStatus(s, status)
}

func (c *Controller) teardown(s *Session) {
	s.closed = true
	s.early = nil
	if s.grace != nil {
		s.grace.Stop()
	}
	if s.cancelOpen != nil {
		s.cancelOpen()
	}
	if s.link != nil {
		s.link.Close()
	}
	if s.transport != nil {
		s.transport.Close()
	}
}

func (c *Controller) setStatus(s *Session, status models.Status) {
	if s.status == status {
		return
	}
	s.logger.Debug("status changed", "from", s.status.String(), "to", status.String())
	s.status = status
	c.listener.StatusChanged(status)
}

func (c *Controller) appendMessage(msg models.ChatMessage) {
	c.messages = append(c.messages, msg)
	c.listener.MessageAppended(msg)
}

func (c *Controller) emitError(err error) {
	kind := models.KindOf(err)
	c.logger.Warn("session error", "kind", string(kind), "error", err)
	c.listener.Error(kind, err.Error())
}
