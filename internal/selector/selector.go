// Package selector decides the transport mode of a session and the
// endpoint it connects to.
package selector

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mossy-p/dcom/internal/models"
)

// JoinRequest carries the UI's Join intent.
type JoinRequest struct {
	Identity string
	Mode     models.Mode
	RoomID   string
}

// Plan is the validated outcome of a join request.
type Plan struct {
	Mode     models.Mode
	Endpoint string
	Identity string
	RoomID   string
}

// Selector maps join requests onto endpoints of a single server.
type Selector struct {
	base string
}

// New creates a Selector for the server at baseURL (ws:// or wss://).
func New(baseURL string) (*Selector, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("server url %q: unsupported scheme %q", baseURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server url %q: missing host", baseURL)
	}
	return &Selector{base: strings.TrimRight(u.String(), "/")}, nil
}

// SelectMode returns the effective mode for requested. No probing is
// done: the requested mode is always the one used.
func (s *Selector) SelectMode(requested models.Mode) models.Mode {
	return requested
}

// Fallback reports the mode to retry with after failed fails. There is no
// fallback; the user has to join again.
func (s *Selector) Fallback(failed models.Mode) (models.Mode, bool) {
	return failed, false
}

// Validate checks the preconditions of req without touching the network.
func (s *Selector) Validate(req JoinRequest) error {
	if strings.TrimSpace(req.Identity) == "" {
		return fmt.Errorf("%w: identity is required", models.ErrInvalidJoinRequest)
	}
	if strings.EqualFold(strings.TrimSpace(req.Identity), models.SystemSender) {
		return fmt.Errorf("%w: identity %q is reserved", models.ErrInvalidJoinRequest, models.SystemSender)
	}
	switch s.SelectMode(req.Mode) {
	case models.ModeDirect:
		if strings.TrimSpace(req.RoomID) == "" {
			return fmt.Errorf("%w: direct mode requires a room id", models.ErrInvalidJoinRequest)
		}
	case models.ModeRelay:
	default:
		return fmt.Errorf("%w: unknown mode %s", models.ErrInvalidJoinRequest, req.Mode)
	}
	return nil
}

// Plan validates req and resolves its endpoint. The room id is ignored in
// relay mode.
func (s *Selector) Plan(req JoinRequest) (Plan, error) {
	if err := s.Validate(req); err != nil {
		return Plan{}, err
	}
	plan := Plan{
		Mode:     s.SelectMode(req.Mode),
		Identity: strings.TrimSpace(req.Identity),
	}
	if plan.Mode == models.ModeDirect {
		plan.RoomID = strings.TrimSpace(req.RoomID)
		plan.Endpoint = s.base + "/signal/" + url.PathEscape(plan.RoomID)
	} else {
		plan.Endpoint = s.base + "/ws"
	}
	return plan, nil
}
