package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/mossy-p/dcom/internal/models"
	"github.com/mossy-p/dcom/internal/peerlink"
	"github.com/mossy-p/dcom/internal/selector"
	"github.com/mossy-p/dcom/internal/signaling"
)

// Session is one join attempt and the connection it owns. It is only
// touched on the controller's event goroutine.
type Session struct {
	ID string

	plan   selector.Plan
	status models.Status
	logger *slog.Logger

	transport  signaling.Transport
	link       *peerlink.Link
	grace      *time.Timer
	cancelOpen context.CancelFunc

	// early holds frames that arrived before the transport handle did.
	early [][]byte

	registered bool
	// closed is set when the session is torn down; late callbacks for it
	// are dropped.
	closed bool
}
