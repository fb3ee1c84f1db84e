package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/dropsync-go/internal/remote"
)

const (
	defaultProbeInterval = 5 * time.Second
	defaultRetryInterval = 1 * time.Second
)

// ConnectionSupervisor probes the backend with an inexpensive space-usage
// call and drives the connected/running gates from the result. It runs for
// the life of the process, independent of the running gate: it is the only
// component that can bring the daemon back after a disconnect.
type ConnectionSupervisor struct {
	client       remote.Client
	running      *Gate
	connected    *Gate
	connectedSig *Signal
	disconnected *Signal
	usage        *UsageSignal
	status       *StatusTracker
	logger       *slog.Logger

	// ProbeInterval is the pause between successful probes; RetryInterval
	// the pause after a failed one.
	ProbeInterval time.Duration
	RetryInterval time.Duration
}

// NewConnectionSupervisor wires a supervisor onto the shared primitives.
func NewConnectionSupervisor(
	client remote.Client, running, connected *Gate,
	connectedSig, disconnected *Signal, usage *UsageSignal,
	status *StatusTracker, logger *slog.Logger,
) *ConnectionSupervisor {
	return &ConnectionSupervisor{
		client:        client,
		running:       running,
		connected:     connected,
		connectedSig:  connectedSig,
		disconnected:  disconnected,
		usage:         usage,
		status:        status,
		logger:        logger,
		ProbeInterval: defaultProbeInterval,
		RetryInterval: defaultRetryInterval,
	}
}

// Run probes until the context is canceled. Unexpected (non-connection)
// probe errors are returned for top-level logging.
func (s *ConnectionSupervisor) Run(ctx context.Context) error {
	for {
		usage, err := s.client.SpaceUsage(ctx)

		switch {
		case err == nil:
			if !s.connected.IsSet() {
				s.connected.Set()
				s.connectedSig.Emit()
			}

			s.usage.Emit(usage)

			if !s.sleep(ctx, s.ProbeInterval) {
				return nil
			}

		case errors.Is(err, context.Canceled) || ctx.Err() != nil:
			return nil

		case remote.IsConnectionError(err):
			s.logger.Debug("connection probe failed", slog.String("error", err.Error()))
			s.running.Clear()
			s.connected.Clear()
			s.disconnected.Emit()
			s.status.Set(StatusConnecting)
			s.logger.Info("connecting to remote")

			if !s.sleep(ctx, s.RetryInterval) {
				return nil
			}

		default:
			return fmt.Errorf("monitor: connection probe: %w", err)
		}
	}
}

func (s *ConnectionSupervisor) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
