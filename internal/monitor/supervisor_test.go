package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/dropsync-go/internal/remote"
)

type supervisorTestSetup struct {
	supervisor *ConnectionSupervisor
	client     *mockClient
	running    *Gate
	connected  *Gate
	connSig    *Signal
	discSig    *Signal
	usageSig   *UsageSignal
}

func newSupervisorTestSetup(t *testing.T) *supervisorTestSetup {
	t.Helper()

	client := newMockClient(t.TempDir())
	running := NewGate(true)
	connected := NewGate(false)
	connSig, discSig := &Signal{}, &Signal{}
	usageSig := &UsageSignal{}
	status := &StatusTracker{}

	s := NewConnectionSupervisor(
		client, running, connected, connSig, discSig, usageSig, status, testLogger(t))
	s.ProbeInterval = 10 * time.Millisecond
	s.RetryInterval = 5 * time.Millisecond

	return &supervisorTestSetup{
		supervisor: s,
		client:     client,
		running:    running,
		connected:  connected,
		connSig:    connSig,
		discSig:    discSig,
		usageSig:   usageSig,
	}
}

func (s *supervisorTestSetup) run(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = s.supervisor.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// A successful probe sets the connected gate, fires the connected signal
// once, and broadcasts the usage snapshot every probe.
func TestSupervisorProbeSuccess(t *testing.T) {
	s := newSupervisorTestSetup(t)

	var mu sync.Mutex
	connects := 0
	usages := 0

	s.connSig.Connect(func() { mu.Lock(); connects++; mu.Unlock() })
	s.usageSig.Connect(func(u *remote.SpaceUsage) {
		assert.EqualValues(t, 7, u.Used)
		mu.Lock()
		usages++
		mu.Unlock()
	})

	s.client.usageFn = func(_ context.Context) (*remote.SpaceUsage, error) {
		return &remote.SpaceUsage{Used: 7}, nil
	}

	s.run(t)

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return usages >= 2
	})

	assert.True(t, s.connected.IsSet())

	mu.Lock()
	assert.Equal(t, 1, connects, "connected signal must fire only on the transition")
	mu.Unlock()
}

// A failed probe clears both gates and fires the disconnected signal; once
// the backend answers again the connected signal fires.
func TestSupervisorDisconnectAndRecover(t *testing.T) {
	s := newSupervisorTestSetup(t)

	var mu sync.Mutex
	failing := true

	s.client.usageFn = func(_ context.Context) (*remote.SpaceUsage, error) {
		mu.Lock()
		defer mu.Unlock()

		if failing {
			return nil, remote.ErrTimeout
		}

		return &remote.SpaceUsage{}, nil
	}

	disconnects := make(chan struct{}, 1)
	s.discSig.Connect(func() {
		select {
		case disconnects <- struct{}{}:
		default:
		}
	})

	connects := make(chan struct{}, 1)
	s.connSig.Connect(func() {
		select {
		case connects <- struct{}{}:
		default:
		}
	})

	s.run(t)

	select {
	case <-disconnects:
	case <-time.After(5 * time.Second):
		t.Fatal("disconnected signal not emitted")
	}

	assert.False(t, s.running.IsSet())
	assert.False(t, s.connected.IsSet())

	mu.Lock()
	failing = false
	mu.Unlock()

	select {
	case <-connects:
	case <-time.After(5 * time.Second):
		t.Fatal("connected signal not emitted after recovery")
	}

	assert.True(t, s.connected.IsSet())
}

// Unexpected (non-connection) probe errors terminate the supervisor and
// surface to the caller.
func TestSupervisorUnexpectedErrorPropagates(t *testing.T) {
	s := newSupervisorTestSetup(t)

	boom := errors.New("schema mismatch")
	s.client.usageFn = func(_ context.Context) (*remote.SpaceUsage, error) {
		return nil, boom
	}

	err := s.supervisor.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}
