package guard

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/autotrade/tasktracker/internal/tracker"
)

const waitFor = time.Second

type fakeNotifier struct {
	mu      sync.Mutex
	ch      chan<- os.Signal
	sigs    []os.Signal
	notifyN int
	stopN   int
}

func (n *fakeNotifier) Notify(c chan<- os.Signal, sig ...os.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ch = c
	n.sigs = sig
	n.notifyN++
}

func (n *fakeNotifier) Stop(c chan<- os.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch == c {
		n.ch = nil
	}
	n.stopN++
}

// send delivers sig the way os/signal would: only while registered.
func (n *fakeNotifier) send(sig os.Signal) bool {
	n.mu.Lock()
	ch := n.ch
	n.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- sig
	return true
}

type fakeSource struct {
	mu sync.Mutex
	fn func(tracker.Snapshot)
}

func (s *fakeSource) Subscribe(fn func(tracker.Snapshot)) func() {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
	fn(tracker.Snapshot{State: tracker.StateIdle})
	return func() {
		s.mu.Lock()
		s.fn = nil
		s.mu.Unlock()
	}
}

func (s *fakeSource) publish(state tracker.State) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(tracker.Snapshot{State: state, JobID: "job-1"})
	}
}

func newTestGuard(t *testing.T, confirm func(string) bool) (*LeaveGuard, *fakeSource, *fakeNotifier, *atomic.Int32) {
	t.Helper()
	src := &fakeSource{}
	sigs := &fakeNotifier{}
	var left atomic.Int32
	g := New(src, Options{
		Confirm: confirm,
		OnLeave: func() { left.Add(1) },
		Signals: sigs,
		Logger:  zaptest.NewLogger(t),
	})
	t.Cleanup(g.Close)
	return g, src, sigs, &left
}

func TestLeaveGuard_ArmsOnlyWhileActive(t *testing.T) {
	g, src, sigs, _ := newTestGuard(t, func(string) bool { return false })

	assert.False(t, g.Armed())
	assert.False(t, sigs.send(syscall.SIGINT), "idle tracker leaves default handling alone")

	src.publish(tracker.StateActive)
	assert.True(t, g.Armed())
	assert.ElementsMatch(t, []os.Signal{syscall.SIGINT, syscall.SIGTERM}, sigs.sigs)

	src.publish(tracker.StateActive)
	assert.Equal(t, 1, sigs.notifyN, "progress updates do not re-register")

	for _, state := range []tracker.State{tracker.StateCompleted, tracker.StateFailed, tracker.StateCancelled, tracker.StateIdle} {
		src.publish(tracker.StateActive)
		require.True(t, g.Armed())
		src.publish(state)
		assert.False(t, g.Armed(), "disarmed on %s", state)
	}
}

func TestLeaveGuard_DeclineKeepsTracking(t *testing.T) {
	var asked atomic.Int32
	_, src, sigs, left := newTestGuard(t, func(msg string) bool {
		asked.Add(1)
		assert.Equal(t, LeaveMessage, msg)
		return false
	})

	src.publish(tracker.StateActive)
	require.True(t, sigs.send(syscall.SIGINT))

	require.Eventually(t, func() bool { return asked.Load() == 1 }, waitFor, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, left.Load())
}

func TestLeaveGuard_AcceptLeaves(t *testing.T) {
	_, src, sigs, left := newTestGuard(t, func(string) bool { return true })

	src.publish(tracker.StateActive)
	require.True(t, sigs.send(syscall.SIGTERM))

	require.Eventually(t, func() bool { return left.Load() == 1 }, waitFor, time.Millisecond)
}

func TestLeaveGuard_SecondSignalForcesLeave(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	_, src, sigs, left := newTestGuard(t, func(string) bool {
		<-block
		return false
	})

	src.publish(tracker.StateActive)
	require.True(t, sigs.send(syscall.SIGINT))
	require.True(t, sigs.send(syscall.SIGINT))

	require.Eventually(t, func() bool { return left.Load() == 1 }, waitFor, time.Millisecond)
}

func TestLeaveGuard_CloseRestoresDefaults(t *testing.T) {
	g, src, sigs, _ := newTestGuard(t, func(string) bool { return false })

	src.publish(tracker.StateActive)
	require.True(t, g.Armed())

	g.Close()
	assert.False(t, g.Armed())
	assert.Equal(t, 1, sigs.stopN)

	src.publish(tracker.StateActive)
	assert.False(t, g.Armed(), "no longer subscribed")

	g.Close()
}

func TestTerminalPrompt(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"sure\n", false},
		{"y", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			confirm := TerminalPrompt(strings.NewReader(tt.input), &out)
			assert.Equal(t, tt.want, confirm("Leave?"))
			assert.Contains(t, out.String(), "Leave? [y/N]")
		})
	}
}

func TestTerminalPrompt_ReadsSuccessiveAnswers(t *testing.T) {
	var out bytes.Buffer
	confirm := TerminalPrompt(strings.NewReader("n\ny\n"), &out)

	assert.False(t, confirm("first"))
	assert.True(t, confirm("second"))
	assert.False(t, confirm("third"), "EOF declines")
}
