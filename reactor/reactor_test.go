//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package reactor_test

import (
	"net"
	"os"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stack/woodpeckers/reactor"
)

func countOpenFDs(t *testing.T) int {
	t.Helper()
	var fdPath string
	switch runtime.GOOS {
	case "darwin", "freebsd", "openbsd", "netbsd":
		fdPath = "/dev/fd"
	case "linux":
		fdPath = "/proc/self/fd"
	default:
		t.Skipf("FD counting not supported on %s", runtime.GOOS)
		return 0
	}

	dir, err := os.Open(fdPath)
	if err != nil {
		t.Skipf("cannot open FD directory: %v", err)
		return 0
	}
	defer dir.Close()

	names, err := dir.Readdirnames(-1)
	if err != nil {
		t.Skipf("cannot read FD directory: %v", err)
		return 0
	}
	return len(names)
}

func newTestReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Destroy() })
	return r
}

func runUntil(t *testing.T, r *reactor.Reactor, done <-chan struct{}) {
	t.Helper()
	for {
		select {
		case <-done:
			return
		default:
		}
		require.NoError(t, r.RunOnce(100))
	}
}

func TestAddTimerRejectsDuplicateID(t *testing.T) {
	r := newTestReactor(t)
	require.NoError(t, r.AddTimer(1, 1000, func(*reactor.Reactor, uint16, interface{}) {}))
	err := r.AddTimer(1, 1000, func(*reactor.Reactor, uint16, interface{}) {})
	assert.ErrorIs(t, err, reactor.ErrDuplicateID)
}

func TestHasTimerReflectsLifecycle(t *testing.T) {
	r := newTestReactor(t)
	assert.False(t, r.HasTimer(1))
	require.NoError(t, r.AddTimer(1, 1000, func(*reactor.Reactor, uint16, interface{}) {}))
	assert.True(t, r.HasTimer(1))
	r.RemoveTimer(1)
	assert.False(t, r.HasTimer(1))
}

func TestRemoveTimerIsIdempotent(t *testing.T) {
	r := newTestReactor(t)
	r.RemoveTimer(42)
	require.NoError(t, r.AddTimer(1, 1000, func(*reactor.Reactor, uint16, interface{}) {}))
	r.RemoveTimer(1)
	r.RemoveTimer(1)
	assert.False(t, r.HasTimer(1))
}

func TestTimerFiresRepeatedly(t *testing.T) {
	r := newTestReactor(t)
	var fires int
	require.NoError(t, r.AddTimer(1, 10, func(*reactor.Reactor, uint16, interface{}) {
		fires++
	}))
	for i := 0; i < 3 && fires < 3; i++ {
		require.NoError(t, r.RunOnce(1000))
	}
	assert.Equal(t, 3, fires)
}

func TestTimerCanRemoveItself(t *testing.T) {
	r := newTestReactor(t)
	require.NoError(t, r.AddTimer(1, 5, func(rr *reactor.Reactor, id uint16, _ interface{}) {
		rr.RemoveTimer(id)
	}))
	require.NoError(t, r.RunOnce(1000))
	assert.False(t, r.HasTimer(1))
	// Letting another wait pass through must not panic even though the
	// backend registration was removed mid-callback.
	require.NoError(t, r.RunOnce(5))
}

func TestAddUserEventRejectsReservedID(t *testing.T) {
	r := newTestReactor(t)
	err := r.AddUserEvent(reactor.StopID, func(*reactor.Reactor, uint16, interface{}) {})
	assert.ErrorIs(t, err, reactor.ErrReservedID)
}

func TestAddUserEventRejectsDuplicateID(t *testing.T) {
	r := newTestReactor(t)
	require.NoError(t, r.AddUserEvent(1, func(*reactor.Reactor, uint16, interface{}) {}))
	err := r.AddUserEvent(1, func(*reactor.Reactor, uint16, interface{}) {})
	assert.ErrorIs(t, err, reactor.ErrDuplicateID)
}

func TestTriggerUserEventCoalescesMultipleTriggers(t *testing.T) {
	r := newTestReactor(t)
	var fires int
	require.NoError(t, r.AddUserEvent(1, func(*reactor.Reactor, uint16, interface{}) {
		fires++
	}))
	require.NoError(t, r.TriggerUserEvent(1))
	require.NoError(t, r.TriggerUserEvent(1))
	require.NoError(t, r.TriggerUserEvent(1))
	require.NoError(t, r.RunOnce(1000))
	assert.Equal(t, 1, fires)
}

func TestRemoveUserEventRefusesStopID(t *testing.T) {
	r := newTestReactor(t)
	r.RemoveUserEvent(reactor.StopID)
	assert.True(t, r.HasUserEvent(reactor.StopID))
}

func TestRunOnceRespectsTimeout(t *testing.T) {
	r := newTestReactor(t)
	start := time.Now()
	require.NoError(t, r.RunOnce(50))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStopFromAnotherGoroutineEndsRun(t *testing.T) {
	r := newTestReactor(t)
	done := make(chan error, 1)
	go func() {
		done <- r.Run()
	}()

	time.Sleep(20 * time.Millisecond)
	r.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestServerAcceptAndReceiveData(t *testing.T) {
	r := newTestReactor(t)

	var mu sync.Mutex
	var accepted, disconnected bool
	var received []byte
	recvDone := make(chan struct{})

	port := freeTCPPort(t)
	require.NoError(t, r.AddServer(reactor.ServerDescriptor{
		ID:   1,
		Port: port,
		DidAccept: func(_ *reactor.Reactor, _ uint16, _ uint16, _ net.Addr, _ interface{}) {
			mu.Lock()
			accepted = true
			mu.Unlock()
		},
		DidReceiveData: func(_ *reactor.Reactor, _ uint16, _ uint16, data []byte, _ interface{}) {
			mu.Lock()
			received = append(received, data...)
			mu.Unlock()
			close(recvDone)
		},
		PeerDidDisconnect: func(*reactor.Reactor, uint16, uint16, interface{}) {
			mu.Lock()
			disconnected = true
			mu.Unlock()
		},
	}))
	assert.True(t, r.HasServer(1))

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("peck"))
		<-recvDone
	}()

	runUntil(t, r, recvDone)
	<-clientDone

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, accepted)
	assert.Equal(t, "peck", string(received))
	_ = disconnected
}

func TestShouldAcceptRejectsConnection(t *testing.T) {
	r := newTestReactor(t)
	port := freeTCPPort(t)
	rejected := make(chan struct{})
	require.NoError(t, r.AddServer(reactor.ServerDescriptor{
		ID:   1,
		Port: port,
		ShouldAccept: func(*reactor.Reactor, uint16, net.Addr, interface{}) bool {
			close(rejected)
			return false
		},
	}))

	go func() {
		conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err == nil {
			conn.Close()
		}
	}()

	runUntil(t, r, rejected)
}

func TestRemoveServerDropsPeersWithoutDisconnectCallback(t *testing.T) {
	r := newTestReactor(t)
	port := freeTCPPort(t)

	accepted := make(chan struct{})
	var disconnectCalled bool
	require.NoError(t, r.AddServer(reactor.ServerDescriptor{
		ID:   1,
		Port: port,
		DidAccept: func(*reactor.Reactor, uint16, uint16, net.Addr, interface{}) {
			close(accepted)
		},
		PeerDidDisconnect: func(*reactor.Reactor, uint16, uint16, interface{}) {
			disconnectCalled = true
		},
	}))

	go func() {
		conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err == nil {
			defer conn.Close()
			time.Sleep(200 * time.Millisecond)
		}
	}()

	runUntil(t, r, accepted)
	r.RemoveServer(1)
	assert.False(t, r.HasServer(1))
	assert.False(t, disconnectCalled)
}

func TestDestroyClosesPendingPeerAndServerFDs(t *testing.T) {
	r, err := reactor.New()
	require.NoError(t, err)

	port := freeTCPPort(t)
	accepted := make(chan struct{})
	require.NoError(t, r.AddServer(reactor.ServerDescriptor{
		ID:   1,
		Port: port,
		DidAccept: func(*reactor.Reactor, uint16, uint16, net.Addr, interface{}) {
			close(accepted)
		},
	}))

	clientDone := make(chan struct{})
	var conn net.Conn
	go func() {
		defer close(clientDone)
		c, dialErr := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if dialErr == nil {
			conn = c
		}
	}()
	runUntil(t, r, accepted)
	<-clientDone
	require.NotNil(t, conn)
	defer conn.Close()

	before := countOpenFDs(t)

	// RemoveServer marks the server and its peer pending without an
	// intervening RunOnce to drain them, so Destroy — not dispatch.go's
	// drain() — is the only thing left to close their fds.
	r.RemoveServer(1)
	require.NoError(t, r.Destroy())

	after := countOpenFDs(t)
	assert.LessOrEqual(t, after, before, "Destroy must close fds left pending by RemoveServer, not just live ones")
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}
