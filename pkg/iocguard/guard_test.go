package iocguard

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func localEndpoint(t *testing.T, ln net.Listener) Endpoint {
	t.Helper()
	addr := ln.Addr().(*net.TCPAddr)
	var ip [4]byte
	copy(ip[:], addr.IP.To4())
	return Endpoint{IP: ip, Port: uint16(addr.Port)}
}

func TestDialConnectSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	var lost []Endpoint
	g := Dial(localEndpoint(t, ln), DefaultHeartbeatInterval, func(e Endpoint) { lost = append(lost, e) })

	require.Eventually(t, func() bool {
		require.NoError(t, g.ProcessIncoming())
		return g.State() == Active
	}, time.Second, time.Millisecond)

	<-accepted
	require.Empty(t, lost)
}

func TestConnectTimeoutTransitionsToLostAndFiresOnce(t *testing.T) {
	g := &Guard{
		state:          Connecting,
		startedAt:      time.Now().Add(-6 * time.Second),
		connectTimeout: DefaultConnectTimeout,
	}
	var fired int
	g.disconnectCB = func(Endpoint) { fired++ }
	g.log = newTestLogger()

	require.NoError(t, g.ProcessOutgoing(time.Now()))
	require.Equal(t, Lost, g.State())
	require.NoError(t, g.ProcessOutgoing(time.Now()))
	require.Equal(t, 1, fired)
}

func TestHeartbeatMissedTransitionsToLost(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	g := &Guard{
		conn:              client,
		state:             Active,
		heartbeatInterval: 10 * time.Millisecond,
		lastSent:          time.Now().Add(-1 * time.Second),
		lastRecv:          time.Now().Add(-2 * time.Second), // older than lastSent: unanswered
	}
	g.log = newTestLogger()
	var fired int
	g.disconnectCB = func(Endpoint) { fired++ }

	g.heartbeat(time.Now())

	require.Equal(t, Lost, g.State())
	require.Equal(t, 1, fired)
}

func TestHeartbeatSendsEchoWhenPreviousWasAnswered(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	now := time.Now()
	g := &Guard{
		conn:              client,
		state:             Active,
		heartbeatInterval: 10 * time.Millisecond,
		lastSent:          now.Add(-1 * time.Second),
		lastRecv:          now, // answered after the last send
	}
	g.log = newTestLogger()

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 32)
		n, _ := server.Read(buf)
		done <- buf[:n]
	}()

	g.heartbeat(now.Add(time.Second))

	require.Equal(t, Active, g.State())
	select {
	case got := <-done:
		require.NotEmpty(t, got)
	case <-time.After(time.Second):
		t.Fatal("expected echo to be written")
	}
}

func TestMarkLostFiresDisconnectExactlyOnce(t *testing.T) {
	g := &Guard{state: Active}
	g.log = newTestLogger()
	var fired int
	g.disconnectCB = func(Endpoint) { fired++ }

	g.markLost()
	g.markLost()
	require.Equal(t, 1, fired)
}

func TestClosedReflectsLostState(t *testing.T) {
	g := &Guard{state: Active}
	require.False(t, g.Closed())
	g.state = Lost
	require.True(t, g.Closed())
}
