package iocguard

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/pvmapper/pvmapper/pkg/codec"
	"github.com/pvmapper/pvmapper/pkg/reactor"
)

var _ reactor.Registrant = (*Guard)(nil)

// State is a point on the IocGuard's one-way lifeline: Connecting -> Active
// -> Lost. Lost is terminal; a rediscovered endpoint gets a fresh Guard
// rather than resurrecting an old one.
type State int

const (
	Connecting State = iota
	Active
	Lost
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

const (
	// DefaultConnectTimeout is the time allowed for the TCP connect to
	// complete before the endpoint is declared Lost.
	DefaultConnectTimeout = 5 * time.Second
	// DefaultHeartbeatInterval is the time between echo round-trips once
	// Active, and the default for the configured heartbeat interval.
	DefaultHeartbeatInterval = 10 * time.Second

	readBufferSize    = 64
	socketReadTimeout = 1 * time.Millisecond
)

type dialResult struct {
	conn net.Conn
	err  error
}

// Guard is a reactor.Registrant watching one IOC endpoint. disconnectCB
// fires exactly once, on the transition into Lost.
type Guard struct {
	log *zap.SugaredLogger

	endpoint          Endpoint
	heartbeatInterval time.Duration
	connectTimeout    time.Duration
	disconnectCB      func(Endpoint)

	conn      net.Conn
	state     State
	startedAt time.Time
	lastSent  time.Time
	lastRecv  time.Time

	firstEcho bool
	firedLost bool

	dialCh chan dialResult
	buf    []byte
}

// Dial starts an asynchronous, non-blocking-from-the-reactor's-perspective
// connect to endpoint. The blocking syscall runs on a throwaway goroutine;
// every piece of Guard state is mutated only from ProcessIncoming/
// ProcessOutgoing, both called solely by the reactor thread, so there is
// still exactly one writer.
func Dial(endpoint Endpoint, heartbeatInterval time.Duration, disconnectCB func(Endpoint)) *Guard {
	g := &Guard{
		log:               zap.S().Named("iocguard").With("ioc", endpoint.String()),
		endpoint:          endpoint,
		heartbeatInterval: heartbeatInterval,
		connectTimeout:    DefaultConnectTimeout,
		disconnectCB:      disconnectCB,
		state:             Connecting,
		startedAt:         time.Now(),
		dialCh:            make(chan dialResult, 1),
		buf:               make([]byte, readBufferSize),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.connectTimeout)
		defer cancel()
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", endpoint.TCPAddr().String())
		g.dialCh <- dialResult{conn: conn, err: err}
	}()

	return g
}

// State reports the current lifecycle state.
func (g *Guard) State() State { return g.state }

// Endpoint reports the endpoint this guard is watching.
func (g *Guard) Endpoint() Endpoint { return g.endpoint }

// ProcessIncoming implements reactor.Registrant.
func (g *Guard) ProcessIncoming() error {
	switch g.state {
	case Connecting:
		g.pollDial()
	case Active:
		g.drainSocket()
	case Lost:
	}
	return nil
}

func (g *Guard) pollDial() {
	select {
	case res := <-g.dialCh:
		if res.err != nil || res.conn == nil {
			g.log.Debugw("connect failed", "err", res.err)
			g.markLost()
			return
		}
		g.conn = res.conn
		now := time.Now()
		g.state = Active
		g.lastRecv = now
		g.lastSent = time.Time{}
		g.firstEcho = true
		g.log.Debugw("connected")
	default:
	}
}

func (g *Guard) drainSocket() {
	if g.conn == nil {
		return
	}
	if err := g.conn.SetReadDeadline(time.Now().Add(socketReadTimeout)); err != nil {
		g.markLost()
		return
	}
	n, err := g.conn.Read(g.buf)
	if n > 0 {
		g.lastRecv = time.Now()
	}
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() { //nolint:errorlint
			return
		}
		// EOF or any other read error: peer closed or reset.
		g.markLost()
	}
}

// ProcessOutgoing implements reactor.Registrant: drives the connect
// timeout and the echo heartbeat cycle.
func (g *Guard) ProcessOutgoing(now time.Time) error {
	switch g.state {
	case Connecting:
		if now.Sub(g.startedAt) >= g.connectTimeout {
			g.log.Debugw("connect timed out")
			g.markLost()
		}
	case Active:
		g.heartbeat(now)
	case Lost:
	}
	return nil
}

func (g *Guard) heartbeat(now time.Time) {
	if g.firstEcho {
		if err := g.sendEcho(true); err != nil {
			g.markLost()
			return
		}
		g.lastSent = now
		g.firstEcho = false
		return
	}

	if now.Sub(g.lastSent) < g.heartbeatInterval {
		return
	}

	// Previous echo must have been answered before sending another.
	if g.lastSent.After(g.lastRecv) {
		g.log.Debugw("heartbeat missed")
		g.markLost()
		return
	}

	if err := g.sendEcho(false); err != nil {
		g.markLost()
		return
	}
	g.lastSent = now
}

func (g *Guard) sendEcho(includeVersion bool) error {
	if g.conn == nil {
		return net.ErrClosed
	}
	_, err := g.conn.Write(codec.EncodeEcho(includeVersion))
	return err
}

func (g *Guard) markLost() {
	if g.state == Lost {
		return
	}
	g.state = Lost
	if g.conn != nil {
		_ = g.conn.Close()
	}
	if g.disconnectCB != nil && !g.firedLost {
		g.firedLost = true
		g.disconnectCB(g.endpoint)
	}
}

// Closed implements reactor.Registrant.
func (g *Guard) Closed() bool { return g.state == Lost }

// Close implements reactor.Registrant.
func (g *Guard) Close() error {
	if g.conn != nil {
		return g.conn.Close()
	}
	return nil
}
