package listener

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/pvmapper/pvmapper/pkg/acl"
	"github.com/pvmapper/pvmapper/pkg/codec"
	"github.com/pvmapper/pvmapper/pkg/reactor"
)

var _ reactor.Registrant = (*Listener)(nil)

const (
	readTimeout = 1 * time.Millisecond
	readBufSize = 64 * 1024
)

// Dispatcher is the subset of the directory the listener needs. Defined
// here rather than imported from pkg/directory to avoid a listener<->
// directory import cycle; *directory.Dispatcher satisfies it.
type Dispatcher interface {
	OnClientQuery(pvName, clientIP string, clientPort uint16) (codec.ReplyFrame, bool)
}

// Listener is one bound UDP endpoint. Multiple Listeners may coexist,
// sharing a single Dispatcher.
type Listener struct {
	log        *zap.SugaredLogger
	conn       *net.UDPConn
	acl        *acl.List
	dispatcher Dispatcher

	closed bool
	buf    []byte
}

// New binds addr and returns a Listener ready to register with a reactor.
func New(addr *net.UDPAddr, rules *acl.List, dispatcher Dispatcher) (*Listener, error) {
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listener: bind %s: %w", addr, err)
	}
	return &Listener{
		log:        zap.S().Named("listener").With("bind", addr.String()),
		conn:       conn,
		acl:        rules,
		dispatcher: dispatcher,
		buf:        make([]byte, readBufSize),
	}, nil
}

// Addr reports the bound local address.
func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// ProcessIncoming implements reactor.Registrant.
func (l *Listener) ProcessIncoming() error {
	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		n, src, err := l.conn.ReadFromUDP(l.buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() { //nolint:errorlint
				return nil
			}
			return nil
		}
		l.handleDatagram(l.buf[:n], src)
	}
}

// handleDatagram decodes one client datagram, evaluates the ACL per pair,
// dedups by name, and replies to every requester a cached reply resolves.
func (l *Listener) handleDatagram(buf []byte, src *net.UDPAddr) {
	queries := codec.DecodeSearchRequest(buf)
	if len(queries) == 0 {
		return
	}

	clientIP := src.IP.String()

	byName := make(map[string][]uint32, len(queries))
	order := make([]string, 0, len(queries))
	for _, q := range queries {
		if _, seen := byName[q.Name]; !seen {
			order = append(order, q.Name)
		}
		byName[q.Name] = append(byName[q.Name], q.ChanID)
	}

	for _, name := range order {
		decision := l.acl.Check(name, clientIP)
		if !decision.Allowed {
			l.log.Debugw("rejected by access control", "pv", name, "client", clientIP, "rule", decision.MatchedRule)
			continue
		}

		reply, ok := l.dispatcher.OnClientQuery(name, clientIP, uint16(src.Port)) //nolint:gosec
		if !ok {
			continue
		}

		for _, chanID := range byName[name] {
			out := append(codec.ReplyFrame(nil), reply...)
			codec.RewriteReplyClientCID(out, chanID)
			if _, err := l.conn.WriteToUDP(out, src); err != nil {
				l.log.Warnw("unicast reply failed", "pv", name, "client", clientIP, "err", err)
			}
		}
	}
}

// ProcessOutgoing implements reactor.Registrant. The listener has no
// periodic work of its own; all scheduling lives in the Searcher.
func (l *Listener) ProcessOutgoing(time.Time) error { return nil }

// Closed implements reactor.Registrant.
func (l *Listener) Closed() bool { return l.closed }

// Close implements reactor.Registrant.
func (l *Listener) Close() error {
	l.closed = true
	return l.conn.Close()
}
