// Package fakeioc is a minimal stand-in for a Channel Access IOC, used by
// integration tests that need something on the other end of a Searcher's
// broadcast and an IocGuard's heartbeat connection. It plays the role the
// teacher's internal/testutil/memtransport and nattransport packages play
// for pkg/mesh: a controllable fake peer, not a mock.
package fakeioc

import (
	"encoding/binary"
	"net"
	"sync"
	"time"
)

const (
	replyPayloadLen = 8
	readBufSize     = 64 * 1024
)

// IOC is a fake IOC: a UDP socket that answers SEARCH broadcasts for
// configured names, and a TCP listener that answers ECHO heartbeats for
// as long as it's told to.
type IOC struct {
	t testingT

	udpConn *net.UDPConn
	tcpLn   net.Listener
	tcpPort uint16

	mu      sync.Mutex
	replies map[string]uint32 // name -> chanID-echoing reply enabled
	heard   []string          // names seen in SEARCH requests, in arrival order

	stopHeartbeat chan struct{}
	closeOnce     sync.Once
}

// testingT is the subset of *testing.T this package needs, so tests don't
// have to import the testing package just to satisfy a parameter type
// here.
type testingT interface {
	Helper()
	Fatalf(format string, args ...any)
	Cleanup(func())
}

// New binds udpAddr (the address a Searcher under test broadcasts to) and
// an ephemeral TCP port (the address an IocGuard under test will dial once
// a reply names it), and starts serving both.
func New(t testingT, udpAddr *net.UDPAddr) *IOC {
	t.Helper()

	udpConn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		t.Fatalf("fakeioc: listen udp %s: %v", udpAddr, err)
	}

	tcpLn, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("fakeioc: listen tcp: %v", err)
	}
	tcpPort := uint16(tcpLn.Addr().(*net.TCPAddr).Port) //nolint:forcetypeassert

	ioc := &IOC{
		t:             t,
		udpConn:       udpConn,
		tcpLn:         tcpLn,
		tcpPort:       tcpPort,
		replies:       make(map[string]uint32),
		stopHeartbeat: make(chan struct{}),
	}

	go ioc.serveSearch()
	go ioc.serveHeartbeats()

	t.Cleanup(ioc.Close)

	return ioc
}

// TCPPort reports the port an IocGuard should dial to reach this fake
// IOC's heartbeat listener.
func (f *IOC) TCPPort() uint16 { return f.tcpPort }

// RespondTo instructs the fake IOC to answer future SEARCH requests for
// name with a reply carrying the placeholder address 255.255.255.255,
// the way a real IOC answering a broadcast would; the resolver rewrites
// the address before forwarding.
func (f *IOC) RespondTo(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[name] = 1
}

// Heard reports every PV name this fake IOC has seen in a SEARCH request
// so far, in arrival order, for assertions like "no broadcast was sent"
// (S2) or "a broadcast was re-sent after eviction" (S3).
func (f *IOC) Heard() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.heard))
	copy(out, f.heard)
	return out
}

func (f *IOC) serveSearch() {
	buf := make([]byte, readBufSize)
	for {
		n, src, err := f.udpConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		f.handleSearch(buf[:n], src)
	}
}

func (f *IOC) handleSearch(buf []byte, src *net.UDPAddr) {
	for _, q := range decodeQueries(buf) {
		f.mu.Lock()
		f.heard = append(f.heard, q.name)
		_, respond := f.replies[q.name]
		f.mu.Unlock()

		if !respond {
			continue
		}
		reply := encodeSearchReply(q.chanID, f.tcpPort)
		_, _ = f.udpConn.WriteToUDP(reply, src)
	}
}

// serveHeartbeats accepts TCP connections and echoes back whatever it
// reads, which is all an IocGuard's echo heartbeat needs to stay Active.
func (f *IOC) serveHeartbeats() {
	for {
		conn, err := f.tcpLn.Accept()
		if err != nil {
			return
		}
		go f.echoLoop(conn)
	}
}

func (f *IOC) echoLoop(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, readBufSize)
	for {
		select {
		case <-f.stopHeartbeat:
			return
		default:
		}
		if err := conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
			return
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() { //nolint:errorlint
				continue
			}
			return
		}
	}
}

// KillHeartbeats stops answering any further heartbeat traffic and closes
// the TCP listener, simulating an IOC dying (S3). Each existing heartbeat
// connection is closed by its echo loop within one 50 ms read-deadline
// period, as the kernel would close a dead process's sockets.
func (f *IOC) KillHeartbeats() {
	close(f.stopHeartbeat)
	_ = f.tcpLn.Close()
}

// Close releases both sockets. Safe to call more than once.
func (f *IOC) Close() {
	f.closeOnce.Do(func() {
		_ = f.udpConn.Close()
		_ = f.tcpLn.Close()
	})
}

type query struct {
	chanID uint32
	name   string
}

const headerLen = 16

// decodeQueries extracts (chanID, name) pairs from a raw SEARCH datagram
// without importing pkg/codec, keeping this harness usable by tests in
// packages pkg/codec itself depends on.
func decodeQueries(buf []byte) []query {
	var out []query
	for len(buf) >= headerLen {
		cmd := binary.BigEndian.Uint16(buf[0:2])
		payloadLen := binary.BigEndian.Uint16(buf[2:4])
		param1 := binary.BigEndian.Uint32(buf[8:12])
		frameLen := headerLen + int(payloadLen)
		if frameLen > len(buf) {
			break
		}
		const cmdSearch = 0x06
		if cmd == cmdSearch && payloadLen > 0 {
			name := trimTrailingNUL(buf[headerLen:frameLen])
			if name != "" {
				out = append(out, query{chanID: param1, name: name})
			}
		}
		buf = buf[frameLen:]
	}
	return out
}

func trimTrailingNUL(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return string(b[:end])
}

// encodeSearchReply builds a raw SEARCH reply frame: payload_len=8,
// data_count=0, data_type carries the IOC's TCP port, param1 carries the
// IOC's IPv4 address (here the broadcast placeholder a real IOC sends,
// left for the resolver to rewrite), param2 echoes chanID.
func encodeSearchReply(chanID uint32, tcpPort uint16) []byte {
	const cmdSearch = 0x06
	b := make([]byte, headerLen+replyPayloadLen)
	binary.BigEndian.PutUint16(b[0:2], cmdSearch)
	binary.BigEndian.PutUint16(b[2:4], replyPayloadLen)
	binary.BigEndian.PutUint16(b[4:6], tcpPort)
	binary.BigEndian.PutUint16(b[6:8], 0)
	binary.BigEndian.PutUint32(b[8:12], 0xFFFFFFFF) // 255.255.255.255 placeholder
	binary.BigEndian.PutUint32(b[12:16], chanID)
	return b
}
