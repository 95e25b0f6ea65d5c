package searcher

import (
	"fmt"
	"math"
	"net"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/pvmapper/pvmapper/pkg/codec"
	"github.com/pvmapper/pvmapper/pkg/reactor"
)

var _ reactor.Registrant = (*Searcher)(nil)

const (
	tickPeriod  = 100 * time.Millisecond
	tickGate    = 99 * time.Millisecond
	minPerBin   = 10
	readTimeout = 1 * time.Millisecond
	readBufSize = 64 * 1024

	// prependedImmediateTries are the two extra 1-tick deltas ahead of the
	// configured backoff so a freshly added PV is broadcast on three
	// consecutive ticks before backoff kicks in.
	prependedImmediateTries = 2
)

// OnFound is invoked when a broadcast reply resolves a tracked PV.
type OnFound func(name string, iocIP net.IP, iocPort uint16, reply codec.ReplyFrame)

// Searcher is the outbound search scheduler. Every method is called only
// from the reactor thread; there is no lock.
type Searcher struct {
	log *zap.SugaredLogger

	conn          *net.UDPConn
	pconn         *ipv4.PacketConn
	broadcastAddr *net.UDPAddr

	bins       [][]*entry
	currentBin int
	ringSize   int

	// seedIntervals is the template remaining_intervals every new entry
	// starts with: two prepended 1-tick deltas, then the configured
	// backoff deltas in ticks.
	seedIntervals []int

	byName   map[string]*entry
	byChanID map[uint32]*entry

	chanCounter uint32

	lastTick time.Time
	onFound  OnFound

	closed bool
	buf    []byte
}

// New binds an ephemeral broadcast-enabled UDP socket and returns a
// Searcher that broadcasts to broadcastAddr. intervalSeconds is the
// configured SEARCH_INTERVAL backoff list, in seconds.
func New(broadcastAddr *net.UDPAddr, intervalSeconds []int, onFound OnFound) (*Searcher, error) {
	conn, err := newBroadcastSocket()
	if err != nil {
		return nil, fmt.Errorf("searcher: open broadcast socket: %w", err)
	}

	ticks := make([]int, 0, len(intervalSeconds))
	maxTicks := 1
	for _, secs := range intervalSeconds {
		t := secs * 10 //nolint:mnd // 10 Hz outgoing tick rate
		if t < 1 {
			t = 1
		}
		ticks = append(ticks, t)
		if t > maxTicks {
			maxTicks = t
		}
	}
	if len(ticks) == 0 {
		ticks = []int{1}
	}

	seed := make([]int, 0, prependedImmediateTries+len(ticks))
	for i := 0; i < prependedImmediateTries; i++ {
		seed = append(seed, 1)
	}
	seed = append(seed, ticks...)

	s := &Searcher{
		log:           zap.S().Named("searcher").With("upstream", broadcastAddr.String()),
		conn:          conn,
		pconn:         ipv4.NewPacketConn(conn),
		broadcastAddr: broadcastAddr,
		bins:          make([][]*entry, maxTicks),
		ringSize:      maxTicks,
		seedIntervals: seed,
		byName:        make(map[string]*entry),
		byChanID:      make(map[uint32]*entry),
		onFound:       onFound,
		buf:           make([]byte, readBufSize),
	}
	return s, nil
}

// newBroadcastSocket opens an unbound, ephemeral-port UDP socket with
// SO_BROADCAST set. No library in the corpus exposes this socket option;
// it is a kernel permission bit, not a protocol concern, so the stdlib
// syscall package is used directly via net.ListenConfig's Control hook.
func newBroadcastSocket() (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	pc, err := lc.ListenPacket(nil, "udp4", ":0") //nolint:noctx
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("searcher: expected *net.UDPConn, got %T", pc)
	}
	return conn, nil
}

// SetOnFound attaches the callback invoked when a broadcast reply resolves
// a tracked PV. Searchers are constructed before the Dispatcher that
// ultimately handles their replies exists, so New is called with a nil
// callback and this is wired in afterward.
func (s *Searcher) SetOnFound(fn OnFound) {
	s.onFound = fn
}

// AddPV enqueues name for searching if it isn't already tracked. Returns
// false (and just refreshes last_hit) if it was already present.
func (s *Searcher) AddPV(name string) bool {
	if e, ok := s.byName[name]; ok {
		e.lastHit = time.Now()
		return false
	}

	now := time.Now()
	e := &entry{
		chanID:             s.allocChanID(),
		name:               name,
		addedAt:            now,
		lastHit:            now,
		remainingIntervals: append([]int(nil), s.seedIntervals...),
		bin:                s.currentBin,
	}
	s.bins[s.currentBin] = append(s.bins[s.currentBin], e)
	s.byName[name] = e
	s.byChanID[e.chanID] = e
	return true
}

func (s *Searcher) allocChanID() uint32 {
	if s.chanCounter >= math.MaxInt32 {
		s.renumber()
	}
	id := s.chanCounter
	s.chanCounter++
	return id
}

// renumber reassigns every live entry's channel ID to a dense range
// starting at zero, once the counter nears wraparound.
func (s *Searcher) renumber() {
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	sort.Strings(names)

	s.byChanID = make(map[uint32]*entry, len(names))
	for i, name := range names {
		e := s.byName[name]
		e.chanID = uint32(i) //nolint:gosec
		s.byChanID[e.chanID] = e
	}
	s.chanCounter = uint32(len(names)) //nolint:gosec
}

// RemovePV drops the first (only) tracked entry for name.
func (s *Searcher) RemovePV(name string) bool {
	e, ok := s.byName[name]
	if !ok {
		return false
	}
	s.removeEntry(e)
	return true
}

func (s *Searcher) removeEntry(e *entry) {
	bin := s.bins[e.bin]
	for i, cand := range bin {
		if cand == e {
			s.bins[e.bin] = append(bin[:i:i], bin[i+1:]...)
			break
		}
	}
	delete(s.byName, e.name)
	delete(s.byChanID, e.chanID)
}

// Purge drops entries whose last_hit predates maxAge and rebalances the
// survivors evenly across bins.
func (s *Searcher) Purge(maxAge time.Duration) (purged, remaining int) {
	now := time.Now()
	survivors := make([]*entry, 0, len(s.byName))
	for name, e := range s.byName {
		if now.Sub(e.lastHit) > maxAge {
			delete(s.byName, name)
			delete(s.byChanID, e.chanID)
			purged++
			continue
		}
		survivors = append(survivors, e)
	}

	for i := range s.bins {
		s.bins[i] = nil
	}

	nonEmptyBins := 1
	if len(survivors) > 0 {
		nonEmptyBins = len(survivors) / minPerBin
		if nonEmptyBins < 1 {
			nonEmptyBins = 1
		}
		if nonEmptyBins > s.ringSize {
			nonEmptyBins = s.ringSize
		}
	}

	for i, e := range survivors {
		binIdx := i % nonEmptyBins
		e.bin = binIdx
		s.bins[binIdx] = append(s.bins[binIdx], e)
	}
	s.currentBin = 0

	return purged, len(survivors)
}

// ProcessOutgoing implements reactor.Registrant: drains the current bin,
// re-files each entry per its backoff schedule, and broadcasts the
// collected PVs.
func (s *Searcher) ProcessOutgoing(now time.Time) error {
	if !s.lastTick.IsZero() && now.Sub(s.lastTick) < tickGate {
		return nil
	}
	s.lastTick = now

	collected := s.bins[s.currentBin]
	s.bins[s.currentBin] = nil

	for _, e := range collected {
		if len(e.remainingIntervals) > 1 {
			k := e.remainingIntervals[0]
			e.remainingIntervals = e.remainingIntervals[1:]
			newBin := (s.currentBin + k) % s.ringSize
			e.bin = newBin
			s.bins[newBin] = append(s.bins[newBin], e)
		} else {
			e.bin = s.currentBin
			s.bins[s.currentBin] = append(s.bins[s.currentBin], e)
		}
	}
	s.currentBin = (s.currentBin + 1) % s.ringSize

	pvs := make([]codec.PVQuery, len(collected))
	for i, e := range collected {
		pvs[i] = codec.PVQuery{ChanID: e.chanID, Name: e.name}
	}

	for len(pvs) > 0 {
		buf, consumed := codec.EncodeSearchRequest(pvs)
		if consumed == 0 {
			s.log.Warnw("single PV exceeds MTU budget, dropping", "name", pvs[0].Name)
			pvs = pvs[1:]
			continue
		}
		s.log.Debugw("broadcasting search datagram", "dst", s.broadcastAddr.String(), "bytes", len(buf))
		if _, err := s.pconn.WriteTo(buf, nil, s.broadcastAddr); err != nil {
			return fmt.Errorf("searcher: broadcast: %w", err)
		}
		pvs = pvs[consumed:]
	}

	return nil
}

// ProcessIncoming implements reactor.Registrant: drains the socket and
// matches any reply against a tracked ChannelId.
func (s *Searcher) ProcessIncoming() error {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		n, src, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() { //nolint:errorlint
				return nil
			}
			return nil
		}

		s.handleDatagram(s.buf[:n], src)
	}
}

// handleDatagram matches every reply decoded from buf against a tracked
// ChannelId, rewriting and dispatching the ones that resolve.
func (s *Searcher) handleDatagram(buf []byte, src *net.UDPAddr) {
	var iocIP [4]byte
	copy(iocIP[:], src.IP.To4())
	iocPort := codec.DecodeIOCPort(codec.ReplyFrame(buf))

	for _, rep := range codec.DecodeSearchReply(buf) {
		e, ok := s.byChanID[rep.ChanID]
		if !ok {
			continue // unknown chanId: ignore, not an error
		}

		codec.RewriteReplyIOCAddr(rep.Frame, iocIP, iocPort)

		name := e.name
		s.removeEntry(e)

		if s.onFound != nil {
			s.onFound(name, src.IP, iocPort, rep.Frame)
		}
	}
}

// BinOccupancy reports the number of tracked entries in each backoff bin,
// for the state-dump diagnostic.
func (s *Searcher) BinOccupancy() []int {
	occ := make([]int, len(s.bins))
	for i, bin := range s.bins {
		occ[i] = len(bin)
	}
	return occ
}

// Closed implements reactor.Registrant.
func (s *Searcher) Closed() bool { return s.closed }

// Close implements reactor.Registrant.
func (s *Searcher) Close() error {
	s.closed = true
	return s.conn.Close()
}
