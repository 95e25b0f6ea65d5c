package directory

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pvmapper/pvmapper/pkg/iocguard"
	"github.com/pvmapper/pvmapper/pkg/reactor"
	"github.com/pvmapper/pvmapper/pkg/searcher"
)

func newTestSearcher(t *testing.T) *searcher.Searcher {
	t.Helper()
	s, err := searcher.New(&net.UDPAddr{IP: net.IPv4bcast, Port: 5064}, []int{1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func activeGuard(t *testing.T) (*iocguard.Guard, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	var ip [4]byte
	copy(ip[:], addr.IP.To4())
	ep := iocguard.Endpoint{IP: ip, Port: uint16(addr.Port)}

	g := iocguard.Dial(ep, iocguard.DefaultHeartbeatInterval, nil)
	require.Eventually(t, func() bool {
		require.NoError(t, g.ProcessIncoming())
		return g.State() == iocguard.Active
	}, time.Second, time.Millisecond)

	conn := <-accepted
	t.Cleanup(func() { _ = conn.Close() })

	return g, ln
}

func TestOnClientQueryMissFallsThroughToSearchers(t *testing.T) {
	s := newTestSearcher(t)
	d := New(reactor.New(reactor.DefaultInterval), []*searcher.Searcher{s}, time.Minute, time.Second)

	reply, ok := d.OnClientQuery("pv:missing", "10.0.0.1", 12345)
	require.False(t, ok)
	require.Nil(t, reply)
	require.False(t, s.AddPV("pv:missing"), "the miss must already have queued the PV on the searcher")
}

func TestOnSearchReplyThenOnClientQueryIsACacheHit(t *testing.T) {
	r := reactor.New(reactor.DefaultInterval)
	s := newTestSearcher(t)
	d := New(r, []*searcher.Searcher{s}, time.Minute, time.Second)

	g, _ := activeGuard(t)
	d.iocs[g.Endpoint()] = g
	d.connectedPVs["pv:found"] = &pvRecord{name: "pv:found", ioc: g, reply: []byte{1, 2, 3}, lastHit: time.Now()}

	reply, ok := d.OnClientQuery("pv:found", "10.0.0.1", 12345)
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, []byte(reply))
}

func TestOnClientQueryEvictsRecordWhoseIOCIsNoLongerActive(t *testing.T) {
	r := reactor.New(reactor.DefaultInterval)
	s := newTestSearcher(t)
	d := New(r, []*searcher.Searcher{s}, time.Minute, time.Second)

	// A guard that never finished connecting (ProcessIncoming is never
	// called here) reports Connecting, not Active, so the cache-hit
	// branch must not be taken.
	lostGuard := iocguard.Dial(iocguard.Endpoint{Port: 1}, time.Second, nil)
	d.connectedPVs["pv:stale"] = &pvRecord{name: "pv:stale", ioc: lostGuard, reply: []byte{9}, lastHit: time.Now()}
	_, ok := d.OnClientQuery("pv:stale", "10.0.0.1", 1)
	require.False(t, ok)
	_, stillCached := d.connectedPVs["pv:stale"]
	require.False(t, stillCached)
}

func TestOnIocLostEvictsOwnedRecordsAndRemovesFromReactor(t *testing.T) {
	r := reactor.New(reactor.DefaultInterval)
	s := newTestSearcher(t)
	d := New(r, []*searcher.Searcher{s}, time.Minute, time.Second)

	g, _ := activeGuard(t)
	r.Add(g)
	d.iocs[g.Endpoint()] = g
	d.connectedPVs["pv:a"] = &pvRecord{name: "pv:a", ioc: g, reply: []byte{1}}
	d.connectedPVs["pv:b"] = &pvRecord{name: "pv:b", ioc: g, reply: []byte{2}}

	require.Equal(t, 1, r.Len())

	d.OnIocLost(g.Endpoint())

	require.Empty(t, d.connectedPVs)
	require.Empty(t, d.iocs)
	require.Equal(t, 0, r.Len())
}

func TestTickOnlyPurgesAfterDelayElapses(t *testing.T) {
	s := newTestSearcher(t)
	d := New(reactor.New(reactor.DefaultInterval), []*searcher.Searcher{s}, 10*time.Millisecond, time.Second)

	start := time.Now()
	d.Tick(start) // first call only establishes the baseline
	require.Equal(t, start, d.lastPurge)

	d.Tick(start.Add(5 * time.Millisecond))
	require.Equal(t, start, d.lastPurge, "must not purge before the delay elapses")

	later := start.Add(20 * time.Millisecond)
	d.Tick(later)
	require.Equal(t, later, d.lastPurge, "must purge once the delay elapses")
}
