package directory

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/pvmapper/pvmapper/pkg/codec"
	"github.com/pvmapper/pvmapper/pkg/diagnostics"
	"github.com/pvmapper/pvmapper/pkg/iocguard"
	"github.com/pvmapper/pvmapper/pkg/listener"
	"github.com/pvmapper/pvmapper/pkg/logging"
	"github.com/pvmapper/pvmapper/pkg/reactor"
	"github.com/pvmapper/pvmapper/pkg/searcher"
)

var _ listener.Dispatcher = (*Dispatcher)(nil)

// DefaultPurgeDelay is the default cadence for the sole cleanup path,
// the stale-entry purge run from Tick.
const DefaultPurgeDelay = 600 * time.Second

// Dispatcher owns connected_pvs and iocs, and wires Listener, Searcher,
// and IocGuard together. Every method runs only from the reactor
// thread, so it holds no locks.
type Dispatcher struct {
	log *zap.SugaredLogger

	reactor   *reactor.Reactor
	searchers []*searcher.Searcher

	connectedPVs map[string]*pvRecord
	iocs         map[iocguard.Endpoint]*iocguard.Guard

	heartbeatInterval time.Duration
	purgeDelay        time.Duration
	lastPurge         time.Time

	hosts   *logging.HostCache
	metrics *diagnostics.Metrics
}

// SetMetrics attaches a diagnostics.Metrics to record cache hit/miss,
// search, IOC-loss, and purge counters against. Safe to leave unset.
func (d *Dispatcher) SetMetrics(m *diagnostics.Metrics) {
	d.metrics = m
}

// New builds a Dispatcher that drives the given reactor and searchers.
// Register OnSearchReply as each Searcher's OnFound callback and Tick as
// the reactor's OnStep hook; both are the caller's responsibility so this
// package never has to import the concrete wiring of cmd/pvmapperd.
func New(r *reactor.Reactor, searchers []*searcher.Searcher, purgeDelay, heartbeatInterval time.Duration) *Dispatcher {
	return &Dispatcher{
		log:               zap.S().Named("directory"),
		reactor:           r,
		searchers:         searchers,
		connectedPVs:      make(map[string]*pvRecord),
		iocs:              make(map[iocguard.Endpoint]*iocguard.Guard),
		heartbeatInterval: heartbeatInterval,
		purgeDelay:        purgeDelay,
		hosts:             logging.NewHostCache(purgeDelay),
	}
}

// OnClientQuery implements listener.Dispatcher.
func (d *Dispatcher) OnClientQuery(pvName, _ string, _ uint16) (codec.ReplyFrame, bool) {
	if rec, ok := d.connectedPVs[pvName]; ok {
		if rec.ioc.State() == iocguard.Active {
			rec.lastHit = time.Now()
			d.recordCacheHit()
			return rec.reply, true
		}
		delete(d.connectedPVs, pvName)
	}

	d.recordCacheMiss()
	for _, s := range d.searchers {
		if s.AddPV(pvName) {
			d.recordSearchIssued()
		}
	}
	return nil, false
}

func (d *Dispatcher) recordCacheHit() {
	if d.metrics != nil {
		d.metrics.RecordCacheHit(context.Background())
	}
}

func (d *Dispatcher) recordCacheMiss() {
	if d.metrics != nil {
		d.metrics.RecordCacheMiss(context.Background())
	}
}

func (d *Dispatcher) recordSearchIssued() {
	if d.metrics != nil {
		d.metrics.RecordSearchIssued(context.Background())
	}
}

// OnSearchReply matches searcher.OnFound and should be passed directly as
// a Searcher's found-callback.
func (d *Dispatcher) OnSearchReply(pvName string, iocIP net.IP, iocPort uint16, reply codec.ReplyFrame) {
	var ip4 [4]byte
	copy(ip4[:], iocIP.To4())
	ep := iocguard.Endpoint{IP: ip4, Port: iocPort}

	guard, ok := d.iocs[ep]
	if !ok {
		guard = iocguard.Dial(ep, d.heartbeatInterval, d.OnIocLost)
		d.iocs[ep] = guard
		d.reactor.Add(guard)
		d.log.Infow("opened IOC guard", "endpoint", d.hosts.Decorate(iocIP.String()), "port", iocPort)
	}

	d.connectedPVs[pvName] = &pvRecord{
		name:    pvName,
		ioc:     guard,
		reply:   reply,
		lastHit: time.Now(),
	}
}

// OnIocLost matches an iocguard disconnect callback and should be passed
// directly to iocguard.Dial.
func (d *Dispatcher) OnIocLost(ep iocguard.Endpoint) {
	guard, ok := d.iocs[ep]
	if !ok {
		return
	}
	delete(d.iocs, ep)
	d.reactor.Remove(guard)
	d.log.Infow("IOC guard lost", "endpoint", d.hosts.Decorate(net.IP(ep.IP[:]).String()), "port", ep.Port)
	if d.metrics != nil {
		d.metrics.RecordIOCLost(context.Background())
	}

	for name, rec := range d.connectedPVs {
		if rec.ioc == guard {
			delete(d.connectedPVs, name)
		}
	}
}

// Tick runs the sole cleanup path: purging stale search entries on the
// configured purge_delay cadence. Wire this as the reactor's OnStep hook.
func (d *Dispatcher) Tick(now time.Time) {
	d.hosts.Poll()

	if d.lastPurge.IsZero() {
		d.lastPurge = now
		return
	}
	if now.Sub(d.lastPurge) < d.purgeDelay {
		return
	}
	d.lastPurge = now

	for _, s := range d.searchers {
		purged, remaining := s.Purge(d.purgeDelay)
		d.log.Debugw("purge complete", "purged", purged, "remaining", remaining)
	}
	if d.metrics != nil {
		d.metrics.RecordPurge(context.Background())
	}
}

// PVCount reports the number of resolved, cached PVs, for diagnostics.
func (d *Dispatcher) PVCount() int { return len(d.connectedPVs) }

// IOCCount reports the number of active IOC guards, for diagnostics.
func (d *Dispatcher) IOCCount() int { return len(d.iocs) }

// BinOccupancy reports each searcher's backoff-bin occupancy, for diagnostics.
func (d *Dispatcher) BinOccupancy() [][]int {
	occ := make([][]int, len(d.searchers))
	for i, s := range d.searchers {
		occ[i] = s.BinOccupancy()
	}
	return occ
}
