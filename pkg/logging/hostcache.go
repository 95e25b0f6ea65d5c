package logging

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	lookupTimeout = 500 * time.Millisecond
	resultBacklog = 64
)

type hostEntry struct {
	hostname string
	expires  time.Time
	pending  bool
}

// HostCache is a best-effort reverse-DNS cache used only to decorate log
// fields with "ip (hostname)" — never consulted on any path that could
// stall the reactor. Only the result backlog is bounded: the entry map has
// no size limit, and an expired entry is replaced on its next Decorate
// call rather than removed. Lookups run on a throwaway goroutine per
// miss and report back over a buffered channel that Poll drains
// non-blockingly once per tick, the same non-blocking-drain shape
// pkg/iocguard uses for its async dial.
type HostCache struct {
	ttl     time.Duration
	entries map[string]*hostEntry
	results chan lookupResult
}

type lookupResult struct {
	ip       string
	hostname string
}

// NewHostCache builds a cache whose entries expire after ttl. Pass the
// configured purge_delay so stale IOC hostnames age out alongside the PVs
// that referenced them.
func NewHostCache(ttl time.Duration) *HostCache {
	return &HostCache{
		ttl:     ttl,
		entries: make(map[string]*hostEntry),
		results: make(chan lookupResult, resultBacklog),
	}
}

// Decorate returns "ip (hostname)" if ip's hostname is cached, else just
// ip while a background lookup is kicked off (or reused if already
// pending or still fresh).
func (c *HostCache) Decorate(ip string) string {
	e, ok := c.entries[ip]
	if ok && e.pending {
		return ip
	}
	if ok && time.Now().Before(e.expires) {
		return fmt.Sprintf("%s (%s)", ip, e.hostname)
	}

	c.entries[ip] = &hostEntry{pending: true}
	go c.lookup(ip)
	return ip
}

func (c *HostCache) lookup(ip string) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	names, err := net.DefaultResolver.LookupAddr(ctx, ip)
	hostname := ip
	if err == nil && len(names) > 0 {
		hostname = names[0]
	}

	select {
	case c.results <- lookupResult{ip: ip, hostname: hostname}:
	default:
		// backlog full: drop the result, the next Decorate call will retry.
	}
}

// Poll drains completed lookups without blocking. Call once per reactor
// tick.
func (c *HostCache) Poll() {
	for {
		select {
		case res := <-c.results:
			c.entries[res.ip] = &hostEntry{hostname: res.hostname, expires: time.Now().Add(c.ttl)}
		default:
			return
		}
	}
}
