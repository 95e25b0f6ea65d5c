// Package searcher implements the outbound search scheduler: a
// backoff-binned ring buffer of not-yet-resolved PV queries, periodic
// broadcast, and reply matching.
package searcher
