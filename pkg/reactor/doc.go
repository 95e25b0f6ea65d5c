// Package reactor implements the single-threaded readiness loop that
// multiplexes every socket owned by a Listener, Searcher, or IocGuard.
//
// There is exactly one goroutine running the loop. Registrants never block
// beyond the loop's own bounded readiness wait, and nothing here takes a
// lock: with one thread driving every callback to completion before the
// next begins, there is no concurrent access to guard against.
package reactor
