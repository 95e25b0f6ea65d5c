// Package directory implements the Dispatcher: the two top-level tables
// (resolved PVs, active IOC guards) and the glue between Listener,
// Searcher, and IocGuard.
package directory
