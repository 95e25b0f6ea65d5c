// Package config parses the line-oriented pvmapper configuration file
// and renders the runtime values every other package needs:
// access-control rule lists, listener/searcher endpoints, log settings,
// and the purge/backoff timers.
package config
