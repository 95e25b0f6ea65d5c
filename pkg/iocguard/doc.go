// Package iocguard watches a single IOC endpoint over a TCP connection,
// detecting silent loss via a periodic echo heartbeat. A Guard is a
// reactor.Registrant: its state only ever changes from the reactor's single
// goroutine, so it holds no locks.
package iocguard
