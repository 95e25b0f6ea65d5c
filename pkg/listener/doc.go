// Package listener implements the inbound UDP endpoint clients send SEARCH
// requests to: ACL evaluation, dedup, cache lookup via a Dispatcher, and
// reply unicast.
package listener
