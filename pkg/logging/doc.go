// Package logging wraps zap with a four-step verbosity scale, runtime
// level control via SIGUSR1/SIGUSR2, and optional syslog output.
package logging
