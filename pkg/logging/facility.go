package logging

import (
	"fmt"
	"log/syslog"
	"strings"
)

// parseFacility maps the SYSLOG_FACILITY config values onto
// log/syslog's Priority facility bits. No third-party syslog client
// exists worth pulling in for eight constant names, so this uses the
// standard library directly.
func parseFacility(name string) (syslog.Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "LOCAL0":
		return syslog.LOG_LOCAL0, nil
	case "LOCAL1":
		return syslog.LOG_LOCAL1, nil
	case "LOCAL2":
		return syslog.LOG_LOCAL2, nil
	case "LOCAL3":
		return syslog.LOG_LOCAL3, nil
	case "LOCAL4":
		return syslog.LOG_LOCAL4, nil
	case "LOCAL5":
		return syslog.LOG_LOCAL5, nil
	case "LOCAL6":
		return syslog.LOG_LOCAL6, nil
	case "LOCAL7":
		return syslog.LOG_LOCAL7, nil
	case "DAEMON":
		return syslog.LOG_DAEMON, nil
	case "USER":
		return syslog.LOG_USER, nil
	default:
		return 0, fmt.Errorf("logging: unknown syslog facility %q", name)
	}
}
