package config

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pvmapper/pvmapper/pkg/acl"
)

const (
	// DefaultListenPort is the Listener's default bind port.
	DefaultListenPort = 5053
	// DefaultSearchPort is used for a CA_SEARCH_ADDRESS directive that
	// omits a port.
	DefaultSearchPort = 5064

	// DefaultSyslogID is the ident tag used when SYSLOG_ID is unset.
	DefaultSyslogID = "PVmapper"
)

// DefaultSearchIntervalSeconds is the configured backoff ladder used
// absent any SEARCH_INTERVAL directives. The original doesn't fix one
// canonical default ladder across its examples; this mirrors the kind of
// geometric-ish progression CA gateways commonly use, capped well under
// the default PURGE_DELAY so a long-unresolved PV gets several retries
// before being evicted.
var DefaultSearchIntervalSeconds = []int{1, 5, 10, 20, 60, 300}

// Config is the fully-parsed, validated configuration for one pvmapper
// process.
type Config struct {
	ACL *acl.List

	LogLevel       LogLevel
	SyslogFacility string
	SyslogID       string

	PurgeDelaySeconds     int
	SearchIntervalSeconds []int
	ListenAddrs           []*net.UDPAddr
	SearchAddrs           []*net.UDPAddr
}

// Load reads and parses path, applying defaults for anything unset.
// Malformed lines are logged and skipped; parsing continues.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	log := zap.S().Named("config")
	cfg := &Config{
		ACL:               &acl.List{},
		LogLevel:          DefaultLogLevel,
		SyslogID:          DefaultSyslogID,
		PurgeDelaySeconds: int(DefaultPurgeDelaySeconds),
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := splitDirective(line)
		if !ok {
			log.Warnw("skipping malformed config line", "line", lineNo, "text", line)
			continue
		}

		if err := cfg.apply(key, value); err != nil {
			log.Warnw("skipping invalid directive", "line", lineNo, "key", key, "err", err)
			continue
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// DefaultPurgeDelaySeconds is the default age/cadence for PV eviction.
const DefaultPurgeDelaySeconds = 600

func (c *Config) applyDefaults() {
	if len(c.ListenAddrs) == 0 {
		c.ListenAddrs = []*net.UDPAddr{{IP: net.IPv4zero, Port: DefaultListenPort}}
	}
	if len(c.SearchIntervalSeconds) == 0 {
		c.SearchIntervalSeconds = append([]int(nil), DefaultSearchIntervalSeconds...)
	}
}

// splitDirective separates a directive line's key from its value. The
// separator may be '=' or whitespace.
func splitDirective(line string) (key, value string, ok bool) {
	line = strings.Replace(line, "=", " ", 1)
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	return fields[0], strings.TrimSpace(strings.Join(fields[1:], " ")), true
}

func (c *Config) apply(key, value string) error {
	switch key {
	case "ALLOW_PV":
		return c.addRule(&c.ACL.PVRules, acl.Allow, value)
	case "DENY_PV":
		return c.addRule(&c.ACL.PVRules, acl.Deny, value)
	case "ALLOW_CLIENT":
		return c.addRule(&c.ACL.ClientRules, acl.Allow, value)
	case "DENY_CLIENT":
		return c.addRule(&c.ACL.ClientRules, acl.Deny, value)
	case "LOG_LEVEL":
		lvl, err := ParseLogLevel(value)
		if err != nil {
			return err
		}
		c.LogLevel = lvl
	case "SYSLOG_FACILITY":
		c.SyslogFacility = value
	case "SYSLOG_ID":
		c.SyslogID = value
	case "PURGE_DELAY":
		n, err := parsePositiveInt(value)
		if err != nil {
			return fmt.Errorf("PURGE_DELAY: %w", err)
		}
		c.PurgeDelaySeconds = n
	case "SEARCH_INTERVAL":
		return c.addSearchIntervals(value)
	case "CA_LISTEN_ADDRESS":
		addr, err := parseUDPAddr(value, DefaultListenPort)
		if err != nil {
			return fmt.Errorf("CA_LISTEN_ADDRESS: %w", err)
		}
		c.ListenAddrs = append(c.ListenAddrs, addr)
	case "CA_SEARCH_ADDRESS":
		addr, err := parseUDPAddr(value, DefaultSearchPort)
		if err != nil {
			return fmt.Errorf("CA_SEARCH_ADDRESS: %w", err)
		}
		c.SearchAddrs = append(c.SearchAddrs, addr)
	default:
		return fmt.Errorf("unknown directive %q", key)
	}
	return nil
}

func (c *Config) addRule(rules *[]acl.Rule, action acl.Action, pattern string) error {
	r, err := acl.CompileRule(action, pattern)
	if err != nil {
		return err
	}
	*rules = append(*rules, r)
	return nil
}

// addSearchIntervals accepts either a single value per directive or
// several space-separated values on one line, merging both forms across
// repeated directive lines.
func (c *Config) addSearchIntervals(value string) error {
	for _, tok := range strings.Fields(value) {
		n, err := parsePositiveInt(tok)
		if err != nil {
			return fmt.Errorf("SEARCH_INTERVAL: %w", err)
		}
		c.SearchIntervalSeconds = append(c.SearchIntervalSeconds, n)
	}
	return nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%q must be a positive integer", s)
	}
	return n, nil
}

// parseUDPAddr parses "ip" or "ip:port", applying defaultPort when the
// port is omitted.
func parseUDPAddr(spec string, defaultPort int) (*net.UDPAddr, error) {
	host, portStr, err := net.SplitHostPort(spec)
	if err != nil {
		host = spec
		portStr = strconv.Itoa(defaultPort)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP %q", host)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid port %q", portStr)
	}

	return &net.UDPAddr{IP: ip, Port: port}, nil
}
