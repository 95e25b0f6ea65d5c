package acl

import (
	"fmt"
	"regexp"
	"strings"
)

// Action is the outcome of a matched rule.
type Action int

const (
	// Allow permits the request to proceed.
	Allow Action = iota
	// Deny rejects the request.
	Deny
)

func (a Action) String() string {
	if a == Deny {
		return "deny"
	}
	return "allow"
}

// Rule is one entry in an ordered allow/deny list.
type Rule struct {
	Action  Action
	Pattern *regexp.Regexp
	Source  string // the regex text as written in the config file, for logging
}

// Decision reports whether a request was allowed, and if not, the rule
// text that rejected it.
type Decision struct {
	Allowed     bool
	MatchedRule string
}

func allowed() Decision { return Decision{Allowed: true} }

func denied(rule string) Decision { return Decision{Allowed: false, MatchedRule: rule} }

// List evaluates the two ordered rule lists a resolver needs: one over PV
// names (after stripping any trailing .FIELD), one over client IPs.
type List struct {
	PVRules     []Rule
	ClientRules []Rule
}

// Check runs the full (pv, clientIP) decision: PV rules first, then
// client rules, first match wins in each list.
func (l *List) Check(pvName, clientIP string) Decision {
	stripped := StripField(pvName)
	if d := evaluate(l.PVRules, stripped); !d.Allowed {
		return d
	}
	if d := evaluate(l.ClientRules, clientIP); !d.Allowed {
		return d
	}
	return allowed()
}

func evaluate(rules []Rule, subject string) Decision {
	for _, r := range rules {
		if r.Pattern.MatchString(subject) {
			if r.Action == Deny {
				return denied(r.Source)
			}
			return allowed()
		}
	}
	return allowed()
}

// StripField removes a trailing ".FIELD" suffix from a PV name: everything
// after (and including) the last '.' is dropped. Names with no '.' are
// returned unchanged.
func StripField(pvName string) string {
	if i := strings.LastIndexByte(pvName, '.'); i >= 0 {
		return pvName[:i]
	}
	return pvName
}

// CompileRule parses a regex source string into a Rule with the given
// action. Returned errors name the offending pattern so config parsing can
// log and skip the line rather than aborting.
func CompileRule(action Action, source string) (Rule, error) {
	re, err := regexp.Compile(source)
	if err != nil {
		return Rule{}, fmt.Errorf("acl: compile rule %q: %w", source, err)
	}
	return Rule{Action: action, Pattern: re, Source: source}, nil
}
