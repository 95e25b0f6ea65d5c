// Package acl evaluates the ordered allow/deny rule lists that gate which
// PV names and client IPs a resolver will act on. Evaluation is first-match
// wins within each list; an empty or exhausted list defaults to Allow.
package acl
