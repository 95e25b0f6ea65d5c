package acl_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pvmapper/pvmapper/pkg/acl"
)

func mustRule(t *testing.T, action acl.Action, src string) acl.Rule {
	t.Helper()
	r, err := acl.CompileRule(action, src)
	require.NoError(t, err)
	return r
}

func TestFirstMatchWins(t *testing.T) {
	denyThenAllow := &acl.List{PVRules: []acl.Rule{
		mustRule(t, acl.Deny, "^A$"),
		mustRule(t, acl.Allow, "^A$"),
	}}
	require.False(t, denyThenAllow.Check("A", "127.0.0.1").Allowed)

	allowThenDeny := &acl.List{PVRules: []acl.Rule{
		mustRule(t, acl.Allow, "^A$"),
		mustRule(t, acl.Deny, "^A$"),
	}}
	require.True(t, allowThenDeny.Check("A", "127.0.0.1").Allowed)
}

func TestFieldStripping(t *testing.T) {
	list := &acl.List{PVRules: []acl.Rule{
		mustRule(t, acl.Deny, "^FOO$"),
	}}
	require.False(t, list.Check("FOO.VAL", "127.0.0.1").Allowed)

	escaped := &acl.List{PVRules: []acl.Rule{
		mustRule(t, acl.Deny, `^FOO\.VAL$`),
	}}
	require.True(t, escaped.Check("FOO.VAL", "127.0.0.1").Allowed)
}

func TestDefaultAllowWhenNoRuleMatches(t *testing.T) {
	list := &acl.List{}
	require.True(t, list.Check("ANYTHING", "10.0.0.1").Allowed)
}

func TestClientRulesEvaluatedAfterPVRules(t *testing.T) {
	list := &acl.List{
		PVRules: []acl.Rule{
			mustRule(t, acl.Allow, `^SOME:`),
		},
		ClientRules: []acl.Rule{
			mustRule(t, acl.Deny, `^10\.`),
		},
	}
	d := list.Check("SOME:PV", "10.0.0.5")
	require.False(t, d.Allowed)
	require.Equal(t, `^10\.`, d.MatchedRule)
}

func TestWhitelistTerminator(t *testing.T) {
	list := &acl.List{PVRules: []acl.Rule{
		mustRule(t, acl.Allow, "^FOO:"),
		mustRule(t, acl.Deny, ".*"),
	}}
	require.True(t, list.Check("FOO:BAR", "127.0.0.1").Allowed)
	require.False(t, list.Check("BAZ:QUX", "127.0.0.1").Allowed)
}
