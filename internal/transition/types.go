package transition

import (
	"github.com/danielpatrickdp/tsc-controller/internal/effect"
	"github.com/danielpatrickdp/tsc-controller/internal/state"
)

// #region rule
// Rule names the transition rule that fired. It is recorded as the provenance reason.
type Rule string

const (
	RuleLockdownEnter   Rule = "lockdown_enter"
	RuleLockdownClear   Rule = "lockdown_clear"
	RuleLockdownExit    Rule = "lockdown_exit"
	RuleLockdownHold    Rule = "lockdown_hold"
	RuleHandshakePass   Rule = "handshake_pass"
	RuleHandshakeExit   Rule = "handshake_exit"
	RuleHandshakeReset  Rule = "handshake_reset"
	RuleDegenerate      Rule = "degenerate_reinflate"
	RuleDrift           Rule = "drift"
	RuleDriftEscalate   Rule = "drift_escalate"
	RuleMinimalInfoHold Rule = "minimal_info_hold"
	RulePass            Rule = "pass"
)

// #endregion rule

// #region result
// Result bundles everything returned by Transition.
type Result struct {
	Next    state.ControllerState
	Effects []effect.Effect
	Rule    Rule
}

// Changed reports whether the protocol state differs from prev.
func (r Result) Changed(prev state.ControllerState) bool {
	return r.Next.State != prev.State
}

// #endregion result
