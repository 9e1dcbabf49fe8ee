package model

// RuleScope selects which traffic dimension a rate-limit rule counts.
type RuleScope string

const (
	ScopeGlobal  RuleScope = "global"
	ScopeUser    RuleScope = "user"
	ScopeIP      RuleScope = "ip"
	ScopeChannel RuleScope = "channel"
)

// RuleAction is what happens when a rule's limit is exceeded.
type RuleAction string

const (
	ActionThrottle   RuleAction = "throttle"
	ActionDisconnect RuleAction = "disconnect"
	ActionBlock      RuleAction = "block"
)

// Severity orders actions so the most severe among multiple matching
// rules wins: Block > Disconnect > Throttle.
func (a RuleAction) Severity() int {
	switch a {
	case ActionBlock:
		return 3
	case ActionDisconnect:
		return 2
	case ActionThrottle:
		return 1
	}
	return 0
}

// RateLimitRule is one configurable traffic ceiling. Target, when set,
// pins the rule to a single user/IP/channel; empty means the rule applies
// per distinct target within its scope.
type RateLimitRule struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Scope          RuleScope  `json:"scope"`
	Target         string     `json:"target,omitempty"`
	Limit          int        `json:"limit"`
	WindowSeconds  int        `json:"windowSeconds"`
	Action         RuleAction `json:"action"`
	Enabled        bool       `json:"enabled"`
	ViolationCount int64      `json:"violationCount"`
}

// Validate checks a rule for structural sanity.
func (r *RateLimitRule) Validate() error {
	if r.Name == "" {
		return ErrRuleNameRequired
	}
	switch r.Scope {
	case ScopeGlobal, ScopeUser, ScopeIP, ScopeChannel:
	default:
		return ErrRuleScopeInvalid
	}
	switch r.Action {
	case ActionThrottle, ActionDisconnect, ActionBlock:
	default:
		return ErrRuleActionInvalid
	}
	if r.Limit <= 0 || r.WindowSeconds <= 0 {
		return ErrRuleLimitInvalid
	}
	return nil
}
