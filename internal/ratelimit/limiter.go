// Package ratelimit evaluates configurable traffic rules against hub
// events and decides throttle, disconnect or block outcomes.
package ratelimit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agent-event-relay/backend/internal/model"
)

// Event is one candidate occurrence to be counted: an inbound frame, a
// subscribe attempt or a broadcast send.
type Event struct {
	UserID  string
	IP      string
	Channel string
}

// Decision is the outcome of evaluating an event against all enabled
// rules. Action is empty when no rule was violated. When several rules
// trigger on the same event the most severe action wins.
type Decision struct {
	Action model.RuleAction
	Rule   *model.RateLimitRule
}

// Allowed reports whether the event passed without any violation.
func (d Decision) Allowed() bool {
	return d.Action == ""
}

// window is a fixed counting window for one (rule, target) pair.
type window struct {
	start time.Time
	count int
}

// Limiter holds the rule set and the per-target counters. Rule changes
// take effect on the next evaluation; disabling a rule is never
// retroactive.
type Limiter struct {
	mu      sync.RWMutex
	rules   map[string]*model.RateLimitRule
	windows map[string]*window
	blocked map[string]time.Time

	blockCooldown time.Duration
	now           func() time.Time
}

// DefaultBlockCooldown is how long a blocked target is rejected after a
// block action, unless configured otherwise.
const DefaultBlockCooldown = 15 * time.Minute

// NewLimiter creates a Limiter. A non-positive cooldown selects
// DefaultBlockCooldown.
func NewLimiter(blockCooldown time.Duration) *Limiter {
	if blockCooldown <= 0 {
		blockCooldown = DefaultBlockCooldown
	}
	return &Limiter{
		rules:         make(map[string]*model.RateLimitRule),
		windows:       make(map[string]*window),
		blocked:       make(map[string]time.Time),
		blockCooldown: blockCooldown,
		now:           time.Now,
	}
}

// Evaluate counts the event against every enabled matching rule and
// returns the most severe resulting action. Each counter update is a
// single increment-and-compare under the limiter lock.
func (l *Limiter) Evaluate(ev Event) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var worst Decision

	for _, rule := range l.rules {
		if !rule.Enabled {
			continue
		}
		target, ok := targetFor(rule, ev)
		if !ok {
			continue
		}

		key := rule.ID + "\x00" + target
		w := l.windows[key]
		if w == nil || now.Sub(w.start) >= time.Duration(rule.WindowSeconds)*time.Second {
			w = &window{start: now}
			l.windows[key] = w
		}
		w.count++

		if w.count > rule.Limit {
			rule.ViolationCount++
			if rule.Action.Severity() > worst.Action.Severity() {
				worst = Decision{Action: rule.Action, Rule: rule}
			}
			if rule.Action == model.ActionBlock && target != "" {
				l.blocked[target] = now.Add(l.blockCooldown)
			}
		}
	}

	return worst
}

// targetFor resolves the counter key for a rule against an event and
// reports whether the rule applies at all.
func targetFor(rule *model.RateLimitRule, ev Event) (string, bool) {
	var target string
	switch rule.Scope {
	case model.ScopeGlobal:
		return "", true
	case model.ScopeUser:
		target = ev.UserID
	case model.ScopeIP:
		target = ev.IP
	case model.ScopeChannel:
		target = ev.Channel
	default:
		return "", false
	}
	if target == "" {
		return "", false
	}
	if rule.Target != "" && rule.Target != target {
		return "", false
	}
	return target, true
}

// IsBlocked reports whether any of the given targets (user id, IP) is
// inside a block cooldown. Expired entries are pruned as they are seen.
func (l *Limiter) IsBlocked(targets ...string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, t := range targets {
		if t == "" {
			continue
		}
		until, ok := l.blocked[t]
		if !ok {
			continue
		}
		if now.Before(until) {
			return true
		}
		delete(l.blocked, t)
	}
	return false
}

// Upsert inserts or replaces a rule. An empty ID gets a generated one.
// The change is visible to in-flight evaluation immediately.
func (l *Limiter) Upsert(rule *model.RateLimitRule) (*model.RateLimitRule, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	} else if existing, ok := l.rules[rule.ID]; ok {
		rule.ViolationCount = existing.ViolationCount
	}
	l.rules[rule.ID] = rule
	return rule, nil
}

// Delete removes a rule and its counters.
func (l *Limiter) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.rules[id]; !ok {
		return model.ErrRuleNotFound
	}
	delete(l.rules, id)
	prefix := id + "\x00"
	for key := range l.windows {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(l.windows, key)
		}
	}
	return nil
}

// Toggle flips a rule's enabled flag and returns the new state.
func (l *Limiter) Toggle(id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rule, ok := l.rules[id]
	if !ok {
		return false, model.ErrRuleNotFound
	}
	rule.Enabled = !rule.Enabled
	return rule.Enabled, nil
}

// Get returns a copy of the rule with the given id.
func (l *Limiter) Get(id string) (*model.RateLimitRule, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rule, ok := l.rules[id]
	if !ok {
		return nil, model.ErrRuleNotFound
	}
	c := *rule
	return &c, nil
}

// Rules returns copies of all rules.
func (l *Limiter) Rules() []*model.RateLimitRule {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rules := make([]*model.RateLimitRule, 0, len(l.rules))
	for _, rule := range l.rules {
		c := *rule
		rules = append(rules, &c)
	}
	return rules
}

// Load replaces the rule set, used to restore persisted rules at startup.
func (l *Limiter) Load(rules []*model.RateLimitRule) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rules = make(map[string]*model.RateLimitRule, len(rules))
	for _, rule := range rules {
		c := *rule
		l.rules[c.ID] = &c
	}
}
