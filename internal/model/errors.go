package model

import "errors"

var (
	// ErrMalformedFrame is returned when a wire frame cannot be decoded.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrSessionNotFound is returned when a session is not found in the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRuleNotFound is returned when a rate-limit rule is not found.
	ErrRuleNotFound = errors.New("rate limit rule not found")

	// ErrNotificationNotFound is returned when a notification is not found.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrNotConnected is returned when an operation requires a live connection.
	ErrNotConnected = errors.New("not connected")

	// ErrTargetBlocked is returned when a blocked target attempts to connect.
	ErrTargetBlocked = errors.New("target is blocked")

	// ErrRuleNameRequired is returned when a rule is missing its name.
	ErrRuleNameRequired = errors.New("rule name is required")

	// ErrRuleScopeInvalid is returned for an unknown rule scope.
	ErrRuleScopeInvalid = errors.New("invalid rule scope")

	// ErrRuleActionInvalid is returned for an unknown rule action.
	ErrRuleActionInvalid = errors.New("invalid rule action")

	// ErrRuleLimitInvalid is returned when limit or window is not positive.
	ErrRuleLimitInvalid = errors.New("rule limit and window must be positive")
)
