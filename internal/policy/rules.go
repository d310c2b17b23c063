// Package policy decides what a request path requires of its caller.
//
// Rules are an ordered list of (pattern, requirement) pairs, checked
// top to bottom; the first pattern that matches the path decides. A
// path no rule matches falls through to the engine's unmatched
// decision, which is configurable (the original deployment permitted
// everything it had not listed).
//
// Patterns are segment globs: `*` matches exactly one path segment,
// `**` matches any number of segments, including none. The rule list
// is immutable after the engine is built.
package policy

import (
	"fmt"
	"strings"

	"github.com/yourmine/gatehouse/internal/infrastructure/config"
)

// Requirement kinds for a rule.
const (
	// Public paths are open to everyone, including anonymous callers.
	Public = "public"

	// Authenticated paths require a live session, any roles.
	Authenticated = "authenticated"

	// RoleRestricted paths require a live session holding at least one
	// of the rule's roles.
	RoleRestricted = "role"
)

// Decisions returned by Authorize.
const (
	// Allow grants the request.
	Allow = "allow"

	// RequireAuthentication means the caller must log in first; the
	// caller should be sent to the login page, not refused outright.
	RequireAuthentication = "require_authentication"

	// Deny refuses an authenticated caller whose roles don't satisfy
	// the rule.
	Deny = "deny"
)

// Rule is a single compiled path rule.
type Rule struct {
	Pattern string
	Kind    string
	Roles   []string

	segments []string
}

// Caller describes who is asking. The zero value is an anonymous caller.
type Caller struct {
	Authenticated bool
	Roles         []string
}

// hasAnyRole reports whether the caller holds at least one of the roles.
func (c Caller) hasAnyRole(roles []string) bool {
	for _, want := range roles {
		for _, have := range c.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Engine evaluates an ordered rule list against request paths.
// Safe for concurrent use; rules never change after construction.
type Engine struct {
	rules     []Rule
	unmatched string
}

// NewEngine compiles the rule list. The unmatched decision must be
// Allow or Deny.
func NewEngine(rules []Rule, unmatched string) (*Engine, error) {
	if unmatched != Allow && unmatched != Deny {
		return nil, fmt.Errorf("unmatched decision must be %q or %q, got %q", Allow, Deny, unmatched)
	}

	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("rule %d: empty pattern", i)
		}
		switch r.Kind {
		case Public, Authenticated:
		case RoleRestricted:
			if len(r.Roles) == 0 {
				return nil, fmt.Errorf("rule %d (%s): role rule needs at least one role", i, r.Pattern)
			}
		default:
			return nil, fmt.Errorf("rule %d (%s): unknown requirement %q", i, r.Pattern, r.Kind)
		}

		r.segments = splitPath(r.Pattern)
		compiled[i] = r
	}

	return &Engine{rules: compiled, unmatched: unmatched}, nil
}

// FromConfig builds an engine from the access section of the service
// configuration.
func FromConfig(cfg config.AccessConfig) (*Engine, error) {
	rules := make([]Rule, len(cfg.Rules))
	for i, r := range cfg.Rules {
		rules[i] = Rule{
			Pattern: r.Pattern,
			Kind:    r.Require,
			Roles:   r.Roles,
		}
	}
	return NewEngine(rules, cfg.Unmatched)
}

// Authorize returns the decision for a path and caller.
//
// The first rule whose pattern matches the path decides:
//   - a public rule allows anyone
//   - an authenticated rule allows any live session and sends
//     anonymous callers to authentication
//   - a role rule additionally requires a role intersection; an
//     authenticated caller without one is denied, an anonymous caller
//     is sent to authentication first (they may well hold the role
//     once logged in)
func (e *Engine) Authorize(path string, caller Caller) string {
	segs := splitPath(path)

	for i := range e.rules {
		r := &e.rules[i]
		if !matchSegments(r.segments, segs) {
			continue
		}

		switch r.Kind {
		case Public:
			return Allow
		case Authenticated:
			if caller.Authenticated {
				return Allow
			}
			return RequireAuthentication
		case RoleRestricted:
			if !caller.Authenticated {
				return RequireAuthentication
			}
			if caller.hasAnyRole(r.Roles) {
				return Allow
			}
			return Deny
		}
	}

	return e.unmatched
}

// Rules returns a copy of the compiled rule list, for startup logging
// and the operator CLI.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Unmatched returns the fall-through decision.
func (e *Engine) Unmatched() string {
	return e.unmatched
}

// splitPath splits a path into segments, dropping empty ones so
// "/posts/save", "posts/save" and "/posts/save/" are the same path.
func splitPath(p string) []string {
	parts := strings.Split(p, "/")
	segs := parts[:0]
	for _, s := range parts {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
