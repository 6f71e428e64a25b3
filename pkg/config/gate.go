package config

import "time"

// GateRule is the per-(platform, operation) admission policy: a fixed-window
// rate limit plus the TTL of the distributed operation lock.
type GateRule struct {
	MaxRequests int
	Window      time.Duration
	LockTimeout time.Duration
}

// GateTable maps platform → operation → rule. Operations without a rule
// bypass gating entirely.
type GateTable map[string]map[string]GateRule

// Lookup returns the rule for (platform, operation), if any.
func (t GateTable) Lookup(platform, operation string) (GateRule, bool) {
	ops, ok := t[platform]
	if !ok {
		return GateRule{}, false
	}
	rule, ok := ops[operation]
	return rule, ok
}

// DefaultGateTable returns the built-in gating policy. Login and publish are
// the most aggressively throttled operations; detail fetches and searches
// share a looser budget.
func DefaultGateTable() GateTable {
	return GateTable{
		"xhs": {
			"login":                {MaxRequests: 3, Window: 60 * time.Second, LockTimeout: 120 * time.Second},
			"get_note_detail":      {MaxRequests: 10, Window: 60 * time.Second, LockTimeout: 180 * time.Second},
			"harvest_user_content": {MaxRequests: 5, Window: 60 * time.Second, LockTimeout: 300 * time.Second},
			"search_and_extract":   {MaxRequests: 10, Window: 60 * time.Second, LockTimeout: 180 * time.Second},
			"publish_content":      {MaxRequests: 2, Window: 60 * time.Second, LockTimeout: 300 * time.Second},
		},
		"wechat_article": {
			"get_note_detail":      {MaxRequests: 10, Window: 60 * time.Second, LockTimeout: 180 * time.Second},
			"harvest_user_content": {MaxRequests: 5, Window: 60 * time.Second, LockTimeout: 300 * time.Second},
		},
		"youtube": {
			"search_and_extract": {MaxRequests: 10, Window: 60 * time.Second, LockTimeout: 180 * time.Second},
		},
	}
}
