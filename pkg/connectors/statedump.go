package connectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sniper-hq/sniper/pkg/browser"
)

// Single-page apps populate their client-side store asynchronously after
// DOMContentLoaded; a short retry loop covers the gap.
const (
	stateDumpAttempts = 3
	stateDumpDelay    = 250 * time.Millisecond
)

// stateDumpScript builds a script that walks window.__INITIAL_STATE__ along
// keyPath, unwrapping observable cells (.value preferred over ._value) at
// each hop, and returns the reached node or null.
func stateDumpScript(keyPath ...string) string {
	quoted := make([]string, len(keyPath))
	for i, key := range keyPath {
		quoted[i] = fmt.Sprintf("%q", key)
	}
	return fmt.Sprintf(`(() => {
	let node = window.__INITIAL_STATE__;
	for (const key of [%s]) {
		if (node == null) return null;
		node = node[key];
		if (node != null && node.value !== undefined) node = node.value;
		else if (node != null && node._value !== undefined) node = node._value;
	}
	if (node == null) return null;
	return JSON.parse(JSON.stringify(node));
})()`, strings.Join(quoted, ", "))
}

// pollInitialState evaluates script until it yields a non-empty result,
// retrying stateDumpAttempts times with stateDumpDelay between attempts.
// Returns nil (no error) when the state never appeared.
func pollInitialState(ctx context.Context, page browser.Page, script string) (map[string]any, error) {
	for attempt := 1; attempt <= stateDumpAttempts; attempt++ {
		var out map[string]any
		err := page.Evaluate(ctx, script, &out)
		if err == nil && len(out) > 0 {
			return out, nil
		}
		if attempt == stateDumpAttempts {
			if err != nil {
				return nil, fmt.Errorf("initial state dump: %w", err)
			}
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(stateDumpDelay):
		}
	}
	return nil, nil
}

// pollInitialStateList is pollInitialState for scripts returning arrays.
func pollInitialStateList(ctx context.Context, page browser.Page, script string) ([]map[string]any, error) {
	for attempt := 1; attempt <= stateDumpAttempts; attempt++ {
		var out []map[string]any
		err := page.Evaluate(ctx, script, &out)
		if err == nil && len(out) > 0 {
			return out, nil
		}
		if attempt == stateDumpAttempts {
			if err != nil {
				return nil, fmt.Errorf("initial state dump: %w", err)
			}
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(stateDumpDelay):
		}
	}
	return nil, nil
}
