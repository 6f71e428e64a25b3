// Package feed incrementally parses the video platform's JSON search feed.
// Feeds can run to many megabytes; the parser yields items as their closing
// brace is reached and stops reading the moment the caller's limit is hit,
// so a small limit never pays for the whole payload.
package feed

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoItems is returned when the payload carries no "items" array.
var ErrNoItems = errors.New("feed: no items array in payload")

// itemsKey names the feed's result array. Everything before it is envelope
// metadata the parser skips without decoding.
const itemsKey = `"items"`

// Item is one feed entry.
type Item struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Channel     string `json:"channelTitle"`
	ChannelID   string `json:"channelId"`
	URL         string `json:"url"`
	ViewCount   int    `json:"viewCount"`
	LikeCount   int    `json:"likeCount"`
	Published   string `json:"published"`
}

// matches reports whether any keyword appears in the item's title,
// description, or channel name, case-insensitively. An empty keyword list
// matches everything.
func (it Item) matches(keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(it.Title + "\n" + it.Description + "\n" + it.Channel)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Parse streams items out of r, keeping those that match keywords, until
// limit items are collected or the array ends. limit <= 0 means unbounded.
func Parse(r io.Reader, keywords []string, limit int) ([]Item, error) {
	br := bufio.NewReader(r)

	if err := seekMarker(br); err != nil {
		return nil, err
	}

	var items []Item
	for {
		raw, done, err := nextObject(br)
		if err != nil {
			return nil, err
		}
		if done {
			return items, nil
		}

		var item Item
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("feed: decode item %d: %w", len(items), err)
		}
		if !item.matches(keywords) {
			continue
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			return items, nil
		}
	}
}

// seekMarker advances the reader to just past the items-array opener. The
// key, its colon, and the '[' may be separated by any JSON whitespace, so a
// pretty-printed feed parses the same as a compact one.
func seekMarker(br *bufio.Reader) error {
	matched := 0
	colon := false
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return ErrNoItems
		}
		if err != nil {
			return fmt.Errorf("feed: read payload: %w", err)
		}

		if matched < len(itemsKey) {
			switch {
			case b == itemsKey[matched]:
				matched++
			case b == itemsKey[0]:
				matched = 1
			default:
				matched = 0
			}
			colon = false
			continue
		}

		// Key found; accept ws* ':' ws* '[' or start over.
		switch {
		case b == ' ' || b == '\t' || b == '\n' || b == '\r':
		case b == ':' && !colon:
			colon = true
		case b == '[' && colon:
			return nil
		default:
			matched, colon = 0, false
			if b == itemsKey[0] {
				matched = 1
			}
		}
	}
}

// nextObject reads one complete JSON object from the array, walking byte by
// byte and balancing braces with string-state tracking so braces inside
// string values (and escaped quotes inside them) do not confuse the count.
// done is true when the array's closing bracket is reached instead.
func nextObject(br *bufio.Reader) (raw []byte, done bool, err error) {
	// Skip separators until the next object or the end of the array.
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, false, fmt.Errorf("feed: truncated items array: %w", err)
		}
		if b == '{' {
			raw = append(raw, b)
			break
		}
		if b == ']' {
			return nil, true, nil
		}
		switch b {
		case ',', ' ', '\t', '\n', '\r':
		default:
			return nil, false, fmt.Errorf("feed: unexpected byte %q in items array", b)
		}
	}

	depth := 1
	inString := false
	escaped := false
	for depth > 0 {
		b, err := br.ReadByte()
		if err != nil {
			return nil, false, fmt.Errorf("feed: truncated item object: %w", err)
		}
		raw = append(raw, b)

		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && b == '\\':
			escaped = true
		case b == '"':
			inString = !inString
		case !inString && b == '{':
			depth++
		case !inString && b == '}':
			depth--
		}
	}
	return raw, false, nil
}
