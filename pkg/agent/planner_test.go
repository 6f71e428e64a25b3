package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubRunner struct {
	response string
	err      error
}

func (s stubRunner) Run(context.Context, string, string) (string, error) {
	return s.response, s.err
}

func TestExpandKeywordsParsesModelAnswer(t *testing.T) {
	p := NewPlanner(stubRunner{response: "Here you go:\n```json\n[\"手冲咖啡\", \"办公室 咖啡\", \"咖啡 苦\"]\n```"})

	got := p.ExpandKeywords(context.Background(), []string{"咖啡"})
	assert.Equal(t, []string{"手冲咖啡", "办公室 咖啡", "咖啡 苦"}, got)
}

func TestExpandKeywordsCapsModelOutput(t *testing.T) {
	p := NewPlanner(stubRunner{response: `["a","b","c","d","e"]`})

	got := p.ExpandKeywords(context.Background(), []string{"seed"})
	assert.Len(t, got, maxExpandedKeywords)
}

func TestExpandKeywordsFallsBackOnRunnerError(t *testing.T) {
	p := NewPlanner(stubRunner{err: errors.New("model unavailable")})

	got := p.ExpandKeywords(context.Background(), []string{"coffee", "espresso"})
	assert.Equal(t, []string{"coffee", "espresso"}, got)
}

func TestExpandKeywordsFallsBackOnProse(t *testing.T) {
	p := NewPlanner(stubRunner{response: "I cannot produce JSON today."})

	got := p.ExpandKeywords(context.Background(), []string{"coffee"})
	assert.Equal(t, []string{"coffee"}, got)
}

func TestExpandKeywordsEmptySeeds(t *testing.T) {
	p := NewPlanner(stubRunner{response: `["x"]`})

	assert.Nil(t, p.ExpandKeywords(context.Background(), nil))
	assert.Nil(t, p.ExpandKeywords(context.Background(), []string{"  "}))
}

func TestParseKeywordListSkipsBlanks(t *testing.T) {
	got := parseKeywordList(`noise [" a ", "", "b"] trailing`)
	assert.Equal(t, []string{"a", "b"}, got)
}
