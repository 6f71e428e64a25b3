package connectors

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sniper-hq/sniper/pkg/browser"
)

func TestLoginTasksConfirmDisarmsTimer(t *testing.T) {
	tasks := newLoginTasks()
	var expired atomic.Int32

	tasks.put("ctx-1", &browser.Session{ID: "s1"}, newFakeBrowser(), 30*time.Millisecond,
		func(*browser.Session, browser.Browser) { expired.Add(1) })

	task, ok := tasks.take("ctx-1")
	require.True(t, ok)
	assert.Equal(t, "s1", task.session.ID)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), expired.Load(), "taken entries must never expire")

	_, ok = tasks.take("ctx-1")
	assert.False(t, ok)
}

func TestLoginTasksExpiryWinsRace(t *testing.T) {
	tasks := newLoginTasks()
	var expired atomic.Int32

	tasks.put("ctx-2", &browser.Session{ID: "s2"}, newFakeBrowser(), 10*time.Millisecond,
		func(*browser.Session, browser.Browser) { expired.Add(1) })

	require.Eventually(t, func() bool { return expired.Load() == 1 },
		time.Second, 5*time.Millisecond)

	_, ok := tasks.take("ctx-2")
	assert.False(t, ok, "expired entries are gone; a late confirm sees not-found")
}

func TestLoginTasksDefaultDeadline(t *testing.T) {
	tasks := newLoginTasks()
	before := time.Now()

	deadline := tasks.put("ctx-3", &browser.Session{ID: "s3"}, newFakeBrowser(), 0,
		func(*browser.Session, browser.Browser) {})

	assert.WithinDuration(t, before.Add(defaultLoginTimeout), deadline, time.Second)
	_, ok := tasks.take("ctx-3")
	assert.True(t, ok)
}
