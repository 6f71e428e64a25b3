package connectors

import (
	"sync"
	"time"

	"github.com/sniper-hq/sniper/pkg/browser"
)

// defaultLoginTimeout bounds how long a pending QR login keeps its session
// alive before the background timer flushes and tears it down.
const defaultLoginTimeout = 300 * time.Second

// loginTask is one pending QR login: the live session the QR is displayed
// in, waiting for the user to scan and confirm.
type loginTask struct {
	session  *browser.Session
	browser  browser.Browser
	deadline time.Time
	timer    *time.Timer
}

// loginTasks tracks pending QR logins by context id. One tenant can only be
// in one login flow at a time per connector (the login lock guarantees it),
// so writers never collide on a key; the mutex protects the map itself.
type loginTasks struct {
	mu    sync.Mutex
	tasks map[string]*loginTask
}

func newLoginTasks() *loginTasks {
	return &loginTasks{tasks: make(map[string]*loginTask)}
}

// put registers a pending login and arms its expiry timer. Expiry runs
// onExpire with the task's session and browser; by then the user either
// scanned or abandoned, and in both cases the context is flushed — cookies
// that exist get kept.
func (l *loginTasks) put(contextID string, session *browser.Session, b browser.Browser, timeout time.Duration, onExpire func(*browser.Session, browser.Browser)) time.Time {
	if timeout <= 0 {
		timeout = defaultLoginTimeout
	}
	deadline := time.Now().Add(timeout)

	task := &loginTask{session: session, browser: b, deadline: deadline}
	task.timer = time.AfterFunc(timeout, func() {
		if t, ok := l.take(contextID); ok {
			onExpire(t.session, t.browser)
		}
	})

	l.mu.Lock()
	l.tasks[contextID] = task
	l.mu.Unlock()
	return deadline
}

// take removes and returns the pending login for contextID, disarming its
// timer. The second return is false when no login is pending — the timer
// and the confirm endpoint race for the entry, and exactly one wins.
func (l *loginTasks) take(contextID string) (*loginTask, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	task, ok := l.tasks[contextID]
	if !ok {
		return nil, false
	}
	delete(l.tasks, contextID)
	task.timer.Stop()
	return task, true
}
