// HealthBridge - Oseer Health Data Sync Client
// Copyright 2026 Oseer Algorithmics (oseer-algo)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oseer-algo/oseer-healthbridge-sub001

package conn

import (
	"sync"
	"time"
)

// timerName identifies one of the machine's named scheduled tasks.
type timerName string

const (
	timerHandoffPoll    timerName = "handoff_poll"
	timerHandoffTimeout timerName = "handoff_timeout"
)

// timerSet is a registry of named, cancellable timers. Setting a name
// that is already armed replaces the older timer; the invariant is at
// most one live timer per name.
type timerSet struct {
	mu     sync.Mutex
	timers map[timerName]*time.Timer
}

func newTimerSet() *timerSet {
	return &timerSet{timers: make(map[timerName]*time.Timer)}
}

func (ts *timerSet) set(name timerName, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if old, ok := ts.timers[name]; ok {
		old.Stop()
	}
	ts.timers[name] = time.AfterFunc(d, fn)
}

func (ts *timerSet) cancel(name timerName) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[name]; ok {
		t.Stop()
		delete(ts.timers, name)
	}
}

// cancelExcept stops every timer whose name is not in keep. Called on
// state entry so a timer can never outlive the state that armed it.
func (ts *timerSet) cancelExcept(keep ...timerName) {
	keepSet := make(map[timerName]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for name, t := range ts.timers {
		if !keepSet[name] {
			t.Stop()
			delete(ts.timers, name)
		}
	}
}

func (ts *timerSet) cancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for name, t := range ts.timers {
		t.Stop()
		delete(ts.timers, name)
	}
}

// active reports whether a named timer is currently armed.
func (ts *timerSet) active(name timerName) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.timers[name]
	return ok
}
