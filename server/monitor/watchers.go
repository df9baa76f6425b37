package monitor

import "github.com/cyclopcam/firewatch/pkg/gen"

// SYNC-WATCHER-CHANNEL-SIZE
const WatcherChannelSize = 100

// Register to receive the result of every tick, and every reset
func (m *Monitor) AddWatcher() chan *TickResult {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	ch := make(chan *TickResult, WatcherChannelSize)
	m.watchers = append(m.watchers, ch)
	return ch
}

// Unregister a watcher. The channel is not closed.
func (m *Monitor) RemoveWatcher(ch chan *TickResult) {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	n := len(m.watchers)
	m.watchers = gen.DeleteFirst(m.watchers, ch)
	if len(m.watchers) == n {
		m.Log.Warnf("Monitor.RemoveWatcher failed to find channel")
	}
}

func (m *Monitor) sendToWatchers(result *TickResult) {
	m.watchersLock.RLock()
	defer m.watchersLock.RUnlock()
	// We drop results rather than stall, so that one slow watcher cannot hold up
	// the sampling loop, or the other watchers.
	for _, ch := range m.watchers {
		// SYNC-WATCHER-CHANNEL-SIZE
		if len(ch) >= cap(ch)*9/10 {
			m.Log.Warnf("Monitor watcher is falling behind. I am going to drop results.")
		} else {
			ch <- result
		}
	}
}

// Close all watcher channels. Called once, when the monitor shuts down.
func (m *Monitor) closeWatchers() {
	m.watchersLock.Lock()
	defer m.watchersLock.Unlock()
	for _, ch := range m.watchers {
		close(ch)
	}
	m.watchers = nil
}
