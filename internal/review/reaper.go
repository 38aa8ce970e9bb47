package review

import (
	"time"

	"github.com/ryanoboyle/wharf/pkg/logging"
)

// ReaperTick is how often the idle-connection reaper checks the cached
// uploader (spec.md §4.8).
const ReaperTick = 30 * time.Second

// Reaper periodically disconnects the review session's cached uploader
// once it has sat idle past uploaderIdleTimeout. A timeout <= 0 disables
// it entirely.
type Reaper struct {
	state   *ServerState
	timeout time.Duration
	stop    chan struct{}
}

// NewReaper builds a Reaper for state with the given idle timeout.
func NewReaper(state *ServerState, timeout time.Duration) *Reaper {
	return &Reaper{state: state, timeout: timeout, stop: make(chan struct{})}
}

// Run blocks, ticking every ReaperTick, until Stop is called or the
// review session's abort handle trips. Intended to run in its own
// goroutine for the lifetime of one review session.
func (r *Reaper) Run() {
	if r.timeout <= 0 {
		return
	}

	ticker := time.NewTicker(ReaperTick)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-r.state.Abort.Done():
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *Reaper) sweep(now time.Time) {
	up, idleFor, ok := r.state.IdleCachedUploader(now)
	if !ok || idleFor <= r.timeout {
		return
	}

	r.state.ClearCachedUploader()
	up.Disconnect()
	logging.Logger().Info("idle-reaper disconnected cached uploader", logging.DurationMs(idleFor.Milliseconds()))
}

// Stop ends the reaper's ticking loop.
func (r *Reaper) Stop() {
	close(r.stop)
}
