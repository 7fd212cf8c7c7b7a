package sync

import "time"

// State is the coarse sync state shown to the operator.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Status is the observable outcome of the engine's most recent activity.
type Status struct {
	State      State     `json:"state"`
	Message    string    `json:"message,omitempty"`
	LastSyncAt time.Time `json:"last_sync_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Status returns the current status.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// Subscribe returns a channel receiving every status change. Slow readers only
// see the latest status. The returned func unsubscribes and closes the channel.
func (e *Engine) Subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 1)

	e.statusMu.Lock()
	e.subs[ch] = struct{}{}
	e.statusMu.Unlock()

	return ch, func() {
		e.statusMu.Lock()
		defer e.statusMu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}
}

func (e *Engine) setStatus(state State, msg string) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	e.status.State = state
	e.status.Message = msg
	e.status.UpdatedAt = e.now()

	for ch := range e.subs {
		select {
		case ch <- e.status:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e.status:
			default:
			}
		}
	}
}
