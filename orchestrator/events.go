package orchestrator

// EventKind says what an Event reports
type EventKind string

const (
	EventStateChanged    EventKind = "stateChanged"
	EventSnapshotUpdated EventKind = "snapshotUpdated"
	EventPaywall         EventKind = "paywall"
	EventError           EventKind = "error"
)

// Event is delivered to observers after the change it describes has been applied
type Event struct {
	Kind     EventKind
	State    State
	Previous State  // EventStateChanged only
	Action   Action // EventPaywall only
	Err      error  // EventError only
}

// Observer is the adapter a view layer listens on. OnEvent is called without
// engine locks held and may call back into the engine.
type Observer interface {
	OnEvent(Event)
}

type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(ev Event) {
	f(ev)
}

// Subscribe registers o for all future events
func (e *Engine) Subscribe(o Observer) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Engine) publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	e.lock.RLock()
	observers := append([]Observer(nil), e.observers...)
	e.lock.RUnlock()
	for _, ev := range events {
		for _, o := range observers {
			o.OnEvent(ev)
		}
	}
}

// setStateLocked changes state and returns the event to publish once the lock is released
func (e *Engine) setStateLocked(next State) []Event {
	prev := e.state
	if prev == next {
		return nil
	}
	e.state = next
	e.logger.Debug().Str("from", string(prev)).Str("to", string(next)).Msg("State changed")
	return []Event{{Kind: EventStateChanged, State: next, Previous: prev}}
}

// transition moves to next if the session that started the work is still current
func (e *Engine) transition(epoch uint64, next State) bool {
	e.lock.Lock()
	if epoch != e.epoch {
		e.lock.Unlock()
		return false
	}
	events := e.setStateLocked(next)
	e.lock.Unlock()
	e.publish(events...)
	return true
}

// surface records a user-visible error for the session that produced it
func (e *Engine) surface(epoch uint64, err error) {
	e.lock.Lock()
	if epoch != e.epoch {
		e.lock.Unlock()
		return
	}
	e.lastErr = err
	state := e.state
	e.lock.Unlock()

	e.logger.Err(err).Str("state", string(state)).Msg("Operation failed")
	e.publish(Event{Kind: EventError, State: state, Err: err})
}

// currentScope returns the live session scope and its epoch, or nil when anonymous
func (e *Engine) currentScope() *scope {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.current
}

func (e *Engine) isCurrent(epoch uint64) bool {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return epoch == e.epoch && e.current != nil
}
