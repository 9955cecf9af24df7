package lifecycle

import (
	"sync"
	"time"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
	"github.com/btmedia/coordinator/internal/btmedia/bus"
	"github.com/btmedia/coordinator/internal/btmedia/callback"
	"github.com/btmedia/coordinator/internal/btmedia/metrics"
	"github.com/btmedia/coordinator/internal/btmedia/store"
)

// DeviceInfoProvider supplies the fields the lifecycle engine does not own
// itself (remote name, advertised codec caps, absolute-volume support) at
// the moment a device is about to be announced upward. Implemented by the
// coordinator's profile handlers, which aggregate the per-device tables
// they maintain. Kept as an interface so lifecycle never imports profile.
type DeviceInfoProvider interface {
	BuildAddedPayload(addr address.Addr) callback.DeviceAdded
}

type pendingTask struct {
	firstConnTs time.Time
	cancel      chan struct{}
}

// Engine is the per-device connection-lifecycle state machine (§4.3/§5).
//
// pending_task is modeled as a tri-state, exactly like the upstream
// implementation's Option<Option<task>>: no entry in the store at all
// means this address has never been seen; an entry holding a non-nil
// *pendingTask means a timer is running and the device has not yet been
// announced; an entry holding a nil *pendingTask ("present but empty")
// means the device has either been announced already or gave up waiting
// — in both cases there is nothing further to do until connected_profiles
// empties out and the device is erased entirely.
type Engine struct {
	clock Clock
	t1    time.Duration // initiator grace
	t2    time.Duration // total profile-discovery budget

	deviceState *store.Store[address.Addr, State]
	pendingTask *store.Store[address.Addr, *pendingTask]

	// connected is touched only from the coordinator's single event-loop
	// goroutine; connMu exists solely so the debug API can read it safely
	// from a different goroutine.
	connected map[address.Addr]map[backend.AudioProfile]struct{}
	connMu    sync.Mutex

	dispatcher *bus.Dispatcher
	callbacks  *callback.Registry
	metricsOut metrics.Sink
	info       DeviceInfoProvider
}

// New builds a lifecycle engine. t1 is the initiator grace window, t2 the
// total profile-discovery budget measured from first_conn_ts.
func New(clock Clock, t1, t2 time.Duration, dispatcher *bus.Dispatcher, callbacks *callback.Registry, metricsOut metrics.Sink, info DeviceInfoProvider) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	if metricsOut == nil {
		metricsOut = metrics.NoopSink{}
	}
	return &Engine{
		clock:       clock,
		t1:          t1,
		t2:          t2,
		deviceState: store.New[address.Addr, State](),
		pendingTask: store.New[address.Addr, *pendingTask](),
		connected:   make(map[address.Addr]map[backend.AudioProfile]struct{}),
		dispatcher:  dispatcher,
		callbacks:   callbacks,
		metricsOut:  metricsOut,
		info:        info,
	}
}

// SetInfoProvider wires the device-info provider in after construction.
// profile.Handlers implements DeviceInfoProvider but itself depends on
// *Engine, so the two can't be built in either order with the dependency
// supplied up front; callers build the engine with a nil provider, build
// Handlers against it, then call this before any bus message can reach
// FullyConnected.
func (e *Engine) SetInfoProvider(info DeviceInfoProvider) {
	e.info = info
}

// State returns the current lifecycle state of addr, if any.
func (e *Engine) State(addr address.Addr) (State, bool) {
	return e.deviceState.Get(addr)
}

// PendingEntry reports whether addr has an entry in pending_task at all,
// and if so whether that entry is the "announced/done" marker (a present
// entry holding no live task) rather than a live timer.
func (e *Engine) PendingEntry(addr address.Addr) (exists bool, announced bool) {
	v, ok := e.pendingTask.Get(addr)
	return ok, ok && v == nil
}

// ConnectedProfiles returns a snapshot of the profiles currently recorded
// as connected for addr.
func (e *Engine) ConnectedProfiles(addr address.Addr) map[backend.AudioProfile]struct{} {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	snap := make(map[backend.AudioProfile]struct{})
	for p := range e.connected[addr] {
		snap[p] = struct{}{}
	}
	return snap
}

// ForEachDevice calls fn for every device currently tracked in the
// lifecycle state table, for the debug API's device listing.
func (e *Engine) ForEachDevice(fn func(addr address.Addr, state State)) {
	e.deviceState.ForEach(func(addr address.Addr, state State) bool {
		fn(addr, state)
		return true
	})
}

// IsConnected reports whether profile is currently recorded as connected
// for addr.
func (e *Engine) IsConnected(addr address.Addr, profile backend.AudioProfile) bool {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	_, ok := e.connected[addr][profile]
	return ok
}

// AddProfile records profile as connected for addr and runs the transition
// rule. Call this from the event loop after a profile backend reports
// Connected.
func (e *Engine) AddProfile(addr address.Addr, profile backend.AudioProfile, available map[backend.AudioProfile]struct{}) {
	e.connMu.Lock()
	if e.connected[addr] == nil {
		e.connected[addr] = make(map[backend.AudioProfile]struct{})
	}
	e.connected[addr][profile] = struct{}{}
	e.connMu.Unlock()

	e.onProfileChange(addr, available)
}

// RemoveProfile records profile as disconnected for addr, runs the
// critical-loss notification first if critical is set, then runs the
// transition rule. critical must be true for A2dpSink and Hfp; for
// AvrcpController it is true only when AvrcpController was the sole
// connected profile before this removal.
func (e *Engine) RemoveProfile(addr address.Addr, profile backend.AudioProfile, available map[backend.AudioProfile]struct{}, critical bool) {
	e.connMu.Lock()
	if set, ok := e.connected[addr]; ok {
		delete(set, profile)
	}
	e.connMu.Unlock()

	if critical {
		e.notifyCriticalProfileDisconnected(addr)
	}
	e.onProfileChange(addr, available)
}

// notifyCriticalProfileDisconnected is step 8 of §4.3/§5: a critical
// profile loss always tears the device down, independent of what the
// normal transition rule would otherwise compute.
func (e *Engine) notifyCriticalProfileDisconnected(addr address.Addr) {
	prev, _ := e.deviceState.Get(addr)
	if prev == Disconnecting {
		return
	}
	e.deviceState.Set(addr, Disconnecting)

	v, ok := e.pendingTask.Get(addr)
	if !ok {
		return
	}
	if v != nil {
		close(v.cancel)
		e.pendingTask.Set(addr, nil)
		return
	}
	// Entry present and already None: the device had been announced.
	e.callbacks.BroadcastDeviceRemoved(addr)
}

// onProfileChange is the transition rule from §4.3/§5, invoked at the end
// of every profile add/remove (after notifyCriticalProfileDisconnected, if
// that ran).
func (e *Engine) onProfileChange(addr address.Addr, available map[backend.AudioProfile]struct{}) {
	firstConnTs := e.clock.Now()

	if v, ok := e.pendingTask.Get(addr); ok {
		if v != nil {
			close(v.cancel)
			firstConnTs = v.firstConnTs
			e.pendingTask.Set(addr, nil)
		} else {
			// Already announced or given up: ignore this event entirely
			// unless it is the one that empties connected_profiles.
			if !e.isCleared(addr) {
				return
			}
		}
	}

	if e.isCleared(addr) {
		e.connMu.Lock()
		delete(e.connected, addr)
		e.connMu.Unlock()
		e.deviceState.Delete(addr)
		e.pendingTask.Delete(addr)
		return
	}

	prevState, hadState := e.deviceState.Get(addr)
	if !hadState {
		prevState = ConnectingBeforeRetry
	}

	e.connMu.Lock()
	missing := missingProfiles(e.connected[addr], available)
	e.connMu.Unlock()

	newState := prevState
	if isSatisfied(missing) {
		newState = FullyConnected
	} else if !hadState {
		newState = ConnectingBeforeRetry
	}

	e.deviceState.Set(addr, newState)

	switch newState {
	case ConnectingBeforeRetry:
		e.scheduleBeforeRetry(addr, firstConnTs)
	case ConnectingAfterRetry:
		e.scheduleAfterRetry(addr, firstConnTs)
	case FullyConnected:
		e.callbacks.BroadcastDeviceAdded(e.info.BuildAddedPayload(addr))
		e.pendingTask.Set(addr, nil)
	case Disconnecting:
		// no-op
	}
}

func (e *Engine) isCleared(addr address.Addr) bool {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	return len(e.connected[addr]) == 0
}

func missingProfiles(connected map[backend.AudioProfile]struct{}, available map[backend.AudioProfile]struct{}) map[backend.AudioProfile]struct{} {
	missing := make(map[backend.AudioProfile]struct{})
	for p := range available {
		if _, ok := connected[p]; !ok {
			missing[p] = struct{}{}
		}
	}
	return missing
}

// isSatisfied implements "missing = ∅ or missing = {AvrcpController}": a
// device is considered fully connected even if only its (non-essential)
// AVRCP controller profile never showed up.
func isSatisfied(missing map[backend.AudioProfile]struct{}) bool {
	switch len(missing) {
	case 0:
		return true
	case 1:
		_, onlyAvrcp := missing[backend.ProfileAvrcpController]
		return onlyAvrcp
	default:
		return false
	}
}

// scheduleBeforeRetry runs the combined two-phase timer task: wait until
// first_conn_ts+T1, re-request the missing profiles, wait until
// first_conn_ts+T2, then give up and tear down.
func (e *Engine) scheduleBeforeRetry(addr address.Addr, firstConnTs time.Time) {
	cancel := make(chan struct{})
	e.pendingTask.Set(addr, &pendingTask{firstConnTs: firstConnTs, cancel: cancel})

	go func() {
		if e.clock.Sleep(deadline(e.clock, firstConnTs, e.t1), cancel) {
			return
		}
		if !e.stillOwns(addr, cancel) {
			return
		}
		e.deviceState.Set(addr, ConnectingAfterRetry)
		e.dispatcher.PostMediaAction(bus.MediaAction{Addr: addr, Connect: &struct{}{}})

		if e.clock.Sleep(deadline(e.clock, firstConnTs, e.t2), cancel) {
			return
		}
		if !e.stillOwns(addr, cancel) {
			return
		}
		e.deviceState.Set(addr, Disconnecting)
		e.pendingTask.Set(addr, nil)
		e.dispatcher.PostMediaAction(bus.MediaAction{Addr: addr, Disconnect: &struct{}{}})
	}()
}

// scheduleAfterRetry runs the second phase alone: this fires when a fresh
// profile event arrives while the device is already in ConnectingAfterRetry,
// which cancelled (via the Get-then-Set-nil above, in onProfileChange)
// whatever task was already waiting out the remainder of T2 and requires a
// replacement.
func (e *Engine) scheduleAfterRetry(addr address.Addr, firstConnTs time.Time) {
	cancel := make(chan struct{})
	e.pendingTask.Set(addr, &pendingTask{firstConnTs: firstConnTs, cancel: cancel})

	go func() {
		if e.clock.Sleep(deadline(e.clock, firstConnTs, e.t2), cancel) {
			return
		}
		if !e.stillOwns(addr, cancel) {
			return
		}
		e.deviceState.Set(addr, Disconnecting)
		e.pendingTask.Set(addr, nil)
		e.dispatcher.PostMediaAction(bus.MediaAction{Addr: addr, Disconnect: &struct{}{}})
	}()
}

// stillOwns reports whether the task holding cancel is still the live
// pending_task entry for addr, guarding against a stale task racing a
// newer one that replaced it without ever closing this one's channel.
func (e *Engine) stillOwns(addr address.Addr, cancel chan struct{}) bool {
	cur, ok := e.pendingTask.Get(addr)
	return ok && cur != nil && cur.cancel == cancel
}

func deadline(clock Clock, firstConnTs time.Time, budget time.Duration) time.Duration {
	d := firstConnTs.Add(budget).Sub(clock.Now())
	if d < 0 {
		d = 0
	}
	return d
}
