// Package telephony implements the HFP call-state engine (C4/§4.4): the
// call list, phone state, and the mutators a CHLD/dial/answer/hangup AT
// command drives, plus the synthetic-call behavior legacy headsets need
// when phone_ops_enabled is false.
package telephony

import (
	"sort"
	"strings"
	"sync"

	"github.com/btmedia/coordinator/internal/btmedia/backend"
)

// CallLineState is the per-call-record state (distinct from the aggregate
// PhoneState.CallState).
type CallLineState int

const (
	LineIncoming CallLineState = iota
	LineDialing
	LineAlerting
	LineActive
	LineHeld
)

// Call is one call-list record.
type Call struct {
	Index       int
	DirIncoming bool
	State       CallLineState
	Number      string
}

func toBackendState(s CallLineState) backend.CallState {
	switch s {
	case LineIncoming:
		return backend.CallIncoming
	case LineDialing:
		return backend.CallDialing
	case LineAlerting:
		return backend.CallAlerting
	case LineActive:
		return backend.CallActive
	case LineHeld:
		return backend.CallHeld
	default:
		return backend.CallActive
	}
}

// Notifier is the downward surface the engine pushes state to: every HFP
// device whose SLC is up gets the phone-state change and device-status
// pushes. Implemented by internal/btmedia/profile so this package stays
// free of a direct HFP backend dependency.
type Notifier interface {
	PhoneStateChange(number string)
	DeviceStatusNotification()
}

// Engine owns phone_state and call_list (§3). Like every other piece of
// coordinator state other than device_state/pending_task, it is mutated
// only from the single event loop goroutine, via internal/btmedia/profile;
// its mutex exists so the debug/status API can read it from another
// goroutine.
type Engine struct {
	mu sync.Mutex // guards the fields below for the debug/status API's benefit only

	opsEnabled bool
	status     backend.DeviceStatus
	phone      backend.PhoneState
	calls      []Call

	memoryDialingNumber *string
	lastDialingNumber   *string

	notifier Notifier
	// slcConnected reports whether at least one device is currently
	// SlcConnected, used only by set_phone_ops_enabled's synthetic-call
	// rule. Supplied by the profile package, which owns hfp_conn_state.
	slcConnected func() bool
}

// New creates an engine. opsEnabled is the initial value of
// phone_ops_enabled.
func New(opsEnabled bool, notifier Notifier, slcConnected func() bool) *Engine {
	return &Engine{
		opsEnabled:   opsEnabled,
		notifier:     notifier,
		slcConnected: slcConnected,
	}
}

func (e *Engine) newCallIndex() int {
	used := make(map[int]struct{}, len(e.calls))
	for _, c := range e.calls {
		used[c.Index] = struct{}{}
	}
	for i := 1; ; i++ {
		if _, ok := used[i]; !ok {
			return i
		}
	}
}

// PhoneState returns a copy of the current aggregate phone state.
func (e *Engine) PhoneState() backend.PhoneState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phone
}

// DeviceStatus returns a copy of the current telephony device status.
func (e *Engine) DeviceStatus() backend.DeviceStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// SetDeviceStatus updates network/signal/battery indicators and pushes the
// new status to every SLC-connected device.
func (e *Engine) SetDeviceStatus(status backend.DeviceStatus) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
	e.notifier.DeviceStatusNotification()
}

// CallList returns a CLCC-shaped snapshot of the call list, sorted by
// index for deterministic reporting.
func (e *Engine) CallList() []backend.Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]backend.Call, len(e.calls))
	for i, c := range e.calls {
		out[i] = backend.Call{
			Index:       c.Index,
			DirIncoming: c.DirIncoming,
			State:       toBackendState(c.State),
			Number:      c.Number,
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// OpsEnabled reports whether phone_ops_enabled is currently set.
func (e *Engine) OpsEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opsEnabled
}

// IncomingCall reports an incoming call from number. Requires Idle and no
// active call. Broadcasts the new phone state (carrying number) on success.
func (e *Engine) IncomingCall(number string) bool {
	e.mu.Lock()
	if !e.opsEnabled || e.phone.CallState != backend.PhoneIdle || e.phone.NumActive > 0 {
		e.mu.Unlock()
		return false
	}
	e.calls = append(e.calls, Call{Index: e.newCallIndex(), DirIncoming: true, State: LineIncoming, Number: number})
	e.phone.CallState = backend.PhoneIncoming
	e.mu.Unlock()
	e.notifier.PhoneStateChange(number)
	return true
}

// DialingCall places a call to number, applying the "" → last-dialed and
// ">" → memory-slot substitutions (§4.4). Emits an AT OK/ERROR response via
// atResponse before broadcasting the new phone state, matching the wire
// requirement that the response precede the state-change notification.
func (e *Engine) DialingCall(number string, atResponse func(ok bool)) bool {
	resolved, ok := e.resolveDialNumber(number)
	if !ok {
		if atResponse != nil {
			atResponse(false)
		}
		return false
	}
	success := e.dialingCallImpl(resolved)
	if atResponse != nil {
		atResponse(success)
	}
	if success {
		e.notifier.PhoneStateChange("")
	}
	return success
}

func (e *Engine) resolveDialNumber(number string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case number == "":
		if e.lastDialingNumber == nil {
			return "", false
		}
		return *e.lastDialingNumber, true
	case strings.HasPrefix(number, ">"):
		if e.memoryDialingNumber == nil {
			return "", false
		}
		return *e.memoryDialingNumber, true
	default:
		return number, true
	}
}

func (e *Engine) dialingCallImpl(number string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opsEnabled || e.phone.CallState != backend.PhoneIdle || e.phone.NumActive > 0 {
		return false
	}
	e.calls = append(e.calls, Call{Index: e.newCallIndex(), DirIncoming: false, State: LineDialing, Number: number})
	e.phone.CallState = backend.PhoneDialing
	return true
}

// AnswerCall promotes the unique Incoming-or-Dialing call to Active.
// Requires a non-Idle phone state.
func (e *Engine) AnswerCall() bool {
	e.mu.Lock()
	if !e.opsEnabled || e.phone.CallState == backend.PhoneIdle {
		e.mu.Unlock()
		return false
	}
	for i := range e.calls {
		if e.calls[i].State == LineIncoming || e.calls[i].State == LineDialing {
			e.calls[i].State = LineActive
			break
		}
	}
	e.phone.CallState = backend.PhoneIdle
	e.phone.NumActive++
	e.mu.Unlock()
	e.notifier.PhoneStateChange("")
	return true
}

// HangupCall ends the current call per §4.4's three-way branch, then drops
// every Active/Incoming/Dialing record (at most one, per I4).
func (e *Engine) HangupCall() bool {
	e.mu.Lock()
	if !e.opsEnabled {
		e.mu.Unlock()
		return false
	}
	switch {
	case e.phone.CallState == backend.PhoneIdle && e.phone.NumActive > 0:
		e.phone.NumActive--
	case e.phone.CallState == backend.PhoneIncoming || e.phone.CallState == backend.PhoneDialing:
		e.phone.CallState = backend.PhoneIdle
	default:
		e.mu.Unlock()
		return false
	}
	stripped := 0
	kept := e.calls[:0:0]
	for _, c := range e.calls {
		if c.State == LineActive || c.State == LineIncoming || c.State == LineDialing {
			stripped++
			continue
		}
		kept = append(kept, c)
	}
	assertAtMostOneStripped(stripped)
	e.calls = kept
	e.mu.Unlock()
	e.notifier.PhoneStateChange("")
	return true
}

// ReleaseHeld drops every Held call. Requires Idle.
func (e *Engine) ReleaseHeld() bool {
	if !e.releaseHeldImpl() {
		return false
	}
	e.notifier.PhoneStateChange("")
	return true
}

func (e *Engine) releaseHeldImpl() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opsEnabled || e.phone.CallState != backend.PhoneIdle {
		return false
	}
	kept := e.calls[:0:0]
	for _, c := range e.calls {
		if c.State != LineHeld {
			kept = append(kept, c)
		}
	}
	e.calls = kept
	e.phone.NumHeld = 0
	return true
}

// ReleaseActiveAcceptHeld drops every Active call and promotes the first
// Held call to Active. Requires Idle.
func (e *Engine) ReleaseActiveAcceptHeld() bool {
	if !e.releaseActiveAcceptHeldImpl() {
		return false
	}
	e.notifier.PhoneStateChange("")
	return true
}

func (e *Engine) releaseActiveAcceptHeldImpl() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opsEnabled || e.phone.CallState != backend.PhoneIdle {
		return false
	}
	kept := e.calls[:0:0]
	for _, c := range e.calls {
		if c.State != LineActive {
			kept = append(kept, c)
		}
	}
	e.calls = kept
	e.phone.NumActive = 0
	for i := range e.calls {
		if e.calls[i].State == LineHeld {
			e.calls[i].State = LineActive
			e.phone.NumHeld--
			e.phone.NumActive++
			break
		}
	}
	return true
}

// HoldActiveAcceptHeld transfers every Active call to Held, then promotes
// at most one Held call back to Active. Requires Idle.
func (e *Engine) HoldActiveAcceptHeld() bool {
	if !e.holdActiveAcceptHeldImpl() {
		return false
	}
	e.notifier.PhoneStateChange("")
	return true
}

func (e *Engine) holdActiveAcceptHeldImpl() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opsEnabled || e.phone.CallState != backend.PhoneIdle {
		return false
	}
	e.phone.NumHeld += e.phone.NumActive
	e.phone.NumActive = 0
	for i := range e.calls {
		switch e.calls[i].State {
		case LineHeld:
			if e.phone.NumActive == 0 {
				e.calls[i].State = LineActive
				e.phone.NumHeld--
				e.phone.NumActive = 1
			}
		case LineActive:
			e.calls[i].State = LineHeld
		}
	}
	return true
}

// CallHold dispatches a CHLD command by code: 0=ReleaseHeld,
// 1=ReleaseActiveAcceptHeld, 2=HoldActiveAcceptHeld.
func (e *Engine) CallHold(cmd CHLDCmd, atResponse func(ok bool)) bool {
	var ok bool
	switch cmd {
	case CHLDReleaseHeld:
		ok = e.releaseHeldImpl()
	case CHLDReleaseActiveAcceptHeld:
		ok = e.releaseActiveAcceptHeldImpl()
	case CHLDHoldActiveAcceptHeld:
		ok = e.holdActiveAcceptHeldImpl()
	}
	if atResponse != nil {
		atResponse(ok)
	}
	if ok {
		e.notifier.PhoneStateChange("")
	}
	return ok
}

// CHLDCmd mirrors bus.CHLDCmd; kept as a distinct type so this package does
// not need to import bus.
type CHLDCmd int

const (
	CHLDReleaseHeld CHLDCmd = iota
	CHLDReleaseActiveAcceptHeld
	CHLDHoldActiveAcceptHeld
)

// SetMemoryCall records the memory-dial slot's number.
func (e *Engine) SetMemoryCall(number *string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opsEnabled {
		return false
	}
	e.memoryDialingNumber = number
	return true
}

// SetLastCall records the last-dialed number.
func (e *Engine) SetLastCall(number *string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.opsEnabled {
		return false
	}
	e.lastDialingNumber = number
	return true
}

// SetPhoneOpsEnabled flips phone_ops_enabled, resetting all call state.
// Transitioning to disabled synthesizes a single Active call if at least
// one device is currently SLC-connected, so legacy headsets that expect a
// "call in progress" world keep producing audio.
func (e *Engine) SetPhoneOpsEnabled(enable bool) {
	e.mu.Lock()
	if e.opsEnabled == enable {
		e.mu.Unlock()
		return
	}
	e.calls = nil
	e.phone = backend.PhoneState{}
	e.memoryDialingNumber = nil
	e.lastDialingNumber = nil

	if !enable && e.slcConnected != nil && e.slcConnected() {
		e.calls = append(e.calls, Call{Index: 1, DirIncoming: false, State: LineActive, Number: ""})
		e.phone.NumActive = 1
	}
	e.opsEnabled = enable
	e.mu.Unlock()
	e.notifier.PhoneStateChange("")
}

// SyntheticCallForAudioWakeup implements the §4.2 HFP AudioState(Connected)
// rule: when phone_ops_enabled is false and there is no active call yet,
// fabricate index=1 Active and push a phone-state change so the headset
// unmutes. No-op (returns false) if a call already exists.
func (e *Engine) SyntheticCallForAudioWakeup() bool {
	e.mu.Lock()
	if e.opsEnabled || e.phone.NumActive > 0 {
		e.mu.Unlock()
		return false
	}
	e.calls = append(e.calls, Call{Index: 1, DirIncoming: false, State: LineActive, Number: ""})
	e.phone.NumActive = 1
	e.mu.Unlock()
	e.notifier.PhoneStateChange("")
	return true
}

// ClearSyntheticCall tears down the synthetic call created by
// SyntheticCallForAudioWakeup, used when HFP audio disconnects. No-op if
// there is no active call to clear, so an audio disconnect that never had a
// synthetic call running emits no phone-state change.
func (e *Engine) ClearSyntheticCall() {
	e.mu.Lock()
	if e.opsEnabled || e.phone.NumActive == 0 {
		e.mu.Unlock()
		return
	}
	e.calls = nil
	e.phone = backend.PhoneState{}
	e.mu.Unlock()
	e.notifier.PhoneStateChange("")
}
