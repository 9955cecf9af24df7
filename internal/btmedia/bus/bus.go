// Package bus implements the single multi-producer, single-consumer event
// bus (§4.1): the one channel through which the three native profile
// backends, running on their own threads, hand events to the coordinator's
// single-threaded event loop. Nothing else is allowed to mutate shared
// coordinator state.
package bus

import (
	"log/slog"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
)

// A2DPConnState mirrors the full Connecting/Connected/Disconnecting/
// Disconnected range the native stack reports, not just the two edges: the
// profile handler dedups by comparing against the previously stored value,
// so the intermediate states have to travel too even though only the two
// edges drive the lifecycle engine.
type A2DPConnState int

const (
	A2DPConnConnecting A2DPConnState = iota
	A2DPConnConnected
	A2DPConnDisconnecting
	A2DPConnDisconnected
)

type A2DPConnectionState struct {
	State A2DPConnState
}

// A2DPEvent is a tagged union of A2DP callback variants.
type A2DPEvent struct {
	Addr address.Addr

	ConnectionState *A2DPConnectionState
	AudioState      *A2DPAudioState
	AudioConfig     *A2DPAudioConfig
}

type A2DPAudioState struct {
	Started bool
}

type A2DPAudioConfig struct {
	Codecs []backend.A2DPCodecConfig
}

// AVRCPEvent is a tagged union of AVRCP callback variants.
type AVRCPEvent struct {
	Addr address.Addr

	DeviceConnected    *AVRCPDeviceConnected
	DeviceDisconnected *struct{}
	AbsoluteVolume     *AVRCPAbsoluteVolume
	KeyEvent           *AVRCPKeyEvent
	SetActiveDevice    *struct{}
}

type AVRCPDeviceConnected struct {
	SupportsAbsoluteVolume bool
}

type AVRCPAbsoluteVolume struct {
	Volume uint8 // 0-127
}

type AVRCPKeyEvent struct {
	Key   int
	Value bool
}

// HFPEvent is a tagged union of HFP callback variants.
type HFPEvent struct {
	Addr address.Addr

	ConnectionState   *HFPConnectionState
	AudioState        *HFPAudioState
	VolumeUpdate      *HFPVolumeUpdate
	BatteryLevel      *HFPBatteryLevel
	CapsUpdate        *HFPCapsUpdate
	IndicatorQuery    *struct{}
	CurrentCallsQuery *struct{}
	AnswerCall        *struct{}
	HangupCall        *struct{}
	DialCall          *HFPDialCall
	CallHold          *HFPCallHold
}

type HFPConnState int

const (
	HFPConnConnecting HFPConnState = iota
	HFPConnConnected
	HFPConnSlcConnected
	HFPConnDisconnecting
	HFPConnDisconnected
)

type HFPConnectionState struct {
	State HFPConnState
}

type HFPAudioConnState int

const (
	HFPAudioConnecting HFPAudioConnState = iota
	HFPAudioConnected
	HFPAudioDisconnecting
	HFPAudioDisconnected
)

type HFPAudioState struct {
	State HFPAudioConnState
}

type HFPVolumeUpdate struct {
	Volume uint8 // 0-15
}

type HFPBatteryLevel struct {
	Level int // 0-5
}

type HFPCapsUpdate struct {
	WBSSupported bool
}

type HFPDialCall struct {
	Number string
}

// CHLDCmd names the HFP CHLD command codes the telephony engine dispatches.
type CHLDCmd int

const (
	CHLDReleaseHeld CHLDCmd = iota
	CHLDReleaseActiveAcceptHeld
	CHLDHoldActiveAcceptHeld
)

type HFPCallHold struct {
	Cmd CHLDCmd
}

// MediaAction is a request the lifecycle engine's timer tasks post back
// onto the bus so the actual profile connect/disconnect work always runs on the
// main loop, never inline inside a timer task.
type MediaAction struct {
	Addr    address.Addr
	Connect *struct{}

	Disconnect *struct{}
}

// CallbackDisconnect signals that a registered upward listener has gone
// away and should be dropped from the callback registry.
type CallbackDisconnect struct {
	ListenerID string
}

// Message is the tagged union carried on the bus. Exactly one field is set.
type Message struct {
	A2DP                *A2DPEvent
	AVRCP               *AVRCPEvent
	HFP                 *HFPEvent
	MediaAction         *MediaAction
	CallbackDisconnect  *CallbackDisconnect
}

// Bus is the single channel into the coordinator's event loop.
type Bus struct {
	ch chan Message
}

// New creates a bus with the given buffer capacity.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{ch: make(chan Message, bufferSize)}
}

// Post enqueues a message. If the bus is full the message is dropped and a
// warning logged: a native profile callback thread must never be blocked on
// coordinator backpressure.
func (b *Bus) Post(msg Message) {
	select {
	case b.ch <- msg:
	default:
		slog.Warn("[Bus] event bus full, dropping message")
	}
}

// Messages exposes the receive side for the coordinator's single consumer.
func (b *Bus) Messages() <-chan Message {
	return b.ch
}

// Close closes the channel. Only the owning coordinator should call this,
// after it has stopped draining.
func (b *Bus) Close() {
	close(b.ch)
}

// Dispatcher is handed to each native backend so it can post events onto
// the bus without knowing anything about the coordinator's internals. Each
// profile gets its own thin shim so the backend-specific event shape is
// fixed at the call site.
type Dispatcher struct {
	bus *Bus
}

func NewDispatcher(b *Bus) *Dispatcher {
	return &Dispatcher{bus: b}
}

func (d *Dispatcher) PostA2DP(e A2DPEvent)  { d.bus.Post(Message{A2DP: &e}) }
func (d *Dispatcher) PostAVRCP(e AVRCPEvent) { d.bus.Post(Message{AVRCP: &e}) }
func (d *Dispatcher) PostHFP(e HFPEvent)     { d.bus.Post(Message{HFP: &e}) }
func (d *Dispatcher) PostMediaAction(a MediaAction) {
	d.bus.Post(Message{MediaAction: &a})
}
func (d *Dispatcher) PostCallbackDisconnect(listenerID string) {
	d.bus.Post(Message{CallbackDisconnect: &CallbackDisconnect{ListenerID: listenerID}})
}
