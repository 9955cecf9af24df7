// Package backend declares the downward interfaces the coordinator consumes
// from the native profile stacks and the adapter. The coordinator never
// implements these; it is handed concrete implementations (or test doubles)
// at construction time and only ever calls through the interface.
package backend

import (
	"context"

	"github.com/btmedia/coordinator/internal/btmedia/address"
)

// Status is the outcome of a downward backend call. The native stacks report
// success/failure this way rather than through Go errors, since a failed
// profile operation is routine, expected, and must never abort the
// coordinator's event loop.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusNotReady
)

// A2DPCodecConfig describes one advertised codec configuration for a peer.
type A2DPCodecConfig struct {
	CodecType      string
	SampleRate     int
	BitsPerSample  int
	ChannelMode    string
}

// A2DP is the downward interface to the native A2DP sink profile.
type A2DP interface {
	Enable(ctx context.Context) Status
	Disable(ctx context.Context) Status
	IsEnabled() bool

	Connect(ctx context.Context, addr address.Addr) Status
	Disconnect(ctx context.Context, addr address.Addr) Status

	SetActiveDevice(ctx context.Context, addr address.Addr) Status
	SetAudioConfig(ctx context.Context, addr address.Addr, sampleRate, bitsPerSample int, channelMode string) Status

	StartAudioRequest(ctx context.Context, addr address.Addr) Status
	StopAudioRequest(ctx context.Context, addr address.Addr) Status

	GetPresentationPosition(ctx context.Context, addr address.Addr) (uint64, Status)
}

// AVRCP is the downward interface to the native AVRCP controller profile.
type AVRCP interface {
	Enable(ctx context.Context) Status
	Disable(ctx context.Context) Status

	Connect(ctx context.Context, addr address.Addr) Status
	Disconnect(ctx context.Context, addr address.Addr) Status

	// SetVolume forwards an absolute-volume value, 0-127 downcast to int8
	// as the native AVRCP wire format expects.
	SetVolume(ctx context.Context, v int8) Status

	SetPlaybackStatus(ctx context.Context, playing bool) Status
	SetPlaybackPosition(ctx context.Context, positionMs uint32) Status
	SetMetadata(ctx context.Context, title, artist, album string, durationMs uint32) Status
}

// HFPCodec is the bitflag set over speech codecs a device negotiates.
type HFPCodec uint8

const (
	HFPCodecCVSD HFPCodec = 1 << 0
	HFPCodecMSBC HFPCodec = 1 << 1
)

// HFP is the downward interface to the native Hands-Free Profile stack.
type HFP interface {
	Enable(ctx context.Context) Status
	Disable(ctx context.Context) Status

	Connect(ctx context.Context, addr address.Addr) Status
	Disconnect(ctx context.Context, addr address.Addr) Status

	// ConnectAudio starts the SCO link. scoOffload/forceCVSD mirror the
	// native stack's two connect_audio flags (hardware SCO offload path,
	// and forcing the narrowband CVSD codec over the negotiated one).
	ConnectAudio(ctx context.Context, addr address.Addr, scoOffload, forceCVSD bool) Status
	DisconnectAudio(ctx context.Context, addr address.Addr) Status

	SetActiveDevice(ctx context.Context, addr address.Addr) Status
	// SetVolume forwards a 0-15 value downcast to int8, per the HFP spec's
	// narrow volume range.
	SetVolume(ctx context.Context, v int8, addr address.Addr) Status

	IndicatorQueryResponse(ctx context.Context, addr address.Addr, status DeviceStatus, phone PhoneState) Status
	CurrentCallsQueryResponse(ctx context.Context, addr address.Addr, calls []Call) Status
	SimpleATResponse(ctx context.Context, addr address.Addr, ok bool) Status
	DeviceStatusNotification(ctx context.Context, addr address.Addr, status DeviceStatus) Status
	PhoneStateChange(ctx context.Context, addr address.Addr, phone PhoneState, number string) Status
}

// DeviceStatus mirrors the CIND-queryable network/battery indicators.
type DeviceStatus struct {
	NetworkAvailable bool
	Roaming          bool
	SignalStrength   int // 0-5
	BatteryLevel     int // 0-5
}

// CallState is the wire-facing state of a single call, returned by CLCC.
type CallState int

const (
	CallActive CallState = iota
	CallHeld
	CallDialing
	CallAlerting
	CallIncoming
	CallWaiting
)

// PhoneCallState is the aggregate call-state half of PhoneState, distinct
// from the per-call CallState above: the aggregate has an Idle value that
// no individual call record ever takes on.
type PhoneCallState int

const (
	PhoneIdle PhoneCallState = iota
	PhoneIncoming
	PhoneDialing
	PhoneAlerting
)

// PhoneState is the aggregate call-state tuple reported via CIEV/CIND.
type PhoneState struct {
	NumActive int
	NumHeld   int
	CallState PhoneCallState
}

// Call is one entry in the CLCC-reported call list.
type Call struct {
	Index       int
	DirIncoming bool
	State       CallState
	Number      string
}

// Adapter is the host-side adapter query surface: remote device name and
// advertised service UUIDs, used to compute the set of audio profiles a
// peer advertises.
type Adapter interface {
	GetRemoteName(ctx context.Context, addr address.Addr) (string, error)
	GetRemoteUUIDs(ctx context.Context, addr address.Addr) ([]string, error)
}

// KeyInjector is the uinput AVRCP media-key surface (C7): one virtual
// keyboard per connected AVRCP peer, fed by AVRCP key events.
type KeyInjector interface {
	Create(ctx context.Context, remoteName string, addr address.Addr) error
	Close(addr address.Addr)
	SendKey(key int, value bool) error
	SetActiveDevice(addr address.Addr)
}

// BatteryProvider is the battery-report push surface (C7).
type BatteryProvider interface {
	SetBatteryLevel(addr address.Addr, percent int)
}

// AudioProfile is one of the three profiles the lifecycle engine tracks.
type AudioProfile int

const (
	ProfileA2dpSink AudioProfile = iota
	ProfileHfp
	ProfileAvrcpController
)

func (p AudioProfile) String() string {
	switch p {
	case ProfileA2dpSink:
		return "A2dpSink"
	case ProfileHfp:
		return "Hfp"
	case ProfileAvrcpController:
		return "AvrcpController"
	default:
		return "Unknown"
	}
}
