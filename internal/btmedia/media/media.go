// Package media implements the outward-facing media control facade (C5):
// the small set of operations an audio daemon calls downward through —
// connect/disconnect a device, set volumes, start a SCO call — layered on
// top of the profile-state tables and connection lifecycle engine owned by
// internal/btmedia/profile and internal/btmedia/lifecycle.
package media

import (
	"context"
	"log/slog"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
	"github.com/btmedia/coordinator/internal/btmedia/lifecycle"
	"github.com/btmedia/coordinator/internal/btmedia/metrics"
	"github.com/btmedia/coordinator/internal/btmedia/profile"
)

// Profiles is the subset of profile.Handlers the facade depends on, kept
// narrow so tests can substitute a fake without building a full Handlers.
type Profiles interface {
	AvailableProfiles(ctx context.Context, addr address.Addr) map[backend.AudioProfile]struct{}
	HasHFPEntry(addr address.Addr) bool
	SetAVRCPDirection(d profile.Direction)
	SetActiveDeviceKeys(addr address.Addr)
}

// Facade implements profile.Disconnector and is the coordinator's §4.5
// surface.
type Facade struct {
	engine   *lifecycle.Engine
	profiles Profiles

	a2dp  backend.A2DP
	avrcp backend.AVRCP
	hfp   backend.HFP

	metricsOut metrics.Sink
	log        *slog.Logger
}

// Deps bundles Facade's collaborators.
type Deps struct {
	Engine   *lifecycle.Engine
	Profiles Profiles
	A2DP     backend.A2DP
	AVRCP    backend.AVRCP
	HFP      backend.HFP
	Metrics  metrics.Sink
	Logger   *slog.Logger
}

func New(d Deps) *Facade {
	if d.Metrics == nil {
		d.Metrics = metrics.NoopSink{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Facade{
		engine:     d.Engine,
		profiles:   d.Profiles,
		a2dp:       d.A2DP,
		avrcp:      d.AVRCP,
		hfp:        d.HFP,
		metricsOut: d.Metrics,
		log:        d.Logger,
	}
}

func (f *Facade) emit(addr address.Addr, p backend.AudioProfile, s metrics.ConnState) {
	f.metricsOut.EmitAsync(metrics.Event{Addr: addr, Profile: p, State: s})
}

// Connect requests every currently-missing profile for addr. AVRCP is
// skipped when A2DP is itself missing: the native A2DP connect resolves
// AVRCP along with it, so an explicit AVRCP connect would race it.
func (f *Facade) Connect(ctx context.Context, addr address.Addr) {
	available := f.profiles.AvailableProfiles(ctx, addr)
	connected := f.engine.ConnectedProfiles(addr)

	missing := make(map[backend.AudioProfile]struct{})
	for p := range available {
		if _, ok := connected[p]; !ok {
			missing[p] = struct{}{}
		}
	}

	if _, ok := missing[backend.ProfileA2dpSink]; ok {
		f.connectProfile(ctx, addr, backend.ProfileA2dpSink)
	}
	if _, ok := missing[backend.ProfileHfp]; ok {
		f.connectProfile(ctx, addr, backend.ProfileHfp)
	}
	if _, ok := missing[backend.ProfileAvrcpController]; ok {
		if _, a2dpMissing := missing[backend.ProfileA2dpSink]; !a2dpMissing {
			f.connectProfile(ctx, addr, backend.ProfileAvrcpController)
		}
	}
}

func (f *Facade) connectProfile(ctx context.Context, addr address.Addr, p backend.AudioProfile) {
	f.emit(addr, p, metrics.StateConnecting)

	var status backend.Status
	switch p {
	case backend.ProfileA2dpSink:
		status = f.a2dp.Connect(ctx, addr)
	case backend.ProfileHfp:
		status = f.hfp.Connect(ctx, addr)
	case backend.ProfileAvrcpController:
		f.profiles.SetAVRCPDirection(profile.DirOutgoing)
		status = f.avrcp.Connect(ctx, addr)
		if status != backend.StatusSuccess {
			f.profiles.SetAVRCPDirection(profile.DirUnknown)
		}
	}
	switch status {
	case backend.StatusSuccess:
	case backend.StatusNotReady:
		f.log.Warn("[media] connect failed, backend not ready", "addr", addr.String(), "profile", p.String())
		f.emit(addr, p, metrics.StateNotReady)
	default:
		f.log.Warn("[media] connect failed", "addr", addr.String(), "profile", p.String(), "status", status)
		f.emit(addr, p, metrics.StateDisconnected)
	}
}

// Disconnect tears down every profile addr currently has connected.
// A2dpSink is skipped while Hfp is still connected (a documented headset
// quirk: some devices reconnect A2DP on their own while HFP survives).
// AvrcpController is skipped while A2dpSink is still connected (AVRCP
// follows A2DP down). Implements profile.Disconnector.
func (f *Facade) Disconnect(ctx context.Context, addr address.Addr) {
	connected := f.engine.ConnectedProfiles(addr)
	if len(connected) == 0 {
		f.log.Warn("[media] ignoring disconnect, no connected profile", "addr", addr.String())
		return
	}
	_, hasHfp := connected[backend.ProfileHfp]
	_, hasA2dp := connected[backend.ProfileA2dpSink]

	for p := range connected {
		switch p {
		case backend.ProfileA2dpSink:
			if hasHfp {
				continue
			}
			f.disconnectProfile(ctx, addr, p)
		case backend.ProfileHfp:
			f.disconnectProfile(ctx, addr, p)
		case backend.ProfileAvrcpController:
			if hasA2dp {
				continue
			}
			f.disconnectProfile(ctx, addr, p)
		}
	}
}

func (f *Facade) disconnectProfile(ctx context.Context, addr address.Addr, p backend.AudioProfile) {
	f.emit(addr, p, metrics.StateDisconnecting)

	var status backend.Status
	switch p {
	case backend.ProfileA2dpSink:
		status = f.a2dp.Disconnect(ctx, addr)
	case backend.ProfileHfp:
		status = f.hfp.Disconnect(ctx, addr)
	case backend.ProfileAvrcpController:
		f.profiles.SetAVRCPDirection(profile.DirOutgoing)
		status = f.avrcp.Disconnect(ctx, addr)
		if status != backend.StatusSuccess {
			f.profiles.SetAVRCPDirection(profile.DirUnknown)
		}
	}
	switch status {
	case backend.StatusSuccess:
	case backend.StatusNotReady:
		f.log.Warn("[media] disconnect failed, backend not ready", "addr", addr.String(), "profile", p.String())
		f.emit(addr, p, metrics.StateNotReady)
	default:
		f.log.Warn("[media] disconnect failed", "addr", addr.String(), "profile", p.String(), "status", status)
		f.emit(addr, p, metrics.StateDisconnected)
	}
}

// SetActiveDevice retargets both A2DP and the uinput media-key surface.
func (f *Facade) SetActiveDevice(ctx context.Context, addr address.Addr) {
	if status := f.a2dp.SetActiveDevice(ctx, addr); status != backend.StatusSuccess {
		f.log.Warn("[media] set active device failed", "addr", addr.String())
	}
	f.profiles.SetActiveDeviceKeys(addr)
}

// SetHFPActiveDevice retargets only the HFP backend's active device.
func (f *Facade) SetHFPActiveDevice(ctx context.Context, addr address.Addr) {
	if status := f.hfp.SetActiveDevice(ctx, addr); status != backend.StatusSuccess {
		f.log.Warn("[media] set HFP active device failed", "addr", addr.String())
	}
}

// SetVolume forwards an AVRCP absolute-volume value, 0-127, downcast to
// the signed 8-bit wire format. Out-of-range values are dropped.
func (f *Facade) SetVolume(ctx context.Context, v int) {
	if v < 0 || v > 127 {
		f.log.Warn("[media] ignoring invalid volume", "volume", v)
		return
	}
	f.avrcp.SetVolume(ctx, int8(v))
}

// SetHFPVolume forwards a 0-15 HFP volume value for addr, refusing devices
// that have no recorded HFP state at all.
func (f *Facade) SetHFPVolume(ctx context.Context, v int, addr address.Addr) {
	if v < 0 || v > 15 {
		f.log.Warn("[media] ignoring invalid HFP volume", "addr", addr.String(), "volume", v)
		return
	}
	if !f.profiles.HasHFPEntry(addr) {
		f.log.Warn("[media] ignoring HFP volume for unconnected device", "addr", addr.String())
		return
	}
	f.hfp.SetVolume(ctx, int8(v), addr)
}

// StartSCOCall forwards a SCO connect-audio request for addr.
func (f *Facade) StartSCOCall(ctx context.Context, addr address.Addr, scoOffload, forceCVSD bool) bool {
	return f.hfp.ConnectAudio(ctx, addr, scoOffload, forceCVSD) == backend.StatusSuccess
}

// StopSCOCall forwards a SCO disconnect-audio request for addr.
func (f *Facade) StopSCOCall(ctx context.Context, addr address.Addr) {
	if status := f.hfp.DisconnectAudio(ctx, addr); status != backend.StatusSuccess {
		f.log.Warn("[media] stop SCO call failed", "addr", addr.String())
	}
}

// SetAudioConfig forwards the negotiated A2DP codec config.
func (f *Facade) SetAudioConfig(ctx context.Context, addr address.Addr, sampleRate, bitsPerSample int, channelMode string) bool {
	return f.a2dp.SetAudioConfig(ctx, addr, sampleRate, bitsPerSample, channelMode) == backend.StatusSuccess
}
