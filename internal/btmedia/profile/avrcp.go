package profile

import (
	"context"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
	"github.com/btmedia/coordinator/internal/btmedia/bus"
	"github.com/btmedia/coordinator/internal/btmedia/metrics"
)

// HandleAVRCP implements the AVRCP handler (§4.2).
func (h *Handlers) HandleAVRCP(ctx context.Context, e bus.AVRCPEvent) {
	switch {
	case e.DeviceConnected != nil:
		h.avrcpConnected(ctx, e.Addr, e.DeviceConnected.SupportsAbsoluteVolume)
	case e.DeviceDisconnected != nil:
		h.avrcpDisconnected(ctx, e.Addr)
	case e.AbsoluteVolume != nil:
		h.callbacks.BroadcastAbsoluteVolumeChanged(e.AbsoluteVolume.Volume)
	case e.KeyEvent != nil:
		if err := h.keys.SendKey(e.KeyEvent.Key, e.KeyEvent.Value); err != nil {
			h.log.Warn("[avrcp] uinput send key failed", "err", err)
		}
	case e.SetActiveDevice != nil:
		h.keys.SetActiveDevice(e.Addr)
	}
}

// SetAVRCPDirection records that the coordinator itself just initiated (or
// is about to initiate) an AVRCP connect/disconnect, so the next AVRCP
// callback for any device knows not to synthesize a fake Connecting/
// Disconnecting metrics event. Called by the media facade (C5).
func (h *Handlers) SetAVRCPDirection(d Direction) {
	h.mu.Lock()
	h.avrcpDirection = d
	h.mu.Unlock()
}

func (h *Handlers) avrcpConnected(ctx context.Context, addr address.Addr, supportsAbsVol bool) {
	name, err := h.adapter.GetRemoteName(ctx, addr)
	if err != nil {
		h.log.Warn("[avrcp] failed to query remote name", "addr", addr.String(), "err", err)
	}
	if err := h.keys.Create(ctx, name, addr); err != nil {
		h.log.Warn("[avrcp] uinput create failed", "addr", addr.String(), "err", err)
	}

	h.mu.Lock()
	changed := h.absoluteVolume != supportsAbsVol
	direction := h.avrcpDirection
	h.absoluteVolume = supportsAbsVol
	h.avrcpDirection = DirUnknown
	h.mu.Unlock()

	// Only announce the change for a device that has already been through
	// the lifecycle engine once and settled (announced upward, or given
	// up waiting): a device that is still mid-connect will carry the
	// correct flag in its own upcoming added payload, so a separate
	// standalone notification would be redundant.
	if changed {
		if exists, announced := h.engine.PendingEntry(addr); exists && announced {
			h.callbacks.BroadcastAbsoluteVolumeSupportedChanged(supportsAbsVol)
		}
	}

	if direction != DirOutgoing {
		h.emit(addr, backend.ProfileAvrcpController, metrics.StateConnecting)
	}
	h.emit(addr, backend.ProfileAvrcpController, metrics.StateConnected)

	available := h.availableProfiles(ctx, addr)
	h.engine.AddProfile(addr, backend.ProfileAvrcpController, available)
}

func (h *Handlers) avrcpDisconnected(ctx context.Context, addr address.Addr) {
	h.keys.Close(addr)

	h.mu.Lock()
	h.absoluteVolume = false
	direction := h.avrcpDirection
	h.avrcpDirection = DirUnknown
	h.mu.Unlock()

	profiles := h.engine.ConnectedProfiles(addr)
	_, hasAVRCP := profiles[backend.ProfileAvrcpController]
	isOnlyAVRCP := hasAVRCP && len(profiles) == 1

	if direction != DirOutgoing {
		h.emit(addr, backend.ProfileAvrcpController, metrics.StateDisconnecting)
	}
	h.emit(addr, backend.ProfileAvrcpController, metrics.StateDisconnected)

	available := h.availableProfiles(ctx, addr)
	h.engine.RemoveProfile(addr, backend.ProfileAvrcpController, available, isOnlyAVRCP)
}
