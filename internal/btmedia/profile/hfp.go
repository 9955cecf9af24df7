package profile

import (
	"context"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
	"github.com/btmedia/coordinator/internal/btmedia/bus"
	"github.com/btmedia/coordinator/internal/btmedia/metrics"
	"github.com/btmedia/coordinator/internal/btmedia/telephony"
)

// HandleHFP implements the HFP handler (§4.2).
func (h *Handlers) HandleHFP(ctx context.Context, e bus.HFPEvent) {
	switch {
	case e.ConnectionState != nil:
		h.handleHFPConnectionState(ctx, e.Addr, e.ConnectionState.State)
	case e.AudioState != nil:
		h.handleHFPAudioState(e.Addr, e.AudioState.State)
	case e.VolumeUpdate != nil:
		h.callbacks.BroadcastHFPVolumeChanged(e.VolumeUpdate.Volume, e.Addr)
	case e.BatteryLevel != nil:
		h.battery.SetBatteryLevel(e.Addr, batteryPercent(e.BatteryLevel.Level))
	case e.CapsUpdate != nil:
		h.mu.Lock()
		codec := backend.HFPCodecCVSD
		if e.CapsUpdate.WBSSupported {
			codec |= backend.HFPCodecMSBC
		}
		h.hfpState(e.Addr).codecCap = uint8(codec)
		h.mu.Unlock()
	case e.IndicatorQuery != nil:
		h.hfpBack.IndicatorQueryResponse(ctx, e.Addr, h.telephony.DeviceStatus(), h.telephony.PhoneState())
	case e.CurrentCallsQuery != nil:
		h.hfpBack.CurrentCallsQueryResponse(ctx, e.Addr, h.telephony.CallList())
	case e.AnswerCall != nil:
		h.telephony.AnswerCall()
	case e.HangupCall != nil:
		h.telephony.HangupCall()
	case e.DialCall != nil:
		h.telephony.DialingCall(e.DialCall.Number, h.atResponse(ctx, e.Addr))
	case e.CallHold != nil:
		h.telephony.CallHold(toTelephonyCHLD(e.CallHold.Cmd), h.atResponse(ctx, e.Addr))
	}
}

// hfpState returns addr's hfp table entry, creating it if absent. Callers
// must hold h.mu.
func (h *Handlers) hfpState(addr address.Addr) *hfpDeviceState {
	st, ok := h.hfp[addr]
	if !ok {
		st = &hfpDeviceState{}
		h.hfp[addr] = st
	}
	return st
}

func (h *Handlers) handleHFPConnectionState(ctx context.Context, addr address.Addr, state bus.HFPConnState) {
	h.mu.Lock()
	st := h.hfpState(addr)
	if st.haveConn && st.connState == state {
		h.mu.Unlock()
		return
	}
	st.connState = state
	st.haveConn = true
	if state == bus.HFPConnSlcConnected && st.codecCap == 0 {
		st.codecCap = uint8(backend.HFPCodecCVSD)
	}
	h.mu.Unlock()

	// Connected (before SLC) is recorded state only; HFP counts as connected
	// for metrics once the SLC is up.
	switch state {
	case bus.HFPConnConnecting:
		h.emit(addr, backend.ProfileHfp, metrics.StateConnecting)
	case bus.HFPConnSlcConnected:
		h.emit(addr, backend.ProfileHfp, metrics.StateConnected)
	case bus.HFPConnDisconnecting:
		h.emit(addr, backend.ProfileHfp, metrics.StateDisconnecting)
	case bus.HFPConnDisconnected:
		h.emit(addr, backend.ProfileHfp, metrics.StateDisconnected)
	}

	switch state {
	case bus.HFPConnSlcConnected:
		available := h.availableProfiles(ctx, addr)
		h.engine.AddProfile(addr, backend.ProfileHfp, available)
	case bus.HFPConnDisconnected:
		h.mu.Lock()
		delete(h.hfp, addr)
		h.mu.Unlock()
		available := h.availableProfiles(ctx, addr)
		h.engine.RemoveProfile(addr, backend.ProfileHfp, available, true)
		h.disc.Disconnect(ctx, addr)
	default:
		// Connecting/Connected: recorded above, no further action.
	}
}

func (h *Handlers) handleHFPAudioState(addr address.Addr, state bus.HFPAudioConnState) {
	h.mu.Lock()
	st, ok := h.hfp[addr]
	if !ok || !st.haveConn || st.connState != bus.HFPConnSlcConnected {
		h.mu.Unlock()
		return
	}
	prevAudio := st.audioState
	havePrevAudio := st.haveAudio
	st.audioState = state
	st.haveAudio = true
	h.mu.Unlock()

	switch state {
	case bus.HFPAudioConnected:
		h.telephony.SyntheticCallForAudioWakeup()
	case bus.HFPAudioDisconnected:
		if havePrevAudio && prevAudio == bus.HFPAudioConnected {
			h.callbacks.BroadcastHFPAudioDisconnected(addr)
		}
		h.telephony.ClearSyntheticCall()
	}
}

// atResponse returns a closure the telephony engine calls once, before
// broadcasting any phone-state change, to send the AT OK/ERROR line the
// dial/hold command is responding to.
func (h *Handlers) atResponse(ctx context.Context, addr address.Addr) func(ok bool) {
	return func(ok bool) {
		if st := h.hfpBack.SimpleATResponse(ctx, addr, ok); st != backend.StatusSuccess {
			h.log.Warn("[hfp] AT response failed", "addr", addr.String())
		}
	}
}

func toTelephonyCHLD(c bus.CHLDCmd) telephony.CHLDCmd {
	switch c {
	case bus.CHLDReleaseActiveAcceptHeld:
		return telephony.CHLDReleaseActiveAcceptHeld
	case bus.CHLDHoldActiveAcceptHeld:
		return telephony.CHLDHoldActiveAcceptHeld
	default:
		return telephony.CHLDReleaseHeld
	}
}

func batteryPercent(level int) int {
	if level < 0 {
		level = 0
	}
	if level > 5 {
		level = 5
	}
	return level * 20
}
