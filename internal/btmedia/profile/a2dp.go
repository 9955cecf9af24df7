package profile

import (
	"context"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
	"github.com/btmedia/coordinator/internal/btmedia/bus"
)

// HandleA2DP implements the A2DP handler (§4.2).
func (h *Handlers) HandleA2DP(ctx context.Context, e bus.A2DPEvent) {
	switch {
	case e.ConnectionState != nil:
		h.handleA2DPConnectionState(ctx, e.Addr, e.ConnectionState.State)
	case e.AudioState != nil:
		h.mu.Lock()
		h.a2dpState(e.Addr).audioState = e.AudioState.Started
		h.mu.Unlock()
	case e.AudioConfig != nil:
		h.mu.Lock()
		h.a2dpState(e.Addr).codecCaps = e.AudioConfig.Codecs
		h.mu.Unlock()
	}
}

// a2dpState returns addr's a2dp table entry, creating it if absent. Callers
// must hold h.mu.
func (h *Handlers) a2dpState(addr address.Addr) *a2dpDeviceState {
	st, ok := h.a2dp[addr]
	if !ok {
		st = &a2dpDeviceState{}
		h.a2dp[addr] = st
	}
	return st
}

func (h *Handlers) handleA2DPConnectionState(ctx context.Context, addr address.Addr, state bus.A2DPConnState) {
	h.mu.Lock()
	st := h.a2dpState(addr)
	if st.haveConn && st.connState == state {
		h.mu.Unlock()
		return
	}
	st.connState = state
	st.haveConn = true
	h.mu.Unlock()

	h.emit(addr, backend.ProfileA2dpSink, a2dpMetricsState(state))

	switch state {
	case bus.A2DPConnConnected:
		h.log.Info("[a2dp] connected", "addr", addr.String())
		available := h.availableProfiles(ctx, addr)
		h.engine.AddProfile(addr, backend.ProfileA2dpSink, available)
	case bus.A2DPConnDisconnected:
		h.log.Info("[a2dp] disconnected", "addr", addr.String())
		h.mu.Lock()
		delete(h.a2dp, addr)
		h.mu.Unlock()
		available := h.availableProfiles(ctx, addr)
		h.engine.RemoveProfile(addr, backend.ProfileA2dpSink, available, true)
		// The observed headset quirk (§4.2): an A2DP drop cascades into a
		// full teardown of whatever else is still connected.
		h.disc.Disconnect(ctx, addr)
	default:
		// Connecting/Disconnecting: recorded above, no further action.
	}
}
