// Package profile implements the three profile-event handlers (C2/§4.2):
// the translation layer between bus.Message variants and mutations of the
// per-device profile-state tables, the lifecycle engine, and the telephony
// engine. Everything here runs exclusively on the coordinator's single
// event-loop goroutine.
package profile

import (
	"context"
	"log/slog"
	"sync"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
	"github.com/btmedia/coordinator/internal/btmedia/bus"
	"github.com/btmedia/coordinator/internal/btmedia/callback"
	"github.com/btmedia/coordinator/internal/btmedia/lifecycle"
	"github.com/btmedia/coordinator/internal/btmedia/metrics"
	"github.com/btmedia/coordinator/internal/btmedia/telephony"
)

// Direction is avrcp_direction (§3): the last-initiated AVRCP connection
// direction, reset to Unknown after every AVRCP callback. Process-global
// per the spec, not per-device; see DESIGN.md for the tradeoff.
type Direction int

const (
	DirUnknown Direction = iota
	DirOutgoing
	DirIncoming
)

// Disconnector is the public disconnect(addr) operation (C5), injected so
// the A2DP/HFP handlers can cascade a full teardown on critical-profile
// loss without this package importing internal/btmedia/media (which
// itself needs to read this package's per-device tables).
type Disconnector interface {
	Disconnect(ctx context.Context, addr address.Addr)
}

type a2dpDeviceState struct {
	connState   bus.A2DPConnState
	haveConn    bool
	audioState  bool
	codecCaps   []backend.A2DPCodecConfig
}

type hfpDeviceState struct {
	connState  bus.HFPConnState
	haveConn   bool
	audioState bus.HFPAudioConnState
	haveAudio  bool
	codecCap   uint8
}

// Handlers owns every per-device profile-state table from §3 plus the two
// process-wide AVRCP flags, and wires profile events into lifecycle and
// telephony.
type Handlers struct {
	mu sync.Mutex // guards the tables and the two AVRCP flags below

	a2dp map[address.Addr]*a2dpDeviceState
	hfp  map[address.Addr]*hfpDeviceState

	absoluteVolume bool
	avrcpDirection Direction

	engine    *lifecycle.Engine
	telephony *telephony.Engine
	callbacks *callback.Registry
	metricsOut metrics.Sink
	adapter   backend.Adapter
	keys      backend.KeyInjector
	battery   backend.BatteryProvider
	hfpBack   backend.HFP
	disc      Disconnector

	log *slog.Logger
}

// Deps bundles Handlers' collaborators.
type Deps struct {
	Engine       *lifecycle.Engine
	Telephony    *telephony.Engine
	Callbacks    *callback.Registry
	Metrics      metrics.Sink
	Adapter      backend.Adapter
	Keys         backend.KeyInjector
	Battery      backend.BatteryProvider
	HFP          backend.HFP
	Disconnector Disconnector
	Logger       *slog.Logger
}

func New(d Deps) *Handlers {
	if d.Metrics == nil {
		d.Metrics = metrics.NoopSink{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handlers{
		a2dp:       make(map[address.Addr]*a2dpDeviceState),
		hfp:        make(map[address.Addr]*hfpDeviceState),
		engine:     d.Engine,
		telephony:  d.Telephony,
		callbacks:  d.Callbacks,
		metricsOut: d.Metrics,
		adapter:    d.Adapter,
		keys:       d.Keys,
		battery:    d.Battery,
		hfpBack:    d.HFP,
		disc:       d.Disconnector,
		log:        d.Logger,
	}
}

// availableProfiles queries the adapter for addr's advertised UUIDs and
// intersects them with {A2dpSink, Hfp, AvrcpController}.
func (h *Handlers) availableProfiles(ctx context.Context, addr address.Addr) map[backend.AudioProfile]struct{} {
	uuids, err := h.adapter.GetRemoteUUIDs(ctx, addr)
	if err != nil {
		h.log.Warn("[profile] failed to query remote UUIDs", "addr", addr.String(), "err", err)
		return map[backend.AudioProfile]struct{}{}
	}
	return uuidsToProfiles(uuids)
}

// AvailableProfiles is the exported form of availableProfiles, used by the
// media facade (C5) to compute connect(addr)'s missing-profile set without
// duplicating the UUID query.
func (h *Handlers) AvailableProfiles(ctx context.Context, addr address.Addr) map[backend.AudioProfile]struct{} {
	return h.availableProfiles(ctx, addr)
}

// SetActiveDeviceKeys retargets the uinput virtual keyboard, used by the
// media facade's set_active_device operation.
func (h *Handlers) SetActiveDeviceKeys(addr address.Addr) {
	h.keys.SetActiveDevice(addr)
}

// SetTelephony wires the telephony engine in after construction. Handlers
// implements telephony.Notifier and telephony.New takes a Notifier, so the
// two can't be built in either order with the dependency supplied up
// front; the coordinator builds Handlers with a nil telephony engine,
// builds the telephony engine against Handlers, then calls this.
func (h *Handlers) SetTelephony(t *telephony.Engine) {
	h.telephony = t
}

// SetDisconnector wires the media facade in after construction, for the
// same reason SetTelephony exists: Disconnector (implemented by
// internal/btmedia/media.Facade) itself depends on *Handlers to read the
// per-device tables, so Handlers can't take a ready-made Disconnector at
// construction time.
func (h *Handlers) SetDisconnector(d Disconnector) {
	h.disc = d
}

// BuildAddedPayload implements lifecycle.DeviceInfoProvider. It is called
// by the lifecycle engine exactly once, at the moment a device transitions
// to FullyConnected, to assemble the upward-broadcast payload from the
// per-device tables this package owns.
func (h *Handlers) BuildAddedPayload(addr address.Addr) callback.DeviceAdded {
	h.mu.Lock()
	defer h.mu.Unlock()

	var caps []string
	var hfpCap uint8
	if st, ok := h.a2dp[addr]; ok {
		for _, c := range st.codecCaps {
			caps = append(caps, c.CodecType)
		}
	}
	if st, ok := h.hfp[addr]; ok {
		hfpCap = st.codecCap
	}

	name, err := h.adapter.GetRemoteName(context.Background(), addr)
	if err != nil {
		h.log.Warn("[profile] failed to query remote name", "addr", addr.String(), "err", err)
	}

	return callback.DeviceAdded{
		Addr:           addr,
		Name:           name,
		A2DPCodecCaps:  caps,
		HFPCodecCap:    hfpCap,
		AbsoluteVolume: h.absoluteVolume,
	}
}

// HasHFPEntry reports whether addr has any recorded HFP connection state at
// all (connecting, SLC-connected, or anything in between), used by the
// media facade's set_hfp_volume to refuse volume updates for a device HFP
// has never heard from.
func (h *Handlers) HasHFPEntry(addr address.Addr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.hfp[addr]
	return ok
}

// IsSLCConnected reports whether addr's HFP service-level connection is up.
func (h *Handlers) IsSLCConnected(addr address.Addr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.hfp[addr]
	return ok && st.haveConn && st.connState == bus.HFPConnSlcConnected
}

// AnySLCConnected reports whether at least one device currently has its
// HFP service-level connection up, used by telephony's synthetic-call
// rule on phone_ops_enabled transitions.
func (h *Handlers) AnySLCConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, st := range h.hfp {
		if st.haveConn && st.connState == bus.HFPConnSlcConnected {
			return true
		}
	}
	return false
}

// ForEachSLCConnected calls fn for every device whose HFP SLC is up, used
// by the telephony Notifier to broadcast phone-state and device-status
// changes (§4.4).
func (h *Handlers) ForEachSLCConnected(fn func(addr address.Addr)) {
	h.mu.Lock()
	addrs := make([]address.Addr, 0, len(h.hfp))
	for addr, st := range h.hfp {
		if st.haveConn && st.connState == bus.HFPConnSlcConnected {
			addrs = append(addrs, addr)
		}
	}
	h.mu.Unlock()
	for _, addr := range addrs {
		fn(addr)
	}
}

// PhoneStateChange implements telephony.Notifier.
func (h *Handlers) PhoneStateChange(number string) {
	ctx := context.Background()
	phone := h.telephony.PhoneState()
	h.ForEachSLCConnected(func(addr address.Addr) {
		if status := h.hfpBack.PhoneStateChange(ctx, addr, phone, number); status != backend.StatusSuccess {
			h.log.Warn("[hfp] phone state change failed", "addr", addr.String())
		}
	})
}

// DeviceStatusNotification implements telephony.Notifier.
func (h *Handlers) DeviceStatusNotification() {
	ctx := context.Background()
	status := h.telephony.DeviceStatus()
	h.ForEachSLCConnected(func(addr address.Addr) {
		if st := h.hfpBack.DeviceStatusNotification(ctx, addr, status); st != backend.StatusSuccess {
			h.log.Warn("[hfp] device status notification failed", "addr", addr.String())
		}
	})
}

func (h *Handlers) emit(addr address.Addr, p backend.AudioProfile, s metrics.ConnState) {
	h.metricsOut.EmitAsync(metrics.Event{Addr: addr, Profile: p, State: s})
}

func a2dpMetricsState(s bus.A2DPConnState) metrics.ConnState {
	switch s {
	case bus.A2DPConnConnecting:
		return metrics.StateConnecting
	case bus.A2DPConnConnected:
		return metrics.StateConnected
	case bus.A2DPConnDisconnecting:
		return metrics.StateDisconnecting
	default:
		return metrics.StateDisconnected
	}
}
