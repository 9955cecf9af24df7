package profile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btmedia/coordinator/internal/btmedia/address"
	"github.com/btmedia/coordinator/internal/btmedia/backend"
	"github.com/btmedia/coordinator/internal/btmedia/bus"
	"github.com/btmedia/coordinator/internal/btmedia/callback"
	"github.com/btmedia/coordinator/internal/btmedia/lifecycle"
	"github.com/btmedia/coordinator/internal/btmedia/metrics"
	"github.com/btmedia/coordinator/internal/btmedia/telephony"
)

type fakeAdapter struct {
	uuids []string
}

func (a *fakeAdapter) GetRemoteName(ctx context.Context, addr address.Addr) (string, error) {
	return "fake-device", nil
}
func (a *fakeAdapter) GetRemoteUUIDs(ctx context.Context, addr address.Addr) ([]string, error) {
	return a.uuids, nil
}

type fakeKeys struct {
	mu     sync.Mutex
	active address.Addr
}

func (k *fakeKeys) Create(ctx context.Context, remoteName string, addr address.Addr) error { return nil }
func (k *fakeKeys) Close(addr address.Addr)                                                {}
func (k *fakeKeys) SendKey(key int, value bool) error                                       { return nil }
func (k *fakeKeys) SetActiveDevice(addr address.Addr) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.active = addr
}

type fakeBattery struct{}

func (fakeBattery) SetBatteryLevel(addr address.Addr, percent int) {}

type fakeHFPBackend struct {
	mu         sync.Mutex
	atResponses []bool
}

func (f *fakeHFPBackend) Enable(ctx context.Context) backend.Status  { return backend.StatusSuccess }
func (f *fakeHFPBackend) Disable(ctx context.Context) backend.Status { return backend.StatusSuccess }
func (f *fakeHFPBackend) Connect(ctx context.Context, addr address.Addr) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFPBackend) Disconnect(ctx context.Context, addr address.Addr) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFPBackend) ConnectAudio(ctx context.Context, addr address.Addr, scoOffload, forceCVSD bool) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFPBackend) DisconnectAudio(ctx context.Context, addr address.Addr) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFPBackend) SetActiveDevice(ctx context.Context, addr address.Addr) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFPBackend) SetVolume(ctx context.Context, v int8, addr address.Addr) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFPBackend) IndicatorQueryResponse(ctx context.Context, addr address.Addr, status backend.DeviceStatus, phone backend.PhoneState) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFPBackend) CurrentCallsQueryResponse(ctx context.Context, addr address.Addr, calls []backend.Call) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFPBackend) SimpleATResponse(ctx context.Context, addr address.Addr, ok bool) backend.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.atResponses = append(f.atResponses, ok)
	return backend.StatusSuccess
}
func (f *fakeHFPBackend) DeviceStatusNotification(ctx context.Context, addr address.Addr, status backend.DeviceStatus) backend.Status {
	return backend.StatusSuccess
}
func (f *fakeHFPBackend) PhoneStateChange(ctx context.Context, addr address.Addr, phone backend.PhoneState, number string) backend.Status {
	return backend.StatusSuccess
}

type fakeDisconnector struct {
	mu    sync.Mutex
	calls []address.Addr
}

func (d *fakeDisconnector) Disconnect(ctx context.Context, addr address.Addr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, addr)
}
func (d *fakeDisconnector) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeTelNotifier struct{}

func (fakeTelNotifier) PhoneStateChange(number string)  {}
func (fakeTelNotifier) DeviceStatusNotification()        {}

// harness bundles a Handlers under test plus its collaborators, wired the
// way coordinator.New wires them (engine -> handlers -> telephony).
type harness struct {
	handlers *Handlers
	engine   *lifecycle.Engine
	metrics  *metrics.ChannelSink
	disc     *fakeDisconnector
	hfpBack  *fakeHFPBackend
}

func newHarness(t *testing.T, uuids []string) *harness {
	t.Helper()
	dispatcher := bus.NewDispatcher(bus.New(8))
	callbacks := callback.New()
	metricsSink := metrics.NewChannelSink(64)
	engine := lifecycle.New(nil, 6*time.Second, 10*time.Second, dispatcher, callbacks, metricsSink, nil)

	adapter := &fakeAdapter{uuids: uuids}
	hfpBack := &fakeHFPBackend{}
	disc := &fakeDisconnector{}

	handlers := New(Deps{
		Engine:    engine,
		Callbacks: callbacks,
		Metrics:   metricsSink,
		Adapter:   adapter,
		Keys:      &fakeKeys{},
		Battery:   fakeBattery{},
		HFP:       hfpBack,
		Logger:    nil,
	})
	engine.SetInfoProvider(handlers)
	handlers.SetDisconnector(disc)

	tel := telephony.New(true, fakeTelNotifier{}, handlers.AnySLCConnected)
	handlers.SetTelephony(tel)

	return &harness{handlers: handlers, engine: engine, metrics: metricsSink, disc: disc, hfpBack: hfpBack}
}

func drainMetrics(sink *metrics.ChannelSink) []metrics.Event {
	var out []metrics.Event
	for {
		select {
		case e := <-sink.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestHandleA2DP_ConnectThenHFP_FullyConnects(t *testing.T) {
	h := newHarness(t, []string{"0000110b-0000-1000-8000-00805f9b34fb", "0000111e-0000-1000-8000-00805f9b34fb"})
	addr := address.MustParse("AA:BB:CC:DD:EE:01")
	ctx := context.Background()

	h.handlers.HandleA2DP(ctx, bus.A2DPEvent{Addr: addr, ConnectionState: &bus.A2DPConnectionState{State: bus.A2DPConnConnected}})
	state, ok := h.engine.State(addr)
	require.True(t, ok)
	assert.Equal(t, lifecycle.ConnectingBeforeRetry, state)

	h.handlers.HandleHFP(ctx, bus.HFPEvent{Addr: addr, ConnectionState: &bus.HFPConnectionState{State: bus.HFPConnSlcConnected}})
	state, ok = h.engine.State(addr)
	require.True(t, ok)
	assert.Equal(t, lifecycle.FullyConnected, state)
}

// Repeating the same connection-state event must not re-emit a metrics
// event or re-touch the lifecycle engine (the profile handlers dedup on
// the previously stored state).
func TestHandleA2DP_DedupsRepeatedState(t *testing.T) {
	h := newHarness(t, []string{"0000110b-0000-1000-8000-00805f9b34fb"})
	addr := address.MustParse("AA:BB:CC:DD:EE:02")
	ctx := context.Background()

	ev := bus.A2DPEvent{Addr: addr, ConnectionState: &bus.A2DPConnectionState{State: bus.A2DPConnConnecting}}
	h.handlers.HandleA2DP(ctx, ev)
	h.handlers.HandleA2DP(ctx, ev)
	h.handlers.HandleA2DP(ctx, ev)

	events := drainMetrics(h.metrics)
	assert.Len(t, events, 1)
}

// A critical A2DP disconnect must both notify the lifecycle engine's
// critical-drop path and unconditionally cascade into Disconnect, not
// either/or.
func TestHandleA2DP_CriticalDisconnectCascades(t *testing.T) {
	h := newHarness(t, []string{"0000110b-0000-1000-8000-00805f9b34fb", "0000111e-0000-1000-8000-00805f9b34fb"})
	addr := address.MustParse("AA:BB:CC:DD:EE:03")
	ctx := context.Background()

	h.handlers.HandleA2DP(ctx, bus.A2DPEvent{Addr: addr, ConnectionState: &bus.A2DPConnectionState{State: bus.A2DPConnConnected}})
	h.handlers.HandleHFP(ctx, bus.HFPEvent{Addr: addr, ConnectionState: &bus.HFPConnectionState{State: bus.HFPConnSlcConnected}})
	state, _ := h.engine.State(addr)
	require.Equal(t, lifecycle.FullyConnected, state)

	h.handlers.HandleA2DP(ctx, bus.A2DPEvent{Addr: addr, ConnectionState: &bus.A2DPConnectionState{State: bus.A2DPConnDisconnected}})

	state, ok := h.engine.State(addr)
	require.True(t, ok)
	assert.Equal(t, lifecycle.Disconnecting, state)
	assert.Equal(t, 1, h.disc.count(), "A2DP drop must cascade into disconnect(addr) unconditionally")
}

// The AVRCP absolute-volume-supported callback must only broadcast upward
// once the device has settled through the lifecycle engine (announced or
// given up waiting), never while it is still mid-connect.
func TestHandleAVRCP_AbsoluteVolumeSuppressedMidConnect(t *testing.T) {
	h := newHarness(t, []string{"0000110e-0000-1000-8000-00805f9b34fb", "0000110b-0000-1000-8000-00805f9b34fb"})
	addr := address.MustParse("AA:BB:CC:DD:EE:04")
	ctx := context.Background()

	var mu sync.Mutex
	var changes []bool
	h.handlers.callbacks.Register("test", recordingListener{onAbsVolSupported: func(v bool) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, v)
	}})

	h.handlers.HandleAVRCP(ctx, bus.AVRCPEvent{Addr: addr, DeviceConnected: &bus.AVRCPDeviceConnected{SupportsAbsoluteVolume: true}})

	state, ok := h.engine.State(addr)
	require.True(t, ok)
	assert.Equal(t, lifecycle.ConnectingBeforeRetry, state)

	mu.Lock()
	assert.Empty(t, changes, "must not broadcast while the device has not yet settled")
	mu.Unlock()
}

func TestHandleHFP_AudioConnectedTriggersSyntheticCall(t *testing.T) {
	h := newHarness(t, []string{"0000111e-0000-1000-8000-00805f9b34fb"})
	addr := address.MustParse("AA:BB:CC:DD:EE:05")
	ctx := context.Background()

	h.handlers.telephony = telephony.New(false, fakeTelNotifier{}, h.handlers.AnySLCConnected)

	h.handlers.HandleHFP(ctx, bus.HFPEvent{Addr: addr, ConnectionState: &bus.HFPConnectionState{State: bus.HFPConnSlcConnected}})
	h.handlers.HandleHFP(ctx, bus.HFPEvent{Addr: addr, AudioState: &bus.HFPAudioState{State: bus.HFPAudioConnected}})

	ps := h.handlers.telephony.PhoneState()
	assert.Equal(t, 1, ps.NumActive)
}

// recordingListener implements callback.Listener, recording only the
// AbsoluteVolumeSupportedChanged callback under test.
type recordingListener struct {
	onAbsVolSupported func(bool)
}

func (recordingListener) OnBluetoothAudioDeviceAdded(callback.DeviceAdded)     {}
func (recordingListener) OnBluetoothAudioDeviceRemoved(address.Addr)          {}
func (r recordingListener) OnAbsoluteVolumeSupportedChanged(supported bool) {
	if r.onAbsVolSupported != nil {
		r.onAbsVolSupported(supported)
	}
}
func (recordingListener) OnAbsoluteVolumeChanged(uint8)            {}
func (recordingListener) OnHFPVolumeChanged(uint8, address.Addr)   {}
func (recordingListener) OnHFPAudioDisconnected(address.Addr)      {}
